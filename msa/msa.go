// Package msa holds multiple sequence alignments and the compressed
// "sufficient statistics" representation used for likelihood work.
package msa

import (
	"fmt"
)

const (
	// GapChar is the alignment gap character.
	GapChar byte = '-'

	// DefaultAlphabet is the DNA alphabet used when none is given.
	DefaultAlphabet = "ACGT"

	// DefaultMissing lists the missing-data characters.  The first
	// character is used when missing data must be synthesized.
	DefaultMissing = "N*?"
)

// An Alignment is an ordered set of named, equal-length sequences over a
// fixed alphabet plus gap and missing-data characters.
type Alignment struct {

	// Sequence names, parallel to Seqs
	Names []string

	// The sequences; all must have length Length
	Seqs [][]byte

	// Number of alignment columns
	Length int

	// The alphabet, not including gap or missing characters
	Alphabet []byte

	// Offset of the first column in some larger coordinate system,
	// used for sharded or concatenated inputs
	IdxOffset int

	// Per-column category labels, or nil if the alignment is unlabeled
	Categories []int

	// Number of categories (not counting background category 0)
	NCats int

	// Informative[i] is false if sequence i should be ignored in
	// phylogenetic analysis.  A nil slice means all are informative.
	Informative []bool

	inv       [256]int8
	isMissing [256]bool
}

// An AlphabetError reports a character that is neither in the alphabet nor
// a gap or missing-data character, and cannot be repaired.
type AlphabetError struct {
	Char byte
	Seq  string
	Col  int
}

func (e *AlphabetError) Error() string {
	return fmt.Sprintf("msa: bad character %q in sequence %s at column %d",
		e.Char, e.Seq, e.Col)
}

// New builds an Alignment from equal-length sequences.  If alphabet is
// empty the DNA alphabet is used.  Unrecognized alphabetic characters are
// replaced with 'N'; any other unrecognized character is an AlphabetError.
func New(names []string, seqs [][]byte, alphabet string) (*Alignment, error) {

	if len(names) != len(seqs) {
		return nil, fmt.Errorf("msa: %d names for %d sequences", len(names), len(seqs))
	}
	if alphabet == "" {
		alphabet = DefaultAlphabet
	}

	aln := &Alignment{
		Names:    names,
		Seqs:     seqs,
		Alphabet: []byte(alphabet),
	}
	aln.initTables()

	if len(seqs) > 0 {
		aln.Length = len(seqs[0])
	}
	for i, s := range seqs {
		if len(s) != aln.Length {
			return nil, fmt.Errorf("msa: sequence %s has length %d, want %d",
				names[i], len(s), aln.Length)
		}
		for j, c := range s {
			if aln.valid(c) {
				continue
			}
			if isAlpha(c) {
				s[j] = 'N'
			} else {
				return nil, &AlphabetError{Char: c, Seq: names[i], Col: j}
			}
		}
	}

	return aln, nil
}

func (aln *Alignment) initTables() {
	for i := range aln.inv {
		aln.inv[i] = -1
		aln.isMissing[i] = false
	}
	for i, c := range aln.Alphabet {
		aln.inv[c] = int8(i)
	}
	for _, c := range []byte(DefaultMissing) {
		aln.isMissing[c] = true
	}
}

func isAlpha(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// valid reports whether c is an alphabet, gap, or missing character.
func (aln *Alignment) valid(c byte) bool {
	return c == GapChar || aln.isMissing[c] || aln.inv[c] >= 0
}

// NSeqs returns the number of sequences.
func (aln *Alignment) NSeqs() int {
	return len(aln.Seqs)
}

// IsMissing reports whether c is a missing-data character.
func (aln *Alignment) IsMissing(c byte) bool {
	return aln.isMissing[c]
}

// AlphIndex returns the alphabet index of c, or -1 if c is not in the
// alphabet.
func (aln *Alignment) AlphIndex(c byte) int {
	return int(aln.inv[c])
}

// SeqIndex returns the index of the named sequence, or -1 if there is no
// such sequence.
func (aln *Alignment) SeqIndex(name string) int {
	for i, n := range aln.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// SetInformative marks the named sequences as uninformative; all other
// sequences are marked informative.
func (aln *Alignment) SetInformative(notInformative []string) {
	aln.Informative = make([]bool, aln.NSeqs())
	for i := range aln.Informative {
		aln.Informative[i] = true
	}
	for _, name := range notInformative {
		if j := aln.SeqIndex(name); j >= 0 {
			aln.Informative[j] = false
		}
	}
}

// MaskUninformative replaces every alphabet character of the sequences
// marked uninformative with the missing-data character, so they carry no
// signal in likelihood or column counts.  Gaps are left in place.
func (aln *Alignment) MaskUninformative() {
	if aln.Informative == nil {
		return
	}
	for i, s := range aln.Seqs {
		if aln.Informative[i] {
			continue
		}
		for j, c := range s {
			if c != GapChar && !aln.IsMissing(c) {
				s[j] = DefaultMissing[0]
			}
		}
	}
}

// MissingCol reports whether all sequences other than ref hold missing
// data or gaps at column col.
func (aln *Alignment) MissingCol(ref, col int) bool {
	for i := range aln.Seqs {
		if i == ref {
			continue
		}
		c := aln.Seqs[i][col]
		if c != GapChar && !aln.isMissing[c] {
			return false
		}
	}
	return true
}

// NInformativeCols returns the number of columns with at least two
// non-gap, non-missing characters, restricted to category cat if cat >= 0.
func (aln *Alignment) NInformativeCols(cat int) int {
	n := 0
	for col := 0; col < aln.Length; col++ {
		if cat >= 0 && (aln.Categories == nil || aln.Categories[col] != cat) {
			continue
		}
		ninf := 0
		for _, s := range aln.Seqs {
			if s[col] != GapChar && !aln.isMissing[s[col]] {
				ninf++
				if ninf >= 2 {
					n++
					break
				}
			}
		}
	}
	return n
}

// SubAlignment returns a copy of the columns in [start, end).  The index
// offset of the result is adjusted so coordinates remain consistent with
// the parent.
func (aln *Alignment) SubAlignment(start, end int) (*Alignment, error) {

	if start < 0 || end > aln.Length || start >= end {
		return nil, fmt.Errorf("msa: bad column range [%d, %d)", start, end)
	}

	names := make([]string, aln.NSeqs())
	copy(names, aln.Names)
	seqs := make([][]byte, aln.NSeqs())
	for i, s := range aln.Seqs {
		seqs[i] = append([]byte(nil), s[start:end]...)
	}

	sub, err := New(names, seqs, string(aln.Alphabet))
	if err != nil {
		return nil, err
	}
	sub.IdxOffset = aln.IdxOffset + start
	if aln.Categories != nil {
		sub.Categories = append([]int(nil), aln.Categories[start:end]...)
		sub.NCats = aln.NCats
	}

	return sub, nil
}

// Concatenate appends the columns of other to aln, matching sequences by
// name.  Sequences of other that are absent from aln are dropped;
// sequences of aln that are absent from other are extended with gaps.
func (aln *Alignment) Concatenate(other *Alignment) {

	for i, name := range aln.Names {
		j := other.SeqIndex(name)
		if j < 0 {
			for k := 0; k < other.Length; k++ {
				aln.Seqs[i] = append(aln.Seqs[i], GapChar)
			}
		} else {
			aln.Seqs[i] = append(aln.Seqs[i], other.Seqs[j]...)
		}
	}

	if aln.Categories != nil {
		for k := 0; k < other.Length; k++ {
			cat := 0
			if other.Categories != nil {
				cat = other.Categories[k]
			}
			aln.Categories = append(aln.Categories, cat)
		}
	}

	aln.Length += other.Length
}
