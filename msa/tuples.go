package msa

import (
	"errors"
	"fmt"
)

// ErrUnorderedAlignment is returned when an operation needs the
// column-to-tuple index but the store was built without retaining it.
var ErrUnorderedAlignment = errors.New("msa: ordered tuple index required")

// A TupleStore compresses an alignment into its distinct column patterns.
// Each tuple is the pattern of characters across all sequences in a window
// of TupleSize columns; the pattern of the window ending at each column is
// counted once.  The sum of the counts equals the alignment length.
type TupleStore struct {

	// Width of the column window
	TupleSize int

	// Number of sequences
	NSeqs int

	// The distinct patterns.  Tuple t is stored packed as
	// Tuples[t][s*TupleSize+o], where s is the sequence index and o
	// indexes window columns left to right.
	Tuples [][]byte

	// Number of columns whose window matches each tuple
	Counts []int

	// Per-category counts, or nil if the source alignment was
	// unlabeled; CatCounts[cat][t] counts columns of category cat
	CatCounts [][]int

	// TupleIdx maps each alignment column to its tuple, or is nil if
	// the store is unordered
	TupleIdx []int

	// Names, alphabet, and offset carried over from the source
	// alignment so the store can stand alone
	Names     []string
	Alphabet  []byte
	IdxOffset int

	index map[string]int
}

// NTuples returns the number of distinct tuples.
func (ts *TupleStore) NTuples() int {
	return len(ts.Tuples)
}

// Ordered reports whether the column-to-tuple index was retained.
func (ts *TupleStore) Ordered() bool {
	return ts.TupleIdx != nil
}

// Char returns the character of sequence seq at window offset off within
// tuple t.  Offset 0 is the right-most (current) column; negative offsets
// reach back into the context.
func (ts *TupleStore) Char(t, seq, off int) byte {
	return ts.Tuples[t][seq*ts.TupleSize+ts.TupleSize-1+off]
}

// Column fills dst with the right-most column of tuple t, one character
// per sequence, and returns it.  dst may be nil.
func (ts *TupleStore) Column(t int, dst []byte) []byte {
	if dst == nil {
		dst = make([]byte, ts.NSeqs)
	}
	for s := 0; s < ts.NSeqs; s++ {
		dst[s] = ts.Char(t, s, 0)
	}
	return dst
}

// Build compresses an alignment into counted column patterns.  If ordered
// is true the column-to-tuple index is retained, which is required for
// position-wise decoding and for Expand.
func Build(aln *Alignment, tupleSize int, ordered bool) (*TupleStore, error) {

	if tupleSize < 1 {
		return nil, fmt.Errorf("msa: tuple size %d out of range", tupleSize)
	}

	ts := &TupleStore{
		TupleSize: tupleSize,
		NSeqs:     aln.NSeqs(),
		Names:     append([]string(nil), aln.Names...),
		Alphabet:  append([]byte(nil), aln.Alphabet...),
		IdxOffset: aln.IdxOffset,
		index:     make(map[string]int),
	}
	if ordered {
		ts.TupleIdx = make([]int, aln.Length)
	}
	if aln.Categories != nil {
		ts.CatCounts = make([][]int, aln.NCats+1)
	}

	key := make([]byte, ts.NSeqs*tupleSize)
	for col := 0; col < aln.Length; col++ {
		for s := 0; s < ts.NSeqs; s++ {
			for o := 0; o < tupleSize; o++ {
				j := col - tupleSize + 1 + o
				if j < 0 {
					// No context before the first column
					key[s*tupleSize+o] = DefaultMissing[0]
				} else {
					key[s*tupleSize+o] = aln.Seqs[s][j]
				}
			}
		}

		t, ok := ts.index[string(key)]
		if !ok {
			t = len(ts.Tuples)
			ts.Tuples = append(ts.Tuples, append([]byte(nil), key...))
			ts.Counts = append(ts.Counts, 0)
			ts.index[string(key)] = t
		}
		ts.Counts[t]++
		if ordered {
			ts.TupleIdx[col] = t
		}
		if ts.CatCounts != nil {
			cat := aln.Categories[col]
			if ts.CatCounts[cat] == nil {
				ts.CatCounts[cat] = make([]int, 0)
			}
			for len(ts.CatCounts[cat]) <= t {
				ts.CatCounts[cat] = append(ts.CatCounts[cat], 0)
			}
			ts.CatCounts[cat][t]++
		}
	}

	return ts, nil
}

// Length returns the number of alignment columns represented by the
// store, which equals the sum of the tuple counts.
func (ts *TupleStore) Length() int {
	n := 0
	for _, c := range ts.Counts {
		n += c
	}
	return n
}

// CatCount returns the number of columns of category cat matching tuple
// t.  Zero is returned when the store carries no category counts.
func (ts *TupleStore) CatCount(cat, t int) int {
	if ts.CatCounts == nil || cat >= len(ts.CatCounts) || ts.CatCounts[cat] == nil {
		return 0
	}
	if t >= len(ts.CatCounts[cat]) {
		return 0
	}
	return ts.CatCounts[cat][t]
}

// Expand reconstructs the explicit alignment from the counts and the
// column-to-tuple index.  ErrUnorderedAlignment is returned if the index
// was not retained.
func (ts *TupleStore) Expand() (*Alignment, error) {

	if !ts.Ordered() {
		return nil, ErrUnorderedAlignment
	}

	length := len(ts.TupleIdx)
	names := append([]string(nil), ts.Names...)
	seqs := make([][]byte, ts.NSeqs)
	for s := range seqs {
		seqs[s] = make([]byte, length)
	}

	for col, t := range ts.TupleIdx {
		for s := 0; s < ts.NSeqs; s++ {
			seqs[s][col] = ts.Char(t, s, 0)
		}
	}

	aln, err := New(names, seqs, string(ts.Alphabet))
	if err != nil {
		return nil, err
	}
	aln.IdxOffset = ts.IdxOffset
	return aln, nil
}

// SliceByCategory returns a new store holding only the columns whose
// category is cat.  TupleSize-1 columns of missing data are inserted
// wherever two selected columns were not adjacent in the source, so that
// tuple context never leaks across non-adjacent regions.  The source
// alignment must be labeled and the store ordered.
func (ts *TupleStore) SliceByCategory(aln *Alignment, cat int) (*TupleStore, error) {

	if aln.Categories == nil {
		return nil, fmt.Errorf("msa: alignment has no category labels")
	}
	if !ts.Ordered() {
		return nil, ErrUnorderedAlignment
	}

	seqs := make([][]byte, aln.NSeqs())
	prev := -2
	for col := 0; col < aln.Length; col++ {
		if aln.Categories[col] != cat {
			continue
		}
		if prev >= 0 && col != prev+1 {
			for k := 0; k < ts.TupleSize-1; k++ {
				for s := range seqs {
					seqs[s] = append(seqs[s], DefaultMissing[0])
				}
			}
		}
		for s := range seqs {
			seqs[s] = append(seqs[s], aln.Seqs[s][col])
		}
		prev = col
	}

	names := append([]string(nil), aln.Names...)
	sub, err := New(names, seqs, string(aln.Alphabet))
	if err != nil {
		return nil, err
	}
	return Build(sub, ts.TupleSize, true)
}

// ConcatOrdered appends the columns of other to ts, re-aligning on the
// sequence-name ordering of ts.  Sequences absent from other are filled
// with gaps.  Both stores must be ordered.
func (ts *TupleStore) ConcatOrdered(other *TupleStore) error {

	if !ts.Ordered() || !other.Ordered() {
		return ErrUnorderedAlignment
	}

	a, err := ts.Expand()
	if err != nil {
		return err
	}
	b, err := other.Expand()
	if err != nil {
		return err
	}
	a.Concatenate(b)

	merged, err := Build(a, ts.TupleSize, true)
	if err != nil {
		return err
	}
	*ts = *merged
	return nil
}
