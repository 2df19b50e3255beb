package msa

import (
	"fmt"
	"io"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
)

// ReadFasta parses a FASTA-format alignment.  Sequence names are the
// first token of each description line.  Sequences shorter than the
// longest one are padded with gap characters on the right.  A nil
// alphabet selects DefaultAlphabet; character validation and repair
// happen in New, not here.
func ReadFasta(r io.Reader, alph []byte) (*Alignment, error) {

	tmpl := linear.NewSeq("", nil, alphabet.DNAgapped)
	sc := seqio.NewScanner(fasta.NewReader(r, tmpl))

	var names []string
	var seqs [][]byte

	for sc.Next() {
		s := sc.Seq().(*linear.Seq)

		// Headers with whitespace after '>' parse with an empty id
		// and the name in the description
		name := s.Name()
		if name == "" {
			if f := strings.Fields(s.Description()); len(f) > 0 {
				name = f[0]
			}
		}
		if name == "" {
			return nil, fmt.Errorf("msa: sequence %d has no name", len(names)+1)
		}

		names = append(names, name)
		seqs = append(seqs, []byte(string(s.Seq)))
	}
	if err := sc.Error(); err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("msa: no sequences found")
	}

	// Pad short sequences to a common length
	maxlen := 0
	for _, s := range seqs {
		if len(s) > maxlen {
			maxlen = len(s)
		}
	}
	for i, s := range seqs {
		for len(s) < maxlen {
			s = append(s, GapChar)
		}
		seqs[i] = s
	}

	return New(names, seqs, string(alph))
}

// WriteFasta writes the alignment in FASTA format with lines of at most
// 70 characters.
func (aln *Alignment) WriteFasta(w io.Writer) error {

	fw := fasta.NewWriter(w, 70)
	for i, name := range aln.Names {
		s := linear.NewSeq(name, alphabet.BytesToLetters(aln.Seqs[i]), alphabet.DNAgapped)
		if _, err := fw.Write(s); err != nil {
			return err
		}
	}

	return nil
}
