package msa

import (
	"fmt"
	"sort"
)

// A CoordMap translates between alignment columns and positions in one
// ungapped reference sequence.  It records the start of each maximal
// gapless run of the reference as a pair of parallel, strictly increasing
// position lists.  All coordinates are 0-based.
type CoordMap struct {

	// Alignment column of the first character of each gapless run
	alnPos []int

	// Reference position of the same character
	seqPos []int

	// AlnLen is the alignment length, SeqLen the ungapped length of
	// the reference
	AlnLen int
	SeqLen int
}

// BuildCoordMap builds the coordinate map for sequence ref.
func BuildCoordMap(aln *Alignment, ref int) (*CoordMap, error) {

	if ref < 0 || ref >= aln.NSeqs() {
		return nil, fmt.Errorf("msa: reference index %d out of range", ref)
	}

	m := &CoordMap{AlnLen: aln.Length}
	seq := aln.Seqs[ref]

	inGap := true
	pos := 0
	for col := 0; col < aln.Length; col++ {
		if seq[col] == GapChar {
			inGap = true
			continue
		}
		if inGap {
			m.alnPos = append(m.alnPos, col)
			m.seqPos = append(m.seqPos, pos)
			inGap = false
		}
		pos++
	}
	m.SeqLen = pos

	return m, nil
}

// AlignmentToSeq converts an alignment column to a reference position.  A
// column inside a gap resolves to the position immediately preceding the
// gap.  The second return value is false if the column is out of range or
// precedes the first reference character.
func (m *CoordMap) AlignmentToSeq(col int) (int, bool) {

	if col < 0 || col >= m.AlnLen || len(m.alnPos) == 0 {
		return 0, false
	}

	// Index of the last run starting at or before col
	i := sort.SearchInts(m.alnPos, col+1) - 1
	if i < 0 {
		return 0, false
	}

	pos := m.seqPos[i] + (col - m.alnPos[i])

	// Clamp positions that fall inside a trailing gap of the run to
	// the last position before the gap
	next := m.SeqLen
	if i+1 < len(m.seqPos) {
		next = m.seqPos[i+1]
	}
	if pos >= next {
		pos = next - 1
	}

	return pos, true
}

// SeqToAlignment converts a reference position to its alignment column.
// Every ungapped position has exactly one column.  The second return
// value is false if the position is out of range.
func (m *CoordMap) SeqToAlignment(pos int) (int, bool) {

	if pos < 0 || pos >= m.SeqLen {
		return 0, false
	}

	i := sort.SearchInts(m.seqPos, pos+1) - 1
	return m.alnPos[i] + (pos - m.seqPos[i]), true
}
