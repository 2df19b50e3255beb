package msa

import (
	"fmt"
	"log"

	"github.com/biogo/biogo/io/featio/gff"
	"github.com/biogo/biogo/seq"
)

// Coordinate frames for RemapFeatures.  Frame 0 is the frame of the whole
// alignment; frames 1..NSeqs are 1-based sequence indices.  FrameByName
// resolves the frame per feature from its SeqName field.
const FrameByName = -1

// Fixed-width "signal" feature types whose span must survive remapping.
// Left-anchored types keep their start fixed on the forward strand;
// right-anchored types keep their end fixed.
var (
	leftAnchored = map[string]bool{
		"5'splice":    true,
		"start_codon": true,
		"stop_codon":  true,
		"cds3'ss":     true,
	}
	rightAnchored = map[string]bool{
		"3'splice": true,
		"cds5'ss":  true,
		"prestart": true,
	}
)

// RemapFeatures translates feature coordinates from one frame to another,
// adding offset to the results.  Start and end are translated
// independently; a feature with both endpoints unmapped is dropped, and a
// feature with one unmapped endpoint is truncated at the mapped bound.
// For the enumerated signal types the original span is restored after
// translation.  Coordinate failures are logged to warn (if non-nil) and
// never abort the run.  The returned slice holds the surviving features.
func (aln *Alignment) RemapFeatures(feats []*gff.Feature, from, to, offset int, warn *log.Logger) ([]*gff.Feature, error) {

	maps := make([]*CoordMap, aln.NSeqs()+1)
	getMap := func(frame int) (*CoordMap, error) {
		if frame == 0 {
			return nil, nil
		}
		if frame < 1 || frame > aln.NSeqs() {
			return nil, fmt.Errorf("msa: coordinate frame %d out of range", frame)
		}
		if maps[frame] == nil {
			m, err := BuildCoordMap(aln, frame-1)
			if err != nil {
				return nil, err
			}
			maps[frame] = m
		}
		return maps[frame], nil
	}

	var keepers []*gff.Feature
	for _, f := range feats {

		if from == to {
			f.FeatStart += offset
			f.FeatEnd += offset
			keepers = append(keepers, f)
			continue
		}

		fseq, tseq := from, to
		if from == FrameByName {
			if f.SeqName == "MSA" {
				fseq = 0
			} else if fseq = aln.SeqIndex(f.SeqName) + 1; fseq == 0 {
				return nil, fmt.Errorf("msa: no sequence named %s", f.SeqName)
			}
		}
		if to == FrameByName {
			if f.SeqName == "MSA" {
				tseq = 0
			} else if tseq = aln.SeqIndex(f.SeqName) + 1; tseq == 0 {
				return nil, fmt.Errorf("msa: no sequence named %s", f.SeqName)
			}
		}

		fromMap, err := getMap(fseq)
		if err != nil {
			return nil, err
		}
		toMap, err := getMap(tseq)
		if err != nil {
			return nil, err
		}

		span := f.FeatEnd - f.FeatStart

		s, sok := seqToSeq(fromMap, toMap, f.FeatStart)
		e, eok := seqToSeq(fromMap, toMap, f.FeatEnd-1)

		if !sok && !eok {
			if warn != nil {
				warn.Printf("dropping unmappable feature %s [%d, %d)",
					f.Feature, f.FeatStart, f.FeatEnd)
			}
			continue
		}

		if sok {
			f.FeatStart = s + offset
		} else {
			if warn != nil {
				warn.Printf("truncating feature %s at start", f.Feature)
			}
			f.FeatStart = offset
		}
		if eok {
			f.FeatEnd = e + 1 + offset
		} else {
			if warn != nil {
				warn.Printf("truncating feature %s at end", f.Feature)
			}
			end := aln.Length
			if toMap != nil {
				end = toMap.SeqLen
			}
			f.FeatEnd = end + offset
		}

		// Restore the span of fixed-width signal features
		if f.FeatEnd-f.FeatStart != span {
			la := leftAnchored[f.Feature]
			ra := rightAnchored[f.Feature]
			minus := f.FeatStrand == seq.Minus
			if (la && !minus) || (ra && minus) {
				f.FeatEnd = f.FeatStart + span
			} else if (ra && !minus) || (la && minus) {
				f.FeatStart = f.FeatEnd - span
			}
		}

		keepers = append(keepers, f)
	}

	return keepers, nil
}

// seqToSeq translates a position through an optional pair of coordinate
// maps.  A nil map denotes the frame of the whole alignment.
func seqToSeq(fromMap, toMap *CoordMap, pos int) (int, bool) {
	col := pos
	if fromMap != nil {
		var ok bool
		if col, ok = fromMap.SeqToAlignment(pos); !ok {
			return 0, false
		}
	}
	if toMap == nil {
		return col, true
	}
	return toMap.AlignmentToSeq(col)
}
