package phmm

import (
	"log"
	"math"
	"strconv"

	"github.com/biogo/biogo/io/featio/gff"
	"github.com/biogo/biogo/seq"

	"github.com/kshedden/phylohmm/catmap"
	"github.com/kshedden/phylohmm/msa"
)

// Projector converts decoded state paths and sampler aggregates into
// feature records, using the category map for type names and frames and
// the coordinate maps for the output frame.
type Projector struct {

	// Category map relating state categories to feature types
	CM *catmap.CategoryMap

	// The alignment the decoding ran over
	Aln *msa.Alignment

	// Output coordinate frame: 0 for the alignment frame, 1..nseqs
	// for that sequence's frame
	RefFrame int

	// Offset added to output coordinates
	Offset int

	// Values for the seqname and source fields of emitted features
	SeqName string
	Source  string
}

// PathToFeatures converts a decoded state path into feature records.
// Each maximal run of columns labeled with the same feature type on the
// same strand becomes one feature, in alignment coordinates.  Runs of
// one contiguous non-background stretch share a numeric group id.
// Cyclic categories get the frame of their first column.
func (pj *Projector) PathToFeatures(hmm *HMM, path []int) []*gff.Feature {

	var feats []*gff.Feature
	group := 0
	inGroup := false

	for col := 0; col < len(path); {

		st := path[col]
		cat := hmm.States[st].Cat
		typ := pj.CM.Name(cat)

		if cat == catmap.BackgroundCat {
			inGroup = false
			col++
			continue
		}
		if !inGroup {
			group++
			inGroup = true
		}

		strand := hmm.States[st].Strand

		// Extend the run while the type and strand are unchanged
		end := col + 1
		for end < len(path) {
			st2 := path[end]
			if pj.CM.Name(hmm.States[st2].Cat) != typ || hmm.States[st2].Strand != strand {
				break
			}
			end++
		}

		f := &gff.Feature{
			SeqName:   pj.SeqName,
			Source:    pj.Source,
			Feature:   typ,
			FeatStart: col,
			FeatEnd:   end,
			FeatFrame: gff.NoFrame,
			FeatAttributes: gff.Attributes{
				{Tag: "id", Value: strconv.Itoa(group)},
			},
		}

		switch strand {
		case Minus:
			f.FeatStrand = seq.Minus
		default:
			f.FeatStrand = seq.Plus
		}

		if r, ok := pj.CM.CategoryRange(typ); ok && r.Size() > 1 {
			f.FeatFrame = gff.Frame((cat - r.Start) % r.Size())
		}

		feats = append(feats, f)
		col = end
	}

	return feats
}

// ScorePredictions assigns a log-odds score to every feature whose type
// is in scoreTypes: the log-likelihood of the feature's span under the
// states of its own category range minus its log-likelihood under the
// background states.  Features immediately adjacent to a scored feature
// (signal features such as splice sites) contribute their span to the
// score.  Emissions must be position-wise and features must be in
// alignment coordinates.  Call before remapping.
func (pj *Projector) ScorePredictions(feats []*gff.Feature, hmm *HMM, em *Emissions, scoreTypes []string, backgdCats []int) {

	isScore := make(map[string]bool)
	for _, t := range scoreTypes {
		isScore[t] = true
	}

	backgdStates := hmm.BackgroundStates(backgdCats)

	for i, f := range feats {
		if !isScore[f.Feature] {
			continue
		}

		score := pj.spanLogOdds(hmm, em, f, backgdStates)

		// Include directly adjacent signal features
		for j := i - 1; j >= 0 && !isScore[feats[j].Feature] && feats[j].FeatEnd == feats[j+1].FeatStart; j-- {
			score += pj.spanLogOdds(hmm, em, feats[j], backgdStates)
		}
		for j := i + 1; j < len(feats) && !isScore[feats[j].Feature] && feats[j].FeatStart == feats[j-1].FeatEnd; j++ {
			score += pj.spanLogOdds(hmm, em, feats[j], backgdStates)
		}

		sc := score
		f.FeatScore = &sc
	}
}

// spanLogOdds sums, over the feature's span, the log-likelihood ratio
// of the feature's own states versus the background states.
func (pj *Projector) spanLogOdds(hmm *HMM, em *Emissions, f *gff.Feature, backgdStates []bool) float64 {

	r, ok := pj.CM.CategoryRange(f.Feature)
	if !ok {
		return 0
	}

	var own, back []int
	for st := 0; st < hmm.NState; st++ {
		cat := hmm.States[st].Cat
		if cat >= r.Start && cat <= r.End {
			own = append(own, st)
		}
		if backgdStates[st] {
			back = append(back, st)
		}
	}
	if len(own) == 0 || len(back) == 0 {
		return 0
	}

	var score float64
	for col := f.FeatStart; col < f.FeatEnd && col < em.Width(); col++ {
		score += logSumExpStates(em, own, col) - logSumExpStates(em, back, col)
	}

	return score
}

func logSumExpStates(em *Emissions, states []int, col int) float64 {

	mx := math.Inf(-1)
	for _, st := range states {
		if lp := em.LogProb(st, col); lp > mx {
			mx = lp
		}
	}
	if math.IsInf(mx, -1) {
		return mx
	}

	var s float64
	for _, st := range states {
		s += math.Exp(em.LogProb(st, col) - mx)
	}

	return mx + math.Log(s)
}

// BlockSpan gives the alignment column range of one sampler block.
type BlockSpan struct {
	Start int
	End   int
}

// FeaturesFromCounts converts a sampler aggregate into feature
// records, one per block whose dominant non-background state occupies
// at least threshold of the counted positions.  The feature score is
// the occupancy fraction.
func (pj *Projector) FeaturesFromCounts(pc *PathCounts, spans []BlockSpan, hmm *HMM, threshold float64) []*gff.Feature {

	var feats []*gff.Feature

	for b, span := range spans {
		fr := pc.StateFractions(b)

		best := -1
		for st, f := range fr {
			if hmm.States[st].Cat == catmap.BackgroundCat {
				continue
			}
			if best < 0 || f > fr[best] {
				best = st
			}
		}
		if best < 0 || fr[best] < threshold {
			continue
		}

		sc := fr[best]
		f := &gff.Feature{
			SeqName:   pj.SeqName,
			Source:    pj.Source,
			Feature:   pj.CM.Name(hmm.States[best].Cat),
			FeatStart: span.Start,
			FeatEnd:   span.End,
			FeatScore: &sc,
			FeatFrame: gff.NoFrame,
		}
		switch hmm.States[best].Strand {
		case Minus:
			f.FeatStrand = seq.Minus
		default:
			f.FeatStrand = seq.Plus
		}

		feats = append(feats, f)
	}

	return feats
}

// Remap translates features from alignment coordinates into the
// projector's output frame, applying the offset and the drop and
// truncation rules for unmappable endpoints.
func (pj *Projector) Remap(feats []*gff.Feature, warn *log.Logger) ([]*gff.Feature, error) {
	return pj.Aln.RemapFeatures(feats, 0, pj.RefFrame, pj.Offset, warn)
}
