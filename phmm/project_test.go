package phmm

import (
	"testing"

	"github.com/biogo/biogo/io/featio/gff"
	"github.com/biogo/biogo/seq"

	"github.com/kshedden/phylohmm/catmap"
)

func attr(f *gff.Feature, tag string) string {
	for _, a := range f.FeatAttributes {
		if a.Tag == tag {
			return a.Value
		}
	}
	return ""
}

func testCatmap(t *testing.T) *catmap.CategoryMap {
	t.Helper()
	cm := catmap.New(5)
	if err := cm.AddType("CDS", 1, 3, 1); err != nil {
		t.Fatalf("AddType: %v", err)
	}
	if err := cm.AddType("5'splice", 4, 4, 0); err != nil {
		t.Fatalf("AddType: %v", err)
	}
	return cm
}

func geneHMM() *HMM {
	return New([]State{
		{Name: "bg", Cat: 0, Model: 0},
		{Name: "cds1", Cat: 1, Model: 1},
		{Name: "cds2", Cat: 2, Model: 1},
		{Name: "cds3", Cat: 3, Model: 1},
		{Name: "splice", Cat: 4, Model: 2},
	})
}

func TestPathToFeatures(t *testing.T) {

	pj := &Projector{CM: testCatmap(t), SeqName: "MSA", Source: "test"}
	hmm := geneHMM()

	path := []int{0, 4, 1, 2, 3, 0}
	feats := pj.PathToFeatures(hmm, path)

	if len(feats) != 2 {
		t.Fatalf("got %d features, want 2", len(feats))
	}

	if feats[0].Feature != "5'splice" || feats[0].FeatStart != 1 || feats[0].FeatEnd != 2 {
		t.Errorf("splice feature %+v", feats[0])
	}

	// The three codon-position states collapse into one CDS feature
	if feats[1].Feature != "CDS" || feats[1].FeatStart != 2 || feats[1].FeatEnd != 5 {
		t.Errorf("CDS feature %+v", feats[1])
	}
	if int(feats[1].FeatFrame) != 0 {
		t.Errorf("CDS frame %d, want 0", feats[1].FeatFrame)
	}
	if feats[1].FeatStrand != seq.Plus {
		t.Errorf("CDS strand %v", feats[1].FeatStrand)
	}

	// Both features belong to the same contiguous group
	if attr(feats[0], "id") != attr(feats[1], "id") {
		t.Error("features in one group carry different ids")
	}
}

func TestPathToFeaturesGroups(t *testing.T) {

	pj := &Projector{CM: testCatmap(t)}
	hmm := geneHMM()

	// Two non-background stretches separated by background
	path := []int{1, 0, 1}
	feats := pj.PathToFeatures(hmm, path)

	if len(feats) != 2 {
		t.Fatalf("got %d features, want 2", len(feats))
	}
	if attr(feats[0], "id") == attr(feats[1], "id") {
		t.Error("separated features share a group id")
	}
}

func TestPathToFeaturesStrand(t *testing.T) {

	pj := &Projector{CM: testCatmap(t)}
	hmm := geneHMM()
	hmm.States[1].Strand = Minus

	feats := pj.PathToFeatures(hmm, []int{1, 1})
	if len(feats) != 1 {
		t.Fatalf("got %d features, want 1", len(feats))
	}
	if feats[0].FeatStrand != seq.Minus {
		t.Errorf("strand %v, want minus", feats[0].FeatStrand)
	}
}

func TestScorePredictions(t *testing.T) {

	pj := &Projector{CM: testCatmap(t)}
	hmm := geneHMM()

	// Non-background states dominate columns 1 through 4
	em := emTable([][]float64{
		{-2, -2, -2, -2, -2, -2},
		{-3, -3, -1, -1, -1, -3},
		{-3, -3, -1, -1, -1, -3},
		{-3, -3, -1, -1, -1, -3},
		{-3, -1, -3, -3, -3, -3},
	})

	path := []int{0, 4, 1, 2, 3, 0}
	feats := pj.PathToFeatures(hmm, path)

	pj.ScorePredictions(feats, hmm, em, []string{"CDS"}, []int{catmap.BackgroundCat})

	// Only the CDS is scored, and the signal span contributes
	if feats[0].FeatScore != nil {
		t.Error("splice feature should not carry a score")
	}
	if feats[1].FeatScore == nil {
		t.Fatal("CDS feature should carry a score")
	}
	if *feats[1].FeatScore <= 0 {
		t.Errorf("score %f, want positive", *feats[1].FeatScore)
	}
}

func TestFeaturesFromCounts(t *testing.T) {

	pj := &Projector{CM: testCatmap(t), SeqName: "MSA"}
	hmm := geneHMM()

	pc := NewPathCounts(hmm.NState)
	// Block 0 spends most of its time in the first CDS state
	pc.Counts[PathKey{Block: 0, Sig: "x"}] = []int{2, 8, 0, 0, 0}
	// Block 1 is background throughout
	pc.Counts[PathKey{Block: 1, Sig: "y"}] = []int{10, 0, 0, 0, 0}
	pc.NSamples = 10

	spans := []BlockSpan{{Start: 0, End: 10}, {Start: 10, End: 20}}
	feats := pj.FeaturesFromCounts(pc, spans, hmm, 0.5)

	if len(feats) != 1 {
		t.Fatalf("got %d features, want 1", len(feats))
	}
	f := feats[0]
	if f.Feature != "CDS" || f.FeatStart != 0 || f.FeatEnd != 10 {
		t.Errorf("feature %+v", f)
	}
	if f.FeatScore == nil || *f.FeatScore != 0.8 {
		t.Errorf("score %v, want 0.8", f.FeatScore)
	}
}
