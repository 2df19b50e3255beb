package phmm

import (
	"path/filepath"
	"reflect"
	"testing"
)

// flatEm returns an emission table with identical log probabilities, so
// the paths are driven by the dynamics alone.
func flatEm(ns, length int) *Emissions {
	table := makeFloatArray(ns, length)
	for st := range table {
		for j := range table[st] {
			table[st][j] = -1
		}
	}
	return &Emissions{NState: ns, posEmit: table, mode: PositionWise}
}

// A degenerate model that always moves to state 1.
func absorbingHMM() *HMM {
	hmm := New([]State{
		{Name: "bg", Cat: 0, Model: 0},
		{Name: "hot", Cat: 1, Model: 0},
	})
	hmm.Trans = []float64{0, 1, 0, 1}
	hmm.Init = []float64{0, 1}
	return hmm
}

func TestSamplerDegenerate(t *testing.T) {

	s := &Sampler{
		BurnIn:         5,
		NSamples:       20,
		SampleInterval: 2,
		Seed:           1,
	}

	if s.Phase() != Uninitialized {
		t.Fatal("sampler should start uninitialized")
	}

	em := flatEm(2, 10)
	pc, err := s.Run(absorbingHMM(), []*Emissions{em})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if s.Phase() != Done {
		t.Fatalf("phase %d, want Done", s.Phase())
	}
	if pc.NSamples != 20 {
		t.Fatalf("%d samples retained, want 20", pc.NSamples)
	}

	// Every draw must select state 1 at every position
	if len(pc.Counts) != 1 {
		t.Fatalf("%d distinct paths, want 1", len(pc.Counts))
	}
	for key, vec := range pc.Counts {
		if key.Block != 0 {
			t.Errorf("block %d, want 0", key.Block)
		}
		if vec[0] != 0 || vec[1] != 20*10 {
			t.Errorf("counts %v, want [0 200]", vec)
		}
	}

	fr := pc.StateFractions(0)
	if fr[0] != 0 || fr[1] != 1 {
		t.Errorf("fractions %v, want [0 1]", fr)
	}
}

func TestSamplerDeterminism(t *testing.T) {

	hmm := testHMM()

	run := func() *PathCounts {
		s := &Sampler{BurnIn: 2, NSamples: 10, SampleInterval: 1, Seed: 7}
		pc, err := s.Run(hmm, []*Emissions{flatEm(2, 8), flatEm(2, 8)})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return pc
	}

	pc1 := run()
	pc2 := run()

	if !reflect.DeepEqual(pc1.Counts, pc2.Counts) {
		t.Error("same seed produced different aggregates")
	}
}

func TestSamplerConfigErrors(t *testing.T) {

	hmm := testHMM()
	blocks := []*Emissions{flatEm(2, 4)}

	// Reference-prior modes require a reference annotation
	s := &Sampler{NSamples: 1, RefAsPrior: true}
	if _, err := s.Run(hmm, blocks); err == nil {
		t.Error("expected ConfigError for ref-as-prior without annotation")
	} else if _, ok := err.(*ConfigError); !ok {
		t.Errorf("got %T, want *ConfigError", err)
	}

	// force-priors implies ref-as-prior
	s = &Sampler{NSamples: 1, ForcePriors: true}
	if _, err := s.Run(hmm, blocks); err == nil {
		t.Error("expected ConfigError for force-priors without annotation")
	}
	if !s.RefAsPrior {
		t.Error("force-priors should imply ref-as-prior")
	}

	// At least one retained sample
	s = &Sampler{NSamples: 0}
	if _, err := s.Run(hmm, blocks); err == nil {
		t.Error("expected ConfigError for zero samples")
	}

	// Tuple-wise tables cannot be sampled from
	s = &Sampler{NSamples: 1}
	bad := &Emissions{NState: 2, tupleEmit: makeFloatArray(2, 3), mode: TupleWise}
	if _, err := s.Run(hmm, []*Emissions{bad}); err == nil {
		t.Error("expected ConfigError for tuple-wise block")
	}
}

func TestSamplerForcePriors(t *testing.T) {

	// Dynamics pull everything to state 1, the annotation forces
	// state 0 everywhere
	ref := make([]int, 6)

	s := &Sampler{
		BurnIn:      1,
		NSamples:    5,
		Seed:        3,
		ForcePriors: true,
		RefPath:     ref,
	}

	pc, err := s.Run(absorbingHMM(), []*Emissions{flatEm(2, 6)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, vec := range pc.Counts {
		if vec[1] != 0 {
			t.Errorf("counts %v, want no state-1 occupancy", vec)
		}
	}
}

func TestSamplerRegion(t *testing.T) {

	s := &Sampler{
		NSamples:    4,
		Seed:        2,
		RegionStart: 2,
		RegionEnd:   5,
	}

	pc, err := s.Run(absorbingHMM(), []*Emissions{flatEm(2, 10)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Only the three columns in the region are counted
	for _, vec := range pc.Counts {
		if vec[0]+vec[1] != 4*3 {
			t.Errorf("counts %v, want 12 total", vec)
		}
	}
}

func TestPathCountsRoundTrip(t *testing.T) {

	s := &Sampler{BurnIn: 1, NSamples: 10, SampleInterval: 1, Seed: 11}
	pc, err := s.Run(testHMM(), []*Emissions{flatEm(2, 6)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	fname := filepath.Join(t.TempDir(), "counts.gob.gz")
	if err := pc.Write(fname); err != nil {
		t.Fatalf("Write: %v", err)
	}
	back := ReadPathCounts(fname)

	if back.NSamples != pc.NSamples || back.NState != pc.NState {
		t.Fatalf("header differs: %+v vs %+v", back, pc)
	}
	if !reflect.DeepEqual(back.Counts, pc.Counts) {
		t.Error("counts differ after round trip")
	}
}

func TestPathSig(t *testing.T) {

	// The signature format is persisted in count files and must stay
	// stable: decimal state indices joined by '.'
	for _, c := range []struct {
		seg  []int
		want string
	}{
		{[]int{0}, "0"},
		{[]int{0, 11, 2}, "0.11.2"},
		{[]int{1, 1, 1}, "1.1.1"},
	} {
		if got := pathSig(c.seg); got != c.want {
			t.Errorf("pathSig(%v) = %q, want %q", c.seg, got, c.want)
		}
	}
}

func TestPathCountsMerge(t *testing.T) {

	a := NewPathCounts(2)
	a.add(PathKey{Block: 0, Sig: "0.1"}, []int{0, 1})
	a.NSamples = 1

	b := NewPathCounts(2)
	b.add(PathKey{Block: 0, Sig: "0.1"}, []int{0, 1})
	b.add(PathKey{Block: 1, Sig: "1.1"}, []int{1, 1})
	b.NSamples = 2

	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if a.NSamples != 3 {
		t.Errorf("NSamples = %d, want 3", a.NSamples)
	}
	vec := a.Counts[PathKey{Block: 0, Sig: "0.1"}]
	if vec[0] != 2 || vec[1] != 2 {
		t.Errorf("merged counts %v", vec)
	}
	if _, ok := a.Counts[PathKey{Block: 1, Sig: "1.1"}]; !ok {
		t.Error("merge dropped a key")
	}

	if err := a.Merge(NewPathCounts(3)); err == nil {
		t.Error("expected state-count mismatch error")
	}
}
