package phmm

import (
	"math"
	"testing"

	"github.com/kshedden/phylohmm/msa"
)

// charLik scores a column by its first character, shifted per model so
// models are distinguishable.
type charLik struct {
	shift float64
}

func (cl charLik) ColumnLogLikelihood(col []byte) float64 {
	base := map[byte]float64{'A': -1, 'C': -2, 'G': -3, 'T': -4, 'N': 0, '-': 0}
	return base[col[0]] + cl.shift
}

func testAlignment(t *testing.T, rows []string) *msa.Alignment {
	names := make([]string, len(rows))
	seqs := make([][]byte, len(rows))
	for i, r := range rows {
		names[i] = string(rune('a' + i))
		seqs[i] = []byte(r)
	}
	aln, err := msa.New(names, seqs, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return aln
}

func TestEmissionModes(t *testing.T) {

	aln := testAlignment(t, []string{"ACCA", "ACCA"})
	ts, err := msa.Build(aln, 1, true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	hmm := New([]State{
		{Name: "bg", Cat: 0, Model: 0},
		{Name: "hot", Cat: 1, Model: 1},
	})
	models := []Likelihood{charLik{0}, charLik{-10}}

	var em Emissions
	if em.Mode() != NoEmissions {
		t.Fatal("new table should have no mode")
	}

	if err := em.ComputeTupleWise(hmm, models, ts); err != nil {
		t.Fatalf("ComputeTupleWise: %v", err)
	}
	if em.Mode() != TupleWise {
		t.Fatal("expected tuple-wise mode")
	}
	if em.Width() != ts.NTuples() {
		t.Fatalf("width %d, want %d", em.Width(), ts.NTuples())
	}

	if err := em.MaterializePositionWise(ts); err != nil {
		t.Fatalf("MaterializePositionWise: %v", err)
	}
	if em.Mode() != PositionWise {
		t.Fatal("expected position-wise mode")
	}
	if em.tupleEmit != nil {
		t.Fatal("tuple-wise buffer should have been released")
	}
	if em.Width() != aln.Length {
		t.Fatalf("width %d, want %d", em.Width(), aln.Length)
	}

	// Column 0 and 3 are 'A', columns 1 and 2 are 'C'
	if em.LogProb(0, 0) != -1 || em.LogProb(0, 1) != -2 || em.LogProb(0, 3) != -1 {
		t.Errorf("state 0 emissions %v", em.posEmit[0])
	}
	// The second state's model is shifted
	if em.LogProb(1, 0) != -11 {
		t.Errorf("state 1 emission %f, want -11", em.LogProb(1, 0))
	}
}

func TestEmissionUnordered(t *testing.T) {

	aln := testAlignment(t, []string{"ACCA"})
	ts, err := msa.Build(aln, 1, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	hmm := New([]State{{Name: "bg", Cat: 0, Model: 0}})
	var em Emissions
	if err := em.ComputeTupleWise(hmm, []Likelihood{charLik{0}}, ts); err != nil {
		t.Fatalf("ComputeTupleWise: %v", err)
	}

	if err := em.MaterializePositionWise(ts); err != msa.ErrUnorderedAlignment {
		t.Fatalf("got %v, want ErrUnorderedAlignment", err)
	}
}

func TestAdjustMissingData(t *testing.T) {

	// Column 1 is informative only in the reference (row 0)
	aln := testAlignment(t, []string{"AC", "AN", "A-"})
	ts, err := msa.Build(aln, 1, true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	hmm := New([]State{{Name: "bg", Cat: 0, Model: 0}})
	models := []Likelihood{charLik{0}}

	var em Emissions
	if err := em.ComputeTupleWise(hmm, models, ts); err != nil {
		t.Fatalf("ComputeTupleWise: %v", err)
	}
	if err := em.MaterializePositionWise(ts); err != nil {
		t.Fatalf("MaterializePositionWise: %v", err)
	}

	before := em.LogProb(0, 1)
	if err := em.AdjustMissingData(hmm, models, aln, 0); err != nil {
		t.Fatalf("AdjustMissingData: %v", err)
	}

	// The reference-only column gets the reference-only likelihood,
	// which for this scoring function is unchanged; column 0 is not
	// reference-only and must not be touched
	if em.LogProb(0, 1) != before {
		t.Errorf("adjusted emission %f, want %f", em.LogProb(0, 1), before)
	}
	if em.LogProb(0, 0) != -1 {
		t.Errorf("informative column emission %f, want -1", em.LogProb(0, 0))
	}
}

func TestApplyIndelModel(t *testing.T) {

	em := emTable([][]float64{
		{-1, -2},
		{-3, -4},
	})

	err := em.ApplyIndelModel([][]float64{
		{-0.5, 0},
		{0, -0.5},
	})
	if err != nil {
		t.Fatalf("ApplyIndelModel: %v", err)
	}

	want := [][]float64{{-1.5, -2}, {-3, -4.5}}
	for st := range want {
		for j := range want[st] {
			if math.Abs(em.LogProb(st, j)-want[st][j]) > 1e-12 {
				t.Errorf("emission[%d][%d] = %f, want %f", st, j, em.LogProb(st, j), want[st][j])
			}
		}
	}

	// Shape mismatches are rejected
	if err := em.ApplyIndelModel([][]float64{{0}}); err == nil {
		t.Error("expected row-count error")
	}
	if err := em.ApplyIndelModel([][]float64{{0}, {0}}); err == nil {
		t.Error("expected width error")
	}
}
