package phmm

import (
	"math"
	"testing"
)

// emTable builds a position-wise emission table directly from log
// probabilities, indexed as table[state][column].
func emTable(table [][]float64) *Emissions {
	return &Emissions{
		NState:  len(table),
		posEmit: table,
		mode:    PositionWise,
	}
}

// testHMM returns a 2-state model with asymmetric transitions.
func testHMM() *HMM {
	hmm := New([]State{
		{Name: "bg", Cat: 0, Model: 0},
		{Name: "hot", Cat: 1, Model: 1},
	})
	hmm.Trans = []float64{0.9, 0.1, 0.2, 0.8}
	hmm.Init = []float64{0.7, 0.3}
	return hmm
}

// pathLogProb computes the log-probability of one complete path by
// direct multiplication.
func pathLogProb(hmm *HMM, em *Emissions, path []int) float64 {

	lp := math.Log(hmm.Init[path[0]]) + em.LogProb(path[0], 0)
	for t := 1; t < len(path); t++ {
		lp += math.Log(hmm.Trans[path[t-1]*hmm.NState+path[t]])
		lp += em.LogProb(path[t], t)
	}
	return lp
}

// enumerate visits every state path of the given length.
func enumerate(ns, length int, visit func(path []int)) {
	path := make([]int, length)
	var rec func(t int)
	rec = func(t int) {
		if t == length {
			visit(path)
			return
		}
		for st := 0; st < ns; st++ {
			path[t] = st
			rec(t + 1)
		}
	}
	rec(0)
}

func TestViterbiBruteForce(t *testing.T) {

	hmm := testHMM()
	em := emTable([][]float64{
		{-1, -1, -3, -3, -1},
		{-3, -2, -1, -1, -2},
	})

	var dec Decoder = &Viterbi{}
	res, err := dec.Decode(hmm, em)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	// The best path by direct enumeration, first maximum wins
	best := math.Inf(-1)
	bestPath := make([]int, 5)
	enumerate(hmm.NState, 5, func(path []int) {
		if lp := pathLogProb(hmm, em, path); lp > best {
			best = lp
			copy(bestPath, path)
		}
	})

	if math.Abs(res.PathLogProb-best) > 1e-10 {
		t.Errorf("path log-probability %f, want %f", res.PathLogProb, best)
	}
	for i := range bestPath {
		if res.Path[i] != bestPath[i] {
			t.Fatalf("path %v, want %v", res.Path, bestPath)
		}
	}
}

func TestViterbiDeterminism(t *testing.T) {

	hmm := testHMM()
	em := emTable([][]float64{
		{-1, -2, -1, -2},
		{-2, -1, -2, -1},
	})

	var dec Decoder = &Viterbi{}
	r1, err := dec.Decode(hmm, em)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	r2, err := dec.Decode(hmm, em)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	for i := range r1.Path {
		if r1.Path[i] != r2.Path[i] {
			t.Fatalf("paths differ: %v vs %v", r1.Path, r2.Path)
		}
	}
}

// With identical emissions and symmetric dynamics every path ties, and
// the tie goes to the lowest state index.
func TestViterbiTieBreak(t *testing.T) {

	hmm := New([]State{
		{Name: "a", Cat: 0, Model: 0},
		{Name: "b", Cat: 1, Model: 0},
	})
	em := emTable([][]float64{
		{-1, -1, -1},
		{-1, -1, -1},
	})

	var dec Decoder = &Viterbi{}
	res, err := dec.Decode(hmm, em)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i, st := range res.Path {
		if st != 0 {
			t.Fatalf("position %d: state %d, want 0", i, st)
		}
	}
}

func TestForwardBruteForce(t *testing.T) {

	hmm := testHMM()
	em := emTable([][]float64{
		{-1, -2, -3, -1},
		{-2, -1, -1, -3},
	})

	var dec Decoder = &Posterior{}
	res, err := dec.Decode(hmm, em)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	// Total likelihood by direct enumeration
	var total float64
	enumerate(hmm.NState, 4, func(path []int) {
		total += math.Exp(pathLogProb(hmm, em, path))
	})

	if math.Abs(res.LogLike-math.Log(total)) > 1e-8 {
		t.Errorf("log-likelihood %f, want %f", res.LogLike, math.Log(total))
	}
}

func TestPosteriorBruteForce(t *testing.T) {

	hmm := testHMM()
	em := emTable([][]float64{
		{-1, -2, -3},
		{-2, -1, -1},
	})

	var dec Decoder = &Posterior{}
	res, err := dec.Decode(hmm, em)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	// Posterior probabilities by direct enumeration
	want := make([][]float64, 3)
	for t := range want {
		want[t] = make([]float64, hmm.NState)
	}
	var total float64
	enumerate(hmm.NState, 3, func(path []int) {
		p := math.Exp(pathLogProb(hmm, em, path))
		total += p
		for t, st := range path {
			want[t][st] += p
		}
	})

	for tm := range want {
		for st := range want[tm] {
			w := want[tm][st] / total
			if math.Abs(res.Posterior[tm][st]-w) > 1e-8 {
				t.Errorf("posterior[%d][%d] = %f, want %f", tm, st, res.Posterior[tm][st], w)
			}
		}
	}
}

func TestMoments(t *testing.T) {

	res := &Result{
		Posterior: [][]float64{
			{1, 0},
			{0.5, 0.5},
		},
	}

	mean, variance := res.Moments([]float64{0, 2})

	if mean[0] != 0 || mean[1] != 1 {
		t.Errorf("means %v", mean)
	}
	if variance[0] != 0 || variance[1] != 1 {
		t.Errorf("variances %v", variance)
	}
}

func TestPValues(t *testing.T) {

	pv := PValues([]float64{0, -10, 10}, 0, 1)

	if math.Abs(pv[0]-0.5) > 1e-10 {
		t.Errorf("p-value at the null mean is %f, want 0.5", pv[0])
	}
	if pv[1] > 1e-6 {
		t.Errorf("far-below-null p-value %f", pv[1])
	}
	if pv[2] < 1-1e-6 {
		t.Errorf("far-above-null p-value %f", pv[2])
	}
}
