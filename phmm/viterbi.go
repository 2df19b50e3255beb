package phmm

import (
	"fmt"
	"math"
)

// Viterbi computes the single most probable state path by the usual
// log-space dynamic program.  Ties are broken toward the lowest state
// index, so repeated runs on the same inputs return the same path.
type Viterbi struct{}

// Decode runs the Viterbi recursion over a position-wise emission
// table and returns the best path with its log-probability.
func (v *Viterbi) Decode(hmm *HMM, em *Emissions) (*Result, error) {

	if em.Mode() != PositionWise {
		return nil, fmt.Errorf("phmm: Viterbi decoding requires a position-wise emission table")
	}

	length := em.Width()
	ns := hmm.NState
	if length == 0 {
		return nil, fmt.Errorf("phmm: empty emission table")
	}

	lpr := make([]float64, length*ns)
	lpt := make([]int, length*ns)

	lt := make([]float64, ns*ns)
	for j := range hmm.Trans {
		lt[j] = math.Log(hmm.Trans[j])
	}

	wk := make([]float64, ns)

	// Construct the table of conditional probabilities
	j0 := -2 * ns
	j1 := -ns
	for t := 0; t < length; t++ {

		j0 += ns
		j1 += ns

		// Beginning from initial conditions
		if t == 0 {
			for st := 0; st < ns; st++ {
				lpr[j1+st] = em.LogProb(st, t) + math.Log(hmm.Init[st])
			}
			continue // First block of lpt is not used
		}

		// From st1 to st2
		for st2 := 0; st2 < ns; st2++ {
			for st1 := 0; st1 < ns; st1++ {
				wk[st1] = lpr[j0+st1] + lt[st1*ns+st2]
			}

			// The best previous state
			jj := argmax(wk)
			lpt[j1+st2] = jj
			lpr[j1+st2] = wk[jj] + em.LogProb(st2, t)
		}
	}

	// Trace back from the best terminal state
	path := make([]int, length)
	a := (length - 1) * ns
	path[length-1] = argmax(lpr[a : a+ns])
	best := lpr[a+path[length-1]]

	for t := length - 2; t >= 0; t-- {
		path[t] = lpt[(t+1)*ns+path[t+1]]
	}

	return &Result{Path: path, PathLogProb: best}, nil
}
