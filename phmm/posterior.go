package phmm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Posterior computes forward and backward tables and from them the
// total log-likelihood and per-column posterior state probabilities.
// It does not produce a hard state path.
type Posterior struct{}

// Decode runs the forward and backward recursions over a position-wise
// emission table.
func (po *Posterior) Decode(hmm *HMM, em *Emissions) (*Result, error) {

	if em.Mode() != PositionWise {
		return nil, fmt.Errorf("phmm: posterior decoding requires a position-wise emission table")
	}

	length := em.Width()
	ns := hmm.NState

	lt := make([]float64, ns*ns)
	for j := range hmm.Trans {
		lt[j] = math.Log(hmm.Trans[j])
	}

	fprob := make([]float64, length*ns)
	llf := forward(hmm, em, lt, fprob)

	bprob := make([]float64, length*ns)
	backward(hmm, em, lt, bprob)

	// Posterior probabilities are the normalized products of the
	// forward and backward probabilities
	post := makeFloatArray(length, ns)
	for t := 0; t < length; t++ {
		i := t * ns
		floats.MulTo(post[t], fprob[i:i+ns], bprob[i:i+ns])
		normalizeSum(post[t], 1/float64(ns))
	}

	return &Result{LogLike: llf, Posterior: post}, nil
}

// forward fills fprob with the forward probabilities, normalized per
// column to a maximum of 1, and returns the total log-likelihood.
func forward(hmm *HMM, em *Emissions, lt, fprob []float64) float64 {

	length := em.Width()
	ns := hmm.NState

	var llf float64
	terms := make([]float64, ns*ns)
	lfp := make([]float64, ns)

	j0 := -2 * ns
	j1 := -ns

	// Forward sweep
	for t := 0; t < length; t++ {

		j0 += ns
		j1 += ns

		// Initial time point
		if t == 0 {
			for j := 0; j < ns; j++ {
				fprob[j1+j] = math.Log(hmm.Init[j]) + em.LogProb(j, t)
			}
			llf += normalizeMaxLog(fprob[j1 : j1+ns])
			continue
		}

		// Precompute this
		for st := 0; st < ns; st++ {
			lfp[st] = math.Log(fprob[j0+st])
		}

		// Calculate components of the update on the log scale.
		// Transition is from state st2 at time t-1 to state st1
		// at time t.
		for st1 := 0; st1 < ns; st1++ {
			yp := em.LogProb(st1, t)
			for st2 := 0; st2 < ns; st2++ {
				terms[st1*ns+st2] = lfp[st2] + lt[st2*ns+st1] + yp
			}
		}

		// This shift does not change the result due to scale invariance
		mx := floats.Max(terms)
		llf += mx
		floats.AddConst(-mx, terms)

		// Get the probabilities by summing over possible histories.
		for st1 := 0; st1 < ns; st1++ {
			fprob[j1+st1] = 0
			for st2 := 0; st2 < ns; st2++ {
				fprob[j1+st1] += math.Exp(terms[st1*ns+st2])
			}
		}
		mx = floats.Max(fprob[j1 : j1+ns])
		floats.Scale(1/mx, fprob[j1:j1+ns])
		llf += math.Log(mx)
	}

	j0 = (length - 1) * ns
	u := 0.0
	for j := 0; j < ns; j++ {
		u += fprob[j0+j]
	}
	llf += math.Log(u)

	return llf
}

// backward fills bprob with the backward probabilities, normalized per
// column to a maximum of 1.
func backward(hmm *HMM, em *Emissions, lt, bprob []float64) {

	length := em.Width()
	ns := hmm.NState

	lby := make([]float64, ns)
	terms := make([]float64, ns*ns)

	// Backward sweep
	for t := length - 1; t >= 0; t-- {

		j0 := t * ns
		j1 := j0 + ns

		// Initialize
		if t == length-1 {
			for st := 0; st < ns; st++ {
				bprob[j0+st] = 1
			}
			continue
		}

		for st := 0; st < ns; st++ {
			lby[st] = em.LogProb(st, t+1) + math.Log(bprob[j1+st])
		}

		// From st1 at t to st2 at t+1.
		for st1 := 0; st1 < ns; st1++ {
			for st2 := 0; st2 < ns; st2++ {
				terms[st1*ns+st2] = lby[st2] + lt[st1*ns+st2]
			}
		}

		floats.AddConst(-floats.Max(terms), terms)

		// Get the probabilities by summing over possible histories.
		for st1 := 0; st1 < ns; st1++ {
			bprob[j0+st1] = 0
			for st2 := 0; st2 < ns; st2++ {
				bprob[j0+st1] += math.Exp(terms[st1*ns+st2])
			}
		}

		mx := floats.Max(bprob[j0 : j0+ns])
		floats.Scale(1/mx, bprob[j0:j0+ns])
	}
}

// Subtract the maximum value from x, then exponentiate.
func normalizeMaxLog(x []float64) float64 {
	mx := floats.Max(x)
	floats.AddConst(-mx, x)
	for j := range x {
		x[j] = math.Exp(x[j])
	}

	return mx
}

// Moments returns the per-column posterior mean and variance of a
// per-state score, e.g. a substitution rate or conservation value.
func (r *Result) Moments(score []float64) (mean, variance []float64) {

	length := len(r.Posterior)
	mean = make([]float64, length)
	variance = make([]float64, length)

	for t, post := range r.Posterior {
		var m, m2 float64
		for st, p := range post {
			m += p * score[st]
			m2 += p * score[st] * score[st]
		}
		mean[t] = m
		variance[t] = m2 - m*m
	}

	return mean, variance
}

// PValues converts per-column posterior means into lower-tail p-values
// under a normal null with the given mean and standard deviation.
// Small values indicate columns scoring below the null expectation.
func PValues(mean []float64, nullMean, nullSD float64) []float64 {

	dist := distuv.Normal{Mu: nullMean, Sigma: nullSD}

	pv := make([]float64, len(mean))
	for i, m := range mean {
		pv[i] = dist.CDF(m)
	}

	return pv
}
