package phmm

// A Decoder runs one decoding strategy over a position-wise emission
// table.  Each strategy is a separate implementation; the driver picks
// one from its configuration.
type Decoder interface {
	Decode(hmm *HMM, em *Emissions) (*Result, error)
}

// Result holds the output of one decoding run.  The fields populated
// depend on the strategy: Viterbi fills Path and PathLogProb, the
// posterior decoder fills LogLike and Posterior, and the sampler fills
// Counts.
type Result struct {

	// The single best state path
	Path []int

	// Log-probability of Path
	PathLogProb float64

	// Total log-likelihood of the observations
	LogLike float64

	// Posterior[col][st] is the posterior probability of state st at
	// alignment column col
	Posterior [][]float64

	// Aggregated path counts from the sampler
	Counts *PathCounts
}
