package phmm

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/schollz/progressbar"
	"gonum.org/v1/gonum/floats"
)

// NoState marks an unannotated column in a reference path.
const NoState int = -1

// Phase is the sampler's lifecycle state.
type Phase uint8

// Uninitialized, BurnIn, Sampling, Done are the sampler phases, in
// order.
const (
	Uninitialized Phase = iota
	BurnIn
	Sampling
	Done
)

// PathKey identifies one distinct sampled path: the alignment block it
// was drawn from and the signature of its states over the region of
// interest.  Sig is the decimal state indices joined by '.', as produced
// by pathSig (for example "0.11.2" for the states 0, 11, 2).  Aggregates
// are persisted with this format, so it must not change between runs
// that share count files.
type PathKey struct {
	Block int
	Sig   string
}

// PathCounts aggregates the retained draws of a sampling run.  Each
// distinct path key maps to a state-occupancy count vector of length
// NState; NSamples counts the retained draws.
type PathCounts struct {
	NState   int
	NSamples int
	Counts   map[PathKey][]int
}

// NewPathCounts returns an empty aggregate for an HMM with ns states.
func NewPathCounts(ns int) *PathCounts {
	return &PathCounts{
		NState: ns,
		Counts: make(map[PathKey][]int),
	}
}

// add accumulates the state occupancies of one drawn path segment.
func (pc *PathCounts) add(key PathKey, seg []int) {
	vec := pc.Counts[key]
	if vec == nil {
		vec = make([]int, pc.NState)
		pc.Counts[key] = vec
	}
	for _, st := range seg {
		vec[st]++
	}
}

// Merge folds the counts of other into pc, so that sampling runs split
// across processes can be combined.
func (pc *PathCounts) Merge(other *PathCounts) error {
	if other.NState != pc.NState {
		return fmt.Errorf("phmm: merging path counts with %d states into %d states",
			other.NState, pc.NState)
	}
	for key, vec := range other.Counts {
		cur := pc.Counts[key]
		if cur == nil {
			cur = make([]int, pc.NState)
			pc.Counts[key] = cur
		}
		for st, n := range vec {
			cur[st] += n
		}
	}
	pc.NSamples += other.NSamples
	return nil
}

// StateFractions returns, for one block, the fraction of counted
// positions spent in each state, summed over all signatures.
func (pc *PathCounts) StateFractions(block int) []float64 {

	fr := make([]float64, pc.NState)
	for key, vec := range pc.Counts {
		if key.Block != block {
			continue
		}
		for st, n := range vec {
			fr[st] += float64(n)
		}
	}

	if s := floats.Sum(fr); s > 0 {
		floats.Scale(1/s, fr)
	}
	return fr
}

// Write persists the aggregate to a gzip-compressed gob file.  A
// write-then-read round trip reproduces identical counts.
func (pc *PathCounts) Write(fname string) error {

	fid, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer fid.Close()

	gid := gzip.NewWriter(fid)
	defer gid.Close()

	enc := gob.NewEncoder(gid)
	return enc.Encode(pc)
}

// ReadPathCounts reads a path-count aggregate from a gzip-compressed
// gob file.
func ReadPathCounts(fname string) *PathCounts {

	fid, err := os.Open(fname)
	if err != nil {
		panic(err)
	}
	defer fid.Close()

	gid, err := gzip.NewReader(fid)
	if err != nil {
		panic(err)
	}
	defer gid.Close()

	dec := gob.NewDecoder(gid)

	var pc PathCounts
	if err := dec.Decode(&pc); err != nil {
		panic(err)
	}

	return &pc
}

// Sampler draws complete state paths from the posterior path
// distribution by forward filtering and backward stochastic traceback,
// and aggregates the retained draws into path counts.  Blocks are
// sampled strictly sequentially, so a fixed seed reproduces the same
// aggregate.
type Sampler struct {

	// Number of burn-in draws discarded at the start of the run
	BurnIn int

	// Number of retained draws
	NSamples int

	// Retain every SampleInterval-th draw after burn-in; 1 retains
	// every draw
	SampleInterval int

	// Seed for the random source
	Seed int64

	// Pseudo-counts added to the transition probabilities before
	// sampling, row major with NState*NState entries, or nil
	TransPriors []float64

	// Reference state per alignment column, NoState where
	// unannotated.  Columns are indexed across all blocks in order.
	RefPath []int

	// Use the reference annotation as a prior on transition counts
	RefAsPrior bool

	// Force annotated columns to their reference state.  Implies
	// RefAsPrior.
	ForcePriors bool

	// Weight of the reference-derived prior; zero selects 1
	PriorWeight float64

	// Region of interest in cross-block column coordinates; a zero
	// RegionEnd selects everything
	RegionStart int
	RegionEnd   int

	// Show a progress bar on stderr
	Progress bool

	phase Phase
	rng   *rand.Rand
}

// Phase returns the sampler's current lifecycle phase.
func (s *Sampler) Phase() Phase {
	return s.phase
}

// Decode runs the sampler over a single block and returns the
// aggregated path counts in the result.
func (s *Sampler) Decode(hmm *HMM, em *Emissions) (*Result, error) {

	pc, err := s.Run(hmm, []*Emissions{em})
	if err != nil {
		return nil, err
	}
	return &Result{Counts: pc}, nil
}

// Run samples paths over a sequence of independent alignment blocks.
// Each block must hold a position-wise emission table; block columns
// are numbered consecutively in block order for the purposes of
// RefPath and the region of interest.
func (s *Sampler) Run(hmm *HMM, blocks []*Emissions) (*PathCounts, error) {

	if err := s.validate(hmm, blocks); err != nil {
		return nil, err
	}

	ns := hmm.NState
	lt := s.logTrans(hmm)
	s.rng = rand.New(rand.NewSource(s.Seed))
	s.phase = BurnIn

	// Per-block workspace and column offsets
	offsets := make([]int, len(blocks))
	total := 0
	for b, em := range blocks {
		offsets[b] = total
		total += em.Width()
	}

	regEnd := s.RegionEnd
	if regEnd == 0 {
		regEnd = total
	}

	pc := NewPathCounts(ns)

	niter := s.BurnIn + s.NSamples*s.SampleInterval
	var bar *progressbar.ProgressBar
	if s.Progress {
		bar = progressbar.New(niter)
	}

	for iter := 0; iter < niter; iter++ {

		if iter == s.BurnIn {
			s.phase = Sampling
		}
		keep := s.phase == Sampling && (iter-s.BurnIn)%s.SampleInterval == 0

		for b, em := range blocks {

			path := s.drawPath(hmm, em, lt, offsets[b])

			if !keep {
				continue
			}

			// Restrict the signature to the region of interest
			lo := s.RegionStart - offsets[b]
			hi := regEnd - offsets[b]
			if lo < 0 {
				lo = 0
			}
			if hi > len(path) {
				hi = len(path)
			}
			if lo >= hi {
				continue
			}

			seg := path[lo:hi]
			pc.add(PathKey{Block: b, Sig: pathSig(seg)}, seg)
		}

		if keep {
			pc.NSamples++
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	s.phase = Done

	return pc, nil
}

func (s *Sampler) validate(hmm *HMM, blocks []*Emissions) error {

	if s.BurnIn < 0 {
		return &ConfigError{"negative burn-in sample count"}
	}
	if s.NSamples < 1 {
		return &ConfigError{"at least one retained sample is required"}
	}
	if s.SampleInterval < 1 {
		s.SampleInterval = 1
	}
	if s.ForcePriors {
		s.RefAsPrior = true
	}
	if s.RefAsPrior && s.RefPath == nil {
		return &ConfigError{"reference annotation required for ref-as-prior or force-priors"}
	}
	if s.TransPriors != nil && len(s.TransPriors) != hmm.NState*hmm.NState {
		return &ConfigError{fmt.Sprintf("transition prior has %d entries, want %d",
			len(s.TransPriors), hmm.NState*hmm.NState)}
	}
	if s.PriorWeight == 0 {
		s.PriorWeight = 1
	}

	for b, em := range blocks {
		if em.Mode() != PositionWise {
			return &ConfigError{fmt.Sprintf("block %d has no position-wise emission table", b)}
		}
		if em.NState != hmm.NState {
			return &ConfigError{fmt.Sprintf("block %d emission table has %d states, want %d",
				b, em.NState, hmm.NState)}
		}
	}

	return nil
}

// logTrans returns the log transition matrix with the external and
// reference-derived priors folded in.
func (s *Sampler) logTrans(hmm *HMM) []float64 {

	ns := hmm.NState
	trans := append([]float64(nil), hmm.Trans...)

	if s.TransPriors != nil {
		floats.Add(trans, s.TransPriors)
	}

	if s.RefAsPrior {
		// Transition frequencies of the annotated path, normalized
		// per row and weighted
		rc := make([]float64, ns*ns)
		for t := 0; t+1 < len(s.RefPath); t++ {
			s1, s2 := s.RefPath[t], s.RefPath[t+1]
			if s1 != NoState && s2 != NoState {
				rc[s1*ns+s2]++
			}
		}
		for st := 0; st < ns; st++ {
			row := rc[st*ns : (st+1)*ns]
			if sum := floats.Sum(row); sum > 0 {
				floats.Scale(s.PriorWeight/sum, row)
			}
		}
		floats.Add(trans, rc)
	}

	for st := 0; st < ns; st++ {
		normalizeSum(trans[st*ns:(st+1)*ns], 1/float64(ns))
	}

	lt := make([]float64, ns*ns)
	for j := range trans {
		lt[j] = math.Log(trans[j])
	}

	return lt
}

// drawPath samples one complete state path for a block by forward
// filtering followed by backward stochastic traceback.  offset is the
// cross-block column index of the block's first column, used to look up
// forced reference states.
func (s *Sampler) drawPath(hmm *HMM, em *Emissions, lt []float64, offset int) []int {

	length := em.Width()
	ns := hmm.NState

	fprob := make([]float64, length*ns)
	forward(hmm, em, lt, fprob)

	path := make([]int, length)
	wk := make([]float64, ns)

	// Final state from the filtered distribution
	copy(wk, fprob[(length-1)*ns:length*ns])
	path[length-1] = s.drawState(wk, offset+length-1)

	// Backward sweep, conditioning each draw on the state after it
	for t := length - 2; t >= 0; t-- {
		s2 := path[t+1]
		for st := 0; st < ns; st++ {
			wk[st] = fprob[t*ns+st] * math.Exp(lt[st*ns+s2])
		}
		path[t] = s.drawState(wk, offset+t)
	}

	return path
}

// drawState samples a state proportional to the weights in wk, unless
// the column is annotated and forcing is on, in which case the
// annotated state is returned.
func (s *Sampler) drawState(wk []float64, col int) int {

	if s.ForcePriors && col < len(s.RefPath) && s.RefPath[col] != NoState {
		return s.RefPath[col]
	}

	u := s.rng.Float64() * floats.Sum(wk)
	for st, w := range wk {
		u -= w
		if u < 0 {
			return st
		}
	}

	return len(wk) - 1
}

// pathSig renders a state path segment as a compact signature string.
func pathSig(seg []int) string {

	var sb strings.Builder
	for i, st := range seg {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.Itoa(st))
	}

	return sb.String()
}
