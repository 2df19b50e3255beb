// Package phmm implements a phylogenetic hidden Markov model: an HMM
// whose per-state emission probabilities are tree likelihoods of
// alignment columns.  It provides the emission table, three decoding
// strategies (Viterbi, posterior, stochastic path sampling), and the
// projection of decoded paths onto feature records.
package phmm

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"log"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
)

// Strand markers for hidden states.
const (
	Plus  byte = '+'
	Minus byte = '-'
)

// A Likelihood evaluates the log-likelihood of one alignment column
// under a substitution model.  The column holds one character per
// sequence, in alignment row order.
type Likelihood interface {
	ColumnLogLikelihood(col []byte) float64
}

// A ConfigError reports an invalid or inconsistent configuration,
// detected before any computation begins.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "phmm: " + e.Msg
}

// State describes one hidden state of the model.
type State struct {

	// State name, used in logs and summaries
	Name string

	// Category id of columns emitted by this state
	Cat int

	// Index of the substitution model used for emissions
	Model int

	// Strand, Plus unless the model has been reflected
	Strand byte
}

// HMM is a hidden Markov model over alignment columns.  Trans and Init
// hold probabilities; the decoders move to the log scale internally.
type HMM struct {

	// Number of states
	NState int

	// The transition probability matrix, row major, so
	// Trans[s1*NState+s2] is the probability of moving from s1 to s2
	Trans []float64

	// The initial state distribution
	Init []float64

	// Per-state metadata, parallel to the matrix rows
	States []State

	// Write log messages here
	msglogger *log.Logger
}

// New returns an HMM over the given states with uniform transition and
// initial distributions.
func New(states []State) *HMM {

	ns := len(states)
	hmm := &HMM{
		NState: ns,
		Trans:  make([]float64, ns*ns),
		Init:   make([]float64, ns),
		States: states,
	}

	for i := range hmm.States {
		if hmm.States[i].Strand == 0 {
			hmm.States[i].Strand = Plus
		}
	}

	for i := range hmm.Trans {
		hmm.Trans[i] = 1 / float64(ns)
	}
	for i := range hmm.Init {
		hmm.Init[i] = 1 / float64(ns)
	}

	return hmm
}

// SetLogger provides a logger that will be used to write logging
// messages.
func (hmm *HMM) SetLogger(logname string) *log.Logger {

	fid, err := os.Create(logname + "_msg.log")
	if err != nil {
		panic(err)
	}
	hmm.msglogger = log.New(fid, "", log.Ltime)

	// The calling program can also use this logger
	return hmm.msglogger
}

// Message writes a message to the message log.
func (hmm *HMM) Message(msg string) {
	if hmm.msglogger == nil {
		hmm.msglogger = log.New(os.Stderr, "", log.Ltime)
	}
	hmm.msglogger.Print(msg)
}

// Validate checks that the transition rows and the initial distribution
// are probability distributions and that state model indices are within
// range for a model set of size nmodels.
func (hmm *HMM) Validate(nmodels int) error {

	if len(hmm.Trans) != hmm.NState*hmm.NState {
		return &ConfigError{fmt.Sprintf("transition matrix has %d entries, want %d",
			len(hmm.Trans), hmm.NState*hmm.NState)}
	}
	if len(hmm.Init) != hmm.NState {
		return &ConfigError{fmt.Sprintf("initial distribution has %d entries, want %d",
			len(hmm.Init), hmm.NState)}
	}

	for st := 0; st < hmm.NState; st++ {
		row := hmm.Trans[st*hmm.NState : (st+1)*hmm.NState]
		if s := floats.Sum(row); math.Abs(s-1) > 1e-6 {
			return &ConfigError{fmt.Sprintf("transition row %d sums to %f", st, s)}
		}
		if hmm.States[st].Model < 0 || hmm.States[st].Model >= nmodels {
			return &ConfigError{fmt.Sprintf("state %d uses model %d of %d",
				st, hmm.States[st].Model, nmodels)}
		}
	}
	if s := floats.Sum(hmm.Init); math.Abs(s-1) > 1e-6 {
		return &ConfigError{fmt.Sprintf("initial distribution sums to %f", s)}
	}

	return nil
}

// Reflect doubles the model so it covers both strands.  The states
// whose indices appear in pivots (typically the background states) are
// shared between the strands; every other state gains a Minus-strand
// mirror appended after the original states.  Mirror-strand dynamics
// are the time reversal of the forward dynamics, entered and left
// through the pivot states.  Transition rows of the result remain
// probability distributions.
func (hmm *HMM) Reflect(pivots []int) *HMM {

	isPivot := make([]bool, hmm.NState)
	for _, p := range pivots {
		isPivot[p] = true
	}

	// Mirror index for each non-pivot state
	mirror := make([]int, hmm.NState)
	nm := hmm.NState
	for st := 0; st < hmm.NState; st++ {
		if isPivot[st] {
			mirror[st] = st
		} else {
			mirror[st] = nm
			nm++
		}
	}

	states := make([]State, nm)
	copy(states, hmm.States)
	for st := 0; st < hmm.NState; st++ {
		if !isPivot[st] {
			ms := hmm.States[st]
			ms.Name = ms.Name + "-"
			ms.Strand = Minus
			states[mirror[st]] = ms
		}
	}

	r := &HMM{
		NState:    nm,
		Trans:     make([]float64, nm*nm),
		Init:      make([]float64, nm),
		States:    states,
		msglogger: hmm.msglogger,
	}

	for s1 := 0; s1 < hmm.NState; s1++ {
		for s2 := 0; s2 < hmm.NState; s2++ {
			pr := hmm.Trans[s1*hmm.NState+s2]
			switch {
			case isPivot[s1] && isPivot[s2]:
				r.Trans[s1*nm+s2] = pr
			case isPivot[s1]:
				// Split the mass leaving a pivot between the strands
				r.Trans[s1*nm+s2] = pr / 2
				r.Trans[s1*nm+mirror[s2]] = pr / 2
			default:
				r.Trans[s1*nm+s2] = pr
			}
		}
	}

	// Mirror-strand rows are the time reversal of the forward rows,
	// renormalized
	for s1 := 0; s1 < hmm.NState; s1++ {
		if isPivot[s1] {
			continue
		}
		m1 := mirror[s1]
		row := r.Trans[m1*nm : (m1+1)*nm]
		for s2 := 0; s2 < hmm.NState; s2++ {
			if isPivot[s2] {
				row[s2] = hmm.Trans[s2*hmm.NState+s1]
			} else {
				row[mirror[s2]] = hmm.Trans[s2*hmm.NState+s1]
			}
		}
		normalizeSum(row, 1/float64(nm))
	}

	for st := 0; st < hmm.NState; st++ {
		if isPivot[st] {
			r.Init[st] = hmm.Init[st]
		} else {
			r.Init[st] = hmm.Init[st] / 2
			r.Init[mirror[st]] = hmm.Init[st] / 2
		}
	}

	return r
}

// AddBias tilts the model toward or away from the non-background
// states.  backgd[st] marks the background states; bias is added to the
// log-probability of every transition into a non-background state, and
// each row is then renormalized.  A bias of zero leaves the model
// unchanged.  A positive bias yields more non-background predictions.
func (hmm *HMM) AddBias(backgd []bool, bias float64) {

	w := math.Exp(bias)

	for s1 := 0; s1 < hmm.NState; s1++ {
		row := hmm.Trans[s1*hmm.NState : (s1+1)*hmm.NState]
		for s2 := range row {
			if !backgd[s2] {
				row[s2] *= w
			}
		}
		normalizeSum(row, 1/float64(hmm.NState))
	}

	for s2 := 0; s2 < hmm.NState; s2++ {
		if !backgd[s2] {
			hmm.Init[s2] *= w
		}
	}
	normalizeSum(hmm.Init, 1/float64(hmm.NState))
}

// BackgroundStates returns a mask marking the states whose category is
// in cats.
func (hmm *HMM) BackgroundStates(cats []int) []bool {

	isBack := make([]bool, hmm.NState)
	for st := 0; st < hmm.NState; st++ {
		for _, c := range cats {
			if hmm.States[st].Cat == c {
				isBack[st] = true
				break
			}
		}
	}
	return isBack
}

// Write stores the model in a gzip-compressed gob file.
func (hmm *HMM) Write(fname string) error {

	fid, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer fid.Close()

	gid := gzip.NewWriter(fid)
	defer gid.Close()

	enc := gob.NewEncoder(gid)
	return enc.Encode(hmm)
}

// ReadHMM reads a model from a gzip-compressed gob file.
func ReadHMM(fname string) *HMM {

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

	var hmm HMM
	if err := dec.Decode(&hmm); err != nil {
		panic(err)
	}

	return &hmm
}

// normalize the values in x to have a sum of 1.
func normalizeSum(x []float64, z float64) {
	scale := floats.Sum(x)
	if scale < 1e-10 {
		for j := range x {
			x[j] = z
		}
		return
	}
	floats.Scale(1/scale, x)
}

func argmax(x []float64) int {
	j := 0
	v := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > v {
			v = x[i]
			j = i
		}
	}

	return j
}

// makeFloatArray makes a collection of r slices
// of length c, packed contiguously.
func makeFloatArray(r, c int) [][]float64 {

	bka := make([]float64, r*c)
	x := make([][]float64, r)
	ii := 0
	for j := 0; j < r; j++ {
		x[j] = bka[ii : ii+c]
		ii += c
	}

	return x
}
