package phmm

import (
	"fmt"

	"github.com/kshedden/phylohmm/msa"
)

// EmissionMode identifies which emission table is materialized.
type EmissionMode uint8

// NoEmissions, TupleWise, PositionWise are the emission table modes.
const (
	NoEmissions EmissionMode = iota
	TupleWise
	PositionWise
)

// Emissions holds per-state log emission probabilities, either per
// distinct tuple or per alignment position.  The two shapes are held in
// separately owned buffers and exactly one is live at a time; switching
// modes releases the other buffer, bounding peak memory to one
// nstates x max(ntuples, length) table.
type Emissions struct {

	// Number of states
	NState int

	mode EmissionMode

	// Log emission probability per (state, tuple)
	tupleEmit [][]float64

	// Log emission probability per (state, position)
	posEmit [][]float64
}

// Mode returns the live emission table mode.
func (em *Emissions) Mode() EmissionMode {
	return em.mode
}

// Width returns the column count of the live table: the number of
// tuples in TupleWise mode, the alignment length in PositionWise mode.
func (em *Emissions) Width() int {
	switch em.mode {
	case TupleWise:
		return len(em.tupleEmit[0])
	case PositionWise:
		return len(em.posEmit[0])
	default:
		return 0
	}
}

// TupleLogProb returns the log emission probability of tuple t in
// state st.
func (em *Emissions) TupleLogProb(st, t int) float64 {
	return em.tupleEmit[st][t]
}

// LogProb returns the log emission probability of alignment column col
// in state st.
func (em *Emissions) LogProb(st, col int) float64 {
	return em.posEmit[st][col]
}

// ComputeTupleWise fills the tuple-wise emission table by evaluating
// each state's substitution model once per distinct tuple.  The cost is
// O(nstates x ntuples), independent of the alignment length.  States
// sharing a model share the computed row.  Any position-wise table is
// released.
func (em *Emissions) ComputeTupleWise(hmm *HMM, models []Likelihood, ts *msa.TupleStore) error {

	if err := hmm.Validate(len(models)); err != nil {
		return err
	}

	em.NState = hmm.NState
	em.posEmit = nil
	em.tupleEmit = makeFloatArray(hmm.NState, ts.NTuples())
	em.mode = TupleWise

	// One row per distinct model, shared across states
	byModel := make(map[int][]float64)
	col := make([]byte, ts.NSeqs)

	for st := 0; st < hmm.NState; st++ {
		mi := hmm.States[st].Model
		row, ok := byModel[mi]
		if !ok {
			row = make([]float64, ts.NTuples())
			for t := 0; t < ts.NTuples(); t++ {
				row[t] = models[mi].ColumnLogLikelihood(ts.Column(t, col))
			}
			byModel[mi] = row
		}
		copy(em.tupleEmit[st], row)
	}

	return nil
}

// MaterializePositionWise expands the tuple-wise table through the
// column-to-tuple index into a position-indexed table, for decoders
// that need left-to-right random access.  The tuple-wise table is
// released.  ErrUnorderedAlignment is returned if the store was built
// without the index.
func (em *Emissions) MaterializePositionWise(ts *msa.TupleStore) error {

	if em.mode != TupleWise {
		return fmt.Errorf("phmm: no tuple-wise emission table to expand")
	}
	if !ts.Ordered() {
		return msa.ErrUnorderedAlignment
	}

	length := len(ts.TupleIdx)
	em.posEmit = makeFloatArray(em.NState, length)

	for st := 0; st < em.NState; st++ {
		src := em.tupleEmit[st]
		dst := em.posEmit[st]
		for col, t := range ts.TupleIdx {
			dst[col] = src[t]
		}
	}

	em.tupleEmit = nil
	em.mode = PositionWise

	return nil
}

// AdjustMissingData overrides the emissions at columns where every
// sequence other than ref holds missing data or gaps, replacing them
// with the likelihood of the reference character alone.  Each (model,
// reference character) likelihood is computed once.  The table must be
// position-wise.
func (em *Emissions) AdjustMissingData(hmm *HMM, models []Likelihood, aln *msa.Alignment, ref int) error {

	if em.mode != PositionWise {
		return fmt.Errorf("phmm: missing-data adjustment requires a position-wise table")
	}

	// Reference-only column template: every other row is missing
	col := make([]byte, aln.NSeqs())
	for s := range col {
		col[s] = msa.DefaultMissing[0]
	}

	type key struct {
		model int
		c     byte
	}
	cache := make(map[key]float64)

	for j := 0; j < aln.Length; j++ {
		if !aln.MissingCol(ref, j) {
			continue
		}
		c := aln.Seqs[ref][j]
		for st := 0; st < hmm.NState; st++ {
			mi := hmm.States[st].Model
			k := key{mi, c}
			lp, ok := cache[k]
			if !ok {
				col[ref] = c
				lp = models[mi].ColumnLogLikelihood(col)
				cache[k] = lp
			}
			em.posEmit[st][j] = lp
		}
	}

	return nil
}

// ApplyIndelModel composes an indel log-probability table with the live
// emission table by addition on the log scale.  The indel table must
// have one row per state and the width of the live table.
func (em *Emissions) ApplyIndelModel(indel [][]float64) error {

	if em.mode == NoEmissions {
		return fmt.Errorf("phmm: no emission table to adjust")
	}
	if len(indel) != em.NState {
		return fmt.Errorf("phmm: indel table has %d rows, want %d", len(indel), em.NState)
	}

	tab := em.posEmit
	if em.mode == TupleWise {
		tab = em.tupleEmit
	}

	for st := 0; st < em.NState; st++ {
		if len(indel[st]) != len(tab[st]) {
			return fmt.Errorf("phmm: indel row %d has %d entries, want %d",
				st, len(indel[st]), len(tab[st]))
		}
		for j := range tab[st] {
			tab[st][j] += indel[st][j]
		}
	}

	return nil
}
