package treelik

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

const nbase = 4

// TreeModel is an F81 substitution model over the DNA alphabet attached
// to a rooted tree.  Likelihoods are computed by Felsenstein pruning.
type TreeModel struct {

	// Root of the phylogenetic tree
	Tree *Node

	// Equilibrium base frequencies, indexed per DNA
	Freqs [nbase]float64

	// Leaf name to column index in the alignment
	leafCol map[string]int

	// F81 normalization constant
	beta float64

	inv [256]int8
}

// DNA is the alphabet ordering used for frequency and partial vectors.
const DNA = "ACGT"

// NewTreeModel builds a model from a newick string and equilibrium
// frequencies.  A nil freqs selects the uniform distribution.
func NewTreeModel(newick string, freqs []float64) (*TreeModel, error) {

	tree, err := ParseNewick(newick)
	if err != nil {
		return nil, err
	}

	tm := &TreeModel{Tree: tree}

	if freqs == nil {
		for i := range tm.Freqs {
			tm.Freqs[i] = 1.0 / nbase
		}
	} else {
		if len(freqs) != nbase {
			return nil, fmt.Errorf("treelik: expected %d frequencies, got %d", nbase, len(freqs))
		}
		copy(tm.Freqs[:], freqs)
	}

	var fs float64
	for _, f := range tm.Freqs {
		if f <= 0 {
			return nil, fmt.Errorf("treelik: equilibrium frequencies must be positive")
		}
		fs += f
	}
	if math.Abs(fs-1) > 1e-6 {
		return nil, fmt.Errorf("treelik: equilibrium frequencies sum to %f", fs)
	}

	var ss float64
	for _, f := range tm.Freqs {
		ss += f * f
	}
	tm.beta = 1 / (1 - ss)

	for i := range tm.inv {
		tm.inv[i] = -1
	}
	for i := 0; i < nbase; i++ {
		tm.inv[DNA[i]] = int8(i)
		tm.inv[DNA[i]+'a'-'A'] = int8(i)
	}

	tm.leafCol = make(map[string]int)
	for i, name := range tree.Leaves(nil) {
		tm.leafCol[name] = i
	}

	return tm, nil
}

// NLeaves returns the number of leaves in the tree.
func (tm *TreeModel) NLeaves() int {
	return len(tm.leafCol)
}

// SetLeafOrder assigns each tree leaf the index of its sequence in
// names, so that columns passed to ColumnLogLikelihood follow the
// alignment's row order.  Every leaf must appear in names.
func (tm *TreeModel) SetLeafOrder(names []string) error {
	pos := make(map[string]int, len(names))
	for i, name := range names {
		pos[name] = i
	}
	for _, name := range tm.Tree.Leaves(nil) {
		j, ok := pos[name]
		if !ok {
			return fmt.Errorf("treelik: tree leaf %s not found among sequence names", name)
		}
		tm.leafCol[name] = j
	}
	return nil
}

// Prune removes every leaf whose name is not in keep, collapsing
// single-child internal nodes and merging their branch lengths.  It
// returns the removed leaf names, or an error if no leaf would remain.
func (tm *TreeModel) Prune(keep []string) ([]string, error) {

	ks := make(map[string]bool, len(keep))
	for _, name := range keep {
		ks[name] = true
	}

	var removed []string
	root := pruneNode(tm.Tree, ks, &removed)
	if root == nil {
		return nil, fmt.Errorf("treelik: no tree leaf matches a kept sequence name")
	}

	tm.Tree = root
	old := tm.leafCol
	tm.leafCol = make(map[string]int)
	for _, name := range root.Leaves(nil) {
		tm.leafCol[name] = old[name]
	}

	return removed, nil
}

func pruneNode(n *Node, keep map[string]bool, removed *[]string) *Node {

	if n.IsLeaf() {
		if keep[n.Name] {
			return n
		}
		*removed = append(*removed, n.Name)
		return nil
	}

	var kept []*Node
	for _, c := range n.Children {
		if c2 := pruneNode(c, keep, removed); c2 != nil {
			kept = append(kept, c2)
		}
	}

	switch len(kept) {
	case 0:
		return nil
	case 1:
		kept[0].Length += n.Length
		return kept[0]
	default:
		n.Children = kept
		return n
	}
}

// ColumnLogLikelihood returns the log-likelihood of one alignment
// column under the model.  col is indexed by sequence row; gap and
// missing characters contribute no information.
func (tm *TreeModel) ColumnLogLikelihood(col []byte) float64 {

	var logScale float64
	partial := tm.prune(tm.Tree, col, &logScale)

	var lk float64
	for i := 0; i < nbase; i++ {
		lk += tm.Freqs[i] * partial[i]
	}
	if lk == 0 {
		return math.Inf(-1)
	}

	return math.Log(lk) + logScale
}

// prune computes the conditional likelihood vector of the subtree at n,
// rescaling to avoid underflow and accumulating the log of the factors
// in logScale.
func (tm *TreeModel) prune(n *Node, col []byte, logScale *float64) [nbase]float64 {

	var partial [nbase]float64

	if n.IsLeaf() {
		j, ok := tm.leafCol[n.Name]
		var b int8 = -1
		if ok && j < len(col) {
			b = tm.inv[col[j]]
		}
		if b < 0 {
			for i := range partial {
				partial[i] = 1
			}
		} else {
			partial[b] = 1
		}
		return partial
	}

	for i := range partial {
		partial[i] = 1
	}

	for _, c := range n.Children {
		cp := tm.prune(c, col, logScale)

		// F81 transition: P(i->j, t) = e*I(i==j) + (1-e)*pi_j
		e := math.Exp(-tm.beta * c.Length)
		var dot float64
		for j := 0; j < nbase; j++ {
			dot += tm.Freqs[j] * cp[j]
		}
		for i := 0; i < nbase; i++ {
			partial[i] *= e*cp[i] + (1-e)*dot
		}
	}

	mx := partial[0]
	for _, v := range partial[1:] {
		if v > mx {
			mx = v
		}
	}
	if mx > 0 && mx < 1e-150 {
		for i := range partial {
			partial[i] /= mx
		}
		*logScale += math.Log(mx)
	}

	return partial
}

// A ModelConstraintError reports a substitution model the likelihood
// engine does not support.
type ModelConstraintError struct {
	Mod string
}

func (e *ModelConstraintError) Error() string {
	return "treelik: unsupported substitution model " + e.Mod
}

// Read parses a tree model file.  The format is line oriented:
//
//	SUBST_MOD: F81
//	BACKGROUND: 0.3 0.2 0.2 0.3
//	TREE: ((human:0.1,chimp:0.1):0.2,mouse:0.4);
//
// The SUBST_MOD and BACKGROUND lines are optional; the model defaults
// to F81 with uniform frequencies.  Naming any other substitution model
// is a ModelConstraintError.  Lines with unrecognized keys are ignored
// so that richer model files remain readable.
func Read(r io.Reader) (*TreeModel, error) {

	var freqs []float64
	var newick string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		k := strings.IndexByte(line, ':')
		if k < 0 {
			continue
		}
		key := strings.TrimSpace(line[:k])
		val := strings.TrimSpace(line[k+1:])
		switch key {
		case "BACKGROUND":
			for _, tok := range strings.Fields(val) {
				f, err := strconv.ParseFloat(tok, 64)
				if err != nil {
					return nil, fmt.Errorf("treelik: bad frequency %q", tok)
				}
				freqs = append(freqs, f)
			}
		case "SUBST_MOD":
			if val != "F81" {
				return nil, &ModelConstraintError{Mod: val}
			}
		case "TREE":
			newick = val
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if newick == "" {
		return nil, fmt.Errorf("treelik: model file has no TREE line")
	}

	return NewTreeModel(newick, freqs)
}
