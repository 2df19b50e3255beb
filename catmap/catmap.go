// Package catmap maps feature types onto hidden-state category ids and
// labels alignment columns from feature records.  A feature type may
// occupy a range of consecutive ids (a cyclic category such as codon
// position), which is cycled across the feature span.
package catmap

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/biogo/biogo/io/featio/gff"
	"github.com/biogo/biogo/seq"

	"github.com/kshedden/phylohmm/msa"
)

// BackgroundCat is the id of the background category.  Columns covered
// by no feature keep this label.
const BackgroundCat = 0

// Range is a block of consecutive category ids assigned to one feature
// type.  End > Start marks a cyclic category.
type Range struct {
	Start int
	End   int
}

// Size returns the number of ids in the range.
func (r Range) Size() int {
	return r.End - r.Start + 1
}

// CategoryMap relates feature type names to category id ranges.  Lower
// precedence values win when features overlap.
type CategoryMap struct {

	// Total number of categories, including background
	NCats int

	// Category id to name
	names []string

	// Feature type name to id range
	ranges map[string]Range

	// Labelling precedence per category id
	precedence []int
}

// New returns a category map with ncats categories and only the
// background type defined.  Precedence defaults to the category id.
func New(ncats int) *CategoryMap {
	cm := &CategoryMap{
		NCats:      ncats,
		names:      make([]string, ncats),
		ranges:     make(map[string]Range),
		precedence: make([]int, ncats),
	}
	cm.names[BackgroundCat] = "background"
	cm.ranges["background"] = Range{BackgroundCat, BackgroundCat}
	for i := range cm.precedence {
		cm.precedence[i] = i
	}
	return cm
}

// AddType defines a feature type occupying category ids start..end
// inclusive with the given labelling precedence.
func (cm *CategoryMap) AddType(name string, start, end, prec int) error {
	if start < 1 || end >= cm.NCats || end < start {
		return fmt.Errorf("catmap: id range %d-%d out of bounds for %s", start, end, name)
	}
	cm.ranges[name] = Range{start, end}
	for i := start; i <= end; i++ {
		cm.names[i] = name
		cm.precedence[i] = prec
	}
	return nil
}

// CategoryRange returns the id range for a feature type.
func (cm *CategoryMap) CategoryRange(typ string) (Range, bool) {
	r, ok := cm.ranges[typ]
	return r, ok
}

// BaseCategory returns the first id of the type's range.
func (cm *CategoryMap) BaseCategory(typ string) (int, bool) {
	r, ok := cm.ranges[typ]
	return r.Start, ok
}

// Name returns the feature type owning category id.
func (cm *CategoryMap) Name(id int) string {
	if id < 0 || id >= cm.NCats {
		return ""
	}
	return cm.names[id]
}

// Precedence returns the labelling precedence of a category id.
func (cm *CategoryMap) Precedence(id int) int {
	return cm.precedence[id]
}

// IsCyclic reports whether the type's range spans more than one id.
func (cm *CategoryMap) IsCyclic(typ string) bool {
	r, ok := cm.ranges[typ]
	return ok && r.Size() > 1
}

// Label assigns a category id to every alignment column covered by a
// feature, in the alignment coordinate frame.  Overlaps are resolved by
// precedence, with lower values winning.  Cyclic ranges are cycled
// across the feature span, starting at the feature's frame offset; on
// the minus strand the cycle runs from the feature's end.  Features of
// unknown type are skipped.
func (cm *CategoryMap) Label(aln *msa.Alignment, feats []*gff.Feature) error {

	cats := make([]int, aln.Length)
	prec := make([]int, aln.Length)
	for i := range prec {
		prec[i] = cm.precedence[BackgroundCat]
	}

	for _, f := range feats {
		r, ok := cm.ranges[f.Feature]
		if !ok {
			continue
		}
		if f.FeatStart < 0 || f.FeatEnd > aln.Length {
			return fmt.Errorf("catmap: feature %s [%d, %d) outside alignment of length %d",
				f.Feature, f.FeatStart, f.FeatEnd, aln.Length)
		}

		frame := 0
		if f.FeatFrame != gff.NoFrame {
			frame = int(f.FeatFrame)
		}
		n := r.Size()

		for j := f.FeatStart; j < f.FeatEnd; j++ {
			var cyc int
			if f.FeatStrand == seq.Minus {
				cyc = (f.FeatEnd - 1 - j + frame) % n
			} else {
				cyc = (j - f.FeatStart + frame) % n
			}
			cat := r.Start + cyc
			if cats[j] == BackgroundCat || cm.precedence[cat] < prec[j] {
				cats[j] = cat
				prec[j] = cm.precedence[cat]
			}
		}
	}

	aln.Categories = cats
	aln.NCats = cm.NCats
	return nil
}

// Read parses a category map in text form.  The first non-comment line
// is "NCATS = n"; each following line defines one feature type as
// "name id" or "name id-id", with an optional trailing precedence
// value.  Lines starting with '#' are ignored.
func Read(r io.Reader) (*CategoryMap, error) {

	scanner := bufio.NewScanner(r)
	var cm *CategoryMap
	lineno := 0

	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}

		if cm == nil {
			fields := strings.Fields(line)
			if len(fields) != 3 || fields[0] != "NCATS" || fields[1] != "=" {
				return nil, fmt.Errorf("catmap: line %d: expected 'NCATS = n'", lineno)
			}
			n, err := strconv.Atoi(fields[2])
			if err != nil || n < 1 {
				return nil, fmt.Errorf("catmap: line %d: bad category count", lineno)
			}
			// ids run 0..n, with 0 reserved for background
			cm = New(n + 1)
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("catmap: line %d: expected 'name id[-id] [precedence]'", lineno)
		}
		name := fields[0]

		var start, end int
		if k := strings.IndexByte(fields[1], '-'); k >= 0 {
			var err1, err2 error
			start, err1 = strconv.Atoi(fields[1][:k])
			end, err2 = strconv.Atoi(fields[1][k+1:])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("catmap: line %d: bad id range %q", lineno, fields[1])
			}
		} else {
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("catmap: line %d: bad id %q", lineno, fields[1])
			}
			start, end = n, n
		}

		prec := start
		if len(fields) > 2 {
			var err error
			prec, err = strconv.Atoi(fields[2])
			if err != nil {
				return nil, fmt.Errorf("catmap: line %d: bad precedence %q", lineno, fields[2])
			}
		}

		if err := cm.AddType(name, start, end, prec); err != nil {
			return nil, fmt.Errorf("catmap: line %d: %v", lineno, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if cm == nil {
		return nil, fmt.Errorf("catmap: empty category map")
	}

	return cm, nil
}
