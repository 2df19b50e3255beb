package catmap

import (
	"strings"
	"testing"

	"github.com/biogo/biogo/io/featio/gff"
	"github.com/biogo/biogo/seq"

	"github.com/kshedden/phylohmm/msa"
)

const cmtext = `# test category map
NCATS = 4
CDS 1-3
5'splice 4 0
`

func TestRead(t *testing.T) {

	cm, err := Read(strings.NewReader(cmtext))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if cm.NCats != 5 {
		t.Fatalf("NCats = %d, want 5", cm.NCats)
	}

	r, ok := cm.CategoryRange("CDS")
	if !ok || r.Start != 1 || r.End != 3 {
		t.Errorf("CDS range %+v", r)
	}
	if !cm.IsCyclic("CDS") {
		t.Error("CDS should be cyclic")
	}
	if cm.IsCyclic("5'splice") {
		t.Error("5'splice should not be cyclic")
	}
	if cm.Name(2) != "CDS" {
		t.Errorf("Name(2) = %q", cm.Name(2))
	}
	if cm.Precedence(4) != 0 {
		t.Errorf("Precedence(4) = %d, want 0", cm.Precedence(4))
	}
	if id, ok := cm.BaseCategory("background"); !ok || id != BackgroundCat {
		t.Errorf("background base category %d", id)
	}
}

func mkaln(t *testing.T, length int) *msa.Alignment {
	row := make([]byte, length)
	for i := range row {
		row[i] = 'A'
	}
	aln, err := msa.New([]string{"s1"}, [][]byte{row}, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return aln
}

func TestLabelCyclic(t *testing.T) {

	cm, err := Read(strings.NewReader(cmtext))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	aln := mkaln(t, 10)
	feats := []*gff.Feature{
		{Feature: "CDS", FeatStart: 2, FeatEnd: 8, FeatStrand: seq.Plus, FeatFrame: gff.NoFrame},
	}

	if err := cm.Label(aln, feats); err != nil {
		t.Fatalf("Label: %v", err)
	}

	want := []int{0, 0, 1, 2, 3, 1, 2, 3, 0, 0}
	for i, w := range want {
		if aln.Categories[i] != w {
			t.Errorf("column %d: category %d, want %d", i, aln.Categories[i], w)
		}
	}
}

func TestLabelCyclicMinus(t *testing.T) {

	cm, err := Read(strings.NewReader(cmtext))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	aln := mkaln(t, 6)
	feats := []*gff.Feature{
		{Feature: "CDS", FeatStart: 0, FeatEnd: 6, FeatStrand: seq.Minus, FeatFrame: gff.NoFrame},
	}

	if err := cm.Label(aln, feats); err != nil {
		t.Fatalf("Label: %v", err)
	}

	// On the minus strand the cycle runs from the feature's end
	want := []int{3, 2, 1, 3, 2, 1}
	for i, w := range want {
		if aln.Categories[i] != w {
			t.Errorf("column %d: category %d, want %d", i, aln.Categories[i], w)
		}
	}
}

func TestLabelPrecedence(t *testing.T) {

	cm, err := Read(strings.NewReader(cmtext))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	aln := mkaln(t, 6)

	// The splice site has precedence 0 and wins over the overlapping CDS
	feats := []*gff.Feature{
		{Feature: "CDS", FeatStart: 0, FeatEnd: 6, FeatStrand: seq.Plus, FeatFrame: gff.NoFrame},
		{Feature: "5'splice", FeatStart: 2, FeatEnd: 4, FeatStrand: seq.Plus, FeatFrame: gff.NoFrame},
	}

	if err := cm.Label(aln, feats); err != nil {
		t.Fatalf("Label: %v", err)
	}

	want := []int{1, 2, 4, 4, 2, 3}
	for i, w := range want {
		if aln.Categories[i] != w {
			t.Errorf("column %d: category %d, want %d", i, aln.Categories[i], w)
		}
	}
}

func TestLabelUnknownType(t *testing.T) {

	cm, err := Read(strings.NewReader(cmtext))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	aln := mkaln(t, 4)
	feats := []*gff.Feature{
		{Feature: "enhancer", FeatStart: 0, FeatEnd: 4, FeatStrand: seq.Plus, FeatFrame: gff.NoFrame},
	}

	if err := cm.Label(aln, feats); err != nil {
		t.Fatalf("Label: %v", err)
	}
	for i, c := range aln.Categories {
		if c != BackgroundCat {
			t.Errorf("column %d: category %d, want background", i, c)
		}
	}
}
