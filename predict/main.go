// Predict conserved exons in a multiple alignment.  Reads a FASTA
// alignment, a phylo-HMM, substitution model files, and a category map,
// runs Viterbi decoding, and writes the predicted features as GFF to
// stdout in the coordinates of a chosen reference sequence.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/biogo/biogo/io/featio/gff"

	"github.com/kshedden/phylohmm/catmap"
	"github.com/kshedden/phylohmm/msa"
	"github.com/kshedden/phylohmm/phmm"
	"github.com/kshedden/phylohmm/treelik"
)

var (
	logger *log.Logger
)

func fatal(msg string) {
	_, _ = io.WriteString(os.Stderr, msg+"\n")
	os.Exit(1)
}

// loadModels reads one tree model per file name, prunes each to the
// alignment's sequences, and aligns leaf order with alignment rows.
func loadModels(fnames []string, aln *msa.Alignment) []phmm.Likelihood {

	models := make([]phmm.Likelihood, len(fnames))
	for i, fname := range fnames {
		fid, err := os.Open(fname)
		if err != nil {
			fatal(err.Error())
		}
		tm, err := treelik.Read(fid)
		fid.Close()
		if err != nil {
			fatal(err.Error())
		}

		removed, err := tm.Prune(aln.Names)
		if err != nil {
			fatal(err.Error())
		}
		if len(removed) > 0 {
			logger.Printf("model %s: pruned %s", fname, strings.Join(removed, ", "))
		}
		if err := tm.SetLeafOrder(aln.Names); err != nil {
			fatal(err.Error())
		}

		models[i] = tm
	}

	return models
}

func main() {

	fastafile := flag.String("fasta", "", "FASTA alignment file")
	hmmfile := flag.String("hmm", "", "Phylo-HMM gob file")
	modfiles := flag.String("mods", "", "Comma-separated tree model files")
	cmfile := flag.String("catmap", "", "Category map file")
	refseq := flag.String("refseq", "", "Reference sequence for output coordinates")
	reflect := flag.Bool("reflect-strand", false, "Reflect the HMM to cover both strands")
	bias := flag.Float64("bias", 0, "Coding bias added to log transition probabilities into non-background states")
	score := flag.Bool("score", false, "Report log-odds scores for predictions")
	scoreTypes := flag.String("score-types", "CDS", "Comma-separated feature types to score")
	tupleSize := flag.Int("tuple-size", 1, "Column context width")
	offset := flag.Int("offset", 0, "Offset added to output coordinates")
	seqname := flag.String("seqname", "MSA", "Value of the GFF seqname field")
	source := flag.String("source", "phylohmm", "Value of the GFF source field")
	logname := flag.String("logname", "predict", "Prefix of log file")
	flag.Parse()

	if *fastafile == "" || *hmmfile == "" || *modfiles == "" || *cmfile == "" {
		fatal("'fasta', 'hmm', 'mods', and 'catmap' are required arguments")
	}

	fid, err := os.Open(*fastafile)
	if err != nil {
		fatal(err.Error())
	}
	aln, err := msa.ReadFasta(fid, nil)
	fid.Close()
	if err != nil {
		fatal(err.Error())
	}

	hmm := phmm.ReadHMM(*hmmfile)
	logger = hmm.SetLogger(*logname)
	logger.Printf("%d sequences, %d columns", aln.NSeqs(), aln.Length)

	fid, err = os.Open(*cmfile)
	if err != nil {
		fatal(err.Error())
	}
	cm, err := catmap.Read(fid)
	fid.Close()
	if err != nil {
		fatal(err.Error())
	}

	models := loadModels(strings.Split(*modfiles, ","), aln)

	backgd := hmm.BackgroundStates([]int{catmap.BackgroundCat})

	if *reflect {
		var pivots []int
		for st, b := range backgd {
			if b {
				pivots = append(pivots, st)
			}
		}
		hmm = hmm.Reflect(pivots)
		backgd = hmm.BackgroundStates([]int{catmap.BackgroundCat})
		logger.Printf("reflected to %d states", hmm.NState)
	}

	if *bias != 0 {
		hmm.AddBias(backgd, *bias)
		logger.Printf("applied bias %f", *bias)
	}

	ts, err := msa.Build(aln, *tupleSize, true)
	if err != nil {
		fatal(err.Error())
	}
	logger.Printf("%d distinct tuples", ts.NTuples())

	var em phmm.Emissions
	if err := em.ComputeTupleWise(hmm, models, ts); err != nil {
		fatal(err.Error())
	}
	if err := em.MaterializePositionWise(ts); err != nil {
		fatal(err.Error())
	}

	refFrame := 0
	if *refseq != "" {
		ri := aln.SeqIndex(*refseq)
		if ri < 0 {
			fatal(fmt.Sprintf("no sequence named %s", *refseq))
		}
		refFrame = ri + 1
		if err := em.AdjustMissingData(hmm, models, aln, ri); err != nil {
			fatal(err.Error())
		}
	}

	var dec phmm.Decoder = &phmm.Viterbi{}
	res, err := dec.Decode(hmm, &em)
	if err != nil {
		fatal(err.Error())
	}
	logger.Printf("best path log-probability: %f", res.PathLogProb)

	pj := &phmm.Projector{
		CM:       cm,
		Aln:      aln,
		RefFrame: refFrame,
		Offset:   *offset,
		SeqName:  *seqname,
		Source:   *source,
	}

	feats := pj.PathToFeatures(hmm, res.Path)
	logger.Printf("%d features predicted", len(feats))

	if *score {
		pj.ScorePredictions(feats, hmm, &em, strings.Split(*scoreTypes, ","),
			[]int{catmap.BackgroundCat})
	}

	feats, err = pj.Remap(feats, logger)
	if err != nil {
		fatal(err.Error())
	}

	w := gff.NewWriter(os.Stdout, 60, true)
	for _, f := range feats {
		if _, err := w.Write(f); err != nil {
			fatal(err.Error())
		}
	}
}
