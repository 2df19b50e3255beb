// Sitescore computes per-site or per-feature conservation scores from
// the posterior state distribution of a phylo-HMM.  Output is wig-style
// text (base-by-base mode) or GFF with scores (feature mode), written
// to stdout.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/biogo/biogo/io/featio/gff"

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

func readFeatures(fname string) []*gff.Feature {

	fid, err := os.Open(fname)
	if err != nil {
		fatal(err.Error())
	}
	defer fid.Close()

	r := gff.NewReader(fid)
	var feats []*gff.Feature
	for {
		f, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			fatal(err.Error())
		}
		feats = append(feats, f.(*gff.Feature))
	}

	return feats
}

// parseScores returns the per-state score values.  An empty argument scores
// each state by its index.
func parseScores(arg string, ns int) []float64 {

	score := make([]float64, ns)
	if arg == "" {
		for i := range score {
			score[i] = float64(i)
		}
		return score
	}

	fields := strings.Split(arg, ",")
	if len(fields) != ns {
		fatal(fmt.Sprintf("%d state scores given for %d states", len(fields), ns))
	}
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			fatal(err.Error())
		}
		score[i] = v
	}

	return score
}

func main() {

	fastafile := flag.String("fasta", "", "FASTA alignment file")
	hmmfile := flag.String("hmm", "", "Phylo-HMM gob file")
	modfiles := flag.String("mods", "", "Comma-separated tree model files")
	refseq := flag.String("refseq", "", "Reference sequence for output coordinates")
	featfile := flag.String("features", "", "Score these GFF features instead of every base")
	scores := flag.String("state-scores", "", "Comma-separated per-state score values")
	nullMean := flag.Float64("null-mean", 0, "Mean of the null score distribution")
	nullSD := flag.Float64("null-sd", 1, "Standard deviation of the null score distribution")
	notInf := flag.String("not-informative", "", "Comma-separated sequences to mask out of the analysis")
	tupleSize := flag.Int("tuple-size", 1, "Column context width")
	offset := flag.Int("offset", 0, "Offset added to output coordinates")
	chrom := flag.String("chrom", "chr", "Chromosome name for wig output")
	logname := flag.String("logname", "sitescore", "Prefix of log file")
	flag.Parse()

	if *fastafile == "" || *hmmfile == "" || *modfiles == "" {
		fatal("'fasta', 'hmm', and 'mods' are required arguments")
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

	if *notInf != "" {
		aln.SetInformative(strings.Split(*notInf, ","))
		aln.MaskUninformative()
		logger.Printf("%d informative columns after masking", aln.NInformativeCols(-1))
	}

	var models []phmm.Likelihood
	for _, fname := range strings.Split(*modfiles, ",") {
		mf, err := os.Open(fname)
		if err != nil {
			fatal(err.Error())
		}
		tm, err := treelik.Read(mf)
		mf.Close()
		if err != nil {
			fatal(err.Error())
		}
		if _, err := tm.Prune(aln.Names); err != nil {
			fatal(err.Error())
		}
		if err := tm.SetLeafOrder(aln.Names); err != nil {
			fatal(err.Error())
		}
		models = append(models, tm)
	}

	ts, err := msa.Build(aln, *tupleSize, true)
	if err != nil {
		fatal(err.Error())
	}

	var em phmm.Emissions
	if err := em.ComputeTupleWise(hmm, models, ts); err != nil {
		fatal(err.Error())
	}
	if err := em.MaterializePositionWise(ts); err != nil {
		fatal(err.Error())
	}

	var dec phmm.Decoder = &phmm.Posterior{}
	res, err := dec.Decode(hmm, &em)
	if err != nil {
		fatal(err.Error())
	}
	logger.Printf("total log-likelihood: %f", res.LogLike)

	score := parseScores(*scores, hmm.NState)
	mean, _ := res.Moments(score)
	pv := phmm.PValues(mean, *nullMean, *nullSD)

	refFrame := 0
	var cmap *msa.CoordMap
	if *refseq != "" {
		ri := aln.SeqIndex(*refseq)
		if ri < 0 {
			fatal(fmt.Sprintf("no sequence named %s", *refseq))
		}
		refFrame = ri + 1
		cmap, err = msa.BuildCoordMap(aln, ri)
		if err != nil {
			fatal(err.Error())
		}
	}

	if *featfile != "" {
		writeFeatureScores(aln, refFrame, *offset, *featfile, mean, pv)
		return
	}

	writeWig(cmap, aln.Length, *chrom, *offset, pv)
}

// writeWig writes -log10 p-values base by base.  With a coordinate map
// the values are reported per ungapped reference position; otherwise
// per alignment column.
func writeWig(cmap *msa.CoordMap, length int, chrom string, offset int, pv []float64) {

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	// wig positions are 1-based
	fmt.Fprintf(w, "fixedStep chrom=%s start=%d step=1\n", chrom, offset+1)

	if cmap == nil {
		for col := 0; col < length; col++ {
			fmt.Fprintf(w, "%.4f\n", neglog10(pv[col]))
		}
		return
	}

	for pos := 0; pos < cmap.SeqLen; pos++ {
		col, ok := cmap.SeqToAlignment(pos)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%.4f\n", neglog10(pv[col]))
	}
}

// writeFeatureScores assigns each feature the mean posterior score and
// the -log10 p-value of its span, and writes the features as GFF.
func writeFeatureScores(aln *msa.Alignment, refFrame, offset int, featfile string, mean, pv []float64) {

	feats := readFeatures(featfile)

	// Translate into alignment coordinates for scoring
	feats, err := aln.RemapFeatures(feats, refFrame, 0, 0, logger)
	if err != nil {
		fatal(err.Error())
	}

	for _, f := range feats {
		var p float64
		n := 0
		for col := f.FeatStart; col < f.FeatEnd && col < len(mean); col++ {
			p += neglog10(pv[col])
			n++
		}
		if n > 0 {
			sc := p / float64(n)
			f.FeatScore = &sc
		}
	}

	// And back into the reference frame for output
	feats, err = aln.RemapFeatures(feats, 0, refFrame, offset, logger)
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

func neglog10(p float64) float64 {
	if p <= 0 {
		return 300
	}
	v := -math.Log10(p)
	if v > 300 {
		v = 300
	}
	return v
}
