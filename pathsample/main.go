// Pathsample draws state paths from the posterior path distribution of
// a phylo-HMM and aggregates them into path counts.  The aggregate can
// be checkpointed to disk and reloaded, so long runs can be split
// across invocations; a reference annotation can serve as a prior on
// transitions or as a hard constraint.  Predicted features are written
// as GFF to stdout.
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

// refStatePath translates a reference annotation into a per-column
// state path: each labeled column maps to the first state of its
// category, unlabeled columns to NoState.
func refStatePath(aln *msa.Alignment, hmm *phmm.HMM, cm *catmap.CategoryMap, feats []*gff.Feature) []int {

	if err := cm.Label(aln, feats); err != nil {
		fatal(err.Error())
	}

	byCat := make(map[int]int)
	for st := 0; st < hmm.NState; st++ {
		if _, ok := byCat[hmm.States[st].Cat]; !ok {
			byCat[hmm.States[st].Cat] = st
		}
	}

	path := make([]int, aln.Length)
	for col, cat := range aln.Categories {
		if st, ok := byCat[cat]; ok {
			path[col] = st
		} else {
			path[col] = phmm.NoState
		}
	}

	return path
}

func main() {

	fastafile := flag.String("fasta", "", "FASTA alignment file")
	hmmfile := flag.String("hmm", "", "Phylo-HMM gob file")
	modfiles := flag.String("mods", "", "Comma-separated tree model files")
	cmfile := flag.String("catmap", "", "Category map file")
	nsamples := flag.Int("nsamples", 100, "Number of retained draws")
	bsamples := flag.Int("bsamples", 100, "Number of burn-in draws")
	interval := flag.Int("sample-interval", 1, "Retain every n-th draw after burn-in")
	seed := flag.Int64("seed", 1, "Random seed")
	blocksize := flag.Int("blocksize", 0, "Columns per independent block; 0 treats the alignment as one block")
	refgff := flag.String("refgff", "", "Reference annotation in GFF format")
	refAsPrior := flag.Bool("ref-as-prior", false, "Use the reference annotation as a prior on transition counts")
	forcePriors := flag.Bool("force-priors", false, "Force annotated columns to their reference state; implies ref-as-prior")
	hashIn := flag.String("precomputed-hash", "", "Reload this path-count file and skip sampling")
	hashOut := flag.String("hash-out", "", "Write the path-count aggregate to this file")
	threshold := flag.Float64("threshold", 0.5, "Minimum occupancy fraction for a predicted feature")
	tupleSize := flag.Int("tuple-size", 1, "Column context width")
	seqname := flag.String("seqname", "MSA", "Value of the GFF seqname field")
	source := flag.String("source", "phylohmm", "Value of the GFF source field")
	logname := flag.String("logname", "pathsample", "Prefix of log file")
	quiet := flag.Bool("quiet", false, "Suppress the progress bar")
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

	// Independent alignment blocks, consecutive and non-overlapping
	bs := *blocksize
	if bs <= 0 || bs > aln.Length {
		bs = aln.Length
	}
	var spans []phmm.BlockSpan
	for start := 0; start < aln.Length; start += bs {
		end := start + bs
		if end > aln.Length {
			end = aln.Length
		}
		spans = append(spans, phmm.BlockSpan{Start: start, End: end})
	}

	pj := &phmm.Projector{
		CM:      cm,
		Aln:     aln,
		SeqName: *seqname,
		Source:  *source,
	}

	var pc *phmm.PathCounts
	if *hashIn != "" {
		// Precomputed aggregate, no sampling
		pc = phmm.ReadPathCounts(*hashIn)
		logger.Printf("reloaded %d samples over %d paths", pc.NSamples, len(pc.Counts))
	} else {
		pc = sample(aln, hmm, cm, models, spans, &samplerConfig{
			nsamples:    *nsamples,
			bsamples:    *bsamples,
			interval:    *interval,
			seed:        *seed,
			refgff:      *refgff,
			refAsPrior:  *refAsPrior,
			forcePriors: *forcePriors,
			tupleSize:   *tupleSize,
			progress:    !*quiet,
		})
		logger.Printf("%d samples over %d distinct paths", pc.NSamples, len(pc.Counts))
	}

	if *hashOut != "" {
		if err := pc.Write(*hashOut); err != nil {
			fatal(err.Error())
		}
		logger.Printf("wrote path counts to %s", *hashOut)
	}

	feats := pj.FeaturesFromCounts(pc, spans, hmm, *threshold)

	w := gff.NewWriter(os.Stdout, 60, true)
	for _, f := range feats {
		if _, err := w.Write(f); err != nil {
			fatal(err.Error())
		}
	}
}

type samplerConfig struct {
	nsamples    int
	bsamples    int
	interval    int
	seed        int64
	refgff      string
	refAsPrior  bool
	forcePriors bool
	tupleSize   int
	progress    bool
}

func sample(aln *msa.Alignment, hmm *phmm.HMM, cm *catmap.CategoryMap,
	models []phmm.Likelihood, spans []phmm.BlockSpan, cfg *samplerConfig) *phmm.PathCounts {

	s := &phmm.Sampler{
		BurnIn:         cfg.bsamples,
		NSamples:       cfg.nsamples,
		SampleInterval: cfg.interval,
		Seed:           cfg.seed,
		RefAsPrior:     cfg.refAsPrior,
		ForcePriors:    cfg.forcePriors,
		Progress:       cfg.progress,
	}

	if cfg.refgff != "" {
		s.RefPath = refStatePath(aln, hmm, cm, readFeatures(cfg.refgff))
	} else if cfg.refAsPrior || cfg.forcePriors {
		fatal("'refgff' is required with ref-as-prior or force-priors")
	}

	var blocks []*phmm.Emissions
	for _, span := range spans {
		sub, err := aln.SubAlignment(span.Start, span.End)
		if err != nil {
			fatal(err.Error())
		}
		ts, err := msa.Build(sub, cfg.tupleSize, true)
		if err != nil {
			fatal(err.Error())
		}

		em := new(phmm.Emissions)
		if err := em.ComputeTupleWise(hmm, models, ts); err != nil {
			fatal(err.Error())
		}
		if err := em.MaterializePositionWise(ts); err != nil {
			fatal(err.Error())
		}
		blocks = append(blocks, em)
	}

	pc, err := s.Run(hmm, blocks)
	if err != nil {
		fatal(err.Error())
	}
	if s.Phase() != phmm.Done {
		fatal(fmt.Sprintf("sampler stopped in phase %d", s.Phase()))
	}

	return pc
}
