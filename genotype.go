// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

type genotype struct {
	outputPrefix      string
	refFilename       string
	threads           int
	kmerSize          int
	codonTableID      int
	seed              Seed
	nmfCommand        string
	exploreIterations int
	finalIterations   int
	dendrogram        bool
	pcaComponents     int
	annotate          bool
}

func (cmd *genotype) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return exitCode(cmd.run(prog, args, stdin, stdout, stderr), stderr)
}

func (cmd *genotype) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "usage: %s [options] pileup.gob[.gz] ...\n", prog)
		flags.PrintDefaults()
	}
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	flags.StringVar(&cmd.outputPrefix, "o", "./lorikeet", "output `prefix`")
	flags.StringVar(&cmd.refFilename, "ref", "", "reference FASTA `file` supplying contig sequences (default: sequences embedded in pileup input)")
	flags.IntVar(&cmd.threads, "threads", runtime.NumCPU(), "number of concurrent workers")
	flags.IntVar(&cmd.kmerSize, "kmer-size", 4, "k-mer length, used in the k-mer table filename")
	flags.IntVar(&cmd.codonTableID, "codon-table", 11, "NCBI translation table `id` (1 or 11)")
	seedMethod := flags.String("seed", "nndsvd", "factor initialization `method` (nndsvd or none)")
	flags.StringVar(&cmd.nmfCommand, "nmf-command", "", "external factorization `command` (default: factorize in process)")
	flags.IntVar(&cmd.exploreIterations, "explore-iterations", defaultExploreIterations, "multiplicative update `iterations` per candidate rank")
	flags.IntVar(&cmd.finalIterations, "final-iterations", defaultFinalIterations, "multiplicative update `iterations` at the selected rank")
	flags.BoolVar(&cmd.dendrogram, "dendrogram", true, "refine strains with an average-linkage dendrogram")
	flags.IntVar(&cmd.pcaComponents, "pca-components", 0, "write this many principal components of variant coordinates to {prefix}_variant_pca.npy (0 = skip)")
	flags.BoolVar(&cmd.annotate, "annotate", false, "write HGVS differences of each strain to {prefix}_strain_{idx}.annotations.csv")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return errUsage
	} else if flags.NArg() == 0 {
		flags.Usage()
		return errUsage
	}

	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	// Configuration errors abort before any work starts.
	tableName, err := codonTable(cmd.codonTableID)
	if err != nil {
		return err
	}
	log.Debugf("codon table %d (%s)", cmd.codonTableID, tableName)
	cmd.seed, err = ParseSeed(*seedMethod)
	if err != nil {
		return fmt.Errorf("%w: %s", errUsage, err)
	}
	if cmd.nmfCommand == "" && cmd.seed == SeedNone {
		return ErrNoSeed
	}
	if dir := filepath.Dir(cmd.outputPrefix); dir != "." {
		err = os.MkdirAll(dir, 0777)
		if err != nil {
			return err
		}
	}

	pm := NewPopulationMatrix()
	log.Printf("reading %d pileup files", flags.NArg())
	err = loadPileups(pm, flags.Args())
	if err != nil {
		return err
	}
	if cmd.refFilename != "" {
		refs, err := LoadReference(cmd.refFilename)
		if err != nil {
			return err
		}
		err = applyReference(pm, refs)
		if err != nil {
			return err
		}
	}
	pm.Freeze()
	log.WithFields(log.Fields{
		"samples": len(pm.Samples()),
		"contigs": len(pm.Contigs()),
	}).Info("aggregated pileups")

	err = writeTables(pm, cmd.outputPrefix, cmd.kmerSize)
	if err != nil {
		return err
	}

	fs, err := GenerateFeatures(pm, cmd.threads)
	if errors.Is(err, ErrNoHeterogeneity) {
		log.Info("no heterogeneity")
		return nil
	} else if err != nil {
		return err
	}

	if cmd.pcaComponents > 0 {
		err = variantPCA(fs, cmd.pcaComponents, cmd.outputPrefix+"_variant_pca.npy")
		if err != nil {
			return err
		}
	}

	ctx := context.Background()
	factorizer, cleanup, err := cmd.factorizer(fs)
	if err != nil {
		return err
	}
	defer cleanup()

	rank, err := SearchRank(ctx, factorizer, fs.Len(), cmd.threads)
	if err != nil {
		return err
	}
	preds, err := FinalAssignment(ctx, factorizer, rank, fs.Len())
	if err != nil {
		return err
	}
	err = writePredictions(preds, cmd.outputPrefix+"_predictions.npy")
	if err != nil {
		return err
	}

	assignment, err := Assign(fs, preds)
	if err != nil {
		return err
	}
	for _, cs := range assignment.Summary() {
		log.WithFields(log.Fields{
			"cluster":   cs.Cluster,
			"variants":  cs.Count,
			"posterior": cs.GeoMeanPosterior,
			"weight":    cs.WeightSum,
		}).Info("cluster summary")
	}
	log.Infof("%d variants in ambiguous bucket (posterior < %.3f)", assignment.Ambiguous.Size, assignment.Threshold)

	if cmd.dendrogram {
		dg, err := AverageLinkage(fs.CondensedDistances(cmd.threads), fs.Len())
		if err != nil {
			return err
		}
		err = assignment.Refine(dg, fs)
		if err != nil {
			return err
		}
	}

	sw := &strainWriter{
		prefix:      cmd.outputPrefix,
		annotate:    cmd.annotate,
		threads:     cmd.threads,
		diffTimeout: time.Minute,
	}
	fnms, err := sw.WriteStrains(pm, assignment)
	if err != nil {
		return err
	}
	for _, fnm := range fnms {
		fmt.Fprintln(stdout, fnm)
	}
	return nil
}

// factorizer returns the configured Factorizer and a function that
// removes any temporary files it needed.
func (cmd *genotype) factorizer(fs *FeatureSet) (Factorizer, func(), error) {
	dist := fs.CondensedDistances(cmd.threads)
	cons := fs.Constraints(cmd.threads)
	if cmd.nmfCommand == "" {
		nf, err := newNMFFactorizer(dist, cons, cmd.seed, cmd.exploreIterations, cmd.finalIterations, cmd.threads)
		return nf, func() {}, err
	}
	tmpdir, err := ioutil.TempDir("", "lorikeet-nmf-")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { os.RemoveAll(tmpdir) }
	distPath, consPath, err := fs.WriteArtifacts(tmpdir, cmd.threads)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return &execFactorizer{
		command:   strings.Fields(cmd.nmfCommand),
		distPath:  distPath,
		consPath:  consPath,
		variants:  fs.Len(),
		samples:   fs.Samples,
		threads:   cmd.threads,
		taskLimit: len(candidateRanks(fs.Len())),
	}, cleanup, nil
}

// writeTables writes the variant statistics and k-mer tables.
func writeTables(pm *PopulationMatrix, prefix string, kmerSize int) error {
	for _, out := range []struct {
		fnm   string
		write func(io.Writer, *PopulationMatrix) error
	}{
		{prefix + ".tsv", WriteVariantStats},
		{fmt.Sprintf("%s_%dmer_counts.tsv", prefix, kmerSize), WriteKmers},
	} {
		f, err := os.Create(out.fnm)
		if err != nil {
			return err
		}
		err = out.write(f, pm)
		if err != nil {
			f.Close()
			return fmt.Errorf("%s: %w", out.fnm, err)
		}
		err = f.Close()
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{"filename": out.fnm}).Info("wrote table")
	}
	return nil
}

func writePredictions(preds []Prediction, fnm string) error {
	out := make([]float64, 0, len(preds)*3)
	for _, p := range preds {
		out = append(out, float64(p.Cluster), p.Posterior, p.Weight)
	}
	return writeNumpyFloat64(fnm, out, len(preds), 3)
}
