// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"

	log "github.com/sirupsen/logrus"
)

// summarize aggregates pileups and writes the variant statistics
// and k-mer tables without attempting deconvolution.
type summarize struct{}

func (cmd *summarize) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return exitCode(cmd.run(prog, args, stdin, stdout, stderr), stderr)
}

func (cmd *summarize) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "usage: %s [options] pileup.gob[.gz] ...\n", prog)
		flags.PrintDefaults()
	}
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	outputPrefix := flags.String("o", "./lorikeet", "output `prefix`")
	refFilename := flags.String("ref", "", "reference FASTA `file`")
	kmerSize := flags.Int("kmer-size", 4, "k-mer length, used in the k-mer table filename")
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

	pm := NewPopulationMatrix()
	err = loadPileups(pm, flags.Args())
	if err != nil {
		return err
	}
	if *refFilename != "" {
		refs, err := LoadReference(*refFilename)
		if err != nil {
			return err
		}
		err = applyReference(pm, refs)
		if err != nil {
			return err
		}
	}
	pm.Freeze()
	return writeTables(pm, *outputPrefix, *kmerSize)
}
