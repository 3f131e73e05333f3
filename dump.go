// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
)

// dumpPileup prints a one-line description of every record in a
// pileup stream.
type dumpPileup struct{}

func (cmd *dumpPileup) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return exitCode(cmd.run(prog, args, stdin, stdout, stderr), stderr)
}

func (cmd *dumpPileup) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "input `file`")
	outputFilename := flags.String("o", "-", "output `file`")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return errUsage
	}

	var input io.ReadCloser
	if *inputFilename == "-" {
		input = io.NopCloser(stdin)
	} else {
		input, err = zopen(*inputFilename)
		if err != nil {
			return err
		}
	}
	defer input.Close()

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		defer output.Close()
	}
	bufw := bufio.NewWriterSize(output, 1<<20)

	var n, nStats, nKmers, nVariants int
	err = DecodePileup(input, false, func(ent *PileupEntry) error {
		n++
		for _, st := range ent.Stats {
			nStats++
			nVariants += len(st.Variants)
			fmt.Fprintf(bufw, "ent %d: sample %q, contig %d %q, len %d, coverage %.3f, variance %.3f, variant positions %d, SNP positions %d, indel positions %d, len(seq) %d\n",
				n, ent.Sample, st.Contig, st.ContigName, st.ContigLen, st.Coverage, st.Variance, len(st.Variants), len(st.SNPs), len(st.Indels), len(st.Sequence))
		}
		for _, k := range ent.Kmers {
			nKmers++
			fmt.Fprintf(bufw, "ent %d: sample %q, contig %d, distinct k-mers %d\n", n, ent.Sample, k.Contig, len(k.Counts))
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(bufw, "total: ents %d, contig stats %d, k-mer tables %d, variant positions %d\n", n, nStats, nKmers, nVariants)
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}
