// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// ErrExternalProcess is returned when an external factorization
// command exits nonzero.
var ErrExternalProcess = errors.New("external factorization process failed")

// execFactorizer delegates factorization to an external command
// invoked as
//
//	command... rank True|False distances.npy constraints.npy samples threads
//
// In exploratory mode (True) the command prints a residual to
// stdout. In final mode (False) it writes an n x 3 prediction matrix
// to {distances}.npy.
type execFactorizer struct {
	command   []string
	distPath  string
	consPath  string
	variants  int
	samples   int
	threads   int
	taskLimit int
}

func (ef *execFactorizer) run(ctx context.Context, rank int, explore bool, threads int) ([]byte, error) {
	if len(ef.command) == 0 {
		return nil, fmt.Errorf("%w: no command configured", ErrExternalProcess)
	}
	mode := "False"
	if explore {
		mode = "True"
	}
	args := append(append([]string(nil), ef.command[1:]...),
		strconv.Itoa(rank),
		mode,
		ef.distPath,
		ef.consPath,
		strconv.Itoa(ef.samples),
		strconv.Itoa(threads))
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ef.command[0], args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.WithFields(log.Fields{
		"command": strings.Join(cmd.Args, " "),
	}).Info("running external factorization")
	err := cmd.Run()
	if err != nil {
		log.WithFields(log.Fields{
			"rank":   rank,
			"stderr": stderr.String(),
		}).Error("external factorization failed")
		return nil, fmt.Errorf("%w: rank %d: %v", ErrExternalProcess, rank, err)
	}
	return stdout.Bytes(), nil
}

func (ef *execFactorizer) Explore(ctx context.Context, rank int) (float64, error) {
	threads := ef.threads
	if ef.taskLimit > 1 {
		threads = ef.threads / ef.taskLimit
	}
	if threads < 1 {
		threads = 1
	}
	out, err := ef.run(ctx, rank, true, threads)
	if err != nil {
		return 0, err
	}
	return parseResidual(out), nil
}

// parseResidual parses the residual printed by an exploratory run.
// Output that is not a number counts as a residual of 0.
func parseResidual(out []byte) float64 {
	res, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		log.Debugf("unable to parse residual %q: %s", out, err)
		return 0
	}
	return res
}

func (ef *execFactorizer) Final(ctx context.Context, rank int) (*mat.Dense, error) {
	_, err := ef.run(ctx, rank, false, ef.threads)
	if err != nil {
		return nil, err
	}
	data, shape, err := readNumpyFloat64(ef.distPath + ".npy")
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 || shape[0] != ef.variants || shape[1] != 3 {
		return nil, fmt.Errorf("%w: predictions have shape %v, expected [%d 3]", ErrExternalProcess, shape, ef.variants)
	}
	return mat.NewDense(shape[0], shape[1], data), nil
}

// nmfcmd implements the external factorization contract in process,
// so "lorikeet nmf" can serve as -nmf-command.
type nmfcmd struct{}

func (cmd *nmfcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return exitCode(cmd.run(prog, args, stdin, stdout, stderr), stderr)
}

func (cmd *nmfcmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "usage: %s [options] rank True|False distances.npy constraints.npy samples threads\n", prog)
		flags.PrintDefaults()
	}
	exploreIterations := flags.Int("explore-iterations", defaultExploreIterations, "multiplicative update `iterations` in exploratory mode")
	finalIterations := flags.Int("final-iterations", defaultFinalIterations, "multiplicative update `iterations` in final mode")
	seedMethod := flags.String("seed", "nndsvd", "factor initialization `method` (nndsvd or none)")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return errUsage
	} else if flags.NArg() != 6 {
		flags.Usage()
		return errUsage
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	seed, err := ParseSeed(*seedMethod)
	if err != nil {
		return err
	}

	rank, err := strconv.Atoi(flags.Arg(0))
	if err != nil {
		return fmt.Errorf("rank %q: %w", flags.Arg(0), err)
	}
	explore, err := strconv.ParseBool(flags.Arg(1))
	if err != nil {
		return fmt.Errorf("mode %q: %w", flags.Arg(1), err)
	}
	distPath, consPath := flags.Arg(2), flags.Arg(3)
	threads, err := strconv.Atoi(flags.Arg(5))
	if err != nil {
		return fmt.Errorf("threads %q: %w", flags.Arg(5), err)
	}

	dist, _, err := readNumpyFloat64(distPath)
	if err != nil {
		return err
	}
	cons, _, err := readNumpyFloat64(consPath)
	if err != nil {
		return err
	}
	nf, err := newNMFFactorizer(dist, cons, seed, *exploreIterations, *finalIterations, threads)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if explore {
		res, err := nf.Explore(ctx, rank)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%g\n", res)
		return nil
	}
	preds, err := nf.Final(ctx, rank)
	if err != nil {
		return err
	}
	rows, cols := preds.Dims()
	return writeNumpyFloat64(distPath+".npy", preds.RawMatrix().Data, rows, cols)
}
