// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"errors"
	"fmt"
	"io"
	"os"

	"git.arvados.org/arvados.git/lib/cmd"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	handler = cmd.Multi(map[string]cmd.Handler{
		"version":   cmd.Version,
		"-version":  cmd.Version,
		"--version": cmd.Version,

		"genotype":  &genotype{},
		"summarize": &summarize{},
		"nmf":       &nmfcmd{},
		"dump":      &dumpPileup{},
	})

	// errUsage means the command line was invalid and usage has
	// already been printed.
	errUsage = errors.New("usage error")
)

func Main() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.StandardLogger().Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	os.Exit(handler.RunCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// exitCode reports err on stderr and maps it to a process exit
// code: 2 for usage and configuration errors, 1 for anything else.
func exitCode(err error, stderr io.Writer) int {
	switch {
	case err == nil:
		return 0
	case err == errUsage:
		return 2
	case errors.Is(err, errUsage),
		errors.Is(err, ErrUnsupportedCodonTable),
		errors.Is(err, ErrNoSeed),
		errors.Is(err, ErrInvalidRank):
		fmt.Fprintf(stderr, "%s\n", err)
		return 2
	default:
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
}
