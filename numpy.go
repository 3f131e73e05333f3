// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// writeNumpyFloat64 writes a float64 array with the given shape to
// fnm in .npy format.
func writeNumpyFloat64(fnm string, out []float64, shape ...int) error {
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriterSize(output, 1<<22)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return fmt.Errorf("gonpy.NewWriter: %w", err)
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"shape":    shape,
		"bytes":    len(out) * 8,
	}).Debugf("writing numpy: %s", fnm)
	npw.Shape = shape
	err = npw.WriteFloat64(out)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}

// readNumpyFloat64 returns the data and shape of a float64 .npy
// file.
func readNumpyFloat64(fnm string) ([]float64, []int, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	npr, err := gonpy.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", fnm, err)
	}
	data, err := npr.GetFloat64()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return data, npr.Shape, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
