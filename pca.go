// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"fmt"

	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// variantPCA projects every variant's log-ratio coordinates onto
// the leading principal components and writes the n x components
// result to fnm.
func variantPCA(fs *FeatureSet, components int, fnm string) error {
	z := fs.coordinates()
	rows, cols := len(z), fs.Samples
	if components > cols {
		components = cols
	}
	if components > rows {
		components = rows
	}
	if components < 1 {
		return fmt.Errorf("cannot compute %d principal components of %dx%d matrix", components, rows, cols)
	}
	data := make([]float64, 0, rows*cols)
	for _, row := range z {
		data = append(data, row...)
	}
	mtx := mat.NewDense(rows, cols, data)

	log.Printf("fitting PCA: %d variants, %d samples, %d components", rows, cols, components)
	transformer := nlp.NewPCA(components)
	transformer.Fit(mtx.T())
	pcs, err := transformer.Transform(mtx.T())
	if err != nil {
		return err
	}
	pcs = pcs.T()

	rows, cols = pcs.Dims()
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = pcs.At(i, j)
		}
	}
	return writeNumpyFloat64(fnm, out, rows, cols)
}
