// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoSeed      = errors.New("factorization requires a seed method, but seeding is disabled")
	ErrInvalidRank = errors.New("invalid factorization rank")
)

// Seed selects how initial NMF factors are produced.
type Seed int

const (
	SeedNone Seed = iota
	SeedNNDSVD
)

// seedEpsilon is the threshold below which seeded entries are
// clamped to zero.
var seedEpsilon = math.Pow(math.E, -11)

// ParseSeed converts a -seed flag value to a Seed.
func ParseSeed(s string) (Seed, error) {
	switch s {
	case "nndsvd":
		return SeedNNDSVD, nil
	case "none":
		return SeedNone, nil
	default:
		return SeedNone, fmt.Errorf("unknown seed method %q (expected nndsvd or none)", s)
	}
}

func (s Seed) String() string {
	switch s {
	case SeedNNDSVD:
		return "nndsvd"
	case SeedNone:
		return "none"
	default:
		return fmt.Sprintf("Seed(%d)", int(s))
	}
}

// Initialize returns nonnegative factors W (rows x rank) and H (rank
// x cols) approximating v.
//
// Components after the first are computed concurrently. Each task
// owns one column of W and one row of H.
func (s Seed) Initialize(v mat.Matrix, rank, threads int) (*mat.Dense, *mat.Dense, error) {
	if s != SeedNNDSVD {
		return nil, nil, ErrNoSeed
	}
	rows, cols := v.Dims()
	if rank <= 0 || rank > rows || rank > cols {
		return nil, nil, fmt.Errorf("%w: %d (matrix is %dx%d)", ErrInvalidRank, rank, rows, cols)
	}

	var svd mat.SVD
	if ok := svd.Factorize(v, mat.SVDThin); !ok {
		return nil, nil, errors.New("SVD factorization failed")
	}
	values := svd.Values(nil)
	var u, vt mat.Dense
	svd.UTo(&u)
	svd.VTo(&vt)

	wcols := make([][]float64, rank)
	hrows := make([][]float64, rank)
	for i := range wcols {
		wcols[i] = make([]float64, rows)
		hrows[i] = make([]float64, cols)
	}

	lead := math.Sqrt(values[0])
	for r := 0; r < rows; r++ {
		wcols[0][r] = lead * math.Abs(u.At(r, 0))
	}
	for c := 0; c < cols; c++ {
		hrows[0][c] = lead * math.Abs(vt.At(c, 0))
	}

	thr := throttle{Max: threads}
	for i := 1; i < rank; i++ {
		i := i
		thr.Go(func() error {
			seedComponent(values[i], mat.Col(nil, i, &u), mat.Col(nil, i, &vt), wcols[i], hrows[i])
			return nil
		})
	}
	if err := thr.Wait(); err != nil {
		return nil, nil, err
	}

	w := mat.NewDense(rows, rank, nil)
	h := mat.NewDense(rank, cols, nil)
	for i := 0; i < rank; i++ {
		clampSmall(wcols[i])
		clampSmall(hrows[i])
		w.SetCol(i, wcols[i])
		h.SetRow(i, hrows[i])
	}
	return w, h, nil
}

// seedComponent fills wcol and hrow from one singular triplet,
// keeping whichever sign pairing carries more energy.
func seedComponent(sigma float64, ucol, vcol, wcol, hrow []float64) {
	upos, uneg := splitSigns(ucol)
	vpos, vneg := splitSigns(vcol)
	uposNorm, unegNorm := floats.Norm(upos, 2), floats.Norm(uneg, 2)
	vposNorm, vnegNorm := floats.Norm(vpos, 2), floats.Norm(vneg, 2)
	termPos := uposNorm * vposNorm
	termNeg := unegNorm * vnegNorm

	upart, vpart, unorm, vnorm, term := upos, vpos, uposNorm, vposNorm, termPos
	if termPos < termNeg {
		upart, vpart, unorm, vnorm, term = uneg, vneg, unegNorm, vnegNorm, termNeg
	}
	scale := math.Sqrt(sigma * term)
	if unorm > 0 {
		for r, x := range upart {
			wcol[r] = scale * x / unorm
		}
	}
	if vnorm > 0 {
		for c, x := range vpart {
			hrow[c] = scale * x / vnorm
		}
	}
}

// splitSigns returns the positive part of x and the negated negative
// part of x.
func splitSigns(x []float64) (pos, neg []float64) {
	pos = make([]float64, len(x))
	neg = make([]float64, len(x))
	for i, v := range x {
		if v >= 0 {
			pos[i] = v
		} else {
			neg[i] = -v
		}
	}
	return
}

func clampSmall(x []float64) {
	for i, v := range x {
		if v < seedEpsilon {
			x[i] = 0
		}
	}
}
