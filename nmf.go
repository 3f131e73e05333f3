// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"context"
	"fmt"
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	defaultExploreIterations = 10
	defaultFinalIterations   = 30

	// guards multiplicative updates against division by zero
	nmfEpsilon = 1e-12
)

// Factorizer factorizes the variant similarity structure at a given
// rank. Explore returns a residual used to compare ranks; Final
// returns one (cluster, posterior, weight) row per variant, in
// feature order.
type Factorizer interface {
	Explore(ctx context.Context, rank int) (float64, error)
	Final(ctx context.Context, rank int) (*mat.Dense, error)
}

// nmfFactorizer runs multiplicative-update NMF in process on a
// similarity matrix derived from condensed distances and
// constraints.
type nmfFactorizer struct {
	sim               *mat.Dense
	seed              Seed
	exploreIterations int
	finalIterations   int
	threads           int
}

func newNMFFactorizer(dist, cons []float64, seed Seed, exploreIterations, finalIterations, threads int) (*nmfFactorizer, error) {
	sim, err := similarity(dist, cons)
	if err != nil {
		return nil, err
	}
	return &nmfFactorizer{
		sim:               sim,
		seed:              seed,
		exploreIterations: exploreIterations,
		finalIterations:   finalIterations,
		threads:           threads,
	}, nil
}

func (nf *nmfFactorizer) Explore(ctx context.Context, rank int) (float64, error) {
	w, h, err := factorize(ctx, nf.sim, rank, nf.seed, nf.exploreIterations, nf.threads)
	if err != nil {
		return 0, err
	}
	res := residual(nf.sim, w, h)
	log.WithFields(log.Fields{"rank": rank, "residual": res}).Debug("explored rank")
	return res, nil
}

func (nf *nmfFactorizer) Final(ctx context.Context, rank int) (*mat.Dense, error) {
	w, h, err := factorize(ctx, nf.sim, rank, nf.seed, nf.finalIterations, nf.threads)
	if err != nil {
		return nil, err
	}
	return predictions(w, h), nil
}

// condensedSize returns n such that a condensed array of length m
// describes an n x n symmetric matrix.
func condensedSize(m int) (int, error) {
	n := int(math.Round((1 + math.Sqrt(1+8*float64(m))) / 2))
	if n*(n-1)/2 != m {
		return 0, fmt.Errorf("condensed array length %d does not describe a square matrix", m)
	}
	return n, nil
}

// similarity converts condensed distances to a dense similarity
// matrix exp(-d/median(d)). Linked pairs gain their Jaccard weight;
// pairs that cannot share a strain are zeroed.
func similarity(dist, cons []float64) (*mat.Dense, error) {
	if len(cons) != len(dist) {
		return nil, fmt.Errorf("distance/constraint length mismatch: %d != %d", len(dist), len(cons))
	}
	n, err := condensedSize(len(dist))
	if err != nil {
		return nil, err
	}
	scale := median(dist)
	if scale <= 0 {
		scale = 1
	}
	sim := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		sim.Set(i, i, 1)
		for j := i + 1; j < n; j++ {
			idx := condensedIndex(n, i, j)
			x := math.Exp(-dist[idx] / scale)
			switch {
			case cons[idx] < 0:
				x = 0
			case cons[idx] > 0:
				x += cons[idx]
			}
			sim.Set(i, j, x)
			sim.Set(j, i, x)
		}
	}
	return sim, nil
}

func median(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// factorize runs Lee & Seung multiplicative updates for the
// Frobenius loss, starting from seeded factors.
func factorize(ctx context.Context, v *mat.Dense, rank int, seed Seed, iterations, threads int) (*mat.Dense, *mat.Dense, error) {
	w, h, err := seed.Initialize(v, rank, threads)
	if err != nil {
		return nil, nil, err
	}
	rows, cols := v.Dims()
	var num, den, gram mat.Dense
	for iter := 0; iter < iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		// H <- H .* (W'V) ./ (W'WH)
		num.Mul(w.T(), v)
		gram.Mul(w.T(), w)
		den.Mul(&gram, h)
		for r := 0; r < rank; r++ {
			for c := 0; c < cols; c++ {
				h.Set(r, c, h.At(r, c)*num.At(r, c)/(den.At(r, c)+nmfEpsilon))
			}
		}
		// W <- W .* (VH') ./ (WHH')
		num.Reset()
		den.Reset()
		gram.Reset()
		num.Mul(v, h.T())
		gram.Mul(h, h.T())
		den.Mul(w, &gram)
		for r := 0; r < rows; r++ {
			for c := 0; c < rank; c++ {
				w.Set(r, c, w.At(r, c)*num.At(r, c)/(den.At(r, c)+nmfEpsilon))
			}
		}
		num.Reset()
		den.Reset()
		gram.Reset()
	}
	return w, h, nil
}

// residual returns the Frobenius norm of v - wh.
func residual(v, w, h *mat.Dense) float64 {
	var wh mat.Dense
	wh.Mul(w, h)
	wh.Sub(v, &wh)
	return mat.Norm(&wh, 2)
}

// predictions returns an n x 3 matrix with one (cluster, posterior,
// weight) row per variant. The cluster is the component with the
// largest loading in W, the posterior is that loading's share of the
// row, and the weight is the variant's loading in H for that
// component.
func predictions(w, h *mat.Dense) *mat.Dense {
	rows, rank := w.Dims()
	out := mat.NewDense(rows, 3, nil)
	row := make([]float64, rank)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, w)
		total := floats.Sum(row)
		if total <= 0 {
			out.Set(i, 0, 0)
			out.Set(i, 1, 1/float64(rank))
			out.Set(i, 2, h.At(0, i))
			continue
		}
		c := floats.MaxIdx(row)
		out.Set(i, 0, float64(c))
		out.Set(i, 1, row[c]/total)
		out.Set(i, 2, h.At(c, i))
	}
	return out
}
