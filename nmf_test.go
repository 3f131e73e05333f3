// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type nmfSuite struct{}

var _ = check.Suite(&nmfSuite{})

func (s *nmfSuite) TestCondensedSize(c *check.C) {
	for m, n := range map[int]int{0: 1, 1: 2, 3: 3, 6: 4, 45: 10} {
		got, err := condensedSize(m)
		c.Check(err, check.IsNil)
		c.Check(got, check.Equals, n)
	}
	_, err := condensedSize(4)
	c.Check(err, check.NotNil)
}

func (s *nmfSuite) TestSimilarity(c *check.C) {
	sim, err := similarity([]float64{1, 2, 3}, []float64{-1, 0.5, 0})
	c.Assert(err, check.IsNil)
	r, cols := sim.Dims()
	c.Check(r, check.Equals, 3)
	c.Check(cols, check.Equals, 3)
	for i := 0; i < 3; i++ {
		c.Check(sim.At(i, i), check.Equals, 1.0)
	}
	c.Check(sim.At(0, 1), check.Equals, 0.0)
	c.Check(sim.At(0, 2), check.Equals, math.Exp(-1)+0.5)
	c.Check(sim.At(2, 0), check.Equals, sim.At(0, 2))
	c.Check(sim.At(1, 2), check.Equals, math.Exp(-1.5))

	_, err = similarity([]float64{1, 2, 3}, []float64{0})
	c.Check(err, check.ErrorMatches, `distance/constraint length mismatch.*`)
}

func (s *nmfSuite) TestMedian(c *check.C) {
	c.Check(median(nil), check.Equals, 0.0)
	c.Check(median([]float64{3, 1, 2}), check.Equals, 2.0)
	c.Check(median([]float64{4, 1, 2, 3}), check.Equals, 2.5)
}

func (s *nmfSuite) TestPredictions(c *check.C) {
	w := mat.NewDense(3, 2, []float64{
		1, 3,
		0, 0,
		2, 2,
	})
	h := mat.NewDense(2, 3, []float64{
		0.1, 0.2, 0.3,
		0.4, 0.5, 0.6,
	})
	p := predictions(w, h)
	c.Check(mat.Row(nil, 0, p), check.DeepEquals, []float64{1, 0.75, 0.4})
	// all-zero row: first cluster, uniform posterior
	c.Check(mat.Row(nil, 1, p), check.DeepEquals, []float64{0, 0.5, 0.2})
	// ties go to the first cluster
	c.Check(mat.Row(nil, 2, p), check.DeepEquals, []float64{0, 0.5, 0.3})
}

func (s *nmfSuite) TestResidualDecreases(c *check.C) {
	sim, err := similarity([]float64{0.1, 3, 2.5, 2.8, 3.1, 0.2}, []float64{0, 0, 0, 0, 0, 0})
	c.Assert(err, check.IsNil)
	ctx := context.Background()
	w0, h0, err := factorize(ctx, sim, 2, SeedNNDSVD, 0, 1)
	c.Assert(err, check.IsNil)
	w1, h1, err := factorize(ctx, sim, 2, SeedNNDSVD, 50, 1)
	c.Assert(err, check.IsNil)
	c.Check(residual(sim, w1, h1) <= residual(sim, w0, h0)+1e-9, check.Equals, true)
}

func (s *nmfSuite) TestFactorizerSeparatesGroups(c *check.C) {
	// variants {0,1} and {2,3} are close to each other and can
	// never share a strain with the other pair
	dist := []float64{0.1, 3, 2.5, 2.8, 3.1, 0.2}
	cons := []float64{0, -1, -1, -1, -1, 0}
	nf, err := newNMFFactorizer(dist, cons, SeedNNDSVD, 10, 50, 2)
	c.Assert(err, check.IsNil)
	ctx := context.Background()
	res, err := nf.Explore(ctx, 2)
	c.Check(err, check.IsNil)
	c.Check(res >= 0, check.Equals, true)
	p, err := nf.Final(ctx, 2)
	c.Assert(err, check.IsNil)
	r, cols := p.Dims()
	c.Check(r, check.Equals, 4)
	c.Check(cols, check.Equals, 3)
	c.Check(p.At(0, 0), check.Equals, p.At(1, 0))
	c.Check(p.At(2, 0), check.Equals, p.At(3, 0))
	c.Check(p.At(0, 0), check.Not(check.Equals), p.At(2, 0))
	for i := 0; i < 4; i++ {
		c.Check(p.At(i, 1) >= 0.5, check.Equals, true)
	}
}

func (s *nmfSuite) TestCanceled(c *check.C) {
	sim, err := similarity([]float64{1, 2, 3}, []float64{0, 0, 0})
	c.Assert(err, check.IsNil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = factorize(ctx, sim, 2, SeedNNDSVD, 5, 1)
	c.Check(err, check.Equals, context.Canceled)
}
