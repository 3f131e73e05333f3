// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"context"
	"errors"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type ranksSuite struct{}

var _ = check.Suite(&ranksSuite{})

// fakeFactorizer returns canned residuals and predictions.
type fakeFactorizer struct {
	residuals map[int]float64
	final     *mat.Dense
	err       error

	mtx      sync.Mutex
	explored []int
}

func (f *fakeFactorizer) Explore(ctx context.Context, rank int) (float64, error) {
	f.mtx.Lock()
	f.explored = append(f.explored, rank)
	f.mtx.Unlock()
	return f.residuals[rank], f.err
}

func (f *fakeFactorizer) Final(ctx context.Context, rank int) (*mat.Dense, error) {
	return f.final, f.err
}

func (s *ranksSuite) TestCandidateRanks(c *check.C) {
	c.Check(candidateRanks(0), check.HasLen, 0)
	c.Check(candidateRanks(2), check.DeepEquals, []int{2})
	c.Check(candidateRanks(4), check.DeepEquals, []int{4})
	c.Check(candidateRanks(6), check.DeepEquals, []int{4, 5, 6})
	ranks := candidateRanks(1000)
	c.Check(ranks, check.HasLen, 22)
	c.Check(ranks[0], check.Equals, 4)
	c.Check(ranks[21], check.Equals, 25)
}

func (s *ranksSuite) TestSelectRankFirstLocalMinimum(c *check.C) {
	ranks := []int{4, 5, 6, 7, 8}
	c.Check(selectRank(ranks, []float64{10, 8, 9, 1, 0}), check.Equals, 5)
	c.Check(selectRank(ranks, []float64{10, 9, 8, 7, 6}), check.Equals, 8)
	c.Check(selectRank(ranks, []float64{1, 2, 0, 0, 0}), check.Equals, 4)
	// equal residuals keep moving forward
	c.Check(selectRank(ranks, []float64{3, 3, 3, 4, 0}), check.Equals, 6)
}

func (s *ranksSuite) TestSearchRank(c *check.C) {
	f := &fakeFactorizer{residuals: map[int]float64{4: 5, 5: 4, 6: 4.5, 7: 1}}
	rank, err := SearchRank(context.Background(), f, 7, 2)
	c.Check(err, check.IsNil)
	c.Check(rank, check.Equals, 5)
	c.Check(len(f.explored) >= 3, check.Equals, true)

	_, err = SearchRank(context.Background(), f, 0, 2)
	c.Check(errors.Is(err, ErrInvalidRank), check.Equals, true)

	f.err = ErrExternalProcess
	_, err = SearchRank(context.Background(), f, 7, 2)
	c.Check(err, check.Equals, ErrExternalProcess)
}

// With one worker, ranks past the first increase are never scheduled.
func (s *ranksSuite) TestSearchRankWithholdsRanks(c *check.C) {
	f := &fakeFactorizer{residuals: map[int]float64{4: 5, 5: 4, 6: 4.5, 7: 1, 8: 0}}
	rank, err := SearchRank(context.Background(), f, 8, 1)
	c.Check(err, check.IsNil)
	c.Check(rank, check.Equals, 5)
	c.Check(f.explored, check.DeepEquals, []int{4, 5, 6})

	// decreasing residuals: every rank is explored
	f = &fakeFactorizer{residuals: map[int]float64{4: 5, 5: 4, 6: 3, 7: 3, 8: 2}}
	rank, err = SearchRank(context.Background(), f, 8, 1)
	c.Check(err, check.IsNil)
	c.Check(rank, check.Equals, 8)
	c.Check(f.explored, check.DeepEquals, []int{4, 5, 6, 7, 8})

	// the selected rank does not depend on the number of workers
	for _, threads := range []int{2, 3, 8} {
		f = &fakeFactorizer{residuals: map[int]float64{4: 5, 5: 4, 6: 4.5, 7: 1, 8: 0}}
		rank, err = SearchRank(context.Background(), f, 8, threads)
		c.Check(err, check.IsNil)
		c.Check(rank, check.Equals, 5, check.Commentf("threads %d", threads))
	}
}

func (s *ranksSuite) TestSettledAt(c *check.C) {
	res := []float64{5, 4, 4.5, 1}
	c.Check(settledAt(res, 0), check.Equals, false)
	c.Check(settledAt(res, 2), check.Equals, false)
	c.Check(settledAt(res, 3), check.Equals, true)
	c.Check(settledAt([]float64{3, 3, 2}, 3), check.Equals, false)
}

func (s *ranksSuite) TestFinalAssignment(c *check.C) {
	f := &fakeFactorizer{final: mat.NewDense(2, 3, []float64{
		1, 0.9, 0.25,
		0, 0.4, 0.5,
	})}
	preds, err := FinalAssignment(context.Background(), f, 2, 2)
	c.Assert(err, check.IsNil)
	c.Check(preds, check.DeepEquals, []Prediction{{1, 0.9, 0.25}, {0, 0.4, 0.5}})

	_, err = FinalAssignment(context.Background(), f, 2, 3)
	c.Check(err, check.ErrorMatches, `final factorization returned 2x3 predictions for 3 variants`)
}
