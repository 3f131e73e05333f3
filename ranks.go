// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"context"
	"fmt"
	"math"
	"sync"

	log "github.com/sirupsen/logrus"
)

const (
	minCandidateRank = 4
	maxCandidateRank = 25
)

// candidateRanks returns the ranks worth exploring for n variants.
func candidateRanks(n int) []int {
	lo, hi := minCandidateRank, maxCandidateRank
	if n < lo {
		lo = n
	}
	if n < hi {
		hi = n
	}
	var ranks []int
	for r := lo; r <= hi; r++ {
		if r > 0 {
			ranks = append(ranks, r)
		}
	}
	return ranks
}

// selectRank scans residuals in rank order and stops at the first
// local minimum: a residual no greater than the best so far moves
// the selection forward, and the first larger residual ends the
// scan.
func selectRank(ranks []int, residuals []float64) int {
	best := ranks[0]
	bestResidual := residuals[0]
	for i := 1; i < len(ranks); i++ {
		if residuals[i] <= bestResidual {
			best, bestResidual = ranks[i], residuals[i]
		} else {
			break
		}
	}
	return best
}

// settledAt reports whether the first prefix residuals already
// contain the increase that ends selectRank's scan.
func settledAt(residuals []float64, prefix int) bool {
	for i := 1; i < prefix; i++ {
		if residuals[i] > residuals[i-1] {
			return true
		}
	}
	return false
}

// SearchRank explores candidate ranks concurrently, in rank order, and
// returns the selected one. Once the completed ranks already determine
// the first local minimum, no further ranks are scheduled; ranks
// already running are left to finish.
func SearchRank(ctx context.Context, f Factorizer, n, threads int) (int, error) {
	ranks := candidateRanks(n)
	if len(ranks) == 0 {
		return 0, fmt.Errorf("%w: no candidate ranks for %d variants", ErrInvalidRank, n)
	}
	residuals := make([]float64, len(ranks))
	done := make([]bool, len(ranks))
	var mtx sync.Mutex
	settled := func() bool {
		mtx.Lock()
		defer mtx.Unlock()
		prefix := 0
		for prefix < len(done) && done[prefix] {
			prefix++
		}
		return settledAt(residuals, prefix)
	}

	thr := throttle{Max: threads}
	dispatched := 0
	for i, rank := range ranks {
		thr.Acquire()
		if thr.Err() != nil || settled() {
			thr.Release()
			break
		}
		dispatched++
		i, rank := i, rank
		go func() {
			defer thr.Release()
			res, err := f.Explore(ctx, rank)
			if err == nil {
				mtx.Lock()
				residuals[i], done[i] = res, true
				mtx.Unlock()
			}
			thr.Report(err)
		}()
	}
	if err := thr.Wait(); err != nil {
		return 0, err
	}
	best := selectRank(ranks[:dispatched], residuals[:dispatched])
	log.WithFields(log.Fields{
		"ranks":     ranks[:dispatched],
		"residuals": residuals[:dispatched],
		"withheld":  len(ranks) - dispatched,
		"selected":  best,
	}).Info("rank search done")
	return best, nil
}

// Prediction is one variant's final cluster assignment.
type Prediction struct {
	Cluster   int
	Posterior float64
	Weight    float64
}

// FinalAssignment factorizes at the selected rank and returns one
// prediction per variant.
func FinalAssignment(ctx context.Context, f Factorizer, rank, n int) ([]Prediction, error) {
	m, err := f.Final(ctx, rank)
	if err != nil {
		return nil, err
	}
	rows, cols := m.Dims()
	if rows != n || cols < 3 {
		return nil, fmt.Errorf("final factorization returned %dx%d predictions for %d variants", rows, cols, n)
	}
	preds := make([]Prediction, rows)
	for i := range preds {
		preds[i] = Prediction{
			Cluster:   int(math.Round(m.At(i, 0))),
			Posterior: m.At(i, 1),
			Weight:    m.At(i, 2),
		}
	}
	return preds, nil
}
