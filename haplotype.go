// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"fmt"
	"math"
	"sort"

	hungarianAlgorithm "github.com/oddg/hungarian-algorithm"
	log "github.com/sirupsen/logrus"
)

// AmbiguousStrain is the strain index of the bucket of variants
// applied to every strain.
const AmbiguousStrain = 0

// Haplotype is a set of variants hypothesized to belong to one
// strain.
type Haplotype struct {
	// dendrogram label of the subtree, or -1
	Root   int
	Leaves []int
	// contig => position => variant keys
	Calls  map[ContigID]map[int]map[string]bool
	Size   int
	Strain int
}

func newHaplotype(root, strain int) *Haplotype {
	return &Haplotype{
		Root:   root,
		Calls:  map[ContigID]map[int]map[string]bool{},
		Strain: strain,
	}
}

func (h *Haplotype) add(leaf int, f Feature) {
	h.Leaves = append(h.Leaves, leaf)
	h.Size++
	positions := h.Calls[f.Contig]
	if positions == nil {
		positions = map[int]map[string]bool{}
		h.Calls[f.Contig] = positions
	}
	calls := positions[f.Position]
	if calls == nil {
		calls = map[string]bool{}
		positions[f.Position] = calls
	}
	calls[f.Variant] = true
}

// call returns the lexicographically smallest variant key at a
// position.
func (h *Haplotype) call(tid ContigID, pos int) (string, bool) {
	if h == nil {
		return "", false
	}
	calls := h.Calls[tid][pos]
	if len(calls) == 0 {
		return "", false
	}
	best := ""
	for v := range calls {
		if best == "" || v < best {
			best = v
		}
	}
	return best, true
}

// ClusterSummary reports how many variants a cluster received, the
// geometric mean of their posteriors, and their total weight.
type ClusterSummary struct {
	Cluster          int
	Count            int
	GeoMeanPosterior float64
	WeightSum        float64
}

// Assignment is the result of routing each variant to a strain or to
// the ambiguous bucket.
type Assignment struct {
	Clusters  []int
	Threshold float64
	Ambiguous *Haplotype
	Strains   []*Haplotype

	preds   []Prediction
	logSums map[int]float64
	counts  map[int]int
	weights map[int]float64
}

// Assign routes variant i to strain preds[i].Cluster+1 if its
// posterior is at least 1/k, where k is the number of distinct
// clusters, and to the ambiguous bucket otherwise.
func Assign(fs *FeatureSet, preds []Prediction) (*Assignment, error) {
	if len(preds) != len(fs.Features) {
		return nil, fmt.Errorf("%d predictions for %d variants", len(preds), len(fs.Features))
	}
	a := &Assignment{
		Ambiguous: newHaplotype(-1, AmbiguousStrain),
		preds:     preds,
		logSums:   map[int]float64{},
		counts:    map[int]int{},
		weights:   map[int]float64{},
	}
	for _, p := range preds {
		if _, ok := a.counts[p.Cluster]; !ok {
			a.Clusters = append(a.Clusters, p.Cluster)
		}
		a.counts[p.Cluster]++
		a.logSums[p.Cluster] += math.Log(p.Posterior)
		a.weights[p.Cluster] += p.Weight
	}
	sort.Ints(a.Clusters)
	if len(a.Clusters) == 0 {
		return a, nil
	}
	a.Threshold = 1 / float64(len(a.Clusters))

	strains := map[int]*Haplotype{}
	for i, p := range preds {
		if p.Posterior < a.Threshold {
			a.Ambiguous.add(i, fs.Features[i])
			continue
		}
		strain := p.Cluster + 1
		h := strains[strain]
		if h == nil {
			h = newHaplotype(-1, strain)
			strains[strain] = h
		}
		h.add(i, fs.Features[i])
	}
	a.Strains = sortedStrains(strains)
	return a, nil
}

func sortedStrains(m map[int]*Haplotype) []*Haplotype {
	out := make([]*Haplotype, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strain < out[j].Strain })
	return out
}

// Summary returns per-cluster statistics in cluster order.
func (a *Assignment) Summary() []ClusterSummary {
	out := make([]ClusterSummary, 0, len(a.Clusters))
	for _, c := range a.Clusters {
		out = append(out, ClusterSummary{
			Cluster:          c,
			Count:            a.counts[c],
			GeoMeanPosterior: math.Exp(a.logSums[c] / float64(a.counts[c])),
			WeightSum:        a.weights[c],
		})
	}
	return out
}

// Refine replaces the exclusive strains with k subtrees of the
// dendrogram, k being the number of clusters. Each subtree becomes
// the strain of the cluster its leaves were most often predicted in.
// The ambiguous bucket is kept.
func (a *Assignment) Refine(dg *Dendrogram, fs *FeatureSet) error {
	if dg.Leaves != len(fs.Features) {
		return fmt.Errorf("%w: %d leaves for %d variants", ErrInconsistentDendrogram, dg.Leaves, len(fs.Features))
	}
	k := len(a.Clusters)
	if k == 0 {
		return nil
	}
	if k > dg.Leaves {
		k = dg.Leaves
	}
	roots, err := dg.RootLabels(k)
	if err != nil {
		return err
	}
	haps := make([]*Haplotype, len(roots))
	for r, root := range roots {
		h := newHaplotype(root, 0)
		for _, leaf := range dg.LeavesUnder(root) {
			h.add(leaf, fs.Features[leaf])
		}
		haps[r] = h
	}
	if err := checkPartition(haps, dg.Leaves); err != nil {
		return err
	}
	a.matchStrains(haps)
	a.Strains = append([]*Haplotype(nil), haps...)
	sort.Slice(a.Strains, func(i, j int) bool { return a.Strains[i].Strain < a.Strains[j].Strain })
	return nil
}

// checkPartition verifies that every leaf appears in exactly one
// haplotype.
func checkPartition(haps []*Haplotype, n int) error {
	seen := make([]bool, n)
	for _, h := range haps {
		for _, leaf := range h.Leaves {
			if leaf < 0 || leaf >= n {
				return fmt.Errorf("%w: leaf %d out of range", ErrInconsistentDendrogram, leaf)
			}
			if seen[leaf] {
				return fmt.Errorf("%w: leaf %d in more than one haplotype", ErrInconsistentDendrogram, leaf)
			}
			seen[leaf] = true
		}
	}
	for leaf, ok := range seen {
		if !ok {
			return fmt.Errorf("%w: leaf %d not in any haplotype", ErrInconsistentDendrogram, leaf)
		}
	}
	return nil
}

// matchStrains assigns strain indices to haplotypes by maximizing
// the number of leaves whose predicted cluster agrees with the
// haplotype's strain.
func (a *Assignment) matchStrains(haps []*Haplotype) {
	size := len(haps)
	if len(a.Clusters) > size {
		size = len(a.Clusters)
	}
	col := map[int]int{}
	for c, cluster := range a.Clusters {
		col[cluster] = c
	}
	weights := make([][]int, size)
	for i := range weights {
		weights[i] = make([]int, size)
	}
	for r, h := range haps {
		for _, leaf := range h.Leaves {
			weights[r][col[a.preds[leaf].Cluster]]++
		}
	}
	solution := maxWeightMatching(weights)
	next := a.Clusters[len(a.Clusters)-1] + 2
	for r, h := range haps {
		c := -1
		if r < len(solution) {
			c = solution[r]
		}
		if c >= 0 && c < len(a.Clusters) {
			h.Strain = a.Clusters[c] + 1
		} else {
			h.Strain = next
			next++
		}
	}
}

// maxWeightMatching solves the square assignment problem for
// maximum total weight.
func maxWeightMatching(weights [][]int) []int {
	maxCell := 0
	for _, row := range weights {
		for _, cell := range row {
			if cell > maxCell {
				maxCell = cell
			}
		}
	}
	costs := make([][]int, len(weights))
	for i, row := range weights {
		costs[i] = make([]int, len(row))
		for j, cell := range row {
			costs[i][j] = maxCell - cell
		}
	}
	solution, err := hungarianAlgorithm.Solve(costs)
	if err != nil {
		log.Warnf("strain matching failed, keeping dendrogram order: %s", err)
		solution = make([]int, len(weights))
		for i := range solution {
			solution[i] = i
		}
	}
	return solution
}
