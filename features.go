// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrNoHeterogeneity means fewer than two variants were found,
	// so there is nothing to deconvolve.
	ErrNoHeterogeneity = errors.New("no heterogeneity")

	errNotFrozen = errors.New("population matrix must be frozen first")
)

// Feature is one (contig, position, variant) row of the canonical
// variant list, with pseudo-counted per-sample observations.
type Feature struct {
	Contig   ContigID
	Position int
	Variant  string
	// depth+1 in each sample
	Depth []float64
	// variant count+1 in each sample
	Freq []float64
}

// FeatureSet is the canonical variant list plus the per-sample
// geometric means used to close each sample's composition.
type FeatureSet struct {
	Features []Feature
	GMDepth  []float64
	GMFreq   []float64
	Samples  int

	pm   *PopulationMatrix
	dist []float64
	cons []float64
}

// logAccumulator holds per-sample running sums of ln(x). Only
// commutative additions happen under the lock.
type logAccumulator struct {
	sync.Mutex
	depth []float64
	freq  []float64
	n     int
}

func (acc *logAccumulator) add(depth, freq []float64) {
	acc.Lock()
	defer acc.Unlock()
	for s := range depth {
		acc.depth[s] += depth[s]
		acc.freq[s] += freq[s]
	}
	acc.n++
}

// GenerateFeatures builds the variant feature list from a frozen
// matrix, processing contigs in parallel.
func GenerateFeatures(pm *PopulationMatrix, threads int) (*FeatureSet, error) {
	if !pm.Frozen() {
		return nil, errNotFrozen
	}
	nsamples := len(pm.Samples())
	acc := &logAccumulator{
		depth: make([]float64, nsamples),
		freq:  make([]float64, nsamples),
	}
	var mtx sync.Mutex
	var features []Feature

	thr := throttle{Max: threads}
	for _, tid := range pm.Contigs() {
		tid := tid
		positions := pm.variants[tid]
		if len(positions) == 0 {
			continue
		}
		thr.Go(func() error {
			if _, err := pm.Coverage(tid); err != nil {
				return err
			}
			local := contigFeatures(tid, positions, nsamples)
			logDepth := make([]float64, nsamples)
			logFreq := make([]float64, nsamples)
			for _, f := range local {
				for s := 0; s < nsamples; s++ {
					logDepth[s] = math.Log(f.Depth[s])
					logFreq[s] = math.Log(f.Freq[s])
				}
				acc.add(logDepth, logFreq)
			}
			mtx.Lock()
			features = append(features, local...)
			mtx.Unlock()
			return nil
		})
	}
	if err := thr.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(features, func(i, j int) bool {
		a, b := features[i], features[j]
		if a.Contig != b.Contig {
			return a.Contig < b.Contig
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.Variant < b.Variant
	})

	fs := &FeatureSet{
		Features: features,
		GMDepth:  geometricMeans(acc.depth, acc.n),
		GMFreq:   geometricMeans(acc.freq, acc.n),
		Samples:  nsamples,
		pm:       pm,
	}
	log.WithFields(log.Fields{
		"variants": len(features),
		"samples":  nsamples,
	}).Info("generated variant features")
	if len(features) < 2 {
		return fs, ErrNoHeterogeneity
	}
	return fs, nil
}

func contigFeatures(tid ContigID, positions map[int]map[string][]Abundance, nsamples int) []Feature {
	var local []Feature
	for pos, vars := range positions {
		for variant, abds := range vars {
			if variant == RefPlaceholder {
				continue
			}
			f := Feature{
				Contig:   tid,
				Position: pos,
				Variant:  variant,
				Depth:    make([]float64, nsamples),
				Freq:     make([]float64, nsamples),
			}
			for s := 0; s < nsamples; s++ {
				var abd Abundance
				if s < len(abds) {
					abd = abds[s]
				}
				f.Depth[s] = float64(abd.Depth) + 1
				f.Freq[s] = float64(abd.Count) + 1
			}
			local = append(local, f)
		}
	}
	return local
}

// geometricMeans converts per-sample log sums over n observations
// into geometric means.
func geometricMeans(logSums []float64, n int) []float64 {
	gm := make([]float64, len(logSums))
	for s, sum := range logSums {
		if n == 0 {
			gm[s] = 1
			continue
		}
		gm[s] = math.Exp(sum / float64(n))
	}
	return gm
}

// Len returns the number of variants.
func (fs *FeatureSet) Len() int { return len(fs.Features) }

// coordinates returns the closed log-ratio coordinates of every
// variant: ln(freq/gmFreq) - ln(depth/gmDepth) per sample.
func (fs *FeatureSet) coordinates() [][]float64 {
	z := make([][]float64, len(fs.Features))
	for i, f := range fs.Features {
		z[i] = make([]float64, fs.Samples)
		for s := 0; s < fs.Samples; s++ {
			z[i][s] = math.Log(f.Freq[s]/fs.GMFreq[s]) - math.Log(f.Depth[s]/fs.GMDepth[s])
		}
	}
	return z
}

// condensedIndex returns the offset of pair (i, j), i < j, in a
// condensed n x n distance array.
func condensedIndex(n, i, j int) int {
	return i*n - i*(i+1)/2 + (j - i - 1)
}

// CondensedDistances returns the variance of log-ratio between every
// pair of variants, in condensed row-major order.
func (fs *FeatureSet) CondensedDistances(threads int) []float64 {
	n := len(fs.Features)
	if n < 2 {
		return nil
	}
	if fs.dist != nil {
		return fs.dist
	}
	z := fs.coordinates()
	dist := make([]float64, n*(n-1)/2)
	thr := throttle{Max: threads}
	for i := 0; i < n-1; i++ {
		i := i
		thr.Go(func() error {
			diff := make([]float64, fs.Samples)
			for j := i + 1; j < n; j++ {
				for s := range diff {
					diff[s] = z[i][s] - z[j][s]
				}
				_, sd := meanStdDev(diff)
				dist[condensedIndex(n, i, j)] = sd * sd
			}
			return nil
		})
	}
	// the tasks only fill disjoint slots and never fail
	_ = thr.Wait()
	fs.dist = dist
	return dist
}

// Constraints returns the pairwise clustering constraints in
// condensed order: -1 for two calls at the same position, the
// Jaccard index of their supporting reads for linked calls on the
// same contig, otherwise 0.
func (fs *FeatureSet) Constraints(threads int) []float64 {
	n := len(fs.Features)
	if n < 2 {
		return nil
	}
	if fs.cons != nil {
		return fs.cons
	}
	support := make([]readSet, n)
	if fs.pm != nil {
		for i, f := range fs.Features {
			support[i] = fs.pm.ReadSupport(f.Contig, f.Position, f.Variant)
		}
	}
	cons := make([]float64, n*(n-1)/2)
	thr := throttle{Max: threads}
	for i := 0; i < n-1; i++ {
		i := i
		thr.Go(func() error {
			fi := fs.Features[i]
			for j := i + 1; j < n; j++ {
				fj := fs.Features[j]
				if fi.Contig != fj.Contig {
					continue
				}
				idx := condensedIndex(n, i, j)
				if fi.Position == fj.Position {
					cons[idx] = -1
				} else {
					cons[idx] = jaccard(support[i], support[j])
				}
			}
			return nil
		})
	}
	_ = thr.Wait()
	fs.cons = cons
	return cons
}

func jaccard(a, b readSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	shared := 0
	for id := range a {
		if b[id] {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}

// WriteArtifacts writes distances.npy and constraints.npy to dir and
// returns their paths.
func (fs *FeatureSet) WriteArtifacts(dir string, threads int) (distPath, consPath string, err error) {
	distPath = filepath.Join(dir, "distances.npy")
	consPath = filepath.Join(dir, "constraints.npy")
	dist := fs.CondensedDistances(threads)
	err = writeNumpyFloat64(distPath, dist, len(dist))
	if err != nil {
		return "", "", fmt.Errorf("write distances: %w", err)
	}
	cons := fs.Constraints(threads)
	err = writeNumpyFloat64(consPath, cons, len(cons))
	if err != nil {
		return "", "", fmt.Errorf("write constraints: %w", err)
	}
	return distPath, consPath, nil
}
