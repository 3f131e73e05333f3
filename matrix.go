// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInconsistentMatrix means the population matrix is missing
	// an entry that its other contents imply must exist.
	ErrInconsistentMatrix = errors.New("inconsistent population matrix")
	// ErrSampleIndex is returned when statistics refer to a sample
	// that was never registered.
	ErrSampleIndex = fmt.Errorf("sample index out of range: %w", ErrInconsistentMatrix)
	// ErrFrozen is returned by mutating calls after Freeze.
	ErrFrozen = errors.New("population matrix is frozen")
)

type readSet map[int64]bool

func (rs readSet) union(ids []int64) {
	for _, id := range ids {
		rs[id] = true
	}
}

// PopulationMatrix aggregates per-sample, per-contig pileup
// statistics into one population-level view.
type PopulationMatrix struct {
	samples   []string
	sampleIdx map[string]int

	coverages map[ContigID][]float64
	variances map[ContigID][]float64
	genotypes map[ContigID][]float64

	// contig => position => variant => per-sample abundance
	variants map[ContigID]map[int]map[string][]Abundance
	snps     map[ContigID]map[int]map[string]readSet
	indels   map[ContigID]map[int]map[string]readSet

	sequences map[ContigID][]byte
	names     map[ContigID]string
	lengths   map[ContigID]int

	// k-mer => per-contig count
	kmers    map[string][]int
	kmerSeen map[ContigID]bool

	// sample => contig => number of variant positions
	variantCounts []map[ContigID]int
	// sample => contig => [varfreq, depth, reffreq] rows
	variantSums []map[ContigID]*[3][]float64

	frozen bool
}

func NewPopulationMatrix() *PopulationMatrix {
	return &PopulationMatrix{
		sampleIdx: map[string]int{},
		coverages: map[ContigID][]float64{},
		variances: map[ContigID][]float64{},
		genotypes: map[ContigID][]float64{},
		variants:  map[ContigID]map[int]map[string][]Abundance{},
		snps:      map[ContigID]map[int]map[string]readSet{},
		indels:    map[ContigID]map[int]map[string]readSet{},
		sequences: map[ContigID][]byte{},
		names:     map[ContigID]string{},
		lengths:   map[ContigID]int{},
		kmers:     map[string][]int{},
		kmerSeen:  map[ContigID]bool{},
	}
}

// AddSample registers a sample name and returns its index. Indices
// are assigned in call order.
func (pm *PopulationMatrix) AddSample(name string) (int, error) {
	if pm.frozen {
		return 0, ErrFrozen
	}
	idx := len(pm.samples)
	pm.samples = append(pm.samples, name)
	if _, ok := pm.sampleIdx[name]; !ok {
		pm.sampleIdx[name] = idx
	}
	pm.variantCounts = append(pm.variantCounts, map[ContigID]int{})
	pm.variantSums = append(pm.variantSums, map[ContigID]*[3][]float64{})
	// Keep every per-sample vector sample-count long.
	for _, m := range []map[ContigID][]float64{pm.coverages, pm.variances, pm.genotypes} {
		for tid, v := range m {
			m[tid] = append(v, 0)
		}
	}
	for _, positions := range pm.variants {
		for _, vars := range positions {
			for v, abd := range vars {
				vars[v] = append(abd, Abundance{})
			}
		}
	}
	return idx, nil
}

// SampleIndex returns the index of the named sample, registering it
// first if it has not been seen.
func (pm *PopulationMatrix) SampleIndex(name string) (int, error) {
	if idx, ok := pm.sampleIdx[name]; ok {
		return idx, nil
	}
	return pm.AddSample(name)
}

// Samples returns the registered sample names in index order.
func (pm *PopulationMatrix) Samples() []string { return pm.samples }

// AddKmers merges one contig's k-mer counts into the shared table.
// Only the first call for a given contig has any effect.
func (pm *PopulationMatrix) AddKmers(tid ContigID, nContigs int, counts map[string]int) error {
	if pm.frozen {
		return ErrFrozen
	}
	if pm.kmerSeen[tid] {
		return nil
	}
	pm.kmerSeen[tid] = true
	if nContigs <= int(tid) {
		nContigs = int(tid) + 1
	}
	for kmer, n := range counts {
		vec := pm.kmers[kmer]
		if len(vec) < nContigs {
			vec = append(vec, make([]int, nContigs-len(vec))...)
		}
		vec[tid] = n
		pm.kmers[kmer] = vec
	}
	return nil
}

// AddContig merges one sample's statistics for one contig.
//
// Coverage, variance and mean genotype overwrite the sample's slot.
// SNP and indel read sets are unioned with what is already there.
// The sample's per-variant sum table for the contig is rebuilt; a
// position's depth is the largest Depth among its entries, reference
// placeholder included, plus one.
func (pm *PopulationMatrix) AddContig(st PileupStats, sampleIdx int) error {
	if pm.frozen {
		return ErrFrozen
	}
	if sampleIdx < 0 || sampleIdx >= len(pm.samples) {
		return fmt.Errorf("%w: index %d, %d samples registered", ErrSampleIndex, sampleIdx, len(pm.samples))
	}
	tid := st.Contig
	nsamples := len(pm.samples)
	pm.sampleSlot(pm.genotypes, tid)[sampleIdx] = st.MeanGenotype
	pm.sampleSlot(pm.variances, tid)[sampleIdx] = st.Variance
	pm.sampleSlot(pm.coverages, tid)[sampleIdx] = st.Coverage
	if _, ok := pm.names[tid]; !ok {
		pm.names[tid] = st.ContigName
	}
	if _, ok := pm.lengths[tid]; !ok {
		pm.lengths[tid] = st.ContigLen
	}
	if len(pm.sequences[tid]) == 0 && len(st.Sequence) > 0 {
		pm.sequences[tid] = st.Sequence
	}

	contigVariants := pm.variants[tid]
	if contigVariants == nil {
		contigVariants = map[int]map[string][]Abundance{}
		pm.variants[tid] = contigVariants
	}

	positions := make([]int, 0, len(st.Variants))
	for pos := range st.Variants {
		positions = append(positions, pos)
	}
	sort.Ints(positions)

	if len(positions) == 0 {
		pm.variantSums[sampleIdx][tid] = &[3][]float64{{0}, {0}, {0}}
		pm.variantCounts[sampleIdx][tid] = 0
	} else {
		sums := &[3][]float64{
			make([]float64, len(positions)),
			make([]float64, len(positions)),
			make([]float64, len(positions)),
		}
		for i, pos := range positions {
			abundances := st.Variants[pos]
			positionVariants := contigVariants[pos]
			if positionVariants == nil {
				positionVariants = map[string][]Abundance{}
				contigVariants[pos] = positionVariants
			}
			variantDepth := 0.0
			maxDepth := 0
			for variant, abd := range abundances {
				slots := positionVariants[variant]
				if slots == nil {
					slots = make([]Abundance, nsamples)
					positionVariants[variant] = slots
				}
				slots[sampleIdx] = abd
				if abd.Depth > maxDepth {
					maxDepth = abd.Depth
				}
				if variant != RefPlaceholder {
					variantDepth += float64(abd.Count)
				}
			}
			// pseudocount
			variantDepth++
			totalDepth := float64(maxDepth) + 1
			refDepth := totalDepth - variantDepth
			sums[0][i] = variantDepth / totalDepth
			sums[1][i] = totalDepth
			sums[2][i] = refDepth / totalDepth
		}
		pm.variantSums[sampleIdx][tid] = sums
		pm.variantCounts[sampleIdx][tid] = len(positions)
	}

	mergeReadSets(pm.snps, tid, st.SNPs)
	mergeReadSets(pm.indels, tid, st.Indels)
	return nil
}

func (pm *PopulationMatrix) sampleSlot(m map[ContigID][]float64, tid ContigID) []float64 {
	v, ok := m[tid]
	if !ok {
		v = make([]float64, len(pm.samples))
		m[tid] = v
	}
	return v
}

func mergeReadSets(dst map[ContigID]map[int]map[string]readSet, tid ContigID, src map[int]map[string][]int64) {
	contig := dst[tid]
	if contig == nil {
		contig = map[int]map[string]readSet{}
		dst[tid] = contig
	}
	for pos, calls := range src {
		position := contig[pos]
		if position == nil {
			position = map[string]readSet{}
			contig[pos] = position
		}
		for call, ids := range calls {
			rs := position[call]
			if rs == nil {
				rs = readSet{}
				position[call] = rs
			}
			rs.union(ids)
		}
	}
}

// SetSequence replaces the reference bytes of a contig, e.g., with
// sequences loaded from a FASTA file.
func (pm *PopulationMatrix) SetSequence(tid ContigID, name string, seq []byte) error {
	if pm.frozen {
		return ErrFrozen
	}
	pm.sequences[tid] = seq
	if _, ok := pm.names[tid]; !ok {
		pm.names[tid] = name
	}
	if _, ok := pm.lengths[tid]; !ok {
		pm.lengths[tid] = len(seq)
	}
	return nil
}

// Freeze prevents further mutation. Distance and reconstruction
// phases expect a frozen matrix.
func (pm *PopulationMatrix) Freeze() { pm.frozen = true }

// Frozen reports whether Freeze has been called.
func (pm *PopulationMatrix) Frozen() bool { return pm.frozen }

// Contigs returns all contig IDs seen so far, ascending.
func (pm *PopulationMatrix) Contigs() []ContigID {
	tids := make([]ContigID, 0, len(pm.names))
	for tid := range pm.names {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	return tids
}

// ContigByName returns the ID of the named contig.
func (pm *PopulationMatrix) ContigByName(name string) (ContigID, bool) {
	for tid, n := range pm.names {
		if n == name {
			return tid, true
		}
	}
	return 0, false
}

func (pm *PopulationMatrix) ContigName(tid ContigID) string { return pm.names[tid] }
func (pm *PopulationMatrix) ContigLen(tid ContigID) int     { return pm.lengths[tid] }
func (pm *PopulationMatrix) Sequence(tid ContigID) []byte   { return pm.sequences[tid] }

// Coverage returns the per-sample coverage vector of a contig.
func (pm *PopulationMatrix) Coverage(tid ContigID) ([]float64, error) {
	cov, ok := pm.coverages[tid]
	if !ok {
		return nil, fmt.Errorf("%w: no coverage for contig %d", ErrInconsistentMatrix, tid)
	}
	return cov, nil
}

func (pm *PopulationMatrix) Variance(tid ContigID) []float64     { return pm.variances[tid] }
func (pm *PopulationMatrix) MeanGenotype(tid ContigID) []float64 { return pm.genotypes[tid] }

// VariantCount returns the number of distinct variant positions
// recorded for (sample, contig).
func (pm *PopulationMatrix) VariantCount(sampleIdx int, tid ContigID) (int, bool) {
	if sampleIdx < 0 || sampleIdx >= len(pm.variantCounts) {
		return 0, false
	}
	n, ok := pm.variantCounts[sampleIdx][tid]
	return n, ok
}

// VariantSums returns the [varfreq, depth, reffreq] rows recorded for
// (sample, contig).
func (pm *PopulationMatrix) VariantSums(sampleIdx int, tid ContigID) ([3][]float64, bool) {
	if sampleIdx < 0 || sampleIdx >= len(pm.variantSums) {
		return [3][]float64{}, false
	}
	sums, ok := pm.variantSums[sampleIdx][tid]
	if !ok {
		return [3][]float64{}, false
	}
	return *sums, true
}

// ReadSupport returns the IDs of reads supporting a call at a
// position, looking in both the SNP and indel tables.
func (pm *PopulationMatrix) ReadSupport(tid ContigID, pos int, call string) readSet {
	if rs := pm.snps[tid][pos][call]; rs != nil {
		return rs
	}
	return pm.indels[tid][pos][call]
}
