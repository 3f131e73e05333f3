// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"errors"

	"gopkg.in/check.v1"
)

type matrixSuite struct{}

var _ = check.Suite(&matrixSuite{})

// threeSampleMatrix returns a matrix with one 20 bp contig and one
// variant "A" at position 10 observed with (count, depth) (5,10),
// (0,8) and (9,9).
func threeSampleMatrix(c *check.C) *PopulationMatrix {
	pm := NewPopulationMatrix()
	for _, name := range []string{"s1", "s2", "s3"} {
		_, err := pm.AddSample(name)
		c.Assert(err, check.IsNil)
	}
	for i, abd := range []Abundance{{5, 10}, {0, 8}, {9, 9}} {
		err := pm.AddContig(PileupStats{
			Contig:     0,
			ContigName: "contig_1",
			ContigLen:  20,
			Coverage:   float64(abd.Depth),
			Variants:   map[int]map[string]Abundance{10: {"A": abd}},
			Sequence:   []byte("ACGTACGTACGTACGTACGT"),
		}, i)
		c.Assert(err, check.IsNil)
	}
	return pm
}

func (s *matrixSuite) TestThreeSamples(c *check.C) {
	pm := threeSampleMatrix(c)
	expectVar := []float64{6.0 / 11, 1.0 / 9, 10.0 / 10}
	expectRef := []float64{5.0 / 11, 8.0 / 9, 0.0 / 10}
	for i := 0; i < 3; i++ {
		sums, ok := pm.VariantSums(i, 0)
		c.Assert(ok, check.Equals, true)
		c.Check(sums[0], check.HasLen, 1)
		c.Check(sums[0][0], check.Equals, expectVar[i])
		c.Check(sums[2][0], check.Equals, expectRef[i])
		n, ok := pm.VariantCount(i, 0)
		c.Check(ok, check.Equals, true)
		c.Check(n, check.Equals, 1)
	}
	sums, _ := pm.VariantSums(0, 0)
	c.Check(sums[1][0], check.Equals, 11.0)
	cov, err := pm.Coverage(0)
	c.Check(err, check.IsNil)
	c.Check(cov, check.DeepEquals, []float64{10, 8, 9})
}

func (s *matrixSuite) TestRepeatedAddContig(c *check.C) {
	pm := NewPopulationMatrix()
	idx, err := pm.AddSample("s1")
	c.Assert(err, check.IsNil)
	st := PileupStats{
		Contig:       3,
		ContigName:   "contig_3",
		ContigLen:    100,
		Coverage:     5,
		Variance:     1,
		MeanGenotype: 0.5,
		SNPs:         map[int]map[string][]int64{7: {"T": {1, 2}}},
		Indels:       map[int]map[string][]int64{9: {"NN": {4}}},
	}
	c.Assert(pm.AddContig(st, idx), check.IsNil)
	c.Assert(pm.AddContig(st, idx), check.IsNil)
	c.Check(pm.ReadSupport(3, 7, "T"), check.DeepEquals, readSet{1: true, 2: true})
	c.Check(pm.ReadSupport(3, 9, "NN"), check.DeepEquals, readSet{4: true})

	st.Coverage = 12
	st.Variance = 3
	st.MeanGenotype = 0.25
	st.SNPs = map[int]map[string][]int64{7: {"T": {2, 3}}}
	c.Assert(pm.AddContig(st, idx), check.IsNil)
	cov, err := pm.Coverage(3)
	c.Check(err, check.IsNil)
	c.Check(cov, check.DeepEquals, []float64{12})
	c.Check(pm.Variance(3), check.DeepEquals, []float64{3})
	c.Check(pm.MeanGenotype(3), check.DeepEquals, []float64{0.25})
	c.Check(pm.ReadSupport(3, 7, "T"), check.DeepEquals, readSet{1: true, 2: true, 3: true})
}

func (s *matrixSuite) TestZeroVariants(c *check.C) {
	pm := NewPopulationMatrix()
	pm.AddSample("s1")
	c.Assert(pm.AddContig(PileupStats{Contig: 0, ContigName: "c", ContigLen: 10}, 0), check.IsNil)
	sums, ok := pm.VariantSums(0, 0)
	c.Check(ok, check.Equals, true)
	c.Check(sums, check.DeepEquals, [3][]float64{{0}, {0}, {0}})
	n, _ := pm.VariantCount(0, 0)
	c.Check(n, check.Equals, 0)
}

func (s *matrixSuite) TestReferencePlaceholderNotCounted(c *check.C) {
	pm := NewPopulationMatrix()
	pm.AddSample("s1")
	err := pm.AddContig(PileupStats{
		Contig:    0,
		ContigLen: 10,
		Variants:  map[int]map[string]Abundance{2: {"R": {6, 9}, "G": {3, 9}}},
	}, 0)
	c.Assert(err, check.IsNil)
	sums, _ := pm.VariantSums(0, 0)
	c.Check(sums[0][0], check.Equals, 4.0/10)
	c.Check(sums[2][0], check.Equals, 6.0/10)
}

// Entries at one position disagreeing on depth: the largest wins,
// whatever order the map yields them in.
func (s *matrixSuite) TestPositionDepthIsMax(c *check.C) {
	for i := 0; i < 20; i++ {
		pm := NewPopulationMatrix()
		pm.AddSample("s1")
		err := pm.AddContig(PileupStats{
			Contig:    0,
			ContigLen: 10,
			Variants: map[int]map[string]Abundance{
				2: {"R": {6, 9}, "G": {3, 12}, "T": {1, 10}},
			},
		}, 0)
		c.Assert(err, check.IsNil)
		sums, _ := pm.VariantSums(0, 0)
		c.Check(sums[1][0], check.Equals, 13.0)
		c.Check(sums[0][0], check.Equals, 5.0/13)
		c.Check(sums[2][0], check.Equals, 8.0/13)
	}
}

func (s *matrixSuite) TestSampleIndexOutOfRange(c *check.C) {
	pm := NewPopulationMatrix()
	pm.AddSample("s1")
	err := pm.AddContig(PileupStats{Contig: 0}, 1)
	c.Check(errors.Is(err, ErrSampleIndex), check.Equals, true)
	c.Check(errors.Is(err, ErrInconsistentMatrix), check.Equals, true)
	err = pm.AddContig(PileupStats{Contig: 0}, -1)
	c.Check(errors.Is(err, ErrInconsistentMatrix), check.Equals, true)
}

func (s *matrixSuite) TestFrozen(c *check.C) {
	pm := threeSampleMatrix(c)
	pm.Freeze()
	_, err := pm.AddSample("s4")
	c.Check(err, check.Equals, ErrFrozen)
	c.Check(pm.AddContig(PileupStats{}, 0), check.Equals, ErrFrozen)
	c.Check(pm.AddKmers(0, 1, map[string]int{"AAAA": 1}), check.Equals, ErrFrozen)
	c.Check(pm.SetSequence(0, "contig_1", []byte("A")), check.Equals, ErrFrozen)
}

func (s *matrixSuite) TestKmersFirstSeenOnly(c *check.C) {
	pm := NewPopulationMatrix()
	c.Check(pm.AddKmers(1, 2, map[string]int{"ACGT": 3, "TTTT": 1}), check.IsNil)
	c.Check(pm.AddKmers(1, 2, map[string]int{"ACGT": 100}), check.IsNil)
	c.Check(pm.AddKmers(0, 2, map[string]int{"ACGT": 7}), check.IsNil)
	c.Check(pm.kmers["ACGT"], check.DeepEquals, []int{7, 3})
	c.Check(pm.kmers["TTTT"], check.DeepEquals, []int{0, 1})
}

func (s *matrixSuite) TestLateSampleGrowsVectors(c *check.C) {
	pm := NewPopulationMatrix()
	idx, _ := pm.SampleIndex("s1")
	c.Assert(pm.AddContig(PileupStats{
		Contig:   0,
		Coverage: 4,
		Variants: map[int]map[string]Abundance{1: {"C": {2, 4}}},
	}, idx), check.IsNil)
	idx2, err := pm.SampleIndex("s2")
	c.Assert(err, check.IsNil)
	c.Check(idx2, check.Equals, 1)
	again, _ := pm.SampleIndex("s1")
	c.Check(again, check.Equals, 0)
	cov, _ := pm.Coverage(0)
	c.Check(cov, check.DeepEquals, []float64{4, 0})
	c.Check(pm.variants[0][1]["C"], check.DeepEquals, []Abundance{{2, 4}, {}})
}

func (s *matrixSuite) TestMissingCoverage(c *check.C) {
	pm := NewPopulationMatrix()
	_, err := pm.Coverage(42)
	c.Check(errors.Is(err, ErrInconsistentMatrix), check.Equals, true)
}
