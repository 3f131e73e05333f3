// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"errors"
	"math"

	"gopkg.in/check.v1"
)

type haplotypeSuite struct{}

var _ = check.Suite(&haplotypeSuite{})

func testFeatureSet(n int) *FeatureSet {
	fs := &FeatureSet{Samples: 1}
	for i := 0; i < n; i++ {
		fs.Features = append(fs.Features, Feature{
			Contig:   ContigID(i % 2),
			Position: i,
			Variant:  "ACGT"[i%4 : i%4+1],
			Depth:    []float64{10},
			Freq:     []float64{5},
		})
	}
	return fs
}

func (s *haplotypeSuite) TestAssignThreshold(c *check.C) {
	fs := testFeatureSet(4)
	a, err := Assign(fs, []Prediction{
		{Cluster: 0, Posterior: 0.9, Weight: 1},
		{Cluster: 1, Posterior: 0.2, Weight: 2},
		{Cluster: 2, Posterior: 0.4, Weight: 3},
		{Cluster: 0, Posterior: 0.4, Weight: 4},
	})
	c.Assert(err, check.IsNil)
	c.Check(a.Clusters, check.DeepEquals, []int{0, 1, 2})
	c.Check(a.Threshold, check.Equals, 1.0/3)
	// 0.2 < 1/3 goes to the ambiguous bucket
	c.Check(a.Ambiguous.Leaves, check.DeepEquals, []int{1})
	c.Check(a.Ambiguous.Strain, check.Equals, AmbiguousStrain)
	c.Assert(a.Strains, check.HasLen, 2)
	c.Check(a.Strains[0].Strain, check.Equals, 1)
	c.Check(a.Strains[0].Leaves, check.DeepEquals, []int{0, 3})
	c.Check(a.Strains[1].Strain, check.Equals, 3)
	c.Check(a.Strains[1].Leaves, check.DeepEquals, []int{2})
	call, ok := a.Strains[0].call(1, 3)
	c.Check(ok, check.Equals, true)
	c.Check(call, check.Equals, "T")

	summary := a.Summary()
	c.Assert(summary, check.HasLen, 3)
	c.Check(summary[0].Cluster, check.Equals, 0)
	c.Check(summary[0].Count, check.Equals, 2)
	c.Check(math.Abs(summary[0].GeoMeanPosterior-0.6) < 1e-12, check.Equals, true)
	c.Check(summary[0].WeightSum, check.Equals, 5.0)
	c.Check(summary[1].Count, check.Equals, 1)
	c.Check(math.Abs(summary[1].GeoMeanPosterior-0.2) < 1e-12, check.Equals, true)
}

func (s *haplotypeSuite) TestAssignMismatch(c *check.C) {
	_, err := Assign(testFeatureSet(2), []Prediction{{}})
	c.Check(err, check.ErrorMatches, `1 predictions for 2 variants`)
}

func (s *haplotypeSuite) TestCallSmallestKey(c *check.C) {
	h := newHaplotype(-1, 1)
	h.add(0, Feature{Contig: 0, Position: 7, Variant: "T"})
	h.add(1, Feature{Contig: 0, Position: 7, Variant: "G"})
	call, ok := h.call(0, 7)
	c.Check(ok, check.Equals, true)
	c.Check(call, check.Equals, "G")
	_, ok = h.call(0, 8)
	c.Check(ok, check.Equals, false)
	var nilh *Haplotype
	_, ok = nilh.call(0, 7)
	c.Check(ok, check.Equals, false)
}

func (s *haplotypeSuite) TestRefine(c *check.C) {
	fs := testFeatureSet(4)
	a, err := Assign(fs, []Prediction{
		{Cluster: 1, Posterior: 0.9},
		{Cluster: 1, Posterior: 0.8},
		{Cluster: 0, Posterior: 0.3},
		{Cluster: 0, Posterior: 0.7},
	})
	c.Assert(err, check.IsNil)
	c.Check(a.Ambiguous.Leaves, check.DeepEquals, []int{2})
	dg, err := AverageLinkage(pairDistances, 4)
	c.Assert(err, check.IsNil)
	c.Assert(a.Refine(dg, fs), check.IsNil)

	c.Assert(a.Strains, check.HasLen, 2)
	c.Check(a.Strains[0].Strain, check.Equals, 1)
	c.Check(a.Strains[0].Root, check.Equals, 5)
	c.Check(a.Strains[0].Leaves, check.DeepEquals, []int{2, 3})
	c.Check(a.Strains[1].Strain, check.Equals, 2)
	c.Check(a.Strains[1].Root, check.Equals, 4)
	c.Check(a.Strains[1].Leaves, check.DeepEquals, []int{0, 1})
	// the ambiguous bucket survives refinement
	c.Check(a.Ambiguous.Leaves, check.DeepEquals, []int{2})
}

func (s *haplotypeSuite) TestRefineLeafMismatch(c *check.C) {
	fs := testFeatureSet(3)
	a, err := Assign(fs, []Prediction{{}, {}, {}})
	c.Assert(err, check.IsNil)
	dg, err := AverageLinkage(pairDistances, 4)
	c.Assert(err, check.IsNil)
	c.Check(errors.Is(a.Refine(dg, fs), ErrInconsistentDendrogram), check.Equals, true)
}

func (s *haplotypeSuite) TestCheckPartition(c *check.C) {
	h1 := &Haplotype{Leaves: []int{0, 2}}
	h2 := &Haplotype{Leaves: []int{1}}
	c.Check(checkPartition([]*Haplotype{h1, h2}, 3), check.IsNil)
	c.Check(checkPartition([]*Haplotype{h1}, 3), check.ErrorMatches, `.*leaf 1 not in any haplotype`)
	c.Check(checkPartition([]*Haplotype{h1, h1}, 3), check.ErrorMatches, `.*leaf 0 in more than one haplotype`)
	c.Check(checkPartition([]*Haplotype{h1, h2}, 2), check.ErrorMatches, `.*leaf 2 out of range`)
}

func (s *haplotypeSuite) TestMaxWeightMatching(c *check.C) {
	c.Check(maxWeightMatching([][]int{
		{1, 5, 0},
		{4, 1, 0},
		{0, 0, 3},
	}), check.DeepEquals, []int{1, 0, 2})
}
