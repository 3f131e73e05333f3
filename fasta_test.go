// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"io/ioutil"

	"gopkg.in/check.v1"
)

type fastaSuite struct{}

var _ = check.Suite(&fastaSuite{})

func (s *fastaSuite) TestLoadReference(c *check.C) {
	fnm := c.MkDir() + "/ref.fna"
	err := ioutil.WriteFile(fnm, []byte(">contig_1 some description\nacgtAC\nGT\n>contig_2\nTTTT\n"), 0644)
	c.Assert(err, check.IsNil)
	refs, err := LoadReference(fnm)
	c.Assert(err, check.IsNil)
	c.Check(refs, check.DeepEquals, []RefSeq{
		{Name: "contig_1", Seq: []byte("ACGTACGT")},
		{Name: "contig_2", Seq: []byte("TTTT")},
	})

	_, err = LoadReference(c.MkDir() + "/missing.fna")
	c.Check(err, check.NotNil)
}

func (s *fastaSuite) TestApplyReference(c *check.C) {
	pm := NewPopulationMatrix()
	pm.AddSample("s1")
	c.Assert(pm.AddContig(PileupStats{Contig: 3, ContigName: "contig_1", ContigLen: 8, Sequence: []byte("NNNNNNNN")}, 0), check.IsNil)
	err := applyReference(pm, []RefSeq{
		{Name: "contig_1", Seq: []byte("ACGTACGT")},
		{Name: "unrelated", Seq: []byte("A")},
	})
	c.Assert(err, check.IsNil)
	c.Check(string(pm.Sequence(3)), check.Equals, "ACGTACGT")
	c.Check(pm.Contigs(), check.DeepEquals, []ContigID{3})

	pm.Freeze()
	c.Check(applyReference(pm, []RefSeq{{Name: "contig_1"}}), check.Equals, ErrFrozen)
}
