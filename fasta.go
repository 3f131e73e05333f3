// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"
	log "github.com/sirupsen/logrus"
)

// RefSeq is one reference contig.
type RefSeq struct {
	Name string
	Seq  []byte
}

// LoadReference reads every record of a (possibly gzipped) FASTA
// file. Names are truncated at the first whitespace and sequences
// are uppercased.
func LoadReference(fnm string) ([]RefSeq, error) {
	seq.ValidateSeq = false
	reader, err := fastx.NewDefaultReader(fnm)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	defer reader.Close()
	var refs []RefSeq
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("%s: %w", fnm, err)
		}
		fields := strings.Fields(string(rec.Name))
		if len(fields) == 0 {
			return nil, fmt.Errorf("%s: record %d has no name", fnm, len(refs))
		}
		refs = append(refs, RefSeq{
			Name: fields[0],
			Seq:  bytes.ToUpper(rec.Seq.Seq),
		})
	}
	return refs, nil
}

// applyReference sets the sequence of every matrix contig that has a
// same-named record in refs.
func applyReference(pm *PopulationMatrix, refs []RefSeq) error {
	for _, ref := range refs {
		tid, ok := pm.ContigByName(ref.Name)
		if !ok {
			log.Debugf("reference %q has no pileup statistics, skipping", ref.Name)
			continue
		}
		if l := pm.ContigLen(tid); l != len(ref.Seq) {
			log.Warnf("reference %q is %d bp, pileup reports %d bp", ref.Name, len(ref.Seq), l)
		}
		err := pm.SetSequence(tid, ref.Name, ref.Seq)
		if err != nil {
			return err
		}
	}
	return nil
}
