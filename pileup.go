// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
)

// ContigID identifies a reference sequence.
type ContigID int32

// RefPlaceholder is the variant key upstream uses for the reference
// call at a position. It never becomes a feature.
const RefPlaceholder = "R"

// Abundance is the (variant count, position depth) pair reported by
// the pileup for one variant in one sample.
type Abundance struct {
	Count int
	Depth int
}

// PileupStats is one sample's upstream summary of one contig.
type PileupStats struct {
	Contig       ContigID
	ContigName   string
	ContigLen    int
	Coverage     float64
	Variance     float64
	MeanGenotype float64
	// position => variant key => abundance
	Variants map[int]map[string]Abundance
	// position => base => IDs of reads supporting it
	SNPs map[int]map[string][]int64
	// position => indel key => IDs of reads supporting it
	Indels   map[int]map[string][]int64
	Sequence []byte
}

// ContigKmers holds k-mer counts for one contig.
type ContigKmers struct {
	Contig ContigID
	Counts map[string]int
}

// PileupEntry is the unit of a pileup stream. One stream may carry
// any number of entries for any number of samples.
type PileupEntry struct {
	Sample  string
	Contigs int
	Stats   []PileupStats
	Kmers   []ContigKmers
}

var errStopDecode = errors.New("stop decoding")

// DecodePileup calls cb for each entry in a gob-encoded pileup
// stream.
func DecodePileup(rdr io.Reader, gz bool, cb func(*PileupEntry) error) error {
	if gz {
		zrdr, err := pgzip.NewReader(bufio.NewReaderSize(rdr, 1<<22))
		if err != nil {
			return err
		}
		defer zrdr.Close()
		rdr = zrdr
	}
	dec := gob.NewDecoder(bufio.NewReaderSize(rdr, 1<<22))
	for {
		var ent PileupEntry
		err := dec.Decode(&ent)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("gob decode: %w", err)
		}
		err = cb(&ent)
		if err == errStopDecode {
			return nil
		} else if err != nil {
			return err
		}
	}
}

// EncodePileup writes entries to w in the format read by
// DecodePileup.
func EncodePileup(w io.Writer, gz bool, ents ...PileupEntry) error {
	var zw *pgzip.Writer
	if gz {
		zw = pgzip.NewWriter(w)
		w = zw
	}
	bufw := bufio.NewWriter(w)
	enc := gob.NewEncoder(bufw)
	for _, ent := range ents {
		err := enc.Encode(ent)
		if err != nil {
			return err
		}
	}
	err := bufw.Flush()
	if err != nil {
		return err
	}
	if zw != nil {
		return zw.Close()
	}
	return nil
}

// zopen opens fnm for reading, transparently decompressing it if fnm
// ends with ".gz".
func zopen(fnm string) (io.ReadCloser, error) {
	f, err := os.Open(fnm)
	if err != nil || !strings.HasSuffix(fnm, ".gz") {
		return f, err
	}
	rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	if err != nil {
		f.Close()
		return nil, err
	}
	return gzipr{rdr, f}, nil
}

// gzipr wraps a ReadCloser and a Closer, presenting a single Close()
// method that closes both wrapped objects.
type gzipr struct {
	io.ReadCloser
	io.Closer
}

func (gr gzipr) Close() error {
	e1 := gr.ReadCloser.Close()
	e2 := gr.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

// loadPileups reads the given pileup files in order and feeds every
// entry to the matrix. Sample names are registered the first time
// they appear.
func loadPileups(pm *PopulationMatrix, infiles []string) error {
	for _, infile := range infiles {
		f, err := zopen(infile)
		if err != nil {
			return err
		}
		err = DecodePileup(f, false, func(ent *PileupEntry) error {
			sampleIdx, err := pm.SampleIndex(ent.Sample)
			if err != nil {
				return err
			}
			for _, k := range ent.Kmers {
				err = pm.AddKmers(k.Contig, ent.Contigs, k.Counts)
				if err != nil {
					return err
				}
			}
			for _, st := range ent.Stats {
				err = pm.AddContig(st, sampleIdx)
				if err != nil {
					return fmt.Errorf("%s: sample %q contig %d: %w", infile, ent.Sample, st.Contig, err)
				}
			}
			return nil
		})
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", infile, err)
		}
	}
	return nil
}
