// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/centre-for-microbiome-research/Lorikeet/hgvs"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

const fastaLineWidth = 60

// ApplyHaplotype returns the strain sequence of one contig and the
// number of calls applied. At each reference position the
// haplotype's own call is used if it has one, otherwise the
// ambiguous bucket's call, otherwise the reference base.
//
// A deletion call, "-n" or "Dn", keeps the reference base and skips
// the following n reference bases; one with an unparseable length
// leaves the reference base and is not counted. A call containing N
// keeps its first base and skips the following len-1 reference bases.
// Any other multi-base call is an insertion whose leading base
// repeats the reference and is dropped. A single-base call replaces
// the reference base.
func ApplyHaplotype(tid ContigID, ref []byte, own, ambiguous *Haplotype) ([]byte, int) {
	out := make([]byte, 0, len(ref))
	variations := 0
	skip := 0
	for pos, base := range ref {
		if skip > 0 {
			skip--
			continue
		}
		call, ok := own.call(tid, pos)
		if !ok {
			call, ok = ambiguous.call(tid, pos)
		}
		if !ok {
			out = append(out, base)
			continue
		}
		if call != "" && (call[0] == '-' || call[0] == 'D') {
			n, err := strconv.Atoi(call[1:])
			out = append(out, base)
			if err == nil && n > 0 {
				skip = n
				variations++
			}
			continue
		}
		variations++
		switch {
		case strings.Contains(call, "N"):
			skip = len(call) - 1
			out = append(out, call[0])
		case len(call) > 1:
			out = append(out, call[1:]...)
		default:
			out = append(out, call...)
		}
	}
	return out, variations
}

// wrapFasta writes seq to w, width characters per line.
func wrapFasta(w io.Writer, seq []byte, width int) error {
	for len(seq) > 0 {
		n := width
		if n > len(seq) {
			n = len(seq)
		}
		if _, err := w.Write(seq[:n]); err != nil {
			return err
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return err
		}
		seq = seq[n:]
	}
	return nil
}

// strainWriter writes one FASTA file (and optionally an HGVS
// annotation table) per exclusive strain.
type strainWriter struct {
	prefix   string
	annotate bool
	threads  int
	// per-contig diff timeout for annotations
	diffTimeout time.Duration
}

// WriteStrains writes {prefix}_strain_{idx}.fna for every exclusive
// strain and returns the file names in strain order.
func (sw *strainWriter) WriteStrains(pm *PopulationMatrix, a *Assignment) ([]string, error) {
	fnms := make([]string, len(a.Strains))
	digests := make([][blake2b.Size256]byte, len(a.Strains))
	var mtx sync.Mutex
	thr := throttle{Max: sw.threads}
	for i, h := range a.Strains {
		i, h := i, h
		if h.Strain == AmbiguousStrain {
			continue
		}
		thr.Go(func() error {
			fnm, digest, err := sw.writeStrain(pm, h, a.Ambiguous)
			if err != nil {
				return err
			}
			mtx.Lock()
			fnms[i], digests[i] = fnm, digest
			mtx.Unlock()
			return nil
		})
	}
	if err := thr.Wait(); err != nil {
		return nil, err
	}
	seen := map[[blake2b.Size256]byte]int{}
	var out []string
	for i, fnm := range fnms {
		if fnm == "" {
			continue
		}
		out = append(out, fnm)
		if prev, ok := seen[digests[i]]; ok {
			log.Warnf("strain %d has the same sequence as strain %d", a.Strains[i].Strain, a.Strains[prev].Strain)
			continue
		}
		seen[digests[i]] = i
	}
	return out, nil
}

func (sw *strainWriter) writeStrain(pm *PopulationMatrix, h, ambiguous *Haplotype) (string, [blake2b.Size256]byte, error) {
	var digest [blake2b.Size256]byte
	fnm := fmt.Sprintf("%s_strain_%d.fna", sw.prefix, h.Strain)
	f, err := os.Create(fnm)
	if err != nil {
		return "", digest, err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)

	var annow *bufio.Writer
	if sw.annotate {
		af, err := os.Create(fmt.Sprintf("%s_strain_%d.annotations.csv", sw.prefix, h.Strain))
		if err != nil {
			return "", digest, err
		}
		defer af.Close()
		annow = bufio.NewWriter(af)
	}

	hash, err := blake2b.New256(nil)
	if err != nil {
		return "", digest, err
	}
	for _, tid := range pm.Contigs() {
		ref := pm.Sequence(tid)
		if len(ref) == 0 {
			continue
		}
		strain, variations := ApplyHaplotype(tid, ref, h, ambiguous)
		fmt.Fprintf(bufw, ">%s_strain_%d\t#variants_%d\n", pm.ContigName(tid), h.Strain, variations)
		err = wrapFasta(bufw, strain, fastaLineWidth)
		if err != nil {
			return "", digest, err
		}
		hash.Write(strain)
		if annow != nil && variations > 0 {
			descs, timedOut := hgvs.Annotate(pm.ContigName(tid), ref, strain, sw.diffTimeout)
			if timedOut {
				log.Warnf("strain %d contig %s: diff timed out, annotations are approximate", h.Strain, pm.ContigName(tid))
			}
			for _, desc := range descs {
				fmt.Fprintf(annow, "%d,%s,%s\n", h.Strain, pm.ContigName(tid), desc)
			}
		}
	}
	err = bufw.Flush()
	if err != nil {
		return "", digest, err
	}
	if annow != nil {
		err = annow.Flush()
		if err != nil {
			return "", digest, err
		}
	}
	copy(digest[:], hash.Sum(nil))
	log.WithFields(log.Fields{
		"strain":   h.Strain,
		"variants": h.Size,
		"filename": fnm,
	}).Info("wrote strain")
	return fnm, digest, f.Close()
}
