// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WriteVariantStats writes one tab-separated row per contig with
// each sample's substitution rate and reference/variant abundance
// summary.
func WriteVariantStats(w io.Writer, pm *PopulationMatrix) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprint(bufw, "contigName\tcontigLen")
	for _, name := range pm.Samples() {
		fmt.Fprintf(bufw, "\t%[1]s.subsPer10kb\t%[1]s.variants\t%[1]s.meanRefAbd\t%[1]s.refStdDev\t%[1]s.meanVarAbd\t%[1]s.varStdDev", name)
	}
	fmt.Fprint(bufw, "\n")
	for _, tid := range pm.Contigs() {
		contigLen := pm.ContigLen(tid)
		fmt.Fprintf(bufw, "%s\t%d", pm.ContigName(tid), contigLen)
		for sampleIdx := range pm.Samples() {
			nvariants, _ := pm.VariantCount(sampleIdx, tid)
			sums, ok := pm.VariantSums(sampleIdx, tid)
			var subs, refMean, refStd, varMean, varStd float64
			if ok && nvariants > 0 {
				if contigLen > 0 {
					subs = float64(nvariants) / (float64(contigLen) / 10000)
				}
				varMean, varStd = meanStdDev(sums[0])
				refMean, refStd = meanStdDev(sums[2])
			}
			fmt.Fprintf(bufw, "\t%.3f\t%d\t%.3f\t%.3f\t%.3f\t%.3f", subs, nvariants, refMean, refStd, varMean, varStd)
		}
		fmt.Fprint(bufw, "\n")
	}
	return bufw.Flush()
}

// meanStdDev returns the mean and population standard deviation of x.
func meanStdDev(x []float64) (float64, float64) {
	if len(x) == 0 {
		return 0, 0
	}
	mean := stat.Mean(x, nil)
	return mean, math.Sqrt(stat.MomentAbout(2, x, mean, nil))
}

// WriteKmers writes the k-mer table: a header naming each k-mer in
// lexicographic order, then one row of counts per contig.
func WriteKmers(w io.Writer, pm *PopulationMatrix) error {
	kmers := make([]string, 0, len(pm.kmers))
	for kmer := range pm.kmers {
		kmers = append(kmers, kmer)
	}
	sort.Strings(kmers)
	bufw := bufio.NewWriter(w)
	fmt.Fprint(bufw, "contigName")
	for _, kmer := range kmers {
		fmt.Fprintf(bufw, "\t%s", kmer)
	}
	fmt.Fprint(bufw, "\n")
	for _, tid := range pm.Contigs() {
		if !pm.kmerSeen[tid] {
			continue
		}
		fmt.Fprint(bufw, pm.ContigName(tid))
		for _, kmer := range kmers {
			n := 0
			if vec := pm.kmers[kmer]; int(tid) < len(vec) {
				n = vec[tid]
			}
			fmt.Fprintf(bufw, "\t%d", n)
		}
		fmt.Fprint(bufw, "\n")
	}
	return bufw.Flush()
}
