// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package hgvs describes how an emitted strain sequence differs from
// its reference contig, using HGVS genomic notation.
package hgvs

import (
	"fmt"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Change is one contiguous difference between a reference contig and
// a strain. Pos is the 1-based reference position of the first
// replaced base, or of the base following an insertion.
type Change struct {
	Pos int
	Ref string
	Alt string
}

// String returns the HGVS description of c without the sequence
// name, e.g. "5A>G", "6_7del", "4delinsCC".
func (c Change) String() string {
	last := c.Pos + len(c.Ref) - 1
	switch {
	case c.Ref == "" && c.Alt == "":
		return fmt.Sprintf("%d=", c.Pos)
	case c.Ref == "":
		return fmt.Sprintf("%d_%dins%s", c.Pos-1, c.Pos, c.Alt)
	case c.Alt == "" && last == c.Pos:
		return fmt.Sprintf("%ddel", c.Pos)
	case c.Alt == "":
		return fmt.Sprintf("%d_%ddel", c.Pos, last)
	case len(c.Ref) == 1 && len(c.Alt) == 1:
		return fmt.Sprintf("%d%s>%s", c.Pos, c.Ref, c.Alt)
	case last == c.Pos:
		return fmt.Sprintf("%ddelins%s", c.Pos, c.Alt)
	default:
		return fmt.Sprintf("%d_%ddelins%s", c.Pos, last, c.Alt)
	}
}

// Compare returns the changes that turn ref into strain, in reference
// order. A nonzero timeout bounds the alignment; if it expires the
// changes are still correct but may not be minimal, and the second
// return value is true.
func Compare(ref, strain string, timeout time.Duration) ([]Change, bool) {
	dmp := diffmatchpatch.New()
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	diffs := dmp.DiffBisect(ref, strain, deadline)
	timedOut := timeout > 0 && time.Now().After(deadline)
	diffs = anchorRepeats(coalesce(dmp.DiffCleanupEfficiency(diffs)))

	var changes []Change
	var open *Change
	pos := 1
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			if open != nil {
				changes = append(changes, *open)
				open = nil
			}
			pos += len(d.Text)
			continue
		}
		if open == nil {
			open = &Change{Pos: pos}
		}
		if d.Type == diffmatchpatch.DiffDelete {
			open.Ref += d.Text
			pos += len(d.Text)
		} else {
			open.Alt += d.Text
		}
	}
	if open != nil {
		changes = append(changes, *open)
	}
	return changes, timedOut
}

// coalesce joins adjacent diffs of the same type.
func coalesce(diffs []diffmatchpatch.Diff) []diffmatchpatch.Diff {
	out := make([]diffmatchpatch.Diff, 0, len(diffs))
	for _, d := range diffs {
		if n := len(out); n > 0 && out[n-1].Type == d.Type {
			out[n-1].Text += d.Text
			continue
		}
		out = append(out, d)
	}
	return out
}

// anchorRepeats rewrites [del X, =E, ins YE] as [del X, ins EY, =E],
// so a replaced run that copies the following reference bases is
// reported as one change at the replaced position.
func anchorRepeats(diffs []diffmatchpatch.Diff) []diffmatchpatch.Diff {
	for i := 0; i+2 < len(diffs); i++ {
		del, eq, ins := diffs[i], diffs[i+1], diffs[i+2]
		if del.Type != diffmatchpatch.DiffDelete ||
			eq.Type != diffmatchpatch.DiffEqual ||
			ins.Type != diffmatchpatch.DiffInsert ||
			!strings.HasSuffix(ins.Text, eq.Text) {
			continue
		}
		ins.Text = eq.Text + strings.TrimSuffix(ins.Text, eq.Text)
		diffs[i+1], diffs[i+2] = ins, eq
	}
	return diffs
}

// Annotate returns the changes between a reference contig and a
// strain as HGVS descriptions on the named contig, e.g.
// "contig_1:g.5A>G". Case is ignored.
func Annotate(name string, ref, strain []byte, timeout time.Duration) ([]string, bool) {
	changes, timedOut := Compare(strings.ToUpper(string(ref)), strings.ToUpper(string(strain)), timeout)
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = name + ":g." + c.String()
	}
	return out, timedOut
}
