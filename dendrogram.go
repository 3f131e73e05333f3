// Copyright (C) The Lorikeet Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lorikeet

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrInconsistentDendrogram = errors.New("inconsistent dendrogram")

// Step is one agglomerative merge. A and B are the labels of the
// merged nodes; leaves are labelled 0..n-1 and the node created by
// step i is labelled n+i.
type Step struct {
	A, B     int
	Distance float64
	Size     int
}

// Dendrogram is a merge tree over Leaves leaves.
type Dendrogram struct {
	Leaves int
	Steps  []Step
}

// AverageLinkage clusters n points given their condensed pairwise
// distances, merging the closest pair of clusters (UPGMA) until one
// remains.
func AverageLinkage(dist []float64, n int) (*Dendrogram, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: no leaves", ErrInconsistentDendrogram)
	}
	if len(dist) != n*(n-1)/2 {
		return nil, fmt.Errorf("%w: %d distances for %d leaves", ErrInconsistentDendrogram, len(dist), n)
	}
	// d is a full symmetric copy indexed by slot. A merged cluster
	// reuses the slot of one of its children.
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			x := dist[condensedIndex(n, i, j)]
			d[i][j], d[j][i] = x, x
		}
	}
	label := make([]int, n)
	size := make([]int, n)
	active := make([]bool, n)
	for i := range label {
		label[i] = i
		size[i] = 1
		active[i] = true
	}
	nn := make([]int, n)
	nnDist := make([]float64, n)
	nearest := func(i int) {
		nn[i], nnDist[i] = -1, math.Inf(1)
		for j := 0; j < n; j++ {
			if j != i && active[j] && d[i][j] < nnDist[i] {
				nn[i], nnDist[i] = j, d[i][j]
			}
		}
	}
	for i := 0; i < n; i++ {
		nearest(i)
	}

	dg := &Dendrogram{Leaves: n}
	for merges := 0; merges < n-1; merges++ {
		a := -1
		for i := 0; i < n; i++ {
			if active[i] && nn[i] >= 0 && (a < 0 || nnDist[i] < nnDist[a]) {
				a = i
			}
		}
		b := nn[a]
		if a > b {
			a, b = b, a
		}
		la, lb := label[a], label[b]
		if la > lb {
			la, lb = lb, la
		}
		dg.Steps = append(dg.Steps, Step{A: la, B: lb, Distance: d[a][b], Size: size[a] + size[b]})

		// b's slot is retired and a's slot holds the new cluster
		active[b] = false
		for k := 0; k < n; k++ {
			if !active[k] || k == a {
				continue
			}
			x := (float64(size[a])*d[a][k] + float64(size[b])*d[b][k]) / float64(size[a]+size[b])
			d[a][k], d[k][a] = x, x
		}
		size[a] += size[b]
		label[a] = n + merges
		for k := 0; k < n; k++ {
			if !active[k] || k == a {
				continue
			}
			if nn[k] == a || nn[k] == b {
				nearest(k)
			} else if d[k][a] < nnDist[k] {
				nn[k], nnDist[k] = a, d[k][a]
			}
		}
		nearest(a)
	}
	return dg, nil
}

// Validate checks the structural invariants root discovery depends
// on: n-1 steps, children labelled below their parent, and each
// label used as a child at most once.
func (dg *Dendrogram) Validate() error {
	n := dg.Leaves
	if n < 1 {
		return fmt.Errorf("%w: no leaves", ErrInconsistentDendrogram)
	}
	if len(dg.Steps) != n-1 {
		return fmt.Errorf("%w: %d steps for %d leaves", ErrInconsistentDendrogram, len(dg.Steps), n)
	}
	used := make([]bool, 2*n-1)
	for i, st := range dg.Steps {
		own := n + i
		for _, child := range []int{st.A, st.B} {
			if child < 0 || child >= own {
				return fmt.Errorf("%w: step %d (label %d) merges label %d", ErrInconsistentDendrogram, i, own, child)
			}
			if used[child] {
				return fmt.Errorf("%w: label %d merged twice", ErrInconsistentDendrogram, child)
			}
			used[child] = true
		}
		if st.A == st.B {
			return fmt.Errorf("%w: step %d merges label %d with itself", ErrInconsistentDendrogram, i, st.A)
		}
	}
	return nil
}

// children returns the two labels merged to create an internal node.
func (dg *Dendrogram) children(label int) (int, int, bool) {
	i := label - dg.Leaves
	if i < 0 || i >= len(dg.Steps) {
		return 0, 0, false
	}
	return dg.Steps[i].A, dg.Steps[i].B, true
}

// RootLabels cuts the tree into k subtrees by undoing the latest
// merges: starting from the children of the final step, the largest
// pending label is replaced by its children until k labels remain.
// For k=1 the returned label is the root itself, or the only leaf.
func (dg *Dendrogram) RootLabels(k int) ([]int, error) {
	if err := dg.Validate(); err != nil {
		return nil, err
	}
	n := dg.Leaves
	if k < 1 || k > n {
		return nil, fmt.Errorf("%w: cannot cut %d leaves into %d subtrees", ErrInconsistentDendrogram, n, k)
	}
	if k == 1 {
		return []int{2*n - 2}, nil
	}
	last := dg.Steps[len(dg.Steps)-1]
	pending := []int{last.A, last.B}
	for len(pending) < k {
		sort.Ints(pending)
		top := pending[len(pending)-1]
		a, b, ok := dg.children(top)
		if !ok {
			return nil, fmt.Errorf("%w: label %d has no children to expand", ErrInconsistentDendrogram, top)
		}
		pending = append(pending[:len(pending)-1], a, b)
	}
	sort.Ints(pending)
	return pending, nil
}

// LeavesUnder returns the leaf indices under label, ascending.
func (dg *Dendrogram) LeavesUnder(label int) []int {
	var leaves []int
	stack := []int{label}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top < dg.Leaves {
			leaves = append(leaves, top)
			continue
		}
		if a, b, ok := dg.children(top); ok {
			stack = append(stack, a, b)
		}
	}
	sort.Ints(leaves)
	return leaves
}
