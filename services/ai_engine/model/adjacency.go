// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Adjacency stores incoming neighbour lists. Messages flow along edge
// direction, so node i aggregates the features of every j with j->i.
// Parallel edges are kept and weigh the mean accordingly.
//
// An Adjacency is immutable once built; WithEdge returns a modified copy.
type Adjacency struct {
	n  int
	in [][]int
}

// NewAdjacency builds an adjacency over n nodes from parallel edge slices.
func NewAdjacency(n int, src, dst []int) (*Adjacency, error) {
	if len(src) != len(dst) {
		return nil, fmt.Errorf("edge slices differ in length: %d vs %d", len(src), len(dst))
	}
	in := make([][]int, n)
	for k := range src {
		s, d := src[k], dst[k]
		if s < 0 || s >= n || d < 0 || d >= n {
			return nil, fmt.Errorf("edge %d (%d->%d) out of range for %d nodes", k, s, d, n)
		}
		in[d] = append(in[d], s)
	}
	return &Adjacency{n: n, in: in}, nil
}

// N returns the node count.
func (a *Adjacency) N() int { return a.n }

// InDegree returns the number of incoming edges of node i.
func (a *Adjacency) InDegree(i int) int { return len(a.in[i]) }

// WithEdge returns a copy with one extra src->dst edge. Only the target's
// list is copied; the receiver is left untouched.
func (a *Adjacency) WithEdge(src, dst int) *Adjacency {
	in := make([][]int, a.n)
	copy(in, a.in)
	list := make([]int, len(a.in[dst]), len(a.in[dst])+1)
	copy(list, a.in[dst])
	in[dst] = append(list, src)
	return &Adjacency{n: a.n, in: in}
}

// aggregate returns the mean of incoming neighbour rows of x. Nodes with
// no incoming edges get a zero row.
func (a *Adjacency) aggregate(x *mat.Dense) *mat.Dense {
	_, c := x.Dims()
	out := mat.NewDense(a.n, c, nil)
	for i, srcs := range a.in {
		if len(srcs) == 0 {
			continue
		}
		row := out.RawRowView(i)
		for _, j := range srcs {
			xr := x.RawRowView(j)
			for k := range row {
				row[k] += xr[k]
			}
		}
		inv := 1 / float64(len(srcs))
		for k := range row {
			row[k] *= inv
		}
	}
	return out
}

// aggregateT applies the transpose of the mean operator: each node's
// gradient row is split evenly back onto its incoming neighbours.
func (a *Adjacency) aggregateT(g *mat.Dense) *mat.Dense {
	_, c := g.Dims()
	out := mat.NewDense(a.n, c, nil)
	for i, srcs := range a.in {
		if len(srcs) == 0 {
			continue
		}
		gr := g.RawRowView(i)
		inv := 1 / float64(len(srcs))
		for _, j := range srcs {
			row := out.RawRowView(j)
			for k := range row {
				row[k] += gr[k] * inv
			}
		}
	}
	return out
}
