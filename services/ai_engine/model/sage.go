// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model implements MuleSAGE, a two-layer GraphSAGE classifier with
// mean aggregation, together with its trainer and artifact format.
//
// # Architecture
//
//	h1  = ReLU(SAGEConv(x))      5 -> hidden
//	h2  = SAGEConv(h1)           hidden -> 2
//	out = log_softmax(h2)
//
// where SAGEConv(x)_i = W_neigh^T mean_{j->i} x_j + W_root^T x_i + b.
//
// All math runs on gonum dense matrices; the graph is small enough
// (thousands of nodes, single process) for full-batch training.
package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// SAGEConv is one mean-aggregation GraphSAGE layer.
type SAGEConv struct {
	// WNeigh is in x out, applied to the neighbour mean.
	WNeigh *mat.Dense
	// WRoot is in x out, applied to the node itself.
	WRoot *mat.Dense
	// Bias has length out.
	Bias []float64
}

// newSAGEConv initialises weights uniformly in ±1/sqrt(in).
func newSAGEConv(rng *rand.Rand, in, out int) *SAGEConv {
	bound := 1 / math.Sqrt(float64(in))
	draw := func(n int) []float64 {
		v := make([]float64, n)
		for i := range v {
			v[i] = (rng.Float64()*2 - 1) * bound
		}
		return v
	}
	return &SAGEConv{
		WNeigh: mat.NewDense(in, out, draw(in*out)),
		WRoot:  mat.NewDense(in, out, draw(in*out)),
		Bias:   draw(out),
	}
}

// dims returns (in, out).
func (l *SAGEConv) dims() (int, int) {
	return l.WNeigh.Dims()
}

// forward computes agg·WNeigh + x·WRoot + b.
func (l *SAGEConv) forward(x, agg *mat.Dense) *mat.Dense {
	var h, root mat.Dense
	h.Mul(agg, l.WNeigh)
	root.Mul(x, l.WRoot)
	h.Add(&h, &root)
	addBias(&h, l.Bias)
	return &h
}

// MuleSAGE is the two-layer classifier.
type MuleSAGE struct {
	Conv1 *SAGEConv
	Conv2 *SAGEConv
}

// NewMuleSAGE creates a randomly initialised network.
func NewMuleSAGE(in, hidden, out int, seed uint64) *MuleSAGE {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	return &MuleSAGE{
		Conv1: newSAGEConv(rng, in, hidden),
		Conv2: newSAGEConv(rng, hidden, out),
	}
}

// InChannels returns the expected feature width.
func (m *MuleSAGE) InChannels() int {
	in, _ := m.Conv1.dims()
	return in
}

// forwardCache keeps intermediates needed for backprop.
type forwardCache struct {
	x, aggX   *mat.Dense
	h1, z1    *mat.Dense
	aggZ1     *mat.Dense
	logProbas *mat.Dense
}

// Forward returns row-wise log-probabilities (n x out).
func (m *MuleSAGE) Forward(x *mat.Dense, adj *Adjacency) (*mat.Dense, error) {
	c, err := m.forward(x, adj)
	if err != nil {
		return nil, err
	}
	return c.logProbas, nil
}

func (m *MuleSAGE) forward(x *mat.Dense, adj *Adjacency) (*forwardCache, error) {
	r, c := x.Dims()
	if r != adj.N() {
		return nil, fmt.Errorf("feature rows %d != graph nodes %d", r, adj.N())
	}
	if c != m.InChannels() {
		return nil, fmt.Errorf("feature width %d != model input %d", c, m.InChannels())
	}

	fc := &forwardCache{x: x}
	fc.aggX = adj.aggregate(x)
	fc.h1 = m.Conv1.forward(x, fc.aggX)

	z1 := mat.DenseCopyOf(fc.h1)
	z1.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, z1)
	fc.z1 = z1

	fc.aggZ1 = adj.aggregate(z1)
	h2 := m.Conv2.forward(z1, fc.aggZ1)
	logSoftmaxRows(h2)
	fc.logProbas = h2
	return fc, nil
}

// gradients mirrors the parameter layout of MuleSAGE.
type gradients struct {
	conv1, conv2 convGrad
}

type convGrad struct {
	wNeigh, wRoot *mat.Dense
	bias          []float64
}

// lossAndGrad computes mean NLL over all rows and its gradients.
func (m *MuleSAGE) lossAndGrad(x *mat.Dense, adj *Adjacency, y []int) (float64, *gradients, *forwardCache, error) {
	fc, err := m.forward(x, adj)
	if err != nil {
		return 0, nil, nil, err
	}
	n, classes := fc.logProbas.Dims()
	if len(y) != n {
		return 0, nil, nil, fmt.Errorf("labels %d != rows %d", len(y), n)
	}

	// dL/dh2 = (softmax - onehot) / n
	dH2 := mat.NewDense(n, classes, nil)
	var loss float64
	invN := 1 / float64(n)
	for i := 0; i < n; i++ {
		lp := fc.logProbas.RawRowView(i)
		if y[i] < 0 || y[i] >= classes {
			return 0, nil, nil, fmt.Errorf("label %d at row %d outside [0,%d)", y[i], i, classes)
		}
		loss -= lp[y[i]]
		row := dH2.RawRowView(i)
		for k := range row {
			row[k] = math.Exp(lp[k]) * invN
		}
		row[y[i]] -= invN
	}
	loss *= invN

	g := &gradients{}
	g.conv2 = convBackward(m.Conv2, fc.z1, fc.aggZ1, dH2)

	// dZ1 = AggT(dH2·WNeigh2ᵀ) + dH2·WRoot2ᵀ
	var viaNeigh, viaRoot mat.Dense
	viaNeigh.Mul(dH2, m.Conv2.WNeigh.T())
	viaRoot.Mul(dH2, m.Conv2.WRoot.T())
	dZ1 := adj.aggregateT(&viaNeigh)
	dZ1.Add(dZ1, &viaRoot)

	// ReLU gate.
	dZ1.Apply(func(i, j int, v float64) float64 {
		if fc.h1.At(i, j) > 0 {
			return v
		}
		return 0
	}, dZ1)

	g.conv1 = convBackward(m.Conv1, fc.x, fc.aggX, dZ1)
	return loss, g, fc, nil
}

// convBackward returns parameter gradients of one layer given its inputs
// and the gradient of its output.
func convBackward(l *SAGEConv, x, agg, dOut *mat.Dense) convGrad {
	in, out := l.dims()
	gN := mat.NewDense(in, out, nil)
	gR := mat.NewDense(in, out, nil)
	gN.Mul(agg.T(), dOut)
	gR.Mul(x.T(), dOut)

	n, _ := dOut.Dims()
	bias := make([]float64, out)
	for i := 0; i < n; i++ {
		for k, v := range dOut.RawRowView(i) {
			bias[k] += v
		}
	}
	return convGrad{wNeigh: gN, wRoot: gR, bias: bias}
}

// params returns flat views of every trainable parameter, in a fixed order
// shared with gradients.flat.
func (m *MuleSAGE) params() [][]float64 {
	return [][]float64{
		m.Conv1.WNeigh.RawMatrix().Data,
		m.Conv1.WRoot.RawMatrix().Data,
		m.Conv1.Bias,
		m.Conv2.WNeigh.RawMatrix().Data,
		m.Conv2.WRoot.RawMatrix().Data,
		m.Conv2.Bias,
	}
}

func (g *gradients) flat() [][]float64 {
	return [][]float64{
		g.conv1.wNeigh.RawMatrix().Data,
		g.conv1.wRoot.RawMatrix().Data,
		g.conv1.bias,
		g.conv2.wNeigh.RawMatrix().Data,
		g.conv2.wRoot.RawMatrix().Data,
		g.conv2.bias,
	}
}

func addBias(h *mat.Dense, b []float64) {
	r, _ := h.Dims()
	for i := 0; i < r; i++ {
		row := h.RawRowView(i)
		for k := range row {
			row[k] += b[k]
		}
	}
}

// logSoftmaxRows replaces each row with its log-softmax in place.
func logSoftmaxRows(h *mat.Dense) {
	r, _ := h.Dims()
	for i := 0; i < r; i++ {
		row := h.RawRowView(i)
		maxV := math.Inf(-1)
		for _, v := range row {
			maxV = math.Max(maxV, v)
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(v - maxV)
		}
		lse := maxV + math.Log(sum)
		for k := range row {
			row[k] -= lse
		}
	}
}
