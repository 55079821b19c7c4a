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
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// =============================================================================
// Helpers
// =============================================================================

// separableGraph builds n nodes where label 1 nodes have a high first
// feature, wired as a ring plus a few random chords.
func separableGraph(t *testing.T, n, width int) ([][]float64, *Adjacency, []int) {
	t.Helper()
	rng := rand.New(rand.NewPCG(3, 4))
	rows := make([][]float64, n)
	y := make([]int, n)
	for i := range rows {
		rows[i] = make([]float64, width)
		for j := range rows[i] {
			rows[i][j] = rng.Float64()
		}
		if i%4 == 0 {
			y[i] = 1
			rows[i][0] += 5
		}
	}
	var src, dst []int
	for i := 0; i < n; i++ {
		src = append(src, i)
		dst = append(dst, (i+1)%n)
		src = append(src, rng.IntN(n))
		dst = append(dst, i)
	}
	adj, err := NewAdjacency(n, src, dst)
	require.NoError(t, err)
	return rows, adj, y
}

func frobDot(a, b *mat.Dense) float64 {
	r, c := a.Dims()
	var s float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s += a.At(i, j) * b.At(i, j)
		}
	}
	return s
}

// =============================================================================
// Adjacency Tests
// =============================================================================

func TestAdjacency_MeanAggregation(t *testing.T) {
	// 0->2, 1->2, 1->2 (parallel), 2->0
	adj, err := NewAdjacency(3, []int{0, 1, 1, 2}, []int{2, 2, 2, 0})
	require.NoError(t, err)

	x := mat.NewDense(3, 2, []float64{
		3, 0,
		0, 3,
		10, 10,
	})
	agg := adj.aggregate(x)

	assert.Equal(t, []float64{10, 10}, agg.RawRowView(0))
	assert.Equal(t, []float64{0, 0}, agg.RawRowView(1), "no incoming edges aggregates to zero")
	assert.InDeltaSlice(t, []float64{1, 2}, agg.RawRowView(2), 1e-12, "parallel edges keep multiplicity")
}

func TestAdjacency_AggregateTIsTranspose(t *testing.T) {
	_, adj, _ := separableGraph(t, 12, 3)
	rng := rand.New(rand.NewPCG(9, 9))
	fill := func() *mat.Dense {
		d := make([]float64, 12*3)
		for i := range d {
			d[i] = rng.NormFloat64()
		}
		return mat.NewDense(12, 3, d)
	}
	x, g := fill(), fill()

	assert.InDelta(t, frobDot(adj.aggregate(x), g), frobDot(x, adj.aggregateT(g)), 1e-9)
}

func TestAdjacency_WithEdgeDoesNotMutate(t *testing.T) {
	adj, err := NewAdjacency(3, []int{0}, []int{1})
	require.NoError(t, err)

	next := adj.WithEdge(2, 1)

	assert.Equal(t, 1, adj.InDegree(1))
	assert.Equal(t, 2, next.InDegree(1))
	assert.Equal(t, 0, next.InDegree(0))

	// A second derived copy must not see the first one's edge.
	other := adj.WithEdge(0, 1)
	assert.Equal(t, []int{0, 0}, other.in[1])
	assert.Equal(t, []int{0, 2}, next.in[1])
}

func TestNewAdjacency_Errors(t *testing.T) {
	_, err := NewAdjacency(2, []int{0}, []int{})
	assert.Error(t, err)
	_, err = NewAdjacency(2, []int{0}, []int{2})
	assert.Error(t, err)
}

// =============================================================================
// Gradient Tests
// =============================================================================

func TestLossAndGrad_MatchesFiniteDifferences(t *testing.T) {
	rows, adj, y := separableGraph(t, 8, 3)
	x := mat.NewDense(8, 3, nil)
	for i, r := range rows {
		x.SetRow(i, r)
	}
	net := NewMuleSAGE(3, 4, 2, 11)

	_, grads, _, err := net.lossAndGrad(x, adj, y)
	require.NoError(t, err)

	const h = 1e-6
	params := net.params()
	analytic := grads.flat()
	for p := range params {
		for i := range params[p] {
			orig := params[p][i]

			params[p][i] = orig + h
			lossPlus, _, _, err := net.lossAndGrad(x, adj, y)
			require.NoError(t, err)

			params[p][i] = orig - h
			lossMinus, _, _, err := net.lossAndGrad(x, adj, y)
			require.NoError(t, err)

			params[p][i] = orig

			numeric := (lossPlus - lossMinus) / (2 * h)
			assert.InDelta(t, numeric, analytic[p][i], 1e-6, "param group %d index %d", p, i)
		}
	}
}

func TestForward_RowsAreLogDistributions(t *testing.T) {
	rows, adj, _ := separableGraph(t, 10, 5)
	s, err := FitScaler(rows)
	require.NoError(t, err)

	logp, err := NewMuleSAGE(5, 16, 2, 1).Forward(s.Transform(rows), adj)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		r := logp.RawRowView(i)
		assert.InDelta(t, 1.0, math.Exp(r[0])+math.Exp(r[1]), 1e-12)
	}
}

func TestForward_ShapeErrors(t *testing.T) {
	_, adj, _ := separableGraph(t, 4, 5)
	net := NewMuleSAGE(5, 4, 2, 1)

	_, err := net.Forward(mat.NewDense(3, 5, nil), adj)
	assert.ErrorContains(t, err, "graph nodes")

	_, err = net.Forward(mat.NewDense(4, 3, nil), adj)
	assert.ErrorContains(t, err, "feature width")
}

// =============================================================================
// Training Tests
// =============================================================================

func TestTrain_LearnsSeparableLabels(t *testing.T) {
	rows, adj, y := separableGraph(t, 60, 5)

	m, report, err := Train(context.Background(), rows, adj, y, TrainConfig{Epochs: 200, Seed: 5})
	require.NoError(t, err)

	assert.Less(t, report.FinalLoss, report.InitialLoss)
	assert.GreaterOrEqual(t, report.TrainAccuracy, 0.9)
	assert.Equal(t, 15, report.FraudNodes)
	assert.Equal(t, 200, m.Meta.Epochs)

	probs, err := m.Probabilities(m.Scaler.Transform(rows), adj)
	require.NoError(t, err)
	var fraudMean, safeMean float64
	for i, p := range probs {
		if y[i] == 1 {
			fraudMean += p / 15
		} else {
			safeMean += p / 45
		}
	}
	assert.Greater(t, fraudMean, safeMean)
}

func TestTrain_Deterministic(t *testing.T) {
	rows, adj, y := separableGraph(t, 20, 5)
	cfg := TrainConfig{Epochs: 5, Seed: 9}

	a, _, err := Train(context.Background(), rows, adj, y, cfg)
	require.NoError(t, err)
	b, _, err := Train(context.Background(), rows, adj, y, cfg)
	require.NoError(t, err)

	assert.Equal(t, a.Net.Conv2.Bias, b.Net.Conv2.Bias)
}

func TestTrain_Cancelled(t *testing.T) {
	rows, adj, y := separableGraph(t, 20, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Train(ctx, rows, adj, y, TrainConfig{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestTrain_LabelOutOfRange(t *testing.T) {
	rows, adj, y := separableGraph(t, 8, 5)
	y[3] = 2
	_, _, err := Train(context.Background(), rows, adj, y, TrainConfig{Epochs: 1})
	assert.ErrorContains(t, err, "label")
}

// =============================================================================
// Scaler Tests
// =============================================================================

func TestFitScaler_PopulationStd(t *testing.T) {
	s, err := FitScaler([][]float64{{1, 7}, {3, 7}})
	require.NoError(t, err)

	assert.Equal(t, []float64{2, 7}, s.Mean)
	assert.InDelta(t, 1.0, s.Std[0], 1e-12)
	assert.Equal(t, 1.0, s.Std[1], "constant column gets unit std")
	assert.Equal(t, []float64{-1, 0}, s.TransformRow([]float64{1, 7}))
}

func TestFitScaler_Errors(t *testing.T) {
	_, err := FitScaler(nil)
	assert.Error(t, err)
	_, err = FitScaler([][]float64{{1, 2}, {1}})
	assert.Error(t, err)
}

// =============================================================================
// Artifact Tests
// =============================================================================

func TestArtifact_SaveLoadRoundTrip(t *testing.T) {
	rows, adj, y := separableGraph(t, 16, 5)
	m, _, err := Train(context.Background(), rows, adj, y, TrainConfig{Epochs: 3})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "mule_model.json")
	require.NoError(t, m.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	x := m.Scaler.Transform(rows)
	want, err := m.Probabilities(x, adj)
	require.NoError(t, err)
	got, err := loaded.Probabilities(loaded.Scaler.Transform(rows), adj)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, m.Meta.Epochs, loaded.Meta.Epochs)
}

func TestDecode_RejectsIncompatible(t *testing.T) {
	rows, adj, y := separableGraph(t, 8, 5)
	m, _, err := Train(context.Background(), rows, adj, y, TrainConfig{Epochs: 1})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Encode(&buf))
	tampered := strings.Replace(buf.String(), `"pagerank"`, `"page_rank"`, 1)

	_, err = Decode(strings.NewReader(tampered))
	assert.ErrorIs(t, err, ErrIncompatibleArtifact)

	_, err = Decode(strings.NewReader("{not json"))
	assert.Error(t, err)
}
