// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package explain

import (
	"context"
	"math"
	"testing"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcModel struct {
	f   func([]float64) float64
	ref []float64
}

func (m funcModel) AnomalyScore(row []float64) float64 { return m.f(row) }
func (m funcModel) Reference() []float64               { return m.ref }

func linear(w ...float64) funcModel {
	return funcModel{
		f: func(z []float64) float64 {
			var s float64
			for i := range z {
				s += w[i] * z[i]
			}
			return s
		},
		ref: make([]float64, len(w)),
	}
}

func TestShapleyValues_Linear(t *testing.T) {
	m := linear(1, -2, 0.5, 0, 3)
	row := []float64{2, 1, 4, 9, -1}

	phi, base, err := ShapleyValues(m, row)
	require.NoError(t, err)

	assert.Equal(t, 0.0, base)
	want := []float64{2, -2, 2, 0, -3}
	for j := range want {
		assert.InDelta(t, want[j], phi[j], 1e-12)
	}
}

func TestShapleyValues_InteractionSplitsEvenly(t *testing.T) {
	m := funcModel{
		f:   func(z []float64) float64 { return z[0] * z[1] },
		ref: []float64{0, 0, 0},
	}

	phi, _, err := ShapleyValues(m, []float64{3, 4, 7})
	require.NoError(t, err)

	assert.InDelta(t, 6, phi[0], 1e-12)
	assert.InDelta(t, 6, phi[1], 1e-12)
	assert.InDelta(t, 0, phi[2], 1e-12)
}

func TestShapleyValues_Efficiency(t *testing.T) {
	m := funcModel{
		f: func(z []float64) float64 {
			return math.Tanh(z[0]*z[1]) + math.Max(z[2], z[3]) - z[4]*z[4]
		},
		ref: []float64{0.1, 0.2, 0.3, 0.4, 0.5},
	}
	row := []float64{1.5, -0.3, 2, 0.1, 1.1}

	phi, base, err := ShapleyValues(m, row)
	require.NoError(t, err)

	assert.InDelta(t, m.f(m.ref), base, 1e-12)
	assert.InDelta(t, m.f(row), base+sum(phi), 1e-12)
}

func TestShapleyValues_ShapeMismatch(t *testing.T) {
	_, _, err := ShapleyValues(linear(1, 2), []float64{1})
	assert.Error(t, err)
}

func scored(id int64, score float64, anomalous bool, f [5]float64) datatypes.ScoredNode {
	return datatypes.ScoredNode{
		EnrichedNode: datatypes.EnrichedNode{
			NodeID:        id,
			InDegree:      int(f[0]),
			OutDegree:     int(f[1]),
			TotalIncoming: f[2],
			TotalOutgoing: f[3],
			RiskRatio:     f[4],
		},
		AnomalyScore: score,
		IsAnomalous:  datatypes.AnomalyFlag(anomalous),
	}
}

func TestExplainer_OnlyAnomalousHighestFirst(t *testing.T) {
	m := linear(0, 0, 0, 0.001, 1)
	nodes := []datatypes.ScoredNode{
		scored(1, 0.05, true, [5]float64{1, 1, 10, 20, 2}),
		scored(2, -0.3, false, [5]float64{1, 1, 10, 10, 1}),
		scored(3, 0.20, true, [5]float64{5, 1, 10, 90, 9}),
	}

	exps, err := Explainer{}.Explain(context.Background(), m, nodes)
	require.NoError(t, err)

	require.Len(t, exps, 2)
	assert.Equal(t, int64(3), exps[0].NodeID)
	assert.Equal(t, int64(1), exps[1].NodeID)

	e := exps[0]
	require.Len(t, e.Contributions, 5)
	for j, c := range e.Contributions {
		assert.Equal(t, datatypes.AnomalyFeatureColumns[j], c.Feature)
	}
	assert.Equal(t, 90.0, e.Contributions[3].Value)
	assert.InDelta(t, 0.09, e.Contributions[3].ShapValue, 1e-12)
	assert.InDelta(t, 9, e.Contributions[4].ShapValue, 1e-12)
	assert.InDelta(t, 9.09, e.AnomalyScore, 1e-12)
}

func TestExplainer_Cap(t *testing.T) {
	nodes := make([]datatypes.ScoredNode, 0, 10)
	for i := 0; i < 10; i++ {
		nodes = append(nodes, scored(int64(i), float64(i), true, [5]float64{1, 1, 1, 1, 1}))
	}

	exps, err := Explainer{MaxExplained: 4}.Explain(context.Background(), linear(1, 1, 1, 1, 1), nodes)
	require.NoError(t, err)
	require.Len(t, exps, 4)
	assert.Equal(t, int64(9), exps[0].NodeID)

	exps, err = Explainer{MaxExplained: -1}.Explain(context.Background(), linear(1, 1, 1, 1, 1), nodes)
	require.NoError(t, err)
	assert.Len(t, exps, 10)
}

func TestExplainer_NoAnomalies(t *testing.T) {
	exps, err := Explainer{}.Explain(context.Background(), linear(1, 1, 1, 1, 1),
		[]datatypes.ScoredNode{scored(1, -0.1, false, [5]float64{})})
	require.NoError(t, err)
	assert.Empty(t, exps)
}

func TestExplainer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Explainer{}.Explain(ctx, linear(1, 1, 1, 1, 1),
		[]datatypes.ScoredNode{scored(1, 0.1, true, [5]float64{})})
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Text
// =============================================================================

func contribution(feature string, shap float64) datatypes.FeatureContribution {
	return datatypes.FeatureContribution{Feature: feature, ShapValue: shap}
}

func TestGenerateHumanExplanations_TopThreePositive(t *testing.T) {
	exps := []datatypes.ShapExplanation{{
		NodeID: 42,
		Contributions: []datatypes.FeatureContribution{
			contribution("in_degree", 0.01),
			contribution("out_degree", -0.2),
			contribution("total_incoming", 0.05),
			contribution("total_outgoing", 0.3),
			contribution("risk_ratio", 0.1),
		},
	}}

	got := GenerateHumanExplanations(exps)

	require.Len(t, got, 1)
	assert.Equal(t, int64(42), got[0].NodeID)
	assert.Equal(t, []string{
		featureReasons["total_outgoing"],
		featureReasons["risk_ratio"],
		featureReasons["total_incoming"],
	}, got[0].Reasons)
}

func TestGenerateHumanExplanations_Generic(t *testing.T) {
	got := GenerateHumanExplanations([]datatypes.ShapExplanation{{
		NodeID:        1,
		Contributions: []datatypes.FeatureContribution{contribution("risk_ratio", -0.1), contribution("in_degree", 0)},
	}})

	assert.Equal(t, []string{GenericReason}, got[0].Reasons)
}

func TestGenerateHumanExplanations_FewerThanThree(t *testing.T) {
	got := GenerateHumanExplanations([]datatypes.ShapExplanation{{
		NodeID:        1,
		Contributions: []datatypes.FeatureContribution{contribution("in_degree", 0.2), contribution("unknown", 5)},
	}})

	assert.Equal(t, []string{featureReasons["in_degree"]}, got[0].Reasons)
}

func TestGenerateHumanExplanations_Empty(t *testing.T) {
	assert.Empty(t, GenerateHumanExplanations(nil))
}
