// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package anomaly

import (
	"context"
	"log/slog"
	"math"
	"slices"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"gonum.org/v1/gonum/mat"
)

// Detector fits a fresh isolation forest per run over the flow features
// of the enriched graph.
type Detector struct {
	cfg    ForestConfig
	logger *slog.Logger
}

// NewDetector returns a Detector. A nil logger uses slog.Default().
func NewDetector(cfg ForestConfig, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{cfg: cfg, logger: logger}
}

// Model is the scaler and forest fitted by one Detect call.
//
// AnomalyScore takes raw feature rows in datatypes.AnomalyFeatureColumns
// order, so explanations can perturb features without knowing about
// scaling.
type Model struct {
	Scaler *StandardScaler
	Forest *IsolationForest
}

// AnomalyScore returns -decision for a raw feature row. Positive values
// are anomalous.
func (m *Model) AnomalyScore(row []float64) float64 {
	clean := make([]float64, len(row))
	for j, v := range row {
		clean[j] = finiteOrZero(v)
	}
	return -m.Forest.DecisionFunction(m.Scaler.TransformRow(clean, clean))
}

// Reference is the feature row that scales to the origin: the training
// column means.
func (m *Model) Reference() []float64 {
	return slices.Clone(m.Scaler.Mean)
}

// Detect scores every node, preserving input order.
//
// # Outputs
//
//   - []datatypes.AnomalyScore: One entry per node, AnomalyScore rounded
//     to 6 decimals
//   - *Model: The fitted model, nil when nodes is empty
//   - error: Fit failure or ctx cancellation
func (d *Detector) Detect(ctx context.Context, nodes []datatypes.EnrichedNode) ([]datatypes.AnomalyScore, *Model, error) {
	if len(nodes) == 0 {
		return []datatypes.AnomalyScore{}, nil, nil
	}

	width := len(datatypes.AnomalyFeatureColumns)
	raw := mat.NewDense(len(nodes), width, nil)
	for i, n := range nodes {
		for j, v := range n.Features() {
			raw.Set(i, j, finiteOrZero(v))
		}
	}

	scaler, err := FitStandardScaler(raw)
	if err != nil {
		return nil, nil, err
	}
	x := scaler.Transform(raw)

	forest, err := FitForest(ctx, x, d.cfg)
	if err != nil {
		return nil, nil, err
	}

	scores := make([]datatypes.AnomalyScore, len(nodes))
	anomalies := 0
	for i, n := range nodes {
		decision := forest.DecisionFunction(x.RawRowView(i))
		scores[i] = datatypes.AnomalyScore{
			NodeID:       n.NodeID,
			AnomalyScore: datatypes.Round(-decision, 6),
			IsAnomalous:  decision < 0,
			Model:        datatypes.AnomalyModelName,
			Source:       datatypes.AnomalyModelSource,
		}
		if decision < 0 {
			anomalies++
		}
	}

	d.logger.Info("Isolation forest scored nodes",
		"nodes", len(nodes),
		"anomalies", anomalies,
		"offset", forest.Offset())
	return scores, &Model{Scaler: scaler, Forest: forest}, nil
}

// Merge joins nodes with their scores by node ID. Nodes without a score
// are returned unscored.
func Merge(nodes []datatypes.EnrichedNode, scores []datatypes.AnomalyScore) []datatypes.ScoredNode {
	byID := make(map[int64]datatypes.AnomalyScore, len(scores))
	for _, s := range scores {
		byID[s.NodeID] = s
	}
	out := make([]datatypes.ScoredNode, len(nodes))
	for i, n := range nodes {
		s := byID[n.NodeID]
		out[i] = datatypes.ScoredNode{EnrichedNode: n, AnomalyScore: s.AnomalyScore, IsAnomalous: s.IsAnomalous}
	}
	return out
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
