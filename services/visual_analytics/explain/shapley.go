// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package explain attributes anomaly scores to input features and turns
// the attributions into short analyst-facing reasons.
package explain

import (
	"context"
	"fmt"
	"math/bits"
	"slices"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
)

// DefaultMaxExplained caps how many anomalous nodes are explained per run.
const DefaultMaxExplained = 100

// Model scores raw feature rows. *anomaly.Model implements it.
type Model interface {
	// AnomalyScore returns the score to explain for one row.
	AnomalyScore(row []float64) float64
	// Reference is the row absent features are replaced with.
	Reference() []float64
}

// ShapleyValues returns the exact Shapley value of each feature of row
// for model, using the reference row for absent features.
//
// # Description
//
// Every coalition of features is evaluated once, so the cost is 2^d model
// calls for d features. The values satisfy efficiency:
//
//	base + sum(phi) == model.AnomalyScore(row)
//
// where base is the score of the reference row.
//
// # Limitations
//
//   - Intended for small d; the anomaly model has five features.
func ShapleyValues(model Model, row []float64) (phi []float64, base float64, err error) {
	ref := model.Reference()
	d := len(row)
	if len(ref) != d {
		return nil, 0, fmt.Errorf("reference has %d features, row has %d", len(ref), d)
	}
	if d == 0 || d > 16 {
		return nil, 0, fmt.Errorf("unsupported feature count %d", d)
	}

	masks := 1 << d
	value := make([]float64, masks)
	z := make([]float64, d)
	for mask := 0; mask < masks; mask++ {
		for j := 0; j < d; j++ {
			if mask&(1<<j) != 0 {
				z[j] = row[j]
			} else {
				z[j] = ref[j]
			}
		}
		value[mask] = model.AnomalyScore(z)
	}

	// weight[s] = s!(d-s-1)!/d!
	weight := make([]float64, d)
	for s := 0; s < d; s++ {
		weight[s] = 1 / (float64(d) * binomial(d-1, s))
	}

	phi = make([]float64, d)
	for j := 0; j < d; j++ {
		bit := 1 << j
		for mask := 0; mask < masks; mask++ {
			if mask&bit != 0 {
				continue
			}
			phi[j] += weight[bits.OnesCount(uint(mask))] * (value[mask|bit] - value[mask])
		}
	}
	return phi, value[0], nil
}

func binomial(n, k int) float64 {
	r := 1.0
	for i := 1; i <= k; i++ {
		r = r * float64(n-k+i) / float64(i)
	}
	return r
}

// Explainer builds SHAP explanations for the anomalous nodes of a run.
type Explainer struct {
	// MaxExplained caps explained nodes, highest score first. Zero uses
	// DefaultMaxExplained; negative disables the cap.
	MaxExplained int
}

// Explain returns one explanation per anomalous node, ordered by
// descending anomaly score.
func (e Explainer) Explain(ctx context.Context, model Model, nodes []datatypes.ScoredNode) ([]datatypes.ShapExplanation, error) {
	anomalous := make([]datatypes.ScoredNode, 0)
	for _, n := range nodes {
		if n.IsAnomalous {
			anomalous = append(anomalous, n)
		}
	}
	slices.SortStableFunc(anomalous, func(a, b datatypes.ScoredNode) int {
		switch {
		case a.AnomalyScore > b.AnomalyScore:
			return -1
		case a.AnomalyScore < b.AnomalyScore:
			return 1
		}
		return 0
	})

	limit := e.MaxExplained
	if limit == 0 {
		limit = DefaultMaxExplained
	}
	if limit > 0 && len(anomalous) > limit {
		anomalous = anomalous[:limit]
	}

	out := make([]datatypes.ShapExplanation, 0, len(anomalous))
	for _, n := range anomalous {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := n.Features()
		phi, base, err := ShapleyValues(model, row)
		if err != nil {
			return nil, fmt.Errorf("explain node %d: %w", n.NodeID, err)
		}
		contribs := make([]datatypes.FeatureContribution, len(row))
		for j, name := range datatypes.AnomalyFeatureColumns {
			contribs[j] = datatypes.FeatureContribution{Feature: name, Value: row[j], ShapValue: phi[j]}
		}
		out = append(out, datatypes.ShapExplanation{
			NodeID:        n.NodeID,
			AnomalyScore:  base + sum(phi),
			BaseValue:     base,
			Contributions: contribs,
		})
	}
	return out, nil
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}
