// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"bytes"
	"fmt"
)

// =============================================================================
// ENRICHED NODES (backend -> visual analytics)
// =============================================================================

// EnrichedNode carries the flow aggregates of one account.
//
// The backend serves these with camelCase keys.
//
// Fields:
//   - InDegree / OutDegree: Count of incoming / outgoing transfers
//   - TotalIncoming / TotalOutgoing: Sum of transfer amounts
//   - RiskRatio: TotalOutgoing / max(TotalIncoming, 1)
type EnrichedNode struct {
	NodeID        int64   `json:"nodeId"`
	InDegree      int     `json:"inDegree"`
	OutDegree     int     `json:"outDegree"`
	TotalIncoming float64 `json:"totalIncoming"`
	TotalOutgoing float64 `json:"totalOutgoing"`
	RiskRatio     float64 `json:"riskRatio"`
}

// AnomalyFeatureColumns is the fixed feature order of the anomaly model.
var AnomalyFeatureColumns = []string{
	"in_degree",
	"out_degree",
	"total_incoming",
	"total_outgoing",
	"risk_ratio",
}

// Features returns the node's values in AnomalyFeatureColumns order.
func (n EnrichedNode) Features() []float64 {
	return []float64{
		float64(n.InDegree),
		float64(n.OutDegree),
		n.TotalIncoming,
		n.TotalOutgoing,
		n.RiskRatio,
	}
}

// =============================================================================
// ANALYTICS RESULTS (visual analytics -> backend)
// =============================================================================

// Anomaly model identifiers.
const (
	AnomalyModelName   = "isolation_forest"
	AnomalyModelSource = "visual-analytics"
)

// AnomalyFlag is an anomaly verdict that travels as 0 or 1, the form the
// graph views compare against. Decoding also accepts true and false.
type AnomalyFlag bool

// MarshalJSON encodes the flag as 0 or 1.
func (f AnomalyFlag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

// UnmarshalJSON accepts 0, 1, true, false and null.
func (f *AnomalyFlag) UnmarshalJSON(b []byte) error {
	switch string(bytes.TrimSpace(b)) {
	case "1", "true":
		*f = true
	case "0", "false", "null":
		*f = false
	default:
		return fmt.Errorf("is_anomalous: want 0 or 1, got %s", b)
	}
	return nil
}

// AnomalyScore is the isolation forest verdict for one node.
//
// Higher AnomalyScore means more anomalous; positive scores fall beyond the
// contamination threshold.
type AnomalyScore struct {
	NodeID       int64       `json:"node_id"`
	AnomalyScore float64     `json:"anomaly_score"`
	IsAnomalous  AnomalyFlag `json:"is_anomalous"`
	Model        string      `json:"model"`
	Source       string      `json:"source"`
}

// ScoredNode is an enriched node merged with its anomaly verdict.
type ScoredNode struct {
	EnrichedNode
	AnomalyScore float64     `json:"anomaly_score"`
	IsAnomalous  AnomalyFlag `json:"is_anomalous"`
}

// FeatureContribution is one feature's Shapley value.
type FeatureContribution struct {
	Feature   string  `json:"feature"`
	Value     float64 `json:"value"`
	ShapValue float64 `json:"shap_value"`
}

// ShapExplanation attributes a node's anomaly score to its features.
//
// BaseValue plus the sum of ShapValue equals AnomalyScore.
type ShapExplanation struct {
	NodeID        int64                 `json:"node_id"`
	AnomalyScore  float64               `json:"anomaly_score"`
	BaseValue     float64               `json:"base_value"`
	Contributions []FeatureContribution `json:"contributions"`
}

// FraudExplanation is the human-readable form of a ShapExplanation.
type FraudExplanation struct {
	NodeID  int64    `json:"node_id"`
	Reasons []string `json:"reasons"`
}

// VizNode is the render-ready record for the 3D graph view.
type VizNode struct {
	NodeID      int64       `json:"node_id"`
	Color       string      `json:"color"`
	Size        float64     `json:"size"`
	Height      float64     `json:"height"`
	IsAnomalous AnomalyFlag `json:"is_anomalous"`
}
