// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the wire types exchanged between the MuleHunter
// services.
//
// This file contains the risk scoring contract served by the AI engine and
// consumed by the backend ledger and the CLI.
package datatypes

import "math"

// =============================================================================
// VERDICTS
// =============================================================================

// Verdict labels issued for a risk score.
const (
	VerdictCritical   = "CRITICAL (MULE)"
	VerdictSuspicious = "SUSPICIOUS"
	VerdictSafe       = "SAFE"
)

// Score thresholds.
const (
	// CriticalThreshold: scores strictly above are CRITICAL (MULE).
	CriticalThreshold = 0.8
	// SuspiciousThreshold: scores strictly above are SUSPICIOUS.
	SuspiciousThreshold = 0.5
	// FraudThreshold: the ledger flags a transaction above this score.
	FraudThreshold = 0.75
)

// ModelVersion identifies the served model family.
const ModelVersion = "MuleSAGE-5Feat"

// VerdictFor maps a risk probability to its verdict label.
//
// Example:
//
//	VerdictFor(0.81) // "CRITICAL (MULE)"
//	VerdictFor(0.80) // "SUSPICIOUS"
//	VerdictFor(0.50) // "SAFE"
func VerdictFor(risk float64) string {
	switch {
	case risk > CriticalThreshold:
		return VerdictCritical
	case risk > SuspiciousThreshold:
		return VerdictSuspicious
	default:
		return VerdictSafe
	}
}

// Round rounds v to the given number of decimal places, half away from zero.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// =============================================================================
// REQUESTS
// =============================================================================

// DefaultTimestamp is used when a scoring request omits its timestamp.
const DefaultTimestamp = "2025-12-25"

// TransactionRequest asks the AI engine to re-score the source account of a
// proposed transfer.
//
// Fields:
//   - SourceID: Account sending funds. Unknown accounts are scored with
//     new-account defaults.
//   - TargetID: Account receiving funds. Unknown accounts map to row 0.
//   - Amount: Transfer amount. Amounts above 10000 raise the flow ratio.
//   - Timestamp: Informational only. Default: "2025-12-25"
type TransactionRequest struct {
	SourceID  int64   `json:"source_id"`
	TargetID  int64   `json:"target_id"`
	Amount    float64 `json:"amount"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// TransactionBody is the wire form of TransactionRequest. Pointers let
// binding tell a missing field from a zero one, since 0 is a valid account.
// Negative amounts are accepted as refunds.
type TransactionBody struct {
	SourceID  *int64   `json:"source_id" binding:"required"`
	TargetID  *int64   `json:"target_id" binding:"required"`
	Amount    *float64 `json:"amount" binding:"required"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// Request converts a bound body. Timestamp defaults to DefaultTimestamp.
func (b TransactionBody) Request() TransactionRequest {
	req := TransactionRequest{Timestamp: b.Timestamp}
	if b.SourceID != nil {
		req.SourceID = *b.SourceID
	}
	if b.TargetID != nil {
		req.TargetID = *b.TargetID
	}
	if b.Amount != nil {
		req.Amount = *b.Amount
	}
	if req.Timestamp == "" {
		req.Timestamp = DefaultTimestamp
	}
	return req
}

// PredictRequest is the POST body form of a cached node lookup.
type PredictRequest struct {
	NodeID *int64 `json:"node_id" binding:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// RiskResponse is the result of dynamic transaction scoring.
type RiskResponse struct {
	NodeID            int64    `json:"node_id"`
	RiskScore         float64  `json:"risk_score"`
	Verdict           string   `json:"verdict"`
	ModelVersion      string   `json:"model_version"`
	OutDegree         int      `json:"out_degree"`
	RiskRatio         float64  `json:"risk_ratio"`
	PopulationSize    string   `json:"population_size"`
	JA3Detected       bool     `json:"ja3_detected"`
	LinkedAccounts    []string `json:"linked_accounts"`
	UnsupervisedScore float64  `json:"unsupervised_score"`
}

// Prediction is the cached full-graph risk of a single node.
//
// The backend ledger decodes this from GET /predict/{id}.
type Prediction struct {
	NodeID    int64   `json:"node_id"`
	RiskScore float64 `json:"risk_score"`
	Verdict   string  `json:"verdict"`
	Known     bool    `json:"known"`
}

// IsFraud reports whether the ledger should flag the transaction.
func (p Prediction) IsFraud() bool {
	return p.RiskScore > FraudThreshold
}

// AIHealth is the AI engine health document.
type AIHealth struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	NodesCount  int    `json:"nodes_count"`
	Version     string `json:"version"`
}

// UnavailableAIHealth is reported by the backend when the AI engine cannot
// be reached.
func UnavailableAIHealth() AIHealth {
	return AIHealth{
		Status:      "UNAVAILABLE",
		ModelLoaded: false,
		NodesCount:  0,
		Version:     "Unknown",
	}
}
