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

import "time"

// CreateTransactionRequest is the body of POST /api/transactions.
type CreateTransactionRequest struct {
	AccountID string  `json:"accountId" binding:"required"`
	TargetID  string  `json:"targetId,omitempty"`
	Amount    float64 `json:"amount" binding:"required,gt=0"`
	Merchant  string  `json:"merchant,omitempty" binding:"max=128"`
}

// Transaction is a persisted ledger entry.
//
// SuspectedFraud is true when the AI engine scored the account above
// FraudThreshold or could not be reached (fail closed).
type Transaction struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"accountId"`
	TargetID       string    `json:"targetId,omitempty"`
	Amount         float64   `json:"amount"`
	Merchant       string    `json:"merchant,omitempty"`
	SuspectedFraud bool      `json:"suspectedFraud"`
	RiskScore      float64   `json:"riskScore"`
	Verdict        string    `json:"verdict"`
	ScoredBy       string    `json:"scoredBy"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Decision sources recorded in Transaction.ScoredBy.
const (
	ScoredByModel    = "model"
	ScoredByFallback = "fallback"
)

// AccountNode is a stored account with its generator attributes.
type AccountNode struct {
	NodeID         int64   `json:"node_id"`
	AccountAgeDays int     `json:"account_age_days"`
	Balance        float64 `json:"balance"`
	InOutRatio     float64 `json:"in_out_ratio"`
	PageRank       float64 `json:"pagerank"`
	TxVelocity     int     `json:"tx_velocity"`
	IsFraud        int     `json:"is_fraud"`
}

// Transfer is a stored directed money flow between two accounts.
type Transfer struct {
	Source int64   `json:"source"`
	Target int64   `json:"target"`
	Amount float64 `json:"amount"`
}

// NodeDetail is the inspector view of one account.
type NodeDetail struct {
	AccountNode
	AnomalyScore float64     `json:"anomaly_score"`
	IsAnomalous  AnomalyFlag `json:"is_anomalous"`
	RiskRatio    float64     `json:"risk_ratio"`
	InDegree     int         `json:"in_degree"`
	OutDegree    int         `json:"out_degree"`
	Reasons      []string    `json:"reasons"`
}

// GraphNode is a node of the control tower graph view.
type GraphNode struct {
	ID           int64       `json:"id"`
	Color        string      `json:"color"`
	IsAnomalous  AnomalyFlag `json:"is_anomalous"`
	AnomalyScore float64     `json:"anomaly_score"`
	IsFraud      int         `json:"is_fraud"`
}

// GraphLink is an edge of the control tower graph view.
type GraphLink struct {
	Source int64   `json:"source"`
	Target int64   `json:"target"`
	Amount float64 `json:"amount"`
}

// GraphView is the full control tower payload.
type GraphView struct {
	Nodes []GraphNode `json:"nodes"`
	Links []GraphLink `json:"links"`
}

// Graph colours.
const (
	ColorAnomalous = "#ff4d4d"
	ColorNormal    = "#00ff88"
)
