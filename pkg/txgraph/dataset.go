// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package txgraph models the synthetic account/transfer graph: generation,
// CSV persistence and per-node flow enrichment.
package txgraph

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
)

// FeatureColumns is the model input order. Training and inference must
// both build feature rows in this order.
var FeatureColumns = []string{
	"account_age_days",
	"balance",
	"in_out_ratio",
	"pagerank",
	"tx_velocity",
}

// NumFeatures is len(FeatureColumns).
const NumFeatures = 5

// Node is one account.
type Node struct {
	ID             string
	AccountAgeDays int
	Balance        float64
	InOutRatio     float64
	PageRank       float64
	TxVelocity     int
	IsFraud        int
}

// Features returns the node's values in FeatureColumns order.
func (n Node) Features() []float64 {
	return []float64{
		float64(n.AccountAgeDays),
		n.Balance,
		n.InOutRatio,
		n.PageRank,
		float64(n.TxVelocity),
	}
}

// Edge is a directed transfer.
type Edge struct {
	Source string
	Target string
	Amount float64
}

// Dataset is a loaded or generated graph. Node order defines row indices.
type Dataset struct {
	Nodes []Node
	Edges []Edge
}

// Index maps node ID to row.
func (d *Dataset) Index() map[string]int {
	idx := make(map[string]int, len(d.Nodes))
	for i, n := range d.Nodes {
		idx[n.ID] = i
	}
	return idx
}

// EdgeIndex returns parallel source/target row slices. Edges whose
// endpoints are not in Nodes are dropped.
func (d *Dataset) EdgeIndex() (src, dst []int) {
	idx := d.Index()
	src = make([]int, 0, len(d.Edges))
	dst = make([]int, 0, len(d.Edges))
	for _, e := range d.Edges {
		s, okS := idx[e.Source]
		t, okT := idx[e.Target]
		if !okS || !okT {
			continue
		}
		src = append(src, s)
		dst = append(dst, t)
	}
	return src, dst
}

// FeatureRows returns one feature row per node.
func (d *Dataset) FeatureRows() [][]float64 {
	rows := make([][]float64, len(d.Nodes))
	for i, n := range d.Nodes {
		rows[i] = n.Features()
	}
	return rows
}

// Labels returns is_fraud per node.
func (d *Dataset) Labels() []int {
	y := make([]int, len(d.Nodes))
	for i, n := range d.Nodes {
		y[i] = n.IsFraud
	}
	return y
}

// FraudCount returns the number of nodes labelled fraudulent.
func (d *Dataset) FraudCount() int {
	c := 0
	for _, n := range d.Nodes {
		if n.IsFraud == 1 {
			c++
		}
	}
	return c
}

// Validate checks that node IDs are unique and non-empty.
func (d *Dataset) Validate() error {
	seen := make(map[string]struct{}, len(d.Nodes))
	for i, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node at row %d has empty id", i)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	return nil
}

// Enrich computes flow aggregates for every node with a numeric ID.
//
// risk_ratio is total_outgoing / max(total_incoming, 1). Edges touching
// unknown nodes only count toward the known endpoint.
func Enrich(d *Dataset) []datatypes.EnrichedNode {
	idx := d.Index()
	out := make([]datatypes.EnrichedNode, len(d.Nodes))
	valid := make([]bool, len(d.Nodes))
	for i, n := range d.Nodes {
		id, err := strconv.ParseInt(n.ID, 10, 64)
		if err != nil {
			slog.Warn("Skipping node with non-numeric id", "node_id", n.ID)
			continue
		}
		out[i].NodeID = id
		valid[i] = true
	}

	for _, e := range d.Edges {
		if s, ok := idx[e.Source]; ok {
			out[s].OutDegree++
			out[s].TotalOutgoing += e.Amount
		}
		if t, ok := idx[e.Target]; ok {
			out[t].InDegree++
			out[t].TotalIncoming += e.Amount
		}
	}

	result := make([]datatypes.EnrichedNode, 0, len(out))
	for i := range out {
		if !valid[i] {
			continue
		}
		in := out[i].TotalIncoming
		if in < 1 {
			in = 1
		}
		out[i].RiskRatio = out[i].TotalOutgoing / in
		result = append(result, out[i])
	}
	return result
}
