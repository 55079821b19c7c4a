// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strconv"

	"github.com/AleutianAI/MuleHunter/pkg/config"
	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/txgraph"
)

// ScoreColumns is the anomaly_scores.csv header.
var ScoreColumns = []string{"node_id", "anomaly_score", "is_anomalous", "model", "source"}

// ScoredNodeColumns is the nodes_scored.csv header.
var ScoredNodeColumns = []string{
	"node_id",
	"in_degree",
	"out_degree",
	"total_incoming",
	"total_outgoing",
	"risk_ratio",
	"anomaly_score",
	"is_anomalous",
}

// WriteScoresCSV writes anomaly scores in ScoreColumns order.
func WriteScoresCSV(w io.Writer, scores []datatypes.AnomalyScore) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ScoreColumns); err != nil {
		return err
	}
	for _, s := range scores {
		rec := []string{
			strconv.FormatInt(s.NodeID, 10),
			formatFloat(s.AnomalyScore),
			boolInt(bool(s.IsAnomalous)),
			s.Model,
			s.Source,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteScoredNodesCSV writes merged nodes in ScoredNodeColumns order.
func WriteScoredNodesCSV(w io.Writer, nodes []datatypes.ScoredNode) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ScoredNodeColumns); err != nil {
		return err
	}
	for _, n := range nodes {
		rec := []string{
			strconv.FormatInt(n.NodeID, 10),
			strconv.Itoa(n.InDegree),
			strconv.Itoa(n.OutDegree),
			formatFloat(n.TotalIncoming),
			formatFloat(n.TotalOutgoing),
			formatFloat(n.RiskRatio),
			formatFloat(n.AnomalyScore),
			boolInt(bool(n.IsAnomalous)),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeArtifacts stores a run's outputs in the shared data directory.
// Every file is attempted; the errors are joined.
func writeArtifacts(paths config.Paths, res *Result) error {
	return errors.Join(
		txgraph.WriteFileAtomic(paths.AnomalyScores, func(w io.Writer) error {
			return WriteScoresCSV(w, res.Scores)
		}),
		txgraph.WriteFileAtomic(paths.NodesScored, func(w io.Writer) error {
			return WriteScoredNodesCSV(w, res.Nodes)
		}),
		writeJSON(paths.Viz, res.Viz),
		writeJSON(paths.ShapExplanations, res.Shap),
		writeJSON(paths.FraudExplanations, res.Explanations),
	)
}

func writeJSON(path string, v any) error {
	return txgraph.WriteFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func boolInt(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
