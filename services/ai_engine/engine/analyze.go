// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/extensions"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"gonum.org/v1/gonum/mat"
)

const (
	// largeTransferAmount bumps the source's in/out ratio when exceeded.
	largeTransferAmount = 10000.0
	largeTransferRatio  = 0.5

	maxLinkedAccounts = 3

	// unsupervisedBaseline is the population fraud rate the unsupervised
	// score is measured against.
	unsupervisedBaseline = 0.1
)

// coldStartFeatures are the raw features given to a source account the
// graph has never seen. The row replaces slot 0 for one inference.
var coldStartFeatures = []float64{30, 5000, 1.0, 0.0001, 1.0}

// Analyze scores a transaction as if it had just happened.
//
// # Description
//
// The source account's features are bumped for the new transfer and a
// temporary source→target edge is added, then the whole graph is
// re-inferred and the source row read back. An unknown source is scored
// with cold-start features in row 0; an unknown target also maps to row 0.
// The cached snapshot is never modified.
//
// # Outputs
//
// Returns ErrNotReady when no model is loaded.
func (e *Engine) Analyze(ctx context.Context, req datatypes.TransactionRequest) (datatypes.RiskResponse, error) {
	ctx, span := tracer.Start(ctx, "engine.Analyze")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("tx.source_id", req.SourceID),
		attribute.Int64("tx.target_id", req.TargetID),
		attribute.Float64("tx.amount", req.Amount))

	snap := e.current.Load()
	if snap == nil {
		return datatypes.RiskResponse{}, ErrNotReady
	}

	srcIdx, known := snap.index[strconv.FormatInt(req.SourceID, 10)]
	tgtIdx, ok := snap.index[strconv.FormatInt(req.TargetID, 10)]
	if !ok {
		tgtIdx = 0
	}

	var (
		raw       []float64
		ratio     float64
		outDegree int
	)
	if known {
		n := snap.nodes[srcIdx]
		ratio = n.InOutRatio
		if req.Amount > largeTransferAmount {
			ratio += largeTransferRatio
		}
		raw = n.Features()
		raw[2] = ratio
		raw[4]++
		outDegree = len(snap.out[srcIdx]) + 1
	} else {
		srcIdx = 0
		raw = append([]float64(nil), coldStartFeatures...)
		ratio = coldStartFeatures[2]
		outDegree = 1
	}

	start := time.Now()
	x := mat.DenseCopyOf(snap.x)
	x.SetRow(srcIdx, snap.model.Scaler.TransformRow(raw))
	adj := snap.adj.WithEdge(srcIdx, tgtIdx)

	probs, err := snap.model.Probabilities(x, adj)
	if err != nil {
		span.SetStatus(codes.Error, "inference")
		return datatypes.RiskResponse{}, fmt.Errorf("dynamic inference: %w", err)
	}
	inferenceDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.Bool("known_source", known)))
	risk := probs[srcIdx]

	// Linked accounts come from the cached graph only; the temporary edge
	// is not a relationship the account already has.
	linked := make([]string, 0, maxLinkedAccounts)
	for _, j := range snap.out[srcIdx] {
		if len(linked) == maxLinkedAccounts {
			break
		}
		linked = append(linked, "Acct_"+snap.nodes[j].ID)
	}

	resp := datatypes.RiskResponse{
		NodeID:            req.SourceID,
		RiskScore:         datatypes.Round(risk, 4),
		Verdict:           datatypes.VerdictFor(risk),
		ModelVersion:      datatypes.ModelVersion,
		OutDegree:         outDegree,
		RiskRatio:         datatypes.Round(ratio, 2),
		PopulationSize:    fmt.Sprintf("%d Nodes", len(snap.nodes)),
		JA3Detected:       risk > datatypes.FraudThreshold,
		LinkedAccounts:    linked,
		UnsupervisedScore: datatypes.Round(math.Abs(risk-unsupervisedBaseline), 4),
	}

	span.SetAttributes(
		attribute.Float64("risk.score", resp.RiskScore),
		attribute.String("risk.verdict", resp.Verdict),
		attribute.Bool("risk.known_source", known))
	e.cfg.Metrics.RecordVerdict("analyze", resp.Verdict, risk)
	if resp.Verdict != datatypes.VerdictSafe {
		_ = e.cfg.Audit.Log(ctx, extensions.AuditEvent{
			EventType:    "transaction.analyzed",
			Action:       "analyze",
			ResourceType: "node",
			ResourceID:   strconv.FormatInt(req.SourceID, 10),
			Outcome:      "flagged",
			Metadata: map[string]any{
				"risk_score": resp.RiskScore,
				"verdict":    resp.Verdict,
				"target_id":  req.TargetID,
				"amount":     req.Amount,
			},
		})
	}
	return resp, nil
}
