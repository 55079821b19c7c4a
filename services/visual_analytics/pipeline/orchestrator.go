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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/MuleHunter/pkg/config"
	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/extensions"
	"github.com/AleutianAI/MuleHunter/pkg/observability"
	"github.com/AleutianAI/MuleHunter/services/visual_analytics/anomaly"
	"github.com/AleutianAI/MuleHunter/services/visual_analytics/explain"
	"github.com/AleutianAI/MuleHunter/services/visual_analytics/viz"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// ErrRunInProgress is returned when Run is called while a run is active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

var (
	tracer = otel.Tracer("github.com/AleutianAI/MuleHunter/services/visual_analytics/pipeline")
	meter  = otel.Meter("github.com/AleutianAI/MuleHunter/services/visual_analytics/pipeline")

	// stageDuration is a no-op instrument if creation fails.
	stageDuration, _ = meter.Float64Histogram("mulehunter.pipeline.stage.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time of each analytics pipeline stage"))
)

func recordStage(ctx context.Context, stage string, start time.Time) {
	stageDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)))
}

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusEmpty     = "empty"
)

// =============================================================================
// Configuration
// =============================================================================

// Config wires an Orchestrator. Backend is required.
type Config struct {
	Backend Backend

	// Forest parameterises the isolation forest.
	Forest anomaly.ForestConfig

	// MaxExplained caps SHAP explanations per run. See explain.Explainer.
	MaxExplained int

	// ArtifactPaths, when set, receives CSV/JSON copies of each run.
	ArtifactPaths *config.Paths

	Metrics *observability.Metrics
	Audit   extensions.AuditLogger
	Logger  *slog.Logger
}

// =============================================================================
// Result
// =============================================================================

// Summary describes one run.
type Summary struct {
	RunID      string        `json:"run_id"`
	Status     string        `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`
	NodeCount  int           `json:"nodes"`
	Anomalies  int           `json:"anomalies"`
	Explained  int           `json:"explained"`
}

// Result is the full output of a completed run.
type Result struct {
	Summary
	Scores       []datatypes.AnomalyScore     `json:"-"`
	Nodes        []datatypes.ScoredNode       `json:"-"`
	Shap         []datatypes.ShapExplanation  `json:"-"`
	Explanations []datatypes.FraudExplanation `json:"-"`
	Viz          []datatypes.VizNode          `json:"-"`
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator runs the analytics pass and keeps the latest result for the
// dashboard endpoints.
//
// # Thread Safety
//
// Run is serialised; a second concurrent call fails fast with
// ErrRunInProgress. Last may be called at any time.
type Orchestrator struct {
	cfg       Config
	detector  *anomaly.Detector
	explainer explain.Explainer
	logger    *slog.Logger

	running sync.Mutex
	last    atomic.Pointer[Result]

	now   func() time.Time
	newID func() string
}

// NewOrchestrator builds an Orchestrator, filling optional dependencies.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Audit == nil {
		cfg.Audit = &extensions.NopAuditLogger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg,
		detector:  anomaly.NewDetector(cfg.Forest, cfg.Logger),
		explainer: explain.Explainer{MaxExplained: cfg.MaxExplained},
		logger:    cfg.Logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
	}
}

// Last returns the most recent completed result, or nil before the first.
func (o *Orchestrator) Last() *Result {
	return o.last.Load()
}

// Run executes one pass.
//
// # Description
//
//  1. Fetch enriched nodes from the backend; stop if there are none.
//  2. Detect anomalies and post the scores.
//  3. Explain anomalous nodes with SHAP and post the explanations.
//  4. Turn the explanations into reasons and post them.
//  5. Build the render records, keep the result, write artifacts.
//
// Steps 3 and 4 are skipped when nothing is anomalous. An empty graph
// returns a Summary with StatusEmpty and leaves Last unchanged.
//
// # Outputs
//
//   - *Result: The run output
//   - error: ErrRunInProgress, ErrBackend, or a detection failure
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if !o.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.running.Unlock()

	res := &Result{Summary: Summary{RunID: o.newID(), StartedAt: o.now()}}
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()
	span.SetAttributes(attribute.String("pipeline.run_id", res.RunID))

	if err := o.run(ctx, res); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		o.cfg.Metrics.RecordPipelineRun("error", 0)
		o.logger.Error("Visual analytics pipeline failed", "run_id", res.RunID, "error", err)
		_ = o.cfg.Audit.Log(ctx, extensions.AuditEvent{
			EventType:    "pipeline.run",
			Action:       "run",
			ResourceType: "pipeline",
			ResourceID:   res.RunID,
			Outcome:      "failure",
			Metadata:     map[string]any{"error": err.Error()},
		})
		return nil, err
	}

	res.FinishedAt = o.now()
	res.Duration = res.FinishedAt.Sub(res.StartedAt)
	span.SetAttributes(
		attribute.Int("pipeline.nodes", res.NodeCount),
		attribute.Int("pipeline.anomalies", res.Anomalies))

	if res.Status == StatusEmpty {
		o.cfg.Metrics.RecordPipelineRun(StatusEmpty, 0)
		o.logger.Info("No nodes to analyze", "run_id", res.RunID)
		return res, nil
	}

	o.last.Store(res)
	if o.cfg.ArtifactPaths != nil {
		if err := writeArtifacts(*o.cfg.ArtifactPaths, res); err != nil {
			o.logger.Warn("Failed to write pipeline artifacts", "dir", o.cfg.ArtifactPaths.Dir, "error", err)
		}
	}

	o.cfg.Metrics.RecordPipelineRun("success", res.Anomalies)
	_ = o.cfg.Audit.Log(ctx, extensions.AuditEvent{
		EventType:    "pipeline.run",
		Action:       "run",
		ResourceType: "pipeline",
		ResourceID:   res.RunID,
		Outcome:      "success",
		Metadata: map[string]any{
			"nodes":     res.NodeCount,
			"anomalies": res.Anomalies,
			"explained": res.Explained,
		},
	})
	o.logger.Info("Visual analytics pipeline completed",
		"run_id", res.RunID,
		"nodes", res.NodeCount,
		"anomalies", res.Anomalies,
		"explained", res.Explained,
		"duration", res.Duration)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, res *Result) error {
	start := time.Now()
	nodes, err := o.cfg.Backend.EnrichedNodes(ctx)
	if err != nil {
		return err
	}
	recordStage(ctx, "fetch", start)
	res.NodeCount = len(nodes)
	if len(nodes) == 0 {
		res.Status = StatusEmpty
		return nil
	}

	start = time.Now()
	scores, model, err := o.detector.Detect(ctx, nodes)
	if err != nil {
		return fmt.Errorf("detect anomalies: %w", err)
	}
	recordStage(ctx, "detect", start)
	if err := o.cfg.Backend.PostAnomalyScores(ctx, scores); err != nil {
		return err
	}
	res.Scores = scores
	res.Nodes = anomaly.Merge(nodes, scores)
	for _, s := range scores {
		if s.IsAnomalous {
			res.Anomalies++
		}
	}

	start = time.Now()
	shap, err := o.explainer.Explain(ctx, model, res.Nodes)
	if err != nil {
		return fmt.Errorf("explain anomalies: %w", err)
	}
	recordStage(ctx, "explain", start)
	res.Shap = shap
	res.Explanations = []datatypes.FraudExplanation{}
	if len(shap) > 0 {
		if err := o.cfg.Backend.PostShapExplanations(ctx, shap); err != nil {
			return err
		}
		res.Explanations = explain.GenerateHumanExplanations(shap)
		if err := o.cfg.Backend.PostFraudExplanations(ctx, res.Explanations); err != nil {
			return err
		}
	}
	res.Explained = len(shap)

	res.Viz = viz.PrepareViz(res.Nodes)
	res.Status = StatusCompleted
	return nil
}
