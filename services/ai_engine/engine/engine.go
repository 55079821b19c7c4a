// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine owns the AI engine's in-memory state: the loaded model,
// the transaction graph it scores against, and the generate/train pipeline
// that produces both.
//
// # State Model
//
// Everything a request needs lives in an immutable snapshot published
// through an atomic pointer. Requests read one snapshot for their whole
// lifetime and never write to it; a reload builds a fresh snapshot and
// swaps it in. Dynamic re-scoring therefore works on private copies of
// the feature matrix and a copy-on-write adjacency.
//
// # Pipeline
//
// GenerateData, TrainModel and Initialize are serialised by a mutex.
// Concurrent Initialize calls share a single run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/MuleHunter/pkg/config"
	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/extensions"
	"github.com/AleutianAI/MuleHunter/pkg/observability"
	"github.com/AleutianAI/MuleHunter/pkg/txgraph"
	"github.com/AleutianAI/MuleHunter/services/ai_engine/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
	"gonum.org/v1/gonum/mat"
)

// ErrNotReady is returned while no model is loaded.
var ErrNotReady = errors.New("engine: model not loaded")

var (
	tracer = otel.Tracer("github.com/AleutianAI/MuleHunter/services/ai_engine/engine")
	meter  = otel.Meter("github.com/AleutianAI/MuleHunter/services/ai_engine/engine")

	// inferenceDuration times one full-graph re-inference in Analyze.
	inferenceDuration, _ = meter.Float64Histogram("mulehunter.engine.inference.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Dynamic GraphSAGE inference latency"))
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures an Engine.
type Config struct {
	// Paths locates nodes.csv, transactions.csv and the model artifact.
	Paths config.Paths

	// Generator is used by GenerateData and Initialize.
	Generator txgraph.GeneratorConfig

	// Training is used by TrainModel and Initialize.
	Training model.TrainConfig

	// AutoInitialize runs generate+train at Startup when no model exists.
	AutoInitialize bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics *observability.Metrics

	// Audit defaults to NopAuditLogger.
	Audit extensions.AuditLogger
}

// =============================================================================
// Snapshot
// =============================================================================

// snapshot is the immutable state a request reads.
type snapshot struct {
	model    *model.Model
	nodes    []txgraph.Node
	index    map[string]int
	x        *mat.Dense
	adj      *model.Adjacency
	out      [][]int
	risk     []float64
	loadedAt time.Time

	// modelModTime is the artifact's mtime when it was read or written.
	modelModTime time.Time
}

// newSnapshot validates ds against m and precomputes base risk.
func newSnapshot(ds *txgraph.Dataset, m *model.Model) (*snapshot, error) {
	if len(ds.Nodes) == 0 {
		return nil, errors.New("dataset has no nodes")
	}
	src, dst := ds.EdgeIndex()
	adj, err := model.NewAdjacency(len(ds.Nodes), src, dst)
	if err != nil {
		return nil, err
	}
	out := make([][]int, len(ds.Nodes))
	for k := range src {
		out[src[k]] = append(out[src[k]], dst[k])
	}

	x := m.Scaler.Transform(ds.FeatureRows())
	risk, err := m.Probabilities(x, adj)
	if err != nil {
		return nil, fmt.Errorf("base inference: %w", err)
	}

	return &snapshot{
		model:    m,
		nodes:    ds.Nodes,
		index:    ds.Index(),
		x:        x,
		adj:      adj,
		out:      out,
		risk:     risk,
		loadedAt: time.Now().UTC(),
	}, nil
}

// =============================================================================
// Engine
// =============================================================================

// Engine scores accounts against the cached graph.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	current atomic.Pointer[snapshot]

	pipelineMu sync.Mutex
	initGroup  singleflight.Group
}

// New creates an Engine with no model loaded.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Audit == nil {
		cfg.Audit = &extensions.NopAuditLogger{}
	}
	if cfg.Training.Logger == nil {
		cfg.Training.Logger = cfg.Logger
	}
	return &Engine{cfg: cfg, logger: cfg.Logger}
}

// Ready reports whether a model is loaded.
func (e *Engine) Ready() bool {
	return e.current.Load() != nil
}

// Startup brings the engine to a servable state.
//
// When the model artifact is missing and AutoInitialize is set, the full
// generate+train pipeline runs first. Load errors are returned; callers
// typically log them and keep serving 503 until a later Initialize.
func (e *Engine) Startup(ctx context.Context) error {
	if _, err := os.Stat(e.cfg.Paths.Model); errors.Is(err, os.ErrNotExist) && e.cfg.AutoInitialize {
		e.logger.Info("No model artifact found, running first-time initialization",
			"model_path", e.cfg.Paths.Model)
		return e.Initialize(ctx)
	}
	return e.Load(ctx)
}

// Load reads the dataset and model from disk and swaps them in. It waits
// for any running generate or train step so the dataset and model always
// come from the same pipeline run.
func (e *Engine) Load(ctx context.Context) error {
	e.pipelineMu.Lock()
	defer e.pipelineMu.Unlock()
	return e.load(ctx)
}

// reloadIfChanged loads the artifacts unless the served snapshot was built
// from the model file as it is on disk now. It reports whether a load ran.
func (e *Engine) reloadIfChanged(ctx context.Context) (bool, error) {
	e.pipelineMu.Lock()
	defer e.pipelineMu.Unlock()

	info, err := os.Stat(e.cfg.Paths.Model)
	if err != nil {
		return false, fmt.Errorf("stat model: %w", err)
	}
	if snap := e.current.Load(); snap != nil && snap.modelModTime.Equal(info.ModTime()) {
		return false, nil
	}
	return true, e.load(ctx)
}

func (e *Engine) load(ctx context.Context) error {
	_, span := tracer.Start(ctx, "engine.Load")
	defer span.End()

	// Stat before reading: a rewrite racing the read bumps the mtime and
	// the next watcher event reloads again.
	modTime := modelModTime(e.cfg.Paths.Model)
	ds, err := txgraph.LoadDataset(e.cfg.Paths.Nodes, e.cfg.Paths.Edges)
	if err != nil {
		span.SetStatus(codes.Error, "load dataset")
		return fmt.Errorf("load dataset: %w", err)
	}
	m, err := model.Load(e.cfg.Paths.Model)
	if err != nil {
		span.SetStatus(codes.Error, "load model")
		return fmt.Errorf("load model: %w", err)
	}
	return e.swap(ds, m, modTime)
}

// modelModTime returns the mtime of path, or the zero time if it cannot
// be read.
func modelModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// swap publishes a snapshot built from ds and m. modTime is the mtime of
// the artifact m was read from or saved to.
func (e *Engine) swap(ds *txgraph.Dataset, m *model.Model, modTime time.Time) error {
	snap, err := newSnapshot(ds, m)
	if err != nil {
		return err
	}
	snap.modelModTime = modTime
	e.current.Store(snap)
	e.logger.Info("Model and graph loaded",
		"nodes", len(snap.nodes),
		"edges", len(ds.Edges),
		"trained_at", m.Meta.TrainedAt)
	return nil
}

// GenerateData writes a fresh synthetic dataset. The served snapshot is
// not changed until the next train or load.
func (e *Engine) GenerateData(ctx context.Context) (txgraph.Summary, error) {
	e.pipelineMu.Lock()
	defer e.pipelineMu.Unlock()
	return e.generate(ctx)
}

func (e *Engine) generate(ctx context.Context) (txgraph.Summary, error) {
	_, span := tracer.Start(ctx, "engine.GenerateData")
	defer span.End()

	ds, summary, err := txgraph.Generate(e.cfg.Generator)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return summary, err
	}
	if err := txgraph.SaveDataset(ds, e.cfg.Paths.Nodes, e.cfg.Paths.Edges); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return summary, err
	}
	span.SetAttributes(
		attribute.Int("graph.nodes", summary.Nodes),
		attribute.Int("graph.edges", summary.Edges),
		attribute.Int("graph.fraud_nodes", summary.FraudNodes))
	e.logger.Info("Synthetic dataset generated",
		"nodes", summary.Nodes, "edges", summary.Edges, "fraud_nodes", summary.FraudNodes)
	return summary, nil
}

// TrainModel trains on the dataset on disk, saves the artifact and
// reloads the served snapshot.
func (e *Engine) TrainModel(ctx context.Context) (model.TrainReport, error) {
	e.pipelineMu.Lock()
	defer e.pipelineMu.Unlock()
	return e.train(ctx)
}

func (e *Engine) train(ctx context.Context) (model.TrainReport, error) {
	ctx, span := tracer.Start(ctx, "engine.TrainModel")
	defer span.End()

	ds, err := txgraph.LoadDataset(e.cfg.Paths.Nodes, e.cfg.Paths.Edges)
	if err != nil {
		span.SetStatus(codes.Error, "load dataset")
		return model.TrainReport{}, fmt.Errorf("load dataset: %w", err)
	}
	src, dst := ds.EdgeIndex()
	adj, err := model.NewAdjacency(len(ds.Nodes), src, dst)
	if err != nil {
		return model.TrainReport{}, err
	}

	m, report, err := model.Train(ctx, ds.FeatureRows(), adj, ds.Labels(), e.cfg.Training)
	if err != nil {
		span.SetStatus(codes.Error, "train")
		return report, err
	}
	if err := m.Save(e.cfg.Paths.Model); err != nil {
		return report, fmt.Errorf("save model: %w", err)
	}
	e.cfg.Metrics.RecordTraining(report.Duration, report.FinalLoss)
	span.SetAttributes(
		attribute.Float64("train.final_loss", report.FinalLoss),
		attribute.Float64("train.accuracy", report.TrainAccuracy))
	e.logger.Info("Model trained",
		"epochs", report.Epochs,
		"final_loss", report.FinalLoss,
		"train_accuracy", report.TrainAccuracy,
		"duration", report.Duration)

	if err := e.swap(ds, m, modelModTime(e.cfg.Paths.Model)); err != nil {
		return report, err
	}
	_ = e.cfg.Audit.Log(ctx, extensions.AuditEvent{
		EventType:    "model.trained",
		Action:       "train",
		ResourceType: "model",
		ResourceID:   datatypes.ModelVersion,
		Outcome:      "success",
		Metadata: map[string]any{
			"final_loss":     report.FinalLoss,
			"train_accuracy": report.TrainAccuracy,
			"nodes":          report.Nodes,
		},
	})
	return report, nil
}

// Initialize regenerates data, retrains and reloads. Concurrent callers
// share one run; the run is not cancelled if the first caller goes away.
func (e *Engine) Initialize(ctx context.Context) error {
	ch := e.initGroup.DoChan("initialize", func() (any, error) {
		runCtx := context.WithoutCancel(ctx)
		e.pipelineMu.Lock()
		defer e.pipelineMu.Unlock()

		if _, err := e.generate(runCtx); err != nil {
			return nil, fmt.Errorf("generate: %w", err)
		}
		if _, err := e.train(runCtx); err != nil {
			return nil, fmt.Errorf("train: %w", err)
		}
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health reports load state.
func (e *Engine) Health() datatypes.AIHealth {
	snap := e.current.Load()
	if snap == nil {
		return datatypes.AIHealth{Status: "LOADING", Version: datatypes.ModelVersion}
	}
	return datatypes.AIHealth{
		Status:      "ONLINE",
		ModelLoaded: true,
		NodesCount:  len(snap.nodes),
		Version:     datatypes.ModelVersion,
	}
}

// Predict returns the cached full-graph risk of nodeID. Unknown nodes get
// a zero-risk SAFE response.
func (e *Engine) Predict(nodeID int64) (datatypes.Prediction, error) {
	snap := e.current.Load()
	if snap == nil {
		return datatypes.Prediction{}, ErrNotReady
	}
	idx, ok := snap.index[strconv.FormatInt(nodeID, 10)]
	if !ok {
		return datatypes.Prediction{NodeID: nodeID, RiskScore: 0, Verdict: datatypes.VerdictSafe}, nil
	}
	risk := snap.risk[idx]
	p := datatypes.Prediction{
		NodeID:    nodeID,
		RiskScore: datatypes.Round(risk, 4),
		Verdict:   datatypes.VerdictFor(risk),
		Known:     true,
	}
	e.cfg.Metrics.RecordVerdict("predict", p.Verdict, risk)
	return p, nil
}
