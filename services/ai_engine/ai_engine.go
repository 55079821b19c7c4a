// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ai_engine provides the MuleHunter risk scoring service.
//
// The service wires the scoring engine to HTTP: it serves cached and
// dynamic risk scores, exposes the generate/train pipeline, and hot-swaps
// the model whenever the artifact in the shared data directory changes.
//
// # Usage
//
//	cfg := ai_engine.Config{Port: 8000, DataDir: "/app/shared-data"}
//	svc, err := ai_engine.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package ai_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/MuleHunter/pkg/config"
	"github.com/AleutianAI/MuleHunter/pkg/extensions"
	"github.com/AleutianAI/MuleHunter/pkg/middleware"
	"github.com/AleutianAI/MuleHunter/pkg/observability"
	"github.com/AleutianAI/MuleHunter/pkg/telemetry"
	"github.com/AleutianAI/MuleHunter/pkg/txgraph"
	"github.com/AleutianAI/MuleHunter/services/ai_engine/engine"
	"github.com/AleutianAI/MuleHunter/services/ai_engine/model"
	"github.com/AleutianAI/MuleHunter/services/ai_engine/routes"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ServiceName identifies the AI engine in traces and metrics.
const ServiceName = "mulehunter-ai-engine"

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the AI engine lifecycle.
//
// # Thread Safety
//
// Run blocks and should be called once per instance.
type Service interface {
	// Run loads the model in the background, starts the artifact watcher
	// and serves HTTP until SIGINT/SIGTERM or a server error.
	Run() error

	// Router returns the configured Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds AI engine options. Zero values use defaults.
type Config struct {
	// Port is the HTTP port. Default: 8000
	Port int

	// DataDir holds nodes.csv, transactions.csv and the model artifact.
	// Default: "./shared-data"
	DataDir string

	// OTelEndpoint is the collector host:port, "stdout", or empty to
	// disable tracing.
	OTelEndpoint string

	// MaxRPS rate limits /analyze-transaction. Zero disables limiting.
	MaxRPS int

	// SkipAutoInitialize disables generate+train on first start.
	SkipAutoInitialize bool

	// DisableWatch turns off the artifact hot reload.
	DisableWatch bool

	// Generator and Training parameterise the pipeline endpoints.
	Generator txgraph.GeneratorConfig
	Training  model.TrainConfig
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config           Config
	opts             extensions.ServiceOptions
	router           *gin.Engine
	engine           *engine.Engine
	registry         *prometheus.Registry
	metrics          *observability.Metrics
	telemetryCleanup telemetry.Cleanup
}

// New creates the AI engine service. The model is not loaded until Run.
//
// If opts is nil, DefaultOptions() is used.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	if opts != nil {
		s.opts = opts.Normalize()
	} else {
		s.opts = extensions.DefaultOptions()
	}

	if err := os.MkdirAll(s.config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	cleanup, err := telemetry.InitTracer(context.Background(), ServiceName, s.config.OTelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.telemetryCleanup = cleanup

	s.registry = observability.NewRegistry()
	s.metrics = observability.NewMetrics(s.registry)

	meterCleanup, err := telemetry.InitMeter(context.Background(), ServiceName, s.registry, s.config.OTelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize meter: %w", err)
	}
	s.telemetryCleanup = telemetry.Chain(s.telemetryCleanup, meterCleanup)

	s.engine = engine.New(engine.Config{
		Paths:          config.PathsFor(s.config.DataDir),
		Generator:      s.config.Generator,
		Training:       s.config.Training,
		AutoInitialize: !s.config.SkipAutoInitialize,
		Logger:         slog.Default(),
		Metrics:        s.metrics,
		Audit:          s.opts.AuditLogger,
	})

	s.initRouter()
	return s, nil
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./shared-data"
	}
	if cfg.Generator == (txgraph.GeneratorConfig{}) {
		cfg.Generator = txgraph.DefaultGeneratorConfig()
	}
	return cfg
}

func (s *service) initRouter() {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(ServiceName))
	s.router.Use(s.metrics.GinMiddleware("ai-engine"))

	routes.SetupRoutes(s.router, s.engine, middleware.NewLimiter(s.config.MaxRPS), s.registry)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Run serves until interrupted. Model loading happens in the background so
// /health reports LOADING while the first-run pipeline trains.
func (s *service) Run() error {
	defer s.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := s.engine.Startup(ctx); err != nil {
			slog.Error("Model load failed, serving 503 until initialized", "error", err)
		}
	}()
	if !s.config.DisableWatch {
		if err := s.engine.WatchArtifacts(ctx, 0); err != nil {
			slog.Warn("Artifact watcher unavailable, hot reload disabled", "error", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting AI engine", "port", s.config.Port, "data_dir", s.config.DataDir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down AI engine")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *service) cleanup() {
	if s.telemetryCleanup != nil {
		s.telemetryCleanup(context.Background())
	}
	if err := s.opts.AuditLogger.Flush(context.Background()); err != nil {
		slog.Warn("Audit flush failed", "error", err)
	}
}
