// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backend provides the MuleHunter transaction ledger and graph API.
//
// Transactions are scored against the AI engine before they are stored.
// The account graph is imported from the shared data directory, and the
// visual analytics pipeline posts its anomaly results back here for the
// control tower views.
//
// # Usage
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(extensions.NewAPIKeyProvider(os.Getenv("INTERNAL_API_KEY")))
//	svc, err := backend.New(backend.Config{DataDir: "/app/shared-data"}, &opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package backend

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
	"github.com/AleutianAI/MuleHunter/pkg/observability"
	"github.com/AleutianAI/MuleHunter/pkg/telemetry"
	"github.com/AleutianAI/MuleHunter/services/backend/client"
	"github.com/AleutianAI/MuleHunter/services/backend/ledger"
	"github.com/AleutianAI/MuleHunter/services/backend/routes"
	"github.com/AleutianAI/MuleHunter/services/backend/store"
	"github.com/AleutianAI/MuleHunter/services/backend/timeseries"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ServiceName identifies the backend in traces and metrics.
const ServiceName = "mulehunter-backend"

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the backend lifecycle.
type Service interface {
	// Run imports the shared graph and serves HTTP until SIGINT/SIGTERM.
	// Resources are released on return.
	Run() error

	// Router returns the configured Gin engine for testing.
	Router() *gin.Engine

	// Close releases the store, sink and tracer without running.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds backend options. Zero values use defaults.
type Config struct {
	// Port is the HTTP port. Default: 8080
	Port int

	// DataDir holds nodes.csv and transactions.csv. Default: "./shared-data"
	DataDir string

	// DBDir is the badger directory. Empty keeps the ledger in memory.
	DBDir string

	// AIEngineURL is the scoring service base URL. Default: "http://localhost:8000"
	AIEngineURL string

	// AITimeout bounds each scoring call. Default: client.DefaultTimeout
	AITimeout time.Duration

	// OTelEndpoint is the collector host:port, "stdout", or empty.
	OTelEndpoint string

	// Influx enables the time-series sink when URL is set.
	Influx timeseries.InfluxConfig

	// SkipImport disables the graph import at startup.
	SkipImport bool
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config           Config
	opts             extensions.ServiceOptions
	router           *gin.Engine
	store            *store.Store
	sink             timeseries.Sink
	registry         *prometheus.Registry
	metrics          *observability.Metrics
	telemetryCleanup telemetry.Cleanup
}

// New creates the backend service and opens its store.
//
// If opts is nil, DefaultOptions() is used.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	if opts != nil {
		s.opts = opts.Normalize()
	} else {
		s.opts = extensions.DefaultOptions()
	}

	storeOpts := store.InMemoryOptions()
	if s.config.DBDir != "" {
		storeOpts = store.DefaultOptions(s.config.DBDir)
	}
	st, err := store.Open(storeOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	s.store = st

	cleanup, err := telemetry.InitTracer(context.Background(), ServiceName, s.config.OTelEndpoint)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.telemetryCleanup = cleanup

	s.sink = timeseries.NopSink{}
	if s.config.Influx.URL != "" {
		sink, err := timeseries.NewInfluxSink(context.Background(), s.config.Influx)
		if err != nil {
			slog.Warn("InfluxDB unavailable, time-series recording disabled", "url", s.config.Influx.URL, "error", err)
		} else {
			s.sink = sink
		}
	}

	s.registry = observability.NewRegistry()
	s.metrics = observability.NewMetrics(s.registry)

	meterCleanup, err := telemetry.InitMeter(context.Background(), ServiceName, s.registry, s.config.OTelEndpoint)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize meter: %w", err)
	}
	s.telemetryCleanup = telemetry.Chain(s.telemetryCleanup, meterCleanup)

	s.initRouter()
	return s, nil
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./shared-data"
	}
	if cfg.AIEngineURL == "" {
		cfg.AIEngineURL = "http://localhost:8000"
	}
	if cfg.AITimeout == 0 {
		cfg.AITimeout = client.DefaultTimeout
	}
	return cfg
}

func (s *service) initRouter() {
	ai := client.NewFraudClient(s.config.AIEngineURL, s.config.AITimeout)
	svc := ledger.New(ledger.Config{
		Checker: ai,
		Repo:    s.store,
		Sink:    s.sink,
		Audit:   s.opts.AuditLogger,
		Metrics: s.metrics,
		Logger:  slog.Default(),
	})

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(ServiceName))
	s.router.Use(s.metrics.GinMiddleware("backend"))

	routes.SetupRoutes(s.router, routes.Deps{
		Store:    s.store,
		Ledger:   svc,
		AI:       ai,
		Paths:    config.PathsFor(s.config.DataDir),
		Opts:     s.opts,
		Registry: s.registry,
	})
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// importOnStartup loads the shared graph if the generator has produced it.
// A missing dataset is normal before the AI engine's first run.
func (s *service) importOnStartup(ctx context.Context) {
	paths := config.PathsFor(s.config.DataDir)
	if _, err := os.Stat(paths.Nodes); err != nil {
		slog.Info("No shared dataset yet, skipping graph import", "path", paths.Nodes)
		return
	}
	res, err := ledger.ImportGraph(ctx, s.store, paths)
	if err != nil {
		slog.Error("Startup graph import failed", "error", err)
		return
	}
	slog.Info("Graph imported", "nodes", res.Nodes, "transfers", res.Transfers)
}

// Run serves until interrupted.
func (s *service) Run() error {
	defer func() {
		if err := s.Close(); err != nil {
			slog.Warn("Backend cleanup failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !s.config.SkipImport {
		s.importOnStartup(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting backend", "port", s.config.Port, "ai_engine", s.config.AIEngineURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down backend")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close flushes the audit log, closes the sink and the store, and stops
// the tracer.
func (s *service) Close() error {
	if err := s.opts.AuditLogger.Flush(context.Background()); err != nil {
		slog.Warn("Audit flush failed", "error", err)
	}
	s.sink.Close()
	if s.telemetryCleanup != nil {
		s.telemetryCleanup(context.Background())
	}
	return s.store.Close()
}
