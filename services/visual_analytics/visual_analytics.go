// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package visual_analytics provides the MuleHunter anomaly analytics
// service: it scores the backend's account graph with an isolation
// forest, explains the anomalies, and serves render-ready results.
package visual_analytics

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
	"github.com/AleutianAI/MuleHunter/services/visual_analytics/anomaly"
	"github.com/AleutianAI/MuleHunter/services/visual_analytics/pipeline"
	"github.com/AleutianAI/MuleHunter/services/visual_analytics/routes"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ServiceName identifies the service in traces and metrics.
const ServiceName = "mulehunter-visual-analytics"

// Service is the visual analytics lifecycle.
type Service interface {
	// Run serves HTTP until SIGINT/SIGTERM, optionally running the
	// pipeline once at startup and then every RunInterval.
	Run() error

	// Router returns the configured Gin engine for testing.
	Router() *gin.Engine
}

// Config holds visual analytics options. Zero values use defaults.
type Config struct {
	// Port is the HTTP port. Default: 8001
	Port int

	// BackendURL locates the backend. Default: "http://localhost:8080"
	BackendURL string

	// InternalAPIKey authenticates calls to the backend.
	InternalAPIKey string

	// DataDir receives run artifacts. Empty disables artifact files.
	DataDir string

	// OTelEndpoint is the collector host:port, "stdout", or empty.
	OTelEndpoint string

	// Forest parameterises anomaly detection.
	Forest anomaly.ForestConfig

	// MaxExplained caps SHAP explanations per run. Default: 100
	MaxExplained int

	// RunOnStartup triggers one run when the service starts.
	RunOnStartup bool

	// RunInterval schedules periodic runs. Zero disables scheduling.
	RunInterval time.Duration
}

type service struct {
	config           Config
	opts             extensions.ServiceOptions
	router           *gin.Engine
	orchestrator     *pipeline.Orchestrator
	registry         *prometheus.Registry
	metrics          *observability.Metrics
	telemetryCleanup telemetry.Cleanup
}

// New creates the service.
//
// If opts is nil, DefaultOptions() is used.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	if opts != nil {
		s.opts = opts.Normalize()
	} else {
		s.opts = extensions.DefaultOptions()
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

	var artifacts *config.Paths
	if s.config.DataDir != "" {
		p := config.PathsFor(s.config.DataDir)
		artifacts = &p
	}
	s.orchestrator = pipeline.NewOrchestrator(pipeline.Config{
		Backend: pipeline.NewBackendClient(pipeline.BackendClientConfig{
			BaseURL:        s.config.BackendURL,
			InternalAPIKey: s.config.InternalAPIKey,
			Retries:        2,
		}),
		Forest:        s.config.Forest,
		MaxExplained:  s.config.MaxExplained,
		ArtifactPaths: artifacts,
		Metrics:       s.metrics,
		Audit:         s.opts.AuditLogger,
		Logger:        slog.Default(),
	})

	s.initRouter()
	return s, nil
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8001
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = "http://localhost:8080"
	}
	if cfg.MaxExplained == 0 {
		cfg.MaxExplained = 100
	}
	return cfg
}

func (s *service) initRouter() {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(ServiceName))
	s.router.Use(s.metrics.GinMiddleware("visual-analytics"))

	routes.SetupRoutes(s.router, ServiceName, s.orchestrator, s.opts.AuthProvider, s.registry)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// schedule runs the pipeline once at startup and on every tick until ctx
// is done. Overlapping triggers are dropped by the orchestrator.
func (s *service) schedule(ctx context.Context) {
	runOnce := func() {
		if _, err := s.orchestrator.Run(ctx); err != nil && !errors.Is(err, pipeline.ErrRunInProgress) {
			slog.Warn("Scheduled pipeline run failed", "error", err)
		}
	}
	if s.config.RunOnStartup {
		runOnce()
	}
	if s.config.RunInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.config.RunInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

// Run serves until interrupted.
func (s *service) Run() error {
	defer s.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go s.schedule(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting visual analytics", "port", s.config.Port, "backend", s.config.BackendURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down visual analytics")
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
