// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command visual-analytics starts the MuleHunter anomaly analytics service.
//
// # Environment Variables
//
//   - VISUAL_ANALYTICS_PORT: HTTP server port (default: 8001)
//   - BACKEND_URL: ledger service (default: http://localhost:8080)
//   - INTERNAL_API_KEY: key sent to the backend and required on /run
//   - SHARED_DATA_DIR: where run artifacts are written, empty disables
//   - ANOMALY_ESTIMATORS, ANOMALY_CONTAMINATION, ANOMALY_SEED: forest settings
//   - MAX_EXPLAINED: cap on explained anomalies (default: 100)
//   - RUN_ON_STARTUP: run the pipeline once at boot
//   - RUN_INTERVAL: rerun period such as "10m", empty disables
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector, "stdout" for local dumps
//   - LOG_LEVEL, LOG_JSON, LOG_DIR: logging
package main

import (
	"log/slog"
	"os"

	"github.com/AleutianAI/MuleHunter/pkg/config"
	"github.com/AleutianAI/MuleHunter/pkg/extensions"
	"github.com/AleutianAI/MuleHunter/pkg/logging"
	"github.com/AleutianAI/MuleHunter/services/visual_analytics"
	"github.com/AleutianAI/MuleHunter/services/visual_analytics/anomaly"
)

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(config.EnvString("LOG_LEVEL", "info")),
		JSON:    config.EnvBool("LOG_JSON", true),
		LogDir:  os.Getenv("LOG_DIR"),
		Service: visual_analytics.ServiceName,
	})
	slog.SetDefault(logger.Slog())

	apiKey := os.Getenv("INTERNAL_API_KEY")
	cfg := visual_analytics.Config{
		Port:           config.EnvInt("VISUAL_ANALYTICS_PORT", 8001),
		BackendURL:     config.EnvString("BACKEND_URL", "http://localhost:8080"),
		InternalAPIKey: apiKey,
		DataDir:        os.Getenv("SHARED_DATA_DIR"),
		OTelEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Forest: anomaly.ForestConfig{
			Estimators:    config.EnvInt("ANOMALY_ESTIMATORS", 200),
			Contamination: config.EnvFloat("ANOMALY_CONTAMINATION", 0.03),
			Seed:          uint64(config.EnvInt("ANOMALY_SEED", 42)),
		},
		MaxExplained: config.EnvInt("MAX_EXPLAINED", 100),
		RunOnStartup: config.EnvBool("RUN_ON_STARTUP", false),
		RunInterval:  config.EnvDuration("RUN_INTERVAL", 0),
	}
	if apiKey == "" {
		slog.Warn("INTERNAL_API_KEY is not set, backend writes and /run will be rejected")
	}

	slog.Info("Starting visual analytics",
		"port", cfg.Port,
		"backend_url", cfg.BackendURL,
		"run_interval", cfg.RunInterval,
	)

	opts := extensions.DefaultOptions().
		WithAuth(extensions.NewAPIKeyProvider(apiKey)).
		WithAudit(extensions.NewMemoryAuditLogger(1000, logger.Slog()))
	svc, err := visual_analytics.New(cfg, &opts)
	if err != nil {
		fatal(logger, "Failed to create visual analytics service", err)
	}
	if err := svc.Run(); err != nil {
		fatal(logger, "Visual analytics error", err)
	}
	_ = logger.Close()
}

func fatal(logger *logging.Logger, msg string, err error) {
	slog.Error(msg, "error", err)
	_ = logger.Close()
	os.Exit(1)
}
