// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command backend starts the MuleHunter transaction ledger and graph API.
//
// # Environment Variables
//
//   - BACKEND_PORT: HTTP server port (default: 8080)
//   - SHARED_DATA_DIR: directory holding nodes.csv and transactions.csv (default: ./shared-data)
//   - DB_DIR: badger directory, empty keeps the ledger in memory
//   - AI_ENGINE_URL: scoring service (default: http://localhost:8000)
//   - AI_TIMEOUT: scoring call timeout (default: 2s)
//   - INTERNAL_API_KEY: key required on internal routes; unset rejects them all
//   - INFLUX_URL, INFLUX_TOKEN, INFLUX_ORG, INFLUX_BUCKET: optional time-series sink
//   - SKIP_IMPORT: do not import the graph on startup
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector, "stdout" for local dumps
//   - LOG_LEVEL, LOG_JSON, LOG_DIR: logging
package main

import (
	"log/slog"
	"os"

	"github.com/AleutianAI/MuleHunter/pkg/config"
	"github.com/AleutianAI/MuleHunter/pkg/extensions"
	"github.com/AleutianAI/MuleHunter/pkg/logging"
	"github.com/AleutianAI/MuleHunter/services/backend"
	"github.com/AleutianAI/MuleHunter/services/backend/client"
	"github.com/AleutianAI/MuleHunter/services/backend/timeseries"
)

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(config.EnvString("LOG_LEVEL", "info")),
		JSON:    config.EnvBool("LOG_JSON", true),
		LogDir:  os.Getenv("LOG_DIR"),
		Service: backend.ServiceName,
	})
	slog.SetDefault(logger.Slog())

	cfg := backend.Config{
		Port:         config.EnvInt("BACKEND_PORT", 8080),
		DataDir:      config.EnvString("SHARED_DATA_DIR", "./shared-data"),
		DBDir:        os.Getenv("DB_DIR"),
		AIEngineURL:  config.EnvString("AI_ENGINE_URL", "http://localhost:8000"),
		AITimeout:    config.EnvDuration("AI_TIMEOUT", client.DefaultTimeout),
		OTelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Influx: timeseries.InfluxConfig{
			URL:    os.Getenv("INFLUX_URL"),
			Token:  os.Getenv("INFLUX_TOKEN"),
			Org:    config.EnvString("INFLUX_ORG", "mulehunter"),
			Bucket: config.EnvString("INFLUX_BUCKET", "transactions"),
		},
		SkipImport: config.EnvBool("SKIP_IMPORT", false),
	}

	apiKey := os.Getenv("INTERNAL_API_KEY")
	if apiKey == "" {
		slog.Warn("INTERNAL_API_KEY is not set, internal routes will reject every request")
	}

	slog.Info("Starting backend",
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"db_dir", cfg.DBDir,
		"ai_engine_url", cfg.AIEngineURL,
	)

	opts := extensions.DefaultOptions().
		WithAuth(extensions.NewAPIKeyProvider(apiKey)).
		WithAudit(extensions.NewMemoryAuditLogger(5000, logger.Slog()))
	svc, err := backend.New(cfg, &opts)
	if err != nil {
		fatal(logger, "Failed to create backend", err)
	}
	if err := svc.Run(); err != nil {
		fatal(logger, "Backend error", err)
	}
	_ = logger.Close()
}

func fatal(logger *logging.Logger, msg string, err error) {
	slog.Error(msg, "error", err)
	_ = logger.Close()
	os.Exit(1)
}
