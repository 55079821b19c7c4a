// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ai-engine starts the MuleHunter risk scoring service.
//
// # Environment Variables
//
//   - AI_ENGINE_PORT: HTTP server port (default: 8000)
//   - SHARED_DATA_DIR: dataset and model directory (default: ./shared-data)
//   - MAX_RPS: rate limit on /analyze-transaction, 0 disables (default: 0)
//   - SKIP_AUTO_INIT: do not generate and train when the directory is empty
//   - DISABLE_MODEL_WATCH: do not hot-reload the model artifact
//   - TRAIN_EPOCHS: training epochs for /pipeline/train (default: 100)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector, "stdout" for local dumps
//   - LOG_LEVEL, LOG_JSON, LOG_DIR: logging
package main

import (
	"log/slog"
	"os"

	"github.com/AleutianAI/MuleHunter/pkg/config"
	"github.com/AleutianAI/MuleHunter/pkg/extensions"
	"github.com/AleutianAI/MuleHunter/pkg/logging"
	"github.com/AleutianAI/MuleHunter/services/ai_engine"
	"github.com/AleutianAI/MuleHunter/services/ai_engine/model"
)

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(config.EnvString("LOG_LEVEL", "info")),
		JSON:    config.EnvBool("LOG_JSON", true),
		LogDir:  os.Getenv("LOG_DIR"),
		Service: ai_engine.ServiceName,
	})
	slog.SetDefault(logger.Slog())

	cfg := ai_engine.Config{
		Port:               config.EnvInt("AI_ENGINE_PORT", 8000),
		DataDir:            config.EnvString("SHARED_DATA_DIR", "./shared-data"),
		OTelEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		MaxRPS:             config.EnvInt("MAX_RPS", 0),
		SkipAutoInitialize: config.EnvBool("SKIP_AUTO_INIT", false),
		DisableWatch:       config.EnvBool("DISABLE_MODEL_WATCH", false),
		Training:           model.TrainConfig{Epochs: config.EnvInt("TRAIN_EPOCHS", 100)},
	}

	slog.Info("Starting AI engine",
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"max_rps", cfg.MaxRPS,
	)

	opts := extensions.DefaultOptions().
		WithAudit(extensions.NewMemoryAuditLogger(1000, logger.Slog()))
	svc, err := ai_engine.New(cfg, &opts)
	if err != nil {
		fatal(logger, "Failed to create AI engine", err)
	}
	if err := svc.Run(); err != nil {
		fatal(logger, "AI engine error", err)
	}
	_ = logger.Close()
}

func fatal(logger *logging.Logger, msg string, err error) {
	slog.Error(msg, "error", err)
	_ = logger.Close()
	os.Exit(1)
}
