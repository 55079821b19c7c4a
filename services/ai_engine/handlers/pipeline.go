// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// GenerateData writes a fresh synthetic dataset to the shared data dir.
func GenerateData(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "GenerateData.Handler")
		defer span.End()

		summary, err := eng.GenerateData(ctx)
		if err != nil {
			respondEngineError(c, "generate", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "Data generated", "summary": summary})
	}
}

// TrainModel retrains on the current dataset and hot-swaps the model.
func TrainModel(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "TrainModel.Handler")
		defer span.End()

		report, err := eng.TrainModel(ctx)
		if err != nil {
			respondEngineError(c, "train", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "Model trained", "report": report})
	}
}

// InitializeSystem runs generate, train and reload in one call.
func InitializeSystem(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "InitializeSystem.Handler")
		defer span.End()

		slog.Info("System initialization requested")
		if err := eng.Initialize(ctx); err != nil {
			respondEngineError(c, "initialize", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": InitializedStatus})
	}
}
