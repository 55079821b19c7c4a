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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/txgraph"
	"github.com/AleutianAI/MuleHunter/services/ai_engine/engine"
	"github.com/AleutianAI/MuleHunter/services/ai_engine/model"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("mulehunter.ai_engine.handlers")

// Engine is the scoring surface the handlers need. *engine.Engine
// satisfies it.
type Engine interface {
	Health() datatypes.AIHealth
	Predict(nodeID int64) (datatypes.Prediction, error)
	Analyze(ctx context.Context, req datatypes.TransactionRequest) (datatypes.RiskResponse, error)
	GenerateData(ctx context.Context) (txgraph.Summary, error)
	TrainModel(ctx context.Context) (model.TrainReport, error)
	Initialize(ctx context.Context) error
}

var _ Engine = (*engine.Engine)(nil)

const (
	msgLoading       = "System loading..."
	msgInternalError = "Internal server error"
	// InitializedStatus is returned by a successful /initialize-system.
	InitializedStatus = "System Re-Initialized with 5-Feature Model"
)

// respondEngineError maps engine errors to HTTP responses. Anything that
// is not a readiness problem becomes a generic 500.
func respondEngineError(c *gin.Context, op string, err error) {
	if errors.Is(err, engine.ErrNotReady) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": msgLoading})
		return
	}
	slog.Error("AI engine operation failed", "op", op, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
}

// HealthCheck reports model load state. Always 200 so orchestration can
// distinguish LOADING from unreachable.
func HealthCheck(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, eng.Health())
	}
}

// AnalyzeTransaction scores a proposed transfer against the live graph.
func AnalyzeTransaction(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "AnalyzeTransaction.Handler")
		defer span.End()

		var body datatypes.TransactionBody
		if err := c.ShouldBindJSON(&body); err != nil {
			slog.Warn("Invalid analyze request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}

		resp, err := eng.Analyze(ctx, body.Request())
		if err != nil {
			respondEngineError(c, "analyze", err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// PredictByPath returns the cached risk for the :nodeId path parameter.
func PredictByPath(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		nodeID, err := strconv.ParseInt(c.Param("nodeId"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "node id must be an integer"})
			return
		}
		predict(c, eng, nodeID)
	}
}

// PredictByBody is the POST {"node_id": N} form of PredictByPath.
func PredictByBody(eng Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.PredictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
		predict(c, eng, *req.NodeID)
	}
}

func predict(c *gin.Context, eng Engine, nodeID int64) {
	p, err := eng.Predict(nodeID)
	if err != nil {
		respondEngineError(c, "predict", err)
		return
	}
	c.JSON(http.StatusOK, p)
}
