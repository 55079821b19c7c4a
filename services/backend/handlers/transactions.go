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
	"github.com/AleutianAI/MuleHunter/services/backend/ledger"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("mulehunter.backend.handlers")

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// Ledger creates and lists transactions. *ledger.Service implements it.
type Ledger interface {
	Create(ctx context.Context, req datatypes.CreateTransactionRequest) (datatypes.Transaction, error)
	List(ctx context.Context, limit int) ([]datatypes.Transaction, error)
}

// AIHealthChecker fetches the AI engine health. *client.FraudClient
// implements it.
type AIHealthChecker interface {
	Health(ctx context.Context) (datatypes.AIHealth, error)
}

// CreateTransaction scores and records a new transaction.
func CreateTransaction(l Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "CreateTransaction.Handler")
		defer span.End()

		var req datatypes.CreateTransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}

		tx, err := l.Create(ctx, req)
		if errors.Is(err, ledger.ErrInvalidAccount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			slog.Error("Failed to create transaction", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create transaction"})
			return
		}
		span.SetAttributes(
			attribute.String("tx.id", tx.ID),
			attribute.Bool("tx.suspected_fraud", tx.SuspectedFraud))
		c.JSON(http.StatusCreated, tx)
	}
}

// ListTransactions returns the newest transactions. ?limit= defaults to 50.
func ListTransactions(l Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultListLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxListLimit)
		}

		txs, err := l.List(c.Request.Context(), limit)
		if err != nil {
			slog.Error("Failed to list transactions", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transactions"})
			return
		}
		c.JSON(http.StatusOK, txs)
	}
}

// HealthCheck reports the backend itself as up.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP", "service": "mulehunter-backend"})
}

// AIHealth proxies the AI engine health, reporting UNAVAILABLE when the
// engine cannot be reached.
func AIHealth(ai AIHealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		h, err := ai.Health(c.Request.Context())
		if err != nil {
			slog.Warn("AI engine health check failed", "error", err)
			c.JSON(http.StatusOK, datatypes.UnavailableAIHealth())
			return
		}
		c.JSON(http.StatusOK, h)
	}
}
