// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Handlers on this page sit behind the internal API key and are called by
// the visual analytics pipeline and operators.

package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/MuleHunter/pkg/config"
	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/extensions"
	"github.com/AleutianAI/MuleHunter/pkg/middleware"
	"github.com/AleutianAI/MuleHunter/services/backend/ledger"
	"github.com/AleutianAI/MuleHunter/services/backend/store"
	"github.com/gin-gonic/gin"
)

// EnrichedNodes serves per-account flow aggregates to the pipeline.
func EnrichedNodes(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		nodes, err := st.EnrichedNodes(c.Request.Context())
		if err != nil {
			graphError(c, err)
			return
		}
		c.JSON(http.StatusOK, nodes)
	}
}

// ReplaceAnomalyScores stores a pipeline run's isolation forest output.
func ReplaceAnomalyScores(st *store.Store, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var scores []datatypes.AnomalyScore
		if !bindList(c, &scores) {
			return
		}
		if err := st.ReplaceAnomalyScores(c.Request.Context(), scores); err != nil {
			storeWriteError(c, "anomaly scores", err)
			return
		}
		anomalous := 0
		for _, s := range scores {
			if s.IsAnomalous {
				anomalous++
			}
		}
		auditResults(c, audit, "anomaly_scores", len(scores), map[string]any{"anomalous": anomalous})
		c.JSON(http.StatusOK, gin.H{"status": "stored", "count": len(scores)})
	}
}

// ReplaceShapExplanations stores a pipeline run's SHAP attributions.
func ReplaceShapExplanations(st *store.Store, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var exps []datatypes.ShapExplanation
		if !bindList(c, &exps) {
			return
		}
		if err := st.ReplaceShapExplanations(c.Request.Context(), exps); err != nil {
			storeWriteError(c, "shap explanations", err)
			return
		}
		auditResults(c, audit, "shap_explanations", len(exps), nil)
		c.JSON(http.StatusOK, gin.H{"status": "stored", "count": len(exps)})
	}
}

// ReplaceFraudExplanations stores a pipeline run's human-readable reasons.
func ReplaceFraudExplanations(st *store.Store, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var exps []datatypes.FraudExplanation
		if !bindList(c, &exps) {
			return
		}
		if err := st.ReplaceFraudExplanations(c.Request.Context(), exps); err != nil {
			storeWriteError(c, "fraud explanations", err)
			return
		}
		auditResults(c, audit, "fraud_explanations", len(exps), nil)
		c.JSON(http.StatusOK, gin.H{"status": "stored", "count": len(exps)})
	}
}

// ImportGraph reloads the account graph from the shared data directory.
func ImportGraph(st *store.Store, paths config.Paths) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := ledger.ImportGraph(c.Request.Context(), st, paths)
		if err != nil {
			slog.Error("Graph import failed", "dir", paths.Dir, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "graph import failed"})
			return
		}
		slog.Info("Graph imported", "nodes", res.Nodes, "transfers", res.Transfers)
		c.JSON(http.StatusOK, res)
	}
}

// AuditTrail returns recent audit events, newest first.
// Query params: type (repeatable), resource_id, limit (default 100).
func AuditTrail(audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := extensions.AuditFilter{
			EventTypes: c.QueryArray("type"),
			ResourceID: c.Query("resource_id"),
			Limit:      100,
		}
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			filter.Limit = n
		}
		events, err := audit.Query(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "audit query failed"})
			return
		}
		c.JSON(http.StatusOK, events)
	}
}

func bindList(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return false
	}
	return true
}

func storeWriteError(c *gin.Context, what string, err error) {
	slog.Error("Failed to store analytics results", "kind", what, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store " + what})
}

func auditResults(c *gin.Context, audit extensions.AuditLogger, kind string, count int, extra map[string]any) {
	meta := map[string]any{"count": count}
	for k, v := range extra {
		meta[k] = v
	}
	event := extensions.AuditEvent{
		EventType:    "analytics.stored",
		Action:       "replace",
		ResourceType: kind,
		Outcome:      "success",
		Metadata:     meta,
	}
	if info := middleware.GetAuthInfo(c); info != nil {
		event.UserID = info.UserID
	}
	_ = audit.Log(c.Request.Context(), event)
}
