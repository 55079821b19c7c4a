// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/MuleHunter/pkg/config"
	"github.com/AleutianAI/MuleHunter/pkg/extensions"
	"github.com/AleutianAI/MuleHunter/pkg/middleware"
	"github.com/AleutianAI/MuleHunter/pkg/observability"
	"github.com/AleutianAI/MuleHunter/services/backend/handlers"
	"github.com/AleutianAI/MuleHunter/services/backend/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps are the collaborators the backend routes need.
type Deps struct {
	Store    *store.Store
	Ledger   handlers.Ledger
	AI       handlers.AIHealthChecker
	Paths    config.Paths
	Opts     extensions.ServiceOptions
	Registry *prometheus.Registry
}

// SetupRoutes registers the backend API. Everything under /api/nodes,
// /api/visual and /api/admin requires the internal API key.
func SetupRoutes(router *gin.Engine, d Deps) {
	opts := d.Opts.Normalize()
	if d.Registry != nil {
		router.GET("/metrics", observability.Handler(d.Registry))
	}

	api := router.Group("/api")
	{
		api.GET("/health", handlers.HealthCheck)
		api.GET("/health/ai", handlers.AIHealth(d.AI))

		api.POST("/transactions", handlers.CreateTransaction(d.Ledger))
		api.GET("/transactions", handlers.ListTransactions(d.Ledger))

		api.GET("/graph", handlers.GetGraph(d.Store))
		api.GET("/node/:id", handlers.GetNode(d.Store))
	}

	internal := api.Group("")
	internal.Use(
		middleware.InternalKeyMiddleware(opts.AuthProvider),
		middleware.RequireRole(extensions.RoleInternal, extensions.RoleAdmin),
	)
	{
		internal.GET("/nodes/enriched", handlers.EnrichedNodes(d.Store))

		internal.POST("/visual/anomaly-scores", handlers.ReplaceAnomalyScores(d.Store, opts.AuditLogger))
		internal.POST("/visual/shap-explanations", handlers.ReplaceShapExplanations(d.Store, opts.AuditLogger))
		internal.POST("/visual/fraud-explanations", handlers.ReplaceFraudExplanations(d.Store, opts.AuditLogger))

		internal.POST("/admin/import", handlers.ImportGraph(d.Store, d.Paths))
		internal.GET("/admin/audit", handlers.AuditTrail(opts.AuditLogger))
	}
}
