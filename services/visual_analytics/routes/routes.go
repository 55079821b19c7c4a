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
	"github.com/AleutianAI/MuleHunter/pkg/extensions"
	"github.com/AleutianAI/MuleHunter/pkg/middleware"
	"github.com/AleutianAI/MuleHunter/pkg/observability"
	"github.com/AleutianAI/MuleHunter/services/visual_analytics/handlers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// SetupRoutes registers the visual analytics endpoints. Triggering a run
// requires the internal API key; reading results does not.
func SetupRoutes(router *gin.Engine, service string, r handlers.Runner, auth extensions.AuthProvider, reg *prometheus.Registry) {
	router.GET("/health", handlers.HealthCheck(service, r))
	if reg != nil {
		router.GET("/metrics", observability.Handler(reg))
	}

	api := router.Group("/visual-analytics/api")
	{
		api.POST("/run",
			middleware.InternalKeyMiddleware(auth),
			middleware.RequireRole(extensions.RoleInternal, extensions.RoleAdmin),
			handlers.RunPipeline(r))
		api.GET("/viz", handlers.GetViz(r))
		api.GET("/explanations", handlers.GetExplanations(r))
	}
}
