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
	"github.com/AleutianAI/MuleHunter/pkg/middleware"
	"github.com/AleutianAI/MuleHunter/pkg/observability"
	"github.com/AleutianAI/MuleHunter/services/ai_engine/handlers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// SetupRoutes registers the AI engine endpoints. limiter may be nil, in
// which case /analyze-transaction is not rate limited.
func SetupRoutes(router *gin.Engine, eng handlers.Engine, limiter *rate.Limiter, reg *prometheus.Registry) {
	router.GET("/health", handlers.HealthCheck(eng))
	if reg != nil {
		router.GET("/metrics", observability.Handler(reg))
	}

	router.POST("/analyze-transaction", middleware.RateLimit(limiter), handlers.AnalyzeTransaction(eng))
	router.GET("/predict/:nodeId", handlers.PredictByPath(eng))
	router.POST("/predict", handlers.PredictByBody(eng))

	// Pipeline control
	router.POST("/generate-data", handlers.GenerateData(eng))
	router.POST("/train-model", handlers.TrainModel(eng))
	router.POST("/initialize-system", handlers.InitializeSystem(eng))
}
