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

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/services/visual_analytics/pipeline"
	"github.com/gin-gonic/gin"
)

// Runner runs the analytics pass. *pipeline.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
	Last() *pipeline.Result
}

// RunPipeline triggers one analytics pass. The run is detached from the
// request so a client disconnect cannot leave the backend half updated.
func RunPipeline(r Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := r.Run(context.WithoutCancel(c.Request.Context()))
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": "Pipeline already running"})
			return
		case errors.Is(err, pipeline.ErrBackend):
			slog.Error("Pipeline could not reach backend", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Backend unavailable"})
			return
		case err != nil:
			slog.Error("Pipeline failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Pipeline failed"})
			return
		}

		status := "Pipeline completed"
		if res.Status == pipeline.StatusEmpty {
			status = "No nodes to analyze"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "summary": res.Summary})
	}
}

// GetViz returns the render records of the last completed run.
func GetViz(r Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		last := r.Last()
		if last == nil {
			c.JSON(http.StatusOK, []datatypes.VizNode{})
			return
		}
		c.JSON(http.StatusOK, last.Viz)
	}
}

// GetExplanations returns the reasons of the last completed run.
func GetExplanations(r Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		last := r.Last()
		if last == nil {
			c.JSON(http.StatusOK, []datatypes.FraudExplanation{})
			return
		}
		c.JSON(http.StatusOK, last.Explanations)
	}
}

// HealthCheck reports the service as up along with the last run summary.
func HealthCheck(service string, r Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "UP", "service": service, "last_run": nil}
		if last := r.Last(); last != nil {
			body["last_run"] = last.Summary
		}
		c.JSON(http.StatusOK, body)
	}
}
