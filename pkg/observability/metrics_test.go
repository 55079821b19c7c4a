// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestMetrics creates a Metrics instance on an isolated registry.
func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestRecordVerdict(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordVerdict("analyze", "SAFE", 0.1)
	m.RecordVerdict("analyze", "SAFE", 0.2)
	m.RecordVerdict("predict", "CRITICAL (MULE)", 0.95)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.VerdictsTotal.WithLabelValues("SAFE", "analyze")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerdictsTotal.WithLabelValues("CRITICAL (MULE)", "predict")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RiskScore))
}

func TestRecordTraining(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordTraining(3*time.Second, 0.42)

	assert.Equal(t, 0.42, testutil.ToFloat64(m.TrainingFinalLoss))
}

func TestRecordPipelineRun(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordPipelineRun("success", 7)
	m.RecordPipelineRun("error", 99)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("error")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.PipelineAnomalies), "failed runs must not overwrite the anomaly gauge")
}

func TestRecordTransaction(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordTransaction(true, true)
	m.RecordTransaction(false, false)
	m.RecordTransaction(false, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("true", "fallback")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("false", "model")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordVerdict("analyze", "SAFE", 0)
		m.RecordTraining(time.Second, 1)
		m.RecordPipelineRun("success", 1)
		m.RecordTransaction(true, false)
	})

	r := gin.New()
	r.Use(m.GinMiddleware("svc"))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGinMiddleware(t *testing.T) {
	m := newTestMetrics(t)

	r := gin.New()
	r.Use(m.GinMiddleware("ai-engine"))
	r.GET("/predict/:nodeId", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/predict/1", "/predict/2", "/missing"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("ai-engine", "/predict/:nodeId", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("ai-engine", "unmatched", "4xx")))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(201))
	assert.Equal(t, "4xx", statusClass(403))
	assert.Equal(t, "5xx", statusClass(503))
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := NewRegistry()
	m := NewMetrics(reg)
	m.RecordVerdict("predict", "SAFE", 0.1)

	r := gin.New()
	r.GET("/metrics", Handler(reg))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mulehunter_scoring_verdicts_total")
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
