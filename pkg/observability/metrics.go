// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the MuleHunter services.
//
// # Metrics Exposed
//
//   - mulehunter_http_requests_total: Requests by service, route and status class
//   - mulehunter_http_request_duration_seconds: Request latency by service and route
//   - mulehunter_scoring_verdicts_total: Risk verdicts issued by the AI engine
//   - mulehunter_scoring_risk_score: Distribution of risk scores
//   - mulehunter_training_duration_seconds: Model training wall time
//   - mulehunter_training_final_loss: Loss after the last epoch
//   - mulehunter_pipeline_runs_total: Analytics pipeline runs by outcome
//   - mulehunter_pipeline_anomalies: Anomalous nodes in the last run
//   - mulehunter_ledger_transactions_total: Transactions by fraud decision
//
// # Registration
//
// Metrics register on the Registerer passed to NewMetrics. Each service
// builds its own registry with NewRegistry and serves it from /metrics,
// so several services can be constructed in one test binary.
//
// # Thread Safety
//
// All recorder methods are safe for concurrent use and are no-ops on a nil
// receiver.
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// Constants
// =============================================================================

// metricsNamespace is the Prometheus namespace for all MuleHunter metrics.
const metricsNamespace = "mulehunter"

const (
	httpSubsystem     = "http"
	scoringSubsystem  = "scoring"
	trainingSubsystem = "training"
	pipelineSubsystem = "pipeline"
	ledgerSubsystem   = "ledger"
)

// =============================================================================
// Metrics Struct
// =============================================================================

// Metrics holds all Prometheus collectors for a service process.
type Metrics struct {
	// RequestsTotal counts HTTP requests.
	// Labels: service, route, status ("2xx", "4xx", "5xx")
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds tracks HTTP latency.
	// Labels: service, route
	RequestDurationSeconds *prometheus.HistogramVec

	// VerdictsTotal counts scoring verdicts.
	// Labels: verdict, endpoint ("analyze", "predict")
	VerdictsTotal *prometheus.CounterVec

	// RiskScore records the distribution of issued risk scores.
	RiskScore prometheus.Histogram

	// TrainingDurationSeconds records model training wall time.
	TrainingDurationSeconds prometheus.Histogram

	// TrainingFinalLoss is the loss after the last completed epoch.
	TrainingFinalLoss prometheus.Gauge

	// PipelineRunsTotal counts analytics pipeline runs.
	// Labels: status ("success", "error", "empty")
	PipelineRunsTotal *prometheus.CounterVec

	// PipelineAnomalies is the anomalous node count from the last run.
	PipelineAnomalies prometheus.Gauge

	// TransactionsTotal counts ledger writes.
	// Labels: suspected ("true", "false"), source ("model", "fallback")
	TransactionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on reg.
//
// # Limitations
//
//   - Panics if called twice with the same registerer (duplicate registration)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "requests_total",
				Help:      "Total HTTP requests by service, route and status class",
			},
			[]string{"service", "route", "status"},
		),

		RequestDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service", "route"},
		),

		VerdictsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: scoringSubsystem,
				Name:      "verdicts_total",
				Help:      "Risk verdicts issued by verdict and endpoint",
			},
			[]string{"verdict", "endpoint"},
		),

		RiskScore: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: scoringSubsystem,
				Name:      "risk_score",
				Help:      "Distribution of issued risk scores",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
		),

		TrainingDurationSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: trainingSubsystem,
				Name:      "duration_seconds",
				Help:      "Model training wall time in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		TrainingFinalLoss: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: trainingSubsystem,
				Name:      "final_loss",
				Help:      "Training loss after the last completed epoch",
			},
		),

		PipelineRunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "runs_total",
				Help:      "Analytics pipeline runs by outcome",
			},
			[]string{"status"},
		),

		PipelineAnomalies: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "anomalies",
				Help:      "Anomalous nodes found by the last pipeline run",
			},
		),

		TransactionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: ledgerSubsystem,
				Name:      "transactions_total",
				Help:      "Ledger transactions by fraud decision and decision source",
			},
			[]string{"suspected", "source"},
		),
	}
}

// =============================================================================
// Recording Helpers
// =============================================================================

// RecordVerdict records one scoring decision.
func (m *Metrics) RecordVerdict(endpoint, verdict string, risk float64) {
	if m == nil {
		return
	}
	m.VerdictsTotal.WithLabelValues(verdict, endpoint).Inc()
	m.RiskScore.Observe(risk)
}

// RecordTraining records a completed training run.
func (m *Metrics) RecordTraining(d time.Duration, finalLoss float64) {
	if m == nil {
		return
	}
	m.TrainingDurationSeconds.Observe(d.Seconds())
	m.TrainingFinalLoss.Set(finalLoss)
}

// RecordPipelineRun records a pipeline outcome and its anomaly count.
func (m *Metrics) RecordPipelineRun(status string, anomalies int) {
	if m == nil {
		return
	}
	m.PipelineRunsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.PipelineAnomalies.Set(float64(anomalies))
	}
}

// RecordTransaction records a ledger write. fallback is true when the AI
// engine was unreachable and the transaction was flagged by default.
func (m *Metrics) RecordTransaction(suspected, fallback bool) {
	if m == nil {
		return
	}
	source := "model"
	if fallback {
		source = "fallback"
	}
	m.TransactionsTotal.WithLabelValues(strconv.FormatBool(suspected), source).Inc()
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
}

// =============================================================================
// Gin Middleware
// =============================================================================

// GinMiddleware records request count and latency per matched route.
//
// Unmatched routes are recorded under "unmatched" to bound label cardinality.
func (m *Metrics) GinMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(service, route, statusClass(c.Writer.Status())).Inc()
		m.RequestDurationSeconds.WithLabelValues(service, route).Observe(time.Since(start).Seconds())
	}
}

// statusClass maps an HTTP status to "2xx", "4xx" and so on.
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
