// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package timeseries records scored transactions as time-series points so
// risk can be charted over time alongside the ledger.
package timeseries

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement scored transactions go to.
const Measurement = "transaction_risk"

// Sink receives every persisted transaction.
type Sink interface {
	Record(ctx context.Context, tx datatypes.Transaction) error
	Close()
}

// NopSink discards points. Used when InfluxDB is not configured.
type NopSink struct{}

func (NopSink) Record(context.Context, datatypes.Transaction) error { return nil }
func (NopSink) Close()                                                {}

// pointWriter is the part of api.WriteAPIBlocking the sink uses.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink writes one point per transaction with a blocking write API.
//
// # Thread Safety
//
// Safe for concurrent use.
type InfluxSink struct {
	client influxdb2.Client
	writer pointWriter
}

// NewInfluxSink connects to InfluxDB and checks its health. A failed health
// check is returned so callers can fall back to NopSink.
func NewInfluxSink(ctx context.Context, cfg InfluxConfig) (*InfluxSink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	healthCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	health, err := client.Health(healthCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb health check: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influxdb not healthy: %s", health.Status)
	}

	slog.Info("InfluxDB sink ready", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return &InfluxSink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Record writes tx as a point.
func (s *InfluxSink) Record(ctx context.Context, tx datatypes.Transaction) error {
	if err := s.writer.WritePoint(ctx, Point(tx)); err != nil {
		return fmt.Errorf("write %s point: %w", Measurement, err)
	}
	return nil
}

// Close releases the client.
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Point converts a transaction to its time-series representation. Tags
// carry the low-cardinality decision fields; the account is a tag so
// per-account risk can be queried.
func Point(tx datatypes.Transaction) *write.Point {
	ts := tx.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return influxdb2.NewPoint(
		Measurement,
		map[string]string{
			"account_id":      tx.AccountID,
			"verdict":         tx.Verdict,
			"scored_by":       tx.ScoredBy,
			"suspected_fraud": strconv.FormatBool(tx.SuspectedFraud),
		},
		map[string]interface{}{
			"amount":     tx.Amount,
			"risk_score": tx.RiskScore,
			"tx_id":      tx.ID,
		},
		ts,
	)
}
