// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graphexport writes a transaction dataset to Neo4j.
//
// Accounts become (:Account {id, ...}) nodes and transfers become
// [:TRANSFER {amount}] relationships. Writes use MERGE so repeated exports
// of the same dataset are idempotent.
package graphexport

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/txgraph"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// DefaultBatchSize is the number of rows sent per UNWIND statement.
const DefaultBatchSize = 500

const (
	constraintQuery = `CREATE CONSTRAINT account_id IF NOT EXISTS FOR (a:Account) REQUIRE a.id IS UNIQUE`

	accountQuery = `
		UNWIND $rows AS row
		MERGE (a:Account {id: row.id})
		SET a.account_age_days = row.account_age_days,
		    a.balance = row.balance,
		    a.in_out_ratio = row.in_out_ratio,
		    a.pagerank = row.pagerank,
		    a.tx_velocity = row.tx_velocity,
		    a.is_fraud = row.is_fraud`

	transferQuery = `
		UNWIND $rows AS row
		MATCH (s:Account {id: row.source})
		MATCH (t:Account {id: row.target})
		MERGE (s)-[r:TRANSFER]->(t)
		SET r.amount = row.amount`

	scoreQuery = `
		UNWIND $rows AS row
		MATCH (a:Account {id: row.id})
		SET a.anomaly_score = row.anomaly_score,
		    a.is_anomalous = row.is_anomalous`
)

// Config locates the Neo4j server.
type Config struct {
	URI       string
	User      string
	Password  string
	Database  string
	BatchSize int
}

// Report counts what an export sent.
type Report struct {
	Accounts  int `json:"accounts"`
	Transfers int `json:"transfers"`
	Scores    int `json:"scores"`
	Batches   int `json:"batches"`
}

// statementRunner executes one write statement.
type statementRunner interface {
	run(ctx context.Context, query string, params map[string]any) error
	close(ctx context.Context) error
}

// Exporter writes datasets to Neo4j.
type Exporter struct {
	runner    statementRunner
	batchSize int
	logger    *slog.Logger
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Exporter, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", cfg.URI, err)
	}
	return newExporter(&driverRunner{driver: driver, database: cfg.Database}, cfg.BatchSize, logger), nil
}

func newExporter(r statementRunner, batchSize int, logger *slog.Logger) *Exporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{runner: r, batchSize: batchSize, logger: logger}
}

// Close releases the driver.
func (e *Exporter) Close(ctx context.Context) error {
	return e.runner.close(ctx)
}

// Export writes the accounts and transfers of ds, then any anomaly scores.
// Scores for node ids absent from ds match nothing and are ignored by the
// server.
func (e *Exporter) Export(ctx context.Context, ds *txgraph.Dataset, scores []datatypes.AnomalyScore) (Report, error) {
	var rep Report
	if err := e.runner.run(ctx, constraintQuery, nil); err != nil {
		return rep, fmt.Errorf("create account constraint: %w", err)
	}

	steps := []struct {
		name  string
		query string
		rows  []map[string]any
		count *int
	}{
		{"accounts", accountQuery, accountRows(ds.Nodes), &rep.Accounts},
		{"transfers", transferQuery, transferRows(ds.Edges), &rep.Transfers},
		{"scores", scoreQuery, scoreRows(scores), &rep.Scores},
	}
	for _, s := range steps {
		for _, batch := range batches(s.rows, e.batchSize) {
			if err := e.runner.run(ctx, s.query, map[string]any{"rows": batch}); err != nil {
				return rep, fmt.Errorf("export %s: %w", s.name, err)
			}
			*s.count += len(batch)
			rep.Batches++
		}
		e.logger.Debug("neo4j export step done", "step", s.name, "rows", *s.count)
	}

	e.logger.Info("Exported graph to neo4j",
		"accounts", rep.Accounts,
		"transfers", rep.Transfers,
		"scores", rep.Scores,
	)
	return rep, nil
}

// batches splits rows into consecutive chunks of at most size.
func batches[T any](rows []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

func accountRows(nodes []txgraph.Node) []map[string]any {
	rows := make([]map[string]any, len(nodes))
	for i, n := range nodes {
		rows[i] = map[string]any{
			"id":               n.ID,
			"account_age_days": n.AccountAgeDays,
			"balance":          n.Balance,
			"in_out_ratio":     n.InOutRatio,
			"pagerank":         n.PageRank,
			"tx_velocity":      n.TxVelocity,
			"is_fraud":         n.IsFraud == 1,
		}
	}
	return rows
}

func transferRows(edges []txgraph.Edge) []map[string]any {
	rows := make([]map[string]any, len(edges))
	for i, e := range edges {
		rows[i] = map[string]any{
			"source": e.Source,
			"target": e.Target,
			"amount": e.Amount,
		}
	}
	return rows
}

func scoreRows(scores []datatypes.AnomalyScore) []map[string]any {
	rows := make([]map[string]any, len(scores))
	for i, s := range scores {
		rows[i] = map[string]any{
			"id":            strconv.FormatInt(s.NodeID, 10),
			"anomaly_score": s.AnomalyScore,
			"is_anomalous":  bool(s.IsAnomalous),
		}
	}
	return rows
}

// =============================================================================
// Driver
// =============================================================================

type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (d *driverRunner) run(ctx context.Context, query string, params map[string]any) error {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: d.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	return err
}

func (d *driverRunner) close(ctx context.Context) error {
	return d.driver.Close(ctx)
}
