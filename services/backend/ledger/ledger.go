// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger implements transaction creation: score the account with
// the AI engine, persist the decision, and fan it out to the time-series
// sink and the audit trail.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/extensions"
	"github.com/AleutianAI/MuleHunter/pkg/observability"
	"github.com/AleutianAI/MuleHunter/services/backend/timeseries"
	"github.com/google/uuid"
)

// ErrInvalidAccount is returned when an account id is not numeric.
var ErrInvalidAccount = errors.New("account id must be numeric")

// VerdictUnverified marks a transaction the AI engine could not score.
const VerdictUnverified = "UNVERIFIED"

// FraudChecker scores an account. *client.FraudClient implements it.
type FraudChecker interface {
	CheckFraud(ctx context.Context, nodeID int64) (datatypes.Prediction, error)
}

// Repository persists ledger entries. *store.Store implements it.
type Repository interface {
	SaveTransaction(ctx context.Context, t datatypes.Transaction) error
	ListTransactions(ctx context.Context, limit int) ([]datatypes.Transaction, error)
}

// Config wires a Service. Checker and Repo are required.
type Config struct {
	Checker FraudChecker
	Repo    Repository
	Sink    timeseries.Sink
	Audit   extensions.AuditLogger
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Service creates and lists transactions.
//
// # Description
//
// Every new transaction is scored against the AI engine's cached node
// risk. When the engine cannot answer the transaction is persisted as
// suspected fraud so an outage never waves payments through.
//
// # Thread Safety
//
// Safe for concurrent use if its dependencies are.
type Service struct {
	checker FraudChecker
	repo    Repository
	sink    timeseries.Sink
	audit   extensions.AuditLogger
	metrics *observability.Metrics
	logger  *slog.Logger

	now   func() time.Time
	newID func() string
}

// New builds a Service, filling optional dependencies with no-ops.
func New(cfg Config) *Service {
	s := &Service{
		checker: cfg.Checker,
		repo:    cfg.Repo,
		sink:    cfg.Sink,
		audit:   cfg.Audit,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
	}
	if s.sink == nil {
		s.sink = timeseries.NopSink{}
	}
	if s.audit == nil {
		s.audit = &extensions.NopAuditLogger{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Create scores and stores a transaction.
func (s *Service) Create(ctx context.Context, req datatypes.CreateTransactionRequest) (datatypes.Transaction, error) {
	accountID := strings.TrimSpace(req.AccountID)
	nodeID, err := strconv.ParseInt(accountID, 10, 64)
	if err != nil {
		return datatypes.Transaction{}, fmt.Errorf("%w: %q", ErrInvalidAccount, req.AccountID)
	}

	tx := datatypes.Transaction{
		ID:        s.newID(),
		AccountID: accountID,
		TargetID:  strings.TrimSpace(req.TargetID),
		Amount:    req.Amount,
		Merchant:  req.Merchant,
		CreatedAt: s.now(),
	}

	pred, err := s.checker.CheckFraud(ctx, nodeID)
	if err != nil {
		s.logger.Warn("AI engine unavailable, assuming transaction is risky",
			"account_id", accountID, "error", err)
		tx.SuspectedFraud = true
		tx.Verdict = VerdictUnverified
		tx.ScoredBy = datatypes.ScoredByFallback
	} else {
		tx.SuspectedFraud = pred.IsFraud()
		tx.RiskScore = pred.RiskScore
		tx.Verdict = pred.Verdict
		tx.ScoredBy = datatypes.ScoredByModel
	}

	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		return datatypes.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}
	if err := s.sink.Record(ctx, tx); err != nil {
		s.logger.Warn("Time-series write failed", "tx_id", tx.ID, "error", err)
	}
	s.metrics.RecordTransaction(tx.SuspectedFraud, tx.ScoredBy == datatypes.ScoredByFallback)

	outcome := "success"
	if tx.SuspectedFraud {
		outcome = "flagged"
	}
	_ = s.audit.Log(ctx, extensions.AuditEvent{
		EventType:    "transaction.scored",
		Timestamp:    tx.CreatedAt,
		Action:       "create",
		ResourceType: "transaction",
		ResourceID:   tx.ID,
		Outcome:      outcome,
		Metadata: map[string]any{
			"account_id": tx.AccountID,
			"amount":     tx.Amount,
			"risk_score": tx.RiskScore,
			"verdict":    tx.Verdict,
			"scored_by":  tx.ScoredBy,
		},
	})

	s.logger.Info("Transaction recorded",
		"tx_id", tx.ID,
		"account_id", tx.AccountID,
		"suspected_fraud", tx.SuspectedFraud,
		"scored_by", tx.ScoredBy)
	return tx, nil
}

// List returns the newest transactions first.
func (s *Service) List(ctx context.Context, limit int) ([]datatypes.Transaction, error) {
	return s.repo.ListTransactions(ctx, limit)
}
