// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/MuleHunter/pkg/config"
	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/extensions"
	"github.com/AleutianAI/MuleHunter/pkg/observability"
	"github.com/AleutianAI/MuleHunter/pkg/txgraph"
	"github.com/AleutianAI/MuleHunter/services/backend/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	risk   float64
	err    error
	called []int64
}

func (f *fakeChecker) CheckFraud(_ context.Context, nodeID int64) (datatypes.Prediction, error) {
	f.called = append(f.called, nodeID)
	if f.err != nil {
		return datatypes.Prediction{}, f.err
	}
	return datatypes.Prediction{
		NodeID:    nodeID,
		RiskScore: f.risk,
		Verdict:   datatypes.VerdictFor(f.risk),
		Known:     true,
	}, nil
}

type recordingSink struct {
	txs []datatypes.Transaction
	err error
}

func (s *recordingSink) Record(_ context.Context, tx datatypes.Transaction) error {
	s.txs = append(s.txs, tx)
	return s.err
}

func (s *recordingSink) Close() {}

type fixture struct {
	svc     *Service
	checker *fakeChecker
	store   *store.Store
	sink    *recordingSink
	audit   *extensions.MemoryAuditLogger
	metrics *observability.Metrics
}

func newFixture(t *testing.T, checker *fakeChecker) *fixture {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		checker: checker,
		store:   st,
		sink:    &recordingSink{},
		audit:   extensions.NewMemoryAuditLogger(10, nil),
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}
	f.svc = New(Config{
		Checker: checker,
		Repo:    st,
		Sink:    f.sink,
		Audit:   f.audit,
		Metrics: f.metrics,
	})
	return f
}

func TestCreate_ScoredByModel(t *testing.T) {
	f := newFixture(t, &fakeChecker{risk: 0.9})
	ctx := context.Background()

	tx, err := f.svc.Create(ctx, datatypes.CreateTransactionRequest{
		AccountID: " 42 ",
		TargetID:  "7",
		Amount:    1200,
		Merchant:  "Coffee",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, "42", tx.AccountID)
	assert.True(t, tx.SuspectedFraud)
	assert.Equal(t, 0.9, tx.RiskScore)
	assert.Equal(t, datatypes.VerdictCritical, tx.Verdict)
	assert.Equal(t, datatypes.ScoredByModel, tx.ScoredBy)
	assert.Equal(t, []int64{42}, f.checker.called)

	stored, err := f.svc.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, tx.ID, stored[0].ID)

	require.Len(t, f.sink.txs, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TransactionsTotal.WithLabelValues("true", "model")))

	events, _ := f.audit.Query(ctx, extensions.AuditFilter{ResourceID: tx.ID})
	require.Len(t, events, 1)
	assert.Equal(t, "flagged", events[0].Outcome)
}

func TestCreate_BelowThresholdIsNotSuspected(t *testing.T) {
	f := newFixture(t, &fakeChecker{risk: 0.75})

	tx, err := f.svc.Create(context.Background(), datatypes.CreateTransactionRequest{AccountID: "3", Amount: 5})
	require.NoError(t, err)
	assert.False(t, tx.SuspectedFraud)
	assert.Equal(t, datatypes.VerdictSuspicious, tx.Verdict)
}

func TestCreate_FailsClosedWhenAIUnavailable(t *testing.T) {
	f := newFixture(t, &fakeChecker{err: errors.New("timeout")})

	tx, err := f.svc.Create(context.Background(), datatypes.CreateTransactionRequest{AccountID: "3", Amount: 5})
	require.NoError(t, err)
	assert.True(t, tx.SuspectedFraud)
	assert.Equal(t, VerdictUnverified, tx.Verdict)
	assert.Equal(t, datatypes.ScoredByFallback, tx.ScoredBy)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TransactionsTotal.WithLabelValues("true", "fallback")))
}

func TestCreate_InvalidAccount(t *testing.T) {
	f := newFixture(t, &fakeChecker{})

	_, err := f.svc.Create(context.Background(), datatypes.CreateTransactionRequest{AccountID: "acct-9", Amount: 5})
	assert.ErrorIs(t, err, ErrInvalidAccount)
	assert.Empty(t, f.checker.called)
}

func TestCreate_SinkFailureDoesNotFail(t *testing.T) {
	f := newFixture(t, &fakeChecker{risk: 0.1})
	f.sink.err = errors.New("influx down")

	_, err := f.svc.Create(context.Background(), datatypes.CreateTransactionRequest{AccountID: "1", Amount: 5})
	assert.NoError(t, err)
}

func TestCreate_UsesInjectedClockAndID(t *testing.T) {
	f := newFixture(t, &fakeChecker{risk: 0.1})
	fixed := time.Date(2025, 12, 25, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }
	f.svc.newID = func() string { return "tx-fixed" }

	tx, err := f.svc.Create(context.Background(), datatypes.CreateTransactionRequest{AccountID: "1", Amount: 5})
	require.NoError(t, err)
	assert.Equal(t, "tx-fixed", tx.ID)
	assert.Equal(t, fixed, tx.CreatedAt)
}

func TestImportGraph(t *testing.T) {
	dir := t.TempDir()
	paths := config.PathsFor(dir)
	ds := &txgraph.Dataset{
		Nodes: []txgraph.Node{{ID: "0"}, {ID: "1", IsFraud: 1}},
		Edges: []txgraph.Edge{{Source: "0", Target: "1", Amount: 10}},
	}
	require.NoError(t, txgraph.SaveDataset(ds, paths.Nodes, paths.Edges))

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	defer st.Close()

	res, err := ImportGraph(context.Background(), st, paths)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Nodes: 2, Transfers: 1}, res)
}

func TestImportGraph_MissingFiles(t *testing.T) {
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	defer st.Close()

	_, err = ImportGraph(context.Background(), st, config.PathsFor(filepath.Join(t.TempDir(), "absent")))
	assert.Error(t, err)
}
