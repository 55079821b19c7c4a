// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/MuleHunter/pkg/config"
	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/extensions"
	"github.com/AleutianAI/MuleHunter/pkg/observability"
	"github.com/AleutianAI/MuleHunter/services/visual_analytics/anomaly"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	nodes    []datatypes.EnrichedNode
	fetchErr error
	postErr  error
	entered  chan struct{}
	block    chan struct{}

	scores []datatypes.AnomalyScore
	shap   []datatypes.ShapExplanation
	fraud  []datatypes.FraudExplanation
}

func (f *fakeBackend) EnrichedNodes(ctx context.Context) ([]datatypes.EnrichedNode, error) {
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.nodes, f.fetchErr
}

func (f *fakeBackend) PostAnomalyScores(_ context.Context, s []datatypes.AnomalyScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = s
	return f.postErr
}

func (f *fakeBackend) PostShapExplanations(_ context.Context, e []datatypes.ShapExplanation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shap = e
	return nil
}

func (f *fakeBackend) PostFraudExplanations(_ context.Context, e []datatypes.FraudExplanation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fraud = e
	return nil
}

// graphNodes returns ordinary accounts plus two mule-like outliers.
func graphNodes() []datatypes.EnrichedNode {
	nodes := make([]datatypes.EnrichedNode, 0, 102)
	for i := 0; i < 100; i++ {
		in := 1000 + float64(i%10)*300
		out := 1200 + float64(i%7)*250
		nodes = append(nodes, datatypes.EnrichedNode{
			NodeID:        int64(i),
			InDegree:      2 + i%3,
			OutDegree:     2 + i%4,
			TotalIncoming: in,
			TotalOutgoing: out,
			RiskRatio:     out / in,
		})
	}
	nodes = append(nodes,
		datatypes.EnrichedNode{NodeID: 500, InDegree: 17, OutDegree: 1, TotalIncoming: 21000, TotalOutgoing: 80000, RiskRatio: 3.81},
		datatypes.EnrichedNode{NodeID: 501, InDegree: 15, OutDegree: 1, TotalIncoming: 19000, TotalOutgoing: 95000, RiskRatio: 5},
	)
	return nodes
}

type fixture struct {
	backend *fakeBackend
	orch    *Orchestrator
	reg     *prometheus.Registry
	metrics *observability.Metrics
	audit   *extensions.MemoryAuditLogger
	paths   config.Paths
}

func newFixture(t *testing.T, backend *fakeBackend) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	f := &fixture{
		backend: backend,
		reg:     reg,
		metrics: observability.NewMetrics(reg),
		audit:   extensions.NewMemoryAuditLogger(10, nil),
		paths:   config.PathsFor(t.TempDir()),
	}
	f.orch = NewOrchestrator(Config{
		Backend:       backend,
		Forest:        anomaly.ForestConfig{Estimators: 60},
		ArtifactPaths: &f.paths,
		Metrics:       f.metrics,
		Audit:         f.audit,
	})
	f.orch.newID = func() string { return "run-1" }
	return f
}

func TestRun_FullPass(t *testing.T) {
	fx := newFixture(t, &fakeBackend{nodes: graphNodes()})

	res, err := fx.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 102, res.NodeCount)
	assert.Positive(t, res.Anomalies)
	assert.Equal(t, res.Anomalies, res.Explained)

	require.Len(t, fx.backend.scores, 102)
	assert.Len(t, fx.backend.shap, res.Anomalies)
	assert.Len(t, fx.backend.fraud, res.Anomalies)
	assert.Len(t, res.Viz, 102)

	flagged := map[int64]bool{}
	for _, s := range fx.backend.scores {
		flagged[s.NodeID] = bool(s.IsAnomalous)
	}
	assert.True(t, flagged[500])
	assert.True(t, flagged[501])

	for _, e := range fx.backend.shap {
		var sum float64
		for _, c := range e.Contributions {
			sum += c.ShapValue
		}
		assert.InDelta(t, e.AnomalyScore, e.BaseValue+sum, 1e-9)
	}
	for _, e := range fx.backend.fraud {
		assert.NotEmpty(t, e.Reasons)
		assert.LessOrEqual(t, len(e.Reasons), 3)
	}

	assert.Same(t, res, fx.orch.Last())
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.PipelineRunsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(res.Anomalies), testutil.ToFloat64(fx.metrics.PipelineAnomalies))

	events, err := fx.audit.Query(context.Background(), extensions.AuditFilter{EventTypes: []string{"pipeline.run"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "success", events[0].Outcome)
}

func TestRun_WritesArtifacts(t *testing.T) {
	fx := newFixture(t, &fakeBackend{nodes: graphNodes()})

	res, err := fx.orch.Run(context.Background())
	require.NoError(t, err)

	for _, p := range []string{fx.paths.AnomalyScores, fx.paths.NodesScored, fx.paths.Viz, fx.paths.ShapExplanations, fx.paths.FraudExplanations} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}

	data, err := os.ReadFile(fx.paths.Viz)
	require.NoError(t, err)
	var vizNodes []datatypes.VizNode
	require.NoError(t, json.Unmarshal(data, &vizNodes))
	assert.Equal(t, res.Viz, vizNodes)

	csvData, err := os.ReadFile(fx.paths.AnomalyScores)
	require.NoError(t, err)
	assert.Contains(t, string(csvData), "node_id,anomaly_score,is_anomalous,model,source\n")
	assert.Contains(t, string(csvData), ",isolation_forest,visual-analytics")
}

func TestRun_EmptyGraph(t *testing.T) {
	fx := newFixture(t, &fakeBackend{})

	res, err := fx.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusEmpty, res.Status)
	assert.Nil(t, fx.orch.Last())
	assert.Nil(t, fx.backend.scores)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.PipelineRunsTotal.WithLabelValues(StatusEmpty)))
}

func TestRun_NoAnomaliesSkipsExplanations(t *testing.T) {
	nodes := make([]datatypes.EnrichedNode, 20)
	for i := range nodes {
		nodes[i] = datatypes.EnrichedNode{NodeID: int64(i), InDegree: 1, OutDegree: 1, TotalIncoming: 10, TotalOutgoing: 10, RiskRatio: 1}
	}
	fx := newFixture(t, &fakeBackend{nodes: nodes})

	res, err := fx.orch.Run(context.Background())
	require.NoError(t, err)

	// Identical rows all score at the offset, so nothing is below it.
	assert.Zero(t, res.Anomalies)
	assert.Len(t, fx.backend.scores, 20)
	assert.Nil(t, fx.backend.shap)
	assert.Nil(t, fx.backend.fraud)
	assert.Empty(t, res.Explanations)
}

func TestRun_BackendFailures(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		fx := newFixture(t, &fakeBackend{fetchErr: ErrBackend})
		_, err := fx.orch.Run(context.Background())
		assert.ErrorIs(t, err, ErrBackend)
		assert.Nil(t, fx.orch.Last())
		assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.PipelineRunsTotal.WithLabelValues("error")))
	})

	t.Run("post", func(t *testing.T) {
		fx := newFixture(t, &fakeBackend{nodes: graphNodes(), postErr: errors.New("boom")})
		_, err := fx.orch.Run(context.Background())
		assert.Error(t, err)
		assert.Nil(t, fx.orch.Last())

		events, qerr := fx.audit.Query(context.Background(), extensions.AuditFilter{})
		require.NoError(t, qerr)
		require.Len(t, events, 1)
		assert.Equal(t, "failure", events[0].Outcome)
	})
}

func TestRun_KeepsPreviousResultOnFailure(t *testing.T) {
	backend := &fakeBackend{nodes: graphNodes()}
	fx := newFixture(t, backend)
	first, err := fx.orch.Run(context.Background())
	require.NoError(t, err)

	backend.fetchErr = ErrBackend
	_, err = fx.orch.Run(context.Background())
	require.Error(t, err)

	assert.Same(t, first, fx.orch.Last())
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	backend := &fakeBackend{nodes: graphNodes(), entered: make(chan struct{}), block: make(chan struct{})}
	fx := newFixture(t, backend)

	done := make(chan error, 1)
	go func() {
		_, err := fx.orch.Run(context.Background())
		done <- err
	}()

	select {
	case <-backend.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached the backend")
	}
	_, err := fx.orch.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(backend.block)
	assert.NoError(t, <-done)
}
