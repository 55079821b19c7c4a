// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graphexport

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/txgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statement struct {
	query string
	rows  int
}

type fakeRunner struct {
	statements []statement
	failOn     string
	closed     bool
}

func (f *fakeRunner) run(_ context.Context, query string, params map[string]any) error {
	if f.failOn != "" && query == f.failOn {
		return errors.New("boom")
	}
	rows := 0
	if r, ok := params["rows"].([]map[string]any); ok {
		rows = len(r)
	}
	f.statements = append(f.statements, statement{query: query, rows: rows})
	return nil
}

func (f *fakeRunner) close(context.Context) error {
	f.closed = true
	return nil
}

func sampleDataset() *txgraph.Dataset {
	ds := &txgraph.Dataset{}
	for _, id := range []string{"0", "1", "2", "3", "4"} {
		ds.Nodes = append(ds.Nodes, txgraph.Node{ID: id, Balance: 100})
	}
	ds.Nodes[2].IsFraud = 1
	ds.Edges = []txgraph.Edge{
		{Source: "0", Target: "1", Amount: 10},
		{Source: "1", Target: "2", Amount: 20},
		{Source: "3", Target: "2", Amount: 30},
	}
	return ds
}

func TestBatches(t *testing.T) {
	rows := []int{1, 2, 3, 4, 5}
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, batches(rows, 2))
	assert.Equal(t, [][]int{{1, 2, 3, 4, 5}}, batches(rows, 10))
	assert.Empty(t, batches([]int{}, 3))
}

func TestAccountRows(t *testing.T) {
	rows := accountRows(sampleDataset().Nodes)
	require.Len(t, rows, 5)
	assert.Equal(t, "2", rows[2]["id"])
	assert.Equal(t, true, rows[2]["is_fraud"])
	assert.Equal(t, false, rows[0]["is_fraud"])
	assert.Equal(t, 100.0, rows[0]["balance"])
}

func TestScoreRows_UsesStringIDs(t *testing.T) {
	rows := scoreRows([]datatypes.AnomalyScore{{NodeID: 42, AnomalyScore: 0.12, IsAnomalous: true}})
	require.Len(t, rows, 1)
	assert.Equal(t, "42", rows[0]["id"])
	assert.Equal(t, 0.12, rows[0]["anomaly_score"])
	assert.Equal(t, true, rows[0]["is_anomalous"])
}

func TestExport_BatchesEveryStep(t *testing.T) {
	r := &fakeRunner{}
	e := newExporter(r, 2, nil)
	scores := []datatypes.AnomalyScore{{NodeID: 2, AnomalyScore: 0.3, IsAnomalous: true}}

	rep, err := e.Export(context.Background(), sampleDataset(), scores)
	require.NoError(t, err)

	assert.Equal(t, Report{Accounts: 5, Transfers: 3, Scores: 1, Batches: 6}, rep)
	require.Len(t, r.statements, 7)
	assert.Equal(t, constraintQuery, r.statements[0].query)
	assert.Equal(t, accountQuery, r.statements[1].query)
	assert.Equal(t, 2, r.statements[1].rows)
	assert.Equal(t, 1, r.statements[3].rows)
	assert.Equal(t, transferQuery, r.statements[4].query)
	assert.Equal(t, scoreQuery, r.statements[6].query)
}

func TestExport_NoScores(t *testing.T) {
	r := &fakeRunner{}
	rep, err := newExporter(r, 0, nil).Export(context.Background(), sampleDataset(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Scores)
	assert.Equal(t, 2, rep.Batches)
}

func TestExport_StopsOnError(t *testing.T) {
	r := &fakeRunner{failOn: transferQuery}
	rep, err := newExporter(r, 2, nil).Export(context.Background(), sampleDataset(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export transfers")
	assert.Equal(t, 5, rep.Accounts)
	assert.Zero(t, rep.Transfers)
}

func TestExport_ConstraintFailure(t *testing.T) {
	r := &fakeRunner{failOn: constraintQuery}
	_, err := newExporter(r, 2, nil).Export(context.Background(), sampleDataset(), nil)
	require.Error(t, err)
	assert.Empty(t, r.statements)
}

func TestClose(t *testing.T) {
	r := &fakeRunner{}
	require.NoError(t, newExporter(r, 1, nil).Close(context.Background()))
	assert.True(t, r.closed)
}

func TestNew_RequiresURI(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	require.Error(t, err)
}
