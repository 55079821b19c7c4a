// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/MuleHunter/pkg/config"
	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/txgraph"
	"github.com/AleutianAI/MuleHunter/services/ai_engine/model"
	"github.com/AleutianAI/MuleHunter/services/visual_analytics/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a small, fast configuration rooted in a temp dir.
func writeTestConfig(t *testing.T) (cfgPath, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "shared-data")
	cfgPath = filepath.Join(dir, "mulehunter.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
shared_data_dir: `+dataDir+`
generator:
  users: 80
  rings: 4
  fan_in_min: 3
  fan_in_max: 6
training:
  epochs: 5
anomaly:
  estimators: 20
logging:
  level: error
`), 0o600))
	return cfgPath, dataDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "mulehunter.yaml")

	out, err := execute(t, "init-config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = execute(t, "init-config", path)
	assert.Error(t, err, "existing file is not overwritten")

	_, err = execute(t, "init-config", "--force", path)
	assert.NoError(t, err)
}

func TestGenerateTrainAnalyzeScore(t *testing.T) {
	cfgPath, dataDir := writeTestConfig(t)
	paths := config.PathsFor(dataDir)

	out, err := execute(t, "--config", cfgPath, "-o", "json", "generate", "--users", "60")
	require.NoError(t, err)
	var summary txgraph.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 60, summary.Nodes)
	assert.FileExists(t, paths.Nodes)
	assert.FileExists(t, paths.Edges)

	out, err = execute(t, "--config", cfgPath, "-o", "json", "train")
	require.NoError(t, err)
	var report model.TrainReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 5, report.Epochs)
	assert.FileExists(t, paths.Model)

	out, err = execute(t, "--config", cfgPath, "-o", "json", "analyze", "--source", "3", "--target", "7", "--amount", "2500")
	require.NoError(t, err)
	var risk datatypes.RiskResponse
	require.NoError(t, json.Unmarshal([]byte(out), &risk))
	assert.Equal(t, int64(3), risk.NodeID)
	assert.Equal(t, datatypes.ModelVersion, risk.ModelVersion)
	assert.GreaterOrEqual(t, risk.RiskScore, 0.0)
	assert.LessOrEqual(t, risk.RiskScore, 1.0)

	out, err = execute(t, "--config", cfgPath, "-o", "json", "score")
	require.NoError(t, err)
	var run pipeline.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, pipeline.StatusCompleted, run.Status)
	assert.Equal(t, 60, run.NodeCount)
	assert.Positive(t, run.Anomalies)
	assert.FileExists(t, paths.AnomalyScores)
	assert.FileExists(t, paths.Viz)
	assert.FileExists(t, paths.FraudExplanations)
}

func TestAnalyze_WithoutModel(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	_, err := execute(t, "--config", cfgPath, "analyze", "--source", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run generate and train first")
}

func TestScore_NoArtifacts(t *testing.T) {
	cfgPath, dataDir := writeTestConfig(t)
	_, err := execute(t, "--config", cfgPath, "generate")
	require.NoError(t, err)

	_, err = execute(t, "--config", cfgPath, "score", "--no-artifacts")
	require.NoError(t, err)
	assert.NoFileExists(t, config.PathsFor(dataDir).AnomalyScores)
}

func TestGenerate_InvalidOverride(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	_, err := execute(t, "--config", cfgPath, "generate", "--users", "3")
	assert.Error(t, err)
}

func TestExportGraph_MissingDataset(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	_, err := execute(t, "--config", cfgPath, "export-graph")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load dataset")
}

func TestPlainOutput(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	out, err := execute(t, "--config", cfgPath, "generate")
	require.NoError(t, err)
	assert.Contains(t, out, "nodes: 80\n")
	assert.Contains(t, out, "rings: 4\n")
}

func TestUnknownOutputFormat(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	_, err := execute(t, "--config", cfgPath, "-o", "yaml", "generate")
	assert.Error(t, err)
}

func TestPublish_RequiresBucket(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	_, err := execute(t, "--config", cfgPath, "publish")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")
}

func TestMissingExplicitConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "generate")
	assert.Error(t, err)
}

func TestDatasetBackend(t *testing.T) {
	ds := &txgraph.Dataset{
		Nodes: []txgraph.Node{{ID: "0"}, {ID: "1"}},
		Edges: []txgraph.Edge{{Source: "0", Target: "1", Amount: 50}},
	}
	b := newDatasetBackend(ds)
	nodes, err := b.EnrichedNodes(t.Context())
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, 50.0, nodes[0].TotalOutgoing)
	assert.Equal(t, 1, nodes[1].InDegree)
	assert.NoError(t, b.PostAnomalyScores(t.Context(), nil))
}
