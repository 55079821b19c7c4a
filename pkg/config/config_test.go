// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_MissingImplicitFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mulehunter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
shared_data_dir: /data/shared
generator:
  users: 500
training:
  epochs: 25
anomaly:
  contamination: 0.05
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/shared", cfg.SharedDataDir)
	assert.Equal(t, 500, cfg.Generator.Users)
	assert.Equal(t, 2, cfg.Generator.AttachEdges, "unset keys keep defaults")
	assert.Equal(t, 25, cfg.Training.Epochs)
	assert.Equal(t, 0.01, cfg.Training.LearningRate)
	assert.Equal(t, 0.05, cfg.Anomaly.Contamination)
	assert.Equal(t, 200, cfg.Anomaly.Estimators)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mulehunter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("training:\n  epochs: 25\n"), 0o600))
	t.Setenv("MULEHUNTER_TRAINING_EPOCHS", "7")
	t.Setenv("MULEHUNTER_SERVICES_INTERNAL_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Training.Epochs)
	assert.Equal(t, "from-env", cfg.Services.InternalAPIKey)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("anomaly:\n  contamination: 0.9\n"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestValidate_GeneratorCrossField(t *testing.T) {
	cfg := Default()
	cfg.Generator.FanInMin = 30
	cfg.Generator.FanInMax = 10
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Generator.Users = 10
	cfg.Generator.AttachEdges = 10
	assert.Error(t, cfg.Validate())
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "mulehunter.yaml")
	require.NoError(t, WriteDefault(path, false))
	assert.Error(t, WriteDefault(path, false), "must not overwrite")
	require.NoError(t, WriteDefault(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestPaths(t *testing.T) {
	p := PathsFor("/srv/shared")
	assert.Equal(t, "/srv/shared/nodes.csv", p.Nodes)
	assert.Equal(t, "/srv/shared/transactions.csv", p.Edges)
	assert.Equal(t, "/srv/shared/mule_model.json", p.Model)
	assert.Equal(t, "/srv/shared/fraud_explanations.json", p.FraudExplanations)
}

func TestGeneratorConversion(t *testing.T) {
	g := Default().Generator.Generator()
	assert.Equal(t, 2000, g.Users)
	assert.Equal(t, uint64(42), g.Seed)
}
