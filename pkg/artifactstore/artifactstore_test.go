// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifactstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/MuleHunter/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUploader struct {
	objects map[string]string
	types   map[string]string
	fail    error
}

func newMemUploader() *memUploader {
	return &memUploader{objects: map[string]string{}, types: map[string]string{}}
}

func (m *memUploader) Upload(_ context.Context, object, contentType string, r io.Reader) error {
	if m.fail != nil {
		return m.fail
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[object] = string(b)
	m.types[object] = contentType
	return nil
}

func TestPublish(t *testing.T) {
	dir := t.TempDir()
	paths := config.PathsFor(dir)
	require.NoError(t, os.WriteFile(paths.Nodes, []byte("node_id\n1\n"), 0o600))
	require.NoError(t, os.WriteFile(paths.Model, []byte(`{"version":"x"}`), 0o600))

	up := newMemUploader()
	res, err := Publish(context.Background(), up, paths, "runs/demo", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"runs/demo/nodes.csv", "runs/demo/mule_model.json"}, res.Uploaded)
	assert.Len(t, res.Missing, 6)
	assert.Contains(t, res.Missing, config.EdgesFile)
	assert.Equal(t, "node_id\n1\n", up.objects["runs/demo/nodes.csv"])
	assert.Equal(t, "text/csv", up.types["runs/demo/nodes.csv"])
	assert.Equal(t, "application/json", up.types["runs/demo/mule_model.json"])
}

func TestPublish_NoPrefix(t *testing.T) {
	paths := config.PathsFor(t.TempDir())
	require.NoError(t, os.WriteFile(paths.Viz, []byte("[]"), 0o600))

	res, err := Publish(context.Background(), newMemUploader(), paths, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{config.VizFile}, res.Uploaded)
}

func TestPublish_UploadFailure(t *testing.T) {
	paths := config.PathsFor(t.TempDir())
	require.NoError(t, os.WriteFile(paths.Edges, []byte("source,target,amount\n"), 0o600))

	up := newMemUploader()
	up.fail = errors.New("quota exceeded")
	_, err := Publish(context.Background(), up, paths, "p", nil)
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestNewGCS_Validation(t *testing.T) {
	_, err := NewGCS(context.Background(), GCSConfig{})
	assert.Error(t, err)

	_, err = NewGCS(context.Background(), GCSConfig{
		Bucket:          "mulehunter-demo",
		CredentialsFile: filepath.Join(t.TempDir(), "missing.json"),
	})
	assert.ErrorContains(t, err, "service account key not found")

	_, err = NewGCS(context.Background(), GCSConfig{Bucket: "Not_A/Bucket"})
	assert.ErrorContains(t, err, "invalid bucket name")
}

func TestPublish_RejectsTraversalPrefix(t *testing.T) {
	up := newMemUploader()
	_, err := Publish(context.Background(), up, config.PathsFor(t.TempDir()), "runs/../secrets", nil)
	assert.ErrorContains(t, err, "invalid object prefix")
	assert.Empty(t, up.objects)
}
