// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"Error":   LevelError,
		"info":    LevelInfo,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestNew_ConsoleJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Service: "ai-engine", JSON: true, Output: &buf})

	logger.Slog().Debug("hidden")
	logger.Slog().Info("model loaded", "nodes", 2000)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "model loaded", record["msg"])
	assert.Equal(t, "ai-engine", record["service"])
	assert.Equal(t, float64(2000), record["nodes"])
}

func TestNew_QuietDiscards(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Quiet: true, Output: &buf})
	logger.Slog().Error("nobody hears this")
	assert.Empty(t, buf.String())
	assert.NoError(t, logger.Close())
}

func TestNew_FileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Service: "backend", LogDir: dir, Output: &buf})

	logger.Slog().Warn("ai engine unreachable", "node_id", 7)
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close(), "Close must be idempotent")

	assert.Contains(t, buf.String(), "ai engine unreachable")

	matches, err := filepath.Glob(filepath.Join(dir, "backend_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"node_id":7`)
	assert.Contains(t, string(data), `"service":"backend"`)
}

func TestExpandPath(t *testing.T) {
	assert.Equal(t, "/tmp/x", expandPath("/tmp/x"))
	if home, err := os.UserHomeDir(); err == nil {
		assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	}
}
