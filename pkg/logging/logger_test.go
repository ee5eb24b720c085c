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
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" warn ", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"trace", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_StringRoundTrips(t *testing.T) {
	for _, l := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		got, err := ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	assert.Equal(t, "unknown", Level(42).String())
}

func TestNew_ConsoleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: LevelWarn, Output: &buf, Service: "scan"})
	require.NoError(t, err)

	l.Slog().Info("analysis started", "file", "a.cs")
	l.Slog().Warn("detector did not complete", "rule", "broad-catch")

	out := buf.String()
	assert.NotContains(t, out, "analysis started")
	assert.Contains(t, out, "detector did not complete")
	assert.Contains(t, out, "rule=broad-catch")
	assert.Contains(t, out, "service=scan")
}

func TestNew_ConsoleJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{JSON: true, Output: &buf})
	require.NoError(t, err)

	l.Slog().Info("skipping file", "path", "missing.cs")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "skipping file", rec["msg"])
	assert.Equal(t, "missing.cs", rec["path"])
}

func TestNew_FileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	l, err := New(Config{Dir: dir, Service: "runtimescan-test", Output: &buf})
	require.NoError(t, err)
	require.NotEmpty(t, l.Path())
	assert.True(t, strings.HasPrefix(filepath.Base(l.Path()), "runtimescan-test_"))

	l.Slog().With("run_id", "r1").Info("analysis complete", "findings", 3)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.Contains(t, buf.String(), "analysis complete")

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "analysis complete", rec["msg"])
	assert.Equal(t, "r1", rec["run_id"])
	assert.Equal(t, "runtimescan-test", rec["service"])
	assert.EqualValues(t, 3, rec["findings"])
}

func TestNew_FileErrorKeepsConsole(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	var buf bytes.Buffer
	l, err := New(Config{Dir: filepath.Join(blocker, "logs"), Output: &buf})
	assert.Error(t, err)
	require.NotNil(t, l)
	assert.Empty(t, l.Path())

	l.Slog().Info("still logging")
	assert.Contains(t, buf.String(), "still logging")
	assert.NoError(t, l.Close())
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Slog().Error("dropped")
	assert.Empty(t, l.Path())
	assert.NoError(t, l.Close())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs"), expandHome("~/logs"))
	assert.Equal(t, "/var/log/scan", expandHome("/var/log/scan"))
	assert.Equal(t, "~user/logs", expandHome("~user/logs"))
}
