// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newRun(id string, offset time.Duration, critical bool) *findings.Result {
	sev := findings.SeverityMedium
	if critical {
		sev = findings.SeverityCritical
	}
	return &findings.Result{
		Issues: []findings.RuntimeIssue{{
			ID:          1,
			Rule:        "empty-catch",
			Type:        findings.IssueIncorrectOutput,
			Severity:    sev,
			Description: "Empty handler",
			File:        "Orders.cs",
			Line:        7,
		}},
		Metadata: findings.Metadata{
			RunID:           id,
			Timestamp:       base.Add(offset),
			Duration:        40 * time.Millisecond,
			AnalyzedFiles:   []string{"Orders.cs"},
			AnalyzerVersion: "test",
		},
	}
}

func openStore(t *testing.T, retain int) *Store {
	t.Helper()
	s, err := OpenInMemory(retain)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveGet(t *testing.T) {
	s := openStore(t, 0)
	ctx := context.Background()

	want := newRun("run-1", 0, true)
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, want.Issues, got.Issues)
	assert.Equal(t, want.Metadata.RunID, got.Metadata.RunID)
	assert.True(t, want.Metadata.Timestamp.Equal(got.Metadata.Timestamp))
	assert.True(t, got.HasCriticalIssues())
}

func TestSave_InvalidInput(t *testing.T) {
	s := openStore(t, 0)
	assert.ErrorIs(t, s.Save(context.Background(), nil), findings.ErrInvalidInput)
	assert.ErrorIs(t, s.Save(context.Background(), &findings.Result{}), findings.ErrInvalidInput)
}

func TestSave_ZeroTimestampDoesNotMutateCaller(t *testing.T) {
	s := openStore(t, 0)
	r := newRun("run-z", 0, false)
	r.Metadata.Timestamp = time.Time{}

	require.NoError(t, s.Save(context.Background(), r))
	assert.True(t, r.Metadata.Timestamp.IsZero())

	runs, err := s.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Timestamp.IsZero())
}

func TestGet_NotFound(t *testing.T) {
	s := openStore(t, 0)
	_, err := s.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, findings.ErrNotFound)
}

func TestList_NewestFirst(t *testing.T) {
	s := openStore(t, 0)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, newRun("b", time.Minute, false)))
	require.NoError(t, s.Save(ctx, newRun("a", 0, true)))
	require.NoError(t, s.Save(ctx, newRun("c", 2*time.Minute, false)))

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.RunID)
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)
	assert.Equal(t, "CRITICAL ISSUES DETECTED", runs[2].Verdict)
	assert.Equal(t, "ISSUES FOUND", runs[0].Verdict)
	assert.Equal(t, 1, runs[0].TotalIssues)
	assert.Equal(t, []string{"Orders.cs"}, runs[0].Files)
	assert.Equal(t, int64(40), runs[0].DurationMilli)

	top, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
	assert.Equal(t, "c", top[0].RunID)
}

func TestList_Empty(t *testing.T) {
	s := openStore(t, 0)
	runs, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSave_ReplaceKeepsOneEntry(t *testing.T) {
	s := openStore(t, 0)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, newRun("same", 0, false)))
	require.NoError(t, s.Save(ctx, newRun("same", time.Hour, true)))

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Critical)
}

func TestSave_PrunesBeyondRetain(t *testing.T) {
	s := openStore(t, 3)
	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, s.Save(ctx, newRun(fmt.Sprintf("run-%d", i), time.Duration(i)*time.Second, false)))
	}

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-4", runs[0].RunID)
	assert.Equal(t, "run-2", runs[2].RunID)

	_, err = s.Get(ctx, "run-0")
	assert.ErrorIs(t, err, findings.ErrNotFound)
	_, err = s.Get(ctx, "run-2")
	assert.NoError(t, err)
}

func TestDelete(t *testing.T) {
	s := openStore(t, 0)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, newRun("gone", 0, false)))

	require.NoError(t, s.Delete(ctx, "gone"))
	_, err := s.Get(ctx, "gone")
	assert.ErrorIs(t, err, findings.ErrNotFound)
	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)

	assert.ErrorIs(t, s.Delete(ctx, "gone"), findings.ErrNotFound)
}

func TestCancelledContext(t *testing.T) {
	s := openStore(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Save(ctx, newRun("x", 0, false)), context.Canceled)
	_, err := s.Get(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.List(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), newRun("kept", 0, false)))
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), "kept")
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Metadata.RunID)
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, findings.ErrInvalidInput)
	_, err = Open(Config{InMemory: true, Retain: -1})
	assert.ErrorIs(t, err, findings.ErrInvalidInput)
}
