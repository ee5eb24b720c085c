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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/runtimescan/services/scanner/analyzer"
	"github.com/AleutianAI/runtimescan/services/scanner/api"
	"github.com/AleutianAI/runtimescan/services/scanner/report"
	"github.com/AleutianAI/runtimescan/services/scanner/store"
)

const (
	divisionSource = `public class Calc
{
    public int Ratio(int a, int b)
    {
        return a / b;
    }
}
`
	filesystemSource = `var text = File.ReadAllText("settings.json");
`
)

type cliResult struct {
	code   int
	stdout string
	stderr string
}

// execute runs the CLI with an isolated home directory.
func execute(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	var out, errOut bytes.Buffer
	args = append([]string{"--color", "never"}, args...)
	code := run(args, strings.NewReader(stdin), &out, &errOut)
	return cliResult{code: code, stdout: out.String(), stderr: errOut.String()}
}

func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	return home
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// writeConfig writes a config file that keeps history under dir.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "runtimescan.yaml")
	content := "store:\n  path: " + filepath.Join(dir, "history") + "\n  retain: 10\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	setupHome(t)
	res := execute(t, "", "version")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, "runtimescan "+analyzer.Version+"\n", res.stdout)
}

func TestAnalyze_FileJSON(t *testing.T) {
	dir := setupHome(t)
	path := writeSource(t, dir, "Calc.cs", divisionSource)

	res := execute(t, "", "analyze", path, "--format", "json")
	require.Equal(t, exitOK, res.code, res.stderr)

	got, err := report.ParseSerialized(res.stdout)
	require.NoError(t, err)
	require.Len(t, got.EdgeCases, 1)
	assert.Equal(t, "unguarded-division", got.EdgeCases[0].Rule)
	assert.Equal(t, []string{path}, got.Metadata.AnalyzedFiles)
	assert.NotEmpty(t, got.Metadata.RunID)
}

func TestAnalyze_Formats(t *testing.T) {
	dir := setupHome(t)
	path := writeSource(t, dir, "Calc.cs", divisionSource)

	tests := []struct {
		format string
		want   string
	}{
		{formatSummary, "Total findings:"},
		{formatStructured, "unguarded-division"},
		{formatYAML, "edge_cases:"},
		{formatFindings, "[unguarded-division]"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			res := execute(t, "", "analyze", path, "-f", tt.format)
			require.Equal(t, exitOK, res.code, res.stderr)
			assert.Contains(t, res.stdout, tt.want)
		})
	}
}

func TestAnalyze_Stdin(t *testing.T) {
	setupHome(t)
	res := execute(t, divisionSource, "analyze", "-", "--label", "Calc.cs", "--format", "findings")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Calc.cs")
	assert.Contains(t, res.stdout, "[unguarded-division]")
}

func TestAnalyze_Directory(t *testing.T) {
	dir := setupHome(t)
	src := filepath.Join(dir, "src")
	writeSource(t, src, "Calc.cs", divisionSource)
	writeSource(t, src, "nested/Load.cs", filesystemSource)
	writeSource(t, src, "notes.txt", divisionSource)

	res := execute(t, "", "analyze", src, "--pattern", "*.cs", "--format", "json")
	require.Equal(t, exitOK, res.code, res.stderr)
	got, err := report.ParseSerialized(res.stdout)
	require.NoError(t, err)
	assert.Len(t, got.Metadata.AnalyzedFiles, 2)

	res = execute(t, "", "analyze", src, "--pattern", "*.cs", "--recursive=false", "--format", "json")
	require.Equal(t, exitOK, res.code, res.stderr)
	got, err = report.ParseSerialized(res.stdout)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(src, "Calc.cs")}, got.Metadata.AnalyzedFiles)
}

func TestAnalyze_FailOnCritical(t *testing.T) {
	dir := setupHome(t)
	critical := writeSource(t, dir, "Load.cs", filesystemSource)
	clean := writeSource(t, dir, "Calc.cs", divisionSource)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"critical without flag", []string{"analyze", critical}, exitOK},
		{"critical with flag", []string{"analyze", critical, "--fail-on-critical"}, exitCritical},
		{"clean with flag", []string{"analyze", clean, "--fail-on-critical"}, exitOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := execute(t, "", tt.args...)
			assert.Equal(t, tt.want, res.code, res.stderr)
		})
	}
}

func TestAnalyze_Errors(t *testing.T) {
	dir := setupHome(t)
	path := writeSource(t, dir, "Calc.cs", divisionSource)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no args", []string{"analyze"}, "requires at least 1 arg"},
		{"unknown format", []string{"analyze", path, "--format", "xml"}, "unknown format"},
		{"missing path", []string{"analyze", filepath.Join(dir, "missing.cs")}, "not found"},
		{"stdin mixed with paths", []string{"analyze", path, "-"}, "stdin cannot be combined"},
		{"bad pattern", []string{"analyze", dir, "--pattern", "["}, "pattern"},
		{"missing config", []string{"--config", filepath.Join(dir, "nope.yaml"), "version"}, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := execute(t, "", tt.args...)
			assert.Equal(t, exitError, res.code)
			assert.Contains(t, res.stderr, tt.want)
		})
	}
}

func TestAnalyze_EmptyStdin(t *testing.T) {
	setupHome(t)
	res := execute(t, "", "analyze", "-")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "empty source")
}

func TestAnalyze_OutputFile(t *testing.T) {
	dir := setupHome(t)
	path := writeSource(t, dir, "Calc.cs", divisionSource)
	out := filepath.Join(dir, "reports", "calc.json")

	res := execute(t, "", "analyze", path, "--format", "json", "--output", out)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Empty(t, res.stdout)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	got, err := report.ParseSerialized(string(data))
	require.NoError(t, err)
	assert.Len(t, got.EdgeCases, 1)
}

func TestDetectors(t *testing.T) {
	setupHome(t)

	res := execute(t, "", "detectors", "--json")
	require.Equal(t, exitOK, res.code, res.stderr)
	var all api.DetectorsResponse
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &all))
	assert.Len(t, all.Detectors, 25)

	res = execute(t, "", "detectors", "--phase", "edge_case", "--json")
	require.Equal(t, exitOK, res.code, res.stderr)
	var edge api.DetectorsResponse
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &edge))
	require.Len(t, edge.Detectors, 4)
	for _, d := range edge.Detectors {
		assert.Equal(t, "edge_case", d.Phase)
	}

	res = execute(t, "", "detectors")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "25 detectors")
	assert.Contains(t, res.stdout, "empty-catch")

	res = execute(t, "", "detectors", "--phase", "bogus")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "unknown phase")
}

func TestDetectors_ConfigOverrides(t *testing.T) {
	dir := setupHome(t)
	cfg := filepath.Join(dir, "runtimescan.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("detectors:\n  unguarded-division:\n    disabled: true\n"), 0o644))

	res := execute(t, "", "--config", cfg, "detectors", "--phase", "edge_case", "--json")
	require.Equal(t, exitOK, res.code, res.stderr)
	var edge api.DetectorsResponse
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &edge))
	assert.Len(t, edge.Detectors, 3)

	path := writeSource(t, dir, "Calc.cs", divisionSource)
	res = execute(t, "", "--config", cfg, "analyze", path, "--format", "json")
	require.Equal(t, exitOK, res.code, res.stderr)
	got, err := report.ParseSerialized(res.stdout)
	require.NoError(t, err)
	assert.Empty(t, got.EdgeCases)
}

func TestConfig_InitAndShow(t *testing.T) {
	dir := setupHome(t)
	path := filepath.Join(dir, "conf", "runtimescan.yaml")

	res := execute(t, "", "--config", path, "config", "init")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.FileExists(t, path)
	assert.Contains(t, res.stdout, "wrote "+path)

	res = execute(t, "", "--config", path, "config", "init")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "already exists")

	res = execute(t, "", "--config", path, "config", "init", "--force")
	assert.Equal(t, exitOK, res.code, res.stderr)

	res = execute(t, "", "--config", path, "config", "show")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "match_timeout: 1s")
	assert.Contains(t, res.stdout, "port: 8095")
}

func TestConfig_DefaultPathIsPickedUp(t *testing.T) {
	home := setupHome(t)
	path := filepath.Join(home, ".runtimescan", "runtimescan.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9123\n"), 0o644))

	res := execute(t, "", "config", "show")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "port: 9123")
}

func TestHistory(t *testing.T) {
	dir := setupHome(t)
	cfg := writeConfig(t, dir)
	path := writeSource(t, dir, "Calc.cs", divisionSource)

	res := execute(t, "", "--config", cfg, "analyze", path, "--save", "--format", "json")
	require.Equal(t, exitOK, res.code, res.stderr)
	saved, err := report.ParseSerialized(res.stdout)
	require.NoError(t, err)
	runID := saved.Metadata.RunID

	res = execute(t, "", "--config", cfg, "history", "list", "--json")
	require.Equal(t, exitOK, res.code, res.stderr)
	var runs []store.RunSummary
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].RunID)
	assert.Equal(t, 1, runs[0].TotalIssues)

	res = execute(t, "", "--config", cfg, "history", "list")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, runID)

	res = execute(t, "", "--config", cfg, "history", "show", runID, "--format", "json")
	require.Equal(t, exitOK, res.code, res.stderr)
	shown, err := report.ParseSerialized(res.stdout)
	require.NoError(t, err)
	assert.Equal(t, runID, shown.Metadata.RunID)
	require.Len(t, shown.EdgeCases, 1)

	res = execute(t, "", "--config", cfg, "history", "delete", runID)
	require.Equal(t, exitOK, res.code, res.stderr)

	res = execute(t, "", "--config", cfg, "history", "show", runID)
	assert.Equal(t, exitError, res.code)

	res = execute(t, "", "--config", cfg, "history", "list")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "no stored runs")
}

func TestHistory_RequiresStorePath(t *testing.T) {
	dir := setupHome(t)
	path := writeSource(t, dir, "Calc.cs", divisionSource)

	res := execute(t, "", "history", "list")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "store.path")

	res = execute(t, "", "analyze", path, "--save")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "store.path")
}

func TestFileRootOrDefault(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	got, err := fileRootOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, wd, got)

	got, err = fileRootOrDefault("/srv/code")
	require.NoError(t, err)
	assert.Equal(t, "/srv/code", got)
}
