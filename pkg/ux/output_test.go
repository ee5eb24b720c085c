// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
	"github.com/AleutianAI/runtimescan/services/scanner/report"
)

func result() *findings.Result {
	return &findings.Result{
		Issues: []findings.RuntimeIssue{
			{ID: 1, Rule: "undisposed-resource", Severity: findings.SeverityMedium, Description: "reader leaks", File: "a.cs", Line: 3},
			{ID: 2, Rule: "async-void", Severity: findings.SeverityCritical, Description: "async void handler", File: "a.cs", Line: 9},
		},
		Risks: []findings.EnvironmentRisk{
			{ID: 3, Rule: "hardcoded-endpoint", Likelihood: findings.LikelihoodMedium, Description: "fixed host", File: "a.cs", Line: 1},
		},
		EdgeCases: []findings.EdgeCaseFailure{
			{ID: 4, Rule: "unguarded-division", Severity: findings.SeverityHigh, Scenario: "b is zero", ExpectedFailure: "divide-by-zero", Line: 5},
		},
		Metadata: findings.Metadata{AnalyzedFiles: []string{"a.cs"}, Duration: 12 * time.Millisecond},
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"always", ModeColor},
		{"COLOR", ModeColor},
		{"never", ModePlain},
		{"plain", ModePlain},
		{"auto", ModeAuto},
		{"", ModeAuto},
		{"sometimes", ModeAuto},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseMode(tt.in), tt.in)
	}
}

func TestNewPrinter_AutoIsPlainForBuffers(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, IsTerminal(&buf))
	assert.False(t, NewPrinter(&buf, ModeAuto).Color())
	assert.True(t, NewPrinter(&buf, ModeColor).Color())
}

func TestSummary_PlainMatchesReport(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)
	require.NoError(t, p.Summary(result()))

	want, err := report.FormatSummary(result())
	require.NoError(t, err)
	assert.Equal(t, want, buf.String())
}

func TestSummary_Color(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeColor)
	require.NoError(t, p.Summary(result()))

	out := buf.String()
	assert.Contains(t, out, "CRITICAL ISSUES DETECTED")
	assert.Contains(t, out, "\x1b[", "expected ANSI styling")
	assert.Contains(t, out, "╭", "expected a rounded box")
}

func TestSummary_NilResult(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, NewPrinter(&buf, ModePlain).Summary(nil), findings.ErrInvalidInput)
	assert.ErrorIs(t, NewPrinter(&buf, ModeColor).Summary(nil), findings.ErrInvalidInput)
}

func TestFindings_OrderedBySeverity(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, ModePlain).Findings(result()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "Critical a.cs:9 [async-void]"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "Medium   a.cs:3 [undisposed-resource]"), lines[1])
	assert.Contains(t, lines[2], "[hardcoded-endpoint] fixed host")
	assert.Contains(t, lines[3], "<source>:5 [unguarded-division] b is zero: divide-by-zero")
}

func TestVerdict_Plain(t *testing.T) {
	p := NewPrinter(&bytes.Buffer{}, ModePlain)
	assert.Equal(t, "PASS - clean", p.Verdict(report.VerdictClean))
	assert.Equal(t, "ISSUES FOUND", p.Verdict(report.VerdictIssues))
	assert.Equal(t, "CRITICAL ISSUES DETECTED", p.Verdict(report.VerdictCritical))
}

func TestMessages(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)
	p.Success("saved run %s", "r1")
	p.Warn("skipped %d", 2)
	p.Fail("boom")
	p.Title("Detectors")
	assert.Equal(t, "✓ saved run r1\n⚠ skipped 2\n✗ boom\nDetectors\n", buf.String())
}
