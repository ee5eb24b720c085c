// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
)

func sampleResult() *findings.Result {
	return &findings.Result{
		Issues: []findings.RuntimeIssue{
			{
				ID:          1,
				Rule:        "empty-catch",
				Type:        findings.IssueIncorrectOutput,
				Severity:    findings.SeverityCritical,
				Description: "Empty handler: silent failure",
				File:        "src/Orders.cs",
				Line:        12,
				Proof: findings.Proof{
					SimulatedStep:  "Throw inside the try block",
					Trigger:        "Any exception",
					ObservedResult: "Nothing is logged",
				},
				Solution: findings.Solution{Fix: "Log and rethrow", Verification: "Force the failure in a test"},
			},
			{
				ID:          2,
				Rule:        "undisposed-resource",
				Type:        findings.IssuePerformance,
				Severity:    findings.SeverityMedium,
				Description: "StreamReader without using",
				Proof:       findings.Proof{SimulatedStep: "Loop", Trigger: "Load", ObservedResult: "Handles leak"},
				Solution:    findings.Solution{Fix: "Add using", Verification: "Handle count flat"},
			},
		},
		Risks: []findings.EnvironmentRisk{
			{
				ID:          3,
				Rule:        "hardcoded-endpoint",
				Component:   "api.contoso.com",
				Category:    findings.RiskDependency,
				Description: "Endpoint https://api.contoso.com is fixed",
				Likelihood:  findings.LikelihoodMedium,
				File:        "src/Orders.cs",
				Line:        4,
				Mitigation: findings.Mitigation{
					RequiredChanges: []string{"Move to configuration", "Validate at startup"},
					Monitoring:      "Alert on failures",
				},
			},
		},
		EdgeCases: []findings.EdgeCaseFailure{
			{
				ID:              4,
				Rule:            "unguarded-division",
				Input:           "count = 0",
				Scenario:        "Empty order list",
				ExpectedFailure: "DivideByZeroException (divide-by-zero)",
				Severity:        findings.SeverityHigh,
				File:            "src/Orders.cs",
				Line:            30,
				Fix:             "Check count != 0",
			},
		},
		Metadata: findings.Metadata{
			RunID:           "5b0e0c1e-3f43-4c8e-9a57-6b9d1f0f6d10",
			Timestamp:       time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
			Duration:        1500 * time.Millisecond,
			AnalyzedFiles:   []string{"src/Orders.cs"},
			SkippedFiles:    []findings.SkippedFile{{Path: "missing.cs", Reason: "not found"}},
			PartialFailures: []findings.PartialFailure{{Detector: "broad-catch", File: "src/Orders.cs", Reason: "pattern match timed out"}},
			AnalyzerVersion: "1.4.0",
		},
	}
}

func emptyResult() *findings.Result {
	return findings.NewBuilder().Build(findings.Metadata{})
}

func TestFormatters_NilResult(t *testing.T) {
	_, err := FormatSummary(nil)
	assert.ErrorIs(t, err, findings.ErrInvalidInput)
	_, err = FormatStructured(nil)
	assert.ErrorIs(t, err, findings.ErrInvalidInput)
	_, err = FormatSerialized(nil)
	assert.ErrorIs(t, err, findings.ErrInvalidInput)
	_, err = FormatYAML(nil)
	assert.ErrorIs(t, err, findings.ErrInvalidInput)
	_, err = EncodeMsgpack(nil)
	assert.ErrorIs(t, err, findings.ErrInvalidInput)
}

func TestVerdictOf(t *testing.T) {
	assert.Equal(t, VerdictCritical, VerdictOf(sampleResult()))
	assert.Equal(t, VerdictClean, VerdictOf(emptyResult()))

	r := sampleResult()
	r.Issues = r.Issues[1:]
	assert.Equal(t, VerdictIssues, VerdictOf(r))
}

func TestFormatSummary(t *testing.T) {
	out, err := FormatSummary(sampleResult())
	require.NoError(t, err)
	assert.Contains(t, out, "CRITICAL ISSUES DETECTED")
	assert.NotContains(t, out, "PASS - clean")
	assert.Contains(t, out, "Total findings:     4")
	assert.Contains(t, out, "Files skipped:      1")
	assert.Contains(t, out, "broad-catch (src/Orders.cs): pattern match timed out")

	out, err = FormatSummary(emptyResult())
	require.NoError(t, err)
	assert.Contains(t, out, "PASS - clean")
	assert.NotContains(t, out, "CRITICAL")
	assert.Contains(t, out, "Total findings:     0")
}

func TestFormatStructured(t *testing.T) {
	out, err := FormatStructured(sampleResult())
	require.NoError(t, err)

	sections := []string{"RUNTIME ISSUES\n", "ENVIRONMENT RISKS\n", "EDGE CASE FAILURES\n", "SUMMARY\n"}
	last := -1
	for _, s := range sections {
		idx := strings.Index(out, s)
		require.GreaterOrEqual(t, idx, 0, "missing section %q", s)
		assert.Greater(t, idx, last, "section %q out of order", s)
		last = idx
	}

	assert.Contains(t, out, "  - id: 1\n")
	assert.Contains(t, out, "    severity: Critical\n")
	assert.Contains(t, out, `    description: "Empty handler: silent failure"`)
	assert.Contains(t, out, "      simulated_step: Throw inside the try block\n")
	assert.Contains(t, out, "      required_changes:\n        1. Move to configuration\n        2. Validate at startup\n")
	assert.Contains(t, out, `    description: "Endpoint https://api.contoso.com is fixed"`)
	assert.Contains(t, out, "    expected_failure: DivideByZeroException (divide-by-zero)\n")
	assert.Contains(t, out, "  verdict: CRITICAL ISSUES DETECTED\n")
	assert.Contains(t, out, "  total_issues: 4\n")
	assert.Contains(t, out, "  issues_critical: 1\n")
}

func TestFormatStructured_Empty(t *testing.T) {
	out, err := FormatStructured(emptyResult())
	require.NoError(t, err)
	assert.Contains(t, out, "RUNTIME ISSUES\n  count: 0\n")
	assert.Contains(t, out, "  verdict: PASS - clean\n")
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"", `""`},
		{" padded", `" padded"`},
		{"trailing ", `"trailing "`},
		{"a: b", `"a: b"`},
		{"list[0]", `"list[0]"`},
		{"{x}", `"{x}"`},
		{`say "hi"`, `"say \"hi\""`},
		{"two\nlines", `"two\nlines"`},
		{`back\slash`, `back\slash`},
		{`back\slash: x`, `"back\\slash: x"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Quote(tt.in), "Quote(%q)", tt.in)
	}
}

func assertSameFindings(t *testing.T, want, got *findings.Result) {
	t.Helper()
	assert.Equal(t, want.Issues, got.Issues)
	assert.Equal(t, want.Risks, got.Risks)
	assert.Equal(t, want.EdgeCases, got.EdgeCases)
	assert.Equal(t, want.TotalIssueCount(), got.TotalIssueCount())
	assert.Equal(t, want.HasCriticalIssues(), got.HasCriticalIssues())

	assert.Equal(t, want.Metadata.RunID, got.Metadata.RunID)
	assert.True(t, want.Metadata.Timestamp.Equal(got.Metadata.Timestamp))
	assert.Equal(t, want.Metadata.Duration, got.Metadata.Duration)
	assert.Equal(t, want.Metadata.AnalyzedFiles, got.Metadata.AnalyzedFiles)
	assert.Equal(t, want.Metadata.SkippedFiles, got.Metadata.SkippedFiles)
	assert.Equal(t, want.Metadata.PartialFailures, got.Metadata.PartialFailures)
	assert.Equal(t, want.Metadata.AnalyzerVersion, got.Metadata.AnalyzerVersion)
}

func TestSerialized_RoundTrip(t *testing.T) {
	want := sampleResult()
	out, err := FormatSerialized(want)
	require.NoError(t, err)

	got, err := ParseSerialized(out)
	require.NoError(t, err)
	assertSameFindings(t, want, got)
}

func TestSerialized_Fields(t *testing.T) {
	out, err := FormatSerialized(sampleResult())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &raw))
	assert.EqualValues(t, SchemaVersion, raw["schema_version"])

	issues := raw["issues"].([]any)
	first := issues[0].(map[string]any)
	assert.Equal(t, "Critical", first["severity"])
	assert.Equal(t, "incorrect-output", first["type"])
	assert.Contains(t, first, "proof")

	summary := raw["summary"].(map[string]any)
	assert.EqualValues(t, 4, summary["total_issues"])
	assert.Equal(t, true, summary["has_critical_issues"])

	meta := raw["metadata"].(map[string]any)
	assert.EqualValues(t, 1500, meta["duration_ms"])
}

func TestSerialized_Empty(t *testing.T) {
	out, err := FormatSerialized(emptyResult())
	require.NoError(t, err)
	assert.Contains(t, out, `"issues": []`)

	got, err := ParseSerialized(out)
	require.NoError(t, err)
	assert.Zero(t, got.TotalIssueCount())
}

func TestParseSerialized_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", "{"},
		{"bad severity", `{"issues":[{"id":1,"severity":"Severe"}]}`},
		{"bad likelihood", `{"risks":[{"id":1,"likelihood":"Certain"}]}`},
		{"future schema", `{"schema_version":99}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSerialized(tt.in)
			assert.ErrorIs(t, err, findings.ErrInvalidInput)
		})
	}
}

func TestYAML_RoundTrip(t *testing.T) {
	want := sampleResult()
	out, err := FormatYAML(want)
	require.NoError(t, err)
	assert.Contains(t, out, "schema_version: 1")
	assert.Contains(t, out, "severity: Critical")

	got, err := ParseYAML(out)
	require.NoError(t, err)
	assertSameFindings(t, want, got)
}

func TestMsgpack_RoundTrip(t *testing.T) {
	want := sampleResult()
	data, err := EncodeMsgpack(want)
	require.NoError(t, err)

	got, err := DecodeMsgpack(data)
	require.NoError(t, err)
	assertSameFindings(t, want, got)

	_, err = DecodeMsgpack([]byte{0xc1})
	assert.ErrorIs(t, err, findings.ErrInvalidInput)
}
