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
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
)

// FormatStructured renders a result as labeled sections.
//
// Description:
//
//	Sections appear in a fixed order: RUNTIME ISSUES, ENVIRONMENT RISKS,
//	EDGE CASE FAILURES, SUMMARY. Each finding is a list entry with one
//	"key: value" line per field. Values that are empty, contain a colon,
//	bracket, brace, quote or line break, or have surrounding whitespace
//	are double quoted with backslash escapes.
//
// Outputs:
//
//	string - The document.
//	error - Wraps findings.ErrInvalidInput when r is nil.
func FormatStructured(r *findings.Result) (string, error) {
	if r == nil {
		return "", fmt.Errorf("format structured: %w: nil result", findings.ErrInvalidInput)
	}

	w := &sectionWriter{}

	w.section("RUNTIME ISSUES", len(r.Issues))
	for _, i := range r.Issues {
		w.entry()
		w.field(2, "id", strconv.FormatInt(i.ID, 10))
		w.field(2, "rule", i.Rule)
		w.field(2, "type", string(i.Type))
		w.field(2, "severity", i.Severity.String())
		w.field(2, "description", i.Description)
		w.location(i.File, i.Line)
		w.group("proof")
		w.field(3, "simulated_step", i.Proof.SimulatedStep)
		w.field(3, "trigger", i.Proof.Trigger)
		w.field(3, "observed_result", i.Proof.ObservedResult)
		w.group("solution")
		w.field(3, "fix", i.Solution.Fix)
		w.field(3, "verification", i.Solution.Verification)
	}

	w.section("ENVIRONMENT RISKS", len(r.Risks))
	for _, rk := range r.Risks {
		w.entry()
		w.field(2, "id", strconv.FormatInt(rk.ID, 10))
		w.field(2, "rule", rk.Rule)
		w.field(2, "component", rk.Component)
		w.field(2, "category", string(rk.Category))
		w.field(2, "likelihood", rk.Likelihood.String())
		w.field(2, "description", rk.Description)
		w.location(rk.File, rk.Line)
		w.group("mitigation")
		w.list(3, "required_changes", rk.Mitigation.RequiredChanges)
		w.field(3, "monitoring", rk.Mitigation.Monitoring)
	}

	w.section("EDGE CASE FAILURES", len(r.EdgeCases))
	for _, e := range r.EdgeCases {
		w.entry()
		w.field(2, "id", strconv.FormatInt(e.ID, 10))
		w.field(2, "rule", e.Rule)
		w.field(2, "severity", e.Severity.String())
		w.field(2, "input", e.Input)
		w.field(2, "scenario", e.Scenario)
		w.field(2, "expected_failure", e.ExpectedFailure)
		w.location(e.File, e.Line)
		w.field(2, "fix", e.Fix)
	}

	s := summarize(r)
	w.heading("SUMMARY")
	w.field(1, "verdict", s.Verdict)
	w.field(1, "total_issues", strconv.Itoa(s.TotalIssues))
	w.field(1, "has_critical_issues", strconv.FormatBool(s.HasCriticalIssues))
	w.field(1, "runtime_issues", strconv.Itoa(len(r.Issues)))
	w.field(1, "environment_risks", strconv.Itoa(len(r.Risks)))
	w.field(1, "edge_case_failures", strconv.Itoa(len(r.EdgeCases)))
	for _, sev := range findings.Severities {
		w.field(1, "issues_"+strings.ToLower(sev.String()), strconv.Itoa(s.IssuesBySeverity[sev.String()]))
	}
	for _, l := range findings.Likelihoods {
		w.field(1, "risks_"+strings.ToLower(l.String()), strconv.Itoa(s.RisksByLikelihood[l.String()]))
	}
	for _, sev := range findings.Severities {
		w.field(1, "edge_cases_"+strings.ToLower(sev.String()), strconv.Itoa(s.EdgeCasesBySeverity[sev.String()]))
	}
	w.field(1, "files_analyzed", strconv.Itoa(len(r.Metadata.AnalyzedFiles)))
	w.field(1, "files_skipped", strconv.Itoa(len(r.Metadata.SkippedFiles)))
	w.field(1, "partial_failures", strconv.Itoa(len(r.Metadata.PartialFailures)))
	if r.Metadata.AnalyzerVersion != "" {
		w.field(1, "analyzer_version", r.Metadata.AnalyzerVersion)
	}
	if r.Metadata.RunID != "" {
		w.field(1, "run_id", r.Metadata.RunID)
	}

	return w.b.String(), nil
}

type sectionWriter struct {
	b     strings.Builder
	first bool
}

func (w *sectionWriter) heading(name string) {
	if w.b.Len() > 0 {
		w.b.WriteString("\n")
	}
	w.b.WriteString(name)
	w.b.WriteString("\n")
}

func (w *sectionWriter) section(name string, n int) {
	w.heading(name)
	w.field(1, "count", strconv.Itoa(n))
}

// entry starts a list item; the next field is written on the dash line.
func (w *sectionWriter) entry() {
	w.b.WriteString("  -")
	w.first = true
}

func (w *sectionWriter) indent(level int) {
	if w.first {
		w.b.WriteString(" ")
		w.first = false
		return
	}
	w.b.WriteString(strings.Repeat("  ", level))
}

func (w *sectionWriter) field(level int, key, value string) {
	w.indent(level)
	w.b.WriteString(key)
	w.b.WriteString(": ")
	w.b.WriteString(Quote(value))
	w.b.WriteString("\n")
}

func (w *sectionWriter) group(key string) {
	w.indent(2)
	w.b.WriteString(key)
	w.b.WriteString(":\n")
}

func (w *sectionWriter) list(level int, key string, values []string) {
	w.indent(level)
	w.b.WriteString(key)
	w.b.WriteString(":\n")
	for n, v := range values {
		w.b.WriteString(strings.Repeat("  ", level+1))
		fmt.Fprintf(&w.b, "%d. %s\n", n+1, Quote(v))
	}
}

func (w *sectionWriter) location(file string, line int) {
	if file != "" {
		w.field(2, "file", file)
	}
	if line > 0 {
		w.field(2, "line", strconv.Itoa(line))
	}
}

// Quote returns s unchanged when it can be written bare, otherwise a
// double quoted form with backslash escapes.
func Quote(s string) string {
	if !needsQuoting(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func needsQuoting(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return true
	}
	return strings.ContainsAny(s, ":[]{}\"\n\r\t")
}
