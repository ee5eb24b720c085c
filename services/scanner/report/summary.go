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
	"strings"
	"time"

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
)

// Verdict is the overall outcome of a result.
type Verdict int

const (
	// VerdictClean means the result has no findings.
	VerdictClean Verdict = iota

	// VerdictIssues means the result has findings but none critical.
	VerdictIssues

	// VerdictCritical means at least one finding is Critical.
	VerdictCritical
)

// String returns the banner text of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictCritical:
		return "CRITICAL ISSUES DETECTED"
	case VerdictIssues:
		return "ISSUES FOUND"
	default:
		return "PASS - clean"
	}
}

// VerdictOf classifies a result.
func VerdictOf(r *findings.Result) Verdict {
	switch {
	case r.HasCriticalIssues():
		return VerdictCritical
	case r.TotalIssueCount() > 0:
		return VerdictIssues
	default:
		return VerdictClean
	}
}

const divider = "============================================================"

// FormatSummary renders the verdict banner and counts of a result.
//
// Outputs:
//
//	string - The summary text.
//	error - Wraps findings.ErrInvalidInput when r is nil.
func FormatSummary(r *findings.Result) (string, error) {
	if r == nil {
		return "", fmt.Errorf("format summary: %w: nil result", findings.ErrInvalidInput)
	}

	var b strings.Builder
	b.WriteString(divider + "\n")
	fmt.Fprintf(&b, " %s\n", VerdictOf(r))
	b.WriteString(divider + "\n")

	m := r.Metadata
	fmt.Fprintf(&b, " Files analyzed:     %d\n", len(m.AnalyzedFiles))
	if len(m.SkippedFiles) > 0 {
		fmt.Fprintf(&b, " Files skipped:      %d\n", len(m.SkippedFiles))
	}
	fmt.Fprintf(&b, " Duration:           %s\n", m.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, " Total findings:     %d\n", r.TotalIssueCount())
	b.WriteString("\n")

	issues := r.IssuesBySeverity()
	fmt.Fprintf(&b, " Runtime issues:     %d\n", len(r.Issues))
	for _, sev := range findings.Severities {
		fmt.Fprintf(&b, "   %-10s %d\n", sev.String()+":", issues[sev])
	}

	risks := r.RisksByLikelihood()
	fmt.Fprintf(&b, " Environment risks:  %d\n", len(r.Risks))
	for _, l := range findings.Likelihoods {
		fmt.Fprintf(&b, "   %-10s %d\n", l.String()+":", risks[l])
	}

	edges := r.EdgeCasesBySeverity()
	fmt.Fprintf(&b, " Edge case failures: %d\n", len(r.EdgeCases))
	for _, sev := range findings.Severities {
		fmt.Fprintf(&b, "   %-10s %d\n", sev.String()+":", edges[sev])
	}

	if n := len(m.PartialFailures); n > 0 {
		b.WriteString("\n")
		fmt.Fprintf(&b, " Incomplete detectors: %d\n", n)
		for _, p := range m.PartialFailures {
			fmt.Fprintf(&b, "   %s (%s): %s\n", p.Detector, orSource(p.File), p.Reason)
		}
	}
	b.WriteString(divider + "\n")
	return b.String(), nil
}

func orSource(file string) string {
	if file == "" {
		return "<source>"
	}
	return file
}
