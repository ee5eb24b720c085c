// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package findings

import (
	"time"
)

// SkippedFile records a file that a batch analysis could not process.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// PartialFailure records a detector invocation that produced no findings
// because it could not complete, typically a pattern-match timeout.
type PartialFailure struct {
	Detector string `json:"detector"`
	File     string `json:"file,omitempty"`
	Reason   string `json:"reason"`
}

// Metadata describes one analysis call.
type Metadata struct {
	// RunID uniquely identifies the analysis call.
	RunID string `json:"run_id"`

	// Timestamp is when the analysis started.
	Timestamp time.Time `json:"timestamp"`

	// Duration is the wall-clock time of the analysis.
	Duration time.Duration `json:"duration"`

	// AnalyzedFiles lists the labels of every analyzed source, in order.
	AnalyzedFiles []string `json:"analyzed_files"`

	// SkippedFiles lists files a batch analysis skipped.
	SkippedFiles []SkippedFile `json:"skipped_files,omitempty"`

	// PartialFailures lists detector invocations that found nothing
	// because they timed out.
	PartialFailures []PartialFailure `json:"partial_failures,omitempty"`

	// AnalyzerVersion is the version of the scanner that produced the result.
	AnalyzerVersion string `json:"analyzer_version"`
}

// Result is the aggregate of all findings of one analysis call.
//
// Description:
//
//	Issues keep the order in which their detectors ran. A Result is
//	constructed empty at the start of one analysis call, populated phase
//	by phase and returned complete; it is never mutated afterwards.
//
// Thread Safety:
//
//	Immutable after creation by the analyzer, safe for concurrent reads.
type Result struct {
	Issues    []RuntimeIssue    `json:"issues"`
	Risks     []EnvironmentRisk `json:"risks"`
	EdgeCases []EdgeCaseFailure `json:"edge_cases"`
	Metadata  Metadata          `json:"metadata"`
}

// TotalIssueCount returns |issues| + |risks| + |edge cases|.
func (r *Result) TotalIssueCount() int {
	return len(r.Issues) + len(r.Risks) + len(r.EdgeCases)
}

// HasCriticalIssues reports whether any issue is Critical or any risk is
// High likelihood.
func (r *Result) HasCriticalIssues() bool {
	for i := range r.Issues {
		if r.Issues[i].Severity == SeverityCritical {
			return true
		}
	}
	for i := range r.Risks {
		if r.Risks[i].Likelihood == LikelihoodHigh {
			return true
		}
	}
	return false
}

// IssuesBySeverity counts runtime issues per severity.
func (r *Result) IssuesBySeverity() map[Severity]int {
	counts := make(map[Severity]int, len(Severities))
	for i := range r.Issues {
		counts[r.Issues[i].Severity]++
	}
	return counts
}

// EdgeCasesBySeverity counts edge case failures per severity.
func (r *Result) EdgeCasesBySeverity() map[Severity]int {
	counts := make(map[Severity]int, len(Severities))
	for i := range r.EdgeCases {
		counts[r.EdgeCases[i].Severity]++
	}
	return counts
}

// RisksByLikelihood counts environment risks per likelihood.
func (r *Result) RisksByLikelihood() map[Likelihood]int {
	counts := make(map[Likelihood]int, len(Likelihoods))
	for i := range r.Risks {
		counts[r.Risks[i].Likelihood]++
	}
	return counts
}

// Builder accumulates findings for one analysis call.
//
// Thread Safety: Not safe for concurrent use; each call owns its builder.
type Builder struct {
	issues    []RuntimeIssue
	risks     []EnvironmentRisk
	edgeCases []EdgeCaseFailure
	failures  []PartialFailure
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends a finding that already carries its id.
func (b *Builder) Add(f Finding) {
	switch f.Kind() {
	case KindRuntimeIssue:
		b.issues = append(b.issues, *f.Issue)
	case KindEnvironmentRisk:
		b.risks = append(b.risks, *f.Risk)
	case KindEdgeCaseFailure:
		b.edgeCases = append(b.edgeCases, *f.EdgeCase)
	}
}

// AddPartialFailure records a detector invocation that could not complete.
func (b *Builder) AddPartialFailure(p PartialFailure) {
	b.failures = append(b.failures, p)
}

// Len returns the number of findings added so far.
func (b *Builder) Len() int {
	return len(b.issues) + len(b.risks) + len(b.edgeCases)
}

// Build returns the Result. Slices are never nil so empty results serialize
// as empty lists.
func (b *Builder) Build(meta Metadata) *Result {
	meta.PartialFailures = append(meta.PartialFailures, b.failures...)
	if meta.AnalyzedFiles == nil {
		meta.AnalyzedFiles = []string{}
	}
	return &Result{
		Issues:    append(make([]RuntimeIssue, 0, len(b.issues)), b.issues...),
		Risks:     append(make([]EnvironmentRisk, 0, len(b.risks)), b.risks...),
		EdgeCases: append(make([]EdgeCaseFailure, 0, len(b.edgeCases)), b.edgeCases...),
		Metadata:  meta,
	}
}

// Merge concatenates the findings of several results in argument order.
//
// Description:
//
//	Findings, analyzed files and partial failures are concatenated; the
//	returned metadata carries only the merged lists, callers set the rest.
//	Nil results are ignored.
//
// Inputs:
//
//	results - The results to merge.
//
// Outputs:
//
//	*Result - A new result; the inputs are not modified.
func Merge(results ...*Result) *Result {
	b := NewBuilder()
	meta := Metadata{AnalyzedFiles: []string{}}
	for _, r := range results {
		if r == nil {
			continue
		}
		b.issues = append(b.issues, r.Issues...)
		b.risks = append(b.risks, r.Risks...)
		b.edgeCases = append(b.edgeCases, r.EdgeCases...)
		meta.AnalyzedFiles = append(meta.AnalyzedFiles, r.Metadata.AnalyzedFiles...)
		meta.SkippedFiles = append(meta.SkippedFiles, r.Metadata.SkippedFiles...)
		meta.PartialFailures = append(meta.PartialFailures, r.Metadata.PartialFailures...)
	}
	return b.Build(meta)
}
