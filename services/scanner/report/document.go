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
	"time"

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
)

// SchemaVersion identifies the Document layout.
const SchemaVersion = 1

// Document is the serialized form of a findings.Result.
//
// Severities and likelihoods are written by name; durations in
// milliseconds. Field names are snake_case in every encoding.
type Document struct {
	SchemaVersion int              `json:"schema_version" yaml:"schema_version"`
	Issues        []IssueRecord    `json:"issues" yaml:"issues"`
	Risks         []RiskRecord     `json:"risks" yaml:"risks"`
	EdgeCases     []EdgeCaseRecord `json:"edge_cases" yaml:"edge_cases"`
	Summary       Summary          `json:"summary" yaml:"summary"`
	Metadata      MetadataRecord   `json:"metadata" yaml:"metadata"`
}

// ProofRecord is the serialized findings.Proof.
type ProofRecord struct {
	SimulatedStep  string `json:"simulated_step" yaml:"simulated_step"`
	Trigger        string `json:"trigger" yaml:"trigger"`
	ObservedResult string `json:"observed_result" yaml:"observed_result"`
}

// SolutionRecord is the serialized findings.Solution.
type SolutionRecord struct {
	Fix          string `json:"fix" yaml:"fix"`
	Verification string `json:"verification" yaml:"verification"`
}

// IssueRecord is the serialized findings.RuntimeIssue.
type IssueRecord struct {
	ID          int64          `json:"id" yaml:"id"`
	Rule        string         `json:"rule,omitempty" yaml:"rule,omitempty"`
	Type        string         `json:"type" yaml:"type"`
	Severity    string         `json:"severity" yaml:"severity"`
	Description string         `json:"description" yaml:"description"`
	File        string         `json:"file,omitempty" yaml:"file,omitempty"`
	Line        int            `json:"line,omitempty" yaml:"line,omitempty"`
	Proof       ProofRecord    `json:"proof" yaml:"proof"`
	Solution    SolutionRecord `json:"solution" yaml:"solution"`
}

// MitigationRecord is the serialized findings.Mitigation.
type MitigationRecord struct {
	RequiredChanges []string `json:"required_changes" yaml:"required_changes"`
	Monitoring      string   `json:"monitoring" yaml:"monitoring"`
}

// RiskRecord is the serialized findings.EnvironmentRisk.
type RiskRecord struct {
	ID          int64            `json:"id" yaml:"id"`
	Rule        string           `json:"rule,omitempty" yaml:"rule,omitempty"`
	Component   string           `json:"component" yaml:"component"`
	Category    string           `json:"category" yaml:"category"`
	Description string           `json:"description" yaml:"description"`
	Likelihood  string           `json:"likelihood" yaml:"likelihood"`
	File        string           `json:"file,omitempty" yaml:"file,omitempty"`
	Line        int              `json:"line,omitempty" yaml:"line,omitempty"`
	Mitigation  MitigationRecord `json:"mitigation" yaml:"mitigation"`
}

// EdgeCaseRecord is the serialized findings.EdgeCaseFailure.
type EdgeCaseRecord struct {
	ID              int64  `json:"id" yaml:"id"`
	Rule            string `json:"rule,omitempty" yaml:"rule,omitempty"`
	Input           string `json:"input" yaml:"input"`
	Scenario        string `json:"scenario" yaml:"scenario"`
	ExpectedFailure string `json:"expected_failure" yaml:"expected_failure"`
	Severity        string `json:"severity" yaml:"severity"`
	File            string `json:"file,omitempty" yaml:"file,omitempty"`
	Line            int    `json:"line,omitempty" yaml:"line,omitempty"`
	Fix             string `json:"fix" yaml:"fix"`
}

// Summary holds the derived counts of a result. It is informational:
// parsing recomputes it from the findings.
type Summary struct {
	TotalIssues         int            `json:"total_issues" yaml:"total_issues"`
	HasCriticalIssues   bool           `json:"has_critical_issues" yaml:"has_critical_issues"`
	Verdict             string         `json:"verdict" yaml:"verdict"`
	IssuesBySeverity    map[string]int `json:"issues_by_severity" yaml:"issues_by_severity"`
	RisksByLikelihood   map[string]int `json:"risks_by_likelihood" yaml:"risks_by_likelihood"`
	EdgeCasesBySeverity map[string]int `json:"edge_cases_by_severity" yaml:"edge_cases_by_severity"`
}

// SkippedRecord is the serialized findings.SkippedFile.
type SkippedRecord struct {
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
}

// PartialFailureRecord is the serialized findings.PartialFailure.
type PartialFailureRecord struct {
	Detector string `json:"detector" yaml:"detector"`
	File     string `json:"file,omitempty" yaml:"file,omitempty"`
	Reason   string `json:"reason" yaml:"reason"`
}

// MetadataRecord is the serialized findings.Metadata.
type MetadataRecord struct {
	RunID           string                 `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Timestamp       time.Time              `json:"timestamp" yaml:"timestamp"`
	DurationMillis  int64                  `json:"duration_ms" yaml:"duration_ms"`
	AnalyzedFiles   []string               `json:"analyzed_files" yaml:"analyzed_files"`
	SkippedFiles    []SkippedRecord        `json:"skipped_files,omitempty" yaml:"skipped_files,omitempty"`
	PartialFailures []PartialFailureRecord `json:"partial_failures,omitempty" yaml:"partial_failures,omitempty"`
	AnalyzerVersion string                 `json:"analyzer_version" yaml:"analyzer_version"`
}

// NewDocument converts a result into its serialized form.
func NewDocument(r *findings.Result) (*Document, error) {
	if r == nil {
		return nil, fmt.Errorf("build document: %w: nil result", findings.ErrInvalidInput)
	}

	doc := &Document{
		SchemaVersion: SchemaVersion,
		Issues:        make([]IssueRecord, 0, len(r.Issues)),
		Risks:         make([]RiskRecord, 0, len(r.Risks)),
		EdgeCases:     make([]EdgeCaseRecord, 0, len(r.EdgeCases)),
		Summary:       summarize(r),
	}

	for _, i := range r.Issues {
		doc.Issues = append(doc.Issues, IssueRecord{
			ID:          i.ID,
			Rule:        i.Rule,
			Type:        string(i.Type),
			Severity:    i.Severity.String(),
			Description: i.Description,
			File:        i.File,
			Line:        i.Line,
			Proof: ProofRecord{
				SimulatedStep:  i.Proof.SimulatedStep,
				Trigger:        i.Proof.Trigger,
				ObservedResult: i.Proof.ObservedResult,
			},
			Solution: SolutionRecord{
				Fix:          i.Solution.Fix,
				Verification: i.Solution.Verification,
			},
		})
	}
	for _, rk := range r.Risks {
		doc.Risks = append(doc.Risks, RiskRecord{
			ID:          rk.ID,
			Rule:        rk.Rule,
			Component:   rk.Component,
			Category:    string(rk.Category),
			Description: rk.Description,
			Likelihood:  rk.Likelihood.String(),
			File:        rk.File,
			Line:        rk.Line,
			Mitigation: MitigationRecord{
				RequiredChanges: append([]string{}, rk.Mitigation.RequiredChanges...),
				Monitoring:      rk.Mitigation.Monitoring,
			},
		})
	}
	for _, e := range r.EdgeCases {
		doc.EdgeCases = append(doc.EdgeCases, EdgeCaseRecord{
			ID:              e.ID,
			Rule:            e.Rule,
			Input:           e.Input,
			Scenario:        e.Scenario,
			ExpectedFailure: e.ExpectedFailure,
			Severity:        e.Severity.String(),
			File:            e.File,
			Line:            e.Line,
			Fix:             e.Fix,
		})
	}

	m := r.Metadata
	doc.Metadata = MetadataRecord{
		RunID:           m.RunID,
		Timestamp:       m.Timestamp,
		DurationMillis:  m.Duration.Milliseconds(),
		AnalyzedFiles:   append([]string{}, m.AnalyzedFiles...),
		AnalyzerVersion: m.AnalyzerVersion,
	}
	for _, s := range m.SkippedFiles {
		doc.Metadata.SkippedFiles = append(doc.Metadata.SkippedFiles, SkippedRecord(s))
	}
	for _, p := range m.PartialFailures {
		doc.Metadata.PartialFailures = append(doc.Metadata.PartialFailures, PartialFailureRecord(p))
	}
	return doc, nil
}

// Result converts the document back into a findings.Result.
//
// Outputs:
//
//	*findings.Result - The result.
//	error - Wraps findings.ErrInvalidInput for unknown severity or
//	        likelihood names.
func (d *Document) Result() (*findings.Result, error) {
	r := &findings.Result{
		Issues:    make([]findings.RuntimeIssue, 0, len(d.Issues)),
		Risks:     make([]findings.EnvironmentRisk, 0, len(d.Risks)),
		EdgeCases: make([]findings.EdgeCaseFailure, 0, len(d.EdgeCases)),
	}

	for _, i := range d.Issues {
		sev, err := findings.ParseSeverity(i.Severity)
		if err != nil {
			return nil, fmt.Errorf("issue %d: %w", i.ID, err)
		}
		r.Issues = append(r.Issues, findings.RuntimeIssue{
			ID:          i.ID,
			Rule:        i.Rule,
			Type:        findings.IssueType(i.Type),
			Severity:    sev,
			Description: i.Description,
			File:        i.File,
			Line:        i.Line,
			Proof: findings.Proof{
				SimulatedStep:  i.Proof.SimulatedStep,
				Trigger:        i.Proof.Trigger,
				ObservedResult: i.Proof.ObservedResult,
			},
			Solution: findings.Solution{
				Fix:          i.Solution.Fix,
				Verification: i.Solution.Verification,
			},
		})
	}
	for _, rk := range d.Risks {
		lik, err := findings.ParseLikelihood(rk.Likelihood)
		if err != nil {
			return nil, fmt.Errorf("risk %d: %w", rk.ID, err)
		}
		r.Risks = append(r.Risks, findings.EnvironmentRisk{
			ID:          rk.ID,
			Rule:        rk.Rule,
			Component:   rk.Component,
			Category:    findings.RiskCategory(rk.Category),
			Description: rk.Description,
			Likelihood:  lik,
			File:        rk.File,
			Line:        rk.Line,
			Mitigation: findings.Mitigation{
				RequiredChanges: append([]string{}, rk.Mitigation.RequiredChanges...),
				Monitoring:      rk.Mitigation.Monitoring,
			},
		})
	}
	for _, e := range d.EdgeCases {
		sev, err := findings.ParseSeverity(e.Severity)
		if err != nil {
			return nil, fmt.Errorf("edge case %d: %w", e.ID, err)
		}
		r.EdgeCases = append(r.EdgeCases, findings.EdgeCaseFailure{
			ID:              e.ID,
			Rule:            e.Rule,
			Input:           e.Input,
			Scenario:        e.Scenario,
			ExpectedFailure: e.ExpectedFailure,
			Severity:        sev,
			File:            e.File,
			Line:            e.Line,
			Fix:             e.Fix,
		})
	}

	m := d.Metadata
	r.Metadata = findings.Metadata{
		RunID:           m.RunID,
		Timestamp:       m.Timestamp,
		Duration:        time.Duration(m.DurationMillis) * time.Millisecond,
		AnalyzedFiles:   append([]string{}, m.AnalyzedFiles...),
		AnalyzerVersion: m.AnalyzerVersion,
	}
	for _, s := range m.SkippedFiles {
		r.Metadata.SkippedFiles = append(r.Metadata.SkippedFiles, findings.SkippedFile(s))
	}
	for _, p := range m.PartialFailures {
		r.Metadata.PartialFailures = append(r.Metadata.PartialFailures, findings.PartialFailure(p))
	}
	return r, nil
}

func summarize(r *findings.Result) Summary {
	s := Summary{
		TotalIssues:         r.TotalIssueCount(),
		HasCriticalIssues:   r.HasCriticalIssues(),
		Verdict:             VerdictOf(r).String(),
		IssuesBySeverity:    make(map[string]int, len(findings.Severities)),
		RisksByLikelihood:   make(map[string]int, len(findings.Likelihoods)),
		EdgeCasesBySeverity: make(map[string]int, len(findings.Severities)),
	}
	issues := r.IssuesBySeverity()
	edges := r.EdgeCasesBySeverity()
	for _, sev := range findings.Severities {
		s.IssuesBySeverity[sev.String()] = issues[sev]
		s.EdgeCasesBySeverity[sev.String()] = edges[sev]
	}
	risks := r.RisksByLikelihood()
	for _, l := range findings.Likelihoods {
		s.RisksByLikelihood[l.String()] = risks[l]
	}
	return s
}
