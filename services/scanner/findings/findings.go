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
	"fmt"
)

// Proof is the simulated execution that demonstrates a RuntimeIssue.
type Proof struct {
	// SimulatedStep is the code path the scanner walked through.
	SimulatedStep string `json:"simulated_step"`

	// Trigger is the condition that sets the failure off.
	Trigger string `json:"trigger"`

	// ObservedResult is what the program would do once triggered.
	ObservedResult string `json:"observed_result"`
}

// Solution describes how to fix a RuntimeIssue and how to confirm the fix.
type Solution struct {
	Fix          string `json:"fix"`
	Verification string `json:"verification"`
}

// RuntimeIssue is a code defect correlated with a runtime failure.
//
// Thread Safety: Immutable after creation by the analyzer.
type RuntimeIssue struct {
	ID          int64     `json:"id"`
	Rule        string    `json:"rule"`
	Type        IssueType `json:"type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`

	// File is the label of the analyzed source. Empty when unlabeled.
	File string `json:"file,omitempty"`

	// Line is the 1-based line of the finding. Zero when unknown.
	Line int `json:"line,omitempty"`

	Proof    Proof    `json:"proof"`
	Solution Solution `json:"solution"`
}

// Mitigation lists the remediation of an EnvironmentRisk.
type Mitigation struct {
	// RequiredChanges are the remediation steps, in the order to apply them.
	RequiredChanges []string `json:"required_changes"`

	// Monitoring describes what to watch once deployed.
	Monitoring string `json:"monitoring"`
}

// EnvironmentRisk is a dependency or configuration hazard.
//
// Thread Safety: Immutable after creation by the analyzer.
type EnvironmentRisk struct {
	ID          int64        `json:"id"`
	Rule        string       `json:"rule"`
	Component   string       `json:"component"`
	Category    RiskCategory `json:"category"`
	Description string       `json:"description"`
	Likelihood  Likelihood   `json:"likelihood"`
	File        string       `json:"file,omitempty"`
	Line        int          `json:"line,omitempty"`
	Mitigation  Mitigation   `json:"mitigation"`
}

// EdgeCaseFailure is an input that drives the code into a failure.
//
// Thread Safety: Immutable after creation by the analyzer.
type EdgeCaseFailure struct {
	ID              int64    `json:"id"`
	Rule            string   `json:"rule"`
	Input           string   `json:"input"`
	Scenario        string   `json:"scenario"`
	ExpectedFailure string   `json:"expected_failure"`
	Severity        Severity `json:"severity"`
	File            string   `json:"file,omitempty"`
	Line            int      `json:"line,omitempty"`

	// Fix is the concrete remediation. Empty when no fix can be proposed.
	Fix string `json:"fix,omitempty"`
}

// Location renders the failure position as "file:line".
func (e *EdgeCaseFailure) Location() string {
	return formatLocation(e.File, e.Line)
}

// Location renders the issue position as "file:line".
func (i *RuntimeIssue) Location() string {
	return formatLocation(i.File, i.Line)
}

// Location renders the risk position as "file:line".
func (r *EnvironmentRisk) Location() string {
	return formatLocation(r.File, r.Line)
}

func formatLocation(file string, line int) string {
	if file == "" {
		file = "<source>"
	}
	if line <= 0 {
		return file
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// Kind tags the variant held by a Finding.
type Kind int

const (
	KindUnknown Kind = iota
	KindRuntimeIssue
	KindEnvironmentRisk
	KindEdgeCaseFailure
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindRuntimeIssue:
		return "runtime_issue"
	case KindEnvironmentRisk:
		return "environment_risk"
	case KindEdgeCaseFailure:
		return "edge_case_failure"
	default:
		return "unknown"
	}
}

// Finding is the output of a detector: exactly one of its fields is set.
//
// Detectors return findings without ids; the analyzer assigns ids when it
// aggregates them into a Result.
type Finding struct {
	Issue    *RuntimeIssue
	Risk     *EnvironmentRisk
	EdgeCase *EdgeCaseFailure
}

// Kind reports which variant the finding holds.
func (f Finding) Kind() Kind {
	switch {
	case f.Issue != nil:
		return KindRuntimeIssue
	case f.Risk != nil:
		return KindEnvironmentRisk
	case f.EdgeCase != nil:
		return KindEdgeCaseFailure
	default:
		return KindUnknown
	}
}

// Rule returns the id of the detector that produced the finding.
func (f Finding) Rule() string {
	switch f.Kind() {
	case KindRuntimeIssue:
		return f.Issue.Rule
	case KindEnvironmentRisk:
		return f.Risk.Rule
	case KindEdgeCaseFailure:
		return f.EdgeCase.Rule
	default:
		return ""
	}
}

// WithID returns a copy of the finding carrying the given id.
//
// The held record is copied so ids are never written into a value the
// detector still references.
func (f Finding) WithID(id int64) Finding {
	switch f.Kind() {
	case KindRuntimeIssue:
		c := *f.Issue
		c.ID = id
		return Finding{Issue: &c}
	case KindEnvironmentRisk:
		c := *f.Risk
		c.ID = id
		c.Mitigation.RequiredChanges = append([]string(nil), f.Risk.Mitigation.RequiredChanges...)
		return Finding{Risk: &c}
	case KindEdgeCaseFailure:
		c := *f.EdgeCase
		c.ID = id
		return Finding{EdgeCase: &c}
	default:
		return f
	}
}

// Issue wraps a RuntimeIssue into a Finding.
func Issue(i RuntimeIssue) Finding { return Finding{Issue: &i} }

// Risk wraps an EnvironmentRisk into a Finding.
func Risk(r EnvironmentRisk) Finding { return Finding{Risk: &r} }

// EdgeCase wraps an EdgeCaseFailure into a Finding.
func EdgeCase(e EdgeCaseFailure) Finding { return Finding{EdgeCase: &e} }
