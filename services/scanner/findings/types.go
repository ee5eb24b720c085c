// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package findings defines the result data model of the runtime scanner.
//
// # Description
//
// A scan produces three kinds of findings: RuntimeIssue (a code defect that
// can crash, slow down, or silently corrupt a run), EnvironmentRisk (a
// dependency or configuration hazard) and EdgeCaseFailure (an input that
// drives the code into a failure). All findings of one analysis call are
// aggregated into a Result together with its Metadata.
//
// # Thread Safety
//
// All types in this package are immutable value types once a Result has been
// returned by the analyzer, and are safe for concurrent reads.
package findings

import (
	"fmt"
	"strings"
)

// Severity ranks the impact of a RuntimeIssue or EdgeCaseFailure.
//
// Severities are totally ordered: Low < Medium < High < Critical.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Severities lists all severities from highest to lowest.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// String returns the display name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "Low"
	case SeverityMedium:
		return "Medium"
	case SeverityHigh:
		return "High"
	case SeverityCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// ParseSeverity parses a severity name case-insensitively.
//
// Description:
//
//	Accepts "low", "medium", "high" and "critical" in any case. The
//	aliases "med" and "crit" are accepted as well.
//
// Inputs:
//
//	s - The severity name.
//
// Outputs:
//
//	Severity - The parsed severity.
//	error - ErrInvalidInput wrapped with the offending value if unknown.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, nil
	case "medium", "med":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical", "crit":
		return SeverityCritical, nil
	default:
		return SeverityLow, fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Likelihood ranks how probable an EnvironmentRisk is to materialize.
//
// Likelihoods are totally ordered: Low < Medium < High.
type Likelihood int

const (
	LikelihoodLow Likelihood = iota
	LikelihoodMedium
	LikelihoodHigh
)

// Likelihoods lists all likelihoods from highest to lowest.
var Likelihoods = []Likelihood{LikelihoodHigh, LikelihoodMedium, LikelihoodLow}

// String returns the display name of the likelihood.
func (l Likelihood) String() string {
	switch l {
	case LikelihoodLow:
		return "Low"
	case LikelihoodMedium:
		return "Medium"
	case LikelihoodHigh:
		return "High"
	default:
		return "Unknown"
	}
}

// ParseLikelihood parses a likelihood name case-insensitively.
func ParseLikelihood(s string) (Likelihood, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return LikelihoodLow, nil
	case "medium", "med":
		return LikelihoodMedium, nil
	case "high":
		return LikelihoodHigh, nil
	default:
		return LikelihoodLow, fmt.Errorf("%w: unknown likelihood %q", ErrInvalidInput, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Likelihood) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Likelihood) UnmarshalText(b []byte) error {
	v, err := ParseLikelihood(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// LikelihoodFor maps a severity onto the likelihood scale.
//
// Critical collapses onto High since likelihood has no fourth level.
func LikelihoodFor(s Severity) Likelihood {
	switch {
	case s >= SeverityHigh:
		return LikelihoodHigh
	case s == SeverityMedium:
		return LikelihoodMedium
	default:
		return LikelihoodLow
	}
}

// IssueType classifies the failure mode of a RuntimeIssue.
type IssueType string

const (
	// IssueCrashRisk may terminate the process or the current request.
	IssueCrashRisk IssueType = "crash-risk"

	// IssuePerformance degrades latency, memory or throughput.
	IssuePerformance IssueType = "performance"

	// IssueIncorrectOutput produces wrong results or hides failures.
	IssueIncorrectOutput IssueType = "incorrect-output"

	// IssueEnvironment depends on the runtime environment.
	IssueEnvironment IssueType = "environment"
)

// RiskCategory classifies an EnvironmentRisk.
type RiskCategory string

const (
	RiskDependency    RiskCategory = "Dependency"
	RiskConfiguration RiskCategory = "Configuration"
	RiskPerformance   RiskCategory = "Performance"
)
