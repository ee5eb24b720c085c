// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detectors

import (
	"regexp"
	"strings"

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
)

// issue builds a RuntimeIssue for the invoking rule at offset.
func (e *Env) issue(offset int, typ findings.IssueType, description string, proof findings.Proof, fix findings.Solution) findings.Finding {
	return findings.Issue(findings.RuntimeIssue{
		Rule:        e.Rule.ID,
		Type:        typ,
		Severity:    e.Rule.Severity,
		Description: description,
		File:        e.Source.Label,
		Line:        e.Source.LineOf(offset),
		Proof:       proof,
		Solution:    fix,
	})
}

// risk builds an EnvironmentRisk for the invoking rule at offset.
func (e *Env) risk(offset int, component string, category findings.RiskCategory, description string, mitigation findings.Mitigation) findings.Finding {
	return findings.Risk(findings.EnvironmentRisk{
		Rule:        e.Rule.ID,
		Component:   component,
		Category:    category,
		Description: description,
		Likelihood:  findings.LikelihoodFor(e.Rule.Severity),
		File:        e.Source.Label,
		Line:        e.Source.LineOf(offset),
		Mitigation:  mitigation,
	})
}

// edgeCase builds an EdgeCaseFailure for the invoking rule at offset.
func (e *Env) edgeCase(offset int, input, scenario, expected, fix string) findings.Finding {
	return findings.EdgeCase(findings.EdgeCaseFailure{
		Rule:            e.Rule.ID,
		Input:           input,
		Scenario:        scenario,
		ExpectedFailure: expected,
		Severity:        e.Rule.Severity,
		File:            e.Source.Label,
		Line:            e.Source.LineOf(offset),
		Fix:             fix,
	})
}

// wordPattern compiles a pattern with name quoted into its %s slot.
func wordPattern(format, name string) *regexp.Regexp {
	return regexp.MustCompile(strings.ReplaceAll(format, "%s", regexp.QuoteMeta(name)))
}

// goErrCheck matches Go call sites that capture an error result.
var goErrCheck = regexp.MustCompile(`,\s*err\w*\s*:?=`)
