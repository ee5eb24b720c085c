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
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
)

var (
	rePythonSwallow = regexp.MustCompile(`(?m)^([ \t]*)except\b[^:\n]*:[ \t]*(pass)?[ \t]*$`)
	reGoSwallow     = regexp.MustCompile(`\bif\s+err\s*!=\s*nil\s*\{\s*\}`)
	reFireAndForget = regexp.MustCompile(`(?m)^[ \t]*(?:_\s*=\s*)?(Task\.(?:Run|Factory\.StartNew))\s*\(`)
)

func propagationRules() []*Rule {
	return []*Rule{
		{
			ID:          "empty-catch",
			Phase:       PhaseErrorPropagation,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityHigh,
			Description: "Exception handler with an empty body",
			Scan:        checkEmptyCatch,
		},
		{
			ID:          "async-void",
			Phase:       PhaseErrorPropagation,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityHigh,
			Description: "async void method outside an event handler",
			Scan:        checkAsyncVoid,
		},
		{
			ID:          "rethrow-loses-stack",
			Phase:       PhaseErrorPropagation,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityLow,
			Description: "Caught exception rethrown with throw ex",
			Scan:        checkRethrow,
		},
		{
			ID:          "unobserved-task",
			Phase:       PhaseErrorPropagation,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityMedium,
			Description: "Background task started and never observed",
			Scan:        checkUnobservedTask,
		},
	}
}

func emptyCatchIssue(env *Env, offset int) findings.Finding {
	return env.issue(offset, findings.IssueIncorrectOutput,
		"Empty exception handler swallows the error: a silent failure leaves the caller believing the operation succeeded",
		findings.Proof{
			SimulatedStep:  "Make the guarded operation throw, for example with an unreachable dependency",
			Trigger:        "Any exception raised inside the try block",
			ObservedResult: "The exception is discarded with no log, metric or return value, and execution continues with incomplete state",
		},
		findings.Solution{
			Fix:          "Log the exception with context and either rethrow, return an error result, or handle the specific recoverable case",
			Verification: "Force the failure in a test and assert it is logged and reported to the caller",
		},
	)
}

func checkEmptyCatch(env *Env) []findings.Finding {
	src := env.Source
	var out []findings.Finding
	for _, c := range src.Catches() {
		if env.Match(reEmptyBody, src.Body(c.Body)) {
			out = append(out, emptyCatchIssue(env, c.Start))
		}
	}
	for _, m := range env.FindAll(rePythonSwallow, src.Code) {
		if env.Err() != nil {
			break
		}
		indent := src.Code[m[2]:m[3]]
		if m[4] < 0 {
			// two lines are enough to tell a lone pass from a real body
			body := pythonBlock(src.Code, m[1], indent, 2)
			if strings.TrimSpace(body) != "pass" {
				continue
			}
		}
		out = append(out, emptyCatchIssue(env, m[0]+len(indent)))
	}
	for _, m := range env.FindAll(reGoSwallow, src.Code) {
		out = append(out, emptyCatchIssue(env, m[0]))
	}
	return out
}

func checkAsyncVoid(env *Env) []findings.Finding {
	var out []findings.Finding
	for _, m := range env.Source.Methods() {
		if !isAsync(m) || m.ReturnType != "void" || env.Match(reEventHandler, m.Params) {
			continue
		}
		out = append(out, env.issue(m.Start, findings.IssueCrashRisk,
			fmt.Sprintf("%s is async void; an exception it throws cannot be caught by its caller", m.Name),
			findings.Proof{
				SimulatedStep:  fmt.Sprintf("Call %s and let an awaited operation inside it fail", m.Name),
				Trigger:        "Any exception after the first await",
				ObservedResult: "The exception is raised on the synchronization context and terminates the process",
			},
			findings.Solution{
				Fix:          fmt.Sprintf("Return Task from %s and await it at the call site", m.Name),
				Verification: "Assert in a test that a failure inside the method is observed by the awaiting caller",
			},
		))
	}
	return out
}

func checkRethrow(env *Env) []findings.Finding {
	src := env.Source
	var out []findings.Finding
	for _, c := range src.Catches() {
		fields := strings.Fields(c.Declaration)
		if len(fields) != 2 {
			continue
		}
		name := fields[1]
		body := src.Body(c.Body)
		rethrow := wordPattern(`\bthrow\s+%s\s*;`, name)
		hit := env.FindAll(rethrow, body)
		if len(hit) == 0 {
			continue
		}
		out = append(out, env.issue(c.Body.Open+1+hit[0][0], findings.IssueIncorrectOutput,
			fmt.Sprintf("throw %s resets the stack trace of the caught exception", name),
			findings.Proof{
				SimulatedStep:  "Let the guarded code fail deep in a call chain and inspect the logged exception",
				Trigger:        fmt.Sprintf("The handler rethrows %s explicitly", name),
				ObservedResult: "The stack trace starts at the rethrow, hiding the frame that actually failed",
			},
			findings.Solution{
				Fix:          fmt.Sprintf("Use throw; to rethrow, or wrap %s as the inner exception of a new one", name),
				Verification: "Check that the logged stack trace includes the original failing frame",
			},
		))
	}
	return out
}

func checkUnobservedTask(env *Env) []findings.Finding {
	src := env.Source
	var out []findings.Finding
	for _, m := range env.FindAll(reFireAndForget, src.Code) {
		call := src.Code[m[2]:m[3]]
		out = append(out, env.issue(m[2], findings.IssueIncorrectOutput,
			fmt.Sprintf("%s starts work whose task is never awaited or observed", call),
			findings.Proof{
				SimulatedStep:  "Let the background work throw or outlive the request that started it",
				Trigger:        "An exception inside the task, or process shutdown while it runs",
				ObservedResult: "The failure goes unnoticed and the work is silently lost",
			},
			findings.Solution{
				Fix:          "Await the task, or hand it to a hosted background queue that logs failures and supports shutdown",
				Verification: "Make the background work fail in a test and assert the failure is logged or surfaced",
			},
		))
	}
	return out
}
