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

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
)

var (
	reNullAssign   = regexp.MustCompile(`\b(this\.\w+|_\w+|\w+\.\w+)\s*=\s*(?:null|nil|None|undefined)\b`)
	reNullSafe     = regexp.MustCompile(`\?\.|\?\?`)
	reNetworkCall  = regexp.MustCompile(`\.(GetAsync|PostAsync|PutAsync|PatchAsync|DeleteAsync|SendAsync|GetStringAsync|GetByteArrayAsync|GetStreamAsync|GetFromJsonAsync|PostAsJsonAsync|DownloadString|DownloadData|UploadString|UploadData)\s*\(|\b(WebRequest\.Create|fetch|axios\.(?:get|post|put|delete)|requests\.(?:get|post|put|delete)|http\.(?:Get|Post|Head|PostForm))\s*\(`)
	reDatabaseCall = regexp.MustCompile(`\bnew\s+((?:Sql|Npgsql|MySql|Sqlite|SQLite|Oracle)(?:Connection|Command))\s*\(|\.((?:ExecuteReader|ExecuteNonQuery|ExecuteScalar|ExecuteSqlRaw|FromSqlRaw|SaveChanges|Query|QueryFirst|QueryFirstOrDefault|QuerySingle)(?:Async)?)\s*[<(]|\b(db\.(?:Query|QueryRow|Exec)(?:Context)?)\s*\(`)
	reNewResource  = regexp.MustCompile(`\bnew\s+(\w*(?:Stream|Reader|Writer|Connection))\s*\(`)
	reUsing        = regexp.MustCompile(`\busing\b|\breturn\b|\bDispose\s*\(`)
)

func staticRules() []*Rule {
	return []*Rule{
		{
			ID:          "unchecked-null-assignment",
			Phase:       PhaseStaticReview,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityHigh,
			Description: "Member assigned null without a null-safe access pattern",
			Line:        checkNullAssignment,
		},
		{
			ID:          "network-call-unguarded",
			Phase:       PhaseStaticReview,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityHigh,
			Description: "Network call outside any exception handling",
			Line:        checkNetworkCall,
		},
		{
			ID:          "database-call-unguarded",
			Phase:       PhaseStaticReview,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityHigh,
			Description: "Database call outside any exception handling",
			Line:        checkDatabaseCall,
		},
		{
			ID:          "undisposed-resource",
			Phase:       PhaseStaticReview,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityMedium,
			Description: "Disposable resource created without a using scope",
			Line:        checkUndisposedResource,
		},
	}
}

func checkNullAssignment(env *Env, line Line) []findings.Finding {
	if env.Match(reNullSafe, line.Code) {
		return nil
	}
	m := env.Find(reNullAssign, line.Code)
	if m == nil {
		return nil
	}
	member := m[1]
	return []findings.Finding{env.issue(line.Offset, findings.IssueCrashRisk,
		fmt.Sprintf("%s is assigned null; any later member access on it throws a null reference exception", member),
		findings.Proof{
			SimulatedStep:  fmt.Sprintf("Execute the assignment to %s, then reach a code path that dereferences it", member),
			Trigger:        fmt.Sprintf("%s holds null when the dereference runs", member),
			ObservedResult: "NullReferenceException terminates the current request or thread",
		},
		findings.Solution{
			Fix:          fmt.Sprintf("Assign a valid default to %s, or mark it nullable and guard every use with ?. or an explicit null check", member),
			Verification: fmt.Sprintf("Add a test that runs each reader of %s after this assignment and asserts no exception", member),
		},
	)}
}

func checkNetworkCall(env *Env, line Line) []findings.Finding {
	idx := env.FindAll(reNetworkCall, line.Code)
	if len(idx) == 0 {
		return nil
	}
	m := idx[0]
	offset := line.Offset + m[0]
	if env.Source.InTry(offset) || env.Match(goErrCheck, line.Code) {
		return nil
	}
	call := line.Code[m[0]:m[1]]
	if m[2] >= 0 {
		call = line.Code[m[2]:m[3]]
	} else if m[4] >= 0 {
		call = line.Code[m[4]:m[5]]
	}
	return []findings.Finding{env.issue(offset, findings.IssueCrashRisk,
		fmt.Sprintf("Network call %s runs outside any try block; a timeout or connection failure propagates unhandled", call),
		findings.Proof{
			SimulatedStep:  fmt.Sprintf("Invoke %s while the remote endpoint is unreachable", call),
			Trigger:        "DNS failure, refused connection, TLS error or request timeout",
			ObservedResult: "HttpRequestException or TaskCanceledException escapes to the caller and aborts the operation",
		},
		findings.Solution{
			Fix:          "Wrap the call in try/catch for the transport exceptions, apply a timeout and a retry policy, and return a typed failure to the caller",
			Verification: "Point the client at a closed port in a test and assert the caller receives a handled failure",
		},
	)}
}

func checkDatabaseCall(env *Env, line Line) []findings.Finding {
	idx := env.FindAll(reDatabaseCall, line.Code)
	if len(idx) == 0 {
		return nil
	}
	m := idx[0]
	offset := line.Offset + m[0]
	if env.Source.InTry(offset) || env.Match(goErrCheck, line.Code) {
		return nil
	}
	call := line.Code[m[0]:m[1]]
	for g := 1; g < len(m)/2; g++ {
		if m[2*g] >= 0 {
			call = line.Code[m[2*g]:m[2*g+1]]
			break
		}
	}
	return []findings.Finding{env.issue(offset, findings.IssueCrashRisk,
		fmt.Sprintf("Database call %s runs outside any try block; connection loss or a failed statement propagates unhandled", call),
		findings.Proof{
			SimulatedStep:  fmt.Sprintf("Execute %s while the database is unavailable or the statement violates a constraint", call),
			Trigger:        "Connection timeout, deadlock victim, or constraint violation",
			ObservedResult: "The provider exception escapes to the caller and any open transaction is left undecided",
		},
		findings.Solution{
			Fix:          "Wrap the call in try/catch for the provider exception type, roll back open transactions, and retry transient errors with backoff",
			Verification: "Run the code against a stopped database in an integration test and assert a handled failure",
		},
	)}
}

func checkUndisposedResource(env *Env, line Line) []findings.Finding {
	m := env.FindAll(reNewResource, line.Code)
	if len(m) == 0 || env.Match(reUsing, line.Code) {
		return nil
	}
	typ := line.Code[m[0][2]:m[0][3]]
	return []findings.Finding{env.issue(line.Offset+m[0][0], findings.IssuePerformance,
		fmt.Sprintf("%s is created without a using scope; its handle stays open until finalization", typ),
		findings.Proof{
			SimulatedStep:  fmt.Sprintf("Run this line repeatedly, for example once per request, without disposing the %s", typ),
			Trigger:        "Sustained load before the garbage collector runs finalizers",
			ObservedResult: "File handles or pooled connections are exhausted and new operations fail or block",
		},
		findings.Solution{
			Fix:          fmt.Sprintf("Declare the %s in a using statement or using declaration so it is disposed deterministically", typ),
			Verification: "Run a load test and confirm the open handle or connection count stays flat",
		},
	)}
}
