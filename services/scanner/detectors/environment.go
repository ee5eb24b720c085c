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
	reEndpoint      = regexp.MustCompile("[\"'`]((?:https?|wss?|ftp)://([^/\"'`\\s:?#]+)[^\"'`\\s]*)[\"'`]")
	reSchemaHost    = regexp.MustCompile(`(?i)(?:^|\.)(?:w3\.org|schemas\.[\w.]+|xmlsoap\.org|json-schema\.org|example\.(?:com|org|net))$`)
	reFileAccess    = regexp.MustCompile(`\b((?:File|Directory)\.(?:ReadAll\w*|WriteAll\w*|Open\w*|Create\w*|Delete|Copy|Move|Append\w*|GetFiles|EnumerateFiles|ReadLines))\s*\(|\bnew\s+(FileStream)\s*\(|\bnew\s+(StreamReader|StreamWriter)\s*\(\s*[@$]*"|\b(os\.(?:Open|OpenFile|ReadFile|WriteFile|Create|Remove|ReadDir))\s*\(|(?:^|[^.\w])(open)\s*\(`)
	reFileGuard     = regexp.MustCompile(`\bFile\.Exists\b|\bDirectory\.Exists\b|\bos\.Stat\b|\bos\.path\.exists\b|\berrors\.Is\(\s*err\s*,\s*(?:os\.ErrNotExist|fs\.ErrNotExist)|\bFileNotFoundException\b`)
	reConfigAccess  = regexp.MustCompile(`\b(Configuration|_configuration|_config|config|ConfigurationManager\.AppSettings|os\.environ)\s*\[\s*"|\b(Environment\.GetEnvironmentVariable|os\.Getenv|os\.environ\.get)\s*\(\s*"|\bprocess\.env\.(\w+)`)
	reConfigGuarded = regexp.MustCompile(`\?\?|\|\||\bIsNullOrEmpty\b|\bIsNullOrWhiteSpace\b|[=!]=\s*""|[=!]==?\s*(?:null|undefined)|\bor\b`)
	reLoopQuery     = regexp.MustCompile(`\.((?:ExecuteReader|ExecuteNonQuery|ExecuteScalar|ExecuteSqlRaw|FromSqlRaw|SaveChanges|Query|QueryFirst|QueryFirstOrDefault|QuerySingle)(?:Async)?|FindAsync|FirstOrDefaultAsync|SingleOrDefaultAsync|ToListAsync|LoadAsync)\s*[<(]|\b(db\.(?:Query|QueryRow|Exec)(?:Context)?)\s*\(`)
)

func environmentRules() []*Rule {
	return []*Rule{
		{
			ID:          "hardcoded-endpoint",
			Phase:       PhaseEnvironment,
			Kind:        findings.KindEnvironmentRisk,
			Severity:    findings.SeverityMedium,
			Description: "Network endpoint hardcoded as a string literal",
			Scan:        checkHardcodedEndpoint,
		},
		{
			ID:          "filesystem-dependency",
			Phase:       PhaseEnvironment,
			Kind:        findings.KindEnvironmentRisk,
			Severity:    findings.SeverityHigh,
			Description: "File system access without an existence check",
			Scan:        checkFilesystemDependency,
		},
		{
			ID:          "unchecked-config-access",
			Phase:       PhaseEnvironment,
			Kind:        findings.KindEnvironmentRisk,
			Severity:    findings.SeverityMedium,
			Description: "Configuration or environment value read without a fallback",
			Scan:        checkConfigAccess,
		},
		{
			ID:          "n-plus-one-query",
			Phase:       PhaseEnvironment,
			Kind:        findings.KindEnvironmentRisk,
			Severity:    findings.SeverityHigh,
			Description: "Database query issued once per loop iteration",
			Scan:        checkNPlusOne,
		},
	}
}

// inCode reports whether the literal starting at offset is code rather
// than comment text: quotes survive in the code view, comments do not.
func inCode(src *Source, offset int) bool {
	return offset < len(src.Code) && src.Code[offset] == src.Text[offset]
}

func checkHardcodedEndpoint(env *Env) []findings.Finding {
	src := env.Source
	var out []findings.Finding
	for _, m := range env.FindAll(reEndpoint, src.Text) {
		if !inCode(src, m[0]) {
			continue
		}
		url := src.Text[m[2]:m[3]]
		host := src.Text[m[4]:m[5]]
		if env.Match(reSchemaHost, host) {
			continue
		}
		out = append(out, env.risk(m[0], host, findings.RiskDependency,
			fmt.Sprintf("Endpoint %s is fixed in code; every environment talks to the same host", url),
			findings.Mitigation{
				RequiredChanges: []string{
					fmt.Sprintf("Move %s into configuration keyed per environment", url),
					"Validate the setting at startup and fail fast when it is missing",
					"Use a named HttpClient or service discovery entry instead of the literal",
				},
				Monitoring: fmt.Sprintf("Track request failures and latency to %s and alert when its availability drops", host),
			},
		))
	}
	return out
}

func checkFilesystemDependency(env *Env) []findings.Finding {
	src := env.Source
	if env.Match(reFileGuard, src.Code) {
		return nil
	}
	seen := make(map[int]bool)
	var out []findings.Finding
	for _, m := range env.FindAll(reFileAccess, src.Code) {
		call := ""
		start := m[0]
		for g := 1; g < len(m)/2; g++ {
			if m[2*g] >= 0 {
				call = src.Code[m[2*g]:m[2*g+1]]
				start = m[2*g]
				break
			}
		}
		line := src.LineOf(start)
		if seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, env.risk(start, "File system ("+call+")", findings.RiskDependency,
			fmt.Sprintf("%s assumes the path exists and is accessible on the host it runs on", call),
			findings.Mitigation{
				RequiredChanges: []string{
					"Resolve the path from configuration rather than the working directory",
					"Check that the file or directory exists before using it and report a clear error otherwise",
					"Handle IOException and UnauthorizedAccessException at the call site",
				},
				Monitoring: "Log the resolved path at startup and alert on file access exceptions",
			},
		))
	}
	return out
}

func checkConfigAccess(env *Env) []findings.Finding {
	src := env.Source
	lines := src.Lines()
	var out []findings.Finding
	for _, m := range env.FindAll(reConfigAccess, src.Code) {
		n := src.LineOf(m[0])
		if n >= 1 && n <= len(lines) && env.Match(reConfigGuarded, lines[n-1].Code) {
			continue
		}

		key := ""
		if m[6] >= 0 {
			key = src.Code[m[6]:m[7]]
		} else {
			// the literal key follows the opening quote that ends the match
			rest := src.Text[m[1]:]
			if end := strings.IndexAny(rest, "\"\n"); end >= 0 {
				key = rest[:end]
			}
		}
		if key == "" {
			key = "<dynamic>"
		}

		out = append(out, env.risk(m[0], "Configuration ("+key+")", findings.RiskConfiguration,
			fmt.Sprintf("Setting %s is read without a default or presence check; a missing value flows on as null", key),
			findings.Mitigation{
				RequiredChanges: []string{
					fmt.Sprintf("Provide a default for %s or fail at startup when it is absent", key),
					"Bind settings to a validated options type instead of indexing raw configuration",
					fmt.Sprintf("Document %s for every deployment environment", key),
				},
				Monitoring: fmt.Sprintf("Emit a startup log of which settings were defaulted and alert when %s is missing", key),
			},
		))
	}
	return out
}

func checkNPlusOne(env *Env) []findings.Finding {
	src := env.Source
	seen := make(map[int]bool)
	var out []findings.Finding
	for _, loop := range src.Loops() {
		body := src.Body(loop)
		base := loop.Open + 1
		for _, m := range env.FindAll(reLoopQuery, body) {
			offset := base + m[0]
			if seen[offset] {
				continue
			}
			seen[offset] = true
			call := body[m[0]:m[1]]
			if m[2] >= 0 {
				call = body[m[2]:m[3]]
			} else if m[4] >= 0 {
				call = body[m[4]:m[5]]
			}
			out = append(out, env.risk(offset, "Database", findings.RiskPerformance,
				fmt.Sprintf("%s runs once per loop iteration; round trips grow with the number of items", call),
				findings.Mitigation{
					RequiredChanges: []string{
						"Load the needed rows in one query before the loop (join, IN list, or Include)",
						"Look results up from an in-memory map inside the loop",
					},
					Monitoring: "Track queries per request and alert when it grows with result size",
				},
			))
		}
	}
	return out
}
