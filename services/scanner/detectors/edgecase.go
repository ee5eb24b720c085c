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
	reIndexAccess  = regexp.MustCompile(`\b([A-Za-z_]\w*)[ \t]*\[[ \t]*([A-Za-z_]\w*|\d+)\s*\]`)
	reStringParam  = regexp.MustCompile(`(?:^|[,(\s])(?:\[[^\]]*\]\s*)?(?:this\s+)?(?:string|String)\s+(\w+)`)
	reNumericParse = regexp.MustCompile(`\b((?:int|long|short|byte|uint|ulong|decimal|double|float|Int16|Int32|Int64|UInt16|UInt32|UInt64|Decimal|Double|Single|Byte)\.Parse|Convert\.To(?:Int16|Int32|Int64|UInt32|UInt64|Decimal|Double|Single|Byte)|Integer\.parseInt|Long\.parseLong|Double\.parseDouble|parseInt|parseFloat)\s*\(|\b(strconv\.(?:Atoi|ParseInt|ParseUint|ParseFloat))\s*\(`)
	reTryParse     = regexp.MustCompile(`\bTryParse\b|\bNumberFormatException\b|\bFormatException\b|\bisNaN\s*\(|\bNumber\.isNaN\s*\(`)
	reIgnoredErr   = regexp.MustCompile(`,\s*_\s*:?=`)
	reDivision     = regexp.MustCompile(`[\w)\]]\s*/\s*([A-Za-z_][\w.]*)`)
)

func edgeCaseRules() []*Rule {
	return []*Rule{
		{
			ID:          "unbounded-index-access",
			Phase:       PhaseEdgeCase,
			Kind:        findings.KindEdgeCaseFailure,
			Severity:    findings.SeverityHigh,
			Description: "Indexing a collection without a bounds or key check",
			Scan:        checkIndexAccess,
		},
		{
			ID:          "missing-null-parameter-guard",
			Phase:       PhaseEdgeCase,
			Kind:        findings.KindEdgeCaseFailure,
			Severity:    findings.SeverityMedium,
			Description: "Public method dereferences a string parameter without a null check",
			Scan:        checkNullParameterGuard,
		},
		{
			ID:          "unguarded-numeric-parse",
			Phase:       PhaseEdgeCase,
			Kind:        findings.KindEdgeCaseFailure,
			Severity:    findings.SeverityMedium,
			Description: "Numeric parse that throws on malformed input",
			Scan:        checkNumericParse,
		},
		{
			ID:          "unguarded-division",
			Phase:       PhaseEdgeCase,
			Kind:        findings.KindEdgeCaseFailure,
			Severity:    findings.SeverityHigh,
			Description: "Division by a variable with no zero check",
			Scan:        checkDivision,
		},
	}
}

// notIndexable lists words that precede brackets without indexing.
var notIndexable = map[string]bool{
	"new": true, "return": true, "in": true, "of": true, "is": true, "as": true,
	"params": true, "stackalloc": true, "fixed": true,
}

func checkIndexAccess(env *Env) []findings.Finding {
	src := env.Source
	type key struct {
		scope int
		name  string
	}
	seen := make(map[key]bool)
	var out []findings.Finding
	for _, m := range env.FindAll(reIndexAccess, src.Code) {
		name := src.Code[m[2]:m[3]]
		index := src.Code[m[4]:m[5]]
		if notIndexable[name] || elementSize(name) > 0 || isKeyword(name) {
			continue
		}
		prefix := strings.TrimRight(src.Code[max(0, m[0]-12):m[0]], " \t")
		if strings.HasSuffix(prefix, "new") || strings.HasSuffix(prefix, "[") {
			continue
		}

		scope, start := src.Scope(m[0])
		k := key{scope: start, name: name}
		if seen[k] {
			continue
		}
		guard := wordPattern(`\b%s\s*\.\s*(?:Length|Count|length|size|Any|TryGetValue|ContainsKey|has|get|ElementAtOrDefault)\b|\blen\(\s*(?:[\w.]*\.)?%s\s*\)`, name)
		if env.Match(guard, scope) {
			continue
		}
		seen[k] = true

		out = append(out, env.edgeCase(m[0],
			fmt.Sprintf("%s with fewer elements than %s requires, or without key %s", name, index, index),
			fmt.Sprintf("%s[%s] is read with no check that the index or key exists", name, index),
			"IndexOutOfRangeException, ArgumentOutOfRangeException or KeyNotFoundException aborts the operation",
			fmt.Sprintf("Check %s.Length or %s.Count (or use TryGetValue for dictionaries) before reading %s[%s]", name, name, name, index),
		))
	}
	return out
}

func checkNullParameterGuard(env *Env) []findings.Finding {
	src := env.Source
	var out []findings.Finding
	for _, m := range src.Methods() {
		if !strings.Contains(" "+m.Modifiers+" ", " public ") || m.Body.Close <= m.Body.Open {
			continue
		}
		body := src.Body(m.Body)
		for _, p := range env.FindAll(reStringParam, m.Params) {
			name := m.Params[p[2]:p[3]]
			deref := wordPattern(`\b%s\s*\.\s*\w`, name)
			if !env.Match(deref, body) {
				continue
			}
			guard := wordPattern(`\b%s\s*(?:==|!=|is)\s*(?:not\s+)?null\b|\bnull\s*(?:==|!=)\s*%s\b|IsNullOr(?:Empty|WhiteSpace)\s*\(\s*%s\b|ThrowIfNull\w*\s*\(\s*%s\b|ArgumentNullException\s*\(\s*(?:nameof\s*\(\s*)?"?%s\b|\b%s\s*\?\?|\b%s\s*\?\.`, name)
			if env.Match(guard, body) {
				continue
			}
			out = append(out, env.edgeCase(m.Start,
				fmt.Sprintf("%s = null", name),
				fmt.Sprintf("A caller passes null for %s to public method %s, which dereferences it", name, m.Name),
				"NullReferenceException thrown from inside the method instead of a clear argument error",
				fmt.Sprintf("Add ArgumentNullException.ThrowIfNull(%s) (or string.IsNullOrEmpty handling) at the start of %s", name, m.Name),
			))
		}
	}
	return out
}

func checkNumericParse(env *Env) []findings.Finding {
	src := env.Source
	lines := src.Lines()
	var out []findings.Finding
	for _, m := range env.FindAll(reNumericParse, src.Code) {
		if src.InTry(m[0]) {
			continue
		}
		scope, _ := src.Scope(m[0])
		if env.Match(reTryParse, scope) {
			continue
		}

		call := ""
		if m[2] >= 0 {
			call = src.Code[m[2]:m[3]]
		} else {
			// Go parse calls report failure through their error result;
			// only a discarded error leaves them unguarded.
			call = src.Code[m[4]:m[5]]
			n := src.LineOf(m[0])
			if n < 1 || n > len(lines) || !env.Match(reIgnoredErr, lines[n-1].Code) {
				continue
			}
		}

		out = append(out, env.edgeCase(m[0],
			`"abc" (non-numeric text), "" or a value outside the target range`,
			fmt.Sprintf("%s receives text that is not a valid number, for example from user input or a file", call),
			"FormatException or OverflowException propagates to the caller, or a zero value is used silently",
			fmt.Sprintf("Replace %s with TryParse (or check the returned error) and handle the invalid case explicitly", call),
		))
	}
	return out
}

func checkDivision(env *Env) []findings.Finding {
	src := env.Source
	type key struct {
		scope   int
		divisor string
	}
	seen := make(map[key]bool)
	var out []findings.Finding
	for _, m := range env.FindAll(reDivision, src.Code) {
		divisor := src.Code[m[2]:m[3]]
		if strings.HasPrefix(divisor, "Math.") || strings.HasPrefix(divisor, "math.") {
			continue
		}

		scope, start := src.Scope(m[0])
		k := key{scope: start, divisor: divisor}
		if seen[k] {
			continue
		}
		seen[k] = true

		before := scope[:m[0]-start]
		guard := wordPattern(`\b%s\s*(?:==|!=|>|<=|>=|<|is\s+(?:not\s+)?)\s*0\b|\b0\s*(?:==|!=|<|>=)\s*%s\b|ThrowIf(?:Zero|NegativeOrZero)\s*\(\s*%s\b`, divisor)
		if env.Match(guard, before) {
			continue
		}

		out = append(out, env.edgeCase(m[0],
			fmt.Sprintf("%s = 0", divisor),
			fmt.Sprintf("The division by %s runs when %s is zero, for example an empty collection or unset input", divisor, divisor),
			"DivideByZeroException (divide-by-zero) for integer operands, or Infinity/NaN propagating for floating point",
			fmt.Sprintf("Check %s != 0 before dividing and return a defined result or a clear error otherwise", divisor),
		))
	}
	return out
}
