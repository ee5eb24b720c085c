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
	"strconv"
	"strings"

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
)

var (
	reAwait           = regexp.MustCompile(`\bawait\b`)
	reTaskReturn      = regexp.MustCompile(`^(?:Task|ValueTask)\b`)
	reCancelParam     = regexp.MustCompile(`\bCancellationToken\b`)
	reEventHandler    = regexp.MustCompile(`\bobject\??\s+\w+\s*,\s*\w*EventArgs\b`)
	reFieldContainer  = regexp.MustCompile(`\b(\w+)\s*=\s*new\s+((?:List|Dictionary|HashSet|SortedDictionary|SortedList|SortedSet|StringBuilder|Queue|Stack|ConcurrentDictionary|ConcurrentBag|ConcurrentQueue|ConcurrentStack|ArrayList|Hashtable)\b[^;(]*)\(\s*\)`)
	reStringAppend    = regexp.MustCompile(`\b(\w+)\s*\+=\s*(?:[$@]*"|[\w.]+\.ToString\s*\()`)
	reStaticField     = regexp.MustCompile(`(?m)^[ \t]*((?:(?:public|private|protected|internal|static|volatile|readonly|const|final|new)\s+)+)([\w.]+(?:<[^;(){}=]*>)?(?:\[\])?\??)\s+(\w+)\s*(?:=[^;{]*)?;`)
	reSynchronized    = regexp.MustCompile(`\block\s*\(|\bInterlocked\.|\bMonitor\.|\bSemaphoreSlim\b|\bMutex\b|\bsynchronized\b|\[ThreadStatic\]`)
	reThreadSafeType  = regexp.MustCompile(`^(?:Concurrent\w+|ThreadLocal|AsyncLocal|Lazy|Immutable\w+|Frozen\w+)\b`)
	reForeach         = regexp.MustCompile(`\bforeach\s*\([^)]*?\bin\s+([\w.]+)\s*\)|\bfor\s*\([^)]*?\bof\s+([\w.]+)\s*\)`)
	reNewArray        = regexp.MustCompile(`\bnew\s+(\w+)\s*\[\s*(\d+(?:\s*\*\s*\d+)*)\s*\]|\bmake\s*\(\s*\[\]\s*(\w+)\s*,\s*(\d+(?:\s*\*\s*\d+)*)`)
	rePooled          = regexp.MustCompile(`\bArrayPool\b|\bMemoryPool\b|\bsync\.Pool\b|\bRecyclableMemoryStream`)
	reNewClient       = regexp.MustCompile(`\bnew\s+(HttpClient|WebClient|RestClient|SmtpClient)\s*\(`)
	reSharedClient    = regexp.MustCompile(`\bstatic\b|\breadonly\b|\bLazy<`)
	reBroadDecl       = regexp.MustCompile(`^(?:System\.)?(?:Exception|Throwable)(?:\s+\w+)?$`)
	reThrow           = regexp.MustCompile(`\bthrow\b|\braise\b`)
	rePythonExcept    = regexp.MustCompile(`(?m)^([ \t]*)except(?:\s+(?:Exception|BaseException)(?:\s+as\s+\w+)?)?\s*:[ \t]*$`)
	rePythonPass      = regexp.MustCompile(`^\s*(?:pass\s*)?$`)
	reEmptyBody       = regexp.MustCompile(`^\s*$`)
)

func runtimeRules() []*Rule {
	return []*Rule{
		{
			ID:          "async-without-await",
			Phase:       PhaseRuntimeSimulation,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityMedium,
			Description: "Async method that never awaits",
			Scan:        checkAsyncWithoutAwait,
		},
		{
			ID:          "async-without-cancellation",
			Phase:       PhaseRuntimeSimulation,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityMedium,
			Description: "Task-returning async method without a CancellationToken parameter",
			Scan:        checkAsyncWithoutCancellation,
		},
		{
			ID:          "unbounded-growth-container",
			Phase:       PhaseRuntimeSimulation,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityLow,
			Description: "Long-lived collection that is added to but never trimmed",
			Scan:        checkUnboundedGrowth,
		},
		{
			ID:          "string-concat-in-loop",
			Phase:       PhaseRuntimeSimulation,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityMedium,
			Description: "String built with += inside a loop",
			Scan:        checkStringConcatInLoop,
		},
		{
			ID:          "mutable-shared-state",
			Phase:       PhaseRuntimeSimulation,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityHigh,
			Description: "Mutable static field without synchronization",
			Scan:        checkMutableSharedState,
		},
		{
			ID:          "collection-mutated-during-iteration",
			Phase:       PhaseRuntimeSimulation,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityHigh,
			Description: "Collection modified inside a loop that enumerates it",
			Scan:        checkMutationDuringIteration,
		},
		{
			ID:          "oversized-allocation",
			Phase:       PhaseRuntimeSimulation,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityMedium,
			Description: "Array allocation at or above the large object threshold",
			Scan:        checkOversizedAllocation,
		},
		{
			ID:          "connection-pool-exhaustion",
			Phase:       PhaseRuntimeSimulation,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityMedium,
			Description: "HTTP or network client created per use instead of shared",
			Scan:        checkConnectionPerUse,
		},
		{
			ID:          "broad-catch",
			Phase:       PhaseRuntimeSimulation,
			Kind:        findings.KindRuntimeIssue,
			Severity:    findings.SeverityMedium,
			Description: "Handler that catches every exception type and does not rethrow",
			Scan:        checkBroadCatch,
		},
	}
}

func isAsync(m Method) bool {
	for _, mod := range strings.Fields(m.Modifiers) {
		if mod == "async" {
			return true
		}
	}
	return false
}

func checkAsyncWithoutAwait(env *Env) []findings.Finding {
	var out []findings.Finding
	for _, m := range env.Source.Methods() {
		if !isAsync(m) || m.Body.Close <= m.Body.Open {
			continue
		}
		if env.Match(reAwait, env.Source.Body(m.Body)) {
			continue
		}
		out = append(out, env.issue(m.Start, findings.IssuePerformance,
			fmt.Sprintf("Async method %s contains no await; it runs synchronously and pays for a state machine it never uses", m.Name),
			findings.Proof{
				SimulatedStep:  fmt.Sprintf("Call %s from a request handler and await the returned task", m.Name),
				Trigger:        "The method body performs blocking or CPU work on the caller's thread",
				ObservedResult: "The caller's thread is held for the full duration and exceptions surface only when the task is awaited",
			},
			findings.Solution{
				Fix:          fmt.Sprintf("Await the asynchronous operations inside %s, or remove async and return a completed task", m.Name),
				Verification: "Confirm the compiler warning CS1998 is gone and a profiler shows no thread blocked in the method",
			},
		))
	}
	return out
}

func checkAsyncWithoutCancellation(env *Env) []findings.Finding {
	var out []findings.Finding
	for _, m := range env.Source.Methods() {
		if !isAsync(m) || m.Name == "Main" || !env.Match(reTaskReturn, m.ReturnType) {
			continue
		}
		if env.Match(reCancelParam, m.Params) || env.Match(reEventHandler, m.Params) {
			continue
		}
		out = append(out, env.issue(m.Start, findings.IssuePerformance,
			fmt.Sprintf("Async method %s accepts no CancellationToken; abandoned callers cannot stop its work", m.Name),
			findings.Proof{
				SimulatedStep:  fmt.Sprintf("Start %s for a client request, then disconnect the client", m.Name),
				Trigger:        "Request abort, shutdown signal, or upstream timeout",
				ObservedResult: "The operation runs to completion and keeps holding threads, sockets and memory for a result nobody reads",
			},
			findings.Solution{
				Fix:          fmt.Sprintf("Add a CancellationToken parameter to %s and pass it to every awaited call", m.Name),
				Verification: "Cancel the token in a test and assert the task ends in the Canceled state promptly",
			},
		))
	}
	return out
}

func checkUnboundedGrowth(env *Env) []findings.Finding {
	src := env.Source
	var out []findings.Finding
	for _, m := range env.FindAll(reFieldContainer, src.Code) {
		if _, inMethod := src.EnclosingMethod(m[0]); inMethod {
			continue
		}
		name := src.Code[m[2]:m[3]]
		typ := strings.TrimSpace(src.Code[m[4]:m[5]])

		grows := wordPattern(`\b%s\s*\.\s*(?:Add|TryAdd|AddRange|Append|AppendLine|Enqueue|Push|Insert)\s*\(|\b%s\s*\[[^\]]+\]\s*=[^=]`, name)
		shrinks := wordPattern(`\b%s\s*\.\s*(?:Remove|TryRemove|RemoveAt|RemoveAll|RemoveWhere|Clear|Dequeue|TryDequeue|Pop|TryPop|TrimExcess|Capacity|EnsureCapacity)\b`, name)
		if !env.Match(grows, src.Code) || env.Match(shrinks, src.Code) {
			continue
		}

		out = append(out, env.issue(m[0], findings.IssuePerformance,
			fmt.Sprintf("%s (%s) lives as long as its owner, is added to and never removed from or cleared", name, typ),
			findings.Proof{
				SimulatedStep:  fmt.Sprintf("Call the methods that add to %s once per request for a long running process", name),
				Trigger:        "Sustained traffic with distinct keys or items",
				ObservedResult: "Memory grows without bound until the process is recycled or fails with OutOfMemoryException",
			},
			findings.Solution{
				Fix:          fmt.Sprintf("Bound %s with an eviction policy (size cap, expiry, or a MemoryCache) or clear it when its contents are consumed", name),
				Verification: "Run a soak test and confirm the collection size and heap stay flat",
			},
		))
	}
	return out
}

func checkStringConcatInLoop(env *Env) []findings.Finding {
	src := env.Source
	seen := make(map[int]bool)
	var out []findings.Finding
	for _, loop := range src.Loops() {
		body := src.Body(loop)
		base := loop.Open + 1
		for _, m := range env.FindAll(reStringAppend, body) {
			offset := base + m[0]
			if seen[offset] {
				continue
			}
			seen[offset] = true
			name := body[m[2]:m[3]]
			out = append(out, env.issue(offset, findings.IssuePerformance,
				fmt.Sprintf("%s is extended with += inside a loop; each iteration copies the whole string", name),
				findings.Proof{
					SimulatedStep:  "Run the loop over a large input, for example ten thousand items",
					Trigger:        "Iteration count grows with input size",
					ObservedResult: "Quadratic copying and large object heap churn make the loop slow down sharply as input grows",
				},
				findings.Solution{
					Fix:          fmt.Sprintf("Accumulate into a StringBuilder (or collect parts and join once) instead of %s +=", name),
					Verification: "Benchmark the loop at 1k and 100k items and confirm time grows linearly",
				},
			))
		}
	}
	return out
}

func checkMutableSharedState(env *Env) []findings.Finding {
	src := env.Source
	if env.Match(reSynchronized, src.Code) {
		return nil
	}
	var out []findings.Finding
	for _, m := range env.FindAll(reStaticField, src.Code) {
		mods := strings.Fields(src.Code[m[2]:m[3]])
		static, frozen := false, false
		for _, mod := range mods {
			switch mod {
			case "static":
				static = true
			case "readonly", "const", "final":
				frozen = true
			}
		}
		typ := src.Code[m[4]:m[5]]
		if !static || frozen || isKeyword(typ) || env.Match(reThreadSafeType, typ) {
			continue
		}
		if _, inMethod := src.EnclosingMethod(m[0]); inMethod {
			continue
		}
		name := src.Code[m[6]:m[7]]
		offset := m[2]
		out = append(out, env.issue(offset, findings.IssueCrashRisk,
			fmt.Sprintf("Static field %s is mutable and shared by every thread without synchronization", name),
			findings.Proof{
				SimulatedStep:  fmt.Sprintf("Run two concurrent requests that both read and write %s", name),
				Trigger:        "Interleaved read-modify-write on multiple threads",
				ObservedResult: "Lost updates, torn reads, or collection corruption that surfaces as InvalidOperationException",
			},
			findings.Solution{
				Fix:          fmt.Sprintf("Make %s readonly and immutable, move it to per-request state, or guard every access with a lock or Interlocked operation", name),
				Verification: "Run a parallel stress test over the accessors and assert consistent results",
			},
		))
	}
	return out
}

func checkMutationDuringIteration(env *Env) []findings.Finding {
	src := env.Source
	var out []findings.Finding
	for _, m := range env.FindAll(reForeach, src.Code) {
		var name string
		if m[2] >= 0 {
			name = src.Code[m[2]:m[3]]
		} else {
			name = src.Code[m[4]:m[5]]
		}

		var body string
		base := -1
		for _, loop := range src.Loops() {
			if loop.Start == m[0] {
				body = src.Body(loop)
				base = loop.Open + 1
				break
			}
		}
		if base < 0 {
			continue
		}

		mutation := wordPattern(`\b%s\s*\.\s*(?:Add|AddRange|Remove|RemoveAt|RemoveAll|RemoveRange|Insert|InsertRange|Clear|Push|Pop|Enqueue|Dequeue|push|splice|pop|shift|unshift)\s*\(`, name)
		hit := env.FindAll(mutation, body)
		if len(hit) == 0 {
			continue
		}
		out = append(out, env.issue(base+hit[0][0], findings.IssueCrashRisk,
			fmt.Sprintf("%s is modified inside the loop that enumerates it", name),
			findings.Proof{
				SimulatedStep:  fmt.Sprintf("Enumerate %s with at least one element that takes the mutating branch", name),
				Trigger:        "The loop body adds to or removes from the collection being enumerated",
				ObservedResult: "InvalidOperationException: collection was modified; enumeration operation may not execute",
			},
			findings.Solution{
				Fix:          fmt.Sprintf("Iterate over a snapshot (%s.ToList()), collect changes and apply them after the loop, or use RemoveAll with a predicate", name),
				Verification: "Add a test whose input triggers the mutation and assert the loop completes",
			},
		))
	}
	return out
}

// elementSize returns the byte size of an array element type, or 0 when
// the type is not a known primitive.
func elementSize(typ string) int64 {
	switch typ {
	case "byte", "sbyte", "bool", "uint8", "int8":
		return 1
	case "char", "short", "ushort", "int16", "uint16":
		return 2
	case "int", "uint", "float", "int32", "uint32", "float32", "rune":
		return 4
	case "long", "ulong", "double", "int64", "uint64", "float64", "object", "string", "uintptr":
		return 8
	case "decimal", "complex128":
		return 16
	}
	return 0
}

// product evaluates a literal multiplication such as "1024 * 1024".
func product(expr string) (int64, bool) {
	total := int64(1)
	for _, part := range strings.Split(expr, "*") {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		if n != 0 && total > (1<<62)/n {
			return 0, false
		}
		total *= n
	}
	return total, true
}

func checkOversizedAllocation(env *Env) []findings.Finding {
	src := env.Source
	if env.Match(rePooled, src.Code) {
		return nil
	}
	threshold := env.Settings.oversizedBytes()
	var out []findings.Finding
	for _, m := range env.FindAll(reNewArray, src.Code) {
		var typ, count string
		if m[2] >= 0 {
			typ, count = src.Code[m[2]:m[3]], src.Code[m[4]:m[5]]
		} else {
			typ, count = src.Code[m[6]:m[7]], src.Code[m[8]:m[9]]
		}
		size := elementSize(typ)
		n, ok := product(count)
		if size == 0 || !ok || n > (1<<62)/size {
			continue
		}
		bytes := n * size
		if bytes < threshold {
			continue
		}
		out = append(out, env.issue(m[0], findings.IssuePerformance,
			fmt.Sprintf("Allocates a %d byte %s array, at or above the %d byte large object threshold", bytes, typ, threshold),
			findings.Proof{
				SimulatedStep:  "Execute the allocation on every call under concurrent load",
				Trigger:        "Frequent allocations that land on the large object heap",
				ObservedResult: "Gen2 collections and heap fragmentation raise latency and memory use",
			},
			findings.Solution{
				Fix:          "Rent the buffer from ArrayPool<T>.Shared and return it when done, or process the data in smaller chunks",
				Verification: "Compare gen2 collection counts and allocation rate before and after under the same load",
			},
		))
	}
	return out
}

func checkConnectionPerUse(env *Env) []findings.Finding {
	src := env.Source
	lines := src.Lines()
	var out []findings.Finding
	for _, m := range env.FindAll(reNewClient, src.Code) {
		n := src.LineOf(m[0])
		if n >= 1 && n <= len(lines) && env.Match(reSharedClient, lines[n-1].Code) {
			continue
		}
		typ := src.Code[m[2]:m[3]]
		out = append(out, env.issue(m[0], findings.IssuePerformance,
			fmt.Sprintf("A new %s is created per use; each instance opens its own connections", typ),
			findings.Proof{
				SimulatedStep:  fmt.Sprintf("Invoke the enclosing code path several hundred times per second, creating a %s each time", typ),
				Trigger:        "Sockets linger in TIME_WAIT after each client is disposed",
				ObservedResult: "Ephemeral ports run out and new requests fail with SocketException",
			},
			findings.Solution{
				Fix:          fmt.Sprintf("Share one long-lived %s (static readonly field or IHttpClientFactory) instead of creating one per call", typ),
				Verification: "Run a load test and confirm the number of open sockets stays bounded",
			},
		))
	}
	return out
}

func checkBroadCatch(env *Env) []findings.Finding {
	src := env.Source
	var out []findings.Finding
	for _, c := range src.Catches() {
		if c.Declaration != "" && !env.Match(reBroadDecl, c.Declaration) {
			continue
		}
		body := src.Body(c.Body)
		if env.Match(reEmptyBody, body) || env.Match(reThrow, body) {
			continue
		}
		out = append(out, broadCatchIssue(env, c.Start, c.Declaration))
	}

	for _, m := range env.FindAll(rePythonExcept, src.Code) {
		if env.Err() != nil {
			break
		}
		indent := src.Code[m[2]:m[3]]
		body := pythonBlock(src.Code, m[1], indent, 0)
		if env.Match(rePythonPass, body) || env.Match(reThrow, body) {
			continue
		}
		out = append(out, broadCatchIssue(env, m[0]+len(indent), "Exception"))
	}
	return out
}

func broadCatchIssue(env *Env, offset int, decl string) findings.Finding {
	what := "every exception"
	if decl != "" {
		what = strings.Fields(decl)[0]
	}
	return env.issue(offset, findings.IssueIncorrectOutput,
		fmt.Sprintf("Handler catches %s and continues; programming errors are converted into a normal looking result", what),
		findings.Proof{
			SimulatedStep:  "Make the guarded code fail with an unexpected error such as a null dereference",
			Trigger:        "Any exception type, including bugs that should stop the operation",
			ObservedResult: "Execution continues with partial or default state and the caller receives a wrong result",
		},
		findings.Solution{
			Fix:          "Catch only the exception types the code can recover from and rethrow or wrap everything else",
			Verification: "Inject an unexpected exception in a test and assert it reaches the caller",
		},
	)
}

// pythonBlock returns the indented block that follows offset, which is
// the end of a header line with the given indentation. Collection stops at
// the first dedented line, or after maxLines non-blank lines when maxLines
// is positive.
func pythonBlock(code string, offset int, indent string, maxLines int) string {
	i := offset
	if i < len(code) && code[i] == '\n' {
		i++
	}
	var b strings.Builder
	taken := 0
	for i < len(code) {
		end, next := len(code), len(code)
		if nl := strings.IndexByte(code[i:], '\n'); nl >= 0 {
			end, next = i+nl, i+nl+1
		}
		line := code[i:end]
		i = next
		if strings.TrimSpace(line) == "" {
			b.WriteByte('\n')
			continue
		}
		lead := len(line) - len(strings.TrimLeft(line, " \t"))
		if lead <= len(indent) {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
		taken++
		if maxLines > 0 && taken >= maxLines {
			break
		}
	}
	return b.String()
}
