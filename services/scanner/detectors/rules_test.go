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
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
	"github.com/AleutianAI/runtimescan/services/scanner/lineindex"
	"github.com/AleutianAI/runtimescan/services/scanner/match"
)

func runRule(t *testing.T, id, text string, settings Settings) []findings.Finding {
	t.Helper()
	rule, ok := Default().Lookup(id)
	require.True(t, ok, "rule %s not registered", id)

	src := NewSource("Sample.cs", text, lineindex.New(lineindex.WithCapacity(8)))
	env := NewEnv(src, rule, match.New(0), settings)
	out := rule.Run(context.Background(), env)
	require.NoError(t, env.Err())
	for _, f := range out {
		assert.Equal(t, id, f.Rule())
	}
	return out
}

func TestRules(t *testing.T) {
	tests := []struct {
		name     string
		rule     string
		text     string
		settings Settings
		want     int
		line     int
	}{
		{
			name: "null assignment to field",
			rule: "unchecked-null-assignment",
			text: "    _cache = null;\n",
			want: 1, line: 1,
		},
		{
			name: "null coalescing is safe",
			rule: "unchecked-null-assignment",
			text: "    _cache = other ?? null;\n",
			want: 0,
		},
		{
			name: "null comparison is not assignment",
			rule: "unchecked-null-assignment",
			text: "    if (_cache == null) return;\n",
			want: 0,
		},
		{
			name: "network call outside try",
			rule: "network-call-unguarded",
			text: "public async Task Load()\n{\n    var body = await client.GetStringAsync(url);\n}\n",
			want: 1, line: 3,
		},
		{
			name: "network call inside try",
			rule: "network-call-unguarded",
			text: "try\n{\n    var body = await client.GetStringAsync(url);\n}\ncatch (HttpRequestException ex)\n{\n    Log(ex);\n}\n",
			want: 0,
		},
		{
			name: "database connection outside try",
			rule: "database-call-unguarded",
			text: "var conn = new SqlConnection(cs);\n",
			want: 1, line: 1,
		},
		{
			name: "go query with error check",
			rule: "database-call-unguarded",
			text: "rows, err := db.Query(\"select 1\")\n",
			want: 0,
		},
		{
			name: "stream without using",
			rule: "undisposed-resource",
			text: "var reader = new StreamReader(path);\n",
			want: 1, line: 1,
		},
		{
			name: "stream with using",
			rule: "undisposed-resource",
			text: "using var reader = new StreamReader(path);\n",
			want: 0,
		},
		{
			name: "async method without await",
			rule: "async-without-await",
			text: "public class Svc\n{\n    public async Task<int> Compute()\n    {\n        return 42;\n    }\n}\n",
			want: 1, line: 3,
		},
		{
			name: "async method with await",
			rule: "async-without-await",
			text: "public class Svc\n{\n    public async Task Compute(CancellationToken ct)\n    {\n        await Task.Delay(1, ct);\n    }\n}\n",
			want: 0,
		},
		{
			name: "async method without token",
			rule: "async-without-cancellation",
			text: "public async Task Save(string path)\n{\n    await File.WriteAllTextAsync(path, data);\n}\n",
			want: 1, line: 1,
		},
		{
			name: "async method with token",
			rule: "async-without-cancellation",
			text: "public async Task Save(string path, CancellationToken ct)\n{\n    await File.WriteAllTextAsync(path, data, ct);\n}\n",
			want: 0,
		},
		{
			name: "event handler needs no token",
			rule: "async-without-cancellation",
			text: "private async Task OnClick(object sender, EventArgs e)\n{\n    await Refresh();\n}\n",
			want: 0,
		},
		{
			name: "field collection only grows",
			rule: "unbounded-growth-container",
			text: "public class Cache\n{\n    private static readonly Dictionary<string, int> _items = new Dictionary<string, int>();\n\n    public void Put(string key, int value)\n    {\n        _items.Add(key, value);\n    }\n}\n",
			want: 1, line: 3,
		},
		{
			name: "field collection is cleared",
			rule: "unbounded-growth-container",
			text: "public class Cache\n{\n    private readonly List<int> _items = new List<int>();\n\n    public void Put(int value)\n    {\n        _items.Add(value);\n    }\n\n    public void Reset()\n    {\n        _items.Clear();\n    }\n}\n",
			want: 0,
		},
		{
			name: "string appended in loop",
			rule: "string-concat-in-loop",
			text: "var s = \"\";\nforeach (var item in items)\n{\n    s += item.ToString();\n}\n",
			want: 1, line: 4,
		},
		{
			name: "numeric accumulation in loop",
			rule: "string-concat-in-loop",
			text: "foreach (var item in items)\n{\n    total += item.Price;\n}\n",
			want: 0,
		},
		{
			name: "mutable static field",
			rule: "mutable-shared-state",
			text: "public class Counter\n{\n    private static int _count = 0;\n}\n",
			want: 1, line: 3,
		},
		{
			name: "readonly static field",
			rule: "mutable-shared-state",
			text: "public class Counter\n{\n    private static readonly int Max = 5;\n}\n",
			want: 0,
		},
		{
			name: "static field guarded by lock",
			rule: "mutable-shared-state",
			text: "public class Counter\n{\n    private static int _count;\n    public void Inc()\n    {\n        lock (Gate) { _count++; }\n    }\n}\n",
			want: 0,
		},
		{
			name: "remove while enumerating",
			rule: "collection-mutated-during-iteration",
			text: "foreach (var item in items)\n{\n    if (item.Expired)\n    {\n        items.Remove(item);\n    }\n}\n",
			want: 1, line: 5,
		},
		{
			name: "remove while enumerating a snapshot",
			rule: "collection-mutated-during-iteration",
			text: "foreach (var item in items.ToList())\n{\n    items.Remove(item);\n}\n",
			want: 0,
		},
		{
			name: "large byte buffer",
			rule: "oversized-allocation",
			text: "var buffer = new byte[100000];\n",
			want: 1, line: 1,
		},
		{
			name: "small byte buffer",
			rule: "oversized-allocation",
			text: "var buffer = new byte[1024];\n",
			want: 0,
		},
		{
			name: "custom threshold counts element size",
			rule: "oversized-allocation",
			text: "var ids = new int[300];\n",
			settings: Settings{OversizedAllocationBytes: 1000},
			want: 1, line: 1,
		},
		{
			name: "client per call",
			rule: "connection-pool-exhaustion",
			text: "public void Send()\n{\n    using var client = new HttpClient();\n}\n",
			want: 1, line: 3,
		},
		{
			name: "shared client",
			rule: "connection-pool-exhaustion",
			text: "private static readonly HttpClient Client = new HttpClient();\n",
			want: 0,
		},
		{
			name: "catch all exceptions and continue",
			rule: "broad-catch",
			text: "try\n{\n    Run();\n}\ncatch (Exception ex)\n{\n    _logger.Log(ex);\n}\n",
			want: 1, line: 5,
		},
		{
			name: "catch all exceptions and rethrow",
			rule: "broad-catch",
			text: "try\n{\n    Run();\n}\ncatch (Exception ex)\n{\n    _logger.Log(ex);\n    throw;\n}\n",
			want: 0,
		},
		{
			name: "catch specific exception",
			rule: "broad-catch",
			text: "try\n{\n    Run();\n}\ncatch (IOException ex)\n{\n    _logger.Log(ex);\n}\n",
			want: 0,
		},
		{
			name: "python broad except",
			rule: "broad-catch",
			text: "try:\n    run()\nexcept Exception as e:\n    log(e)\n",
			want: 1, line: 3,
		},
		{
			name: "hardcoded url",
			rule: "hardcoded-endpoint",
			text: "var url = \"https://api.contoso.com/v1/orders\";\n",
			want: 1, line: 1,
		},
		{
			name: "url in comment",
			rule: "hardcoded-endpoint",
			text: "// see \"https://api.contoso.com/v1/orders\"\n",
			want: 0,
		},
		{
			name: "schema namespace",
			rule: "hardcoded-endpoint",
			text: "var ns = \"http://www.w3.org/2001/XMLSchema\";\n",
			want: 0,
		},
		{
			name: "file read without existence check",
			rule: "filesystem-dependency",
			text: "var text = File.ReadAllText(\"settings.json\");\n",
			want: 1, line: 1,
		},
		{
			name: "file read after existence check",
			rule: "filesystem-dependency",
			text: "if (File.Exists(path))\n{\n    var text = File.ReadAllText(path);\n}\n",
			want: 0,
		},
		{
			name: "configuration index without fallback",
			rule: "unchecked-config-access",
			text: "var cs = Configuration[\"ConnectionStrings:Main\"];\n",
			want: 1, line: 1,
		},
		{
			name: "configuration index with fallback",
			rule: "unchecked-config-access",
			text: "var cs = Configuration[\"Main\"] ?? \"fallback\";\n",
			want: 0,
		},
		{
			name: "environment variable without fallback",
			rule: "unchecked-config-access",
			text: "var key = Environment.GetEnvironmentVariable(\"API_KEY\");\n",
			want: 1, line: 1,
		},
		{
			name: "query per loop iteration",
			rule: "n-plus-one-query",
			text: "foreach (var id in ids)\n{\n    var order = await db.Orders.FindAsync(id);\n}\n",
			want: 1, line: 3,
		},
		{
			name: "query outside loop",
			rule: "n-plus-one-query",
			text: "var order = await db.Orders.FindAsync(id);\n",
			want: 0,
		},
		{
			name: "index without bounds check",
			rule: "unbounded-index-access",
			text: "public string First(string[] args)\n{\n    return args[0] + args[1];\n}\n",
			want: 1, line: 3,
		},
		{
			name: "index after length check",
			rule: "unbounded-index-access",
			text: "public string First(string[] args)\n{\n    if (args.Length > 0) return args[0];\n    return \"\";\n}\n",
			want: 0,
		},
		{
			name: "string parameter dereferenced",
			rule: "missing-null-parameter-guard",
			text: "public int Measure(string text)\n{\n    return text.Length;\n}\n",
			want: 1, line: 1,
		},
		{
			name: "string parameter guarded",
			rule: "missing-null-parameter-guard",
			text: "public int Measure(string text)\n{\n    ArgumentNullException.ThrowIfNull(text);\n    return text.Length;\n}\n",
			want: 0,
		},
		{
			name: "nullable string parameter",
			rule: "missing-null-parameter-guard",
			text: "public int Measure(string? text)\n{\n    return text.Length;\n}\n",
			want: 0,
		},
		{
			name: "int parse",
			rule: "unguarded-numeric-parse",
			text: "var n = int.Parse(input);\n",
			want: 1, line: 1,
		},
		{
			name: "int try parse",
			rule: "unguarded-numeric-parse",
			text: "if (!int.TryParse(input, out var n)) return;\n",
			want: 0,
		},
		{
			name: "go parse with discarded error",
			rule: "unguarded-numeric-parse",
			text: "n, _ := strconv.Atoi(s)\n",
			want: 1, line: 1,
		},
		{
			name: "go parse with checked error",
			rule: "unguarded-numeric-parse",
			text: "n, err := strconv.Atoi(s)\n",
			want: 0,
		},
		{
			name: "division by variable",
			rule: "unguarded-division",
			text: "return a / b;",
			want: 1, line: 1,
		},
		{
			name: "division after zero check",
			rule: "unguarded-division",
			text: "if (b == 0) return 0;\nreturn a / b;\n",
			want: 0,
		},
		{
			name: "division by literal",
			rule: "unguarded-division",
			text: "var half = total / 2;\n",
			want: 0,
		},
		{
			name: "empty catch",
			rule: "empty-catch",
			text: "try { Run(); } catch (Exception) { }\n",
			want: 1, line: 1,
		},
		{
			name: "bare empty catch",
			rule: "empty-catch",
			text: "try\n{\n    Run();\n}\ncatch\n{\n}\n",
			want: 1, line: 5,
		},
		{
			name: "python except pass",
			rule: "empty-catch",
			text: "try:\n    run()\nexcept:\n    pass\n",
			want: 1, line: 3,
		},
		{
			name: "go swallowed error",
			rule: "empty-catch",
			text: "if err != nil {}\n",
			want: 1, line: 1,
		},
		{
			name: "catch that logs",
			rule: "empty-catch",
			text: "try { Run(); } catch (Exception ex) { Log(ex); }\n",
			want: 0,
		},
		{
			name: "async void method",
			rule: "async-void",
			text: "public async void Fire()\n{\n    await Send();\n}\n",
			want: 1, line: 1,
		},
		{
			name: "async void event handler",
			rule: "async-void",
			text: "private async void OnLoad(object sender, EventArgs e)\n{\n    await Send();\n}\n",
			want: 0,
		},
		{
			name: "throw caught exception",
			rule: "rethrow-loses-stack",
			text: "try\n{\n    Run();\n}\ncatch (IOException ex)\n{\n    Log(ex);\n    throw ex;\n}\n",
			want: 1, line: 8,
		},
		{
			name: "bare rethrow",
			rule: "rethrow-loses-stack",
			text: "try\n{\n    Run();\n}\ncatch (IOException ex)\n{\n    Log(ex);\n    throw;\n}\n",
			want: 0,
		},
		{
			name: "fire and forget task",
			rule: "unobserved-task",
			text: "public void Start()\n{\n    Task.Run(() => Work());\n}\n",
			want: 1, line: 3,
		},
		{
			name: "awaited task",
			rule: "unobserved-task",
			text: "public async Task Start()\n{\n    await Task.Run(() => Work());\n}\n",
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := runRule(t, tt.rule, tt.text, tt.settings)
			require.Len(t, got, tt.want)
			if tt.want == 0 {
				return
			}
			f := got[0]
			switch f.Kind() {
			case findings.KindRuntimeIssue:
				assert.Equal(t, tt.line, f.Issue.Line)
				assert.Equal(t, "Sample.cs", f.Issue.File)
				assert.NotEmpty(t, f.Issue.Description)
				assert.NotEmpty(t, f.Issue.Proof.SimulatedStep)
				assert.NotEmpty(t, f.Issue.Solution.Fix)
			case findings.KindEnvironmentRisk:
				assert.Equal(t, tt.line, f.Risk.Line)
				assert.NotEmpty(t, f.Risk.Component)
				assert.NotEmpty(t, f.Risk.Mitigation.RequiredChanges)
				assert.NotEmpty(t, f.Risk.Mitigation.Monitoring)
			case findings.KindEdgeCaseFailure:
				assert.Equal(t, tt.line, f.EdgeCase.Line)
				assert.NotEmpty(t, f.EdgeCase.Input)
				assert.NotEmpty(t, f.EdgeCase.Fix)
			default:
				t.Fatalf("finding without payload: %+v", f)
			}
		})
	}
}

func TestRules_DivisionDetails(t *testing.T) {
	got := runRule(t, "unguarded-division", "return a / b;", Settings{})
	require.Len(t, got, 1)
	require.Equal(t, findings.KindEdgeCaseFailure, got[0].Kind())
	assert.Equal(t, findings.SeverityHigh, got[0].EdgeCase.Severity)
	assert.Contains(t, got[0].EdgeCase.ExpectedFailure, "divide-by-zero")
	assert.Equal(t, "b = 0", got[0].EdgeCase.Input)
}

func TestRules_NumericParseMentionsNonNumeric(t *testing.T) {
	got := runRule(t, "unguarded-numeric-parse", "var n = int.Parse(input);", Settings{})
	require.Len(t, got, 1)
	assert.Contains(t, got[0].EdgeCase.Input, "non-numeric")
}

func TestRules_EmptyCatchIsSilentFailure(t *testing.T) {
	got := runRule(t, "empty-catch", "try { Run(); } catch (Exception) { }", Settings{})
	require.Len(t, got, 1)
	assert.Equal(t, findings.SeverityHigh, got[0].Issue.Severity)
	assert.Equal(t, findings.IssueIncorrectOutput, got[0].Issue.Type)
	assert.Contains(t, got[0].Issue.Description, "silent failure")
}

func TestRules_RiskLikelihoodFollowsSeverity(t *testing.T) {
	got := runRule(t, "filesystem-dependency", `var text = File.ReadAllText("settings.json");`, Settings{})
	require.Len(t, got, 1)
	assert.Equal(t, findings.LikelihoodHigh, got[0].Risk.Likelihood)
	assert.Equal(t, findings.RiskDependency, got[0].Risk.Category)

	got = runRule(t, "hardcoded-endpoint", `var url = "https://api.contoso.com/v1";`, Settings{})
	require.Len(t, got, 1)
	assert.Equal(t, "api.contoso.com", got[0].Risk.Component)
	assert.Equal(t, findings.LikelihoodMedium, got[0].Risk.Likelihood)
}

func TestRules_CleanMethodHasNoFindings(t *testing.T) {
	text := "public class Greeter\n{\n    public string Greet()\n    {\n        return \"Hello, world!\";\n    }\n}\n"
	for _, rule := range Default().Rules() {
		t.Run(rule.ID, func(t *testing.T) {
			assert.Empty(t, runRule(t, rule.ID, text, Settings{}))
		})
	}
}

func TestEnv_TimeoutLatches(t *testing.T) {
	rule, ok := Default().Lookup("unguarded-division")
	require.True(t, ok)

	text := strings.Repeat("var x = total / count + other / more;\n", 100000)
	src := NewSource("big.cs", text, lineindex.New(lineindex.WithCapacity(0)))
	env := NewEnv(src, rule, match.New(time.Nanosecond), Settings{})

	rule.Run(context.Background(), env)
	require.ErrorIs(t, env.Err(), match.ErrMatchTimeout)

	// Once latched, no further matching is attempted.
	assert.False(t, env.Match(reAwait, "await x"))
	assert.Nil(t, env.FindAll(reAwait, "await x"))
	assert.Nil(t, env.Find(reAwait, "await x"))
}

func TestRule_RunStopsOnCancel(t *testing.T) {
	rule, ok := Default().Lookup("unchecked-null-assignment")
	require.True(t, ok)

	src := NewSource("", strings.Repeat("_x = null;\n", 10), nil)
	env := NewEnv(src, rule, nil, Settings{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, rule.Run(ctx, env))
}
