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
	"regexp"

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
	"github.com/AleutianAI/runtimescan/services/scanner/match"
)

// Phase is one of the five ordered analysis phases.
type Phase int

const (
	// PhaseStaticReview checks each line of the source independently.
	PhaseStaticReview Phase = iota

	// PhaseRuntimeSimulation looks for behavior that only shows up when
	// the code runs: concurrency, allocation and async hazards.
	PhaseRuntimeSimulation

	// PhaseEnvironment looks for dependencies on the machine the code runs on.
	PhaseEnvironment

	// PhaseEdgeCase looks for inputs the code does not handle.
	PhaseEdgeCase

	// PhaseErrorPropagation looks for errors that are lost or obscured.
	PhaseErrorPropagation
)

// Phases lists every phase in execution order.
var Phases = []Phase{
	PhaseStaticReview,
	PhaseRuntimeSimulation,
	PhaseEnvironment,
	PhaseEdgeCase,
	PhaseErrorPropagation,
}

// String returns the phase name used in logs, spans and metrics.
func (p Phase) String() string {
	switch p {
	case PhaseStaticReview:
		return "static_review"
	case PhaseRuntimeSimulation:
		return "runtime_simulation"
	case PhaseEnvironment:
		return "environment"
	case PhaseEdgeCase:
		return "edge_case"
	case PhaseErrorPropagation:
		return "error_propagation"
	default:
		return "unknown"
	}
}

// LineFunc inspects one line of a source.
type LineFunc func(env *Env, line Line) []findings.Finding

// ScanFunc inspects a whole source.
type ScanFunc func(env *Env) []findings.Finding

// Rule is one detector in the catalog.
//
// Exactly one of Line and Scan is set. Static review rules use Line and
// are invoked once per line; every other phase uses Scan. Rules are pure:
// they read the Env and return findings without identifiers.
type Rule struct {
	// ID is the stable rule identifier, e.g. "empty-catch".
	ID string

	// Phase is the phase the rule runs in.
	Phase Phase

	// Kind is the kind of finding the rule emits.
	Kind findings.Kind

	// Severity is the default severity of emitted findings. Environment
	// risks carry the likelihood derived from it.
	Severity findings.Severity

	// Description is a one-line summary for listings.
	Description string

	Line LineFunc
	Scan ScanFunc
}

// Run invokes the rule against env.
//
// Line rules are invoked per line and stop early when ctx is cancelled or
// a match times out. The returned findings must be discarded when
// env.Err() is non-nil afterwards.
func (r *Rule) Run(ctx context.Context, env *Env) []findings.Finding {
	env.ctx = ctx
	if r.Scan != nil {
		return r.Scan(env)
	}
	if r.Line == nil {
		return nil
	}
	var out []findings.Finding
	for _, line := range env.Source.Lines() {
		if ctx.Err() != nil || env.Err() != nil {
			break
		}
		out = append(out, r.Line(env, line)...)
	}
	return out
}

// Settings carries the tunable thresholds of the catalog.
type Settings struct {
	// OversizedAllocationBytes is the allocation size at or above which
	// oversized-allocation reports. Zero uses DefaultOversizedAllocationBytes.
	OversizedAllocationBytes int64
}

// DefaultOversizedAllocationBytes is the large object heap threshold.
const DefaultOversizedAllocationBytes = 85000

func (s Settings) oversizedBytes() int64 {
	if s.OversizedAllocationBytes <= 0 {
		return DefaultOversizedAllocationBytes
	}
	return s.OversizedAllocationBytes
}

// Env is the per-invocation context of one rule against one source.
//
// Description:
//
//	All pattern matching of a rule goes through its Env so each match is
//	bounded by the matcher timeout. The first failure is latched: later
//	calls return no matches at once and Err reports the failure, which
//	tells the caller to drop the invocation's findings. Cancellation of
//	the context passed to Rule.Run is latched the same way.
//
// Thread Safety:
//
//	Not safe for concurrent use. Create one Env per rule invocation.
type Env struct {
	Source   *Source
	Settings Settings
	Rule     *Rule

	matcher *match.Matcher
	ctx     context.Context
	err     error
}

// NewEnv creates the environment for one rule invocation.
func NewEnv(src *Source, rule *Rule, m *match.Matcher, settings Settings) *Env {
	if m == nil {
		m = match.New(0)
	}
	return &Env{Source: src, Settings: settings, Rule: rule, matcher: m}
}

// Err returns the first matching failure, if any.
func (e *Env) Err() error {
	return e.err
}

// stopped latches cancellation and reports whether matching must stop.
func (e *Env) stopped() bool {
	if e.err == nil && e.ctx != nil {
		e.err = e.ctx.Err()
	}
	return e.err != nil
}

// Match reports whether re matches s.
func (e *Env) Match(re *regexp.Regexp, s string) bool {
	if e.stopped() {
		return false
	}
	ok, err := e.matcher.MatchString(re, s)
	if err != nil {
		e.err = err
		return false
	}
	return ok
}

// FindAll returns the submatch index pairs of every match of re in s.
func (e *Env) FindAll(re *regexp.Regexp, s string) [][]int {
	if e.stopped() {
		return nil
	}
	idx, err := e.matcher.FindAllStringSubmatchIndex(re, s)
	if err != nil {
		e.err = err
		return nil
	}
	return idx
}

// Find returns the leftmost match of re in s and its submatches.
func (e *Env) Find(re *regexp.Regexp, s string) []string {
	if e.stopped() {
		return nil
	}
	sub, err := e.matcher.FindStringSubmatch(re, s)
	if err != nil {
		e.err = err
		return nil
	}
	return sub
}
