// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package match runs regular expressions under a wall-clock bound.
//
// # Description
//
// Every pattern evaluation performed by a detector goes through a Matcher.
// The evaluation runs on its own goroutine; if it has not finished when the
// timeout expires the Matcher returns ErrMatchTimeout and the caller treats
// the rule as having found nothing. The abandoned evaluation completes in
// the background (RE2 matching is linear in the input, so it always ends)
// and its result is dropped.
//
// # Thread Safety
//
// Matcher is safe for concurrent use.
package match

import (
	"errors"
	"regexp"
	"time"
)

// DefaultTimeout bounds a single pattern evaluation.
const DefaultTimeout = time.Second

// ErrMatchTimeout indicates a pattern evaluation exceeded its bound.
var ErrMatchTimeout = errors.New("pattern match timed out")

// Matcher evaluates regular expressions with a per-evaluation timeout.
type Matcher struct {
	timeout time.Duration
}

// New creates a matcher. A non-positive timeout selects DefaultTimeout.
func New(timeout time.Duration) *Matcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Matcher{timeout: timeout}
}

// Timeout returns the bound applied to each evaluation.
func (m *Matcher) Timeout() time.Duration {
	return m.timeout
}

// MatchString reports whether re matches s.
func (m *Matcher) MatchString(re *regexp.Regexp, s string) (bool, error) {
	return bounded(m.timeout, func() bool { return re.MatchString(s) })
}

// FindAllStringIndex returns the index pairs of all matches of re in s.
func (m *Matcher) FindAllStringIndex(re *regexp.Regexp, s string) ([][]int, error) {
	return bounded(m.timeout, func() [][]int { return re.FindAllStringIndex(s, -1) })
}

// FindAllStringSubmatchIndex returns the submatch index slices of all
// matches of re in s.
func (m *Matcher) FindAllStringSubmatchIndex(re *regexp.Regexp, s string) ([][]int, error) {
	return bounded(m.timeout, func() [][]int { return re.FindAllStringSubmatchIndex(s, -1) })
}

// FindStringSubmatch returns the leftmost match of re in s and its
// submatches, or nil.
func (m *Matcher) FindStringSubmatch(re *regexp.Regexp, s string) ([]string, error) {
	return bounded(m.timeout, func() []string { return re.FindStringSubmatch(s) })
}

// bounded runs fn on a goroutine and waits at most timeout for it.
func bounded[T any](timeout time.Duration, fn func() T) (T, error) {
	done := make(chan T, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-done:
		return v, nil
	case <-timer.C:
		var zero T
		return zero, ErrMatchTimeout
	}
}
