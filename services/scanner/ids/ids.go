// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ids issues unique finding identifiers.
//
// # Description
//
// Every finding carries an integer id. Ids come from an Allocator, which
// guarantees strictly increasing values that are never reused, even when the
// caller discards the finding it allocated an id for.
//
// Process returns the process-wide allocator used by default; NewCounter
// returns an explicitly scoped allocator for callers that only need ids to
// be unique within one result.
//
// # Thread Safety
//
// All allocators in this package are safe for concurrent use.
package ids

import (
	"sync/atomic"
)

// Allocator issues unique, strictly increasing identifiers.
type Allocator interface {
	// Next returns the next identifier. Never returns the same value twice.
	Next() int64
}

// Counter is an atomic Allocator. The zero value is ready to use and
// starts at 1.
//
// Thread Safety: Safe for concurrent use.
type Counter struct {
	last atomic.Int64
}

// NewCounter creates a counter whose first id is 1.
func NewCounter() *Counter {
	return &Counter{}
}

// Next returns the next identifier.
func (c *Counter) Next() int64 {
	return c.last.Add(1)
}

// Last returns the most recently issued identifier, or 0 if none.
func (c *Counter) Last() int64 {
	return c.last.Load()
}

var process Counter

// Process returns the process-wide allocator.
//
// Ids issued by it are unique for the lifetime of the process across every
// analysis call.
func Process() Allocator {
	return &process
}

var _ Allocator = (*Counter)(nil)
