// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lineindex maps byte offsets in source text to line numbers.
//
// # Description
//
// For every distinct source content the index builds, once, the sorted table
// of offsets at which each line starts, and caches it under a BLAKE3 hash of
// the content. Lookups are a binary search over the cached table. Tables are
// immutable once built, so entries never need invalidation; the cache only
// evicts least-recently-used entries to stay within its capacity.
//
// When no cache entry is available (capacity zero, or the entry was evicted
// between build and lookup) LineOf falls back to a linear scan that yields
// the same answer.
//
// # Thread Safety
//
// Index is safe for concurrent use. Concurrent first lookups of the same
// content share a single build.
package lineindex

import (
	"container/list"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"
)

// DefaultCapacity is the number of distinct contents the default index keeps.
const DefaultCapacity = 256

// Key identifies a source content.
type Key [32]byte

// KeyOf hashes content into its cache key.
func KeyOf(content string) Key {
	return blake3.Sum256([]byte(content))
}

// String returns the hex form of the key.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Table is the sorted list of line-start offsets of one content.
//
// Thread Safety: Immutable after creation.
type Table struct {
	starts []int
	size   int
}

// Build computes the line table of content.
func Build(content string) *Table {
	starts := make([]int, 1, strings.Count(content, "\n")+1)
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &Table{starts: starts, size: len(content)}
}

// LineOf returns the 1-based line containing offset.
//
// Offsets below zero map to line 1, offsets past the end to the last line.
func (t *Table) LineOf(offset int) int {
	offset = clamp(offset, t.size)
	return sort.Search(len(t.starts), func(i int) bool { return t.starts[i] > offset })
}

// Lines returns the number of lines in the content.
func (t *Table) Lines() int {
	return len(t.starts)
}

// Start returns the offset at which the given 1-based line starts.
func (t *Table) Start(line int) int {
	if line < 1 {
		return 0
	}
	if line > len(t.starts) {
		return t.size
	}
	return t.starts[line-1]
}

// LineOfLinear computes the line of offset by scanning content.
//
// It is the uncached path and agrees with Table.LineOf for every offset.
func LineOfLinear(content string, offset int) int {
	offset = clamp(offset, len(content))
	return 1 + strings.Count(content[:offset], "\n")
}

func clamp(offset, size int) int {
	if offset < 0 {
		return 0
	}
	if offset > size {
		return size
	}
	return offset
}

// Stats reports cache activity.
type Stats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
}

type entry struct {
	key   Key
	table *Table
}

// Index is a content-addressed LRU cache of line tables.
//
// Thread Safety:
//
//	Safe for concurrent use. The entry map and LRU list are guarded by mu;
//	builds run outside the lock and are deduplicated with singleflight.
type Index struct {
	mu       sync.Mutex
	entries  map[Key]*list.Element
	lru      *list.List
	capacity int
	flight   singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Option configures an Index.
type Option func(*Index)

// WithCapacity sets the maximum number of cached contents. Zero disables
// caching; every lookup then takes the linear path.
func WithCapacity(n int) Option {
	return func(ix *Index) {
		if n >= 0 {
			ix.capacity = n
		}
	}
}

// New creates an empty index.
func New(opts ...Option) *Index {
	ix := &Index{
		entries:  make(map[Key]*list.Element),
		lru:      list.New(),
		capacity: DefaultCapacity,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

var defaultIndex = New()

// Default returns the process-wide index shared by all analyses.
func Default() *Index {
	return defaultIndex
}

// LineOf returns the 1-based line of offset within content.
//
// Description:
//
//	Hashes content, finds or builds its line table and binary-searches it.
//	Callers that resolve many offsets of the same content should use
//	Resolver to hash only once.
//
// Inputs:
//
//	content - The source text.
//	offset - Byte offset into content.
//
// Outputs:
//
//	int - The 1-based line number.
func (ix *Index) LineOf(content string, offset int) int {
	return ix.Resolver(content).LineOf(offset)
}

// Resolver returns a line resolver bound to content.
func (ix *Index) Resolver(content string) *Resolver {
	key := KeyOf(content)
	return &Resolver{content: content, table: ix.table(key, content)}
}

// Lookup returns the cached table for content without building it.
func (ix *Index) Lookup(content string) (*Table, bool) {
	return ix.get(KeyOf(content))
}

// Stats returns a snapshot of cache counters.
func (ix *Index) Stats() Stats {
	ix.mu.Lock()
	n := len(ix.entries)
	ix.mu.Unlock()
	return Stats{
		Entries:   n,
		Hits:      ix.hits.Load(),
		Misses:    ix.misses.Load(),
		Evictions: ix.evictions.Load(),
	}
}

// table returns the cached table for key, building and caching it on a
// miss. Returns nil when caching is disabled.
func (ix *Index) table(key Key, content string) *Table {
	if ix.capacity == 0 {
		return nil
	}
	if t, ok := ix.get(key); ok {
		ix.hits.Add(1)
		return t
	}
	ix.misses.Add(1)

	v, _, _ := ix.flight.Do(string(key[:]), func() (interface{}, error) {
		if t, ok := ix.get(key); ok {
			return t, nil
		}
		t := Build(content)
		ix.put(key, t)
		return t, nil
	})
	return v.(*Table)
}

func (ix *Index) get(key Key) (*Table, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	el, ok := ix.entries[key]
	if !ok {
		return nil, false
	}
	ix.lru.MoveToFront(el)
	return el.Value.(*entry).table, true
}

func (ix *Index) put(key Key, t *Table) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if el, ok := ix.entries[key]; ok {
		ix.lru.MoveToFront(el)
		return
	}
	for len(ix.entries) >= ix.capacity {
		oldest := ix.lru.Back()
		if oldest == nil {
			break
		}
		ix.lru.Remove(oldest)
		delete(ix.entries, oldest.Value.(*entry).key)
		ix.evictions.Add(1)
	}
	ix.entries[key] = ix.lru.PushFront(&entry{key: key, table: t})
}

// Resolver resolves offsets of one content.
//
// Thread Safety: Immutable, safe for concurrent use.
type Resolver struct {
	content string
	table   *Table
}

// LineOf returns the 1-based line of offset, falling back to a linear scan
// when no table is held.
func (r *Resolver) LineOf(offset int) int {
	if r.table == nil {
		return LineOfLinear(r.content, offset)
	}
	return r.table.LineOf(offset)
}

// Cached reports whether the resolver is backed by a line table.
func (r *Resolver) Cached() bool {
	return r.table != nil
}
