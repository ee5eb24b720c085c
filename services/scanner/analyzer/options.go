// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/AleutianAI/runtimescan/services/scanner/detectors"
	"github.com/AleutianAI/runtimescan/services/scanner/ids"
	"github.com/AleutianAI/runtimescan/services/scanner/lineindex"
	"github.com/AleutianAI/runtimescan/services/scanner/match"
)

// Version is the analyzer version stamped into result metadata.
const Version = "1.4.0"

// DefaultMaxFileBytes is the largest file the file entry points read.
const DefaultMaxFileBytes = 10 << 20

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger for skipped files and detector timeouts.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAllocator sets the identifier source shared by every call.
func WithAllocator(alloc ids.Allocator) Option {
	return func(a *Analyzer) {
		if alloc != nil {
			a.alloc = alloc
			a.scopedIDs = false
		}
	}
}

// WithScopedIDs gives every top-level call its own counter starting at 1.
// A batch shares one counter across its files.
func WithScopedIDs() Option {
	return func(a *Analyzer) {
		a.scopedIDs = true
	}
}

// WithLineIndex sets the line index used for offset lookups.
func WithLineIndex(ix *lineindex.Index) Option {
	return func(a *Analyzer) {
		if ix != nil {
			a.index = ix
		}
	}
}

// WithMatchTimeout bounds each pattern evaluation. Non-positive values
// select match.DefaultTimeout.
func WithMatchTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		a.matcher = match.New(d)
	}
}

// WithCatalog replaces the built-in detector catalog.
func WithCatalog(c *detectors.Catalog) Option {
	return func(a *Analyzer) {
		if c != nil {
			a.catalog = c
		}
	}
}

// WithSettings sets the detector thresholds.
func WithSettings(s detectors.Settings) Option {
	return func(a *Analyzer) {
		a.settings = s
	}
}

// WithMaxFileBytes limits the size of files read from disk.
func WithMaxFileBytes(n int64) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.maxFileBytes = n
		}
	}
}

// WithWorkers limits how many files a batch analyzes concurrently.
func WithWorkers(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithVersion overrides the version stamped into metadata.
func WithVersion(v string) Option {
	return func(a *Analyzer) {
		if v != "" {
			a.version = v
		}
	}
}

func defaultWorkers() int {
	n := runtime.GOMAXPROCS(0)
	if n > 8 {
		n = 8
	}
	return n
}
