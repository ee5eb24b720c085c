// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer runs the detector catalog over source text.
//
// # Description
//
// An Analyzer executes the five detector phases strictly in order over one
// source and aggregates the findings into a findings.Result. Identifiers
// are drawn from an ids.Allocator as findings are aggregated, so detectors
// stay pure. The file, batch and directory entry points read sources from
// disk, attach labels and stamp run metadata.
//
// # Cancellation
//
// The context is polled between phases, between lines during static
// review and between files in a batch. A running pattern match is never
// preempted; it is bounded by the match timeout instead. A match that
// times out discards that rule's findings for the source and is recorded
// as a partial failure in the result metadata.
//
// # Thread Safety
//
// Analyzer is safe for concurrent use. Every call builds its own Result.
package analyzer
