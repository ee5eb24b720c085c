// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package detectors holds the rule catalog of the runtime scanner.
//
// # Description
//
// A Rule inspects a Source and returns findings for one kind of runtime
// hazard. Rules are grouped into five phases that the analyzer runs in
// order: static review (per line), runtime simulation, environment, edge
// cases and error propagation. Matching is heuristic and text based; no
// syntax tree is built. Structural patterns are matched on a code view of
// the source in which comments and string contents are blanked, so
// offsets and line numbers stay aligned with the raw text.
//
// # Pattern Evaluation
//
// Every pattern a rule evaluates goes through its Env, which bounds each
// evaluation with a match.Matcher. When an evaluation times out the Env
// latches the error and the analyzer discards that rule's findings for the
// source.
//
// # Thread Safety
//
// Catalogs, rules and sources are immutable and safe for concurrent use.
// An Env belongs to a single rule invocation.
package detectors
