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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/runtimescan/services/scanner/detectors"
	"github.com/AleutianAI/runtimescan/services/scanner/findings"
	"github.com/AleutianAI/runtimescan/services/scanner/ids"
	"github.com/AleutianAI/runtimescan/services/scanner/lineindex"
	"github.com/AleutianAI/runtimescan/services/scanner/match"
)

// Analyzer runs the detector catalog over sources.
//
// Thread Safety:
//
//	Safe for concurrent use. Configuration is fixed at construction.
type Analyzer struct {
	logger       *slog.Logger
	alloc        ids.Allocator
	scopedIDs    bool
	index        *lineindex.Index
	matcher      *match.Matcher
	catalog      *detectors.Catalog
	settings     detectors.Settings
	maxFileBytes int64
	workers      int
	version      string
	now          func() time.Time
}

// New creates an Analyzer.
//
// Description:
//
//	Without options the analyzer uses the built-in catalog, the
//	process-wide identifier counter, the shared line index, a one second
//	match timeout and slog.Default for warnings.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		logger:       slog.Default(),
		alloc:        ids.Process(),
		index:        lineindex.Default(),
		matcher:      match.New(0),
		catalog:      detectors.Default(),
		maxFileBytes: DefaultMaxFileBytes,
		workers:      defaultWorkers(),
		version:      Version,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Catalog returns the catalog the analyzer runs.
func (a *Analyzer) Catalog() *detectors.Catalog {
	return a.catalog
}

// allocator returns the identifier source for one top-level call.
func (a *Analyzer) allocator() ids.Allocator {
	if a.scopedIDs {
		return ids.NewCounter()
	}
	return a.alloc
}

// AnalyzeSource analyzes one source text.
//
// Inputs:
//
//	ctx - Context for cancellation, polled between phases and lines.
//	text - The source text. Must not be empty.
//	label - The file label attached to findings. May be empty.
//
// Outputs:
//
//	*findings.Result - The complete result.
//	error - Wraps findings.ErrInvalidInput for empty text, or the context
//	        error when cancelled.
func (a *Analyzer) AnalyzeSource(ctx context.Context, text, label string) (*findings.Result, error) {
	if text == "" {
		return nil, fmt.Errorf("analyze source: %w: empty source text", findings.ErrInvalidInput)
	}
	start := a.now()
	res, err := a.analyze(ctx, text, label, a.allocator())
	if err != nil {
		return nil, err
	}
	a.stamp(res, start)
	return res, nil
}

// stamp sets the run metadata of a result produced by a top-level call.
func (a *Analyzer) stamp(res *findings.Result, start time.Time) {
	res.Metadata.RunID = uuid.NewString()
	res.Metadata.Timestamp = start.UTC()
	res.Metadata.Duration = a.now().Sub(start)
	res.Metadata.AnalyzerVersion = a.version
}

// hit is a finding tagged with the position of the rule that produced it.
type hit struct {
	rule    int
	finding findings.Finding
}

// analyze runs every phase over one source. The returned result carries
// findings, the analyzed label and partial failures; run metadata is left
// to the caller.
func (a *Analyzer) analyze(ctx context.Context, text, label string, alloc ids.Allocator) (*findings.Result, error) {
	ctx, span := startAnalyzeSpan(ctx, label, len(text))
	defer span.End()
	started := time.Now()

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return nil, fmt.Errorf("analyze %s: %w", displayLabel(label), err)
	}
	src := detectors.NewSource(label, text, a.index)
	b := findings.NewBuilder()

	for _, phase := range detectors.Phases {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, fmt.Errorf("analyze %s: %w", displayLabel(label), err)
		}
		if err := a.runPhase(ctx, phase, src, b, alloc); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, fmt.Errorf("analyze %s: %w", displayLabel(label), err)
		}
	}

	meta := findings.Metadata{AnalyzedFiles: []string{}}
	if label != "" {
		meta.AnalyzedFiles = append(meta.AnalyzedFiles, label)
	}
	res := b.Build(meta)

	setAnalyzeSpanResult(span, res)
	recordAnalysis(ctx, time.Since(started), res)
	return res, nil
}

// runPhase runs the rules of one phase and adds their findings to b in
// rule execution order.
func (a *Analyzer) runPhase(ctx context.Context, phase detectors.Phase, src *detectors.Source, b *findings.Builder, alloc ids.Allocator) error {
	rules := a.catalog.Phase(phase)
	if len(rules) == 0 {
		return nil
	}
	ctx, span := startPhaseSpan(ctx, phase, len(rules))
	defer span.End()

	envs := make([]*detectors.Env, len(rules))
	for i, r := range rules {
		envs[i] = detectors.NewEnv(src, r, a.matcher, a.settings)
	}

	var hits []hit
	if phase == detectors.PhaseStaticReview {
		// Line-major: every line rule sees line n before any sees line n+1.
		for _, line := range src.Lines() {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i, r := range rules {
				if envs[i].Err() != nil || r.Line == nil {
					continue
				}
				for _, f := range r.Line(envs[i], line) {
					hits = append(hits, hit{rule: i, finding: f})
				}
			}
		}
	} else {
		for i, r := range rules {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, f := range r.Run(ctx, envs[i]) {
				hits = append(hits, hit{rule: i, finding: f})
			}
		}
	}
	// A rule cut short by cancellation is not a partial failure.
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, env := range envs {
		if err := env.Err(); err != nil {
			a.logger.Warn("detector did not complete, findings discarded",
				slog.String("rule", rules[i].ID),
				slog.String("phase", phase.String()),
				slog.String("file", displayLabel(src.Label)),
				slog.String("error", err.Error()),
			)
			b.AddPartialFailure(findings.PartialFailure{
				Detector: rules[i].ID,
				File:     src.Label,
				Reason:   err.Error(),
			})
			recordDetectorTimeout(ctx, rules[i].ID)
		}
	}

	added := 0
	for _, h := range hits {
		if envs[h.rule].Err() != nil {
			continue
		}
		b.Add(h.finding.WithID(alloc.Next()))
		recordFinding(rules[h.rule].ID)
		added++
	}
	setPhaseSpanResult(span, added)
	return nil
}

func displayLabel(label string) string {
	if label == "" {
		return "<source>"
	}
	return label
}
