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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/runtimescan/services/scanner/detectors"
	"github.com/AleutianAI/runtimescan/services/scanner/findings"
)

// Package-level tracer and meter for analyzer operations.
var (
	tracer = otel.Tracer("runtimescan.analyzer")
	meter  = otel.Meter("runtimescan.analyzer")
)

// Prometheus collectors, served on /metrics.
var (
	findingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runtimescan",
		Name:      "findings_total",
		Help:      "Findings reported, by rule",
	}, []string{"rule"})

	detectorTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runtimescan",
		Name:      "detector_timeouts_total",
		Help:      "Detector invocations discarded after a pattern match timeout, by rule",
	}, []string{"rule"})

	skippedFilesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "runtimescan",
		Name:      "skipped_files_total",
		Help:      "Files skipped by batch analysis",
	})
)

// OpenTelemetry instruments.
var (
	analysisLatency metric.Float64Histogram
	analysisTotal   metric.Int64Counter
	findingsFound   metric.Int64Histogram
	timeoutsTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		analysisLatency, err = meter.Float64Histogram(
			"runtimescan_analysis_duration_seconds",
			metric.WithDescription("Duration of single source analyses"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		analysisTotal, err = meter.Int64Counter(
			"runtimescan_analysis_total",
			metric.WithDescription("Total number of single source analyses"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		findingsFound, err = meter.Int64Histogram(
			"runtimescan_analysis_findings",
			metric.WithDescription("Number of findings per analysis"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		timeoutsTotal, err = meter.Int64Counter(
			"runtimescan_detector_timeouts",
			metric.WithDescription("Detector invocations that timed out"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startAnalyzeSpan creates a span for one source analysis.
func startAnalyzeSpan(ctx context.Context, label string, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Analyzer.Analyze",
		trace.WithAttributes(
			attribute.String("analyzer.label", displayLabel(label)),
			attribute.Int("analyzer.bytes", size),
		),
	)
}

// setAnalyzeSpanResult sets the result attributes on an analysis span.
func setAnalyzeSpanResult(span trace.Span, res *findings.Result) {
	span.SetAttributes(
		attribute.Int("analyzer.issues", len(res.Issues)),
		attribute.Int("analyzer.risks", len(res.Risks)),
		attribute.Int("analyzer.edge_cases", len(res.EdgeCases)),
		attribute.Int("analyzer.partial_failures", len(res.Metadata.PartialFailures)),
		attribute.Bool("analyzer.critical", res.HasCriticalIssues()),
	)
}

// startPhaseSpan creates a child span for one phase.
func startPhaseSpan(ctx context.Context, phase detectors.Phase, rules int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Analyzer.Phase",
		trace.WithAttributes(
			attribute.String("analyzer.phase", phase.String()),
			attribute.Int("analyzer.rules", rules),
		),
	)
}

func setPhaseSpanResult(span trace.Span, found int) {
	span.SetAttributes(attribute.Int("analyzer.findings", found))
}

// recordAnalysis records metrics for one source analysis.
func recordAnalysis(ctx context.Context, duration time.Duration, res *findings.Result) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("critical", res.HasCriticalIssues()))
	analysisLatency.Record(ctx, duration.Seconds(), attrs)
	analysisTotal.Add(ctx, 1, attrs)
	findingsFound.Record(ctx, int64(res.TotalIssueCount()))
}

func recordFinding(rule string) {
	findingsTotal.WithLabelValues(rule).Inc()
}

func recordDetectorTimeout(ctx context.Context, rule string) {
	detectorTimeoutsTotal.WithLabelValues(rule).Inc()
	if err := initMetrics(); err != nil {
		return
	}
	timeoutsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

func recordSkippedFile() {
	skippedFilesTotal.Inc()
}
