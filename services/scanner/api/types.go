// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves the analyzer over HTTP.
//
// Routes, all under /v1/scanner except /metrics:
//
//	GET  /health          liveness, version and detector count
//	GET  /detectors       the active detector catalog
//	POST /analyze         analyze source text from the request body
//	POST /analyze/files   analyze files on the server's filesystem
//	GET  /runs            stored run summaries, newest first
//	GET  /runs/:id        one stored run as a report document
//	GET  /metrics         Prometheus exposition
//
// Every response carries X-Request-ID. Errors use ErrorResponse with a
// stable Code.
package api

import (
	"github.com/AleutianAI/runtimescan/services/scanner/report"
	"github.com/AleutianAI/runtimescan/services/scanner/store"
)

// Error codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeRateLimited    = "RATE_LIMITED"
	CodeHistoryOff     = "HISTORY_DISABLED"
	CodeUnavailable    = "UNAVAILABLE"
	CodeInternal       = "INTERNAL"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Detectors int    `json:"detectors"`
	History   bool   `json:"history"`
}

// DetectorInfo describes one catalog rule.
type DetectorInfo struct {
	ID          string `json:"id"`
	Phase       string `json:"phase"`
	Kind        string `json:"kind"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// DetectorsResponse is returned by GET /detectors.
type DetectorsResponse struct {
	Detectors []DetectorInfo `json:"detectors"`
}

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	Source string `json:"source" validate:"required"`
	Label  string `json:"label" validate:"max=1024"`
}

// AnalyzeFilesRequest is the body of POST /analyze/files.
type AnalyzeFilesRequest struct {
	Paths []string `json:"paths" validate:"required,min=1,max=1000,dive,required"`
}

// AnalyzeResponse wraps the report document of a run.
type AnalyzeResponse struct {
	RequestID string           `json:"request_id"`
	Report    *report.Document `json:"report"`
}

// RunsResponse is returned by GET /runs.
type RunsResponse struct {
	Runs []store.RunSummary `json:"runs"`
}
