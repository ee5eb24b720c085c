// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/runtimescan/services/scanner/detectors"
	"github.com/AleutianAI/runtimescan/services/scanner/findings"
	"github.com/AleutianAI/runtimescan/services/scanner/report"
	"github.com/AleutianAI/runtimescan/services/scanner/store"
)

// Scanner is the analyzer surface the handlers need. *analyzer.Analyzer
// implements it.
type Scanner interface {
	AnalyzeSource(ctx context.Context, text, label string) (*findings.Result, error)
	AnalyzeFiles(ctx context.Context, paths []string) (*findings.Result, error)
	Catalog() *detectors.Catalog
}

// History stores completed runs. *store.Store implements it.
type History interface {
	Save(ctx context.Context, r *findings.Result) error
	Get(ctx context.Context, runID string) (*findings.Result, error)
	List(ctx context.Context, limit int) ([]store.RunSummary, error)
}

// Handlers implements the scanner routes.
type Handlers struct {
	scanner  Scanner
	history  History
	version  string
	fileRoot string
	logger   *slog.Logger
	validate *validator.Validate
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithHistory enables the run history routes and saves every run.
func WithHistory(h History) HandlerOption {
	return func(hs *Handlers) { hs.history = h }
}

// WithFileRoot confines POST /analyze/files to paths under root instead
// of the working directory. Paths are compared after symlinks are
// resolved.
func WithFileRoot(root string) HandlerOption {
	return func(hs *Handlers) { hs.fileRoot = root }
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(hs *Handlers) {
		if l != nil {
			hs.logger = l
		}
	}
}

// NewHandlers returns handlers serving s. version is reported by /health.
func NewHandlers(s Scanner, version string, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		scanner:  s,
		version:  version,
		logger:   slog.Default(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleHealth handles GET /v1/scanner/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Detectors: h.scanner.Catalog().Len(),
		History:   h.history != nil,
	})
}

// HandleDetectors handles GET /v1/scanner/detectors.
//
// Query Parameters:
//
//	phase - Optional phase name (e.g. "edge_case") to filter by.
func (h *Handlers) HandleDetectors(c *gin.Context) {
	phase := c.Query("phase")
	out := DetectorsResponse{Detectors: []DetectorInfo{}}
	for _, r := range h.scanner.Catalog().Rules() {
		if phase != "" && r.Phase.String() != phase {
			continue
		}
		out.Detectors = append(out.Detectors, DetectorInfo{
			ID:          r.ID,
			Phase:       r.Phase.String(),
			Kind:        r.Kind.String(),
			Severity:    r.Severity.String(),
			Description: r.Description,
		})
	}
	c.JSON(http.StatusOK, out)
}

// HandleAnalyze handles POST /v1/scanner/analyze.
//
// Response:
//
//	200 OK: AnalyzeResponse
//	400 Bad Request: malformed body, empty source
//	413 Request Entity Too Large: body over the configured limit
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	logger := h.logger.With("request_id", requestID(c), "handler", "HandleAnalyze")

	var req AnalyzeRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.scanner.AnalyzeSource(c.Request.Context(), req.Source, req.Label)
	if err != nil {
		logger.Warn("analysis failed", "label", req.Label, "error", err)
		writeError(c, err)
		return
	}
	h.respond(c, logger, res)
}

// HandleAnalyzeFiles handles POST /v1/scanner/analyze/files.
//
// Files that cannot be read are reported in metadata.skipped_files; the
// request fails only when the body is invalid or a path escapes the
// configured file root.
func (h *Handlers) HandleAnalyzeFiles(c *gin.Context) {
	logger := h.logger.With("request_id", requestID(c), "handler", "HandleAnalyzeFiles")

	var req AnalyzeFilesRequest
	if !h.bind(c, &req) {
		return
	}
	// An empty root resolves to the working directory.
	for _, p := range req.Paths {
		if !within(h.fileRoot, p) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: fmt.Sprintf("path %q is outside the analysis root", p),
				Code:  CodeInvalidRequest,
			})
			return
		}
	}

	res, err := h.scanner.AnalyzeFiles(c.Request.Context(), req.Paths)
	if err != nil {
		logger.Warn("batch analysis failed", "files", len(req.Paths), "error", err)
		writeError(c, err)
		return
	}
	h.respond(c, logger, res)
}

// HandleListRuns handles GET /v1/scanner/runs.
//
// Query Parameters:
//
//	limit - Maximum number of runs, default 50.
func (h *Handlers) HandleListRuns(c *gin.Context) {
	if !h.historyEnabled(c) {
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  CodeInvalidRequest,
			})
			return
		}
		limit = n
	}
	runs, err := h.history.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RunsResponse{Runs: runs})
}

// HandleGetRun handles GET /v1/scanner/runs/:id.
func (h *Handlers) HandleGetRun(c *gin.Context) {
	if !h.historyEnabled(c) {
		return
	}
	res, err := h.history.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	doc, err := report.NewDocument(res)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AnalyzeResponse{RequestID: requestID(c), Report: doc})
}

func (h *Handlers) historyEnabled(c *gin.Context) bool {
	if h.history != nil {
		return true
	}
	c.JSON(http.StatusNotFound, ErrorResponse{
		Error: "run history is not enabled on this server",
		Code:  CodeHistoryOff,
	})
	return false
}

// bind decodes and validates the JSON body into req, writing a 400 or 413
// response on failure.
func (h *Handlers) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "request body too large",
				Code:    CodeInvalidRequest,
				Details: fmt.Sprintf("limit is %d bytes", tooLarge.Limit),
			})
			return false
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    CodeInvalidRequest,
			Details: err.Error(),
		})
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "request validation failed",
			Code:    CodeInvalidRequest,
			Details: err.Error(),
		})
		return false
	}
	return true
}

func (h *Handlers) respond(c *gin.Context, logger *slog.Logger, res *findings.Result) {
	for _, f := range res.Issues {
		recordIssue(f.Severity)
	}
	if h.history != nil {
		// The analysis succeeded; a history failure only loses the record.
		if err := h.history.Save(c.Request.Context(), res); err != nil {
			logger.Warn("saving run failed", "run_id", res.Metadata.RunID, "error", err)
		}
	}
	doc, err := report.NewDocument(res)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.Info("analysis complete",
		"run_id", res.Metadata.RunID,
		"findings", res.TotalIssueCount(),
		"critical", res.HasCriticalIssues())
	c.JSON(http.StatusOK, AnalyzeResponse{RequestID: requestID(c), Report: doc})
}

// writeError maps sentinel errors to status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, findings.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest})
	case errors.Is(err, findings.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: CodeNotFound})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: CodeUnavailable})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: CodeInternal})
	}
}

// within reports whether path, after symlinks are resolved, lies under root.
func within(root, path string) bool {
	rootReal, err := resolve(root)
	if err != nil {
		return false
	}
	real, err := resolve(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(rootReal, real)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolve returns the absolute location path refers to. Symlinks are
// resolved in the order the OS follows them; a missing tail is appended
// to the resolved form of its longest existing parent.
func resolve(path string) (string, error) {
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		path = wd + string(filepath.Separator) + path
	}
	var missing []string
	cur := path
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{real}, missing...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		// Split without cleaning so ".." still applies after a link.
		i := strings.LastIndexByte(cur, filepath.Separator)
		if i <= len(filepath.VolumeName(cur)) {
			return filepath.Clean(path), nil
		}
		missing = append([]string{cur[i+1:]}, missing...)
		cur = cur[:i]
	}
}
