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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName names the otelgin server spans.
	ServiceName string

	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	Burst     int

	// MaxBodyBytes caps request bodies; zero means 10 MiB.
	MaxBodyBytes int64
}

// RegisterRoutes mounts the scanner routes on rg.
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	scanner := rg.Group("/scanner")
	{
		scanner.GET("/health", h.HandleHealth)
		scanner.GET("/detectors", h.HandleDetectors)

		scanner.POST("/analyze", h.HandleAnalyze)
		scanner.POST("/analyze/files", h.HandleAnalyzeFiles)

		scanner.GET("/runs", h.HandleListRuns)
		scanner.GET("/runs/:id", h.HandleGetRun)
	}
}

// NewRouter builds the gin engine with tracing, request ids, metrics, body
// limits and rate limiting in front of the scanner routes.
func NewRouter(h *Handlers, cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "runtimescan-api"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(requestIDMiddleware())
	router.Use(metricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(bodyLimitMiddleware(cfg.MaxBodyBytes))
	if cfg.RateLimit > 0 {
		v1.Use(rateLimitMiddleware(newClientLimiter(cfg.RateLimit, cfg.Burst)))
	}
	RegisterRoutes(v1, h)
	return router
}

// Serve runs handler on addr until ctx is cancelled, then shuts down within
// shutdownTimeout.
func Serve(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	logger.Info("api shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
