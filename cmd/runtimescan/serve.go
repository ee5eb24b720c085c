// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/runtimescan/pkg/telemetry"
	"github.com/AleutianAI/runtimescan/services/scanner/analyzer"
	"github.com/AleutianAI/runtimescan/services/scanner/api"
	"github.com/AleutianAI/runtimescan/services/scanner/findings"
	"github.com/AleutianAI/runtimescan/services/scanner/report"
	"github.com/AleutianAI/runtimescan/services/scanner/store"
	"github.com/AleutianAI/runtimescan/services/scanner/watch"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		host     string
		port     int
		fileRoot string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the analyzer over HTTP under /v1/scanner, with Prometheus
metrics on /metrics. Runs are kept in the configured store, or in memory
when store.path is empty. POST /v1/scanner/analyze/files only reads files
under --file-root, which defaults to the working directory.

Examples:
  runtimescan serve
  runtimescan serve --port 9000 --file-root ./src`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc := a.cfg.Server
			if cmd.Flags().Changed("host") {
				sc.Host = host
			}
			if cmd.Flags().Changed("port") {
				sc.Port = port
			}
			if err := a.serve(cmd.Context(), sc.Addr(), fileRoot); err != nil {
				return &exitCodeError{code: exitError, err: err}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	cmd.Flags().StringVar(&fileRoot, "file-root", "", "directory /analyze/files may read from (default: working directory)")
	return cmd
}

func (a *app) serve(ctx context.Context, addr, fileRoot string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := a.slog()

	tc := a.cfg.Telemetry
	tc.ServiceVersion = analyzer.Version
	if tc.Output == nil {
		tc.Output = a.stderr
	}
	shutdown, err := telemetry.Init(ctx, tc)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	az, err := a.analyzer()
	if err != nil {
		return err
	}
	st, err := a.openStore(true)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if fileRoot, err = fileRootOrDefault(fileRoot); err != nil {
		return err
	}
	logger.Info("file analysis root", "root", fileRoot)
	opts := []api.HandlerOption{
		api.WithHistory(st),
		api.WithHandlerLogger(logger),
		api.WithFileRoot(fileRoot),
	}
	sc := a.cfg.Server
	router := api.NewRouter(api.NewHandlers(az, analyzer.Version, opts...), api.RouterConfig{
		ServiceName:  tc.ServiceName,
		RateLimit:    sc.RateLimit,
		Burst:        sc.Burst,
		MaxBodyBytes: sc.MaxBodyBytes,
	})
	return api.Serve(ctx, addr, router, sc.ShutdownTimeout, logger)
}

// fileRootOrDefault returns root, or the working directory when root is
// empty.
func fileRootOrDefault(root string) (string, error) {
	if root != "" {
		return root, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve file root: %w", err)
	}
	return wd, nil
}

func newWatchCmd(a *app) *cobra.Command {
	var (
		pattern  string
		debounce time.Duration
		format   string
		save     bool
	)
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Re-analyze files as they change",
		Long: `Watch a directory tree and analyze each batch of changed files once
edits settle. Dependency and VCS directories are ignored.

Examples:
  runtimescan watch ./src --pattern "*.cs"
  runtimescan watch --format findings --save`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			if !cmd.Flags().Changed("pattern") {
				pattern = a.cfg.Watch.Pattern
			}
			if !cmd.Flags().Changed("debounce") {
				debounce = a.cfg.Watch.Debounce
			}
			if format != formatSummary && format != formatFindings {
				return &exitCodeError{code: exitError, err: fmt.Errorf("watch supports --format %s or %s", formatSummary, formatFindings)}
			}
			if err := a.watch(cmd.Context(), root, pattern, debounce, format, save); err != nil {
				return &exitCodeError{code: exitError, err: err}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "*", "base name pattern of watched files")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a batch is analyzed")
	cmd.Flags().StringVarP(&format, "format", "f", formatSummary, "output format: summary or findings")
	cmd.Flags().BoolVar(&save, "save", false, "store every batch in the history")
	return cmd
}

func (a *app) watch(ctx context.Context, root, pattern string, debounce time.Duration, format string, save bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := a.slog()

	az, err := a.analyzer()
	if err != nil {
		return err
	}
	var st *store.Store
	if save {
		if st, err = a.openStore(false); err != nil {
			return err
		}
		defer st.Close()
	}

	p := a.printer()
	handler := func(ctx context.Context, res *findings.Result) {
		if st != nil {
			if err := st.Save(ctx, res); err != nil {
				logger.Warn("save run", "run_id", res.Metadata.RunID, "error", err)
			}
		}
		p.Title(fmt.Sprintf("%s  %s", res.Metadata.Timestamp.Local().Format(time.TimeOnly), report.VerdictOf(res)))
		if err := render(p, a.stdout, res, format); err != nil {
			logger.Warn("render report", "error", err)
		}
	}

	w, err := watch.New(root, az, handler,
		watch.WithPattern(pattern),
		watch.WithDebounce(debounce),
		watch.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	p.Success("watching %s (%s)", root, pattern)
	return w.Run(ctx)
}
