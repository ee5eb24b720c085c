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
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/runtimescan/pkg/logging"
	"github.com/AleutianAI/runtimescan/pkg/ux"
	"github.com/AleutianAI/runtimescan/services/scanner/analyzer"
	"github.com/AleutianAI/runtimescan/services/scanner/config"
	"github.com/AleutianAI/runtimescan/services/scanner/findings"
	"github.com/AleutianAI/runtimescan/services/scanner/store"
)

// Commands annotated with annotationConfig: configOptional run with the
// defaults when the config file does not exist.
const (
	annotationConfig = "config"
	configOptional   = "optional"
)

var errNoStore = errors.New("no run history: set store.path in the config file")

// app holds state shared by every command of one invocation.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfgPath  string
	logLevel string
	color    string
	verbose  bool

	cfg    *config.Config
	logger *logging.Logger
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "runtimescan",
		Short: "Find code that fails at runtime",
		Long: `runtimescan reads source text and reports patterns that tend to fail
once the code runs: unguarded network calls, lost exceptions, unbounded
growth, environment assumptions and unhandled edge inputs.

Findings are grouped into issues, environment risks and edge cases.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgPath, "config", "", "config file (default ~/.runtimescan/runtimescan.yaml when present)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.color, "color", "auto", "color output: auto, always, never")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newAnalyzeCmd(a),
		newDetectorsCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup loads configuration and builds the logger before any command runs.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	path, explicit := a.cfgPath, a.cfgPath != ""
	if !explicit {
		if p, err := config.DefaultPath(); err == nil && fileExists(p) {
			path = p
		}
	}
	cfg, err := config.Load(path)
	if errors.Is(err, findings.ErrNotFound) && cmd.Annotations[annotationConfig] == configOptional {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	lc, err := cfg.LoggerConfig("runtimescan")
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}
	lc.Output = a.stderr
	lc.Quiet = !a.verbose && cmd.Name() != "serve" && cmd.Name() != "watch"
	logger, err := logging.New(lc)
	if err != nil {
		fmt.Fprintln(a.stderr, "Warning:", err)
	}
	a.logger = logger
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

func (a *app) slog() *slog.Logger {
	if a.logger == nil {
		return logging.Discard().Slog()
	}
	return a.logger.Slog()
}

func (a *app) printer() *ux.Printer {
	return ux.NewPrinter(a.stdout, ux.ParseMode(a.color))
}

// analyzer builds an analyzer from the loaded configuration.
func (a *app) analyzer() (*analyzer.Analyzer, error) {
	opts, err := a.cfg.AnalyzerOptions()
	if err != nil {
		return nil, &exitCodeError{code: exitError, err: err}
	}
	opts = append(opts, analyzer.WithLogger(a.slog()))
	return analyzer.New(opts...), nil
}

// openStore opens the run history named by the configuration. Without a
// configured path the history lives in memory when ephemeral is allowed
// and is an error otherwise.
func (a *app) openStore(ephemeral bool) (*store.Store, error) {
	sc := a.cfg.Store
	if sc.Path == "" {
		if !ephemeral {
			return nil, &exitCodeError{code: exitError, err: errNoStore}
		}
		return store.OpenInMemory(sc.Retain)
	}
	cfg := store.DefaultConfig(expandPath(sc.Path))
	cfg.Retain = sc.Retain
	cfg.Logger = a.slog()
	return store.Open(cfg)
}
