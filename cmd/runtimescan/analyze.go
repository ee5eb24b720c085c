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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/runtimescan/pkg/ux"
	"github.com/AleutianAI/runtimescan/services/scanner/analyzer"
	"github.com/AleutianAI/runtimescan/services/scanner/findings"
	"github.com/AleutianAI/runtimescan/services/scanner/report"
)

// Output formats accepted by --format.
const (
	formatSummary    = "summary"
	formatStructured = "structured"
	formatJSON       = "json"
	formatYAML       = "yaml"
	formatFindings   = "findings"
)

var formats = []string{formatSummary, formatStructured, formatJSON, formatYAML, formatFindings}

type analyzeOptions struct {
	format         string
	label          string
	pattern        string
	recursive      bool
	failOnCritical bool
	save           bool
	output         string
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var opts analyzeOptions
	cmd := &cobra.Command{
		Use:   "analyze [path...]",
		Short: "Analyze files, directories or stdin",
		Long: `Analyze source files for runtime risks.

Directories are expanded to the files matching --pattern. A single "-"
reads the source from stdin.

Examples:
  runtimescan analyze Service.cs
  runtimescan analyze ./src --pattern "*.cs" --format findings
  cat Handler.cs | runtimescan analyze - --label Handler.cs --format json
  runtimescan analyze ./src --fail-on-critical`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAnalyze(cmd.Context(), args, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.format, "format", "f", formatSummary, "output format: "+strings.Join(formats, ", "))
	f.StringVar(&opts.label, "label", "", "file label for stdin input")
	f.StringVar(&opts.pattern, "pattern", "*", "base name pattern for directory arguments")
	f.BoolVarP(&opts.recursive, "recursive", "r", true, "descend into subdirectories")
	f.BoolVar(&opts.failOnCritical, "fail-on-critical", false, "exit 1 when critical findings are reported")
	f.BoolVar(&opts.save, "save", false, "store the run in the history")
	f.StringVarP(&opts.output, "output", "o", "", "write the report to a file instead of stdout")
	return cmd
}

func (a *app) runAnalyze(ctx context.Context, args []string, opts analyzeOptions) error {
	if !slices.Contains(formats, opts.format) {
		return &exitCodeError{code: exitError, err: fmt.Errorf("unknown format %q (want one of %s)", opts.format, strings.Join(formats, ", "))}
	}
	az, err := a.analyzer()
	if err != nil {
		return err
	}

	res, err := a.analyzeArgs(ctx, az, args, opts)
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}

	if opts.save {
		if err := a.saveRun(ctx, res); err != nil {
			return &exitCodeError{code: exitError, err: err}
		}
	}

	if err := a.writeReport(res, opts.format, opts.output); err != nil {
		return &exitCodeError{code: exitError, err: err}
	}

	if opts.failOnCritical && res.HasCriticalIssues() {
		return &exitCodeError{code: exitCritical}
	}
	return nil
}

// analyzeArgs dispatches on the argument shape: stdin, or a list of files
// and directories merged into one result.
func (a *app) analyzeArgs(ctx context.Context, az *analyzer.Analyzer, args []string, opts analyzeOptions) (*findings.Result, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(a.stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return az.AnalyzeSource(ctx, string(data), opts.label)
	}

	paths := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "-" {
			return nil, fmt.Errorf("%w: stdin cannot be combined with paths", findings.ErrInvalidInput)
		}
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", arg, findings.ErrNotFound)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		files, err := analyzer.ListFiles(arg, opts.pattern, opts.recursive)
		if err != nil {
			return nil, err
		}
		paths = append(paths, files...)
	}
	return az.AnalyzeFiles(ctx, paths)
}

func (a *app) saveRun(ctx context.Context, res *findings.Result) error {
	st, err := a.openStore(false)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Save(ctx, res); err != nil {
		return err
	}
	a.slog().Info("run saved", "run_id", res.Metadata.RunID)
	return nil
}

// writeReport renders res to stdout, or to path when set. Files never get
// styled output.
func (a *app) writeReport(res *findings.Result, format, path string) error {
	if path == "" {
		return render(a.printer(), a.stdout, res, format)
	}
	var buf bytes.Buffer
	if err := render(ux.NewPrinter(&buf, ux.ModePlain), &buf, res, format); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func render(p *ux.Printer, out io.Writer, res *findings.Result, format string) error {
	var (
		text string
		err  error
	)
	switch format {
	case formatSummary:
		return p.Summary(res)
	case formatFindings:
		return p.Findings(res)
	case formatStructured:
		text, err = report.FormatStructured(res)
	case formatJSON:
		text, err = report.FormatSerialized(res)
	case formatYAML:
		text, err = report.FormatYAML(res)
	default:
		return fmt.Errorf("%w: unknown format %q", findings.ErrInvalidInput, format)
	}
	if err != nil {
		return err
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, err = io.WriteString(out, text)
	return err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// expandPath resolves a leading ~ to the home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
