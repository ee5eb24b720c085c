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
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
	"github.com/AleutianAI/runtimescan/services/scanner/ids"
)

// skipDirs are directory names never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"bin":          true,
	"obj":          true,
	"vendor":       true,
}

// AnalyzeFile reads and analyzes one file, labelling findings with path.
//
// Outputs:
//
//	*findings.Result - The complete result.
//	error - Wraps findings.ErrNotFound when path does not exist,
//	        findings.ErrInvalidInput when it is a directory, too large or
//	        empty, or a *findings.FileError when it cannot be read.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (*findings.Result, error) {
	start := a.now()
	res, err := a.analyzeFile(ctx, path, a.allocator())
	if err != nil {
		return nil, err
	}
	a.stamp(res, start)
	return res, nil
}

func (a *Analyzer) analyzeFile(ctx context.Context, path string, alloc ids.Allocator) (*findings.Result, error) {
	text, err := a.readSource(path)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("analyze %s: %w: empty file", path, findings.ErrInvalidInput)
	}
	return a.analyze(ctx, text, path, alloc)
}

func (a *Analyzer) readSource(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("analyze %s: %w", path, findings.ErrNotFound)
		}
		return "", &findings.FileError{Path: path, Op: "stat", Err: err}
	}
	if info.IsDir() {
		return "", fmt.Errorf("analyze %s: %w: is a directory", path, findings.ErrInvalidInput)
	}
	if info.Size() > a.maxFileBytes {
		return "", fmt.Errorf("analyze %s: %w: %d bytes exceeds limit of %d", path, findings.ErrInvalidInput, info.Size(), a.maxFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", &findings.FileError{Path: path, Op: "read", Err: err}
	}
	return string(data), nil
}

// AnalyzeFiles analyzes each path and merges the results in input order.
//
// Description:
//
//	Files are analyzed concurrently up to the worker limit and share one
//	identifier allocator. A file that cannot be read or analyzed is
//	logged, listed in Metadata.SkippedFiles and does not fail the batch.
//
// Inputs:
//
//	ctx - Context for cancellation, checked before each file.
//	paths - Files to analyze. Must not be nil; may be empty.
//
// Outputs:
//
//	*findings.Result - The merged result.
//	error - Wraps findings.ErrInvalidInput when paths is nil, or the
//	        context error when cancelled.
func (a *Analyzer) AnalyzeFiles(ctx context.Context, paths []string) (*findings.Result, error) {
	if paths == nil {
		return nil, fmt.Errorf("analyze files: %w: nil path list", findings.ErrInvalidInput)
	}
	start := a.now()
	alloc := a.allocator()

	results := make([]*findings.Result, len(paths))
	failures := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := a.analyzeFile(gctx, path, alloc)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
					return err
				}
				failures[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("analyze files: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analyze files: %w", err)
	}

	res := findings.Merge(results...)
	for i, err := range failures {
		if err == nil {
			continue
		}
		a.logger.Warn("skipping file",
			slog.String("file", paths[i]),
			slog.String("error", err.Error()),
		)
		res.Metadata.SkippedFiles = append(res.Metadata.SkippedFiles, findings.SkippedFile{
			Path:   paths[i],
			Reason: err.Error(),
		})
		recordSkippedFile()
	}

	a.stamp(res, start)
	return res, nil
}

// AnalyzeDirectory analyzes the files under root whose base name matches
// pattern.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	root - The directory to scan.
//	pattern - A filepath.Match pattern applied to base names. Empty means "*".
//	recursive - Whether to descend into subdirectories.
//
// Outputs:
//
//	*findings.Result - The merged result, files in lexical order.
//	error - Wraps findings.ErrNotFound when root does not exist, or
//	        findings.ErrInvalidInput for a bad pattern or a non-directory root.
func (a *Analyzer) AnalyzeDirectory(ctx context.Context, root, pattern string, recursive bool) (*findings.Result, error) {
	paths, err := ListFiles(root, pattern, recursive)
	if err != nil {
		return nil, err
	}
	return a.AnalyzeFiles(ctx, paths)
}

// ListFiles returns the files AnalyzeDirectory would analyze, in lexical
// order. The result is never nil.
func ListFiles(root, pattern string, recursive bool) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("list %s: %w: pattern %q: %v", root, findings.ErrInvalidInput, pattern, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("list %s: %w", root, findings.ErrNotFound)
		}
		return nil, &findings.FileError{Path: root, Op: "stat", Err: err}
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("list %s: %w: not a directory", root, findings.ErrInvalidInput)
	}

	paths := []string{}
	if !recursive {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, &findings.FileError{Path: root, Op: "readdir", Err: err}
		}
		for _, e := range entries {
			if e.Type().IsRegular() && matchBase(pattern, e.Name()) {
				paths = append(paths, filepath.Join(root, e.Name()))
			}
		}
		return paths, nil
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped; the root was checked above.
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && matchBase(pattern, d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, &findings.FileError{Path: root, Op: "walk", Err: err}
	}
	return paths, nil
}

// SkipDir reports whether directory walks skip a directory named name.
func SkipDir(name string) bool {
	return skipDirs[name]
}

// MatchBase reports whether name matches pattern. An empty pattern
// matches everything.
func MatchBase(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	return matchBase(pattern, name)
}

func matchBase(pattern, name string) bool {
	ok, _ := filepath.Match(pattern, name)
	return ok
}
