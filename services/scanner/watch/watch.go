// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch re-analyzes files under a directory as they change.
//
// Events are collected for a debounce window, deduplicated by path and
// analyzed as one batch through FileAnalyzer.AnalyzeFiles. Removed files
// are dropped from the batch. New directories are watched as they appear
// and any matching files already inside them join the next batch.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/runtimescan/services/scanner/analyzer"
	"github.com/AleutianAI/runtimescan/services/scanner/findings"
)

// DefaultDebounce is the quiet period before a batch is analyzed.
const DefaultDebounce = 300 * time.Millisecond

// FileAnalyzer analyzes a batch of files. *analyzer.Analyzer implements it.
type FileAnalyzer interface {
	AnalyzeFiles(ctx context.Context, paths []string) (*findings.Result, error)
}

// Handler receives the result of every analyzed batch.
type Handler func(ctx context.Context, res *findings.Result)

// Option configures a Watcher.
type Option func(*Watcher)

// WithPattern restricts analysis to file names matching a filepath.Match
// pattern.
func WithPattern(pattern string) Option {
	return func(w *Watcher) { w.pattern = pattern }
}

// WithDebounce sets the quiet period. Non-positive values are ignored.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// Watcher watches a directory tree and analyzes changed files.
type Watcher struct {
	root     string
	pattern  string
	debounce time.Duration
	analyzer FileAnalyzer
	handler  Handler
	logger   *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

// New validates root and pattern and returns an idle Watcher.
//
// Outputs:
//
//	*Watcher - Call Run to start watching.
//	error - Wraps findings.ErrNotFound if root does not exist,
//	        findings.ErrInvalidInput if it is not a directory, the
//	        pattern is malformed, or the analyzer or handler is nil.
func New(root string, a FileAnalyzer, handler Handler, opts ...Option) (*Watcher, error) {
	if a == nil || handler == nil {
		return nil, fmt.Errorf("watch %s: %w: nil analyzer or handler", root, findings.ErrInvalidInput)
	}
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("watch %s: %w", root, findings.ErrNotFound)
	}
	if err != nil {
		return nil, &findings.FileError{Path: root, Op: "stat", Err: err}
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: %w: not a directory", root, findings.ErrInvalidInput)
	}

	w := &Watcher{
		root:     root,
		pattern:  "*",
		debounce: DefaultDebounce,
		analyzer: a,
		handler:  handler,
		logger:   slog.Default(),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if _, err := filepath.Match(w.pattern, ""); err != nil {
		return nil, fmt.Errorf("watch %s: %w: pattern %q: %v", root, findings.ErrInvalidInput, w.pattern, err)
	}
	return w, nil
}

// Ready is closed once the initial directory tree is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is cancelled. A pending batch is analyzed before
// Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if _, err := w.addTree(fsw, w.root); err != nil {
		return err
	}
	w.readyOnce.Do(func() { close(w.ready) })
	w.logger.Info("watching for changes", "root", w.root, "pattern", w.pattern)

	pending := make(map[string]struct{})
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	arm := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
			return
		}
		timer.Reset(w.debounce)
	}
	flush := func(ctx context.Context) {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		w.analyze(ctx, pending)
		clear(pending)
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.WithoutCancel(ctx))
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.collect(fsw, ev, pending) {
				arm()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-timerC:
			timer, timerC = nil, nil
			w.analyze(ctx, pending)
			clear(pending)
		}
	}
}

// collect records ev in pending and reports whether anything changed.
func (w *Watcher) collect(fsw *fsnotify.Watcher, ev fsnotify.Event, pending map[string]struct{}) bool {
	if w.ignored(ev.Name) {
		return false
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		_, had := pending[ev.Name]
		delete(pending, ev.Name)
		return had
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return false
	}
	if info.IsDir() {
		if !ev.Has(fsnotify.Create) || analyzer.SkipDir(info.Name()) {
			return false
		}
		files, err := w.addTree(fsw, ev.Name)
		if err != nil {
			w.logger.Warn("watch directory failed", "path", ev.Name, "error", err)
		}
		for _, f := range files {
			pending[f] = struct{}{}
		}
		return len(files) > 0
	}
	if !info.Mode().IsRegular() || !analyzer.MatchBase(w.pattern, info.Name()) {
		return false
	}
	pending[ev.Name] = struct{}{}
	return true
}

// addTree watches dir and its subdirectories and returns the matching
// files found inside them.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && analyzer.SkipDir(d.Name()) {
				return fs.SkipDir
			}
			return fsw.Add(path)
		}
		if d.Type().IsRegular() && analyzer.MatchBase(w.pattern, d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return files, &findings.FileError{Path: dir, Op: "watch", Err: err}
	}
	return files, nil
}

// ignored reports whether path lies inside a skipped directory.
func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/") {
		if analyzer.SkipDir(part) {
			return true
		}
	}
	return false
}

func (w *Watcher) analyze(ctx context.Context, pending map[string]struct{}) {
	if len(pending) == 0 {
		return
	}
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	res, err := w.analyzer.AnalyzeFiles(ctx, paths)
	if err != nil {
		w.logger.Warn("re-analysis failed", "files", len(paths), "error", err)
		return
	}
	w.logger.Info("re-analyzed changed files",
		"files", len(paths),
		"findings", res.TotalIssueCount(),
		"run_id", res.Metadata.RunID)
	w.handler(ctx, res)
}
