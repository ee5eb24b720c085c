// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store keeps a history of analysis runs in BadgerDB.
//
// Each run is stored twice: the full result under "run/<run id>" as a
// MessagePack report.Document, and a RunSummary under
// "time/<unix nanos>/<run id>" so listings come back newest first without
// decoding whole documents. When Retain is set, the oldest runs are pruned
// after every save.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
	"github.com/AleutianAI/runtimescan/services/scanner/report"
)

const (
	runPrefix  = "run/"
	timePrefix = "time/"
)

// Config configures Open.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	InMemory   bool
	SyncWrites bool

	// Retain is the number of runs kept. Zero keeps everything.
	Retain int

	// GCInterval is the value log GC period. Zero disables GC.
	GCInterval     time.Duration
	GCDiscardRatio float64

	// Logger receives badger's internal messages. Nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns a persistent configuration for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		Retain:         500,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// RunSummary is the listing entry of a stored run.
type RunSummary struct {
	RunID         string    `msgpack:"run_id" json:"run_id"`
	Timestamp     time.Time `msgpack:"timestamp" json:"timestamp"`
	Files         []string  `msgpack:"files" json:"files"`
	TotalIssues   int       `msgpack:"total_issues" json:"total_issues"`
	Critical      bool      `msgpack:"critical" json:"has_critical_issues"`
	Verdict       string    `msgpack:"verdict" json:"verdict"`
	DurationMilli int64     `msgpack:"duration_ms" json:"duration_ms"`
}

// Store is a run history backed by BadgerDB. Safe for concurrent use.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	retain int
	logger *slog.Logger
}

// Open opens or creates the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("open store: %w: path is required", findings.ErrInvalidInput)
	}
	if cfg.Retain < 0 {
		return nil, fmt.Errorf("open store: %w: negative retain", findings.ErrInvalidInput)
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, retain: cfg.Retain, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		s.gc.start()
	}
	return s, nil
}

// OpenInMemory opens a throwaway store. Tests and the server without a
// configured path use it.
func OpenInMemory(retain int) (*Store, error) {
	return Open(Config{InMemory: true, Retain: retain})
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// Save stores r under its run id.
//
// Outputs:
//
//	error - Wraps findings.ErrInvalidInput when r is nil or has no run id.
func (s *Store) Save(ctx context.Context, r *findings.Result) error {
	if r == nil || r.Metadata.RunID == "" {
		return fmt.Errorf("save run: %w: result without run id", findings.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	if r.Metadata.Timestamp.IsZero() {
		stamped := *r
		stamped.Metadata.Timestamp = time.Now().UTC()
		r = &stamped
	}
	doc, err := report.EncodeMsgpack(r)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.Metadata.RunID, err)
	}
	sum := summaryOf(r)
	idx, err := msgpack.Marshal(&sum)
	if err != nil {
		return fmt.Errorf("save run %s: encode summary: %w", r.Metadata.RunID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if old, err := txn.Get(runKey(sum.RunID)); err == nil {
			// Replacing a run drops its previous listing entry.
			prev, err := storedSummary(old)
			if err != nil {
				return err
			}
			if err := txn.Delete(timeKey(prev.Timestamp, prev.RunID)); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(runKey(sum.RunID), doc); err != nil {
			return err
		}
		return txn.Set(timeKey(sum.Timestamp, sum.RunID), idx)
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", sum.RunID, err)
	}
	return s.prune()
}

// storedSummary decodes the document behind item and returns its summary.
func storedSummary(item *badger.Item) (RunSummary, error) {
	var sum RunSummary
	err := item.Value(func(val []byte) error {
		r, err := report.DecodeMsgpack(val)
		if err != nil {
			return err
		}
		sum = summaryOf(r)
		return nil
	})
	return sum, err
}

// Get returns the run with the given id.
//
// Outputs:
//
//	error - Wraps findings.ErrNotFound when no run has that id.
func (s *Store) Get(ctx context.Context, runID string) (*findings.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	var res *findings.Result
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return findings.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			res, err = report.DecodeMsgpack(val)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return res, nil
}

// List returns up to limit run summaries, newest first. A limit of zero
// or less returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]RunSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := []RunSummary{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(timePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append([]byte(timePrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			var sum RunSummary
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &sum)
			}); err != nil {
				return err
			}
			out = append(out, sum)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Delete removes a run.
//
// Outputs:
//
//	error - Wraps findings.ErrNotFound when no run has that id.
func (s *Store) Delete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return findings.ErrNotFound
		}
		if err != nil {
			return err
		}
		sum, err := storedSummary(item)
		if err != nil {
			return err
		}
		if err := txn.Delete(timeKey(sum.Timestamp, sum.RunID)); err != nil {
			return err
		}
		return txn.Delete(runKey(runID))
	})
	if err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	return nil
}

// prune deletes the oldest runs beyond the retention limit.
func (s *Store) prune() error {
	if s.retain == 0 {
		return nil
	}
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = []byte(timePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		n := 0
		for it.Seek(append([]byte(timePrefix), 0xFF)); it.ValidForPrefix(opts.Prefix); it.Next() {
			n++
			if n > s.retain {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil || len(stale) == 0 {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
			if id := runIDOf(key); id != "" {
				if err := txn.Delete(runKey(id)); err != nil {
					return err
				}
			}
		}
		s.logger.Debug("pruned run history", "runs", len(stale))
		return nil
	})
}

func summaryOf(r *findings.Result) RunSummary {
	return RunSummary{
		RunID:         r.Metadata.RunID,
		Timestamp:     r.Metadata.Timestamp,
		Files:         append([]string{}, r.Metadata.AnalyzedFiles...),
		TotalIssues:   r.TotalIssueCount(),
		Critical:      r.HasCriticalIssues(),
		Verdict:       report.VerdictOf(r).String(),
		DurationMilli: r.Metadata.Duration.Milliseconds(),
	}
}

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

func timeKey(ts time.Time, id string) []byte {
	return fmt.Appendf(nil, "%s%020d/%s", timePrefix, ts.UnixNano(), id)
}

func runIDOf(key []byte) string {
	rest := bytes.TrimPrefix(key, []byte(timePrefix))
	if i := bytes.IndexByte(rest, '/'); i >= 0 {
		return string(rest[i+1:])
	}
	return ""
}
