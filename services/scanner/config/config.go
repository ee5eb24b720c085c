// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the YAML configuration shared by the runtimescan
// CLI and server.
//
// Library packages never read configuration; the commands load a Config
// and translate it into analyzer options, a detector catalog, a logger
// and telemetry settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/runtimescan/pkg/logging"
	"github.com/AleutianAI/runtimescan/pkg/telemetry"
	"github.com/AleutianAI/runtimescan/services/scanner/analyzer"
	"github.com/AleutianAI/runtimescan/services/scanner/detectors"
	"github.com/AleutianAI/runtimescan/services/scanner/findings"
	"github.com/AleutianAI/runtimescan/services/scanner/lineindex"
)

// ID scopes.
const (
	IDScopeProcess = "process"
	IDScopeCall    = "call"
)

// Config is the root of runtimescan.yaml.
type Config struct {
	Analysis  AnalysisConfig            `yaml:"analysis"`
	Detectors map[string]DetectorConfig `yaml:"detectors,omitempty" validate:"dive"`
	Logging   LoggingConfig             `yaml:"logging"`
	Server    ServerConfig              `yaml:"server"`
	Store     StoreConfig               `yaml:"store"`
	Watch     WatchConfig               `yaml:"watch"`
	Telemetry telemetry.Config          `yaml:"telemetry"`
}

// AnalysisConfig tunes the analyzer.
type AnalysisConfig struct {
	// MatchTimeout bounds every pattern evaluation.
	MatchTimeout time.Duration `yaml:"match_timeout" validate:"gt=0"`

	// OversizedAllocationBytes is the estimated size at which an array
	// allocation is reported.
	OversizedAllocationBytes int64 `yaml:"oversized_allocation_bytes" validate:"gt=0"`

	// MaxFileBytes is the largest file read from disk.
	MaxFileBytes int64 `yaml:"max_file_bytes" validate:"gt=0"`

	// Workers is the number of files analyzed concurrently. Zero picks a
	// default from the CPU count.
	Workers int `yaml:"workers" validate:"gte=0,lte=256"`

	// LineIndexCapacity is the number of cached line tables. Zero disables
	// caching.
	LineIndexCapacity int `yaml:"line_index_capacity" validate:"gte=0"`

	// IDScope is "process" for ids unique across the process, "call" for
	// ids starting at 1 in every result.
	IDScope string `yaml:"id_scope" validate:"oneof=process call"`
}

// DetectorConfig overrides one rule of the catalog.
type DetectorConfig struct {
	Disabled bool   `yaml:"disabled"`
	Severity string `yaml:"severity,omitempty" validate:"omitempty,oneof=Low Medium High Critical"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`

	// RateLimit is the sustained requests per second per client. Zero
	// disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gt=0"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// StoreConfig configures run history.
type StoreConfig struct {
	// Path is the BadgerDB directory. Empty keeps history in memory.
	Path string `yaml:"path,omitempty"`

	// Retain is the number of runs kept. Zero keeps everything.
	Retain int `yaml:"retain" validate:"gte=0"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" validate:"gt=0"`
	Pattern  string        `yaml:"pattern"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			MatchTimeout:             time.Second,
			OversizedAllocationBytes: detectors.DefaultOversizedAllocationBytes,
			MaxFileBytes:             analyzer.DefaultMaxFileBytes,
			LineIndexCapacity:        lineindex.DefaultCapacity,
			IDScope:                  IDScopeProcess,
		},
		Logging: LoggingConfig{Level: "info"},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8095,
			RateLimit:       20,
			Burst:           40,
			MaxBodyBytes:    analyzer.DefaultMaxFileBytes,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{Retain: 500},
		Watch: WatchConfig{Debounce: 300 * time.Millisecond, Pattern: "*"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// DefaultPath returns ~/.runtimescan/runtimescan.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".runtimescan", "runtimescan.yaml"), nil
}

// Load reads path over the defaults and validates the result. An empty
// path returns Default().
//
// Outputs:
//
//	*Config - The configuration.
//	error - Wraps findings.ErrNotFound if path does not exist,
//	        findings.ErrInvalidInput for malformed YAML or failed
//	        validation.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load config %s: %w", path, findings.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w: %v", path, findings.ErrInvalidInput, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Write stores cfg as YAML at path, creating parent directories.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that every detector override
// names a rule of the default catalog.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", findings.ErrInvalidInput, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", findings.ErrInvalidInput, err)
	}
	if _, err := c.Catalog(); err != nil {
		return err
	}
	return nil
}

// Overrides converts the detectors section into catalog overrides.
func (c *Config) Overrides() (map[string]detectors.Override, error) {
	if len(c.Detectors) == 0 {
		return nil, nil
	}
	out := make(map[string]detectors.Override, len(c.Detectors))
	for id, d := range c.Detectors {
		o := detectors.Override{Disabled: d.Disabled}
		if d.Severity != "" {
			sev, err := findings.ParseSeverity(d.Severity)
			if err != nil {
				return nil, fmt.Errorf("detector %s: %w", id, err)
			}
			o.Severity = &sev
		}
		out[id] = o
	}
	return out, nil
}

// Catalog returns the default catalog with the overrides applied.
func (c *Config) Catalog() (*detectors.Catalog, error) {
	overrides, err := c.Overrides()
	if err != nil {
		return nil, err
	}
	cat, err := detectors.Default().WithOverrides(overrides)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", findings.ErrInvalidInput, err)
	}
	return cat, nil
}

// AnalyzerOptions translates the analysis section into analyzer options.
func (c *Config) AnalyzerOptions() ([]analyzer.Option, error) {
	cat, err := c.Catalog()
	if err != nil {
		return nil, err
	}
	a := c.Analysis
	opts := []analyzer.Option{
		analyzer.WithCatalog(cat),
		analyzer.WithMatchTimeout(a.MatchTimeout),
		analyzer.WithSettings(detectors.Settings{OversizedAllocationBytes: a.OversizedAllocationBytes}),
		analyzer.WithMaxFileBytes(a.MaxFileBytes),
		analyzer.WithLineIndex(lineindex.New(lineindex.WithCapacity(a.LineIndexCapacity))),
	}
	if a.Workers > 0 {
		opts = append(opts, analyzer.WithWorkers(a.Workers))
	}
	if a.IDScope == IDScopeCall {
		opts = append(opts, analyzer.WithScopedIDs())
	}
	return opts, nil
}

// LoggerConfig returns the pkg/logging configuration for service.
func (c *Config) LoggerConfig(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, fmt.Errorf("%w: %v", findings.ErrInvalidInput, err)
	}
	return logging.Config{
		Level:   level,
		Dir:     c.Logging.Dir,
		Service: service,
		JSON:    c.Logging.JSON,
	}, nil
}

// Addr returns the listen address of the API server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
