// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the gateway's YAML configuration
// document, applies environment overrides, and watches the file for hot
// reload of backend descriptors.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// =============================================================================
// Document
// =============================================================================

// LoggingConfig controls log level and body capture for the ring buffer.
type LoggingConfig struct {
	Level         string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	CaptureBodies bool   `yaml:"capture_bodies"`
	MaxBodyBytes  int    `yaml:"max_body_bytes" validate:"gte=0"`
}

// RouterConfig controls the smart router and classifier tiers.
type RouterConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ClassifierBackend string `yaml:"classifier_backend"`
	FastModelBackend  string `yaml:"fast_model_backend"`
	HistoryFile       string `yaml:"history_file"`
	AutoSearchSalvage bool   `yaml:"auto_search_salvage"`
}

// ArchiveConfig controls the optional MongoDB persistent sink.
//
// StoreQueries and StoreResponses are enforced at write time: when a flag
// is off the archived document holds the redaction sentinel, never the
// text.
type ArchiveConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URI            string `yaml:"uri"`
	Database       string `yaml:"database"`
	Collection     string `yaml:"collection"`
	StoreQueries   bool   `yaml:"store_queries"`
	StoreResponses bool   `yaml:"store_responses"`
	RetentionDays  int    `yaml:"retention_days" validate:"gte=0"`
	MaxDocuments   int64  `yaml:"max_documents" validate:"gte=0"`
}

// Config is the single structured configuration document.
type Config struct {
	Backends       []datatypes.BackendDescriptor `yaml:"backends" validate:"required,min=1,dive"`
	DefaultBackend string                        `yaml:"default_backend" validate:"required"`
	Logging        LoggingConfig                 `yaml:"logging"`
	Router         RouterConfig                  `yaml:"router"`
	Archive        ArchiveConfig                 `yaml:"archive"`

	// Port and MetricsPort come from the environment; they live here so
	// the loaded document is the one source of truth after Load.
	Port        string `yaml:"-"`
	MetricsPort string `yaml:"-"`

	// PremiumAPIKey is never read from the YAML document.
	PremiumAPIKey string `yaml:"-"`
}

var validate = validator.New()

// =============================================================================
// Loading
// =============================================================================

// Load reads, parses, and validates the configuration document at path,
// then applies environment overrides (GATEWAY_PORT, METRICS_PORT,
// PREMIUM_API_KEY).
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxBodyBytes == 0 {
		cfg.Logging.MaxBodyBytes = datatypes.DefaultMaxBodyCapture
	}
	if cfg.Router.HistoryFile == "" {
		cfg.Router.HistoryFile = "router_history.json"
	}
	if cfg.Archive.RetentionDays == 0 {
		cfg.Archive.RetentionDays = 30
	}
	for i := range cfg.Backends {
		if cfg.Backends[i].Speed == "" {
			cfg.Backends[i].Speed = datatypes.SpeedMedium
		}
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		cfg.Port = v
	}
	if cfg.Port == "" {
		cfg.Port = "11434"
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.MetricsPort = v
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9464"
	}
	cfg.PremiumAPIKey = os.Getenv("PREMIUM_API_KEY")
}

// Validate checks structural validity plus the cross-field invariants the
// router depends on: the default backend names a configured backend, every
// dialect tag is a member of the closed set, and at most one backend is
// marked premium.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	names := make(map[string]bool, len(c.Backends))
	premiums := 0
	for _, b := range c.Backends {
		if names[b.Name] {
			return fmt.Errorf("duplicate backend name %q", b.Name)
		}
		names[b.Name] = true
		if !b.Dialect.Valid() {
			return fmt.Errorf("backend %q has unknown dialect %q", b.Name, b.Dialect)
		}
		if b.Premium {
			premiums++
		}
	}
	if !names[c.DefaultBackend] {
		return fmt.Errorf("default_backend %q is not a configured backend", c.DefaultBackend)
	}
	if premiums > 1 {
		return fmt.Errorf("at most one backend may be premium, found %d", premiums)
	}
	if c.Router.ClassifierBackend != "" && !names[c.Router.ClassifierBackend] {
		return fmt.Errorf("router.classifier_backend %q is not a configured backend", c.Router.ClassifierBackend)
	}
	if c.Router.FastModelBackend != "" && !names[c.Router.FastModelBackend] {
		return fmt.Errorf("router.fast_model_backend %q is not a configured backend", c.Router.FastModelBackend)
	}
	return nil
}

// Backend returns the descriptor for name, or nil.
func (c *Config) Backend(name string) *datatypes.BackendDescriptor {
	for i := range c.Backends {
		if c.Backends[i].Name == name {
			return &c.Backends[i]
		}
	}
	return nil
}

// PremiumBackend returns the premium descriptor, or nil when none is
// configured.
func (c *Config) PremiumBackend() *datatypes.BackendDescriptor {
	for i := range c.Backends {
		if c.Backends[i].Premium {
			return &c.Backends[i]
		}
	}
	return nil
}

// LogLevel converts the configured level string to slog.Level.
func (c *Config) LogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Hot Reload
// =============================================================================

// Watch re-loads the document whenever the file changes and hands the new
// config to onChange. Invalid documents are logged and skipped, so a bad
// edit never takes down a running gateway. Editors that replace the file
// (rename+create) are debounced by re-adding the watch.
func Watch(path string, onChange func(*Config)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		var last time.Time
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				// Editors fire multiple events per save.
				if time.Since(last) < 200*time.Millisecond {
					continue
				}
				last = time.Now()
				if ev.Op&fsnotify.Rename != 0 {
					_ = watcher.Add(path)
				}
				cfg, err := Load(path)
				if err != nil {
					slog.Warn("Config reload skipped", "path", path, "error", err)
					continue
				}
				slog.Info("Config reloaded", "path", path, "backends", len(cfg.Backends))
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Config watcher error", "error", err)
			}
		}
	}()

	return watcher.Close, nil
}

// EnvInt reads an integer environment knob with a fallback.
func EnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("Ignoring non-integer environment value", "key", key)
	}
	return fallback
}
