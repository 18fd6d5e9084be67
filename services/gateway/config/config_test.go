// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

const validDoc = `
backends:
  - name: local
    url: http://localhost:8080
    dialect: chat-completions
    model: llama3.2:3b
    specialties: [conversation]
    context_window: 8192
    speed: fast
  - name: premium
    url: https://api.example.com
    dialect: messages
    model: claude-sonnet-4
    specialties: [complex, code]
    context_window: 200000
    premium: true
default_backend: local
logging:
  level: debug
  capture_bodies: true
router:
  enabled: true
  classifier_backend: local
`

func writeDoc(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeDoc(t, validDoc))
	require.NoError(t, err)

	require.Len(t, cfg.Backends, 2)
	assert.Equal(t, "local", cfg.DefaultBackend)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Router.Enabled)

	// Defaults fill in what the document omits.
	assert.Equal(t, datatypes.DefaultMaxBodyCapture, cfg.Logging.MaxBodyBytes)
	assert.Equal(t, "router_history.json", cfg.Router.HistoryFile)
	assert.Equal(t, 30, cfg.Archive.RetentionDays)
	assert.Equal(t, datatypes.SpeedMedium, cfg.Backends[1].Speed)
	assert.Equal(t, datatypes.SpeedFast, cfg.Backends[0].Speed)
	assert.Equal(t, "11434", cfg.Port)
	assert.Equal(t, "9464", cfg.MetricsPort)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "8999")
	t.Setenv("METRICS_PORT", "9991")
	t.Setenv("PREMIUM_API_KEY", "sk-test")

	cfg, err := Load(writeDoc(t, validDoc))
	require.NoError(t, err)
	assert.Equal(t, "8999", cfg.Port)
	assert.Equal(t, "9991", cfg.MetricsPort)
	assert.Equal(t, "sk-test", cfg.PremiumAPIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeDoc(t, "backends: [}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "no backends",
			doc: `
backends: []
default_backend: local
`,
			wantErr: "config validation failed",
		},
		{
			name: "duplicate backend names",
			doc: `
backends:
  - {name: a, url: http://x, dialect: chat-completions, model: m, context_window: 8192}
  - {name: a, url: http://y, dialect: chat-completions, model: m, context_window: 8192}
default_backend: a
`,
			wantErr: `duplicate backend name "a"`,
		},
		{
			name: "unknown dialect",
			doc: `
backends:
  - {name: a, url: http://x, dialect: grpc, model: m, context_window: 8192}
default_backend: a
`,
			wantErr: `unknown dialect "grpc"`,
		},
		{
			name: "default backend not configured",
			doc: `
backends:
  - {name: a, url: http://x, dialect: chat-completions, model: m, context_window: 8192}
default_backend: ghost
`,
			wantErr: `default_backend "ghost" is not a configured backend`,
		},
		{
			name: "two premium backends",
			doc: `
backends:
  - {name: a, url: http://x, dialect: messages, model: m, context_window: 8192, premium: true}
  - {name: b, url: http://y, dialect: messages, model: m, context_window: 8192, premium: true}
default_backend: a
`,
			wantErr: "at most one backend may be premium",
		},
		{
			name: "classifier backend not configured",
			doc: `
backends:
  - {name: a, url: http://x, dialect: chat-completions, model: m, context_window: 8192}
default_backend: a
router:
  classifier_backend: ghost
`,
			wantErr: `router.classifier_backend "ghost" is not a configured backend`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeDoc(t, tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Lookups(t *testing.T) {
	cfg, err := Load(writeDoc(t, validDoc))
	require.NoError(t, err)

	require.NotNil(t, cfg.Backend("premium"))
	assert.Equal(t, "claude-sonnet-4", cfg.Backend("premium").Model)
	assert.Nil(t, cfg.Backend("ghost"))

	p := cfg.PremiumBackend()
	require.NotNil(t, p)
	assert.Equal(t, "premium", p.Name)
}

func TestConfig_LogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{Logging: LoggingConfig{Level: tt.level}}
		assert.Equal(t, tt.want, cfg.LogLevel())
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeDoc(t, validDoc)

	reloaded := make(chan *Config, 1)
	stop, err := Watch(path, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	defer stop()

	// Let the watcher settle, then replace the default backend.
	time.Sleep(250 * time.Millisecond)
	updated := validDoc + "\n# touched\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Len(t, cfg.Backends, 2)
	case <-time.After(3 * time.Second):
		t.Fatal("config reload callback never fired")
	}
}

func TestWatch_SkipsInvalidDocument(t *testing.T) {
	path := writeDoc(t, validDoc)

	reloaded := make(chan *Config, 1)
	stop, err := Watch(path, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	defer stop()

	time.Sleep(250 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("backends: [}"), 0o644))

	select {
	case <-reloaded:
		t.Fatal("invalid document must not trigger the change callback")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("RELAY_TEST_KNOB", "42")
	assert.Equal(t, 42, EnvInt("RELAY_TEST_KNOB", 7))

	t.Setenv("RELAY_TEST_KNOB", "not-a-number")
	assert.Equal(t, 7, EnvInt("RELAY_TEST_KNOB", 7))

	assert.Equal(t, 7, EnvInt("RELAY_TEST_KNOB_UNSET", 7))
}
