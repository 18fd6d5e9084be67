// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/gateway/classifier"
	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// historyCap bounds the retained decision list; oldest drop first.
const historyCap = 1000

// persistEvery is the decision-count cadence for disk writes.
const persistEvery = 10

// DecisionRecord is one routed request as remembered by the history.
type DecisionRecord struct {
	Timestamp time.Time               `json:"timestamp"`
	UserID    string                  `json:"user_id,omitempty"`
	Category  datatypes.Category      `json:"category"`
	Decision  datatypes.RoutingDecision `json:"decision"`
}

// successKey identifies a (backend, category) counter.
type successKey struct {
	Backend  string
	Category datatypes.Category
}

// History is the router's memory: past decisions, per-user preferences,
// and per-(backend, category) success counters. Persisted as a single
// JSON document on a decision cadence and on shutdown.
type History struct {
	mu        sync.Mutex
	path      string
	decisions []DecisionRecord
	prefs     map[string]classifier.Preferences
	successes map[successKey]int
	unsaved   int
}

// historyDocument is the on-disk shape. Counters flatten to string keys
// because JSON objects cannot key on structs.
type historyDocument struct {
	Decisions []DecisionRecord                  `json:"decisions"`
	Prefs     map[string]classifier.Preferences `json:"preferences"`
	Successes map[string]int                    `json:"successes"`
}

// NewHistory loads the history document at path, or starts empty when the
// file does not exist yet. A corrupt file is logged and discarded rather
// than blocking startup.
func NewHistory(path string) *History {
	h := &History{
		path:      path,
		prefs:     make(map[string]classifier.Preferences),
		successes: make(map[successKey]int),
	}
	if path == "" {
		return h
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Could not read router history", "path", path, "error", err)
		}
		return h
	}
	var doc historyDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		slog.Warn("Discarding corrupt router history", "path", path, "error", err)
		return h
	}
	h.decisions = doc.Decisions
	if doc.Prefs != nil {
		h.prefs = doc.Prefs
	}
	for k, v := range doc.Successes {
		if backend, category, ok := strings.Cut(k, "|"); ok {
			h.successes[successKey{Backend: backend, Category: datatypes.Category(category)}] = v
		}
	}
	return h
}

// Record appends a decision, trimming to the cap, and persists on the
// cadence. The disk write happens outside the lock.
func (h *History) Record(userID string, category datatypes.Category, decision datatypes.RoutingDecision) {
	h.mu.Lock()
	h.decisions = append(h.decisions, DecisionRecord{
		Timestamp: time.Now(),
		UserID:    userID,
		Category:  category,
		Decision:  decision,
	})
	if len(h.decisions) > historyCap {
		h.decisions = h.decisions[len(h.decisions)-historyCap:]
	}
	h.unsaved++
	flush := h.unsaved >= persistEvery
	if flush {
		h.unsaved = 0
	}
	h.mu.Unlock()

	if flush {
		go h.Save()
	}
}

// RecordOutcome bumps the (backend, category) success counter after a
// request completes without error.
func (h *History) RecordOutcome(backend string, category datatypes.Category, success bool) {
	if !success {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.successes[successKey{Backend: backend, Category: category}]++
}

// UserPreferences implements classifier.PreferenceProvider.
func (h *History) UserPreferences(userID string) (classifier.Preferences, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.prefs[userID]
	return p, ok
}

// SetPreference stores or replaces a user's preference record.
func (h *History) SetPreference(userID string, p classifier.Preferences) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prefs[userID] = p
}

// PreferredModel returns the user's remembered backend for a category.
func (h *History) PreferredModel(userID string, category datatypes.Category) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.prefs[userID]
	if !ok {
		return "", false
	}
	backend, ok := p.PreferredModels[category]
	return backend, ok
}

// Recent returns up to limit decisions, newest first.
func (h *History) Recent(limit int) []DecisionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.decisions)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]DecisionRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, h.decisions[i])
	}
	return out
}

// Clear drops decisions and success counters. Preferences survive; they
// are explicit user input, not derived state.
func (h *History) Clear() {
	h.mu.Lock()
	h.decisions = nil
	h.successes = make(map[successKey]int)
	h.unsaved = 0
	h.mu.Unlock()
	h.Save()
}

// Save writes the whole document to disk. Called on the persistence
// cadence and at shutdown.
func (h *History) Save() {
	if h.path == "" {
		return
	}

	h.mu.Lock()
	doc := historyDocument{
		Decisions: append([]DecisionRecord(nil), h.decisions...),
		Prefs:     make(map[string]classifier.Preferences, len(h.prefs)),
		Successes: make(map[string]int, len(h.successes)),
	}
	for k, v := range h.prefs {
		doc.Prefs[k] = v
	}
	for k, v := range h.successes {
		doc.Successes[fmt.Sprintf("%s|%s", k.Backend, k.Category)] = v
	}
	h.mu.Unlock()

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		slog.Warn("Could not encode router history", "error", err)
		return
	}
	tmp := h.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		slog.Warn("Could not create history directory", "error", err)
		return
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		slog.Warn("Could not write router history", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, h.path); err != nil {
		slog.Warn("Could not replace router history", "path", h.path, "error", err)
	}
}
