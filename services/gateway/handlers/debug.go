// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRelay/services/gateway/archive"
	"github.com/AleutianAI/AleutianRelay/services/gateway/classifier"
	"github.com/AleutianAI/AleutianRelay/services/gateway/control"
	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/gateway/dispatch"
	"github.com/AleutianAI/AleutianRelay/services/gateway/observability"
	"github.com/AleutianAI/AleutianRelay/services/gateway/router"
	"github.com/AleutianAI/AleutianRelay/services/gateway/translator"
)

// DebugHandler serves the /debug control plane.
type DebugHandler struct {
	state   *control.State
	stats   *observability.Stats
	ring    *observability.RingBuffer
	history *router.History
	cls     *classifier.Classifier
	disp    *dispatch.Dispatcher
	arch    *archive.Archive
	started time.Time
}

// NewDebugHandler builds the control-plane handler. arch may be nil when
// the persistent sink is disabled.
func NewDebugHandler(state *control.State, stats *observability.Stats,
	ring *observability.RingBuffer, history *router.History,
	cls *classifier.Classifier, disp *dispatch.Dispatcher,
	arch *archive.Archive) *DebugHandler {
	return &DebugHandler{
		state:   state,
		stats:   stats,
		ring:    ring,
		history: history,
		cls:     cls,
		disp:    disp,
		arch:    arch,
		started: time.Now(),
	}
}

// Health handles GET /debug/health.
func (h *DebugHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"uptime_seconds":  int(time.Since(h.started).Seconds()),
		"default_backend": h.state.DefaultBackendName(),
		"smart_routing":   h.state.SmartRouting(),
		"backends":        h.state.Names(),
		"archive":         h.arch != nil,
	})
}

// Logs handles GET /debug/logs?limit=&backend=&status=.
func (h *DebugHandler) Logs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	status, _ := strconv.Atoi(c.Query("status"))
	entries := h.ring.Snapshot(observability.Filter{
		Limit:   limit,
		Backend: c.Query("backend"),
		Status:  status,
	})
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "logs": entries})
}

// Stats handles GET /debug/stats.
func (h *DebugHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Snapshot())
}

// Tokens handles GET /debug/tokens.
func (h *DebugHandler) Tokens(c *gin.Context) {
	snap := h.stats.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"tokens_input_total":       snap.TokensInputTotal,
		"tokens_output_total":      snap.TokensOutputTotal,
		"tokens_by_backend_input":  snap.TokensByBackendIn,
		"tokens_by_backend_output": snap.TokensByBackendOut,
	})
}

// Models handles GET /debug/models.
func (h *DebugHandler) Models(c *gin.Context) {
	defaultName := h.state.DefaultBackendName()
	type model struct {
		Name          string            `json:"name"`
		Model         string            `json:"model"`
		URL           string            `json:"url"`
		Dialect       datatypes.Dialect `json:"dialect"`
		Specialties   []string          `json:"specialties"`
		ContextWindow int               `json:"context_window"`
		Premium       bool              `json:"premium"`
		Default       bool              `json:"default"`
	}
	var out []model
	for _, b := range h.state.Backends() {
		out = append(out, model{
			Name:          b.Name,
			Model:         b.Model,
			URL:           b.URL,
			Dialect:       b.Dialect,
			Specialties:   b.Specialties,
			ContextWindow: b.ContextWindow,
			Premium:       b.Premium,
			Default:       b.Name == defaultName,
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

// Switch handles POST /debug/switch {backend}.
func (h *DebugHandler) Switch(c *gin.Context) {
	var req struct {
		Backend string `json:"backend" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.state.SetDefaultBackend(req.Backend); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"default_backend": req.Backend})
}

// RouterAction handles GET|POST /debug/router.
//
// Actions: classify (run the classifier on supplied text), setPreference,
// clearHistory, enable, disable. GET with no action returns recent
// routing decisions.
func (h *DebugHandler) RouterAction(c *gin.Context) {
	var req struct {
		Action   string `json:"action"`
		Text     string `json:"text"`
		UserID   string `json:"user_id"`
		Category string `json:"category"`
		Backend  string `json:"backend"`
		Quality  string `json:"quality"`
	}
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else {
		req.Action = c.Query("action")
	}

	switch req.Action {
	case "", "history":
		c.JSON(http.StatusOK, gin.H{
			"smart_routing": h.state.SmartRouting(),
			"decisions":     h.history.Recent(50),
		})
	case "classify":
		messages := []datatypes.Message{{
			Role:    datatypes.RoleUser,
			Content: datatypes.TurnContent{Text: req.Text},
		}}
		verdict := h.cls.Classify(c.Request.Context(), messages, false, req.UserID)
		c.JSON(http.StatusOK, gin.H{"verdict": verdict})
	case "setPreference":
		h.setPreference(c, req.UserID, req.Category, req.Backend, req.Quality)
	case "clearHistory":
		h.history.Clear()
		c.JSON(http.StatusOK, gin.H{"cleared": true})
	case "enable":
		h.state.SetSmartRouting(true)
		c.JSON(http.StatusOK, gin.H{"smart_routing": true})
	case "disable":
		h.state.SetSmartRouting(false)
		c.JSON(http.StatusOK, gin.H{"smart_routing": false})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action " + req.Action})
	}
}

func (h *DebugHandler) setPreference(c *gin.Context, userID, category, backend, quality string) {
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	cat := datatypes.Category(category)
	if category != "" && !cat.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category " + category})
		return
	}
	if backend != "" {
		if _, ok := h.state.Backend(backend); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown backend " + backend})
			return
		}
	}

	prefs, _ := h.history.UserPreferences(userID)
	if prefs.CategoryOverrides == nil {
		prefs.CategoryOverrides = make(map[datatypes.Category]string)
	}
	if prefs.PreferredModels == nil {
		prefs.PreferredModels = make(map[datatypes.Category]string)
	}
	if category != "" && backend != "" {
		prefs.CategoryOverrides[cat] = backend
		prefs.PreferredModels[cat] = backend
	}
	if quality != "" {
		prefs.QualityPreference = quality
	}
	h.history.SetPreference(userID, prefs)
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "preferences": prefs})
}

// Compare handles POST /debug/compare: the echoed dialect-B payload runs
// against every configured backend and the per-backend results come back
// side by side.
func (h *DebugHandler) Compare(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	env, err := decodeCompareRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	backends := h.state.Backends()
	start := time.Now()
	results := h.disp.FanOut(c.Request.Context(), backends, env)

	type comparison struct {
		Backend   string `json:"backend"`
		Model     string `json:"model,omitempty"`
		Text      string `json:"text,omitempty"`
		Error     string `json:"error,omitempty"`
		LatencyMs int64  `json:"latency_ms"`
	}
	out := make([]comparison, 0, len(results))
	for _, r := range results {
		entry := comparison{Backend: r.Backend.Name, LatencyMs: time.Since(start).Milliseconds()}
		if r.Err != nil {
			entry.Error = r.Err.Error()
		} else {
			entry.Model = r.Response.Model
			entry.Text = r.Response.Text
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"comparisons": out})
}

// decodeCompareRequest parses the echoed payload as a dialect-B request
// with streaming forced off.
func decodeCompareRequest(body []byte) (*datatypes.Envelope, error) {
	env, err := translator.DecodeRequest(datatypes.DialectChatCompletions, body)
	if err != nil {
		return nil, fmt.Errorf("compare payload must be a chat-completions request: %w", err)
	}
	env.Stream = false
	return env, nil
}

// History handles GET /debug/history.
func (h *DebugHandler) History(c *gin.Context) {
	if h.arch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive is not enabled"})
		return
	}
	limit, _ := strconv.ParseInt(c.Query("limit"), 10, 64)
	entries, err := h.arch.History(c.Request.Context(), archive.HistoryFilter{
		Limit:   limit,
		Backend: c.Query("backend"),
		UserID:  c.Query("user_id"),
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "history": entries})
}

// HistoryByID handles GET /debug/history/:id.
func (h *DebugHandler) HistoryByID(c *gin.Context) {
	if h.arch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive is not enabled"})
		return
	}
	entry, err := h.arch.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Analytics handles GET /debug/analytics?days=N.
func (h *DebugHandler) Analytics(c *gin.Context) {
	if h.arch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive is not enabled"})
		return
	}
	days, _ := strconv.Atoi(c.Query("days"))
	summary, err := h.arch.Summarize(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}
