// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// LogEntry is one ring-buffer record: the envelope plus captured bodies.
//
// # Description
//
// Exactly one LogEntry is written per request regardless of outcome,
// including transport failures and client disconnects. Captured bodies are
// truncated to the configured byte budget before insertion; headers have
// already been sanitized.
type LogEntry struct {
	ID        string    `json:"id" bson:"id"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Backend   string    `json:"backend" bson:"backend"`
	UserID    string    `json:"user_id,omitempty" bson:"userId,omitempty"`

	Dialect  Dialect  `json:"dialect" bson:"dialect"`
	Category Category `json:"category,omitempty" bson:"category,omitempty"`
	Reason   string   `json:"reason,omitempty" bson:"reason,omitempty"`

	Status    int   `json:"status" bson:"status"`
	LatencyMs int64 `json:"latency_ms" bson:"latencyMs"`

	InputTokens  int `json:"input_tokens" bson:"inputTokens"`
	OutputTokens int `json:"output_tokens" bson:"outputTokens"`

	// RequestBody and ResponseBody are truncated captures. Either may hold
	// the privacy sentinel when capture is disabled for the archive.
	RequestBody  string `json:"request_body,omitempty" bson:"requestBody,omitempty"`
	ResponseBody string `json:"response_body,omitempty" bson:"responseBody,omitempty"`

	ToolsInjected bool   `json:"tools_injected,omitempty" bson:"toolsInjected,omitempty"`
	MultiModel    bool   `json:"multi_model,omitempty" bson:"multiModel,omitempty"`
	Cancelled     bool   `json:"cancelled,omitempty" bson:"cancelled,omitempty"`
	Error         string `json:"error,omitempty" bson:"error,omitempty"`
}

// Truncate clips s to at most max bytes, appending a marker when clipped.
// A non-positive max disables capture entirely.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}

// EntryFromEnvelope builds a LogEntry from a completed envelope.
func EntryFromEnvelope(e *Envelope, reqBody, respBody string, maxCapture int) LogEntry {
	entry := LogEntry{
		ID:           e.ID,
		Timestamp:    time.Now().UTC(),
		Dialect:      e.ClientDialect,
		Status:       e.UpstreamStatus,
		LatencyMs:    e.TotalMs,
		UserID:       e.UserID,
		InputTokens:  e.Usage.InputTokens,
		OutputTokens: e.Usage.OutputTokens,
		RequestBody:  Truncate(reqBody, maxCapture),
		ResponseBody: Truncate(respBody, maxCapture),
		ToolsInjected: e.ToolsInjected,
		Cancelled:    e.Cancelled,
		Error:        e.Error,
	}
	if e.Verdict != nil {
		entry.Category = e.Verdict.Category
	}
	if e.Decision != nil {
		entry.Backend = e.Decision.Primary
		entry.Reason = e.Decision.Reason
		entry.MultiModel = e.Decision.MultiModel
	}
	return entry
}
