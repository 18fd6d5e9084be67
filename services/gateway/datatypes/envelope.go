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

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessagesPerRequest is the maximum number of turns in a request.
	MaxMessagesPerRequest = 200

	// DefaultMaxBodyCapture is the default byte budget for captured
	// request/response bodies in ring-buffer entries.
	DefaultMaxBodyCapture = 8 * 1024
)

// =============================================================================
// Message Turns
// =============================================================================

// Role is a conversation turn role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a typed content part inside a turn.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Part is one element of a multi-part turn content. Exactly the fields for
// its Type are populated.
type Part struct {
	Type PartType `json:"type"`

	// PartText
	Text string `json:"text,omitempty"`

	// PartImage
	ImageURL  string `json:"image_url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	ImageData string `json:"image_data,omitempty"`

	// PartToolCall
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// PartToolResult
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// TurnContent is the union of the two content shapes the three dialects
// allow: a plain string or an ordered sequence of typed parts. The zero
// value is empty text.
type TurnContent struct {
	Text  string `json:"text,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// IsParts reports whether the content carries typed parts rather than a
// plain string.
func (c TurnContent) IsParts() bool { return c.Parts != nil }

// PlainText flattens the content to user-visible text. Tool calls and
// results contribute nothing; image parts contribute nothing.
func (c TurnContent) PlainText() string {
	if c.Parts == nil {
		return c.Text
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Message is one conversation turn in the internal envelope.
type Message struct {
	Role    Role        `json:"role" validate:"required,oneof=system user assistant tool"`
	Content TurnContent `json:"content"`

	// ToolCalls are structured calls attached to an assistant turn.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID binds a tool-role turn to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured tool invocation emitted by a model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the textual outcome of executing a tool call.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolDefinition is a declared tool in dialect-neutral form.
type ToolDefinition struct {
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// =============================================================================
// Request Envelope
// =============================================================================

// Envelope is the internal representation of one request/response cycle.
//
// # Description
//
// The pipeline carries an Envelope end-to-end: translators fill the parsed
// request side, the classifier and router attach their verdict and
// decision, dispatch attaches timing and token counts, and the
// observability sink captures the whole thing at completion.
//
// # Invariants
//
//   - Every envelope emitted downstream carries either a completed routing
//     decision or an error record.
//   - Token counts are monotonic; they may grow mid-stream but never
//     decrement.
type Envelope struct {
	ID            string  `json:"id"`
	Start         time.Time `json:"start"`
	ClientDialect Dialect `json:"client_dialect"`

	Messages  []Message        `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	Stream    bool             `json:"stream"`
	ModelHint string           `json:"model_hint,omitempty"`
	MaxTokens int              `json:"max_tokens,omitempty"`
	UserID    string           `json:"user_id,omitempty"`

	// System is the system prompt extracted to dialect-neutral form.
	System string `json:"system,omitempty"`

	Verdict  *Verdict         `json:"verdict,omitempty"`
	Decision *RoutingDecision `json:"decision,omitempty"`

	// Response side.
	ResponseText     string     `json:"response_text,omitempty"`
	ResponseToolCalls []ToolCall `json:"response_tool_calls,omitempty"`
	Usage            TokenUsage `json:"usage"`
	UpstreamStatus   int        `json:"upstream_status,omitempty"`

	// Timing marks.
	ClassifyMs int64 `json:"classify_ms,omitempty"`
	DispatchMs int64 `json:"dispatch_ms,omitempty"`
	TotalMs    int64 `json:"total_ms,omitempty"`

	// FormatConversionFailed marks a translation failure where the body
	// was forwarded untranslated.
	FormatConversionFailed bool `json:"format_conversion_failed,omitempty"`

	// ToolsInjected records that the gateway appended server-side tool
	// definitions to the outgoing request.
	ToolsInjected bool `json:"tools_injected,omitempty"`

	// Cancelled marks a client disconnect mid-stream.
	Cancelled bool `json:"cancelled,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewEnvelope creates an envelope with a fresh id and start time.
func NewEnvelope(dialect Dialect) *Envelope {
	return &Envelope{
		ID:            uuid.NewString(),
		Start:         time.Now().UTC(),
		ClientDialect: dialect,
	}
}

// LastUserText returns the plain text of the most recent user turn, or ""
// when the conversation has none.
func (e *Envelope) LastUserText() string {
	for i := len(e.Messages) - 1; i >= 0; i-- {
		if e.Messages[i].Role == RoleUser {
			return e.Messages[i].Content.PlainText()
		}
	}
	return ""
}

// AddUsage accumulates token counts. Counters only grow.
func (e *Envelope) AddUsage(input, output int) {
	if input > 0 {
		e.Usage.InputTokens += input
	}
	if output > 0 {
		e.Usage.OutputTokens += output
	}
}

// TokenUsage contains token consumption statistics for one cycle.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// =============================================================================
// Header Hygiene
// =============================================================================

// sensitiveHeaders are never allowed into any log sink.
var sensitiveHeaders = []string{"X-Api-Key", "Authorization"}

// SanitizeHeaders returns a copy of h with credential-bearing headers
// removed. Call before attaching headers to an envelope or log entry.
func SanitizeHeaders(h http.Header) http.Header {
	out := h.Clone()
	for _, k := range sensitiveHeaders {
		out.Del(k)
	}
	return out
}
