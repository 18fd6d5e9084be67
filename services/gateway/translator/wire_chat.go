// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package translator converts between the three chat-completion wire
// dialects and the gateway's internal envelope, for requests and
// responses, buffered and streaming.
//
// # Description
//
// Each dialect's converter is a total function between its wire
// representation and the envelope. The envelope is deliberately not shaped
// like any one dialect; it is a union of their capabilities (string or
// typed-part content, structured tool calls, tool-result bindings).
//
// Buffered conversion is pure. Streaming conversion is stateful per
// request: a StreamState consumes upstream chunks and produces client
// chunks, emitting the lifecycle events the client dialect requires.
package translator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// =============================================================================
// Dialect B: chat-completions wire types
// =============================================================================

type chatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []chatToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type chatContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
		// Arguments is a JSON-encoded string, not an object.
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
	User        string        `json:"user,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role             string         `json:"role"`
			Content          string         `json:"content"`
			ReasoningContent string         `json:"reasoning_content,omitempty"`
			ToolCalls        []chatToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage,omitempty"`
}

type chatStreamChunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Role             string `json:"role,omitempty"`
			Content          string `json:"content,omitempty"`
			ReasoningContent string `json:"reasoning_content,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage,omitempty"`
}

// =============================================================================
// Dialect B: request conversion
// =============================================================================

func decodeChatRequest(body []byte) (*datatypes.Envelope, error) {
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("failed to parse chat-completions request: %w", err)
	}

	env := datatypes.NewEnvelope(datatypes.DialectChatCompletions)
	env.Stream = req.Stream
	env.ModelHint = req.Model
	env.MaxTokens = req.MaxTokens
	env.UserID = req.User

	for _, m := range req.Messages {
		msg := datatypes.Message{Role: datatypes.Role(m.Role), ToolCallID: m.ToolCallID}
		content, err := decodeChatContent(m.Content)
		if err != nil {
			return nil, err
		}
		msg.Content = content
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, datatypes.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
		// System prompt rides as a role-"system" turn in dialect B; hoist
		// the first one to the neutral slot.
		if msg.Role == datatypes.RoleSystem && env.System == "" {
			env.System = msg.Content.PlainText()
			continue
		}
		env.Messages = append(env.Messages, msg)
	}

	for _, t := range req.Tools {
		env.Tools = append(env.Tools, datatypes.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	return env, nil
}

// decodeChatContent accepts the string-or-parts union dialect B allows.
func decodeChatContent(raw json.RawMessage) (datatypes.TurnContent, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return datatypes.TurnContent{}, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return datatypes.TurnContent{Text: text}, nil
	}
	var parts []chatContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return datatypes.TurnContent{}, fmt.Errorf("unsupported content shape: %s", previewJSON(raw))
	}
	out := datatypes.TurnContent{Parts: []datatypes.Part{}}
	for _, p := range parts {
		switch p.Type {
		case "text":
			out.Parts = append(out.Parts, datatypes.Part{Type: datatypes.PartText, Text: p.Text})
		case "image_url":
			part := datatypes.Part{Type: datatypes.PartImage}
			if p.ImageURL != nil {
				part.ImageURL = p.ImageURL.URL
			}
			out.Parts = append(out.Parts, part)
		}
	}
	return out, nil
}

func encodeChatRequest(env *datatypes.Envelope, model string) ([]byte, error) {
	req := chatRequest{
		Model:     model,
		Stream:    env.Stream,
		MaxTokens: env.MaxTokens,
		User:      env.UserID,
	}
	if env.System != "" {
		req.Messages = append(req.Messages, chatMessage{
			Role:    "system",
			Content: mustJSON(env.System),
		})
	}
	for _, m := range env.Messages {
		wm := chatMessage{Role: string(m.Role), ToolCallID: m.ToolCallID}
		wm.Content = encodeChatContent(m.Content)
		for _, tc := range m.ToolCalls {
			wtc := chatToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(tc.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		req.Messages = append(req.Messages, wm)
	}
	for _, t := range env.Tools {
		wt := chatTool{Type: "function"}
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		req.Tools = append(req.Tools, wt)
	}
	return json.Marshal(req)
}

func encodeChatContent(c datatypes.TurnContent) json.RawMessage {
	if !c.IsParts() {
		return mustJSON(c.Text)
	}
	var parts []chatContentPart
	for _, p := range c.Parts {
		switch p.Type {
		case datatypes.PartText:
			parts = append(parts, chatContentPart{Type: "text", Text: p.Text})
		case datatypes.PartImage:
			cp := chatContentPart{Type: "image_url"}
			cp.ImageURL = &struct {
				URL string `json:"url"`
			}{URL: p.ImageURL}
			parts = append(parts, cp)
		case datatypes.PartToolResult:
			// Dialect B carries tool results as dedicated turns; flatten
			// stray parts to text so nothing is dropped.
			if p.ToolResult != nil {
				parts = append(parts, chatContentPart{Type: "text", Text: p.ToolResult.Content})
			}
		}
	}
	return mustJSON(parts)
}

// =============================================================================
// Dialect B: response conversion
// =============================================================================

func decodeChatResponse(body []byte) (*Response, error) {
	var wire chatResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse chat-completions response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("chat-completions response has no choices")
	}
	choice := wire.Choices[0]
	resp := &Response{
		Model:      wire.Model,
		Text:       choice.Message.Content,
		Reasoning:  choice.Message.ReasoningContent,
		StopReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, datatypes.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	if wire.Usage != nil {
		resp.Usage = datatypes.TokenUsage{
			InputTokens:  wire.Usage.PromptTokens,
			OutputTokens: wire.Usage.CompletionTokens,
		}
	}
	return resp, nil
}

func encodeChatResponse(env *datatypes.Envelope, resp *Response) ([]byte, error) {
	wire := chatResponse{
		ID:      "chatcmpl-" + env.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
	}
	wire.Choices = make([]struct {
		Index   int `json:"index"`
		Message struct {
			Role             string         `json:"role"`
			Content          string         `json:"content"`
			ReasoningContent string         `json:"reasoning_content,omitempty"`
			ToolCalls        []chatToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	}, 1)
	wire.Choices[0].Message.Role = "assistant"
	wire.Choices[0].Message.Content = resp.Text
	wire.Choices[0].FinishReason = stopReasonToChat(resp.StopReason, len(resp.ToolCalls) > 0)
	for _, tc := range resp.ToolCalls {
		wtc := chatToolCall{ID: tc.ID, Type: "function"}
		wtc.Function.Name = tc.Name
		wtc.Function.Arguments = string(tc.Arguments)
		wire.Choices[0].Message.ToolCalls = append(wire.Choices[0].Message.ToolCalls, wtc)
	}
	wire.Usage = &chatUsage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	return json.Marshal(wire)
}

func stopReasonToChat(reason string, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_calls"
	}
	switch reason {
	case "", "end_turn", "stop", "completed":
		return "stop"
	case "max_tokens", "length":
		return "length"
	}
	return reason
}

// =============================================================================
// Helpers
// =============================================================================

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Only reachable for unmarshalable types, which the wire structs
		// never contain.
		panic(err)
	}
	return b
}

func previewJSON(raw json.RawMessage) string {
	const max = 80
	s := string(raw)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
