// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package translator

import (
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// =============================================================================
// Dialect A: messages-style wire types
// =============================================================================

type msgRequest struct {
	Model     string          `json:"model"`
	System    json.RawMessage `json:"system,omitempty"`
	Messages  []msgMessage    `json:"messages"`
	Tools     []msgTool       `json:"tools,omitempty"`
	MaxTokens int             `json:"max_tokens,omitempty"`
	Stream    bool            `json:"stream,omitempty"`
	Metadata  *struct {
		UserID string `json:"user_id,omitempty"`
	} `json:"metadata,omitempty"`
}

type msgMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type msgBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *msgImageSource `json:"source,omitempty"`

	// tool_use: parameters ride as an object, not a JSON string.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type msgImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type msgTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type msgUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type msgResponse struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Role       string     `json:"role"`
	Model      string     `json:"model,omitempty"`
	Content    []msgBlock `json:"content"`
	StopReason string     `json:"stop_reason,omitempty"`
	Usage      *msgUsage  `json:"usage,omitempty"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Streaming event payloads. Dialect A frames deltas as incremental text
// block events with explicit block lifecycle.
type msgStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index,omitempty"`

	Message *msgResponse `json:"message,omitempty"`

	ContentBlock *msgBlock `json:"content_block,omitempty"`

	Delta *struct {
		Type       string `json:"type,omitempty"`
		Text       string `json:"text,omitempty"`
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`

	Usage *msgUsage `json:"usage,omitempty"`
}

// =============================================================================
// Dialect A: request conversion
// =============================================================================

func decodeMessagesRequest(body []byte) (*datatypes.Envelope, error) {
	var req msgRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("failed to parse messages request: %w", err)
	}

	env := datatypes.NewEnvelope(datatypes.DialectMessages)
	env.Stream = req.Stream
	env.ModelHint = req.Model
	env.MaxTokens = req.MaxTokens
	if req.Metadata != nil {
		env.UserID = req.Metadata.UserID
	}
	env.System = decodeMessagesSystem(req.System)

	for _, m := range req.Messages {
		msg, err := decodeMessagesTurn(m)
		if err != nil {
			return nil, err
		}
		env.Messages = append(env.Messages, msg)
	}
	for _, t := range req.Tools {
		env.Tools = append(env.Tools, datatypes.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	return env, nil
}

// decodeMessagesSystem accepts the sibling system field as either a plain
// string or an array of text blocks.
func decodeMessagesSystem(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []msgBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := ""
		for _, b := range blocks {
			if b.Type == "text" {
				out += b.Text
			}
		}
		return out
	}
	return ""
}

func decodeMessagesTurn(m msgMessage) (datatypes.Message, error) {
	msg := datatypes.Message{Role: datatypes.Role(m.Role)}

	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		msg.Content = datatypes.TurnContent{Text: text}
		return msg, nil
	}

	var blocks []msgBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return msg, fmt.Errorf("unsupported messages content shape: %s", previewJSON(m.Content))
	}
	content := datatypes.TurnContent{Parts: []datatypes.Part{}}
	for _, b := range blocks {
		switch b.Type {
		case "text":
			content.Parts = append(content.Parts, datatypes.Part{Type: datatypes.PartText, Text: b.Text})
		case "image":
			part := datatypes.Part{Type: datatypes.PartImage}
			if b.Source != nil {
				part.MediaType = b.Source.MediaType
				part.ImageData = b.Source.Data
				part.ImageURL = b.Source.URL
			}
			content.Parts = append(content.Parts, part)
		case "tool_use":
			call := datatypes.ToolCall{ID: b.ID, Name: b.Name, Arguments: b.Input}
			msg.ToolCalls = append(msg.ToolCalls, call)
			content.Parts = append(content.Parts, datatypes.Part{Type: datatypes.PartToolCall, ToolCall: &call})
		case "tool_result":
			result := datatypes.ToolResult{
				CallID:  b.ToolUseID,
				Content: decodeMessagesSystem(b.Content),
				IsError: b.IsError,
			}
			// A user turn carrying only tool_result blocks is the dialect-A
			// spelling of a tool-role turn.
			msg.Role = datatypes.RoleTool
			msg.ToolCallID = b.ToolUseID
			content.Parts = append(content.Parts, datatypes.Part{Type: datatypes.PartToolResult, ToolResult: &result})
		}
	}
	msg.Content = content
	return msg, nil
}

func encodeMessagesRequest(env *datatypes.Envelope, model string) ([]byte, error) {
	req := msgRequest{
		Model:     model,
		Stream:    env.Stream,
		MaxTokens: env.MaxTokens,
	}
	if req.MaxTokens == 0 {
		// Dialect A requires max_tokens.
		req.MaxTokens = 4096
	}
	if env.System != "" {
		req.System = mustJSON(env.System)
	}
	if env.UserID != "" {
		req.Metadata = &struct {
			UserID string `json:"user_id,omitempty"`
		}{UserID: env.UserID}
	}

	for _, m := range env.Messages {
		wm, skip := encodeMessagesTurn(m)
		if skip {
			continue
		}
		req.Messages = append(req.Messages, wm)
	}
	for _, t := range env.Tools {
		req.Tools = append(req.Tools, msgTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return json.Marshal(req)
}

func encodeMessagesTurn(m datatypes.Message) (msgMessage, bool) {
	switch m.Role {
	case datatypes.RoleSystem:
		// Already hoisted to the sibling field.
		return msgMessage{}, true
	case datatypes.RoleTool:
		block := msgBlock{
			Type:      "tool_result",
			ToolUseID: m.ToolCallID,
			Content:   mustJSON(m.Content.PlainText()),
		}
		return msgMessage{Role: "user", Content: mustJSON([]msgBlock{block})}, false
	}

	var blocks []msgBlock
	if m.Content.IsParts() {
		for _, p := range m.Content.Parts {
			switch p.Type {
			case datatypes.PartText:
				blocks = append(blocks, msgBlock{Type: "text", Text: p.Text})
			case datatypes.PartImage:
				src := &msgImageSource{Type: "base64", MediaType: p.MediaType, Data: p.ImageData}
				if p.ImageURL != "" {
					src = &msgImageSource{Type: "url", URL: p.ImageURL}
				}
				blocks = append(blocks, msgBlock{Type: "image", Source: src})
			}
		}
	} else if m.Content.Text != "" {
		blocks = append(blocks, msgBlock{Type: "text", Text: m.Content.Text})
	}
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, msgBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
	}
	if blocks == nil {
		blocks = []msgBlock{{Type: "text", Text: ""}}
	}
	return msgMessage{Role: string(m.Role), Content: mustJSON(blocks)}, false
}

// =============================================================================
// Dialect A: response conversion
// =============================================================================

func decodeMessagesResponse(body []byte) (*Response, error) {
	var wire msgResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse messages response: %w", err)
	}
	if wire.Error != nil {
		return nil, fmt.Errorf("upstream error: %s - %s", wire.Error.Type, wire.Error.Message)
	}

	resp := &Response{Model: wire.Model, StopReason: wire.StopReason}
	for _, b := range wire.Content {
		switch b.Type {
		case "text":
			resp.Text += b.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, datatypes.ToolCall{
				ID: b.ID, Name: b.Name, Arguments: b.Input,
			})
		}
	}
	if wire.Usage != nil {
		resp.Usage = datatypes.TokenUsage{
			InputTokens:  wire.Usage.InputTokens,
			OutputTokens: wire.Usage.OutputTokens,
		}
	}
	return resp, nil
}

func encodeMessagesResponse(env *datatypes.Envelope, resp *Response) ([]byte, error) {
	wire := msgResponse{
		ID:         "msg_" + env.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      resp.Model,
		StopReason: stopReasonToMessages(resp.StopReason, len(resp.ToolCalls) > 0),
		Usage: &msgUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	if resp.Text != "" || len(resp.ToolCalls) == 0 {
		wire.Content = append(wire.Content, msgBlock{Type: "text", Text: resp.Text})
	}
	for _, tc := range resp.ToolCalls {
		wire.Content = append(wire.Content, msgBlock{
			Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments,
		})
	}
	return json.Marshal(wire)
}

func stopReasonToMessages(reason string, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_use"
	}
	switch reason {
	case "", "stop", "completed", "end_turn":
		return "end_turn"
	case "length", "max_tokens":
		return "max_tokens"
	}
	return reason
}
