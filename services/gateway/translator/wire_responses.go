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
// Dialect C: responses-style wire types
// =============================================================================

type respRequest struct {
	Model        string          `json:"model"`
	Input        json.RawMessage `json:"input,omitempty"`
	Instructions string          `json:"instructions,omitempty"`
	Tools        []respTool      `json:"tools,omitempty"`
	Stream       bool            `json:"stream,omitempty"`
	MaxOutputTokens int          `json:"max_output_tokens,omitempty"`
	User         string          `json:"user,omitempty"`
}

// respInputItem is one element of an array-form input. The dialect reuses
// the same item shapes in request input and response output.
type respInputItem struct {
	Type    string          `json:"type,omitempty"`
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`

	// function_call
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// function_call_output
	Output string `json:"output,omitempty"`
}

type respContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type respTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type respUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type respResponse struct {
	ID     string          `json:"id"`
	Object string          `json:"object"`
	Model  string          `json:"model,omitempty"`
	Status string          `json:"status,omitempty"`
	Output []respInputItem `json:"output"`
	Usage  *respUsage      `json:"usage,omitempty"`
	Error  *struct {
		Code    string `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
}

// respStreamEvent is one typed lifecycle event on the dialect-C stream.
type respStreamEvent struct {
	Type     string        `json:"type"`
	Response *respResponse `json:"response,omitempty"`
	Item     *respInputItem `json:"item,omitempty"`
	OutputIndex int        `json:"output_index,omitempty"`
	ContentIndex int       `json:"content_index,omitempty"`
	Delta    string        `json:"delta,omitempty"`
	Text     string        `json:"text,omitempty"`
}

// =============================================================================
// Dialect C: request conversion
// =============================================================================

func decodeResponsesRequest(body []byte) (*datatypes.Envelope, error) {
	var req respRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("failed to parse responses request: %w", err)
	}

	env := datatypes.NewEnvelope(datatypes.DialectResponses)
	env.Stream = req.Stream
	env.ModelHint = req.Model
	env.MaxTokens = req.MaxOutputTokens
	env.UserID = req.User
	env.System = req.Instructions

	if len(req.Input) > 0 && string(req.Input) != "null" {
		// Input is either a bare string (one user turn) or an item array.
		var text string
		if err := json.Unmarshal(req.Input, &text); err == nil {
			env.Messages = append(env.Messages, datatypes.Message{
				Role:    datatypes.RoleUser,
				Content: datatypes.TurnContent{Text: text},
			})
		} else {
			var items []respInputItem
			if err := json.Unmarshal(req.Input, &items); err != nil {
				return nil, fmt.Errorf("unsupported responses input shape: %s", previewJSON(req.Input))
			}
			for _, it := range items {
				msg, skip, err := decodeResponsesItem(it, env)
				if err != nil {
					return nil, err
				}
				if !skip {
					env.Messages = append(env.Messages, msg)
				}
			}
		}
	}

	for _, t := range req.Tools {
		if t.Type != "function" && t.Type != "" {
			continue
		}
		env.Tools = append(env.Tools, datatypes.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return env, nil
}

func decodeResponsesItem(it respInputItem, env *datatypes.Envelope) (datatypes.Message, bool, error) {
	switch it.Type {
	case "function_call":
		call := datatypes.ToolCall{
			ID:        firstNonEmpty(it.CallID, it.ID),
			Name:      it.Name,
			Arguments: json.RawMessage(it.Arguments),
		}
		return datatypes.Message{
			Role:      datatypes.RoleAssistant,
			ToolCalls: []datatypes.ToolCall{call},
		}, false, nil
	case "function_call_output":
		return datatypes.Message{
			Role:       datatypes.RoleTool,
			ToolCallID: it.CallID,
			Content:    datatypes.TurnContent{Text: it.Output},
		}, false, nil
	}

	role := datatypes.Role(it.Role)
	// Role "developer" is dialect C's spelling of a system turn; hoist it.
	if it.Role == "developer" {
		if env.System == "" {
			env.System = decodeResponsesContentText(it.Content)
		}
		return datatypes.Message{}, true, nil
	}
	msg := datatypes.Message{Role: role}
	content, err := decodeResponsesContent(it.Content)
	if err != nil {
		return msg, false, err
	}
	msg.Content = content
	return msg, false, nil
}

func decodeResponsesContent(raw json.RawMessage) (datatypes.TurnContent, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return datatypes.TurnContent{}, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return datatypes.TurnContent{Text: text}, nil
	}
	var parts []respContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return datatypes.TurnContent{}, fmt.Errorf("unsupported responses content shape: %s", previewJSON(raw))
	}
	out := datatypes.TurnContent{Parts: []datatypes.Part{}}
	for _, p := range parts {
		switch p.Type {
		case "input_text", "output_text", "text":
			out.Parts = append(out.Parts, datatypes.Part{Type: datatypes.PartText, Text: p.Text})
		case "input_image":
			out.Parts = append(out.Parts, datatypes.Part{Type: datatypes.PartImage, ImageURL: p.ImageURL})
		}
	}
	return out, nil
}

func decodeResponsesContentText(raw json.RawMessage) string {
	c, err := decodeResponsesContent(raw)
	if err != nil {
		return ""
	}
	return c.PlainText()
}

func encodeResponsesRequest(env *datatypes.Envelope, model string) ([]byte, error) {
	req := respRequest{
		Model:           model,
		Stream:          env.Stream,
		Instructions:    env.System,
		MaxOutputTokens: env.MaxTokens,
		User:            env.UserID,
	}

	var items []respInputItem
	for _, m := range env.Messages {
		switch m.Role {
		case datatypes.RoleSystem:
			if req.Instructions == "" {
				req.Instructions = m.Content.PlainText()
			}
			continue
		case datatypes.RoleTool:
			items = append(items, respInputItem{
				Type:   "function_call_output",
				CallID: m.ToolCallID,
				Output: m.Content.PlainText(),
			})
			continue
		}
		if len(m.ToolCalls) > 0 {
			for _, tc := range m.ToolCalls {
				items = append(items, respInputItem{
					Type:      "function_call",
					CallID:    tc.ID,
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				})
			}
			if m.Content.PlainText() == "" {
				continue
			}
		}
		items = append(items, respInputItem{
			Role:    string(m.Role),
			Content: encodeResponsesContent(m.Role, m.Content),
		})
	}
	req.Input = mustJSON(items)

	for _, t := range env.Tools {
		req.Tools = append(req.Tools, respTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return json.Marshal(req)
}

func encodeResponsesContent(role datatypes.Role, c datatypes.TurnContent) json.RawMessage {
	textType := "input_text"
	if role == datatypes.RoleAssistant {
		textType = "output_text"
	}
	var parts []respContentPart
	if c.IsParts() {
		for _, p := range c.Parts {
			switch p.Type {
			case datatypes.PartText:
				parts = append(parts, respContentPart{Type: textType, Text: p.Text})
			case datatypes.PartImage:
				parts = append(parts, respContentPart{Type: "input_image", ImageURL: p.ImageURL})
			}
		}
	} else {
		parts = append(parts, respContentPart{Type: textType, Text: c.Text})
	}
	return mustJSON(parts)
}

// =============================================================================
// Dialect C: response conversion
// =============================================================================

func decodeResponsesResponse(body []byte) (*Response, error) {
	var wire respResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse responses response: %w", err)
	}
	if wire.Error != nil {
		return nil, fmt.Errorf("upstream error: %s - %s", wire.Error.Code, wire.Error.Message)
	}

	resp := &Response{Model: wire.Model, StopReason: wire.Status}
	for _, it := range wire.Output {
		switch it.Type {
		case "message":
			resp.Text += decodeResponsesContentText(it.Content)
		case "function_call":
			resp.ToolCalls = append(resp.ToolCalls, datatypes.ToolCall{
				ID:        firstNonEmpty(it.CallID, it.ID),
				Name:      it.Name,
				Arguments: json.RawMessage(it.Arguments),
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

func encodeResponsesResponse(env *datatypes.Envelope, resp *Response) ([]byte, error) {
	wire := respResponse{
		ID:     "resp_" + env.ID,
		Object: "response",
		Model:  resp.Model,
		Status: "completed",
		Usage: &respUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	if resp.Text != "" || len(resp.ToolCalls) == 0 {
		wire.Output = append(wire.Output, respInputItem{
			Type: "message",
			Role: "assistant",
			Content: mustJSON([]respContentPart{
				{Type: "output_text", Text: resp.Text},
			}),
		})
	}
	for _, tc := range resp.ToolCalls {
		wire.Output = append(wire.Output, respInputItem{
			Type:      "function_call",
			CallID:    tc.ID,
			Name:      tc.Name,
			Arguments: string(tc.Arguments),
		})
	}
	return json.Marshal(wire)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
