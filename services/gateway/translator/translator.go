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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// Response is the dialect-neutral buffered response representation.
type Response struct {
	Model      string
	Text       string
	Reasoning  string
	ToolCalls  []datatypes.ToolCall
	StopReason string
	Usage      datatypes.TokenUsage
}

// =============================================================================
// Request Conversion
// =============================================================================

// DecodeRequest parses a wire request in the given dialect into a fresh
// envelope.
func DecodeRequest(d datatypes.Dialect, body []byte) (*datatypes.Envelope, error) {
	switch d {
	case datatypes.DialectMessages:
		return decodeMessagesRequest(body)
	case datatypes.DialectChatCompletions:
		return decodeChatRequest(body)
	case datatypes.DialectResponses:
		return decodeResponsesRequest(body)
	}
	return nil, fmt.Errorf("unknown dialect %q", d)
}

// EncodeRequest renders the envelope as a wire request in the given
// dialect, addressed at the given model.
func EncodeRequest(d datatypes.Dialect, env *datatypes.Envelope, model string) ([]byte, error) {
	switch d {
	case datatypes.DialectMessages:
		return encodeMessagesRequest(env, model)
	case datatypes.DialectChatCompletions:
		return encodeChatRequest(env, model)
	case datatypes.DialectResponses:
		return encodeResponsesRequest(env, model)
	}
	return nil, fmt.Errorf("unknown dialect %q", d)
}

// =============================================================================
// Response Conversion
// =============================================================================

// DecodeResponse parses a buffered upstream response body in the given
// dialect into the neutral Response.
//
// Thinking-content stripping happens here for buffered responses: when
// content is empty and reasoning_content is not, the reasoning text is
// promoted and filtered.
func DecodeResponse(d datatypes.Dialect, body []byte) (*Response, error) {
	var resp *Response
	var err error
	switch d {
	case datatypes.DialectMessages:
		resp, err = decodeMessagesResponse(body)
	case datatypes.DialectChatCompletions:
		resp, err = decodeChatResponse(body)
	case datatypes.DialectResponses:
		resp, err = decodeResponsesResponse(body)
	default:
		return nil, fmt.Errorf("unknown dialect %q", d)
	}
	if err != nil {
		return nil, err
	}
	if resp.Text == "" && resp.Reasoning != "" {
		resp.Text = StripThinking(resp.Reasoning)
		resp.Reasoning = ""
	}
	return resp, nil
}

// EncodeResponse renders the neutral Response as a client-visible buffered
// body in the given dialect.
func EncodeResponse(d datatypes.Dialect, env *datatypes.Envelope, resp *Response) ([]byte, error) {
	switch d {
	case datatypes.DialectMessages:
		return encodeMessagesResponse(env, resp)
	case datatypes.DialectChatCompletions:
		return encodeChatResponse(env, resp)
	case datatypes.DialectResponses:
		return encodeResponsesResponse(env, resp)
	}
	return nil, fmt.Errorf("unknown dialect %q", d)
}

// =============================================================================
// Attribution
// =============================================================================

// AttributionFooter is appended to the user-visible text of every
// completed response.
func AttributionFooter(model string) string {
	return "\n\n_[via " + datatypes.ShortModelName(model) + "]_"
}

// AppendAttribution appends the footer unless the text already carries
// one, which happens when a tool-loop follow-up re-enters encoding.
func AppendAttribution(text, model string) string {
	if strings.Contains(text, "\n\n_[via ") {
		return text
	}
	return text + AttributionFooter(model)
}

// StripAttribution removes a trailing attribution footer. Round-trip
// translation uses it to recover the original user-visible text.
func StripAttribution(text string) string {
	idx := strings.LastIndex(text, "\n\n_[via ")
	if idx < 0 || !strings.HasSuffix(text, "]_") {
		return text
	}
	return text[:idx]
}

// =============================================================================
// Tool Prompt Synthesis
// =============================================================================

// toolPromptHeader instructs models without native tool calling how to
// invoke gateway tools. The XML envelope matches the content-embedded
// detection format.
const toolPromptHeader = `You have access to the following tools. To call a tool, respond with ONLY a block of the form:
<tool_call>
{"name": "<tool name>", "arguments": {<arguments object>}}
</tool_call>
Call a tool when the question needs current information you do not have. Otherwise answer directly.

Available tools:`

// SynthesizeToolPrompt appends textual tool definitions to the system
// prompt for backends that lack native tool calling.
func SynthesizeToolPrompt(system string, tools []datatypes.ToolDefinition) string {
	if len(tools) == 0 {
		return system
	}
	var sb strings.Builder
	if system != "" {
		sb.WriteString(system)
		sb.WriteString("\n\n")
	}
	sb.WriteString(toolPromptHeader)
	for _, t := range tools {
		sb.WriteString("\n- ")
		sb.WriteString(t.Name)
		if t.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(t.Description)
		}
		if len(t.Parameters) > 0 {
			sb.WriteString("\n  parameters: ")
			sb.Write(t.Parameters)
		}
	}
	return sb.String()
}
