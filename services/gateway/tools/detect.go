// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/gateway/translator"
)

// =============================================================================
// Invocation Detection
// =============================================================================
//
// Models express tool calls in three formats, checked in priority order:
//
//  1. Native structured tool calls alongside the message body.
//  2. XML-tagged calls embedded in content: <tool_call>{...}</tool_call>.
//  3. Bare-JSON fallback: the entire trimmed content is one JSON object
//     with a "name" string and an "arguments" object.
//
// The bare-JSON tier is heuristic and can fire on a model that merely
// returns JSON, so it requires the two-key minimum AND only runs when the
// gateway itself injected tools into the request.

var toolCallTagPattern = regexp.MustCompile(`(?s)<tool_call>\s*(.*?)\s*</tool_call>`)

// embeddedCall is the JSON body inside an XML tag or a bare-JSON content.
type embeddedCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Detect extracts tool calls from a response.
//
// # Inputs
//
//   - resp: The decoded upstream response. Text is rewritten in place when
//     embedded calls are stripped out of it.
//   - injected: Whether the gateway injected the tools. Gates tier 3.
//
// # Outputs
//
//   - []datatypes.ToolCall: Detected calls, empty when the response is a
//     plain answer.
func Detect(resp *translator.Response, injected bool) []datatypes.ToolCall {
	if len(resp.ToolCalls) > 0 {
		return resp.ToolCalls
	}

	if calls, remainder, ok := detectXMLTagged(resp.Text); ok {
		resp.Text = remainder
		return calls
	}

	if injected {
		if call, ok := detectBareJSON(resp.Text); ok {
			resp.Text = ""
			return []datatypes.ToolCall{call}
		}
	}
	return nil
}

// detectXMLTagged scans for <tool_call> blocks and parses each enclosed
// JSON body. Returns the calls and the content with the blocks removed.
func detectXMLTagged(content string) ([]datatypes.ToolCall, string, bool) {
	matches := toolCallTagPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil, content, false
	}

	var calls []datatypes.ToolCall
	for _, m := range matches {
		var ec embeddedCall
		if err := json.Unmarshal([]byte(m[1]), &ec); err != nil || ec.Name == "" {
			continue
		}
		calls = append(calls, datatypes.ToolCall{
			ID:        "call_" + uuid.NewString()[:8],
			Name:      ec.Name,
			Arguments: normalizeArguments(ec.Arguments),
		})
	}
	if len(calls) == 0 {
		return nil, content, false
	}
	remainder := strings.TrimSpace(toolCallTagPattern.ReplaceAllString(content, ""))
	return calls, remainder, true
}

// detectBareJSON treats the whole trimmed content as a single tool call
// when it is one JSON object with a "name" string and an "arguments"
// object. Both keys are required.
func detectBareJSON(content string) (datatypes.ToolCall, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return datatypes.ToolCall{}, false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return datatypes.ToolCall{}, false
	}
	var name string
	if err := json.Unmarshal(probe["name"], &name); err != nil || name == "" {
		return datatypes.ToolCall{}, false
	}
	args, ok := probe["arguments"]
	if !ok || len(args) == 0 || args[0] != '{' {
		return datatypes.ToolCall{}, false
	}
	return datatypes.ToolCall{
		ID:        "call_" + uuid.NewString()[:8],
		Name:      name,
		Arguments: args,
	}, true
}

// normalizeArguments accepts arguments as an object or a JSON-encoded
// string containing an object; dialects disagree on which to emit.
func normalizeArguments(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err == nil {
			inner = strings.TrimSpace(inner)
			if strings.HasPrefix(inner, "{") {
				return json.RawMessage(inner)
			}
		}
	}
	return raw
}
