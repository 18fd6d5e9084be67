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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// =============================================================================
// Request decoding
// =============================================================================

func TestDecodeChatRequest_HoistsSystemTurn(t *testing.T) {
	body := []byte(`{
		"model": "qwen2.5-coder:32b",
		"stream": true,
		"max_tokens": 512,
		"user": "u-17",
		"messages": [
			{"role": "system", "content": "You are terse."},
			{"role": "user", "content": "Write a binary search in Go."}
		]
	}`)

	env, err := DecodeRequest(datatypes.DialectChatCompletions, body)
	require.NoError(t, err)

	assert.Equal(t, datatypes.DialectChatCompletions, env.ClientDialect)
	assert.True(t, env.Stream)
	assert.Equal(t, "qwen2.5-coder:32b", env.ModelHint)
	assert.Equal(t, 512, env.MaxTokens)
	assert.Equal(t, "u-17", env.UserID)
	assert.Equal(t, "You are terse.", env.System)
	require.Len(t, env.Messages, 1)
	assert.Equal(t, datatypes.RoleUser, env.Messages[0].Role)
	assert.Equal(t, "Write a binary search in Go.", env.Messages[0].Content.PlainText())
}

func TestDecodeChatRequest_ContentParts(t *testing.T) {
	body := []byte(`{
		"model": "llava",
		"messages": [{
			"role": "user",
			"content": [
				{"type": "text", "text": "What is in this image?"},
				{"type": "image_url", "image_url": {"url": "https://example.com/cat.png"}}
			]
		}]
	}`)

	env, err := DecodeRequest(datatypes.DialectChatCompletions, body)
	require.NoError(t, err)
	require.Len(t, env.Messages, 1)
	require.True(t, env.Messages[0].Content.IsParts())
	parts := env.Messages[0].Content.Parts
	require.Len(t, parts, 2)
	assert.Equal(t, datatypes.PartText, parts[0].Type)
	assert.Equal(t, datatypes.PartImage, parts[1].Type)
	assert.Equal(t, "https://example.com/cat.png", parts[1].ImageURL)
}

func TestDecodeChatRequest_ToolCallsAndTools(t *testing.T) {
	body := []byte(`{
		"model": "m",
		"messages": [
			{"role": "user", "content": "weather in Oslo?"},
			{"role": "assistant", "tool_calls": [{
				"id": "call_1", "type": "function",
				"function": {"name": "web_search", "arguments": "{\"query\":\"Oslo weather\"}"}
			}]},
			{"role": "tool", "tool_call_id": "call_1", "content": "overcast, 4C"}
		],
		"tools": [{"type": "function", "function": {
			"name": "web_search",
			"description": "Search the web",
			"parameters": {"type": "object"}
		}}]
	}`)

	env, err := DecodeRequest(datatypes.DialectChatCompletions, body)
	require.NoError(t, err)
	require.Len(t, env.Messages, 3)

	asst := env.Messages[1]
	require.Len(t, asst.ToolCalls, 1)
	assert.Equal(t, "call_1", asst.ToolCalls[0].ID)
	assert.Equal(t, "web_search", asst.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"Oslo weather"}`, string(asst.ToolCalls[0].Arguments))

	tool := env.Messages[2]
	assert.Equal(t, datatypes.RoleTool, tool.Role)
	assert.Equal(t, "call_1", tool.ToolCallID)
	assert.Equal(t, "overcast, 4C", tool.Content.PlainText())

	require.Len(t, env.Tools, 1)
	assert.Equal(t, "web_search", env.Tools[0].Name)
}

func TestDecodeMessagesRequest(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet",
		"system": "Be helpful.",
		"max_tokens": 1024,
		"metadata": {"user_id": "u-9"},
		"messages": [
			{"role": "user", "content": [
				{"type": "text", "text": "hi"},
				{"type": "image", "source": {"type": "base64", "media_type": "image/png", "data": "AAAA"}}
			]},
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "toolu_1", "name": "web_search", "input": {"query": "x"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": "found it"}
			]}
		],
		"tools": [{"name": "web_search", "input_schema": {"type": "object"}}]
	}`)

	env, err := DecodeRequest(datatypes.DialectMessages, body)
	require.NoError(t, err)
	assert.Equal(t, "Be helpful.", env.System)
	assert.Equal(t, "u-9", env.UserID)
	require.Len(t, env.Messages, 3)

	parts := env.Messages[0].Content.Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "image/png", parts[1].MediaType)
	assert.Equal(t, "AAAA", parts[1].ImageData)

	require.Len(t, env.Messages[1].ToolCalls, 1)
	assert.Equal(t, "toolu_1", env.Messages[1].ToolCalls[0].ID)

	// A user turn carrying tool_result blocks becomes a tool-role turn.
	assert.Equal(t, datatypes.RoleTool, env.Messages[2].Role)
	assert.Equal(t, "toolu_1", env.Messages[2].ToolCallID)
	assert.Equal(t, "found it", env.Messages[2].Content.Parts[0].ToolResult.Content)
}

func TestDecodeMessagesRequest_SystemBlocks(t *testing.T) {
	body := []byte(`{
		"model": "m",
		"system": [{"type": "text", "text": "first "}, {"type": "text", "text": "second"}],
		"messages": [{"role": "user", "content": "hi"}]
	}`)
	env, err := DecodeRequest(datatypes.DialectMessages, body)
	require.NoError(t, err)
	assert.Equal(t, "first second", env.System)
}

func TestDecodeResponsesRequest_StringInput(t *testing.T) {
	body := []byte(`{
		"model": "gpt-oss:20b",
		"instructions": "Answer briefly.",
		"input": "What is a goroutine?",
		"max_output_tokens": 256
	}`)
	env, err := DecodeRequest(datatypes.DialectResponses, body)
	require.NoError(t, err)
	assert.Equal(t, "Answer briefly.", env.System)
	assert.Equal(t, 256, env.MaxTokens)
	require.Len(t, env.Messages, 1)
	assert.Equal(t, datatypes.RoleUser, env.Messages[0].Role)
	assert.Equal(t, "What is a goroutine?", env.Messages[0].Content.PlainText())
}

func TestDecodeResponsesRequest_Items(t *testing.T) {
	body := []byte(`{
		"model": "m",
		"input": [
			{"role": "developer", "content": "You are a router."},
			{"role": "user", "content": [{"type": "input_text", "text": "hello"}]},
			{"type": "function_call", "call_id": "fc_1", "name": "web_search", "arguments": "{\"query\":\"q\"}"},
			{"type": "function_call_output", "call_id": "fc_1", "output": "results"}
		]
	}`)
	env, err := DecodeRequest(datatypes.DialectResponses, body)
	require.NoError(t, err)

	// developer turn hoisted to the system slot, not kept as a message.
	assert.Equal(t, "You are a router.", env.System)
	require.Len(t, env.Messages, 3)

	assert.Equal(t, datatypes.RoleUser, env.Messages[0].Role)
	require.Len(t, env.Messages[1].ToolCalls, 1)
	assert.Equal(t, "fc_1", env.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, datatypes.RoleTool, env.Messages[2].Role)
	assert.Equal(t, "results", env.Messages[2].Content.PlainText())
}

func TestDecodeRequest_Malformed(t *testing.T) {
	for _, d := range []datatypes.Dialect{
		datatypes.DialectMessages,
		datatypes.DialectChatCompletions,
		datatypes.DialectResponses,
	} {
		_, err := DecodeRequest(d, []byte(`{"messages": "nope`))
		assert.Error(t, err, "dialect %s", d)
	}
	_, err := DecodeRequest(datatypes.Dialect("bogus"), []byte(`{}`))
	assert.Error(t, err)
}

// =============================================================================
// Request encoding and cross-dialect round trips
// =============================================================================

func TestEncodeRequest_ChatToMessages(t *testing.T) {
	src := []byte(`{
		"model": "whatever",
		"messages": [
			{"role": "system", "content": "Be brief."},
			{"role": "user", "content": "hi"}
		],
		"stream": true
	}`)
	env, err := DecodeRequest(datatypes.DialectChatCompletions, src)
	require.NoError(t, err)

	out, err := EncodeRequest(datatypes.DialectMessages, env, "claude-sonnet")
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(out, &wire))
	assert.Equal(t, "claude-sonnet", wire["model"])
	assert.Equal(t, "Be brief.", wire["system"])
	assert.Equal(t, true, wire["stream"])
	// Dialect A requires max_tokens; the encoder defaults it.
	assert.Equal(t, float64(4096), wire["max_tokens"])

	msgs := wire["messages"].([]any)
	require.Len(t, msgs, 1)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
}

func TestEncodeRequest_MessagesToChat(t *testing.T) {
	src := []byte(`{
		"model": "x",
		"system": "sys",
		"max_tokens": 100,
		"messages": [
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "t1", "name": "web_search", "input": {"query": "q"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "t1", "content": "ok"}
			]}
		]
	}`)
	env, err := DecodeRequest(datatypes.DialectMessages, src)
	require.NoError(t, err)

	out, err := EncodeRequest(datatypes.DialectChatCompletions, env, "qwen3:8b")
	require.NoError(t, err)

	var wire chatRequest
	require.NoError(t, json.Unmarshal(out, &wire))
	assert.Equal(t, "qwen3:8b", wire.Model)
	require.Len(t, wire.Messages, 4)
	assert.Equal(t, "system", wire.Messages[0].Role)
	assert.Equal(t, "user", wire.Messages[1].Role)

	asst := wire.Messages[2]
	assert.Equal(t, "assistant", asst.Role)
	require.Len(t, asst.ToolCalls, 1)
	assert.Equal(t, "web_search", asst.ToolCalls[0].Function.Name)
	// Dialect B carries arguments as a JSON-encoded string.
	assert.JSONEq(t, `{"query":"q"}`, asst.ToolCalls[0].Function.Arguments)

	tool := wire.Messages[3]
	assert.Equal(t, "tool", tool.Role)
	assert.Equal(t, "t1", tool.ToolCallID)
}

func TestEncodeRequest_ChatToResponses(t *testing.T) {
	src := []byte(`{
		"model": "x",
		"messages": [
			{"role": "system", "content": "sys"},
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello there"}
		]
	}`)
	env, err := DecodeRequest(datatypes.DialectChatCompletions, src)
	require.NoError(t, err)

	out, err := EncodeRequest(datatypes.DialectResponses, env, "gpt-oss:20b")
	require.NoError(t, err)

	var wire respRequest
	require.NoError(t, json.Unmarshal(out, &wire))
	assert.Equal(t, "sys", wire.Instructions)

	var items []respInputItem
	require.NoError(t, json.Unmarshal(wire.Input, &items))
	require.Len(t, items, 2)
	assert.Equal(t, "user", items[0].Role)
	assert.Equal(t, "assistant", items[1].Role)

	// Assistant text rides as output_text parts.
	var parts []respContentPart
	require.NoError(t, json.Unmarshal(items[1].Content, &parts))
	require.Len(t, parts, 1)
	assert.Equal(t, "output_text", parts[0].Type)
	assert.Equal(t, "hello there", parts[0].Text)
}

func TestEncodeRequest_SameDialectRoundTrip(t *testing.T) {
	src := []byte(`{
		"model": "x",
		"messages": [
			{"role": "system", "content": "s"},
			{"role": "user", "content": "u"}
		],
		"tools": [{"type": "function", "function": {"name": "t", "parameters": {"type": "object"}}}],
		"max_tokens": 64
	}`)
	env, err := DecodeRequest(datatypes.DialectChatCompletions, src)
	require.NoError(t, err)

	out, err := EncodeRequest(datatypes.DialectChatCompletions, env, "m")
	require.NoError(t, err)

	env2, err := DecodeRequest(datatypes.DialectChatCompletions, out)
	require.NoError(t, err)
	assert.Equal(t, env.System, env2.System)
	assert.Equal(t, env.MaxTokens, env2.MaxTokens)
	require.Len(t, env2.Messages, 1)
	assert.Equal(t, env.Messages[0].Content.PlainText(), env2.Messages[0].Content.PlainText())
	require.Len(t, env2.Tools, 1)
	assert.Equal(t, "t", env2.Tools[0].Name)
}

// =============================================================================
// Response conversion
// =============================================================================

func TestDecodeResponse_Chat(t *testing.T) {
	body := []byte(`{
		"id": "chatcmpl-1",
		"model": "qwen2.5-coder:32b",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "done"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
	}`)
	resp, err := DecodeResponse(datatypes.DialectChatCompletions, body)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)
}

func TestDecodeResponse_ChatNoChoices(t *testing.T) {
	_, err := DecodeResponse(datatypes.DialectChatCompletions, []byte(`{"choices": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestDecodeResponse_PromotesReasoningContent(t *testing.T) {
	body := []byte(`{
		"model": "deepseek-r1:14b",
		"choices": [{"index": 0, "message": {
			"role": "assistant",
			"content": "",
			"reasoning_content": "The user is asking about stocking a 50-gallon tank. Let me provide a recommendation. For a 50-gallon tank, start with a school of ten neon tetras."
		}, "finish_reason": "stop"}]
	}`)
	resp, err := DecodeResponse(datatypes.DialectChatCompletions, body)
	require.NoError(t, err)
	assert.Equal(t, "For a 50-gallon tank, start with a school of ten neon tetras.", resp.Text)
	assert.Empty(t, resp.Reasoning)
}

func TestDecodeResponse_MessagesToolUse(t *testing.T) {
	body := []byte(`{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet",
		"content": [
			{"type": "text", "text": "Let me look that up."},
			{"type": "tool_use", "id": "toolu_9", "name": "web_search", "input": {"query": "news"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 5, "output_tokens": 9}
	}`)
	resp, err := DecodeResponse(datatypes.DialectMessages, body)
	require.NoError(t, err)
	assert.Equal(t, "Let me look that up.", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_9", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"query":"news"}`, string(resp.ToolCalls[0].Arguments))
}

func TestDecodeResponse_MessagesError(t *testing.T) {
	body := []byte(`{"type": "error", "error": {"type": "overloaded_error", "message": "busy"}}`)
	_, err := DecodeResponse(datatypes.DialectMessages, body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded_error")
}

func TestDecodeResponse_Responses(t *testing.T) {
	body := []byte(`{
		"id": "resp_1",
		"object": "response",
		"model": "gpt-oss:20b",
		"status": "completed",
		"output": [
			{"type": "message", "role": "assistant", "content": [{"type": "output_text", "text": "hi"}]},
			{"type": "function_call", "call_id": "fc_2", "name": "web_search", "arguments": "{\"query\":\"x\"}"}
		],
		"usage": {"input_tokens": 7, "output_tokens": 2, "total_tokens": 9}
	}`)
	resp, err := DecodeResponse(datatypes.DialectResponses, body)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "fc_2", resp.ToolCalls[0].ID)
	assert.Equal(t, 7, resp.Usage.InputTokens)
}

func TestEncodeResponse_PerDialect(t *testing.T) {
	env := datatypes.NewEnvelope(datatypes.DialectChatCompletions)
	resp := &Response{
		Model:      "qwen3:8b",
		Text:       "answer",
		StopReason: "stop",
		Usage:      datatypes.TokenUsage{InputTokens: 4, OutputTokens: 6},
	}

	t.Run("chat", func(t *testing.T) {
		out, err := EncodeResponse(datatypes.DialectChatCompletions, env, resp)
		require.NoError(t, err)
		var wire chatResponse
		require.NoError(t, json.Unmarshal(out, &wire))
		assert.Equal(t, "chat.completion", wire.Object)
		require.Len(t, wire.Choices, 1)
		assert.Equal(t, "answer", wire.Choices[0].Message.Content)
		assert.Equal(t, "stop", wire.Choices[0].FinishReason)
		assert.Equal(t, 10, wire.Usage.TotalTokens)
	})

	t.Run("messages", func(t *testing.T) {
		out, err := EncodeResponse(datatypes.DialectMessages, env, resp)
		require.NoError(t, err)
		var wire msgResponse
		require.NoError(t, json.Unmarshal(out, &wire))
		assert.Equal(t, "message", wire.Type)
		assert.Equal(t, "end_turn", wire.StopReason)
		require.Len(t, wire.Content, 1)
		assert.Equal(t, "answer", wire.Content[0].Text)
	})

	t.Run("responses", func(t *testing.T) {
		out, err := EncodeResponse(datatypes.DialectResponses, env, resp)
		require.NoError(t, err)
		var wire respResponse
		require.NoError(t, json.Unmarshal(out, &wire))
		assert.Equal(t, "completed", wire.Status)
		require.Len(t, wire.Output, 1)
		var parts []respContentPart
		require.NoError(t, json.Unmarshal(wire.Output[0].Content, &parts))
		assert.Equal(t, "answer", parts[0].Text)
	})
}

func TestEncodeResponse_ToolCallsSetFinishReason(t *testing.T) {
	env := datatypes.NewEnvelope(datatypes.DialectChatCompletions)
	resp := &Response{
		Model:      "m",
		StopReason: "stop",
		ToolCalls: []datatypes.ToolCall{
			{ID: "c1", Name: "web_search", Arguments: json.RawMessage(`{"query":"x"}`)},
		},
	}

	out, err := EncodeResponse(datatypes.DialectChatCompletions, env, resp)
	require.NoError(t, err)
	var chat chatResponse
	require.NoError(t, json.Unmarshal(out, &chat))
	assert.Equal(t, "tool_calls", chat.Choices[0].FinishReason)
	require.Len(t, chat.Choices[0].Message.ToolCalls, 1)

	out, err = EncodeResponse(datatypes.DialectMessages, env, resp)
	require.NoError(t, err)
	var msg msgResponse
	require.NoError(t, json.Unmarshal(out, &msg))
	assert.Equal(t, "tool_use", msg.StopReason)
}

func TestStopReasonMapping(t *testing.T) {
	tests := []struct {
		in       string
		chat     string
		messages string
	}{
		{"end_turn", "stop", "end_turn"},
		{"stop", "stop", "end_turn"},
		{"completed", "stop", "end_turn"},
		{"", "stop", "end_turn"},
		{"max_tokens", "length", "max_tokens"},
		{"length", "length", "max_tokens"},
		{"content_filter", "content_filter", "content_filter"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.chat, stopReasonToChat(tt.in, false), "chat(%q)", tt.in)
		assert.Equal(t, tt.messages, stopReasonToMessages(tt.in, false), "messages(%q)", tt.in)
	}
}

// =============================================================================
// Attribution
// =============================================================================

func TestAppendAttribution(t *testing.T) {
	out := AppendAttribution("Hello", "qwen2.5-coder:32b")
	assert.Equal(t, "Hello\n\n_[via qwen2.5-coder:32b]_", out)

	// Already attributed text is left alone.
	again := AppendAttribution(out, "qwen2.5-coder:32b")
	assert.Equal(t, out, again)
}

func TestStripAttribution(t *testing.T) {
	assert.Equal(t, "Hello", StripAttribution("Hello\n\n_[via llama3.2:3b]_"))
	assert.Equal(t, "Hello", StripAttribution("Hello"))
	// Footer not at the end is not a footer.
	mid := "a\n\n_[via m]_ and more"
	assert.Equal(t, mid, StripAttribution(mid))
}

// =============================================================================
// Tool prompt synthesis
// =============================================================================

func TestSynthesizeToolPrompt(t *testing.T) {
	tools := []datatypes.ToolDefinition{{
		Name:        "web_search",
		Description: "Search the web for current information",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}}}`),
	}}

	out := SynthesizeToolPrompt("You are helpful.", tools)
	assert.True(t, strings.HasPrefix(out, "You are helpful.\n\n"))
	assert.Contains(t, out, "<tool_call>")
	assert.Contains(t, out, "- web_search: Search the web for current information")
	assert.Contains(t, out, `"query"`)

	// Empty tool set is a no-op.
	assert.Equal(t, "sys", SynthesizeToolPrompt("sys", nil))

	// No system prompt still produces instructions.
	bare := SynthesizeToolPrompt("", tools)
	assert.True(t, strings.HasPrefix(bare, "You have access to the following tools"))
}
