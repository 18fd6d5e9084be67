// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/gateway/tools"
)

const toolCallContent = `<tool_call>{"name": "web_search", "arguments": {"query": "weather in Oslo"}}</tool_call>`

func registerStubSearch(t *testing.T, rig *testRig, result string) {
	t.Helper()
	require.NoError(t, rig.registry.Register(tools.WebSearchDefinition,
		func(ctx context.Context, args json.RawMessage) (string, error) {
			return result, nil
		}))
}

func TestHandle_ToolLoop(t *testing.T) {
	var requests [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, body)
		if len(requests) == 1 {
			w.Write([]byte(chatBody(toolCallContent)))
			return
		}
		w.Write([]byte(chatBody("It is 8°C and raining in Oslo.")))
	}))
	defer srv.Close()

	rig := newTestRig(t, []datatypes.BackendDescriptor{chatBackend("local", srv.URL, "realtime")}, defaultOpts())
	registerStubSearch(t, rig, "Current weather for Oslo: 8°C, light rain")

	res := rig.pipe.Handle(context.Background(), datatypes.DialectChatCompletions,
		chatReq(t, "what's the weather in Oslo?", false), "")

	require.Equal(t, 200, res.Status)
	require.Len(t, requests, 2)

	// The realtime verdict triggered server-side tool injection.
	assert.True(t, res.Env.ToolsInjected)
	assert.Contains(t, string(requests[0]), `"tools"`)
	assert.Contains(t, string(requests[0]), "web_search")

	// The follow-up carries the tool result but no tool definitions.
	assert.NotContains(t, string(requests[1]), `"tools"`)
	assert.Contains(t, string(requests[1]), "Current weather for Oslo")
	assert.Contains(t, string(requests[1]), `"tool"`)

	text := decodeChatText(t, res.Body)
	assert.Contains(t, text, "It is 8°C and raining in Oslo.")
	assert.Contains(t, text, "_[via llama3.2:3b]_")

	require.Len(t, res.Env.ResponseToolCalls, 1)
	assert.Equal(t, "web_search", res.Env.ResponseToolCalls[0].Name)
}

func TestHandle_ToolLoopBudget(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		// The model keeps asking for tools on every round.
		w.Write([]byte(chatBody(toolCallContent)))
	}))
	defer srv.Close()

	rig := newTestRig(t, []datatypes.BackendDescriptor{chatBackend("local", srv.URL, "realtime")}, defaultOpts())
	registerStubSearch(t, rig, "stub result")

	res := rig.pipe.Handle(context.Background(), datatypes.DialectChatCompletions,
		chatReq(t, "what's the weather in Oslo?", false), "")

	require.Equal(t, 200, res.Status)
	assert.Equal(t, 1+MaxToolRounds, hits)
}

func TestHandle_ToolInjectionForcesSyntheticStream(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(chatBody("Sunny, 20°C.")))
	}))
	defer srv.Close()

	rig := newTestRig(t, []datatypes.BackendDescriptor{chatBackend("local", srv.URL, "realtime")}, defaultOpts())
	registerStubSearch(t, rig, "stub result")

	res := rig.pipe.Handle(context.Background(), datatypes.DialectChatCompletions,
		chatReq(t, "what's the weather in Oslo?", true), "")

	// The dispatch ran unary so the tool loop could parse it, but the
	// client still gets its stream.
	require.Equal(t, 200, res.Status)
	assert.Nil(t, res.Body)
	require.NotNil(t, res.Stream)
	assert.Equal(t, 1, hits)
	assert.True(t, res.Env.ToolsInjected)
}

func TestHandle_NoInjectionWithoutRealtimeVerdict(t *testing.T) {
	var requests [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, body)
		w.Write([]byte(chatBody("Hello!")))
	}))
	defer srv.Close()

	rig := newTestRig(t, []datatypes.BackendDescriptor{chatBackend("local", srv.URL, "conversation")}, defaultOpts())
	registerStubSearch(t, rig, "stub result")

	res := rig.pipe.Handle(context.Background(), datatypes.DialectChatCompletions,
		chatReq(t, "Hello there!", false), "")

	require.Equal(t, 200, res.Status)
	require.Len(t, requests, 1)
	assert.False(t, res.Env.ToolsInjected)
	assert.NotContains(t, string(requests[0]), `"tools"`)
}

// =============================================================================
// Auto-Search Salvage
// =============================================================================

func TestHandle_SalvagesRealtimeRefusal(t *testing.T) {
	var requests [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, body)
		if len(requests) == 1 {
			w.Write([]byte(chatBody("I don't have access to real-time data, but generally prices vary.")))
			return
		}
		w.Write([]byte(chatBody("Bitcoin is trading at $97,000 right now.")))
	}))
	defer srv.Close()

	opts := defaultOpts()
	opts.RouterEnabled = false // no classification, so no tool injection
	opts.AutoSearchSalvage = true
	rig := newTestRig(t, []datatypes.BackendDescriptor{chatBackend("local", srv.URL)}, opts)
	registerStubSearch(t, rig, "BTC: $97,000.00 (+1.2% 24h)")

	res := rig.pipe.Handle(context.Background(), datatypes.DialectChatCompletions,
		chatReq(t, "what is the bitcoin price?", false), "")

	require.Equal(t, 200, res.Status)
	require.Len(t, requests, 2)
	assert.Contains(t, string(requests[1]), "current search results")
	assert.Contains(t, string(requests[1]), "$97,000.00")

	text := decodeChatText(t, res.Body)
	assert.Contains(t, text, "Bitcoin is trading at $97,000 right now.")
}

func TestHandle_SalvageDisabledLeavesRefusal(t *testing.T) {
	var hits int
	refusal := "I don't have access to real-time data, but generally prices vary."
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(chatBody(refusal)))
	}))
	defer srv.Close()

	opts := defaultOpts()
	opts.RouterEnabled = false
	rig := newTestRig(t, []datatypes.BackendDescriptor{chatBackend("local", srv.URL)}, opts)
	registerStubSearch(t, rig, "unused")

	res := rig.pipe.Handle(context.Background(), datatypes.DialectChatCompletions,
		chatReq(t, "what is the bitcoin price?", false), "")

	require.Equal(t, 200, res.Status)
	assert.Equal(t, 1, hits)
	assert.Contains(t, decodeChatText(t, res.Body), refusal)
}
