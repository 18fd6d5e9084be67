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
	"log/slog"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/gateway/dispatch"
	"github.com/AleutianAI/AleutianRelay/services/gateway/tools"
	"github.com/AleutianAI/AleutianRelay/services/gateway/translator"
)

// MaxToolRounds bounds the tool-execution loop. Further tool calls after
// the last round are ignored; any residual raw-JSON call in the visible
// content is left as-is.
const MaxToolRounds = 3

// runToolLoop detects and executes tool calls, re-dispatching with the
// results until the model answers in prose or the round budget runs out.
//
// # Description
//
// Follow-up requests go to the same backend with tool definitions
// removed, forcing the model to use the results rather than iterate.
// Tool failures become error-string results and never fail the request.
// Cancellation is checked between rounds.
func (p *Pipeline) runToolLoop(ctx context.Context, env *datatypes.Envelope, backend datatypes.BackendDescriptor, resp *translator.Response) *translator.Response {
	for round := 1; ; round++ {
		calls := tools.Detect(resp, env.ToolsInjected)
		if len(calls) == 0 {
			return resp
		}
		if round > MaxToolRounds {
			slog.Warn("Tool loop budget exhausted, ignoring further calls",
				"request_id", env.ID, "rounds", MaxToolRounds, "pending", len(calls))
			return resp
		}
		if ctx.Err() != nil {
			env.Cancelled = true
			return resp
		}

		env.ResponseToolCalls = append(env.ResponseToolCalls, calls...)
		p.appendToolTurns(ctx, env, resp, calls)

		followUp, err := p.redispatch(ctx, env, backend)
		if err != nil {
			slog.Warn("Tool-loop follow-up failed", "request_id", env.ID,
				"backend", backend.Name, "round", round, "error", err)
			env.Error = "tool follow-up failed: " + err.Error()
			return resp
		}
		env.AddUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		resp = followUp
	}
}

// appendToolTurns executes each call and extends the conversation with
// the assistant's call turn and one tool-role turn per result.
func (p *Pipeline) appendToolTurns(ctx context.Context, env *datatypes.Envelope, resp *translator.Response, calls []datatypes.ToolCall) {
	env.Messages = append(env.Messages, datatypes.Message{
		Role:      datatypes.RoleAssistant,
		Content:   datatypes.TurnContent{Text: resp.Text},
		ToolCalls: calls,
	})
	for _, call := range calls {
		result, err := p.registry.Execute(ctx, call)
		if err != nil {
			slog.Debug("Tool returned error result", "request_id", env.ID,
				"tool", call.Name, "error", err)
		}
		env.Messages = append(env.Messages, datatypes.Message{
			Role:       datatypes.RoleTool,
			Content:    datatypes.TurnContent{Text: result},
			ToolCallID: call.ID,
		})
	}
}

// redispatch sends the extended conversation back to the backend with
// tool definitions stripped.
func (p *Pipeline) redispatch(ctx context.Context, env *datatypes.Envelope, backend datatypes.BackendDescriptor) (*translator.Response, error) {
	savedTools := env.Tools
	env.Tools = nil
	defer func() { env.Tools = savedTools }()

	res, err := p.dispatchOnce(ctx, env, backend)
	if err != nil {
		return nil, err
	}
	if res.Status < 200 || res.Status >= 300 {
		return nil, &dispatch.UpstreamStatusError{Backend: backend.Name, Status: res.Status, Body: res.Body}
	}
	return translator.DecodeResponse(backend.Dialect, res.Body)
}

// =============================================================================
// Auto-Search Salvage
// =============================================================================

// maybeSalvage recovers a turn where the model refused for lack of live
// data even though tools were never injected: run web_search on the
// extracted topic and re-ask with the results appended. Best effort;
// every failure returns the original response unchanged.
func (p *Pipeline) maybeSalvage(ctx context.Context, env *datatypes.Envelope, backend datatypes.BackendDescriptor, resp *translator.Response) *translator.Response {
	if !p.opts.AutoSearchSalvage || env.ToolsInjected {
		return resp
	}
	if !tools.IsRealtimeRefusal(resp.Text) {
		return resp
	}
	topic := tools.ExtractSearchTopic(env.LastUserText())
	if topic == "" {
		return resp
	}

	args, _ := json.Marshal(map[string]string{"query": topic})
	searchResult, err := p.registry.Execute(ctx, datatypes.ToolCall{
		ID:        "salvage_" + env.ID[:8],
		Name:      "web_search",
		Arguments: args,
	})
	if err != nil {
		return resp
	}

	env.Messages = append(env.Messages,
		datatypes.Message{
			Role:    datatypes.RoleAssistant,
			Content: datatypes.TurnContent{Text: resp.Text},
		},
		datatypes.Message{
			Role: datatypes.RoleUser,
			Content: datatypes.TurnContent{Text: "Here are current search results:\n\n" +
				searchResult + "\n\nPlease answer my question again using this data."},
		})

	salvaged, err := p.redispatch(ctx, env, backend)
	if err != nil {
		slog.Debug("Salvage re-dispatch failed", "request_id", env.ID, "error", err)
		return resp
	}
	slog.Info("Salvaged realtime refusal", "request_id", env.ID, "topic", topic)
	return salvaged
}
