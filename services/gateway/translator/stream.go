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
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// =============================================================================
// Stream Events
// =============================================================================

// Event is one server-sent-event frame. Name is the "event:" field;
// dialect B frames carry data only.
type Event struct {
	Name string
	Data []byte
}

// DoneEvent is the dialect-B terminal sentinel frame.
var DoneEvent = Event{Data: []byte("[DONE]")}

// StreamDelta is the dialect-neutral unit between the upstream decoder
// and the client encoder.
type StreamDelta struct {
	Text  string
	Usage *datatypes.TokenUsage
	Done  bool
}

// =============================================================================
// Stream State Machine
// =============================================================================

// streamPhase is the explicit state of one streaming translation.
type streamPhase int

const (
	phaseInit streamPhase = iota
	phaseInProgress
	phaseThinkingBuffered
	phaseStreaming
	phaseDone
)

// StreamState translates one upstream chunk stream into one client chunk
// stream.
//
// # Description
//
// A StreamState is created per request. Feed consumes upstream SSE frames
// in the upstream dialect and returns the frames to write to the client in
// the client dialect, including the lifecycle events the client dialect
// requires. Finish emits the terminal events; the pipeline calls it both
// on clean EOF and when reconstructing a terminal frame after an aborted
// upstream read.
//
// # Limitations
//
//   - Tool-call deltas are not translated mid-stream; requests that may
//     produce tool calls are dispatched unary by the pipeline.
type StreamState struct {
	env      *datatypes.Envelope
	upstream datatypes.Dialect
	client   datatypes.Dialect
	model    string

	phase    streamPhase
	filter   *thinkingFilter
	emitted  strings.Builder
	usage    datatypes.TokenUsage
	finished bool
}

// NewStream creates the per-request streaming translator. model is the
// routed backend's model id, used for the thinking heuristic and the
// attribution footer.
func NewStream(env *datatypes.Envelope, upstream, client datatypes.Dialect, model string) *StreamState {
	return &StreamState{
		env:      env,
		upstream: upstream,
		client:   client,
		model:    model,
		phase:    phaseInit,
		filter:   newThinkingFilter(model),
	}
}

// Text returns the user-visible text emitted so far.
func (s *StreamState) Text() string { return s.emitted.String() }

// Usage returns token usage accumulated from upstream frames.
func (s *StreamState) Usage() datatypes.TokenUsage { return s.usage }

// Done reports whether the terminal events have been emitted.
func (s *StreamState) Done() bool { return s.phase == phaseDone }

// Feed consumes one upstream frame and returns client frames to write.
func (s *StreamState) Feed(ev Event) ([]Event, error) {
	if s.phase == phaseDone {
		return nil, nil
	}
	deltas, err := s.decode(ev)
	if err != nil {
		return nil, err
	}

	var out []Event
	for _, d := range deltas {
		if d.Usage != nil {
			// Counters only grow, even when upstream repeats totals.
			if d.Usage.InputTokens > s.usage.InputTokens {
				s.usage.InputTokens = d.Usage.InputTokens
			}
			if d.Usage.OutputTokens > s.usage.OutputTokens {
				s.usage.OutputTokens = d.Usage.OutputTokens
			}
		}
		if d.Text != "" {
			text := s.filter.Feed(d.Text)
			if text == "" {
				if s.phase == phaseInit || s.phase == phaseInProgress {
					s.phase = phaseThinkingBuffered
				}
				continue
			}
			out = append(out, s.emitText(text)...)
		}
		if d.Done {
			out = append(out, s.Finish()...)
		}
	}
	return out, nil
}

// Finish flushes the thinking buffer, appends the attribution footer, and
// emits the client dialect's terminal events. Idempotent.
func (s *StreamState) Finish() []Event {
	if s.phase == phaseDone {
		return nil
	}
	var out []Event
	if rest := s.filter.Flush(); rest != "" {
		out = append(out, s.emitText(rest)...)
	}
	if !strings.Contains(s.emitted.String(), "\n\n_[via ") {
		out = append(out, s.emitText(AttributionFooter(s.model))...)
	}
	out = append(out, s.encodeTerminal()...)
	s.phase = phaseDone
	return out
}

// emitText moves the machine out of init if needed and encodes one text
// delta in the client dialect.
func (s *StreamState) emitText(text string) []Event {
	var out []Event
	if s.phase == phaseInit || s.phase == phaseThinkingBuffered || s.phase == phaseInProgress {
		out = append(out, s.encodeStart()...)
		s.phase = phaseStreaming
	}
	s.emitted.WriteString(text)
	out = append(out, s.encodeDelta(text)...)
	return out
}

// =============================================================================
// Upstream Decoders
// =============================================================================

func (s *StreamState) decode(ev Event) ([]StreamDelta, error) {
	switch s.upstream {
	case datatypes.DialectChatCompletions:
		return decodeChatStreamEvent(ev)
	case datatypes.DialectMessages:
		return decodeMessagesStreamEvent(ev)
	case datatypes.DialectResponses:
		return decodeResponsesStreamEvent(ev)
	}
	return nil, fmt.Errorf("unknown upstream dialect %q", s.upstream)
}

func decodeChatStreamEvent(ev Event) ([]StreamDelta, error) {
	data := strings.TrimSpace(string(ev.Data))
	if data == "" {
		return nil, nil
	}
	if data == "[DONE]" {
		return []StreamDelta{{Done: true}}, nil
	}
	var chunk chatStreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil, fmt.Errorf("failed to parse chat-completions chunk: %w", err)
	}
	var out []StreamDelta
	if chunk.Usage != nil {
		out = append(out, StreamDelta{Usage: &datatypes.TokenUsage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		}})
	}
	for _, c := range chunk.Choices {
		// reasoning_content deltas never reach the client.
		if c.Delta.Content != "" {
			out = append(out, StreamDelta{Text: c.Delta.Content})
		}
		if c.FinishReason != nil && *c.FinishReason != "" {
			out = append(out, StreamDelta{Done: true})
		}
	}
	return out, nil
}

func decodeMessagesStreamEvent(ev Event) ([]StreamDelta, error) {
	data := strings.TrimSpace(string(ev.Data))
	if data == "" {
		return nil, nil
	}
	var event msgStreamEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, fmt.Errorf("failed to parse messages stream event: %w", err)
	}
	switch event.Type {
	case "message_start":
		if event.Message != nil && event.Message.Usage != nil {
			return []StreamDelta{{Usage: &datatypes.TokenUsage{
				InputTokens: event.Message.Usage.InputTokens,
			}}}, nil
		}
	case "content_block_delta":
		if event.Delta != nil && event.Delta.Text != "" {
			return []StreamDelta{{Text: event.Delta.Text}}, nil
		}
	case "message_delta":
		if event.Usage != nil {
			return []StreamDelta{{Usage: &datatypes.TokenUsage{
				OutputTokens: event.Usage.OutputTokens,
			}}}, nil
		}
	case "message_stop":
		return []StreamDelta{{Done: true}}, nil
	}
	return nil, nil
}

func decodeResponsesStreamEvent(ev Event) ([]StreamDelta, error) {
	data := strings.TrimSpace(string(ev.Data))
	if data == "" {
		return nil, nil
	}
	var event respStreamEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, fmt.Errorf("failed to parse responses stream event: %w", err)
	}
	switch event.Type {
	case "response.output_text.delta":
		if event.Delta != "" {
			return []StreamDelta{{Text: event.Delta}}, nil
		}
	case "response.done", "response.completed":
		var out []StreamDelta
		if event.Response != nil && event.Response.Usage != nil {
			out = append(out, StreamDelta{Usage: &datatypes.TokenUsage{
				InputTokens:  event.Response.Usage.InputTokens,
				OutputTokens: event.Response.Usage.OutputTokens,
			}})
		}
		return append(out, StreamDelta{Done: true}), nil
	}
	return nil, nil
}

// =============================================================================
// Client Encoders
// =============================================================================

func (s *StreamState) encodeStart() []Event {
	switch s.client {
	case datatypes.DialectChatCompletions:
		return []Event{{Data: s.chatChunk(map[string]any{"role": "assistant"}, nil)}}
	case datatypes.DialectMessages:
		start := msgStreamEvent{Type: "message_start", Message: &msgResponse{
			ID: "msg_" + s.env.ID, Type: "message", Role: "assistant", Model: s.model,
		}}
		blockStart := map[string]any{
			"type":          "content_block_start",
			"index":         0,
			"content_block": map[string]any{"type": "text", "text": ""},
		}
		return []Event{
			{Name: "message_start", Data: mustJSON(start)},
			{Name: "content_block_start", Data: mustJSON(blockStart)},
		}
	case datatypes.DialectResponses:
		created := respStreamEvent{Type: "response.created", Response: &respResponse{
			ID: "resp_" + s.env.ID, Object: "response", Model: s.model, Status: "in_progress",
		}}
		added := respStreamEvent{Type: "response.output_item.added", Item: &respInputItem{
			Type: "message", Role: "assistant",
		}}
		return []Event{
			{Name: "response.created", Data: mustJSON(created)},
			{Name: "response.output_item.added", Data: mustJSON(added)},
		}
	}
	return nil
}

func (s *StreamState) encodeDelta(text string) []Event {
	switch s.client {
	case datatypes.DialectChatCompletions:
		return []Event{{Data: s.chatChunk(map[string]any{"content": text}, nil)}}
	case datatypes.DialectMessages:
		delta := map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": text},
		}
		return []Event{{Name: "content_block_delta", Data: mustJSON(delta)}}
	case datatypes.DialectResponses:
		delta := respStreamEvent{Type: "response.output_text.delta", Delta: text}
		return []Event{{Name: "response.output_text.delta", Data: mustJSON(delta)}}
	}
	return nil
}

func (s *StreamState) encodeTerminal() []Event {
	switch s.client {
	case datatypes.DialectChatCompletions:
		reason := "stop"
		final := s.chatChunk(map[string]any{}, &reason)
		return []Event{{Data: final}, DoneEvent}
	case datatypes.DialectMessages:
		stop := map[string]any{"type": "content_block_stop", "index": 0}
		delta := map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": "end_turn"},
			"usage": map[string]any{"output_tokens": s.usage.OutputTokens},
		}
		end := map[string]any{"type": "message_stop"}
		return []Event{
			{Name: "content_block_stop", Data: mustJSON(stop)},
			{Name: "message_delta", Data: mustJSON(delta)},
			{Name: "message_stop", Data: mustJSON(end)},
		}
	case datatypes.DialectResponses:
		textDone := respStreamEvent{Type: "response.output_text.done", Text: s.emitted.String()}
		itemDone := respStreamEvent{Type: "response.output_item.done", Item: &respInputItem{
			Type: "message", Role: "assistant",
		}}
		done := respStreamEvent{Type: "response.done", Response: &respResponse{
			ID: "resp_" + s.env.ID, Object: "response", Model: s.model, Status: "completed",
			Usage: &respUsage{
				InputTokens:  s.usage.InputTokens,
				OutputTokens: s.usage.OutputTokens,
				TotalTokens:  s.usage.InputTokens + s.usage.OutputTokens,
			},
		}}
		return []Event{
			{Name: "response.output_text.done", Data: mustJSON(textDone)},
			{Name: "response.output_item.done", Data: mustJSON(itemDone)},
			{Name: "response.done", Data: mustJSON(done)},
		}
	}
	return nil
}

// chatChunk builds one dialect-B chunk frame.
func (s *StreamState) chatChunk(delta map[string]any, finish *string) []byte {
	chunk := map[string]any{
		"id":      "chatcmpl-" + s.env.ID,
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   s.model,
		"choices": []map[string]any{{
			"index":         0,
			"delta":         delta,
			"finish_reason": finish,
		}},
	}
	return mustJSON(chunk)
}

// =============================================================================
// Synthetic Streaming
// =============================================================================

// EncodeBufferedAsStream renders a buffered response as the client
// dialect's streaming envelope: start events, one large delta, terminal
// events. Used when the client asked for streaming but the pipeline had to
// dispatch unary (tool injection, fan-out, CLI short-circuit).
func EncodeBufferedAsStream(client datatypes.Dialect, env *datatypes.Envelope, resp *Response) []Event {
	s := NewStream(env, client, client, resp.Model)
	// The buffered text has already been through the thinking filter.
	s.filter.active = false
	s.usage = resp.Usage

	var out []Event
	if resp.Text != "" {
		out = append(out, s.emitText(resp.Text)...)
	}
	out = append(out, s.Finish()...)
	return out
}
