// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline composes the request path: classify → route →
// translate → dispatch → tool loop → translate → emit, with streaming
// preserved end-to-end and exactly one observability write per request.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/gateway/classifier"
	"github.com/AleutianAI/AleutianRelay/services/gateway/control"
	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/gateway/dispatch"
	"github.com/AleutianAI/AleutianRelay/services/gateway/observability"
	"github.com/AleutianAI/AleutianRelay/services/gateway/router"
	"github.com/AleutianAI/AleutianRelay/services/gateway/tools"
	"github.com/AleutianAI/AleutianRelay/services/gateway/translator"
)

// Archiver receives completed entries for persistent storage. Store must
// not block the request path.
type Archiver interface {
	Store(entry datatypes.LogEntry)
}

// Options are the pipeline knobs carried over from configuration.
type Options struct {
	RouterEnabled     bool
	AutoSearchSalvage bool
	CaptureBodies     bool
	MaxBodyBytes      int
}

// Pipeline wires the gateway components together.
type Pipeline struct {
	state    *control.State
	cls      *classifier.Classifier
	rtr      *router.Router
	history  *router.History
	disp     *dispatch.Dispatcher
	registry *tools.Registry
	stats    *observability.Stats
	ring     *observability.RingBuffer
	archive  Archiver
	opts     Options
}

// New assembles a pipeline. archive may be nil when the persistent sink
// is disabled; history may be nil in tests.
func New(state *control.State, cls *classifier.Classifier, rtr *router.Router,
	history *router.History, disp *dispatch.Dispatcher, registry *tools.Registry,
	stats *observability.Stats, ring *observability.RingBuffer,
	archive Archiver, opts Options) *Pipeline {
	return &Pipeline{
		state:    state,
		cls:      cls,
		rtr:      rtr,
		history:  history,
		disp:     disp,
		registry: registry,
		stats:    stats,
		ring:     ring,
		archive:  archive,
		opts:     opts,
	}
}

// StreamWriter writes one event frame to the client.
type StreamWriter func(ev translator.Event) error

// Result is the pipeline's answer for one request. Exactly one of Body
// and Stream is set: Body for buffered responses, Stream for responses
// the handler pumps frame by frame (real or synthetic streaming).
//
// When Stream is set the pipeline's observability write happens inside
// it, so the handler must invoke Stream exactly once.
type Result struct {
	Env     *datatypes.Envelope
	Status  int
	Backend string
	Body    []byte
	Stream  func(write StreamWriter)
}

// Handle runs one request through the pipeline. forcedBackend is the
// backend name extracted from a /{backend}/... path, or "".
func (p *Pipeline) Handle(ctx context.Context, clientDialect datatypes.Dialect, rawBody []byte, forcedBackend string) *Result {
	env, err := translator.DecodeRequest(clientDialect, rawBody)
	if err != nil {
		env = datatypes.NewEnvelope(clientDialect)
		env.Error = err.Error()
		return p.fail(env, 400, "invalid request body: "+err.Error())
	}
	hasClientTools := len(env.Tools) > 0

	// In-band CLI short-circuit: no classification, no upstream dispatch.
	if cmd, ok := cliCommand(env); ok {
		return p.handleCLI(env, rawBody, cmd)
	}

	// Classify.
	if p.opts.RouterEnabled && p.state.SmartRouting() && forcedBackend == "" {
		classifyStart := time.Now()
		env.Verdict = p.cls.Classify(ctx, env.Messages, hasClientTools, env.UserID)
		env.ClassifyMs = time.Since(classifyStart).Milliseconds()
	}

	// Route.
	decision, failResult := p.route(env, forcedBackend, hasClientTools)
	if failResult != nil {
		return failResult
	}
	env.Decision = &decision

	backend, ok := p.state.Backend(decision.Primary)
	if !ok {
		return p.fail(env, 502, fmt.Sprintf("routed backend %q is not configured", decision.Primary))
	}

	// Tool injection for realtime requests on non-premium backends. The
	// dispatch must be unary so the tool loop can parse complete
	// responses; a client that asked for streaming gets a synthetic
	// stream after the buffered turn completes.
	clientWantsStream := env.Stream
	p.maybeInjectTools(env, backend, hasClientTools)

	// Fan-out runs unary regardless of the stream flag.
	if decision.MultiModel && len(decision.AllBackends) > 1 {
		return p.handleFanOut(ctx, env, rawBody, decision, clientWantsStream)
	}

	if env.Stream {
		return p.handleStreaming(ctx, env, rawBody, backend)
	}
	return p.handleUnary(ctx, env, rawBody, backend, clientWantsStream)
}

// route produces the decision, honoring forced paths and the smart flag.
func (p *Pipeline) route(env *datatypes.Envelope, forcedBackend string, hasClientTools bool) (datatypes.RoutingDecision, *Result) {
	if forcedBackend != "" {
		if _, ok := p.state.Backend(forcedBackend); !ok {
			return datatypes.RoutingDecision{}, p.fail(env, 502, fmt.Sprintf("unknown backend %q in path", forcedBackend))
		}
		return datatypes.RoutingDecision{
			Primary:     forcedBackend,
			AllBackends: []string{forcedBackend},
			Reason:      "forced by path",
		}, nil
	}

	if !p.opts.RouterEnabled || !p.state.SmartRouting() {
		name := p.state.DefaultBackendName()
		return datatypes.RoutingDecision{
			Primary:     name,
			AllBackends: []string{name},
			Reason:      "smart routing disabled",
		}, nil
	}

	decision := p.rtr.Route(env.Verdict, router.EstimateTokens(env.Messages), env.UserID, hasClientTools)
	if p.history != nil && env.Verdict != nil {
		p.history.Record(env.UserID, env.Verdict.Category, decision)
	}
	return decision, nil
}

// maybeInjectTools appends web_search to a realtime request headed for a
// non-premium backend, synthesizes the tool prompt, and disables
// streaming for the turn.
func (p *Pipeline) maybeInjectTools(env *datatypes.Envelope, backend datatypes.BackendDescriptor, hasClientTools bool) {
	if hasClientTools || backend.Premium || env.Verdict == nil {
		return
	}
	if env.Verdict.Category != datatypes.CategoryRealtime && !env.Verdict.RetryWithSearch {
		return
	}
	defs := p.registry.Definitions()
	if len(defs) == 0 {
		return
	}

	env.Tools = defs
	env.ToolsInjected = true
	env.System = translator.SynthesizeToolPrompt(env.System, defs)
	env.Stream = false
	slog.Debug("Injected server-side tools", "request_id", env.ID, "backend", backend.Name)
}

// =============================================================================
// Unary
// =============================================================================

func (p *Pipeline) handleUnary(ctx context.Context, env *datatypes.Envelope, rawBody []byte, backend datatypes.BackendDescriptor, clientWantsStream bool) *Result {
	dispatchStart := time.Now()
	res, err := p.dispatchOnce(ctx, env, backend)
	env.DispatchMs = time.Since(dispatchStart).Milliseconds()
	if err != nil {
		return p.fail(env, 502, "upstream error: "+err.Error())
	}

	// Non-2xx passes through verbatim.
	if res.Status < 200 || res.Status >= 300 {
		env.UpstreamStatus = res.Status
		p.finish(env, backend.Name, res.Status, string(rawBody), string(res.Body))
		return &Result{Env: env, Status: res.Status, Backend: backend.Name, Body: res.Body}
	}

	resp, err := translator.DecodeResponse(backend.Dialect, res.Body)
	if err != nil {
		// Forward untranslated rather than fail the request.
		slog.Warn("Response translation failed, forwarding untranslated",
			"request_id", env.ID, "backend", backend.Name, "error", err)
		env.FormatConversionFailed = true
		p.finish(env, backend.Name, res.Status, string(rawBody), string(res.Body))
		return &Result{Env: env, Status: res.Status, Backend: backend.Name, Body: res.Body}
	}

	resp = p.runToolLoop(ctx, env, backend, resp)
	resp = p.maybeSalvage(ctx, env, backend, resp)

	resp.Text = translator.AppendAttribution(resp.Text, backend.Model)
	return p.emitBuffered(env, backend.Name, resp, string(rawBody), clientWantsStream)
}

// dispatchOnce encodes the envelope for the backend's dialect and sends
// it. An encode failure falls back to the raw client body with the
// envelope marked.
func (p *Pipeline) dispatchOnce(ctx context.Context, env *datatypes.Envelope, backend datatypes.BackendDescriptor) (*dispatch.Result, error) {
	body, err := translator.EncodeRequest(backend.Dialect, env, backend.Model)
	if err != nil {
		slog.Warn("Request translation failed, forwarding raw body",
			"request_id", env.ID, "backend", backend.Name, "error", err)
		env.FormatConversionFailed = true
		body = nil
	}
	if body == nil {
		return nil, fmt.Errorf("no encodable request for %s", backend.Name)
	}
	return p.disp.Do(ctx, backend, body)
}

// emitBuffered encodes the final response in the client dialect, as a
// buffered body or a synthetic stream when the client asked to stream.
func (p *Pipeline) emitBuffered(env *datatypes.Envelope, backendName string, resp *translator.Response, reqBody string, clientWantsStream bool) *Result {
	env.ResponseText = resp.Text
	env.AddUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	if clientWantsStream {
		events := translator.EncodeBufferedAsStream(env.ClientDialect, env, resp)
		return &Result{
			Env:     env,
			Status:  200,
			Backend: backendName,
			Stream: func(write StreamWriter) {
				for _, ev := range events {
					if err := write(ev); err != nil {
						env.Cancelled = true
						env.Error = "client disconnected"
						break
					}
				}
				p.finish(env, backendName, 200, reqBody, resp.Text)
			},
		}
	}

	body, err := translator.EncodeResponse(env.ClientDialect, env, resp)
	if err != nil {
		return p.fail(env, 502, "response encoding failed: "+err.Error())
	}
	p.finish(env, backendName, 200, reqBody, resp.Text)
	return &Result{Env: env, Status: 200, Backend: backendName, Body: body}
}

// =============================================================================
// Streaming
// =============================================================================

func (p *Pipeline) handleStreaming(ctx context.Context, env *datatypes.Envelope, rawBody []byte, backend datatypes.BackendDescriptor) *Result {
	body, err := translator.EncodeRequest(backend.Dialect, env, backend.Model)
	if err != nil {
		return p.fail(env, 502, "request encoding failed: "+err.Error())
	}

	dispatchStart := time.Now()
	stream, err := p.disp.Stream(ctx, backend, body)
	if err != nil {
		if se, ok := err.(*dispatch.UpstreamStatusError); ok {
			// Non-2xx passes through verbatim.
			env.UpstreamStatus = se.Status
			p.finish(env, backend.Name, se.Status, string(rawBody), string(se.Body))
			return &Result{Env: env, Status: se.Status, Backend: backend.Name, Body: se.Body}
		}
		return p.fail(env, 502, "upstream error: "+err.Error())
	}

	ss := translator.NewStream(env, backend.Dialect, env.ClientDialect, backend.Model)
	return &Result{
		Env:     env,
		Status:  200,
		Backend: backend.Name,
		Stream: func(write StreamWriter) {
			defer stream.Close()
			p.pumpStream(ctx, env, backend, stream, ss, write)
			env.DispatchMs = time.Since(dispatchStart).Milliseconds()
			env.AddUsage(ss.Usage().InputTokens, ss.Usage().OutputTokens)
			env.ResponseText = ss.Text()
			p.finish(env, backend.Name, 200, string(rawBody), ss.Text())
		},
	}
}

// pumpStream moves frames upstream → state machine → client until EOF,
// error, or client disconnect. A terminal frame reaches the client in
// every case.
func (p *Pipeline) pumpStream(ctx context.Context, env *datatypes.Envelope, backend datatypes.BackendDescriptor, stream *dispatch.SSEStream, ss *translator.StreamState, write StreamWriter) {
	writeAll := func(events []translator.Event) bool {
		for _, ev := range events {
			if err := write(ev); err != nil {
				env.Cancelled = true
				env.Error = "client disconnected"
				return false
			}
		}
		return true
	}

	for {
		if ctx.Err() != nil {
			env.Cancelled = true
			env.Error = "client disconnected"
			return
		}
		ev, err := stream.Next()
		if err == io.EOF {
			writeAll(ss.Finish())
			return
		}
		if err != nil {
			slog.Warn("Upstream stream aborted", "request_id", env.ID,
				"backend", backend.Name, "error", err)
			env.Error = "upstream stream aborted: " + err.Error()
			// Reconstruct a terminal frame from partial state.
			writeAll(ss.Finish())
			return
		}

		out, err := ss.Feed(ev)
		if err != nil {
			slog.Warn("Stream translation failed", "request_id", env.ID, "error", err)
			env.FormatConversionFailed = true
			continue
		}
		if !writeAll(out) {
			return
		}
		if ss.Done() {
			return
		}
	}
}

// =============================================================================
// Fan-Out
// =============================================================================

func (p *Pipeline) handleFanOut(ctx context.Context, env *datatypes.Envelope, rawBody []byte, decision datatypes.RoutingDecision, clientWantsStream bool) *Result {
	var backends []datatypes.BackendDescriptor
	for _, name := range decision.AllBackends {
		if b, ok := p.state.Backend(name); ok {
			backends = append(backends, b)
		}
	}
	if len(backends) == 0 {
		return p.fail(env, 502, "no configured backends for fan-out")
	}

	dispatchStart := time.Now()
	results := p.disp.FanOut(ctx, backends, env)
	env.DispatchMs = time.Since(dispatchStart).Milliseconds()

	combined, err := dispatch.CombineFanOut(results)
	if err != nil {
		return p.fail(env, 502, err.Error())
	}
	// The combined body carries its own attribution line.
	return p.emitBuffered(env, decision.Primary, combined, string(rawBody), clientWantsStream)
}

// =============================================================================
// Completion
// =============================================================================

// fail finishes the envelope with a proxy_error body.
func (p *Pipeline) fail(env *datatypes.Envelope, status int, message string) *Result {
	if env.Error == "" {
		env.Error = message
	}
	backend := "none"
	if env.Decision != nil {
		backend = env.Decision.Primary
	}
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"type":       "proxy_error",
			"message":    message,
			"request_id": env.ID,
		},
	})
	p.finish(env, backend, status, "", "")
	return &Result{Env: env, Status: status, Backend: backend, Body: body}
}

// finish records the completed request exactly once: counters, ring
// buffer, archive, and the router's success counter.
func (p *Pipeline) finish(env *datatypes.Envelope, backendName string, status int, reqBody, respBody string) {
	env.TotalMs = time.Since(env.Start).Milliseconds()
	if env.UpstreamStatus == 0 {
		env.UpstreamStatus = status
	}

	isError := env.Error != "" || status >= 500
	p.stats.RecordRequest(backendName, strconv.Itoa(status), env.TotalMs, isError)
	p.stats.RecordTokens(backendName, env.Usage.InputTokens, env.Usage.OutputTokens)

	if !p.opts.CaptureBodies {
		reqBody, respBody = "", ""
	}
	entry := datatypes.EntryFromEnvelope(env, reqBody, respBody, p.opts.MaxBodyBytes)
	if entry.Backend == "" {
		entry.Backend = backendName
	}
	p.ring.Insert(entry)

	if p.archive != nil {
		p.archive.Store(entry)
	}
	if p.history != nil && env.Verdict != nil && env.Decision != nil {
		p.history.RecordOutcome(env.Decision.Primary, env.Verdict.Category,
			env.Error == "" && status < 400)
	}
}

// cliCommand extracts a proxy-cli command from the last user turn.
func cliCommand(env *datatypes.Envelope) (string, bool) {
	text := strings.TrimSpace(env.LastUserText())
	if !strings.HasPrefix(text, cliPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(text, cliPrefix)), true
}
