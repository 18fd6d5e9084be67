// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dispatch owns the upstream HTTP path: unary calls, server-sent
// event streams, and multi-backend fan-out.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// DefaultTimeout bounds a single upstream call when the caller supplies
// no deadline of its own.
const DefaultTimeout = 120 * time.Second

// maxResponseBytes caps a buffered upstream body read.
const maxResponseBytes = 32 << 20

// placeholderBearer satisfies OpenAI-compatible servers that insist on an
// Authorization header but do not check it.
const placeholderBearer = "not-needed"

// anthropicVersion is the pinned API version sent to the premium backend.
const anthropicVersion = "2023-06-01"

// Dispatcher issues upstream requests on behalf of the pipeline.
type Dispatcher struct {
	client     *http.Client
	premiumKey string
}

// New builds a dispatcher. premiumKey authenticates against the premium
// backend; empty is allowed when no premium backend is configured.
func New(premiumKey string) *Dispatcher {
	return &Dispatcher{
		// No client-level timeout: deadlines come from the request
		// context so streaming reads are not cut off mid-body.
		client:     &http.Client{},
		premiumKey: premiumKey,
	}
}

// Result is a buffered upstream response.
type Result struct {
	Status int
	Header http.Header
	Body   []byte
}

// dialectPath is the request path appended to a backend's base URL.
func dialectPath(d datatypes.Dialect) string {
	switch d {
	case datatypes.DialectMessages:
		return "/messages"
	case datatypes.DialectResponses:
		return "/responses"
	default:
		return "/chat/completions"
	}
}

// newRequest builds the upstream POST with per-backend authentication:
// the premium backend gets the keyed header pair, everything else a
// placeholder bearer.
func (d *Dispatcher) newRequest(ctx context.Context, backend datatypes.BackendDescriptor, body []byte) (*http.Request, error) {
	url := strings.TrimRight(backend.URL, "/") + dialectPath(backend.Dialect)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", backend.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if backend.Premium {
		req.Header.Set("X-Api-Key", d.premiumKey)
		req.Header.Set("Anthropic-Version", anthropicVersion)
	} else {
		req.Header.Set("Authorization", "Bearer "+placeholderBearer)
	}
	return req, nil
}

// Do issues a unary upstream call and buffers the response.
//
// # Outputs
//
//   - *Result: Present for every HTTP-level completion, including non-2xx
//     statuses; the caller decides how to surface those.
//   - error: Transport failures and deadline expiry only.
func (d *Dispatcher) Do(ctx context.Context, backend datatypes.BackendDescriptor, body []byte) (*Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	req, err := d.newRequest(ctx, backend, body)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatching to %s: %w", backend.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", backend.Name, err)
	}
	return &Result{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   respBody,
	}, nil
}

// Stream issues a streaming upstream call and returns an SSE reader over
// the response body. The caller must Close the stream.
//
// A non-2xx status is returned as an error carrying the drained body so
// the pipeline can pass the upstream's message through.
func (d *Dispatcher) Stream(ctx context.Context, backend datatypes.BackendDescriptor, body []byte) (*SSEStream, error) {
	req, err := d.newRequest(ctx, backend, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening stream to %s: %w", backend.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		drained, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, &UpstreamStatusError{
			Backend: backend.Name,
			Status:  resp.StatusCode,
			Body:    drained,
		}
	}
	return newSSEStream(resp.Body), nil
}

// UpstreamStatusError is a non-2xx reply on a streaming open.
type UpstreamStatusError struct {
	Backend string
	Status  int
	Body    []byte
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.Backend, e.Status)
}
