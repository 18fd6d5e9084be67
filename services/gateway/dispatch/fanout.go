// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/gateway/translator"
)

// FanOutBudget is the hard wall-clock limit on a multi-backend dispatch.
const FanOutBudget = 90 * time.Second

// FanResult is one backend's contribution to a fan-out.
type FanResult struct {
	Backend  datatypes.BackendDescriptor
	Response *translator.Response
	Err      error
}

// FanOut dispatches the envelope to every backend concurrently and waits
// for all of them within the budget.
//
// Partial failures are tolerated: each result carries either a decoded
// response or its own error, and slow backends are cut off by the budget
// rather than dragging the whole request past it.
func (d *Dispatcher) FanOut(ctx context.Context, backends []datatypes.BackendDescriptor, env *datatypes.Envelope) []FanResult {
	ctx, cancel := context.WithTimeout(ctx, FanOutBudget)
	defer cancel()

	results := make([]FanResult, len(backends))
	var g errgroup.Group
	for i, backend := range backends {
		results[i].Backend = backend
		g.Go(func() error {
			results[i].Response, results[i].Err = d.dispatchOne(ctx, backend, env)
			if results[i].Err != nil {
				slog.Warn("Fan-out backend failed",
					"backend", backend.Name, "error", results[i].Err)
			}
			return nil
		})
	}
	g.Wait()
	return results
}

// dispatchOne encodes, sends, and decodes for a single fan-out member.
func (d *Dispatcher) dispatchOne(ctx context.Context, backend datatypes.BackendDescriptor, env *datatypes.Envelope) (*translator.Response, error) {
	body, err := translator.EncodeRequest(backend.Dialect, env, backend.Model)
	if err != nil {
		return nil, fmt.Errorf("encoding for %s: %w", backend.Name, err)
	}
	res, err := d.Do(ctx, backend, body)
	if err != nil {
		return nil, err
	}
	if res.Status < 200 || res.Status >= 300 {
		return nil, fmt.Errorf("upstream %s returned status %d", backend.Name, res.Status)
	}
	return translator.DecodeResponse(backend.Dialect, res.Body)
}

// CombineFanOut formats successful fan-out results as one body: a labeled
// block per contributing backend and a trailing attribution line.
//
// Returns an error only when every backend failed.
func CombineFanOut(results []FanResult) (*translator.Response, error) {
	var sb strings.Builder
	var contributors []string
	combined := &translator.Response{StopReason: "stop"}

	for _, r := range results {
		if r.Err != nil || r.Response == nil {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "### %s (%s)\n\n%s",
			r.Backend.Name,
			datatypes.ShortModelName(r.Response.Model),
			strings.TrimSpace(r.Response.Text))
		contributors = append(contributors, r.Backend.Name)
		combined.Usage.InputTokens += r.Response.Usage.InputTokens
		combined.Usage.OutputTokens += r.Response.Usage.OutputTokens
		if combined.Model == "" {
			combined.Model = r.Response.Model
		}
	}
	if len(contributors) == 0 {
		return nil, fmt.Errorf("all %d backends failed", len(results))
	}

	sb.WriteString("\n\n_[responses from ")
	sb.WriteString(strings.Join(contributors, ", "))
	sb.WriteString("]_")
	combined.Text = sb.String()
	return combined, nil
}
