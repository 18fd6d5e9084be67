// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides the gateway's metrics and the ring buffer
// of recent requests.
//
// # Description
//
// Stats is the internal counter set consumed by both /debug/stats and the
// Prometheus collector; RingBuffer holds the last N completed requests.
// Insertion into both happens exactly once per request at pipeline
// completion.
//
// # Thread Safety
//
// Scalar counters are atomics; per-backend and per-status maps sit behind
// a mutex with O(one update) holds.
package observability

import (
	"sync"
	"sync/atomic"
)

// Stats is the gateway-wide counter set.
//
// Invariants at quiescent points:
//
//	RequestsTotal == sum(RequestsByBackend) == sum(RequestsByStatus)
//	TokensInputTotal == sum(TokensByBackendInput), same for output
type Stats struct {
	requestsTotal atomic.Int64
	errorsTotal   atomic.Int64
	latencySumMs  atomic.Int64
	latencyCount  atomic.Int64
	tokensInput   atomic.Int64
	tokensOutput  atomic.Int64

	mu                 sync.Mutex
	requestsByBackend  map[string]int64
	requestsByStatus   map[string]int64
	tokensByBackendIn  map[string]int64
	tokensByBackendOut map[string]int64
}

// NewStats returns an empty counter set.
func NewStats() *Stats {
	return &Stats{
		requestsByBackend:  make(map[string]int64),
		requestsByStatus:   make(map[string]int64),
		tokensByBackendIn:  make(map[string]int64),
		tokensByBackendOut: make(map[string]int64),
	}
}

// RecordRequest records one completed request. backend may be a synthetic
// name ("proxy-cli", "none") when no upstream dispatch happened.
func (s *Stats) RecordRequest(backend, status string, latencyMs int64, isError bool) {
	s.requestsTotal.Add(1)
	if isError {
		s.errorsTotal.Add(1)
	}
	s.latencySumMs.Add(latencyMs)
	s.latencyCount.Add(1)

	s.mu.Lock()
	s.requestsByBackend[backend]++
	s.requestsByStatus[status]++
	s.mu.Unlock()
}

// RecordTokens accumulates token counts overall and per backend. Counts
// are monotonic; negative deltas are ignored.
func (s *Stats) RecordTokens(backend string, input, output int) {
	if input < 0 {
		input = 0
	}
	if output < 0 {
		output = 0
	}
	if input == 0 && output == 0 {
		return
	}
	s.tokensInput.Add(int64(input))
	s.tokensOutput.Add(int64(output))

	s.mu.Lock()
	s.tokensByBackendIn[backend] += int64(input)
	s.tokensByBackendOut[backend] += int64(output)
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy of the counter set.
type Snapshot struct {
	RequestsTotal      int64            `json:"requests_total"`
	ErrorsTotal        int64            `json:"errors_total"`
	LatencyAvgMs       float64          `json:"latency_avg_ms"`
	LatencySumMs       int64            `json:"latency_sum_ms"`
	LatencyCount       int64            `json:"latency_count"`
	RequestsByBackend  map[string]int64 `json:"requests_by_backend"`
	RequestsByStatus   map[string]int64 `json:"requests_by_status"`
	TokensInputTotal   int64            `json:"tokens_input_total"`
	TokensOutputTotal  int64            `json:"tokens_output_total"`
	TokensByBackendIn  map[string]int64 `json:"tokens_by_backend_input"`
	TokensByBackendOut map[string]int64 `json:"tokens_by_backend_output"`
}

// Snapshot copies all counters under one short lock hold.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		RequestsTotal:     s.requestsTotal.Load(),
		ErrorsTotal:       s.errorsTotal.Load(),
		LatencySumMs:      s.latencySumMs.Load(),
		LatencyCount:      s.latencyCount.Load(),
		TokensInputTotal:  s.tokensInput.Load(),
		TokensOutputTotal: s.tokensOutput.Load(),
	}
	if snap.LatencyCount > 0 {
		snap.LatencyAvgMs = float64(snap.LatencySumMs) / float64(snap.LatencyCount)
	}

	s.mu.Lock()
	snap.RequestsByBackend = copyMap(s.requestsByBackend)
	snap.RequestsByStatus = copyMap(s.requestsByStatus)
	snap.TokensByBackendIn = copyMap(s.tokensByBackendIn)
	snap.TokensByBackendOut = copyMap(s.tokensByBackendOut)
	s.mu.Unlock()
	return snap
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
