// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"sync"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// DefaultRingCapacity is the default number of retained requests.
const DefaultRingCapacity = 100

// RingBuffer holds the most recent completed requests. Fixed capacity;
// overflow evicts the oldest entry. Entries are appended in completion
// order under the buffer mutex, so observers may see reordering relative
// to request-arrival order.
type RingBuffer struct {
	mu      sync.Mutex
	entries []datatypes.LogEntry
	next    int
	full    bool
}

// NewRingBuffer creates a buffer with the given capacity; non-positive
// capacities fall back to DefaultRingCapacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &RingBuffer{entries: make([]datatypes.LogEntry, capacity)}
}

// Insert appends one entry, evicting the oldest when full.
func (r *RingBuffer) Insert(entry datatypes.LogEntry) {
	r.mu.Lock()
	r.entries[r.next] = entry
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

// Len returns the number of retained entries.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.entries)
	}
	return r.next
}

// Filter narrows a Snapshot call. Zero values match everything.
type Filter struct {
	Limit   int
	Backend string
	Status  int
}

// Snapshot returns entries newest-first, optionally filtered.
func (r *RingBuffer) Snapshot(f Filter) []datatypes.LogEntry {
	r.mu.Lock()
	ordered := r.orderedLocked()
	r.mu.Unlock()

	out := make([]datatypes.LogEntry, 0, len(ordered))
	// Newest first.
	for i := len(ordered) - 1; i >= 0; i-- {
		e := ordered[i]
		if f.Backend != "" && e.Backend != f.Backend {
			continue
		}
		if f.Status != 0 && e.Status != f.Status {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Find returns the entry with the given request id.
func (r *RingBuffer) Find(id string) (datatypes.LogEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.orderedLocked() {
		if e.ID == id {
			return e, true
		}
	}
	return datatypes.LogEntry{}, false
}

// orderedLocked returns entries oldest-first. Caller holds r.mu.
func (r *RingBuffer) orderedLocked() []datatypes.LogEntry {
	if !r.full {
		out := make([]datatypes.LogEntry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]datatypes.LogEntry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}
