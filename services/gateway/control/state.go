// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package control holds the gateway's live-mutable routing state: the
// backend registry, the default-backend slot, and the smart-routing flag.
//
// # Thread Safety
//
// All state sits behind one RWMutex. Pipeline readers hold the read lease
// only for the duration of a lookup; control-plane writers acquire the
// write lease momentarily. Nothing holds the lock across an upstream
// dispatch.
package control

import (
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// State is the control-plane view of routing configuration.
type State struct {
	mu             sync.RWMutex
	backends       map[string]datatypes.BackendDescriptor
	order          []string
	defaultBackend string
	smartRouting   bool
}

// NewState builds the registry from config-loaded descriptors.
//
// The default slot invariant (it always names a present backend) is
// established here and preserved by every mutation.
func NewState(backends []datatypes.BackendDescriptor, defaultBackend string, smartRouting bool) (*State, error) {
	s := &State{
		backends:     make(map[string]datatypes.BackendDescriptor, len(backends)),
		smartRouting: smartRouting,
	}
	for _, b := range backends {
		s.backends[b.Name] = b
		s.order = append(s.order, b.Name)
	}
	if _, ok := s.backends[defaultBackend]; !ok {
		return nil, fmt.Errorf("default backend %q not in descriptor set", defaultBackend)
	}
	s.defaultBackend = defaultBackend
	return s, nil
}

// Backend returns the descriptor for name.
func (s *State) Backend(name string) (datatypes.BackendDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.backends[name]
	return b, ok
}

// Backends returns descriptors in configuration order.
func (s *State) Backends() []datatypes.BackendDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]datatypes.BackendDescriptor, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.backends[name])
	}
	return out
}

// Names returns backend names in configuration order.
func (s *State) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// DefaultBackend returns the current default descriptor.
func (s *State) DefaultBackend() datatypes.BackendDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backends[s.defaultBackend]
}

// DefaultBackendName returns the current default slot value.
func (s *State) DefaultBackendName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultBackend
}

// SetDefaultBackend switches the default slot. The switch is visible on
// the next request; no cached decision carries the old value over.
func (s *State) SetDefaultBackend(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.backends[name]; !ok {
		return fmt.Errorf("unknown backend %q", name)
	}
	s.defaultBackend = name
	return nil
}

// SmartRouting reports whether classification-driven routing is enabled.
func (s *State) SmartRouting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.smartRouting
}

// SetSmartRouting toggles classification-driven routing.
func (s *State) SetSmartRouting(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.smartRouting = enabled
}

// Premium returns the premium descriptor, if one is registered.
func (s *State) Premium() (datatypes.BackendDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range s.order {
		if b := s.backends[name]; b.Premium {
			return b, true
		}
	}
	return datatypes.BackendDescriptor{}, false
}

// SmallestFast returns the fast backend with the smallest context window,
// used by the classifier's realtime-detection tier. Falls back to the
// default backend when nothing is tagged fast.
func (s *State) SmallestFast() datatypes.BackendDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best datatypes.BackendDescriptor
	found := false
	for _, name := range s.order {
		b := s.backends[name]
		if b.Speed != datatypes.SpeedFast {
			continue
		}
		if !found || b.ContextWindow < best.ContextWindow {
			best = b
			found = true
		}
	}
	if !found {
		return s.backends[s.defaultBackend]
	}
	return best
}

// ReplaceBackends swaps the descriptor set on config hot reload. The
// default slot is preserved when still present; otherwise it moves to the
// reloaded document's default so the slot invariant holds.
func (s *State) ReplaceBackends(backends []datatypes.BackendDescriptor, newDefault string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backends = make(map[string]datatypes.BackendDescriptor, len(backends))
	s.order = s.order[:0]
	for _, b := range backends {
		s.backends[b.Name] = b
		s.order = append(s.order, b.Name)
	}
	if _, ok := s.backends[s.defaultBackend]; !ok {
		s.defaultBackend = newDefault
	}
}
