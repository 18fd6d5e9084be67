// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package router maps a classifier verdict plus request features to a
// routing decision. Scoring and the application order of the adjustment
// steps are fixed; see Route.
package router

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianRelay/services/gateway/control"
	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// largeContextThreshold is the estimated token count above which the
// router checks the chosen backend's context window.
const largeContextThreshold = 30000

// maxCandidates caps the scored candidate list on a decision.
const maxCandidates = 4

// Router turns verdicts into routing decisions against live state.
type Router struct {
	state   *control.State
	history *History
}

// New builds a router. history may be nil in tests.
func New(state *control.State, history *History) *Router {
	return &Router{state: state, history: history}
}

// EstimateTokens approximates the token count of a message list. Four
// characters per token is close enough for window forcing.
func EstimateTokens(messages []datatypes.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content.PlainText())
	}
	return chars / 4
}

// Route produces a decision for one request.
//
// # Description
//
// Adjustment steps apply in a fixed order: suggested-backend filtering,
// scoring, multi-model expansion, context-window forcing, the user's
// preferred model, and finally the tools override. The order matters —
// the tools override is last so a client that supplies tool definitions
// always lands on the premium backend regardless of earlier adjustments.
//
// # Outputs
//
//   - datatypes.RoutingDecision: Primary always names a configured
//     backend and is always a member of AllBackends.
func (r *Router) Route(verdict *datatypes.Verdict, contextLength int, userID string, hasClientTools bool) datatypes.RoutingDecision {
	defaultName := r.state.DefaultBackendName()

	if verdict == nil {
		return finalize(datatypes.RoutingDecision{
			Primary: defaultName,
			Reason:  "no classification",
		})
	}

	// Step 2: filter suggestions to configured backends.
	suggested := r.filterSuggested(verdict.SuggestedBackends, defaultName)

	// Step 3: score every backend.
	candidates := r.score(verdict, suggested)

	d := datatypes.RoutingDecision{
		Primary:    candidates[0].Backend,
		Reason:     "scored " + string(verdict.Category),
		Confidence: verdict.Confidence,
		Candidates: candidates,
	}

	// Step 4: multi-model expansion.
	if verdict.Category == datatypes.CategoryMulti ||
		(verdict.Complexity == datatypes.ComplexityExpert && verdict.Confidence < 0.8) {
		d.MultiModel = true
		n := len(suggested)
		if n > 3 {
			n = 3
		}
		d.AllBackends = append([]string(nil), suggested[:n]...)
		d.Reason = "multi-model fan-out"
	}

	// Step 5: context-window forcing.
	if contextLength > largeContextThreshold {
		if chosen, ok := r.state.Backend(d.Primary); ok && chosen.ContextWindow < contextLength {
			for _, b := range r.state.Backends() {
				if b.ContextWindow >= contextLength {
					d.Primary = b.Name
					d.Reason = "context window forced"
					break
				}
			}
		}
	}

	// Step 6: user's historical preferred model for this category, only
	// when it survived the suggestion filter.
	if r.history != nil && userID != "" {
		if preferred, ok := r.history.PreferredModel(userID, verdict.Category); ok {
			if containsFold(suggested, preferred) {
				d.Primary = preferred
				d.Reason = "user preferred model"
			}
		}
	}

	// Step 7: tools override. Smaller models do not reliably honor
	// foreign tool schemas.
	if hasClientTools {
		if premium, ok := r.state.Premium(); ok && d.Primary != premium.Name {
			d.Primary = premium.Name
			d.ToolsRouted = true
			d.Reason = "tools routed to premium"
		}
	}

	return finalize(d)
}

// filterSuggested keeps suggestions that name configured backends,
// logging the dropped ones, and falls back to the default slot.
func (r *Router) filterSuggested(suggested []string, defaultName string) []string {
	var kept []string
	for _, name := range suggested {
		if resolved, ok := r.resolve(name); ok {
			kept = append(kept, resolved)
		} else {
			slog.Debug("Dropping unknown suggested backend", "backend", name)
		}
	}
	if len(kept) == 0 {
		kept = []string{defaultName}
	}
	return kept
}

// resolve matches a suggestion against configured names, case-insensitive.
func (r *Router) resolve(name string) (string, bool) {
	if _, ok := r.state.Backend(name); ok {
		return name, true
	}
	for _, n := range r.state.Names() {
		if strings.EqualFold(n, name) {
			return n, true
		}
	}
	return "", false
}

// score ranks every configured backend for the verdict. The result is
// never empty and is sorted best first.
func (r *Router) score(verdict *datatypes.Verdict, suggested []string) []datatypes.ScoredCandidate {
	var scored []datatypes.ScoredCandidate
	for _, b := range r.state.Backends() {
		s := 0.0
		if b.HasSpecialty(string(verdict.Category)) {
			s += 0.5
		}
		if b.HasSpecialty(string(verdict.Complexity)) {
			s += 0.2
		}
		for _, kw := range verdict.Keywords {
			if b.HasSpecialty(kw) {
				s += 0.1
			}
		}
		if containsFold(suggested, b.Name) {
			s += 0.3 * verdict.Confidence
		}
		if s > 1.0 {
			s = 1.0
		}
		scored = append(scored, datatypes.ScoredCandidate{Backend: b.Name, Score: s})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > maxCandidates {
		scored = scored[:maxCandidates]
	}
	return scored
}

// finalize enforces the membership invariant: Primary appears in
// AllBackends.
func finalize(d datatypes.RoutingDecision) datatypes.RoutingDecision {
	if !containsFold(d.AllBackends, d.Primary) {
		d.AllBackends = append([]string{d.Primary}, d.AllBackends...)
	}
	return d
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
