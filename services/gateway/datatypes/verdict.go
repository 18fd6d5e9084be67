// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// =============================================================================
// Classifier Verdict
// =============================================================================

// Category is a classification category. The set is closed; anything a
// classifier tier cannot place lands in CategoryUnclassified.
type Category string

const (
	CategoryGreetings    Category = "greetings"
	CategoryConversation Category = "conversation"
	CategoryCode         Category = "code"
	CategoryResearch     Category = "research"
	CategoryComplex      Category = "complex"
	CategoryRealtime     Category = "realtime"
	CategoryMulti        Category = "multi"
	CategoryUnclassified Category = "unclassified"
)

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	switch c {
	case CategoryGreetings, CategoryConversation, CategoryCode,
		CategoryResearch, CategoryComplex, CategoryRealtime,
		CategoryMulti, CategoryUnclassified:
		return true
	}
	return false
}

// Complexity is a coarse difficulty estimate attached to a verdict.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityExpert   Complexity = "expert"
)

// VerdictSource identifies which classifier tier produced a verdict.
type VerdictSource string

const (
	SourceQuickRegex VerdictSource = "quick-regex"
	SourceFastModel  VerdictSource = "fast-model"
	SourceLLM        VerdictSource = "llm"
	SourceOverride   VerdictSource = "override"
)

// Verdict is the classifier's output for the latest user turn.
//
// A nil *Verdict means "defer to the default backend"; classification
// failures are downgraded to nil and never abort the pipeline.
type Verdict struct {
	Category          Category      `json:"category"`
	Confidence        float64       `json:"confidence"`
	Complexity        Complexity    `json:"complexity"`
	Keywords          []string      `json:"keywords,omitempty"`
	SuggestedBackends []string      `json:"suggested_backends,omitempty"`
	Reasoning         string        `json:"reasoning,omitempty"`
	Source            VerdictSource `json:"source"`

	// RetryWithSearch is set by the dissatisfaction rules ("look it up",
	// "that's outdated") so the tool subsystem injects web_search even
	// when the category came from a retry heuristic.
	RetryWithSearch bool `json:"retry_with_search,omitempty"`
}

// =============================================================================
// Routing Decision
// =============================================================================

// ScoredCandidate is one backend with its routing score.
type ScoredCandidate struct {
	Backend string  `json:"backend"`
	Score   float64 `json:"score"`
}

// RoutingDecision is the router's output for one request.
type RoutingDecision struct {
	Primary     string            `json:"primary"`
	AllBackends []string          `json:"all_backends"`
	Reason      string            `json:"reason"`
	Confidence  float64           `json:"confidence"`
	Candidates  []ScoredCandidate `json:"candidates,omitempty"`
	ToolsRouted bool              `json:"tools_routed,omitempty"`
	MultiModel  bool              `json:"multi_model,omitempty"`
}
