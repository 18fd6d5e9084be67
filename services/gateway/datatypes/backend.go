// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures shared across the gateway
// service: the request envelope, classifier verdicts, routing decisions,
// backend descriptors, and ring-buffer log entries.
package datatypes

import "strings"

// =============================================================================
// Wire Dialects
// =============================================================================

// Dialect identifies one of the three chat-completion wire protocols the
// gateway speaks on both its inbound and upstream sides.
type Dialect string

const (
	// DialectMessages is the messages-style protocol (system as a sibling
	// field, content blocks, input_tokens/output_tokens usage).
	DialectMessages Dialect = "messages"

	// DialectChatCompletions is the chat-completions protocol
	// (choices[0].message, delta.content chunks, prompt/completion tokens).
	DialectChatCompletions Dialect = "chat-completions"

	// DialectResponses is the responses-style protocol (input/instructions,
	// typed lifecycle event stream, function_call output items).
	DialectResponses Dialect = "responses"
)

// Valid reports whether d is a member of the closed dialect set.
func (d Dialect) Valid() bool {
	switch d {
	case DialectMessages, DialectChatCompletions, DialectResponses:
		return true
	}
	return false
}

// =============================================================================
// Backend Descriptors
// =============================================================================

// SpeedClass is a coarse latency class declared per backend.
type SpeedClass string

const (
	SpeedFast   SpeedClass = "fast"
	SpeedMedium SpeedClass = "medium"
	SpeedSlow   SpeedClass = "slow"
)

// BackendDescriptor describes a named upstream inference service.
//
// # Description
//
// Descriptors are immutable after config load. The only mutable routing
// state is the default-backend slot held by the control plane; descriptors
// themselves are replaced wholesale on config hot reload.
//
// # Fields
//
//   - Name: Unique backend name, also used in forced-routing paths.
//   - URL: Base URL of the upstream chat endpoint.
//   - Dialect: Wire protocol the upstream speaks.
//   - Model: Model id sent upstream (and used for attribution footers).
//   - Specialties: Free-form capability tags ("code", "conversation",
//     "research", "complex", "realtime", ...). Matched by the router.
//   - ContextWindow: Maximum context length in tokens.
//   - Speed: Coarse latency class; the fast-model classifier tier prefers
//     the smallest fast backend.
//   - Premium: Marks the single keyed, most capable backend. Tool-bearing
//     requests are forced onto it.
type BackendDescriptor struct {
	Name          string     `json:"name" yaml:"name" validate:"required"`
	URL           string     `json:"url" yaml:"url" validate:"required,url"`
	Dialect       Dialect    `json:"dialect" yaml:"dialect" validate:"required"`
	Model         string     `json:"model" yaml:"model" validate:"required"`
	Specialties   []string   `json:"specialties" yaml:"specialties"`
	ContextWindow int        `json:"context_window" yaml:"context_window" validate:"gt=0"`
	Speed         SpeedClass `json:"speed" yaml:"speed"`
	Premium       bool       `json:"premium" yaml:"premium"`
}

// HasSpecialty reports whether the backend declares the given tag.
func (b *BackendDescriptor) HasSpecialty(tag string) bool {
	for _, s := range b.Specialties {
		if strings.EqualFold(s, tag) {
			return true
		}
	}
	return false
}

// ShortModelName returns the model id with any trailing quantization or
// format suffix removed. Used for the attribution footer.
//
// # Examples
//
//	"qwen2.5-coder-7b-instruct-q4_k_m" -> "qwen2.5-coder-7b-instruct"
//	"llama-3.1-8b.gguf"                -> "llama-3.1-8b"
func (b *BackendDescriptor) ShortModelName() string {
	return ShortModelName(b.Model)
}

// quantSuffixes are trailing model-id fragments that identify a
// quantization or file format rather than the model itself.
var quantSuffixes = []string{
	"-q4_k_m", "-q4_k_s", "-q5_k_m", "-q5_k_s", "-q6_k", "-q8_0", "-q4_0",
	"-fp16", "-bf16", "-int8", "-int4", "-awq", "-gptq", "-mlx",
	".gguf", ".safetensors",
}

// ShortModelName strips a trailing quantization/format suffix from a model
// id. Unknown ids pass through unchanged.
func ShortModelName(model string) string {
	lower := strings.ToLower(model)
	for _, suf := range quantSuffixes {
		if strings.HasSuffix(lower, suf) {
			return model[:len(model)-len(suf)]
		}
	}
	return model
}
