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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsReasoningModel(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"deepseek-r1:14b", true},
		{"qwq-32b", true},
		{"qwen3:8b", true},
		{"magistral-think", true},
		{"llama3.2:3b", false},
		{"qwen2.5-coder:32b", false},
		{"claude-sonnet-4", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsReasoningModel(tt.model), tt.model)
	}
}

func TestStripThinking(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "empty",
			in:   "",
			want: "",
		},
		{
			name: "transition phrase keeps answer after it",
			in:   "The user is asking about stocking a 50-gallon tank. Let me provide a recommendation. For a 50-gallon tank, start with a school of ten neon tetras.",
			want: "For a 50-gallon tank, start with a school of ten neon tetras.",
		},
		{
			name: "structural header is kept as part of the answer",
			in:   "Thinking about the setup.\n## Setup\nInstall the driver first.",
			want: "## Setup\nInstall the driver first.",
		},
		{
			name: "enumerated list is kept",
			in:   "Okay, so the user wants steps.\n1. Clone the repo\n2. Run make",
			want: "1. Clone the repo\n2. Run make",
		},
		{
			name: "narration-only lines dropped by fallback",
			in:   "The user is asking about maps.\nI need to recall the semantics.\nMaps are not safe for concurrent writes.",
			want: "Maps are not safe for concurrent writes.",
		},
		{
			name: "direct answer passes through",
			in:   "Maps are not safe for concurrent writes.",
			want: "Maps are not safe for concurrent writes.",
		},
		{
			name: "all narration returns original",
			in:   "The user is asking something.\nLet me think about it.",
			want: "The user is asking something.\nLet me think about it.",
		},
		{
			name: "structural marker at offset zero means nothing to strip",
			in:   "## Answer\nUse a channel.",
			want: "## Answer\nUse a channel.",
		},
		{
			name: "summary phrase strips its own preamble",
			in:   "In summary, use a channel.",
			want: "use a channel.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripThinking(tt.in))
		})
	}
}

func TestThinkingFilter_BuffersUntilTransition(t *testing.T) {
	f := newThinkingFilter("deepseek-r1:14b")

	// Narration deltas are swallowed while buffering.
	assert.Equal(t, "", f.Feed("The user is asking about stocking a tank. "))
	assert.Equal(t, "", f.Feed("Tetras need a cycled tank. "))

	// The delta completing the transition flushes everything after it.
	out := f.Feed("Let me provide a recommendation. For a 50-gallon tank, add tetras")
	assert.Equal(t, "For a 50-gallon tank, add tetras", out)

	// Passthrough from here on.
	assert.Equal(t, ", then corydoras.", f.Feed(", then corydoras."))
	assert.Equal(t, "", f.Flush())
}

func TestThinkingFilter_InactiveForPlainModels(t *testing.T) {
	f := newThinkingFilter("llama3.2:3b")
	assert.Equal(t, "The user is asking...", f.Feed("The user is asking..."))
	assert.Equal(t, "", f.Flush())
}

func TestThinkingFilter_BufferLimitFlushes(t *testing.T) {
	f := newThinkingFilter("qwq-32b")
	filler := strings.Repeat("word ", 700) // > thinkingBufferLimit bytes
	out := f.Feed(filler)
	assert.NotEmpty(t, out)
	// Subsequent deltas pass through untouched.
	assert.Equal(t, "tail", f.Feed("tail"))
}

func TestThinkingFilter_FlushAppliesLineFallback(t *testing.T) {
	f := newThinkingFilter("deepseek-r1:14b")
	assert.Equal(t, "", f.Feed("I need to check the docs.\n"))
	assert.Equal(t, "", f.Feed("Use context.WithTimeout."))
	assert.Equal(t, "Use context.WithTimeout.", f.Flush())
	// Flush is terminal.
	assert.Equal(t, "", f.Flush())
}
