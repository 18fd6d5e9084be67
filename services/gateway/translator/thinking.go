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
	"regexp"
	"strings"
)

// =============================================================================
// Thinking-Content Stripping
// =============================================================================
//
// Some models emit a verbose chain-of-thought before the actual answer,
// either as a separate reasoning_content field or as a preamble inside the
// content itself. The filter finds the transition from narration to answer
// and keeps only the answer. The phrase tables are model-specific data and
// will need to be kept current as new reasoning models appear.

// reasoningModelPattern matches model ids known to emit thinking preambles.
// Stripping defaults to a no-op unless the declared model matches.
var reasoningModelPattern = regexp.MustCompile(`(?i)(deepseek-r1|qwq|qwen3|o[134](-mini)?|-r1\b|reasoning|-think)`)

// IsReasoningModel reports whether the model id matches the known
// reasoning-model set.
func IsReasoningModel(model string) bool {
	return reasoningModelPattern.MatchString(model)
}

// transitionPatterns recognize the phrase where narration hands over to
// the actual answer. The match position marks the start of the kept text.
var transitionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)let me provide[^.\n]*[.:]\s*`),
	regexp.MustCompile(`(?i)here'?s my (recommendation|answer|response|suggestion)[^.\n]*[.:]\s*`),
	regexp.MustCompile(`(?i)here (is|are) (the|my|a)[^.\n]*[.:]\s*`),
	regexp.MustCompile(`(?i)(in summary|to summarize|in short)[,:]\s*`),
	// Formatted section headers.
	regexp.MustCompile(`(?m)^#{1,3}\s+\S`),
	regexp.MustCompile(`(?m)^\*\*[^*\n]+\*\*:?\s*$`),
	// Enumerated list starts.
	regexp.MustCompile(`(?m)^1[.)]\s+\S`),
	regexp.MustCompile(`(?m)^[-*]\s+\S`),
	// "For a ..." style pivots common in recommendation answers.
	regexp.MustCompile(`(?m)^For (a|an|the|your) \S`),
}

// narrationPrefixes begin lines of model self-narration; the line-level
// fallback drops them.
var narrationPrefixes = []string{
	"the user is asking", "the user wants", "the user's question",
	"okay, so", "okay so", "alright,", "hmm,", "wait,",
	"let me think", "let me see", "let me work", "let me figure",
	"i need to", "i should", "i'll think", "first, i",
	"so the question", "thinking about",
}

// thinkingBufferLimit caps how much streamed text is buffered while
// waiting for a transition phrase. Past the cap everything buffered is
// flushed as-is.
const thinkingBufferLimit = 3000

// StripThinking removes a chain-of-thought preamble from text.
//
// # Description
//
// Finds the latest-starting transition phrase inside the narration window
// and returns everything from the match on. When no transition is found,
// falls back to dropping leading lines that begin with recognized
// self-narration prefixes. Text that looks like a direct answer passes
// through untouched.
func StripThinking(text string) string {
	if text == "" {
		return text
	}
	if idx, keepFrom := findTransition(text); idx >= 0 {
		return text[keepFrom:]
	}
	return dropNarrationLines(text)
}

// findTransition returns the byte offset of the best transition match and
// the offset where kept text starts. Phrase-style patterns keep the text
// after the phrase; structural patterns (headers, lists) keep the match
// itself. Returns (-1, 0) when nothing matches.
func findTransition(text string) (int, int) {
	bestIdx, bestKeep := -1, 0
	for i, re := range transitionPatterns {
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		keep := loc[1]
		if i >= 4 {
			// Structural markers are part of the answer.
			keep = loc[0]
		}
		if bestIdx == -1 || loc[0] < bestIdx {
			bestIdx, bestKeep = loc[0], keep
		}
	}
	if bestIdx == 0 && bestKeep == 0 {
		// The whole text starts at the transition; nothing to strip.
		return -1, 0
	}
	return bestIdx, bestKeep
}

// dropNarrationLines is the line-level fallback: leading lines that begin
// with a recognized self-narration prefix are removed until the first
// line that does not.
func dropNarrationLines(text string) string {
	lines := strings.Split(text, "\n")
	start := 0
	for start < len(lines) {
		trimmed := strings.ToLower(strings.TrimSpace(lines[start]))
		if trimmed == "" {
			start++
			continue
		}
		matched := false
		for _, p := range narrationPrefixes {
			if strings.HasPrefix(trimmed, p) {
				matched = true
				break
			}
		}
		if !matched {
			break
		}
		start++
	}
	if start == 0 {
		return text
	}
	if start >= len(lines) {
		// Everything narrated; better to return the original than nothing.
		return text
	}
	return strings.TrimLeft(strings.Join(lines[start:], "\n"), "\n")
}

// =============================================================================
// Streaming Filter
// =============================================================================

// thinkingFilter buffers streamed deltas until a transition phrase appears
// or the buffer limit is exceeded, then flushes the post-transition text
// as one large delta and switches to passthrough.
type thinkingFilter struct {
	active  bool
	passthrough bool
	buf     strings.Builder
}

// newThinkingFilter returns a filter that is a no-op unless the model
// matches the reasoning heuristic.
func newThinkingFilter(model string) *thinkingFilter {
	return &thinkingFilter{active: IsReasoningModel(model)}
}

// Feed consumes one text delta and returns the text to emit downstream
// (possibly empty while buffering).
func (f *thinkingFilter) Feed(delta string) string {
	if !f.active || f.passthrough {
		return delta
	}
	f.buf.WriteString(delta)
	text := f.buf.String()
	if idx, keepFrom := findTransition(text); idx >= 0 {
		f.passthrough = true
		return text[keepFrom:]
	}
	if f.buf.Len() > thinkingBufferLimit {
		f.passthrough = true
		return dropNarrationLines(text)
	}
	return ""
}

// Flush returns whatever is still buffered at end of stream, filtered
// through the line-level fallback.
func (f *thinkingFilter) Flush() string {
	if !f.active || f.passthrough {
		return ""
	}
	f.passthrough = true
	return dropNarrationLines(f.buf.String())
}
