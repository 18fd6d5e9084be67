// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classifier produces a category and confidence for the latest
// user turn. Three tiers run in order — regex rules, a fast-model
// realtime check, and a structured-JSON LLM classification — and the
// first tier to clear the confidence gate wins. Classification never
// aborts the pipeline; every failure downgrades to the next tier or to a
// nil verdict.
package classifier

import (
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// ConfidenceGate is the threshold a tier must clear to win.
const ConfidenceGate = 0.9

// shortMessageLimit is the length under which a non-code message falls
// through to conversation.
const shortMessageLimit = 30

// =============================================================================
// Rule Table
// =============================================================================

// quickRule is one regex-tier rule. Rules run in table order; the first
// match wins.
type quickRule struct {
	pattern    *regexp.Regexp
	category   datatypes.Category
	confidence float64
	complexity datatypes.Complexity
	keywords   []string

	// retryWithSearch marks dissatisfaction rules that should force
	// web_search injection on the retry.
	retryWithSearch bool
}

var quickRules = []quickRule{
	// Greetings and short casual messages.
	{
		pattern:    regexp.MustCompile(`(?i)^\s*(hi|hello|hey|yo|howdy|good (morning|afternoon|evening)|what'?s up|sup)\s*[!.?]*\s*$`),
		category:   datatypes.CategoryGreetings,
		confidence: 0.99,
		complexity: datatypes.ComplexitySimple,
	},
	{
		pattern:    regexp.MustCompile(`(?i)^\s*(thanks|thank you|ok|okay|cool|nice|great|bye|goodbye|see you)\s*[!.?]*\s*$`),
		category:   datatypes.CategoryGreetings,
		confidence: 0.97,
		complexity: datatypes.ComplexitySimple,
	},

	// Dissatisfaction / "look it up" retries.
	{
		pattern:    regexp.MustCompile(`(?i)(look it up|search for it|google it|that'?s (outdated|wrong|old)|check online|can you search|use the internet)`),
		category:   datatypes.CategoryRealtime,
		confidence: 0.92,
		complexity: datatypes.ComplexityModerate,
		keywords:   []string{"search", "retry"},
		retryWithSearch: true,
	},

	// Code: fenced blocks and language keywords.
	{
		pattern:    regexp.MustCompile("(?s)```"),
		category:   datatypes.CategoryCode,
		confidence: 0.97,
		complexity: datatypes.ComplexityModerate,
		keywords:   []string{"code"},
	},
	{
		pattern:    regexp.MustCompile(`(?i)\b(func |def |class |import |#include|console\.log|fmt\.Println|segfault|stack ?trace|traceback|compile error|syntax error|unit test|refactor|debug (this|my)|write (a |some )?(function|script|program|regex))\b`),
		category:   datatypes.CategoryCode,
		confidence: 0.95,
		complexity: datatypes.ComplexityModerate,
		keywords:   []string{"code", "programming"},
	},
	{
		pattern:    regexp.MustCompile(`(?i)\b(python|javascript|typescript|golang|rust|java|c\+\+|sql query|bash script|dockerfile|kubernetes manifest)\b`),
		category:   datatypes.CategoryCode,
		confidence: 0.9,
		complexity: datatypes.ComplexityModerate,
		keywords:   []string{"code", "programming"},
	},

	// Service status.
	{
		pattern:    regexp.MustCompile(`(?i)\b(is\s+\S+\s+(down|up)|down for everyone|status of|outage|can'?t (reach|access)\s+\S+\.(com|net|org|io))\b`),
		category:   datatypes.CategoryRealtime,
		confidence: 0.95,
		complexity: datatypes.ComplexitySimple,
		keywords:   []string{"status", "outage"},
	},

	// Weather, explicit and implicit.
	{
		pattern:    regexp.MustCompile(`(?i)\b(weather|forecast|temperature outside|how (hot|cold) is it)\b`),
		category:   datatypes.CategoryRealtime,
		confidence: 0.96,
		complexity: datatypes.ComplexitySimple,
		keywords:   []string{"weather"},
	},
	{
		pattern:    regexp.MustCompile(`(?i)\b(need (an |my )?umbrella|need a (jacket|coat|sweater)|is it (raining|snowing)|will it (rain|snow)|should i wear)\b`),
		category:   datatypes.CategoryRealtime,
		confidence: 0.95,
		complexity: datatypes.ComplexitySimple,
		keywords:   []string{"weather"},
	},

	// Crypto and commodity prices.
	{
		pattern:    regexp.MustCompile(`(?i)\b(btc|bitcoin|eth|ethereum|solana|dogecoin|xrp|crypto)\b.{0,40}\b(price|worth|value|trading|cost)\b|\b(price|worth|value)\b.{0,40}\b(btc|bitcoin|eth|ethereum|crypto)\b`),
		category:   datatypes.CategoryRealtime,
		confidence: 0.96,
		complexity: datatypes.ComplexitySimple,
		keywords:   []string{"crypto", "price"},
	},
	{
		pattern:    regexp.MustCompile(`(?i)\b(gold|silver|oil|natural gas)\b.{0,40}\b(price|spot|worth|trading)\b`),
		category:   datatypes.CategoryRealtime,
		confidence: 0.94,
		complexity: datatypes.ComplexitySimple,
		keywords:   []string{"commodity", "price"},
	},

	// News and current events.
	{
		pattern:    regexp.MustCompile(`(?i)\b(latest news|today'?s news|breaking news|current events|what (happened|is happening) (today|this week)|in the news)\b`),
		category:   datatypes.CategoryRealtime,
		confidence: 0.93,
		complexity: datatypes.ComplexityModerate,
		keywords:   []string{"news"},
	},

	// Research framings.
	{
		pattern:    regexp.MustCompile(`(?i)\b(compare and contrast|literature (review|survey)|in[- ]depth (analysis|review)|research|pros and cons of|comprehensive (overview|guide)|explain in detail)\b`),
		category:   datatypes.CategoryResearch,
		confidence: 0.9,
		complexity: datatypes.ComplexityComplex,
		keywords:   []string{"research", "analysis"},
	},
}

// =============================================================================
// Regex Tier
// =============================================================================

// classifyQuick runs the rule table against the last user turn. Returns
// nil when no rule fires and the message is long enough to defer.
func classifyQuick(text string) *datatypes.Verdict {
	trimmed := strings.TrimSpace(text)

	for _, rule := range quickRules {
		if rule.pattern.MatchString(trimmed) {
			return &datatypes.Verdict{
				Category:        rule.category,
				Confidence:      rule.confidence,
				Complexity:      rule.complexity,
				Keywords:        rule.keywords,
				Reasoning:       "matched quick rule",
				Source:          datatypes.SourceQuickRegex,
				RetryWithSearch: rule.retryWithSearch,
			}
		}
	}

	// Very short non-code messages are conversation. Length 0 included:
	// an empty turn has nothing to classify.
	if len(trimmed) < shortMessageLimit && !strings.Contains(trimmed, "`") {
		return &datatypes.Verdict{
			Category:   datatypes.CategoryConversation,
			Confidence: 0.85,
			Complexity: datatypes.ComplexitySimple,
			Reasoning:  "short casual message",
			Source:     datatypes.SourceQuickRegex,
		}
	}
	return nil
}
