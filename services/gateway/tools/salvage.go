// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"regexp"
	"strings"
)

// =============================================================================
// Auto-Search Salvage
// =============================================================================
//
// When tools were not injected and the model answers with a real-time
// refusal ("I don't have access to current data..."), the pipeline can
// salvage the turn: run web_search on the topic and re-ask with results
// appended. The activation threshold is deliberately aggressive, so the
// whole feature sits behind the router.auto_search_salvage config flag.

// refusalPatterns recognize real-time-refusal phrasings.
var refusalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)don'?t have (access to )?real[- ]?time`),
	regexp.MustCompile(`(?i)don'?t have (access to )?current (data|information|prices)`),
	regexp.MustCompile(`(?i)(unable|not able) to (access|browse|look up) (the )?(internet|web|live)`),
	regexp.MustCompile(`(?i)my (knowledge|training) (data )?(has a )?cut[- ]?off`),
	regexp.MustCompile(`(?i)check (a|the|your) (weather (site|app|service)|news (site|source)|financial (site|source))`),
	regexp.MustCompile(`(?i)recommend checking .{0,40}(website|site|app|source)`),
	regexp.MustCompile(`(?i)as an ai[^.]*can(no|')t (access|browse)`),
}

// IsRealtimeRefusal reports whether text reads as a refusal to answer for
// lack of live data.
func IsRealtimeRefusal(text string) bool {
	for _, re := range refusalPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// fillerWords are stripped from the front of a question when deriving a
// search topic.
var fillerWords = map[string]bool{
	"what": true, "whats": true, "what's": true, "how": true, "is": true,
	"are": true, "the": true, "a": true, "an": true, "do": true, "does": true,
	"can": true, "could": true, "please": true, "tell": true, "me": true,
	"about": true, "i": true, "need": true, "to": true, "know": true,
}

// ExtractSearchTopic derives a web_search query from the user's question.
// Best effort; returns "" when nothing useful survives.
func ExtractSearchTopic(question string) string {
	cleaned := strings.TrimSpace(question)
	cleaned = strings.Trim(cleaned, "?!.")
	words := strings.Fields(cleaned)

	var kept []string
	for _, w := range words {
		if len(kept) == 0 && fillerWords[strings.ToLower(w)] {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 {
		return ""
	}
	// Cap the topic; long questions make bad queries.
	if len(kept) > 10 {
		kept = kept[:10]
	}
	return strings.Join(kept, " ")
}
