// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// tierTimeout bounds each model-backed classification call. Classification
// must stay cheap relative to the request it routes.
const tierTimeout = 8 * time.Second

// modelTier wraps one OpenAI-compatible backend used for classification.
type modelTier struct {
	client *openai.Client
	model  string
	name   string
}

func newModelTier(backend datatypes.BackendDescriptor) *modelTier {
	cfg := openai.DefaultConfig("not-needed")
	cfg.BaseURL = strings.TrimRight(backend.URL, "/")
	return &modelTier{
		client: openai.NewClientWithConfig(cfg),
		model:  backend.Model,
		name:   backend.Name,
	}
}

// =============================================================================
// Tier 2: Fast-Model Realtime Check
// =============================================================================

const realtimePrompt = `You decide whether a question needs live, current data (weather, prices, news, service status) to answer. Reply with exactly one word: YES or NO.`

// classifyRealtime asks the fast model a single yes/no question. A YES
// produces a realtime verdict above the gate; a NO produces nothing so the
// next tier runs.
func (t *modelTier) classifyRealtime(ctx context.Context, text string) (*datatypes.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, tierTimeout)
	defer cancel()

	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: realtimePrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		MaxTokens:   4,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("fast-model call on %s: %w", t.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("fast-model call on %s: empty choices", t.name)
	}

	answer := strings.ToUpper(strings.TrimSpace(resp.Choices[0].Message.Content))
	if !strings.HasPrefix(answer, "YES") {
		return nil, nil
	}
	return &datatypes.Verdict{
		Category:   datatypes.CategoryRealtime,
		Confidence: 0.92,
		Complexity: datatypes.ComplexitySimple,
		Keywords:   []string{"realtime"},
		Reasoning:  "fast model flagged live-data intent",
		Source:     datatypes.SourceFastModel,
	}, nil
}

// =============================================================================
// Tier 3: Structured LLM Classification
// =============================================================================

const llmPromptTemplate = `Classify the user message into exactly one category: greetings, conversation, code, research, complex, realtime, multi, unclassified.

Known backends and their specialties:
%s
Respond with ONLY a JSON object:
{"category": "...", "confidence": 0.0, "complexity": "simple|moderate|complex|expert", "keywords": ["..."], "suggested_backends": ["..."], "reasoning": "..."}`

// llmVerdict is the wire shape the classification model is asked to emit.
type llmVerdict struct {
	Category          string   `json:"category"`
	Confidence        float64  `json:"confidence"`
	Complexity        string   `json:"complexity"`
	Keywords          []string `json:"keywords"`
	SuggestedBackends []string `json:"suggested_backends"`
	Reasoning         string   `json:"reasoning"`
}

// classifyLLM asks the classifier model for a structured verdict. The
// model is told which backends exist so its suggestions are actionable.
func (t *modelTier) classifyLLM(ctx context.Context, text string, backends []datatypes.BackendDescriptor) (*datatypes.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, tierTimeout)
	defer cancel()

	var roster strings.Builder
	for _, b := range backends {
		fmt.Fprintf(&roster, "- %s: %s\n", b.Name, strings.Join(b.Specialties, ", "))
	}

	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(llmPromptTemplate, roster.String())},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		MaxTokens:   300,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier call on %s: %w", t.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("classifier call on %s: empty choices", t.name)
	}
	return parseLLMVerdict(resp.Choices[0].Message.Content)
}

// parseLLMVerdict extracts the first {...} block from model output and
// validates it into a verdict. Unknown categories are rejected rather
// than guessed at.
func parseLLMVerdict(content string) (*datatypes.Verdict, error) {
	raw, ok := firstJSONObject(content)
	if !ok {
		return nil, fmt.Errorf("no JSON object in classifier output")
	}
	var lv llmVerdict
	if err := json.Unmarshal([]byte(raw), &lv); err != nil {
		return nil, fmt.Errorf("parsing classifier output: %w", err)
	}

	cat := datatypes.Category(strings.ToLower(lv.Category))
	if !cat.Valid() {
		return nil, fmt.Errorf("classifier produced unknown category %q", lv.Category)
	}
	if lv.Confidence < 0 || lv.Confidence > 1 {
		return nil, fmt.Errorf("classifier confidence %v out of range", lv.Confidence)
	}
	complexity := datatypes.Complexity(strings.ToLower(lv.Complexity))
	switch complexity {
	case datatypes.ComplexitySimple, datatypes.ComplexityModerate,
		datatypes.ComplexityComplex, datatypes.ComplexityExpert:
	default:
		complexity = datatypes.ComplexityModerate
	}

	return &datatypes.Verdict{
		Category:          cat,
		Confidence:        lv.Confidence,
		Complexity:        complexity,
		Keywords:          lv.Keywords,
		SuggestedBackends: lv.SuggestedBackends,
		Reasoning:         lv.Reasoning,
		Source:            datatypes.SourceLLM,
	}, nil
}

// firstJSONObject returns the first balanced {...} span in s. Models often
// wrap their JSON in prose or a code fence.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
