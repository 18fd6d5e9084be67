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
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianRelay/services/gateway/control"
	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// Preferences is the slice of router history the classifier consults when
// applying per-user overrides.
type Preferences struct {
	CategoryOverrides map[datatypes.Category]string
	QualityPreference string // low, normal, high
	PreferredModels   map[datatypes.Category]string
}

// PreferenceProvider supplies per-user preference records. Implemented by
// the router's history store.
type PreferenceProvider interface {
	UserPreferences(userID string) (Preferences, bool)
}

// Classifier runs the three tiers and applies user preferences.
type Classifier struct {
	state *control.State
	prefs PreferenceProvider

	// fastTier and llmTier are nil when the corresponding backend is not
	// configured; the tier is skipped.
	fastTier *modelTier
	llmTier  *modelTier
}

// New builds a classifier. classifierBackend and fastModelBackend name
// configured backends (empty disables the tier).
func New(state *control.State, prefs PreferenceProvider, classifierBackend, fastModelBackend string) *Classifier {
	c := &Classifier{state: state, prefs: prefs}
	if fastModelBackend != "" {
		if b, ok := state.Backend(fastModelBackend); ok {
			c.fastTier = newModelTier(b)
		}
	}
	if classifierBackend != "" {
		if b, ok := state.Backend(classifierBackend); ok {
			c.llmTier = newModelTier(b)
		}
	}
	return c
}

// Classify produces a verdict for the latest user turn, or nil to defer
// to the default backend.
//
// # Description
//
// Tiers run in order; the first to clear the 0.9 confidence gate wins.
// When no tier clears the gate the best verdict so far is returned. The
// fast-model tier is skipped when the request already declares tools or
// when the regex tier already said realtime. Failures never propagate:
// a tier that errors is logged and the next one runs.
func (c *Classifier) Classify(ctx context.Context, messages []datatypes.Message, hasClientTools bool, userID string) *datatypes.Verdict {
	text := lastUserText(messages)

	best := classifyQuick(text)
	if best != nil && best.Confidence >= ConfidenceGate {
		return c.applyPreferences(best, userID)
	}

	// Tier 2: fast-model realtime detection.
	alreadyRealtime := best != nil && best.Category == datatypes.CategoryRealtime
	if c.fastTier != nil && !hasClientTools && !alreadyRealtime {
		if v, err := c.fastTier.classifyRealtime(ctx, text); err != nil {
			slog.Debug("Fast-model tier failed", "error", err)
		} else if v != nil {
			if v.Confidence >= ConfidenceGate {
				return c.applyPreferences(v, userID)
			}
			if best == nil || v.Confidence > best.Confidence {
				best = v
			}
		}
	}

	// Tier 3: structured LLM classification.
	if c.llmTier != nil {
		if v, err := c.llmTier.classifyLLM(ctx, text, c.state.Backends()); err != nil {
			slog.Debug("LLM tier failed", "error", err)
		} else if v != nil {
			if best == nil || v.Confidence > best.Confidence {
				best = v
			}
		}
	}

	if best == nil {
		return nil
	}
	return c.applyPreferences(best, userID)
}

// applyPreferences rewrites the verdict's suggested backends from the
// user's preference record.
func (c *Classifier) applyPreferences(v *datatypes.Verdict, userID string) *datatypes.Verdict {
	if c.prefs == nil || userID == "" {
		return v
	}
	prefs, ok := c.prefs.UserPreferences(userID)
	if !ok {
		return v
	}

	if override, ok := prefs.CategoryOverrides[v.Category]; ok {
		v.SuggestedBackends = []string{override}
		v.Source = datatypes.SourceOverride
	}
	if prefs.QualityPreference == "high" && v.Complexity != datatypes.ComplexitySimple {
		if premium, ok := c.state.Premium(); ok && !contains(v.SuggestedBackends, premium.Name) {
			v.SuggestedBackends = append(v.SuggestedBackends, premium.Name)
		}
	}
	return v
}

func lastUserText(messages []datatypes.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == datatypes.RoleUser {
			return messages[i].Content.PlainText()
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
