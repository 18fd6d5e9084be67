// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools provides the gateway's server-side tool subsystem: the
// registry of pluggable handlers, invocation detection across the three
// response formats, and the built-in web_search handler.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// Handler executes one tool call and returns a textual result suitable
// for re-insertion as a tool-role turn. Errors become error-string
// results; they never fail the request.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool is one registered tool: its dialect-neutral definition, compiled
// parameter schema, and handler.
type Tool struct {
	Definition datatypes.ToolDefinition
	schema     *jsonschema.Schema
	handler    Handler
}

// Registry holds registered tools by name.
//
// # Thread Safety
//
// Registration normally happens at startup, but the registry is safe for
// concurrent Register/Execute.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. The JSON-schema parameters are compiled once here
// so Execute can validate arguments before dispatch.
func (r *Registry) Register(def datatypes.ToolDefinition, handler Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition requires a name")
	}
	if handler == nil {
		return fmt.Errorf("tool %q requires a handler", def.Name)
	}

	tool := &Tool{Definition: def, handler: handler}
	if len(def.Parameters) > 0 {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(def.Parameters))
		if err != nil {
			return fmt.Errorf("tool %q has invalid parameter schema: %w", def.Name, err)
		}
		compiler := jsonschema.NewCompiler()
		resource := def.Name + ".schema.json"
		if err := compiler.AddResource(resource, doc); err != nil {
			return fmt.Errorf("tool %q schema registration failed: %w", def.Name, err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return fmt.Errorf("tool %q schema compilation failed: %w", def.Name, err)
		}
		tool.schema = schema
	}

	r.mu.Lock()
	r.tools[def.Name] = tool
	r.mu.Unlock()
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns all registered definitions.
func (r *Registry) Definitions() []datatypes.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]datatypes.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition)
	}
	return out
}

// Execute runs the named tool against the given arguments.
//
// # Description
//
// Arguments are validated against the tool's compiled schema first;
// validation and handler failures both come back as (errorText, err) so
// the caller can insert the error text as the tool result and keep the
// loop going.
func (r *Registry) Execute(ctx context.Context, call datatypes.ToolCall) (string, error) {
	tool, ok := r.Lookup(call.Name)
	if !ok {
		err := fmt.Errorf("no tool registered under %q", call.Name)
		return "Error: " + err.Error(), err
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if tool.schema != nil {
		inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
		if err != nil {
			err = fmt.Errorf("tool %q arguments are not valid JSON: %w", call.Name, err)
			return "Error: " + err.Error(), err
		}
		if err := tool.schema.Validate(inst); err != nil {
			err = fmt.Errorf("tool %q argument validation failed: %w", call.Name, err)
			return "Error: " + err.Error(), err
		}
	}

	result, err := tool.handler(ctx, args)
	if err != nil {
		slog.Warn("Tool execution failed", "tool", call.Name, "error", err)
		return "Error: " + err.Error(), err
	}
	return result, nil
}
