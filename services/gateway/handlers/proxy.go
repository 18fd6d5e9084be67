// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handlers for the proxy surface and
// the /debug control plane.
package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/gateway/pipeline"
	"github.com/AleutianAI/AleutianRelay/services/gateway/translator"
)

// maxRequestBytes caps an inbound request body read.
const maxRequestBytes = 16 << 20

// ProxyHandler serves the three dialect endpoints and forced-backend
// paths.
type ProxyHandler struct {
	pipe *pipeline.Pipeline
}

// NewProxyHandler builds the proxy handler.
func NewProxyHandler(pipe *pipeline.Pipeline) *ProxyHandler {
	return &ProxyHandler{pipe: pipe}
}

// ChatCompletions handles the dialect-B endpoint.
func (h *ProxyHandler) ChatCompletions(c *gin.Context) {
	h.serve(c, datatypes.DialectChatCompletions, "")
}

// Messages handles the dialect-A endpoint.
func (h *ProxyHandler) Messages(c *gin.Context) {
	h.serve(c, datatypes.DialectMessages, "")
}

// Responses handles the dialect-C endpoint.
func (h *ProxyHandler) Responses(c *gin.Context) {
	h.serve(c, datatypes.DialectResponses, "")
}

// Forced handles any unmatched POST as a /{backend}/... path: the named
// backend is used regardless of classification, and the trailing path
// picks the dialect. Registered as the NoRoute handler so it cannot
// shadow the static routes.
func (h *ProxyHandler) Forced(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
			"type":    "proxy_error",
			"message": "not found",
		}})
		return
	}
	path := strings.TrimPrefix(c.Request.URL.Path, "/")
	backend, rest, _ := strings.Cut(path, "/")
	if backend == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
			"type":    "proxy_error",
			"message": "no backend in path",
		}})
		return
	}
	h.serve(c, dialectFromPath("/"+rest), backend)
}

// dialectFromPath maps a proxied sub-path to its dialect by pathname
// substring, defaulting to chat-completions.
func dialectFromPath(path string) datatypes.Dialect {
	switch {
	case strings.Contains(path, "/messages"):
		return datatypes.DialectMessages
	case strings.Contains(path, "/responses"):
		return datatypes.DialectResponses
	default:
		return datatypes.DialectChatCompletions
	}
}

// serve runs one request through the pipeline and writes the result.
//
// # Description
//
// Every proxied response carries X-Request-Id, X-Backend, and
// X-Timing-Ms; X-Routing-Reason is added when a decision exists. For
// streamed results the timing header covers time-to-first-byte, since
// trailers are not portable across clients.
func (h *ProxyHandler) serve(c *gin.Context, dialect datatypes.Dialect, forcedBackend string) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
			"type":    "proxy_error",
			"message": "failed to read request body",
		}})
		return
	}

	result := h.pipe.Handle(c.Request.Context(), dialect, body, forcedBackend)

	c.Header("X-Request-Id", result.Env.ID)
	c.Header("X-Backend", result.Backend)
	c.Header("X-Timing-Ms", fmt.Sprintf("%d", time.Since(result.Env.Start).Milliseconds()))
	if result.Env.Decision != nil && result.Env.Decision.Reason != "" {
		c.Header("X-Routing-Reason", result.Env.Decision.Reason)
	}

	if result.Stream == nil {
		c.Data(result.Status, "application/json", result.Body)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(result.Status)

	flusher, _ := c.Writer.(http.Flusher)
	result.Stream(func(ev translator.Event) error {
		if ev.Name != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", ev.Name); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", ev.Data); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
}
