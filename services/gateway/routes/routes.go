// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes registers the gateway's HTTP surface on a gin engine.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRelay/services/gateway/handlers"
)

// Register wires the proxy endpoints and the /debug control plane.
//
// The forced-backend surface (/{backend}/...) is the NoRoute handler, so
// every unmatched POST is treated as a forced-routing request.
func Register(r *gin.Engine, proxy *handlers.ProxyHandler, debug *handlers.DebugHandler) {
	v1 := r.Group("/v1")
	{
		v1.POST("/chat/completions", proxy.ChatCompletions)
		v1.POST("/messages", proxy.Messages)
		v1.POST("/responses", proxy.Responses)
	}

	dbg := r.Group("/debug")
	{
		dbg.GET("/health", debug.Health)
		dbg.GET("/logs", debug.Logs)
		dbg.GET("/stats", debug.Stats)
		dbg.GET("/tokens", debug.Tokens)
		dbg.GET("/models", debug.Models)
		dbg.POST("/switch", debug.Switch)
		dbg.GET("/router", debug.RouterAction)
		dbg.POST("/router", debug.RouterAction)
		dbg.POST("/compare", debug.Compare)
		dbg.GET("/history", debug.History)
		dbg.GET("/history/:id", debug.HistoryByID)
		dbg.GET("/analytics", debug.Analytics)
	}

	r.NoRoute(proxy.Forced)
}
