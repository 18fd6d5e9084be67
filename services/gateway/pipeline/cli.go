// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/gateway/observability"
	"github.com/AleutianAI/AleutianRelay/services/gateway/translator"
)

// cliPrefix triggers the in-band operator CLI.
const cliPrefix = "proxy-cli"

// CLIBackendName is the synthetic backend name reported for CLI turns.
const CLIBackendName = "proxy-cli"

// handleCLI answers a proxy-cli turn with a synthesized assistant message.
// No upstream dispatch occurs; the turn still gets its ring-buffer write.
func (p *Pipeline) handleCLI(env *datatypes.Envelope, rawBody []byte, cmd string) *Result {
	text := p.runCLICommand(cmd)

	resp := &translator.Response{
		Model:      CLIBackendName,
		Text:       text,
		StopReason: "stop",
	}
	env.ResponseText = text

	clientWantsStream := env.Stream
	env.Stream = false
	return p.emitBuffered(env, CLIBackendName, resp, string(rawBody), clientWantsStream)
}

// runCLICommand dispatches one CLI verb.
func (p *Pipeline) runCLICommand(cmd string) string {
	fields := strings.Fields(cmd)
	verb := "help"
	if len(fields) > 0 {
		verb = fields[0]
	}

	switch verb {
	case "status":
		return p.cliStatus()
	case "models":
		return p.cliModels()
	case "use":
		if len(fields) < 2 {
			return "usage: proxy-cli use <backend>"
		}
		if err := p.state.SetDefaultBackend(fields[1]); err != nil {
			return "Error: " + err.Error()
		}
		return "Default backend switched to " + fields[1]
	case "smart":
		enabled := !p.state.SmartRouting()
		p.state.SetSmartRouting(enabled)
		if enabled {
			return "Smart routing enabled"
		}
		return "Smart routing disabled"
	case "logs":
		limit := 10
		if len(fields) > 1 {
			if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
				limit = n
			}
		}
		return p.cliLogs(limit)
	case "help":
		return cliHelp
	default:
		return fmt.Sprintf("Unknown command %q.\n\n%s", verb, cliHelp)
	}
}

func (p *Pipeline) cliStatus() string {
	snap := p.stats.Snapshot()
	var sb strings.Builder
	sb.WriteString("Gateway status\n")
	fmt.Fprintf(&sb, "  default backend: %s\n", p.state.DefaultBackendName())
	fmt.Fprintf(&sb, "  smart routing:   %v\n", p.state.SmartRouting())
	fmt.Fprintf(&sb, "  backends:        %d\n", len(p.state.Names()))
	fmt.Fprintf(&sb, "  requests:        %d (%d errors)\n", snap.RequestsTotal, snap.ErrorsTotal)
	fmt.Fprintf(&sb, "  avg latency:     %.0f ms", snap.LatencyAvgMs)
	return sb.String()
}

func (p *Pipeline) cliModels() string {
	var sb strings.Builder
	sb.WriteString("Configured backends\n")
	defaultName := p.state.DefaultBackendName()
	for _, b := range p.state.Backends() {
		marker := " "
		if b.Name == defaultName {
			marker = "*"
		}
		fmt.Fprintf(&sb, "%s %s  model=%s dialect=%s specialties=%s\n",
			marker, b.Name, b.Model, b.Dialect, strings.Join(b.Specialties, ","))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (p *Pipeline) cliLogs(limit int) string {
	entries := p.ring.Snapshot(observability.Filter{Limit: limit})
	if len(entries) == 0 {
		return "No requests recorded yet"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Last %d requests\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&sb, "  %s  %-12s status=%d %dms in=%d out=%d\n",
			e.Timestamp.Format("15:04:05"), e.Backend, e.Status,
			e.LatencyMs, e.InputTokens, e.OutputTokens)
	}
	return strings.TrimRight(sb.String(), "\n")
}

const cliHelp = `proxy-cli commands:
  status          gateway summary
  models          list configured backends
  use <backend>   switch the default backend
  smart           toggle smart routing
  logs [N]        show the last N requests (default 10)
  help            this message`
