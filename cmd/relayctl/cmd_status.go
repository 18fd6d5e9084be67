// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statusCmd shows the gateway's health summary.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway health and routing state",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	if jsonOutput {
		return debugGet("/debug/health", nil)
	}
	var health struct {
		Status         string   `json:"status"`
		UptimeSeconds  int      `json:"uptime_seconds"`
		DefaultBackend string   `json:"default_backend"`
		SmartRouting   bool     `json:"smart_routing"`
		Backends       []string `json:"backends"`
		Archive        bool     `json:"archive"`
	}
	if err := debugGet("/debug/health", &health); err != nil {
		return err
	}

	fmt.Printf("status:          %s\n", health.Status)
	fmt.Printf("uptime:          %ds\n", health.UptimeSeconds)
	fmt.Printf("default backend: %s\n", health.DefaultBackend)
	fmt.Printf("smart routing:   %v\n", health.SmartRouting)
	fmt.Printf("backends:        %d\n", len(health.Backends))
	fmt.Printf("archive:         %v\n", health.Archive)
	return nil
}

// statsCmd dumps the counter snapshot.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show request and token counters",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	if jsonOutput {
		return debugGet("/debug/stats", nil)
	}
	var snap struct {
		RequestsTotal     int64            `json:"requests_total"`
		ErrorsTotal       int64            `json:"errors_total"`
		LatencyAvgMs      float64          `json:"latency_avg_ms"`
		RequestsByBackend map[string]int64 `json:"requests_by_backend"`
		TokensInputTotal  int64            `json:"tokens_input_total"`
		TokensOutputTotal int64            `json:"tokens_output_total"`
	}
	if err := debugGet("/debug/stats", &snap); err != nil {
		return err
	}

	fmt.Printf("requests:    %d (%d errors)\n", snap.RequestsTotal, snap.ErrorsTotal)
	fmt.Printf("avg latency: %.0f ms\n", snap.LatencyAvgMs)
	fmt.Printf("tokens:      %d in / %d out\n", snap.TokensInputTotal, snap.TokensOutputTotal)
	if len(snap.RequestsByBackend) > 0 {
		fmt.Println("by backend:")
		for name, count := range snap.RequestsByBackend {
			fmt.Printf("  %-16s %d\n", name, count)
		}
	}
	return nil
}
