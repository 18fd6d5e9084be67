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
	"time"

	"github.com/spf13/cobra"
)

var (
	logsLimit   int
	logsBackend string
)

// logsCmd tails the gateway's recent-request ring buffer.
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent requests",
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 10, "Number of requests to show")
	logsCmd.Flags().StringVarP(&logsBackend, "backend", "b", "", "Filter by backend")
}

func runLogs(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/debug/logs?limit=%d", logsLimit)
	if logsBackend != "" {
		path += "&backend=" + logsBackend
	}
	if jsonOutput {
		return debugGet(path, nil)
	}

	var reply struct {
		Logs []struct {
			ID           string    `json:"id"`
			Timestamp    time.Time `json:"timestamp"`
			Backend      string    `json:"backend"`
			Category     string    `json:"category"`
			Status       int       `json:"status"`
			LatencyMs    int64     `json:"latency_ms"`
			InputTokens  int       `json:"input_tokens"`
			OutputTokens int       `json:"output_tokens"`
			Error        string    `json:"error"`
		} `json:"logs"`
	}
	if err := debugGet(path, &reply); err != nil {
		return err
	}
	if len(reply.Logs) == 0 {
		fmt.Println("no requests recorded yet")
		return nil
	}

	for _, e := range reply.Logs {
		line := fmt.Sprintf("%s  %-14s %-12s %3d %6dms  %d/%d tok",
			e.Timestamp.Local().Format("15:04:05"), e.Backend, e.Category,
			e.Status, e.LatencyMs, e.InputTokens, e.OutputTokens)
		if e.Error != "" {
			line += "  error=" + e.Error
		}
		fmt.Println(line)
	}
	return nil
}
