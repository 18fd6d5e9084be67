// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// relayctl is the operator CLI for a running relay gateway. It drives
// the gateway's /debug API: inspecting state, switching the default
// backend, toggling smart routing, and tailing recent requests.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRelay/pkg/logging"
)

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

var (
	serverURL  string // Gateway base URL
	jsonOutput bool   // Raw JSON output for scripting
	verbose    bool   // Debug-level logging
)

var logger = logging.Default()

// rootCmd is the relayctl entry point.
var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Operate a running relay gateway",
	Long: `relayctl drives a relay gateway's /debug API.

Examples:
  relayctl status                  # Gateway summary
  relayctl models                  # List configured backends
  relayctl use premium             # Switch the default backend
  relayctl smart on                # Enable smart routing
  relayctl logs -n 20              # Last 20 requests
  relayctl stats                   # Counter snapshot`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s",
		"http://localhost:11434", "Gateway base URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Print raw JSON responses")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := logging.LevelInfo
		if verbose {
			level = logging.LevelDebug
		}
		logger = logging.New(logging.Config{Level: level, Service: "relayctl"})
	}

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(useCmd)
	rootCmd.AddCommand(smartCmd)
	rootCmd.AddCommand(logsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
