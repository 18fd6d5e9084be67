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
	"strings"

	"github.com/spf13/cobra"
)

// modelsCmd lists configured backends.
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List configured backends",
	RunE:  runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	if jsonOutput {
		return debugGet("/debug/models", nil)
	}
	var reply struct {
		Models []struct {
			Name        string   `json:"name"`
			Model       string   `json:"model"`
			Dialect     string   `json:"dialect"`
			Specialties []string `json:"specialties"`
			Premium     bool     `json:"premium"`
			Default     bool     `json:"default"`
		} `json:"models"`
	}
	if err := debugGet("/debug/models", &reply); err != nil {
		return err
	}

	for _, m := range reply.Models {
		marker := " "
		if m.Default {
			marker = "*"
		}
		tags := strings.Join(m.Specialties, ",")
		if m.Premium {
			tags += " [premium]"
		}
		fmt.Printf("%s %-16s %-28s %-18s %s\n", marker, m.Name, m.Model, m.Dialect, tags)
	}
	return nil
}

// useCmd switches the default backend.
var useCmd = &cobra.Command{
	Use:   "use <backend>",
	Short: "Switch the default backend",
	Args:  cobra.ExactArgs(1),
	RunE:  runUse,
}

func runUse(cmd *cobra.Command, args []string) error {
	body := map[string]string{"backend": args[0]}
	if err := debugPost("/debug/switch", body, nil); err != nil {
		return err
	}
	logger.Info("default backend switched", "backend", args[0])
	if !jsonOutput {
		fmt.Printf("default backend is now %s\n", args[0])
	}
	return nil
}

// smartCmd toggles or sets smart routing.
var smartCmd = &cobra.Command{
	Use:   "smart [on|off]",
	Short: "Enable or disable smart routing",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSmart,
}

func runSmart(cmd *cobra.Command, args []string) error {
	action := "enable"
	if len(args) == 0 {
		// No argument flips the current state.
		var health struct {
			SmartRouting bool `json:"smart_routing"`
		}
		if err := debugGet("/debug/health", &health); err != nil {
			return err
		}
		if health.SmartRouting {
			action = "disable"
		}
	} else if args[0] == "off" {
		action = "disable"
	}

	if err := debugPost("/debug/router", map[string]string{"action": action}, nil); err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Printf("smart routing %sd\n", action)
	}
	return nil
}
