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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	dryRun   bool // report intended actions without touching the host
	jsonLogs bool // JSON instead of text on stderr

	rootCmd = &cobra.Command{
		Use:   "kodiak",
		Short: "A cli to provision a layered network-privacy stack on this host",
		Long: `Kodiak provisions and configures a single-host privacy stack:
				an overlay mesh network (Tailscale), onion routing (Tor),
				garlic routing (I2P), and a host firewall (UFW), applied as
				one ordered pipeline with automatic rollback on failure.`,
	}

	// --- Provisioning ---
	provisionCmd = &cobra.Command{
		Use:   "provision",
		Short: "Run the full provisioning pipeline (requires root unless --dry-run)",
		Run:   runProvision, // Defined in cmd_provision.go
	}

	// --- Status ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the state of each privacy layer's service",
		Run:   runStatus, // Defined in cmd_status.go
	}
)

func init() {
	provisionCmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"Report what would be done without modifying the host")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false,
		"Emit JSON logs on stderr instead of text")

	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(statusCmd)
}
