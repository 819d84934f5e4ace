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
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/config"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/infra/process"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/infra/service"
)

// runStatus shows each layer's service state and resolved configuration
// directory. Read-only and best-effort: it needs no credentials, no
// root, and no lock.
func runStatus(cmd *cobra.Command, args []string) {
	fs := afero.NewOsFs()
	paths := config.NewPathResolver(fs).ResolveAll(nil)

	runner := process.NewExecRunner()
	services := service.NewSystemdManager(runner)
	ctx := context.Background()

	rows := []struct {
		layer string
		unit  string
		dir   config.Resolution
	}{
		{"overlay", "tailscaled", paths.Overlay},
		{"onion", "tor", paths.Onion},
		{"garlic", garlicUnitFor(paths.Garlic.Path), paths.Garlic},
		{"firewall", "ufw", paths.Firewall},
	}

	fmt.Println("Kodiak privacy stack status:")
	for _, row := range rows {
		active, _ := services.IsActive(ctx, row.unit)

		state := color.RedString("inactive")
		if active {
			state = color.GreenString("active")
		}

		dir := row.dir.Path
		if row.dir.UsedDefault {
			dir += " (default, not present)"
		}
		fmt.Printf("  %-10s %-12s %-10s %s\n", row.layer, row.unit, state, dir)
	}
}

// garlicUnitFor mirrors the garlic configurator's unit selection so
// status reports on the router flavor actually installed.
func garlicUnitFor(dir string) string {
	if strings.Contains(dir, "i2pd") {
		return "i2pd"
	}
	return "i2p"
}
