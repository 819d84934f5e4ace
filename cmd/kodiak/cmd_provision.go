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
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/config"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/advisor"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/infra/process"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/infra/service"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/layers"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/pipeline"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/ports"
	"github.com/AleutianAI/KodiakPrivacy/pkg/logging"
)

// runProvision is the cobra entry point for `kodiak provision`.
func runProvision(cmd *cobra.Command, args []string) {
	if err := provision(); err != nil {
		color.Red("Provisioning failed: %v", err)
		os.Exit(1)
	}
}

// provision assembles the pipeline and runs it. Returned errors have
// already been shaped for the operator.
func provision() error {
	if !dryRun && os.Geteuid() != 0 {
		return fmt.Errorf("provisioning modifies system services and firewall state; run as root (or use --dry-run)")
	}

	osFS := afero.NewOsFs()
	cfg, err := config.Load(osFS)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Service: "provision",
		LogDir:  cfg.Overrides.LogDir,
		JSON:    jsonLogs,
	})
	defer logger.Close()

	runID := uuid.NewString()
	logger.Info("provisioning run starting",
		"run_id", runID,
		"dry_run", dryRun,
		"auth_key_present", cfg.Credentials.TailscaleAuthKey != "")

	// One run per host at a time. The dry-run touches nothing, so it
	// skips the lock and can observe a host mid-provision.
	if !dryRun {
		lock := process.NewLock(process.LockConfig{LockDir: cfg.Overrides.LockDir})
		if err := lock.Acquire(); err != nil {
			return err
		}
		defer lock.Release()
	}

	var runner process.Runner
	var fs afero.Fs
	if dryRun {
		runner = &process.DryRunner{Out: os.Stdout}
		// Writes land in a memory overlay; the host fs stays readable
		// so path resolution and marker replacement behave as they
		// would for real.
		fs = afero.NewCopyOnWriteFs(afero.NewReadOnlyFs(osFS), afero.NewMemMapFs())
	} else {
		runner = &process.ExecRunner{Timeout: cfg.Overrides.CommandTimeout.Std()}
		fs = osFS
	}

	services := service.NewSystemdManager(runner)
	advisoryClient := advisor.NewClient(cfg.Credentials.GeminiAPIURL, cfg.Credentials.GeminiAPIKey, logger)

	reserved := ports.DefaultReserved
	if len(cfg.Overrides.ReservedPorts) > 0 {
		reserved = append(append([]int{}, ports.DefaultReserved...), cfg.Overrides.ReservedPorts...)
	}
	allocator := ports.NewAllocator(ports.Config{
		RangeMin: cfg.Overrides.PortRangeMin,
		RangeMax: cfg.Overrides.PortRangeMax,
		Reserved: reserved,
	})

	// Fixed pipeline order: files first, daemons second, firewall
	// before the overlay goes live.
	stages := []pipeline.Stage{
		&layers.OverlayACL{},
		&layers.OnionRouting{},
		&layers.GarlicRouting{},
		&layers.Firewall{Rules: advisoryClient},
		&layers.OverlayUp{},
	}

	orch := pipeline.NewOrchestrator(pipeline.Options{
		Stages:   stages,
		Advisor:  advisoryClient,
		Services: services,
		Log:      logger,
		Output:   os.Stdout,
	})

	// An operator interrupt stops the pipeline between stages; the
	// rollback itself runs detached from this context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := &pipeline.State{
		Config:   cfg,
		FS:       fs,
		Runner:   runner,
		Services: services,
		Ports:    allocator,
		Log:      logger,
		Output:   os.Stdout,
		RunID:    runID,
		DryRun:   dryRun,
	}

	result := orch.Run(ctx, st)
	printSummary(result, st)

	if !result.Success {
		return fmt.Errorf("stage %s: %v", result.FailedStage, result.Err)
	}
	return nil
}

// printSummary renders the per-stage outcome table and the run's port
// allocations.
func printSummary(result *pipeline.RunResult, st *pipeline.State) {
	fmt.Println()
	if result.Success {
		color.Green("Privacy stack provisioned (run %s)", st.RunID)
	} else {
		color.Red("Provisioning failed at stage %s", result.FailedStage)
	}

	for _, rec := range result.Records {
		line := fmt.Sprintf("  %-16s %s", rec.Name, rec.Status)
		if rec.Attempts > 1 {
			line += fmt.Sprintf(" (%d attempts)", rec.Attempts)
		}
		switch rec.Status {
		case pipeline.StageSucceeded:
			color.Green("%s", line)
		case pipeline.StageFailed:
			color.Red("%s", line)
		case pipeline.StageRolledBack:
			color.Yellow("%s", line)
		default:
			fmt.Println(line)
		}
	}

	if len(st.Allocations) > 0 {
		fmt.Println("\nAllocated ports:")
		for _, a := range st.Allocations {
			fmt.Printf("  %s/%s: %d\n", a.Layer, a.Purpose, a.Port)
		}
	}
}
