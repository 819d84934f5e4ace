// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package pipeline contains the stage orchestrator, the remediation loop,
and the rollback manager - the parts of Kodiak with real ordering
guarantees and failure-handling logic.

The pipeline is single-threaded and strictly sequential: stage N+1 never
starts before stage N reaches a terminal per-stage state, because later
stages consume artifacts (ports, rule sets) produced by earlier ones.
Data flows forward only; no stage reads ahead.
*/
package pipeline

import (
	"context"
	"io"

	"github.com/spf13/afero"

	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/config"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/infra/process"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/infra/service"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/ports"
	"github.com/AleutianAI/KodiakPrivacy/pkg/logging"
)

// State is the run's forward-flowing context, threaded through every
// stage. The RunConfig inside is read-only for stages; the allocation
// set grows as stages claim ports.
type State struct {
	// Config is the run's immutable configuration.
	Config *config.RunConfig

	// FS is the filesystem stages write generated fragments through.
	// The real OS filesystem in a live run, an in-memory one in
	// dry-run and tests.
	FS afero.Fs

	// Runner executes external commands.
	Runner process.Runner

	// Services controls layer daemons.
	Services service.Manager

	// Ports grants randomized ports for the run.
	Ports *ports.Allocator

	// Log is the run's structured logger.
	Log *logging.Logger

	// Output receives human-readable progress. Never nil once the
	// orchestrator has seen the state.
	Output io.Writer

	// RunID identifies this run in logs and the rollback ledger.
	RunID string

	// DryRun marks a reporting-only run.
	DryRun bool

	// Allocations accumulates every port granted during the run.
	Allocations []ports.Allocation
}

// Allocate grants one port for the given layer and purpose, recording
// the allocation in the run state.
func (st *State) Allocate(layer, purpose string) (int, error) {
	granted, err := st.Ports.Allocate(1)
	if err != nil {
		return 0, err
	}
	port := granted[0]
	st.Allocations = append(st.Allocations, ports.Allocation{Layer: layer, Purpose: purpose, Port: port})
	st.Log.Info("allocated port", "layer", layer, "purpose", purpose, "port", port)
	return port, nil
}

// AllocationFor returns the port granted for the given layer and
// purpose earlier in the run, or false if none was.
func (st *State) AllocationFor(layer, purpose string) (int, bool) {
	for _, a := range st.Allocations {
		if a.Layer == layer && a.Purpose == purpose {
			return a.Port, true
		}
	}
	return 0, false
}

// UndoAction is one entry in the rollback ledger: how to undo one
// successfully-applied stage. Undo is best-effort cleanup; Run may fail
// and the failure is logged, never escalated.
type UndoAction struct {
	// Stage names the stage that pushed this action.
	Stage string

	// Desc is a human-readable description for logs.
	Desc string

	// Run performs the undo.
	Run func(ctx context.Context) error
}

// Stage is one unit of pipeline work, configuring one layer.
//
// Apply must be safely re-runnable: generated file sections replace any
// prior generated section rather than duplicating it, and only the
// stage's own layer service is restarted. A non-nil UndoAction on
// success is appended to the rollback ledger.
type Stage interface {
	// Name is the stage's stable identifier, used in records, logs,
	// and progress output.
	Name() string

	// Apply performs the stage's work against the run state.
	Apply(ctx context.Context, st *State) (*UndoAction, error)
}

// Advisor is the narrow view of the external advisory service the
// remediation loop needs. Implementations must treat unavailability as
// ok=false, never as an error.
type Advisor interface {
	Suggest(ctx context.Context, action, errText string) (string, bool)
}
