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
	"context"
	"fmt"
	"io"

	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/advisor"
	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/infra/service"
	"github.com/AleutianAI/KodiakPrivacy/pkg/logging"
)

// DefaultMaxAttempts is the per-stage retry budget: one remediation
// cycle, two attempts total. Exceeding it marks the stage and the run
// failed.
const DefaultMaxAttempts = 2

// Orchestrator drives the fixed, statically-ordered stage list and owns
// every StageRecord and the rollback ledger.
//
// # Description
//
// Ordering is a hard dependency: firewall rules reference ports chosen
// by earlier layers, and overlay activation must occur last so routes
// are advertised only after all layers are live.
//
// # Thread Safety
//
// An Orchestrator runs one pipeline at a time from a single goroutine.
// Host-level exclusivity comes from the run lock, not from this type.
type Orchestrator struct {
	stages      []Stage
	advisor     Advisor
	services    service.Manager
	rollback    *RollbackManager
	log         *logging.Logger
	output      io.Writer
	maxAttempts int
}

// Options configures an Orchestrator.
type Options struct {
	// Stages is the ordered stage list. Required.
	Stages []Stage

	// Advisor supplies corrective suggestions. Nil disables
	// remediation suggestions (stages still get their bounded retry).
	Advisor Advisor

	// Services applies corrective actions (service restarts,
	// daemon-reload). Required when Advisor is set.
	Services service.Manager

	// Log is the structured logger. Nil uses the default.
	Log *logging.Logger

	// Output receives human-readable progress. Nil discards.
	Output io.Writer

	// MaxAttempts overrides the per-stage retry budget. Zero uses
	// DefaultMaxAttempts.
	MaxAttempts int
}

// NewOrchestrator creates an Orchestrator over the given stages.
func NewOrchestrator(opts Options) *Orchestrator {
	log := opts.Log
	if log == nil {
		log = logging.Default()
	}
	output := opts.Output
	if output == nil {
		output = io.Discard
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Orchestrator{
		stages:      opts.Stages,
		advisor:     opts.Advisor,
		services:    opts.Services,
		rollback:    NewRollbackManager(log, output),
		log:         log,
		output:      output,
		maxAttempts: maxAttempts,
	}
}

// Run executes the pipeline over the given state.
//
// # Description
//
// Stages run strictly in order. A recoverable failure engages the
// remediation loop before the stage's bounded retry; a fatal failure
// (or an exhausted retry budget) rolls back every succeeded stage in
// reverse order and fails the run. Context cancellation is honored
// between stages and attempts: the in-flight action finishes, no new
// stage starts, and rollback still runs.
//
// The result is binary: fully configured, or failed with rollback
// attempted. There is no partial success.
func (o *Orchestrator) Run(ctx context.Context, st *State) *RunResult {
	if st.Output == nil {
		st.Output = o.output
	}

	records := make([]StageRecord, len(o.stages))
	for i, stage := range o.stages {
		records[i] = StageRecord{Name: stage.Name(), Order: i, Status: StagePending}
	}
	result := &RunResult{Records: records}

	var ledger []UndoAction

	for i, stage := range o.stages {
		rec := &records[i]

		if err := ctx.Err(); err != nil {
			rec.Status = StageFailed
			rec.LastErr = err
			o.failRun(ctx, result, rec, ledger)
			return result
		}

		fmt.Fprintf(o.output, "[%d/%d] %s\n", i+1, len(o.stages), stage.Name())
		undo, err := o.runStage(ctx, stage, rec, st)
		if err != nil {
			o.failRun(ctx, result, rec, ledger)
			return result
		}
		if undo != nil {
			ledger = append(ledger, *undo)
		}
	}

	result.Success = true
	o.log.Info("pipeline complete", "stages", len(o.stages), "run_id", st.RunID)
	return result
}

// runStage drives one stage through its state machine, including the
// bounded remediation loop. Returns the stage's undo action on success.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, rec *StageRecord, st *State) (*UndoAction, error) {
	for {
		if err := ctx.Err(); err != nil {
			rec.Status = StageFailed
			rec.LastErr = err
			return nil, err
		}

		rec.Status = StageRunning
		rec.Attempts++
		o.log.Info("stage running", "stage", rec.Name, "attempt", rec.Attempts)

		undo, err := stage.Apply(ctx, st)
		if err == nil {
			rec.Status = StageSucceeded
			rec.LastErr = nil
			o.log.Info("stage succeeded", "stage", rec.Name, "attempts", rec.Attempts)
			return undo, nil
		}

		rec.LastErr = err
		o.log.Error("stage failed", "stage", rec.Name, "attempt", rec.Attempts, "error", err)

		if !IsRecoverable(err) || rec.Attempts >= o.maxAttempts {
			rec.Status = StageFailed
			return nil, err
		}

		o.remediate(ctx, rec, err)
		rec.Status = StageRetrying
		// The stage is atomic from the orchestrator's view: the retry
		// restarts it from its beginning, relying on Apply being
		// safely re-runnable.
	}
}

// remediate runs one pass of the remediation loop: describe the failure
// to the advisory service, map its suggestion onto the corrective
// allowlist, and apply the corrective. The suggestion is untrusted
// input; nothing the service returns is executed as a command.
func (o *Orchestrator) remediate(ctx context.Context, rec *StageRecord, stageErr error) {
	rec.Status = StageRemediating
	fmt.Fprintf(o.output, "    remediating %s...\n", rec.Name)

	attempt := RemediationAttempt{
		Stage:   rec.Name,
		Action:  FailingAction(stageErr),
		ErrText: stageErr.Error(),
	}

	if o.advisor == nil {
		attempt.Outcome = "no advisor configured"
		o.log.Info("remediation", "stage", rec.Name, "outcome", attempt.Outcome)
		return
	}

	suggestion, ok := o.advisor.Suggest(ctx, attempt.Action, attempt.ErrText)
	if !ok {
		attempt.Outcome = "no suggestion"
		o.log.Info("remediation", "stage", rec.Name, "outcome", attempt.Outcome)
		return
	}
	attempt.Suggestion = suggestion

	corrective, ok := advisor.ParseCorrective(suggestion)
	if !ok {
		attempt.Outcome = "suggestion outside corrective allowlist, discarded"
		o.log.Warn("remediation suggestion discarded",
			"stage", rec.Name, "suggestion", suggestion)
		return
	}

	attempt.Applied = true
	attempt.Outcome = o.applyCorrective(ctx, corrective)
	o.log.Info("remediation corrective applied",
		"stage", rec.Name, "corrective", corrective.Kind.String(),
		"unit", corrective.Unit, "outcome", attempt.Outcome)
}

// applyCorrective executes one allow-listed corrective action.
func (o *Orchestrator) applyCorrective(ctx context.Context, c advisor.Corrective) string {
	switch c.Kind {
	case advisor.CorrectiveRestartService:
		if o.services == nil {
			return "no service manager, corrective skipped"
		}
		if err := o.services.Restart(ctx, c.Unit); err != nil {
			return fmt.Sprintf("restart %s failed: %v", c.Unit, err)
		}
		return fmt.Sprintf("restarted %s", c.Unit)
	case advisor.CorrectiveDaemonReload:
		if o.services == nil {
			return "no service manager, corrective skipped"
		}
		if err := o.services.DaemonReload(ctx); err != nil {
			return fmt.Sprintf("daemon-reload failed: %v", err)
		}
		return "daemon-reload done"
	default:
		return "plain retry"
	}
}

// failRun marks the run failed, reports the failing stage, and rolls
// back every succeeded stage in reverse order.
func (o *Orchestrator) failRun(ctx context.Context, result *RunResult, rec *StageRecord, ledger []UndoAction) {
	result.Success = false
	result.FailedStage = rec.Name
	result.Err = rec.LastErr

	fmt.Fprintf(o.output, "stage %s failed: %v\n", rec.Name, rec.LastErr)
	fmt.Fprintf(o.output, "rolling back applied stages (best effort)\n")
	o.log.Error("pipeline failed", "stage", rec.Name, "error", rec.LastErr)

	o.rollback.Unwind(ctx, ledger)

	// Mark the unwound stages.
	for i := range result.Records {
		if result.Records[i].Status == StageSucceeded {
			result.Records[i].Status = StageRolledBack
		}
	}
}
