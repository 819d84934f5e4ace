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

// StageStatus is a stage's position in its lifecycle.
//
// Transitions, driven only by the orchestrator:
//
//	Pending → Running → Succeeded
//	                  → Remediating → Retrying → Running (bounded)
//	                  → Failed
//	Succeeded → RolledBack (when a later stage fails fatally)
type StageStatus int

const (
	StagePending StageStatus = iota
	StageRunning
	StageSucceeded
	StageRemediating
	StageRetrying
	StageFailed
	StageRolledBack
)

// String returns the status name.
func (s StageStatus) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageRunning:
		return "running"
	case StageSucceeded:
		return "succeeded"
	case StageRemediating:
		return "remediating"
	case StageRetrying:
		return "retrying"
	case StageFailed:
		return "failed"
	case StageRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// StageRecord tracks one stage through the run. Created at orchestrator
// start, mutated only by the orchestrator, never by a configurator.
type StageRecord struct {
	Name     string
	Order    int
	Status   StageStatus
	Attempts int
	LastErr  error
}

// RemediationAttempt captures one pass through the remediation loop.
// Created per failure, discarded after the stage resolves.
type RemediationAttempt struct {
	Stage      string
	Action     string
	ErrText    string
	Suggestion string
	Applied    bool
	Outcome    string
}

// RunResult is the outcome of a full pipeline run.
type RunResult struct {
	// Success is true only when every stage succeeded. The run is
	// binary: fully configured, or failed and rolled back as far as
	// best-effort rollback allows.
	Success bool

	// Records holds one entry per stage in pipeline order.
	Records []StageRecord

	// FailedStage names the stage that caused a failed run, if any.
	FailedStage string

	// Err is the last error of the failing stage, if any.
	Err error
}
