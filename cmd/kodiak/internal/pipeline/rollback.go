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

	"github.com/AleutianAI/KodiakPrivacy/pkg/logging"
)

// RollbackManager undoes partially-applied state when the pipeline
// aborts.
//
// # Description
//
// Consumes the rollback ledger in strict reverse order of application.
// Each undo action is allowed to fail - logged, not escalated - because
// rollback is best-effort cleanup, not a transactional guarantee. The
// design goal is "no orphaned artifacts", not "perfect state
// restoration".
type RollbackManager struct {
	log    *logging.Logger
	output io.Writer
}

// NewRollbackManager creates a RollbackManager.
func NewRollbackManager(log *logging.Logger, output io.Writer) *RollbackManager {
	if log == nil {
		log = logging.Default()
	}
	if output == nil {
		output = io.Discard
	}
	return &RollbackManager{log: log, output: output}
}

// Unwind executes the ledger's undo actions in reverse creation order.
//
// Returns the number of undo actions that failed. Runs under a context
// detached from the caller's cancellation: an operator interrupt is
// what triggers rollback, and rollback must still complete.
func (r *RollbackManager) Unwind(ctx context.Context, ledger []UndoAction) int {
	if len(ledger) == 0 {
		return 0
	}

	ctx = context.WithoutCancel(ctx)
	fmt.Fprintf(r.output, "Rolling back %d applied stage(s)...\n", len(ledger))

	failures := 0
	for i := len(ledger) - 1; i >= 0; i-- {
		action := ledger[i]
		r.log.Info("rollback", "stage", action.Stage, "action", action.Desc)
		fmt.Fprintf(r.output, "  undo %s: %s\n", action.Stage, action.Desc)

		if err := action.Run(ctx); err != nil {
			failures++
			r.log.Warn("rollback action failed",
				"stage", action.Stage, "action", action.Desc, "error", err)
			fmt.Fprintf(r.output, "    warning: %v\n", err)
		}
	}

	if failures > 0 {
		r.log.Warn("rollback finished with failures", "failed", failures, "total", len(ledger))
	} else {
		r.log.Info("rollback complete", "actions", len(ledger))
	}
	return failures
}
