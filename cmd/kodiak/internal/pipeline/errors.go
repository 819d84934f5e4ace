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
	"errors"
	"fmt"

	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/ports"
)

// DependencyMissingError reports that a required tool or daemon is
// absent from the host. Fatal: no remediation is attempted, the run
// rolls back and aborts. Installing packages is outside this tool's
// scope.
type DependencyMissingError struct {
	// Tool is the missing binary or directory.
	Tool string

	// Hint tells the operator how to get it.
	Hint string
}

func (e *DependencyMissingError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("required dependency %q is missing (%s)", e.Tool, e.Hint)
	}
	return fmt.Sprintf("required dependency %q is missing", e.Tool)
}

// ConfigurationError reports a layer apply step that failed for a
// reason plausibly fixable by a corrective command, typically a service
// restart failure. Eligible for the remediation loop.
type ConfigurationError struct {
	// Action describes the failing action for the advisory prompt.
	Action string

	// Err is the underlying failure.
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ValidationError reports a single generated rule or fragment that
// failed validation. Local and non-fatal: the item is dropped with a
// warning and processing continues. It never escalates to the
// orchestrator.
type ValidationError struct {
	// Item is the rejected rule or fragment.
	Item string

	// Reason says why it was rejected.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation rejected %q: %s", e.Item, e.Reason)
}

// IsRecoverable reports whether a stage failure is eligible for the
// remediation loop. Only configuration errors qualify; missing
// dependencies and port exhaustion skip remediation entirely, and
// anything unclassified is treated as fatal.
func IsRecoverable(err error) bool {
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		return false
	}
	// A configuration error wrapping a fatal class stays fatal.
	var depErr *DependencyMissingError
	var allocErr *ports.AllocationError
	if errors.As(err, &depErr) || errors.As(err, &allocErr) {
		return false
	}
	return true
}

// FailingAction extracts the action description used in advisory
// prompts. Falls back to the error text itself.
func FailingAction(err error) string {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr.Action
	}
	return err.Error()
}
