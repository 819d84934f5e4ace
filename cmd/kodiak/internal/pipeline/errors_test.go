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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/ports"
)

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		recoverable bool
	}{
		{
			name:        "configuration error",
			err:         &ConfigurationError{Action: "restart tor", Err: errors.New("boom")},
			recoverable: true,
		},
		{
			name:        "wrapped configuration error",
			err:         fmt.Errorf("stage: %w", &ConfigurationError{Action: "restart tor", Err: errors.New("boom")}),
			recoverable: true,
		},
		{
			name:        "dependency missing",
			err:         &DependencyMissingError{Tool: "tor"},
			recoverable: false,
		},
		{
			name: "configuration error wrapping dependency missing",
			err: &ConfigurationError{
				Action: "probe",
				Err:    &DependencyMissingError{Tool: "ufw"},
			},
			recoverable: false,
		},
		{
			name: "configuration error wrapping port exhaustion",
			err: &ConfigurationError{
				Action: "allocate",
				Err:    &ports.AllocationError{Requested: 2, Granted: 1},
			},
			recoverable: false,
		},
		{
			name:        "port exhaustion",
			err:         &ports.AllocationError{Requested: 1},
			recoverable: false,
		},
		{
			name:        "unclassified error",
			err:         errors.New("something odd"),
			recoverable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.recoverable, IsRecoverable(tt.err))
		})
	}
}

func TestFailingAction(t *testing.T) {
	cfgErr := &ConfigurationError{Action: "restart onion-routing service tor", Err: errors.New("boom")}
	assert.Equal(t, "restart onion-routing service tor", FailingAction(cfgErr))
	assert.Equal(t, "restart onion-routing service tor", FailingAction(fmt.Errorf("wrapped: %w", cfgErr)))

	plain := errors.New("plain failure")
	assert.Equal(t, "plain failure", FailingAction(plain))
}
