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
Package service wraps daemon lifecycle control for the stack's layers.

The orchestrator treats every enable/start/restart/stop as an opaque
black-box call returning success or failure. This package is the single
place that knows those calls are systemctl invocations, so configurators,
the remediation correctives, and rollback all share one implementation
and one mock.
*/
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/AleutianAI/KodiakPrivacy/cmd/kodiak/internal/infra/process"
)

// Manager controls the lifecycle of one host daemon by unit name.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Manager interface {
	// Enable marks the unit to start at boot.
	Enable(ctx context.Context, unit string) error

	// Start starts the unit now.
	Start(ctx context.Context, unit string) error

	// Restart restarts the unit, starting it if stopped.
	Restart(ctx context.Context, unit string) error

	// Stop stops the unit now.
	Stop(ctx context.Context, unit string) error

	// Disable removes the unit from boot startup.
	Disable(ctx context.Context, unit string) error

	// DaemonReload reloads the init system's unit definitions.
	DaemonReload(ctx context.Context) error

	// IsActive reports whether the unit is currently running.
	IsActive(ctx context.Context, unit string) (bool, error)
}

// SystemdManager implements Manager with systemctl through a
// process.Runner.
type SystemdManager struct {
	runner process.Runner
}

// NewSystemdManager creates a Manager backed by systemctl.
func NewSystemdManager(runner process.Runner) *SystemdManager {
	return &SystemdManager{runner: runner}
}

func (m *SystemdManager) Enable(ctx context.Context, unit string) error {
	return m.systemctl(ctx, "enable", unit)
}

func (m *SystemdManager) Start(ctx context.Context, unit string) error {
	return m.systemctl(ctx, "start", unit)
}

func (m *SystemdManager) Restart(ctx context.Context, unit string) error {
	return m.systemctl(ctx, "restart", unit)
}

func (m *SystemdManager) Stop(ctx context.Context, unit string) error {
	return m.systemctl(ctx, "stop", unit)
}

func (m *SystemdManager) Disable(ctx context.Context, unit string) error {
	return m.systemctl(ctx, "disable", unit)
}

func (m *SystemdManager) DaemonReload(ctx context.Context) error {
	_, err := m.runner.Run(ctx, "systemctl", "daemon-reload")
	if err != nil {
		return fmt.Errorf("systemctl daemon-reload failed: %w", err)
	}
	return nil
}

// IsActive queries the unit state. "inactive" and "failed" are states,
// not errors; only a broken systemctl invocation returns an error.
func (m *SystemdManager) IsActive(ctx context.Context, unit string) (bool, error) {
	output, err := m.runner.Run(ctx, "systemctl", "is-active", unit)
	state := strings.TrimSpace(string(output))
	if state == "active" {
		return true, nil
	}
	if err != nil && state == "" {
		return false, fmt.Errorf("systemctl is-active %s failed: %w", unit, err)
	}
	return false, nil
}

func (m *SystemdManager) systemctl(ctx context.Context, verb, unit string) error {
	if _, err := m.runner.Run(ctx, "systemctl", verb, unit); err != nil {
		return fmt.Errorf("systemctl %s %s failed: %w", verb, unit, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockManager is a test double for Manager.
//
// Unset function fields succeed silently, which keeps happy-path
// pipeline tests short; set only the fields a test cares about.
type MockManager struct {
	EnableFunc       func(ctx context.Context, unit string) error
	StartFunc        func(ctx context.Context, unit string) error
	RestartFunc      func(ctx context.Context, unit string) error
	StopFunc         func(ctx context.Context, unit string) error
	DisableFunc      func(ctx context.Context, unit string) error
	DaemonReloadFunc func(ctx context.Context) error
	IsActiveFunc     func(ctx context.Context, unit string) (bool, error)

	// Calls records every invocation as "verb unit" strings.
	Calls []string

	mu sync.Mutex
}

func (m *MockManager) record(verb, unit string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, strings.TrimSpace(verb+" "+unit))
}

// GetCalls returns a copy of all recorded calls.
func (m *MockManager) GetCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	copy(out, m.Calls)
	return out
}

func (m *MockManager) Enable(ctx context.Context, unit string) error {
	m.record("enable", unit)
	if m.EnableFunc == nil {
		return nil
	}
	return m.EnableFunc(ctx, unit)
}

func (m *MockManager) Start(ctx context.Context, unit string) error {
	m.record("start", unit)
	if m.StartFunc == nil {
		return nil
	}
	return m.StartFunc(ctx, unit)
}

func (m *MockManager) Restart(ctx context.Context, unit string) error {
	m.record("restart", unit)
	if m.RestartFunc == nil {
		return nil
	}
	return m.RestartFunc(ctx, unit)
}

func (m *MockManager) Stop(ctx context.Context, unit string) error {
	m.record("stop", unit)
	if m.StopFunc == nil {
		return nil
	}
	return m.StopFunc(ctx, unit)
}

func (m *MockManager) Disable(ctx context.Context, unit string) error {
	m.record("disable", unit)
	if m.DisableFunc == nil {
		return nil
	}
	return m.DisableFunc(ctx, unit)
}

func (m *MockManager) DaemonReload(ctx context.Context) error {
	m.record("daemon-reload", "")
	if m.DaemonReloadFunc == nil {
		return nil
	}
	return m.DaemonReloadFunc(ctx)
}

func (m *MockManager) IsActive(ctx context.Context, unit string) (bool, error) {
	m.record("is-active", unit)
	if m.IsActiveFunc == nil {
		return true, nil
	}
	return m.IsActiveFunc(ctx, unit)
}

// Compile-time interface compliance check.
var (
	_ Manager = (*SystemdManager)(nil)
	_ Manager = (*MockManager)(nil)
)
