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
Package process abstracts external process execution and inter-process
locking for the Kodiak CLI.

All exec.Command calls in the provisioning code go through the Runner
interface so that unit tests can mock process execution and the dry-run
mode can report intended commands without running anything.

# Design Rationale

Direct calls to exec.Command are not testable because they execute real
processes. By abstracting process execution behind an interface, we can:
  - Mock process execution in tests
  - Capture and verify command invocations
  - Simulate success/failure scenarios without real processes
  - Swap in a reporting-only runner for --dry-run
*/
package process

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultCommandTimeout bounds every external call. A hung daemon or
// package tool is treated as a failure after this wait, never as an
// indefinite block.
const DefaultCommandTimeout = 2 * time.Minute

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Runner handles external process operations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
//
// # Context Handling
//
// All methods accept a context.Context for cancellation. Implementations
// additionally apply a per-call timeout so a hanging process cannot stall
// the pipeline indefinitely.
type Runner interface {
	// Run executes a command synchronously and returns its combined
	// stdout output. Stderr is folded into the returned error on failure.
	//
	// # Examples
	//
	//   output, err := r.Run(ctx, "systemctl", "restart", "tor")
	//   if err != nil {
	//       return fmt.Errorf("failed to restart tor: %w", err)
	//   }
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunWithInput executes a command with data piped to stdin.
	//
	// Useful for commands that read configuration or secrets from stdin.
	// Input is fully buffered in memory before being written.
	RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)

	// LookPath reports whether the named executable is available,
	// returning its resolved path. Used for dependency pre-flight
	// checks before a stage touches anything.
	LookPath(name string) (string, error)
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// ExecRunner implements Runner using os/exec.
//
// This is the production implementation that executes real processes on
// the system. Use MockRunner in tests and DryRunner for --dry-run.
type ExecRunner struct {
	// Timeout bounds each call. Zero means DefaultCommandTimeout.
	Timeout time.Duration
}

// NewExecRunner creates a Runner that executes real processes with the
// default per-call timeout.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Timeout: DefaultCommandTimeout}
}

func (r *ExecRunner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultCommandTimeout
}

// Run executes a command synchronously and returns its output.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return r.run(ctx, name, nil, args)
}

// RunWithInput executes a command with data piped to stdin.
func (r *ExecRunner) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	return r.run(ctx, name, input, args)
}

// LookPath resolves the named executable via the PATH.
func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (r *ExecRunner) run(ctx context.Context, name string, input []byte, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	if input != nil {
		cmd.Stdin = bytes.NewReader(input)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Include stderr in error for debugging
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}

	return stdout.Bytes(), nil
}

// -----------------------------------------------------------------------------
// Dry-Run Implementation
// -----------------------------------------------------------------------------

// DryRunner reports intended commands without executing them.
//
// Every call is recorded and written to Out as "would run: ...". All
// calls succeed with empty output, and every binary is reported as
// present so the dry-run walks the full pipeline.
type DryRunner struct {
	// Out receives one "would run" line per call. May be nil.
	Out io.Writer

	mu    sync.Mutex
	calls []string
}

// Run records the command and succeeds with empty output.
func (d *DryRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	d.record(name, args)
	return nil, nil
}

// RunWithInput records the command and succeeds with empty output.
func (d *DryRunner) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	d.record(name, args)
	return nil, nil
}

// LookPath reports every binary as present at a synthetic path.
func (d *DryRunner) LookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

// Calls returns a copy of every recorded command line.
func (d *DryRunner) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

func (d *DryRunner) record(name string, args []string) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	d.mu.Lock()
	d.calls = append(d.calls, line)
	d.mu.Unlock()
	if d.Out != nil {
		fmt.Fprintf(d.Out, "  would run: %s\n", line)
	}
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockRunner is a test double for Runner.
//
// Configure the mock by setting function fields before use. If a function
// field is nil and the corresponding method is called, it will panic.
//
// # Examples
//
//	mock := &MockRunner{
//	    RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
//	        if name == "ufw" && args[0] == "status" {
//	            return []byte("Status: active"), nil
//	        }
//	        return nil, fmt.Errorf("unexpected command: %s", name)
//	    },
//	}
type MockRunner struct {
	// RunFunc is called when Run is invoked
	RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunWithInputFunc is called when RunWithInput is invoked
	RunWithInputFunc func(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)

	// LookPathFunc is called when LookPath is invoked. If nil, every
	// binary resolves successfully (the common case in tests).
	LookPathFunc func(name string) (string, error)

	// Calls records all method invocations for verification
	Calls []RunnerCall

	// mu protects Calls for concurrent access
	mu sync.Mutex
}

// RunnerCall records a single method invocation.
type RunnerCall struct {
	Method string
	Name   string
	Args   []string
	Input  []byte
}

// Run delegates to RunFunc and records the call.
func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RunnerCall{Method: "Run", Name: name, Args: args})
	m.mu.Unlock()
	if m.RunFunc == nil {
		panic("MockRunner.RunFunc not set")
	}
	return m.RunFunc(ctx, name, args...)
}

// RunWithInput delegates to RunWithInputFunc and records the call.
func (m *MockRunner) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RunnerCall{Method: "RunWithInput", Name: name, Args: args, Input: input})
	m.mu.Unlock()
	if m.RunWithInputFunc == nil {
		panic("MockRunner.RunWithInputFunc not set")
	}
	return m.RunWithInputFunc(ctx, name, input, args...)
}

// LookPath delegates to LookPathFunc and records the call.
func (m *MockRunner) LookPath(name string) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RunnerCall{Method: "LookPath", Name: name})
	m.mu.Unlock()
	if m.LookPathFunc == nil {
		return "/usr/bin/" + name, nil
	}
	return m.LookPathFunc(name)
}

// Reset clears all recorded calls.
func (m *MockRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// GetCalls returns a copy of all recorded calls.
func (m *MockRunner) GetCalls() []RunnerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]RunnerCall, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Compile-time interface compliance check.
var (
	_ Runner = (*ExecRunner)(nil)
	_ Runner = (*DryRunner)(nil)
	_ Runner = (*MockRunner)(nil)
)
