// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Locker defines the interface for CLI instance locking.
//
// # Description
//
// Locker prevents multiple provisioning runs from executing
// simultaneously on one host. A second run while the first is mid-pipeline
// could interleave firewall resets and service restarts, leaving the host
// in a state neither run intended.
//
// # Thread Safety
//
// Implementations must be safe for use from a single goroutine. The lock
// itself provides inter-process synchronization, not intra-process.
type Locker interface {
	// Acquire attempts to get an exclusive lock.
	// Returns nil if lock acquired, error otherwise.
	Acquire() error

	// Release releases the lock if held.
	// Safe to call multiple times or if lock was never acquired.
	Release() error

	// IsHeld returns true if this instance currently holds the lock.
	IsHeld() bool

	// HolderPID returns the PID of the process holding the lock.
	// Returns 0 if no process holds the lock or if unable to determine.
	HolderPID() int
}

// DefaultLockDir is where lock files live unless overridden. The
// provisioner runs as root, and /var/run survives tmp cleaners for the
// duration of a boot.
const DefaultLockDir = "/var/run"

// LockConfig configures run lock behavior.
type LockConfig struct {
	// LockDir is the directory for lock files.
	// Default: DefaultLockDir
	LockDir string

	// LockName is the base name for lock files.
	// Default: "kodiak"
	LockName string
}

// DefaultLockConfig returns sensible defaults.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		LockDir:  DefaultLockDir,
		LockName: "kodiak",
	}
}

// Lock implements Locker using file-based locking.
//
// # Description
//
// Uses flock(2) advisory locking. The run holds the lock for the full
// duration of execution, so at most one orchestrator run operates on a
// host at a time.
//
// # How It Works
//
//  1. Creates a lock file at {LockDir}/{LockName}.lock
//  2. Attempts exclusive flock on the file
//  3. Writes PID to {LockDir}/{LockName}.pid for debugging
//  4. On release, removes PID file and releases flock
//
// # Limitations
//
//   - Advisory lock only - other processes can ignore it if they don't check
//   - NFS and some network filesystems don't support flock properly
//   - Lock survives if process crashes without calling Release (OS releases flock)
type Lock struct {
	config   LockConfig
	lockPath string
	pidPath  string
	lockFile *os.File
	held     bool
}

// NewLock creates a new run lock. Does not acquire it.
func NewLock(config LockConfig) *Lock {
	if config.LockDir == "" {
		config.LockDir = DefaultLockDir
	}
	if config.LockName == "" {
		config.LockName = "kodiak"
	}

	return &Lock{
		config:   config,
		lockPath: filepath.Join(config.LockDir, config.LockName+".lock"),
		pidPath:  filepath.Join(config.LockDir, config.LockName+".pid"),
	}
}

// LockPath returns the path of the lock file.
func (l *Lock) LockPath() string { return l.lockPath }

// PIDPath returns the path of the PID file.
func (l *Lock) PIDPath() string { return l.pidPath }

// Acquire attempts to get an exclusive lock.
//
// Uses a non-blocking flock. If another process holds the lock, returns
// immediately with an error containing the holder's PID (if available).
func (l *Lock) Acquire() error {
	if l.held {
		return nil // Already held
	}

	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file %s: %w", l.lockPath, err)
	}

	// Try non-blocking exclusive lock
	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		f.Close()

		if err == unix.EWOULDBLOCK {
			holderPID := l.readHolderPID()
			if holderPID > 0 {
				return fmt.Errorf("another kodiak run is in progress (PID %d). "+
					"If this is stale, remove %s", holderPID, l.pidPath)
			}
			return fmt.Errorf("another kodiak run is in progress. "+
				"Check: lsof %s", l.lockPath)
		}

		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.lockFile = f
	l.held = true

	// Write our PID for debugging. Non-fatal on failure - the flock
	// is already held.
	_ = l.writePID()

	return nil
}

// Release releases the lock if held.
//
// Removes the PID file and releases the flock. Safe to call multiple
// times or if the lock was never acquired.
func (l *Lock) Release() error {
	if !l.held || l.lockFile == nil {
		return nil
	}

	os.Remove(l.pidPath)

	err := unix.Flock(int(l.lockFile.Fd()), unix.LOCK_UN)

	// Close also releases the lock if the explicit unlock failed.
	l.lockFile.Close()
	l.lockFile = nil
	l.held = false

	// The lock file itself is left in place for faster subsequent acquires.

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	return nil
}

// IsHeld returns true if this instance currently holds the lock.
//
// Checks local state only - does not verify the flock is still valid.
func (l *Lock) IsHeld() bool {
	return l.held
}

// HolderPID returns the PID recorded in the PID file, or 0 if unknown.
//
// May return a stale PID if the holder crashed without cleanup.
func (l *Lock) HolderPID() int {
	return l.readHolderPID()
}

// writePID writes the current process PID to the PID file.
func (l *Lock) writePID() error {
	return os.WriteFile(l.pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// readHolderPID reads the PID file, returning 0 on any failure.
func (l *Lock) readHolderPID() int {
	data, err := os.ReadFile(l.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

var _ Locker = (*Lock)(nil)
