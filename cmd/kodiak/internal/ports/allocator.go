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
Package ports allocates randomized, collision-free network ports for the
privacy stack's layers.

Some layer ports are fixed by convention (Tor's SocksPort, I2P's console,
Tailscale's WireGuard port) and live in the reserved blocklist. The
randomized ones (hidden-service forward port, I2P router transport port)
come from the Allocator, which guarantees no two grants within a run are
numerically equal and none collides with a reserved port.

Allocations are rebuilt fresh every run. They are not persisted; the
layer configuration files the run writes are the durable record.
*/
package ports

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
)

// Dynamic range the allocator draws from. Deliberately below the
// ephemeral range most kernels hand to outbound connections.
const (
	DefaultRangeMin = 20000
	DefaultRangeMax = 45000
)

// DefaultReserved is the static blocklist of ports the stack's own
// fixed-port services (and basic host services) occupy.
//
//	22    ssh
//	53    dns
//	80    http
//	443   https
//	7654  i2p i2cp
//	7657  i2p router console
//	9050  tor socks
//	9051  tor control
//	41641 tailscale wireguard
var DefaultReserved = []int{22, 53, 80, 443, 7654, 7657, 9050, 9051, 41641}

// Allocation records one granted port and what it is for.
type Allocation struct {
	Layer   string
	Purpose string
	Port    int
}

// AllocationError reports that the usable range could not satisfy a
// request. The orchestrator treats this as fatal for the pipeline.
type AllocationError struct {
	Requested int
	Granted   int
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("port allocation failed: requested %d ports, granted %d before exhausting the usable range",
		e.Requested, e.Granted)
}

// Config configures an Allocator.
type Config struct {
	// RangeMin and RangeMax bound the half-open draw range
	// [RangeMin, RangeMax). Zero values use the defaults.
	RangeMin int
	RangeMax int

	// Reserved lists ports that must never be granted. Nil uses
	// DefaultReserved.
	Reserved []int
}

// Allocator produces distinct random ports for one provisioning run.
//
// # Description
//
// Every grant is remembered for the lifetime of the Allocator, so two
// calls within a run can never return the same port. Draws use
// crypto/rand; the sequence is unique per run, never deterministic.
//
// # Thread Safety
//
// Safe for concurrent use. The allocated set is a critical section
// guarded by a single mutex, so a future design issuing parallel layer
// setup stays correct.
type Allocator struct {
	mu       sync.Mutex
	granted  map[int]struct{}
	reserved map[int]struct{}
	min      int
	max      int
}

// NewAllocator creates an Allocator for one run.
func NewAllocator(cfg Config) *Allocator {
	if cfg.RangeMin == 0 {
		cfg.RangeMin = DefaultRangeMin
	}
	if cfg.RangeMax == 0 {
		cfg.RangeMax = DefaultRangeMax
	}
	reserved := cfg.Reserved
	if reserved == nil {
		reserved = DefaultReserved
	}

	reservedSet := make(map[int]struct{}, len(reserved))
	for _, p := range reserved {
		reservedSet[p] = struct{}{}
	}

	return &Allocator{
		granted:  make(map[int]struct{}),
		reserved: reservedSet,
		min:      cfg.RangeMin,
		max:      cfg.RangeMax,
	}
}

// Allocate returns n distinct ports, each outside the reserved blocklist
// and distinct from every port granted earlier in the run.
//
// # Outputs
//
//   - []int: n distinct ports
//   - error: *AllocationError if the usable range is exhausted
//     (practically unreachable at the default range size)
func (a *Allocator) Allocate(n int) ([]int, error) {
	if n <= 0 {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	span := a.max - a.min
	// Enough draws to make spurious exhaustion impossible at any sane
	// occupancy, while still terminating on a genuinely full range.
	maxDraws := span * 4

	out := make([]int, 0, n)
	for draws := 0; len(out) < n; draws++ {
		if draws >= maxDraws {
			return nil, &AllocationError{Requested: n, Granted: len(out)}
		}

		idx, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
		if err != nil {
			return nil, fmt.Errorf("reading random source: %w", err)
		}
		port := a.min + int(idx.Int64())

		if _, taken := a.granted[port]; taken {
			continue
		}
		if _, blocked := a.reserved[port]; blocked {
			continue
		}

		a.granted[port] = struct{}{}
		out = append(out, port)
	}

	return out, nil
}

// Granted returns the count of ports handed out so far in this run.
func (a *Allocator) Granted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.granted)
}
