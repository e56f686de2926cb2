// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package ports tracks which host ports in a fixed range are bound to
// live sandboxes. The range is assumed to be dedicated to this
// service; nothing validates against ports reserved by other
// processes.
package ports

import (
	"errors"
	"fmt"
	"sync"
)

// ErrExhausted is returned by Allocate when every port in the range
// is assigned. Callers must not create a sandbox after this error.
var ErrExhausted = errors.New("ports: range exhausted")

// Allocator hands out ports from an inclusive range. Safe for
// concurrent use from request handlers and the reclamation loop.
//
// Allocation and sandbox creation are not atomic as a pair: a caller
// whose sandbox creation fails must Free the port it was given, or
// the port leaks for the life of the process.
type Allocator struct {
	low, high int

	mu       sync.Mutex
	assigned map[int]struct{}
}

// NewAllocator creates an allocator over [low, high]. Panics if the
// range is empty or starts at a non-positive port — that is a wiring
// bug, not a runtime condition.
func NewAllocator(low, high int) *Allocator {
	if low <= 0 || high < low {
		panic(fmt.Sprintf("ports: invalid range [%d, %d]", low, high))
	}
	return &Allocator{
		low:      low,
		high:     high,
		assigned: make(map[int]struct{}),
	}
}

// Allocate returns an unassigned port, scanning from the low end of
// the range, or ErrExhausted.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.low; port <= a.high; port++ {
		if _, taken := a.assigned[port]; !taken {
			a.assigned[port] = struct{}{}
			return port, nil
		}
	}
	return 0, ErrExhausted
}

// Free releases a port. Freeing an unassigned or out-of-range port is
// a no-op, so compensation paths and double-terminations are safe.
func (a *Allocator) Free(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.assigned, port)
}

// Allocated returns the number of currently assigned ports.
func (a *Allocator) Allocated() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.assigned)
}

// Size returns the width of the configured range.
func (a *Allocator) Size() int {
	return a.high - a.low + 1
}
