// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package session defines the live binding between a user and one
// running sandbox, and the in-memory registry that is the single
// source of truth for "does this user have a session".
package session

import "time"

// Status describes the observed state of a session's sandbox.
type Status string

const (
	// StatusStarting means the sandbox was created but has not been
	// observed running yet.
	StatusStarting Status = "starting"

	// StatusRunning means the sandbox was observed running.
	StatusRunning Status = "running"

	// StatusUnreachable means the runtime could not report on the
	// sandbox (e.g. an inspect timed out).
	StatusUnreachable Status = "unreachable"
)

// Session is one user's live sandbox. The registry stores values,
// not pointers, so snapshots never alias registry-internal state.
type Session struct {
	// UserID and Username identify the owner. UserID keys the
	// registry; Username derives sandbox and volume names.
	UserID   int64
	Username string

	// Handle is the runtime's identifier for the sandbox.
	Handle string

	// SandboxName is the human-readable container name, unique
	// among concurrently live sessions.
	SandboxName string

	// VolumeName is the user's persistent workspace volume. Stable
	// across sessions: created on first access, never deleted here.
	VolumeName string

	// Port is the published host port for the terminal service,
	// unique among live sessions.
	Port int

	// URL is where the user's terminal is reachable.
	URL string

	CreatedAt    time.Time
	LastAccessed time.Time
	Status       Status
}
