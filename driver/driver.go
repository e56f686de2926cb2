// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package driver wraps the isolation runtime behind a narrow
// interface: create, inspect, and destroy one resource-constrained
// terminal sandbox, plus the volume queries the lifecycle manager
// needs to report whether a returning user has prior data.
//
// The Docker implementation is the only production driver; the fake
// exists so the lifecycle manager can be tested without a runtime.
package driver

import (
	"context"
	"fmt"
	"time"
)

// Status is the observed state of a sandbox.
type Status string

const (
	// StatusRunning means the sandbox process is up.
	StatusRunning Status = "running"

	// StatusStopped means the sandbox exists but is not running.
	StatusStopped Status = "stopped"

	// StatusNotFound means the runtime has no such sandbox. This is
	// a normal answer, not an error: sandboxes can be removed
	// out-of-band, and the caller self-heals on this signal.
	StatusNotFound Status = "not-found"
)

// CreateSpec describes one sandbox to create. The driver ensures the
// volume exists before creating the sandbox.
type CreateSpec struct {
	// Name is the sandbox name, unique among live sandboxes.
	Name string

	// VolumeName is the user's persistent workspace volume, mounted
	// at the workspace path. Created if absent; never deleted by
	// the driver.
	VolumeName string

	// Port is the host port published to the sandbox's internal
	// terminal port.
	Port int

	// UserID and Username are attached as labels for traceability.
	UserID   int64
	Username string
}

// VolumeInfo is metadata about a user's workspace volume.
type VolumeInfo struct {
	CreatedAt time.Time
}

// Driver is the contract the lifecycle manager programs against.
// Implementations must bound every operation: a hung runtime call
// must surface as an error, not block the caller indefinitely.
type Driver interface {
	// CreateSandbox ensures the volume exists, then creates and
	// starts the sandbox. Returns the runtime handle. On failure the
	// caller compensates (frees the port, registers nothing).
	CreateSandbox(ctx context.Context, spec CreateSpec) (string, error)

	// InspectStatus reports the sandbox's state. An out-of-band
	// removal reports StatusNotFound, not an error.
	InspectStatus(ctx context.Context, handle string) (Status, error)

	// DestroySandbox stops and removes the sandbox. Idempotent:
	// destroying an absent sandbox succeeds silently. Never removes
	// the volume.
	DestroySandbox(ctx context.Context, handle string) error

	// VolumeExists reports whether the named volume exists.
	VolumeExists(ctx context.Context, name string) (bool, error)

	// VolumeMetadata returns volume metadata, with ok=false when
	// the volume is absent.
	VolumeMetadata(ctx context.Context, name string) (VolumeInfo, bool, error)
}

// OpError is a runtime operation failure, carrying the operation
// name and the underlying diagnostic.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("driver: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
