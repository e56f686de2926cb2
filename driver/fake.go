// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Driver for tests. Volumes persist across
// sandbox create/destroy cycles, mirroring the real driver's volume
// lifecycle. Failures are scripted through the error fields; call
// counts let tests assert which operations ran.
//
// Fake is safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	sandboxes map[string]Status     // handle -> status
	specs     map[string]CreateSpec // handle -> spec that created it
	volumes   map[string]VolumeInfo
	nextID    int

	// Scripted failures. A nil entry means the operation succeeds.
	CreateErr  error
	InspectErr error
	// DestroyErrFor fails DestroySandbox for specific handles,
	// leaving other handles destroyable.
	DestroyErrFor map[string]error

	// OnCreate, when set, runs during CreateSandbox without the
	// fake's lock held. Tests use it to block or to observe
	// interleavings.
	OnCreate func(spec CreateSpec)

	// Counters.
	CreateCalls  int
	InspectCalls int
	DestroyCalls int
}

// NewFake returns an empty fake driver.
func NewFake() *Fake {
	return &Fake{
		sandboxes: make(map[string]Status),
		specs:     make(map[string]CreateSpec),
		volumes:   make(map[string]VolumeInfo),
	}
}

// CreateSandbox ensures the volume, then records a running sandbox.
func (f *Fake) CreateSandbox(ctx context.Context, spec CreateSpec) (string, error) {
	f.mu.Lock()
	f.CreateCalls++
	hook := f.OnCreate
	err := f.CreateErr
	f.mu.Unlock()

	if hook != nil {
		hook(spec)
	}
	if err != nil {
		return "", &OpError{Op: "container create", Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.volumes[spec.VolumeName]; !ok {
		f.volumes[spec.VolumeName] = VolumeInfo{CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	}

	f.nextID++
	handle := fmt.Sprintf("fake-%d", f.nextID)
	f.sandboxes[handle] = StatusRunning
	f.specs[handle] = spec
	return handle, nil
}

// InspectStatus reports the recorded status; unknown handles are
// StatusNotFound.
func (f *Fake) InspectStatus(ctx context.Context, handle string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.InspectCalls++
	if f.InspectErr != nil {
		return "", &OpError{Op: "container inspect", Err: f.InspectErr}
	}
	status, ok := f.sandboxes[handle]
	if !ok {
		return StatusNotFound, nil
	}
	return status, nil
}

// DestroySandbox removes the sandbox but keeps its volume.
func (f *Fake) DestroySandbox(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.DestroyCalls++
	if err := f.DestroyErrFor[handle]; err != nil {
		return &OpError{Op: "container stop", Err: err}
	}
	delete(f.sandboxes, handle)
	delete(f.specs, handle)
	return nil
}

// VolumeExists reports whether the volume was ever created.
func (f *Fake) VolumeExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.volumes[name]
	return ok, nil
}

// VolumeMetadata returns the recorded volume info.
func (f *Fake) VolumeMetadata(ctx context.Context, name string) (VolumeInfo, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.volumes[name]
	return info, ok, nil
}

// RemoveOutOfBand deletes a sandbox behind the manager's back,
// simulating a `docker rm -f` by an operator.
func (f *Fake) RemoveOutOfBand(handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sandboxes, handle)
	delete(f.specs, handle)
}

// SetStatus overrides a sandbox's reported status.
func (f *Fake) SetStatus(handle string, status Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sandboxes[handle] = status
}

// LiveSandboxes returns the number of sandboxes currently recorded.
func (f *Fake) LiveSandboxes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sandboxes)
}

// VolumeCount returns the number of volumes ever created.
func (f *Fake) VolumeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.volumes)
}

var _ Driver = (*Fake)(nil)
var _ Driver = (*DockerDriver)(nil)
