// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ttyfarm/ttyfarm/driver"
	"github.com/ttyfarm/ttyfarm/lib/testutil"
)

func newReclaimerFixture(t *testing.T) (*managerFixture, *Reclaimer) {
	t.Helper()
	f := newManagerFixture(t, 10, 10)
	r := NewReclaimer(ReclaimerConfig{
		Manager:   f.manager,
		Registry:  f.registry,
		Clock:     f.clock,
		Interval:  30 * time.Second,
		IdleAfter: 3 * time.Minute,
		Logger:    discardLogger(),
	})
	return f, r
}

// startReclaimer runs the loop in the background, waits for its
// ticker to register, and arranges shutdown via t.Cleanup.
func startReclaimer(t *testing.T, f *managerFixture, r *Reclaimer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	f.clock.WaitForTimers(1)
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, 2*time.Second, "reclaimer did not stop")
	})
}

// waitFor polls cond until it holds or the deadline passes. Cycles
// run on a background goroutine, so assertions about their effects
// need a real-time grace period.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestReclaimerTerminatesIdleSession(t *testing.T) {
	f, r := newReclaimerFixture(t)
	ctx := context.Background()

	if _, err := f.manager.RequestAccess(ctx, 1, "alice"); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}
	startReclaimer(t, f, r)

	f.clock.Advance(3*time.Minute + 30*time.Second)

	waitFor(t, func() bool { return f.registry.Len() == 0 },
		"idle session was not reclaimed")
	if f.driver.LiveSandboxes() != 0 {
		t.Errorf("live sandboxes = %d after reclaim", f.driver.LiveSandboxes())
	}
	if f.ports.Allocated() != 0 {
		t.Errorf("allocated ports = %d after reclaim", f.ports.Allocated())
	}
	if f.driver.VolumeCount() != 1 {
		t.Errorf("volume count = %d, want workspace preserved", f.driver.VolumeCount())
	}
}

func TestReclaimerSkipsActiveSession(t *testing.T) {
	f, r := newReclaimerFixture(t)
	ctx := context.Background()

	if _, err := f.manager.RequestAccess(ctx, 1, "alice"); err != nil {
		t.Fatalf("RequestAccess(alice): %v", err)
	}
	if _, err := f.manager.RequestAccess(ctx, 2, "bob"); err != nil {
		t.Fatalf("RequestAccess(bob): %v", err)
	}
	startReclaimer(t, f, r)

	// Alice checks in before the threshold; bob goes quiet.
	f.clock.Advance(2*time.Minute + 30*time.Second)
	if _, err := f.manager.GetStatus(ctx, 1); err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	f.clock.Advance(time.Minute)

	waitFor(t, func() bool {
		_, ok := f.registry.Get(2)
		return !ok
	}, "idle session for bob was not reclaimed")

	if _, ok := f.registry.Get(1); !ok {
		t.Error("recently active session was reclaimed")
	}
}

func TestReclaimerIsolatesPerUserFailures(t *testing.T) {
	f, r := newReclaimerFixture(t)
	ctx := context.Background()

	alice, err := f.manager.RequestAccess(ctx, 1, "alice")
	if err != nil {
		t.Fatalf("RequestAccess(alice): %v", err)
	}
	if _, err := f.manager.RequestAccess(ctx, 2, "bob"); err != nil {
		t.Fatalf("RequestAccess(bob): %v", err)
	}
	f.driver.DestroyErrFor = map[string]error{
		alice.Session.Handle: errors.New("device busy"),
	}
	startReclaimer(t, f, r)

	f.clock.Advance(4 * time.Minute)

	// Bob is reclaimed even though alice's teardown keeps failing.
	waitFor(t, func() bool {
		_, ok := f.registry.Get(2)
		return !ok
	}, "healthy user's session was not reclaimed")

	if _, ok := f.registry.Get(1); !ok {
		t.Error("failing session was dropped from the registry")
	}
}

// panicDriver panics on DestroySandbox while armed, standing in for a
// driver bug the reclamation loop must survive.
type panicDriver struct {
	driver.Driver
	armed atomic.Bool
}

func (d *panicDriver) DestroySandbox(ctx context.Context, handle string) error {
	if d.armed.Load() {
		panic("destroy exploded")
	}
	return d.Driver.DestroySandbox(ctx, handle)
}

func TestReclaimerSurvivesPanic(t *testing.T) {
	f, r := newReclaimerFixture(t)
	ctx := context.Background()

	if _, err := f.manager.RequestAccess(ctx, 1, "alice"); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}

	pd := &panicDriver{Driver: f.driver}
	pd.armed.Store(true)
	f.manager.driver = pd

	startReclaimer(t, f, r)
	f.clock.Advance(4 * time.Minute)

	// Let at least one panicking cycle run, then disarm: the loop
	// must still be alive and reclaim on a later tick.
	time.Sleep(10 * time.Millisecond)
	if f.registry.Len() != 1 {
		t.Fatal("session disappeared while teardown was panicking")
	}
	pd.armed.Store(false)
	f.clock.Advance(30 * time.Second)

	waitFor(t, func() bool { return f.registry.Len() == 0 },
		"loop did not recover after a panicking cycle")
}

func TestReclaimerStopsOnContextCancel(t *testing.T) {
	f, r := newReclaimerFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	f.clock.WaitForTimers(1)

	cancel()
	testutil.RequireClosed(t, done, 2*time.Second, "Run did not return on cancel")
}
