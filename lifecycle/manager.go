// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle orchestrates sandbox sessions: it composes the
// port allocator, the sandbox driver, and the session registry into
// the access/status/terminate operations the API exposes, and runs
// the background reclamation of idle sessions.
//
// Per-user operations are linearizable: a keyed mutex serializes
// RequestAccess, GetStatus, and Terminate for the same user, closing
// the window where two concurrent requests could both provision.
// Registry and allocator locks are internal to those components and
// are never held across driver I/O.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/ttyfarm/ttyfarm/driver"
	"github.com/ttyfarm/ttyfarm/lib/clock"
	"github.com/ttyfarm/ttyfarm/metrics"
	"github.com/ttyfarm/ttyfarm/ports"
	"github.com/ttyfarm/ttyfarm/session"
)

// Grant is the result of a successful access request.
type Grant struct {
	Session session.Session

	// Reused is true when the user already had a live session and
	// it was returned instead of a new one being provisioned.
	Reused bool

	// HasPriorData is true when the user's workspace volume existed
	// before this request — a returning user's files are waiting in
	// the workspace.
	HasPriorData bool
}

// StatusReport describes a user's session liveness.
type StatusReport struct {
	Exists  bool
	Session session.Session

	// Runtime is the sandbox state as observed by the driver, set
	// only when Exists is true.
	Runtime driver.Status
}

// CapacityReport is the health/capacity telemetry.
type CapacityReport struct {
	ActiveSessions  int
	MaxSessions     int
	AvailableSlots  int
	UsagePercentage float64
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Registry *session.Registry
	Ports    *ports.Allocator
	Driver   driver.Driver
	Clock    clock.Clock

	// Capacity is the live-session ceiling.
	Capacity int

	// HostIP is the address advertised in session URLs.
	HostIP string

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// OnSessionCreated, when set, is invoked synchronously after a
	// new session is registered. It is best-effort glue (dashboard
	// registration): it has no error return and must do its own
	// logging; wrap it in a goroutine if it may block.
	OnSessionCreated func(ctx context.Context, s session.Session)

	Logger *slog.Logger
}

// Manager owns the per-user session state machine.
type Manager struct {
	registry *session.Registry
	ports    *ports.Allocator
	driver   driver.Driver
	clock    clock.Clock
	metrics  *metrics.Metrics
	capacity int
	hostIP   string
	onCreate func(ctx context.Context, s session.Session)
	logger   *slog.Logger
	locks    *userLocks
}

// NewManager validates the wiring and returns a Manager. Panics on
// nil required collaborators — that is a wiring bug.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Registry == nil || cfg.Ports == nil || cfg.Driver == nil || cfg.Clock == nil {
		panic("lifecycle.Manager: registry, ports, driver, and clock are required")
	}
	if cfg.Capacity <= 0 {
		panic("lifecycle.Manager: capacity must be positive")
	}
	if cfg.Logger == nil {
		panic("lifecycle.Manager: logger is required")
	}
	hostIP := cfg.HostIP
	if hostIP == "" {
		hostIP = "localhost"
	}
	return &Manager{
		registry: cfg.Registry,
		ports:    cfg.Ports,
		driver:   cfg.Driver,
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
		capacity: cfg.Capacity,
		hostIP:   hostIP,
		onCreate: cfg.OnSessionCreated,
		logger:   cfg.Logger,
		locks:    newUserLocks(),
	}
}

// VolumeName derives the stable workspace volume name for a user.
// The same user always maps to the same volume, which is how files
// survive across sessions.
func VolumeName(username string) string {
	return "user-data-" + username
}

// sandboxName derives a container name unique across live sessions:
// the username plus a random suffix.
func sandboxName(username string) string {
	return fmt.Sprintf("cli-%s-%s", username, uuid.NewString()[:8])
}

// RequestAccess returns the user's live session, or provisions one.
func (m *Manager) RequestAccess(ctx context.Context, userID int64, username string) (Grant, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	now := m.clock.Now()

	if existing, ok := m.registry.Get(userID); ok {
		m.registry.Touch(userID, now)
		existing.LastAccessed = now
		return Grant{Session: existing, Reused: true, HasPriorData: true}, nil
	}

	// Slightly stale under concurrent provisioning for other users;
	// the ceiling is a guardrail, not an exact admission count.
	if m.registry.Len() >= m.capacity {
		return Grant{}, ErrAtCapacity
	}

	volumeName := VolumeName(username)

	// Whether the volume predates this request decides the
	// "has prior data" flag; the driver creates it during
	// CreateSandbox if absent.
	_, hadData, err := m.driver.VolumeMetadata(ctx, volumeName)
	if err != nil {
		m.logger.Warn("volume metadata lookup failed, assuming clean workspace",
			"user", username, "error", err)
		hadData = false
	}

	port, err := m.ports.Allocate()
	if err != nil {
		if errors.Is(err, ports.ErrExhausted) {
			return Grant{}, ErrNoPorts
		}
		return Grant{}, err
	}

	name := sandboxName(username)
	handle, err := m.driver.CreateSandbox(ctx, driver.CreateSpec{
		Name:       name,
		VolumeName: volumeName,
		Port:       port,
		UserID:     userID,
		Username:   username,
	})
	if err != nil {
		// The port must not leak when the sandbox never came up.
		m.ports.Free(port)
		m.metrics.ProvisionResult("error")
		return Grant{}, &ProvisionError{Username: username, Err: err}
	}

	now = m.clock.Now()
	created := session.Session{
		UserID:       userID,
		Username:     username,
		Handle:       handle,
		SandboxName:  name,
		VolumeName:   volumeName,
		Port:         port,
		URL:          fmt.Sprintf("http://%s:%d", m.hostIP, port),
		CreatedAt:    now,
		LastAccessed: now,
		Status:       session.StatusRunning,
	}
	m.registry.Put(created)
	m.metrics.ProvisionResult("ok")
	m.metrics.SetActiveSessions(m.registry.Len())

	m.logger.Info("session provisioned",
		"user", username,
		"sandbox", name,
		"port", port,
		"prior_data", hadData,
	)

	if m.onCreate != nil {
		m.onCreate(ctx, created)
	}

	return Grant{Session: created, Reused: false, HasPriorData: hadData}, nil
}

// GetStatus reports a user's session liveness, touching the session
// and self-healing a registry entry whose sandbox is gone.
func (m *Manager) GetStatus(ctx context.Context, userID int64) (StatusReport, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	current, ok := m.registry.Get(userID)
	if !ok {
		return StatusReport{}, nil
	}

	m.registry.Touch(userID, m.clock.Now())

	status, err := m.driver.InspectStatus(ctx, current.Handle)
	if err != nil {
		// A failed or timed-out inspect is treated like a missing
		// sandbox: tear the entry down rather than hand out a
		// session we cannot vouch for. Unlike a genuine not-found,
		// the container may still be running, so destroy it before
		// releasing the port — otherwise it leaks unreclaimably and
		// the next session on that port collides with it.
		m.logger.Warn("inspect failed, clearing session",
			"user", current.Username, "sandbox", current.SandboxName, "error", err)
		if destroyErr := m.driver.DestroySandbox(ctx, current.Handle); destroyErr != nil {
			m.logger.Warn("destroying unverifiable sandbox failed",
				"user", current.Username, "sandbox", current.SandboxName, "error", destroyErr)
		}
		m.teardownLocked(current, metrics.CauseSelfHeal)
		return StatusReport{}, nil
	}

	if status == driver.StatusNotFound {
		m.teardownLocked(current, metrics.CauseSelfHeal)
		return StatusReport{}, nil
	}

	if status == driver.StatusRunning {
		m.registry.SetStatus(userID, session.StatusRunning)
		current.Status = session.StatusRunning
	} else {
		m.registry.SetStatus(userID, session.StatusUnreachable)
		current.Status = session.StatusUnreachable
	}

	return StatusReport{Exists: true, Session: current, Runtime: status}, nil
}

// Terminate tears down a user's session. Returns false with no error
// when there is nothing to terminate — racing with the reclamation
// loop is expected, and the loser of the race simply reports that.
// On a driver failure the session stays registered (and the port
// stays held) so a later call can retry the teardown.
func (m *Manager) Terminate(ctx context.Context, userID int64) (bool, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	return m.terminateLocked(ctx, userID, metrics.CauseUser)
}

// reclaim is Terminate invoked by the reclamation loop, recorded
// under a separate cause.
func (m *Manager) reclaim(ctx context.Context, userID int64) (bool, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	return m.terminateLocked(ctx, userID, metrics.CauseReclaimed)
}

func (m *Manager) terminateLocked(ctx context.Context, userID int64, cause string) (bool, error) {
	current, ok := m.registry.Get(userID)
	if !ok {
		return false, nil
	}

	if err := m.driver.DestroySandbox(ctx, current.Handle); err != nil {
		return false, fmt.Errorf("lifecycle: destroying sandbox %s: %w", current.SandboxName, err)
	}

	m.teardownLocked(current, cause)
	m.logger.Info("session terminated",
		"user", current.Username,
		"sandbox", current.SandboxName,
		"cause", cause,
	)
	return true, nil
}

// teardownLocked releases everything but the sandbox itself: the
// port, the registry entry, and the metrics gauge. The user's volume
// is deliberately left alone.
func (m *Manager) teardownLocked(s session.Session, cause string) {
	m.ports.Free(s.Port)
	m.registry.Remove(s.UserID)
	m.metrics.Termination(cause)
	m.metrics.SetActiveSessions(m.registry.Len())
}

// Capacity reports the current session count against the ceiling.
func (m *Manager) Capacity() CapacityReport {
	active := m.registry.Len()
	usage := float64(active) / float64(m.capacity) * 100
	return CapacityReport{
		ActiveSessions:  active,
		MaxSessions:     m.capacity,
		AvailableSlots:  m.capacity - active,
		UsagePercentage: math.Round(usage*100) / 100,
	}
}
