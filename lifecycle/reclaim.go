// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/ttyfarm/ttyfarm/lib/clock"
	"github.com/ttyfarm/ttyfarm/session"
)

// Reclaimer terminates sessions idle past a threshold. It runs as a
// periodic task with an explicit lifecycle: Run blocks until ctx is
// cancelled, so the caller decides when reclamation starts and stops
// instead of a detached forever-thread.
type Reclaimer struct {
	manager  *Manager
	registry *session.Registry
	clock    clock.Clock

	// interval is the scan period; idleAfter is the inactivity
	// window that makes a session reclaimable.
	interval  time.Duration
	idleAfter time.Duration

	logger *slog.Logger
}

// ReclaimerConfig wires a Reclaimer.
type ReclaimerConfig struct {
	Manager   *Manager
	Registry  *session.Registry
	Clock     clock.Clock
	Interval  time.Duration
	IdleAfter time.Duration
	Logger    *slog.Logger
}

// NewReclaimer validates the wiring and returns a Reclaimer.
func NewReclaimer(cfg ReclaimerConfig) *Reclaimer {
	if cfg.Manager == nil || cfg.Registry == nil || cfg.Clock == nil {
		panic("lifecycle.Reclaimer: manager, registry, and clock are required")
	}
	if cfg.Interval <= 0 || cfg.IdleAfter <= 0 {
		panic("lifecycle.Reclaimer: interval and idle threshold must be positive")
	}
	if cfg.Logger == nil {
		panic("lifecycle.Reclaimer: logger is required")
	}
	return &Reclaimer{
		manager:   cfg.Manager,
		registry:  cfg.Registry,
		clock:     cfg.Clock,
		interval:  cfg.Interval,
		idleAfter: cfg.IdleAfter,
		logger:    cfg.Logger,
	}
}

// Run scans on every tick until ctx is cancelled. A fault in one
// cycle — including a panic — is logged and does not stop the loop.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reclamation loop started",
		"interval", r.interval,
		"idle_after", r.idleAfter,
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reclamation loop stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle terminates every session idle past the threshold. One
// user's failure does not abort the scan for the rest; sessions are
// independent and order does not matter.
func (r *Reclaimer) runCycle(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("reclamation cycle panicked", "panic", p)
		}
	}()

	now := r.clock.Now()

	for _, s := range r.registry.List() {
		idle := now.Sub(s.LastAccessed)
		if idle <= r.idleAfter {
			continue
		}

		terminated, err := r.manager.reclaim(ctx, s.UserID)
		if err != nil {
			r.logger.Error("reclaiming idle session failed",
				"user", s.Username,
				"sandbox", s.SandboxName,
				"idle", idle,
				"error", err,
			)
			continue
		}
		if terminated {
			r.logger.Info("idle session reclaimed",
				"user", s.Username,
				"sandbox", s.SandboxName,
				"idle", idle,
			)
		}
	}
}
