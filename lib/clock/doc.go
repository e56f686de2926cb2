// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that
// time-driven behavior (idle reclamation, access timestamps) can be
// tested deterministically.
//
// Production code accepts a Clock and is wired with Real(). Tests
// wire Fake() and drive it explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	r := lifecycle.NewReclaimer(manager, registry, c, cfg, logger)
//	go r.Run(ctx)
//	c.WaitForTimers(1)          // reclaimer's ticker is registered
//	c.Advance(30 * time.Second) // fire one cycle, no wall-clock wait
package clock
