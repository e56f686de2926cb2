// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations the service depends on. The
// lifecycle manager and reclamation loop take a Clock instead of
// calling the time package directly; production code injects Real(),
// tests inject Fake() and advance time deterministically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. If d <= 0 the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks on its C channel
	// every d. Panics if d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker is a periodic timer. Read ticks from C and call Stop when
// done. C has capacity 1; ticks are dropped, not queued, when the
// consumer falls behind (same contract as time.Ticker).
type Ticker struct {
	C <-chan time.Time

	stop  func()
	reset func(time.Duration)
}

// Stop turns the ticker off. No ticks arrive on C after Stop returns.
// Stop does not close C.
func (t *Ticker) Stop() { t.stop() }

// Reset changes the tick interval and restarts the cycle; the next
// tick arrives after the new duration.
func (t *Ticker) Reset(d time.Duration) { t.reset(d) }
