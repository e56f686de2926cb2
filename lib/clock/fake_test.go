// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func TestFakeNow(t *testing.T) {
	c := Fake(epoch)
	if got := c.Now(); !got.Equal(epoch) {
		t.Errorf("Now = %v, want %v", got, epoch)
	}
	c.Advance(90 * time.Second)
	if got := c.Now(); !got.Equal(epoch.Add(90 * time.Second)) {
		t.Errorf("Now after Advance = %v", got)
	}
}

func TestFakeAfter(t *testing.T) {
	c := Fake(epoch)
	ch := c.After(time.Minute)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	c.Advance(time.Minute)
	select {
	case fired := <-ch:
		if !fired.Equal(epoch.Add(time.Minute)) {
			t.Errorf("fired at %v", fired)
		}
	default:
		t.Fatal("After did not fire")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	c := Fake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
}

func TestFakeTickerRepeats(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		c.Advance(10 * time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d missing", i)
		}
	}
}

func TestFakeTickerStop(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)
	ticker.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeSleepBlocksUntilAdvance(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		c.Sleep(time.Minute)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Minute)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}

func TestFakePendingCount(t *testing.T) {
	c := Fake(epoch)
	if c.PendingCount() != 0 {
		t.Fatalf("PendingCount = %d, want 0", c.PendingCount())
	}
	c.After(time.Hour)
	ticker := c.NewTicker(time.Hour)
	if c.PendingCount() != 2 {
		t.Fatalf("PendingCount = %d, want 2", c.PendingCount())
	}
	ticker.Stop()
	if c.PendingCount() != 1 {
		t.Fatalf("PendingCount after Stop = %d, want 1", c.PendingCount())
	}
}
