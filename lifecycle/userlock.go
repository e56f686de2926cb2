// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import "sync"

// userLocks serializes lifecycle operations per user. Two concurrent
// RequestAccess calls for the same user must not both observe "no
// session" and both provision; the registry's own lock cannot give
// that guarantee because provisioning spans slow driver I/O that
// must not run under it.
//
// Mutexes are kept for the life of the process. The map is bounded
// by the number of distinct users seen, which is small next to the
// sessions they create.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[int64]*sync.Mutex)}
}

// lock acquires the mutex for userID and returns its unlock func.
func (l *userLocks) lock(userID int64) func() {
	l.mu.Lock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
