// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"time"
)

// Registry is a concurrency-safe map from user ID to live session.
// All operations are atomic with respect to each other; List returns
// a snapshot whose entries are copies, never views into the map.
//
// Put overwrites any existing entry for the same user. The
// one-session-per-user policy is enforced by the lifecycle manager,
// which serializes per-user operations; the registry only guarantees
// one entry per key.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]Session)}
}

// Get returns the session for userID, if present.
func (r *Registry) Get(userID int64) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Put inserts or replaces the session for its user.
func (r *Registry) Put(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.UserID] = s
}

// Remove deletes the session for userID. Removing an absent entry is
// a no-op.
func (r *Registry) Remove(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

// Touch refreshes LastAccessed for userID. Returns false if there is
// no session to touch.
func (r *Registry) Touch(userID int64, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		return false
	}
	s.LastAccessed = now
	r.sessions[userID] = s
	return true
}

// SetStatus updates the status for userID. Returns false if absent.
func (r *Registry) SetStatus(userID int64, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		return false
	}
	s.Status = status
	r.sessions[userID] = s
	return true
}

// List returns a snapshot of all live sessions, in no particular
// order.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
