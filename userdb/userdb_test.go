// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

package userdb

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ttyfarm/ttyfarm/lib/clock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(StoreConfig{
		Path:   filepath.Join(t.TempDir(), "users.db"),
		Clock:  clock.Fake(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func TestCreateAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "Alice", "Alice@Example.com", "$2a$10$hash")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == 0 {
		t.Error("created user has zero ID")
	}
	if created.Username != "alice" {
		t.Errorf("username = %q, want lowercased alice", created.Username)
	}
	if created.Email != "alice@example.com" {
		t.Errorf("email = %q, want lowercased", created.Email)
	}
	if created.CreatedAt != time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) {
		t.Errorf("CreatedAt = %v", created.CreatedAt)
	}

	byID, err := store.ByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if byID != created {
		t.Errorf("ByID = %+v, want %+v", byID, created)
	}
}

func TestByLoginMatchesUsernameOrEmail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "alice", "alice@example.com", "$2a$10$hash")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, identifier := range []string{"alice", "alice@example.com", "ALICE", " alice "} {
		user, err := store.ByLogin(ctx, identifier)
		if err != nil {
			t.Errorf("ByLogin(%q): %v", identifier, err)
			continue
		}
		if user.ID != created.ID {
			t.Errorf("ByLogin(%q) found user %d, want %d", identifier, user.ID, created.ID)
		}
	}
}

func TestCreateDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "alice", "alice@example.com", "$2a$10$hash"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := store.Create(ctx, "alice", "other@example.com", "$2a$10$hash"); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate username: err = %v, want ErrExists", err)
	}
	if _, err := store.Create(ctx, "bob", "alice@example.com", "$2a$10$hash"); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate email: err = %v, want ErrExists", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d after rejected duplicates, want 1", count)
	}
}

func TestLookupUnknown(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.ByLogin(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ByLogin: err = %v, want ErrNotFound", err)
	}
	if _, err := store.ByID(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("ByID: err = %v, want ErrNotFound", err)
	}
}

func TestReopenKeepsUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.Fake(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	store, err := Open(StoreConfig{Path: path, Clock: clk, Logger: logger})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	created, err := store.Create(ctx, "alice", "alice@example.com", "$2a$10$hash")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(StoreConfig{Path: path, Clock: clk, Logger: logger})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	user, err := reopened.ByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("ByID after reopen: %v", err)
	}
	if user != created {
		t.Errorf("user after reopen = %+v, want %+v", user, created)
	}
}
