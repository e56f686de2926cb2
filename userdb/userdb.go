// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package userdb persists user accounts in SQLite. It stores only
// identity and the bcrypt password hash; session state lives in
// memory with the lifecycle manager and is deliberately not written
// here.
package userdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/ttyfarm/ttyfarm/lib/clock"
	"github.com/ttyfarm/ttyfarm/lib/sqlitepool"
)

// ErrExists is returned by Create when the username or email is
// already taken.
var ErrExists = errors.New("userdb: username or email already registered")

// ErrNotFound is returned by lookups for unknown users.
var ErrNotFound = errors.New("userdb: user not found")

// User is a stored account. PasswordHash is the bcrypt hash, never
// the plaintext.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT NOT NULL UNIQUE,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
`

// Store provides account persistence over a connection pool. Safe for
// concurrent use.
type Store struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

// StoreConfig holds the parameters for opening a user store.
type StoreConfig struct {
	// Path is the SQLite database file self-created if absent.
	Path string

	// PoolSize defaults to 4 if zero or negative.
	PoolSize int

	// Clock stamps account creation times.
	Clock clock.Clock

	Logger *slog.Logger
}

// Open creates the store and its schema. The caller must Close it.
func Open(cfg StoreConfig) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("userdb: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("userdb: Logger is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("userdb: %w", err)
	}

	return &Store{pool: pool, clock: cfg.Clock}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Create registers a new account and returns it with its assigned ID.
// Username and email are stored lowercased so lookups are
// case-insensitive. Returns ErrExists when either is taken.
func (s *Store) Create(ctx context.Context, username, email, passwordHash string) (User, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return User{}, err
	}
	defer s.pool.Put(conn)

	user := User{
		Username:     strings.ToLower(strings.TrimSpace(username)),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		CreatedAt:    s.clock.Now().UTC().Truncate(time.Second),
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO users (username, email, password_hash, created_at)
		 VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{user.Username, user.Email, user.PasswordHash, user.CreatedAt.Unix()},
		})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintUnique {
			return User{}, ErrExists
		}
		return User{}, fmt.Errorf("userdb: inserting user %q: %w", user.Username, err)
	}

	user.ID = conn.LastInsertRowID()
	return user, nil
}

// ByLogin finds an account by username or email; the login form
// accepts either. Returns ErrNotFound for unknown identifiers.
func (s *Store) ByLogin(ctx context.Context, identifier string) (User, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	return s.queryOne(ctx,
		`SELECT id, username, email, password_hash, created_at
		 FROM users WHERE username = ? OR email = ?`,
		identifier, identifier)
}

// ByID finds an account by its row ID. Returns ErrNotFound when the
// ID is unknown.
func (s *Store) ByID(ctx context.Context, id int64) (User, error) {
	return s.queryOne(ctx,
		`SELECT id, username, email, password_hash, created_at
		 FROM users WHERE id = ?`,
		id)
}

// Count returns the number of registered accounts.
func (s *Store) Count(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var count int
	err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM users`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("userdb: counting users: %w", err)
	}
	return count, nil
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (User, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return User{}, err
	}
	defer s.pool.Put(conn)

	var user User
	found := false
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			user = User{
				ID:           stmt.ColumnInt64(0),
				Username:     stmt.ColumnText(1),
				Email:        stmt.ColumnText(2),
				PasswordHash: stmt.ColumnText(3),
				CreatedAt:    time.Unix(stmt.ColumnInt64(4), 0).UTC(),
			}
			return nil
		},
	})
	if err != nil {
		return User{}, fmt.Errorf("userdb: querying user: %w", err)
	}
	if !found {
		return User{}, ErrNotFound
	}
	return user, nil
}
