// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ttyfarm/ttyfarm/lib/clock"
)

func TestMintAndVerify(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	a := New("test-secret", 24*time.Hour, clk)

	token, err := a.Mint(7, "alice", "alice@example.com")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Fatalf("token has %d segments, want 3", len(parts))
	}

	claims, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != 7 {
		t.Errorf("UserID = %d, want 7", claims.UserID)
	}
	if claims.Username != "alice" {
		t.Errorf("Username = %q", claims.Username)
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("Email = %q", claims.Email)
	}
	if got := claims.ExpiresAt.Time; !got.Equal(clk.Now().Add(24 * time.Hour)) {
		t.Errorf("ExpiresAt = %v, want 24h from issue", got)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	a := New("test-secret", time.Hour, clk)

	token, err := a.Mint(7, "alice", "alice@example.com")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	// Still valid just inside the ttl.
	clk.Advance(59 * time.Minute)
	if _, err := a.Verify(token); err != nil {
		t.Fatalf("Verify before expiry: %v", err)
	}

	clk.Advance(2 * time.Minute)
	if _, err := a.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify after expiry: err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	minter := New("secret-one", time.Hour, clk)
	verifier := New("secret-two", time.Hour, clk)

	token, err := minter.Mint(7, "alice", "alice@example.com")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("cross-secret Verify: err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	a := New("test-secret", time.Hour, clk)

	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := a.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q): err = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "hunter2" {
		t.Fatal("hash equals the plaintext")
	}
	if !CheckPassword(hash, "hunter2") {
		t.Error("correct password rejected")
	}
	if CheckPassword(hash, "hunter3") {
		t.Error("wrong password accepted")
	}
	if CheckPassword("not-a-bcrypt-hash", "hunter2") {
		t.Error("malformed hash accepted")
	}
}
