// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth issues and verifies the bearer tokens the API uses,
// and hashes passwords for storage. Tokens are HS256 JWTs carrying
// the user's identity; there is no refresh flow, a token is simply
// re-minted at login.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ttyfarm/ttyfarm/lib/clock"
)

// ErrInvalidToken is returned by Verify for tokens that are expired,
// malformed, or not signed with the service secret.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the token payload. Field names match the wire format
// clients already depend on.
type Claims struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// Authenticator mints and verifies tokens with a shared HS256 secret.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// New creates an Authenticator. Panics on an empty secret or
// non-positive ttl — both are wiring bugs.
func New(secret string, ttl time.Duration, clk clock.Clock) *Authenticator {
	if secret == "" {
		panic("auth: secret is required")
	}
	if ttl <= 0 {
		panic("auth: token ttl must be positive")
	}
	if clk == nil {
		panic("auth: clock is required")
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, clock: clk}
}

// Mint issues a signed token for the user, expiring after the
// configured ttl.
func (a *Authenticator) Mint(userID int64, username, email string) (string, error) {
	now := a.clock.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the claims. Any
// failure maps to ErrInvalidToken; callers treat all bad tokens the
// same and must not leak the distinction to clients.
func (a *Authenticator) Verify(tokenString string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(token *jwt.Token) (any, error) {
			return a.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// HashPassword returns the bcrypt hash to store for a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether the password matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
