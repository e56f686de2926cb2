// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi exposes the service over HTTP: account signup and
// login, the authenticated sandbox request/status/terminate
// operations, and the unauthenticated health and metrics endpoints.
//
// All responses are JSON. Errors have a stable shape,
// {"error": message, "code": code}, where code is machine-readable
// (at_capacity, no_ports, provision_failed, access_denied, ...) so
// clients can branch without parsing messages.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ttyfarm/ttyfarm/auth"
	"github.com/ttyfarm/ttyfarm/lifecycle"
	"github.com/ttyfarm/ttyfarm/userdb"
)

// HandlerConfig wires the API handler.
type HandlerConfig struct {
	Manager *lifecycle.Manager
	Users   *userdb.Store
	Auth    *auth.Authenticator

	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

type handler struct {
	manager *lifecycle.Manager
	users   *userdb.Store
	auth    *auth.Authenticator
	logger  *slog.Logger
}

// NewHandler builds the route table. Panics on missing collaborators.
func NewHandler(cfg HandlerConfig) http.Handler {
	if cfg.Manager == nil || cfg.Users == nil || cfg.Auth == nil {
		panic("httpapi: manager, users, and auth are required")
	}
	if cfg.Logger == nil {
		panic("httpapi: logger is required")
	}

	h := &handler{
		manager: cfg.Manager,
		users:   cfg.Users,
		auth:    cfg.Auth,
		logger:  cfg.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/signup", h.handleSignup)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("GET /auth/verify", h.authed(h.handleVerify))
	mux.HandleFunc("POST /cli/request", h.authed(h.handleRequest))
	mux.HandleFunc("GET /cli/status/{username}", h.authed(h.handleStatus))
	mux.HandleFunc("DELETE /cli/terminate/{username}", h.authed(h.handleTerminate))
	mux.HandleFunc("GET /status", h.authed(h.handleUserStatus))
	mux.HandleFunc("GET /health", h.handleHealth)
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// --- auth endpoints ---

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,31}$`)

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	// Username also accepts the account email.
	Username string `json:"username"`
	Password string `json:"password"`
}

type userPayload struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        userPayload `json:"user"`
}

func (h *handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	email := strings.ToLower(strings.TrimSpace(req.Email))
	switch {
	case !usernamePattern.MatchString(username):
		h.writeError(w, http.StatusBadRequest, "invalid_request",
			"username must be 3-32 characters: lowercase letters, digits, - or _")
		return
	case !strings.Contains(email, "@"):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid email address")
		return
	case len(req.Password) < 8:
		h.writeError(w, http.StatusBadRequest, "invalid_request",
			"password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.internalError(w, "hashing password", err)
		return
	}

	user, err := h.users.Create(r.Context(), username, email, hash)
	if errors.Is(err, userdb.ErrExists) {
		h.writeError(w, http.StatusBadRequest, "user_exists",
			"username or email already registered")
		return
	}
	if err != nil {
		h.internalError(w, "creating user", err)
		return
	}

	h.logger.Info("user registered", "user", user.Username)
	h.issueToken(w, http.StatusCreated, user)
}

func (h *handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	user, err := h.users.ByLogin(r.Context(), req.Username)
	if errors.Is(err, userdb.ErrNotFound) {
		// Same response as a bad password: login must not confirm
		// which accounts exist.
		h.writeError(w, http.StatusUnauthorized, "invalid_credentials",
			"incorrect username or password")
		return
	}
	if err != nil {
		h.internalError(w, "looking up user", err)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		h.writeError(w, http.StatusUnauthorized, "invalid_credentials",
			"incorrect username or password")
		return
	}

	h.issueToken(w, http.StatusOK, user)
}

func (h *handler) issueToken(w http.ResponseWriter, status int, user userdb.User) {
	token, err := h.auth.Mint(user.ID, user.Username, user.Email)
	if err != nil {
		h.internalError(w, "minting token", err)
		return
	}
	h.writeJSON(w, status, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        userPayload{ID: user.ID, Username: user.Username, Email: user.Email},
	})
}

func (h *handler) handleVerify(w http.ResponseWriter, r *http.Request, user userdb.User) {
	h.writeJSON(w, http.StatusOK, userPayload{
		ID: user.ID, Username: user.Username, Email: user.Email,
	})
}

// --- session endpoints ---

type sessionResponse struct {
	URL               string `json:"url"`
	ContainerName     string `json:"container_name"`
	Port              int    `json:"port"`
	SessionType       string `json:"session_type"`
	HasPersistentData bool   `json:"has_persistent_data"`
}

func (h *handler) handleRequest(w http.ResponseWriter, r *http.Request, user userdb.User) {
	grant, err := h.manager.RequestAccess(r.Context(), user.ID, user.Username)
	switch {
	case errors.Is(err, lifecycle.ErrAtCapacity):
		h.writeError(w, http.StatusServiceUnavailable, "at_capacity",
			"no session slots available, try again later")
		return
	case errors.Is(err, lifecycle.ErrNoPorts):
		h.writeError(w, http.StatusServiceUnavailable, "no_ports",
			"no ports available, try again later")
		return
	case err != nil:
		var provErr *lifecycle.ProvisionError
		if errors.As(err, &provErr) {
			h.logger.Error("provisioning failed", "user", user.Username, "error", err)
			h.writeError(w, http.StatusInternalServerError, "provision_failed",
				"could not start a terminal session")
			return
		}
		h.internalError(w, "requesting session", err)
		return
	}

	sessionType := "new"
	if grant.Reused {
		sessionType = "existing"
	}
	h.writeJSON(w, http.StatusOK, sessionResponse{
		URL:               grant.Session.URL,
		ContainerName:     grant.Session.SandboxName,
		Port:              grant.Session.Port,
		SessionType:       sessionType,
		HasPersistentData: grant.HasPriorData,
	})
}

type statusResponse struct {
	Exists        bool   `json:"exists"`
	Status        string `json:"status,omitempty"`
	URL           string `json:"url,omitempty"`
	ContainerName string `json:"container_name,omitempty"`
	Port          int    `json:"port,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	LastAccessed  string `json:"last_accessed,omitempty"`
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request, user userdb.User) {
	if !h.requireSelf(w, r, user) {
		return
	}

	report, err := h.manager.GetStatus(r.Context(), user.ID)
	if err != nil {
		h.internalError(w, "querying session status", err)
		return
	}
	if !report.Exists {
		h.writeJSON(w, http.StatusOK, statusResponse{Exists: false})
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse{
		Exists:        true,
		Status:        string(report.Session.Status),
		URL:           report.Session.URL,
		ContainerName: report.Session.SandboxName,
		Port:          report.Session.Port,
		CreatedAt:     report.Session.CreatedAt.UTC().Format(time.RFC3339),
		LastAccessed:  report.Session.LastAccessed.UTC().Format(time.RFC3339),
	})
}

func (h *handler) handleTerminate(w http.ResponseWriter, r *http.Request, user userdb.User) {
	if !h.requireSelf(w, r, user) {
		return
	}

	terminated, err := h.manager.Terminate(r.Context(), user.ID)
	if err != nil {
		h.internalError(w, "terminating session", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"terminated": terminated})
}

func (h *handler) handleUserStatus(w http.ResponseWriter, r *http.Request, user userdb.User) {
	report, err := h.manager.GetStatus(r.Context(), user.ID)
	if err != nil {
		h.internalError(w, "querying session status", err)
		return
	}
	capacity := h.manager.Capacity()

	var sess *sessionResponse
	if report.Exists {
		sess = &sessionResponse{
			URL:           report.Session.URL,
			ContainerName: report.Session.SandboxName,
			Port:          report.Session.Port,
			SessionType:   "existing",
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"user":    userPayload{ID: user.ID, Username: user.Username, Email: user.Email},
		"session": sess,
		"system": map[string]int{
			"active_sessions": capacity.ActiveSessions,
			"max_sessions":    capacity.MaxSessions,
		},
	})
}

type healthResponse struct {
	Status   string          `json:"status"`
	Capacity capacityPayload `json:"capacity"`
}

type capacityPayload struct {
	ActiveContainers int     `json:"active_containers"`
	MaxCapacity      int     `json:"max_capacity"`
	AvailableSlots   int     `json:"available_slots"`
	UsagePercentage  float64 `json:"usage_percentage"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	capacity := h.manager.Capacity()
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status: "healthy",
		Capacity: capacityPayload{
			ActiveContainers: capacity.ActiveSessions,
			MaxCapacity:      capacity.MaxSessions,
			AvailableSlots:   capacity.AvailableSlots,
			UsagePercentage:  capacity.UsagePercentage,
		},
	})
}

// --- middleware and helpers ---

type authedFunc func(w http.ResponseWriter, r *http.Request, user userdb.User)

// authed wraps a handler with bearer-token authentication. The token
// is verified, then the account is re-resolved from the database so a
// deleted user's outstanding tokens stop working immediately.
func (h *handler) authed(next authedFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			h.writeError(w, http.StatusUnauthorized, "unauthorized",
				"missing bearer token")
			return
		}

		claims, err := h.auth.Verify(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid_token",
				"invalid or expired token")
			return
		}

		user, err := h.users.ByID(r.Context(), claims.UserID)
		if errors.Is(err, userdb.ErrNotFound) {
			h.writeError(w, http.StatusUnauthorized, "invalid_token",
				"invalid or expired token")
			return
		}
		if err != nil {
			h.internalError(w, "resolving token user", err)
			return
		}

		next(w, r, user)
	}
}

// requireSelf enforces that the {username} path element names the
// authenticated user. Sessions are strictly per-user; there is no
// admin surface.
func (h *handler) requireSelf(w http.ResponseWriter, r *http.Request, user userdb.User) bool {
	if pathUser := r.PathValue("username"); !strings.EqualFold(pathUser, user.Username) {
		h.writeError(w, http.StatusForbidden, "access_denied",
			"you can only manage your own session")
		return false
	}
	return true
}

func (h *handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("writing response", "error", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{"error": message, "code": code})
}

func (h *handler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, "error", err)
	h.writeError(w, http.StatusInternalServerError, "internal_error",
		"internal server error")
}
