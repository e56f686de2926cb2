// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package dashboard registers a per-session Grafana dashboard showing
// the sandbox's CPU usage. Registration is best-effort glue: a
// missing or unreachable Grafana never blocks provisioning, callers
// log the error and move on.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ttyfarm/ttyfarm/lib/netutil"
	"github.com/ttyfarm/ttyfarm/session"
)

// Client posts dashboards to the Grafana HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  *slog.Logger
}

// Config holds the parameters for a Grafana client. URL and APIKey
// empty means dashboards are disabled; New returns nil and callers
// must tolerate a nil *Client.
type Config struct {
	// URL is the Grafana base URL, e.g. "http://grafana:3000".
	URL    string
	APIKey string

	// HTTPClient defaults to one with a 10 second timeout.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// New creates a Client, or nil when Grafana is not configured.
func New(cfg Config) *Client {
	if cfg.URL == "" || cfg.APIKey == "" {
		return nil
	}
	if cfg.Logger == nil {
		panic("dashboard: logger is required")
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		httpc:   httpc,
		logger:  cfg.Logger,
	}
}

// Enabled reports whether dashboard registration is configured.
func (c *Client) Enabled() bool { return c != nil }

// RegisterSession creates (or overwrites) the user's session
// dashboard. Safe to call on a nil client.
func (c *Client) RegisterSession(ctx context.Context, s session.Session) error {
	if c == nil {
		return nil
	}

	body, err := json.Marshal(sessionDashboard(s))
	if err != nil {
		return fmt.Errorf("dashboard: encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/dashboards/db", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dashboard: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("dashboard: posting to grafana: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dashboard: grafana returned %s: %s",
			resp.Status, netutil.ErrorBody(resp.Body))
	}

	var result struct {
		UID string `json:"uid"`
		URL string `json:"url"`
	}
	if err := netutil.DecodeResponse(resp.Body, &result); err != nil {
		// The dashboard was created; a malformed ack is not worth
		// surfacing to the provisioning path.
		c.logger.Warn("grafana returned unparseable ack", "error", err)
		return nil
	}

	c.logger.Info("session dashboard registered",
		"user", s.Username, "uid", result.UID, "url", result.URL)
	return nil
}

// payload types mirror the subset of the Grafana dashboard model the
// service emits.

type payload struct {
	Dashboard board `json:"dashboard"`
	Overwrite bool  `json:"overwrite"`
}

type board struct {
	ID            *int64   `json:"id"`
	UID           *string  `json:"uid"`
	Title         string   `json:"title"`
	Tags          []string `json:"tags"`
	Timezone      string   `json:"timezone"`
	Panels        []panel  `json:"panels"`
	Time          span     `json:"time"`
	Refresh       string   `json:"refresh"`
	SchemaVersion int      `json:"schemaVersion"`
}

type span struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type panel struct {
	ID      int      `json:"id"`
	Title   string   `json:"title"`
	Type    string   `json:"type"`
	GridPos gridPos  `json:"gridPos"`
	Targets []target `json:"targets"`
}

type gridPos struct {
	H int `json:"h"`
	W int `json:"w"`
	X int `json:"x"`
	Y int `json:"y"`
}

type target struct {
	Expr         string `json:"expr"`
	LegendFormat string `json:"legendFormat"`
	RefID        string `json:"refId"`
}

// sessionDashboard builds the per-user dashboard: a single CPU stat
// panel scoped to the session's container by name.
func sessionDashboard(s session.Session) payload {
	expr := fmt.Sprintf(
		`sum(rate(container_cpu_usage_seconds_total{name=~"%s"}[1m])) * 100`,
		s.SandboxName)
	return payload{
		Dashboard: board{
			Title:    fmt.Sprintf("CLI Session - %s", s.Username),
			Tags:     []string{"cli-session", s.Username},
			Timezone: "browser",
			Panels: []panel{{
				ID:      1,
				Title:   "CPU Usage",
				Type:    "stat",
				GridPos: gridPos{H: 8, W: 12, X: 0, Y: 0},
				Targets: []target{{
					Expr:         expr,
					LegendFormat: s.SandboxName,
					RefID:        "A",
				}},
			}},
			Time:          span{From: "now-30m", To: "now"},
			Refresh:       "10s",
			SchemaVersion: 36,
		},
		Overwrite: true,
	}
}
