// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the service configuration from a single YAML
// file. There is no automatic discovery: the file comes from the
// --config flag or the TTYFARM_CONFIG environment variable, so a
// deployment's configuration is always explicit and auditable.
// Secrets (JWT key, Grafana token) may be supplied via environment
// variables instead of the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "3m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	// Listen is the TCP address the API server binds.
	Listen string `yaml:"listen"`

	// HostIP is the address advertised in session URLs — where
	// clients reach the published sandbox ports.
	HostIP string `yaml:"host_ip"`

	// Database configures the user table.
	Database DatabaseConfig `yaml:"database"`

	// Auth configures token minting and verification.
	Auth AuthConfig `yaml:"auth"`

	// Sandbox configures the container runtime and capacity.
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Reclaim configures idle-session reclamation.
	Reclaim ReclaimConfig `yaml:"reclaim"`

	// Grafana configures best-effort dashboard registration. Left
	// empty, no dashboards are created.
	Grafana GrafanaConfig `yaml:"grafana"`
}

// DatabaseConfig configures the SQLite user store.
type DatabaseConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// AuthConfig configures JWT issuance.
type AuthConfig struct {
	// Secret signs access tokens (HS256). If empty, the
	// TTYFARM_JWT_SECRET environment variable is consulted.
	Secret string `yaml:"secret"`

	// TokenTTL is how long issued tokens stay valid.
	TokenTTL Duration `yaml:"token_ttl"`
}

// SandboxConfig configures the sandbox runtime and the capacity
// limits enforced by the lifecycle manager.
type SandboxConfig struct {
	// Image is the terminal sandbox image.
	Image string `yaml:"image"`

	// MaxSessions is the ceiling on concurrently live sessions.
	MaxSessions int `yaml:"max_sessions"`

	// PortRangeLow/High is the inclusive host port range published
	// sandbox ports are drawn from. The range must be dedicated to
	// this service; nothing else may bind ports inside it.
	PortRangeLow  int `yaml:"port_range_low"`
	PortRangeHigh int `yaml:"port_range_high"`

	// MemoryMB, CPUs, and PidsLimit are the per-sandbox resource
	// ceilings.
	MemoryMB  int64   `yaml:"memory_mb"`
	CPUs      float64 `yaml:"cpus"`
	PidsLimit int64   `yaml:"pids_limit"`
}

// ReclaimConfig configures the reclamation loop.
type ReclaimConfig struct {
	// Interval is how often the loop scans for idle sessions.
	Interval Duration `yaml:"interval"`

	// IdleAfter is the inactivity window after which a session is
	// reclaimed.
	IdleAfter Duration `yaml:"idle_after"`
}

// GrafanaConfig configures the dashboard registration client.
type GrafanaConfig struct {
	// URL is the Grafana base URL. Empty disables registration.
	URL string `yaml:"url"`

	// APIKey authenticates dashboard creation. If empty, the
	// TTYFARM_GRAFANA_API_KEY environment variable is consulted.
	APIKey string `yaml:"api_key"`
}

// Default returns the configuration used when a field is absent from
// the file. The sandbox defaults mirror the ttyd deployment the
// service was built around.
func Default() *Config {
	return &Config{
		Listen: ":8000",
		HostIP: "localhost",
		Database: DatabaseConfig{
			Path: "ttyfarm.db",
		},
		Auth: AuthConfig{
			TokenTTL: Duration(24 * time.Hour),
		},
		Sandbox: SandboxConfig{
			Image:         "tsl0922/ttyd:latest",
			MaxSessions:   100,
			PortRangeLow:  8090,
			PortRangeHigh: 8189,
			MemoryMB:      128,
			CPUs:          0.5,
			PidsLimit:     50,
		},
		Reclaim: ReclaimConfig{
			Interval:  Duration(30 * time.Second),
			IdleAfter: Duration(3 * time.Minute),
		},
	}
}

// Load reads the file at path over the defaults. An empty path falls
// back to the TTYFARM_CONFIG environment variable; if that is also
// unset the defaults are returned unchanged. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("TTYFARM_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if cfg.Auth.Secret == "" {
		cfg.Auth.Secret = os.Getenv("TTYFARM_JWT_SECRET")
	}
	if cfg.Grafana.APIKey == "" {
		cfg.Grafana.APIKey = os.Getenv("TTYFARM_GRAFANA_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database.path is required")
	}
	if c.Sandbox.MaxSessions <= 0 {
		return fmt.Errorf("config: sandbox.max_sessions must be positive, got %d", c.Sandbox.MaxSessions)
	}
	if c.Sandbox.PortRangeLow <= 0 || c.Sandbox.PortRangeHigh < c.Sandbox.PortRangeLow {
		return fmt.Errorf("config: invalid sandbox port range [%d, %d]",
			c.Sandbox.PortRangeLow, c.Sandbox.PortRangeHigh)
	}
	if c.Sandbox.Image == "" {
		return fmt.Errorf("config: sandbox.image is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("config: auth.token_ttl must be positive")
	}
	if c.Reclaim.Interval <= 0 {
		return fmt.Errorf("config: reclaim.interval must be positive")
	}
	if c.Reclaim.IdleAfter <= 0 {
		return fmt.Errorf("config: reclaim.idle_after must be positive")
	}
	if c.Grafana.URL != "" && c.Grafana.APIKey == "" {
		return fmt.Errorf("config: grafana.url set without an API key")
	}
	return nil
}
