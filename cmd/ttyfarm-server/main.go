// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

// ttyfarm-server provisions per-user browser terminal sandboxes. Each
// authenticated user gets at most one running container with a
// persistent workspace volume; idle sessions are reclaimed in the
// background.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/ttyfarm/ttyfarm/auth"
	"github.com/ttyfarm/ttyfarm/config"
	"github.com/ttyfarm/ttyfarm/dashboard"
	"github.com/ttyfarm/ttyfarm/driver"
	"github.com/ttyfarm/ttyfarm/httpapi"
	"github.com/ttyfarm/ttyfarm/lib/clock"
	"github.com/ttyfarm/ttyfarm/lib/service"
	"github.com/ttyfarm/ttyfarm/lib/version"
	"github.com/ttyfarm/ttyfarm/lifecycle"
	"github.com/ttyfarm/ttyfarm/metrics"
	"github.com/ttyfarm/ttyfarm/ports"
	"github.com/ttyfarm/ttyfarm/session"
	"github.com/ttyfarm/ttyfarm/userdb"
)

// ttyd listens on this port inside every sandbox.
const sandboxInternalPort = 7681

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		listen      string
		showVersion bool
	)

	flags := pflag.NewFlagSet("ttyfarm-server", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to YAML config file")
	flags.StringVar(&listen, "listen", "", "listen address (overrides config)")
	flags.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("ttyfarm-server %s\n", version.Info())
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("no JWT secret: set auth.secret or TTYFARM_JWT_SECRET")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)
	logger.Info("ttyfarm-server starting", "version", version.Info(), "listen", cfg.Listen)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	users, err := userdb.Open(userdb.StoreConfig{
		Path:   cfg.Database.Path,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer users.Close()

	docker, err := driver.NewDockerDriver(driver.DockerConfig{
		Image:        cfg.Sandbox.Image,
		InternalPort: sandboxInternalPort,
		MemoryMB:     cfg.Sandbox.MemoryMB,
		CPUs:         cfg.Sandbox.CPUs,
		PidsLimit:    cfg.Sandbox.PidsLimit,
	}, logger)
	if err != nil {
		return err
	}
	defer docker.Close()

	// The service is useless without a reachable daemon and the
	// sandbox image; fail fast rather than on the first request.
	if err := docker.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	if err := docker.EnsureImage(ctx); err != nil {
		return fmt.Errorf("pulling sandbox image: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	serviceMetrics := metrics.New(registry)

	grafana := dashboard.New(dashboard.Config{
		URL:    cfg.Grafana.URL,
		APIKey: cfg.Grafana.APIKey,
		Logger: logger,
	})

	sessions := session.NewRegistry()
	manager := lifecycle.NewManager(lifecycle.ManagerConfig{
		Registry: sessions,
		Ports:    ports.NewAllocator(cfg.Sandbox.PortRangeLow, cfg.Sandbox.PortRangeHigh),
		Driver:   docker,
		Clock:    clk,
		Capacity: cfg.Sandbox.MaxSessions,
		HostIP:   cfg.HostIP,
		Metrics:  serviceMetrics,
		OnSessionCreated: func(ctx context.Context, s session.Session) {
			if !grafana.Enabled() {
				return
			}
			// Off the provisioning path: dashboard registration is
			// cosmetic and must not delay the response.
			go func() {
				if err := grafana.RegisterSession(context.WithoutCancel(ctx), s); err != nil {
					logger.Warn("dashboard registration failed",
						"user", s.Username, "error", err)
				}
			}()
		},
		Logger: logger,
	})

	reclaimer := lifecycle.NewReclaimer(lifecycle.ReclaimerConfig{
		Manager:   manager,
		Registry:  sessions,
		Clock:     clk,
		Interval:  cfg.Reclaim.Interval.Std(),
		IdleAfter: cfg.Reclaim.IdleAfter.Std(),
		Logger:    logger,
	})

	handler := httpapi.NewHandler(httpapi.HandlerConfig{
		Manager:  manager,
		Users:    users,
		Auth:     auth.New(cfg.Auth.Secret, cfg.Auth.TokenTTL.Std(), clk),
		Gatherer: registry,
		Logger:   logger,
	})

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.Listen,
		Handler: handler,
		Logger:  logger,
	})

	reclaimerDone := make(chan struct{})
	go func() {
		defer close(reclaimerDone)
		reclaimer.Run(ctx)
	}()

	err = server.Serve(ctx)
	// Serve can fail on its own (listen error, dead listener) while
	// the signal context is still live; release the reclaimer so the
	// process exits with the error instead of hanging.
	stop()
	<-reclaimerDone
	logger.Info("ttyfarm-server stopped")
	return err
}
