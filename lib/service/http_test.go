// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"
)

func TestHTTPServerLifecycle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusOK)
		fmt.Fprintf(writer, "ok")
	})

	server := NewHTTPServer(HTTPServerConfig{
		Address:         "127.0.0.1:0", // OS-assigned port
		Handler:         handler,
		ShutdownTimeout: 2 * time.Second,
		Logger:          logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()

	select {
	case <-server.Ready():
	case <-t.Context().Done():
		t.Fatal("server did not become ready before test deadline")
	}

	address := server.Addr().String()
	response, err := http.Get("http://" + address + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Errorf("GET /test status = %d, want 200", response.StatusCode)
	}
	body, _ := io.ReadAll(response.Body)
	if string(body) != "ok" {
		t.Errorf("GET /test body = %q, want %q", body, "ok")
	}

	cancel()

	select {
	case err := <-serveDone:
		if err != nil {
			t.Errorf("Serve() = %v, want nil", err)
		}
	case <-t.Context().Done():
		t.Fatal("server did not shut down before test deadline")
	}
}

func TestHTTPServerListenFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {})

	// Occupy a port, then ask a second server to bind it. Serve must
	// return the listen error immediately — callers unwind their own
	// background work on that return, so it cannot block.
	occupant := NewHTTPServer(HTTPServerConfig{
		Address: "127.0.0.1:0",
		Handler: handler,
		Logger:  logger,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go occupant.Serve(ctx)
	select {
	case <-occupant.Ready():
	case <-t.Context().Done():
		t.Fatal("occupant did not become ready before test deadline")
	}

	contender := NewHTTPServer(HTTPServerConfig{
		Address: occupant.Addr().String(),
		Handler: handler,
		Logger:  logger,
	})

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- contender.Serve(context.Background())
	}()

	select {
	case err := <-serveDone:
		if err == nil {
			t.Fatal("Serve() = nil for an occupied address")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after a listen failure")
	}
}

func TestHTTPServerPanicsOnMissingConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	tests := []struct {
		name   string
		config HTTPServerConfig
	}{
		{name: "missing_address", config: HTTPServerConfig{Handler: handler, Logger: logger}},
		{name: "missing_handler", config: HTTPServerConfig{Address: ":0", Logger: logger}},
		{name: "missing_logger", config: HTTPServerConfig{Address: ":0", Handler: handler}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("NewHTTPServer did not panic")
				}
			}()
			NewHTTPServer(tt.config)
		})
	}
}
