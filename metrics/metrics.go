// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines the Prometheus collectors the service
// exports. A nil *Metrics is valid and records nothing, so tests and
// callers that do not care about telemetry can pass nil.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Termination causes, used as the label on the terminations counter.
const (
	CauseUser      = "user"
	CauseReclaimed = "reclaimed"
	CauseSelfHeal  = "self_heal"
)

// Metrics holds the service's collectors, registered against the
// registry passed to New.
type Metrics struct {
	activeSessions prometheus.Gauge
	provisions     *prometheus.CounterVec
	terminations   *prometheus.CounterVec
}

// New registers the collectors with reg and returns the handle.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ttyfarm_active_sessions",
			Help: "Number of currently live sandbox sessions.",
		}),
		provisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ttyfarm_provisions_total",
			Help: "Sandbox provisioning attempts by outcome.",
		}, []string{"outcome"}),
		terminations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ttyfarm_terminations_total",
			Help: "Sandbox terminations by cause.",
		}, []string{"cause"}),
	}
}

// SetActiveSessions records the current live-session count.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// ProvisionResult records one provisioning attempt.
func (m *Metrics) ProvisionResult(outcome string) {
	if m == nil {
		return
	}
	m.provisions.WithLabelValues(outcome).Inc()
}

// Termination records one session teardown.
func (m *Metrics) Termination(cause string) {
	if m == nil {
		return
	}
	m.terminations.WithLabelValues(cause).Inc()
}
