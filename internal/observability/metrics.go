// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics are the auth server's Prometheus collectors.
type Metrics struct {
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	AuthOperations  *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
	TokenPairsPurge prometheus.Counter
}

// NewRegistry returns a registry holding the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// NewMetrics creates the auth metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexora_http_requests_total",
				Help: "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexora_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		AuthOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexora_auth_operations_total",
				Help: "Auth operations by name and outcome code",
			},
			[]string{"operation", "outcome"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexora_rate_limited_total",
				Help: "Requests rejected by the rate limiter, by route",
			},
			[]string{"route"},
		),
		TokenPairsPurge: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nexora_token_pairs_purged_total",
				Help: "Expired token pairs removed by the janitor",
			},
		),
	}
	reg.MustRegister(m.HTTPRequests, m.HTTPDuration, m.AuthOperations, m.RateLimited, m.TokenPairsPurge)
	return m
}

// RecordOperation counts one auth operation. An empty outcome means success.
func (m *Metrics) RecordOperation(operation, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.AuthOperations.WithLabelValues(operation, outcome).Inc()
}
