// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package observability holds the Prometheus recorders of the core.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agentcore"

// Metrics records counters and latencies. A nil *Metrics is a no-op.
type Metrics struct {
	eventsEmitted    *prometheus.CounterVec
	tasksFinished    *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	providerTokens   *prometheus.CounterVec
	mcpCalls         *prometheus.CounterVec
	mcpLatency       *prometheus.HistogramVec
	webhookDelivered *prometheus.CounterVec
	rateLimited      prometheus.Counter
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the recorder registered with the default registry.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New builds a recorder registered with reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		eventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Events written to task streams, by type.",
		}, []string{"type"}),
		tasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "finished_total",
			Help:      "Tasks that reached a terminal state, by agent and state.",
		}, []string{"agent", "state"}),
		providerRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Model provider requests, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Model provider request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider"}),
		providerTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "tokens_total",
			Help:      "Tokens reported by providers, by direction.",
		}, []string{"provider", "direction"}),
		mcpCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mcp",
			Name:      "calls_total",
			Help:      "MCP tool calls, by server and outcome.",
		}, []string{"server", "outcome"}),
		mcpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mcp",
			Name:      "call_duration_seconds",
			Help:      "MCP tool call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server"}),
		webhookDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Push notification deliveries, by outcome.",
		}, []string{"outcome"}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests refused by the per-user rate limiter.",
		}),
	}
}

// EventEmitted counts one stream event.
func (m *Metrics) EventEmitted(eventType string) {
	if m == nil {
		return
	}
	m.eventsEmitted.WithLabelValues(eventType).Inc()
}

// TaskFinished counts a terminal transition.
func (m *Metrics) TaskFinished(agent, state string) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(agent, state).Inc()
}

// ProviderRequest records one provider call.
func (m *Metrics) ProviderRequest(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.providerRequests.WithLabelValues(provider, outcome).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// ProviderTokens adds reported token usage.
func (m *Metrics) ProviderTokens(provider string, input, output int) {
	if m == nil {
		return
	}
	m.providerTokens.WithLabelValues(provider, "input").Add(float64(input))
	m.providerTokens.WithLabelValues(provider, "output").Add(float64(output))
}

// MCPCall records one tool call.
func (m *Metrics) MCPCall(server string, d time.Duration, isError bool, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case isError:
		outcome = "tool_error"
	}
	m.mcpCalls.WithLabelValues(server, outcome).Inc()
	m.mcpLatency.WithLabelValues(server).Observe(d.Seconds())
}

// WebhookDelivered records a push notification outcome.
func (m *Metrics) WebhookDelivered(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.webhookDelivered.WithLabelValues("success").Inc()
		return
	}
	m.webhookDelivered.WithLabelValues("failure").Inc()
}

// RateLimited counts a refused request.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
