// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/go-a2a/agentcore"
)

// Option represents an option for configuring the [Client].
type Option func(*Client)

// WithHTTPClient sets the [*http.Client] for the [Client].
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBearerToken sends token in the Authorization header.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.header.Set("Authorization", "Bearer "+token)
	}
}

// WithSessionID pins every request to session.
func WithSessionID(session agentcore.SessionID) Option {
	return func(c *Client) {
		c.header.Set(agentcore.HeaderSessionID, string(session))
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Add(key, value)
	}
}

// WithRetry retries requests rejected with 429 or 503 up to attempts times
// in total, starting at initial and backing off exponentially.
func WithRetry(attempts int, initial time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		if initial > 0 {
			c.backoff = initial
		}
	}
}

// WithLogger sets the [*slog.Logger] for the [Client].
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer sets the [trace.Tracer] for the [Client].
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}
