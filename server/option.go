// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/go-a2a/agentcore"
)

// Option represents an option for configuring the [Server].
type Option func(*Server)

// WithLogger sets the [*slog.Logger] for the [Server].
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer sets the [trace.Tracer] for the [Server].
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) {
		s.tracer = tracer
	}
}

// WithCallContextBuilder replaces the [HTTPCallContextBuilder].
func WithCallContextBuilder(b CallContextBuilder) Option {
	return func(s *Server) {
		if b != nil {
			s.builder = b
		}
	}
}

// WithOrganization names the organization that runs the agents. It is
// published as the provider of every agent card.
func WithOrganization(name, url string) Option {
	return func(s *Server) {
		if name == "" {
			s.org = nil
			return
		}
		s.org = &agentcore.AgentProvider{Organization: name, URL: url}
	}
}
