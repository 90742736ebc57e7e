// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package server serves agents over A2A: JSON-RPC 2.0 over HTTP, with
// Server-Sent Events for streamed runs.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/auth"
	"github.com/go-a2a/agentcore/server/agent_execution"
)

// ServerCallContext describes the caller of one A2A request.
type ServerCallContext struct {
	User      auth.User
	SessionID agentcore.SessionID
	TraceID   agentcore.TraceID
	RequestID agentcore.RequestID
	AgentName string
}

// NewServerCallContext returns a call context for user. A nil user is
// treated as anonymous.
func NewServerCallContext(user auth.User, agentName string) *ServerCallContext {
	if user == nil {
		user = auth.UnauthenticatedUser{}
	}
	return &ServerCallContext{User: user, AgentName: agentName}
}

// UserID returns the id the caller's tasks and contexts are owned by.
func (c *ServerCallContext) UserID() agentcore.UserID { return c.User.UserID() }

// RequestContext converts c for the executor.
func (c *ServerCallContext) RequestContext() *agent_execution.RequestContext {
	rc := agent_execution.NewRequestContext(c.UserID(), c.SessionID, c.TraceID)
	rc.AgentName = c.AgentName
	return rc
}

// String returns a short description of c for logs.
func (c *ServerCallContext) String() string {
	return fmt.Sprintf("ServerCallContext{user: %s, authenticated: %t, session: %s, agent: %s}",
		c.UserID(), c.User.IsAuthenticated(), c.SessionID, c.AgentName)
}

// CallContextBuilder builds the call context of an HTTP request. The
// request has already passed authentication.
type CallContextBuilder interface {
	Build(r *http.Request, agentName string) (*ServerCallContext, error)
}

// HTTPCallContextBuilder reads the caller from the request context and its
// correlation ids from headers, and resolves the session.
type HTTPCallContextBuilder struct {
	sessions *SessionResolver
}

var _ CallContextBuilder = (*HTTPCallContextBuilder)(nil)

// NewHTTPCallContextBuilder returns a builder. A nil resolver leaves the
// session empty unless the caller names one.
func NewHTTPCallContextBuilder(sessions *SessionResolver) *HTTPCallContextBuilder {
	return &HTTPCallContextBuilder{sessions: sessions}
}

// Build implements [CallContextBuilder].
func (b *HTTPCallContextBuilder) Build(r *http.Request, agentName string) (*ServerCallContext, error) {
	cc := NewServerCallContext(auth.FromContext(r.Context()), agentName)

	if h := r.Header.Get(agentcore.HeaderTraceID); h != "" {
		id := agentcore.TraceID(h)
		if err := id.Validate(); err != nil {
			return nil, err
		}
		cc.TraceID = id
	} else {
		cc.TraceID = agentcore.NewTraceID()
	}

	if h := r.Header.Get(agentcore.HeaderRequestID); h != "" {
		id, err := agentcore.ParseRequestID(h)
		if err != nil {
			return nil, err
		}
		cc.RequestID = id
	} else {
		cc.RequestID = agentcore.NewRequestID()
	}

	if b.sessions != nil {
		id, err := b.sessions.Resolve(r.Context(), r, cc.UserID())
		if err != nil {
			return nil, err
		}
		cc.SessionID = id
	} else if h := r.Header.Get(agentcore.HeaderSessionID); h != "" {
		id := agentcore.SessionID(h)
		if err := id.Validate(); err != nil {
			return nil, err
		}
		cc.SessionID = id
	}
	return cc, nil
}

type callContextKey struct{}

// WithCallContext returns a copy of ctx carrying cc.
func WithCallContext(ctx context.Context, cc *ServerCallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

// CallContextFrom returns the call context stored in ctx, if any.
func CallContextFrom(ctx context.Context) (*ServerCallContext, bool) {
	cc, ok := ctx.Value(callContextKey{}).(*ServerCallContext)
	return cc, ok
}
