// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agent_execution

import (
	"github.com/go-a2a/agentcore"
)

// RequestContext carries the caller identity of one request into the event
// loop. MCPServers is filled in by the executor once the agent is known.
type RequestContext struct {
	UserID    agentcore.UserID
	SessionID agentcore.SessionID
	TraceID   agentcore.TraceID
	AgentName string

	MCPServers []string
}

// NewRequestContext returns a request context for user. A missing trace id
// is minted.
func NewRequestContext(user agentcore.UserID, session agentcore.SessionID, trace agentcore.TraceID) *RequestContext {
	if trace == "" {
		trace = agentcore.NewTraceID()
	}
	return &RequestContext{UserID: user, SessionID: session, TraceID: trace}
}

// Validate checks that the caller is identified.
func (rc *RequestContext) Validate() error {
	if rc == nil {
		return agentcore.NewValidationError("request_context", "missing request context")
	}
	if err := rc.UserID.Validate(); err != nil {
		return err
	}
	if rc.SessionID != "" {
		if err := rc.SessionID.Validate(); err != nil {
			return err
		}
	}
	return nil
}
