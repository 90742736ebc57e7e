// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agentcore

// HTTP surface.
const (
	// AgentsBasePath prefixes every agent endpoint.
	AgentsBasePath = "/api/v1/agents"

	// AgentCardWellKnownPath is served under each agent's base path.
	AgentCardWellKnownPath = "/.well-known/agent-card.json"

	// WebhookUserAgent is sent with every push notification.
	WebhookUserAgent = "SystemPrompt-Webhook/1.0"

	// WebhookSignatureHeader carries the HMAC-SHA256 of the payload.
	WebhookSignatureHeader = "X-Webhook-Signature"
)

// Request headers read from callers.
const (
	HeaderTraceID   = "X-Trace-ID"
	HeaderSessionID = "X-Session-ID"
	HeaderRequestID = "X-Request-ID"
)
