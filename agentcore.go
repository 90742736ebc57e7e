// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentcore holds the protocol types shared by the agent execution
// core: typed identifiers, the task state machine, messages, parts,
// artifacts, push-notification configs, tool calls and the error taxonomy.
//
// The runtime lives in subpackages: [github.com/go-a2a/agentcore/server]
// serves the A2A JSON-RPC endpoint, server/agent_execution drives a task
// from the first message to a terminal state, server/task persists it,
// provider talks to model backends, mcp talks to tool servers and
// agent/lifecycle runs agent processes.
package agentcore

// Version is the version reported in agent cards and MCP client info.
const Version = "0.3.0"
