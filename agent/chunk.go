// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"

	"github.com/go-a2a/agentcore"
)

// Chunk is one item of a processor stream. The concrete types are
// [TextDelta], [ToolCallStarted], [ToolCallArgsDelta], [ToolCallCompleted],
// [ToolResult], [Artifact], [Status], [Error] and [Final].
type Chunk interface {
	isChunk()
}

// TextDelta is partial assistant text.
type TextDelta struct {
	Text string
}

// ToolCallStarted is emitted as soon as the model names a tool.
type ToolCallStarted struct {
	ID          agentcore.AiToolCallID
	ToolName    string
	PartialArgs string
}

// ToolCallArgsDelta is a fragment of streamed tool arguments.
type ToolCallArgsDelta struct {
	ID       agentcore.AiToolCallID
	Fragment string
}

// ToolCallCompleted carries the complete call. ToolName and Arguments are
// the MCP tool and arguments the call resolved to, when it resolved.
type ToolCallCompleted struct {
	ID        agentcore.AiToolCallID
	ToolName  string
	Arguments map[string]any
}

// ToolResult is the outcome of a tool call.
type ToolResult struct {
	ID          agentcore.AiToolCallID
	ToolName    string
	ExecutionID agentcore.McpExecutionID
	Result      *agentcore.CallToolResult
}

// Artifact is an artifact produced from a tool result.
type Artifact struct {
	Artifact *agentcore.Artifact
}

// Status asks for a task state change.
type Status struct {
	State   agentcore.TaskState
	Message *agentcore.Message
}

// Error ends the stream with a failure.
type Error struct {
	Kind agentcore.ErrorKind
	Err  error
}

// Final ends the stream with the assistant's answer.
type Final struct {
	Message *agentcore.Message
	Usage   agentcore.Usage
}

func (TextDelta) isChunk()         {}
func (ToolCallStarted) isChunk()   {}
func (ToolCallArgsDelta) isChunk() {}
func (ToolCallCompleted) isChunk() {}
func (ToolResult) isChunk()        {}
func (Artifact) isChunk()          {}
func (Status) isChunk()            {}
func (Error) isChunk()             {}
func (Final) isChunk()             {}

func newError(err error) Error {
	return Error{Kind: agentcore.KindOf(err), Err: err}
}

func (e Error) String() string {
	return fmt.Sprintf("Error{%s: %v}", e.Kind, e.Err)
}
