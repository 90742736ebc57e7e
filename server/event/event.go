// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the typed events of a task stream and the channels
// that carry them: the per-request [Queue], the per-session [Broadcaster]
// and the duplicate-submission [ReplayCache].
package event

import (
	"fmt"
	"time"

	"github.com/go-a2a/agentcore"
)

// Type names an event variant on the wire.
type Type string

const (
	TypeTaskCreated       Type = "task.created"
	TypeTaskStatusChanged Type = "task.status_changed"
	TypeTaskCanceled      Type = "task.canceled"
	TypeMessageDelta      Type = "message.delta"
	TypeMessageComplete   Type = "message.complete"
	TypeToolCallStart     Type = "tool_call.start"
	TypeToolCallArgsDelta Type = "tool_call.args_delta"
	TypeToolCallEnd       Type = "tool_call.end"
	TypeToolCallResult    Type = "tool_call.result"
	TypeArtifact          Type = "artifact"
	TypeRunFinished       Type = "run.finished"
	TypeRunError          Type = "run.error"
)

// IsTerminal reports whether t ends a task stream.
func (t Type) IsTerminal() bool {
	switch t {
	case TypeRunFinished, TypeRunError, TypeTaskCanceled:
		return true
	}
	return false
}

// Payload is the variant-specific body of an [Event].
type Payload interface {
	EventType() Type
}

// Event is one frame of a task stream. Ordinal is assigned by the [Queue]
// and increases by one per event of a stream.
type Event struct {
	Type      Type                `json:"type"`
	Ordinal   int64               `json:"ordinal"`
	TaskID    agentcore.TaskID    `json:"taskId"`
	ContextID agentcore.ContextID `json:"contextId"`
	Timestamp time.Time           `json:"timestamp"`
	Data      Payload             `json:"data"`
}

// New wraps p for the given task.
func New(taskID agentcore.TaskID, contextID agentcore.ContextID, p Payload) Event {
	return Event{
		Type:      p.EventType(),
		TaskID:    taskID,
		ContextID: contextID,
		Timestamp: time.Now().UTC(),
		Data:      p,
	}
}

// String returns a short description of e.
func (e Event) String() string {
	return fmt.Sprintf("Event{#%d %s task=%s}", e.Ordinal, e.Type, e.TaskID)
}

// TaskCreated announces a freshly persisted task.
type TaskCreated struct {
	Task *agentcore.Task `json:"task"`
}

// StatusChanged reports a persisted state transition.
type StatusChanged struct {
	Status agentcore.TaskStatus `json:"status"`
	Final  bool                 `json:"final"`
}

// TaskCanceled ends a stream whose task was canceled.
type TaskCanceled struct {
	Status agentcore.TaskStatus `json:"status"`
}

// MessageDelta carries partial assistant text.
type MessageDelta struct {
	MessageID agentcore.MessageID `json:"messageId"`
	Delta     string              `json:"delta"`
}

// MessageComplete carries a persisted message.
type MessageComplete struct {
	Message *agentcore.Message `json:"message"`
}

// ToolCallStart announces a tool call as soon as the model names it.
type ToolCallStart struct {
	ToolCallID  agentcore.AiToolCallID `json:"toolCallId"`
	ToolName    string                 `json:"toolName"`
	PartialArgs string                 `json:"partialArgs,omitempty"`
}

// ToolCallArgsDelta carries a fragment of streamed tool arguments.
type ToolCallArgsDelta struct {
	ToolCallID agentcore.AiToolCallID `json:"toolCallId"`
	Fragment   string                 `json:"fragment"`
}

// ToolCallEnd carries the complete arguments of a tool call.
type ToolCallEnd struct {
	ToolCallID agentcore.AiToolCallID `json:"toolCallId"`
	ToolName   string                 `json:"toolName"`
	Arguments  map[string]any         `json:"arguments"`
}

// ToolCallResult carries the outcome of a tool call.
type ToolCallResult struct {
	ToolCallID  agentcore.AiToolCallID    `json:"toolCallId"`
	ToolName    string                    `json:"toolName,omitempty"`
	ExecutionID agentcore.McpExecutionID  `json:"executionId,omitempty"`
	Result      *agentcore.CallToolResult `json:"result"`
}

// ArtifactProduced carries a persisted artifact.
type ArtifactProduced struct {
	Artifact *agentcore.Artifact `json:"artifact"`
}

// RunFinished ends a successful stream.
type RunFinished struct {
	Task  *agentcore.Task  `json:"task"`
	Usage *agentcore.Usage `json:"usage,omitempty"`
}

// RunError ends a failed stream.
type RunError struct {
	Kind    string `json:"kind"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewRunError classifies err for the wire.
func NewRunError(err error) RunError {
	kind := agentcore.KindOf(err)
	return RunError{Kind: kind.String(), Code: kind.RPCCode(), Message: agentcore.PublicMessage(err)}
}

func (TaskCreated) EventType() Type       { return TypeTaskCreated }
func (StatusChanged) EventType() Type     { return TypeTaskStatusChanged }
func (TaskCanceled) EventType() Type      { return TypeTaskCanceled }
func (MessageDelta) EventType() Type      { return TypeMessageDelta }
func (MessageComplete) EventType() Type   { return TypeMessageComplete }
func (ToolCallStart) EventType() Type     { return TypeToolCallStart }
func (ToolCallArgsDelta) EventType() Type { return TypeToolCallArgsDelta }
func (ToolCallEnd) EventType() Type       { return TypeToolCallEnd }
func (ToolCallResult) EventType() Type    { return TypeToolCallResult }
func (ArtifactProduced) EventType() Type  { return TypeArtifact }
func (RunFinished) EventType() Type       { return TypeRunFinished }
func (RunError) EventType() Type          { return TypeRunError }
