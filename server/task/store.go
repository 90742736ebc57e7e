// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package task persists tasks, messages, artifacts, push-notification
// registrations and request accounting.
package task

import (
	"context"
	"time"

	"github.com/go-a2a/agentcore"
)

// TaskStore persists tasks and their state transitions.
type TaskStore interface {
	// CreateTask inserts a submitted task. It fails if the id is taken.
	CreateTask(ctx context.Context, task *agentcore.Task, user agentcore.UserID, session agentcore.SessionID, trace agentcore.TraceID, agentName string) error
	// UpdateTaskState moves a task to newState at ts, applying entry effects.
	UpdateTaskState(ctx context.Context, taskID agentcore.TaskID, newState agentcore.TaskState, ts time.Time, opts ...UpdateOption) (*agentcore.Task, error)
	// GetTask reconstructs a task with its messages and artifacts.
	GetTask(ctx context.Context, taskID agentcore.TaskID) (*agentcore.Task, error)
	// ListTasksByContext reconstructs every task of a context, oldest first.
	ListTasksByContext(ctx context.Context, contextID agentcore.ContextID) ([]*agentcore.Task, error)
	// TrackAgentInContext records that agentName served contextID. Idempotent.
	TrackAgentInContext(ctx context.Context, contextID agentcore.ContextID, agentName string) error
}

// MessageStore persists messages and their parts.
type MessageStore interface {
	// PersistMessage replaces any message with the same id and writes msg at seq.
	PersistMessage(ctx context.Context, taskID agentcore.TaskID, msg *agentcore.Message, contextID agentcore.ContextID, seq int) error
	// AppendMessage persists msg at the next free sequence number of the task.
	AppendMessage(ctx context.Context, taskID agentcore.TaskID, contextID agentcore.ContextID, msg *agentcore.Message) (int, error)
	ListMessages(ctx context.Context, taskID agentcore.TaskID) ([]*agentcore.Message, error)
	ListContextMessages(ctx context.Context, contextID agentcore.ContextID) ([]*agentcore.Message, error)
	FindByClientMessageID(ctx context.Context, contextID agentcore.ContextID, clientMessageID string) (*agentcore.Message, error)
}

// ArtifactStore persists artifacts. Artifacts are append-only.
type ArtifactStore interface {
	PersistArtifact(ctx context.Context, taskID agentcore.TaskID, contextID agentcore.ContextID, artifact *agentcore.Artifact) error
	ListArtifacts(ctx context.Context, taskID agentcore.TaskID) ([]*agentcore.Artifact, error)
}

// PushNotificationConfigStore is the per-task registry of webhook callbacks.
type PushNotificationConfigStore interface {
	Add(ctx context.Context, taskID agentcore.TaskID, config *agentcore.PushNotificationConfig) (agentcore.ConfigID, error)
	Get(ctx context.Context, taskID agentcore.TaskID, configID agentcore.ConfigID) (*agentcore.PushNotificationConfig, error)
	List(ctx context.Context, taskID agentcore.TaskID) ([]*agentcore.PushNotificationConfig, error)
	Delete(ctx context.Context, taskID agentcore.TaskID, configID agentcore.ConfigID) error
	DeleteAll(ctx context.Context, taskID agentcore.TaskID) error
}

// ContextStore guards context ownership.
type ContextStore interface {
	// ClaimContext creates contextID for user, or verifies that user owns it.
	ClaimContext(ctx context.Context, contextID agentcore.ContextID, user agentcore.UserID) error
	ListContextAgents(ctx context.Context, contextID agentcore.ContextID) ([]string, error)
}

// ExecutionStore records provider requests and MCP tool executions.
type ExecutionStore interface {
	RecordAiRequest(ctx context.Context, rec *AiRequestRecord) error
	StartMcpExecution(ctx context.Context, rec *McpExecutionRecord) (agentcore.McpExecutionID, error)
	FinishMcpExecution(ctx context.Context, id agentcore.McpExecutionID, result *agentcore.CallToolResult, callErr error, completedAt time.Time) error
	LinkMcpExecution(ctx context.Context, requestID agentcore.RequestID, id agentcore.McpExecutionID) error
}

// Store is everything the event loop needs from persistence.
type Store interface {
	TaskStore
	MessageStore
	ArtifactStore
	ContextStore
	ExecutionStore
}

// UpdateOption tunes UpdateTaskState.
type UpdateOption func(*updateOptions)

type updateOptions struct {
	expected      agentcore.TaskState
	errorMessage  string
	statusMessage *agentcore.Message
}

// WithExpectedState makes the update conditional on the current state.
func WithExpectedState(state agentcore.TaskState) UpdateOption {
	return func(o *updateOptions) { o.expected = state.Normalize() }
}

// WithErrorMessage records msg when the target state is failed.
func WithErrorMessage(msg string) UpdateOption {
	return func(o *updateOptions) { o.errorMessage = msg }
}

// WithStatusMessage attaches msg to the new status.
func WithStatusMessage(msg *agentcore.Message) UpdateOption {
	return func(o *updateOptions) { o.statusMessage = msg }
}
