// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agentcore

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// MaxIDLength is the longest identifier accepted from a caller.
const MaxIDLength = 255

// TaskID identifies a durable unit of agent work.
type TaskID string

// ContextID identifies a conversation thread grouping tasks and messages.
type ContextID string

// SessionID identifies a caller session.
type SessionID string

// MessageID identifies a single message.
type MessageID string

// UserID identifies the caller that owns a context.
type UserID string

// TraceID correlates a request across services.
type TraceID string

// AiToolCallID is the provider-assigned id of a tool call.
type AiToolCallID string

// McpExecutionID identifies one MCP tool execution row.
type McpExecutionID string

// SkillID identifies an agent skill.
type SkillID string

// ClientID identifies an OAuth client.
type ClientID string

// RefreshTokenID identifies an OAuth refresh token.
type RefreshTokenID string

// ArtifactID identifies an artifact produced by a task.
type ArtifactID string

// ConfigID identifies a push-notification configuration within a task.
type ConfigID string

// RequestID identifies one inbound request; always a UUID.
type RequestID string

// NewTaskID mints a fresh [TaskID].
func NewTaskID() TaskID { return TaskID(uuid.NewString()) }

// NewContextID mints a fresh [ContextID].
func NewContextID() ContextID { return ContextID(uuid.NewString()) }

// NewMessageID mints a fresh [MessageID].
func NewMessageID() MessageID { return MessageID(uuid.NewString()) }

// NewArtifactID mints a fresh [ArtifactID].
func NewArtifactID() ArtifactID { return ArtifactID(uuid.NewString()) }

// NewSessionID mints a fresh [SessionID].
func NewSessionID() SessionID { return SessionID("sess_" + uuid.NewString()) }

// NewTraceID mints a fresh [TraceID].
func NewTraceID() TraceID { return TraceID(strings.ReplaceAll(uuid.NewString(), "-", "")) }

// NewRequestID mints a fresh [RequestID].
func NewRequestID() RequestID { return RequestID(uuid.NewString()) }

// NewConfigID mints a time-sortable [ConfigID].
func NewConfigID() ConfigID { return ConfigID(ksuid.New().String()) }

// NewMcpExecutionID mints a time-sortable [McpExecutionID].
func NewMcpExecutionID() McpExecutionID { return McpExecutionID(ksuid.New().String()) }

func (id TaskID) String() string         { return string(id) }
func (id ContextID) String() string      { return string(id) }
func (id SessionID) String() string      { return string(id) }
func (id MessageID) String() string      { return string(id) }
func (id UserID) String() string         { return string(id) }
func (id TraceID) String() string        { return string(id) }
func (id AiToolCallID) String() string   { return string(id) }
func (id McpExecutionID) String() string { return string(id) }
func (id SkillID) String() string        { return string(id) }
func (id ClientID) String() string       { return string(id) }
func (id RefreshTokenID) String() string { return string(id) }
func (id ArtifactID) String() string     { return string(id) }
func (id ConfigID) String() string       { return string(id) }
func (id RequestID) String() string      { return string(id) }

// Validate reports whether id is a usable task id.
func (id TaskID) Validate() error { return validateOpaque("task_id", string(id)) }

// Validate reports whether id is a usable context id.
func (id ContextID) Validate() error { return validateOpaque("context_id", string(id)) }

// Validate reports whether id is a usable session id.
func (id SessionID) Validate() error { return validateOpaque("session_id", string(id)) }

// Validate reports whether id is a usable message id.
func (id MessageID) Validate() error { return validateOpaque("message_id", string(id)) }

// Validate reports whether id is a usable user id.
func (id UserID) Validate() error { return validateOpaque("user_id", string(id)) }

// Validate reports whether id is a usable trace id.
func (id TraceID) Validate() error { return validateOpaque("trace_id", string(id)) }

// Validate reports whether id is a usable tool call id.
func (id AiToolCallID) Validate() error { return validateOpaque("ai_tool_call_id", string(id)) }

// Validate reports whether id is a usable execution id.
func (id McpExecutionID) Validate() error { return validateOpaque("mcp_execution_id", string(id)) }

// Validate reports whether id is a usable artifact id.
func (id ArtifactID) Validate() error { return validateOpaque("artifact_id", string(id)) }

// Validate reports whether id is a usable config id.
func (id ConfigID) Validate() error { return validateOpaque("config_id", string(id)) }

// Validate reports whether id is a usable client id.
func (id ClientID) Validate() error { return validateOpaque("client_id", string(id)) }

// Validate reports whether id is a usable refresh token id.
func (id RefreshTokenID) Validate() error { return validateOpaque("refresh_token_id", string(id)) }

// Validate reports whether id is a usable skill id. Skill ids are
// lower-case slugs.
func (id SkillID) Validate() error {
	if err := validateOpaque("skill_id", string(id)); err != nil {
		return err
	}
	for _, r := range string(id) {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '-' && r != '_' {
			return NewValidationError("skill_id", fmt.Sprintf("invalid character %q", r))
		}
	}
	return nil
}

// Validate reports whether id is a UUID.
func (id RequestID) Validate() error {
	if id == "" {
		return NewValidationError("request_id", "must not be empty")
	}
	if _, err := uuid.Parse(string(id)); err != nil {
		return NewValidationError("request_id", "must be a UUID")
	}
	return nil
}

// ParseTaskID validates s and returns it as a [TaskID].
func ParseTaskID(s string) (TaskID, error) {
	id := TaskID(strings.TrimSpace(s))
	return id, id.Validate()
}

// ParseContextID validates s and returns it as a [ContextID].
func ParseContextID(s string) (ContextID, error) {
	id := ContextID(strings.TrimSpace(s))
	return id, id.Validate()
}

// ParseRequestID validates s and returns it as a [RequestID].
func ParseRequestID(s string) (RequestID, error) {
	id := RequestID(strings.TrimSpace(s))
	return id, id.Validate()
}

func validateOpaque(field, s string) error {
	if s == "" {
		return NewValidationError(field, "must not be empty")
	}
	if len(s) > MaxIDLength {
		return NewValidationError(field, fmt.Sprintf("longer than %d bytes", MaxIDLength))
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return NewValidationError(field, "must not contain whitespace or control characters")
		}
	}
	return nil
}
