// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/go-a2a/agentcore"
)

// JSONColumn stores T as a JSON document.
type JSONColumn[T any] struct {
	Data T
}

// NewJSONColumn wraps v.
func NewJSONColumn[T any](v T) JSONColumn[T] { return JSONColumn[T]{Data: v} }

// Value implements [driver.Valuer].
func (c JSONColumn[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(c.Data)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements [sql.Scanner].
func (c *JSONColumn[T]) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		var zero T
		c.Data = zero
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONColumn", value)
	}
	return json.Unmarshal(b, &c.Data)
}

// GormDBDataType picks jsonb on Postgres and text elsewhere.
func (JSONColumn[T]) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "jsonb"
	}
	return "text"
}

// TaskModel is a row of agent_tasks.
type TaskModel struct {
	TaskID          string                         `gorm:"column:task_id;primaryKey;size:255"`
	ContextID       string                         `gorm:"column:context_id;size:255;not null;index"`
	State           string                         `gorm:"column:state;size:32;not null;index"`
	StateTimestamp  time.Time                      `gorm:"column:state_timestamp;not null"`
	StatusMessage   JSONColumn[*agentcore.Message] `gorm:"column:status_message"`
	UserID          string                         `gorm:"column:user_id;size:255;index"`
	SessionID       string                         `gorm:"column:session_id;size:255"`
	TraceID         string                         `gorm:"column:trace_id;size:255"`
	AgentName       string                         `gorm:"column:agent_name;size:255;index"`
	StartedAt       *time.Time                     `gorm:"column:started_at"`
	CompletedAt     *time.Time                     `gorm:"column:completed_at"`
	ExecutionTimeMs *int64                         `gorm:"column:execution_time_ms"`
	ErrorMessage    string                         `gorm:"column:error_message;type:text"`
	Metadata        JSONColumn[map[string]any]     `gorm:"column:metadata"`
	Version         int64                          `gorm:"column:version;not null;default:0"`
	CreatedAt       time.Time                      `gorm:"column:created_at"`
	UpdatedAt       time.Time                      `gorm:"column:updated_at;index"`
}

// TableName implements [schema.Tabler].
func (TaskModel) TableName() string { return "agent_tasks" }

// BeforeCreate validates the row before insertion.
func (m *TaskModel) BeforeCreate(*gorm.DB) error {
	if err := agentcore.TaskID(m.TaskID).Validate(); err != nil {
		return err
	}
	if err := agentcore.ContextID(m.ContextID).Validate(); err != nil {
		return err
	}
	_, err := agentcore.ParseTaskState(m.State)
	return err
}

func newTaskModel(t *agentcore.Task) *TaskModel {
	return &TaskModel{
		TaskID:          string(t.ID),
		ContextID:       string(t.ContextID),
		State:           string(t.Status.State.Normalize()),
		StateTimestamp:  t.Status.Timestamp,
		StatusMessage:   NewJSONColumn(t.Status.Message),
		UserID:          string(t.UserID),
		SessionID:       string(t.SessionID),
		TraceID:         string(t.TraceID),
		AgentName:       t.AgentName,
		StartedAt:       t.StartedAt,
		CompletedAt:     t.CompletedAt,
		ExecutionTimeMs: t.ExecutionTimeMs,
		ErrorMessage:    t.ErrorMessage,
		Metadata:        NewJSONColumn(t.Metadata),
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.CreatedAt,
	}
}

// ToTask converts the row into a task without history or artifacts.
func (m *TaskModel) ToTask() (*agentcore.Task, error) {
	state, err := agentcore.ParseTaskState(m.State)
	if err != nil {
		return nil, err
	}
	return &agentcore.Task{
		ID:        agentcore.TaskID(m.TaskID),
		ContextID: agentcore.ContextID(m.ContextID),
		Kind:      agentcore.KindTask,
		Status: agentcore.TaskStatus{
			State:     state,
			Message:   m.StatusMessage.Data,
			Timestamp: m.StateTimestamp,
		},
		Metadata:        m.Metadata.Data,
		UserID:          agentcore.UserID(m.UserID),
		SessionID:       agentcore.SessionID(m.SessionID),
		TraceID:         agentcore.TraceID(m.TraceID),
		AgentName:       m.AgentName,
		CreatedAt:       m.CreatedAt,
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
		ExecutionTimeMs: m.ExecutionTimeMs,
		ErrorMessage:    m.ErrorMessage,
	}, nil
}

// MessageModel is a row of task_messages. ClientMessageID is NULL for
// messages without a retry key, so only keyed messages take part in the
// unique (context_id, client_message_id) index.
type MessageModel struct {
	MessageID        string                     `gorm:"column:message_id;primaryKey;size:255"`
	TaskID           string                     `gorm:"column:task_id;size:255;not null;uniqueIndex:idx_task_messages_seq"`
	ContextID        string                     `gorm:"column:context_id;size:255;not null;uniqueIndex:idx_task_messages_client"`
	SequenceNumber   int                        `gorm:"column:sequence_number;not null;uniqueIndex:idx_task_messages_seq"`
	Role             string                     `gorm:"column:role;size:16;not null"`
	ClientMessageID  *string                    `gorm:"column:client_message_id;size:255;uniqueIndex:idx_task_messages_client"`
	ReferenceTaskIDs JSONColumn[[]string]       `gorm:"column:reference_task_ids"`
	Metadata         JSONColumn[map[string]any] `gorm:"column:metadata"`
	CreatedAt        time.Time                  `gorm:"column:created_at;index"`
}

// TableName implements [schema.Tabler].
func (MessageModel) TableName() string { return "task_messages" }

// PartModel holds the columns shared by message_parts and artifact_parts.
type PartModel struct {
	ID             uint                       `gorm:"column:id;primaryKey;autoIncrement"`
	SequenceNumber int                        `gorm:"column:sequence_number;not null"`
	Kind           string                     `gorm:"column:part_kind;size:16;not null"`
	TextContent    *string                    `gorm:"column:text_content;type:text"`
	FileName       string                     `gorm:"column:file_name"`
	FileMimeType   string                     `gorm:"column:file_mime_type"`
	FileURI        string                     `gorm:"column:file_uri"`
	FileBytes      []byte                     `gorm:"column:file_bytes"`
	DataContent    JSONColumn[map[string]any] `gorm:"column:data_content"`
	Metadata       JSONColumn[map[string]any] `gorm:"column:metadata"`
}

// MessagePartModel is a row of message_parts.
type MessagePartModel struct {
	PartModel
	MessageID string `gorm:"column:message_id;size:255;not null;index"`
}

// TableName implements [schema.Tabler].
func (MessagePartModel) TableName() string { return "message_parts" }

// ArtifactPartModel is a row of artifact_parts.
type ArtifactPartModel struct {
	PartModel
	ArtifactID string `gorm:"column:artifact_id;size:255;not null;index"`
}

// TableName implements [schema.Tabler].
func (ArtifactPartModel) TableName() string { return "artifact_parts" }

// BeforeSave rejects data parts that do not carry an object.
func (m *PartModel) BeforeSave(*gorm.DB) error {
	if agentcore.PartKind(m.Kind) == agentcore.PartKindData && m.DataContent.Data == nil {
		return agentcore.NewValidationError("data_content", "data part must carry a JSON object")
	}
	return nil
}

func newPartModel(seq int, p agentcore.Part) PartModel {
	m := PartModel{
		SequenceNumber: seq,
		Kind:           string(p.Kind),
		Metadata:       NewJSONColumn(p.Metadata),
	}
	switch p.Kind {
	case agentcore.PartKindText:
		text := p.Text
		m.TextContent = &text
	case agentcore.PartKindFile:
		m.FileName = p.File.Name
		m.FileMimeType = p.File.MimeType
		m.FileURI = p.File.URI
		m.FileBytes = p.File.Bytes
	case agentcore.PartKindData:
		m.DataContent = NewJSONColumn(p.Data)
	}
	return m
}

func (m *PartModel) toPart() agentcore.Part {
	p := agentcore.Part{Kind: agentcore.PartKind(m.Kind), Metadata: m.Metadata.Data}
	switch p.Kind {
	case agentcore.PartKindText:
		if m.TextContent != nil {
			p.Text = *m.TextContent
		}
	case agentcore.PartKindFile:
		p.File = &agentcore.FileContent{
			Name:     m.FileName,
			MimeType: m.FileMimeType,
			URI:      m.FileURI,
			Bytes:    m.FileBytes,
		}
	case agentcore.PartKindData:
		p.Data = m.DataContent.Data
	}
	return p
}

// ArtifactModel is a row of artifacts.
type ArtifactModel struct {
	ArtifactID     string    `gorm:"column:artifact_id;primaryKey;size:255"`
	TaskID         string    `gorm:"column:task_id;size:255;not null;index"`
	ContextID      string    `gorm:"column:context_id;size:255;not null;index"`
	SequenceNumber int       `gorm:"column:sequence_number;not null"`
	Name           string    `gorm:"column:name"`
	Description    string    `gorm:"column:description;type:text"`
	ArtifactType   string    `gorm:"column:artifact_type;size:16;not null"`
	ExecutionID    string    `gorm:"column:execution_id;size:255"`
	SkillID        string    `gorm:"column:skill_id;size:255"`
	SkillName      string    `gorm:"column:skill_name"`
	AgentName      string    `gorm:"column:agent_name;size:255"`
	ToolName       string    `gorm:"column:tool_name"`
	RequestID      string    `gorm:"column:request_id;size:64"`
	TraceID        string    `gorm:"column:trace_id;size:255"`
	SessionID      string    `gorm:"column:session_id;size:255"`
	UserID         string    `gorm:"column:user_id;size:255"`
	Timestamp      time.Time `gorm:"column:artifact_timestamp"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName implements [schema.Tabler].
func (ArtifactModel) TableName() string { return "artifacts" }

// PushNotificationConfigModel is a row of task_push_notification_configs.
type PushNotificationConfigModel struct {
	TaskID         string                                    `gorm:"column:task_id;primaryKey;size:255"`
	ConfigID       string                                    `gorm:"column:config_id;primaryKey;size:64"`
	URL            string                                    `gorm:"column:url;not null"`
	Endpoint       string                                    `gorm:"column:endpoint"`
	Token          string                                    `gorm:"column:token"`
	Headers        JSONColumn[map[string]string]             `gorm:"column:headers"`
	Authentication JSONColumn[*agentcore.AuthenticationInfo] `gorm:"column:authentication"`
	CreatedAt      time.Time                                 `gorm:"column:created_at"`
}

// TableName implements [schema.Tabler].
func (PushNotificationConfigModel) TableName() string { return "task_push_notification_configs" }

func (m *PushNotificationConfigModel) toConfig() *agentcore.PushNotificationConfig {
	return &agentcore.PushNotificationConfig{
		ID:             agentcore.ConfigID(m.ConfigID),
		URL:            m.URL,
		Endpoint:       m.Endpoint,
		Token:          m.Token,
		Headers:        m.Headers.Data,
		Authentication: m.Authentication.Data,
	}
}

// ContextAgentModel is a row of context_agents.
type ContextAgentModel struct {
	ContextID string    `gorm:"column:context_id;primaryKey;size:255"`
	AgentName string    `gorm:"column:agent_name;primaryKey;size:255"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName implements [schema.Tabler].
func (ContextAgentModel) TableName() string { return "context_agents" }

// UserContextModel is a row of user_contexts.
type UserContextModel struct {
	ContextID string    `gorm:"column:context_id;primaryKey;size:255"`
	UserID    string    `gorm:"column:user_id;size:255;not null;index"`
	Name      string    `gorm:"column:name"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;index"`
}

// TableName implements [schema.Tabler].
func (UserContextModel) TableName() string { return "user_contexts" }

// AiRequestModel is a row of ai_requests.
type AiRequestModel struct {
	RequestID           string    `gorm:"column:request_id;primaryKey;size:64"`
	TaskID              string    `gorm:"column:task_id;size:255;index"`
	ContextID           string    `gorm:"column:context_id;size:255"`
	UserID              string    `gorm:"column:user_id;size:255"`
	SessionID           string    `gorm:"column:session_id;size:255"`
	TraceID             string    `gorm:"column:trace_id;size:255"`
	AgentName           string    `gorm:"column:agent_name;size:255"`
	Provider            string    `gorm:"column:provider;size:32;not null"`
	Model               string    `gorm:"column:model;size:128;not null"`
	FinishReason        string    `gorm:"column:finish_reason;size:64"`
	InputTokens         int       `gorm:"column:input_tokens"`
	OutputTokens        int       `gorm:"column:output_tokens"`
	TotalTokens         int       `gorm:"column:total_tokens"`
	CacheHit            bool      `gorm:"column:cache_hit"`
	CacheReadTokens     int       `gorm:"column:cache_read_tokens"`
	CacheCreationTokens int       `gorm:"column:cache_creation_tokens"`
	IsStreaming         bool      `gorm:"column:is_streaming"`
	LatencyMs           int64     `gorm:"column:latency_ms"`
	CostMicros          int64     `gorm:"column:cost_micros"`
	Status              string    `gorm:"column:status;size:16"`
	ErrorMessage        string    `gorm:"column:error_message;type:text"`
	CreatedAt           time.Time `gorm:"column:created_at"`
}

// TableName implements [schema.Tabler].
func (AiRequestModel) TableName() string { return "ai_requests" }

// McpToolExecutionModel is a row of mcp_tool_executions.
type McpToolExecutionModel struct {
	ExecutionID  string                                `gorm:"column:execution_id;primaryKey;size:64"`
	TaskID       string                                `gorm:"column:task_id;size:255;index"`
	ContextID    string                                `gorm:"column:context_id;size:255"`
	AiToolCallID string                                `gorm:"column:ai_tool_call_id;size:255"`
	ServerName   string                                `gorm:"column:server_name;size:255;not null"`
	ToolName     string                                `gorm:"column:tool_name;size:255;not null"`
	Arguments    JSONColumn[map[string]any]            `gorm:"column:arguments"`
	Result       JSONColumn[*agentcore.CallToolResult] `gorm:"column:result"`
	IsError      bool                                  `gorm:"column:is_error"`
	Status       string                                `gorm:"column:status;size:16;not null"`
	ErrorMessage string                                `gorm:"column:error_message;type:text"`
	StartedAt    time.Time                             `gorm:"column:started_at"`
	CompletedAt  *time.Time                            `gorm:"column:completed_at"`
	DurationMs   int64                                 `gorm:"column:duration_ms"`
}

// TableName implements [schema.Tabler].
func (McpToolExecutionModel) TableName() string { return "mcp_tool_executions" }

// AiRequestMcpLinkModel is a row of ai_request_mcp_links.
type AiRequestMcpLinkModel struct {
	RequestID   string    `gorm:"column:request_id;primaryKey;size:64"`
	ExecutionID string    `gorm:"column:execution_id;primaryKey;size:64"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

// TableName implements [schema.Tabler].
func (AiRequestMcpLinkModel) TableName() string { return "ai_request_mcp_links" }

// SessionModel is a row of user_sessions.
type SessionModel struct {
	SessionID   string    `gorm:"column:session_id;primaryKey;size:255"`
	UserID      string    `gorm:"column:user_id;size:255;index"`
	Fingerprint string    `gorm:"column:fingerprint;size:64;index"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

// TableName implements [schema.Tabler].
func (SessionModel) TableName() string { return "user_sessions" }

// allModels lists every table owned by the store, in migration order.
func allModels() []any {
	return []any{
		&UserContextModel{},
		&ContextAgentModel{},
		&TaskModel{},
		&MessageModel{},
		&MessagePartModel{},
		&ArtifactModel{},
		&ArtifactPartModel{},
		&PushNotificationConfigModel{},
		&AiRequestModel{},
		&McpToolExecutionModel{},
		&AiRequestMcpLinkModel{},
		&SessionModel{},
	}
}
