// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/go-a2a/agentcore"
)

// AiRequestRecord describes one provider call.
type AiRequestRecord struct {
	RequestID           agentcore.RequestID
	TaskID              agentcore.TaskID
	ContextID           agentcore.ContextID
	UserID              agentcore.UserID
	SessionID           agentcore.SessionID
	TraceID             agentcore.TraceID
	AgentName           string
	Provider            string
	Model               string
	FinishReason        string
	InputTokens         int
	OutputTokens        int
	TotalTokens         int
	CacheHit            bool
	CacheReadTokens     int
	CacheCreationTokens int
	IsStreaming         bool
	LatencyMs           int64
	Err                 error

	// CostMicros is filled in by RecordAiRequest.
	CostMicros int64
}

// McpExecutionRecord describes a tool call about to be dispatched.
type McpExecutionRecord struct {
	TaskID       agentcore.TaskID
	ContextID    agentcore.ContextID
	AiToolCallID agentcore.AiToolCallID
	ServerName   string
	ToolName     string
	Arguments    map[string]any
}

// Execution statuses.
const (
	ExecutionPending = "pending"
	ExecutionSuccess = "success"
	ExecutionError   = "error"
)

// RecordAiRequest stores rec and its cost, computed from the pricing table.
func (s *DatabaseStore) RecordAiRequest(ctx context.Context, rec *AiRequestRecord) error {
	if err := rec.RequestID.Validate(); err != nil {
		return err
	}
	rec.CostMicros = s.pricing.CostMicros(rec.Provider, rec.Model, rec.InputTokens, rec.OutputTokens, rec.CacheReadTokens)
	status, errMsg := ExecutionSuccess, ""
	if rec.Err != nil {
		status, errMsg = ExecutionError, rec.Err.Error()
	}
	total := rec.TotalTokens
	if total == 0 {
		total = rec.InputTokens + rec.OutputTokens
	}
	row := &AiRequestModel{
		RequestID:           string(rec.RequestID),
		TaskID:              string(rec.TaskID),
		ContextID:           string(rec.ContextID),
		UserID:              string(rec.UserID),
		SessionID:           string(rec.SessionID),
		TraceID:             string(rec.TraceID),
		AgentName:           rec.AgentName,
		Provider:            rec.Provider,
		Model:               rec.Model,
		FinishReason:        rec.FinishReason,
		InputTokens:         rec.InputTokens,
		OutputTokens:        rec.OutputTokens,
		TotalTokens:         total,
		CacheHit:            rec.CacheHit,
		CacheReadTokens:     rec.CacheReadTokens,
		CacheCreationTokens: rec.CacheCreationTokens,
		IsStreaming:         rec.IsStreaming,
		LatencyMs:           rec.LatencyMs,
		CostMicros:          rec.CostMicros,
		Status:              status,
		ErrorMessage:        errMsg,
		CreatedAt:           s.now(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
		return NewTaskStoreError("record_ai_request", rec.TaskID, err)
	}
	return nil
}

// GetAiRequest returns a stored provider call.
func (s *DatabaseStore) GetAiRequest(ctx context.Context, requestID agentcore.RequestID) (*AiRequestModel, error) {
	var row AiRequestModel
	if err := s.db.WithContext(ctx).Where("request_id = ?", requestID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, agentcore.NewNotFoundError("ai request", string(requestID))
		}
		return nil, NewTaskStoreError("get_ai_request", "", err)
	}
	return &row, nil
}

// StartMcpExecution records a pending tool execution and returns its id.
func (s *DatabaseStore) StartMcpExecution(ctx context.Context, rec *McpExecutionRecord) (agentcore.McpExecutionID, error) {
	id := agentcore.NewMcpExecutionID()
	row := &McpToolExecutionModel{
		ExecutionID:  string(id),
		TaskID:       string(rec.TaskID),
		ContextID:    string(rec.ContextID),
		AiToolCallID: string(rec.AiToolCallID),
		ServerName:   rec.ServerName,
		ToolName:     rec.ToolName,
		Arguments:    NewJSONColumn(rec.Arguments),
		Status:       ExecutionPending,
		StartedAt:    s.now(),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return "", NewTaskStoreError("start_mcp_execution", rec.TaskID, err)
	}
	return id, nil
}

// FinishMcpExecution stores the outcome of a tool execution.
func (s *DatabaseStore) FinishMcpExecution(ctx context.Context, id agentcore.McpExecutionID, result *agentcore.CallToolResult, callErr error, completedAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row McpToolExecutionModel
		if err := tx.Where("execution_id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return agentcore.NewNotFoundError("mcp execution", string(id))
			}
			return NewTaskStoreError("finish_mcp_execution", "", err)
		}
		updates := map[string]any{
			"completed_at": completedAt,
			"duration_ms":  completedAt.Sub(row.StartedAt).Milliseconds(),
			"result":       NewJSONColumn(result),
		}
		switch {
		case callErr != nil:
			updates["status"] = ExecutionError
			updates["is_error"] = true
			updates["error_message"] = callErr.Error()
		case result != nil && result.IsError:
			updates["status"] = ExecutionError
			updates["is_error"] = true
			updates["error_message"] = result.Text()
		default:
			updates["status"] = ExecutionSuccess
		}
		if err := tx.Model(&McpToolExecutionModel{}).Where("execution_id = ?", id).Updates(updates).Error; err != nil {
			return NewTaskStoreError("finish_mcp_execution", agentcore.TaskID(row.TaskID), err)
		}
		return nil
	})
}

// LinkMcpExecution ties a tool execution to the provider request that asked
// for it. Idempotent.
func (s *DatabaseStore) LinkMcpExecution(ctx context.Context, requestID agentcore.RequestID, id agentcore.McpExecutionID) error {
	row := &AiRequestMcpLinkModel{RequestID: string(requestID), ExecutionID: string(id), CreatedAt: s.now()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return NewTaskStoreError("link_mcp_execution", "", err)
	}
	return nil
}

// ListMcpExecutions returns the tool executions linked to a provider request.
func (s *DatabaseStore) ListMcpExecutions(ctx context.Context, requestID agentcore.RequestID) ([]McpToolExecutionModel, error) {
	var rows []McpToolExecutionModel
	err := s.db.WithContext(ctx).
		Joins("JOIN ai_request_mcp_links l ON l.execution_id = mcp_tool_executions.execution_id").
		Where("l.request_id = ?", requestID).
		Order("mcp_tool_executions.started_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, NewTaskStoreError("list_mcp_executions", "", err)
	}
	return rows, nil
}
