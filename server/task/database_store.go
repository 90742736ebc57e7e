// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/go-a2a/agentcore"
)

// DatabaseStore is the gorm implementation of every store in this package.
type DatabaseStore struct {
	db      *gorm.DB
	logger  *slog.Logger
	tracer  trace.Tracer
	pricing PricingTable
	now     func() time.Time
}

var (
	_ Store                       = (*DatabaseStore)(nil)
	_ PushNotificationConfigStore = (*DatabaseStore)(nil)
)

// DatabaseStoreConfig holds configuration for DatabaseStore.
type DatabaseStoreConfig struct {
	DB          *gorm.DB
	AutoMigrate bool // Whether to create the tables if they don't exist
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Pricing     PricingTable     // Optional, defaults to DefaultPricing
	Clock       func() time.Time // Optional, defaults to time.Now
}

// NewDatabaseStore creates a new DatabaseStore.
func NewDatabaseStore(ctx context.Context, config DatabaseStoreConfig) (*DatabaseStore, error) {
	if config.DB == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	s := &DatabaseStore{
		db:      config.DB,
		logger:  config.Logger,
		tracer:  config.Tracer,
		pricing: config.Pricing,
		now:     config.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/go-a2a/agentcore/server/task")
	}
	if s.pricing == nil {
		s.pricing = DefaultPricing()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if config.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Migrate creates or extends every table owned by the store. Columns are
// only ever added.
func (s *DatabaseStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return NewTaskStoreError("migrate", "", err)
	}
	return nil
}

// Transaction runs fn with a store bound to a single database transaction.
func (s *DatabaseStore) Transaction(ctx context.Context, fn func(tx *DatabaseStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped := *s
		scoped.db = tx
		return fn(&scoped)
	})
}

// DB returns the underlying connection.
func (s *DatabaseStore) DB() *gorm.DB { return s.db }

// Close closes the connection pool.
func (s *DatabaseStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *DatabaseStore) startSpan(ctx context.Context, op string, taskID agentcore.TaskID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "agentcore.task_store."+op,
		trace.WithAttributes(attribute.String("agentcore.task_id", string(taskID))),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CreateTask inserts a submitted task owned by user.
func (s *DatabaseStore) CreateTask(ctx context.Context, t *agentcore.Task, user agentcore.UserID, session agentcore.SessionID, traceID agentcore.TraceID, agentName string) (err error) {
	if t == nil {
		return agentcore.NewValidationError("task", "task cannot be nil")
	}
	ctx, span := s.startSpan(ctx, "CreateTask", t.ID)
	defer func() { endSpan(span, err) }()

	if err := t.Validate(); err != nil {
		return err
	}
	t.UserID = user
	t.SessionID = session
	t.TraceID = traceID
	t.AgentName = agentName
	if t.Kind == "" {
		t.Kind = agentcore.KindTask
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if t.Status.State == "" {
		t.Status.State = agentcore.TaskStateSubmitted
	}
	if t.Status.Timestamp.IsZero() {
		t.Status.Timestamp = t.CreatedAt
	}
	if t.Status.State.Normalize() != agentcore.TaskStateSubmitted {
		return agentcore.NewValidationError("task.status", "new tasks start submitted")
	}

	model := newTaskModel(t)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&TaskModel{}).Where("task_id = ?", t.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return &DuplicateTaskError{TaskID: t.ID}
		}
		if err := tx.Create(model).Error; err != nil {
			if isUniqueViolation(err) {
				return &DuplicateTaskError{TaskID: t.ID}
			}
			return err
		}
		return nil
	})
	if err != nil {
		var dup *DuplicateTaskError
		if errors.As(err, &dup) {
			return dup
		}
		return NewTaskStoreError("create", t.ID, err)
	}

	s.logger.InfoContext(ctx, "task created",
		slog.String("task_id", string(t.ID)),
		slog.String("context_id", string(t.ContextID)),
		slog.String("agent_name", agentName),
	)
	return nil
}

// UpdateTaskState moves a task to newState. The write is conditional on the
// row version read inside the same transaction; a lost race is reported as
// a [ConcurrentUpdateError].
func (s *DatabaseStore) UpdateTaskState(ctx context.Context, taskID agentcore.TaskID, newState agentcore.TaskState, ts time.Time, opts ...UpdateOption) (out *agentcore.Task, err error) {
	ctx, span := s.startSpan(ctx, "UpdateTaskState", taskID)
	span.SetAttributes(attribute.String("agentcore.task_state", string(newState)))
	defer func() { endSpan(span, err) }()

	var o updateOptions
	for _, opt := range opts {
		opt(&o)
	}
	newState = newState.Normalize()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m TaskModel
		if err := tx.Where("task_id = ?", taskID).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return agentcore.NewNotFoundError("task", string(taskID))
			}
			return err
		}
		t, err := m.ToTask()
		if err != nil {
			return err
		}
		current := t.Status.State
		if o.expected != "" && current != o.expected {
			return &ConcurrentUpdateError{TaskID: taskID}
		}
		if current.IsTerminal() {
			return &TaskNotUpdatableError{TaskID: taskID, State: current, Target: newState}
		}
		if current == newState {
			out = t
			return nil
		}
		if err := t.ApplyState(newState, ts, o.errorMessage); err != nil {
			return err
		}
		if o.statusMessage != nil {
			t.Status.Message = o.statusMessage
		}

		res := tx.Model(&TaskModel{}).
			Where("task_id = ? AND version = ?", taskID, m.Version).
			Updates(map[string]any{
				"state":             string(t.Status.State),
				"state_timestamp":   t.Status.Timestamp,
				"status_message":    NewJSONColumn(t.Status.Message),
				"started_at":        t.StartedAt,
				"completed_at":      t.CompletedAt,
				"execution_time_ms": t.ExecutionTimeMs,
				"error_message":     t.ErrorMessage,
				"version":           m.Version + 1,
				"updated_at":        s.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &ConcurrentUpdateError{TaskID: taskID}
		}
		out = t
		return nil
	})
	if err != nil {
		var ae *agentcore.Error
		switch {
		case errors.As(err, &ae), IsConcurrentUpdate(err):
			return nil, err
		}
		var nu *TaskNotUpdatableError
		if errors.As(err, &nu) {
			return nil, nu
		}
		return nil, NewTaskStoreError("update_state", taskID, err)
	}

	s.logger.DebugContext(ctx, "task state updated",
		slog.String("task_id", string(taskID)),
		slog.String("state", string(out.Status.State)),
	)
	return out, nil
}

// GetTask reconstructs a task with its messages and artifacts.
func (s *DatabaseStore) GetTask(ctx context.Context, taskID agentcore.TaskID) (_ *agentcore.Task, err error) {
	ctx, span := s.startSpan(ctx, "GetTask", taskID)
	defer func() { endSpan(span, err) }()

	var m TaskModel
	if err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, agentcore.NewNotFoundError("task", string(taskID))
		}
		return nil, NewTaskStoreError("get", taskID, err)
	}
	return s.hydrate(ctx, &m)
}

// ListTasksByContext reconstructs every task of a context, oldest first.
func (s *DatabaseStore) ListTasksByContext(ctx context.Context, contextID agentcore.ContextID) ([]*agentcore.Task, error) {
	var models []TaskModel
	if err := s.db.WithContext(ctx).
		Where("context_id = ?", contextID).
		Order("created_at ASC").Order("task_id ASC").
		Find(&models).Error; err != nil {
		return nil, NewTaskStoreError("list_by_context", "", err)
	}
	tasks := make([]*agentcore.Task, 0, len(models))
	for i := range models {
		t, err := s.hydrate(ctx, &models[i])
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *DatabaseStore) hydrate(ctx context.Context, m *TaskModel) (*agentcore.Task, error) {
	t, err := m.ToTask()
	if err != nil {
		return nil, NewTaskStoreError("get", agentcore.TaskID(m.TaskID), err)
	}
	if t.History, err = s.ListMessages(ctx, t.ID); err != nil {
		return nil, err
	}
	if t.Artifacts, err = s.ListArtifacts(ctx, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

// TrackAgentInContext records that agentName served contextID.
func (s *DatabaseStore) TrackAgentInContext(ctx context.Context, contextID agentcore.ContextID, agentName string) error {
	row := &ContextAgentModel{ContextID: string(contextID), AgentName: agentName, CreatedAt: s.now()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return NewTaskStoreError("track_agent", "", err)
	}
	return nil
}
