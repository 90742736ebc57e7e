// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/go-a2a/agentcore"
)

// TaskUpdater drives one task through the state machine. Every transition
// is persisted before it is reported back to the caller.
type TaskUpdater interface {
	// Transition applies ev to the stored task.
	Transition(ctx context.Context, ev agentcore.TaskEvent, opts ...UpdateOption) (*agentcore.Task, error)

	StartWork(ctx context.Context) (*agentcore.Task, error)
	Complete(ctx context.Context, message *agentcore.Message) (*agentcore.Task, error)
	Fail(ctx context.Context, errMsg string) (*agentcore.Task, error)
	Reject(ctx context.Context, message *agentcore.Message) (*agentcore.Task, error)
	Cancel(ctx context.Context) (*agentcore.Task, error)
	RequiresInput(ctx context.Context, message *agentcore.Message) (*agentcore.Task, error)
	RequiresAuth(ctx context.Context, message *agentcore.Message) (*agentcore.Task, error)
	Resume(ctx context.Context) (*agentcore.Task, error)

	// TaskID returns the task this updater is bound to.
	TaskID() agentcore.TaskID

	// IsTerminal reports whether the last persisted state is terminal.
	IsTerminal() bool
}

// TaskUpdaterConfig holds configuration for creating a TaskUpdater.
type TaskUpdaterConfig struct {
	TaskID      agentcore.TaskID
	Store       TaskStore
	MaxAttempts uint             // optimistic retries on concurrent updates, defaults to 5
	Clock       func() time.Time // Optional, defaults to time.Now
	Logger      *slog.Logger
}

type defaultTaskUpdater struct {
	taskID      agentcore.TaskID
	store       TaskStore
	maxAttempts uint
	now         func() time.Time
	logger      *slog.Logger

	mu       sync.RWMutex
	terminal bool
}

var _ TaskUpdater = (*defaultTaskUpdater)(nil)

// NewTaskUpdater creates a new TaskUpdater with the given configuration.
func NewTaskUpdater(config TaskUpdaterConfig) (TaskUpdater, error) {
	if config.TaskID == "" {
		return nil, fmt.Errorf("task ID cannot be empty")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("task store cannot be nil")
	}
	u := &defaultTaskUpdater{
		taskID:      config.TaskID,
		store:       config.Store,
		maxAttempts: config.MaxAttempts,
		now:         config.Clock,
		logger:      config.Logger,
	}
	if u.maxAttempts == 0 {
		u.maxAttempts = 5
	}
	if u.now == nil {
		u.now = time.Now
	}
	if u.logger == nil {
		u.logger = slog.Default()
	}
	return u, nil
}

// Transition reads the current state, computes the target for ev and writes
// it conditionally on the state it read. A lost race is retried.
func (u *defaultTaskUpdater) Transition(ctx context.Context, ev agentcore.TaskEvent, opts ...UpdateOption) (*agentcore.Task, error) {
	op := func() (*agentcore.Task, error) {
		current, err := u.store.GetTask(ctx, u.taskID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		from := current.Status.State.Normalize()
		to, ok := agentcore.Transition(from, ev)
		if !ok {
			return nil, backoff.Permanent(agentcore.NewInvalidTaskStateError(u.taskID, from, ev))
		}
		t, err := u.store.UpdateTaskState(ctx, u.taskID, to, u.now(), append(slices.Clone(opts), WithExpectedState(from))...)
		if err != nil {
			if IsConcurrentUpdate(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return t, nil
	}

	t, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(10*time.Millisecond)),
		backoff.WithMaxTries(u.maxAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			u.logger.DebugContext(ctx, "retrying task transition",
				slog.String("task_id", string(u.taskID)),
				slog.String("event", string(ev)),
				slog.Duration("after", d),
			)
		}),
	)
	if err != nil {
		var nu *TaskNotUpdatableError
		if errors.As(err, &nu) {
			u.markTerminal()
		}
		return nil, err
	}
	if t.Status.State.IsTerminal() {
		u.markTerminal()
	}
	return t, nil
}

func (u *defaultTaskUpdater) markTerminal() {
	u.mu.Lock()
	u.terminal = true
	u.mu.Unlock()
}

// StartWork marks the task as working.
func (u *defaultTaskUpdater) StartWork(ctx context.Context) (*agentcore.Task, error) {
	return u.Transition(ctx, agentcore.EventBeginWork)
}

// Complete marks the task as completed.
func (u *defaultTaskUpdater) Complete(ctx context.Context, message *agentcore.Message) (*agentcore.Task, error) {
	return u.Transition(ctx, agentcore.EventFinish, withStatusMessage(message)...)
}

// Fail marks the task as failed and records errMsg.
func (u *defaultTaskUpdater) Fail(ctx context.Context, errMsg string) (*agentcore.Task, error) {
	return u.Transition(ctx, agentcore.EventError, WithErrorMessage(errMsg))
}

// Reject marks the task as rejected.
func (u *defaultTaskUpdater) Reject(ctx context.Context, message *agentcore.Message) (*agentcore.Task, error) {
	return u.Transition(ctx, agentcore.EventReject, withStatusMessage(message)...)
}

// Cancel marks the task as canceled.
func (u *defaultTaskUpdater) Cancel(ctx context.Context) (*agentcore.Task, error) {
	return u.Transition(ctx, agentcore.EventCancel)
}

// RequiresInput marks the task as waiting for the caller.
func (u *defaultTaskUpdater) RequiresInput(ctx context.Context, message *agentcore.Message) (*agentcore.Task, error) {
	return u.Transition(ctx, agentcore.EventNeedUserInput, withStatusMessage(message)...)
}

// RequiresAuth marks the task as waiting for credentials.
func (u *defaultTaskUpdater) RequiresAuth(ctx context.Context, message *agentcore.Message) (*agentcore.Task, error) {
	return u.Transition(ctx, agentcore.EventNeedAuth, withStatusMessage(message)...)
}

// Resume moves an interrupted task back to working.
func (u *defaultTaskUpdater) Resume(ctx context.Context) (*agentcore.Task, error) {
	return u.Transition(ctx, agentcore.EventResume)
}

// TaskID returns the task this updater is bound to.
func (u *defaultTaskUpdater) TaskID() agentcore.TaskID { return u.taskID }

// IsTerminal reports whether the last persisted state is terminal.
func (u *defaultTaskUpdater) IsTerminal() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.terminal
}

func withStatusMessage(msg *agentcore.Message) []UpdateOption {
	if msg == nil {
		return nil
	}
	return []UpdateOption{WithStatusMessage(msg)}
}
