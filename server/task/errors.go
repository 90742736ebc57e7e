// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/go-a2a/agentcore"
)

// TaskNotUpdatableError represents an error when attempting to update a task in a terminal state.
type TaskNotUpdatableError struct {
	TaskID agentcore.TaskID
	State  agentcore.TaskState
	Target agentcore.TaskState
}

// Error returns the error message.
func (e *TaskNotUpdatableError) Error() string {
	return fmt.Sprintf("task %s in state %s cannot move to %s", e.TaskID, e.State, e.Target)
}

// Kind implements [agentcore.Kinder].
func (e *TaskNotUpdatableError) Kind() agentcore.ErrorKind { return agentcore.KindInvalidTaskState }

// TaskStoreError represents an error from the store.
type TaskStoreError struct {
	Operation string
	TaskID    agentcore.TaskID
	Err       error
}

// NewTaskStoreError creates a new TaskStoreError.
func NewTaskStoreError(op string, taskID agentcore.TaskID, err error) *TaskStoreError {
	return &TaskStoreError{Operation: op, TaskID: taskID, Err: err}
}

// Error returns the error message.
func (e *TaskStoreError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("task store %s operation failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("task store %s operation failed for task %s: %v", e.Operation, e.TaskID, e.Err)
}

// Unwrap returns the underlying error.
func (e *TaskStoreError) Unwrap() error { return e.Err }

// Kind implements [agentcore.Kinder]. Wrapped taxonomy errors keep their kind.
func (e *TaskStoreError) Kind() agentcore.ErrorKind {
	var ae *agentcore.Error
	if errors.As(e.Err, &ae) {
		return ae.Kind
	}
	var k agentcore.Kinder
	if errors.As(e.Err, &k) {
		return k.Kind()
	}
	return agentcore.KindPersistence
}

// ConcurrentUpdateError reports that a task row changed between read and write.
type ConcurrentUpdateError struct {
	TaskID agentcore.TaskID
}

// Error returns the error message.
func (e *ConcurrentUpdateError) Error() string {
	return fmt.Sprintf("task %s was modified concurrently", e.TaskID)
}

// Kind implements [agentcore.Kinder].
func (e *ConcurrentUpdateError) Kind() agentcore.ErrorKind { return agentcore.KindPersistence }

// IsConcurrentUpdate reports whether err is a lost optimistic update.
func IsConcurrentUpdate(err error) bool {
	var ce *ConcurrentUpdateError
	return errors.As(err, &ce)
}

// DuplicateTaskError reports that a task id is already in use.
type DuplicateTaskError struct {
	TaskID agentcore.TaskID
}

// Error returns the error message.
func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %s already exists", e.TaskID)
}

// Kind implements [agentcore.Kinder].
func (e *DuplicateTaskError) Kind() agentcore.ErrorKind { return agentcore.KindValidation }

// DuplicateClientMessageError reports that a client message id was already
// submitted in the context, by the message of TaskID.
type DuplicateClientMessageError struct {
	ContextID       agentcore.ContextID
	ClientMessageID string
	TaskID          agentcore.TaskID
}

// Error returns the error message.
func (e *DuplicateClientMessageError) Error() string {
	return fmt.Sprintf("client message %s already submitted in context %s", e.ClientMessageID, e.ContextID)
}

// Kind implements [agentcore.Kinder].
func (e *DuplicateClientMessageError) Kind() agentcore.ErrorKind { return agentcore.KindValidation }

// IsDuplicateClientMessage reports whether err is a resubmitted client message id.
func IsDuplicateClientMessage(err error) bool {
	var de *DuplicateClientMessageError
	return errors.As(err, &de)
}

// isUniqueViolation recognizes duplicate-key failures from every supported dialect.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
