// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agentcore

import (
	"time"
)

// KindTask is the value of Task.Kind on the wire.
const KindTask = "task"

// TaskStatus is the current state of a task together with the message that
// accompanied the last transition.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is a durable unit of agent work initiated by a message.
type Task struct {
	ID        TaskID         `json:"id"`
	ContextID ContextID      `json:"contextId"`
	Kind      string         `json:"kind"`
	Status    TaskStatus     `json:"status"`
	History   []*Message     `json:"history,omitempty"`
	Artifacts []*Artifact    `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	UserID          UserID     `json:"userId,omitempty"`
	SessionID       SessionID  `json:"sessionId,omitempty"`
	TraceID         TraceID    `json:"traceId,omitempty"`
	AgentName       string     `json:"agentName,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	ExecutionTimeMs *int64     `json:"executionTimeMs,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
}

// NewTask returns a submitted task created at now.
func NewTask(id TaskID, contextID ContextID, now time.Time) *Task {
	return &Task{
		ID:        id,
		ContextID: contextID,
		Kind:      KindTask,
		Status:    TaskStatus{State: TaskStateSubmitted, Timestamp: now},
		CreatedAt: now,
	}
}

// Validate checks that the task carries usable identities.
func (t *Task) Validate() error {
	if t == nil {
		return NewValidationError("task", "missing task")
	}
	if err := t.ID.Validate(); err != nil {
		return err
	}
	return t.ContextID.Validate()
}

// Apply moves t by ev at now, applying the entry effects of the target state.
// errMsg is recorded when the target is failed.
func (t *Task) Apply(ev TaskEvent, now time.Time, errMsg string) error {
	from := t.Status.State.Normalize()
	to, ok := Transition(from, ev)
	if !ok {
		return NewInvalidTaskStateError(t.ID, from, ev)
	}
	t.enter(from, to, now, errMsg)
	return nil
}

// ApplyState moves t to the target state at now.
func (t *Task) ApplyState(to TaskState, now time.Time, errMsg string) error {
	from := t.Status.State.Normalize()
	ev, ok := EventFor(from, to)
	if !ok {
		return NewInvalidTaskStateError(t.ID, from, TaskEvent("to_"+string(to)))
	}
	return t.Apply(ev, now, errMsg)
}

func (t *Task) enter(from, to TaskState, now time.Time, errMsg string) {
	// state_timestamp never moves backwards.
	if now.Before(t.Status.Timestamp) {
		now = t.Status.Timestamp
	}
	t.Status.State = to
	t.Status.Timestamp = now

	switch {
	case to == TaskStateWorking:
		if t.StartedAt == nil {
			started := now
			t.StartedAt = &started
		}
	case to.IsTerminal():
		completed := now
		t.CompletedAt = &completed
		workedOn := from == TaskStateWorking || from.IsInterrupted()
		if to == TaskStateCompleted && t.StartedAt == nil {
			t.StartedAt = &completed
		}
		if workedOn && t.StartedAt != nil && t.ExecutionTimeMs == nil {
			ms := ExecutionMillis(*t.StartedAt, completed)
			t.ExecutionTimeMs = &ms
		}
		if to == TaskStateFailed {
			t.ErrorMessage = errMsg
		}
	}
}

// ExecutionMillis returns end-start in whole milliseconds, rounding any
// positive remainder up.
func ExecutionMillis(start, end time.Time) int64 {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}
