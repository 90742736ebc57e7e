// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agentcore

import (
	"strings"
)

// TaskState is the lifecycle state of a [Task].
type TaskState string

const (
	// TaskStatePending is accepted on input and normalized to [TaskStateSubmitted].
	TaskStatePending       TaskState = "pending"
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateAuthRequired  TaskState = "auth-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateFailed        TaskState = "failed"
	TaskStateRejected      TaskState = "rejected"
	TaskStateUnknown       TaskState = "unknown"
)

// ParseTaskState parses s, folding pending into submitted.
func ParseTaskState(s string) (TaskState, error) {
	st := TaskState(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case TaskStatePending:
		return TaskStateSubmitted, nil
	case TaskStateSubmitted, TaskStateWorking, TaskStateInputRequired, TaskStateAuthRequired,
		TaskStateCompleted, TaskStateCanceled, TaskStateFailed, TaskStateRejected, TaskStateUnknown:
		return st, nil
	}
	return TaskStateUnknown, NewValidationError("state", "unknown task state "+s)
}

// Normalize returns the wire form of s.
func (s TaskState) Normalize() TaskState {
	if s == TaskStatePending {
		return TaskStateSubmitted
	}
	return s
}

// IsTerminal reports whether no further transitions are accepted from s.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed, TaskStateRejected:
		return true
	}
	return false
}

// IsInterrupted reports whether s waits on the caller.
func (s TaskState) IsInterrupted() bool {
	return s == TaskStateInputRequired || s == TaskStateAuthRequired
}

// TaskEvent drives a transition of the task state machine.
type TaskEvent string

const (
	EventBeginWork     TaskEvent = "begin_work"
	EventNeedUserInput TaskEvent = "need_user_input"
	EventNeedAuth      TaskEvent = "need_auth"
	EventResume        TaskEvent = "resume"
	EventFinish        TaskEvent = "finish"
	EventCancel        TaskEvent = "cancel"
	EventError         TaskEvent = "error"
	EventReject        TaskEvent = "reject"
)

// Transition returns the state reached from "from" on ev.
func Transition(from TaskState, ev TaskEvent) (TaskState, bool) {
	from = from.Normalize()
	if from.IsTerminal() {
		return from, false
	}
	switch ev {
	case EventBeginWork:
		if from == TaskStateSubmitted {
			return TaskStateWorking, true
		}
	case EventNeedUserInput:
		if from == TaskStateWorking {
			return TaskStateInputRequired, true
		}
	case EventNeedAuth:
		if from == TaskStateWorking {
			return TaskStateAuthRequired, true
		}
	case EventResume:
		if from.IsInterrupted() {
			return TaskStateWorking, true
		}
	case EventFinish:
		if from == TaskStateWorking {
			return TaskStateCompleted, true
		}
	case EventCancel:
		return TaskStateCanceled, true
	case EventError:
		return TaskStateFailed, true
	case EventReject:
		if from == TaskStateSubmitted {
			return TaskStateRejected, true
		}
	}
	return from, false
}

// EventFor returns the event that moves a task from "from" to "to", if any.
func EventFor(from, to TaskState) (TaskEvent, bool) {
	for _, ev := range []TaskEvent{
		EventBeginWork, EventNeedUserInput, EventNeedAuth, EventResume,
		EventFinish, EventCancel, EventError, EventReject,
	} {
		if got, ok := Transition(from, ev); ok && got == to.Normalize() {
			return ev, true
		}
	}
	return "", false
}

// ValidPath reports whether states, starting at submitted, is a walk
// through the state machine.
func ValidPath(states []TaskState) bool {
	if len(states) == 0 {
		return true
	}
	if states[0].Normalize() != TaskStateSubmitted {
		return false
	}
	for i := 1; i < len(states); i++ {
		if _, ok := EventFor(states[i-1], states[i]); !ok {
			return false
		}
	}
	return true
}
