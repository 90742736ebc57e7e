// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-a2a/agentcore"
)

// TaskQueueExistsError is returned when a task already has a running stream.
type TaskQueueExistsError struct {
	TaskID agentcore.TaskID
}

func (e *TaskQueueExistsError) Error() string {
	return fmt.Sprintf("task %s already has a running stream", e.TaskID)
}

// Kind implements [agentcore.Kinder].
func (e *TaskQueueExistsError) Kind() agentcore.ErrorKind { return agentcore.KindInvalidTaskState }

type running struct {
	queue  *Queue
	cancel context.CancelCauseFunc
}

// QueueManager tracks the stream of every running task so that it can be
// canceled from another request.
type QueueManager struct {
	mu    sync.RWMutex
	tasks map[agentcore.TaskID]running
}

// NewQueueManager creates an empty manager.
func NewQueueManager() *QueueManager {
	return &QueueManager{tasks: make(map[agentcore.TaskID]running)}
}

// Add registers the queue and cancel func of a running task.
func (m *QueueManager) Add(taskID agentcore.TaskID, q *Queue, cancel context.CancelCauseFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; ok {
		return &TaskQueueExistsError{TaskID: taskID}
	}
	m.tasks[taskID] = running{queue: q, cancel: cancel}
	return nil
}

// Get returns the queue of a running task.
func (m *QueueManager) Get(taskID agentcore.TaskID) (*Queue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.tasks[taskID]
	return r.queue, ok
}

// Cancel signals the running task with cause. It reports whether a running
// task was found.
func (m *QueueManager) Cancel(taskID agentcore.TaskID, cause error) bool {
	m.mu.RLock()
	r, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if ok {
		r.cancel(cause)
	}
	return ok
}

// Remove forgets a finished task.
func (m *QueueManager) Remove(taskID agentcore.TaskID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
}

// Count returns the number of running tasks.
func (m *QueueManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}
