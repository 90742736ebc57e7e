// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agentcore

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestTaskApply(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("CompletedRecordsTimes", func(t *testing.T) {
		task := NewTask("t1", "c1", t0)
		if err := task.Apply(EventBeginWork, t0.Add(time.Second), ""); err != nil {
			t.Fatal(err)
		}
		if err := task.Apply(EventFinish, t0.Add(2*time.Second+300*time.Microsecond), ""); err != nil {
			t.Fatal(err)
		}
		if task.Status.State != TaskStateCompleted {
			t.Errorf("state = %s", task.Status.State)
		}
		if diff := cmp.Diff(t0.Add(time.Second), *task.StartedAt); diff != "" {
			t.Errorf("StartedAt (-want +got):\n%s", diff)
		}
		if task.ExecutionTimeMs == nil || *task.ExecutionTimeMs != 1001 {
			t.Errorf("ExecutionTimeMs = %v, want 1001", task.ExecutionTimeMs)
		}
	})

	t.Run("FailedRecordsMessage", func(t *testing.T) {
		task := NewTask("t1", "c1", t0)
		if err := task.ApplyState(TaskStateWorking, t0, ""); err != nil {
			t.Fatal(err)
		}
		if err := task.ApplyState(TaskStateFailed, t0.Add(time.Millisecond), "provider down"); err != nil {
			t.Fatal(err)
		}
		if task.ErrorMessage != "provider down" || task.CompletedAt == nil {
			t.Errorf("task = %+v", task)
		}
	})

	t.Run("CanceledBeforeWork", func(t *testing.T) {
		task := NewTask("t1", "c1", t0)
		if err := task.Apply(EventCancel, t0.Add(time.Second), ""); err != nil {
			t.Fatal(err)
		}
		if task.StartedAt != nil || task.ExecutionTimeMs != nil {
			t.Errorf("canceled before work has timing: %+v", task)
		}
	})

	t.Run("TimestampNeverMovesBack", func(t *testing.T) {
		task := NewTask("t1", "c1", t0)
		if err := task.Apply(EventBeginWork, t0.Add(-time.Hour), ""); err != nil {
			t.Fatal(err)
		}
		if !task.Status.Timestamp.Equal(t0) {
			t.Errorf("timestamp = %v, want %v", task.Status.Timestamp, t0)
		}
	})

	t.Run("TerminalRejectsEvents", func(t *testing.T) {
		task := NewTask("t1", "c1", t0)
		if err := task.Apply(EventReject, t0, ""); err != nil {
			t.Fatal(err)
		}
		err := task.Apply(EventBeginWork, t0, "")
		if !errors.Is(err, ErrInvalidTaskState) {
			t.Errorf("Apply on terminal task = %v, want invalid task state", err)
		}
		if task.Status.State != TaskStateRejected {
			t.Errorf("state changed to %s", task.Status.State)
		}
	})

	t.Run("NoPathToTarget", func(t *testing.T) {
		task := NewTask("t1", "c1", t0)
		if err := task.ApplyState(TaskStateCompleted, t0, ""); KindOf(err) != KindInvalidTaskState {
			t.Errorf("ApplyState(completed) from submitted = %v", err)
		}
	})
}

func TestExecutionMillis(t *testing.T) {
	t0 := time.Unix(0, 0)
	tests := map[string]struct {
		d    time.Duration
		want int64
	}{
		"Zero":       {0, 0},
		"Negative":   {-time.Second, 0},
		"Exact":      {3 * time.Millisecond, 3},
		"RoundsUp":   {3*time.Millisecond + 1, 4},
		"SubMilli":   {time.Microsecond, 1},
		"LargeExact": {2 * time.Minute, 120000},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := ExecutionMillis(t0, t0.Add(tt.d)); got != tt.want {
				t.Errorf("ExecutionMillis(%v) = %d, want %d", tt.d, got, tt.want)
			}
		})
	}
}

func TestTaskValidate(t *testing.T) {
	var nilTask *Task
	tests := map[string]struct {
		task *Task
		ok   bool
	}{
		"Valid":        {NewTask("t1", "c1", time.Now()), true},
		"Nil":          {nilTask, false},
		"MissingID":    {NewTask("", "c1", time.Now()), false},
		"SpaceInCtxID": {NewTask("t1", "c 1", time.Now()), false},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if err := tt.task.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%t", err, tt.ok)
			}
		})
	}
}
