// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/go-a2a/agentcore"
)

// ReplayKey identifies a client submission.
type ReplayKey struct {
	ContextID       agentcore.ContextID
	ClientMessageID string
}

// Recording is the event history of one run. It may still be growing.
type Recording struct {
	taskID agentcore.TaskID

	mu       sync.Mutex
	events   []Event
	finished bool
	changed  chan struct{}
}

// NewRecording returns an empty recording of a run on taskID.
func NewRecording(taskID agentcore.TaskID) *Recording {
	return &Recording{taskID: taskID, changed: make(chan struct{})}
}

// TaskID returns the task the recorded run works on.
func (r *Recording) TaskID() agentcore.TaskID { return r.taskID }

// Append records ev.
func (r *Recording) Append(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.events = append(r.events, ev)
	r.broadcast()
}

// Finish marks the recording complete.
func (r *Recording) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.finished {
		r.finished = true
		r.broadcast()
	}
}

// broadcast wakes every follower. Must be called with r.mu held.
func (r *Recording) broadcast() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// Events returns a snapshot of the recorded events.
func (r *Recording) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Follow yields every recorded event and then live ones until the
// recording finishes or ctx ends.
func (r *Recording) Follow(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		pos := 0
		for {
			r.mu.Lock()
			pending := r.events[pos:]
			finished := r.finished
			changed := r.changed
			r.mu.Unlock()

			for _, ev := range pending {
				if !yield(ev) {
					return
				}
			}
			pos += len(pending)
			if finished {
				r.mu.Lock()
				drained := pos == len(r.events)
				r.mu.Unlock()
				if drained {
					return
				}
				continue
			}

			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
		}
	}
}

// ReplayCache remembers recent runs by client message id so that a
// duplicate submission can be answered with the original stream.
type ReplayCache struct {
	mu    sync.Mutex
	cache *expirable.LRU[ReplayKey, *Recording]
}

// NewReplayCache creates a cache holding at most size runs for ttl.
func NewReplayCache(size int, ttl time.Duration) *ReplayCache {
	if size <= 0 {
		size = 1024
	}
	return &ReplayCache{cache: expirable.NewLRU[ReplayKey, *Recording](size, nil, ttl)}
}

// Begin returns the recording for key, starting one for taskID if there is
// none. When another run already owns key the existing recording is returned
// with existed set.
func (c *ReplayCache) Begin(key ReplayKey, taskID agentcore.TaskID) (rec *Recording, existed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.cache.Get(key); ok {
		return rec, true
	}
	rec = NewRecording(taskID)
	c.cache.Add(key, rec)
	return rec, false
}

// Lookup returns the recording for key, if any.
func (c *ReplayCache) Lookup(key ReplayKey) (*Recording, bool) {
	return c.cache.Get(key)
}

// Forget drops key.
func (c *ReplayCache) Forget(key ReplayKey) {
	c.cache.Remove(key)
}
