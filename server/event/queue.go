// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"context"
	"io"
	"iter"
	"sync"
)

// Queue is the unbounded, strictly ordered channel between one producer and
// one consumer of a task stream.
//
// Push never blocks. The consumer drains with Next until io.EOF. A consumer
// that goes away calls Detach; the producer observes it through Done or
// through ErrConsumerGone on its next Push.
type Queue struct {
	mu       sync.Mutex
	items    []Event
	next     int64
	closed   bool
	detached bool

	ready chan struct{}
	done  chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push assigns the next ordinal to ev and appends it.
func (q *Queue) Push(ev Event) (Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.detached:
		return ev, ErrConsumerGone
	case q.closed:
		return ev, ErrQueueClosed
	}
	q.next++
	ev.Ordinal = q.next
	q.items = append(q.items, ev)
	q.signal()
	return ev, nil
}

// Close marks the end of the stream. Events already pushed are still
// delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.signal()
	}
}

// Detach drops the consumer side. Pending events are discarded.
func (q *Queue) Detach() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.detached {
		q.detached = true
		q.items = nil
		close(q.done)
	}
}

// Done is closed when the consumer detaches.
func (q *Queue) Done() <-chan struct{} { return q.done }

// signal wakes a waiting consumer. Must be called with q.mu held.
func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Next returns the oldest pending event, blocking until one is pushed. It
// returns io.EOF once the queue is closed and drained.
func (q *Queue) Next(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if q.detached {
			q.mu.Unlock()
			return Event{}, ErrConsumerGone
		}
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Event{}, io.EOF
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-q.ready:
		}
	}
}

// All yields events until the queue is closed and drained or ctx ends. A
// consumer that stops early detaches from the queue.
func (q *Queue) All(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, err := q.Next(ctx)
			if err != nil {
				if err != io.EOF {
					q.Detach()
				}
				return
			}
			if !yield(ev) {
				q.Detach()
				return
			}
		}
	}
}

// Len returns the number of undelivered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
