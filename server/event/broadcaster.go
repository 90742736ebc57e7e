// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"log/slog"
	"sync"

	"github.com/go-a2a/agentcore"
)

// DefaultSubscriberBuffer is the per-subscriber buffer of a Broadcaster.
const DefaultSubscriberBuffer = 64

// Broadcaster fans events out to every subscriber of a session. Delivery is
// best effort: a subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[agentcore.SessionID]map[uint64]chan Event
	nextID uint64
	buffer int
	logger *slog.Logger
}

// NewBroadcaster creates a Broadcaster. A buffer of 0 selects
// DefaultSubscriberBuffer.
func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[agentcore.SessionID]map[uint64]chan Event),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a subscriber for session. The returned cancel func
// unregisters it and closes the channel.
func (b *Broadcaster) Subscribe(session agentcore.SessionID) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan Event, b.buffer)
	if b.subs[session] == nil {
		b.subs[session] = make(map[uint64]chan Event)
	}
	b.subs[session][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[session], id)
			if len(b.subs[session]) == 0 {
				delete(b.subs, session)
			}
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber of session without blocking and
// returns the number of subscribers reached.
func (b *Broadcaster) Publish(session agentcore.SessionID, ev Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, ch := range b.subs[session] {
		select {
		case ch <- ev:
			delivered++
		default:
			b.logger.Debug("session subscriber is slow, dropping event",
				slog.String("session_id", string(session)),
				slog.String("type", string(ev.Type)),
			)
		}
	}
	return delivered
}

// Subscribers returns the number of subscribers of session.
func (b *Broadcaster) Subscribers(session agentcore.SessionID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[session])
}
