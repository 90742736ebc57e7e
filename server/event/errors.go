// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "errors"

var (
	// ErrQueueClosed is returned by Push after the producer closed the queue.
	ErrQueueClosed = errors.New("event queue is closed")

	// ErrConsumerGone is returned by Push after the consumer detached.
	ErrConsumerGone = errors.New("event consumer is gone")
)
