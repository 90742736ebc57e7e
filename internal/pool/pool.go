// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package pool provides typed object pooling for the encoding paths.
package pool

import (
	"bytes"
	"sync"
)

// Pool is a generics wrapper around [sync.Pool].
type Pool[T any] struct {
	p sync.Pool
}

// Reseter is implemented by pooled values that can be cleared for reuse.
type Reseter interface {
	Reset()
}

// New returns a new [Pool] for T, and will use fn to construct new T's when the pool is empty.
func New[T any](fn func() T) *Pool[T] {
	return &Pool[T]{
		p: sync.Pool{
			New: func() any {
				return fn()
			},
		},
	}
}

// Get gets a T from the pool, or creates a new one if the pool is empty.
func (p *Pool[T]) Get() T {
	return p.p.Get().(T)
}

// Put resets x and returns it to the pool.
func (p *Pool[T]) Put(x T) {
	if xx, ok := any(x).(Reseter); ok {
		xx.Reset()
	}
	p.p.Put(x)
}

// maxPooledBuffer bounds buffers returned to [Bytes]; larger ones are dropped.
const maxPooledBuffer = 64 << 10

// Bytes pools the buffers used to build SSE frames and webhook bodies.
var Bytes = New(func() *bytes.Buffer {
	return &bytes.Buffer{}
})

// PutBuffer returns b to [Bytes] unless it grew too large.
func PutBuffer(b *bytes.Buffer) {
	if b.Cap() > maxPooledBuffer {
		return
	}
	Bytes.Put(b)
}
