// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/server/event"
)

// maxFrame bounds one SSE line.
const maxFrame = 4 << 20

// Event is one frame of a task stream with its payload left undecoded.
type Event struct {
	Type      event.Type          `json:"type"`
	Ordinal   int64               `json:"ordinal"`
	TaskID    agentcore.TaskID    `json:"taskId"`
	ContextID agentcore.ContextID `json:"contextId"`
	Timestamp time.Time           `json:"timestamp"`
	Data      json.RawMessage     `json:"data"`
}

// Decode unmarshals the payload into v, typically one of the payload types
// of package event.
func (e *Event) Decode(v any) error {
	if err := sonic.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("client: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Task returns the task carried by task.created and run.finished events.
func (e *Event) Task() (*agentcore.Task, bool) {
	var p struct {
		Task *agentcore.Task `json:"task"`
	}
	switch e.Type {
	case event.TypeTaskCreated, event.TypeRunFinished:
	default:
		return nil, false
	}
	if err := e.Decode(&p); err != nil || p.Task == nil {
		return nil, false
	}
	return p.Task, true
}

// streamFrame is the JSON-RPC response in one SSE data line.
type streamFrame struct {
	Result *Event `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// StreamMessage sends message/stream and yields the events of the run in
// order. Iteration stops after the terminal event, on the first error, or
// when the caller breaks out of the loop. Breaking out detaches from the
// run, which the server treats as a cancellation.
func (c *Client) StreamMessage(ctx context.Context, params *agentcore.MessageSendParams) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		body, err := c.encode(agentcore.MethodMessageStream, params)
		if err != nil {
			yield(nil, err)
			return
		}
		resp, err := c.post(ctx, body, "text/event-stream")
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			var env envelope
			if derr := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&env); derr == nil && env.Error != nil {
				yield(nil, env.Error.withStatus(resp.StatusCode))
				return
			}
			yield(nil, &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)})
			return
		}

		for data, err := range readSSE(resp.Body) {
			if err != nil {
				yield(nil, fmt.Errorf("client: read stream: %w", err))
				return
			}
			var f streamFrame
			if err := sonic.Unmarshal(data, &f); err != nil {
				yield(nil, fmt.Errorf("client: decode frame: %w", err))
				return
			}
			if f.Error != nil {
				yield(nil, f.Error.withStatus(resp.StatusCode))
				return
			}
			if f.Result == nil {
				continue
			}
			if !yield(f.Result, nil) || f.Result.Type.IsTerminal() {
				return
			}
		}
	}
}

// readSSE yields the data of each Server-Sent Event in r. Multi-line data
// is joined with newlines, and comments and other fields are skipped.
func readSSE(r io.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64<<10), maxFrame)

		var data bytes.Buffer
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				if data.Len() > 0 {
					if !yield(bytes.Clone(data.Bytes()), nil) {
						return
					}
					data.Reset()
				}
				continue
			}
			v, ok := bytes.CutPrefix(line, []byte("data:"))
			if !ok {
				continue
			}
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.Write(bytes.TrimPrefix(v, []byte(" ")))
		}
		if err := sc.Err(); err != nil {
			yield(nil, err)
			return
		}
		if data.Len() > 0 {
			yield(data.Bytes(), nil)
		}
	}
}
