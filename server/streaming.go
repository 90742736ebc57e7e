// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/go-a2a/agentcore/internal/jsonrpc2"
	"github.com/go-a2a/agentcore/internal/pool"
	"github.com/go-a2a/agentcore/server/event"
)

// errStreamingUnsupported is returned when the response writer cannot flush.
var errStreamingUnsupported = errors.New("server: streaming unsupported by response writer")

// frameError is the error member of an SSE frame.
type frameError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// frame is the JSON-RPC response carried by one SSE data line.
type frame struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      any          `json:"id"`
	Result  *event.Event `json:"result,omitempty"`
	Error   *frameError  `json:"error,omitempty"`
}

// sseWriter writes the events of one stream as Server-Sent Events.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	id      jsonrpc2.ID
}

// newSSEWriter sends the stream headers and returns the writer.
func newSSEWriter(w http.ResponseWriter, id jsonrpc2.ID) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher, id: id}, nil
}

// Send writes ev as one frame.
func (s *sseWriter) Send(ev event.Event) error {
	return s.write(strconv.FormatInt(ev.Ordinal, 10), string(ev.Type), &frame{JSONRPC: jsonrpc2.Version, ID: s.id.Raw(), Result: &ev})
}

// SendError writes a JSON-RPC error frame.
func (s *sseWriter) SendError(err *jsonrpc2.Error) error {
	return s.write("", "error", &frame{
		JSONRPC: jsonrpc2.Version,
		ID:      s.id.Raw(),
		Error:   &frameError{Code: err.Code, Message: err.Message, Data: err.Data},
	})
}

func (s *sseWriter) write(id, name string, f *frame) error {
	data, err := sonic.ConfigDefault.Marshal(f)
	if err != nil {
		return err
	}
	buf := pool.Bytes.Get()
	defer pool.PutBuffer(buf)
	if id != "" {
		buf.WriteString("id: ")
		buf.WriteString(id)
		buf.WriteByte('\n')
	}
	buf.WriteString("event: ")
	buf.WriteString(name)
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// wantsEventStream reports whether r accepts an SSE response.
func wantsEventStream(r *http.Request) bool {
	for _, v := range r.Header.Values("Accept") {
		if strings.Contains(v, "text/event-stream") {
			return true
		}
	}
	return false
}
