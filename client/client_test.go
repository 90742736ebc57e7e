// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/server/event"
)

type rpcCall struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func decodeCall(t *testing.T, r *http.Request) rpcCall {
	t.Helper()
	var c rpcCall
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&c); err != nil {
		t.Errorf("decode request: %v", err)
	}
	return c
}

func writeResult(w http.ResponseWriter, id string, result any) {
	w.Header().Set("Content-Type", "application/json")
	b, _ := sonic.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
	w.Write(b)
}

func writeRPCError(w http.ResponseWriter, status int, id string, code int64, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	b, _ := sonic.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "error": map[string]any{"code": code, "message": msg}})
	w.Write(b)
}

func newClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/api/v1/agents/hello", opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNew(t *testing.T) {
	if _, err := New("agents/hello"); agentcore.KindOf(err) != agentcore.KindValidation {
		t.Errorf("New(relative) error = %v", err)
	}
	c, err := New("https://agents.example/api/v1/agents/hello")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.URL(), "https://agents.example/api/v1/agents/hello/"; got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestAgentCard(t *testing.T) {
	want := &agentcore.AgentCard{
		Name:               "hello",
		URL:                "https://agents.example/api/v1/agents/hello/",
		Version:            agentcore.Version,
		ProtocolVersion:    "0.3.0",
		PreferredTransport: "JSONRPC",
		Capabilities:       agentcore.AgentCapabilities{Streaming: true},
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills:             []agentcore.AgentSkill{{ID: "ping", Name: "Ping"}},
	}
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/agents/hello/.well-known/agent-card.json" {
			http.NotFound(w, r)
			return
		}
		b, _ := sonic.Marshal(want)
		w.Write(b)
	})

	got, err := c.AgentCard(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("AgentCard() mismatch (-want +got):\n%s", diff)
	}
}

func TestSendMessage(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	want := agentcore.NewTask("t1", "c1", created)
	want.Status.State = agentcore.TaskStateCompleted

	var gotParams agentcore.MessageSendParams
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get(agentcore.HeaderSessionID); got != "sess_1" {
			t.Errorf("session header = %q", got)
		}
		call := decodeCall(t, r)
		if call.Method != agentcore.MethodMessageSend {
			t.Errorf("method = %q", call.Method)
		}
		if err := sonic.Unmarshal(call.Params, &gotParams); err != nil {
			t.Errorf("decode params: %v", err)
		}
		writeResult(w, call.ID, want)
	}, WithBearerToken("tok"), WithSessionID("sess_1"))

	msg := agentcore.NewMessage(agentcore.RoleUser, agentcore.NewTextPart("ping"))
	got, err := c.SendMessage(t.Context(), &agentcore.MessageSendParams{Message: msg})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SendMessage() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(msg, gotParams.Message, cmpopts.IgnoreFields(agentcore.Message{}, "CreatedAt")); diff != "" {
		t.Errorf("sent message mismatch (-want +got):\n%s", diff)
	}
}

func TestCallErrors(t *testing.T) {
	tests := map[string]struct {
		handler    http.HandlerFunc
		wantKind   agentcore.ErrorKind
		wantStatus int
		wantCode   int64
	}{
		"TaskNotFound": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeRPCError(w, http.StatusOK, decodeCall(t, r).ID, agentcore.CodeTaskNotFound, "task not found")
			},
			wantKind: agentcore.KindNotFound, wantStatus: http.StatusOK, wantCode: agentcore.CodeTaskNotFound,
		},
		"NotCancelable": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeRPCError(w, http.StatusOK, decodeCall(t, r).ID, agentcore.CodeTaskNotCancelable, "task is completed")
			},
			wantKind: agentcore.KindInvalidTaskState, wantStatus: http.StatusOK, wantCode: agentcore.CodeTaskNotCancelable,
		},
		"AgentUnavailable": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeRPCError(w, http.StatusConflict, decodeCall(t, r).ID, agentcore.CodeInvalidTaskState, "agent failed")
			},
			wantKind: agentcore.KindInvalidTaskState, wantStatus: http.StatusConflict, wantCode: agentcore.CodeInvalidTaskState,
		},
		"Unauthenticated": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
			},
			wantKind: agentcore.KindAuth, wantStatus: http.StatusUnauthorized,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c := newClient(t, tt.handler)
			_, err := c.CancelTask(t.Context(), "t1")
			if got := agentcore.KindOf(err); got != tt.wantKind {
				t.Errorf("KindOf(%v) = %v, want %v", err, got, tt.wantKind)
			}
			ce, ok := err.(*Error)
			if !ok {
				t.Fatalf("error type = %T", err)
			}
			if ce.StatusCode != tt.wantStatus || ce.Code != tt.wantCode {
				t.Errorf("error = %+v", ce)
			}
		})
	}
}

func TestRetry(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		if calls.Add(1) == 1 {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		writeResult(w, call.ID, agentcore.NewTask("t1", "c1", time.Now()))
	}, WithRetry(3, time.Millisecond))

	task, err := c.GetTask(t.Context(), "t1", agentcore.Ptr(0))
	if err != nil {
		t.Fatal(err)
	}
	if task.ID != "t1" || calls.Load() != 2 {
		t.Errorf("task %q after %d calls", task.ID, calls.Load())
	}

	noRetry := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	})
	_, err = noRetry.GetTask(t.Context(), "t1", nil)
	if ce, ok := err.(*Error); !ok || ce.StatusCode != http.StatusTooManyRequests {
		t.Errorf("GetTask() error = %v", err)
	}
}

func sseFrame(w io.Writer, id string, ev map[string]any) {
	b, _ := sonic.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "result": ev})
	fmt.Fprintf(w, "id: %v\nevent: %v\ndata: %s\n\n", ev["ordinal"], ev["type"], b)
}

func TestStreamMessage(t *testing.T) {
	task := agentcore.NewTask("t1", "c1", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		if call.Method != agentcore.MethodMessageStream || !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
			t.Errorf("method %q accept %q", call.Method, r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		sseFrame(w, call.ID, map[string]any{"type": event.TypeTaskCreated, "ordinal": 0, "taskId": "t1", "contextId": "c1", "data": map[string]any{"task": task}})
		fmt.Fprint(w, ": keep-alive\n\n")
		sseFrame(w, call.ID, map[string]any{"type": event.TypeMessageDelta, "ordinal": 1, "taskId": "t1", "contextId": "c1", "data": map[string]any{"messageId": "m1", "delta": "po"}})
		sseFrame(w, call.ID, map[string]any{"type": event.TypeMessageDelta, "ordinal": 2, "taskId": "t1", "contextId": "c1", "data": map[string]any{"messageId": "m1", "delta": "ng"}})
		sseFrame(w, call.ID, map[string]any{"type": event.TypeRunFinished, "ordinal": 3, "taskId": "t1", "contextId": "c1", "data": map[string]any{"task": task}})
		sseFrame(w, call.ID, map[string]any{"type": event.TypeMessageDelta, "ordinal": 4, "taskId": "t1", "contextId": "c1", "data": map[string]any{"delta": "late"}})
	})

	var (
		types []event.Type
		text  strings.Builder
	)
	params := &agentcore.MessageSendParams{Message: agentcore.NewMessage(agentcore.RoleUser, agentcore.NewTextPart("ping"))}
	for ev, err := range c.StreamMessage(t.Context(), params) {
		if err != nil {
			t.Fatal(err)
		}
		types = append(types, ev.Type)
		switch ev.Type {
		case event.TypeMessageDelta:
			var d event.MessageDelta
			if err := ev.Decode(&d); err != nil {
				t.Fatal(err)
			}
			text.WriteString(d.Delta)
		case event.TypeTaskCreated, event.TypeRunFinished:
			if got, ok := ev.Task(); !ok || got.ID != "t1" {
				t.Errorf("Task() = %v, %t", got, ok)
			}
		}
	}

	want := []event.Type{event.TypeTaskCreated, event.TypeMessageDelta, event.TypeMessageDelta, event.TypeRunFinished}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
	if text.String() != "pong" {
		t.Errorf("text = %q", text.String())
	}
}

func TestStreamMessageErrors(t *testing.T) {
	tests := map[string]struct {
		handler  http.HandlerFunc
		wantKind agentcore.ErrorKind
	}{
		"ErrorFrame": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				call := decodeCall(t, r)
				w.Header().Set("Content-Type", "text/event-stream")
				b, _ := sonic.Marshal(map[string]any{"jsonrpc": "2.0", "id": call.ID, "error": map[string]any{"code": agentcore.CodeInvalidParams, "message": "missing message"}})
				fmt.Fprintf(w, "event: error\ndata: %s\n\n", b)
			},
			wantKind: agentcore.KindValidation,
		},
		"UnknownAgent": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeRPCError(w, http.StatusNotFound, decodeCall(t, r).ID, agentcore.CodeTaskNotFound, "agent not found")
			},
			wantKind: agentcore.KindNotFound,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c := newClient(t, tt.handler)
			var n int
			for ev, err := range c.StreamMessage(context.Background(), &agentcore.MessageSendParams{}) {
				n++
				if ev != nil {
					t.Errorf("unexpected event %v", ev.Type)
				}
				if got := agentcore.KindOf(err); got != tt.wantKind {
					t.Errorf("KindOf(%v) = %v, want %v", err, got, tt.wantKind)
				}
			}
			if n != 1 {
				t.Errorf("yielded %d times, want 1", n)
			}
		})
	}
}

func TestReadSSE(t *testing.T) {
	in := ": comment\n\nevent: a\ndata: {\"x\":\ndata: 1}\n\nid: 7\ndata:2\n\ndata: tail"
	var got []string
	for data, err := range readSSE(strings.NewReader(in)) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, string(data))
	}
	want := []string{"{\"x\":\n1}", "2", "tail"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("readSSE mismatch (-want +got):\n%s", diff)
	}
}
