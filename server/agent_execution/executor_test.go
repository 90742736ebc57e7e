// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agent_execution

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/agent"
	"github.com/go-a2a/agentcore/internal/providertest"
	"github.com/go-a2a/agentcore/provider"
	"github.com/go-a2a/agentcore/provider/toolmap"
	"github.com/go-a2a/agentcore/server/event"
	"github.com/go-a2a/agentcore/server/task"
)

const (
	testUser    agentcore.UserID    = "user-1"
	testSession agentcore.SessionID = "sess_1"
)

type fakeTools struct {
	results map[string]*agentcore.CallToolResult
}

func (f *fakeTools) HasServer(name string) bool { return name == "search" }

func (f *fakeTools) ListTools(ctx context.Context, servers []string) ([]toolmap.Tool, error) {
	return []toolmap.Tool{{
		Server:      "search",
		Name:        "web_search",
		Description: "Search the web",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"q": map[string]any{"type": "string"}},
		},
	}}, nil
}

func (f *fakeTools) CallTool(ctx context.Context, server, tool string, args map[string]any) (*agentcore.CallToolResult, error) {
	if res, ok := f.results[tool]; ok {
		return res, nil
	}
	return nil, agentcore.NewNotFoundError("tool", tool)
}

func newStore(t *testing.T) *task.DatabaseStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	store, err := task.NewDatabaseStore(context.Background(), task.DatabaseStoreConfig{DB: db, AutoMigrate: true})
	if err != nil {
		t.Fatalf("NewDatabaseStore: %v", err)
	}
	return store
}

type harness struct {
	store    *task.DatabaseStore
	prov     *providertest.Provider
	exec     *Executor
	notifier *task.HTTPPushNotificationSender
	replay   *event.ReplayCache
}

// harnessOptions adjusts the executor a harness builds.
type harnessOptions struct {
	// def replaces the default hello agent.
	def *agent.Definition
	// store is what the executor sees instead of the database store.
	store task.Store
}

func newHarness(t *testing.T, store *task.DatabaseStore, prov *providertest.Provider, tools *fakeTools) *harness {
	t.Helper()
	return newHarnessWith(t, store, prov, tools, harnessOptions{})
}

func newHarnessWith(t *testing.T, store *task.DatabaseStore, prov *providertest.Provider, tools *fakeTools, opts harnessOptions) *harness {
	t.Helper()
	def := agent.Definition{Name: "hello", MCPServers: []string{"search"}}
	if opts.def != nil {
		def = *opts.def
	}
	agents, err := agent.NewRegistry(def)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	providers := provider.NewRegistry(prov.Name())
	providers.Register(prov)
	if tools == nil {
		tools = &fakeTools{}
	}
	notifier, err := task.NewHTTPPushNotificationSender(task.HTTPPushNotificationSenderConfig{
		Configs: store,
		Secret:  "s3cret",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewHTTPPushNotificationSender: %v", err)
	}
	replay := event.NewReplayCache(16, time.Minute)
	var execStore task.Store = store
	if opts.store != nil {
		execStore = opts.store
	}
	exec, err := NewExecutor(Config{
		Store:       execStore,
		PushConfigs: store,
		Notifier:    notifier,
		Agents:      agent.NewLoader(agents, providers, tools, nil),
		Tools:       tools,
		Replay:      replay,
	})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	t.Cleanup(func() {
		exec.Shutdown(context.Background())
		notifier.Wait()
	})
	return &harness{store: store, prov: prov, exec: exec, notifier: notifier, replay: replay}
}

func userMessage(text string) *agentcore.Message {
	msg := agentcore.NewMessage(agentcore.RoleUser, agentcore.NewTextPart(text))
	msg.ContextID = "ctx-1"
	return msg
}

func (h *harness) start(t *testing.T, msg *agentcore.Message, push *agentcore.PushNotificationConfig) *Stream {
	t.Helper()
	s, err := h.exec.CreateSSEStream(context.Background(), msg, "hello", "", NewRequestContext(testUser, testSession, ""), push)
	if err != nil {
		t.Fatalf("CreateSSEStream: %v", err)
	}
	return s
}

func collect(t *testing.T, s *Stream) []event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var out []event.Event
	for ev := range s.Events(ctx) {
		out = append(out, ev)
	}
	if ctx.Err() != nil {
		t.Fatalf("stream did not end, got %v", types(out))
	}
	return out
}

func types(evs []event.Event) []event.Type {
	out := make([]event.Type, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func checkOrdinals(t *testing.T, evs []event.Event) {
	t.Helper()
	for i, ev := range evs {
		if ev.Ordinal != int64(i+1) {
			t.Errorf("event %d %s has ordinal %d", i, ev.Type, ev.Ordinal)
		}
	}
}

func waitIdle(t *testing.T, e *Executor, id agentcore.TaskID) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for e.Running(id) {
		if time.Now().After(deadline) {
			t.Fatalf("task %s still running", id)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCreateSSEStreamHappyPath(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	h := newHarness(t, store, providertest.New(providertest.Turn{Text: []string{"po", "ng"}, Usage: agentcore.Usage{InputTokens: 3, OutputTokens: 2}}), nil)

	s := h.start(t, userMessage("ping"), nil)
	evs := collect(t, s)

	want := []event.Type{
		event.TypeTaskCreated,
		event.TypeTaskStatusChanged,
		event.TypeMessageDelta,
		event.TypeMessageDelta,
		event.TypeMessageComplete,
		event.TypeRunFinished,
	}
	if diff := cmp.Diff(want, types(evs)); diff != "" {
		t.Fatalf("event types mismatch (-want +got):\n%s", diff)
	}
	checkOrdinals(t, evs)

	if st := evs[1].Data.(event.StatusChanged).Status.State; st != agentcore.TaskStateWorking {
		t.Errorf("status_changed state = %s, want working", st)
	}
	delta := evs[2].Data.(event.MessageDelta)
	reply := evs[4].Data.(event.MessageComplete).Message
	if delta.MessageID != reply.MessageID {
		t.Errorf("delta message id %s != complete message id %s", delta.MessageID, reply.MessageID)
	}
	fin := evs[5].Data.(event.RunFinished)
	if fin.Task.Status.State != agentcore.TaskStateCompleted {
		t.Errorf("run.finished state = %s", fin.Task.Status.State)
	}
	if diff := cmp.Diff(&agentcore.Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}, fin.Usage); diff != "" {
		t.Errorf("usage mismatch (-want +got):\n%s", diff)
	}

	stored, err := store.GetTask(ctx, s.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if stored.Status.State != agentcore.TaskStateCompleted || stored.UserID != testUser || stored.AgentName != "hello" {
		t.Errorf("stored task = %+v", stored)
	}
	msgs, err := store.ListMessages(ctx, s.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, m := range msgs {
		got = append(got, string(m.Role)+":"+m.Text())
	}
	if diff := cmp.Diff([]string{"user:ping", "assistant:pong"}, got); diff != "" {
		t.Errorf("stored messages mismatch (-want +got):\n%s", diff)
	}
	agents, err := store.ListContextAgents(ctx, "ctx-1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"hello"}, agents); diff != "" {
		t.Errorf("context agents mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateSSEStreamToolCalls(t *testing.T) {
	tests := map[string]struct {
		result    *agentcore.CallToolResult
		wantError bool
	}{
		"Success": {
			result: &agentcore.CallToolResult{Content: []agentcore.ToolContent{{Type: agentcore.ContentText, Text: "result"}}},
		},
		"ToolErrorRecovers": {
			result:    &agentcore.CallToolResult{Content: []agentcore.ToolContent{{Type: agentcore.ContentText, Text: "rate limited"}}, IsError: true},
			wantError: true,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			prov := providertest.New(
				providertest.Turn{ToolCalls: []agentcore.ToolCall{{ID: "call_1", Name: "web_search", Arguments: map[string]any{"q": "x"}}}},
				providertest.Turn{Text: []string{"here you go"}},
			)
			h := newHarness(t, newStore(t), prov, &fakeTools{results: map[string]*agentcore.CallToolResult{"web_search": tt.result}})

			evs := collect(t, h.start(t, userMessage("search x"), nil))
			want := []event.Type{
				event.TypeTaskCreated,
				event.TypeTaskStatusChanged,
				event.TypeToolCallStart,
				event.TypeToolCallArgsDelta,
				event.TypeToolCallEnd,
				event.TypeToolCallResult,
				event.TypeMessageDelta,
				event.TypeMessageComplete,
				event.TypeRunFinished,
			}
			if diff := cmp.Diff(want, types(evs)); diff != "" {
				t.Fatalf("event types mismatch (-want +got):\n%s", diff)
			}
			checkOrdinals(t, evs)

			start := evs[2].Data.(event.ToolCallStart)
			end := evs[4].Data.(event.ToolCallEnd)
			res := evs[5].Data.(event.ToolCallResult)
			if start.ToolCallID != "call_1" || end.ToolCallID != start.ToolCallID || res.ToolCallID != start.ToolCallID {
				t.Errorf("tool call ids not linked: start=%s end=%s result=%s", start.ToolCallID, end.ToolCallID, res.ToolCallID)
			}
			if diff := cmp.Diff(map[string]any{"q": "x"}, end.Arguments); diff != "" {
				t.Errorf("tool arguments mismatch (-want +got):\n%s", diff)
			}
			if res.ExecutionID == "" {
				t.Error("tool result has no execution id")
			}
			if res.Result.IsError != tt.wantError {
				t.Errorf("result IsError = %v, want %v", res.Result.IsError, tt.wantError)
			}
			if st := evs[8].Data.(event.RunFinished).Task.Status.State; st != agentcore.TaskStateCompleted {
				t.Errorf("final state = %s, want completed", st)
			}
		})
	}
}

func TestCreateSSEStreamProviderFailure(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	h := newHarness(t, store, providertest.New(providertest.Turn{Err: &provider.ProviderError{Provider: "scripted", StatusCode: 500, Message: "boom"}}), nil)

	s := h.start(t, userMessage("ping"), nil)
	evs := collect(t, s)
	want := []event.Type{event.TypeTaskCreated, event.TypeTaskStatusChanged, event.TypeRunError}
	if diff := cmp.Diff(want, types(evs)); diff != "" {
		t.Fatalf("event types mismatch (-want +got):\n%s", diff)
	}
	re := evs[2].Data.(event.RunError)
	if re.Kind != agentcore.KindProvider.String() || re.Code != agentcore.KindProvider.RPCCode() {
		t.Errorf("run.error = %+v", re)
	}
	waitIdle(t, h.exec, s.TaskID)
	stored, err := store.GetTask(ctx, s.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status.State != agentcore.TaskStateFailed || stored.ErrorMessage == "" {
		t.Errorf("stored task state=%s error=%q, want failed with a message", stored.Status.State, stored.ErrorMessage)
	}
}

// webhookRecorder counts signed deliveries.
type webhookRecorder struct {
	mu     sync.Mutex
	bodies []task.Notification
	bad    int
}

func (w *webhookRecorder) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.mu.Lock()
	defer w.mu.Unlock()
	if !task.VerifySignature([]byte("s3cret"), body, r.Header.Get(agentcore.WebhookSignatureHeader)) {
		w.bad++
	}
	var n task.Notification
	if err := sonic.Unmarshal(body, &n); err == nil {
		w.bodies = append(w.bodies, n)
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (w *webhookRecorder) states() []agentcore.TaskState {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []agentcore.TaskState
	for _, n := range w.bodies {
		out = append(out, n.Status.State)
	}
	return out
}

func TestClientDisconnectCancelsTask(t *testing.T) {
	ctx := context.Background()
	hook := &webhookRecorder{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	store := newStore(t)
	h := newHarness(t, store, providertest.New(providertest.Turn{Text: []string{"partial"}, Hold: true}), nil)
	s := h.start(t, userMessage("long job"), &agentcore.PushNotificationConfig{URL: srv.URL})

	var seen []event.Type
	for ev := range s.Events(ctx) {
		seen = append(seen, ev.Type)
		if ev.Type == event.TypeMessageDelta {
			break
		}
	}
	want := []event.Type{event.TypeTaskCreated, event.TypeTaskStatusChanged, event.TypeMessageDelta}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("events before disconnect mismatch (-want +got):\n%s", diff)
	}

	waitIdle(t, h.exec, s.TaskID)
	h.notifier.Wait()

	stored, err := store.GetTask(ctx, s.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status.State != agentcore.TaskStateCanceled {
		t.Errorf("state after disconnect = %s, want canceled", stored.Status.State)
	}
	if diff := cmp.Diff([]agentcore.TaskState{agentcore.TaskStateCanceled}, hook.states()); diff != "" {
		t.Errorf("webhook deliveries mismatch (-want +got):\n%s", diff)
	}
	if hook.bad != 0 {
		t.Errorf("%d deliveries with a bad signature", hook.bad)
	}
}

func TestDuplicateClientMessageID(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	h := newHarness(t, store, providertest.New(providertest.Turn{Text: []string{"once"}}), nil)

	submit := func() *agentcore.Message {
		msg := userMessage("hi")
		msg.Metadata = map[string]any{agentcore.MetadataClientMessageID: "client-1"}
		return msg
	}
	first := h.start(t, submit(), nil)
	firstEvents := collect(t, first)
	second := h.start(t, submit(), nil)
	if !second.Replayed || second.TaskID != first.TaskID {
		t.Fatalf("second stream = %+v, want replay of %s", second, first.TaskID)
	}
	secondEvents := collect(t, second)

	summary := func(evs []event.Event) []string {
		var out []string
		for _, ev := range evs {
			out = append(out, fmt.Sprintf("%d %s %s", ev.Ordinal, ev.Type, ev.TaskID))
		}
		return out
	}
	if diff := cmp.Diff(summary(firstEvents), summary(secondEvents)); diff != "" {
		t.Errorf("replayed stream mismatch (-want +got):\n%s", diff)
	}
	if n := len(h.prov.Requests()); n != 1 {
		t.Errorf("provider saw %d requests, want 1", n)
	}
	msgs, err := store.ListContextMessages(ctx, "ctx-1")
	if err != nil {
		t.Fatal(err)
	}
	var users int
	for _, m := range msgs {
		if m.Role == agentcore.RoleUser {
			users++
		}
	}
	if users != 1 {
		t.Errorf("stored %d user messages, want 1", users)
	}

	// Once the replay cache has forgotten the run the store answers.
	h.replay.Forget(event.ReplayKey{ContextID: "ctx-1", ClientMessageID: "client-1"})
	third := h.start(t, submit(), nil)
	if !third.Replayed || third.TaskID != first.TaskID {
		t.Fatalf("third stream = %+v, want replay of %s", third, first.TaskID)
	}
	if diff := cmp.Diff([]event.Type{event.TypeTaskCreated, event.TypeRunFinished}, types(collect(t, third))); diff != "" {
		t.Errorf("stored replay mismatch (-want +got):\n%s", diff)
	}
}

// racingStore hides prior submissions from the duplicate check, as a
// concurrent request that has not committed yet would.
type racingStore struct {
	*task.DatabaseStore

	mu     sync.Mutex
	hidden int
}

func (s *racingStore) hide(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hidden = n
}

func (s *racingStore) FindByClientMessageID(ctx context.Context, contextID agentcore.ContextID, clientMessageID string) (*agentcore.Message, error) {
	s.mu.Lock()
	hide := s.hidden > 0
	if hide {
		s.hidden--
	}
	s.mu.Unlock()
	if hide {
		return nil, agentcore.NewNotFoundError("message", clientMessageID)
	}
	return s.DatabaseStore.FindByClientMessageID(ctx, contextID, clientMessageID)
}

func keyedMessage(text, client string) *agentcore.Message {
	msg := userMessage(text)
	msg.Metadata = map[string]any{agentcore.MetadataClientMessageID: client}
	return msg
}

// waitState polls the store until taskID reaches state.
func waitState(t *testing.T, store task.Store, taskID agentcore.TaskID, state agentcore.TaskState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if got, err := store.GetTask(context.Background(), taskID); err == nil && got.Status.State == state {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("task %s never reached %s", taskID, state)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDuplicateFollowsLiveRun(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	h := newHarness(t, store, providertest.New(providertest.Turn{Text: []string{"thinking"}, Hold: true}), nil)

	first := h.start(t, keyedMessage("long job", "client-1"), nil)
	firstEvents := make(chan []event.Event, 1)
	go func() {
		var out []event.Event
		for ev := range first.Events(ctx) {
			out = append(out, ev)
		}
		firstEvents <- out
	}()
	waitState(t, store, first.TaskID, agentcore.TaskStateWorking)

	// The cache no longer knows the run, but the run is still live.
	h.replay.Forget(event.ReplayKey{ContextID: "ctx-1", ClientMessageID: "client-1"})
	second := h.start(t, keyedMessage("long job", "client-1"), nil)
	if !second.Replayed || second.TaskID != first.TaskID {
		t.Fatalf("second stream = %+v, want to follow %s", second, first.TaskID)
	}

	if _, err := h.exec.Cancel(ctx, first.TaskID, testUser); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	evs := collect(t, second)
	if n := len(evs); n == 0 || !evs[n-1].Type.IsTerminal() {
		t.Fatalf("followed stream = %v, want a terminal last event", types(evs))
	}
	if diff := cmp.Diff(types(<-firstEvents), types(evs)); diff != "" {
		t.Errorf("followed stream mismatch (-want +got):\n%s", diff)
	}
	if n := len(h.prov.Requests()); n != 1 {
		t.Errorf("provider saw %d requests, want 1", n)
	}
}

func TestStoredRecordingEndsTerminal(t *testing.T) {
	tests := map[string]struct {
		state agentcore.TaskState
		want  []event.Type
	}{
		"Completed":     {state: agentcore.TaskStateCompleted, want: []event.Type{event.TypeTaskCreated, event.TypeRunFinished}},
		"Rejected":      {state: agentcore.TaskStateRejected, want: []event.Type{event.TypeTaskCreated, event.TypeRunFinished}},
		"Canceled":      {state: agentcore.TaskStateCanceled, want: []event.Type{event.TypeTaskCreated, event.TypeTaskCanceled}},
		"Failed":        {state: agentcore.TaskStateFailed, want: []event.Type{event.TypeTaskCreated, event.TypeRunError}},
		"InputRequired": {state: agentcore.TaskStateInputRequired, want: []event.Type{event.TypeTaskCreated, event.TypeTaskStatusChanged, event.TypeRunFinished}},
		"AuthRequired":  {state: agentcore.TaskStateAuthRequired, want: []event.Type{event.TypeTaskCreated, event.TypeTaskStatusChanged, event.TypeRunFinished}},
		"Working":       {state: agentcore.TaskStateWorking, want: []event.Type{event.TypeTaskCreated, event.TypeTaskStatusChanged, event.TypeRunError}},
		"Submitted":     {state: agentcore.TaskStateSubmitted, want: []event.Type{event.TypeTaskCreated, event.TypeTaskStatusChanged, event.TypeRunError}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			tk := agentcore.NewTask("task-1", "ctx-1", time.Unix(0, 0))
			tk.Status.State = tt.state
			evs := storedRecording(tk).Events()
			if diff := cmp.Diff(tt.want, types(evs)); diff != "" {
				t.Errorf("event types mismatch (-want +got):\n%s", diff)
			}
			checkOrdinals(t, evs)
		})
	}
}

func TestConcurrentDuplicateFollowsWinner(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	racing := &racingStore{DatabaseStore: store}
	h := newHarnessWith(t, store, providertest.New(providertest.Turn{Text: []string{"once"}}), nil, harnessOptions{store: racing})

	first := h.start(t, keyedMessage("hi", "client-1"), nil)
	collect(t, first)
	waitIdle(t, h.exec, first.TaskID)

	// The second request misses the prior submission and loses the insert.
	h.replay.Forget(event.ReplayKey{ContextID: "ctx-1", ClientMessageID: "client-1"})
	racing.hide(1)
	second := h.start(t, keyedMessage("hi", "client-1"), nil)
	if second.Replayed || second.TaskID == first.TaskID {
		t.Fatalf("second stream = %+v, want a fresh run", second)
	}
	evs := collect(t, second)
	if diff := cmp.Diff([]event.Type{event.TypeTaskCreated, event.TypeRunFinished}, types(evs)); diff != "" {
		t.Fatalf("event types mismatch (-want +got):\n%s", diff)
	}
	checkOrdinals(t, evs)
	for _, ev := range evs {
		if ev.TaskID != first.TaskID {
			t.Errorf("event %s belongs to %s, want %s", ev.Type, ev.TaskID, first.TaskID)
		}
	}
	waitIdle(t, h.exec, second.TaskID)

	loser, err := store.GetTask(ctx, second.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if loser.Status.State != agentcore.TaskStateRejected {
		t.Errorf("losing task state = %s, want rejected", loser.Status.State)
	}
	if n := len(h.prov.Requests()); n != 1 {
		t.Errorf("provider saw %d requests, want 1", n)
	}

	// Later duplicates are answered from the winner.
	third := h.start(t, keyedMessage("hi", "client-1"), nil)
	if !third.Replayed || third.TaskID != first.TaskID {
		t.Fatalf("third stream = %+v, want a replay of %s", third, first.TaskID)
	}
	if diff := cmp.Diff(types(evs), types(collect(t, third))); diff != "" {
		t.Errorf("replay mismatch (-want +got):\n%s", diff)
	}
}

func TestInputRequiredResume(t *testing.T) {
	ctx := context.Background()
	hook := &webhookRecorder{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	store := newStore(t)
	prov := providertest.New(
		providertest.Turn{ToolCalls: []agentcore.ToolCall{{ID: "call_q", Name: toolmap.RequestUserInput, Arguments: map[string]any{"question": "Which city?"}}}},
		providertest.Turn{Text: []string{"Booked Paris"}},
	)
	def := agent.Definition{Name: "hello", Interrupts: []agentcore.TaskState{agentcore.TaskStateInputRequired}}
	h := newHarnessWith(t, store, prov, nil, harnessOptions{def: &def})
	push := &agentcore.PushNotificationConfig{URL: srv.URL}

	first := h.start(t, userMessage("book a trip"), push)
	evs := collect(t, first)
	want := []event.Type{event.TypeTaskCreated, event.TypeTaskStatusChanged, event.TypeTaskStatusChanged, event.TypeRunFinished}
	if diff := cmp.Diff(want, types(evs)); diff != "" {
		t.Fatalf("first run event types mismatch (-want +got):\n%s", diff)
	}
	checkOrdinals(t, evs)
	asked := evs[2].Data.(event.StatusChanged).Status
	if asked.State != agentcore.TaskStateInputRequired || asked.Message == nil || asked.Message.Text() != "Which city?" {
		t.Errorf("interrupt status = %+v", asked)
	}
	if st := evs[3].Data.(event.RunFinished).Task.Status.State; st != agentcore.TaskStateInputRequired {
		t.Errorf("run.finished state = %s, want input-required", st)
	}
	waitIdle(t, h.exec, first.TaskID)

	answer := userMessage("Paris")
	answer.TaskID = first.TaskID
	second := h.start(t, answer, push)
	if second.TaskID != first.TaskID {
		t.Fatalf("resumed task id = %s, want %s", second.TaskID, first.TaskID)
	}
	evs = collect(t, second)
	want = []event.Type{event.TypeTaskStatusChanged, event.TypeMessageDelta, event.TypeMessageComplete, event.TypeRunFinished}
	if diff := cmp.Diff(want, types(evs)); diff != "" {
		t.Fatalf("resumed run event types mismatch (-want +got):\n%s", diff)
	}
	if st := evs[0].Data.(event.StatusChanged).Status.State; st != agentcore.TaskStateWorking {
		t.Errorf("resumed state = %s, want working", st)
	}
	if st := evs[3].Data.(event.RunFinished).Task.Status.State; st != agentcore.TaskStateCompleted {
		t.Errorf("final state = %s, want completed", st)
	}
	waitIdle(t, h.exec, first.TaskID)
	h.notifier.Wait()

	msgs, err := store.ListMessages(ctx, first.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, m := range msgs {
		got = append(got, string(m.Role)+":"+m.Text())
	}
	wantMsgs := []string{"user:book a trip", "assistant:Which city?", "user:Paris", "assistant:Booked Paris"}
	if diff := cmp.Diff(wantMsgs, got); diff != "" {
		t.Errorf("stored messages mismatch (-want +got):\n%s", diff)
	}

	// The question reached the model on resume.
	reqs := prov.Requests()
	if len(reqs) != 2 {
		t.Fatalf("provider saw %d requests, want 2", len(reqs))
	}
	var history []string
	for _, m := range reqs[1].Base.Messages {
		history = append(history, m.Content)
	}
	if !slices.Contains(history, "Which city?") || !slices.Contains(history, "Paris") {
		t.Errorf("resumed conversation = %q", history)
	}

	// Resuming with the same webhook keeps one registration.
	configs, err := store.List(ctx, first.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if len(configs) != 1 {
		t.Errorf("task has %d push configs, want 1", len(configs))
	}
	if diff := cmp.Diff([]agentcore.TaskState{agentcore.TaskStateCompleted}, hook.states()); diff != "" {
		t.Errorf("webhook deliveries mismatch (-want +got):\n%s", diff)
	}
}

func TestRejectBeforeWork(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	prov := providertest.New(providertest.Turn{ToolCalls: []agentcore.ToolCall{{ID: "call_r", Name: toolmap.RejectTask, Arguments: map[string]any{"reason": "out of scope"}}}})
	def := agent.Definition{Name: "hello", Interrupts: []agentcore.TaskState{agentcore.TaskStateRejected}}
	h := newHarnessWith(t, store, prov, nil, harnessOptions{def: &def})

	s := h.start(t, userMessage("write my thesis"), nil)
	evs := collect(t, s)
	want := []event.Type{event.TypeTaskCreated, event.TypeTaskStatusChanged, event.TypeRunFinished}
	if diff := cmp.Diff(want, types(evs)); diff != "" {
		t.Fatalf("event types mismatch (-want +got):\n%s", diff)
	}
	sc := evs[1].Data.(event.StatusChanged)
	if sc.Status.State != agentcore.TaskStateRejected || !sc.Final {
		t.Errorf("status_changed = %+v, want final rejected", sc)
	}
	waitIdle(t, h.exec, s.TaskID)
	stored, err := store.GetTask(ctx, s.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status.State != agentcore.TaskStateRejected || stored.Status.Message.Text() != "out of scope" {
		t.Errorf("stored status = %+v", stored.Status)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	h := newHarness(t, store, providertest.New(providertest.Turn{Text: []string{"thinking"}, Hold: true}), nil)
	s := h.start(t, userMessage("long job"), nil)

	events := make(chan []event.Event, 1)
	go func() {
		var out []event.Event
		for ev := range s.Events(ctx) {
			out = append(out, ev)
		}
		events <- out
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if got, err := store.GetTask(ctx, s.TaskID); err == nil && got.Status.State == agentcore.TaskStateWorking {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task never started working")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := h.exec.Cancel(ctx, s.TaskID, "someone-else"); agentcore.KindOf(err) != agentcore.KindAuth {
		t.Errorf("Cancel by another user = %v, want auth error", err)
	}
	got, err := h.exec.Cancel(ctx, s.TaskID, testUser)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status.State != agentcore.TaskStateCanceled {
		t.Errorf("Cancel returned state %s", got.Status.State)
	}

	evs := <-events
	if n := len(evs); n == 0 || evs[n-1].Type != event.TypeTaskCanceled {
		t.Errorf("stream = %v, want it to end with task.canceled", types(evs))
	}
	checkOrdinals(t, evs)

	if _, err := h.exec.Cancel(ctx, s.TaskID, testUser); agentcore.KindOf(err) != agentcore.KindInvalidTaskState {
		t.Errorf("second Cancel = %v, want invalid task state", err)
	}
}

func TestCreateSSEStreamRejects(t *testing.T) {
	tests := map[string]struct {
		msg   func() *agentcore.Message
		agent string
		user  agentcore.UserID
		want  agentcore.ErrorKind
	}{
		"UnknownAgent": {
			msg:   func() *agentcore.Message { return userMessage("hi") },
			agent: "ghost",
			want:  agentcore.KindNotFound,
		},
		"AssistantRole": {
			msg: func() *agentcore.Message {
				m := userMessage("hi")
				m.Role = agentcore.RoleAssistant
				return m
			},
			want: agentcore.KindValidation,
		},
		"ForeignContext": {
			msg:  func() *agentcore.Message { return userMessage("hi") },
			user: "intruder",
			want: agentcore.KindAuth,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			if err := store.ClaimContext(ctx, "ctx-1", testUser); err != nil {
				t.Fatal(err)
			}
			h := newHarness(t, store, providertest.New(), nil)
			agentName := tt.agent
			if agentName == "" {
				agentName = "hello"
			}
			user := tt.user
			if user == "" {
				user = testUser
			}
			_, err := h.exec.CreateSSEStream(ctx, tt.msg(), agentName, "", NewRequestContext(user, testSession, ""), nil)
			if got := agentcore.KindOf(err); got != tt.want {
				t.Errorf("CreateSSEStream error = %v (kind %s), want %s", err, got, tt.want)
			}
			tasks, err := store.ListTasksByContext(ctx, "ctx-1")
			if err != nil {
				t.Fatal(err)
			}
			if len(tasks) != 0 {
				t.Errorf("rejected request created %d tasks", len(tasks))
			}
		})
	}
}

func TestResumeFinishedTask(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newStore(t), providertest.New(providertest.Turn{Text: []string{"done"}}), nil)
	s := h.start(t, userMessage("hi"), nil)
	collect(t, s)
	waitIdle(t, h.exec, s.TaskID)

	msg := userMessage("again")
	msg.TaskID = s.TaskID
	_, err := h.exec.CreateSSEStream(ctx, msg, "hello", "", NewRequestContext(testUser, testSession, ""), nil)
	if agentcore.KindOf(err) != agentcore.KindInvalidTaskState {
		t.Errorf("message to a completed task = %v, want invalid task state", err)
	}
}

func TestSessionBroadcast(t *testing.T) {
	h := newHarness(t, newStore(t), providertest.New(providertest.Turn{Text: []string{"ok"}}), nil)
	sub, unsubscribe := h.exec.Broadcaster().Subscribe(testSession)
	defer unsubscribe()

	s := h.start(t, userMessage("hi"), nil)
	collect(t, s)
	select {
	case ev := <-sub:
		if ev.Type != event.TypeTaskCreated || ev.TaskID != s.TaskID {
			t.Errorf("broadcast event = %v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no task.created broadcast for the session")
	}
}
