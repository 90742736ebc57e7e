// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent_execution runs agents for A2A requests: it prepares the task,
// drives the message processor and turns its output into an ordered,
// persisted stream of events.
package agent_execution

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/agent"
	"github.com/go-a2a/agentcore/internal/observability"
	"github.com/go-a2a/agentcore/server/event"
	"github.com/go-a2a/agentcore/server/task"
)

const tracerName = "github.com/go-a2a/agentcore/server/agent_execution"

var (
	// ErrClientDisconnected is the cancel cause of a run whose consumer left.
	ErrClientDisconnected = errors.New("client disconnected")
	// ErrCanceledByRequest is the cancel cause of tasks/cancel.
	ErrCanceledByRequest = errors.New("task canceled by request")
	// ErrShuttingDown is the cancel cause of runs stopped by Shutdown.
	ErrShuttingDown = errors.New("executor shutting down")
)

// AgentExecutor starts and cancels agent runs.
type AgentExecutor interface {
	// CreateSSEStream starts a run for msg and returns its event stream.
	CreateSSEStream(ctx context.Context, msg *agentcore.Message, agentName string, requestID agentcore.RequestID, rc *RequestContext, push *agentcore.PushNotificationConfig) (*Stream, error)
	// Cancel cancels taskID on behalf of user and returns the task once the
	// cancellation is persisted.
	Cancel(ctx context.Context, taskID agentcore.TaskID, user agentcore.UserID) (*agentcore.Task, error)
}

// Notifier delivers task updates to registered webhooks in the background.
type Notifier interface {
	NotifyAsync(ctx context.Context, t *agentcore.Task)
}

// Config holds the collaborators of an [Executor].
type Config struct {
	Store       task.Store
	PushConfigs task.PushNotificationConfigStore
	// Notifier may be nil when webhooks are disabled.
	Notifier Notifier
	Agents   *agent.Loader
	// Tools may be nil when no MCP servers are configured.
	Tools        agent.ToolClient
	Queues       *event.QueueManager
	Broadcaster  *event.Broadcaster
	Replay       *event.ReplayCache
	MaxToolTurns int
	Metrics      *observability.Metrics
	Logger       *slog.Logger
	Tracer       trace.Tracer
	Clock        func() time.Time
}

// Executor is the streaming event loop. It is safe for concurrent use; each
// run owns one task and one queue.
type Executor struct {
	store        task.Store
	pushConfigs  task.PushNotificationConfigStore
	notifier     Notifier
	agents       *agent.Loader
	tools        agent.ToolClient
	queues       *event.QueueManager
	broadcaster  *event.Broadcaster
	replay       *event.ReplayCache
	maxToolTurns int
	metrics      *observability.Metrics
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time

	mu   sync.Mutex
	runs map[agentcore.TaskID]*liveRun
}

// liveRun is the bookkeeping of a run in progress.
type liveRun struct {
	done chan struct{}
	// rec is set when the run answers a message with a client message id.
	rec *event.Recording
}

var _ AgentExecutor = (*Executor)(nil)

// NewExecutor returns an executor over cfg.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Store == nil {
		return nil, errors.New("executor: store cannot be nil")
	}
	if cfg.Agents == nil {
		return nil, errors.New("executor: agent loader cannot be nil")
	}
	e := &Executor{
		store:        cfg.Store,
		pushConfigs:  cfg.PushConfigs,
		notifier:     cfg.Notifier,
		agents:       cfg.Agents,
		tools:        cfg.Tools,
		queues:       cfg.Queues,
		broadcaster:  cfg.Broadcaster,
		replay:       cfg.Replay,
		maxToolTurns: cfg.MaxToolTurns,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		tracer:       cfg.Tracer,
		now:          cfg.Clock,
		runs:         make(map[agentcore.TaskID]*liveRun),
	}
	if e.queues == nil {
		e.queues = event.NewQueueManager()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.broadcaster == nil {
		e.broadcaster = event.NewBroadcaster(0, e.logger)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Broadcaster returns the session fan-out used for task-created events.
func (e *Executor) Broadcaster() *event.Broadcaster { return e.broadcaster }

// Stream is the consumer side of one run, or the replay of an earlier one.
type Stream struct {
	TaskID    agentcore.TaskID
	ContextID agentcore.ContextID
	RequestID agentcore.RequestID
	// Replayed is set when the stream answers a duplicate submission.
	Replayed bool

	queue *event.Queue
	rec   *event.Recording
}

// Events yields the events of the stream in order until the terminal event
// or until ctx ends. A consumer that stops early cancels a live run.
func (s *Stream) Events(ctx context.Context) iter.Seq[event.Event] {
	if s.Replayed {
		return s.rec.Follow(ctx)
	}
	return s.queue.All(ctx)
}

// Close detaches the consumer. A live run observes it and is canceled.
func (s *Stream) Close() {
	if s.queue != nil {
		s.queue.Detach()
	}
}

// CreateSSEStream validates the request, starts the run in the background
// and returns its stream. Caller errors such as malformed input, foreign
// ownership or a finished task are returned directly; failures past that
// point are reported on the stream.
func (e *Executor) CreateSSEStream(ctx context.Context, msg *agentcore.Message, agentName string, requestID agentcore.RequestID, rc *RequestContext, push *agentcore.PushNotificationConfig) (*Stream, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, agentcore.NewValidationError("message", "missing message")
	}
	msg = msg.Clone()
	msg.Normalize()
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if msg.Role != agentcore.RoleUser {
		return nil, agentcore.NewValidationError("message.role", "only user messages start a run")
	}
	if push != nil {
		if err := push.Validate(); err != nil {
			return nil, err
		}
	}
	if _, err := e.agents.Agents().Get(agentName); err != nil {
		return nil, err
	}
	if msg.ContextID == "" {
		msg.ContextID = agentcore.NewContextID()
	}
	if requestID == "" {
		requestID = agentcore.NewRequestID()
	}
	if err := e.store.ClaimContext(ctx, msg.ContextID, rc.UserID); err != nil {
		return nil, err
	}

	var key *event.ReplayKey
	if cmid := msg.ClientMessageID(); cmid != "" {
		key = &event.ReplayKey{ContextID: msg.ContextID, ClientMessageID: cmid}
		if s, err := e.replayed(ctx, *key, requestID); s != nil || err != nil {
			return s, err
		}
	}

	var resume *agentcore.Task
	if msg.TaskID != "" {
		t, err := e.store.GetTask(ctx, msg.TaskID)
		switch {
		case agentcore.KindOf(err) == agentcore.KindNotFound:
		case err != nil:
			return nil, err
		case t.UserID != "" && t.UserID != rc.UserID:
			return nil, agentcore.NewAuthError("task", "task belongs to another user")
		case t.ContextID != msg.ContextID:
			return nil, agentcore.NewValidationError("message.contextId", "task belongs to another context")
		case t.Status.State.IsTerminal():
			return nil, agentcore.NewInvalidTaskStateError(t.ID, t.Status.State, agentcore.EventResume)
		default:
			resume = t
		}
	} else {
		msg.TaskID = agentcore.NewTaskID()
	}

	var rec *event.Recording
	if key != nil && e.replay != nil {
		r, existed := e.replay.Begin(*key, msg.TaskID)
		if existed {
			return &Stream{TaskID: r.TaskID(), ContextID: msg.ContextID, RequestID: requestID, Replayed: true, rec: r}, nil
		}
		rec = r
	} else if key != nil {
		rec = event.NewRecording(msg.TaskID)
	}

	q := event.NewQueue()
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	if err := e.queues.Add(msg.TaskID, q, cancel); err != nil {
		cancel(nil)
		if rec != nil {
			e.replay.Forget(*key)
		}
		return nil, err
	}
	done := make(chan struct{})
	e.mu.Lock()
	e.runs[msg.TaskID] = &liveRun{done: done, rec: rec}
	e.mu.Unlock()

	rcCopy := *rc
	rcCopy.AgentName = agentName
	r := &run{
		Executor:  e,
		msg:       msg,
		requestID: requestID,
		rc:        &rcCopy,
		push:      push.Clone(),
		resume:    resume,
		queue:     q,
		rec:       rec,
		key:       key,
		logger: e.logger.With(
			slog.String("task_id", string(msg.TaskID)),
			slog.String("context_id", string(msg.ContextID)),
			slog.String("agent_name", agentName),
			slog.String("request_id", string(requestID)),
		),
	}
	go func() {
		select {
		case <-q.Done():
			cancel(ErrClientDisconnected)
		case <-done:
		}
	}()
	go func() {
		defer close(done)
		defer cancel(nil)
		r.execute(runCtx)
	}()

	return &Stream{TaskID: msg.TaskID, ContextID: msg.ContextID, RequestID: requestID, queue: q}, nil
}

// replayed answers a resubmission of a client message id: from the replay
// cache while the original run is recent, from the live run or the store
// afterwards. It returns a nil stream for a first submission.
func (e *Executor) replayed(ctx context.Context, key event.ReplayKey, requestID agentcore.RequestID) (*Stream, error) {
	if e.replay != nil {
		if rec, ok := e.replay.Lookup(key); ok {
			e.logger.InfoContext(ctx, "duplicate submission, replaying the original run",
				slog.String("context_id", string(key.ContextID)),
				slog.String("client_message_id", key.ClientMessageID),
			)
			return &Stream{TaskID: rec.TaskID(), ContextID: key.ContextID, RequestID: requestID, Replayed: true, rec: rec}, nil
		}
	}
	return e.prior(ctx, key, requestID)
}

// prior answers a resubmission from the live run or the store, bypassing the
// replay cache.
func (e *Executor) prior(ctx context.Context, key event.ReplayKey, requestID agentcore.RequestID) (*Stream, error) {
	prior, err := e.store.FindByClientMessageID(ctx, key.ContextID, key.ClientMessageID)
	if agentcore.KindOf(err) == agentcore.KindNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec := e.recording(prior.TaskID); rec != nil {
		e.logger.InfoContext(ctx, "duplicate submission, following the live run",
			slog.String("task_id", string(prior.TaskID)),
			slog.String("client_message_id", key.ClientMessageID),
		)
		return &Stream{TaskID: prior.TaskID, ContextID: key.ContextID, RequestID: requestID, Replayed: true, rec: rec}, nil
	}
	t, err := e.store.GetTask(ctx, prior.TaskID)
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "duplicate submission, replaying the stored task",
		slog.String("task_id", string(t.ID)),
		slog.String("client_message_id", key.ClientMessageID),
	)
	return &Stream{TaskID: t.ID, ContextID: t.ContextID, RequestID: requestID, Replayed: true, rec: storedRecording(t)}, nil
}

// storedRecording summarizes a stored task as a finished stream. It ends
// with a terminal event whatever state the task is in.
func storedRecording(t *agentcore.Task) *event.Recording {
	rec := event.NewRecording(t.ID)
	payloads := []event.Payload{event.TaskCreated{Task: t}}
	switch st := t.Status.State.Normalize(); {
	case st == agentcore.TaskStateCompleted, st == agentcore.TaskStateRejected:
		payloads = append(payloads, event.RunFinished{Task: t})
	case st == agentcore.TaskStateCanceled:
		payloads = append(payloads, event.TaskCanceled{Status: t.Status})
	case st == agentcore.TaskStateFailed:
		payloads = append(payloads, event.RunError{
			Kind:    agentcore.KindInternal.String(),
			Code:    agentcore.KindInternal.RPCCode(),
			Message: t.ErrorMessage,
		})
	case st.IsInterrupted():
		payloads = append(payloads, event.StatusChanged{Status: t.Status}, event.RunFinished{Task: t})
	default:
		// Submitted or working without a live run: the run that owned it
		// died with its process.
		payloads = append(payloads, event.StatusChanged{Status: t.Status}, event.RunError{
			Kind:    agentcore.KindInternal.String(),
			Code:    agentcore.KindInternal.RPCCode(),
			Message: "task is no longer running",
		})
	}
	for i, p := range payloads {
		ev := event.New(t.ID, t.ContextID, p)
		ev.Ordinal = int64(i + 1)
		rec.Append(ev)
	}
	rec.Finish()
	return rec
}

// Cancel cancels taskID. A running task is signaled and awaited; a stored
// one is moved to canceled directly.
func (e *Executor) Cancel(ctx context.Context, taskID agentcore.TaskID, user agentcore.UserID) (*agentcore.Task, error) {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if user != "" && t.UserID != "" && t.UserID != user {
		return nil, agentcore.NewAuthError("task", "task belongs to another user")
	}
	if t.Status.State.IsTerminal() {
		return nil, agentcore.NewInvalidTaskStateError(taskID, t.Status.State, agentcore.EventCancel)
	}

	e.mu.Lock()
	live, running := e.runs[taskID]
	e.mu.Unlock()
	if running && e.queues.Cancel(taskID, ErrCanceledByRequest) {
		select {
		case <-live.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return e.store.GetTask(ctx, taskID)
	}

	u, err := task.NewTaskUpdater(task.TaskUpdaterConfig{TaskID: taskID, Store: e.store, Clock: e.now, Logger: e.logger})
	if err != nil {
		return nil, err
	}
	t, err = u.Cancel(ctx)
	if err != nil {
		return nil, err
	}
	e.finished(ctx, t)
	return t, nil
}

// Running reports whether taskID has a live run.
func (e *Executor) Running(taskID agentcore.TaskID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runs[taskID]
	return ok
}

// recording returns the recording of the live run on taskID, if any.
func (e *Executor) recording(taskID agentcore.TaskID) *event.Recording {
	e.mu.Lock()
	defer e.mu.Unlock()
	if live, ok := e.runs[taskID]; ok {
		return live.rec
	}
	return nil
}

// Shutdown cancels every live run and waits until each has persisted its
// outcome or ctx ends.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	pending := make([]chan struct{}, 0, len(e.runs))
	for id, live := range e.runs {
		e.queues.Cancel(id, ErrShuttingDown)
		pending = append(pending, live.done)
	}
	e.mu.Unlock()
	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// finished reports a terminal task to metrics and webhooks.
func (e *Executor) finished(ctx context.Context, t *agentcore.Task) {
	e.metrics.TaskFinished(t.AgentName, string(t.Status.State))
	if e.notifier != nil {
		e.notifier.NotifyAsync(context.WithoutCancel(ctx), t)
	}
}

func (e *Executor) forget(taskID agentcore.TaskID) {
	e.queues.Remove(taskID)
	e.mu.Lock()
	delete(e.runs, taskID)
	e.mu.Unlock()
}
