// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agent_execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/agent"
	"github.com/go-a2a/agentcore/server/event"
	"github.com/go-a2a/agentcore/server/task"
)

// run is the producer side of one stream.
type run struct {
	*Executor
	msg       *agentcore.Message
	requestID agentcore.RequestID
	rc        *RequestContext
	push      *agentcore.PushNotificationConfig
	// resume is the interrupted task msg answers, if any.
	resume *agentcore.Task
	queue  *event.Queue
	rec    *event.Recording
	key    *event.ReplayKey
	logger *slog.Logger

	updater task.TaskUpdater
	state   agentcore.TaskState
	// created is set once the task row exists.
	created bool
	// stored is set once the user message is persisted.
	stored  bool
	ordinal int64
	ended   bool
	// gone is set once the consumer detached.
	gone bool
}

func (r *run) execute(ctx context.Context) {
	ctx, span := r.tracer.Start(ctx, "agentcore.executor.run",
		trace.WithAttributes(
			attribute.String("a2a.task_id", string(r.msg.TaskID)),
			attribute.String("a2a.context_id", string(r.msg.ContextID)),
			attribute.String("agent.name", r.rc.AgentName),
		))
	defer span.End()
	defer func() {
		r.forget(r.msg.TaskID)
		r.queue.Close()
		if r.rec != nil {
			r.rec.Finish()
		}
	}()

	if err := r.loop(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.fail(ctx, err)
	}
	if !r.ended {
		if ctx.Err() != nil || r.gone {
			r.cancelTask(ctx)
			return
		}
		r.fail(ctx, agentcore.NewInternalError("executor", "processor stream ended without a result"))
	}
}

// prepare persists the task and the user message and resolves the agent.
func (r *run) prepare(ctx context.Context) (*agent.Processor, error) {
	rt, err := r.agents.Load(ctx, r.rc.AgentName)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	r.rc.MCPServers = rt.MCPServers

	if r.resume == nil {
		t := agentcore.NewTask(r.msg.TaskID, r.msg.ContextID, r.now())
		if err := r.store.CreateTask(ctx, t, r.rc.UserID, r.rc.SessionID, r.rc.TraceID, r.rc.AgentName); err != nil {
			return nil, err
		}
		r.state = agentcore.TaskStateSubmitted
	} else {
		r.state = r.resume.Status.State.Normalize()
	}
	r.created = true

	r.updater, err = task.NewTaskUpdater(task.TaskUpdaterConfig{TaskID: r.msg.TaskID, Store: r.store, Clock: r.now, Logger: r.logger})
	if err != nil {
		return nil, err
	}
	if _, err := r.store.AppendMessage(ctx, r.msg.TaskID, r.msg.ContextID, r.msg); err != nil {
		if task.IsDuplicateClientMessage(err) && r.key != nil {
			return nil, r.follow(ctx)
		}
		return nil, err
	}
	r.stored = true
	if err := r.store.TrackAgentInContext(ctx, r.msg.ContextID, r.rc.AgentName); err != nil {
		return nil, err
	}

	if r.resume == nil {
		t, err := r.store.GetTask(ctx, r.msg.TaskID)
		if err != nil {
			return nil, err
		}
		ev, ok := r.emit(ctx, event.TaskCreated{Task: t})
		if !ok {
			return nil, nil
		}
		if r.rc.SessionID != "" {
			r.broadcaster.Publish(r.rc.SessionID, ev)
		}
	}

	if err := r.registerPush(ctx); err != nil {
		return nil, fmt.Errorf("register push notification config: %w", err)
	}

	return agent.NewProcessor(agent.ProcessorConfig{
		Runtime:      rt,
		Tools:        r.tools,
		Executions:   r.store,
		MaxToolTurns: r.maxToolTurns,
		Logger:       r.logger,
		Tracer:       r.tracer,
		Clock:        r.now,
	})
}

// registerPush adds the webhook of the request unless the task already
// notifies the same URL, as it does when a resumed task repeats its config.
func (r *run) registerPush(ctx context.Context) error {
	if r.push == nil || r.pushConfigs == nil {
		return nil
	}
	if r.resume != nil {
		existing, err := r.pushConfigs.List(ctx, r.msg.TaskID)
		if err != nil {
			return err
		}
		for _, c := range existing {
			if c.URL == r.push.URL {
				return nil
			}
		}
	}
	_, err := r.pushConfigs.Add(ctx, r.msg.TaskID, r.push)
	return err
}

// follow relays the run that won a concurrent submission of the same client
// message id. The task created for this submission is rejected and later
// duplicates are answered from the winner.
func (r *run) follow(ctx context.Context) error {
	r.logger.InfoContext(ctx, "client message id taken by a concurrent submission")
	if r.replay != nil {
		r.replay.Forget(*r.key)
	}
	if r.resume == nil {
		if _, err := r.updater.Reject(ctx, nil); err != nil {
			r.logger.WarnContext(ctx, "failed to reject the losing task", slog.Any("error", err))
		}
	}
	s, err := r.prior(ctx, *r.key, r.requestID)
	if err != nil {
		return err
	}
	if s == nil {
		return agentcore.NewInternalError("executor", "client message id taken but no prior submission found")
	}
	r.ended = true
	for ev := range s.Events(ctx) {
		r.ordinal++
		ev.Ordinal = r.ordinal
		if r.rec != nil {
			r.rec.Append(ev)
		}
		if _, err := r.queue.Push(ev); err != nil {
			r.gone = r.gone || errors.Is(err, event.ErrConsumerGone)
			break
		}
	}
	return nil
}

// loop runs the processor and writes every chunk through to the store
// before it is emitted.
func (r *run) loop(ctx context.Context) error {
	proc, err := r.prepare(ctx)
	if err != nil || proc == nil {
		return err
	}
	history, err := r.store.ListContextMessages(ctx, r.msg.ContextID)
	if err != nil {
		return err
	}
	// Deltas and the final message share one id.
	replyID := agentcore.NewMessageID()

	req := agent.Request{
		TaskID:    r.msg.TaskID,
		ContextID: r.msg.ContextID,
		UserID:    r.rc.UserID,
		SessionID: r.rc.SessionID,
		TraceID:   r.rc.TraceID,
		History:   history,
		Message:   r.msg,
		Resuming:  r.resume != nil,
	}
	for chunk := range proc.ProcessMessageStream(ctx, req) {
		ok, err := r.handle(ctx, chunk, replyID)
		if err != nil {
			return err
		}
		if !ok || r.ended {
			return nil
		}
	}
	return nil
}

// handle applies one chunk. It reports false once the stream must stop.
func (r *run) handle(ctx context.Context, chunk agent.Chunk, replyID agentcore.MessageID) (bool, error) {
	switch c := chunk.(type) {
	case agent.Status:
		return r.transition(ctx, c.State, c.Message)

	case agent.TextDelta:
		_, ok := r.emit(ctx, event.MessageDelta{MessageID: replyID, Delta: c.Text})
		return ok, nil

	case agent.ToolCallStarted:
		_, ok := r.emit(ctx, event.ToolCallStart{ToolCallID: c.ID, ToolName: c.ToolName, PartialArgs: c.PartialArgs})
		return ok, nil

	case agent.ToolCallArgsDelta:
		_, ok := r.emit(ctx, event.ToolCallArgsDelta{ToolCallID: c.ID, Fragment: c.Fragment})
		return ok, nil

	case agent.ToolCallCompleted:
		_, ok := r.emit(ctx, event.ToolCallEnd{ToolCallID: c.ID, ToolName: c.ToolName, Arguments: c.Arguments})
		return ok, nil

	case agent.ToolResult:
		_, ok := r.emit(ctx, event.ToolCallResult{ToolCallID: c.ID, ToolName: c.ToolName, ExecutionID: c.ExecutionID, Result: c.Result})
		return ok, nil

	case agent.Artifact:
		if err := r.store.PersistArtifact(ctx, r.msg.TaskID, r.msg.ContextID, c.Artifact); err != nil {
			return false, err
		}
		_, ok := r.emit(ctx, event.ArtifactProduced{Artifact: c.Artifact})
		return ok, nil

	case agent.Error:
		return false, c.Err

	case agent.Final:
		return false, r.complete(ctx, c, replyID)
	}
	return true, nil
}

// transition persists a state change requested by the processor. An
// interrupted state ends the run and the next message resumes it; a
// rejection ends the task. The message handed back with either joins the
// context history.
func (r *run) transition(ctx context.Context, to agentcore.TaskState, msg *agentcore.Message) (bool, error) {
	to = to.Normalize()
	if to == r.state {
		return true, nil
	}
	ev, ok := agentcore.EventFor(r.state, to)
	if !ok {
		return false, agentcore.NewInternalError("executor", fmt.Sprintf("no transition from %s to %s", r.state, to))
	}
	var opts []task.UpdateOption
	if msg != nil {
		msg.TaskID = r.msg.TaskID
		msg.ContextID = r.msg.ContextID
		if to.IsInterrupted() || to.IsTerminal() {
			if _, err := r.store.AppendMessage(ctx, r.msg.TaskID, r.msg.ContextID, msg); err != nil {
				return false, err
			}
		}
		opts = append(opts, task.WithStatusMessage(msg))
	}
	t, err := r.updater.Transition(ctx, ev, opts...)
	if err != nil {
		return false, err
	}
	r.state = t.Status.State
	if _, ok := r.emit(ctx, event.StatusChanged{Status: t.Status, Final: t.Status.State.IsTerminal()}); !ok {
		return false, nil
	}
	if t.Status.State.IsInterrupted() || t.Status.State.IsTerminal() {
		r.finish(ctx, t, nil)
		return false, nil
	}
	return true, nil
}

// complete persists the assistant's answer and finishes the task.
func (r *run) complete(ctx context.Context, c agent.Final, replyID agentcore.MessageID) error {
	reply := c.Message
	reply.MessageID = replyID
	reply.TaskID = r.msg.TaskID
	reply.ContextID = r.msg.ContextID
	if _, err := r.store.AppendMessage(ctx, r.msg.TaskID, r.msg.ContextID, reply); err != nil {
		return err
	}
	if _, ok := r.emit(ctx, event.MessageComplete{Message: reply}); !ok {
		return nil
	}
	if _, err := r.updater.Complete(ctx, reply); err != nil {
		return err
	}
	t, err := r.store.GetTask(ctx, r.msg.TaskID)
	if err != nil {
		return err
	}
	usage := c.Usage
	r.finish(ctx, t, &usage)
	return nil
}

// finish ends the stream with the stored task.
func (r *run) finish(ctx context.Context, t *agentcore.Task, usage *agentcore.Usage) {
	if t.Status.State.IsTerminal() {
		r.finished(ctx, t)
	}
	r.logger.InfoContext(ctx, "run finished", slog.String("state", string(t.Status.State)))
	r.emit(ctx, event.RunFinished{Task: t, Usage: usage})
	r.ended = true
}

// fail records err on the task and ends the stream with it. A canceled run
// is recorded as canceled instead.
func (r *run) fail(ctx context.Context, err error) {
	if r.ended {
		return
	}
	if ctx.Err() != nil || r.gone {
		r.cancelTask(ctx)
		return
	}
	r.logger.ErrorContext(ctx, "run failed", slog.Any("error", err))

	if r.created && r.updater != nil {
		wctx := context.WithoutCancel(ctx)
		t, uerr := r.updater.Fail(wctx, agentcore.PublicMessage(err))
		if uerr != nil {
			r.logger.ErrorContext(ctx, "failed to record task failure", slog.Any("error", uerr))
		} else {
			r.finished(wctx, t)
		}
	}
	if !r.stored && r.key != nil && r.replay != nil {
		r.replay.Forget(*r.key)
	}
	r.emit(ctx, event.NewRunError(err))
	r.ended = true
}

// cancelTask records the cancellation of a run whose context ended.
func (r *run) cancelTask(ctx context.Context) {
	if r.ended {
		return
	}
	r.ended = true
	cause := context.Cause(ctx)
	if cause == nil {
		cause = ErrClientDisconnected
	}
	wctx := context.WithoutCancel(ctx)
	r.logger.InfoContext(wctx, "run canceled", slog.Any("cause", cause))

	if !r.created || r.updater == nil {
		if r.key != nil && r.replay != nil {
			r.replay.Forget(*r.key)
		}
		r.emit(wctx, event.NewRunError(fmt.Errorf("run canceled before start: %w", cause)))
		return
	}
	t, err := r.updater.Cancel(wctx)
	if err != nil {
		if agentcore.KindOf(err) != agentcore.KindInvalidTaskState {
			r.logger.ErrorContext(wctx, "failed to record task cancellation", slog.Any("error", err))
		}
		if t, err = r.store.GetTask(wctx, r.msg.TaskID); err != nil {
			return
		}
	} else {
		r.finished(wctx, t)
	}
	r.emit(wctx, event.TaskCanceled{Status: t.Status})
}

// emit assigns the next ordinal to p and hands it to the consumer and the
// replay recording. It reports false once the consumer is gone.
func (r *run) emit(ctx context.Context, p event.Payload) (event.Event, bool) {
	r.ordinal++
	ev := event.New(r.msg.TaskID, r.msg.ContextID, p)
	ev.Ordinal = r.ordinal
	r.metrics.EventEmitted(string(ev.Type))
	if r.rec != nil {
		r.rec.Append(ev)
	}
	if _, err := r.queue.Push(ev); err != nil {
		r.gone = r.gone || errors.Is(err, event.ErrConsumerGone)
		r.logger.DebugContext(ctx, "event not delivered",
			slog.String("event", string(ev.Type)),
			slog.Any("error", err),
		)
		return ev, false
	}
	return ev, true
}
