// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/internal/jsonrpc2"
	"github.com/go-a2a/agentcore/server/agent_execution"
	"github.com/go-a2a/agentcore/server/event"
)

// errPushNotSupported answers the pushNotificationConfig methods when no
// registry is configured.
var errPushNotSupported = jsonrpc2.NewError(agentcore.CodePushNotificationNotSupported, "push notifications are not supported")

// handleMessageSend handles message/send. The response is an event stream
// when the client accepts one, the final task otherwise.
func (s *Server) handleMessageSend(w http.ResponseWriter, r *http.Request, cc *ServerCallContext, req *jsonrpc2.Request) int64 {
	if wantsEventStream(r) {
		return s.handleMessageStream(w, r, cc, req)
	}
	ctx := r.Context()
	var p agentcore.MessageSendParams
	if err := decodeParams(req.Params, &p); err != nil {
		return s.reply(w, req.ID, nil, err)
	}
	stream, err := s.startStream(ctx, cc, &p)
	if err != nil {
		return s.reply(w, req.ID, nil, err)
	}
	if p.Configuration != nil && p.Configuration.Blocking != nil && !*p.Configuration.Blocking {
		t, err := s.detach(ctx, stream)
		return s.reply(w, req.ID, t, err)
	}
	t, err := s.await(ctx, stream)
	if err != nil {
		return s.reply(w, req.ID, nil, err)
	}
	return s.reply(w, req.ID, trimHistory(t, historyLength(&p)), nil)
}

// handleMessageStream handles message/stream.
func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request, cc *ServerCallContext, req *jsonrpc2.Request) int64 {
	ctx := r.Context()
	var p agentcore.MessageSendParams
	if err := decodeParams(req.Params, &p); err != nil {
		return s.reply(w, req.ID, nil, err)
	}
	stream, err := s.startStream(ctx, cc, &p)
	if err != nil {
		rpcErr := toRPCError(err)
		sw, serr := newSSEWriter(w, req.ID)
		if serr != nil {
			return s.reply(w, req.ID, nil, err)
		}
		if err := sw.SendError(rpcErr); err != nil {
			s.logger.InfoContext(ctx, "failed to write error frame", slog.Any("error", err))
		}
		return rpcErr.Code
	}
	defer stream.Close()

	sw, err := newSSEWriter(w, req.ID)
	if err != nil {
		return s.reply(w, req.ID, nil, err)
	}
	logger := s.logger.With(
		slog.String("task_id", string(stream.TaskID)),
		slog.String("request_id", string(stream.RequestID)),
	)
	for ev := range stream.Events(ctx) {
		if err := sw.Send(ev); err != nil {
			logger.InfoContext(ctx, "stream consumer went away", slog.Any("error", err))
			return 0
		}
	}
	if ctx.Err() != nil {
		logger.InfoContext(ctx, "stream consumer disconnected")
	}
	return 0
}

// startStream hands the message of p to the executor.
func (s *Server) startStream(ctx context.Context, cc *ServerCallContext, p *agentcore.MessageSendParams) (*agent_execution.Stream, error) {
	if p.Message == nil {
		return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams, "missing message")
	}
	msg := p.Message.Clone()
	for k, v := range p.Metadata {
		if msg.Metadata == nil {
			msg.Metadata = make(map[string]any, len(p.Metadata))
		}
		if _, ok := msg.Metadata[k]; !ok {
			msg.Metadata[k] = v
		}
	}
	var push *agentcore.PushNotificationConfig
	if p.Configuration != nil {
		push = p.Configuration.PushNotificationConfig
	}
	if push != nil && s.pushConfigs == nil {
		return nil, errPushNotSupported
	}
	if n := historyLength(p); n != nil && *n < 0 {
		return nil, agentcore.NewValidationError("configuration.historyLength", "must not be negative")
	}
	return s.executor.CreateSSEStream(ctx, msg, cc.AgentName, cc.RequestID, cc.RequestContext(), push)
}

// await drains stream and returns the stored task. A run that failed before
// its task existed is reported as an error.
func (s *Server) await(ctx context.Context, stream *agent_execution.Stream) (*agentcore.Task, error) {
	defer stream.Close()
	var last event.Event
	for ev := range stream.Events(ctx) {
		last = ev
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := s.tasks.GetTask(ctx, stream.TaskID)
	if err != nil {
		if re, ok := last.Data.(event.RunError); ok && agentcore.KindOf(err) == agentcore.KindNotFound {
			return nil, jsonrpc2.NewError(int64(re.Code), re.Message)
		}
		return nil, err
	}
	return t, nil
}

// detach waits for the first event of stream, keeps draining it in the
// background and returns the task as stored so far.
func (s *Server) detach(ctx context.Context, stream *agent_execution.Stream) (*agentcore.Task, error) {
	first := make(chan event.Event, 1)
	var once sync.Once
	go func() {
		defer once.Do(func() { close(first) })
		for ev := range stream.Events(context.WithoutCancel(ctx)) {
			once.Do(func() {
				first <- ev
				close(first)
			})
		}
	}()
	var ev event.Event
	select {
	case ev = <-first:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if re, ok := ev.Data.(event.RunError); ok {
		return nil, jsonrpc2.NewError(int64(re.Code), re.Message)
	}
	return s.tasks.GetTask(ctx, stream.TaskID)
}

// handleTasksGet handles tasks/get.
func (s *Server) handleTasksGet(ctx context.Context, cc *ServerCallContext, params []byte) (any, error) {
	var p agentcore.TaskQueryParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.HistoryLength != nil && *p.HistoryLength < 0 {
		return nil, agentcore.NewValidationError("historyLength", "must not be negative")
	}
	t, err := s.ownedTask(ctx, cc, p.ID)
	if err != nil {
		return nil, err
	}
	return trimHistory(t, p.HistoryLength), nil
}

// handleTasksCancel handles tasks/cancel.
func (s *Server) handleTasksCancel(ctx context.Context, cc *ServerCallContext, params []byte) (any, error) {
	var p agentcore.TaskIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := p.ID.Validate(); err != nil {
		return nil, err
	}
	t, err := s.executor.Cancel(ctx, p.ID, cc.UserID())
	if err != nil {
		if agentcore.KindOf(err) == agentcore.KindInvalidTaskState {
			return nil, jsonrpc2.NewError(agentcore.CodeTaskNotCancelable, agentcore.PublicMessage(err))
		}
		return nil, err
	}
	s.logger.InfoContext(ctx, "task canceled by request",
		slog.String("task_id", string(p.ID)),
		slog.String("user_id", string(cc.UserID())),
	)
	return t, nil
}

// handlePushConfigSet handles tasks/pushNotificationConfig/set.
func (s *Server) handlePushConfigSet(ctx context.Context, cc *ServerCallContext, params []byte) (any, error) {
	if s.pushConfigs == nil {
		return nil, errPushNotSupported
	}
	var p agentcore.TaskPushNotificationConfig
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := p.PushNotificationConfig.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.ownedTask(ctx, cc, p.TaskID); err != nil {
		return nil, err
	}
	cfg := p.PushNotificationConfig.Clone()
	id, err := s.pushConfigs.Add(ctx, p.TaskID, cfg)
	if err != nil {
		return nil, err
	}
	cfg.ID = id
	return &agentcore.TaskPushNotificationConfig{TaskID: p.TaskID, PushNotificationConfig: cfg}, nil
}

// handlePushConfigGet handles tasks/pushNotificationConfig/get. Without a
// config id the oldest registration is returned.
func (s *Server) handlePushConfigGet(ctx context.Context, cc *ServerCallContext, params []byte) (any, error) {
	if s.pushConfigs == nil {
		return nil, errPushNotSupported
	}
	var p agentcore.PushConfigParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if _, err := s.ownedTask(ctx, cc, p.ID); err != nil {
		return nil, err
	}
	if p.PushNotificationConfigID == "" {
		cfgs, err := s.pushConfigs.List(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if len(cfgs) == 0 {
			return nil, agentcore.NewNotFoundError("push_notification_config", string(p.ID))
		}
		return &agentcore.TaskPushNotificationConfig{TaskID: p.ID, PushNotificationConfig: cfgs[0]}, nil
	}
	cfg, err := s.pushConfigs.Get(ctx, p.ID, p.PushNotificationConfigID)
	if err != nil {
		return nil, err
	}
	return &agentcore.TaskPushNotificationConfig{TaskID: p.ID, PushNotificationConfig: cfg}, nil
}

// handlePushConfigList handles tasks/pushNotificationConfig/list.
func (s *Server) handlePushConfigList(ctx context.Context, cc *ServerCallContext, params []byte) (any, error) {
	if s.pushConfigs == nil {
		return nil, errPushNotSupported
	}
	var p agentcore.TaskIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if _, err := s.ownedTask(ctx, cc, p.ID); err != nil {
		return nil, err
	}
	cfgs, err := s.pushConfigs.List(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	out := make([]*agentcore.TaskPushNotificationConfig, 0, len(cfgs))
	for _, cfg := range cfgs {
		out = append(out, &agentcore.TaskPushNotificationConfig{TaskID: p.ID, PushNotificationConfig: cfg})
	}
	return out, nil
}

// handlePushConfigDelete handles tasks/pushNotificationConfig/delete and
// returns the removed registration.
func (s *Server) handlePushConfigDelete(ctx context.Context, cc *ServerCallContext, params []byte) (any, error) {
	if s.pushConfigs == nil {
		return nil, errPushNotSupported
	}
	var p agentcore.PushConfigParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := p.PushNotificationConfigID.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.ownedTask(ctx, cc, p.ID); err != nil {
		return nil, err
	}
	cfg, err := s.pushConfigs.Get(ctx, p.ID, p.PushNotificationConfigID)
	if err != nil {
		return nil, err
	}
	if err := s.pushConfigs.Delete(ctx, p.ID, p.PushNotificationConfigID); err != nil {
		return nil, err
	}
	return &agentcore.TaskPushNotificationConfig{TaskID: p.ID, PushNotificationConfig: cfg}, nil
}

// handleSessionEvents streams the task-created events of the caller's
// session until the client leaves.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cc, err := s.builder.Build(r, "")
	if err != nil {
		http.Error(w, agentcore.PublicMessage(err), agentcore.KindOf(err).HTTPStatus())
		return
	}
	if cc.SessionID == "" {
		http.Error(w, "no session", http.StatusBadRequest)
		return
	}
	ch, unsubscribe := s.broadcaster.Subscribe(cc.SessionID)
	defer unsubscribe()

	w.Header().Set(agentcore.HeaderSessionID, string(cc.SessionID))
	sw, err := newSSEWriter(w, jsonrpc2.ID{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := sw.Send(ev); err != nil {
				return
			}
		}
	}
}

// ownedTask loads taskID on behalf of the caller.
func (s *Server) ownedTask(ctx context.Context, cc *ServerCallContext, taskID agentcore.TaskID) (*agentcore.Task, error) {
	if err := taskID.Validate(); err != nil {
		return nil, err
	}
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.UserID != "" && t.UserID != cc.UserID() {
		return nil, agentcore.NewAuthError("task", "task belongs to another user")
	}
	return t, nil
}

func historyLength(p *agentcore.MessageSendParams) *int {
	if p.Configuration == nil {
		return nil
	}
	return p.Configuration.HistoryLength
}

// trimHistory keeps the last n messages of t's history. A nil n keeps all.
func trimHistory(t *agentcore.Task, n *int) *agentcore.Task {
	if t == nil || n == nil || len(t.History) <= *n {
		return t
	}
	out := *t
	if *n == 0 {
		out.History = nil
	} else {
		out.History = t.History[len(t.History)-*n:]
	}
	return &out
}
