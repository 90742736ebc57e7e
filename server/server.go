// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/agent"
	"github.com/go-a2a/agentcore/auth"
	"github.com/go-a2a/agentcore/internal/jsonrpc2"
	"github.com/go-a2a/agentcore/server/agent_execution"
	"github.com/go-a2a/agentcore/server/event"
	"github.com/go-a2a/agentcore/server/task"
)

const (
	tracerName = "github.com/go-a2a/agentcore/server"

	// ProtocolVersion is the A2A protocol version advertised on agent cards.
	ProtocolVersion = "0.3.0"

	// SessionEventsPath streams the task-created events of the caller's
	// session.
	SessionEventsPath = "/api/v1/sessions/events"

	defaultMaxBodyBytes = 4 << 20
)

// TaskReader loads stored tasks.
type TaskReader interface {
	GetTask(ctx context.Context, taskID agentcore.TaskID) (*agentcore.Task, error)
}

// AgentGate reports whether an agent may take requests.
type AgentGate interface {
	CheckAvailable(ctx context.Context, agentName string) error
}

// Config holds the collaborators of a [Server].
type Config struct {
	Agents   *agent.Registry
	Executor agent_execution.AgentExecutor
	Tasks    TaskReader
	// PushConfigs may be nil; the pushNotificationConfig methods then
	// answer that push notifications are unsupported.
	PushConfigs task.PushNotificationConfigStore
	// Broadcaster may be nil; the session events endpoint is then not served.
	Broadcaster *event.Broadcaster
	// Auth may be nil; every caller is then anonymous.
	Auth *auth.Verifier
	// Sessions may be nil; only an explicit X-Session-ID then names a session.
	Sessions *SessionResolver
	// Limiter may be nil to disable rate limiting.
	Limiter *RateLimiter
	// Gate may be nil when agents are served in-process only.
	Gate AgentGate
	// APIURL is the public base URL used in agent cards.
	APIURL       string
	MaxBodyBytes int64
}

// Server implements the A2A protocol server.
type Server struct {
	mux         *http.ServeMux
	agents      *agent.Registry
	executor    agent_execution.AgentExecutor
	tasks       TaskReader
	pushConfigs task.PushNotificationConfigStore
	broadcaster *event.Broadcaster
	verifier    *auth.Verifier
	limiter     *RateLimiter
	gate        AgentGate
	builder     CallContextBuilder
	apiURL      string
	maxBody     int64
	org         *agentcore.AgentProvider
	logger      *slog.Logger
	tracer      trace.Tracer

	unary map[string]unaryHandler
}

// unaryHandler answers a JSON-RPC method with a single result.
type unaryHandler func(ctx context.Context, cc *ServerCallContext, params []byte) (any, error)

// NewServer returns a server for cfg.
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	if cfg.Agents == nil {
		return nil, errors.New("server: agent registry is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("server: executor is required")
	}
	if cfg.Tasks == nil {
		return nil, errors.New("server: task reader is required")
	}
	s := &Server{
		mux:         http.NewServeMux(),
		agents:      cfg.Agents,
		executor:    cfg.Executor,
		tasks:       cfg.Tasks,
		pushConfigs: cfg.PushConfigs,
		broadcaster: cfg.Broadcaster,
		verifier:    cfg.Auth,
		limiter:     cfg.Limiter,
		gate:        cfg.Gate,
		apiURL:      strings.TrimSuffix(cfg.APIURL, "/"),
		maxBody:     cfg.MaxBodyBytes,
		logger:      slog.Default(),
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBodyBytes
	}
	s.builder = NewHTTPCallContextBuilder(cfg.Sessions)
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	s.unary = map[string]unaryHandler{
		agentcore.MethodTasksGet:         s.handleTasksGet,
		agentcore.MethodTasksCancel:      s.handleTasksCancel,
		agentcore.MethodPushConfigSet:    s.handlePushConfigSet,
		agentcore.MethodPushConfigGet:    s.handlePushConfigGet,
		agentcore.MethodPushConfigList:   s.handlePushConfigList,
		agentcore.MethodPushConfigDelete: s.handlePushConfigDelete,
	}
	s.registerHandlers()
	return s, nil
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// registerHandlers sets up the HTTP routes.
func (s *Server) registerHandlers() {
	base := agentcore.AgentsBasePath + "/{agent_name}"
	s.mux.HandleFunc("GET "+base+agentcore.AgentCardWellKnownPath, s.handleAgentCard)
	s.mux.Handle("POST "+base+"/{$}", s.protect(http.HandlerFunc(s.handleA2ARequest)))
	s.mux.Handle("POST "+base, s.protect(http.HandlerFunc(s.handleA2ARequest)))
	if s.broadcaster != nil {
		s.mux.Handle("GET "+SessionEventsPath, s.protect(http.HandlerFunc(s.handleSessionEvents)))
	}
}

// protect authenticates and rate limits next.
func (s *Server) protect(next http.Handler) http.Handler {
	h := s.limiter.Middleware(next)
	if s.verifier != nil {
		h = s.verifier.Middleware(h)
	}
	return h
}

// AgentCard returns the card of the named agent.
func (s *Server) AgentCard(name string) (*agentcore.AgentCard, error) {
	def, err := s.agents.Get(name)
	if err != nil {
		return nil, err
	}
	card := &agentcore.AgentCard{
		Name:               def.Name,
		Description:        def.Description,
		URL:                s.apiURL + agentcore.AgentsBasePath + "/" + def.Name + "/",
		Version:            agentcore.Version,
		ProtocolVersion:    ProtocolVersion,
		PreferredTransport: "JSONRPC",
		Provider:           s.org,
		Capabilities: agentcore.AgentCapabilities{
			Streaming:         true,
			PushNotifications: s.pushConfigs != nil,
		},
		DefaultInputModes:  []string{"text/plain", "application/json"},
		DefaultOutputModes: []string{"text/plain", "application/json"},
		Skills:             []agentcore.AgentSkill{},
	}
	for _, sk := range def.Skills {
		card.Skills = append(card.Skills, agentcore.AgentSkill{
			ID:          string(sk.ID),
			Name:        sk.Name,
			Description: sk.Description,
			Tags:        sk.Tags,
		})
	}
	if len(card.Skills) == 0 {
		for _, srv := range def.MCPServers {
			card.Skills = append(card.Skills, agentcore.AgentSkill{
				ID:          srv,
				Name:        srv,
				Description: fmt.Sprintf("Tools provided by the %s MCP server.", srv),
				Tags:        []string{"mcp"},
			})
		}
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}
	return card, nil
}

// handleAgentCard serves the agent card.
func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.AgentCard(r.PathValue("agent_name"))
	if err != nil {
		http.Error(w, agentcore.PublicMessage(err), agentcore.KindOf(err).HTTPStatus())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := sonic.ConfigDefault.NewEncoder(w).Encode(card); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to encode agent card", slog.Any("error", err))
	}
}

// handleA2ARequest handles all JSON-RPC requests addressed to one agent.
func (s *Server) handleA2ARequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("agent_name")

	req, decodeErr := jsonrpc2.DecodeRequest(r.Body, s.maxBody)
	var id jsonrpc2.ID
	method := "invalid"
	if req != nil {
		id = req.ID
		if req.Method != "" {
			method = req.Method
		}
	}
	start := jsonrpc2.Started(ctx, method)
	var code int64
	defer func() { jsonrpc2.Finished(ctx, method, code, start) }()

	if _, err := s.agents.Get(name); err != nil {
		code = s.replyStatus(w, agentcore.KindOf(err).HTTPStatus(), id, nil, err)
		return
	}
	if s.gate != nil {
		if err := s.gate.CheckAvailable(ctx, name); err != nil {
			s.logger.InfoContext(ctx, "agent unavailable",
				slog.String("agent_name", name),
				slog.Any("error", err),
			)
			code = s.replyStatus(w, agentcore.KindOf(err).HTTPStatus(), id, nil, err)
			return
		}
	}
	if decodeErr != nil {
		code = s.reply(w, id, nil, decodeErr)
		return
	}

	cc, err := s.builder.Build(r, name)
	if err != nil {
		code = s.reply(w, id, nil, err)
		return
	}
	ctx = WithCallContext(ctx, cc)
	if cc.SessionID != "" {
		w.Header().Set(agentcore.HeaderSessionID, string(cc.SessionID))
	}
	w.Header().Set(agentcore.HeaderTraceID, string(cc.TraceID))

	ctx, span := s.tracer.Start(ctx, "agentcore.server."+method)
	defer span.End()
	r = r.WithContext(ctx)

	switch req.Method {
	case agentcore.MethodMessageSend:
		code = s.handleMessageSend(w, r, cc, req)
	case agentcore.MethodMessageStream:
		code = s.handleMessageStream(w, r, cc, req)
	default:
		h, ok := s.unary[req.Method]
		if !ok {
			code = s.reply(w, id, nil, jsonrpc2.NewError(jsonrpc2.CodeMethodNotFound, "method not found: "+req.Method))
			return
		}
		result, err := h(ctx, cc, req.Params)
		code = s.reply(w, id, result, err)
	}
}

// reply writes a JSON-RPC response and returns its error code, or zero.
func (s *Server) reply(w http.ResponseWriter, id jsonrpc2.ID, result any, err error) int64 {
	return s.replyStatus(w, http.StatusOK, id, result, err)
}

func (s *Server) replyStatus(w http.ResponseWriter, status int, id jsonrpc2.ID, result any, err error) int64 {
	resp := jsonrpc2.NewResult(id, result)
	var code int64
	if err != nil {
		rpcErr := toRPCError(err)
		if rpcErr.Code == jsonrpc2.CodeInternalError {
			s.logger.Error("request failed", slog.Any("error", err))
		}
		resp = jsonrpc2.NewErrorResponse(id, rpcErr)
		code = rpcErr.Code
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsonrpc2.EncodeResponse(w, resp); err != nil {
		s.logger.Error("failed to encode response", slog.Any("error", err))
	}
	return code
}

// toRPCError classifies err for the wire without leaking internal detail.
func toRPCError(err error) *jsonrpc2.Error {
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return jsonrpc2.NewError(agentcore.CodeTimeout, "request canceled")
	}
	return jsonrpc2.NewError(int64(agentcore.KindOf(err).RPCCode()), agentcore.PublicMessage(err))
}

// invalidParams reports a params decoding failure.
func invalidParams(err error) *jsonrpc2.Error {
	return jsonrpc2.NewError(jsonrpc2.CodeInvalidParams, "invalid params: "+err.Error())
}

// decodeParams unmarshals params into v.
func decodeParams(params []byte, v any) error {
	if len(params) == 0 {
		return jsonrpc2.NewError(jsonrpc2.CodeInvalidParams, "missing params")
	}
	if err := sonic.ConfigDefault.Unmarshal(params, v); err != nil {
		return invalidParams(err)
	}
	return nil
}
