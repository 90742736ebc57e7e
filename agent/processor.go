// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/provider"
	"github.com/go-a2a/agentcore/provider/toolmap"
	"github.com/go-a2a/agentcore/server/task"
)

const (
	tracerName          = "github.com/go-a2a/agentcore/agent"
	defaultMaxToolTurns = 10
)

// ToolClient discovers and calls MCP tools.
type ToolClient interface {
	ListTools(ctx context.Context, servers []string) ([]toolmap.Tool, error)
	CallTool(ctx context.Context, server, tool string, args map[string]any) (*agentcore.CallToolResult, error)
}

// ProcessorConfig holds the collaborators of a [Processor].
type ProcessorConfig struct {
	Runtime *Runtime
	// Tools may be nil when the agent has no tool servers.
	Tools ToolClient
	// Executions, when set, receives provider request and tool execution records.
	Executions   task.ExecutionStore
	MaxToolTurns int
	Logger       *slog.Logger
	Tracer       trace.Tracer
	Clock        func() time.Time
}

// Request is the input of one run.
type Request struct {
	TaskID    agentcore.TaskID
	ContextID agentcore.ContextID
	UserID    agentcore.UserID
	SessionID agentcore.SessionID
	TraceID   agentcore.TraceID
	// History holds earlier messages of the context, oldest first.
	History []*agentcore.Message
	Message *agentcore.Message
	// Resuming is set when Message answers an interrupted task.
	Resuming bool
}

// Processor runs the reasoning loop of one agent: it calls the model, runs
// the tools the model asks for and feeds the results back until the model
// answers.
type Processor struct {
	rt         *Runtime
	tools      ToolClient
	executions task.ExecutionStore
	maxTurns   int
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewProcessor returns a processor for cfg.Runtime.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Runtime == nil || cfg.Runtime.Provider == nil || cfg.Runtime.Definition == nil {
		return nil, errors.New("agent: processor needs a resolved runtime")
	}
	if len(cfg.Runtime.MCPServers) > 0 && cfg.Tools == nil {
		return nil, fmt.Errorf("agent %s: tool servers configured without a tool client", cfg.Runtime.Definition.Name)
	}
	p := &Processor{
		rt:         cfg.Runtime,
		tools:      cfg.Tools,
		executions: cfg.Executions,
		maxTurns:   cfg.MaxToolTurns,
		logger:     cfg.Logger,
		tracer:     cfg.Tracer,
		now:        cfg.Clock,
	}
	if n := cfg.Runtime.Definition.MaxToolTurns; n > 0 {
		p.maxTurns = n
	}
	if p.maxTurns <= 0 {
		p.maxTurns = defaultMaxToolTurns
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// run is the state of one ProcessMessageStream call.
type run struct {
	*Processor
	req   Request
	yield func(Chunk) bool

	// stopped is set once yield returned false.
	stopped bool
	// begun is set once the working status was emitted.
	begun bool
	// controls holds the ids of calls to built-in tools, which are not relayed.
	controls map[agentcore.AiToolCallID]bool
	text     strings.Builder
	usage    agentcore.Usage
}

// emit hands c to the consumer. Every chunk but a rejection is preceded by
// the working status.
func (r *run) emit(c Chunk) bool {
	if s, ok := c.(Status); !ok || s.State != agentcore.TaskStateRejected {
		if !r.begin() {
			return false
		}
	}
	return r.send(c)
}

func (r *run) begin() bool {
	if r.begun {
		return !r.stopped
	}
	r.begun = true
	return r.send(Status{State: agentcore.TaskStateWorking})
}

func (r *run) send(c Chunk) bool {
	if r.stopped {
		return false
	}
	if !r.yield(c) {
		r.stopped = true
	}
	return !r.stopped
}

// fail emits err unless the run was canceled, in which case the caller owns
// the outcome and nothing more is emitted.
func (r *run) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	r.emit(newError(err))
}

// ProcessMessageStream runs req and returns the lazy, finite stream of its
// chunks. The stream ends with exactly one [Final], [Error] or [Status]
// handing the task back to the caller, unless ctx is canceled or the
// consumer stops early, in which case it just ends.
func (p *Processor) ProcessMessageStream(ctx context.Context, req Request) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		ctx, span := p.tracer.Start(ctx, "agentcore.agent.ProcessMessageStream",
			trace.WithAttributes(
				attribute.String("agent.name", p.rt.Definition.Name),
				attribute.String("a2a.task_id", string(req.TaskID)),
				attribute.String("provider.name", p.rt.Provider.Name()),
			))
		defer span.End()

		r := &run{Processor: p, req: req, yield: yield, controls: make(map[agentcore.AiToolCallID]bool)}
		if err := r.process(ctx); err != nil {
			span.SetStatus(codes.Error, err.Error())
			r.fail(ctx, err)
		}
	}
}

func (r *run) process(ctx context.Context) error {
	// A task the model may reject stays submitted until the model speaks.
	if req := r.req; req.Resuming || !slices.Contains(r.rt.Definition.Interrupts, agentcore.TaskStateRejected) {
		if !r.begin() {
			return nil
		}
	}

	var tools []toolmap.Tool
	if len(r.rt.MCPServers) > 0 {
		var err error
		tools, err = r.tools.ListTools(ctx, r.rt.MCPServers)
		if err != nil {
			return fmt.Errorf("discover tools: %w", err)
		}
	}
	prepared := toolmap.Prepare(r.rt.Provider, tools)
	for _, st := range r.rt.Definition.Interrupts {
		if err := prepared.AddControl(st); err != nil {
			return err
		}
	}
	msgs := r.conversation()

	if prepared.WebSearch && !r.rt.Definition.DisableWebSearch {
		return r.searchTurn(ctx, msgs)
	}

	for turn := 0; ; turn++ {
		offered := prepared.Tools
		if turn >= r.maxTurns {
			r.logger.WarnContext(ctx, "tool turn limit reached, asking for a final answer",
				slog.String("task_id", string(r.req.TaskID)),
				slog.Int("turns", turn),
			)
			offered = nil
		}
		resp, err := r.modelTurn(ctx, msgs, offered, prepared.Mapper)
		if err != nil || r.stopped {
			return err
		}
		if len(resp.ToolCalls) == 0 {
			return r.finish()
		}
		if res := controlCall(resp.ToolCalls, prepared.Mapper); res != nil {
			return r.interrupt(ctx, res)
		}

		msgs = append(msgs, provider.Message{
			Role:      agentcore.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			res, ok := r.runTool(ctx, resp.RequestID, call, prepared.Mapper)
			if !ok {
				return nil
			}
			msgs = append(msgs, provider.Message{
				Role:       agentcore.RoleTool,
				Content:    res.Text(),
				ToolCallID: call.ID,
				ToolName:   call.Name,
				IsError:    res.IsError,
			})
		}
	}
}

// conversation renders the system prompt, the context history and the new
// message for the model.
func (r *run) conversation() []provider.Message {
	var msgs []provider.Message
	if sp := strings.TrimSpace(r.rt.Definition.SystemPrompt); sp != "" {
		msgs = append(msgs, provider.Message{Role: agentcore.RoleSystem, Content: sp})
	}
	for _, m := range r.req.History {
		if m == nil || m.MessageID == r.req.Message.MessageID {
			continue
		}
		switch m.Role {
		case agentcore.RoleUser, agentcore.RoleAssistant:
			if text := renderParts(m.Parts); text != "" {
				msgs = append(msgs, provider.Message{Role: m.Role, Content: text})
			}
		}
	}
	return append(msgs, provider.Message{Role: agentcore.RoleUser, Content: renderParts(r.req.Message.Parts)})
}

// renderParts flattens parts into the text a model reads.
func renderParts(parts []agentcore.Part) string {
	var out []string
	for _, p := range parts {
		switch p.Kind {
		case agentcore.PartKindText:
			out = append(out, p.Text)
		case agentcore.PartKindData:
			if b, err := sonic.Marshal(p.Data); err == nil {
				out = append(out, string(b))
			}
		case agentcore.PartKindFile:
			if p.File != nil {
				out = append(out, fmt.Sprintf("[file %s %s]", p.File.Name, p.File.MimeType))
			}
		}
	}
	return strings.Join(out, "\n")
}

func (r *run) params(msgs []provider.Message) provider.GenerationParams {
	return provider.GenerationParams{
		Messages:        msgs,
		Model:           r.rt.Model,
		MaxOutputTokens: r.rt.Definition.MaxOutputTokens,
		Sampling:        r.rt.Definition.Sampling(),
		RequestID:       agentcore.NewRequestID(),
	}
}

// modelTurn sends one request and relays its output. Tool-call chunks carry
// the resolved MCP name as soon as the call is complete.
func (r *run) modelTurn(ctx context.Context, msgs []provider.Message, tools []provider.Tool, mapper *toolmap.Mapper) (*provider.AiResponse, error) {
	params := provider.ToolGenerationParams{Base: r.params(msgs), Tools: tools}
	p := r.rt.Provider

	if !p.SupportsStreaming() {
		var (
			resp *provider.AiResponse
			err  error
		)
		if len(tools) == 0 {
			resp, err = p.Generate(ctx, params.Base)
		} else {
			resp, err = p.GenerateWithTools(ctx, params)
		}
		r.recordRequest(ctx, params.Base, resp, err)
		if err != nil {
			return nil, err
		}
		r.relayResponse(resp, mapper)
		return resp, nil
	}

	var stream provider.Stream
	if len(tools) == 0 {
		stream = p.GenerateStream(ctx, params.Base)
	} else {
		stream = p.GenerateWithToolsStream(ctx, params)
	}
	var resp *provider.AiResponse
	for ch, err := range stream {
		if err != nil {
			r.recordRequest(ctx, params.Base, nil, err)
			return nil, err
		}
		if !r.relayChunk(ch, mapper) {
			return nil, nil
		}
		if ch.Type == provider.ChunkDone {
			resp = ch.Response
		}
	}
	if resp == nil {
		err := agentcore.NewProtocolError("agent.modelTurn", "stream ended without a final chunk", nil)
		r.recordRequest(ctx, params.Base, nil, err)
		return nil, err
	}
	r.recordRequest(ctx, params.Base, resp, nil)
	return resp, nil
}

func (r *run) relayChunk(ch provider.StreamChunk, mapper *toolmap.Mapper) bool {
	switch ch.Type {
	case provider.ChunkText:
		r.text.WriteString(ch.Text)
		return r.emit(TextDelta{Text: ch.Text})
	case provider.ChunkToolCallStart:
		if mapper.IsControl(ch.ToolName) {
			r.controls[ch.ToolCallID] = true
			return true
		}
		return r.emit(ToolCallStarted{ID: ch.ToolCallID, ToolName: ch.ToolName})
	case provider.ChunkToolCallDelta:
		if r.controls[ch.ToolCallID] {
			return true
		}
		return r.emit(ToolCallArgsDelta{ID: ch.ToolCallID, Fragment: ch.ArgsFragment})
	case provider.ChunkToolCallEnd:
		if r.controls[ch.ToolCallID] || mapper.IsControl(ch.ToolCall.Name) {
			return true
		}
		return r.emit(completed(*ch.ToolCall, mapper))
	case provider.ChunkDone:
		if ch.Response != nil {
			r.usage.Add(ch.Response.Usage)
		}
	}
	return true
}

// relayResponse emits the chunks a streaming backend would have produced.
func (r *run) relayResponse(resp *provider.AiResponse, mapper *toolmap.Mapper) {
	r.usage.Add(resp.Usage)
	if resp.Content != "" {
		r.text.WriteString(resp.Content)
		if !r.emit(TextDelta{Text: resp.Content}) {
			return
		}
	}
	for _, call := range resp.ToolCalls {
		if mapper.IsControl(call.Name) {
			continue
		}
		if !r.emit(ToolCallStarted{ID: call.ID, ToolName: call.Name}) || !r.emit(completed(call, mapper)) {
			return
		}
	}
}

// controlCall returns the first well-formed call to a built-in tool. Other
// calls of the same turn are dropped with it.
func controlCall(calls []agentcore.ToolCall, mapper *toolmap.Mapper) *toolmap.Resolved {
	for _, call := range calls {
		if !mapper.IsControl(call.Name) {
			continue
		}
		if res, err := mapper.Resolve(call); err == nil {
			return res
		}
	}
	return nil
}

// interrupt hands the task back to the caller with the model's message. A
// rejection after work started fails the task instead.
func (r *run) interrupt(ctx context.Context, res *toolmap.Resolved) error {
	r.logger.InfoContext(ctx, "model handed the task back",
		slog.String("task_id", string(r.req.TaskID)),
		slog.String("state", string(res.Control)),
	)
	if res.Control == agentcore.TaskStateRejected && r.begun {
		return agentcore.NewValidationError("task", "rejected after work started: "+res.Message)
	}
	msg := agentcore.NewMessage(agentcore.RoleAssistant, agentcore.NewTextPart(res.Message))
	msg.ContextID = r.req.ContextID
	msg.TaskID = r.req.TaskID
	r.emit(Status{State: res.Control, Message: msg})
	return nil
}

func completed(call agentcore.ToolCall, mapper *toolmap.Mapper) ToolCallCompleted {
	out := ToolCallCompleted{ID: call.ID, ToolName: call.Name, Arguments: call.Arguments}
	if res, err := mapper.Resolve(call); err == nil {
		out.ToolName, out.Arguments = res.Tool, res.Arguments
	}
	return out
}

// runTool resolves and dispatches call. A failing call becomes an error
// result for the model. It reports false when the run must stop.
func (r *run) runTool(ctx context.Context, requestID agentcore.RequestID, call agentcore.ToolCall, mapper *toolmap.Mapper) (*agentcore.CallToolResult, bool) {
	ctx, span := r.tracer.Start(ctx, "agentcore.agent.RunTool",
		trace.WithAttributes(attribute.String("tool.name", call.Name)))
	defer span.End()

	resolved, err := mapper.Resolve(call)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		res := agentcore.NewErrorResult(agentcore.PublicMessage(err))
		if mapper.IsControl(call.Name) {
			return res, !r.stopped
		}
		return res, r.emit(ToolResult{ID: call.ID, ToolName: call.Name, Result: res})
	}

	execID := r.startExecution(ctx, requestID, call, resolved)
	res, err := r.tools.CallTool(ctx, resolved.Server, resolved.Tool, resolved.Arguments)
	if ctx.Err() != nil {
		// Canceled mid-call: the outcome is recorded but never reported.
		r.finishExecution(ctx, execID, nil, ctx.Err())
		return nil, false
	}
	if err != nil {
		r.logger.WarnContext(ctx, "tool call failed",
			slog.String("task_id", string(r.req.TaskID)),
			slog.String("mcp_server", resolved.Server),
			slog.String("tool_name", resolved.Tool),
			slog.Any("error", err),
		)
		span.SetStatus(codes.Error, err.Error())
		r.finishExecution(ctx, execID, nil, err)
		res = agentcore.NewErrorResult(agentcore.PublicMessage(err))
	} else {
		r.finishExecution(ctx, execID, res, nil)
	}

	if !r.emit(ToolResult{ID: call.ID, ToolName: resolved.Tool, ExecutionID: execID, Result: res}) {
		return nil, false
	}
	if !res.IsError {
		for _, a := range r.artifacts(res, resolved, execID, requestID) {
			if !r.emit(Artifact{Artifact: a}) {
				return nil, false
			}
		}
	}
	return res, true
}

func (r *run) startExecution(ctx context.Context, requestID agentcore.RequestID, call agentcore.ToolCall, resolved *toolmap.Resolved) agentcore.McpExecutionID {
	if r.executions == nil {
		return ""
	}
	id, err := r.executions.StartMcpExecution(ctx, &task.McpExecutionRecord{
		TaskID:       r.req.TaskID,
		ContextID:    r.req.ContextID,
		AiToolCallID: call.ID,
		ServerName:   resolved.Server,
		ToolName:     resolved.Tool,
		Arguments:    resolved.Arguments,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "record tool execution", slog.String("task_id", string(r.req.TaskID)), slog.Any("error", err))
		return ""
	}
	if err := r.executions.LinkMcpExecution(ctx, requestID, id); err != nil {
		r.logger.WarnContext(ctx, "link tool execution", slog.String("task_id", string(r.req.TaskID)), slog.Any("error", err))
	}
	return id
}

func (r *run) finishExecution(ctx context.Context, id agentcore.McpExecutionID, res *agentcore.CallToolResult, callErr error) {
	if r.executions == nil || id == "" {
		return
	}
	if err := r.executions.FinishMcpExecution(context.WithoutCancel(ctx), id, res, callErr, r.now()); err != nil {
		r.logger.WarnContext(ctx, "finish tool execution", slog.String("task_id", string(r.req.TaskID)), slog.Any("error", err))
	}
}

func (r *run) recordRequest(ctx context.Context, params provider.GenerationParams, resp *provider.AiResponse, callErr error) {
	if r.executions == nil {
		return
	}
	rec := &task.AiRequestRecord{
		RequestID: params.RequestID,
		TaskID:    r.req.TaskID,
		ContextID: r.req.ContextID,
		UserID:    r.req.UserID,
		SessionID: r.req.SessionID,
		TraceID:   r.req.TraceID,
		AgentName: r.rt.Definition.Name,
		Provider:  r.rt.Provider.Name(),
		Model:     r.rt.Model,
		Err:       callErr,
	}
	if resp != nil {
		rec.RequestID = resp.RequestID
		rec.Model = resp.Model
		rec.FinishReason = string(resp.FinishReason)
		rec.InputTokens = resp.Usage.InputTokens
		rec.OutputTokens = resp.Usage.OutputTokens
		rec.TotalTokens = resp.Usage.TotalTokens
		rec.CacheHit = resp.Usage.CacheHit
		rec.CacheReadTokens = resp.Usage.CacheReadTokens
		rec.CacheCreationTokens = resp.Usage.CacheCreationTokens
		rec.IsStreaming = resp.IsStreaming
		rec.LatencyMs = resp.LatencyMs
	}
	if err := r.executions.RecordAiRequest(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.WarnContext(ctx, "record ai request", slog.String("task_id", string(r.req.TaskID)), slog.Any("error", err))
	}
}

// searchTurn answers with the backend's built-in web search.
func (r *run) searchTurn(ctx context.Context, msgs []provider.Message) error {
	params := r.params(msgs)
	resp, err := r.rt.Provider.GenerateWithGoogleSearch(ctx, provider.SearchGenerationParams{Base: params})
	if err != nil {
		r.recordRequest(ctx, params, nil, err)
		return err
	}
	r.recordRequest(ctx, params, &resp.AiResponse, nil)
	r.usage.Add(resp.Usage)
	r.text.WriteString(resp.Content)
	if !r.emit(TextDelta{Text: resp.Content}) {
		return nil
	}
	if a := r.sourcesArtifact(resp, params.RequestID); a != nil {
		if !r.emit(Artifact{Artifact: a}) {
			return nil
		}
	}
	return r.finish()
}

func (r *run) finish() error {
	msg := agentcore.NewMessage(agentcore.RoleAssistant, agentcore.NewTextPart(r.text.String()))
	msg.ContextID = r.req.ContextID
	msg.TaskID = r.req.TaskID
	r.emit(Final{Message: msg, Usage: r.usage})
	return nil
}
