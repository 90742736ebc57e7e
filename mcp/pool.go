// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp dispatches tool calls to remote MCP tool servers over the
// streamable HTTP transport.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v5"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/config"
	"github.com/go-a2a/agentcore/internal/observability"
	"github.com/go-a2a/agentcore/provider/toolmap"
)

const tracerName = "github.com/go-a2a/agentcore/mcp"

var clientInfo = mcp.Implementation{Name: "agentcore", Version: "1.0.0"}

// Option configures a [Pool].
type Option func(*Pool)

// WithLogger sets the [*slog.Logger].
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithTracer sets the [trace.Tracer].
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pool) {
		p.tracer = tracer
	}
}

// WithMetrics sets the Prometheus recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// WithRetryInterval sets the first pause between attempts of a failed call.
func WithRetryInterval(d time.Duration) Option {
	return func(p *Pool) {
		p.retryInterval = d
	}
}

// Pool keeps one initialized client per configured server. It is safe for
// concurrent use.
type Pool struct {
	servers        map[string]config.MCPServerConfig
	connectTimeout time.Duration
	execTimeout    time.Duration
	retryAttempts  int
	retryInterval  time.Duration

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.Metrics

	mu      sync.Mutex
	clients map[string]*client.Client
}

// NewPool returns a pool for the servers in cfg. Connections are opened on
// first use.
func NewPool(cfg config.MCPConfig, opts ...Option) *Pool {
	p := &Pool{
		servers:        maps.Clone(cfg.Servers),
		connectTimeout: cfg.ConnectTimeout(),
		execTimeout:    cfg.ExecutionTimeout(),
		retryAttempts:  max(cfg.RetryAttempts, 0),
		retryInterval:  250 * time.Millisecond,
		logger:         slog.Default(),
		tracer:         otel.Tracer(tracerName),
		clients:        make(map[string]*client.Client),
	}
	if p.servers == nil {
		p.servers = make(map[string]config.MCPServerConfig)
	}
	if p.connectTimeout <= 0 {
		p.connectTimeout = 5 * time.Second
	}
	if p.execTimeout <= 0 {
		p.execTimeout = 60 * time.Second
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Servers returns the configured server names, sorted.
func (p *Pool) Servers() []string {
	return slices.Sorted(maps.Keys(p.servers))
}

// HasServer reports whether name is configured.
func (p *Pool) HasServer(name string) bool {
	_, ok := p.servers[name]
	return ok
}

// connect returns the cached client for name, opening one if needed.
func (p *Pool) connect(ctx context.Context, name string) (*client.Client, error) {
	p.mu.Lock()
	c, ok := p.clients[name]
	p.mu.Unlock()
	if ok {
		return c, nil
	}

	srv, ok := p.servers[name]
	if !ok {
		return nil, agentcore.NewNotFoundError("mcp server", name)
	}
	ctx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()

	c, err := client.NewStreamableHttpClient(srv.URL, transport.WithHTTPHeaders(srv.Headers))
	if err != nil {
		return nil, fmt.Errorf("mcp: create client for %s: %w", name, err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp: start %s: %w", name, err)
	}
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = clientInfo
	if _, err := c.Initialize(ctx, req); err != nil {
		_ = c.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, agentcore.NewTimeoutError("mcp.Connect", fmt.Errorf("%s: %w", name, err))
		}
		return nil, fmt.Errorf("mcp: initialize %s: %w", name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.clients[name]; ok {
		_ = c.Close()
		return existing, nil
	}
	p.clients[name] = c
	return c, nil
}

// drop forgets a client that failed so the next attempt reconnects.
func (p *Pool) drop(name string, c *client.Client) {
	p.mu.Lock()
	if p.clients[name] == c {
		delete(p.clients, name)
	}
	p.mu.Unlock()
	_ = c.Close()
}

// ListTools discovers the tools of servers concurrently. A server that cannot
// be reached is logged and skipped; its tools are simply not offered.
func (p *Pool) ListTools(ctx context.Context, servers []string) ([]toolmap.Tool, error) {
	ctx, span := p.tracer.Start(ctx, "agentcore.mcp.ListTools",
		trace.WithAttributes(attribute.StringSlice("mcp.servers", servers)))
	defer span.End()

	found := make([][]toolmap.Tool, len(servers))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range servers {
		g.Go(func() error {
			tools, err := p.listServer(gctx, name)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.WarnContext(ctx, "mcp tool discovery failed",
					slog.String("mcp_server", name),
					slog.Any("error", err),
				)
				return nil
			}
			found[i] = tools
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	var out []toolmap.Tool
	for _, tools := range found {
		out = append(out, tools...)
	}
	span.SetAttributes(attribute.Int("mcp.tools", len(out)))
	return out, nil
}

func (p *Pool) listServer(ctx context.Context, name string) ([]toolmap.Tool, error) {
	c, err := p.connect(ctx, name)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.execTimeout)
	defer cancel()
	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		p.drop(name, c)
		return nil, fmt.Errorf("mcp: list tools of %s: %w", name, err)
	}
	tools := make([]toolmap.Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, toolmap.Tool{
			Server:      name,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: inputSchema(t),
		})
	}
	return tools, nil
}

// CallTool invokes tool on server. Transport failures are retried within the
// pool's retry budget; a tool that reports failure is returned as a result
// with IsError set, not as an error.
func (p *Pool) CallTool(ctx context.Context, server, tool string, args map[string]any) (result *agentcore.CallToolResult, err error) {
	ctx, span := p.tracer.Start(ctx, "agentcore.mcp.CallTool",
		trace.WithAttributes(
			attribute.String("mcp.server", server),
			attribute.String("mcp.tool", tool),
		))
	start := time.Now()
	defer func() {
		isError := result != nil && result.IsError
		p.metrics.MCPCall(server, time.Since(start), isError, err)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !p.HasServer(server) {
		return nil, agentcore.NewNotFoundError("mcp server", server)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryInterval
	attempt := 0
	return backoff.Retry(ctx, func() (*agentcore.CallToolResult, error) {
		attempt++
		res, err := p.callOnce(ctx, server, tool, args)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil || agentcore.KindOf(err) == agentcore.KindTimeout || agentcore.KindOf(err) == agentcore.KindNotFound {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.retryAttempts+1)),
		backoff.WithNotify(func(err error, d time.Duration) {
			p.logger.WarnContext(ctx, "retrying mcp tool call",
				slog.String("mcp_server", server),
				slog.String("tool_name", tool),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", d),
				slog.Any("error", err),
			)
		}),
	)
}

func (p *Pool) callOnce(ctx context.Context, server, tool string, args map[string]any) (*agentcore.CallToolResult, error) {
	c, err := p.connect(ctx, server)
	if err != nil {
		return nil, err
	}
	execCtx, cancel := context.WithTimeout(ctx, p.execTimeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args
	res, err := c.CallTool(execCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, agentcore.NewTimeoutError("mcp.CallTool", fmt.Errorf("%s/%s after %s: %w", server, tool, p.execTimeout, err))
		}
		p.drop(server, c)
		return nil, fmt.Errorf("mcp: call %s/%s: %w", server, tool, err)
	}
	return convertResult(res), nil
}

// Close closes every open client.
func (p *Pool) Close() error {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*client.Client)
	p.mu.Unlock()

	var errs []error
	for name, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func inputSchema(t mcp.Tool) map[string]any {
	raw := []byte(t.RawInputSchema)
	if len(raw) == 0 {
		b, err := sonic.Marshal(t.InputSchema)
		if err != nil {
			return nil
		}
		raw = b
	}
	var m map[string]any
	if err := sonic.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
