// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package client talks A2A JSON-RPC to agents served by agentcore.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-a2a/agentcore"
)

const tracerName = "github.com/go-a2a/agentcore/client"

// maxErrorBody bounds how much of a non-JSON error response is kept.
const maxErrorBody = 4 << 10

// Client calls one agent endpoint, such as
// https://host/api/v1/agents/hello/.
type Client struct {
	url        string
	httpClient *http.Client
	header     http.Header
	logger     *slog.Logger
	tracer     trace.Tracer
	attempts   int
	backoff    time.Duration

	nextID atomic.Int64
}

// New returns a client for the agent served at agentURL.
func New(agentURL string, opts ...Option) (*Client, error) {
	if _, err := agentcore.PathFromURL(agentURL); err != nil {
		return nil, err
	}
	if !strings.HasSuffix(agentURL, "/") {
		agentURL += "/"
	}
	c := &Client{
		url:        agentURL,
		httpClient: http.DefaultClient,
		header:     make(http.Header),
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
		attempts:   1,
		backoff:    250 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// URL returns the agent endpoint.
func (c *Client) URL() string { return c.url }

// AgentCard fetches the agent's card.
func (c *Client) AgentCard(ctx context.Context) (*agentcore.AgentCard, error) {
	u := c.url + strings.TrimPrefix(agentcore.AgentCardWellKnownPath, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("client: build card request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: fetch agent card: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, httpError(resp)
	}

	var card agentcore.AgentCard
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("client: decode agent card: %w", err)
	}
	return &card, nil
}

// SendMessage sends message/send and waits for the task. A configuration
// with Blocking set to false returns once the task exists.
func (c *Client) SendMessage(ctx context.Context, params *agentcore.MessageSendParams) (*agentcore.Task, error) {
	var task agentcore.Task
	if err := c.call(ctx, agentcore.MethodMessageSend, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask fetches a task. A nil historyLength returns the full history.
func (c *Client) GetTask(ctx context.Context, id agentcore.TaskID, historyLength *int) (*agentcore.Task, error) {
	var task agentcore.Task
	params := agentcore.TaskQueryParams{ID: id, HistoryLength: historyLength}
	if err := c.call(ctx, agentcore.MethodTasksGet, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTask asks the server to stop a task.
func (c *Client) CancelTask(ctx context.Context, id agentcore.TaskID) (*agentcore.Task, error) {
	var task agentcore.Task
	if err := c.call(ctx, agentcore.MethodTasksCancel, agentcore.TaskIDParams{ID: id}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// call performs one unary JSON-RPC request and decodes its result into out.
func (c *Client) call(ctx context.Context, method string, params, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "agentcore.client."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.method", method)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := c.encode(method, params)
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("client: decode %s response: %w", method, err)
	}
	if env.Error != nil {
		return env.Error.withStatus(resp.StatusCode)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("client: decode %s result: %w", method, err)
	}
	return nil
}

// post sends body, retrying requests the server turned away with 429 or
// 503 before doing any work.
func (c *Client) post(ctx context.Context, body []byte, accept string) (*http.Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoff

	return backoff.Retry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("client: build request: %w", err))
		}
		c.setHeaders(req)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", accept)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("client: send request: %w", err))
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			err := httpError(resp)
			resp.Body.Close()
			c.logger.DebugContext(ctx, "request turned away, retrying", slog.Int("status", resp.StatusCode))
			return nil, err
		}
		return resp, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(max(c.attempts, 1))))
}

func (c *Client) encode(method string, params any) ([]byte, error) {
	req := request{
		JSONRPC: "2.0",
		ID:      fmt.Sprintf("req-%d", c.nextID.Add(1)),
		Method:  method,
		Params:  params,
	}
	b, err := sonic.ConfigDefault.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("client: encode %s: %w", method, err)
	}
	return b, nil
}

func (c *Client) setHeaders(req *http.Request) {
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

// httpError builds an [Error] from a response that carries no JSON-RPC body.
// It reads at most maxErrorBody bytes.
func httpError(resp *http.Response) *Error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{StatusCode: resp.StatusCode, Message: msg}
}
