// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/config"
	"github.com/go-a2a/agentcore/internal/observability"
)

const (
	tracerName        = "github.com/go-a2a/agentcore/provider"
	maxErrorBodyBytes = 64 << 10
	defaultMaxTokens  = 4096
)

// Option configures a backend.
type Option func(*client)

// WithHTTPClient sets the [*http.Client] used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithRetryPolicy sets the retry budget.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *client) {
		c.retry = p
	}
}

// WithLogger sets the [*slog.Logger].
func WithLogger(logger *slog.Logger) Option {
	return func(c *client) {
		c.logger = logger
	}
}

// WithTracer sets the [trace.Tracer].
func WithTracer(tracer trace.Tracer) Option {
	return func(c *client) {
		c.tracer = tracer
	}
}

// WithMetrics sets the Prometheus recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *client) {
		c.metrics = m
	}
}

// WithClock overrides time.Now, for latency in tests.
func WithClock(now func() time.Time) Option {
	return func(c *client) {
		c.now = now
	}
}

// client is the transport shared by every backend.
type client struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string

	httpClient *http.Client
	retry      RetryPolicy
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *observability.Metrics
	now        func() time.Time
}

func newClient(name, defaultBaseURL, defaultModel string, cfg config.ProviderConfig, opts []Option) client {
	c := client{
		name:         name,
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.DefaultModel,
		httpClient:   http.DefaultClient,
		retry:        DefaultRetryPolicy,
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.defaultModel == "" {
		c.defaultModel = defaultModel
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *client) Name() string         { return c.name }
func (c *client) DefaultModel() string { return c.defaultModel }

func (c *client) model(p GenerationParams) string {
	if p.Model != "" {
		return p.Model
	}
	return c.defaultModel
}

// httpRequest is a prepared backend call.
type httpRequest struct {
	URL    string
	Header http.Header
	Body   any
}

// backend is implemented by each wire format.
type backend interface {
	request(p ToolGenerationParams, model string, stream bool) (httpRequest, error)
	decode(body []byte) (*AiResponse, error)
	decodeStream(events iter.Seq2[sseEvent, error], st *streamState) error
}

// send posts req under the retry policy and returns a 2xx response.
func (c *client) send(ctx context.Context, req httpRequest) (*http.Response, error) {
	body, err := sonic.ConfigStd.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}
	resp, err := retry(ctx, c.retry, c.logger, c.name, func() (*http.Response, error) {
		hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		for k, vs := range req.Header {
			for _, v := range vs {
				hreq.Header.Add(k, v)
			}
		}
		hreq.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(hreq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%s: send request: %w", c.name, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
			_ = resp.Body.Close()
			return nil, parseErrorBody(c.name, resp.StatusCode, b)
		}
		return resp, nil
	})
	if err != nil {
		return nil, c.classify(err)
	}
	return resp, nil
}

// classify lifts a final transport error into the error taxonomy.
func (c *client) classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return agentcore.NewTimeoutError(c.name+".request", err)
	case errors.Is(err, context.Canceled):
		return err
	case agentcore.KindOf(err) != agentcore.KindInternal:
		return err
	default:
		return agentcore.NewProviderError(c.name+".request", err)
	}
}

func (c *client) startSpan(ctx context.Context, op, model string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "agentcore.provider."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider", c.name),
			attribute.String("model", model),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// finalize stamps the bookkeeping fields on resp and rejects malformed calls.
func (c *client) finalize(ctx context.Context, resp *AiResponse, p GenerationParams, model string, started time.Time) error {
	resp.Provider = c.name
	if resp.Model == "" {
		resp.Model = model
	}
	resp.RequestID = p.RequestID
	if resp.RequestID == "" {
		resp.RequestID = agentcore.NewRequestID()
	}
	resp.LatencyMs = c.now().Sub(started).Milliseconds()
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
	}
	resp.Usage.CacheHit = resp.Usage.CacheHit || resp.Usage.CacheReadTokens > 0
	c.metrics.ProviderTokens(c.name, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	c.logger.DebugContext(ctx, "provider response",
		slog.String("provider", c.name),
		slog.String("model", resp.Model),
		slog.String("request_id", resp.RequestID.String()),
		slog.String("finish_reason", string(resp.FinishReason)),
		slog.Int("tool_calls", len(resp.ToolCalls)),
		slog.Int64("latency_ms", resp.LatencyMs),
	)
	if resp.FinishReason == FinishMalformedFunctionCall {
		return agentcore.NewProtocolError(c.name+".generate", "model produced a malformed function call", nil)
	}
	return nil
}

func (c *client) generate(ctx context.Context, b backend, op string, p ToolGenerationParams) (_ *AiResponse, err error) {
	model := c.model(p.Base)
	ctx, span := c.startSpan(ctx, op, model)
	started := c.now()
	defer func() {
		c.metrics.ProviderRequest(c.name, c.now().Sub(started), err)
		endSpan(span, err)
	}()

	req, err := b.request(p, model, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(fmt.Errorf("%s: read response: %w", c.name, err))
	}
	out, err := b.decode(body)
	if err != nil {
		return nil, err
	}
	if err = c.finalize(ctx, out, p.Base, model, started); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) stream(ctx context.Context, b backend, op string, p ToolGenerationParams) Stream {
	return func(yield func(StreamChunk, error) bool) {
		model := c.model(p.Base)
		ctx, span := c.startSpan(ctx, op, model)
		started := c.now()
		var err error
		defer func() {
			c.metrics.ProviderRequest(c.name, c.now().Sub(started), err)
			endSpan(span, err)
		}()

		req, err := b.request(p, model, true)
		if err != nil {
			yield(StreamChunk{}, err)
			return
		}
		resp, err := c.send(ctx, req)
		if err != nil {
			yield(StreamChunk{}, err)
			return
		}
		defer resp.Body.Close()

		st := newStreamState(yield)
		if err = b.decodeStream(readSSE(resp.Body), st); err != nil {
			if errors.Is(err, errStopped) {
				err = nil
				return
			}
			if agentcore.KindOf(err) == agentcore.KindInternal {
				err = c.classify(fmt.Errorf("%s: read stream: %w", c.name, err))
			}
			yield(StreamChunk{}, err)
			return
		}
		out, err := st.finish()
		if err != nil {
			if errors.Is(err, errStopped) {
				err = nil
				return
			}
			yield(StreamChunk{}, err)
			return
		}
		if err = c.finalize(ctx, out, p.Base, model, started); err != nil {
			yield(StreamChunk{}, err)
			return
		}
		yield(StreamChunk{Type: ChunkDone, Response: out}, nil)
	}
}
