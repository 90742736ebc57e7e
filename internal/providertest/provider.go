// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package providertest provides a scripted model backend for tests.
package providertest

import (
	"context"
	"slices"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/provider"
)

// Turn is the scripted answer to one request.
type Turn struct {
	// Text is streamed one element per chunk.
	Text      []string
	ToolCalls []agentcore.ToolCall
	Usage     agentcore.Usage
	// Err fails the request before anything is streamed.
	Err error
	// Hold blocks after the text until the request context ends.
	Hold bool
	// Finish overrides the finish reason.
	Finish provider.FinishReason
}

// Provider replays turns in order. When the script is exhausted it answers
// with an empty stop turn.
type Provider struct {
	ProviderName string
	// Streaming selects the streaming code path of callers.
	Streaming bool
	// Search enables GenerateWithGoogleSearch with SearchResponse.
	Search         bool
	SearchResponse *provider.SearchGroundedResponse

	mu       sync.Mutex
	turns    []Turn
	requests []provider.ToolGenerationParams
}

var _ provider.Provider = (*Provider)(nil)

// New returns a streaming provider that plays turns.
func New(turns ...Turn) *Provider {
	return &Provider{ProviderName: "scripted", Streaming: true, turns: turns}
}

// Requests returns the requests received so far.
func (p *Provider) Requests() []provider.ToolGenerationParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.requests)
}

func (p *Provider) next(params provider.ToolGenerationParams) Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, params)
	if len(p.turns) == 0 {
		return Turn{}
	}
	t := p.turns[0]
	p.turns = p.turns[1:]
	return t
}

func (p *Provider) Name() string               { return p.ProviderName }
func (p *Provider) Dialect() provider.Dialect  { return provider.DialectOpenAI }
func (p *Provider) DefaultModel() string       { return "scripted-1" }
func (p *Provider) SupportsStreaming() bool    { return p.Streaming }
func (p *Provider) SupportsGoogleSearch() bool { return p.Search }

func (p *Provider) response(params provider.ToolGenerationParams, t Turn, streaming bool) *provider.AiResponse {
	var content string
	for _, s := range t.Text {
		content += s
	}
	finish := t.Finish
	if finish == "" {
		finish = provider.FinishStop
		if len(t.ToolCalls) > 0 {
			finish = provider.FinishToolCalls
		}
	}
	model := params.Base.Model
	if model == "" {
		model = p.DefaultModel()
	}
	usage := t.Usage
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	return &provider.AiResponse{
		RequestID:    params.Base.RequestID,
		Content:      content,
		Provider:     p.ProviderName,
		Model:        model,
		FinishReason: finish,
		Usage:        usage,
		IsStreaming:  streaming,
		LatencyMs:    1,
		ToolCalls:    slices.Clone(t.ToolCalls),
	}
}

func (p *Provider) Generate(ctx context.Context, params provider.GenerationParams) (*provider.AiResponse, error) {
	return p.GenerateWithTools(ctx, provider.ToolGenerationParams{Base: params})
}

func (p *Provider) GenerateWithTools(ctx context.Context, params provider.ToolGenerationParams) (*provider.AiResponse, error) {
	t := p.next(params)
	if t.Err != nil {
		return nil, t.Err
	}
	if t.Hold {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.response(params, t, false), nil
}

func (p *Provider) GenerateStream(ctx context.Context, params provider.GenerationParams) provider.Stream {
	return p.GenerateWithToolsStream(ctx, provider.ToolGenerationParams{Base: params})
}

func (p *Provider) GenerateWithToolsStream(ctx context.Context, params provider.ToolGenerationParams) provider.Stream {
	return func(yield func(provider.StreamChunk, error) bool) {
		t := p.next(params)
		if t.Err != nil {
			yield(provider.StreamChunk{}, t.Err)
			return
		}
		for _, s := range t.Text {
			if !yield(provider.StreamChunk{Type: provider.ChunkText, Text: s}, nil) {
				return
			}
		}
		if t.Hold {
			<-ctx.Done()
			yield(provider.StreamChunk{}, ctx.Err())
			return
		}
		for _, call := range t.ToolCalls {
			args, err := sonic.MarshalString(call.Arguments)
			if err != nil {
				yield(provider.StreamChunk{}, err)
				return
			}
			chunks := []provider.StreamChunk{
				{Type: provider.ChunkToolCallStart, ToolCallID: call.ID, ToolName: call.Name},
				{Type: provider.ChunkToolCallDelta, ToolCallID: call.ID, ToolName: call.Name, ArgsFragment: args},
				{Type: provider.ChunkToolCallEnd, ToolCallID: call.ID, ToolName: call.Name, ToolCall: &call},
			}
			for _, ch := range chunks {
				if !yield(ch, nil) {
					return
				}
			}
		}
		yield(provider.StreamChunk{Type: provider.ChunkDone, Response: p.response(params, t, true)}, nil)
	}
}

func (p *Provider) GenerateWithGoogleSearch(ctx context.Context, params provider.SearchGenerationParams) (*provider.SearchGroundedResponse, error) {
	p.next(provider.ToolGenerationParams{Base: params.Base})
	if !p.Search {
		return nil, provider.ErrUnsupported
	}
	out := *p.SearchResponse
	out.RequestID = params.Base.RequestID
	return &out, nil
}
