// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package provider talks to model backends. Each backend exposes the same
// capability set: plain generation, generation with tools, streaming
// variants of both, and search-grounded generation where the backend has it.
package provider

import (
	"context"
	"iter"

	"github.com/go-a2a/agentcore"
)

// Dialect names the tool-schema dialect a backend accepts.
type Dialect string

const (
	DialectAnthropic Dialect = "anthropic"
	DialectOpenAI    Dialect = "openai"
	DialectGemini    Dialect = "gemini"
)

// Provider is a model backend.
type Provider interface {
	// Name is the registry name, e.g. "anthropic".
	Name() string
	Dialect() Dialect
	DefaultModel() string
	SupportsStreaming() bool
	SupportsGoogleSearch() bool

	Generate(ctx context.Context, p GenerationParams) (*AiResponse, error)
	GenerateStream(ctx context.Context, p GenerationParams) Stream
	GenerateWithTools(ctx context.Context, p ToolGenerationParams) (*AiResponse, error)
	GenerateWithToolsStream(ctx context.Context, p ToolGenerationParams) Stream
	GenerateWithGoogleSearch(ctx context.Context, p SearchGenerationParams) (*SearchGroundedResponse, error)
}

// Message is one turn of the conversation sent to a model.
type Message struct {
	Role    agentcore.Role
	Content string

	// ToolCalls are the calls requested by an assistant turn.
	ToolCalls []agentcore.ToolCall

	// ToolCallID, ToolName and IsError describe a tool-result turn.
	ToolCallID agentcore.AiToolCallID
	ToolName   string
	IsError    bool
}

// Tool is a function the model may call. InputSchema is a JSON Schema object.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Sampling holds optional sampling controls. Nil fields use the backend default.
type Sampling struct {
	Temperature   *float64
	TopP          *float64
	TopK          *int
	StopSequences []string
}

// GenerationParams is the common request shape.
type GenerationParams struct {
	Messages        []Message
	Model           string
	MaxOutputTokens int
	Sampling        *Sampling

	// RequestID is reused for the response when set.
	RequestID agentcore.RequestID
}

// ToolGenerationParams adds the tools offered to the model.
type ToolGenerationParams struct {
	Base  GenerationParams
	Tools []Tool
}

// SearchGenerationParams asks for an answer grounded in web search.
type SearchGenerationParams struct {
	Base           GenerationParams
	URLs           []string
	ResponseSchema map[string]any
}

// FinishReason is the normalized reason a model stopped.
type FinishReason string

const (
	FinishStop                  FinishReason = "stop"
	FinishToolCalls             FinishReason = "tool_calls"
	FinishLength                FinishReason = "length"
	FinishContentFilter         FinishReason = "content_filter"
	FinishMalformedFunctionCall FinishReason = "malformed_function_call"
)

// AiResponse is the provider-neutral result of one model request.
type AiResponse struct {
	RequestID    agentcore.RequestID
	Content      string
	Provider     string
	Model        string
	FinishReason FinishReason
	Usage        agentcore.Usage
	IsStreaming  bool
	LatencyMs    int64
	ToolCalls    []agentcore.ToolCall
	ToolResults  []agentcore.CallToolResult
}

// Source is a web page cited by a search-grounded answer.
type Source struct {
	Title string
	URI   string
}

// SearchGroundedResponse is an answer with its citations.
type SearchGroundedResponse struct {
	AiResponse
	Sources []Source
	Queries []string
}

// ChunkType discriminates [StreamChunk].
type ChunkType int

const (
	ChunkText ChunkType = iota + 1
	ChunkToolCallStart
	ChunkToolCallDelta
	ChunkToolCallEnd
	ChunkDone
)

func (t ChunkType) String() string {
	switch t {
	case ChunkText:
		return "text"
	case ChunkToolCallStart:
		return "tool_call_start"
	case ChunkToolCallDelta:
		return "tool_call_delta"
	case ChunkToolCallEnd:
		return "tool_call_end"
	case ChunkDone:
		return "done"
	}
	return "unknown"
}

// StreamChunk is one increment of a streamed response.
type StreamChunk struct {
	Type ChunkType

	// Text is set for ChunkText.
	Text string

	// ToolCallID and ToolName are set for the tool-call chunks.
	ToolCallID agentcore.AiToolCallID
	ToolName   string

	// ArgsFragment is set for ChunkToolCallDelta.
	ArgsFragment string

	// ToolCall is the assembled call, set for ChunkToolCallEnd.
	ToolCall *agentcore.ToolCall

	// Response is the aggregated response, set for ChunkDone.
	Response *AiResponse
}

// Stream yields chunks until ChunkDone or an error. The request is sent when
// iteration starts; stopping early closes the connection.
type Stream = iter.Seq2[StreamChunk, error]

// Collect drains s and returns the aggregated response.
func Collect(s Stream) (*AiResponse, error) {
	for ch, err := range s {
		if err != nil {
			return nil, err
		}
		if ch.Type == ChunkDone {
			return ch.Response, nil
		}
	}
	return nil, agentcore.NewProtocolError("provider.collect", "stream ended without a final chunk", nil)
}
