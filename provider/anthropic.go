// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"iter"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/config"
)

const (
	anthropicName           = "anthropic"
	anthropicBaseURL        = "https://api.anthropic.com"
	anthropicDefaultModel   = "claude-sonnet-4-20250514"
	anthropicAPIVersion     = "2023-06-01"
	anthropicMessagesPath   = "/v1/messages"
	anthropicStopToolUse    = "tool_use"
	anthropicStopMaxTokens  = "max_tokens"
	anthropicStopRefusal    = "refusal"
	anthropicBlockText      = "text"
	anthropicBlockToolUse   = "tool_use"
	anthropicBlockToolRes   = "tool_result"
	anthropicDeltaText      = "text_delta"
	anthropicDeltaInputJSON = "input_json_delta"
)

// Anthropic talks to the Anthropic Messages API.
type Anthropic struct {
	client
}

var _ Provider = (*Anthropic)(nil)

// NewAnthropic returns an Anthropic backend.
func NewAnthropic(cfg config.ProviderConfig, opts ...Option) *Anthropic {
	return &Anthropic{client: newClient(anthropicName, anthropicBaseURL, anthropicDefaultModel, cfg, opts)}
}

func (a *Anthropic) Dialect() Dialect           { return DialectAnthropic }
func (a *Anthropic) SupportsStreaming() bool    { return true }
func (a *Anthropic) SupportsGoogleSearch() bool { return false }

// Generate implements [Provider].
func (a *Anthropic) Generate(ctx context.Context, p GenerationParams) (*AiResponse, error) {
	return a.generate(ctx, a, "Generate", ToolGenerationParams{Base: p})
}

// GenerateStream implements [Provider].
func (a *Anthropic) GenerateStream(ctx context.Context, p GenerationParams) Stream {
	return a.stream(ctx, a, "GenerateStream", ToolGenerationParams{Base: p})
}

// GenerateWithTools implements [Provider].
func (a *Anthropic) GenerateWithTools(ctx context.Context, p ToolGenerationParams) (*AiResponse, error) {
	return a.generate(ctx, a, "GenerateWithTools", p)
}

// GenerateWithToolsStream implements [Provider].
func (a *Anthropic) GenerateWithToolsStream(ctx context.Context, p ToolGenerationParams) Stream {
	return a.stream(ctx, a, "GenerateWithToolsStream", p)
}

// GenerateWithGoogleSearch is not available on this backend.
func (a *Anthropic) GenerateWithGoogleSearch(context.Context, SearchGenerationParams) (*SearchGroundedResponse, error) {
	return nil, agentcore.NewProviderError(anthropicName+".GenerateWithGoogleSearch", ErrUnsupported)
}

type anthropicBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	Tools         []anthropicTool    `json:"tools,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

func (u anthropicUsage) usage() agentcore.Usage {
	return agentcore.Usage{
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		CacheReadTokens:     u.CacheReadInputTokens,
		CacheCreationTokens: u.CacheCreationInputTokens,
	}
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Model      string           `json:"model"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      anthropicUsage   `json:"usage"`
}

func anthropicFinish(reason string) FinishReason {
	switch reason {
	case "":
		return ""
	case "end_turn", "stop_sequence", "pause_turn":
		return FinishStop
	case anthropicStopToolUse:
		return FinishToolCalls
	case anthropicStopMaxTokens:
		return FinishLength
	case anthropicStopRefusal:
		return FinishContentFilter
	}
	return FinishReason(reason)
}

func (a *Anthropic) request(p ToolGenerationParams, model string, stream bool) (httpRequest, error) {
	req := anthropicRequest{
		Model:     model,
		MaxTokens: p.Base.MaxOutputTokens,
		Stream:    stream,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}
	if s := p.Base.Sampling; s != nil {
		req.Temperature, req.TopP, req.TopK = s.Temperature, s.TopP, s.TopK
		req.StopSequences = s.StopSequences
	}
	for _, m := range p.Base.Messages {
		if m.Role == agentcore.RoleSystem {
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += m.Content
			continue
		}
		req.Messages = appendAnthropicMessage(req.Messages, m)
	}
	if len(req.Messages) == 0 {
		return httpRequest{}, agentcore.NewValidationError("messages", "at least one non-system message is required")
	}
	for _, t := range p.Tools {
		req.Tools = append(req.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	h := make(http.Header)
	h.Set("x-api-key", a.apiKey)
	h.Set("anthropic-version", anthropicAPIVersion)
	if stream {
		h.Set("Accept", "text/event-stream")
	}
	return httpRequest{URL: a.baseURL + anthropicMessagesPath, Header: h, Body: req}, nil
}

// appendAnthropicMessage folds consecutive turns of the same role into one
// message; the API requires user and assistant turns to alternate, and tool
// results travel as user content.
func appendAnthropicMessage(msgs []anthropicMessage, m Message) []anthropicMessage {
	role := "user"
	var blocks []anthropicBlock
	switch m.Role {
	case agentcore.RoleAssistant:
		role = "assistant"
		if m.Content != "" {
			blocks = append(blocks, anthropicBlock{Type: anthropicBlockText, Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			input := tc.Arguments
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, anthropicBlock{Type: anthropicBlockToolUse, ID: string(tc.ID), Name: tc.Name, Input: input})
		}
	case agentcore.RoleTool:
		blocks = append(blocks, anthropicBlock{
			Type:      anthropicBlockToolRes,
			ToolUseID: string(m.ToolCallID),
			Content:   m.Content,
			IsError:   m.IsError,
		})
	default:
		blocks = append(blocks, anthropicBlock{Type: anthropicBlockText, Text: m.Content})
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == role {
		msgs[n-1].Content = append(msgs[n-1].Content, blocks...)
		return msgs
	}
	return append(msgs, anthropicMessage{Role: role, Content: blocks})
}

func (a *Anthropic) decode(body []byte) (*AiResponse, error) {
	var r anthropicResponse
	if err := sonic.ConfigStd.Unmarshal(body, &r); err != nil {
		return nil, agentcore.NewProtocolError(anthropicName+".decode", "invalid response body", err)
	}
	out := &AiResponse{
		Model:        r.Model,
		FinishReason: anthropicFinish(r.StopReason),
		Usage:        r.Usage.usage(),
	}
	for _, b := range r.Content {
		switch b.Type {
		case anthropicBlockText:
			out.Content += b.Text
		case anthropicBlockToolUse:
			args, _ := b.Input.(map[string]any)
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, agentcore.ToolCall{ID: agentcore.AiToolCallID(b.ID), Name: b.Name, Arguments: args})
		}
	}
	return out, nil
}

type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Index        int                `json:"index"`
	Message      *anthropicResponse `json:"message"`
	ContentBlock *anthropicBlock    `json:"content_block"`
	Delta        struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Anthropic) decodeStream(events iter.Seq2[sseEvent, error], st *streamState) error {
	for ev, err := range events {
		if err != nil {
			return err
		}
		var se anthropicStreamEvent
		if err := sonic.ConfigStd.Unmarshal(ev.Data, &se); err != nil {
			return agentcore.NewProtocolError(anthropicName+".stream", "invalid event "+strconv.Quote(ev.Event), err)
		}
		key := strconv.Itoa(se.Index)
		switch se.Type {
		case "message_start":
			if se.Message != nil {
				st.resp.Model = se.Message.Model
				st.resp.Usage = se.Message.Usage.usage()
			}
		case "content_block_start":
			if se.ContentBlock != nil && se.ContentBlock.Type == anthropicBlockToolUse {
				if err := st.startCall(key, se.ContentBlock.ID, se.ContentBlock.Name); err != nil {
					return err
				}
			}
		case "content_block_delta":
			switch se.Delta.Type {
			case anthropicDeltaText:
				if err := st.addText(se.Delta.Text); err != nil {
					return err
				}
			case anthropicDeltaInputJSON:
				if err := st.appendArgs(key, se.Delta.PartialJSON); err != nil {
					return err
				}
			}
		case "content_block_stop":
			if err := st.endCall(key); err != nil {
				return err
			}
		case "message_delta":
			if se.Delta.StopReason != "" {
				st.resp.FinishReason = anthropicFinish(se.Delta.StopReason)
			}
			if se.Usage != nil {
				st.resp.Usage.OutputTokens = se.Usage.OutputTokens
			}
		case "message_stop":
			return nil
		case "error":
			pe := &ProviderError{Provider: anthropicName, StatusCode: http.StatusBadGateway}
			if se.Error != nil {
				pe.Type, pe.Message = se.Error.Type, se.Error.Message
			}
			return pe
		}
	}
	return nil
}
