// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/config"
)

const (
	openAIName          = "openai"
	openAIBaseURL       = "https://api.openai.com/v1"
	openAIDefaultModel  = "gpt-4o"
	openAIChatPath      = "/chat/completions"
	openAIResponsesPath = "/responses"
	openAIDone          = "[DONE]"
)

// OpenAI talks to the OpenAI Chat Completions API, and to the Responses API
// for web-search grounding.
type OpenAI struct {
	client
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI returns an OpenAI backend.
func NewOpenAI(cfg config.ProviderConfig, opts ...Option) *OpenAI {
	return &OpenAI{client: newClient(openAIName, openAIBaseURL, openAIDefaultModel, cfg, opts)}
}

func (o *OpenAI) Dialect() Dialect           { return DialectOpenAI }
func (o *OpenAI) SupportsStreaming() bool    { return true }
func (o *OpenAI) SupportsGoogleSearch() bool { return true }

// Generate implements [Provider].
func (o *OpenAI) Generate(ctx context.Context, p GenerationParams) (*AiResponse, error) {
	return o.generate(ctx, o, "Generate", ToolGenerationParams{Base: p})
}

// GenerateStream implements [Provider].
func (o *OpenAI) GenerateStream(ctx context.Context, p GenerationParams) Stream {
	return o.stream(ctx, o, "GenerateStream", ToolGenerationParams{Base: p})
}

// GenerateWithTools implements [Provider].
func (o *OpenAI) GenerateWithTools(ctx context.Context, p ToolGenerationParams) (*AiResponse, error) {
	return o.generate(ctx, o, "GenerateWithTools", p)
}

// GenerateWithToolsStream implements [Provider].
func (o *OpenAI) GenerateWithToolsStream(ctx context.Context, p ToolGenerationParams) Stream {
	return o.stream(ctx, o, "GenerateWithToolsStream", p)
}

func (o *OpenAI) header() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+o.apiKey)
	return h
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openAIFunctionCall `json:"function"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIRequest struct {
	Model               string               `json:"model"`
	Messages            []openAIMessage      `json:"messages"`
	Tools               []openAITool         `json:"tools,omitempty"`
	ToolChoice          string               `json:"tool_choice,omitempty"`
	MaxCompletionTokens int                  `json:"max_completion_tokens,omitempty"`
	Temperature         *float64             `json:"temperature,omitempty"`
	TopP                *float64             `json:"top_p,omitempty"`
	Stop                []string             `json:"stop,omitempty"`
	Stream              bool                 `json:"stream,omitempty"`
	StreamOptions       *openAIStreamOptions `json:"stream_options,omitempty"`
}

type openAIUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	PromptTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

func (u openAIUsage) usage() agentcore.Usage {
	return agentcore.Usage{
		InputTokens:     u.PromptTokens,
		OutputTokens:    u.CompletionTokens,
		TotalTokens:     u.TotalTokens,
		CacheReadTokens: u.PromptTokensDetails.CachedTokens,
	}
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   *string          `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

func openAIFinish(reason string) FinishReason {
	if reason == "function_call" {
		return FinishToolCalls
	}
	return FinishReason(reason)
}

func (o *OpenAI) request(p ToolGenerationParams, model string, stream bool) (httpRequest, error) {
	req := openAIRequest{
		Model:               model,
		MaxCompletionTokens: p.Base.MaxOutputTokens,
		Stream:              stream,
	}
	if stream {
		req.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	if s := p.Base.Sampling; s != nil {
		req.Temperature, req.TopP = s.Temperature, s.TopP
		req.Stop = s.StopSequences
	}
	for _, m := range p.Base.Messages {
		req.Messages = append(req.Messages, toOpenAIMessage(m))
	}
	if len(req.Messages) == 0 {
		return httpRequest{}, agentcore.NewValidationError("messages", "at least one message is required")
	}
	for _, t := range p.Tools {
		params := t.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, openAITool{
			Type:     "function",
			Function: openAIFunction{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}
	return httpRequest{URL: o.baseURL + openAIChatPath, Header: o.header(), Body: req}, nil
}

func toOpenAIMessage(m Message) openAIMessage {
	content := m.Content
	out := openAIMessage{Role: string(m.Role), Content: &content}
	switch m.Role {
	case agentcore.RoleAssistant:
		for _, tc := range m.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, openAIToolCall{
				ID:       string(tc.ID),
				Type:     "function",
				Function: openAIFunctionCall{Name: tc.Name, Arguments: encodeArguments(tc.Arguments)},
			})
		}
		if content == "" && len(out.ToolCalls) > 0 {
			out.Content = nil
		}
	case agentcore.RoleTool:
		out.ToolCallID = string(m.ToolCallID)
		if m.IsError && !strings.HasPrefix(content, "Error") {
			content = "Error: " + content
			out.Content = &content
		}
	}
	return out
}

func (o *OpenAI) decode(body []byte) (*AiResponse, error) {
	var r openAIResponse
	if err := sonic.ConfigStd.Unmarshal(body, &r); err != nil {
		return nil, agentcore.NewProtocolError(openAIName+".decode", "invalid response body", err)
	}
	if len(r.Choices) == 0 {
		return nil, agentcore.NewProtocolError(openAIName+".decode", "response has no choices", nil)
	}
	choice := r.Choices[0]
	out := &AiResponse{Model: r.Model}
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}
	if choice.FinishReason != nil {
		out.FinishReason = openAIFinish(*choice.FinishReason)
	}
	if r.Usage != nil {
		out.Usage = r.Usage.usage()
	}
	for _, tc := range choice.Message.ToolCalls {
		args, err := ParseArguments(tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		out.ToolCalls = append(out.ToolCalls, agentcore.ToolCall{ID: agentcore.AiToolCallID(tc.ID), Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}

func (o *OpenAI) decodeStream(events iter.Seq2[sseEvent, error], st *streamState) error {
	for ev, err := range events {
		if err != nil {
			return err
		}
		data := strings.TrimSpace(string(ev.Data))
		if data == openAIDone {
			return nil
		}
		if data == "" {
			continue
		}
		var chunk openAIResponse
		if err := sonic.ConfigStd.UnmarshalFromString(data, &chunk); err != nil {
			return agentcore.NewProtocolError(openAIName+".stream", "invalid chunk", err)
		}
		if chunk.Model != "" {
			st.resp.Model = chunk.Model
		}
		if chunk.Usage != nil {
			st.resp.Usage = chunk.Usage.usage()
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if err := st.addText(choice.Delta.Content); err != nil {
			return err
		}
		for i, tc := range choice.Delta.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			key := strconv.Itoa(idx)
			if tc.ID != "" || tc.Function.Name != "" {
				if err := st.startCall(key, tc.ID, tc.Function.Name); err != nil {
					return err
				}
			}
			if err := st.appendArgs(key, tc.Function.Arguments); err != nil {
				return err
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			st.resp.FinishReason = openAIFinish(*choice.FinishReason)
		}
	}
	return nil
}

type openAIResponsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponsesRequest struct {
	Model           string                 `json:"model"`
	Instructions    string                 `json:"instructions,omitempty"`
	Input           []openAIResponsesInput `json:"input"`
	Tools           []map[string]any       `json:"tools"`
	MaxOutputTokens int                    `json:"max_output_tokens,omitempty"`
	Temperature     *float64               `json:"temperature,omitempty"`
	TopP            *float64               `json:"top_p,omitempty"`
	Text            map[string]any         `json:"text,omitempty"`
}

type openAIResponsesResponse struct {
	ID     string `json:"id"`
	Model  string `json:"model"`
	Status string `json:"status"`
	Output []struct {
		Type   string `json:"type"`
		Action struct {
			Query string `json:"query"`
		} `json:"action"`
		Content []struct {
			Type        string `json:"type"`
			Text        string `json:"text"`
			Annotations []struct {
				Type  string `json:"type"`
				URL   string `json:"url"`
				Title string `json:"title"`
			} `json:"annotations"`
		} `json:"content"`
	} `json:"output"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	Usage struct {
		InputTokens        int `json:"input_tokens"`
		OutputTokens       int `json:"output_tokens"`
		TotalTokens        int `json:"total_tokens"`
		InputTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"input_tokens_details"`
	} `json:"usage"`
}

// GenerateWithGoogleSearch answers through the Responses API with the
// built-in web search tool.
func (o *OpenAI) GenerateWithGoogleSearch(ctx context.Context, p SearchGenerationParams) (_ *SearchGroundedResponse, err error) {
	model := o.model(p.Base)
	ctx, span := o.startSpan(ctx, "GenerateWithGoogleSearch", model)
	started := o.now()
	defer func() {
		o.metrics.ProviderRequest(o.name, o.now().Sub(started), err)
		endSpan(span, err)
	}()

	req := openAIResponsesRequest{
		Model:           model,
		Tools:           []map[string]any{{"type": "web_search", "search_context_size": "medium"}},
		MaxOutputTokens: p.Base.MaxOutputTokens,
	}
	if s := p.Base.Sampling; s != nil {
		req.Temperature, req.TopP = s.Temperature, s.TopP
	}
	for _, m := range withURLs(p.Base.Messages, p.URLs) {
		switch m.Role {
		case agentcore.RoleSystem:
			req.Instructions = m.Content
		case agentcore.RoleUser, agentcore.RoleAssistant:
			req.Input = append(req.Input, openAIResponsesInput{Role: string(m.Role), Content: m.Content})
		}
	}
	if len(req.Input) == 0 {
		return nil, agentcore.NewValidationError("messages", "at least one message is required")
	}
	if p.ResponseSchema != nil {
		req.Text = map[string]any{"format": map[string]any{
			"type":   "json_schema",
			"name":   "response",
			"schema": p.ResponseSchema,
		}}
	}

	resp, err := o.send(ctx, httpRequest{URL: o.baseURL + openAIResponsesPath, Header: o.header(), Body: req})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, o.classify(fmt.Errorf("%s: read response: %w", o.name, err))
	}
	var r openAIResponsesResponse
	if err = sonic.ConfigStd.Unmarshal(body, &r); err != nil {
		return nil, agentcore.NewProtocolError(openAIName+".decode", "invalid response body", err)
	}

	out := &SearchGroundedResponse{AiResponse: AiResponse{
		Model:        r.Model,
		FinishReason: FinishStop,
		Usage: agentcore.Usage{
			InputTokens:     r.Usage.InputTokens,
			OutputTokens:    r.Usage.OutputTokens,
			TotalTokens:     r.Usage.TotalTokens,
			CacheReadTokens: r.Usage.InputTokensDetails.CachedTokens,
		},
	}}
	if r.IncompleteDetails != nil && r.IncompleteDetails.Reason == "max_output_tokens" {
		out.FinishReason = FinishLength
	}
	seen := make(map[string]bool)
	for _, item := range r.Output {
		switch item.Type {
		case "web_search_call":
			if item.Action.Query != "" {
				out.Queries = append(out.Queries, item.Action.Query)
			}
		case "message":
			for _, c := range item.Content {
				if c.Type != "output_text" {
					continue
				}
				out.Content += c.Text
				for _, a := range c.Annotations {
					if a.Type == "url_citation" && !seen[a.URL] {
						seen[a.URL] = true
						out.Sources = append(out.Sources, Source{Title: a.Title, URI: a.URL})
					}
				}
			}
		}
	}
	if err = o.finalize(ctx, &out.AiResponse, p.Base, model, started); err != nil {
		return nil, err
	}
	return out, nil
}

// withURLs appends the URLs to ground on to the last user turn.
func withURLs(msgs []Message, urls []string) []Message {
	if len(urls) == 0 {
		return msgs
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == agentcore.RoleUser {
			out[i].Content += "\n\nSources to consult:\n" + strings.Join(urls, "\n")
			return out
		}
	}
	return append(out, Message{Role: agentcore.RoleUser, Content: "Sources to consult:\n" + strings.Join(urls, "\n")})
}
