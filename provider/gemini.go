// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/config"
)

const (
	geminiName           = "gemini"
	geminiBaseURL        = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel   = "gemini-2.5-flash"
	geminiThinkingBudget = 8192
)

// Gemini talks to the Gemini generateContent API.
type Gemini struct {
	client
}

var _ Provider = (*Gemini)(nil)

// NewGemini returns a Gemini backend.
func NewGemini(cfg config.ProviderConfig, opts ...Option) *Gemini {
	return &Gemini{client: newClient(geminiName, geminiBaseURL, geminiDefaultModel, cfg, opts)}
}

func (g *Gemini) Dialect() Dialect           { return DialectGemini }
func (g *Gemini) SupportsStreaming() bool    { return true }
func (g *Gemini) SupportsGoogleSearch() bool { return true }

// Generate implements [Provider].
func (g *Gemini) Generate(ctx context.Context, p GenerationParams) (*AiResponse, error) {
	return g.generate(ctx, g, "Generate", ToolGenerationParams{Base: p})
}

// GenerateStream implements [Provider].
func (g *Gemini) GenerateStream(ctx context.Context, p GenerationParams) Stream {
	return g.stream(ctx, g, "GenerateStream", ToolGenerationParams{Base: p})
}

// GenerateWithTools implements [Provider].
func (g *Gemini) GenerateWithTools(ctx context.Context, p ToolGenerationParams) (*AiResponse, error) {
	return g.generate(ctx, g, "GenerateWithTools", p)
}

// GenerateWithToolsStream implements [Provider].
func (g *Gemini) GenerateWithToolsStream(ctx context.Context, p ToolGenerationParams) Stream {
	return g.stream(ctx, g, "GenerateWithToolsStream", p)
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	Thought          bool                    `json:"thought,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
	GoogleSearch         *struct{}                   `json:"googleSearch,omitempty"`
	URLContext           *struct{}                   `json:"urlContext,omitempty"`
}

type geminiThinkingConfig struct {
	ThinkingBudget  int  `json:"thinkingBudget"`
	IncludeThoughts bool `json:"includeThoughts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens  int                   `json:"maxOutputTokens,omitempty"`
	Temperature      *float64              `json:"temperature,omitempty"`
	TopP             *float64              `json:"topP,omitempty"`
	TopK             *int                  `json:"topK,omitempty"`
	StopSequences    []string              `json:"stopSequences,omitempty"`
	ResponseMimeType string                `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any        `json:"responseSchema,omitempty"`
	ThinkingConfig   *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content           geminiContent `json:"content"`
		FinishReason      string        `json:"finishReason"`
		GroundingMetadata *struct {
			WebSearchQueries []string `json:"webSearchQueries"`
			GroundingChunks  []struct {
				Web *struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount        int `json:"promptTokenCount"`
		CandidatesTokenCount    int `json:"candidatesTokenCount"`
		TotalTokenCount         int `json:"totalTokenCount"`
		CachedContentTokenCount int `json:"cachedContentTokenCount"`
		ThoughtsTokenCount      int `json:"thoughtsTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (r *geminiResponse) usage() agentcore.Usage {
	if r.UsageMetadata == nil {
		return agentcore.Usage{}
	}
	u := r.UsageMetadata
	return agentcore.Usage{
		InputTokens:     u.PromptTokenCount,
		OutputTokens:    u.CandidatesTokenCount + u.ThoughtsTokenCount,
		TotalTokens:     u.TotalTokenCount,
		CacheReadTokens: u.CachedContentTokenCount,
	}
}

func geminiFinish(reason string) FinishReason {
	switch reason {
	case "", "FINISH_REASON_UNSPECIFIED":
		return ""
	case "STOP":
		return FinishStop
	case "MAX_TOKENS":
		return FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "IMAGE_SAFETY":
		return FinishContentFilter
	case "MALFORMED_FUNCTION_CALL", "UNEXPECTED_TOOL_CALL":
		return FinishMalformedFunctionCall
	}
	return FinishReason(strings.ToLower(reason))
}

var geminiVersion = regexp.MustCompile(`gemini-(\d+)(?:\.(\d+))?`)

// thinkingCapable reports whether model is Gemini 2.5 or later. A name
// without a minor version, such as gemini-3-pro-preview, is read as x.0.
func thinkingCapable(model string) bool {
	m := geminiVersion.FindStringSubmatch(model)
	if m == nil {
		return false
	}
	major, _ := strconv.Atoi(m[1])
	var minor int
	if m[2] != "" {
		minor, _ = strconv.Atoi(m[2])
	}
	return major > 2 || (major == 2 && minor >= 5)
}

func (g *Gemini) endpoint(model string, stream bool) string {
	if stream {
		return fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", g.baseURL, url.PathEscape(model))
	}
	return fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(model))
}

func (g *Gemini) header() http.Header {
	h := make(http.Header)
	h.Set("x-goog-api-key", g.apiKey)
	return h
}

func (g *Gemini) buildRequest(base GenerationParams, model string) (geminiRequest, error) {
	var req geminiRequest
	cfg := &geminiGenerationConfig{MaxOutputTokens: base.MaxOutputTokens}
	if s := base.Sampling; s != nil {
		cfg.Temperature, cfg.TopP, cfg.TopK = s.Temperature, s.TopP, s.TopK
		cfg.StopSequences = s.StopSequences
	}
	if thinkingCapable(model) {
		cfg.ThinkingConfig = &geminiThinkingConfig{ThinkingBudget: geminiThinkingBudget}
	}
	req.GenerationConfig = cfg

	// Function responses are matched to calls by name, so remember the name
	// of every call id seen so far.
	names := make(map[agentcore.AiToolCallID]string)
	for _, m := range base.Messages {
		switch m.Role {
		case agentcore.RoleSystem:
			if req.SystemInstruction == nil {
				req.SystemInstruction = &geminiContent{}
			}
			req.SystemInstruction.Parts = append(req.SystemInstruction.Parts, geminiPart{Text: m.Content})
		case agentcore.RoleAssistant:
			c := geminiContent{Role: "model"}
			if m.Content != "" {
				c.Parts = append(c.Parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				names[tc.ID] = tc.Name
				c.Parts = append(c.Parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: tc.Arguments}})
			}
			req.Contents = appendGeminiContent(req.Contents, c)
		case agentcore.RoleTool:
			name := m.ToolName
			if name == "" {
				name = names[m.ToolCallID]
			}
			key := "output"
			if m.IsError {
				key = "error"
			}
			req.Contents = appendGeminiContent(req.Contents, geminiContent{Role: "user", Parts: []geminiPart{{
				FunctionResponse: &geminiFunctionResponse{Name: name, Response: map[string]any{key: m.Content}},
			}}})
		default:
			req.Contents = appendGeminiContent(req.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if len(req.Contents) == 0 {
		return req, agentcore.NewValidationError("messages", "at least one non-system message is required")
	}
	return req, nil
}

func appendGeminiContent(cs []geminiContent, c geminiContent) []geminiContent {
	if n := len(cs); n > 0 && cs[n-1].Role == c.Role {
		cs[n-1].Parts = append(cs[n-1].Parts, c.Parts...)
		return cs
	}
	return append(cs, c)
}

func (g *Gemini) request(p ToolGenerationParams, model string, stream bool) (httpRequest, error) {
	req, err := g.buildRequest(p.Base, model)
	if err != nil {
		return httpRequest{}, err
	}
	if len(p.Tools) > 0 {
		var decls []geminiFunctionDeclaration
		for _, t := range p.Tools {
			decls = append(decls, geminiFunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
		}
		req.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}
	return httpRequest{URL: g.endpoint(model, stream), Header: g.header(), Body: req}, nil
}

// visibleParts drops thought summaries; they are never shown to callers.
func visibleParts(parts []geminiPart) []geminiPart {
	out := parts[:0:0]
	for _, p := range parts {
		if !p.Thought {
			out = append(out, p)
		}
	}
	return out
}

func (g *Gemini) decode(body []byte) (*AiResponse, error) {
	var r geminiResponse
	if err := sonic.ConfigStd.Unmarshal(body, &r); err != nil {
		return nil, agentcore.NewProtocolError(geminiName+".decode", "invalid response body", err)
	}
	out := &AiResponse{Model: r.ModelVersion, Usage: r.usage()}
	if len(r.Candidates) == 0 {
		return nil, agentcore.NewProtocolError(geminiName+".decode", "response has no candidates", nil)
	}
	cand := r.Candidates[0]
	out.FinishReason = geminiFinish(cand.FinishReason)
	for _, p := range visibleParts(cand.Content.Parts) {
		switch {
		case p.FunctionCall != nil:
			args := p.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, agentcore.ToolCall{ID: newToolCallID(), Name: p.FunctionCall.Name, Arguments: args})
		case p.Text != "":
			out.Content += p.Text
		}
	}
	if out.FinishReason == FinishStop && len(out.ToolCalls) > 0 {
		out.FinishReason = FinishToolCalls
	}
	return out, nil
}

func (g *Gemini) decodeStream(events iter.Seq2[sseEvent, error], st *streamState) error {
	n := 0
	for ev, err := range events {
		if err != nil {
			return err
		}
		var r geminiResponse
		if err := sonic.ConfigStd.Unmarshal(ev.Data, &r); err != nil {
			return agentcore.NewProtocolError(geminiName+".stream", "invalid chunk", err)
		}
		if r.ModelVersion != "" {
			st.resp.Model = r.ModelVersion
		}
		if r.UsageMetadata != nil {
			st.resp.Usage = r.usage()
		}
		if len(r.Candidates) == 0 {
			continue
		}
		cand := r.Candidates[0]
		for _, p := range visibleParts(cand.Content.Parts) {
			switch {
			case p.FunctionCall != nil:
				// Gemini sends each call whole.
				key := strconv.Itoa(n)
				n++
				if err := st.startCall(key, "", p.FunctionCall.Name); err != nil {
					return err
				}
				if err := st.appendArgs(key, encodeArguments(p.FunctionCall.Args)); err != nil {
					return err
				}
				if err := st.endCall(key); err != nil {
					return err
				}
			case p.Text != "":
				if err := st.addText(p.Text); err != nil {
					return err
				}
			}
		}
		if f := geminiFinish(cand.FinishReason); f != "" {
			st.resp.FinishReason = f
		}
	}
	return nil
}

// GenerateWithGoogleSearch answers with the googleSearch grounding tool.
// URLs, when given, are fetched through the urlContext tool.
func (g *Gemini) GenerateWithGoogleSearch(ctx context.Context, p SearchGenerationParams) (_ *SearchGroundedResponse, err error) {
	model := g.model(p.Base)
	ctx, span := g.startSpan(ctx, "GenerateWithGoogleSearch", model)
	started := g.now()
	defer func() {
		g.metrics.ProviderRequest(g.name, g.now().Sub(started), err)
		endSpan(span, err)
	}()

	base := p.Base
	base.Messages = withURLs(base.Messages, p.URLs)
	req, err := g.buildRequest(base, model)
	if err != nil {
		return nil, err
	}
	req.Tools = []geminiTool{{GoogleSearch: &struct{}{}}}
	if len(p.URLs) > 0 {
		req.Tools = append(req.Tools, geminiTool{URLContext: &struct{}{}})
	}
	if p.ResponseSchema != nil {
		req.GenerationConfig.ResponseMimeType = "application/json"
		req.GenerationConfig.ResponseSchema = p.ResponseSchema
	}

	resp, err := g.send(ctx, httpRequest{URL: g.endpoint(model, false), Header: g.header(), Body: req})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, g.classify(fmt.Errorf("%s: read response: %w", g.name, err))
	}
	var r geminiResponse
	if err = sonic.ConfigStd.Unmarshal(body, &r); err != nil {
		return nil, agentcore.NewProtocolError(geminiName+".decode", "invalid response body", err)
	}
	if len(r.Candidates) == 0 {
		err = agentcore.NewProtocolError(geminiName+".decode", "response has no candidates", nil)
		return nil, err
	}
	cand := r.Candidates[0]
	out := &SearchGroundedResponse{AiResponse: AiResponse{
		Model:        r.ModelVersion,
		FinishReason: geminiFinish(cand.FinishReason),
		Usage:        r.usage(),
	}}
	for _, part := range visibleParts(cand.Content.Parts) {
		out.Content += part.Text
	}
	if gm := cand.GroundingMetadata; gm != nil {
		out.Queries = gm.WebSearchQueries
		for _, c := range gm.GroundingChunks {
			if c.Web != nil {
				out.Sources = append(out.Sources, Source{Title: c.Web.Title, URI: c.Web.URI})
			}
		}
	}
	if err = g.finalize(ctx, &out.AiResponse, p.Base, model, started); err != nil {
		return nil, err
	}
	return out, nil
}
