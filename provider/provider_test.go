// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/config"
)

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 1}

var conversation = []Message{
	{Role: agentcore.RoleSystem, Content: "You are terse."},
	{Role: agentcore.RoleUser, Content: "weather in Paris?"},
}

var weatherTool = Tool{
	Name:        "get_weather",
	Description: "Current weather",
	InputSchema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"city": map[string]any{"type": "string"}},
	},
}

// recorder captures the last request body a test server received.
type recorder struct {
	calls atomic.Int32
	body  atomic.Value
	hdr   atomic.Value
	path  atomic.Value
}

func (r *recorder) record(req *http.Request) {
	r.calls.Add(1)
	b, _ := io.ReadAll(req.Body)
	var v map[string]any
	_ = json.Unmarshal(b, &v)
	r.body.Store(v)
	r.hdr.Store(req.Header.Clone())
	r.path.Store(req.URL.RequestURI())
}

func (r *recorder) lastBody() map[string]any { v, _ := r.body.Load().(map[string]any); return v }
func (r *recorder) lastHeader() http.Header  { v, _ := r.hdr.Load().(http.Header); return v }
func (r *recorder) lastPath() string         { v, _ := r.path.Load().(string); return v }

func serveJSON(t *testing.T, rec *recorder, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func serveSSE(t *testing.T, rec *recorder, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			io.WriteString(w, f)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collectChunks(t *testing.T, s Stream) ([]StreamChunk, error) {
	t.Helper()
	var out []StreamChunk
	for ch, err := range s {
		if err != nil {
			return out, err
		}
		out = append(out, ch)
	}
	return out, nil
}

// chunkSummary flattens chunks into comparable strings.
func chunkSummary(chunks []StreamChunk) []string {
	var out []string
	for _, ch := range chunks {
		switch ch.Type {
		case ChunkText:
			out = append(out, "text:"+ch.Text)
		case ChunkToolCallStart:
			out = append(out, "start:"+ch.ToolName)
		case ChunkToolCallDelta:
			out = append(out, "delta:"+ch.ArgsFragment)
		case ChunkToolCallEnd:
			b, _ := json.Marshal(ch.ToolCall.Arguments)
			out = append(out, "end:"+ch.ToolName+string(b))
		case ChunkDone:
			out = append(out, "done:"+string(ch.Response.FinishReason))
		}
	}
	return out
}

var ignoreVolatile = cmpopts.IgnoreFields(AiResponse{}, "RequestID", "LatencyMs")

func TestAnthropic(t *testing.T) {
	t.Run("GenerateWithTools", func(t *testing.T) {
		rec := &recorder{}
		srv := serveJSON(t, rec, `{
			"id":"msg_1","model":"claude-test","stop_reason":"tool_use",
			"content":[{"type":"text","text":"Checking."},{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"city":"Paris"}}],
			"usage":{"input_tokens":10,"output_tokens":5,"cache_read_input_tokens":3}}`)
		p := NewAnthropic(config.ProviderConfig{APIKey: "sk-ant", BaseURL: srv.URL})

		got, err := p.GenerateWithTools(context.Background(), ToolGenerationParams{
			Base:  GenerationParams{Messages: conversation, Model: "claude-test"},
			Tools: []Tool{weatherTool},
		})
		if err != nil {
			t.Fatalf("GenerateWithTools: %v", err)
		}
		want := &AiResponse{
			Content:      "Checking.",
			Provider:     "anthropic",
			Model:        "claude-test",
			FinishReason: FinishToolCalls,
			Usage:        agentcore.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, CacheHit: true, CacheReadTokens: 3},
			ToolCalls:    []agentcore.ToolCall{{ID: "toolu_1", Name: "get_weather", Arguments: map[string]any{"city": "Paris"}}},
		}
		if diff := cmp.Diff(want, got, ignoreVolatile); diff != "" {
			t.Errorf("response mismatch (-want +got):\n%s", diff)
		}
		if _, err := agentcore.ParseRequestID(string(got.RequestID)); err != nil {
			t.Errorf("RequestID %q is not a UUID", got.RequestID)
		}

		body := rec.lastBody()
		if body["system"] != "You are terse." {
			t.Errorf("system = %v", body["system"])
		}
		if body["max_tokens"] != float64(defaultMaxTokens) {
			t.Errorf("max_tokens = %v, want default", body["max_tokens"])
		}
		if h := rec.lastHeader(); h.Get("x-api-key") != "sk-ant" || h.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("headers = %v", h)
		}
		if rec.lastPath() != anthropicMessagesPath {
			t.Errorf("path = %q", rec.lastPath())
		}
	})

	t.Run("ToolResultsFoldIntoUserTurn", func(t *testing.T) {
		rec := &recorder{}
		srv := serveJSON(t, rec, `{"model":"m","stop_reason":"end_turn","content":[{"type":"text","text":"Sunny."}],"usage":{}}`)
		p := NewAnthropic(config.ProviderConfig{BaseURL: srv.URL})
		msgs := append(conversation[:2:2],
			Message{Role: agentcore.RoleAssistant, ToolCalls: []agentcore.ToolCall{
				{ID: "a", Name: "get_weather", Arguments: map[string]any{"city": "Paris"}},
				{ID: "b", Name: "get_weather", Arguments: map[string]any{"city": "Lyon"}},
			}},
			Message{Role: agentcore.RoleTool, ToolCallID: "a", Content: "20C"},
			Message{Role: agentcore.RoleTool, ToolCallID: "b", Content: "boom", IsError: true},
		)
		got, err := p.Generate(context.Background(), GenerationParams{Messages: msgs})
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if got.FinishReason != FinishStop || got.Content != "Sunny." {
			t.Errorf("got %+v", got)
		}
		messages := rec.lastBody()["messages"].([]any)
		if len(messages) != 3 {
			t.Fatalf("sent %d messages, want 3 (user, assistant, user)", len(messages))
		}
		last := messages[2].(map[string]any)
		blocks := last["content"].([]any)
		if last["role"] != "user" || len(blocks) != 2 {
			t.Fatalf("last message = %v", last)
		}
		if b := blocks[1].(map[string]any); b["type"] != "tool_result" || b["is_error"] != true || b["tool_use_id"] != "b" {
			t.Errorf("second tool result = %v", b)
		}
	})

	t.Run("Stream", func(t *testing.T) {
		rec := &recorder{}
		srv := serveSSE(t, rec,
			"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"model\":\"claude-test\",\"usage\":{\"input_tokens\":12,\"output_tokens\":1}}}\n\n",
			"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Let me \"}}\n\n",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"check.\"}}\n\n",
			"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":0}\n\n",
			"event: ping\ndata: {\"type\":\"ping\"}\n\n",
			"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":1,\"content_block\":{\"type\":\"tool_use\",\"id\":\"toolu_9\",\"name\":\"get_weather\",\"input\":{}}}\n\n",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"city\\\": \"}}\n\n",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\"Paris\\\"}\"}}\n\n",
			"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":1}\n\n",
			"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"tool_use\"},\"usage\":{\"output_tokens\":30}}\n\n",
			"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
		)
		p := NewAnthropic(config.ProviderConfig{BaseURL: srv.URL})
		chunks, err := collectChunks(t, p.GenerateWithToolsStream(context.Background(), ToolGenerationParams{
			Base: GenerationParams{Messages: conversation}, Tools: []Tool{weatherTool},
		}))
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		wantChunks := []string{
			"text:Let me ", "text:check.",
			"start:get_weather", `delta:{"city": `, `delta:"Paris"}`, `end:get_weather{"city":"Paris"}`,
			"done:tool_calls",
		}
		if diff := cmp.Diff(wantChunks, chunkSummary(chunks)); diff != "" {
			t.Errorf("chunks mismatch (-want +got):\n%s", diff)
		}
		final := chunks[len(chunks)-1].Response
		want := &AiResponse{
			Content:      "Let me check.",
			Provider:     "anthropic",
			Model:        "claude-test",
			FinishReason: FinishToolCalls,
			Usage:        agentcore.Usage{InputTokens: 12, OutputTokens: 30, TotalTokens: 42},
			IsStreaming:  true,
			ToolCalls:    []agentcore.ToolCall{{ID: "toolu_9", Name: "get_weather", Arguments: map[string]any{"city": "Paris"}}},
		}
		if diff := cmp.Diff(want, final, ignoreVolatile); diff != "" {
			t.Errorf("final response mismatch (-want +got):\n%s", diff)
		}
		if rec.lastBody()["stream"] != true {
			t.Errorf("stream flag not sent")
		}
	})

	t.Run("StreamError", func(t *testing.T) {
		srv := serveSSE(t, &recorder{},
			"event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n",
		)
		p := NewAnthropic(config.ProviderConfig{BaseURL: srv.URL})
		_, err := Collect(p.GenerateStream(context.Background(), GenerationParams{Messages: conversation}))
		var pe *ProviderError
		if !errors.As(err, &pe) || pe.Type != "overloaded_error" {
			t.Fatalf("err = %v, want overloaded ProviderError", err)
		}
		if got := agentcore.KindOf(err); got != agentcore.KindProvider {
			t.Errorf("KindOf = %v, want provider", got)
		}
	})

	t.Run("NoGoogleSearch", func(t *testing.T) {
		p := NewAnthropic(config.ProviderConfig{})
		_, err := p.GenerateWithGoogleSearch(context.Background(), SearchGenerationParams{Base: GenerationParams{Messages: conversation}})
		if !errors.Is(err, ErrUnsupported) {
			t.Errorf("err = %v, want ErrUnsupported", err)
		}
	})
}

func TestOpenAI(t *testing.T) {
	t.Run("GenerateWithTools", func(t *testing.T) {
		rec := &recorder{}
		srv := serveJSON(t, rec, `{
			"id":"chatcmpl-1","model":"gpt-test",
			"choices":[{"message":{"content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Paris\"}"}}]},"finish_reason":"tool_calls"}],
			"usage":{"prompt_tokens":20,"completion_tokens":7,"total_tokens":27,"prompt_tokens_details":{"cached_tokens":0}}}`)
		p := NewOpenAI(config.ProviderConfig{APIKey: "sk-oai", BaseURL: srv.URL})

		temp := 0.2
		got, err := p.GenerateWithTools(context.Background(), ToolGenerationParams{
			Base:  GenerationParams{Messages: conversation, Sampling: &Sampling{Temperature: &temp, StopSequences: []string{"END"}}},
			Tools: []Tool{weatherTool},
		})
		if err != nil {
			t.Fatalf("GenerateWithTools: %v", err)
		}
		want := &AiResponse{
			Provider:     "openai",
			Model:        "gpt-test",
			FinishReason: FinishToolCalls,
			Usage:        agentcore.Usage{InputTokens: 20, OutputTokens: 7, TotalTokens: 27},
			ToolCalls:    []agentcore.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: map[string]any{"city": "Paris"}}},
		}
		if diff := cmp.Diff(want, got, ignoreVolatile); diff != "" {
			t.Errorf("response mismatch (-want +got):\n%s", diff)
		}
		body := rec.lastBody()
		if body["model"] != openAIDefaultModel || body["tool_choice"] != "auto" || body["temperature"] != 0.2 {
			t.Errorf("request body = %v", body)
		}
		if diff := cmp.Diff([]any{"END"}, body["stop"]); diff != "" {
			t.Errorf("stop mismatch (-want +got):\n%s", diff)
		}
		if got := rec.lastHeader().Get("Authorization"); got != "Bearer sk-oai" {
			t.Errorf("Authorization = %q", got)
		}
	})

	t.Run("StreamRepairsArguments", func(t *testing.T) {
		rec := &recorder{}
		srv := serveSSE(t, rec,
			`data: {"model":"gpt-test","choices":[{"delta":{"role":"assistant","content":"On it"}}]}`+"\n\n",
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_7","type":"function","function":{"name":"get_weather","arguments":""}}]}}]}`+"\n\n",
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{'city': 'Paris',"}}]}}]}`+"\n\n",
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"}"}}]}}]}`+"\n\n",
			`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`+"\n\n",
			`data: {"choices":[],"usage":{"prompt_tokens":4,"completion_tokens":6,"total_tokens":10}}`+"\n\n",
			"data: [DONE]\n\n",
		)
		p := NewOpenAI(config.ProviderConfig{BaseURL: srv.URL})
		got, err := Collect(p.GenerateWithToolsStream(context.Background(), ToolGenerationParams{
			Base: GenerationParams{Messages: conversation}, Tools: []Tool{weatherTool},
		}))
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		want := &AiResponse{
			Content:      "On it",
			Provider:     "openai",
			Model:        "gpt-test",
			FinishReason: FinishToolCalls,
			Usage:        agentcore.Usage{InputTokens: 4, OutputTokens: 6, TotalTokens: 10},
			IsStreaming:  true,
			ToolCalls:    []agentcore.ToolCall{{ID: "call_7", Name: "get_weather", Arguments: map[string]any{"city": "Paris"}}},
		}
		if diff := cmp.Diff(want, got, ignoreVolatile); diff != "" {
			t.Errorf("response mismatch (-want +got):\n%s", diff)
		}
		opts, _ := rec.lastBody()["stream_options"].(map[string]any)
		if opts["include_usage"] != true {
			t.Errorf("stream_options = %v", opts)
		}
	})

	t.Run("UnrepairableArguments", func(t *testing.T) {
		srv := serveSSE(t, &recorder{},
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c","function":{"name":"f","arguments":"[1,2]"}}]}}]}`+"\n\n",
			"data: [DONE]\n\n",
		)
		p := NewOpenAI(config.ProviderConfig{BaseURL: srv.URL})
		_, err := Collect(p.GenerateWithToolsStream(context.Background(), ToolGenerationParams{Base: GenerationParams{Messages: conversation}}))
		if got := agentcore.KindOf(err); got != agentcore.KindProtocol {
			t.Errorf("KindOf(%v) = %v, want protocol", err, got)
		}
	})

	t.Run("WebSearch", func(t *testing.T) {
		rec := &recorder{}
		srv := serveJSON(t, rec, `{
			"id":"resp_1","model":"gpt-test","status":"completed",
			"output":[
				{"type":"web_search_call","status":"completed","action":{"type":"search","query":"paris weather"}},
				{"type":"message","role":"assistant","content":[{"type":"output_text","text":"It is sunny.",
					"annotations":[{"type":"url_citation","url":"https://weather.example/paris","title":"Paris"},
					               {"type":"url_citation","url":"https://weather.example/paris","title":"Paris"}]}]}],
			"usage":{"input_tokens":30,"output_tokens":8,"total_tokens":38}}`)
		p := NewOpenAI(config.ProviderConfig{BaseURL: srv.URL})
		got, err := p.GenerateWithGoogleSearch(context.Background(), SearchGenerationParams{
			Base: GenerationParams{Messages: conversation},
			URLs: []string{"https://weather.example"},
		})
		if err != nil {
			t.Fatalf("GenerateWithGoogleSearch: %v", err)
		}
		if got.Content != "It is sunny." {
			t.Errorf("Content = %q", got.Content)
		}
		if diff := cmp.Diff([]Source{{Title: "Paris", URI: "https://weather.example/paris"}}, got.Sources); diff != "" {
			t.Errorf("sources mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"paris weather"}, got.Queries); diff != "" {
			t.Errorf("queries mismatch (-want +got):\n%s", diff)
		}
		if rec.lastPath() != openAIResponsesPath {
			t.Errorf("path = %q", rec.lastPath())
		}
		body := rec.lastBody()
		wantTools := []any{map[string]any{"type": "web_search", "search_context_size": "medium"}}
		if diff := cmp.Diff(wantTools, body["tools"]); diff != "" {
			t.Errorf("tools mismatch (-want +got):\n%s", diff)
		}
		if body["instructions"] != "You are terse." {
			t.Errorf("instructions = %v", body["instructions"])
		}
		input := body["input"].([]any)
		if text := input[0].(map[string]any)["content"].(string); !strings.Contains(text, "https://weather.example") {
			t.Errorf("input %q does not carry the URL", text)
		}
	})
}

func TestGemini(t *testing.T) {
	t.Run("GenerateHidesThoughts", func(t *testing.T) {
		rec := &recorder{}
		srv := serveJSON(t, rec, `{
			"candidates":[{"content":{"role":"model","parts":[{"text":"pondering","thought":true},{"text":"Bonjour."}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":3,"thoughtsTokenCount":4,"totalTokenCount":16},
			"modelVersion":"gemini-2.5-flash"}`)
		p := NewGemini(config.ProviderConfig{APIKey: "g-key", BaseURL: srv.URL})
		got, err := p.Generate(context.Background(), GenerationParams{Messages: conversation, MaxOutputTokens: 256})
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		want := &AiResponse{
			Content:      "Bonjour.",
			Provider:     "gemini",
			Model:        "gemini-2.5-flash",
			FinishReason: FinishStop,
			Usage:        agentcore.Usage{InputTokens: 9, OutputTokens: 7, TotalTokens: 16},
		}
		if diff := cmp.Diff(want, got, ignoreVolatile); diff != "" {
			t.Errorf("response mismatch (-want +got):\n%s", diff)
		}
		if rec.lastPath() != "/models/gemini-2.5-flash:generateContent" {
			t.Errorf("path = %q", rec.lastPath())
		}
		if rec.lastHeader().Get("x-goog-api-key") != "g-key" {
			t.Errorf("api key header missing")
		}
		gen := rec.lastBody()["generationConfig"].(map[string]any)
		wantThinking := map[string]any{"thinkingBudget": float64(geminiThinkingBudget), "includeThoughts": false}
		if diff := cmp.Diff(wantThinking, gen["thinkingConfig"]); diff != "" {
			t.Errorf("thinkingConfig mismatch (-want +got):\n%s", diff)
		}
		if gen["maxOutputTokens"] != float64(256) {
			t.Errorf("maxOutputTokens = %v", gen["maxOutputTokens"])
		}
	})

	t.Run("MalformedFunctionCall", func(t *testing.T) {
		srv := serveJSON(t, &recorder{}, `{"candidates":[{"content":{"parts":[]},"finishReason":"MALFORMED_FUNCTION_CALL"}]}`)
		p := NewGemini(config.ProviderConfig{BaseURL: srv.URL})
		_, err := p.GenerateWithTools(context.Background(), ToolGenerationParams{Base: GenerationParams{Messages: conversation}, Tools: []Tool{weatherTool}})
		if got := agentcore.KindOf(err); got != agentcore.KindProtocol {
			t.Fatalf("KindOf(%v) = %v, want protocol", err, got)
		}
	})

	t.Run("StreamFunctionCall", func(t *testing.T) {
		rec := &recorder{}
		srv := serveSSE(t, rec,
			`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Looking"}]}}],"modelVersion":"gemini-2.0-flash"}`+"\r\n\r\n",
			`data: {"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"get_weather","args":{"city":"Paris"}}}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":2,"totalTokenCount":7}}`+"\r\n\r\n",
		)
		p := NewGemini(config.ProviderConfig{BaseURL: srv.URL, DefaultModel: "gemini-2.0-flash"})
		chunks, err := collectChunks(t, p.GenerateWithToolsStream(context.Background(), ToolGenerationParams{
			Base: GenerationParams{Messages: conversation}, Tools: []Tool{weatherTool},
		}))
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		wantChunks := []string{"text:Looking", "start:get_weather", `delta:{"city":"Paris"}`, `end:get_weather{"city":"Paris"}`, "done:tool_calls"}
		if diff := cmp.Diff(wantChunks, chunkSummary(chunks)); diff != "" {
			t.Errorf("chunks mismatch (-want +got):\n%s", diff)
		}
		if rec.lastPath() != "/models/gemini-2.0-flash:streamGenerateContent?alt=sse" {
			t.Errorf("path = %q", rec.lastPath())
		}
		gen := rec.lastBody()["generationConfig"].(map[string]any)
		if _, ok := gen["thinkingConfig"]; ok {
			t.Errorf("thinkingConfig sent to a 2.0 model")
		}
		decls := rec.lastBody()["tools"].([]any)[0].(map[string]any)["functionDeclarations"].([]any)
		if decls[0].(map[string]any)["name"] != "get_weather" {
			t.Errorf("function declarations = %v", decls)
		}
	})

	t.Run("ToolResponsesCarryName", func(t *testing.T) {
		rec := &recorder{}
		srv := serveJSON(t, rec, `{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}`)
		p := NewGemini(config.ProviderConfig{BaseURL: srv.URL})
		msgs := append(conversation[:2:2],
			Message{Role: agentcore.RoleAssistant, ToolCalls: []agentcore.ToolCall{{ID: "x", Name: "get_weather", Arguments: map[string]any{}}}},
			Message{Role: agentcore.RoleTool, ToolCallID: "x", Content: "20C"},
		)
		if _, err := p.Generate(context.Background(), GenerationParams{Messages: msgs}); err != nil {
			t.Fatalf("Generate: %v", err)
		}
		contents := rec.lastBody()["contents"].([]any)
		last := contents[len(contents)-1].(map[string]any)
		fr := last["parts"].([]any)[0].(map[string]any)["functionResponse"].(map[string]any)
		want := map[string]any{"name": "get_weather", "response": map[string]any{"output": "20C"}}
		if diff := cmp.Diff(want, fr); diff != "" {
			t.Errorf("functionResponse mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("GoogleSearch", func(t *testing.T) {
		rec := &recorder{}
		srv := serveJSON(t, rec, `{
			"candidates":[{"content":{"parts":[{"text":"Sunny in Paris."}]},"finishReason":"STOP",
				"groundingMetadata":{"webSearchQueries":["paris weather"],
					"groundingChunks":[{"web":{"uri":"https://a.example","title":"A"}},{"web":{"uri":"https://b.example","title":"B"}}]}}],
			"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":4,"totalTokenCount":7}}`)
		p := NewGemini(config.ProviderConfig{BaseURL: srv.URL})
		got, err := p.GenerateWithGoogleSearch(context.Background(), SearchGenerationParams{
			Base:           GenerationParams{Messages: conversation},
			URLs:           []string{"https://a.example"},
			ResponseSchema: map[string]any{"type": "object"},
		})
		if err != nil {
			t.Fatalf("GenerateWithGoogleSearch: %v", err)
		}
		wantSources := []Source{{Title: "A", URI: "https://a.example"}, {Title: "B", URI: "https://b.example"}}
		if diff := cmp.Diff(wantSources, got.Sources); diff != "" {
			t.Errorf("sources mismatch (-want +got):\n%s", diff)
		}
		if got.Content != "Sunny in Paris." || got.Usage.TotalTokens != 7 {
			t.Errorf("got %+v", got.AiResponse)
		}
		body := rec.lastBody()
		wantTools := []any{map[string]any{"googleSearch": map[string]any{}}, map[string]any{"urlContext": map[string]any{}}}
		if diff := cmp.Diff(wantTools, body["tools"]); diff != "" {
			t.Errorf("tools mismatch (-want +got):\n%s", diff)
		}
		if body["generationConfig"].(map[string]any)["responseMimeType"] != "application/json" {
			t.Errorf("response schema not requested")
		}
	})
}

func TestThinkingCapable(t *testing.T) {
	tests := map[string]bool{
		"gemini-1.5-pro":              false,
		"gemini-2.0-flash":            false,
		"gemini-2.5-flash":            true,
		"gemini-2.5-pro-preview-0506": true,
		"gemini-3-pro-preview":        true,
		"gemini-3.0-flash":            true,
		"gemini-2-flash":              false,
		"models/gemini-3-pro":         true,
		"gemma-3-27b":                 false,
	}
	for model, want := range tests {
		t.Run(model, func(t *testing.T) {
			if got := thinkingCapable(model); got != want {
				t.Errorf("thinkingCapable(%q) = %v, want %v", model, got, want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := map[string]struct {
		err  error
		want bool
	}{
		"BadRequest":      {err: &ProviderError{StatusCode: http.StatusBadRequest}},
		"Unauthorized":    {err: &ProviderError{StatusCode: http.StatusUnauthorized}},
		"NotFound":        {err: &ProviderError{StatusCode: http.StatusNotFound}},
		"Unprocessable":   {err: &ProviderError{StatusCode: http.StatusUnprocessableEntity}},
		"TooManyRequests": {err: &ProviderError{StatusCode: http.StatusTooManyRequests}, want: true},
		"InternalError":   {err: &ProviderError{StatusCode: http.StatusInternalServerError}, want: true},
		"Unavailable":     {err: &ProviderError{StatusCode: http.StatusServiceUnavailable}, want: true},
		"Transport":       {err: errors.New("connection reset by peer"), want: true},
		"Canceled":        {err: context.Canceled},
		"Deadline":        {err: fmt.Errorf("send: %w", context.DeadlineExceeded)},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetry(t *testing.T) {
	tests := map[string]struct {
		statuses  []int
		wantCalls int32
		wantKind  agentcore.ErrorKind
		wantErr   bool
	}{
		"RateLimitedThenOK": {
			statuses:  []int{http.StatusTooManyRequests, http.StatusOK},
			wantCalls: 2,
		},
		"ServerErrorsExhaustBudget": {
			statuses:  []int{http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusInternalServerError, http.StatusOK},
			wantCalls: 3,
			wantKind:  agentcore.KindProvider,
			wantErr:   true,
		},
		"ClientErrorIsPermanent": {
			statuses:  []int{http.StatusBadRequest, http.StatusOK},
			wantCalls: 1,
			wantKind:  agentcore.KindProvider,
			wantErr:   true,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				status := tt.statuses[min(int(n)-1, len(tt.statuses)-1)]
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				if status != http.StatusOK {
					fmt.Fprintf(w, `{"error":{"type":"e%d","message":"status %d"}}`, status, status)
					return
				}
				io.WriteString(w, `{"choices":[{"message":{"content":"hi"},"finish_reason":"stop"}]}`)
			}))
			defer srv.Close()

			p := NewOpenAI(config.ProviderConfig{BaseURL: srv.URL}, WithRetryPolicy(fastRetry))
			got, err := p.Generate(context.Background(), GenerationParams{Messages: conversation})
			if calls.Load() != tt.wantCalls {
				t.Errorf("server saw %d calls, want %d", calls.Load(), tt.wantCalls)
			}
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Generate: %v", err)
				}
				if got.Content != "hi" {
					t.Errorf("Content = %q", got.Content)
				}
				return
			}
			if err == nil {
				t.Fatal("Generate succeeded, want error")
			}
			if kind := agentcore.KindOf(err); kind != tt.wantKind {
				t.Errorf("KindOf(%v) = %v, want %v", err, kind, tt.wantKind)
			}
			var pe *ProviderError
			if !errors.As(err, &pe) || pe.Message == "" {
				t.Errorf("err = %v, want a ProviderError with a message", err)
			}
		})
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	got := RetryPolicyFromConfig(config.RetryConfig{MaxAttempts: 0, Multiplier: 0.5})
	want := RetryPolicy{
		MaxAttempts:     1,
		InitialInterval: DefaultRetryPolicy.InitialInterval,
		MaxInterval:     DefaultRetryPolicy.InitialInterval,
		Multiplier:      DefaultRetryPolicy.Multiplier,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RetryPolicyFromConfig mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamStopsEarly(t *testing.T) {
	srv := serveSSE(t, &recorder{},
		`data: {"choices":[{"delta":{"content":"a"}}]}`+"\n\n",
		`data: {"choices":[{"delta":{"content":"b"}}]}`+"\n\n",
		"data: [DONE]\n\n",
	)
	p := NewOpenAI(config.ProviderConfig{BaseURL: srv.URL})
	var seen []string
	for ch, err := range p.GenerateStream(context.Background(), GenerationParams{Messages: conversation}) {
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		seen = append(seen, ch.Text)
		break
	}
	if diff := cmp.Diff([]string{"a"}, seen); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry(t *testing.T) {
	cfg := config.Default()
	cfg.Providers = map[string]config.ProviderConfig{
		"anthropic": {APIKey: "a"},
		"gemini":    {APIKey: "g", DefaultModel: "gemini-2.5-pro"},
	}
	r, err := NewRegistryFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewRegistryFromConfig: %v", err)
	}
	if diff := cmp.Diff([]string{"anthropic", "gemini"}, r.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
	def, err := r.Get("")
	if err != nil || def.Name() != "anthropic" {
		t.Fatalf("Get(\"\") = %v, %v", def, err)
	}
	g, err := r.Get("gemini")
	if err != nil || g.DefaultModel() != "gemini-2.5-pro" || g.Dialect() != DialectGemini {
		t.Fatalf("Get(gemini) = %v, %v", g, err)
	}
	if _, err := r.Get("mistral"); agentcore.KindOf(err) != agentcore.KindNotFound {
		t.Errorf("Get(mistral) err = %v, want not found", err)
	}

	cfg.Providers["mistral"] = config.ProviderConfig{}
	if _, err := NewRegistryFromConfig(cfg); err == nil {
		t.Error("unknown backend accepted")
	}
}
