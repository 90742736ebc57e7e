// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agentcore

import "strings"

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID        AiToolCallID   `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ContentType discriminates [ToolContent].
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentResource ContentType = "resource"
	ContentAudio    ContentType = "audio"
	ContentLink     ContentType = "link"
)

// ToolContent is one item of a tool result.
type ToolContent struct {
	Type     ContentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	Data     string      `json:"data,omitempty"`
	MimeType string      `json:"mimeType,omitempty"`
	URI      string      `json:"uri,omitempty"`
	Name     string      `json:"name,omitempty"`
}

// CallToolResult is the outcome of a tool call.
type CallToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError"`
}

// NewErrorResult returns a result that reports msg to the model as a failed call.
func NewErrorResult(msg string) *CallToolResult {
	return &CallToolResult{
		Content: []ToolContent{{Type: ContentText, Text: msg}},
		IsError: true,
	}
}

// Text renders the textual content of r for the model.
func (r *CallToolResult) Text() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, c := range r.Content {
		switch c.Type {
		case ContentText, ContentResource:
			if c.Text != "" {
				parts = append(parts, c.Text)
			} else if c.URI != "" {
				parts = append(parts, c.URI)
			}
		case ContentLink:
			parts = append(parts, c.URI)
		case ContentImage, ContentAudio:
			parts = append(parts, "["+string(c.Type)+" "+c.MimeType+"]")
		}
	}
	return strings.Join(parts, "\n")
}
