// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/go-a2a/agentcore"
)

func convertResult(res *mcp.CallToolResult) *agentcore.CallToolResult {
	out := &agentcore.CallToolResult{IsError: res.IsError}
	for _, c := range res.Content {
		if tc, ok := convertContent(c); ok {
			out.Content = append(out.Content, tc)
		}
	}
	return out
}

// convertContent maps one MCP content item. The client may hand back values
// or pointers depending on how the result was built.
func convertContent(c mcp.Content) (agentcore.ToolContent, bool) {
	switch c := c.(type) {
	case mcp.TextContent:
		return agentcore.ToolContent{Type: agentcore.ContentText, Text: c.Text}, true
	case *mcp.TextContent:
		return agentcore.ToolContent{Type: agentcore.ContentText, Text: c.Text}, true
	case mcp.ImageContent:
		return agentcore.ToolContent{Type: agentcore.ContentImage, Data: c.Data, MimeType: c.MIMEType}, true
	case *mcp.ImageContent:
		return agentcore.ToolContent{Type: agentcore.ContentImage, Data: c.Data, MimeType: c.MIMEType}, true
	case mcp.AudioContent:
		return agentcore.ToolContent{Type: agentcore.ContentAudio, Data: c.Data, MimeType: c.MIMEType}, true
	case *mcp.AudioContent:
		return agentcore.ToolContent{Type: agentcore.ContentAudio, Data: c.Data, MimeType: c.MIMEType}, true
	case mcp.ResourceLink:
		return agentcore.ToolContent{Type: agentcore.ContentLink, URI: c.URI, Name: c.Name, MimeType: c.MIMEType}, true
	case *mcp.ResourceLink:
		return agentcore.ToolContent{Type: agentcore.ContentLink, URI: c.URI, Name: c.Name, MimeType: c.MIMEType}, true
	case mcp.EmbeddedResource:
		return convertResource(c.Resource), true
	case *mcp.EmbeddedResource:
		return convertResource(c.Resource), true
	}
	return agentcore.ToolContent{}, false
}

func convertResource(r mcp.ResourceContents) agentcore.ToolContent {
	out := agentcore.ToolContent{Type: agentcore.ContentResource}
	switch r := r.(type) {
	case mcp.TextResourceContents:
		out.URI, out.MimeType, out.Text = r.URI, r.MIMEType, r.Text
	case *mcp.TextResourceContents:
		out.URI, out.MimeType, out.Text = r.URI, r.MIMEType, r.Text
	case mcp.BlobResourceContents:
		out.URI, out.MimeType, out.Data = r.URI, r.MIMEType, r.Blob
	case *mcp.BlobResourceContents:
		out.URI, out.MimeType, out.Data = r.URI, r.MIMEType, r.Blob
	}
	return out
}
