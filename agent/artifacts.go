// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/base64"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/provider"
	"github.com/go-a2a/agentcore/provider/toolmap"
)

func (r *run) metadata(execID agentcore.McpExecutionID, tool string, requestID agentcore.RequestID) agentcore.ArtifactMetadata {
	return agentcore.ArtifactMetadata{
		ExecutionID: execID,
		AgentName:   r.rt.Definition.Name,
		ToolName:    tool,
		RequestID:   requestID,
		TraceID:     r.req.TraceID,
		SessionID:   r.req.SessionID,
		UserID:      r.req.UserID,
		TaskID:      r.req.TaskID,
		Timestamp:   r.now().UTC(),
	}
}

// artifacts turns the media and tabular content of a successful tool result
// into artifacts. Plain text stays in the conversation only.
func (r *run) artifacts(res *agentcore.CallToolResult, resolved *toolmap.Resolved, execID agentcore.McpExecutionID, requestID agentcore.RequestID) []*agentcore.Artifact {
	var out []*agentcore.Artifact
	for _, c := range res.Content {
		var (
			kind agentcore.ArtifactKind
			part agentcore.Part
		)
		switch c.Type {
		case agentcore.ContentImage, agentcore.ContentAudio:
			b, err := base64.StdEncoding.DecodeString(c.Data)
			if err != nil || len(b) == 0 {
				continue
			}
			kind = mediaKind(c.MimeType)
			part = agentcore.NewFilePart(resolved.Tool, c.MimeType, b)
		case agentcore.ContentResource:
			if c.Data == "" {
				continue
			}
			b, err := base64.StdEncoding.DecodeString(c.Data)
			if err != nil || len(b) == 0 {
				continue
			}
			kind = mediaKind(c.MimeType)
			part = agentcore.NewFilePart(resolved.Tool, c.MimeType, b)
			part.File.URI = c.URI
		case agentcore.ContentText:
			obj, ok := tableObject(c.Text)
			if !ok {
				continue
			}
			kind = agentcore.ArtifactKindTable
			part = agentcore.NewDataPart(obj)
		default:
			continue
		}
		out = append(out, &agentcore.Artifact{
			ArtifactID: agentcore.NewArtifactID(),
			Name:       resolved.Tool,
			Type:       kind,
			Parts:      []agentcore.Part{part},
			Metadata:   r.metadata(execID, resolved.Tool, requestID),
		})
	}
	return out
}

func mediaKind(mime string) agentcore.ArtifactKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return agentcore.ArtifactKindChart
	case strings.HasPrefix(mime, "audio/"):
		return agentcore.ArtifactKindAudio
	case strings.HasPrefix(mime, "video/"):
		return agentcore.ArtifactKindVideo
	}
	return agentcore.ArtifactKindFile
}

// tableObject reports whether text is a JSON object with a rows array.
func tableObject(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return nil, false
	}
	var v any
	if err := sonic.UnmarshalString(text, &v); err != nil {
		return nil, false
	}
	obj, ok := agentcore.DataObject(v)
	if !ok {
		return nil, false
	}
	if _, ok := obj["rows"].([]any); !ok {
		return nil, false
	}
	return obj, true
}

// sourcesArtifact lists the pages a search-grounded answer cites.
func (r *run) sourcesArtifact(resp *provider.SearchGroundedResponse, requestID agentcore.RequestID) *agentcore.Artifact {
	if len(resp.Sources) == 0 {
		return nil
	}
	rows := make([]any, 0, len(resp.Sources))
	for _, s := range resp.Sources {
		rows = append(rows, map[string]any{"title": s.Title, "uri": s.URI})
	}
	queries := make([]any, 0, len(resp.Queries))
	for _, q := range resp.Queries {
		queries = append(queries, q)
	}
	return &agentcore.Artifact{
		ArtifactID: agentcore.NewArtifactID(),
		Name:       "sources",
		Type:       agentcore.ArtifactKindTable,
		Parts: []agentcore.Part{agentcore.NewDataPart(map[string]any{
			"columns": []any{"title", "uri"},
			"rows":    rows,
			"queries": queries,
		})},
		Metadata: r.metadata("", "web_search", requestID),
	}
}
