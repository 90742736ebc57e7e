// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agentcore

import (
	"fmt"
	"maps"
	"slices"
)

// PartKind discriminates [Part].
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindFile PartKind = "file"
	PartKindData PartKind = "data"
)

// FileContent is the payload of a file part. Bytes travel base64-encoded on
// the wire and decoded everywhere else.
type FileContent struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
	Bytes    []byte `json:"bytes,omitempty"`
}

// Part is an atomic content fragment of a message or artifact.
//
// Exactly one of Text, File or Data is meaningful, selected by Kind. Data is
// always a JSON object.
type Part struct {
	Kind     PartKind       `json:"kind"`
	Text     string         `json:"text,omitempty"`
	File     *FileContent   `json:"file,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewTextPart returns a text part.
func NewTextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// NewFilePart returns a file part carrying raw bytes.
func NewFilePart(name, mimeType string, b []byte) Part {
	return Part{Kind: PartKindFile, File: &FileContent{Name: name, MimeType: mimeType, Bytes: b}}
}

// NewDataPart returns a structured data part.
func NewDataPart(data map[string]any) Part {
	return Part{Kind: PartKindData, Data: data}
}

// Validate checks the kind-specific payload.
func (p Part) Validate() error {
	switch p.Kind {
	case PartKindText:
		return nil
	case PartKindFile:
		if p.File == nil {
			return NewValidationError("part.file", "file part without file content")
		}
		if len(p.File.Bytes) == 0 && p.File.URI == "" {
			return NewValidationError("part.file", "file part needs bytes or uri")
		}
		return nil
	case PartKindData:
		if p.Data == nil {
			return NewValidationError("part.data", "data part must carry a JSON object")
		}
		return nil
	case "":
		return NewValidationError("part.kind", "missing part kind")
	default:
		return NewValidationError("part.kind", fmt.Sprintf("unknown part kind %q", p.Kind))
	}
}

// Clone returns a deep copy of p.
func (p Part) Clone() Part {
	out := p
	if p.File != nil {
		f := *p.File
		f.Bytes = slices.Clone(p.File.Bytes)
		out.File = &f
	}
	out.Data = maps.Clone(p.Data)
	out.Metadata = maps.Clone(p.Metadata)
	return out
}

// DataObject reports whether v, the decoded top-level value of a data part,
// is a JSON object.
func DataObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok && m != nil
}
