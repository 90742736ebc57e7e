// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agentcore

import (
	"fmt"
	"time"
)

// ArtifactKind is the typed kind of an [Artifact].
type ArtifactKind string

const (
	ArtifactKindText  ArtifactKind = "text"
	ArtifactKindTable ArtifactKind = "table"
	ArtifactKindChart ArtifactKind = "chart"
	ArtifactKindAudio ArtifactKind = "audio"
	ArtifactKindVideo ArtifactKind = "video"
	ArtifactKindFile  ArtifactKind = "file"
)

// Valid reports whether k is a known kind.
func (k ArtifactKind) Valid() bool {
	switch k {
	case ArtifactKindText, ArtifactKindTable, ArtifactKindChart,
		ArtifactKindAudio, ArtifactKindVideo, ArtifactKindFile:
		return true
	}
	return false
}

// ArtifactMetadata records where an artifact came from.
type ArtifactMetadata struct {
	ExecutionID McpExecutionID `json:"executionId,omitempty"`
	SkillID     SkillID        `json:"skillId,omitempty"`
	SkillName   string         `json:"skillName,omitempty"`
	AgentName   string         `json:"agentName,omitempty"`
	ToolName    string         `json:"toolName,omitempty"`
	RequestID   RequestID      `json:"requestId,omitempty"`
	TraceID     TraceID        `json:"traceId,omitempty"`
	SessionID   SessionID      `json:"sessionId,omitempty"`
	UserID      UserID         `json:"userId,omitempty"`
	TaskID      TaskID         `json:"taskId,omitempty"`
	Timestamp   time.Time      `json:"timestamp,omitzero"`
}

// Artifact is a named, typed bundle of parts produced during a task.
// Artifacts are append-only within a task.
type Artifact struct {
	ArtifactID  ArtifactID       `json:"artifactId"`
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	Type        ArtifactKind     `json:"artifactType"`
	Parts       []Part           `json:"parts"`
	Metadata    ArtifactMetadata `json:"metadata"`
}

// Validate checks the artifact invariants, including that every data part
// carries a JSON object.
func (a *Artifact) Validate() error {
	if a == nil {
		return NewValidationError("artifact", "missing artifact")
	}
	if err := a.ArtifactID.Validate(); err != nil {
		return err
	}
	if !a.Type.Valid() {
		return NewValidationError("artifact.type", fmt.Sprintf("unknown artifact type %q", a.Type))
	}
	if len(a.Parts) == 0 {
		return NewValidationError("artifact.parts", "artifact needs at least one part")
	}
	for i, p := range a.Parts {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("artifact part %d: %w", i, err)
		}
	}
	return nil
}
