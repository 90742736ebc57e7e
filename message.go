// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agentcore

import (
	"fmt"
	"strings"
	"time"
)

// Role is the author of a [Message].
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// roleAgent is the A2A wire spelling of the assistant role.
const roleAgent Role = "agent"

// ParseRole accepts the core roles and the A2A "agent" alias.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return r, nil
	case roleAgent:
		return RoleAssistant, nil
	}
	return "", NewValidationError("role", fmt.Sprintf("unknown role %q", s))
}

// MetadataClientMessageID is the metadata key of the client-side retry key.
const MetadataClientMessageID = "clientMessageId"

// KindMessage is the value of Message.Kind on the wire.
const KindMessage = "message"

// Message is one turn of a conversation bound to a task and a context.
type Message struct {
	MessageID        MessageID      `json:"messageId"`
	ContextID        ContextID      `json:"contextId,omitempty"`
	TaskID           TaskID         `json:"taskId,omitempty"`
	Role             Role           `json:"role"`
	Kind             string         `json:"kind"`
	Parts            []Part         `json:"parts"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ReferenceTaskIDs []TaskID       `json:"referenceTaskIds,omitempty"`

	// SequenceNumber orders messages within a task. Assigned by the store.
	SequenceNumber int       `json:"-"`
	CreatedAt      time.Time `json:"-"`
}

// NewMessage returns a message with a fresh id.
func NewMessage(role Role, parts ...Part) *Message {
	return &Message{
		MessageID: NewMessageID(),
		Role:      role,
		Kind:      KindMessage,
		Parts:     parts,
	}
}

// ClientMessageID returns the idempotency key supplied by the client, if any.
func (m *Message) ClientMessageID() string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata[MetadataClientMessageID].(string)
	return s
}

// Text concatenates the text parts of m.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Kind == PartKindText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Validate checks the message invariants: a usable id, a known role and at
// least one valid part.
func (m *Message) Validate() error {
	if m == nil {
		return NewValidationError("message", "missing message")
	}
	if err := m.MessageID.Validate(); err != nil {
		return err
	}
	if _, err := ParseRole(string(m.Role)); err != nil {
		return err
	}
	if m.Kind != "" && m.Kind != KindMessage {
		return NewValidationError("message.kind", fmt.Sprintf("expected %q, got %q", KindMessage, m.Kind))
	}
	if len(m.Parts) == 0 {
		return NewValidationError("message.parts", "message needs at least one part")
	}
	for i, p := range m.Parts {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}
	if m.ContextID != "" {
		if err := m.ContextID.Validate(); err != nil {
			return err
		}
	}
	if m.TaskID != "" {
		if err := m.TaskID.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Normalize folds wire aliases into their canonical form in place.
func (m *Message) Normalize() {
	if r, err := ParseRole(string(m.Role)); err == nil {
		m.Role = r
	}
	if m.Kind == "" {
		m.Kind = KindMessage
	}
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Parts = make([]Part, len(m.Parts))
	for i, p := range m.Parts {
		out.Parts[i] = p.Clone()
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	out.ReferenceTaskIDs = append([]TaskID(nil), m.ReferenceTaskIDs...)
	return &out
}
