// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package toolmap

import (
	"fmt"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/provider"
)

// Names of the built-in tools a model calls to hand the task back to the
// caller instead of answering.
const (
	RequestUserInput = "request_user_input"
	RequestAuth      = "request_auth"
	RejectTask       = "reject_task"
)

// control describes one built-in tool.
type control struct {
	name        string
	description string
	// field is the single required string argument shown to the caller.
	field string
	state agentcore.TaskState
}

var controls = map[agentcore.TaskState]control{
	agentcore.TaskStateInputRequired: {
		name:        RequestUserInput,
		description: "Ask the user a question and wait for the answer before continuing.",
		field:       "question",
		state:       agentcore.TaskStateInputRequired,
	},
	agentcore.TaskStateAuthRequired: {
		name:        RequestAuth,
		description: "Stop and ask the user to authenticate before continuing.",
		field:       "reason",
		state:       agentcore.TaskStateAuthRequired,
	},
	agentcore.TaskStateRejected: {
		name:        RejectTask,
		description: "Decline the request without working on it.",
		field:       "reason",
		state:       agentcore.TaskStateRejected,
	},
}

// ControlState reports whether state can be requested through a built-in tool.
func ControlState(state agentcore.TaskState) bool {
	_, ok := controls[state]
	return ok
}

// AddControl offers the built-in tool that moves the task to state. A model
// calling it resolves to a [Resolved] with Control set. Built-in search is
// no longer used once a control tool is offered.
func (p *Prepared) AddControl(state agentcore.TaskState) error {
	c, ok := controls[state]
	if !ok {
		return agentcore.NewValidationError("state", fmt.Sprintf("no control tool moves a task to %s", state))
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			c.field: map[string]any{"type": "string"},
		},
		"required": []any{c.field},
	}
	e := Entry{Tool: c.name, Schema: schema, control: c.state, field: c.field}
	if !p.Mapper.Register(c.name, e) {
		return nil
	}
	p.WebSearch = false
	p.Tools = append(p.Tools, provider.Tool{
		Name:        c.name,
		Description: c.description,
		InputSchema: p.rules.translate(schema),
	})
	return nil
}

// IsControl reports whether translated names a built-in tool.
func (m *Mapper) IsControl(translated string) bool {
	e, ok := m.Lookup(translated)
	return ok && e.control != ""
}
