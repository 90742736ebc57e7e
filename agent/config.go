// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent loads agent definitions and runs the reasoning loop that
// connects a model provider to the agent's MCP tool servers.
package agent

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/provider"
	"github.com/go-a2a/agentcore/provider/toolmap"
)

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// Skill is a capability advertised on the agent card.
type Skill struct {
	ID          agentcore.SkillID `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description,omitempty"`
	Tags        []string          `yaml:"tags" json:"tags,omitempty"`
}

// Definition is one agent as declared in the agents file.
type Definition struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`

	MaxOutputTokens int      `yaml:"max_output_tokens"`
	Temperature     *float64 `yaml:"temperature"`
	TopP            *float64 `yaml:"top_p"`
	TopK            *int     `yaml:"top_k"`
	StopSequences   []string `yaml:"stop_sequences"`

	MCPServers []string `yaml:"mcp_servers"`
	// MaxToolTurns overrides agents.max_tool_turns when positive.
	MaxToolTurns int `yaml:"max_tool_turns"`
	// DisableWebSearch keeps the built-in search tool from being offered
	// when the agent has no tools.
	DisableWebSearch bool    `yaml:"disable_web_search"`
	Skills           []Skill `yaml:"skills"`
	// Interrupts lists the states the model may move the task to through
	// built-in tools: input-required, auth-required and rejected.
	Interrupts []agentcore.TaskState `yaml:"interrupts"`

	// Port and Binary describe the agent process managed by the lifecycle
	// package. Both are optional for agents served in-process.
	Port   int               `yaml:"port"`
	Binary string            `yaml:"binary"`
	Args   []string          `yaml:"args"`
	Env    map[string]string `yaml:"env"`
}

// Validate checks the fields every agent needs.
func (d *Definition) Validate() error {
	if !validName.MatchString(d.Name) {
		return agentcore.NewValidationError("name", fmt.Sprintf("agent name %q must match %s", d.Name, validName))
	}
	if d.Port < 0 || d.Port > 65535 {
		return agentcore.NewValidationError("port", fmt.Sprintf("agent %s: port %d out of range", d.Name, d.Port))
	}
	if d.MaxOutputTokens < 0 {
		return agentcore.NewValidationError("max_output_tokens", fmt.Sprintf("agent %s: must not be negative", d.Name))
	}
	for _, st := range d.Interrupts {
		if !toolmap.ControlState(st) {
			return agentcore.NewValidationError("interrupts", fmt.Sprintf("agent %s: %q cannot be requested by the model", d.Name, st))
		}
	}
	if d.Binary != "" && d.Port == 0 {
		return agentcore.NewValidationError("port", fmt.Sprintf("agent %s: a binary needs a port", d.Name))
	}
	return nil
}

// Sampling returns the sampling controls of d, or nil when none are set.
func (d *Definition) Sampling() *provider.Sampling {
	if d.Temperature == nil && d.TopP == nil && d.TopK == nil && len(d.StopSequences) == 0 {
		return nil
	}
	return &provider.Sampling{
		Temperature:   d.Temperature,
		TopP:          d.TopP,
		TopK:          d.TopK,
		StopSequences: slices.Clone(d.StopSequences),
	}
}

type file struct {
	Agents []Definition `yaml:"agents"`
}

// Registry holds the agent definitions, keyed by name.
type Registry struct {
	agents map[string]*Definition
	order  []string
}

// NewRegistry validates defs and indexes them by name.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{agents: make(map[string]*Definition, len(defs))}
	for i := range defs {
		d := defs[i]
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.agents[d.Name]; dup {
			return nil, agentcore.NewValidationError("name", fmt.Sprintf("agent %s is defined twice", d.Name))
		}
		r.agents[d.Name] = &d
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

// ParseRegistry decodes an agents file.
func ParseRegistry(data []byte) (*Registry, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	return NewRegistry(f.Agents...)
}

// LoadRegistry reads the agents file at path.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	r, err := ParseRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Get returns the definition called name.
func (r *Registry) Get(name string) (*Definition, error) {
	d, ok := r.agents[name]
	if !ok {
		return nil, agentcore.NewNotFoundError("agent", name)
	}
	return d, nil
}

// List returns the definitions in file order.
func (r *Registry) List() []*Definition {
	out := make([]*Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.agents[name])
	}
	return out
}
