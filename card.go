// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agentcore

import "fmt"

// AgentProvider is the organization that runs an agent.
type AgentProvider struct {
	Organization string `json:"organization"`
	URL          string `json:"url,omitempty"`
}

// AgentCapabilities lists the optional protocol features an agent supports.
type AgentCapabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

// AgentSkill describes a unit of capability an agent can perform.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
	InputModes  []string `json:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty"`
}

// Validate ensures the AgentSkill is valid.
func (s AgentSkill) Validate() error {
	if s.ID == "" {
		return NewValidationError("skill.id", "agent skill ID cannot be empty")
	}
	if s.Name == "" {
		return NewValidationError("skill.name", "agent skill name cannot be empty")
	}
	return nil
}

// AgentCard is the public description of an agent served at
// [AgentCardWellKnownPath].
type AgentCard struct {
	Name               string            `json:"name"`
	Description        string            `json:"description,omitempty"`
	URL                string            `json:"url"`
	Version            string            `json:"version"`
	ProtocolVersion    string            `json:"protocolVersion"`
	PreferredTransport string            `json:"preferredTransport"`
	Provider           *AgentProvider    `json:"provider,omitempty"`
	Capabilities       AgentCapabilities `json:"capabilities"`
	DefaultInputModes  []string          `json:"defaultInputModes"`
	DefaultOutputModes []string          `json:"defaultOutputModes"`
	Skills             []AgentSkill      `json:"skills"`
}

// Validate ensures the AgentCard is valid.
func (c *AgentCard) Validate() error {
	if c.Name == "" {
		return NewValidationError("agent_card.name", "agent card name cannot be empty")
	}
	if _, err := PathFromURL(c.URL); err != nil {
		return err
	}
	for i, s := range c.Skills {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("skill %d: %w", i, err)
		}
	}
	return nil
}
