// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"log/slog"

	"github.com/go-a2a/agentcore/provider"
)

// Runtime is an agent resolved for one request: its definition, the backend
// that serves it and the tool servers it may call.
type Runtime struct {
	Definition *Definition
	Provider   provider.Provider
	Model      string
	MCPServers []string
}

// ServerSet reports which tool servers can be dialed.
type ServerSet interface {
	HasServer(name string) bool
}

// Loader resolves agent names into runtimes.
type Loader struct {
	agents    *Registry
	providers *provider.Registry
	servers   ServerSet
	logger    *slog.Logger
}

// NewLoader returns a loader over agents. servers may be nil when no tool
// servers are configured.
func NewLoader(agents *Registry, providers *provider.Registry, servers ServerSet, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{agents: agents, providers: providers, servers: servers, logger: logger}
}

// Agents returns the underlying registry.
func (l *Loader) Agents() *Registry { return l.agents }

// MCPServers returns the tool servers agentName is bound to that are
// actually configured. Unknown servers are logged and left out.
func (l *Loader) MCPServers(ctx context.Context, agentName string) ([]string, error) {
	def, err := l.agents.Get(agentName)
	if err != nil {
		return nil, err
	}
	return l.boundServers(ctx, def), nil
}

func (l *Loader) boundServers(ctx context.Context, def *Definition) []string {
	var out []string
	for _, name := range def.MCPServers {
		if l.servers == nil || !l.servers.HasServer(name) {
			l.logger.WarnContext(ctx, "agent references an unknown mcp server",
				slog.String("agent_name", def.Name),
				slog.String("mcp_server", name),
			)
			continue
		}
		out = append(out, name)
	}
	return out
}

// Load resolves agentName.
func (l *Loader) Load(ctx context.Context, agentName string) (*Runtime, error) {
	def, err := l.agents.Get(agentName)
	if err != nil {
		return nil, err
	}
	p, err := l.providers.Get(def.Provider)
	if err != nil {
		return nil, err
	}
	model := def.Model
	if model == "" {
		model = p.DefaultModel()
	}
	return &Runtime{
		Definition: def,
		Provider:   p,
		Model:      model,
		MCPServers: l.boundServers(ctx, def),
	}, nil
}
