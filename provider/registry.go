// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/config"
)

// Registry looks up backends by name.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]Provider
	defaultName string
}

// NewRegistry returns an empty registry whose default is defaultName.
func NewRegistry(defaultName string) *Registry {
	return &Registry{
		providers:   make(map[string]Provider),
		defaultName: defaultName,
	}
}

// NewRegistryFromConfig builds a backend for every configured provider. The
// backend type is chosen by the entry name.
func NewRegistryFromConfig(cfg *config.Config, opts ...Option) (*Registry, error) {
	opts = append([]Option{WithRetryPolicy(RetryPolicyFromConfig(cfg.Retry))}, opts...)
	r := NewRegistry(cfg.DefaultProvider)
	for name, pc := range cfg.Providers {
		p, err := New(name, pc, opts...)
		if err != nil {
			return nil, err
		}
		r.Register(p)
	}
	return r, nil
}

// New builds the backend called name.
func New(name string, cfg config.ProviderConfig, opts ...Option) (Provider, error) {
	switch name {
	case anthropicName:
		return NewAnthropic(cfg, opts...), nil
	case openAIName:
		return NewOpenAI(cfg, opts...), nil
	case geminiName:
		return NewGemini(cfg, opts...), nil
	}
	return nil, fmt.Errorf("provider: unknown backend %q", name)
}

// Register adds p under p.Name(), replacing any previous entry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the backend called name, or the default one for "".
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.defaultName
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, agentcore.NewNotFoundError("provider", name)
	}
	return p, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.providers))
}
