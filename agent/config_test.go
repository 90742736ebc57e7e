// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/internal/providertest"
	"github.com/go-a2a/agentcore/provider"
)

const agentsYAML = `
agents:
  - name: hello
    description: Says hello
    provider: scripted
    system_prompt: You greet people.
    temperature: 0.2
    mcp_servers: [search, ghost]
    skills:
      - id: greet
        name: Greet
        tags: [greeting]
  - name: analyst
    model: big-1
    max_tool_turns: 3
    port: 9101
    binary: /usr/local/bin/analyst
    interrupts: [input-required, rejected]
`

func TestParseRegistry(t *testing.T) {
	r, err := ParseRegistry([]byte(agentsYAML))
	if err != nil {
		t.Fatalf("ParseRegistry: %v", err)
	}
	var names []string
	for _, d := range r.List() {
		names = append(names, d.Name)
	}
	if diff := cmp.Diff([]string{"hello", "analyst"}, names); diff != "" {
		t.Errorf("List order mismatch (-want +got):\n%s", diff)
	}

	hello, err := r.Get("hello")
	if err != nil {
		t.Fatalf("Get(hello): %v", err)
	}
	temp := 0.2
	want := &provider.Sampling{Temperature: &temp}
	if diff := cmp.Diff(want, hello.Sampling()); diff != "" {
		t.Errorf("Sampling mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Skill{{ID: "greet", Name: "Greet", Tags: []string{"greeting"}}}, hello.Skills); diff != "" {
		t.Errorf("Skills mismatch (-want +got):\n%s", diff)
	}

	analyst, _ := r.Get("analyst")
	if analyst.Sampling() != nil {
		t.Errorf("analyst.Sampling() = %+v, want nil", analyst.Sampling())
	}
	wantInterrupts := []agentcore.TaskState{agentcore.TaskStateInputRequired, agentcore.TaskStateRejected}
	if diff := cmp.Diff(wantInterrupts, analyst.Interrupts); diff != "" {
		t.Errorf("Interrupts mismatch (-want +got):\n%s", diff)
	}

	if _, err := r.Get("missing"); agentcore.KindOf(err) != agentcore.KindNotFound {
		t.Errorf("Get(missing) error = %v, want not found", err)
	}
}

func TestParseRegistryErrors(t *testing.T) {
	tests := map[string]string{
		"BadName":      "agents:\n  - name: Hello World\n",
		"Duplicate":    "agents:\n  - name: a\n  - name: a\n",
		"PortRange":    "agents:\n  - name: a\n    port: 70000\n",
		"BinaryNoPort": "agents:\n  - name: a\n    binary: /bin/true\n",
		"UnknownField": "agents:\n  - name: a\n    colour: blue\n",
		"NegativeMax":  "agents:\n  - name: a\n    max_output_tokens: -1\n",
		"BadInterrupt": "agents:\n  - name: a\n    interrupts: [completed]\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseRegistry([]byte(doc)); err == nil {
				t.Errorf("ParseRegistry(%q) succeeded, want error", doc)
			}
		})
	}
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	if err := os.WriteFile(path, []byte(agentsYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	r, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if len(r.List()) != 2 {
		t.Errorf("loaded %d agents, want 2", len(r.List()))
	}
	if _, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadRegistry(missing) succeeded")
	}
}

type serverSet map[string]bool

func (s serverSet) HasServer(name string) bool { return s[name] }

func TestLoader(t *testing.T) {
	agents, err := ParseRegistry([]byte(agentsYAML))
	if err != nil {
		t.Fatal(err)
	}
	providers := provider.NewRegistry("scripted")
	providers.Register(providertest.New())
	l := NewLoader(agents, providers, serverSet{"search": true}, nil)

	rt, err := l.Load(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Load(hello): %v", err)
	}
	if rt.Model != "scripted-1" || rt.Provider.Name() != "scripted" {
		t.Errorf("runtime = model %q provider %q", rt.Model, rt.Provider.Name())
	}
	if diff := cmp.Diff([]string{"search"}, rt.MCPServers); diff != "" {
		t.Errorf("MCPServers mismatch (-want +got):\n%s", diff)
	}

	// analyst names no provider and falls back to the default.
	rt, err = l.Load(context.Background(), "analyst")
	if err != nil {
		t.Fatalf("Load(analyst): %v", err)
	}
	if rt.Model != "big-1" {
		t.Errorf("analyst model = %q, want big-1", rt.Model)
	}

	if _, err := l.Load(context.Background(), "nobody"); agentcore.KindOf(err) != agentcore.KindNotFound {
		t.Errorf("Load(nobody) error = %v, want not found", err)
	}
}
