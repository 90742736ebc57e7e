// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolmap translates MCP tool schemas into the function declarations
// a model backend accepts, and maps the calls the model makes back onto the
// original MCP tool and arguments.
package toolmap

import (
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/provider"
)

// Tool is a tool as advertised by an MCP server.
type Tool struct {
	Server      string
	Name        string
	Description string
	InputSchema map[string]any
}

// Entry is what the mapper remembers for one provider-visible name.
type Entry struct {
	Server string
	Tool   string
	// Schema is the original input schema the arguments are validated against.
	Schema map[string]any
	// Discriminator and Value are set when the name stands for one branch of
	// a union; the pinned value is put back into the arguments on resolve.
	Discriminator string
	Value         any

	// control and field are set on built-in tools.
	control agentcore.TaskState
	field   string

	compiled *gojsonschema.Schema
	compErr  error
	once     *sync.Once
}

// Resolved is a tool call mapped back to its MCP tool.
type Resolved struct {
	Server    string
	Tool      string
	Arguments map[string]any
	// Control is the state a built-in tool asks for, and Message the text
	// the model gave with it. Server is empty then.
	Control agentcore.TaskState
	Message string
}

// Mapper maps provider-visible tool names to MCP tools. It is safe for
// concurrent use.
type Mapper struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMapper returns an empty mapper.
func NewMapper() *Mapper {
	return &Mapper{entries: make(map[string]*Entry)}
}

// Register records translated → e. The first registration of a name wins;
// later ones are dropped and reported with false.
func (m *Mapper) Register(translated string, e Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.entries[translated]; dup {
		return false
	}
	e.once = new(sync.Once)
	m.entries[translated] = &e
	return true
}

// Len reports the number of registered names.
func (m *Mapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Lookup returns the entry for translated.
func (m *Mapper) Lookup(translated string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[translated]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Resolve maps call back onto its MCP tool and validates the arguments
// against the original schema.
func (m *Mapper) Resolve(call agentcore.ToolCall) (*Resolved, error) {
	m.mu.RLock()
	e, ok := m.entries[call.Name]
	m.mu.RUnlock()
	if !ok {
		return nil, agentcore.NewNotFoundError("tool", call.Name)
	}

	args := maps.Clone(call.Arguments)
	if args == nil {
		args = map[string]any{}
	}
	if e.Discriminator != "" {
		args[e.Discriminator] = e.Value
	}
	if err := e.validate(args); err != nil {
		return nil, err
	}
	res := &Resolved{Server: e.Server, Tool: e.Tool, Arguments: args, Control: e.control}
	if e.control != "" {
		res.Message, _ = args[e.field].(string)
	}
	return res, nil
}

func (e *Entry) validate(args map[string]any) error {
	if len(e.Schema) == 0 {
		return nil
	}
	e.once.Do(func() {
		e.compiled, e.compErr = gojsonschema.NewSchema(gojsonschema.NewGoLoader(e.Schema))
	})
	if e.compErr != nil {
		// A schema the validator cannot compile is the server's problem; the
		// server validates again on its side.
		return nil
	}
	res, err := e.compiled.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return agentcore.NewValidationError("arguments", err.Error())
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, re := range res.Errors() {
		msgs = append(msgs, re.String())
	}
	return agentcore.NewValidationError("arguments", fmt.Sprintf("%s: %s", e.Tool, strings.Join(msgs, "; ")))
}

// Prepared is the tool set offered to one provider request.
type Prepared struct {
	Tools  []provider.Tool
	Mapper *Mapper
	// WebSearch is set when no tools are available and the backend offers
	// built-in search instead.
	WebSearch bool

	rules dialectRules
}

// Prepare translates tools for p and registers every translated name.
func Prepare(p provider.Provider, tools []Tool) *Prepared {
	r := rulesFor(p.Dialect())
	out := &Prepared{Mapper: NewMapper(), rules: r}
	if len(tools) == 0 {
		out.WebSearch = p.SupportsGoogleSearch()
		return out
	}
	add := func(name, desc string, schema map[string]any, e Entry) {
		name = r.sanitizeName(name)
		if !out.Mapper.Register(name, e) {
			return
		}
		out.Tools = append(out.Tools, provider.Tool{
			Name:        name,
			Description: desc,
			InputSchema: r.translate(schema),
		})
	}
	for _, t := range tools {
		base := Entry{Server: t.Server, Tool: t.Name, Schema: t.InputSchema}
		field, variants, merged, isUnion := splitUnion(t.InputSchema)
		switch {
		case !isUnion:
			add(t.Name, t.Description, t.InputSchema, base)
		case field == "":
			add(t.Name, t.Description, merged, base)
		default:
			for _, v := range variants {
				e := base
				e.Discriminator, e.Value = field, v.value
				add(t.Name+"_"+v.suffix, variantDescription(t.Description, field, v.value), withoutProperty(v.schema, field), e)
			}
		}
	}
	return out
}
