// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package toolmap

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/go-a2a/agentcore/provider"
)

// dialectRules is what a backend accepts in a function declaration.
type dialectRules struct {
	maxName     int
	invalidName *regexp.Regexp
	// dropKeys are removed at every level of the schema.
	dropKeys []string
	// oneOfAsAnyOf rewrites oneOf to anyOf below the top level.
	oneOfAsAnyOf bool
	// constAsEnum rewrites const to a single-valued enum.
	constAsEnum bool
	// stringEnums keeps enum only when every value is a string.
	stringEnums bool
}

var rules = map[provider.Dialect]dialectRules{
	provider.DialectAnthropic: {
		maxName:     64,
		invalidName: regexp.MustCompile(`[^a-zA-Z0-9_-]`),
		dropKeys:    []string{"$schema", "$id"},
	},
	provider.DialectOpenAI: {
		maxName:     64,
		invalidName: regexp.MustCompile(`[^a-zA-Z0-9_-]`),
		dropKeys:    []string{"$schema", "$id"},
	},
	provider.DialectGemini: {
		maxName:      64,
		invalidName:  regexp.MustCompile(`[^a-zA-Z0-9_.:-]`),
		dropKeys:     []string{"$schema", "$id", "$ref", "$defs", "definitions", "additionalProperties", "default", "examples", "patternProperties", "unevaluatedProperties"},
		oneOfAsAnyOf: true,
		constAsEnum:  true,
		stringEnums:  true,
	},
}

func rulesFor(d provider.Dialect) dialectRules {
	if r, ok := rules[d]; ok {
		return r
	}
	return rules[provider.DialectOpenAI]
}

// sanitizeName maps name into the dialect's allowed alphabet and length.
func (r dialectRules) sanitizeName(name string) string {
	s := r.invalidName.ReplaceAllString(name, "_")
	if s == "" {
		s = "tool"
	}
	if c := s[0]; !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_') {
		s = "_" + s
	}
	if len(s) > r.maxName {
		s = s[:r.maxName]
	}
	return s
}

// translate rewrites schema for the dialect. The input is never modified.
func (r dialectRules) translate(schema map[string]any) map[string]any {
	out, _ := r.translateValue(schema, true).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if out["type"] == "object" {
		if _, ok := out["properties"]; !ok {
			out["properties"] = map[string]any{}
		}
	}
	return out
}

func (r dialectRules) translateValue(v any, top bool) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if slices.Contains(r.dropKeys, k) {
				continue
			}
			switch {
			case k == "oneOf" && r.oneOfAsAnyOf && !top:
				out["anyOf"] = r.translateValue(val, false)
			case k == "const" && r.constAsEnum:
				// Only string enums are expressible; other constants are dropped.
				if str, ok := val.(string); ok {
					out["enum"] = []any{str}
				}
			case k == "enum" && r.stringEnums:
				if vals, ok := val.([]any); ok && allStrings(vals) {
					out[k] = slices.Clone(vals)
				}
			case k == "properties":
				props, ok := val.(map[string]any)
				if !ok {
					continue
				}
				tp := make(map[string]any, len(props))
				for name, ps := range props {
					tp[name] = r.translateValue(ps, false)
				}
				out[k] = tp
			default:
				out[k] = r.translateValue(val, false)
			}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = r.translateValue(e, false)
		}
		return out
	}
	return v
}

func allStrings(vals []any) bool {
	for _, v := range vals {
		if _, ok := v.(string); !ok {
			return false
		}
	}
	return true
}

// variant is one branch of a top-level union.
type variant struct {
	suffix string
	value  any
	schema map[string]any
}

// splitUnion breaks a top-level oneOf/anyOf into object variants. It returns
// the discriminator property when every branch pins the same property to a
// distinct const (or single-valued enum); otherwise the branches are merged.
func splitUnion(schema map[string]any) (discriminator string, variants []variant, merged map[string]any, ok bool) {
	branches, key := unionBranches(schema)
	if branches == nil {
		return "", nil, nil, false
	}
	var objs []map[string]any
	for _, b := range branches {
		m, isObj := b.(map[string]any)
		if !isObj {
			return "", nil, nil, false
		}
		objs = append(objs, withShared(schema, m, key))
	}

	if field := commonDiscriminator(objs); field != "" {
		for _, o := range objs {
			val := pinnedValue(o, field)
			variants = append(variants, variant{suffix: fmt.Sprint(val), value: val, schema: o})
		}
		return field, variants, nil, true
	}
	return "", nil, mergeObjects(objs), true
}

func unionBranches(schema map[string]any) ([]any, string) {
	for _, key := range []string{"oneOf", "anyOf"} {
		if b, ok := schema[key].([]any); ok && len(b) > 0 {
			return b, key
		}
	}
	return nil, ""
}

// withShared folds the properties declared next to the union into a branch.
func withShared(parent, branch map[string]any, unionKey string) map[string]any {
	out := maps.Clone(branch)
	props := map[string]any{}
	if pp, ok := parent["properties"].(map[string]any); ok {
		maps.Copy(props, pp)
	}
	if bp, ok := branch["properties"].(map[string]any); ok {
		maps.Copy(props, bp)
	}
	out["type"] = "object"
	out["properties"] = props
	var req []any
	for _, src := range []map[string]any{parent, branch} {
		if r, ok := src["required"].([]any); ok {
			for _, name := range r {
				if !slices.Contains(req, name) {
					req = append(req, name)
				}
			}
		}
	}
	if len(req) > 0 {
		out["required"] = req
	}
	delete(out, unionKey)
	return out
}

func pinnedValue(obj map[string]any, field string) any {
	props, _ := obj["properties"].(map[string]any)
	p, _ := props[field].(map[string]any)
	if p == nil {
		return nil
	}
	if c, ok := p["const"]; ok {
		return c
	}
	if e, ok := p["enum"].([]any); ok && len(e) == 1 {
		return e[0]
	}
	return nil
}

func commonDiscriminator(objs []map[string]any) string {
	props, _ := objs[0]["properties"].(map[string]any)
	names := slices.Sorted(maps.Keys(props))
	for _, name := range names {
		seen := make(map[string]bool)
		ok := true
		for _, o := range objs {
			v := pinnedValue(o, name)
			if v == nil {
				ok = false
				break
			}
			k := fmt.Sprint(v)
			if seen[k] {
				ok = false
				break
			}
			seen[k] = true
		}
		if ok {
			return name
		}
	}
	return ""
}

// mergeObjects unions the properties of objs; a property is required only
// when every branch requires it.
func mergeObjects(objs []map[string]any) map[string]any {
	props := map[string]any{}
	counts := map[string]int{}
	for _, o := range objs {
		if p, ok := o["properties"].(map[string]any); ok {
			for name, s := range p {
				if _, exists := props[name]; !exists {
					props[name] = s
				}
			}
		}
		if r, ok := o["required"].([]any); ok {
			for _, name := range r {
				if s, isStr := name.(string); isStr {
					counts[s]++
				}
			}
		}
	}
	var req []any
	for _, name := range slices.Sorted(maps.Keys(counts)) {
		if counts[name] == len(objs) {
			req = append(req, name)
		}
	}
	out := map[string]any{"type": "object", "properties": props}
	if len(req) > 0 {
		out["required"] = req
	}
	return out
}

// withoutProperty drops field from an object schema.
func withoutProperty(schema map[string]any, field string) map[string]any {
	out := maps.Clone(schema)
	if props, ok := schema["properties"].(map[string]any); ok {
		p := maps.Clone(props)
		delete(p, field)
		out["properties"] = p
	}
	if req, ok := schema["required"].([]any); ok {
		out["required"] = slices.DeleteFunc(slices.Clone(req), func(v any) bool { return v == field })
		if len(out["required"].([]any)) == 0 {
			delete(out, "required")
		}
	}
	return out
}

func variantDescription(desc, field string, value any) string {
	s := fmt.Sprintf("%s=%v", field, value)
	if strings.TrimSpace(desc) == "" {
		return s
	}
	return desc + " (" + s + ")"
}
