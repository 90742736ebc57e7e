// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/kaptinlin/jsonrepair"

	"github.com/go-a2a/agentcore"
)

// ParseArguments decodes the JSON arguments of a tool call. Empty input is an
// empty object. Input that does not parse is repaired once; if that fails
// too, or the value is not an object, the call is malformed.
func ParseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var v any
	if err := sonic.ConfigStd.UnmarshalFromString(raw, &v); err != nil {
		fixed, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return nil, agentcore.NewProtocolError("tool_call.arguments", "arguments are not valid JSON", err)
		}
		if err := sonic.ConfigStd.UnmarshalFromString(fixed, &v); err != nil {
			return nil, agentcore.NewProtocolError("tool_call.arguments", "arguments are not valid JSON", err)
		}
	}
	if v == nil {
		return map[string]any{}, nil
	}
	args, ok := agentcore.DataObject(v)
	if !ok {
		return nil, agentcore.NewProtocolError("tool_call.arguments", fmt.Sprintf("arguments must be a JSON object, got %T", v), nil)
	}
	return args, nil
}

// encodeArguments renders args for backends that carry them as a string.
func encodeArguments(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	s, err := sonic.ConfigStd.MarshalToString(args)
	if err != nil {
		return "{}"
	}
	return s
}
