// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/go-a2a/agentcore"
)

// errStopped unwinds a decoder when the consumer stops iterating.
var errStopped = errors.New("provider: stream consumer stopped")

type pendingCall struct {
	key  string
	id   agentcore.AiToolCallID
	name string
	args strings.Builder
	done bool
}

// streamState assembles streamed deltas into an [AiResponse] while
// forwarding them as chunks. Tool calls are keyed by the backend's own
// handle (block index, choice index) and kept in arrival order.
type streamState struct {
	yield func(StreamChunk, error) bool

	text  strings.Builder
	calls []*pendingCall
	byKey map[string]*pendingCall
	resp  AiResponse
}

func newStreamState(yield func(StreamChunk, error) bool) *streamState {
	return &streamState{
		yield: yield,
		byKey: make(map[string]*pendingCall),
		resp:  AiResponse{IsStreaming: true},
	}
}

func (s *streamState) emit(ch StreamChunk) error {
	if !s.yield(ch, nil) {
		return errStopped
	}
	return nil
}

func newToolCallID() agentcore.AiToolCallID {
	return agentcore.AiToolCallID("call_" + strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (s *streamState) addText(delta string) error {
	if delta == "" {
		return nil
	}
	s.text.WriteString(delta)
	return s.emit(StreamChunk{Type: ChunkText, Text: delta})
}

func (s *streamState) started(key string) bool {
	_, ok := s.byKey[key]
	return ok
}

func (s *streamState) startCall(key, id, name string) error {
	if s.started(key) {
		return nil
	}
	pc := &pendingCall{key: key, id: agentcore.AiToolCallID(id), name: name}
	if pc.id == "" {
		pc.id = newToolCallID()
	}
	s.byKey[key] = pc
	s.calls = append(s.calls, pc)
	return s.emit(StreamChunk{Type: ChunkToolCallStart, ToolCallID: pc.id, ToolName: pc.name})
}

func (s *streamState) appendArgs(key, fragment string) error {
	if fragment == "" {
		return nil
	}
	pc, ok := s.byKey[key]
	if !ok {
		if err := s.startCall(key, "", ""); err != nil {
			return err
		}
		pc = s.byKey[key]
	}
	pc.args.WriteString(fragment)
	return s.emit(StreamChunk{Type: ChunkToolCallDelta, ToolCallID: pc.id, ToolName: pc.name, ArgsFragment: fragment})
}

func (s *streamState) endCall(key string) error {
	pc, ok := s.byKey[key]
	if !ok || pc.done {
		return nil
	}
	pc.done = true
	args, err := ParseArguments(pc.args.String())
	if err != nil {
		return err
	}
	tc := agentcore.ToolCall{ID: pc.id, Name: pc.name, Arguments: args}
	return s.emit(StreamChunk{Type: ChunkToolCallEnd, ToolCallID: pc.id, ToolName: pc.name, ToolCall: &tc})
}

// finish closes any open tool calls and returns the aggregated response.
func (s *streamState) finish() (*AiResponse, error) {
	for _, pc := range s.calls {
		if err := s.endCall(pc.key); err != nil {
			return nil, err
		}
	}
	out := s.resp
	out.Content = s.text.String()
	for _, pc := range s.calls {
		args, err := ParseArguments(pc.args.String())
		if err != nil {
			return nil, err
		}
		if pc.name == "" {
			return nil, agentcore.NewProtocolError("tool_call", "tool call "+string(pc.id)+" has no name", nil)
		}
		out.ToolCalls = append(out.ToolCalls, agentcore.ToolCall{ID: pc.id, Name: pc.name, Arguments: args})
	}
	switch {
	case out.FinishReason == "" && len(out.ToolCalls) > 0:
		out.FinishReason = FinishToolCalls
	case out.FinishReason == "":
		out.FinishReason = FinishStop
	case out.FinishReason == FinishStop && len(out.ToolCalls) > 0:
		out.FinishReason = FinishToolCalls
	}
	return &out, nil
}
