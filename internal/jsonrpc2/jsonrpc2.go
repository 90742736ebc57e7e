// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package jsonrpc2 implements the JSON-RPC 2.0 envelope used by the A2A
// endpoint.
package jsonrpc2

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Version is the only protocol version accepted.
const Version = "2.0"

// Standard error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ID is a request id: a string, an integer or null.
type ID struct {
	value any
}

// StringID returns a string id.
func StringID(s string) ID { return ID{value: s} }

// Int64ID returns a numeric id.
func Int64ID(n int64) ID { return ID{value: n} }

// IsValid reports whether the id was set by the caller.
func (id ID) IsValid() bool { return id.value != nil }

// Raw returns the underlying string, int64 or nil.
func (id ID) Raw() any { return id.value }

// String implements fmt.Stringer.
func (id ID) String() string {
	switch v := id.value.(type) {
	case nil:
		return "null"
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		id.value = nil
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		id.value = s
		return nil
	default:
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("jsonrpc2: id must be a string or an integer: %w", err)
		}
		id.value = n
		return nil
	}
}

// Request is a JSON-RPC request or notification.
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      ID             `json:"id"`
	Method  string         `json:"method"`
	Params  jsontext.Value `json:"params,omitzero"`
}

// Response is a JSON-RPC response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      ID     `json:"id"`
	Result  any    `json:"result,omitzero"`
	Error   *Error `json:"error,omitzero"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitzero"`
}

var _ error = (*Error)(nil)

// NewError returns an error with code and message.
func NewError(code int64, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc2: code %d: %s", e.Code, e.Message)
}

// NewResult returns a successful response to id.
func NewResult(id ID, result any) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewErrorResponse returns a failed response to id.
func NewErrorResponse(id ID, err *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: err}
}

// DecodeRequest reads one request of at most limit bytes from r.
func DecodeRequest(r io.Reader, limit int64) (*Request, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, NewError(CodeParseError, "failed to read request body")
	}
	if int64(len(data)) > limit {
		return nil, NewError(CodeInvalidRequest, "request body too large")
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		var se *jsontext.SyntacticError
		if errors.As(err, &se) {
			return nil, NewError(CodeParseError, "invalid JSON")
		}
		return nil, NewError(CodeInvalidRequest, "malformed JSON-RPC request")
	}
	if req.JSONRPC != Version {
		return &req, NewError(CodeInvalidRequest, `jsonrpc must be "2.0"`)
	}
	if req.Method == "" {
		return &req, NewError(CodeInvalidRequest, "missing method")
	}
	return &req, nil
}

// EncodeResponse writes resp to w.
func EncodeResponse(w io.Writer, resp *Response) error {
	return json.MarshalWrite(w, resp)
}
