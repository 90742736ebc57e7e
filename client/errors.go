// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-a2a/agentcore"
)

// request is the JSON-RPC envelope sent to the server.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// envelope is a JSON-RPC response with its result left undecoded.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a failure reported by the server, either as a JSON-RPC error
// object or as a bare HTTP status.
type Error struct {
	StatusCode int    `json:"-"`
	Code       int64  `json:"code"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
}

var _ agentcore.Kinder = (*Error)(nil)

// Error implements error.
func (e *Error) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("client: http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("client: rpc error %d: %s", e.Code, e.Message)
}

// Kind maps the server's code back onto the error taxonomy.
func (e *Error) Kind() agentcore.ErrorKind {
	switch e.Code {
	case agentcore.CodeInvalidParams, agentcore.CodeInvalidRequest, agentcore.CodeParseError:
		return agentcore.KindValidation
	case agentcore.CodeAuth:
		return agentcore.KindAuth
	case agentcore.CodeTaskNotFound, agentcore.CodeMethodNotFound:
		return agentcore.KindNotFound
	case agentcore.CodeInvalidTaskState, agentcore.CodeTaskNotCancelable:
		return agentcore.KindInvalidTaskState
	case agentcore.CodeProtocol:
		return agentcore.KindProtocol
	case agentcore.CodeProvider:
		return agentcore.KindProvider
	case agentcore.CodeTimeout:
		return agentcore.KindTimeout
	case agentcore.CodePersistence:
		return agentcore.KindPersistence
	case 0:
		return kindForStatus(e.StatusCode)
	}
	return agentcore.KindInternal
}

func kindForStatus(status int) agentcore.ErrorKind {
	switch status {
	case http.StatusBadRequest:
		return agentcore.KindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return agentcore.KindAuth
	case http.StatusNotFound:
		return agentcore.KindNotFound
	case http.StatusConflict:
		return agentcore.KindInvalidTaskState
	case http.StatusGatewayTimeout:
		return agentcore.KindTimeout
	case http.StatusBadGateway:
		return agentcore.KindProvider
	}
	return agentcore.KindInternal
}

func (e *Error) withStatus(status int) *Error {
	e.StatusCode = status
	return e
}
