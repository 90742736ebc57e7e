// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/go-a2a/agentcore"
)

// ErrUnsupported is returned by capabilities a backend does not have.
var ErrUnsupported = errors.New("provider: capability not supported")

// ProviderError is a non-2xx answer from a model backend.
type ProviderError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

var _ agentcore.Kinder = (*ProviderError)(nil)

// Error implements error.
func (e *ProviderError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: status %d: %s: %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Kind implements [agentcore.Kinder].
func (e *ProviderError) Kind() agentcore.ErrorKind { return agentcore.KindProvider }

// Retryable reports whether the request may succeed when sent again.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// parseErrorBody extracts type and message from the error envelopes used by
// the supported backends:
//
//	{"type":"error","error":{"type":"overloaded_error","message":"..."}}
//	{"error":{"message":"...","type":"invalid_request_error"}}
//	{"error":{"code":429,"message":"...","status":"RESOURCE_EXHAUSTED"}}
func parseErrorBody(name string, status int, body []byte) *ProviderError {
	pe := &ProviderError{Provider: name, StatusCode: status}
	var env struct {
		Error struct {
			Type    string `json:"type"`
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := sonic.ConfigStd.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		pe.Type = env.Error.Type
		if pe.Type == "" {
			pe.Type = env.Error.Status
		}
		pe.Message = env.Error.Message
		return pe
	}
	pe.Message = http.StatusText(status)
	if len(body) > 0 {
		pe.Message = string(body)
	}
	return pe
}
