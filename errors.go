// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package agentcore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures independently of the component that raised them.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuth
	KindNotFound
	KindInvalidTaskState
	KindProtocol
	KindProvider
	KindTimeout
	KindPersistence
)

var kindNames = map[ErrorKind]string{
	KindInternal:         "internal_error",
	KindValidation:       "validation_error",
	KindAuth:             "auth_error",
	KindNotFound:         "not_found",
	KindInvalidTaskState: "invalid_task_state",
	KindProtocol:         "protocol_error",
	KindProvider:         "provider_error",
	KindTimeout:          "timeout_error",
	KindPersistence:      "persistence_error",
}

// String returns the wire name of the kind.
func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// HTTPStatus maps k onto the HTTP status reported to callers.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTaskState:
		return http.StatusConflict
	case KindProtocol, KindProvider:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is the error type shared by every component of the core.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

var _ error = (*Error)(nil)

// Error implements error.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind with no more
// specific message, so that the sentinels below work with [errors.Is].
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// Sentinels for use with errors.Is.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrAuth             = &Error{Kind: KindAuth}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidTaskState = &Error{Kind: KindInvalidTaskState}
	ErrProtocol         = &Error{Kind: KindProtocol}
	ErrProvider         = &Error{Kind: KindProvider}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrPersistence      = &Error{Kind: KindPersistence}
	ErrInternal         = &Error{Kind: KindInternal}
)

// NewValidationError reports malformed input for field.
func NewValidationError(field, msg string) *Error {
	return &Error{Kind: KindValidation, Op: field, Message: msg}
}

// NewAuthError reports that the caller may not act on a resource.
func NewAuthError(op, msg string) *Error {
	return &Error{Kind: KindAuth, Op: op, Message: msg}
}

// NewNotFoundError reports a missing agent, task or config.
func NewNotFoundError(what, id string) *Error {
	return &Error{Kind: KindNotFound, Op: what, Message: fmt.Sprintf("%s %q not found", what, id)}
}

// NewInvalidTaskStateError reports a rejected state transition.
func NewInvalidTaskStateError(taskID TaskID, from TaskState, event TaskEvent) *Error {
	return &Error{
		Kind:    KindInvalidTaskState,
		Op:      "transition",
		Message: fmt.Sprintf("task %s: event %s not allowed in state %s", taskID, event, from),
	}
}

// NewProtocolError reports a malformed upstream payload.
func NewProtocolError(op, msg string, err error) *Error {
	return &Error{Kind: KindProtocol, Op: op, Message: msg, Err: err}
}

// NewProviderError reports an upstream failure after retries.
func NewProviderError(op string, err error) *Error {
	return &Error{Kind: KindProvider, Op: op, Err: err}
}

// NewTimeoutError reports an exceeded deadline.
func NewTimeoutError(op string, err error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Err: err}
}

// NewPersistenceError wraps a database failure.
func NewPersistenceError(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

// NewInternalError reports an invariant violation.
func NewInternalError(op, msg string) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: msg}
}

// Kinder is implemented by package-local error types that classify themselves.
type Kinder interface {
	Kind() ErrorKind
}

// KindOf classifies err. Unclassified errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// PublicMessage returns the text that may be shown to a caller for err.
// Auth and internal failures never leak detail.
func PublicMessage(err error) string {
	switch KindOf(err) {
	case KindAuth:
		return "not authorized"
	case KindInternal:
		return "internal error"
	default:
		return err.Error()
	}
}
