// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth authenticates callers of the A2A endpoint. A verified bearer
// token becomes an [AuthenticatedUser]; anonymous access, when allowed,
// yields an [UnauthenticatedUser] with a fixed id.
package auth

import (
	"context"

	"github.com/go-a2a/agentcore"
)

// AnonymousUserID is the identity of callers without a token when
// anonymous access is enabled.
const AnonymousUserID agentcore.UserID = "anonymous"

// User is the caller of a request.
type User interface {
	// IsAuthenticated returns true if the user presented a valid token.
	IsAuthenticated() bool

	// UserName returns the display name of the user, if known.
	UserName() string

	// UserID returns the identity that owns contexts and tasks.
	UserID() agentcore.UserID
}

// AuthenticatedUser is a caller whose token was verified.
type AuthenticatedUser struct {
	ID   agentcore.UserID
	Name string
}

var _ User = AuthenticatedUser{}

func (u AuthenticatedUser) IsAuthenticated() bool    { return true }
func (u AuthenticatedUser) UserName() string         { return u.Name }
func (u AuthenticatedUser) UserID() agentcore.UserID { return u.ID }

// UnauthenticatedUser is an anonymous caller. The zero value is ready to use.
type UnauthenticatedUser struct{}

var _ User = UnauthenticatedUser{}

// IsAuthenticated always returns false for unauthenticated users.
func (u UnauthenticatedUser) IsAuthenticated() bool { return false }

// UserName always returns an empty string for unauthenticated users.
func (u UnauthenticatedUser) UserName() string { return "" }

// UserID returns [AnonymousUserID].
func (u UnauthenticatedUser) UserID() agentcore.UserID { return AnonymousUserID }

type userKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// FromContext returns the user stored in ctx, or an [UnauthenticatedUser].
func FromContext(ctx context.Context) User {
	if u, ok := ctx.Value(userKey{}).(User); ok && u != nil {
		return u
	}
	return UnauthenticatedUser{}
}
