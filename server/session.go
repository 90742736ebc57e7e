// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/go-a2a/agentcore"
)

// DefaultSessionLookupTimeout caps the session lookup of one request.
const DefaultSessionLookupTimeout = 500 * time.Millisecond

// SessionStore persists sessions by client fingerprint.
type SessionStore interface {
	FindSession(ctx context.Context, user agentcore.UserID, fingerprint string) (agentcore.SessionID, error)
	TouchSession(ctx context.Context, session agentcore.SessionID, user agentcore.UserID, fingerprint string) error
}

// SessionResolver assigns a session to each request. Resolution never fails
// the request: a slow or failing store yields a fresh session.
type SessionResolver struct {
	store   SessionStore
	timeout time.Duration
	logger  *slog.Logger
}

// NewSessionResolver returns a resolver over store. A non-positive timeout
// selects [DefaultSessionLookupTimeout].
func NewSessionResolver(store SessionStore, timeout time.Duration, logger *slog.Logger) *SessionResolver {
	if timeout <= 0 {
		timeout = DefaultSessionLookupTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionResolver{store: store, timeout: timeout, logger: logger}
}

// Fingerprint identifies a client by user, user agent and address.
func Fingerprint(user agentcore.UserID, userAgent, clientIP string) string {
	h := blake3.New()
	h.WriteString(string(user))
	h.WriteString("\x00")
	h.WriteString(userAgent)
	h.WriteString("\x00")
	h.WriteString(clientIP)
	return hex.EncodeToString(h.Sum(nil))
}

// ClientIP returns the first X-Forwarded-For address of r, or its remote
// host.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Resolve returns the session of r. An X-Session-ID header wins; otherwise
// the most recent session of the client fingerprint is reused, or a new
// one is minted when the lookup misses or exceeds the timeout.
func (s *SessionResolver) Resolve(ctx context.Context, r *http.Request, user agentcore.UserID) (agentcore.SessionID, error) {
	fp := Fingerprint(user, r.UserAgent(), ClientIP(r))

	if h := r.Header.Get(agentcore.HeaderSessionID); h != "" {
		id := agentcore.SessionID(h)
		if err := id.Validate(); err != nil {
			return "", err
		}
		s.touch(ctx, id, user, fp)
		return id, nil
	}

	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	id, err := s.store.FindSession(lctx, user, fp)
	cancel()
	switch {
	case err == nil:
	case agentcore.KindOf(err) == agentcore.KindNotFound:
		id = agentcore.NewSessionID()
	default:
		s.logger.WarnContext(ctx, "session lookup failed, starting a new session",
			slog.String("user_id", string(user)),
			slog.Any("error", err),
		)
		id = agentcore.NewSessionID()
	}
	s.touch(ctx, id, user, fp)
	return id, nil
}

func (s *SessionResolver) touch(ctx context.Context, id agentcore.SessionID, user agentcore.UserID, fp string) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.store.TouchSession(tctx, id, user, fp); err != nil {
		s.logger.WarnContext(ctx, "failed to record session",
			slog.String("session_id", string(id)),
			slog.Any("error", err),
		)
	}
}
