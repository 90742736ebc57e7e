// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/config"
)

// ErrMissingToken is returned when a request carries no bearer token and
// anonymous access is disabled.
var ErrMissingToken = agentcore.NewAuthError("auth", "missing bearer token")

// Verifier checks HS256 bearer tokens issued for this service.
type Verifier struct {
	secret         []byte
	issuer         string
	allowAnonymous bool
	skew           time.Duration
	logger         *slog.Logger
}

// NewVerifier returns a verifier for cfg.
func NewVerifier(cfg config.AuthConfig, logger *slog.Logger) (*Verifier, error) {
	if cfg.JWTSecret == "" && !cfg.AllowAnonymous {
		return nil, errors.New("auth: jwt secret is required unless anonymous access is allowed")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		secret:         []byte(cfg.JWTSecret),
		issuer:         cfg.JWTIssuer,
		allowAnonymous: cfg.AllowAnonymous,
		skew:           30 * time.Second,
		logger:         logger,
	}, nil
}

// Verify parses and validates a compact token and returns its subject as
// the user.
func (v *Verifier) Verify(token string) (User, error) {
	if len(v.secret) == 0 {
		return nil, agentcore.NewAuthError("auth.Verify", "token verification is not configured")
	}
	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256(), v.secret),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.skew),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	tok, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return nil, &agentcore.Error{Kind: agentcore.KindAuth, Op: "auth.Verify", Message: "invalid token", Err: err}
	}
	sub, ok := tok.Subject()
	if !ok || sub == "" {
		return nil, agentcore.NewAuthError("auth.Verify", "token has no subject")
	}
	id := agentcore.UserID(sub)
	if err := id.Validate(); err != nil {
		return nil, agentcore.NewAuthError("auth.Verify", "token subject is not a valid user id")
	}
	var name string
	_ = tok.Get("name", &name)
	return AuthenticatedUser{ID: id, Name: name}, nil
}

// Authenticate resolves the caller of r.
func (v *Verifier) Authenticate(r *http.Request) (User, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		if v.allowAnonymous {
			return UnauthenticatedUser{}, nil
		}
		return nil, ErrMissingToken
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, agentcore.NewAuthError("auth", "authorization header must be a bearer token")
	}
	return v.Verify(strings.TrimSpace(token))
}

// Middleware authenticates every request and stores the user in its
// context. Failures are answered with 401 before next runs.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := v.Authenticate(r)
		if err != nil {
			v.logger.InfoContext(r.Context(), "request rejected",
				slog.String("path", r.URL.Path),
				slog.Any("error", err),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="agentcore"`)
			http.Error(w, agentcore.PublicMessage(err), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}
