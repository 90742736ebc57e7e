// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/go-a2a/agentcore/auth"
	"github.com/go-a2a/agentcore/config"
	"github.com/go-a2a/agentcore/internal/observability"
)

const (
	limiterTTL     = 15 * time.Minute
	limiterCleanup = 5 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per caller. Anonymous callers are keyed by
// client address.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	metrics *observability.Metrics
	now     func() time.Time

	mu          sync.Mutex
	entries     map[string]*limiterEntry
	lastCleanup time.Time
}

// NewRateLimiter returns a limiter for cfg, or nil when rate limiting is
// disabled. A nil *RateLimiter allows everything.
func NewRateLimiter(cfg config.RateLimitConfig, metrics *observability.Metrics) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:       rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute)),
		burst:       burst,
		metrics:     metrics,
		now:         time.Now,
		entries:     make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
	}
}

// Allow consumes a token for key and reports whether one was available.
func (l *RateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= limiterCleanup {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > limiterTTL {
				delete(l.entries, k)
			}
		}
		l.lastCleanup = now
	}

	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Middleware answers 429 once the caller's bucket is empty. It runs after
// authentication.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(limiterKey(r)) {
			l.metrics.RateLimited()
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) retryAfter() int {
	secs := int(time.Duration(float64(time.Second) / float64(l.limit)).Seconds())
	return max(secs, 1)
}

func limiterKey(r *http.Request) string {
	if u := auth.FromContext(r.Context()); u.IsAuthenticated() {
		return "user:" + string(u.UserID())
	}
	return "ip:" + ClientIP(r)
}
