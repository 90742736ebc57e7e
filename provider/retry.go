// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/go-a2a/agentcore/config"
)

// RetryPolicy bounds how often a failed request is sent again.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     10 * time.Second,
	Multiplier:      2,
}

// RetryPolicyFromConfig converts the configured retry budget. The budget
// applies to 429 responses, 5xx responses and transport errors. Every other
// 4xx response fails on the first attempt.
func RetryPolicyFromConfig(c config.RetryConfig) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
		Multiplier:      c.Multiplier,
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultRetryPolicy.Multiplier
	}
	return p
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	return b
}

// isRetryable reports whether err is worth another attempt. Rate limits,
// server errors and transport failures are; other client errors are not.
func isRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// retry runs op under p. Non-retryable errors stop immediately.
func retry[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, name string, op func() (T, error)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op()
		if err != nil && !isRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(max(p.MaxAttempts, 1))),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.WarnContext(ctx, "retrying provider request",
				slog.String("provider", name),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", d),
				slog.Any("error", err),
			)
		}),
	)
}
