// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/internal/observability"
)

// signaturePrefix marks the digest algorithm in [agentcore.WebhookSignatureHeader].
const signaturePrefix = "sha256="

// Notification is the JSON body POSTed to a webhook.
type Notification struct {
	Kind         string                `json:"kind"`
	TaskID       agentcore.TaskID      `json:"taskId"`
	ContextID    agentcore.ContextID   `json:"contextId"`
	Status       agentcore.TaskStatus  `json:"status"`
	Final        bool                  `json:"final"`
	AgentName    string                `json:"agentName,omitempty"`
	ErrorMessage string                `json:"errorMessage,omitempty"`
	Artifacts    []*agentcore.Artifact `json:"artifacts,omitempty"`
}

// NewNotification builds the webhook body for t's current status.
func NewNotification(t *agentcore.Task) *Notification {
	return &Notification{
		Kind:         "status-update",
		TaskID:       t.ID,
		ContextID:    t.ContextID,
		Status:       t.Status,
		Final:        t.Status.State.IsTerminal(),
		AgentName:    t.AgentName,
		ErrorMessage: t.ErrorMessage,
		Artifacts:    t.Artifacts,
	}
}

// Delivery records the outcome of one webhook POST.
type Delivery struct {
	ConfigID   agentcore.ConfigID
	URL        string
	StatusCode int
	Body       string
	Duration   time.Duration
	Err        error
}

// OK reports whether the receiver answered with a 2xx status.
func (d *Delivery) OK() bool {
	return d.Err == nil && d.StatusCode >= 200 && d.StatusCode < 300
}

// PushNotificationSender delivers task updates to registered webhooks.
type PushNotificationSender interface {
	// SendNotification POSTs t's status to every config registered for it.
	SendNotification(ctx context.Context, t *agentcore.Task) ([]Delivery, error)
}

// HTTPPushNotificationSender signs and POSTs notifications over a shared client.
type HTTPPushNotificationSender struct {
	client  *http.Client
	configs PushNotificationConfigStore
	secret  []byte
	maxBody int64
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics

	wg sync.WaitGroup
}

var _ PushNotificationSender = (*HTTPPushNotificationSender)(nil)

// HTTPPushNotificationSenderConfig holds configuration for HTTPPushNotificationSender.
type HTTPPushNotificationSenderConfig struct {
	Client          *http.Client
	Configs         PushNotificationConfigStore
	Secret          string
	Timeout         time.Duration // per delivery, defaults to 10s
	MaxResponseBody int64         // bytes of response body kept, defaults to 1KiB
	Logger          *slog.Logger
	Metrics         *observability.Metrics
}

// NewHTTPPushNotificationSender creates a new HTTPPushNotificationSender.
func NewHTTPPushNotificationSender(config HTTPPushNotificationSenderConfig) (*HTTPPushNotificationSender, error) {
	if config.Configs == nil {
		return nil, fmt.Errorf("push notification config store cannot be nil")
	}
	s := &HTTPPushNotificationSender{
		client:  config.Client,
		configs: config.Configs,
		secret:  []byte(config.Secret),
		maxBody: config.MaxResponseBody,
		timeout: config.Timeout,
		logger:  config.Logger,
		metrics: config.Metrics,
	}
	if s.client == nil {
		s.client = &http.Client{}
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}
	if s.maxBody <= 0 {
		s.maxBody = 1024
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// SendNotification POSTs t's status to every config registered for it, in
// parallel. Individual delivery failures are reported in the returned slice,
// not as an error.
func (s *HTTPPushNotificationSender) SendNotification(ctx context.Context, t *agentcore.Task) ([]Delivery, error) {
	configs, err := s.configs.List(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, nil
	}
	payload, err := sonic.ConfigDefault.Marshal(NewNotification(t))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}

	out := make([]Delivery, len(configs))
	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range configs {
		g.Go(func() error {
			out[i] = s.Send(gctx, cfg, payload)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// NotifyAsync delivers t's status in the background. The caller's
// cancellation does not abort deliveries already started.
func (s *HTTPPushNotificationSender) NotifyAsync(ctx context.Context, t *agentcore.Task) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.SendNotification(ctx, t); err != nil {
			s.logger.WarnContext(ctx, "push notification dispatch failed",
				slog.String("task_id", string(t.ID)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until every background delivery has finished.
func (s *HTTPPushNotificationSender) Wait() { s.wg.Wait() }

// Send POSTs payload to cfg and records the outcome.
func (s *HTTPPushNotificationSender) Send(ctx context.Context, cfg *agentcore.PushNotificationConfig, payload []byte) Delivery {
	d := Delivery{ConfigID: cfg.ID, URL: cfg.URL}
	start := time.Now()
	defer func() {
		d.Duration = time.Since(start)
		s.metrics.WebhookDelivered(d.OK())
		attrs := []any{
			slog.String("config_id", string(cfg.ID)),
			slog.String("url", cfg.URL),
			slog.Int("status", d.StatusCode),
			slog.Duration("duration", d.Duration),
		}
		if d.OK() {
			s.logger.DebugContext(ctx, "webhook delivered", attrs...)
			return
		}
		if d.Err != nil {
			attrs = append(attrs, slog.String("error", d.Err.Error()))
		}
		s.logger.WarnContext(ctx, "webhook delivery failed", append(attrs, slog.String("body", d.Body))...)
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(payload))
	if err != nil {
		d.Err = fmt.Errorf("failed to create request: %w", err)
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", agentcore.WebhookUserAgent)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if len(s.secret) > 0 {
		req.Header.Set(agentcore.WebhookSignatureHeader, Sign(s.secret, payload))
	}
	if token := bearerToken(cfg); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		d.Err = fmt.Errorf("failed to send notification: %w", err)
		return d
	}
	defer resp.Body.Close()

	d.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	d.Body = string(body)
	if !d.OK() {
		d.Err = fmt.Errorf("notification failed with status code: %d", resp.StatusCode)
	}
	return d
}

func bearerToken(cfg *agentcore.PushNotificationConfig) string {
	if auth := cfg.Authentication; auth != nil && auth.Credentials != "" {
		for _, scheme := range auth.Schemes {
			if strings.EqualFold(scheme, "bearer") {
				return auth.Credentials
			}
		}
	}
	return cfg.Token
}

// Sign returns the signature header value for payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret.
// The "sha256=" prefix is optional.
func VerifySignature(secret, payload []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}
