// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/go-a2a/agentcore"
	"github.com/go-a2a/agentcore/internal/observability"
)

func TestPushNotificationConfigStore(t *testing.T) {
	stores := map[string]func(t *testing.T) PushNotificationConfigStore{
		"Database": func(t *testing.T) PushNotificationConfigStore {
			s, _ := newTestStore(t)
			return s
		},
		"InMemory": func(*testing.T) PushNotificationConfigStore {
			return NewInMemoryPushNotificationConfigStore()
		},
	}
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			cfg := &agentcore.PushNotificationConfig{
				URL:            "https://hooks.example.com/a",
				Token:          "tok",
				Headers:        map[string]string{"X-Tenant": "acme"},
				Authentication: &agentcore.AuthenticationInfo{Schemes: []string{"Bearer"}, Credentials: "cred"},
			}
			id, err := store.Add(ctx, "task-1", cfg)
			if err != nil {
				t.Fatalf("Add: %v", err)
			}
			if id == "" {
				t.Fatal("Add returned an empty id")
			}
			second, err := store.Add(ctx, "task-1", &agentcore.PushNotificationConfig{ID: "fixed", URL: "http://localhost:9/b"})
			if err != nil || second != "fixed" {
				t.Fatalf("Add with id = %q, %v", second, err)
			}

			got, err := store.Get(ctx, "task-1", id)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			want := cfg.Clone()
			want.ID = id
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Get mismatch (-want +got):\n%s", diff)
			}

			list, err := store.List(ctx, "task-1")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 2 {
				t.Fatalf("List returned %d configs, want 2", len(list))
			}
			if other, _ := store.List(ctx, "task-2"); len(other) != 0 {
				t.Errorf("List(task-2) = %v, want empty", other)
			}

			if err := store.Delete(ctx, "task-1", id); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := store.Get(ctx, "task-1", id); agentcore.KindOf(err) != agentcore.KindNotFound {
				t.Errorf("Get after Delete = %v, want not found", err)
			}
			if err := store.Delete(ctx, "task-1", id); agentcore.KindOf(err) != agentcore.KindNotFound {
				t.Errorf("second Delete = %v, want not found", err)
			}

			if err := store.DeleteAll(ctx, "task-1"); err != nil {
				t.Fatalf("DeleteAll: %v", err)
			}
			if list, _ := store.List(ctx, "task-1"); len(list) != 0 {
				t.Errorf("List after DeleteAll = %v, want empty", list)
			}

			if _, err := store.Add(ctx, "task-1", &agentcore.PushNotificationConfig{URL: "ftp://x"}); agentcore.KindOf(err) != agentcore.KindValidation {
				t.Errorf("Add(ftp) = %v, want validation error", err)
			}
		})
	}
}

type capturedRequest struct {
	header http.Header
	body   []byte
}

func TestHTTPPushNotificationSender(t *testing.T) {
	ctx := context.Background()
	secret := "s3cret"

	var (
		mu       sync.Mutex
		received []capturedRequest
	)
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = append(received, capturedRequest{header: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "receiver exploded with a long explanation", http.StatusBadGateway)
	}))
	defer broken.Close()

	configs := NewInMemoryPushNotificationConfigStore()
	if _, err := configs.Add(ctx, "task-1", &agentcore.PushNotificationConfig{
		URL:     ok.URL,
		Token:   "tok",
		Headers: map[string]string{"X-Tenant": "acme"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := configs.Add(ctx, "task-1", &agentcore.PushNotificationConfig{URL: broken.URL}); err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	sender, err := NewHTTPPushNotificationSender(HTTPPushNotificationSenderConfig{
		Configs:         configs,
		Secret:          secret,
		MaxResponseBody: 16,
		Metrics:         observability.New(reg),
	})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	task := agentcore.NewTask("task-1", "ctx-1", now)
	if err := task.Apply(agentcore.EventCancel, now, ""); err != nil {
		t.Fatal(err)
	}

	deliveries, err := sender.SendNotification(ctx, task)
	if err != nil {
		t.Fatalf("SendNotification: %v", err)
	}
	if len(deliveries) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(deliveries))
	}
	var okCount int
	for _, d := range deliveries {
		switch d.URL {
		case ok.URL:
			if !d.OK() || d.StatusCode != http.StatusNoContent {
				t.Errorf("delivery to ok receiver = %+v", d)
			}
			okCount++
		case broken.URL:
			if d.OK() || d.StatusCode != http.StatusBadGateway {
				t.Errorf("delivery to broken receiver = %+v", d)
			}
			if len(d.Body) > 16 {
				t.Errorf("recorded body %q exceeds the bound", d.Body)
			}
		}
	}
	if okCount != 1 {
		t.Errorf("ok deliveries = %d, want 1", okCount)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("receiver got %d POSTs, want 1", len(received))
	}
	req := received[0]
	for header, want := range map[string]string{
		"Content-Type":  "application/json",
		"User-Agent":    "SystemPrompt-Webhook/1.0",
		"X-Tenant":      "acme",
		"Authorization": "Bearer tok",
	} {
		if got := req.header.Get(header); got != want {
			t.Errorf("header %s = %q, want %q", header, got, want)
		}
	}
	if !VerifySignature([]byte(secret), req.body, req.header.Get("X-Webhook-Signature")) {
		t.Errorf("signature %q does not verify", req.header.Get("X-Webhook-Signature"))
	}

	var payload Notification
	if err := json.Unmarshal(req.body, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.TaskID != "task-1" || payload.Status.State != agentcore.TaskStateCanceled || !payload.Final {
		t.Errorf("payload = %+v, want final canceled update for task-1", payload)
	}

	if n, err := testutil.GatherAndCount(reg, "agentcore_webhook_deliveries_total"); err != nil || n != 2 {
		t.Errorf("webhook delivery series = %d, %v; want one per outcome", n, err)
	}
}

func TestSignature(t *testing.T) {
	secret := []byte("k")
	payload := []byte(`{"a":1}`)
	sig := Sign(secret, payload)
	flipped := byte('0')
	if sig[len(sig)-1] == '0' {
		flipped = '1'
	}

	tests := map[string]struct {
		sig  string
		want bool
	}{
		"prefixed":     {sig: sig, want: true},
		"bare hex":     {sig: sig[len("sha256="):], want: true},
		"tampered":     {sig: sig[:len(sig)-1] + string(flipped), want: false},
		"not hex":      {sig: "sha256=zz", want: false},
		"empty header": {sig: "", want: false},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := VerifySignature(secret, payload, tt.sig); got != tt.want {
				t.Errorf("VerifySignature(%q) = %v, want %v", tt.sig, got, tt.want)
			}
		})
	}
}
