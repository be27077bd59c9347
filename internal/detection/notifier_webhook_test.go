// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package detection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/sentineldesk/sentineldesk/internal/alerts"
)

func testAlert() *alerts.Alert {
	return &alerts.Alert{
		ID:             1,
		CreatedAt:      time.Now().UTC(),
		RuleID:         RuleAuthFailBurst,
		Severity:       alerts.SeverityMedium,
		DedupKey:       "local:mallory|2026-03-14T10:30:00Z",
		TriggerEventID: 5,
		TriageStatus:   alerts.TriageNew,
	}
}

func TestWebhookNotifierDeliversPayload(t *testing.T) {
	var received atomic.Int64
	var gotPayload WebhookPayload
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(WebhookConfig{
		WebhookURL:    server.URL,
		Headers:       map[string]string{"Authorization": "Bearer hook-token"},
		Enabled:       true,
		RatePerSecond: 100,
	})

	if err := notifier.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if received.Load() != 1 {
		t.Fatalf("endpoint received %d requests, want 1", received.Load())
	}
	if gotAuth != "Bearer hook-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer hook-token")
	}
	if gotPayload.EventType != "detection_alert" || gotPayload.Source != "sentineldesk" {
		t.Errorf("payload envelope = %s/%s, want detection_alert/sentineldesk", gotPayload.EventType, gotPayload.Source)
	}
	if gotPayload.Alert == nil || gotPayload.Alert.RuleID != RuleAuthFailBurst {
		t.Errorf("payload alert = %+v, want rule %s", gotPayload.Alert, RuleAuthFailBurst)
	}
}

func TestWebhookNotifierDisabledSendsNothing(t *testing.T) {
	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(WebhookConfig{WebhookURL: server.URL, Enabled: false})
	if err := notifier.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if received.Load() != 0 {
		t.Fatalf("disabled notifier delivered %d requests, want 0", received.Load())
	}

	notifier.SetEnabled(true)
	if notifier.Enabled() != true {
		t.Error("Enabled() = false after SetEnabled(true)")
	}
}

func TestWebhookNotifierBreakerOpensOnFailures(t *testing.T) {
	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(WebhookConfig{
		WebhookURL:    server.URL,
		Enabled:       true,
		RatePerSecond: 1000,
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := notifier.Send(ctx, testAlert()); err == nil {
			t.Fatalf("Send() %d succeeded against a 500 endpoint", i+1)
		}
	}
	if received.Load() != 5 {
		t.Fatalf("endpoint received %d requests before trip, want 5", received.Load())
	}

	// Breaker is open now; the endpoint must not see further traffic.
	if err := notifier.Send(ctx, testAlert()); err == nil {
		t.Fatal("Send() succeeded with an open breaker")
	}
	if received.Load() != 5 {
		t.Fatalf("open breaker let %d requests through", received.Load()-5)
	}
}
