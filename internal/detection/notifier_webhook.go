// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package detection

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/sentineldesk/sentineldesk/internal/alerts"
	"github.com/sentineldesk/sentineldesk/internal/logging"
)

// WebhookNotifier posts raised alerts to an external endpoint. Delivery is
// rate limited and guarded by a circuit breaker so a dead endpoint cannot
// pile up goroutines or hammer a struggling receiver.
type WebhookNotifier struct {
	mu         sync.RWMutex
	webhookURL string
	headers    map[string]string
	enabled    bool

	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
}

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	WebhookURL string            `json:"webhook_url"`
	Headers    map[string]string `json:"headers,omitempty"`
	Enabled    bool              `json:"enabled"`

	// RatePerSecond bounds delivery rate; 0 means 2/s.
	RatePerSecond float64 `json:"rate_per_second"`

	// TimeoutSeconds bounds a single delivery; 0 means 10s.
	TimeoutSeconds int `json:"timeout_seconds"`
}

// WebhookPayload is the JSON body posted to the endpoint.
type WebhookPayload struct {
	Alert     *alerts.Alert `json:"alert"`
	EventType string        `json:"event_type"`
	Timestamp time.Time     `json:"timestamp"`
	Source    string        `json:"source"`
}

// NewWebhookNotifier creates the notifier.
func NewWebhookNotifier(config WebhookConfig) *WebhookNotifier {
	perSecond := config.RatePerSecond
	if perSecond <= 0 {
		perSecond = 2
	}
	timeout := time.Duration(config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	headers := make(map[string]string, len(config.Headers))
	for k, v := range config.Headers {
		headers[k] = v
	}

	settings := gobreaker.Settings{
		Name:        "alert-webhook",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("webhook circuit breaker state change")
		},
	}

	return &WebhookNotifier{
		webhookURL: config.WebhookURL,
		headers:    headers,
		enabled:    config.Enabled,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		breaker:    gobreaker.NewCircuitBreaker[any](settings),
	}
}

// Name returns the notifier name.
func (n *WebhookNotifier) Name() string { return "webhook" }

// Enabled reports whether the notifier should receive alerts.
func (n *WebhookNotifier) Enabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled && n.webhookURL != ""
}

// SetEnabled toggles the notifier.
func (n *WebhookNotifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// Send delivers one alert, honoring the rate limit and circuit breaker.
func (n *WebhookNotifier) Send(ctx context.Context, alert *alerts.Alert) error {
	n.mu.RLock()
	url := n.webhookURL
	enabled := n.enabled
	headers := make(map[string]string, len(n.headers))
	for k, v := range n.headers {
		headers[k] = v
	}
	n.mu.RUnlock()

	if !enabled || url == "" {
		return nil
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := n.breaker.Execute(func() (any, error) {
		return nil, n.post(ctx, url, headers, alert)
	})
	return err
}

func (n *WebhookNotifier) post(ctx context.Context, url string, headers map[string]string, alert *alerts.Alert) error {
	payload := WebhookPayload{
		Alert:     alert,
		EventType: "detection_alert",
		Timestamp: time.Now().UTC(),
		Source:    "sentineldesk",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
