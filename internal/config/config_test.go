// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestDefaultDetectionThresholds(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Detection.AuthFailThreshold != 10 {
		t.Errorf("AuthFailThreshold = %d, want 10", cfg.Detection.AuthFailThreshold)
	}
	if cfg.Detection.AuthFailWindow != 5*time.Minute {
		t.Errorf("AuthFailWindow = %v, want 5m", cfg.Detection.AuthFailWindow)
	}
	if cfg.Detection.DeniedThreshold != 5 {
		t.Errorf("DeniedThreshold = %d, want 5", cfg.Detection.DeniedThreshold)
	}
	if cfg.Detection.BusinessHoursStart >= cfg.Detection.BusinessHoursEnd {
		t.Error("default business hours range is inverted")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "Port",
		},
		{
			name: "inverted business hours",
			mutate: func(c *Config) {
				c.Detection.BusinessHoursStart = 20
				c.Detection.BusinessHoursEnd = 8
			},
			wantErr: "business_hours",
		},
		{
			name:    "unknown auth mode",
			mutate:  func(c *Config) { c.Auth.Mode = "ldap" },
			wantErr: "Mode",
		},
		{
			name: "basic auth without credentials",
			mutate: func(c *Config) {
				c.Auth.Mode = "basic"
			},
			wantErr: "admin_username",
		},
		{
			name: "webhook enabled without url",
			mutate: func(c *Config) {
				c.Notify.WebhookEnabled = true
				c.Notify.WebhookURL = ""
			},
			wantErr: "webhook_url",
		},
		{
			name:    "zero denied threshold",
			mutate:  func(c *Config) { c.Detection.DeniedThreshold = 0 },
			wantErr: "DeniedThreshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SERVER_PORT", "server.port"},
		{"DETECTION_AUTH_FAIL_THRESHOLD", "detection.auth_fail_threshold"},
		{"RATE_LIMIT_REQUESTS", "rate_limit.requests"},
		{"AUTH_ROLES_CLAIM", "auth.roles_claim"},
		{"PATH", ""},
		{"HOME", ""},
		{"SERVER_", ""},
	}

	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
