// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides layered configuration for SentinelDesk using
// Koanf v2. Sources are merged in priority order (highest wins):
//
//  1. Environment variables (SERVER_PORT, DETECTION_AUTH_FAIL_THRESHOLD, ...)
//  2. Config file (config.yaml)
//  3. Built-in defaults
package config

import (
	"time"
)

// Config is the root configuration for the SentinelDesk server.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Audit     AuditConfig     `koanf:"audit"`
	Detection DetectionConfig `koanf:"detection"`
	Notify    NotifyConfig    `koanf:"notify"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path is the DuckDB database file. ":memory:" runs fully in-memory.
	Path string `koanf:"path"`

	// MaxOpenConns limits concurrent connections to the embedded engine.
	MaxOpenConns int `koanf:"max_open_conns"`
}

// AuthConfig holds identity settings. Token signatures are verified by the
// upstream OIDC gateway; this layer only extracts the claims it forwards.
type AuthConfig struct {
	// Mode selects the verifier: "gateway" (trust upstream-verified bearer
	// tokens), "basic" (local bcrypt accounts), or "none" (development).
	Mode string `koanf:"mode" validate:"oneof=gateway basic none"`

	// RolesClaim is the token claim carrying role names.
	RolesClaim string `koanf:"roles_claim"`

	// GroupRoles maps IdP group IDs to role names, for tenants that issue
	// group claims instead of role claims.
	GroupRoles map[string]string `koanf:"group_roles"`

	// DefaultRoles is assigned when a token carries no recognized roles.
	DefaultRoles []string `koanf:"default_roles"`

	// AdminUsername/AdminPasswordHash configure the basic-auth account.
	// The hash is bcrypt; plain passwords are never stored.
	AdminUsername     string `koanf:"admin_username"`
	AdminPasswordHash string `koanf:"admin_password_hash"`
}

// RateLimitConfig holds per-IP request limiting settings.
type RateLimitConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Requests int           `koanf:"requests" validate:"min=1"`
	Window   time.Duration `koanf:"window"`
}

// AuditConfig holds audit recorder settings.
type AuditConfig struct {
	// RetentionDays is how long audit events are kept before cleanup.
	RetentionDays int `koanf:"retention_days" validate:"min=1"`

	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// DetectionConfig holds thresholds for the detection rules. Every numeric
// threshold the rules use lives here; nothing is hardcoded in the detectors.
type DetectionConfig struct {
	Enabled bool `koanf:"enabled"`

	// AUTH_FAIL_BURST: failures per source within the window.
	AuthFailThreshold int           `koanf:"auth_fail_threshold" validate:"min=1"`
	AuthFailWindow    time.Duration `koanf:"auth_fail_window"`

	// REPEATED_AUTHZ_DENIED: denials per subject within the window.
	DeniedThreshold int           `koanf:"denied_threshold" validate:"min=1"`
	DeniedWindow    time.Duration `koanf:"denied_window"`

	// PRIVILEGE_ESCALATION_ATTEMPT: admin-target denials per subject.
	EscalationThreshold int `koanf:"escalation_threshold" validate:"min=1"`

	// IMPOSSIBLE_TRAVEL: distinct source IPs per subject within the window.
	TravelWindow time.Duration `koanf:"travel_window"`

	// ADMIN_OFF_HOURS: [start, end) hour range in UTC considered normal.
	BusinessHoursStart int `koanf:"business_hours_start" validate:"min=0,max=23"`
	BusinessHoursEnd   int `koanf:"business_hours_end" validate:"min=1,max=24"`

	// SweepInterval is the cadence of the background re-evaluation pass.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// SweepWindow bounds how far back the periodic sweep looks.
	SweepWindow time.Duration `koanf:"sweep_window"`
}

// NotifyConfig holds alert webhook settings.
type NotifyConfig struct {
	WebhookEnabled bool              `koanf:"webhook_enabled"`
	WebhookURL     string            `koanf:"webhook_url"`
	WebhookHeaders map[string]string `koanf:"webhook_headers"`

	// RatePerSecond caps outbound webhook deliveries.
	RatePerSecond float64 `koanf:"rate_per_second"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8480,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Path:         "/data/sentineldesk.duckdb",
			MaxOpenConns: 4,
		},
		Auth: AuthConfig{
			Mode:         "gateway",
			RolesClaim:   "roles",
			GroupRoles:   map[string]string{},
			DefaultRoles: []string{"viewer"},
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 100,
			Window:   1 * time.Minute,
		},
		Audit: AuditConfig{
			RetentionDays:   90,
			CleanupInterval: 24 * time.Hour,
		},
		Detection: DetectionConfig{
			Enabled:             true,
			AuthFailThreshold:   10,
			AuthFailWindow:      5 * time.Minute,
			DeniedThreshold:     5,
			DeniedWindow:        10 * time.Minute,
			EscalationThreshold: 3,
			TravelWindow:        5 * time.Minute,
			BusinessHoursStart:  9,
			BusinessHoursEnd:    18,
			SweepInterval:       1 * time.Minute,
			SweepWindow:         15 * time.Minute,
		},
		Notify: NotifyConfig{
			WebhookEnabled: false,
			WebhookHeaders: map[string]string{},
			RatePerSecond:  2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
