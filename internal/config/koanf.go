// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file search order. The first file
// found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/sentineldesk/config.yaml",
	"/etc/sentineldesk/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// SERVER_PORT -> server.port, DETECTION_AUTH_FAIL_THRESHOLD ->
	// detection.auth_fail_threshold
	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// envPrefixes maps known top-level sections so unrelated environment
// variables (PATH, HOME, ...) are not pulled into the tree.
var envPrefixes = []string{
	"SERVER_", "DATABASE_", "AUTH_", "RATE_LIMIT_",
	"AUDIT_", "DETECTION_", "NOTIFY_", "LOGGING_",
}

// envTransform maps an environment variable name to a koanf path.
// RATE_LIMIT_REQUESTS -> rate_limit.requests; everything else splits on the
// first underscore after the section name.
func envTransform(name string) string {
	for _, prefix := range envPrefixes {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		section := strings.ToLower(strings.TrimSuffix(prefix, "_"))
		rest := strings.ToLower(strings.TrimPrefix(name, prefix))
		if rest == "" {
			return ""
		}
		return section + "." + rest
	}
	return ""
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
