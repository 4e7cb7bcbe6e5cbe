// Copyright 2026 © The Pistis Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads configuration from an optional YAML file with a
// PISTIS_ environment overlay on top.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/pistis/pkg/errors"
	"github.com/jllopis/pistis/pkg/resilience"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Session   SessionConfig   `koanf:"session"`
	Audit     AuditConfig     `koanf:"audit"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// SessionConfig carries the reliability defaults applied to new sessions.
// Durations are strings in time.Duration syntax.
type SessionConfig struct {
	Timeout       string      `koanf:"timeout"`
	MaxConcurrent int         `koanf:"max_concurrent"`
	DedupWindow   string      `koanf:"dedup_window"`
	DedupCapacity int         `koanf:"dedup_capacity"`
	HistorySize   int         `koanf:"history_size"`
	Features      []string    `koanf:"features"`
	Retry         RetryConfig `koanf:"retry"`
}

type RetryConfig struct {
	MaxAttempts int     `koanf:"max_attempts"`
	BaseDelay   string  `koanf:"base_delay"`
	MaxDelay    string  `koanf:"max_delay"`
	Multiplier  float64 `koanf:"multiplier"`
	Jitter      bool    `koanf:"jitter"`
}

type AuditConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Driver   string `koanf:"driver"` // memory, sqlite
	Path     string `koanf:"path"`
	Capacity int    `koanf:"capacity"`
}

// Load reads the optional YAML file at path, applies PISTIS_ environment
// overrides (PISTIS_SESSION_MAX_CONCURRENT -> session.max_concurrent) and
// unmarshals the result over built-in defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := resilience.DefaultRetryPolicy()
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("telemetry.enabled", false)
	k.Set("telemetry.exporter", "stdout")
	k.Set("telemetry.otlp_endpoint", "localhost:4317")
	k.Set("telemetry.otlp_insecure", true)

	k.Set("session.timeout", "10s")
	k.Set("session.max_concurrent", 8)
	k.Set("session.dedup_window", "5m")
	k.Set("session.dedup_capacity", 1024)
	k.Set("session.history_size", 128)
	k.Set("session.features", []string{"ack", "retry", "idempotency"})
	k.Set("session.retry.max_attempts", defaults.MaxAttempts)
	k.Set("session.retry.base_delay", defaults.BaseDelay.String())
	k.Set("session.retry.max_delay", defaults.MaxDelay.String())
	k.Set("session.retry.multiplier", defaults.Multiplier)
	k.Set("session.retry.jitter", defaults.Jitter)

	k.Set("audit.enabled", false)
	k.Set("audit.driver", "memory")
	k.Set("audit.path", "pistis-audit.db")
	k.Set("audit.capacity", 1024)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// Env var names flatten both the section separator and the
	// underscores inside key names (PISTIS_SESSION_MAX_CONCURRENT), so
	// they cannot be split back mechanically. Match them against the
	// known keys instead; unknown variables are ignored.
	known := make(map[string]string, len(k.Keys()))
	flatten := strings.NewReplacer(".", "", "_", "")
	for _, key := range k.Keys() {
		known[flatten.Replace(key)] = key
	}
	if err := k.Load(env.Provider("PISTIS_", ".", func(s string) string {
		return known[flatten.Replace(strings.ToLower(
			strings.TrimPrefix(s, "PISTIS_")))]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// TimeoutDuration resolves the per-attempt timeout.
func (c SessionConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration("session.timeout", c.Timeout)
}

// DedupWindowDuration resolves the deduplication window.
func (c SessionConfig) DedupWindowDuration() (time.Duration, error) {
	return parseDuration("session.dedup_window", c.DedupWindow)
}

// RetryPolicy materializes the configured retry policy and validates it.
func (c RetryConfig) RetryPolicy() (resilience.RetryPolicy, error) {
	base, err := parseDuration("session.retry.base_delay", c.BaseDelay)
	if err != nil {
		return resilience.RetryPolicy{}, err
	}
	max, err := parseDuration("session.retry.max_delay", c.MaxDelay)
	if err != nil {
		return resilience.RetryPolicy{}, err
	}
	policy := resilience.DefaultRetryPolicy().
		WithMaxAttempts(c.MaxAttempts).
		WithBaseDelay(base).
		WithMaxDelay(max).
		WithMultiplier(c.Multiplier).
		WithJitter(c.Jitter)
	if err := policy.Validate(); err != nil {
		return resilience.RetryPolicy{}, err
	}
	return policy, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.New(errors.KindValidation,
			fmt.Sprintf("%s: invalid duration %q", key, value), err)
	}
	return d, nil
}
