// Copyright 2026 © The Pistis Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
	if cfg.Session.MaxConcurrent != 8 || cfg.Session.DedupCapacity != 1024 {
		t.Errorf("unexpected session defaults: %+v", cfg.Session)
	}
	if cfg.Session.Retry.MaxAttempts != 3 {
		t.Errorf("unexpected retry default: %+v", cfg.Session.Retry)
	}

	timeout, err := cfg.Session.TimeoutDuration()
	if err != nil {
		t.Fatalf("TimeoutDuration: %v", err)
	}
	if timeout != 10*time.Second {
		t.Errorf("expected 10s default timeout, got %s", timeout)
	}
}

func TestLoadFile(t *testing.T) {
	content := `
log:
  level: debug
session:
  timeout: 2s
  max_concurrent: 3
  retry:
    max_attempts: 5
    base_delay: 100ms
    max_delay: 1s
    jitter: false
audit:
  enabled: true
  driver: sqlite
  path: /tmp/audit.db
`
	path := filepath.Join(t.TempDir(), "pistis.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %s", cfg.Log.Level)
	}
	if cfg.Session.MaxConcurrent != 3 {
		t.Errorf("session.max_concurrent = %d", cfg.Session.MaxConcurrent)
	}
	if !cfg.Audit.Enabled || cfg.Audit.Driver != "sqlite" {
		t.Errorf("audit config = %+v", cfg.Audit)
	}

	policy, err := cfg.Session.Retry.RetryPolicy()
	if err != nil {
		t.Fatalf("RetryPolicy: %v", err)
	}
	if policy.MaxAttempts != 5 || policy.BaseDelay != 100*time.Millisecond || policy.Jitter {
		t.Errorf("policy = %+v", policy)
	}
	// Unset keys keep their defaults.
	if cfg.Session.DedupCapacity != 1024 {
		t.Errorf("dedup capacity default lost: %d", cfg.Session.DedupCapacity)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PISTIS_LOG_LEVEL", "warn")
	t.Setenv("PISTIS_SESSION_TIMEOUT", "30s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("env override missed: log.level = %s", cfg.Log.Level)
	}
	timeout, err := cfg.Session.TimeoutDuration()
	if err != nil {
		t.Fatalf("TimeoutDuration: %v", err)
	}
	if timeout != 30*time.Second {
		t.Errorf("env override missed: timeout = %s", timeout)
	}
}

func TestLoadEnvOverrideMultiWordKeys(t *testing.T) {
	t.Setenv("PISTIS_SESSION_MAX_CONCURRENT", "2")
	t.Setenv("PISTIS_SESSION_DEDUP_CAPACITY", "7")
	t.Setenv("PISTIS_SESSION_RETRY_MAX_ATTEMPTS", "9")
	t.Setenv("PISTIS_TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("PISTIS_NO_SUCH_KEY", "ignored")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Session.MaxConcurrent != 2 {
		t.Errorf("env override missed: max_concurrent = %d", cfg.Session.MaxConcurrent)
	}
	if cfg.Session.DedupCapacity != 7 {
		t.Errorf("env override missed: dedup_capacity = %d", cfg.Session.DedupCapacity)
	}
	if cfg.Session.Retry.MaxAttempts != 9 {
		t.Errorf("env override missed: retry.max_attempts = %d", cfg.Session.Retry.MaxAttempts)
	}
	if cfg.Telemetry.OTLPEndpoint != "collector:4317" {
		t.Errorf("env override missed: otlp_endpoint = %s", cfg.Telemetry.OTLPEndpoint)
	}
}

func TestInvalidDuration(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg.Session.Timeout = "not-a-duration"
	if _, err := cfg.Session.TimeoutDuration(); err == nil {
		t.Errorf("expected error for malformed duration")
	}
}

func TestInvalidRetryPolicy(t *testing.T) {
	rc := RetryConfig{MaxAttempts: 0, BaseDelay: "1s", MaxDelay: "2s", Multiplier: 2}
	if _, err := rc.RetryPolicy(); err == nil {
		t.Errorf("expected validation error for zero attempts")
	}
}

func TestWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pistis.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	w, err := NewWatcher(path, WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	reloaded := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	w.Start(t.Context())
	defer w.Stop()

	// mtime granularity can be coarse; make sure the rewrite is newer.
	time.Sleep(20 * time.Millisecond)
	newMod := time.Now().Add(time.Second)
	if err := os.WriteFile(path, []byte("log:\n  level: error\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := os.Chtimes(path, newMod, newMod); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Log.Level != "error" {
			t.Errorf("reloaded level = %s", cfg.Log.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher never reloaded")
	}
}
