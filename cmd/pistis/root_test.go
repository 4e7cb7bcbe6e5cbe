// Copyright 2026 © The Pistis Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"
	"testing"

	"github.com/jllopis/pistis/pkg/audit"
	"github.com/jllopis/pistis/pkg/config"
)

func TestOpenTransportFlagValidation(t *testing.T) {
	orig := [2]string{stdioServer, httpServer}
	defer func() { stdioServer, httpServer = orig[0], orig[1] }()

	stdioServer, httpServer = "", ""
	if _, err := openTransport(); err == nil {
		t.Errorf("expected error when no transport flag is given")
	}

	stdioServer, httpServer = "server --flag", "http://localhost:1"
	if _, err := openTransport(); err == nil {
		t.Errorf("expected error when both transport flags are given")
	}
}

func TestOpenAuditStoreDrivers(t *testing.T) {
	store, closeStore, err := openAuditStore(config.AuditConfig{Driver: "memory", Capacity: 8})
	if err != nil {
		t.Fatalf("memory driver: %v", err)
	}
	if _, ok := store.(*audit.MemoryStore); !ok {
		t.Errorf("expected memory store, got %T", store)
	}
	if err := closeStore(); err != nil {
		t.Errorf("memory closer: %v", err)
	}

	path := filepath.Join(t.TempDir(), "audit.db")
	store, closeStore, err = openAuditStore(config.AuditConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("sqlite driver: %v", err)
	}
	if _, ok := store.(*audit.SQLiteStore); !ok {
		t.Errorf("expected sqlite store, got %T", store)
	}
	if err := closeStore(); err != nil {
		t.Errorf("sqlite closer: %v", err)
	}

	if _, _, err := openAuditStore(config.AuditConfig{Driver: "carrier-pigeon"}); err == nil {
		t.Errorf("expected error for unknown driver")
	}
}

func TestSetupDerivesSessionOptions(t *testing.T) {
	t.Setenv("PISTIS_SESSION_MAX_CONCURRENT", "2")
	cfg, opts, cleanup, err := setup()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer cleanup()
	if cfg.Session.MaxConcurrent != 2 {
		t.Errorf("env override missed: %d", cfg.Session.MaxConcurrent)
	}
	if len(opts) == 0 {
		t.Errorf("expected derived session options")
	}
}

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{`server --flag`, []string{"server", "--flag"}},
		{`"/opt/my server/bin" --dir '/tmp/a b'`, []string{"/opt/my server/bin", "--dir", "/tmp/a b"}},
		{`--name="a b"`, []string{"--name=a b"}},
		{`  spaced   out  `, []string{"spaced", "out"}},
	}
	for _, tc := range cases {
		got, err := splitCommand(tc.in)
		if err != nil {
			t.Errorf("splitCommand(%q): %v", tc.in, err)
			continue
		}
		if len(got) != len(tc.want) {
			t.Errorf("splitCommand(%q) = %q, want %q", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("splitCommand(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}

	if _, err := splitCommand(`server 'oops`); err == nil {
		t.Errorf("expected error for unbalanced quote")
	}
}
