// Copyright 2026 © The Pistis Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jllopis/pistis/pkg/audit"
	"github.com/jllopis/pistis/pkg/config"
	"github.com/jllopis/pistis/pkg/core"
	"github.com/jllopis/pistis/pkg/session"
	"github.com/jllopis/pistis/pkg/telemetry"
)

var version = "0.1.0"

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "pistis",
	Short: "Reliable tool calls over MCP",
	Long: "Pistis wraps MCP tool calls with capability negotiation, retry,\n" +
		"idempotency-based deduplication and bounded concurrency.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println("pistis", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable output")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(demoCmd)
}

// setup loads configuration and prepares logging plus the session options
// derived from it. The returned cleanup releases whatever the options
// hold open and must be called when the command is done.
func setup() (*config.Config, []session.Option, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	opts := []session.Option{session.WithLogger(logger)}

	policy, err := cfg.Session.Retry.RetryPolicy()
	if err != nil {
		return nil, nil, nil, err
	}
	opts = append(opts, session.WithRetryPolicy(policy))

	if timeout, err := cfg.Session.TimeoutDuration(); err != nil {
		return nil, nil, nil, err
	} else if timeout > 0 {
		opts = append(opts, session.WithTimeout(timeout))
	}
	if window, err := cfg.Session.DedupWindowDuration(); err != nil {
		return nil, nil, nil, err
	} else if window > 0 {
		opts = append(opts, session.WithDedupWindow(window))
	}
	if cfg.Session.MaxConcurrent > 0 {
		opts = append(opts, session.WithMaxConcurrent(cfg.Session.MaxConcurrent))
	}
	if cfg.Session.DedupCapacity > 0 {
		opts = append(opts, session.WithDedupCapacity(cfg.Session.DedupCapacity))
	}
	if cfg.Session.HistorySize > 0 {
		opts = append(opts, session.WithHistorySize(cfg.Session.HistorySize))
	}
	if len(cfg.Session.Features) > 0 {
		opts = append(opts, session.WithFeatures(core.ParseFeatures(cfg.Session.Features)...))
	}

	cleanup := func() error { return nil }
	if cfg.Audit.Enabled {
		store, closeStore, err := openAuditStore(cfg.Audit)
		if err != nil {
			return nil, nil, nil, err
		}
		cleanup = closeStore
		opts = append(opts, session.WithAuditStore(store))
	}
	return cfg, opts, cleanup, nil
}

func openAuditStore(cfg config.AuditConfig) (audit.Store, func() error, error) {
	switch cfg.Driver {
	case "", "memory":
		return audit.NewMemoryStore(cfg.Capacity), func() error { return nil }, nil
	case "sqlite":
		store, db, err := audit.OpenSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}
}

func printResult(res *core.CallResult) {
	if jsonOutput {
		out, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(out))
		return
	}

	status := color.GreenString(string(res.Status))
	if res.Status != core.StatusCompleted {
		status = color.RedString(string(res.Status))
	}
	fmt.Printf("%s  request=%s attempts=%d", status, res.RequestID, res.Attempts)
	if res.Duplicate {
		fmt.Printf(" %s", color.YellowString("duplicate"))
	}
	fmt.Println()
	if len(res.Payload) > 0 {
		fmt.Println(string(res.Payload))
	}
	if res.Error != "" {
		fmt.Println(color.RedString(res.Error))
	}
}
