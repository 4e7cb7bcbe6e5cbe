// Copyright 2026 © The Pistis Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jllopis/pistis/pkg/core"
	"github.com/jllopis/pistis/pkg/errors"
	"github.com/jllopis/pistis/pkg/session"
	"github.com/jllopis/pistis/pkg/toolfn"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Exercise the reliability pipeline against an in-process peer",
	Long: "Runs a local tool registry behind the loopback transport and walks\n" +
		"through negotiation, retry, deduplication and rejection handling.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, opts, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()
		ctx := cmd.Context()

		registry := toolfn.NewRegistry()
		registry.Register("greet", "returns a greeting", func(_ context.Context, args json.RawMessage) (any, error) {
			var in struct {
				Name string `json:"name"`
			}
			_ = json.Unmarshal(args, &in)
			if in.Name == "" {
				in.Name = "world"
			}
			return map[string]string{"greeting": "hello " + in.Name}, nil
		})

		var flaky atomic.Int32
		registry.Register("flaky", "fails twice, then succeeds", func(_ context.Context, _ json.RawMessage) (any, error) {
			if flaky.Add(1) < 3 {
				return nil, errors.New(errors.KindNetwork, "transient hiccup", nil)
			}
			return map[string]bool{"recovered": true}, nil
		})

		registry.Register("reject", "always refuses", func(_ context.Context, _ json.RawMessage) (any, error) {
			return nil, fmt.Errorf("not on my watch")
		})

		s := session.New(toolfn.NewLoopback(registry), opts...)
		defer s.Close()
		if err := s.Initialize(ctx); err != nil {
			return err
		}
		fmt.Printf("negotiated features: %s\n\n", color.CyanString("%v", s.Capabilities().List()))

		step := func(title string, req core.CallRequest) {
			fmt.Println(color.New(color.Bold).Sprint(title))
			res, err := s.Call(ctx, req)
			if res != nil {
				printResult(res)
			}
			if err != nil {
				fmt.Println(color.RedString("error: %v", err))
			}
			fmt.Println()
		}

		step("plain call", core.CallRequest{Tool: "greet", Args: json.RawMessage(`{"name":"pistis"}`)})
		step("transient failures retried", core.CallRequest{Tool: "flaky"})
		step("idempotent call", core.CallRequest{Tool: "greet", IdempotencyKey: "greet-1"})
		step("same key again (served from cache)", core.CallRequest{Tool: "greet", IdempotencyKey: "greet-1"})
		step("peer rejection", core.CallRequest{Tool: "reject", Timeout: 2 * time.Second})

		fmt.Println(color.New(color.Bold).Sprint("recent call history"))
		for _, rec := range s.History() {
			fmt.Printf("  %-12s %-10s attempts=%d %s\n", rec.Tool, rec.State, rec.Attempts, rec.ID)
		}
		return nil
	},
}
