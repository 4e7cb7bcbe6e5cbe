// Copyright 2026 © The Pistis Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/jllopis/pistis/pkg/core"
	"github.com/jllopis/pistis/pkg/mcptransport"
	"github.com/jllopis/pistis/pkg/session"
	"github.com/jllopis/pistis/pkg/telemetry"
)

var (
	stdioServer    string
	httpServer     string
	idempotencyKey string
	callTimeout    time.Duration
	enableOTel     bool
)

var callCmd = &cobra.Command{
	Use:   "call TOOL [JSON_ARGS]",
	Short: "Call a tool on an MCP server through the reliability wrapper",
	Example: `  pistis call echo '{"text":"hi"}' --stdio "mcp-server --flag"
  pistis call create_ticket '{"title":"x"}' --url http://localhost:8080/mcp --key ticket-42`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, opts, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Telemetry.Enabled || enableOTel {
			shutdown, err := telemetry.InitWithConfig("pistis", version, telemetry.Config{
				Exporter:     cfg.Telemetry.Exporter,
				OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
				OTLPInsecure: cfg.Telemetry.OTLPInsecure,
			})
			if err != nil {
				return err
			}
			defer shutdown(ctx)

			metrics, err := telemetry.NewCallMetrics()
			if err != nil {
				return err
			}
			opts = append(opts, session.WithMetrics(metrics))
		}

		transport, err := openTransport()
		if err != nil {
			return err
		}

		s := session.New(transport, opts...)
		defer s.Close()

		if err := s.Initialize(ctx); err != nil {
			return err
		}
		if !s.Enhanced() {
			fmt.Fprintln(cmd.ErrOrStderr(), "peer does not speak the reliability protocol, passthrough mode")
		}

		req := core.CallRequest{
			Tool:           args[0],
			IdempotencyKey: idempotencyKey,
			Timeout:        callTimeout,
		}
		if len(args) == 2 {
			req.Args = json.RawMessage(args[1])
		}

		res, err := s.Call(ctx, req)
		if res != nil {
			printResult(res)
		}
		return err
	},
}

func openTransport() (core.Transport, error) {
	switch {
	case stdioServer != "" && httpServer != "":
		return nil, fmt.Errorf("--stdio and --url are mutually exclusive")
	case stdioServer != "":
		parts, err := splitCommand(stdioServer)
		if err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			return nil, fmt.Errorf("--stdio command line is empty")
		}
		return mcptransport.NewStdio(parts[0], nil, parts[1:],
			mcptransport.WithClientInfo("pistis", version))
	case httpServer != "":
		return mcptransport.NewStreamableHTTP(httpServer,
			mcptransport.WithClientInfo("pistis", version))
	default:
		return nil, fmt.Errorf("one of --stdio or --url is required")
	}
}

// splitCommand splits a command line on spaces, honoring single and
// double quotes so server paths and arguments may contain them.
func splitCommand(line string) ([]string, error) {
	var parts []string
	var cur strings.Builder
	var quote rune
	inToken := false
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case unicode.IsSpace(r):
			if inToken {
				parts = append(parts, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unbalanced quote in --stdio command line")
	}
	if inToken {
		parts = append(parts, cur.String())
	}
	return parts, nil
}

func init() {
	callCmd.Flags().StringVar(&stdioServer, "stdio", "", "command line of an MCP server to spawn over stdio")
	callCmd.Flags().StringVar(&httpServer, "url", "", "base URL of a streamable HTTP MCP server")
	callCmd.Flags().StringVar(&idempotencyKey, "key", "", "idempotency key for deduplication")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 0, "per-attempt timeout override")
	callCmd.Flags().BoolVar(&enableOTel, "otel", false, "force telemetry on regardless of config")
}
