// Copyright 2026 © The Pistis Authors
// SPDX-License-Identifier: Apache-2.0

// Command pistis calls tools on MCP servers through the reliability
// session wrapper.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
