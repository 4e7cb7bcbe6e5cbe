// Copyright 2026 © The Pistis Authors
// SPDX-License-Identifier: Apache-2.0

package mcptransport

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/pistis/pkg/core"
)

// Acknowledge wraps an mcp-go tool handler so its results carry the
// reliability acknowledgment block. Requests without an envelope pass
// through untouched, which keeps the handler usable by ordinary clients.
func Acknowledge(handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		env := envelopeFrom(request)
		res, err := handler(ctx, request)
		if env == nil {
			return res, err
		}

		if err != nil {
			res = mcp.NewToolResultError(err.Error())
			err = nil
		}
		if res == nil {
			res = &mcp.CallToolResult{}
		}

		if res.Meta == nil {
			res.Meta = &mcp.Meta{}
		}
		if res.Meta.AdditionalFields == nil {
			res.Meta.AdditionalFields = make(map[string]any)
		}
		res.Meta.AdditionalFields[core.MetaKey] = map[string]any{
			"ack":       !res.IsError,
			"processed": !res.IsError,
			"requestId": env.RequestID,
		}
		return res, nil
	}
}

// envelopeFrom extracts the reliability envelope from the request _meta,
// tolerating absent or malformed blocks.
func envelopeFrom(request mcp.CallToolRequest) *core.Envelope {
	if request.Params.Meta == nil {
		return nil
	}
	block, ok := request.Params.Meta.AdditionalFields[core.MetaKey].(map[string]any)
	if !ok {
		return nil
	}
	env := &core.Envelope{}
	if v, ok := block["protocolVersion"].(string); ok {
		env.ProtocolVersion = v
	}
	if v, ok := block["requestId"].(string); ok {
		env.RequestID = v
	}
	if v, ok := block["idempotencyKey"].(string); ok {
		env.IdempotencyKey = v
	}
	if v, ok := block["expectAck"].(bool); ok {
		env.ExpectAck = v
	}
	switch v := block["attempt"].(type) {
	case int:
		env.Attempt = v
	case float64:
		env.Attempt = int(v)
	}
	return env
}
