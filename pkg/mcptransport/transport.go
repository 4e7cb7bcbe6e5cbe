// Copyright 2026 © The Pistis Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcptransport adapts an MCP client to the reliability wrapper.
// Capability negotiation rides in the experimental block of the MCP
// initialize exchange, and the per-attempt envelope travels in the
// request _meta field, so servers that ignore both still interoperate.
package mcptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/pistis/pkg/core"
	"github.com/jllopis/pistis/pkg/errors"
)

// rpcClient is the slice of the mcp-go client the transport needs.
type rpcClient interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Transport implements core.Transport over an MCP connection.
type Transport struct {
	rpc             rpcClient
	clientName      string
	clientVersion   string
	protocolVersion string
}

// TransportOption customizes the MCP transport.
type TransportOption func(*Transport)

// WithClientInfo sets the name and version announced during initialize.
func WithClientInfo(name, version string) TransportOption {
	return func(t *Transport) {
		if name != "" {
			t.clientName = name
		}
		if version != "" {
			t.clientVersion = version
		}
	}
}

// WithProtocolVersion overrides the MCP protocol version.
func WithProtocolVersion(version string) TransportOption {
	return func(t *Transport) {
		if version != "" {
			t.protocolVersion = version
		}
	}
}

// NewTransport wraps an already-started MCP client.
func NewTransport(rpc rpcClient, opts ...TransportOption) *Transport {
	t := &Transport{
		rpc:             rpc,
		clientName:      "pistis",
		clientVersion:   "0.1.0",
		protocolVersion: mcp.LATEST_PROTOCOL_VERSION,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewStdio spawns the given command as an MCP server over stdio.
func NewStdio(command string, env []string, args []string, opts ...TransportOption) (*Transport, error) {
	c, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("spawn stdio mcp server: %w", err)
	}
	return NewTransport(c, opts...), nil
}

// NewStreamableHTTP connects to an MCP server over streamable HTTP.
func NewStreamableHTTP(baseURL string, opts ...TransportOption) (*Transport, error) {
	c, err := client.NewStreamableHttpClient(baseURL)
	if err != nil {
		return nil, fmt.Errorf("create streamable http client: %w", err)
	}
	if err := c.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start streamable http client: %w", err)
	}
	return NewTransport(c, opts...), nil
}

// Negotiate runs the MCP initialize exchange with the reliability offer in
// the experimental capability block. A peer that omits the block in its
// answer is reported as advertising nothing.
func (t *Transport) Negotiate(ctx context.Context, offered core.Capabilities) (core.Capabilities, error) {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = t.protocolVersion
	req.Params.ClientInfo = mcp.Implementation{Name: t.clientName, Version: t.clientVersion}
	req.Params.Capabilities.Experimental = map[string]any{
		core.MetaKey: capabilityFields(offered),
	}

	res, err := t.rpc.Initialize(ctx, req)
	if err != nil {
		return core.Capabilities{}, errors.Classify(err).WithContext("phase", "initialize")
	}
	return parseCapabilityFields(res.Capabilities.Experimental), nil
}

// Send issues one tool call. When the request carries an envelope it is
// placed under the reliability key of the _meta field; the peer's
// acknowledgment block, if any, is read back from the result _meta.
func (t *Transport) Send(ctx context.Context, req *core.WireRequest) (*core.WireResponse, error) {
	call := mcp.CallToolRequest{}
	call.Params.Name = req.Tool

	if len(req.Args) > 0 {
		var args map[string]any
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, errors.New(errors.KindValidation, "tool arguments must be a JSON object", err)
		}
		call.Params.Arguments = args
	}
	if req.Envelope != nil {
		call.Params.Meta = &mcp.Meta{AdditionalFields: map[string]any{
			core.MetaKey: req.Envelope.MetaFields(),
		}}
	}

	res, err := t.rpc.CallTool(ctx, call)
	if err != nil {
		return nil, errors.Classify(err)
	}
	if res == nil {
		return nil, errors.New(errors.KindSequence, "peer returned an empty result", nil)
	}

	block := core.ParseAckBlock(metaFields(res.Meta))
	if res.IsError && block.Ack == nil {
		// No reliability block to carry the rejection, so surface the
		// tool-level error directly.
		return nil, errors.New(errors.KindRemoteRejected,
			fmt.Sprintf("tool %q failed: %s", req.Tool, textContent(res.Content)), nil)
	}

	payload, err := resultPayload(res)
	if err != nil {
		return nil, err
	}

	processed := !res.IsError
	if block.Ack != nil {
		processed = block.Processed
	}
	return &core.WireResponse{
		Payload:   payload,
		Ack:       block.Ack,
		Processed: processed,
		RequestID: block.RequestID,
	}, nil
}

// Close tears down the underlying MCP connection.
func (t *Transport) Close() error {
	return t.rpc.Close()
}

func capabilityFields(caps core.Capabilities) map[string]any {
	features := make([]any, 0, len(caps.Features))
	for _, f := range caps.List() {
		features = append(features, string(f))
	}
	return map[string]any{
		"protocolVersion": caps.ProtocolVersion,
		"features":        features,
	}
}

func parseCapabilityFields(experimental map[string]any) core.Capabilities {
	if experimental == nil {
		return core.Capabilities{}
	}
	block, ok := experimental[core.MetaKey].(map[string]any)
	if !ok {
		return core.Capabilities{}
	}
	names := make([]string, 0, 4)
	switch list := block["features"].(type) {
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
	case []string:
		names = list
	}
	caps := core.NewCapabilities(core.ParseFeatures(names)...)
	if v, ok := block["protocolVersion"].(string); ok {
		caps.ProtocolVersion = v
	}
	return caps
}

func metaFields(m *mcp.Meta) map[string]any {
	if m == nil {
		return nil
	}
	return m.AdditionalFields
}

// resultPayload renders the MCP result into the JSON payload the session
// hands back to callers: structured content when the server provides it,
// otherwise the concatenated text content.
func resultPayload(res *mcp.CallToolResult) (json.RawMessage, error) {
	if res.StructuredContent != nil {
		payload, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return nil, errors.New(errors.KindSequence, "peer returned unencodable structured content", err)
		}
		return payload, nil
	}
	if text := textContent(res.Content); text != "" {
		payload, err := json.Marshal(text)
		if err != nil {
			return nil, errors.New(errors.KindSequence, "peer returned unencodable text content", err)
		}
		return payload, nil
	}
	return nil, nil
}

func textContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
