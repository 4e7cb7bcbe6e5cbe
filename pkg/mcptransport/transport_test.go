// Copyright 2026 © The Pistis Authors
// SPDX-License-Identifier: Apache-2.0

package mcptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/pistis/pkg/core"
	"github.com/jllopis/pistis/pkg/errors"
)

type fakeRPC struct {
	initResult *mcp.InitializeResult
	initErr    error
	callResult *mcp.CallToolResult
	callErr    error

	lastInit *mcp.InitializeRequest
	lastCall *mcp.CallToolRequest
	closed   bool
}

func (f *fakeRPC) Initialize(_ context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	f.lastInit = &request
	if f.initErr != nil {
		return nil, f.initErr
	}
	if f.initResult != nil {
		return f.initResult, nil
	}
	return &mcp.InitializeResult{}, nil
}

func (f *fakeRPC) CallTool(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.lastCall = &request
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.callResult, nil
}

func (f *fakeRPC) Close() error {
	f.closed = true
	return nil
}

func initResultWith(features ...string) *mcp.InitializeResult {
	list := make([]any, 0, len(features))
	for _, f := range features {
		list = append(list, f)
	}
	res := &mcp.InitializeResult{}
	res.Capabilities.Experimental = map[string]any{
		core.MetaKey: map[string]any{
			"protocolVersion": core.ProtocolVersion,
			"features":        list,
		},
	}
	return res
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func withAckBlock(res *mcp.CallToolResult, ack bool, requestID string) *mcp.CallToolResult {
	res.Meta = &mcp.Meta{AdditionalFields: map[string]any{
		core.MetaKey: map[string]any{
			"ack":       ack,
			"processed": ack,
			"requestId": requestID,
		},
	}}
	return res
}

func TestNegotiateSendsOfferAndParsesAnswer(t *testing.T) {
	rpc := &fakeRPC{initResult: initResultWith("ack", "retry")}
	tr := NewTransport(rpc, WithClientInfo("pistis-test", "0.0.1"))

	caps, err := tr.Negotiate(context.Background(), core.NewCapabilities(core.AllFeatures()...))
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if !caps.Has(core.FeatureAck) || !caps.Has(core.FeatureRetry) || caps.Has(core.FeatureIdempotency) {
		t.Errorf("parsed features wrong: %v", caps.List())
	}

	offer, ok := rpc.lastInit.Params.Capabilities.Experimental[core.MetaKey].(map[string]any)
	if !ok {
		t.Fatalf("offer missing from experimental block: %+v", rpc.lastInit.Params.Capabilities)
	}
	if offer["protocolVersion"] != core.ProtocolVersion {
		t.Errorf("offer carries wrong protocol version: %v", offer)
	}
	if rpc.lastInit.Params.ClientInfo.Name != "pistis-test" {
		t.Errorf("client info not applied: %+v", rpc.lastInit.Params.ClientInfo)
	}
}

func TestNegotiateSilentPeer(t *testing.T) {
	rpc := &fakeRPC{}
	tr := NewTransport(rpc)

	caps, err := tr.Negotiate(context.Background(), core.NewCapabilities(core.AllFeatures()...))
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if !caps.Empty() {
		t.Errorf("silent peer must yield empty capabilities, got %v", caps.List())
	}
}

func TestNegotiateUnknownFeaturesDropped(t *testing.T) {
	rpc := &fakeRPC{initResult: initResultWith("ack", "quantum-acceleration")}
	tr := NewTransport(rpc)

	caps, err := tr.Negotiate(context.Background(), core.NewCapabilities(core.AllFeatures()...))
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if got := caps.List(); len(got) != 1 || got[0] != core.FeatureAck {
		t.Errorf("unknown feature names must be dropped, got %v", got)
	}
}

func TestNegotiateInitializeError(t *testing.T) {
	rpc := &fakeRPC{initErr: fmt.Errorf("connection refused")}
	tr := NewTransport(rpc)

	if _, err := tr.Negotiate(context.Background(), core.NewCapabilities(core.AllFeatures()...)); err == nil {
		t.Errorf("initialize failure must surface")
	}
}

func TestSendCarriesEnvelopeInMeta(t *testing.T) {
	rpc := &fakeRPC{callResult: withAckBlock(textResult("ok"), true, "r-1")}
	tr := NewTransport(rpc)

	env := &core.Envelope{ProtocolVersion: core.ProtocolVersion, RequestID: "r-1", ExpectAck: true, Attempt: 2}
	resp, err := tr.Send(context.Background(), &core.WireRequest{
		Tool:     "echo",
		Args:     json.RawMessage(`{"k":"v"}`),
		Envelope: env,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	meta := rpc.lastCall.Params.Meta
	if meta == nil {
		t.Fatalf("enveloped request must populate _meta")
	}
	block, ok := meta.AdditionalFields[core.MetaKey].(map[string]any)
	if !ok {
		t.Fatalf("reliability block missing from _meta: %+v", meta.AdditionalFields)
	}
	if block["requestId"] != "r-1" || block["attempt"] != 2 {
		t.Errorf("envelope fields wrong: %v", block)
	}

	if resp.Ack == nil || !*resp.Ack || resp.RequestID != "r-1" {
		t.Errorf("acknowledgment not parsed: %+v", resp)
	}
	if string(resp.Payload) != `"ok"` {
		t.Errorf("payload = %s", resp.Payload)
	}
}

func TestSendPlainOmitsMeta(t *testing.T) {
	rpc := &fakeRPC{callResult: textResult("ok")}
	tr := NewTransport(rpc)

	resp, err := tr.Send(context.Background(), &core.WireRequest{Tool: "echo"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if rpc.lastCall.Params.Meta != nil {
		t.Errorf("plain request must not populate _meta")
	}
	if resp.Ack != nil {
		t.Errorf("plain result must not synthesize an acknowledgment")
	}
}

func TestSendStructuredContentWins(t *testing.T) {
	res := textResult("ignored")
	res.StructuredContent = map[string]any{"n": 42}
	rpc := &fakeRPC{callResult: res}
	tr := NewTransport(rpc)

	resp, err := tr.Send(context.Background(), &core.WireRequest{Tool: "echo"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(resp.Payload) != `{"n":42}` {
		t.Errorf("payload = %s", resp.Payload)
	}
}

func TestSendToolErrorWithoutBlock(t *testing.T) {
	res := textResult("boom")
	res.IsError = true
	rpc := &fakeRPC{callResult: res}
	tr := NewTransport(rpc)

	_, err := tr.Send(context.Background(), &core.WireRequest{Tool: "echo"})
	if errors.KindOf(err) != errors.KindRemoteRejected {
		t.Errorf("expected REMOTE_REJECTED, got %v", err)
	}
}

func TestSendNackViaBlock(t *testing.T) {
	res := textResult("rejected")
	res.IsError = true
	rpc := &fakeRPC{callResult: withAckBlock(res, false, "r-9")}
	tr := NewTransport(rpc)

	resp, err := tr.Send(context.Background(), &core.WireRequest{
		Tool:     "echo",
		Envelope: &core.Envelope{RequestID: "r-9", ExpectAck: true, Attempt: 1},
	})
	if err != nil {
		t.Fatalf("a negative acknowledgment is a response, not a transport error: %v", err)
	}
	if resp.Ack == nil || *resp.Ack || resp.Processed {
		t.Errorf("expected nack, got %+v", resp)
	}
}

func TestSendRejectsNonObjectArgs(t *testing.T) {
	rpc := &fakeRPC{callResult: textResult("ok")}
	tr := NewTransport(rpc)

	_, err := tr.Send(context.Background(), &core.WireRequest{Tool: "echo", Args: json.RawMessage(`[1,2]`)})
	if errors.KindOf(err) != errors.KindValidation {
		t.Errorf("expected VALIDATION, got %v", err)
	}
	if rpc.lastCall != nil {
		t.Errorf("malformed args must not reach the peer")
	}
}

func TestCloseForwards(t *testing.T) {
	rpc := &fakeRPC{}
	tr := NewTransport(rpc)
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !rpc.closed {
		t.Errorf("close must forward to the underlying client")
	}
}

func TestAcknowledgeMiddleware(t *testing.T) {
	handler := Acknowledge(func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if request.Params.Name == "fail" {
			return nil, fmt.Errorf("handler exploded")
		}
		return textResult("done"), nil
	})

	enveloped := mcp.CallToolRequest{}
	enveloped.Params.Name = "echo"
	enveloped.Params.Meta = &mcp.Meta{AdditionalFields: map[string]any{
		core.MetaKey: map[string]any{"requestId": "r-1", "expectAck": true, "attempt": float64(1)},
	}}

	res, err := handler(context.Background(), enveloped)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	block := core.ParseAckBlock(res.Meta.AdditionalFields)
	if block.Ack == nil || !*block.Ack || block.RequestID != "r-1" {
		t.Errorf("acknowledgment block wrong: %+v", block)
	}

	enveloped.Params.Name = "fail"
	res, err = handler(context.Background(), enveloped)
	if err != nil {
		t.Fatalf("enveloped handler error must become a nack, got %v", err)
	}
	block = core.ParseAckBlock(res.Meta.AdditionalFields)
	if block.Ack == nil || *block.Ack {
		t.Errorf("expected negative acknowledgment: %+v", block)
	}

	plain := mcp.CallToolRequest{}
	plain.Params.Name = "echo"
	res, err = handler(context.Background(), plain)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.Meta != nil {
		t.Errorf("plain request must pass through untouched")
	}
}
