// Copyright 2026 © The Pistis Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolfn provides an in-process tool registry and a loopback
// transport over it. The loopback peer speaks the full reliability
// protocol, which makes it useful for demos and as a reference for what
// a cooperating server side looks like.
package toolfn

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/jllopis/pistis/pkg/core"
	"github.com/jllopis/pistis/pkg/errors"
)

// HandlerFunc executes one tool call. Args arrive as raw JSON; the
// returned value is marshaled into the response payload.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

type registration struct {
	description string
	fn          HandlerFunc
}

// Registry holds named tool handlers. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registration)}
}

// Register adds or replaces a tool handler.
func (r *Registry) Register(name, description string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = registration{description: description, fn: fn}
}

// Names lists registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg, ok
}

// Loopback is a core.Transport that dispatches calls to a local registry.
// It advertises every reliability feature and answers enveloped requests
// with a full acknowledgment block.
type Loopback struct {
	registry *Registry
	closed   bool
	mu       sync.Mutex
}

// NewLoopback wraps a registry in a transport.
func NewLoopback(registry *Registry) *Loopback {
	return &Loopback{registry: registry}
}

// Negotiate accepts whatever the client offers.
func (l *Loopback) Negotiate(_ context.Context, offered core.Capabilities) (core.Capabilities, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return core.Capabilities{}, errors.New(errors.KindSequence, "loopback transport is closed", nil)
	}
	return offered.Intersect(core.NewCapabilities(core.AllFeatures()...)), nil
}

// Send dispatches the call to the registered handler. Handler errors on
// an enveloped request become a negative acknowledgment rather than a
// transport failure; a plain request surfaces them directly.
func (l *Loopback) Send(ctx context.Context, req *core.WireRequest) (*core.WireResponse, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, errors.New(errors.KindSequence, "loopback transport is closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reg, ok := l.registry.lookup(req.Tool)
	if ok {
		out, err := reg.fn(ctx, req.Args)
		if err == nil {
			payload, merr := json.Marshal(out)
			if merr != nil {
				err = fmt.Errorf("marshal result of %q: %w", req.Tool, merr)
			} else {
				return l.respond(req, payload, true), nil
			}
		}
		if req.Envelope == nil {
			return nil, err
		}
		return l.respond(req, nil, false), nil
	}

	nf := errors.New(errors.KindValidation, fmt.Sprintf("unknown tool %q", req.Tool), nil)
	if req.Envelope == nil {
		return nil, nf
	}
	return l.respond(req, nil, false), nil
}

func (l *Loopback) respond(req *core.WireRequest, payload json.RawMessage, ok bool) *core.WireResponse {
	resp := &core.WireResponse{Payload: payload, Processed: ok}
	if req.Envelope != nil {
		ack := ok
		resp.Ack = &ack
		resp.RequestID = req.Envelope.RequestID
	}
	return resp
}

// Close makes every later operation fail.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
