// Copyright 2026 © The Pistis Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the reliability wrapper placed in front of a
// tool-call transport: one-time capability negotiation, per-call lifecycle
// tracking, bounded retry, idempotency-based deduplication, and bounded
// concurrency. When the peer does not participate in negotiation the
// wrapper degrades to a pure passthrough.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jllopis/pistis/pkg/audit"
	"github.com/jllopis/pistis/pkg/core"
	"github.com/jllopis/pistis/pkg/dedup"
	"github.com/jllopis/pistis/pkg/errors"
	"github.com/jllopis/pistis/pkg/lifecycle"
	"github.com/jllopis/pistis/pkg/redact"
	"github.com/jllopis/pistis/pkg/resilience"
	"github.com/jllopis/pistis/pkg/telemetry"
)

const (
	// DefaultTimeout bounds each attempt unless overridden.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxConcurrent bounds calls in flight per session.
	DefaultMaxConcurrent = 8
)

// Session is the facade callers use. Create it with New, negotiate once
// with Initialize, then issue calls with Call. The deduplication cache and
// the in-flight registry are owned by the session instance; two sessions
// in one process never share entries.
type Session struct {
	transport core.Transport
	sanitizer *redact.Sanitizer
	policy    resilience.RetryPolicy
	timeout   time.Duration
	features  []core.Feature
	logger    *slog.Logger
	metrics   *telemetry.CallMetrics
	auditTo   audit.Store

	maxConcurrent int
	dedupWindow   time.Duration
	dedupCap      int
	historySize   int

	cache   *dedup.Cache
	limiter *resilience.Limiter
	tracker *lifecycle.Tracker

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	initialized bool
	enhanced    bool
	caps        core.Capabilities

	closed atomic.Bool
}

// Option customizes session behavior.
type Option func(*Session)

// WithRetryPolicy sets the session-level default retry policy.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(s *Session) { s.policy = p }
}

// WithTimeout sets the default per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxConcurrent bounds the number of calls in flight.
func WithMaxConcurrent(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithDedupWindow sets how long completed results suppress duplicates.
func WithDedupWindow(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.dedupWindow = d
		}
	}
}

// WithDedupCapacity bounds the deduplication cache.
func WithDedupCapacity(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.dedupCap = n
		}
	}
}

// WithHistorySize bounds the recent-history buffer of finished calls.
func WithHistorySize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.historySize = n
		}
	}
}

// WithFeatures restricts which reliability features the session offers
// during negotiation. The default is all of them.
func WithFeatures(features ...core.Feature) Option {
	return func(s *Session) { s.features = features }
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches call metrics.
func WithMetrics(m *telemetry.CallMetrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithAuditStore attaches an audit trail for finished calls.
func WithAuditStore(store audit.Store) Option {
	return func(s *Session) { s.auditTo = store }
}

// WithSanitizer replaces the default sanitizer.
func WithSanitizer(sz *redact.Sanitizer) Option {
	return func(s *Session) {
		if sz != nil {
			s.sanitizer = sz
		}
	}
}

// New creates a session over the given transport.
func New(transport core.Transport, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		transport:     transport,
		sanitizer:     redact.New(),
		policy:        resilience.DefaultRetryPolicy(),
		timeout:       DefaultTimeout,
		features:      core.AllFeatures(),
		logger:        slog.Default(),
		maxConcurrent: DefaultMaxConcurrent,
		dedupWindow:   dedup.DefaultWindow,
		dedupCap:      dedup.DefaultCapacity,
		historySize:   lifecycle.DefaultHistorySize,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cache = dedup.NewCache(s.dedupWindow, s.dedupCap)
	s.limiter = resilience.NewLimiter(s.maxConcurrent)
	s.tracker = lifecycle.NewTracker(s.historySize)
	return s
}

// Initialize performs the one-time capability negotiation with the peer.
// A peer that stays silent, or a negotiation that fails outright, leaves
// the session in passthrough mode; Initialize reports an error only when
// called twice or after Close.
func (s *Session) Initialize(ctx context.Context) error {
	if s.closed.Load() {
		return errors.New(errors.KindSequence, "session is closed", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return errors.New(errors.KindSequence, "session already initialized", nil)
	}

	offer := core.NewCapabilities(s.features...)
	peer, err := s.transport.Negotiate(ctx, offer)
	if err != nil {
		s.logger.WarnContext(ctx, "capability negotiation failed, session degrades to passthrough",
			"error", s.sanitizer.ApplyError(err))
		s.caps = core.Capabilities{ProtocolVersion: core.ProtocolVersion}
		s.enhanced = false
		s.initialized = true
		return nil
	}

	s.caps = offer.Intersect(peer)
	s.enhanced = !s.caps.Empty()
	s.initialized = true

	s.logger.InfoContext(ctx, "session initialized",
		"enhanced", s.enhanced,
		"features", s.caps.List())
	return nil
}

// Enhanced reports whether both sides agreed to the reliability
// extensions.
func (s *Session) Enhanced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enhanced
}

// Capabilities returns the effective feature set agreed at negotiation.
func (s *Session) Capabilities() core.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// InFlight returns snapshots of calls currently being processed.
func (s *Session) InFlight() []lifecycle.Record {
	return s.tracker.InFlight()
}

// History returns snapshots of recently finished calls, oldest first.
func (s *Session) History() []lifecycle.Record {
	return s.tracker.History()
}

// Call issues one logical tool call through the reliability pipeline. In
// passthrough mode the request is forwarded unmodified with no retry,
// no deduplication and no concurrency gating. The returned error, when
// non-nil, is always a sanitized *errors.Error.
func (s *Session) Call(ctx context.Context, req core.CallRequest) (*core.CallResult, error) {
	if s.closed.Load() {
		return nil, errors.New(errors.KindSequence, "session is closed", nil)
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	initialized, enhanced := s.initialized, s.enhanced
	caps := s.caps
	s.mu.Unlock()

	if !initialized {
		return nil, errors.New(errors.KindSequence, "session not initialized", nil)
	}

	// Tie the call to the session lifetime so Close interrupts retry
	// waits and permit acquisition.
	callCtx, cancelCall := context.WithCancel(ctx)
	defer cancelCall()
	stop := context.AfterFunc(s.ctx, cancelCall)
	defer stop()

	if !enhanced {
		return s.passthrough(callCtx, req)
	}
	return s.enhancedCall(callCtx, req, caps)
}

// Close releases session-held resources. In-flight calls are not drained;
// they observe either a normal result or a cancellation-style failure.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	return s.transport.Close()
}

// passthrough forwards the call unmodified and wraps the raw response.
// Observable behavior matches calling the transport directly: one
// attempt, no deduplication, no envelope.
func (s *Session) passthrough(ctx context.Context, req core.CallRequest) (*core.CallResult, error) {
	resp, err := s.transport.Send(ctx, &core.WireRequest{Tool: req.Tool, Args: req.Args})
	if err != nil {
		perr := errors.Classify(err)
		msg := s.sanitizer.Apply(perr.Error())
		res := &core.CallResult{
			Attempts: 1,
			Status:   statusFor(perr.Kind),
			Error:    msg,
		}
		return res, errors.New(perr.Kind, msg, nil).WithRetryable(perr.Retryable)
	}
	return &core.CallResult{
		Payload:      resp.Payload,
		Acknowledged: true,
		Processed:    true,
		Attempts:     1,
		Status:       core.StatusCompleted,
	}, nil
}

func (s *Session) enhancedCall(ctx context.Context, req core.CallRequest, caps core.Capabilities) (*core.CallResult, error) {
	useDedup := req.IdempotencyKey != "" && caps.Has(core.FeatureIdempotency)

	if useDedup {
		if hit, ok := s.cache.Lookup(req.IdempotencyKey); ok {
			s.metrics.RecordDedupHit(ctx, req.Tool)
			s.recordAudit(ctx, audit.Event{
				RequestID:      hit.RequestID,
				Tool:           req.Tool,
				IdempotencyKey: req.IdempotencyKey,
				Status:         string(hit.Status),
				Attempts:       hit.Attempts,
				Duplicate:      true,
				StartedAt:      time.Now(),
				FinishedAt:     time.Now(),
			})
			return hit, nil
		}
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, errors.AsError(err)
	}
	defer s.limiter.Release()
	s.metrics.AddInFlight(ctx, 1)
	defer s.metrics.AddInFlight(ctx, -1)

	policy := s.policy
	if req.Retry != nil {
		policy = *req.Retry
	}
	if !caps.Has(core.FeatureRetry) {
		policy = policy.WithMaxAttempts(1)
	}
	timeout := s.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	expectAck := caps.Has(core.FeatureAck)

	rec := s.tracker.Begin(req.Tool, req.IdempotencyKey)
	startedAt := time.Now()

	var resp *core.WireResponse
	var attempts int

	attemptOnce := func(ctx context.Context) error {
		attempts = s.tracker.MarkSent(rec.ID)

		env := &core.Envelope{
			ProtocolVersion: core.ProtocolVersion,
			RequestID:       rec.ID,
			IdempotencyKey:  req.IdempotencyKey,
			ExpectAck:       expectAck,
			Attempt:         attempts,
			TimeoutMS:       timeout.Milliseconds(),
			SentAt:          time.Now(),
		}

		actx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		r, err := s.transport.Send(actx, &core.WireRequest{Tool: req.Tool, Args: req.Args, Envelope: env})
		if err != nil {
			perr := errors.Classify(err)
			state := lifecycle.StateTransportError
			if perr.Kind == errors.KindTimeout {
				state = lifecycle.StateTimeout
			}
			s.tracker.MarkOutcome(rec.ID, state, s.sanitizer.Apply(perr.Error()))
			s.logger.DebugContext(ctx, "attempt failed",
				"request_id", rec.ID,
				"tool", req.Tool,
				"attempt", attempts,
				"kind", string(perr.Kind))
			return perr
		}

		if expectAck && r.Ack != nil && !*r.Ack {
			s.tracker.MarkOutcome(rec.ID, lifecycle.StateNack, "")
			return errors.New(errors.KindRemoteRejected, "peer rejected call", nil).
				WithContext("request_id", rec.ID)
		}

		// Ack true, or no reliability block at all: a plain response is
		// accepted as-is, per-call degradation distinct from session
		// negotiation.
		s.tracker.MarkOutcome(rec.ID, lifecycle.StateAcknowledged, "")
		resp = r
		return nil
	}

	err := policy.Do(ctx, attemptOnce)
	if err != nil {
		perr := errors.AsError(err)
		msg := s.sanitizer.Apply(perr.Error())
		final, _ := s.tracker.Finish(rec.ID, lifecycle.StateFailed, msg)
		if final.Attempts > 0 {
			attempts = final.Attempts
		}

		res := &core.CallResult{
			RequestID: rec.ID,
			Attempts:  attempts,
			Status:    statusFor(perr.Kind),
			Error:     msg,
		}
		s.metrics.RecordCall(ctx, req.Tool, string(res.Status), attempts)
		s.recordAudit(ctx, audit.Event{
			RequestID:      rec.ID,
			Tool:           req.Tool,
			IdempotencyKey: req.IdempotencyKey,
			Status:         string(res.Status),
			Attempts:       attempts,
			Error:          msg,
			StartedAt:      startedAt,
			FinishedAt:     time.Now(),
		})
		s.logger.WarnContext(ctx, "call failed",
			"request_id", rec.ID,
			"tool", req.Tool,
			"attempts", attempts,
			"kind", string(perr.Kind))
		return res, errors.New(perr.Kind, msg, nil).WithRetryable(perr.Retryable)
	}

	res := &core.CallResult{
		RequestID:    rec.ID,
		Payload:      resp.Payload,
		Acknowledged: expectAck && resp.Ack != nil && *resp.Ack,
		Processed:    resp.Processed,
		Attempts:     attempts,
		Status:       core.StatusCompleted,
	}
	s.tracker.Finish(rec.ID, lifecycle.StateCompleted, "")

	if useDedup {
		s.cache.Store(req.IdempotencyKey, res)
	}
	s.metrics.RecordCall(ctx, req.Tool, string(res.Status), attempts)
	s.recordAudit(ctx, audit.Event{
		RequestID:      rec.ID,
		Tool:           req.Tool,
		IdempotencyKey: req.IdempotencyKey,
		Status:         string(res.Status),
		Attempts:       attempts,
		StartedAt:      startedAt,
		FinishedAt:     time.Now(),
	})
	return res, nil
}

func (s *Session) recordAudit(ctx context.Context, event audit.Event) {
	if s.auditTo == nil {
		return
	}
	if err := s.auditTo.Record(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", "error", s.sanitizer.ApplyError(err))
	}
}

func statusFor(kind errors.Kind) core.Status {
	if kind == errors.KindTimeout {
		return core.StatusTimeout
	}
	return core.StatusFailed
}
