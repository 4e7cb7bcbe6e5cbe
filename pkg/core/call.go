// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jllopis/pistis/pkg/resilience"
)

// CallRequest is the logical unit of work: one tool invocation. Immutable
// once handed to the session.
type CallRequest struct {
	// Tool is the tool or method name to invoke.
	Tool string

	// Args is the raw JSON argument payload. The wrapper never inspects
	// it; transports decode it into whatever their wire format needs.
	Args json.RawMessage

	// IdempotencyKey, when set, identifies the logical operation so that
	// repeated submissions inside the deduplication window are recognized.
	IdempotencyKey string

	// Timeout overrides the session's per-attempt timeout when > 0.
	Timeout time.Duration

	// Retry overrides the session's retry policy when non-nil.
	Retry *resilience.RetryPolicy
}

// Status is the terminal status of a call.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// CallResult wraps the peer's response together with reliability metadata.
// Results served from the deduplication cache are always deep copies, so a
// caller mutating a result can never corrupt the cached entry.
type CallResult struct {
	// RequestID is the generated identifier of the call, empty in
	// passthrough mode.
	RequestID string `json:"requestId,omitempty"`

	// Payload is the peer's serialized response.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Acknowledged reports an explicit positive acknowledgment.
	Acknowledged bool `json:"acknowledged"`

	// Processed reports the peer's "was actually processed" flag.
	Processed bool `json:"processed"`

	// Duplicate is true when the result was served from the
	// deduplication cache.
	Duplicate bool `json:"duplicate"`

	// Attempts is the number of transport calls actually issued.
	Attempts int `json:"attempts"`

	// Status is the terminal status of the call.
	Status Status `json:"status"`

	// Error holds the sanitized message of the last failure, if any.
	Error string `json:"error,omitempty"`
}

// Clone returns a deep copy of the result.
func (r *CallResult) Clone() *CallResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.Payload != nil {
		out.Payload = make(json.RawMessage, len(r.Payload))
		copy(out.Payload, r.Payload)
	}
	return &out
}

// WireRequest is what the session hands to the transport for one attempt.
// Envelope is nil in passthrough mode, in which case the transport must
// forward the call unmodified.
type WireRequest struct {
	Tool     string
	Args     json.RawMessage
	Envelope *Envelope
}

// WireResponse is the transport's view of one response. Ack is nil when
// the peer did not include a reliability block.
type WireResponse struct {
	Payload   json.RawMessage
	Ack       *bool
	Processed bool
	RequestID string
}

// Transport is the single boundary with the underlying RPC session.
type Transport interface {
	// Negotiate performs the one-time capability exchange. A peer that
	// does not participate is reported as an empty capability set, not
	// as an error.
	Negotiate(ctx context.Context, offer Capabilities) (Capabilities, error)

	// Send issues one request and waits for the matching response.
	Send(ctx context.Context, req *WireRequest) (*WireResponse, error)

	// Close releases transport-held resources.
	Close() error
}
