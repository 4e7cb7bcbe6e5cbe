// SPDX-License-Identifier: Apache-2.0
// Package errors provides the typed failure taxonomy used across pistis.
// Every failure that crosses a component boundary is classified into a Kind,
// and each Kind carries a default retryable/non-retryable classification.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// Kind classifies pistis failures for retry decisions and monitoring.
type Kind string

const (
	// KindTimeout indicates an attempt exceeded its time budget.
	KindTimeout Kind = "TIMEOUT"

	// KindNetwork indicates a transport-level connectivity failure.
	KindNetwork Kind = "NETWORK"

	// KindSequence indicates a protocol-level ordering or format violation.
	KindSequence Kind = "SEQUENCE"

	// KindValidation indicates the caller supplied bad input. Never retryable.
	KindValidation Kind = "VALIDATION"

	// KindRemoteRejected indicates the peer issued a negative acknowledgment.
	KindRemoteRejected Kind = "REMOTE_REJECTED"

	// KindUnknown is the fallback classification for unrecognized failures.
	KindUnknown Kind = "UNKNOWN"
)

// DefaultRetryable reports the default classification for a Kind.
// Unknown failures are conservatively non-retryable.
func DefaultRetryable(kind Kind) bool {
	switch kind {
	case KindTimeout, KindNetwork, KindRemoteRejected:
		return true
	default:
		return false
	}
}

// Error is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Kind      Kind
	Message   string
	Err       error
	Context   map[string]any
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"kind":      string(e.Kind),
		"message":   e.Message,
		"retryable": e.Retryable,
	}
	if e.Err != nil {
		out["cause"] = e.Err.Error()
	}
	if len(e.Context) > 0 {
		out["context"] = e.Context
	}
	return json.Marshal(out)
}

// New creates a new Error with the given kind, message, and cause.
// Retryable starts at the kind's default classification.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Message:   msg,
		Err:       cause,
		Retryable: DefaultRetryable(kind),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable overrides the default retryable classification.
// Returns the error for method chaining.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError converts err to an *Error, classifying it first if needed.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return Classify(err)
}

// Classify maps an arbitrary error onto the taxonomy. Context deadline
// expiry maps to KindTimeout; net.Error values map to KindNetwork; JSON
// syntax and type errors map to KindSequence; everything else falls back
// to KindUnknown.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(KindTimeout, "attempt deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return New(KindUnknown, "call canceled", err).WithRetryable(false)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return New(KindTimeout, "network timeout", err)
		}
		return New(KindNetwork, "network failure", err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return New(KindSequence, "malformed protocol payload", err)
	}

	return New(KindUnknown, "unclassified failure", err)
}

// KindOf returns the Kind of err after classification.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}

// IsRetryable reports whether err is classified retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return AsError(err).Retryable
}
