// SPDX-License-Identifier: Apache-2.0
// Package lifecycle tracks every logical call through its state machine:
//
//	PENDING -> SENT -> {ACKNOWLEDGED, NACK, TIMEOUT, TRANSPORT_ERROR}
//	ACKNOWLEDGED -> COMPLETED
//	retryable outcome -> PENDING (next attempt) | FAILED
//
// COMPLETED and FAILED are the only terminal states. The tracker records
// what happened; retry timing decisions belong to the retry engine.
package lifecycle

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a lifecycle state of a tracked request.
type State string

const (
	StatePending        State = "PENDING"
	StateSent           State = "SENT"
	StateAcknowledged   State = "ACKNOWLEDGED"
	StateNack           State = "NACK"
	StateTimeout        State = "TIMEOUT"
	StateTransportError State = "TRANSPORT_ERROR"
	StateCompleted      State = "COMPLETED"
	StateFailed         State = "FAILED"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Record is the lifecycle object bound 1:1 to a call's attempt sequence.
// LastError always holds a sanitized message.
type Record struct {
	ID             string
	Tool           string
	IdempotencyKey string
	State          State
	Attempts       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	SentAt         time.Time
	LastError      string
}

// DefaultHistorySize bounds the recent-history buffer.
const DefaultHistorySize = 128

// Tracker owns the in-flight request set of one session plus a bounded
// buffer of recently finished records. Safe for concurrent use.
type Tracker struct {
	mu         sync.RWMutex
	inflight   map[string]*Record
	history    []Record
	historyCap int
}

// NewTracker creates a tracker keeping up to historySize finished records.
// Non-positive sizes fall back to DefaultHistorySize.
func NewTracker(historySize int) *Tracker {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Tracker{
		inflight:   make(map[string]*Record),
		historyCap: historySize,
	}
}

// Begin registers a new call and returns its record snapshot. The
// identifier is a random UUID, collision-resistant across sessions.
func (t *Tracker) Begin(tool, idempotencyKey string) Record {
	now := time.Now()
	rec := &Record{
		ID:             uuid.NewString(),
		Tool:           tool,
		IdempotencyKey: idempotencyKey,
		State:          StatePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	t.mu.Lock()
	t.inflight[rec.ID] = rec
	t.mu.Unlock()

	return *rec
}

// MarkSent transitions the record to SENT for the next attempt,
// incrementing the attempt counter and starting the attempt clock. A
// record sitting in a non-terminal outcome state is requeued through
// PENDING first. Returns the attempt number, or 0 for unknown ids.
func (t *Tracker) MarkSent(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.inflight[id]
	if !ok || rec.State.Terminal() {
		return 0
	}
	if rec.State != StatePending {
		rec.State = StatePending
	}
	rec.State = StateSent
	rec.Attempts++
	now := time.Now()
	rec.SentAt = now
	rec.UpdatedAt = now
	return rec.Attempts
}

// MarkOutcome records the classified outcome of the current attempt.
// Only ACKNOWLEDGED, NACK, TIMEOUT and TRANSPORT_ERROR are accepted.
func (t *Tracker) MarkOutcome(id string, s State, lastError string) {
	switch s {
	case StateAcknowledged, StateNack, StateTimeout, StateTransportError:
	default:
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.inflight[id]
	if !ok || rec.State != StateSent {
		return
	}
	rec.State = s
	rec.LastError = lastError
	rec.UpdatedAt = time.Now()
}

// Finish moves the record to its terminal state and into the history
// buffer, returning the final snapshot. Records reach exactly one
// terminal state: a second Finish for the same id is a no-op.
func (t *Tracker) Finish(id string, s State, lastError string) (Record, bool) {
	if !s.Terminal() {
		return Record{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.inflight[id]
	if !ok {
		return Record{}, false
	}
	delete(t.inflight, id)

	rec.State = s
	if lastError != "" {
		rec.LastError = lastError
	}
	rec.UpdatedAt = time.Now()

	t.history = append(t.history, *rec)
	if len(t.history) > t.historyCap {
		t.history = t.history[len(t.history)-t.historyCap:]
	}
	return *rec, true
}

// Get returns a snapshot of an in-flight record.
func (t *Tracker) Get(id string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.inflight[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// InFlight returns snapshots of every in-flight record.
func (t *Tracker) InFlight() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.inflight))
	for _, rec := range t.inflight {
		out = append(out, *rec)
	}
	return out
}

// InFlightCount returns the number of in-flight records.
func (t *Tracker) InFlightCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.inflight)
}

// History returns snapshots of recently finished records, oldest first.
func (t *Tracker) History() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, len(t.history))
	copy(out, t.history)
	return out
}
