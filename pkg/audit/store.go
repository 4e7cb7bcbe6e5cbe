// SPDX-License-Identifier: Apache-2.0
// Package audit records one event per terminal call for after-the-fact
// inspection. The trail is observability data only; the reliability
// mechanisms themselves never read it back.
package audit

import (
	"context"
	"sync"
	"time"
)

// Event describes one finished call.
type Event struct {
	RequestID      string
	Tool           string
	IdempotencyKey string
	Status         string
	Attempts       int
	Duplicate      bool
	Error          string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Tool   string
	Status string
	Limit  int
}

// Store persists call audit events.
type Store interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// MemoryStore keeps the most recent events in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
	cap    int
}

// NewMemoryStore creates an in-memory store bounded to capacity events.
// Non-positive capacities default to 1024.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryStore{cap: capacity}
}

// Record appends the event, dropping the oldest past capacity.
func (s *MemoryStore) Record(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if len(s.events) > s.cap {
		s.events = s.events[len(s.events)-s.cap:]
	}
	return nil
}

// List returns matching events, oldest first.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, e := range s.events {
		if filter.Tool != "" && e.Tool != filter.Tool {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
