// SPDX-License-Identifier: Apache-2.0
// Package dedup implements the idempotency-based deduplication cache.
//
// The cache is owned by a single session, never shared process-wide.
// Entries expire lazily when their age exceeds the configured window, and
// the cache is bounded: when an insert would exceed capacity, the entry
// with the oldest creation time is evicted first.
//
// Two concurrent calls bearing the same fresh key may both execute before
// either has stored its result; the last store wins. This race is part of
// the contract and is deliberately not closed with per-key locking.
package dedup

import (
	"sync"
	"time"

	"github.com/jllopis/pistis/pkg/core"
)

const (
	// DefaultWindow is how long a completed result suppresses duplicates.
	DefaultWindow = 5 * time.Minute

	// DefaultCapacity bounds the number of live entries.
	DefaultCapacity = 1024
)

type entry struct {
	result    *core.CallResult
	createdAt time.Time
}

// Cache maps idempotency keys to previously produced results.
type Cache struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	entries  map[string]entry
}

// NewCache creates a cache with the given deduplication window and
// capacity. Non-positive values fall back to the defaults.
func NewCache(window time.Duration, capacity int) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		window:   window,
		capacity: capacity,
		entries:  make(map[string]entry),
	}
}

// Lookup returns a deep copy of the cached result for key with Duplicate
// forced to true, or (nil, false) on a miss. An entry older than the
// window counts as a miss and is evicted on the spot.
func (c *Cache) Lookup(key string) (*core.CallResult, bool) {
	if key == "" {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.createdAt) > c.window {
		delete(c.entries, key)
		return nil, false
	}

	out := e.result.Clone()
	out.Duplicate = true
	return out, true
}

// Store inserts or overwrites the result for key. The cache keeps its own
// deep copy, so later caller mutation cannot reach the entry. Inserting
// past capacity evicts the entry with the oldest creation time.
func (c *Cache) Store(key string, result *core.CallResult) {
	if key == "" || result == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[key] = entry{result: result.Clone(), createdAt: time.Now()}
}

// Len returns the number of live entries, expired ones included until
// their lazy eviction.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.createdAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.createdAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
