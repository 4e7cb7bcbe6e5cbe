// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"

	"github.com/jllopis/pistis/pkg/errors"
)

// Limiter is a counting permit pool bounding concurrent calls. Waiters
// suspend on a channel; the runtime wakes blocked goroutines in FIFO
// order, which gives approximate first-requested, first-served fairness.
type Limiter struct {
	permits chan struct{}
}

// NewLimiter creates a pool of n permits. Values below 1 are raised to 1.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{permits: make(chan struct{}, n)}
}

// Acquire takes a permit, suspending until one is available or ctx is
// canceled.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Classify(ctx.Err()).WithContext("stage", "acquire_permit")
	}
}

// TryAcquire takes a permit without blocking, reporting success.
func (l *Limiter) TryAcquire() bool {
	select {
	case l.permits <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a permit. Releasing more than was acquired panics,
// which flags a missing Acquire in the caller.
func (l *Limiter) Release() {
	select {
	case <-l.permits:
	default:
		panic("resilience: Release without matching Acquire")
	}
}

// InFlight returns the number of permits currently held.
func (l *Limiter) InFlight() int {
	return len(l.permits)
}

// Cap returns the pool size.
func (l *Limiter) Cap() int {
	return cap(l.permits)
}
