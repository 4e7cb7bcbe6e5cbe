// SPDX-License-Identifier: Apache-2.0
// Package resilience provides the retry engine and the concurrency limiter
// for pistis sessions.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/jllopis/pistis/pkg/errors"
)

// jitterFraction is the relative perturbation applied when jitter is on.
const jitterFraction = 0.2

// RetryPolicy controls retry behavior with exponential backoff.
// A policy whose Retryable set is empty never retries; that is a legal,
// intentional configuration, not an error.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (must be >= 1).
	MaxAttempts int

	// BaseDelay is the initial backoff delay.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// Multiplier for exponential backoff (default 2.0).
	Multiplier float64

	// Jitter perturbs each delay by a uniformly drawn ±20% when true.
	Jitter bool

	// Retryable is the set of error kinds considered safe to retry.
	Retryable map[errors.Kind]bool
}

// DefaultRetryPolicy returns a sensible default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
		Retryable: map[errors.Kind]bool{
			errors.KindTimeout:        true,
			errors.KindNetwork:        true,
			errors.KindRemoteRejected: true,
		},
	}
}

// WithMaxAttempts returns a new policy with MaxAttempts set.
func (p RetryPolicy) WithMaxAttempts(n int) RetryPolicy {
	p.MaxAttempts = n
	return p
}

// WithBaseDelay returns a new policy with BaseDelay set.
func (p RetryPolicy) WithBaseDelay(d time.Duration) RetryPolicy {
	p.BaseDelay = d
	return p
}

// WithMaxDelay returns a new policy with MaxDelay set.
func (p RetryPolicy) WithMaxDelay(d time.Duration) RetryPolicy {
	p.MaxDelay = d
	return p
}

// WithMultiplier returns a new policy with Multiplier set.
func (p RetryPolicy) WithMultiplier(m float64) RetryPolicy {
	p.Multiplier = m
	return p
}

// WithJitter returns a new policy with Jitter set.
func (p RetryPolicy) WithJitter(on bool) RetryPolicy {
	p.Jitter = on
	return p
}

// WithRetryableKinds returns a new policy that retries exactly the given
// kinds. Passing none yields a never-retry policy.
func (p RetryPolicy) WithRetryableKinds(kinds ...errors.Kind) RetryPolicy {
	set := make(map[errors.Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	p.Retryable = set
	return p
}

// Validate checks the policy for internally inconsistent values.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New(errors.KindValidation, "retry policy needs at least one attempt", nil)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return errors.New(errors.KindValidation, "retry delays must be non-negative", nil)
	}
	if p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
		return errors.New(errors.KindValidation, "base delay exceeds max delay", nil)
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return errors.New(errors.KindValidation, "backoff multiplier must be >= 1", nil)
	}
	return nil
}

// ShouldRetry reports whether another attempt is allowed after attemptsMade
// attempts ended with an error of the given kind.
func (p RetryPolicy) ShouldRetry(kind errors.Kind, attemptsMade int) bool {
	if attemptsMade >= p.MaxAttempts {
		return false
	}
	return p.Retryable[kind]
}

// Delay computes the wait before retry index i (0 for the first retry):
// min(MaxDelay, BaseDelay * Multiplier^i), perturbed by ±20% when Jitter
// is on and clamped to never fall below BaseDelay.
func (p RetryPolicy) Delay(i int) time.Duration {
	mult := p.Multiplier
	if mult == 0 {
		mult = 2.0
	}

	d := float64(p.BaseDelay) * math.Pow(mult, float64(i))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	if p.Jitter {
		d *= 1 + jitterFraction*(2*rand.Float64()-1)
		if d < float64(p.BaseDelay) {
			d = float64(p.BaseDelay)
		}
	}

	return time.Duration(d)
}

// Do executes fn until it succeeds, the error kind is not retryable, or
// MaxAttempts is exhausted. Attempts are strictly sequential; the wait
// between attempts is interrupted promptly when ctx is canceled.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Classify(err).WithContext("attempt", attempt)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		kind := errors.KindOf(err)
		if !p.ShouldRetry(kind, attempt) {
			return lastErr
		}

		timer := time.NewTimer(p.Delay(attempt - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Classify(ctx.Err()).
				WithContext("attempt", attempt).
				WithContext("max_attempts", p.MaxAttempts)
		case <-timer.C:
		}
	}
}
