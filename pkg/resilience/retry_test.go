// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"testing"
	"time"

	perrors "github.com/jllopis/pistis/pkg/errors"
)

func testPolicy() RetryPolicy {
	return DefaultRetryPolicy().
		WithBaseDelay(5 * time.Millisecond).
		WithMaxDelay(50 * time.Millisecond).
		WithJitter(false)
}

func TestRetrySuccessAfterTransient(t *testing.T) {
	attempts := 0
	err := testPolicy().Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return perrors.New(perrors.KindNetwork, "transient", nil)
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhaustsMaxAttempts(t *testing.T) {
	attempts := 0
	err := testPolicy().WithMaxAttempts(3).Do(context.Background(), func(context.Context) error {
		attempts++
		return perrors.New(perrors.KindNetwork, "always fails", nil)
	})
	if err == nil {
		t.Fatalf("expected error after max attempts")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if perrors.KindOf(err) != perrors.KindNetwork {
		t.Errorf("expected last error to surface, got %v", err)
	}
}

func TestNonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	err := testPolicy().Do(context.Background(), func(context.Context) error {
		attempts++
		return perrors.New(perrors.KindValidation, "bad input", nil)
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", attempts)
	}
}

func TestEmptyRetryableSetNeverRetries(t *testing.T) {
	attempts := 0
	err := testPolicy().WithRetryableKinds().Do(context.Background(), func(context.Context) error {
		attempts++
		return perrors.New(perrors.KindNetwork, "transient", nil)
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Errorf("never-retry policy made %d attempts", attempts)
	}
}

func TestDelayMonotonicWithoutJitter(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0}
	prev := time.Duration(-1)
	for i := 0; i < 8; i++ {
		d := p.Delay(i)
		if d < prev {
			t.Errorf("delay decreased at retry %d: %v < %v", i, d, prev)
		}
		prev = d
	}
	if got := p.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want 1s", got)
	}
	if got := p.Delay(1); got != 2*time.Second {
		t.Errorf("Delay(1) = %v, want 2s", got)
	}
	if got := p.Delay(10); got != time.Minute {
		t.Errorf("Delay(10) = %v, want max delay cap", got)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2.0, Jitter: true}
	for i := 0; i < 6; i++ {
		for trial := 0; trial < 50; trial++ {
			d := p.Delay(i)
			if d < p.BaseDelay {
				t.Fatalf("jittered delay %v below base delay at retry %d", d, i)
			}
			max := time.Duration(float64(p.MaxDelay) * (1 + jitterFraction))
			if d > max {
				t.Fatalf("jittered delay %v above bound %v at retry %d", d, max, i)
			}
		}
	}
}

func TestBackoffScenario(t *testing.T) {
	// max_attempts:3, base:20ms, multiplier:2, jitter:false -> waits of
	// ~20ms then ~40ms between the three attempts.
	p := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   20 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
		Retryable:   map[perrors.Kind]bool{perrors.KindNetwork: true},
	}
	attempts := 0
	start := time.Now()
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return perrors.New(perrors.KindNetwork, "down", nil)
	})
	elapsed := time.Since(start)
	if err == nil || attempts != 3 {
		t.Fatalf("expected 3 failed attempts, got attempts=%d err=%v", attempts, err)
	}
	if elapsed < 60*time.Millisecond {
		t.Errorf("expected >= 60ms of backoff, got %v", elapsed)
	}
}

func TestCancellationInterruptsWait(t *testing.T) {
	p := testPolicy().WithBaseDelay(time.Second).WithMaxDelay(time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	start := time.Now()
	err := p.Do(ctx, func(context.Context) error {
		attempts++
		return perrors.New(perrors.KindNetwork, "transient", nil)
	})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", attempts)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("cancellation did not interrupt the retry wait promptly")
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultRetryPolicy().Validate(); err != nil {
		t.Errorf("default policy should validate: %v", err)
	}
	if err := (RetryPolicy{MaxAttempts: 0}).Validate(); err == nil {
		t.Errorf("expected error for zero attempts")
	}
	bad := RetryPolicy{MaxAttempts: 1, BaseDelay: time.Minute, MaxDelay: time.Second}
	if err := bad.Validate(); err == nil {
		t.Errorf("expected error for base delay above max delay")
	}
	if err := (RetryPolicy{MaxAttempts: 1, Multiplier: 0.5}).Validate(); err == nil {
		t.Errorf("expected error for multiplier below 1")
	}
}
