// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiterBlocksAtCapacity(t *testing.T) {
	l := NewLimiter(2)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if l.InFlight() != 2 {
		t.Errorf("expected 2 in flight, got %d", l.InFlight())
	}
	if l.TryAcquire() {
		t.Errorf("TryAcquire should fail at capacity")
	}

	var blocked atomic.Bool
	done := make(chan struct{})
	go func() {
		blocked.Store(true)
		_ = l.Acquire(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("third acquire should have blocked")
	default:
	}

	l.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("release did not unblock waiter")
	}
	if !blocked.Load() {
		t.Fatalf("waiter never ran")
	}
}

func TestLimiterAcquireCanceled(t *testing.T) {
	l := NewLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if l.InFlight() != 1 {
		t.Errorf("canceled acquire must not consume a permit")
	}
}

func TestLimiterConcurrentCeiling(t *testing.T) {
	const cap = 3
	l := NewLimiter(cap)

	var inFlight atomic.Int32
	var peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer l.Release()
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > cap {
		t.Errorf("observed %d concurrent holders, cap is %d", p, cap)
	}
	if l.InFlight() != 0 {
		t.Errorf("permits leaked: %d still held", l.InFlight())
	}
}

func TestLimiterMinimumOnePermit(t *testing.T) {
	l := NewLimiter(0)
	if l.Cap() != 1 {
		t.Errorf("expected pool of 1, got %d", l.Cap())
	}
}

func TestReleaseWithoutAcquirePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic on unmatched Release")
		}
	}()
	NewLimiter(1).Release()
}
