// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CallMetrics tracks call outcomes, retries and deduplication hits.
// All methods are nil-safe so instrumentation stays optional.
type CallMetrics struct {
	// callCounter tracks finished calls by tool and terminal status.
	callCounter metric.Int64Counter

	// attemptHistogram records the attempts-per-call distribution.
	attemptHistogram metric.Int64Histogram

	// retryCounter tracks retries (attempts beyond the first).
	retryCounter metric.Int64Counter

	// dedupHitCounter tracks calls answered from the deduplication cache.
	dedupHitCounter metric.Int64Counter

	// inFlight tracks calls currently holding a concurrency permit.
	inFlight metric.Int64UpDownCounter
}

// NewCallMetrics creates a call metrics tracker with OTEL meters.
func NewCallMetrics() (*CallMetrics, error) {
	meter := otel.Meter("pistis/session")

	callCounter, err := meter.Int64Counter(
		"pistis.calls.total",
		metric.WithDescription("Finished calls by tool and terminal status"),
	)
	if err != nil {
		return nil, err
	}

	attemptHistogram, err := meter.Int64Histogram(
		"pistis.calls.attempts",
		metric.WithDescription("Transport attempts issued per finished call"),
	)
	if err != nil {
		return nil, err
	}

	retryCounter, err := meter.Int64Counter(
		"pistis.calls.retries",
		metric.WithDescription("Retried attempts by tool"),
	)
	if err != nil {
		return nil, err
	}

	dedupHitCounter, err := meter.Int64Counter(
		"pistis.dedup.hits",
		metric.WithDescription("Calls answered from the deduplication cache"),
	)
	if err != nil {
		return nil, err
	}

	inFlight, err := meter.Int64UpDownCounter(
		"pistis.calls.in_flight",
		metric.WithDescription("Calls currently holding a concurrency permit"),
	)
	if err != nil {
		return nil, err
	}

	return &CallMetrics{
		callCounter:      callCounter,
		attemptHistogram: attemptHistogram,
		retryCounter:     retryCounter,
		dedupHitCounter:  dedupHitCounter,
		inFlight:         inFlight,
	}, nil
}

// RecordCall records a finished call with its terminal status and the
// number of attempts issued.
func (m *CallMetrics) RecordCall(ctx context.Context, tool, status string, attempts int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.callCounter.Add(ctx, 1, attrs)
	m.attemptHistogram.Record(ctx, int64(attempts), attrs)
	if attempts > 1 {
		m.retryCounter.Add(ctx, int64(attempts-1), metric.WithAttributes(attribute.String("tool", tool)))
	}
}

// RecordDedupHit records a call answered from the deduplication cache.
func (m *CallMetrics) RecordDedupHit(ctx context.Context, tool string) {
	if m == nil {
		return
	}
	m.dedupHitCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
}

// AddInFlight adjusts the in-flight gauge by delta.
func (m *CallMetrics) AddInFlight(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.inFlight.Add(ctx, delta)
}
