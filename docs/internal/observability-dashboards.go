// SPDX-License-Identifier: Apache-2.0
// Pistis Call Reliability Dashboards
// This file documents dashboard templates for OpenTelemetry OTEL UI or Grafana.
//
// DASHBOARD: Call Outcomes
//   Shows call volume and terminal status over time.
//
//   Queries:
//   - pistis.calls.total{tool, status} (rate 5m)
//     Metric: Terminal calls by tool and status
//     Display: Stacked area chart (completed, failed, timeout)
//     Alert Threshold: failed+timeout > 5% of total for 10m
//
//   - pistis.calls.attempts (histogram)
//     Metric: Attempts consumed per logical call
//     Display: Heatmap
//     Goal: p95 attempts <= 2; a rising p95 means the peer is degrading
//       before callers notice failures
//
//   - pistis.calls.retries{tool} (rate 5m)
//     Metric: Retry volume by tool
//     Display: Line chart with legend
//     Alert Threshold: sustained retries on a single tool > 1/s
//
// DASHBOARD: Deduplication & Concurrency
//   Shows how much work the cache absorbs and how close sessions run to
//   their concurrency ceiling.
//
//   Queries:
//   - pistis.dedup.hits{tool} (rate 5m)
//     Metric: Calls served from the idempotency cache
//     Display: Line chart
//     Meaning: a spike usually indicates caller-side retry storms; the
//       cache is doing its job, but the caller deserves a look
//
//   - pistis.calls.in_flight
//     Metric: Calls currently inside the pipeline (gauge)
//     Display: Single stat with gauge
//     Threshold: Warning at 80% of session max_concurrent, Critical at 100%
//       (callers are now queuing on permit acquisition)
//
// OPERATIONAL NOTES:
//
// 1. Status semantics:
//    - completed: acknowledged or plain success
//    - failed: retry budget exhausted or non-retryable error
//    - timeout: final attempt ended on the per-attempt deadline
//
// 2. SLO Tracking:
//    - Success rate SLO: completed/total > 99%
//    - Dedup efficiency: hits are free wins, not errors; exclude them from
//      error-rate denominators
//
// 3. Capacity:
//    - Monitor in_flight versus max_concurrent to right-size sessions
//    - Monitor retries per tool to find peers that need longer timeouts
package internal
