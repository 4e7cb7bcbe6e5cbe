// Copyright 2026 © The Pistis Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/pistis/pkg/redact"
)

// ConfigureSlog sets the global slog logger. Every record is scrubbed of
// credential material and enriched with the active trace and span ids
// before it reaches the underlying handler.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	handler := newSlogHandler(output, level, format)
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func newSlogHandler(output io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}
	var base slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		base = slog.NewJSONHandler(output, opts)
	default:
		base = slog.NewTextHandler(output, opts)
	}
	return &scrubHandler{next: base, sanitizer: redact.New()}
}

// scrubHandler redacts credentials from the message and string-valued
// attributes and appends trace_id/span_id when a span is active. Log
// records frequently carry transport errors verbatim, so the sanitizer
// runs here too, not only at the session boundary.
type scrubHandler struct {
	next      slog.Handler
	sanitizer *redact.Sanitizer
}

func (h *scrubHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *scrubHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level,
		h.sanitizer.Apply(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(h.scrubAttr(attr))
		return true
	})

	traceID, spanID := spanIDsFromContext(ctx)
	if traceID != "" && !recordHasAttr(clean, "trace_id") {
		clean.AddAttrs(slog.String("trace_id", traceID))
	}
	if spanID != "" && !recordHasAttr(clean, "span_id") {
		clean.AddAttrs(slog.String("span_id", spanID))
	}
	return h.next.Handle(ctx, clean)
}

func (h *scrubHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		clean[i] = h.scrubAttr(attr)
	}
	return &scrubHandler{next: h.next.WithAttrs(clean), sanitizer: h.sanitizer}
}

func (h *scrubHandler) WithGroup(name string) slog.Handler {
	return &scrubHandler{next: h.next.WithGroup(name), sanitizer: h.sanitizer}
}

func (h *scrubHandler) scrubAttr(attr slog.Attr) slog.Attr {
	switch attr.Value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, h.sanitizer.Apply(attr.Value.String()))
	case slog.KindGroup:
		members := attr.Value.Group()
		clean := make([]any, 0, len(members))
		for _, m := range members {
			clean = append(clean, h.scrubAttr(m))
		}
		return slog.Group(attr.Key, clean...)
	default:
		return attr
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func spanIDsFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return "", ""
	}
	sc := span.SpanContext()
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

func recordHasAttr(record slog.Record, key string) bool {
	found := false
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			found = true
			return false
		}
		return true
	})
	return found
}
