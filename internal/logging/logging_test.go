package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewJSONHandler(buf, nil)), buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &record); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	return record
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Fatal("expected default logger without one on the context")
	}

	logger, _ := captureLogger()
	if FromContext(WithLogger(context.Background(), logger)) != logger {
		t.Fatal("expected stored logger")
	}
}

func TestWithAddsAttributes(t *testing.T) {
	logger, buf := captureLogger()
	ctx := With(WithLogger(context.Background(), logger), "user_id", "u-1")

	FromContext(ctx).Info("hello")

	if got := lastRecord(t, buf)["user_id"]; got != "u-1" {
		t.Fatalf("expected user_id attribute, got %v", got)
	}
}

func TestStartSpanReusesRequestID(t *testing.T) {
	logger, buf := captureLogger()
	ctx := WithRequestID(WithLogger(context.Background(), logger), "req-42")

	ctx, span := StartSpan(ctx, "meetings.accept", "meeting_id", "m-1")
	span.End()

	if got := TraceIDFromContext(ctx); got != "req-42" {
		t.Fatalf("expected trace id to follow request id, got %q", got)
	}

	record := lastRecord(t, buf)
	if record["msg"] != "span completed" || record["span_name"] != "meetings.accept" || record["meeting_id"] != "m-1" {
		t.Fatalf("unexpected span record %v", record)
	}
	if _, ok := record["duration"]; !ok {
		t.Fatal("expected duration on span record")
	}
}

func TestStartSpanNestsUnderParent(t *testing.T) {
	logger, buf := captureLogger()
	ctx, parent := StartSpan(WithLogger(context.Background(), logger), "outer")
	parentID := SpanIDFromContext(ctx)
	traceID := TraceIDFromContext(ctx)
	if parentID == "" || traceID == "" {
		t.Fatal("expected span and trace ids")
	}

	child, span := StartSpan(ctx, "inner")
	span.End()
	parent.End()

	if TraceIDFromContext(child) != traceID {
		t.Fatal("expected child span to keep the trace id")
	}
	if SpanIDFromContext(child) == parentID {
		t.Fatal("expected a fresh span id for the child")
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var inner map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &inner); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inner["parent_span_id"] != parentID {
		t.Fatalf("expected parent_span_id %s, got %v", parentID, inner["parent_span_id"])
	}
}

func TestNilSpanEnd(t *testing.T) {
	var span *Span
	span.End()
}
