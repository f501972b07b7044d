package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func newBufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Fatal("expected default logger")
	}

	var buf bytes.Buffer
	logger := newBufferLogger(&buf)
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatal("expected stored logger")
	}
	if WithLogger(ctx, nil) != ctx {
		t.Fatal("a nil logger should leave the context unchanged")
	}
}

func TestWithAddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), newBufferLogger(&buf))
	ctx = With(ctx, "user_id", "u1")

	FromContext(ctx).Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["user_id"] != "u1" {
		t.Fatalf("expected user_id attribute, got %v", entry)
	}
}

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected req-1 got %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty request id got %q", got)
	}
}

func TestJobCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	ctx, job := StartJob(context.Background(), newBufferLogger(&buf), "identity.sync", "req-9", "user_id", "u1")

	if got := RequestIDFromContext(ctx); got != "req-9" {
		t.Fatalf("expected request id on job context, got %q", got)
	}

	job.End(errors.New("directory down"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	for key, want := range map[string]string{"job": "identity.sync", "request_id": "req-9", "user_id": "u1", "error": "directory down"} {
		if entry[key] != want {
			t.Fatalf("expected %s=%q in %v", key, want, entry)
		}
	}
	if entry["job_id"] == "" || entry["job_id"] == nil {
		t.Fatalf("expected job id in %v", entry)
	}
}

func TestNilJobIsSafe(t *testing.T) {
	var job *Job
	job.End(nil)
	if job.Logger() == nil {
		t.Fatal("expected a logger")
	}
}
