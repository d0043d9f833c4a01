package eventstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice-relay/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.BeginRequest(ctx, Request{ID: "r"}); err != nil {
		t.Fatalf("ephemeral begin must be a no-op: %v", err)
	}
	if _, err := es.GetRequest(ctx, "r"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	if err := es.BeginRequest(ctx, Request{ID: "req-123", Voice: "alloy", SampleRate: 24000, TextLength: 22}); err != nil {
		t.Fatalf("begin request: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{RequestID: "req-123", Type: "provider.completed", Payload: []byte("hello")}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.FinishRequest(ctx, "req-123", "completed", 200); err != nil {
		t.Fatalf("finish request: %v", err)
	}

	req, err := es.GetRequest(ctx, "req-123")
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if req.Outcome != "completed" || req.Status != 200 || req.SampleRate != 24000 || req.FinishedAt.IsZero() {
		t.Fatalf("unexpected request row %+v", req)
	}

	events, err := es.ListRequestEvents(ctx, "req-123", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || string(events[0].Payload) != "hello" {
		t.Fatalf("unexpected events %+v", events)
	}

	if err := es.FinishRequest(ctx, "missing", "failed", 500); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxRequests: 1}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.BeginRequest(ctx, Request{ID: "old"}); err != nil {
		t.Fatalf("begin request: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{RequestID: "old", Type: "note"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.BeginRequest(ctx, Request{ID: "new-a"}); err != nil {
		t.Fatal(err)
	}
	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 1, 0, time.UTC) }
	if err := es.BeginRequest(ctx, Request{ID: "new-b"}); err != nil {
		t.Fatal(err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, err := es.GetRequest(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old request pruned, got %v", err)
	}
	events, err := es.ListRequestEvents(ctx, "old", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old events pruned")
	}
	if _, err := es.GetRequest(ctx, "new-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected new-a trimmed by max_requests, got %v", err)
	}
	if _, err := es.GetRequest(ctx, "new-b"); err != nil {
		t.Fatalf("expected newest request kept: %v", err)
	}
}
