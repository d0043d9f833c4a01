package tracker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBeginEnd(t *testing.T) {
	tr := New(newLogger())
	if err := tr.Begin("req-1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if tr.Size() != 1 {
		t.Fatalf("expected size 1, got %d", tr.Size())
	}
	snap := tr.Snapshot()
	if len(snap) != 1 || snap[0].ID != "req-1" || string(snap[0].Payload) != `{"a":1}` {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !tr.End("req-1") {
		t.Fatal("expected end to report removal")
	}
	if tr.End("req-1") {
		t.Fatal("second end must be a no-op")
	}
	if tr.Size() != 0 {
		t.Fatalf("expected empty tracker, got %d", tr.Size())
	}
}

func TestBeginDuplicate(t *testing.T) {
	tr := New(newLogger())
	if err := tr.Begin("dup", nil); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tr.Begin("dup", nil); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if tr.Size() != 1 {
		t.Fatalf("expected size 1, got %d", tr.Size())
	}
}

func TestSnapshotOrdered(t *testing.T) {
	tr := New(newLogger())
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		offset := time.Duration(i) * time.Second
		tr.clock = func() time.Time { return base.Add(offset) }
		if err := tr.Begin(id, nil); err != nil {
			t.Fatal(err)
		}
	}
	snap := tr.Snapshot()
	if len(snap) != 3 || snap[0].ID != "c" || snap[2].ID != "b" {
		t.Fatalf("unexpected snapshot order: %+v", snap)
	}
}

func TestConcurrentBeginEnd(t *testing.T) {
	tr := New(newLogger())
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			if err := tr.Begin(id, nil); err != nil {
				t.Errorf("begin %s: %v", id, err)
				return
			}
			if !tr.End(id) {
				t.Errorf("end %s: missing", id)
			}
		}(i)
	}
	wg.Wait()
	if tr.Size() != 0 {
		t.Fatalf("expected empty tracker, got %d", tr.Size())
	}
}
