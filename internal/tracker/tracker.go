package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// ErrDuplicate is returned by Begin when the id is already pending.
var ErrDuplicate = errors.New("request id already tracked")

// Record is a single in-flight synthesis request.
type Record struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Payload   []byte    `json:"-"`
}

// Tracker is the registry of in-flight requests keyed by request id.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]Record
	clock   func() time.Time
	log     *slog.Logger
	meter   metric.Meter
	gauge   metric.Int64ObservableGauge
}

func New(log *slog.Logger) *Tracker {
	t := &Tracker{
		records: make(map[string]Record),
		clock:   time.Now,
		log:     log.With(slog.String("component", "request-tracker")),
		meter:   otel.Meter("github.com/loqalabs/loqa-voice-relay/tracker"),
	}
	if err := t.initMetrics(); err != nil {
		t.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return t
}

// Begin inserts a record for id. The payload is copied.
func (t *Tracker) Begin(id string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.records[id]; ok {
		return ErrDuplicate
	}
	t.records[id] = Record{
		ID:        id,
		StartedAt: t.clock(),
		Payload:   append([]byte(nil), payload...),
	}
	return nil
}

// End removes id and reports whether it was present.
func (t *Tracker) End(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.records[id]; !ok {
		return false
	}
	delete(t.records, id)
	return true
}

func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Snapshot returns the pending records ordered by start time.
func (t *Tracker) Snapshot() []Record {
	t.mu.RLock()
	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (t *Tracker) initMetrics() error {
	if t.meter == nil {
		return nil
	}
	gauge, err := t.meter.Int64ObservableGauge("relay.requests.active", metric.WithDescription("Synthesis requests currently in flight"))
	if err != nil {
		return err
	}
	t.gauge = gauge
	_, err = t.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(t.Size()))
		return nil
	}, gauge)
	return err
}
