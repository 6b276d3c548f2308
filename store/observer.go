package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	tensorcache "github.com/wolfeidau/tensor-cache"
	"github.com/wolfeidau/tensor-cache/record"
	"github.com/wolfeidau/tensor-cache/telemetry"
)

// Event describes one completed cache operation.
type Event struct {
	// ID identifies the operation for log correlation.
	ID       string
	Op       string
	Key      string
	Path     string
	Start    time.Time
	Duration time.Duration

	// Hit is set when a read found a record, or Exists returned true.
	Hit bool

	// Shared is set when a Get reused a concurrent read of the same key.
	Shared bool

	DType       tensorcache.DType
	Shape       []int
	Bytes       int
	StoredBytes int
	Chunks      int

	Err error
}

// Observer is notified after every cache operation.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

// MultiObserver fans an event out to several observers in order.
type MultiObserver []Observer

// Observe notifies every observer.
func (m MultiObserver) Observe(ctx context.Context, ev Event) {
	for _, o := range m {
		o.Observe(ctx, ev)
	}
}

type nopObserver struct{}

func (nopObserver) Observe(context.Context, Event) {}

// LogObserver logs each operation at debug level, and failed operations at warn.
func LogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return ObserverFunc(func(ctx context.Context, ev Event) {
		attrs := []any{
			"id", ev.ID,
			"op", ev.Op,
			"key", ev.Key,
			"path", ev.Path,
			"duration", ev.Duration,
			"hit", ev.Hit,
		}
		if ev.Shared {
			attrs = append(attrs, "shared", true)
		}
		if ev.DType.Valid() {
			attrs = append(attrs,
				"dtype", ev.DType.String(),
				"shape", ev.Shape,
				"bytes", ev.Bytes,
				"stored_bytes", ev.StoredBytes,
				"chunks", ev.Chunks,
			)
		}
		if ev.Err != nil {
			logger.WarnContext(ctx, "cache operation failed", append(attrs, "error", ev.Err)...)
			return
		}
		logger.DebugContext(ctx, "cache operation", attrs...)
	})
}

// MetricsObserver records each operation with the telemetry package.
// Metrics must be initialised with telemetry.InitMetrics; before that
// recording is a no-op.
func MetricsObserver() Observer {
	return ObserverFunc(func(ctx context.Context, ev Event) {
		telemetry.RecordCacheOp(ctx, ev.Op, resultOf(ev), ev.Duration, int64(ev.Bytes))
	})
}

func resultOf(ev Event) telemetry.CacheResult {
	switch {
	case ev.Err != nil:
		return telemetry.CacheError
	case ev.Op == OpPut:
		return telemetry.CacheStored
	case ev.Op == OpDelete:
		return telemetry.CacheNA
	case ev.Hit:
		return telemetry.CacheHit
	default:
		return telemetry.CacheMiss
	}
}

func (c *TensorCache) newEvent(op, key string) *Event {
	return &Event{
		ID:    uuid.NewString(),
		Op:    op,
		Key:   key,
		Path:  c.Path(key),
		Start: time.Now(),
	}
}

func (c *TensorCache) emit(ctx context.Context, ev *Event, err error) {
	ev.Duration = time.Since(ev.Start)
	ev.Err = err
	c.observer.Observe(ctx, *ev)
}

func (ev *Event) describe(h *record.Header) {
	ev.DType = h.DType
	ev.Shape = h.Shape
	ev.Bytes = h.NBytes()
	ev.StoredBytes = h.StoredBytes()
	ev.Chunks = len(h.Chunks)
}
