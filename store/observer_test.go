package store

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	tensorcache "github.com/wolfeidau/tensor-cache"
	"github.com/wolfeidau/tensor-cache/telemetry"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestObserverEvents(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	c, _ := newMemoryCache(t, Config{ChunkBytes: 800}, WithObserver(rec))

	arr := rowsArray(t, 25, 10)
	require.NoError(t, c.Put(ctx, "k", arr))
	_, _, err := c.Get(ctx, "k")
	require.NoError(t, err)
	_, _, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	_, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, "k"))
	require.Error(t, c.Put(ctx, "", arr))

	require.Len(t, rec.events, 6)

	put := rec.events[0]
	require.Equal(t, OpPut, put.Op)
	require.Equal(t, "k", put.Key)
	require.Equal(t, c.Path("k"), put.Path)
	require.Equal(t, tensorcache.Float64, put.DType)
	require.Equal(t, []int{25, 10}, put.Shape)
	require.Equal(t, arr.NBytes(), put.Bytes)
	require.Equal(t, 3, put.Chunks)
	_, err = uuid.Parse(put.ID)
	require.NoError(t, err)

	require.True(t, rec.events[1].Hit)
	require.False(t, rec.events[2].Hit)
	require.True(t, rec.events[3].Hit)
	require.Equal(t, OpDelete, rec.events[4].Op)
	require.ErrorIs(t, rec.events[5].Err, tensorcache.ErrInvalidArgument)
	require.NotEqual(t, rec.events[0].ID, rec.events[1].ID)
}

func TestMultiObserver(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	MultiObserver{a, b}.Observe(context.Background(), Event{Op: OpGet})
	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := LogObserver(logger)

	obs.Observe(context.Background(), Event{ID: "abc", Op: OpGet, Key: "k", Hit: true, DType: tensorcache.Int8, Shape: []int{2}})
	require.Contains(t, buf.String(), `"level":"DEBUG"`)
	require.Contains(t, buf.String(), `"dtype":"int8"`)

	buf.Reset()
	obs.Observe(context.Background(), Event{ID: "def", Op: OpPut, Key: "k", Err: errors.New("boom")})
	require.Contains(t, buf.String(), `"level":"WARN"`)
	require.Contains(t, buf.String(), `"error":"boom"`)
	require.NotContains(t, buf.String(), "dtype")
}

func TestResultOf(t *testing.T) {
	tests := []struct {
		ev   Event
		want telemetry.CacheResult
	}{
		{ev: Event{Op: OpGet, Hit: true}, want: telemetry.CacheHit},
		{ev: Event{Op: OpGet}, want: telemetry.CacheMiss},
		{ev: Event{Op: OpExists}, want: telemetry.CacheMiss},
		{ev: Event{Op: OpPut}, want: telemetry.CacheStored},
		{ev: Event{Op: OpDelete}, want: telemetry.CacheNA},
		{ev: Event{Op: OpGet, Hit: true, Err: errors.New("x")}, want: telemetry.CacheError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, resultOf(tt.ev), "%+v", tt.ev)
	}
}

func TestMetricsObserverWithoutInit(t *testing.T) {
	require.NotPanics(t, func() {
		MetricsObserver().Observe(context.Background(), Event{Op: OpPut, Bytes: 10})
	})
}
