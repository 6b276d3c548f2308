// Package store implements TensorCache: a key-addressed cache of arrays
// persisted through a pluggable backend.
//
// A record for key k lives under the shard path of k and consists of one
// header object plus one object per chunk:
//
//	{shard path}/header
//	{shard path}/c/{i}
//
// Put clears the shard path, writes the chunks and writes the header last,
// so a record without a header is either a miss (nothing under the path)
// or a partial record reported as a *tensorcache.FormatError.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	tensorcache "github.com/wolfeidau/tensor-cache"
	"github.com/wolfeidau/tensor-cache/backend"
	"github.com/wolfeidau/tensor-cache/record"
	"github.com/wolfeidau/tensor-cache/telemetry"
)

// Operation names reported in events and metrics.
const (
	OpPut     = "put"
	OpGet     = "get"
	OpExists  = "exists"
	OpDelete  = "delete"
	OpStat    = "stat"
	OpGetRows = "get_rows"
)

const (
	headerObject = "header"
	chunkDir     = "c"
)

// TensorCache stores arrays under keys. It holds no mutable state and is
// safe for concurrent use.
type TensorCache struct {
	cfg      Config
	backend  backend.Backend
	owned    bool
	observer Observer
	logger   *slog.Logger
	encode   record.Options
	coalesce *coalescer
}

// Option configures a TensorCache.
type Option func(*TensorCache)

// WithObserver sets the observer notified after every operation.
func WithObserver(o Observer) Option {
	return func(c *TensorCache) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *TensorCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBackend uses b instead of opening the backend named by Config.BasePath.
// The cache does not close a backend supplied this way.
func WithBackend(b backend.Backend) Option {
	return func(c *TensorCache) {
		c.backend = b
	}
}

// New validates cfg and opens the cache.
func New(ctx context.Context, cfg Config, opts ...Option) (*TensorCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &TensorCache{
		cfg:      cfg,
		observer: nopObserver{},
		logger:   slog.Default(),
		encode: record.Options{
			ChunkBytes:  cfg.ChunkBytes,
			Compression: cfg.Compression,
		},
	}
	if cfg.CoalesceReads {
		c.coalesce = &coalescer{}
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.backend == nil {
		b, err := OpenBackend(ctx, cfg, c.logger)
		if err != nil {
			return nil, err
		}
		c.backend = b
		c.owned = true
	}
	return c, nil
}

// Close releases the backend when the cache opened it.
func (c *TensorCache) Close() error {
	if !c.owned {
		return nil
	}
	return backend.Close(c.backend)
}

// Path returns the full storage path of key, including the base path.
func (c *TensorCache) Path(key string) string {
	return tensorcache.ShardPath(c.cfg.BasePath, key)
}

// Put stores arr under key, replacing any previous record.
func (c *TensorCache) Put(ctx context.Context, key string, arr *tensorcache.Array) error {
	ev := c.newEvent(OpPut, key)
	err := c.put(telemetry.WithCacheOp(ctx, OpPut), key, arr, ev)
	c.emit(ctx, ev, err)
	return err
}

// Get returns the array stored under key. A miss returns (nil, false, nil).
func (c *TensorCache) Get(ctx context.Context, key string) (*tensorcache.Array, bool, error) {
	ev := c.newEvent(OpGet, key)
	arr, ok, err := c.get(telemetry.WithCacheOp(ctx, OpGet), key, ev)
	c.emit(ctx, ev, err)
	return arr, ok, err
}

// GetRows returns rows [lo, hi) of axis 0 of the array stored under key,
// reading only the chunks that hold them.
func (c *TensorCache) GetRows(ctx context.Context, key string, lo, hi int) (*tensorcache.Array, bool, error) {
	ev := c.newEvent(OpGetRows, key)
	arr, ok, err := c.getRows(telemetry.WithCacheOp(ctx, OpGetRows), key, lo, hi, ev)
	c.emit(ctx, ev, err)
	return arr, ok, err
}

// Stat returns the header of the record stored under key without reading
// any chunk.
func (c *TensorCache) Stat(ctx context.Context, key string) (*record.Header, bool, error) {
	ev := c.newEvent(OpStat, key)
	h, ok, err := c.stat(telemetry.WithCacheOp(ctx, OpStat), key, ev)
	c.emit(ctx, ev, err)
	return h, ok, err
}

// Exists reports whether anything is stored under key. It does not decode
// the record, so a partial record exists but fails Get.
func (c *TensorCache) Exists(ctx context.Context, key string) (bool, error) {
	ev := c.newEvent(OpExists, key)
	ok, err := c.exists(telemetry.WithCacheOp(ctx, OpExists), key)
	ev.Hit = ok
	c.emit(ctx, ev, err)
	return ok, err
}

// Delete removes the record stored under key. Deleting a missing key is a no-op.
func (c *TensorCache) Delete(ctx context.Context, key string) error {
	ev := c.newEvent(OpDelete, key)
	err := c.delete(telemetry.WithCacheOp(ctx, OpDelete), key)
	c.emit(ctx, ev, err)
	return err
}

func (c *TensorCache) put(ctx context.Context, key string, arr *tensorcache.Array, ev *Event) error {
	rel, err := c.rel(key)
	if err != nil {
		return err
	}
	rec, err := record.Encode(arr, c.encode)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	hdr, err := record.MarshalHeader(rec.Header)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	ev.describe(rec.Header)

	if err := c.backend.DeleteRecursive(ctx, rel); err != nil {
		return c.backendErr("delete", rel, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.concurrency())
	for i, chunk := range rec.Chunks {
		g.Go(func() error {
			p := chunkPath(rel, i)
			if err := c.backend.Put(gctx, p, chunk, rec.Header.ChunkMetadata(i)); err != nil {
				return c.backendErr("put", p, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	hp := headerPath(rel)
	if err := c.backend.Put(ctx, hp, hdr, rec.Header.Metadata()); err != nil {
		return c.backendErr("put", hp, err)
	}
	return nil
}

func (c *TensorCache) get(ctx context.Context, key string, ev *Event) (*tensorcache.Array, bool, error) {
	rel, err := c.rel(key)
	if err != nil {
		return nil, false, err
	}

	var l loaded
	if c.coalesce != nil {
		l, ev.Shared, err = c.coalesce.do(ctx, rel, c.load)
	} else {
		l, err = c.load(ctx, rel)
	}
	if err != nil || l.header == nil {
		return nil, false, err
	}
	ev.Hit = true
	ev.describe(l.header)
	return l.arr, true, nil
}

// load reads and decodes the record at rel.
func (c *TensorCache) load(ctx context.Context, rel string) (loaded, error) {
	h, ok, err := c.readHeader(ctx, rel)
	if err != nil || !ok {
		return loaded{}, err
	}
	chunks, err := c.readChunks(ctx, rel, h, 0, len(h.Chunks))
	if err != nil {
		return loaded{}, err
	}
	arr, err := record.Decode(h, chunks)
	if err != nil {
		return loaded{}, c.withPath(rel, err)
	}
	return loaded{header: h, arr: arr}, nil
}

func (c *TensorCache) getRows(ctx context.Context, key string, lo, hi int, ev *Event) (*tensorcache.Array, bool, error) {
	rel, err := c.rel(key)
	if err != nil {
		return nil, false, err
	}
	h, ok, err := c.readHeader(ctx, rel)
	if err != nil || !ok {
		return nil, false, err
	}
	ev.Hit = true
	ev.DType = h.DType
	ev.Shape = h.Shape

	first, end, err := h.ChunkRange(lo, hi)
	if err != nil {
		return nil, false, err
	}
	chunks, err := c.readChunks(ctx, rel, h, first, end)
	if err != nil {
		return nil, false, err
	}
	arr, err := record.DecodeRows(h, lo, hi, chunks)
	if err != nil {
		return nil, false, c.withPath(rel, err)
	}
	ev.Chunks = end - first
	ev.Bytes = arr.NBytes()
	for _, chunk := range chunks {
		ev.StoredBytes += len(chunk)
	}
	return arr, true, nil
}

func (c *TensorCache) stat(ctx context.Context, key string, ev *Event) (*record.Header, bool, error) {
	rel, err := c.rel(key)
	if err != nil {
		return nil, false, err
	}
	h, ok, err := c.readHeader(ctx, rel)
	if err != nil || !ok {
		return nil, false, err
	}
	ev.Hit = true
	ev.describe(h)
	return h, true, nil
}

func (c *TensorCache) exists(ctx context.Context, key string) (bool, error) {
	rel, err := c.rel(key)
	if err != nil {
		return false, err
	}
	ok, err := c.backend.Exists(ctx, rel)
	if err != nil {
		return false, c.backendErr("exists", rel, err)
	}
	return ok, nil
}

func (c *TensorCache) delete(ctx context.Context, key string) error {
	rel, err := c.rel(key)
	if err != nil {
		return err
	}
	if err := c.backend.DeleteRecursive(ctx, rel); err != nil && !errors.Is(err, backend.ErrNotFound) {
		return c.backendErr("delete", rel, err)
	}
	return nil
}

// readHeader loads and parses the header object. A missing header is a
// miss only when nothing else is stored under rel.
func (c *TensorCache) readHeader(ctx context.Context, rel string) (*record.Header, bool, error) {
	hp := headerPath(rel)
	data, _, err := c.backend.Get(ctx, hp)
	if errors.Is(err, backend.ErrNotFound) {
		partial, xerr := c.backend.Exists(ctx, rel)
		if xerr != nil {
			return nil, false, c.backendErr("exists", rel, xerr)
		}
		if partial {
			return nil, false, tensorcache.NewFormatError(c.full(rel), nil, "header object missing")
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, c.backendErr("get", hp, err)
	}

	h, err := record.ParseHeader(data)
	if err != nil {
		return nil, false, c.withPath(rel, err)
	}
	return h, true, nil
}

// readChunks fetches the stored bytes of chunks [first, end) concurrently.
func (c *TensorCache) readChunks(ctx context.Context, rel string, h *record.Header, first, end int) ([][]byte, error) {
	chunks := make([][]byte, end-first)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.concurrency())
	for i := first; i < end; i++ {
		g.Go(func() error {
			p := chunkPath(rel, i)
			data, _, err := c.backend.Get(gctx, p)
			if errors.Is(err, backend.ErrNotFound) {
				return tensorcache.NewFormatError(c.full(rel), nil, "chunk %d of %d missing", i, len(h.Chunks))
			}
			if err != nil {
				return c.backendErr("get", p, err)
			}
			chunks[i-first] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (c *TensorCache) rel(key string) (string, error) {
	if err := tensorcache.CheckKey(key, c.cfg.RejectUnsafeKeys); err != nil {
		return "", err
	}
	return tensorcache.ShardPath("", key), nil
}

func (c *TensorCache) full(rel string) string {
	base := strings.TrimRight(c.cfg.BasePath, "/")
	if base == "" {
		return rel
	}
	return base + "/" + rel
}

// backendErr classifies a backend failure. Objects the backend cannot
// unframe are format errors; everything else is a storage error.
func (c *TensorCache) backendErr(op, path string, err error) error {
	if errors.Is(err, backend.ErrCorrupt) {
		return tensorcache.NewFormatError(c.full(path), err, "unreadable object")
	}
	return &tensorcache.StorageError{Op: op, Path: c.full(path), Err: err}
}

// withPath fills in the record path of a FormatError raised by the codec.
func (c *TensorCache) withPath(rel string, err error) error {
	var fe *tensorcache.FormatError
	if errors.As(err, &fe) && fe.Path == "" {
		fe.Path = c.full(rel)
	}
	return err
}

func headerPath(rel string) string {
	return rel + "/" + headerObject
}

func chunkPath(rel string, i int) string {
	return rel + "/" + chunkDir + "/" + strconv.Itoa(i)
}
