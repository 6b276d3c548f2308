package backend

import (
	"context"
	"time"

	"github.com/wolfeidau/tensor-cache/telemetry"
)

// Instrumented wraps a Backend with metrics recording.
type Instrumented struct {
	backend Backend
	name    string
}

// NewInstrumented creates a new instrumented backend wrapper.
// name labels the metrics ("filesystem", "s3", ...).
func NewInstrumented(b Backend, name string) *Instrumented {
	return &Instrumented{backend: b, name: name}
}

func (ib *Instrumented) Put(ctx context.Context, path string, payload []byte, meta map[string]string) error {
	start := time.Now()
	err := ib.backend.Put(ctx, path, payload, meta)
	telemetry.RecordBackendOp(ctx, ib.name, "put", Outcome(err), time.Since(start), int64(len(payload)))
	return err
}

func (ib *Instrumented) Get(ctx context.Context, path string) ([]byte, map[string]string, error) {
	start := time.Now()
	payload, meta, err := ib.backend.Get(ctx, path)
	telemetry.RecordBackendOp(ctx, ib.name, "get", Outcome(err), time.Since(start), int64(len(payload)))
	return payload, meta, err
}

func (ib *Instrumented) Exists(ctx context.Context, path string) (bool, error) {
	start := time.Now()
	exists, err := ib.backend.Exists(ctx, path)
	telemetry.RecordBackendOp(ctx, ib.name, "exists", Outcome(err), time.Since(start), 0)
	return exists, err
}

func (ib *Instrumented) DeleteRecursive(ctx context.Context, path string) error {
	start := time.Now()
	err := ib.backend.DeleteRecursive(ctx, path)
	telemetry.RecordBackendOp(ctx, ib.name, "delete_recursive", Outcome(err), time.Since(start), 0)
	return err
}

func (ib *Instrumented) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := ib.backend.List(ctx, prefix)
	telemetry.RecordBackendOp(ctx, ib.name, "list", Outcome(err), time.Since(start), 0)
	return keys, err
}

// Close closes the underlying backend if it holds resources.
func (ib *Instrumented) Close() error {
	return Close(ib.backend)
}

// Unwrap returns the underlying backend.
func (ib *Instrumented) Unwrap() Backend {
	return ib.backend
}

var _ Backend = (*Instrumented)(nil)
