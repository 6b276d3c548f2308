package backend

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Backend so every call first waits on a token bucket.
// It is meant for remote object stores that throttle request rates.
type RateLimited struct {
	backend Backend
	limiter *rate.Limiter
}

// NewRateLimited allows rps requests per second with the given burst.
// A burst below one is raised to one.
func NewRateLimited(b Backend, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{backend: b, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

func (r *RateLimited) Put(ctx context.Context, path string, payload []byte, meta map[string]string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.backend.Put(ctx, path, payload, meta)
}

func (r *RateLimited) Get(ctx context.Context, path string) ([]byte, map[string]string, error) {
	if err := r.wait(ctx); err != nil {
		return nil, nil, err
	}
	return r.backend.Get(ctx, path)
}

func (r *RateLimited) Exists(ctx context.Context, path string) (bool, error) {
	if err := r.wait(ctx); err != nil {
		return false, err
	}
	return r.backend.Exists(ctx, path)
}

func (r *RateLimited) DeleteRecursive(ctx context.Context, path string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.backend.DeleteRecursive(ctx, path)
}

func (r *RateLimited) List(ctx context.Context, prefix string) ([]string, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.backend.List(ctx, prefix)
}

// Close closes the underlying backend if it holds resources.
func (r *RateLimited) Close() error {
	return Close(r.backend)
}

// Unwrap returns the underlying backend.
func (r *RateLimited) Unwrap() Backend {
	return r.backend
}

var _ Backend = (*RateLimited)(nil)
