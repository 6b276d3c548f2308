// Package telemetry provides OpenTelemetry metrics for cache operations,
// backend calls and remote object store traffic.
package telemetry

import (
	"context"
)

type contextKey string

const (
	// cacheOpKey is the context key for the cache operation driving backend calls.
	cacheOpKey contextKey = "cache_op"
)

// CacheResult represents the outcome of a cache operation.
type CacheResult string

const (
	CacheHit    CacheResult = "hit"
	CacheMiss   CacheResult = "miss"
	CacheStored CacheResult = "stored"
	CacheError  CacheResult = "error"
	CacheNA     CacheResult = "na"
)

// WithCacheOp returns a context tagged with the cache operation name.
// Backend metrics recorded under this context carry it as "cache_op".
func WithCacheOp(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, cacheOpKey, op)
}

// CacheOpFromContext retrieves the cache operation set by WithCacheOp.
func CacheOpFromContext(ctx context.Context) string {
	if op, ok := ctx.Value(cacheOpKey).(string); ok {
		return op
	}
	return ""
}
