package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheOpFromContext(t *testing.T) {
	require.Empty(t, CacheOpFromContext(context.Background()))

	ctx := WithCacheOp(context.Background(), "put")
	require.Equal(t, "put", CacheOpFromContext(ctx))

	ctx = WithCacheOp(ctx, "delete")
	require.Equal(t, "delete", CacheOpFromContext(ctx))
}
