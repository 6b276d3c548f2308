package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	tensorcache "github.com/wolfeidau/tensor-cache"
	"github.com/wolfeidau/tensor-cache/backend"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in   string
		want Location
	}{
		{in: "/var/cache/tensors", want: Location{Scheme: SchemeFile, Path: "/var/cache/tensors"}},
		{in: "relative/dir", want: Location{Scheme: SchemeFile, Path: "relative/dir"}},
		{in: "file:///var/cache", want: Location{Scheme: SchemeFile, Path: "/var/cache"}},
		{in: "s3://bucket/a/b/", want: Location{Scheme: SchemeS3, Bucket: "bucket", Prefix: "a/b"}},
		{in: "s3://bucket", want: Location{Scheme: SchemeS3, Bucket: "bucket"}},
		{in: "MINIO://bucket/p", want: Location{Scheme: SchemeMinIO, Bucket: "bucket", Prefix: "p"}},
		{in: "bolt:///tmp/cache.db", want: Location{Scheme: SchemeBolt, Path: "/tmp/cache.db"}},
		{in: "mem://unit", want: Location{Scheme: SchemeMem, Path: "unit"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLocation(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseLocationErrors(t *testing.T) {
	for _, in := range []string{"", "gs://bucket", "s3:///prefix", "bolt://", "file://"} {
		_, err := ParseLocation(in)
		require.ErrorIs(t, err, tensorcache.ErrInvalidArgument, in)
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, Config{BasePath: "/tmp/x"}.Validate())

	err := Config{
		BasePath:    "minio://bucket",
		ChunkBytes:  -1,
		Concurrency: -2,
		Compression: "snappy",
		RateLimit:   RateLimitConfig{RequestsPerSecond: -1},
	}.Validate()
	require.ErrorIs(t, err, tensorcache.ErrInvalidArgument)
	for _, want := range []string{"chunk_bytes", "concurrency", "snappy", "rate_limit", "minio.endpoint"} {
		require.ErrorContains(t, err, want)
	}

	require.Equal(t, DefaultConcurrency, Config{}.concurrency())
	require.Equal(t, 2, Config{Concurrency: 2}.concurrency())
}

func TestOpenBackendMemoryIsShared(t *testing.T) {
	ctx := context.Background()
	cfg := Config{BasePath: "mem://" + t.Name()}

	a, err := OpenBackend(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Put(ctx, "x", []byte("1"), nil))

	b, err := OpenBackend(ctx, cfg, nil)
	require.NoError(t, err)
	data, _, err := b.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), data)
}

func TestOpenBackendWrappers(t *testing.T) {
	ctx := context.Background()
	b, err := OpenBackend(ctx, Config{
		BasePath:  t.TempDir(),
		RateLimit: RateLimitConfig{RequestsPerSecond: 1000, Burst: 10},
	}, nil)
	require.NoError(t, err)

	inst, ok := b.(*backend.Instrumented)
	require.True(t, ok)
	_, ok = inst.Unwrap().(*backend.RateLimited)
	require.True(t, ok)
}

func TestCacheOverBolt(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	c, err := New(ctx, Config{
		BasePath: "bolt://" + dbPath,
		Bolt:     BoltConfig{NoSync: true},
	})
	require.NoError(t, err)

	arr := sample1(t)
	require.NoError(t, c.Put(ctx, "sample_1", arr))
	got, ok, err := c.Get(ctx, "sample_1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, arr.Equal(got))
	require.NoError(t, c.Close())

	// reopen and read back
	c, err = New(ctx, Config{BasePath: "bolt://" + dbPath})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	got, ok, err = c.Get(ctx, "sample_1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, arr.Equal(got))
}
