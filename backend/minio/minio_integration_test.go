//go:build integration

package minio

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wolfeidau/tensor-cache/backend"
)

const (
	testAccessKey = "minioadmin"
	testSecretKey = "minioadmin"
)

var (
	minioOnce sync.Once
	minioAddr string
	minioErr  error
)

// getMinio returns the shared MinIO address, starting the container if needed.
func getMinio(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	minioOnce.Do(func() {
		minioAddr, minioErr = startMinioContainer(context.Background())
	})
	if minioErr != nil {
		tb.Fatalf("start minio container: %v", minioErr)
	}
	return minioAddr
}

func startMinioContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     testAccessKey,
			"MINIO_ROOT_PASSWORD": testSecretKey,
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start minio container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve minio host: %w", err)
	}
	port, err := container.MappedPort(ctx, "9000/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve minio port: %w", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}

func newTestStore(t *testing.T, bucket string) *Store {
	t.Helper()

	client, err := NewClient(ClientConfig{
		Endpoint:        getMinio(t),
		AccessKeyID:     testAccessKey,
		SecretAccessKey: testSecretKey,
	})
	require.NoError(t, err)

	store := NewStore(client, bucket, "tensors/")
	require.NoError(t, store.EnsureBucket(context.Background(), ""))
	return store
}

func TestMinioStore_Integration(t *testing.T) {
	store := newTestStore(t, "tensor-cache-it")
	ctx := context.Background()

	meta := map[string]string{"tensor-dtype": "float64"}
	require.NoError(t, store.Put(ctx, "92/45/sample_1.tensor/header", []byte("hdr"), meta))
	require.NoError(t, store.Put(ctx, "92/45/sample_1.tensor/c/0", []byte("chunk0"), nil))
	require.NoError(t, store.Put(ctx, "92/45/sample_1.tensor/c/1", []byte("chunk1"), nil))

	payload, gotMeta, err := store.Get(ctx, "92/45/sample_1.tensor/header")
	require.NoError(t, err)
	require.Equal(t, []byte("hdr"), payload)
	require.Equal(t, "float64", gotMeta["tensor-dtype"])

	_, _, err = store.Get(ctx, "92/45/sample_1.tensor/missing")
	require.ErrorIs(t, err, backend.ErrNotFound)

	exists, err := store.Exists(ctx, "92/45/sample_1.tensor")
	require.NoError(t, err)
	require.True(t, exists)

	keys, err := store.List(ctx, "92/45/sample_1.tensor/")
	require.NoError(t, err)
	require.Equal(t, []string{
		"92/45/sample_1.tensor/c/0",
		"92/45/sample_1.tensor/c/1",
		"92/45/sample_1.tensor/header",
	}, keys)

	require.NoError(t, store.DeleteRecursive(ctx, "92/45/sample_1.tensor"))

	exists, err = store.Exists(ctx, "92/45/sample_1.tensor")
	require.NoError(t, err)
	require.False(t, exists)

	// idempotent
	require.NoError(t, store.DeleteRecursive(ctx, "92/45/sample_1.tensor"))
}
