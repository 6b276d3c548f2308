package opprovider

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/tensor-cache/credentials"
)

// fakeOp writes a shell script that mimics `op read`.
func fakeOp(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	bin := filepath.Join(t.TempDir(), "op")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return bin
}

func TestWithCommandReadsSecret(t *testing.T) {
	bin := fakeOp(t, `echo "secret-for-$2"`)

	r := credentials.NewResolver(WithCommand(bin))
	creds, err := r.ResolveReader(context.Background(),
		strings.NewReader(`{"minio": {"secret_access_key": {{ op "op://ml/minio" | json }}}}`))
	require.NoError(t, err)
	require.Equal(t, "secret-for-op://ml/minio", creds.MinIO.SecretAccessKey)
}

func TestWithCommandFailure(t *testing.T) {
	bin := fakeOp(t, `echo "not signed in" >&2; exit 1`)

	r := credentials.NewResolver(WithCommand(bin))
	_, err := r.ResolveReader(context.Background(),
		strings.NewReader(`{"s3": {"secret_access_key": {{ op "op://x" | json }}}}`))
	require.ErrorContains(t, err, "not signed in")
}

func TestWithOnePasswordRegistersProvider(t *testing.T) {
	require.NotNil(t, credentials.NewResolver(WithOnePassword()))
}
