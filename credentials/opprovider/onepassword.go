// Package opprovider resolves credentials template references with the
// 1Password CLI.
package opprovider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/wolfeidau/tensor-cache/credentials"
)

// Name is the template function registered by WithOnePassword.
const Name = "op"

// WithOnePassword registers an "op" template function that runs
// `op read <ref>`, for example {{ op "op://ml/minio/password" | json }}.
func WithOnePassword() credentials.ResolverOption {
	return WithCommand("op")
}

// WithCommand is WithOnePassword with an explicit path to the op binary.
func WithCommand(bin string) credentials.ResolverOption {
	return credentials.WithProvider(Name, func(ctx context.Context, ref string) (string, error) {
		cmd := exec.CommandContext(ctx, bin, "read", ref)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("op read %q: %s: %w", ref, strings.TrimSpace(stderr.String()), err)
		}
		return strings.TrimSpace(stdout.String()), nil
	})
}
