// Package credentials renders object store secrets from a template.
//
// A credentials file is a Go text/template that must render to JSON:
//
//	{
//	  "s3":    {"access_key_id": {{ env "AWS_ACCESS_KEY_ID" | json }}, "secret_access_key": {{ env "AWS_SECRET_ACCESS_KEY" | json }}},
//	  "minio": {"access_key_id": "admin", "secret_access_key": {{ file "/run/secrets/minio" | json }}}
//	}
//
// Built-in functions are env, envDefault, file and json. Secret providers
// registered with WithProvider become extra functions and are called at
// most once per reference.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/template"

	"github.com/wolfeidau/tensor-cache/store"
)

const (
	// maxInputSize bounds the template file (1MB).
	maxInputSize = 1 << 20
	// maxOutputSize bounds the rendered JSON (1MB).
	maxOutputSize = 1 << 20
)

// Credentials holds resolved secrets per remote backend.
type Credentials struct {
	S3    *ObjectStoreAuth `json:"s3,omitempty"`
	MinIO *ObjectStoreAuth `json:"minio,omitempty"`
}

// ObjectStoreAuth is a static key pair with an optional session token.
type ObjectStoreAuth struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token,omitempty"`
}

// Apply copies the resolved secrets into cfg. Sections that were not
// rendered leave cfg untouched.
func (c *Credentials) Apply(cfg *store.Config) {
	if c.S3 != nil {
		cfg.S3.AccessKeyID = c.S3.AccessKeyID
		cfg.S3.SecretAccessKey = c.S3.SecretAccessKey
		cfg.S3.SessionToken = c.S3.SessionToken
	}
	if c.MinIO != nil {
		cfg.MinIO.AccessKeyID = c.MinIO.AccessKeyID
		cfg.MinIO.SecretAccessKey = c.MinIO.SecretAccessKey
		cfg.MinIO.SessionToken = c.MinIO.SessionToken
	}
}

// SecretProvider resolves a secret reference to its value.
type SecretProvider func(ctx context.Context, ref string) (string, error)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// Resolver renders credentials templates.
type Resolver struct {
	providers map[string]SecretProvider
	logger    *slog.Logger
}

// WithLogger sets the logger for the resolver.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithProvider registers p as the template function name.
func WithProvider(name string, p SecretProvider) ResolverOption {
	return func(r *Resolver) {
		r.providers[name] = p
	}
}

// NewResolver creates a resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		providers: make(map[string]SecretProvider),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveFile reads and renders the template at path.
func (r *Resolver) ResolveFile(ctx context.Context, path string) (*Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening credentials file: %w", err)
	}
	defer f.Close()

	r.logger.Debug("resolving credentials", "path", path)
	return r.ResolveReader(ctx, f)
}

// ResolveReader renders the template read from reader.
func (r *Resolver) ResolveReader(ctx context.Context, reader io.Reader) (*Credentials, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading credentials template: %w", err)
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("credentials template exceeds maximum size of %d bytes", maxInputSize)
	}

	rendered, err := r.render(ctx, string(data))
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := json.Unmarshal(rendered, &creds); err != nil {
		return nil, fmt.Errorf("invalid credentials JSON after template execution: %w", err)
	}
	return &creds, nil
}

func (r *Resolver) render(ctx context.Context, text string) ([]byte, error) {
	tmpl, err := template.New("credentials").
		Option("missingkey=error").
		Funcs(r.funcs(ctx)).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return nil, fmt.Errorf("executing credentials template: %w", err)
	}
	if buf.Len() > maxOutputSize {
		return nil, fmt.Errorf("rendered credentials exceed maximum size of %d bytes", maxOutputSize)
	}
	return buf.Bytes(), nil
}

// funcs builds the template functions for one render. Provider results are
// memoized for the duration of the render.
func (r *Resolver) funcs(ctx context.Context) template.FuncMap {
	fm := template.FuncMap{
		"env": func(key string) (string, error) {
			val, ok := os.LookupEnv(key)
			if !ok {
				return "", fmt.Errorf("environment variable %q is not set", key)
			}
			return val, nil
		},
		"envDefault": func(key, fallback string) string {
			if val, ok := os.LookupEnv(key); ok {
				return val
			}
			return fallback
		},
		"file": func(path string) (string, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("reading file %q: %w", path, err)
			}
			return strings.TrimSpace(string(data)), nil
		},
		"json": func(v string) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("JSON encoding value: %w", err)
			}
			return string(b), nil
		},
	}

	seen := make(map[string]string)
	for name, provider := range r.providers {
		fm[name] = func(ref string) (string, error) {
			key := name + ":" + ref
			if val, ok := seen[key]; ok {
				return val, nil
			}
			val, err := provider(ctx, ref)
			if err != nil {
				return "", fmt.Errorf("provider %q failed for ref %q: %w", name, ref, err)
			}
			seen[key] = val
			return val, nil
		}
	}
	return fm
}
