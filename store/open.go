package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wolfeidau/tensor-cache/backend"
	minioStore "github.com/wolfeidau/tensor-cache/backend/minio"
	s3Store "github.com/wolfeidau/tensor-cache/backend/s3"
)

var memBackends = struct {
	sync.Mutex
	m map[string]*backend.Memory
}{m: make(map[string]*backend.Memory)}

// memoryBackend returns the process-wide Memory backend registered under name.
func memoryBackend(name string) *backend.Memory {
	memBackends.Lock()
	defer memBackends.Unlock()
	b, ok := memBackends.m[name]
	if !ok {
		b = backend.NewMemory()
		memBackends.m[name] = b
	}
	return b
}

// OpenBackend builds the backend selected by cfg.BasePath. The returned
// backend is rooted at the base path, records metrics and is rate limited
// when cfg.RateLimit is set. Close it with backend.Close.
func OpenBackend(ctx context.Context, cfg Config, logger *slog.Logger) (backend.Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := ParseLocation(cfg.BasePath)
	if err != nil {
		return nil, err
	}

	var b backend.Backend
	switch loc.Scheme {
	case SchemeFile:
		b, err = backend.NewFilesystem(loc.Path)
	case SchemeBolt:
		b, err = backend.OpenBolt(loc.Path,
			backend.WithBoltLogger(logger),
			backend.WithBoltNoSync(cfg.Bolt.NoSync),
		)
	case SchemeMem:
		b = memoryBackend(loc.Path)
	case SchemeS3:
		b, err = openS3(ctx, loc, cfg.S3)
	case SchemeMinIO:
		b, err = openMinIO(ctx, loc, cfg.MinIO)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", loc.Scheme, err)
	}

	if cfg.RateLimit.RequestsPerSecond > 0 {
		b = backend.NewRateLimited(b, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	logger.Debug("opened backend", "scheme", loc.Scheme, "base_path", cfg.BasePath)
	return backend.NewInstrumented(b, loc.Scheme), nil
}

func openS3(ctx context.Context, loc Location, cfg S3Config) (backend.Backend, error) {
	client, err := s3Store.NewClient(ctx, s3Store.ClientConfig{
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		SessionToken:    cfg.SessionToken,
		UsePathStyle:    cfg.UsePathStyle,
	})
	if err != nil {
		return nil, err
	}
	var opts []s3Store.Option
	if cfg.MultipartThreshold > 0 {
		opts = append(opts, s3Store.WithMultipartThreshold(cfg.MultipartThreshold))
	}
	return s3Store.NewStore(client, loc.Bucket, loc.Prefix, opts...), nil
}

func openMinIO(ctx context.Context, loc Location, cfg MinIOConfig) (backend.Backend, error) {
	client, err := minioStore.NewClient(minioStore.ClientConfig{
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		SessionToken:    cfg.SessionToken,
		Region:          cfg.Region,
		Secure:          cfg.Secure,
	})
	if err != nil {
		return nil, err
	}
	s := minioStore.NewStore(client, loc.Bucket, loc.Prefix)
	if cfg.CreateBucket {
		if err := s.EnsureBucket(ctx, cfg.Region); err != nil {
			return nil, err
		}
	}
	return s, nil
}
