package store

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	tensorcache "github.com/wolfeidau/tensor-cache"
	"github.com/wolfeidau/tensor-cache/record"
)

// DefaultConcurrency bounds concurrent chunk transfers within one call.
const DefaultConcurrency = 8

// Backend schemes accepted in Config.BasePath.
const (
	SchemeFile  = "file"
	SchemeS3    = "s3"
	SchemeMinIO = "minio"
	SchemeBolt  = "bolt"
	SchemeMem   = "mem"
)

// Config configures a TensorCache.
type Config struct {
	// BasePath is the cache root. A bare path or file:// URL selects the
	// local filesystem; s3://bucket/prefix, minio://bucket/prefix,
	// bolt:///path/to.db and mem://name select the other backends.
	BasePath string `mapstructure:"base_path"`

	// ChunkBytes is the target decoded chunk size. Zero means record.DefaultChunkBytes.
	ChunkBytes int `mapstructure:"chunk_bytes"`

	// Compression is the per-chunk codec: none, zstd or lz4.
	Compression record.Compression `mapstructure:"compression"`

	// Concurrency bounds parallel chunk transfers. Zero means DefaultConcurrency.
	Concurrency int `mapstructure:"concurrency"`

	// RejectUnsafeKeys rejects keys containing path separators or NUL and
	// the keys "." and "..". Keys are otherwise used verbatim.
	RejectUnsafeKeys bool `mapstructure:"reject_unsafe_keys"`

	// CoalesceReads lets concurrent Gets of the same key share one read.
	CoalesceReads bool `mapstructure:"coalesce_reads"`

	S3        S3Config        `mapstructure:"s3"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Bolt      BoltConfig      `mapstructure:"bolt"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// S3Config configures the s3:// backend.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`

	// MultipartThreshold is the chunk size from which uploads are multipart.
	MultipartThreshold int `mapstructure:"multipart_threshold"`
}

// MinIOConfig configures the minio:// backend.
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	Region          string `mapstructure:"region"`
	Secure          bool   `mapstructure:"secure"`

	// CreateBucket creates the bucket on open when it is missing.
	CreateBucket bool `mapstructure:"create_bucket"`
}

// BoltConfig configures the bolt:// backend.
type BoltConfig struct {
	// NoSync disables fsync per transaction. Testing only.
	NoSync bool `mapstructure:"no_sync"`
}

// RateLimitConfig throttles backend calls. Zero RequestsPerSecond disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Validate checks the configuration and returns all problems found.
func (c Config) Validate() error {
	var errs []error

	loc, err := ParseLocation(c.BasePath)
	if err != nil {
		errs = append(errs, err)
	}
	if c.ChunkBytes < 0 {
		errs = append(errs, fmt.Errorf("%w: chunk_bytes must not be negative", tensorcache.ErrInvalidArgument))
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("%w: concurrency must not be negative", tensorcache.ErrInvalidArgument))
	}
	if _, err := record.ParseCompression(string(c.Compression)); err != nil {
		errs = append(errs, err)
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("%w: rate_limit must not be negative", tensorcache.ErrInvalidArgument))
	}
	if loc.Scheme == SchemeMinIO && c.MinIO.Endpoint == "" {
		errs = append(errs, fmt.Errorf("%w: minio.endpoint is required for minio:// base paths", tensorcache.ErrInvalidArgument))
	}
	if c.S3.MultipartThreshold < 0 {
		errs = append(errs, fmt.Errorf("%w: s3.multipart_threshold must not be negative", tensorcache.ErrInvalidArgument))
	}

	return errors.Join(errs...)
}

func (c Config) concurrency() int {
	if c.Concurrency == 0 {
		return DefaultConcurrency
	}
	return c.Concurrency
}

// Location is a parsed BasePath.
type Location struct {
	Scheme string

	// Path is the filesystem directory (file), database file (bolt) or
	// instance name (mem).
	Path string

	// Bucket and Prefix address object stores (s3, minio).
	Bucket string
	Prefix string
}

// ParseLocation parses a BasePath into its scheme and address.
func ParseLocation(base string) (Location, error) {
	if base == "" {
		return Location{}, fmt.Errorf("%w: base path is required", tensorcache.ErrInvalidArgument)
	}
	if !strings.Contains(base, "://") {
		return Location{Scheme: SchemeFile, Path: base}, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return Location{}, fmt.Errorf("%w: parsing base path: %w", tensorcache.ErrInvalidArgument, err)
	}

	loc := Location{Scheme: strings.ToLower(u.Scheme)}
	switch loc.Scheme {
	case SchemeFile, SchemeBolt:
		loc.Path = u.Host + u.Path
		if loc.Path == "" {
			return Location{}, fmt.Errorf("%w: %s:// needs a path", tensorcache.ErrInvalidArgument, loc.Scheme)
		}
	case SchemeS3, SchemeMinIO:
		loc.Bucket = u.Host
		loc.Prefix = strings.Trim(u.Path, "/")
		if loc.Bucket == "" {
			return Location{}, fmt.Errorf("%w: %s:// needs a bucket", tensorcache.ErrInvalidArgument, loc.Scheme)
		}
	case SchemeMem:
		loc.Path = u.Host + u.Path
	default:
		return Location{}, fmt.Errorf("%w: unsupported scheme %q", tensorcache.ErrInvalidArgument, u.Scheme)
	}
	return loc, nil
}
