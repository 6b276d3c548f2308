// Package minio implements backend.Backend for MinIO and other
// S3-compatible object stores using minio-go.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wolfeidau/tensor-cache/backend"
	"github.com/wolfeidau/tensor-cache/telemetry"
)

// Store implements backend.Backend for MinIO.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore creates a new MinIO store. rootPrefix is prepended to every path.
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(rootPrefix, "/"),
	}
}

// ClientConfig configures NewClient.
type ClientConfig struct {
	// Endpoint is host:port without a scheme.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	Secure          bool
}

// NewClient creates a MinIO client whose requests are metered through
// telemetry.InstrumentedTransport.
func NewClient(cfg ClientConfig) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	base, err := minio.DefaultTransport(cfg.Secure)
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		Secure:    cfg.Secure,
		Region:    cfg.Region,
		Transport: telemetry.NewInstrumentedTransport(base, "minio"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return client, nil
}

func (s *Store) key(path string) string {
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

func (s *Store) Put(ctx context.Context, path string, payload []byte, meta map[string]string) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(path), bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		UserMetadata: meta,
		ContentType:  "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("putting %s: %w", path, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, map[string]string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(path), minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, backend.ErrNotFound
		}
		return nil, nil, fmt.Errorf("getting %s: %w", path, err)
	}
	defer func() { _ = obj.Close() }()

	// GetObject is lazy; a missing key surfaces on the first Stat or Read
	info, err := obj.Stat()
	if err != nil {
		if isNotFound(err) {
			return nil, nil, backend.ErrNotFound
		}
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}

	payload, err := io.ReadAll(obj)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}

	meta := make(map[string]string, len(info.UserMetadata))
	for k, v := range info.UserMetadata {
		meta[strings.ToLower(k)] = v
	}
	return payload, meta, nil
}

// Exists checks for an object at path, then for any object under path/.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(path), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if !isNotFound(err) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(dirPrefix(path)),
		Recursive: true,
		MaxKeys:   1,
	}) {
		if obj.Err != nil {
			return false, fmt.Errorf("listing %s: %w", path, obj.Err)
		}
		return true, nil
	}
	return false, nil
}

// DeleteRecursive removes the object at path and all objects under path/.
func (s *Store) DeleteRecursive(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listErr := make(chan error, 1)
	objects := make(chan minio.ObjectInfo)
	go func() {
		defer close(objects)
		defer close(listErr)
		send := func(obj minio.ObjectInfo) bool {
			select {
			case objects <- obj:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !send(minio.ObjectInfo{Key: s.key(path)}) {
			return
		}
		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
			Prefix:    s.key(dirPrefix(path)),
			Recursive: true,
		}) {
			if obj.Err != nil {
				listErr <- obj.Err
				return
			}
			if !send(obj) {
				return
			}
		}
	}()

	var firstErr error
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if firstErr == nil && rerr.Err != nil && !isNotFound(rerr.Err) {
			firstErr = fmt.Errorf("removing %s: %w", rerr.ObjectName, rerr.Err)
			cancel()
		}
	}
	if firstErr != nil {
		return firstErr
	}
	if err := <-listErr; err != nil {
		return fmt.Errorf("listing %s: %w", path, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := obj.Key
		if s.prefix != "" {
			name = strings.TrimPrefix(name, s.prefix+"/")
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", s.bucket, err)
	}
	return nil
}

func dirPrefix(path string) string {
	return strings.TrimSuffix(path, "/") + "/"
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
		return true
	}
	return resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket"
}

var _ backend.Backend = (*Store)(nil)
