// Package s3 implements backend.Backend on Amazon S3 and S3-compatible
// services using the AWS SDK v2.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/wolfeidau/tensor-cache/backend"
	"github.com/wolfeidau/tensor-cache/telemetry"
)

// Client is the subset of the S3 API used by Store. *s3.Client satisfies it.
type Client interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

const (
	// DefaultMultipartThreshold is the payload size from which Put switches
	// to a multipart upload.
	DefaultMultipartThreshold = 64 * 1024 * 1024

	// DefaultPartSize is the multipart part size.
	DefaultPartSize = 16 * 1024 * 1024

	// maxDeleteBatch is the DeleteObjects request limit.
	maxDeleteBatch = 1000
)

// Store implements backend.Backend for S3.
type Store struct {
	client    Client
	uploader  *manager.Uploader
	bucket    string
	prefix    string
	threshold int
}

// Option configures a Store.
type Option func(*Store)

// WithMultipartThreshold sets the payload size from which uploads are multipart.
func WithMultipartThreshold(n int) Option {
	return func(s *Store) {
		s.threshold = n
	}
}

// NewStore creates a new S3 store. rootPrefix is prepended to every path.
func NewStore(client Client, bucket, rootPrefix string, opts ...Option) *Store {
	s := &Store{
		client:    client,
		bucket:    bucket,
		prefix:    strings.Trim(rootPrefix, "/"),
		threshold: DefaultMultipartThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.uploader = manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = DefaultPartSize
		u.Concurrency = 4
	})
	return s
}

func (s *Store) key(path string) string {
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

func (s *Store) Put(ctx context.Context, path string, payload []byte, meta map[string]string) error {
	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.key(path)),
		Body:     bytes.NewReader(payload),
		Metadata: meta,
	}

	if len(payload) >= s.threshold {
		if _, err := s.uploader.Upload(ctx, input); err != nil {
			return fmt.Errorf("uploading %s: %w", path, err)
		}
		return nil
	}

	input.ContentLength = aws.Int64(int64(len(payload)))
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("putting %s: %w", path, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, map[string]string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, backend.ErrNotFound
		}
		return nil, nil, fmt.Errorf("getting %s: %w", path, err)
	}
	defer func() { _ = out.Body.Close() }()

	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	meta := make(map[string]string, len(out.Metadata))
	for k, v := range out.Metadata {
		meta[strings.ToLower(k)] = v
	}
	return payload, meta, nil
}

// Exists checks for an object at path, then for any object under path/.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err == nil {
		return true, nil
	}
	if !isNotFound(err) {
		return false, fmt.Errorf("head %s: %w", path, err)
	}

	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.key(dirPrefix(path))),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("listing %s: %w", path, err)
	}
	return len(out.Contents) > 0, nil
}

// DeleteRecursive removes the object at path and all objects under path/
// in batches of up to 1000 keys.
func (s *Store) DeleteRecursive(ctx context.Context, path string) error {
	keys, err := s.listKeys(ctx, s.key(dirPrefix(path)))
	if err != nil {
		return fmt.Errorf("listing %s: %w", path, err)
	}
	keys = append(keys, s.key(path))

	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("deleting %s: %w", path, err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("deleting %s: %d keys failed, first %s: %s",
				path, len(out.Errors), aws.ToString(e.Key), aws.ToString(e.Message))
		}
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.listKeys(ctx, s.key(prefix))
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		if s.prefix != "" {
			keys[i] = strings.TrimPrefix(k, s.prefix+"/")
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) listKeys(ctx context.Context, fullPrefix string) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func dirPrefix(path string) string {
	return strings.TrimSuffix(path, "/") + "/"
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// ClientConfig configures NewClient.
type ClientConfig struct {
	Region string

	// Endpoint overrides the S3 endpoint for S3-compatible services.
	// Setting it also enables path-style addressing.
	Endpoint string

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
}

// NewClient builds an *s3.Client from the default AWS configuration chain,
// overriding credentials when static keys are given. Requests are metered
// through telemetry.InstrumentedTransport.
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(&http.Client{
			Transport: telemetry.NewInstrumentedTransport(nil, "s3"),
		}),
	}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

var (
	_ backend.Backend = (*Store)(nil)
	_ Client          = (*s3.Client)(nil)
)
