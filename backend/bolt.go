package backend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

var bucketObjects = []byte("objects")

// Bolt implements Backend on a single bbolt database file.
// Objects are framed values keyed by path in one bucket; because bbolt keys
// are sorted, prefix operations are cursor range scans.
type Bolt struct {
	db     *bbolt.DB
	logger *slog.Logger
	noSync bool
}

// BoltOption configures a Bolt backend.
type BoltOption func(*Bolt)

// WithBoltLogger sets the logger for the backend.
func WithBoltLogger(logger *slog.Logger) BoltOption {
	return func(b *Bolt) {
		b.logger = logger
	}
}

// WithBoltNoSync disables fsync per transaction.
// Use only for testing, never in production.
func WithBoltNoSync(noSync bool) BoltOption {
	return func(b *Bolt) {
		b.noSync = noSync
	}
}

// OpenBolt opens (or creates) the database file at path.
func OpenBolt(path string, opts ...BoltOption) (*Bolt, error) {
	b := &Bolt{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketObjects)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket %s: %w", bucketObjects, err)
	}
	b.db = db

	b.logger.Debug("opened bolt backend", "path", path, "noSync", b.noSync)
	return b, nil
}

// Close closes the database. Operations after Close fail with
// bbolt's ErrDatabaseNotOpen; closing twice is a no-op.
func (b *Bolt) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *Bolt) Put(ctx context.Context, path string, payload []byte, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	framed, err := FrameBytes(payload, meta)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketObjects).Put([]byte(path), framed)
	})
}

func (b *Bolt) Get(ctx context.Context, path string) ([]byte, map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	var framed []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketObjects).Get([]byte(path))
		if v == nil {
			return ErrNotFound
		}
		// values are only valid for the life of the transaction
		framed = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	hdr, body, err := ReadFramed(bytes.NewReader(framed))
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return body, copyMeta(hdr.Metadata), nil
}

func (b *Bolt) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketObjects)
		if bkt.Get([]byte(path)) != nil {
			found = true
			return nil
		}
		prefix := dirPrefix(path)
		k, _ := bkt.Cursor().Seek([]byte(prefix))
		found = k != nil && strings.HasPrefix(string(k), prefix)
		return nil
	})
	return found, err
}

func (b *Bolt) DeleteRecursive(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketObjects)
		if err := bkt.Delete([]byte(path)); err != nil {
			return err
		}
		prefix := []byte(dirPrefix(path))
		var doomed [][]byte
		c := bkt.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			doomed = append(doomed, bytes.Clone(k))
		}
		for _, k := range doomed {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		p := []byte(prefix)
		c := tx.Bucket(bucketObjects).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

func dirPrefix(path string) string {
	return strings.TrimSuffix(path, "/") + "/"
}

var _ Backend = (*Bolt)(nil)
