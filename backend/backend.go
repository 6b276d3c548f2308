// Package backend provides byte-oriented storage backends for the tensor cache.
//
// Paths use "/" as the separator. A path names either a single object or a
// prefix under which other objects live; Exists and DeleteRecursive operate
// on both.
package backend

import (
	"context"
	"errors"
	"io"

	tensorcache "github.com/wolfeidau/tensor-cache"
)

var (
	// ErrNotFound is returned when no object exists at a path.
	ErrNotFound = tensorcache.ErrNotFound

	// ErrCorrupt is returned when an object exists but its stored framing is damaged.
	ErrCorrupt = errors.New("corrupt object")

	// ErrPathEscapesRoot is returned when a path resolves outside the backend root.
	ErrPathEscapesRoot = errors.New("path escapes backend root")
)

// Backend defines the interface for storage backends.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Put stores payload and its metadata at path.
	// If the object already exists, it is overwritten.
	Put(ctx context.Context, path string, payload []byte, meta map[string]string) error

	// Get retrieves the object at path with its metadata.
	// Returns ErrNotFound if the object does not exist.
	Get(ctx context.Context, path string) ([]byte, map[string]string, error)

	// Exists reports whether an object exists at path or any object
	// exists beneath path + "/".
	Exists(ctx context.Context, path string) (bool, error)

	// DeleteRecursive removes the object at path and every object beneath it.
	// Returns nil if nothing exists (idempotent).
	DeleteRecursive(ctx context.Context, path string) error

	// List returns all object paths with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Outcome classifies an error for metrics and logging.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCorrupt):
		return "corrupt"
	default:
		return "error"
	}
}

func copyMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// Close closes b if it implements io.Closer.
func Close(b Backend) error {
	if c, ok := b.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
