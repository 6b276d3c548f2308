package tensorcache

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when nothing is stored at a path.
	// Cache lookups report it as a miss rather than an error.
	ErrNotFound = errors.New("not found")

	// ErrFormat matches every *FormatError.
	ErrFormat = errors.New("invalid array record")

	// ErrStorage matches every *StorageError.
	ErrStorage = errors.New("storage failure")

	// ErrInvalidArgument is returned for bad keys, dtypes, shapes or ranges.
	ErrInvalidArgument = errors.New("invalid argument")
)

// FormatError reports a stored record that exists but cannot be decoded.
type FormatError struct {
	Path   string
	Reason string
	Err    error
}

// NewFormatError builds a FormatError with a formatted reason.
func NewFormatError(path string, err error, format string, args ...any) *FormatError {
	return &FormatError{Path: path, Reason: fmt.Sprintf(format, args...), Err: err}
}

func (e *FormatError) Error() string {
	msg := "invalid array record"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// StorageError reports a backend I/O failure.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
