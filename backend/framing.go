package backend

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// MagicBytes is the 4-byte prefix for framed objects.
	MagicBytes = []byte("TCO1")

	// ErrInvalidMagic is returned when data doesn't start with the expected magic bytes.
	ErrInvalidMagic = errors.New("invalid magic bytes: expected TCO1")

	// ErrHeaderTooLarge is returned when the header exceeds MaxHeaderSize.
	ErrHeaderTooLarge = errors.New("header exceeds maximum size")
)

// MaxHeaderSize is the maximum allowed size for the JSON header (64 KiB).
const MaxHeaderSize = 64 * 1024

// ObjectHeader carries the metadata of a framed object.
type ObjectHeader struct {
	ContentLength int64             `json:"content_length"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// WriteFramed writes a framed object to the writer.
// Format: MAGIC (4 bytes) | HDRLEN (uint32 big-endian) | HDRBYTES (JSON) | BODYBYTES
func WriteFramed(w io.Writer, header *ObjectHeader, body []byte) error {
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	headerLen := len(headerBytes)
	if headerLen > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	if _, err := w.Write(MagicBytes); err != nil {
		return fmt.Errorf("writing magic bytes: %w", err)
	}

	if err := binary.Write(w, binary.BigEndian, uint32(headerLen)); err != nil { //nolint:gosec // headerLen is bounds-checked above
		return fmt.Errorf("writing header length: %w", err)
	}

	if _, err := w.Write(headerBytes); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing body: %w", err)
	}

	return nil
}

// FrameBytes returns payload framed with its metadata.
func FrameBytes(payload []byte, meta map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(payload) + 64)
	err := WriteFramed(&buf, &ObjectHeader{ContentLength: int64(len(payload)), Metadata: meta}, payload)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadFramed reads a whole framed object from the reader.
// A damaged frame or a body whose length disagrees with the header is
// reported as ErrCorrupt.
func ReadFramed(r io.Reader) (*ObjectHeader, []byte, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, nil, fmt.Errorf("%w: reading magic bytes: %w", ErrCorrupt, err)
	}
	if !bytes.Equal(magic, MagicBytes) {
		return nil, nil, fmt.Errorf("%w: %w", ErrCorrupt, ErrInvalidMagic)
	}

	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return nil, nil, fmt.Errorf("%w: reading header length: %w", ErrCorrupt, err)
	}

	if headerLen > MaxHeaderSize {
		return nil, nil, fmt.Errorf("%w: %w", ErrCorrupt, ErrHeaderTooLarge)
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, nil, fmt.Errorf("%w: reading header: %w", ErrCorrupt, err)
	}

	var header ObjectHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, fmt.Errorf("%w: parsing header: %w", ErrCorrupt, err)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(body)) != header.ContentLength {
		return nil, nil, fmt.Errorf("%w: body has %d bytes, header says %d", ErrCorrupt, len(body), header.ContentLength)
	}

	return &header, body, nil
}

// IsFramed checks if the reader contains a framed object by looking for magic bytes.
// The reader is seeked back to the start after checking.
func IsFramed(r io.ReadSeeker) (bool, error) {
	magic := make([]byte, 4)
	n, err := io.ReadFull(r, magic)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false, fmt.Errorf("reading magic bytes: %w", err)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return false, fmt.Errorf("seeking to start: %w", err)
	}

	if n < 4 {
		return false, nil
	}

	return bytes.Equal(magic, MagicBytes), nil
}
