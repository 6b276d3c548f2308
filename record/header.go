// Package record implements the persisted array record format: a small
// versioned header describing shape, dtype and chunk layout, followed by
// the row-major element buffer split into independently stored chunks.
package record

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tensorcache "github.com/wolfeidau/tensor-cache"
)

const (
	// FormatVersion is the only header version this package reads and writes.
	FormatVersion = 1

	// MaxHeaderSize bounds the JSON body of a header frame (1 MiB).
	MaxHeaderSize = 1 << 20

	// OrderC is row-major element order.
	OrderC = "C"

	// ByteOrderLittle is little-endian element encoding.
	ByteOrderLittle = "little"

	frameSize = 4 + 2 + 4
)

// Magic is the 4-byte prefix of an encoded header.
var Magic = []byte("TNSR")

var (
	// ErrInvalidMagic is returned when a header does not start with Magic.
	ErrInvalidMagic = errors.New("invalid magic bytes: expected TNSR")

	// ErrHeaderTooLarge is returned when the header exceeds MaxHeaderSize.
	ErrHeaderTooLarge = errors.New("header exceeds maximum size")

	// ErrUnsupportedVersion is returned for headers written by a newer format.
	ErrUnsupportedVersion = errors.New("unsupported format version")
)

// Header describes one array record.
type Header struct {
	FormatVersion int               `json:"format_version"`
	DType         tensorcache.DType `json:"dtype"`
	Shape         []int             `json:"shape"`
	Order         string            `json:"order"`
	ByteOrder     string            `json:"byte_order"`
	ChunkRows     int               `json:"chunk_rows"`
	Compression   Compression       `json:"compression"`
	Chunks        []ChunkInfo       `json:"chunks"`
}

// ChunkInfo describes one stored chunk.
type ChunkInfo struct {
	// Length is the size of the decoded chunk in bytes.
	Length int `json:"length"`
	// Stored is the size of the chunk as written to the backend.
	Stored int `json:"stored"`
	// Codec is the compression actually applied to this chunk.
	Codec Compression `json:"codec"`
	// Hash is the BLAKE3 digest of the stored bytes.
	Hash tensorcache.Hash `json:"hash"`
}

// MarshalHeader encodes h as MAGIC | VERSION (uint16 BE) | HDRLEN (uint32 BE) | JSON.
func MarshalHeader(h *Header) ([]byte, error) {
	body, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}
	if len(body) > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}

	buf := make([]byte, 0, frameSize+len(body))
	buf = append(buf, Magic...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(h.FormatVersion)) //nolint:gosec // version is a small constant
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(body)))       //nolint:gosec // bounded by MaxHeaderSize
	buf = append(buf, body...)
	return buf, nil
}

// ParseHeader decodes and validates a header produced by MarshalHeader.
// All failures are reported as *tensorcache.FormatError.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < frameSize {
		return nil, tensorcache.NewFormatError("", nil, "header truncated: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], Magic) {
		return nil, tensorcache.NewFormatError("", ErrInvalidMagic, "bad header")
	}
	version := binary.BigEndian.Uint16(data[4:6])
	if version != FormatVersion {
		return nil, tensorcache.NewFormatError("", ErrUnsupportedVersion, "version %d", version)
	}
	n := binary.BigEndian.Uint32(data[6:10])
	if n > MaxHeaderSize {
		return nil, tensorcache.NewFormatError("", ErrHeaderTooLarge, "header length %d", n)
	}
	body := data[frameSize:]
	if uint32(len(body)) != n { //nolint:gosec // len is bounded by the check above
		return nil, tensorcache.NewFormatError("", nil, "header length %d, have %d bytes", n, len(body))
	}

	var h Header
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, tensorcache.NewFormatError("", err, "parsing header")
	}
	if h.FormatVersion != int(version) {
		return nil, tensorcache.NewFormatError("", nil, "frame version %d disagrees with header version %d", version, h.FormatVersion)
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return &h, nil
}

// Validate checks the header for internal consistency: supported version,
// dtype and order, non-negative shape and a chunk table matching the
// layout implied by shape and ChunkRows.
func (h *Header) Validate() error {
	if h.FormatVersion != FormatVersion {
		return tensorcache.NewFormatError("", ErrUnsupportedVersion, "version %d", h.FormatVersion)
	}
	if !h.DType.Valid() {
		return tensorcache.NewFormatError("", nil, "unsupported dtype %s", h.DType)
	}
	if h.Order != OrderC {
		return tensorcache.NewFormatError("", nil, "unsupported order %q", h.Order)
	}
	if h.ByteOrder != ByteOrderLittle {
		return tensorcache.NewFormatError("", nil, "unsupported byte order %q", h.ByteOrder)
	}
	if _, err := ParseCompression(string(h.Compression)); err != nil {
		return invalidField(err, "record compression")
	}

	l, err := newLayout(h.Shape, h.DType)
	if err != nil {
		return invalidField(err, "invalid shape %v", h.Shape)
	}
	if l.total == 0 {
		if h.ChunkRows != 0 || len(h.Chunks) != 0 {
			return tensorcache.NewFormatError("", nil, "empty array with %d chunks of %d rows", len(h.Chunks), h.ChunkRows)
		}
		return nil
	}
	if h.ChunkRows <= 0 || h.ChunkRows > l.rows {
		return tensorcache.NewFormatError("", nil, "chunk_rows %d out of range for %d rows", h.ChunkRows, l.rows)
	}
	if want := l.numChunks(h.ChunkRows); len(h.Chunks) != want {
		return tensorcache.NewFormatError("", nil, "expected %d chunks, header lists %d", want, len(h.Chunks))
	}
	for i, c := range h.Chunks {
		if want := l.chunkLength(h.ChunkRows, i); c.Length != want {
			return tensorcache.NewFormatError("", nil, "chunk %d length %d, expected %d", i, c.Length, want)
		}
		if c.Stored < 0 {
			return tensorcache.NewFormatError("", nil, "chunk %d stored size %d", i, c.Stored)
		}
		if _, err := ParseCompression(string(c.Codec)); err != nil {
			return invalidField(err, "chunk %d", i)
		}
		if c.Codec == CompressionNone && c.Stored != c.Length {
			return tensorcache.NewFormatError("", nil, "uncompressed chunk %d stores %d of %d bytes", i, c.Stored, c.Length)
		}
		if c.Length > maxDecodedLen(c.Codec, c.Stored) {
			return tensorcache.NewFormatError("", nil, "%s chunk %d cannot decode %d stored bytes to %d", c.Codec, i, c.Stored, c.Length)
		}
	}
	return nil
}

// invalidField reports a header field rejected by an argument check. The
// cause is flattened so a bad record never matches ErrInvalidArgument.
func invalidField(err error, format string, args ...any) *tensorcache.FormatError {
	return tensorcache.NewFormatError("", errors.New(err.Error()), format, args...)
}

// NumElements returns product(shape).
func (h *Header) NumElements() int {
	n, _ := tensorcache.NumElements(h.Shape)
	return n
}

// NBytes returns the decoded buffer size in bytes.
func (h *Header) NBytes() int {
	return h.NumElements() * h.DType.Size()
}

// StoredBytes returns the sum of stored chunk sizes.
func (h *Header) StoredBytes() int {
	var n int
	for _, c := range h.Chunks {
		n += c.Stored
	}
	return n
}

// Metadata returns the informational backend metadata for the header object.
// Readers never trust it; the header body is authoritative.
func (h *Header) Metadata() map[string]string {
	dims := make([]string, len(h.Shape))
	for i, d := range h.Shape {
		dims[i] = strconv.Itoa(d)
	}
	return map[string]string{
		MetaFormat: strconv.Itoa(h.FormatVersion),
		MetaDType:  h.DType.String(),
		MetaShape:  strings.Join(dims, ","),
	}
}

// ChunkMetadata returns the informational backend metadata for chunk i.
func (h *Header) ChunkMetadata(i int) map[string]string {
	return map[string]string{
		MetaChunk: strconv.Itoa(i),
		MetaHash:  h.Chunks[i].Hash.Ref(),
	}
}

// Backend metadata keys.
const (
	MetaFormat = "tensor-format"
	MetaDType  = "tensor-dtype"
	MetaShape  = "tensor-shape"
	MetaChunk  = "tensor-chunk"
	MetaHash   = "tensor-hash"
)
