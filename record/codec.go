package record

import (
	"bytes"
	"fmt"

	tensorcache "github.com/wolfeidau/tensor-cache"
)

// Options configures Encode.
type Options struct {
	// ChunkBytes is the target decoded chunk size. Zero means DefaultChunkBytes.
	ChunkBytes int

	// Compression is the per-chunk codec. Empty means none.
	Compression Compression
}

// Record is an encoded array: a header plus the stored chunk payloads,
// in chunk order.
type Record struct {
	Header *Header
	Chunks [][]byte
}

// Encode splits arr into row chunks, compresses and hashes each chunk and
// builds the header. Encoding is deterministic for a given array and options.
func Encode(arr *tensorcache.Array, opts Options) (*Record, error) {
	if err := arr.Validate(); err != nil {
		return nil, err
	}
	comp, err := ParseCompression(string(opts.Compression))
	if err != nil {
		return nil, err
	}
	l, err := newLayout(arr.Shape, arr.DType)
	if err != nil {
		return nil, err
	}

	h := &Header{
		FormatVersion: FormatVersion,
		DType:         arr.DType,
		Shape:         append([]int{}, arr.Shape...),
		Order:         OrderC,
		ByteOrder:     ByteOrderLittle,
		ChunkRows:     l.chunkRows(opts.ChunkBytes),
		Compression:   comp,
		Chunks:        []ChunkInfo{},
	}

	n := l.numChunks(h.ChunkRows)
	chunks := make([][]byte, 0, n)
	for i := range n {
		lo, hi := l.chunkSpan(h.ChunkRows, i)
		raw := arr.Data[lo*l.rowBytes : hi*l.rowBytes]

		stored, codec, err := compress(raw, comp)
		if err != nil {
			return nil, fmt.Errorf("compressing chunk %d: %w", i, err)
		}
		h.Chunks = append(h.Chunks, ChunkInfo{
			Length: len(raw),
			Stored: len(stored),
			Codec:  codec,
			Hash:   tensorcache.HashBytes(stored),
		})
		chunks = append(chunks, stored)
	}

	return &Record{Header: h, Chunks: chunks}, nil
}

// Decode rebuilds the array described by h from its stored chunks.
// Any mismatch between the header and the chunks is a *tensorcache.FormatError.
func Decode(h *Header, chunks [][]byte) (*tensorcache.Array, error) {
	if h == nil {
		return nil, tensorcache.NewFormatError("", nil, "missing header")
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if len(chunks) != len(h.Chunks) {
		return nil, tensorcache.NewFormatError("", nil, "expected %d chunks, got %d", len(h.Chunks), len(chunks))
	}

	// the output is sized from verified chunks, never from the header
	raws := make([][]byte, len(chunks))
	total := 0
	for i, stored := range chunks {
		raw, err := DecodeChunk(h, i, stored)
		if err != nil {
			return nil, err
		}
		raws[i] = raw
		total += len(raw)
	}
	if total != h.NBytes() {
		return nil, tensorcache.NewFormatError("", nil, "decoded %d bytes, expected %d", total, h.NBytes())
	}
	data := make([]byte, 0, total)
	for _, raw := range raws {
		data = append(data, raw...)
	}

	arr, err := tensorcache.NewArray(h.DType, h.Shape, data)
	if err != nil {
		return nil, invalidField(err, "rebuilding array")
	}
	return arr, nil
}

// DecodeChunk verifies the stored bytes of chunk i against the header and
// returns the decoded row bytes.
func DecodeChunk(h *Header, i int, stored []byte) ([]byte, error) {
	if i < 0 || i >= len(h.Chunks) {
		return nil, tensorcache.NewFormatError("", nil, "chunk %d out of range [0,%d)", i, len(h.Chunks))
	}
	c := h.Chunks[i]
	if len(stored) != c.Stored {
		return nil, tensorcache.NewFormatError("", nil, "chunk %d has %d bytes, expected %d", i, len(stored), c.Stored)
	}
	if got := tensorcache.HashBytes(stored); got != c.Hash {
		return nil, tensorcache.NewFormatError("", nil, "chunk %d hash mismatch: got %s, expected %s", i, got.ShortString(), c.Hash.ShortString())
	}
	raw, err := decompress(stored, c.Codec, c.Length)
	if err != nil {
		return nil, tensorcache.NewFormatError("", err, "chunk %d", i)
	}
	if len(raw) != c.Length {
		return nil, tensorcache.NewFormatError("", nil, "chunk %d decoded to %d bytes, expected %d", i, len(raw), c.Length)
	}
	return raw, nil
}

// ChunkRange returns the chunk indexes [first, end) covering rows [lo, hi)
// of axis 0. It requires at least one dimension and 0 <= lo <= hi <= shape[0].
func (h *Header) ChunkRange(lo, hi int) (int, int, error) {
	if len(h.Shape) == 0 {
		return 0, 0, fmt.Errorf("%w: row range on a 0-d array", tensorcache.ErrInvalidArgument)
	}
	if lo < 0 || hi < lo || hi > h.Shape[0] {
		return 0, 0, fmt.Errorf("%w: rows [%d,%d) out of range for %d rows", tensorcache.ErrInvalidArgument, lo, hi, h.Shape[0])
	}
	if lo == hi || h.ChunkRows == 0 {
		return 0, 0, nil
	}
	return lo / h.ChunkRows, (hi + h.ChunkRows - 1) / h.ChunkRows, nil
}

// DecodeRows rebuilds rows [lo, hi) of axis 0. chunks holds the stored bytes
// of the chunk indexes returned by ChunkRange(lo, hi), in order.
func DecodeRows(h *Header, lo, hi int, chunks [][]byte) (*tensorcache.Array, error) {
	first, end, err := h.ChunkRange(lo, hi)
	if err != nil {
		return nil, err
	}
	if len(chunks) != end-first {
		return nil, fmt.Errorf("%w: expected %d chunks for rows [%d,%d), got %d", tensorcache.ErrInvalidArgument, end-first, lo, hi, len(chunks))
	}
	l, err := newLayout(h.Shape, h.DType)
	if err != nil {
		return nil, invalidField(err, "invalid shape %v", h.Shape)
	}

	var buf bytes.Buffer
	for j, stored := range chunks {
		raw, err := DecodeChunk(h, first+j, stored)
		if err != nil {
			return nil, err
		}
		buf.Write(raw)
	}

	shape := append([]int{hi - lo}, h.Shape[1:]...)
	data := buf.Bytes()
	if len(chunks) > 0 {
		base, _ := l.chunkSpan(h.ChunkRows, first)
		data = data[(lo-base)*l.rowBytes : (hi-base)*l.rowBytes]
	} else {
		data = []byte{}
	}
	return tensorcache.NewArray(h.DType, shape, data)
}
