package record

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	tensorcache "github.com/wolfeidau/tensor-cache"
)

// Compression selects the per-chunk codec.
type Compression string

const (
	// CompressionNone stores chunks as raw element bytes.
	CompressionNone Compression = "none"
	// CompressionZstd compresses chunks with zstd (better ratio).
	CompressionZstd Compression = "zstd"
	// CompressionLZ4 compresses chunks with LZ4 block compression (faster).
	CompressionLZ4 Compression = "lz4"
)

const (
	// lz4MaxRatio bounds LZ4 block expansion per stored byte.
	lz4MaxRatio = 255
	// zstdMaxRatio is one 128 KiB block from a 4 byte RLE block.
	zstdMaxRatio = (128 << 10) / 4
)

// ErrDecompression is returned when a stored chunk cannot be decompressed.
var ErrDecompression = errors.New("decompression failed")

// ParseCompression parses a codec name. The empty string means none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(s)); c {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd, CompressionLZ4:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unsupported compression %q", tensorcache.ErrInvalidArgument, s)
	}
}

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll.
// A single goroutine per encoder keeps output deterministic.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderConcurrency(1),
		)
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
)

// compress applies c to data and returns the stored bytes with the codec
// actually used. Chunks that do not shrink are stored raw.
func compress(data []byte, c Compression) ([]byte, Compression, error) {
	if len(data) == 0 {
		return data, CompressionNone, nil
	}

	var out []byte
	switch c {
	case CompressionNone, "":
		return data, CompressionNone, nil
	case CompressionZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, "", fmt.Errorf("creating zstd encoder: %w", err)
		}
		out = enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, "", fmt.Errorf("lz4 compress: %w", err)
		}
		// n == 0 means incompressible
		out = dst[:n]
	default:
		return nil, "", fmt.Errorf("%w: unsupported compression %q", tensorcache.ErrInvalidArgument, c)
	}

	if len(out) == 0 || len(out) >= len(data) {
		return data, CompressionNone, nil
	}
	return out, c, nil
}

// maxDecodedLen bounds the decoded size of stored bytes written by codec c.
func maxDecodedLen(c Compression, stored int) int {
	switch c {
	case CompressionNone, "":
		return stored
	case CompressionLZ4:
		if stored > (math.MaxInt-16)/lz4MaxRatio {
			return math.MaxInt
		}
		return lz4MaxRatio*stored + 16
	case CompressionZstd:
		if stored > math.MaxInt/zstdMaxRatio {
			return math.MaxInt
		}
		return zstdMaxRatio * stored
	default:
		return 0
	}
}

// decompress reverses compress. length is the expected decoded size and is
// checked against what the stored bytes can produce before any allocation.
func decompress(stored []byte, c Compression, length int) ([]byte, error) {
	if length < 0 || length > maxDecodedLen(c, len(stored)) {
		return nil, fmt.Errorf("%w: %s chunk of %d bytes cannot decode to %d", ErrDecompression, c, len(stored), length)
	}

	switch c {
	case CompressionNone, "":
		return stored, nil
	case CompressionZstd:
		var fh zstd.Header
		if err := fh.Decode(stored); err != nil {
			return nil, fmt.Errorf("%w: zstd frame header: %w", ErrDecompression, err)
		}
		if fh.HasFCS && fh.FrameContentSize != uint64(length) {
			return nil, fmt.Errorf("%w: zstd frame holds %d bytes, expected %d", ErrDecompression, fh.FrameContentSize, length)
		}
		dec, err := zstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		out, err := dec.DecodeAll(stored, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrDecompression, err)
		}
		return out, nil
	case CompressionLZ4:
		out := make([]byte, length)
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %w", ErrDecompression, err)
		}
		return out[:n], nil
	default:
		return nil, fmt.Errorf("%w: unsupported compression %q", ErrDecompression, c)
	}
}
