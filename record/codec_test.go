package record

import (
	"bytes"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	tensorcache "github.com/wolfeidau/tensor-cache"
)

func randomArray(t *testing.T, dtype tensorcache.DType, shape []int) *tensorcache.Array {
	t.Helper()
	arr, err := tensorcache.Zeros(dtype, shape)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(uint64(len(shape)), uint64(dtype)))
	for i := range arr.Data {
		arr.Data[i] = byte(rng.UintN(256))
	}
	if dtype == tensorcache.Bool {
		for i := range arr.Data {
			arr.Data[i] &= 1
		}
	}
	return arr
}

func roundTrip(t *testing.T, arr *tensorcache.Array, opts Options) *tensorcache.Array {
	t.Helper()
	rec, err := Encode(arr, opts)
	require.NoError(t, err)

	hdr, err := MarshalHeader(rec.Header)
	require.NoError(t, err)
	parsed, err := ParseHeader(hdr)
	require.NoError(t, err)

	got, err := Decode(parsed, rec.Chunks)
	require.NoError(t, err)
	return got
}

func TestRoundTripAllDTypes(t *testing.T) {
	shapes := [][]int{
		{},        // 0-d
		{0},       // empty
		{3, 0, 2}, // empty with inner dims
		{7},
		{4, 5},
		{2, 3, 4},
	}
	for _, dtype := range tensorcache.DTypes() {
		for _, shape := range shapes {
			t.Run(dtype.String(), func(t *testing.T) {
				arr := randomArray(t, dtype, shape)
				got := roundTrip(t, arr, Options{})
				require.True(t, arr.Equal(got), "shape %v", shape)
				require.Equal(t, dtype, got.DType)
				require.Equal(t, len(shape), got.NDim())
			})
		}
	}
}

func TestRoundTripCompression(t *testing.T) {
	values := make([]float64, 64*64)
	for i := range values {
		values[i] = float64(i % 17)
	}
	arr, err := tensorcache.FromSlice([]int{64, 64}, values)
	require.NoError(t, err)

	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(string(c), func(t *testing.T) {
			rec, err := Encode(arr, Options{Compression: c, ChunkBytes: 4096})
			require.NoError(t, err)
			require.Equal(t, c, rec.Header.Compression)
			if c != CompressionNone {
				require.Less(t, rec.Header.StoredBytes(), arr.NBytes())
				require.Equal(t, c, rec.Header.Chunks[0].Codec)
			}

			got, err := Decode(rec.Header, rec.Chunks)
			require.NoError(t, err)
			require.True(t, arr.Equal(got))
		})
	}
}

func TestIncompressibleChunkStoredRaw(t *testing.T) {
	arr := randomArray(t, tensorcache.Uint8, []int{256})
	rec, err := Encode(arr, Options{Compression: CompressionZstd})
	require.NoError(t, err)
	require.Equal(t, CompressionNone, rec.Header.Chunks[0].Codec)
	require.Equal(t, arr.Data, rec.Chunks[0])
}

func TestEncodeDeterministic(t *testing.T) {
	arr := randomArray(t, tensorcache.Float32, []int{50, 40})
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		a, err := Encode(arr, Options{Compression: c, ChunkBytes: 1000})
		require.NoError(t, err)
		b, err := Encode(arr, Options{Compression: c, ChunkBytes: 1000})
		require.NoError(t, err)

		ha, err := MarshalHeader(a.Header)
		require.NoError(t, err)
		hb, err := MarshalHeader(b.Header)
		require.NoError(t, err)
		require.Equal(t, ha, hb)
		require.Equal(t, a.Chunks, b.Chunks)
	}
}

func TestChunking(t *testing.T) {
	// 10 rows of 8 float64 = 64 bytes per row
	arr := randomArray(t, tensorcache.Float64, []int{10, 8})

	rec, err := Encode(arr, Options{ChunkBytes: 200})
	require.NoError(t, err)
	require.Equal(t, 3, rec.Header.ChunkRows)
	require.Len(t, rec.Chunks, 4)
	require.Equal(t, 3*64, rec.Header.Chunks[0].Length)
	require.Equal(t, 1*64, rec.Header.Chunks[3].Length)

	// a single row larger than the target still forms one chunk
	rec, err = Encode(arr, Options{ChunkBytes: 10})
	require.NoError(t, err)
	require.Equal(t, 1, rec.Header.ChunkRows)
	require.Len(t, rec.Chunks, 10)

	rec, err = Encode(arr, Options{})
	require.NoError(t, err)
	require.Equal(t, 10, rec.Header.ChunkRows)
	require.Len(t, rec.Chunks, 1)
}

func TestEncodeEmpty(t *testing.T) {
	arr, err := tensorcache.Zeros(tensorcache.Int16, []int{0, 4})
	require.NoError(t, err)

	rec, err := Encode(arr, Options{Compression: CompressionZstd})
	require.NoError(t, err)
	require.Zero(t, rec.Header.ChunkRows)
	require.Empty(t, rec.Chunks)

	got := roundTrip(t, arr, Options{})
	require.Equal(t, []int{0, 4}, got.Shape)
	require.Equal(t, tensorcache.Int16, got.DType)
	require.Empty(t, got.Data)
}

func TestEncodeRejectsInvalid(t *testing.T) {
	_, err := Encode(&tensorcache.Array{DType: tensorcache.InvalidDType, Shape: []int{1}, Data: []byte{0}}, Options{})
	require.ErrorIs(t, err, tensorcache.ErrInvalidArgument)

	_, err = Encode(&tensorcache.Array{DType: tensorcache.Int32, Shape: []int{2}, Data: []byte{0}}, Options{})
	require.ErrorIs(t, err, tensorcache.ErrInvalidArgument)

	arr := randomArray(t, tensorcache.Int8, []int{2})
	_, err = Encode(arr, Options{Compression: "brotli"})
	require.ErrorIs(t, err, tensorcache.ErrInvalidArgument)
}

func TestDecodeDetectsCorruption(t *testing.T) {
	arr := randomArray(t, tensorcache.Int32, []int{16, 16})

	tests := []struct {
		name   string
		mutate func(rec *Record)
	}{
		{
			name:   "truncated chunk",
			mutate: func(rec *Record) { rec.Chunks[0] = rec.Chunks[0][:len(rec.Chunks[0])-1] },
		},
		{
			name:   "flipped byte",
			mutate: func(rec *Record) { rec.Chunks[1][3] ^= 0xff },
		},
		{
			name:   "missing chunk",
			mutate: func(rec *Record) { rec.Chunks = rec.Chunks[:len(rec.Chunks)-1] },
		},
		{
			name:   "shape disagrees with chunks",
			mutate: func(rec *Record) { rec.Header.Shape = []int{17, 16} },
		},
		{
			name:   "negative dimension",
			mutate: func(rec *Record) { rec.Header.Shape = []int{-16, -16} },
		},
		{
			name:   "unknown version",
			mutate: func(rec *Record) { rec.Header.FormatVersion = 2 },
		},
		{
			name:   "wrong byte order",
			mutate: func(rec *Record) { rec.Header.ByteOrder = "big" },
		},
		{
			name:   "raw chunk with wrong stored size",
			mutate: func(rec *Record) { rec.Header.Chunks[0].Stored++ },
		},
		{
			name:   "huge zstd length from a tiny chunk",
			mutate: func(rec *Record) { *rec = oversizedRecord(CompressionZstd) },
		},
		{
			name:   "huge lz4 length from a tiny chunk",
			mutate: func(rec *Record) { *rec = oversizedRecord(CompressionLZ4) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Encode(arr, Options{ChunkBytes: 256})
			require.NoError(t, err)
			tt.mutate(rec)

			_, err = Decode(rec.Header, rec.Chunks)
			require.ErrorIs(t, err, tensorcache.ErrFormat)
		})
	}
}

// oversizedRecord declares a 4 TiB array backed by a single 4 byte chunk.
// The header is self-consistent, so only the codec bounds reject it.
func oversizedRecord(c Compression) Record {
	const n = 1 << 42
	tiny := []byte("tiny")
	return Record{
		Header: &Header{
			FormatVersion: FormatVersion,
			DType:         tensorcache.Uint8,
			Shape:         []int{n},
			Order:         OrderC,
			ByteOrder:     ByteOrderLittle,
			ChunkRows:     n,
			Compression:   c,
			Chunks: []ChunkInfo{{
				Length: n,
				Stored: len(tiny),
				Codec:  c,
				Hash:   tensorcache.HashBytes(tiny),
			}},
		},
		Chunks: [][]byte{tiny},
	}
}

func TestDecompressRejectsImpossibleLength(t *testing.T) {
	for _, c := range []Compression{CompressionZstd, CompressionLZ4} {
		_, err := decompress([]byte("tiny"), c, 1<<42)
		require.ErrorIs(t, err, ErrDecompression, string(c))
	}

	_, err := decompress([]byte("tiny"), CompressionNone, 5)
	require.ErrorIs(t, err, ErrDecompression)
}

func TestDecodeZstdFrameSizeDisagreesWithHeader(t *testing.T) {
	arr, err := tensorcache.FromSlice([]int{512}, make([]int64, 512))
	require.NoError(t, err)
	rec, err := Encode(arr, Options{Compression: CompressionZstd})
	require.NoError(t, err)
	require.Len(t, rec.Chunks, 1)
	require.Equal(t, CompressionZstd, rec.Header.Chunks[0].Codec)

	// the header now claims twice the rows the frame holds
	rec.Header.Shape = []int{1024}
	rec.Header.ChunkRows = 1024
	rec.Header.Chunks[0].Length = 1024 * 8
	require.NoError(t, rec.Header.Validate())

	_, err = Decode(rec.Header, rec.Chunks)
	require.ErrorIs(t, err, tensorcache.ErrFormat)
}

func TestDecodeCorruptCompressedChunk(t *testing.T) {
	values := make([]int64, 512)
	arr, err := tensorcache.FromSlice([]int{512}, values)
	require.NoError(t, err)

	for _, c := range []Compression{CompressionZstd, CompressionLZ4} {
		rec, err := Encode(arr, Options{Compression: c})
		require.NoError(t, err)
		require.Equal(t, c, rec.Header.Chunks[0].Codec)

		// keep the hash consistent so decompression itself has to fail
		garbage := bytes.Repeat([]byte{0xff}, rec.Header.Chunks[0].Stored)
		rec.Chunks[0] = garbage
		rec.Header.Chunks[0].Hash = tensorcache.HashBytes(garbage)

		_, err = Decode(rec.Header, rec.Chunks)
		require.ErrorIs(t, err, tensorcache.ErrFormat, string(c))
	}
}

func TestDecodeNilHeader(t *testing.T) {
	_, err := Decode(nil, nil)
	require.ErrorIs(t, err, tensorcache.ErrFormat)
}

func TestChunkRangeAndDecodeRows(t *testing.T) {
	values := make([]float32, 10*3)
	for i := range values {
		values[i] = float32(i)
	}
	arr, err := tensorcache.FromSlice([]int{10, 3}, values)
	require.NoError(t, err)

	// 12 bytes per row, 4 rows per chunk -> chunks of rows [0,4) [4,8) [8,10)
	rec, err := Encode(arr, Options{ChunkBytes: 48})
	require.NoError(t, err)
	require.Equal(t, 4, rec.Header.ChunkRows)

	tests := []struct {
		lo, hi      int
		first, end  int
		wantFirstEl float32
	}{
		{lo: 0, hi: 10, first: 0, end: 3, wantFirstEl: 0},
		{lo: 5, hi: 7, first: 1, end: 2, wantFirstEl: 15},
		{lo: 3, hi: 9, first: 0, end: 3, wantFirstEl: 9},
		{lo: 8, hi: 10, first: 2, end: 3, wantFirstEl: 24},
	}
	for _, tt := range tests {
		first, end, err := rec.Header.ChunkRange(tt.lo, tt.hi)
		require.NoError(t, err)
		require.Equal(t, tt.first, first)
		require.Equal(t, tt.end, end)

		got, err := DecodeRows(rec.Header, tt.lo, tt.hi, rec.Chunks[first:end])
		require.NoError(t, err)
		require.Equal(t, []int{tt.hi - tt.lo, 3}, got.Shape)

		vals, err := tensorcache.Values[float32](got)
		require.NoError(t, err)
		require.Equal(t, values[tt.lo*3:tt.hi*3], vals)
		require.Equal(t, tt.wantFirstEl, vals[0])
	}

	got, err := DecodeRows(rec.Header, 4, 4, nil)
	require.NoError(t, err)
	require.Equal(t, []int{0, 3}, got.Shape)

	_, _, err = rec.Header.ChunkRange(3, 11)
	require.ErrorIs(t, err, tensorcache.ErrInvalidArgument)
	_, _, err = rec.Header.ChunkRange(5, 4)
	require.ErrorIs(t, err, tensorcache.ErrInvalidArgument)
}

func TestChunkRangeScalar(t *testing.T) {
	arr, err := tensorcache.FromSlice(nil, []float64{math.Pi})
	require.NoError(t, err)
	rec, err := Encode(arr, Options{})
	require.NoError(t, err)
	require.Len(t, rec.Chunks, 1)

	_, _, err = rec.Header.ChunkRange(0, 1)
	require.ErrorIs(t, err, tensorcache.ErrInvalidArgument)
}
