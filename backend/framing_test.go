package backend

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFramingRoundTrip(t *testing.T) {
	meta := map[string]string{"tensor-dtype": "float32", "tensor-shape": "4,4"}
	body := []byte("hello, world!")

	data, err := FrameBytes(body, meta)
	require.NoError(t, err)
	require.Equal(t, MagicBytes, data[:4])

	hdr, got, err := ReadFramed(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, body, got)
	require.Equal(t, int64(len(body)), hdr.ContentLength)
	require.Equal(t, meta, hdr.Metadata)
}

func TestFramingEmptyMetadata(t *testing.T) {
	data, err := FrameBytes([]byte("x"), nil)
	require.NoError(t, err)
	require.NotContains(t, string(data), "metadata")

	hdr, _, err := ReadFramed(bytes.NewReader(data))
	require.NoError(t, err)
	require.Empty(t, hdr.Metadata)
}

func TestReadFramedCorrupt(t *testing.T) {
	valid, err := FrameBytes([]byte("body"), nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "bad magic", data: append([]byte("NOPE"), valid[4:]...)},
		{name: "short length", data: valid[:6]},
		{
			name: "header too large",
			data: func() []byte {
				d := append([]byte{}, valid...)
				binary.BigEndian.PutUint32(d[4:8], MaxHeaderSize+1)
				return d
			}(),
		},
		{name: "truncated header", data: valid[:10]},
		{name: "truncated body", data: valid[:len(valid)-1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadFramed(bytes.NewReader(tt.data))
			require.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestWriteFramedHeaderTooLarge(t *testing.T) {
	meta := map[string]string{"big": string(bytes.Repeat([]byte("a"), MaxHeaderSize))}
	_, err := FrameBytes(nil, meta)
	require.ErrorIs(t, err, ErrHeaderTooLarge)
}

func TestIsFramed(t *testing.T) {
	data, err := FrameBytes([]byte("hello"), nil)
	require.NoError(t, err)

	r := bytes.NewReader(data)
	framed, err := IsFramed(r)
	require.NoError(t, err)
	require.True(t, framed)

	// reader is rewound
	_, body, err := ReadFramed(r)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), body)

	framed, err = IsFramed(bytes.NewReader([]byte("raw")))
	require.NoError(t, err)
	require.False(t, framed)

	framed, err = IsFramed(bytes.NewReader([]byte("not framed data")))
	require.NoError(t, err)
	require.False(t, framed)
}
