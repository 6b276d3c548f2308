package record

import (
	"fmt"
	"math"

	tensorcache "github.com/wolfeidau/tensor-cache"
)

// DefaultChunkBytes is the target decoded size of one chunk (4 MiB).
const DefaultChunkBytes = 4 << 20

// layout is the split of a row-major buffer into runs of whole rows of axis 0.
// A 0-d array is treated as a single row holding one element.
type layout struct {
	rows     int
	rowBytes int
	total    int
}

func newLayout(shape []int, dtype tensorcache.DType) (layout, error) {
	if !dtype.Valid() {
		return layout{}, fmt.Errorf("%w: unsupported dtype %s", tensorcache.ErrInvalidArgument, dtype)
	}
	if _, err := tensorcache.NumElements(shape); err != nil {
		return layout{}, err
	}

	rows, inner := 1, shape
	if len(shape) > 0 {
		rows, inner = shape[0], shape[1:]
	}
	rowElems, err := tensorcache.NumElements(inner)
	if err != nil {
		return layout{}, err
	}
	w := dtype.Size()
	if rowElems > math.MaxInt/w {
		return layout{}, fmt.Errorf("%w: shape %v overflows", tensorcache.ErrInvalidArgument, shape)
	}
	rowBytes := rowElems * w
	if rowBytes > 0 && rows > math.MaxInt/rowBytes {
		return layout{}, fmt.Errorf("%w: shape %v overflows", tensorcache.ErrInvalidArgument, shape)
	}
	return layout{rows: rows, rowBytes: rowBytes, total: rows * rowBytes}, nil
}

// chunkRows picks how many rows go into one chunk so that a chunk stays
// within chunkBytes, with at least one row per chunk.
func (l layout) chunkRows(chunkBytes int) int {
	if l.total == 0 {
		return 0
	}
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	r := max(chunkBytes/l.rowBytes, 1)
	return min(r, l.rows)
}

func (l layout) numChunks(chunkRows int) int {
	if l.total == 0 || chunkRows <= 0 {
		return 0
	}
	return (l.rows + chunkRows - 1) / chunkRows
}

// chunkSpan returns the rows [lo, hi) covered by chunk i.
func (l layout) chunkSpan(chunkRows, i int) (int, int) {
	lo := i * chunkRows
	return lo, min(lo+chunkRows, l.rows)
}

func (l layout) chunkLength(chunkRows, i int) int {
	lo, hi := l.chunkSpan(chunkRows, i)
	return (hi - lo) * l.rowBytes
}
