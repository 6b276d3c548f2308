// Package tensorcache defines the array model shared by the tensor cache:
// element dtypes, row-major arrays, key sharding and the error taxonomy.
package tensorcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// ByteOrder is the element byte order of every Array buffer.
var ByteOrder = binary.LittleEndian

// Element is the set of Go types that map onto a DType.
type Element interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64 | bool
}

// Array is a dense, row-major (C order) array with little-endian elements.
// A nil or empty Shape describes a 0-d array holding exactly one element.
type Array struct {
	Shape []int
	DType DType
	Data  []byte
}

// NewArray validates and wraps a raw element buffer. The buffer is not copied.
func NewArray(dtype DType, shape []int, data []byte) (*Array, error) {
	a := &Array{Shape: slices.Clone(shape), DType: dtype, Data: data}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Zeros returns a zero-filled array of the given dtype and shape.
func Zeros(dtype DType, shape []int) (*Array, error) {
	if !dtype.Valid() {
		return nil, fmt.Errorf("%w: unsupported dtype %s", ErrInvalidArgument, dtype)
	}
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	size, err := byteLength(n, dtype)
	if err != nil {
		return nil, err
	}
	return &Array{Shape: slices.Clone(shape), DType: dtype, Data: make([]byte, size)}, nil
}

// FromSlice builds an array from typed values laid out in row-major order.
func FromSlice[T Element](shape []int, values []T) (*Array, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(values) {
		return nil, fmt.Errorf("%w: shape %v holds %d elements, got %d values", ErrInvalidArgument, shape, n, len(values))
	}
	data, err := binary.Append(make([]byte, 0, n*DTypeOf[T]().Size()), ByteOrder, values)
	if err != nil {
		return nil, fmt.Errorf("encoding values: %w", err)
	}
	return &Array{Shape: slices.Clone(shape), DType: DTypeOf[T](), Data: data}, nil
}

// Values decodes the buffer of a into a typed slice.
// T must match the array dtype exactly.
func Values[T Element](a *Array) ([]T, error) {
	if want := DTypeOf[T](); a.DType != want {
		return nil, fmt.Errorf("%w: array dtype is %s, not %s", ErrInvalidArgument, a.DType, want)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	out := make([]T, a.Len())
	if len(out) == 0 {
		return out, nil
	}
	if _, err := binary.Decode(a.Data, ByteOrder, out); err != nil {
		return nil, fmt.Errorf("decoding values: %w", err)
	}
	return out, nil
}

// DTypeOf returns the DType corresponding to T.
func DTypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case float32:
		return Float32
	case float64:
		return Float64
	case bool:
		return Bool
	}
	return InvalidDType
}

// Validate checks that the dtype is supported, every dimension is
// non-negative and the buffer length equals product(shape) × element width.
func (a *Array) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil array", ErrInvalidArgument)
	}
	if !a.DType.Valid() {
		return fmt.Errorf("%w: unsupported dtype %s", ErrInvalidArgument, a.DType)
	}
	n, err := NumElements(a.Shape)
	if err != nil {
		return err
	}
	want, err := byteLength(n, a.DType)
	if err != nil {
		return err
	}
	if len(a.Data) != want {
		return fmt.Errorf("%w: shape %v of %s needs %d bytes, buffer has %d", ErrInvalidArgument, a.Shape, a.DType, want, len(a.Data))
	}
	return nil
}

// NDim returns the number of dimensions.
func (a *Array) NDim() int { return len(a.Shape) }

// Len returns the number of elements, product(shape).
func (a *Array) Len() int {
	n, err := NumElements(a.Shape)
	if err != nil {
		return 0
	}
	return n
}

// NBytes returns the size of the element buffer in bytes.
func (a *Array) NBytes() int { return len(a.Data) }

// Equal reports whether a and b have the same dtype, shape and bytes.
func (a *Array) Equal(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.DType == b.DType && slices.Equal(a.Shape, b.Shape) && bytes.Equal(a.Data, b.Data)
}

func (a *Array) String() string {
	return fmt.Sprintf("%s%v", a.DType, a.Shape)
}

// NumElements returns product(shape), rejecting negative dimensions and overflow.
// The product of an empty shape is 1.
func NumElements(shape []int) (int, error) {
	n := 1
	for i, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: dimension %d is negative (%d)", ErrInvalidArgument, i, d)
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: shape %v overflows", ErrInvalidArgument, shape)
		}
		n *= d
	}
	return n, nil
}

func byteLength(n int, dtype DType) (int, error) {
	w := dtype.Size()
	if n > 0 && n > math.MaxInt/w {
		return 0, fmt.Errorf("%w: %d elements of %s overflow", ErrInvalidArgument, n, dtype)
	}
	return n * w, nil
}
