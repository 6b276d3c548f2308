package tensorcache

import (
	"fmt"
	"strings"
)

// DType identifies the fixed-width element kind of an Array.
type DType uint8

const (
	InvalidDType DType = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	Bool
)

var dtypeNames = [...]string{
	InvalidDType: "invalid",
	Int8:         "int8",
	Int16:        "int16",
	Int32:        "int32",
	Int64:        "int64",
	Uint8:        "uint8",
	Uint16:       "uint16",
	Uint32:       "uint32",
	Uint64:       "uint64",
	Float32:      "float32",
	Float64:      "float64",
	Bool:         "bool",
}

var dtypeSizes = [...]int{
	Int8:    1,
	Int16:   2,
	Int32:   4,
	Int64:   8,
	Uint8:   1,
	Uint16:  2,
	Uint32:  4,
	Uint64:  8,
	Float32: 4,
	Float64: 8,
	Bool:    1,
}

// DTypes lists every supported element kind.
func DTypes() []DType {
	return []DType{Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64, Float32, Float64, Bool}
}

// Valid reports whether d is a supported element kind.
func (d DType) Valid() bool {
	return d > InvalidDType && int(d) < len(dtypeNames)
}

// Size returns the element width in bytes, or 0 for an invalid dtype.
func (d DType) Size() int {
	if !d.Valid() {
		return 0
	}
	return dtypeSizes[d]
}

// String returns the numpy-style name of the dtype.
func (d DType) String() string {
	if int(d) < len(dtypeNames) {
		return dtypeNames[d]
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// MarshalText implements encoding.TextMarshaler.
func (d DType) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: unsupported dtype %s", ErrInvalidArgument, d)
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names give a
// plain error rather than ErrInvalidArgument.
func (d *DType) UnmarshalText(text []byte) error {
	parsed, err := ParseDType(string(text))
	if err != nil {
		return fmt.Errorf("unsupported dtype %q", text)
	}
	*d = parsed
	return nil
}

// ParseDType parses a dtype name such as "float64". Matching is case-insensitive
// and the numpy aliases "bool_", "float" and "int" are accepted.
func ParseDType(s string) (DType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "bool_":
		return Bool, nil
	case "float":
		return Float64, nil
	case "int":
		return Int64, nil
	}
	for _, d := range DTypes() {
		if dtypeNames[d] == name {
			return d, nil
		}
	}
	return InvalidDType, fmt.Errorf("%w: unsupported dtype %q", ErrInvalidArgument, s)
}
