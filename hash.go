package tensorcache

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// HashSize is the size of a BLAKE3 hash in bytes (256 bits).
const HashSize = 32

// hashAlg prefixes the textual form of a Hash stored in record headers.
const hashAlg = "blake3"

// Hash represents a BLAKE3 256-bit digest of a stored chunk.
type Hash [HashSize]byte

// String returns the hex-encoded representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ShortString returns a shortened hex representation for display.
func (h Hash) ShortString() string {
	return hex.EncodeToString(h[:8])
}

// Ref returns the algorithm-qualified form "blake3:hex".
func (h Hash) Ref() string {
	return hashAlg + ":" + h.String()
}

// IsZero returns true if the hash is all zeros (uninitialized).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
// The algorithm-qualified form is used so headers stay self-describing.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Ref()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
// Both "blake3:hex" and plain hex are accepted.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses a hex-encoded hash string, optionally prefixed with "blake3:".
func ParseHash(s string) (Hash, error) {
	if alg, rest, ok := strings.Cut(s, ":"); ok {
		if !strings.EqualFold(alg, hashAlg) {
			return Hash{}, fmt.Errorf("unsupported hash algorithm %q", alg)
		}
		s = rest
	}
	if len(s) != HashSize*2 {
		return Hash{}, fmt.Errorf("invalid hash length: expected %d hex chars, got %d", HashSize*2, len(s))
	}
	var h Hash
	if _, err := hex.Decode(h[:], []byte(strings.ToLower(s))); err != nil {
		return Hash{}, fmt.Errorf("invalid hash: %w", err)
	}
	return h, nil
}

// HashBytes computes the BLAKE3 hash of the given bytes.
func HashBytes(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}
