package tensorcache

import (
	_ "crypto/sha256" // registers SHA-256 for go-digest
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

// RecordExt is the suffix of the final path segment of every array record.
const RecordExt = ".tensor"

// ShardDirs returns the two shard directory names for key: the first and
// second byte of SHA-256(key), hex encoded.
func ShardDirs(key string) (string, string) {
	hex := digest.SHA256.FromString(key).Encoded()
	return hex[0:2], hex[2:4]
}

// ShardPath returns the storage path of key under basePath:
//
//	{basePath}/{hex[0:2]}/{hex[2:4]}/{key}.tensor
//
// The key is used verbatim in the last segment. When basePath is empty the
// relative form without a leading separator is returned.
func ShardPath(basePath, key string) string {
	s1, s2 := ShardDirs(key)
	rel := s1 + "/" + s2 + "/" + key + RecordExt
	base := strings.TrimRight(basePath, "/")
	if base == "" {
		return rel
	}
	return base + "/" + rel
}

// CheckKey rejects empty keys. When strict is set, keys that could escape
// their shard directory are rejected too.
func CheckKey(key string, strict bool) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	if !strict {
		return nil
	}
	if key == "." || key == ".." || strings.ContainsAny(key, "/\\\x00") {
		return fmt.Errorf("%w: unsafe key %q", ErrInvalidArgument, key)
	}
	return nil
}
