package tensorcache

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardPath(t *testing.T) {
	tests := []struct {
		name string
		base string
		key  string
		want string
	}{
		{
			name: "local base",
			base: "/tmp/my_tensor_cache",
			key:  "sample_1",
			want: "/tmp/my_tensor_cache/92/45/sample_1.tensor",
		},
		{
			name: "trailing slash trimmed",
			base: "/tmp/cache/",
			key:  "test_item",
			want: "/tmp/cache/68/e5/test_item.tensor",
		},
		{
			name: "remote base",
			base: "s3://bucket/cache",
			key:  "sample_1",
			want: "s3://bucket/cache/92/45/sample_1.tensor",
		},
		{
			name: "relative",
			base: "",
			key:  "sample_1",
			want: "92/45/sample_1.tensor",
		},
		{
			name: "separator passed through verbatim",
			base: "",
			key:  "a/b",
			want: "c1/4c/a/b.tensor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ShardPath(tt.base, tt.key))
		})
	}
}

func TestShardPathDeterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		require.Equal(t, ShardPath("/base", key), ShardPath("/base", key))
	}
}

func TestShardPathLayout(t *testing.T) {
	p := ShardPath("/base", "test_item")
	parts := strings.Split(p, "/")
	require.Len(t, parts[len(parts)-3], 2)
	require.Len(t, parts[len(parts)-2], 2)
	require.Equal(t, "test_item"+RecordExt, parts[len(parts)-1])
}

func TestShardPathUniqueness(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	const n = 10000

	keys := make(map[string]struct{}, n)
	paths := make(map[string]struct{}, n)
	for len(keys) < n {
		b := make([]byte, 1+rng.IntN(24))
		for i := range b {
			b[i] = byte('a' + rng.IntN(26))
		}
		key := string(b)
		if _, dup := keys[key]; dup {
			continue
		}
		keys[key] = struct{}{}
		paths[ShardPath("/cache", key)] = struct{}{}
	}
	assert.Len(t, paths, n)
}

func TestShardDirsFanOut(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 5000; i++ {
		s1, s2 := ShardDirs(fmt.Sprintf("k%d", i))
		require.Len(t, s1, 2)
		require.Len(t, s2, 2)
		seen[s1] = struct{}{}
	}
	// 256 possible first-level directories
	assert.LessOrEqual(t, len(seen), 256)
	assert.Greater(t, len(seen), 200)
}

func TestCheckKey(t *testing.T) {
	require.ErrorIs(t, CheckKey("", false), ErrInvalidArgument)
	require.NoError(t, CheckKey("a/b", false))
	require.NoError(t, CheckKey("sample_1", true))

	for _, k := range []string{"a/b", `a\b`, "..", ".", "nul\x00"} {
		require.ErrorIs(t, CheckKey(k, true), ErrInvalidArgument, k)
	}
}
