package hasher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHash_StableAcrossKeyOrdering(t *testing.T) {
	h := New()

	a := map[string]interface{}{"b": 2, "a": 1}
	b := map[string]interface{}{"a": 1, "b": 2}

	require.Equal(t, h.Hash(a), h.Hash(b))
}

func TestHash_ExcludedKeysDropped(t *testing.T) {
	h := New(WithExcludedKeys("metadata"))

	withMeta := map[string]interface{}{"id": "1", "metadata": map[string]interface{}{"x": 1}}
	withoutMeta := map[string]interface{}{"id": "1"}

	require.Equal(t, h.Hash(withoutMeta), h.Hash(withMeta))
}

func TestHash_ArrayOrderSignificant(t *testing.T) {
	h := New()

	first := []interface{}{"x", "y"}
	second := []interface{}{"y", "x"}

	require.NotEqual(t, h.Hash(first), h.Hash(second))
}

func TestHash_NilIsCanonicalNull(t *testing.T) {
	h := New()
	require.Equal(t, h.Hash(nil), h.Hash(nil))
}

func TestHash_Deterministic(t *testing.T) {
	h := New()
	content := map[string]interface{}{"title": "Dune", "tags": []interface{}{"sci-fi"}}

	first := h.Hash(content)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, h.Hash(content))
	}
}

func TestHashBinary_DirectNoNormalization(t *testing.T) {
	h := New()
	data := []byte{0x00, 0x01, 0x02}
	require.Equal(t, h.HashBinary(data), h.HashBinary(data))
}

func TestWithAlgorithm_DigestLengthsDiffer(t *testing.T) {
	content := "same content"

	sha256Digest := New(WithAlgorithm(SHA256)).Hash(content)
	sha384Digest := New(WithAlgorithm(SHA384)).Hash(content)
	sha512Digest := New(WithAlgorithm(SHA512)).Hash(content)

	require.Len(t, sha256Digest, 64)
	require.Len(t, sha384Digest, 96)
	require.Len(t, sha512Digest, 128)
}

func TestBatchHash_PreservesOrder(t *testing.T) {
	h := New()
	items := []interface{}{"a", "b", "c", "d", "e"}

	results, err := h.BatchHash(context.Background(), items, 2)
	require.NoError(t, err)
	require.Len(t, results, len(items))

	for i, item := range items {
		require.Equal(t, h.Hash(item), results[i])
	}
}

func TestHash_StringEscaping_NoCollision(t *testing.T) {
	h := New()
	// Without escaping, these could collide at string boundaries.
	a := []interface{}{`a"`, `b`}
	b := []interface{}{`a`, `"b`}

	require.NotEqual(t, h.Hash(a), h.Hash(b))
}
