package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytesEmptyGoldenVector(t *testing.T) {
	// Well-known SHA3-256 digest of the empty input.
	const want = "a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a"[:64]
	got := HashBytes(nil)
	assert.Equal(t, want, got)
	assert.Len(t, got, 64)
}

func TestHashStringDeterministic(t *testing.T) {
	a := HashString("Hello")
	b := HashString("Hello")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, HashString("hello"))
}

func TestHashDictKeyOrderIndependent(t *testing.T) {
	h1, err := HashDict(map[string]any{"b": 1, "a": "x", "c": nil})
	require.NoError(t, err)
	h2, err := HashDict(map[string]any{"c": nil, "a": "x", "b": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashDictNestedKeysSorted(t *testing.T) {
	h1, err := HashDict(map[string]any{"outer": map[string]any{"z": 1, "a": 2}})
	require.NoError(t, err)
	h2, err := HashDict(map[string]any{"outer": map[string]any{"a": 2, "z": 1}})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestCanonicalizeNoWhitespaceOrHTMLEscaping(t *testing.T) {
	buf, err := Canonicalize(map[string]any{"a": "<tag>&x"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<tag>&x"}`, string(buf))
}

func TestCanonicalizeNonASCIIUnescaped(t *testing.T) {
	buf, err := Canonicalize(map[string]any{"name": "café"})
	require.NoError(t, err)
	assert.Contains(t, string(buf), "café")
}

func TestComputeAuditHashFullHashFoldsMetadata(t *testing.T) {
	metadata := map[string]any{
		"organization_id": "org1",
		"user_id":         nil,
		"model_name":      "m",
		"decision_type":   "GENERATION",
	}
	h1, err := ComputeAuditHash("Hello", "Hi", map[string]any{"environment": "prod"}, metadata)
	require.NoError(t, err)
	assert.Len(t, h1.FullHash, 64)
	assert.Equal(t, HashString("Hello"), h1.InputHash)

	h2, err := ComputeAuditHash("Hello", "Hi", map[string]any{"environment": "prod"}, metadata)
	require.NoError(t, err)
	assert.Equal(t, h1.FullHash, h2.FullHash)
}

func TestMerkleHashIsPlainConcatenation(t *testing.T) {
	left := HashString("a")
	right := HashString("b")
	assert.Equal(t, HashString(left+right), MerkleHash(left, right))
}

func TestHMACHexVerifiable(t *testing.T) {
	key := []byte("secret")
	mac := HMACHex("payload", key)
	assert.True(t, Compare(mac, HMACHex("payload", key)))
	assert.False(t, Compare(mac, HMACHex("payload2", key)))
}

func TestCompareConstantTimeLengthMismatch(t *testing.T) {
	assert.False(t, Compare("abc", "abcd"))
}
