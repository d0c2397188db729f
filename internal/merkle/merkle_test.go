package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditledger/core/internal/hashing"
	"github.com/auditledger/core/internal/model"
)

func TestBuildEmptyRejected(t *testing.T) {
	_, err := Build(nil)
	assert.ErrorIs(t, err, ErrEmptyLeaves)
}

func TestBuildSingleLeafRootIsLeaf(t *testing.T) {
	a := hashing.HashString("a")
	tree, err := Build([]string{a})
	require.NoError(t, err)
	assert.Equal(t, a, tree.RootHash())
	assert.Equal(t, 0, tree.Depth())

	proof, err := tree.Proof(a)
	require.NoError(t, err)
	assert.Empty(t, proof.ProofPath)
	ok, err := VerifyProof(a, tree.RootHash(), proof.ProofPath)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuildThreeLeavesGoldenShape(t *testing.T) {
	a, b, c := hashing.HashString("a"), hashing.HashString("b"), hashing.HashString("c")
	tree, err := Build([]string{a, b, c})
	require.NoError(t, err)

	wantRoot := hashing.MerkleHash(hashing.MerkleHash(a, b), hashing.MerkleHash(c, c))
	assert.Equal(t, wantRoot, tree.RootHash())

	proof, err := tree.Proof(b)
	require.NoError(t, err)
	require.Len(t, proof.ProofPath, 2)
	assert.Equal(t, model.ProofStep{Hash: a, Position: model.PositionLeft}, proof.ProofPath[0])
	assert.Equal(t, model.ProofStep{Hash: hashing.MerkleHash(c, c), Position: model.PositionRight}, proof.ProofPath[1])
}

func TestOddPairSymmetry(t *testing.T) {
	a, b, c := hashing.HashString("a"), hashing.HashString("b"), hashing.HashString("c")
	t3, err := Build([]string{a, b, c})
	require.NoError(t, err)
	t4, err := Build([]string{a, b, c, c})
	require.NoError(t, err)
	assert.Equal(t, t3.RootHash(), t4.RootHash())
}

func TestRoundTripAllLeaves(t *testing.T) {
	leaves := make([]string, 0, 16)
	for i := 0; i < 16; i++ {
		leaves = append(leaves, hashing.HashString(string(rune('a'+i))))
	}
	tree, err := Build(leaves)
	require.NoError(t, err)

	for _, leaf := range leaves {
		proof, err := tree.Proof(leaf)
		require.NoError(t, err)
		ok, err := VerifyProof(leaf, tree.RootHash(), proof.ProofPath)
		require.NoError(t, err)
		assert.True(t, ok, "leaf %s should verify", leaf)
	}
}

func TestTamperedRootFailsVerification(t *testing.T) {
	leaves := []string{hashing.HashString("a"), hashing.HashString("b"), hashing.HashString("c")}
	tree, err := Build(leaves)
	require.NoError(t, err)
	proof, err := tree.Proof(leaves[0])
	require.NoError(t, err)

	ok, err := VerifyProof(leaves[0], hashing.HashString("tampered-root"), proof.ProofPath)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeafNotInTree(t *testing.T) {
	tree, err := Build([]string{hashing.HashString("a")})
	require.NoError(t, err)
	_, err = tree.Proof(hashing.HashString("missing"))
	assert.ErrorIs(t, err, ErrLeafNotFound)
}

func TestVerifyProofInvalidPosition(t *testing.T) {
	_, err := VerifyProof("leaf", "root", []model.ProofStep{{Hash: "x", Position: "up"}})
	assert.ErrorIs(t, err, ErrInvalidProofStep)
}
