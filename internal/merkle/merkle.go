// Package merkle builds balanced binary Merkle trees over an ordered list
// of leaf hashes and produces/verifies inclusion proofs.
package merkle

import (
	"errors"
	"fmt"

	"github.com/auditledger/core/internal/hashing"
	"github.com/auditledger/core/internal/model"
)

// ErrEmptyLeaves is returned by Build when given zero leaves.
var ErrEmptyLeaves = errors.New("merkle: leaf list is empty")

// ErrLeafNotFound is returned by Proof when the requested leaf hash is not
// present in the tree.
var ErrLeafNotFound = errors.New("merkle: leaf not in tree")

// ErrInvalidProofStep is returned by VerifyProof for a malformed step.
var ErrInvalidProofStep = errors.New("merkle: invalid proof step position")

// Tree is a fully materialized Merkle tree, held in memory as one slice per
// level. Node identity and child/parent relationships are expressed purely
// through hash values, matching how the store persists them — nothing here
// depends on pointer identity.
type Tree struct {
	levels [][]model.MerkleNode // levels[0] = leaves
	byHash map[string]nodeRef
	root   model.MerkleNode
}

type nodeRef struct {
	level, index int
}

// Build constructs a tree from leaves, an ordered slice of 64-char hex
// digests (callers must order by ascending sequence_number per the leaf
// ordering contract). Depth caps, where needed, are a caller concern —
// see ingest.Batcher's depthCap check against the returned Tree.
func Build(leaves []string) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyLeaves
	}

	leafNodes := make([]model.MerkleNode, len(leaves))
	for i, h := range leaves {
		leafNodes[i] = model.MerkleNode{
			NodeHash: h,
			Level:    0,
			Position: i,
			IsLeaf:   true,
		}
	}

	t := &Tree{
		levels: [][]model.MerkleNode{leafNodes},
		byHash: make(map[string]nodeRef, len(leaves)*2),
	}
	for i, n := range leafNodes {
		t.byHash[n.NodeHash] = nodeRef{level: 0, index: i}
	}

	level := leafNodes
	depth := 0
	for len(level) > 1 {
		depth++
		next := make([]model.MerkleNode, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			var right model.MerkleNode
			selfPair := i+1 >= len(level)
			if selfPair {
				right = level[i]
			} else {
				right = level[i+1]
			}

			parentHash := hashing.MerkleHash(left.NodeHash, right.NodeHash)
			parent := model.MerkleNode{
				NodeHash:      parentHash,
				Level:         depth,
				Position:      len(next),
				LeftChildHash: left.NodeHash,
			}
			if !selfPair {
				rh := right.NodeHash
				parent.RightChildHash = &rh
			}

			level[i].ParentHash = &parentHash
			if !selfPair {
				level[i+1].ParentHash = &parentHash
			}
			next = append(next, parent)
		}
		t.levels = append(t.levels, next)
		for i, n := range next {
			t.byHash[n.NodeHash] = nodeRef{level: depth, index: i}
		}
		level = next
	}

	root := level[0]
	root.IsRoot = true
	t.levels[depth][0] = root
	t.root = root
	t.byHash[root.NodeHash] = nodeRef{level: depth, index: 0}

	return t, nil
}

// RootHash returns the tree's root digest.
func (t *Tree) RootHash() string { return t.root.NodeHash }

// Depth returns the number of levels above the leaves.
func (t *Tree) Depth() int { return len(t.levels) - 1 }

// LeafCount returns the number of leaves the tree was built from.
func (t *Tree) LeafCount() int { return len(t.levels[0]) }

// Nodes flattens every materialized node across all levels, in the shape
// the store persists (parent/child relationships expressed by hash, not by
// in-memory reference).
func (t *Tree) Nodes() []model.MerkleNode {
	var out []model.MerkleNode
	for _, lvl := range t.levels {
		out = append(out, lvl...)
	}
	return out
}

// Proof builds an inclusion proof for leafHash by walking level-by-level
// from the leaf to the root, locating each level's sibling.
func (t *Tree) Proof(leafHash string) (*model.Proof, error) {
	ref, ok := t.byHash[leafHash]
	if !ok || ref.level != 0 {
		return nil, fmt.Errorf("merkle: %w: %s", ErrLeafNotFound, leafHash)
	}

	var path []model.ProofStep
	level, index := ref.level, ref.index
	for level < t.Depth() {
		lvl := t.levels[level]
		isLeftChild := index%2 == 0
		var siblingHash string
		var position string
		if isLeftChild {
			if index+1 < len(lvl) {
				siblingHash = lvl[index+1].NodeHash
			} else {
				// Odd-tail self-pair: sibling is the node itself, pinned right.
				siblingHash = lvl[index].NodeHash
			}
			position = model.PositionRight
		} else {
			siblingHash = lvl[index-1].NodeHash
			position = model.PositionLeft
		}
		path = append(path, model.ProofStep{Hash: siblingHash, Position: position})

		index = index / 2
		level++
	}

	return &model.Proof{
		LeafHash:  leafHash,
		RootHash:  t.RootHash(),
		ProofPath: path,
	}, nil
}

// VerifyProof recomputes the root from leafHash and proof, and constant-time
// compares it against rootHash.
func VerifyProof(leafHash, rootHash string, proof []model.ProofStep) (bool, error) {
	cur := leafHash
	for _, step := range proof {
		switch step.Position {
		case model.PositionLeft:
			cur = hashing.MerkleHash(step.Hash, cur)
		case model.PositionRight:
			cur = hashing.MerkleHash(cur, step.Hash)
		default:
			return false, fmt.Errorf("%w: %q", ErrInvalidProofStep, step.Position)
		}
	}
	return hashing.Compare(cur, rootHash), nil
}
