package model

import (
	"time"

	"github.com/google/uuid"
)

// MerkleNode is one node of a materialized Merkle tree, keyed by its own
// hash. Non-leaf nodes satisfy NodeHash = merkle_hash(LeftChildHash,
// RightChildHash). Parent/child relationships are identifier references
// resolved through the store, never in-memory pointers, so a tree can be
// walked long after the Tree value that built it is gone.
type MerkleNode struct {
	NodeHash string `json:"node_hash"`
	RootID   uuid.UUID `json:"root_id"`
	Level    int    `json:"level"`
	Position int    `json:"position"`
	IsLeaf   bool   `json:"is_leaf"`
	IsRoot   bool   `json:"is_root"`

	LeftChildHash  string  `json:"left_child_hash,omitempty"`
	RightChildHash *string `json:"right_child_hash,omitempty"` // nil for odd-tail self-pairs
	ParentHash     *string `json:"parent_hash,omitempty"`

	// DecisionID is set only for leaf nodes.
	DecisionID *uuid.UUID `json:"decision_id,omitempty"`
}

// MerkleRoot is the top of a materialized tree, covering a closed,
// contiguous sequence range of DecisionRecords.
type MerkleRoot struct {
	ID        uuid.UUID `json:"id"`
	RootHash  string    `json:"root_hash"`
	TreeDepth int       `json:"tree_depth"`
	LeafCount int       `json:"leaf_count"`

	OrgID         uuid.UUID `json:"organization_id"`
	StartSequence int64     `json:"start_sequence"`
	EndSequence   int64     `json:"end_sequence"`

	IsAnchored bool       `json:"is_anchored"`
	AnchoredAt *time.Time `json:"anchored_at,omitempty"`
	AnchorID   *uuid.UUID `json:"anchor_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ProofStep is one hop of a Merkle inclusion proof.
type ProofStep struct {
	Hash     string `json:"hash"`
	Position string `json:"position"` // "left" or "right"
}

const (
	PositionLeft  = "left"
	PositionRight = "right"
)

// Proof is an inclusion proof for a single leaf against a root.
type Proof struct {
	LeafHash  string      `json:"leaf_hash"`
	RootHash  string      `json:"root_hash"`
	ProofPath []ProofStep `json:"proof_path"`
}
