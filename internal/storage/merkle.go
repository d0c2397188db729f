package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/auditledger/core/internal/model"
)

// InsertMerkleRoot persists a batch's root.
func (db *DB) InsertMerkleRoot(ctx context.Context, root *model.MerkleRoot) error {
	if root.CreatedAt.IsZero() {
		root.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx, `
		INSERT INTO merkle_roots (id, root_hash, tree_depth, leaf_count, organization_id, start_sequence, end_sequence, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		root.ID, root.RootHash, root.TreeDepth, root.LeafCount, root.OrgID, root.StartSequence, root.EndSequence, root.CreatedAt)
	if err != nil {
		return wrapQueryErr("insert merkle root", err)
	}
	return nil
}

// InsertMerkleNodes bulk-loads a tree's internal and leaf nodes via COPY.
func (db *DB) InsertMerkleNodes(ctx context.Context, nodes []model.MerkleNode) error {
	if len(nodes) == 0 {
		return nil
	}
	columns := []string{"node_hash", "root_id", "level", "position", "is_leaf", "is_root", "left_child_hash", "right_child_hash", "parent_hash", "decision_id"}
	rows := make([][]any, len(nodes))
	for i, n := range nodes {
		rows[i] = []any{n.NodeHash, n.RootID, n.Level, n.Position, n.IsLeaf, n.IsRoot, n.LeftChildHash, n.RightChildHash, n.ParentHash, n.DecisionID}
	}
	_, err := db.pool.CopyFrom(ctx, pgx.Identifier{"merkle_nodes"}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("storage: copy merkle nodes: %w", err)
	}
	return nil
}

// GetMerkleRoot fetches a root by its hash.
func (db *DB) GetMerkleRoot(ctx context.Context, rootHash string) (*model.MerkleRoot, error) {
	var root model.MerkleRoot
	err := db.pool.QueryRow(ctx, `
		SELECT id, root_hash, tree_depth, leaf_count, organization_id, start_sequence, end_sequence, is_anchored, anchored_at, anchor_id, created_at
		FROM merkle_roots WHERE root_hash = $1`, rootHash).Scan(
		&root.ID, &root.RootHash, &root.TreeDepth, &root.LeafCount, &root.OrgID, &root.StartSequence, &root.EndSequence,
		&root.IsAnchored, &root.AnchoredAt, &root.AnchorID, &root.CreatedAt)
	if err != nil {
		return nil, wrapQueryErr("get merkle root", err)
	}
	return &root, nil
}

const merkleNodeColumns = `node_hash, root_id, level, position, is_leaf, is_root, left_child_hash, right_child_hash, parent_hash, decision_id`

// GetMerkleNode fetches a single node by its hash.
func (db *DB) GetMerkleNode(ctx context.Context, nodeHash string) (*model.MerkleNode, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+merkleNodeColumns+` FROM merkle_nodes WHERE node_hash = $1`, nodeHash)
	n, err := scanMerkleNode(row)
	if err != nil {
		return nil, wrapQueryErr("get merkle node", err)
	}
	return n, nil
}

// GetMerkleNodeByParent fetches the (up to two) children of parentHash
// within rootID's tree, used to walk a proof path without materializing
// the whole tree.
func (db *DB) GetMerkleNodeByParent(ctx context.Context, rootID uuid.UUID, parentHash string) ([]model.MerkleNode, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+merkleNodeColumns+` FROM merkle_nodes WHERE root_id = $1 AND parent_hash = $2`, rootID, parentHash)
	if err != nil {
		return nil, wrapQueryErr("get merkle nodes by parent", err)
	}
	defer rows.Close()

	var out []model.MerkleNode
	for rows.Next() {
		n, err := scanMerkleNode(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan merkle node: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// GetLeafNodeForDecision fetches the leaf node covering a given decision.
func (db *DB) GetLeafNodeForDecision(ctx context.Context, decisionID uuid.UUID) (*model.MerkleNode, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+merkleNodeColumns+` FROM merkle_nodes WHERE decision_id = $1 AND is_leaf = true`, decisionID)
	n, err := scanMerkleNode(row)
	if err != nil {
		return nil, wrapQueryErr("get leaf node for decision", err)
	}
	return n, nil
}

func scanMerkleNode(row pgx.Row) (*model.MerkleNode, error) {
	var n model.MerkleNode
	if err := row.Scan(&n.NodeHash, &n.RootID, &n.Level, &n.Position, &n.IsLeaf, &n.IsRoot, &n.LeftChildHash, &n.RightChildHash, &n.ParentHash, &n.DecisionID); err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkRootAnchored links rootID to anchorID once the anchor confirms.
func (db *DB) MarkRootAnchored(ctx context.Context, rootID, anchorID uuid.UUID, at time.Time) error {
	_, err := db.pool.Exec(ctx, `UPDATE merkle_roots SET anchor_id = $1, anchored_at = $2, is_anchored = true WHERE id = $3`, anchorID, at, rootID)
	if err != nil {
		return fmt.Errorf("storage: mark root anchored: %w", err)
	}
	return nil
}
