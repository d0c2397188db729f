package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/auditledger/core/internal/model"
)

const anchorColumns = `
	anchor_id, root_id, root_hash, chain_id, network_name, status,
	tx_hash, block_number, block_hash, gas_used,
	retry_count, last_error, created_at, submitted_at, confirmed_at, finalized_at`

func scanAnchor(row pgx.Row) (*model.BlockchainAnchor, error) {
	var a model.BlockchainAnchor
	var status string
	if err := row.Scan(
		&a.ID, &a.RootID, &a.RootHash, &a.ChainID, &a.NetworkName, &status,
		&a.TxHash, &a.BlockNumber, &a.BlockHash, &a.GasUsed,
		&a.RetryCount, &a.LastError, &a.CreatedAt, &a.SubmittedAt, &a.ConfirmedAt, &a.FinalizedAt,
	); err != nil {
		return nil, err
	}
	a.Status = model.AnchorStatus(status)
	return &a, nil
}

// InsertAnchor persists a newly created PENDING anchor.
func (db *DB) InsertAnchor(ctx context.Context, anchor *model.BlockchainAnchor) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO blockchain_anchors (
			anchor_id, root_id, root_hash, chain_id, network_name, status,
			tx_hash, block_number, block_hash, gas_used, retry_count, last_error,
			created_at, submitted_at, confirmed_at, finalized_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		anchor.ID, anchor.RootID, anchor.RootHash, anchor.ChainID, anchor.NetworkName, string(anchor.Status),
		anchor.TxHash, anchor.BlockNumber, anchor.BlockHash, anchor.GasUsed, anchor.RetryCount, anchor.LastError,
		anchor.CreatedAt, anchor.SubmittedAt, anchor.ConfirmedAt, anchor.FinalizedAt,
	)
	if err != nil {
		return wrapQueryErr("insert anchor", err)
	}
	return nil
}

// UpdateAnchor persists every mutable field of anchor (state transitions,
// receipt data, retry bookkeeping).
func (db *DB) UpdateAnchor(ctx context.Context, anchor *model.BlockchainAnchor) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE blockchain_anchors SET
			status = $1, tx_hash = $2, block_number = $3, block_hash = $4, gas_used = $5,
			retry_count = $6, last_error = $7, submitted_at = $8, confirmed_at = $9, finalized_at = $10
		WHERE anchor_id = $11`,
		string(anchor.Status), anchor.TxHash, anchor.BlockNumber, anchor.BlockHash, anchor.GasUsed,
		anchor.RetryCount, anchor.LastError, anchor.SubmittedAt, anchor.ConfirmedAt, anchor.FinalizedAt,
		anchor.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update anchor: %w", err)
	}
	return nil
}

// GetAnchor fetches an anchor by id.
func (db *DB) GetAnchor(ctx context.Context, id uuid.UUID) (*model.BlockchainAnchor, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+anchorColumns+` FROM blockchain_anchors WHERE anchor_id = $1`, id)
	a, err := scanAnchor(row)
	if err != nil {
		return nil, wrapQueryErr("get anchor", err)
	}
	return a, nil
}

// GetAnchorByRootHash fetches the anchor covering rootHash, if any.
func (db *DB) GetAnchorByRootHash(ctx context.Context, rootHash string) (*model.BlockchainAnchor, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+anchorColumns+` FROM blockchain_anchors WHERE root_hash = $1`, rootHash)
	a, err := scanAnchor(row)
	if err != nil {
		return nil, wrapQueryErr("get anchor by root hash", err)
	}
	return a, nil
}

// ListAnchorsByStatus lists every anchor in a given state, used by the
// anchor worker's tick loop to advance each state in turn.
func (db *DB) ListAnchorsByStatus(ctx context.Context, status model.AnchorStatus) ([]model.BlockchainAnchor, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+anchorColumns+` FROM blockchain_anchors WHERE status = $1 ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, wrapQueryErr("list anchors by status", err)
	}
	defer rows.Close()

	var out []model.BlockchainAnchor
	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan anchor: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
