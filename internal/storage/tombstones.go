package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/auditledger/core/internal/model"
)

const tombstoneColumns = `
	id, original_decision_id, decision_id, deleted_by, deletion_reason, legal_basis,
	created_at, permanent_retention_until, original_hash, deletion_hash,
	deletion_anchor_tx_hash, deletion_verified`

func scanTombstone(row pgx.Row) (*model.TombstoneRecord, error) {
	var t model.TombstoneRecord
	if err := row.Scan(
		&t.ID, &t.OriginalDecisionID, &t.DecisionID, &t.DeletedBy, &t.DeletionReason, &t.LegalBasis,
		&t.CreatedAt, &t.RetentionUntil, &t.OriginalHash, &t.DeletionHash,
		&t.DeletionAnchorTxHash, &t.DeletionVerified,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTombstone persists a newly created tombstone.
func (db *DB) InsertTombstone(ctx context.Context, t *model.TombstoneRecord) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO tombstones (
			id, original_decision_id, decision_id, deleted_by, deletion_reason, legal_basis,
			created_at, permanent_retention_until, original_hash, deletion_hash,
			deletion_anchor_tx_hash, deletion_verified
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		t.ID, t.OriginalDecisionID, t.DecisionID, t.DeletedBy, t.DeletionReason, t.LegalBasis,
		t.CreatedAt, t.RetentionUntil, t.OriginalHash, t.DeletionHash,
		t.DeletionAnchorTxHash, t.DeletionVerified,
	)
	if err != nil {
		return wrapQueryErr("insert tombstone", err)
	}
	return nil
}

// GetTombstone fetches a single tombstone by id.
func (db *DB) GetTombstone(ctx context.Context, id uuid.UUID) (*model.TombstoneRecord, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+tombstoneColumns+` FROM tombstones WHERE id = $1`, id)
	t, err := scanTombstone(row)
	if err != nil {
		return nil, wrapQueryErr("get tombstone", err)
	}
	return t, nil
}

// ListTombstonesByIDs fetches every tombstone named in ids.
func (db *DB) ListTombstonesByIDs(ctx context.Context, ids []uuid.UUID) ([]model.TombstoneRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx, `SELECT `+tombstoneColumns+` FROM tombstones WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, wrapQueryErr("list tombstones by ids", err)
	}
	defer rows.Close()

	var out []model.TombstoneRecord
	for rows.Next() {
		t, err := scanTombstone(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan tombstone: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
