package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	auditledger "github.com/auditledger/core"
	"github.com/auditledger/core/internal/model"
)

// InsertDecision assigns rec a per-organization monotonic sequence number
// and persists it with its owned payload and context in one transaction.
// The sequence counter lives in org_sequence_counters so concurrent
// inserters for the same org serialize on a single row rather than racing
// a shared global sequence.
func (db *DB) InsertDecision(ctx context.Context, rec *model.DecisionRecord, payload *model.InteractionPayload, dctx *model.DecisionContext) error {
	return withRetry(ctx, 3, 50*time.Millisecond, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: insert decision: begin: %w", err)
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		var seq int64
		err = tx.QueryRow(ctx, `
			INSERT INTO org_sequence_counters (organization_id, next_seq)
			VALUES ($1, 1)
			ON CONFLICT (organization_id) DO UPDATE SET next_seq = org_sequence_counters.next_seq + 1
			RETURNING next_seq`, rec.OrgID).Scan(&seq)
		if err != nil {
			return fmt.Errorf("storage: reserve sequence: %w", err)
		}
		rec.SequenceNumber = seq

		_, err = tx.Exec(ctx, `
			INSERT INTO decisions (
				id, decision_id, sequence_number, organization_id, user_id, session_id,
				model_name, model_version, provider, decision_type,
				input_hash, output_hash, context_hash, full_hash,
				is_gdpr_deleted, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			rec.ID, rec.DecisionID, rec.SequenceNumber, rec.OrgID, rec.UserID, rec.SessionID,
			rec.ModelName, rec.ModelVersion, rec.Provider, string(rec.DecisionType),
			rec.InputHash, rec.OutputHash, rec.ContextHash, rec.FullHash,
			false, rec.CreatedAt,
		)
		if err != nil {
			return wrapQueryErr("insert decision", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO interaction_payloads (
				decision_id, prompt, response, prompt_tokens, completion_tokens, total_tokens,
				estimated_cost_usd, temperature, max_tokens, top_p, latency_ms, raw_request, raw_response
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			payload.DecisionID, payload.Prompt, payload.Response, payload.PromptTokens,
			payload.CompletionTokens, payload.TotalTokens, payload.EstimatedCostUSD,
			payload.Temperature, payload.MaxTokens, payload.TopP, payload.LatencyMS,
			payload.RawRequest, payload.RawResponse,
		)
		if err != nil {
			return fmt.Errorf("storage: insert interaction payload: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO decision_contexts (
				decision_id, application_id, environment, request_id, parent_decision_id,
				related_decisions, regulatory_framework, jurisdiction_code, data_residency, extra
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			dctx.DecisionID, dctx.ApplicationID, dctx.Environment, dctx.RequestID, dctx.ParentDecisionID,
			dctx.RelatedDecisions, dctx.RegulatoryFramework, dctx.JurisdictionCode, dctx.DataResidency, dctx.Extra,
		)
		if err != nil {
			return fmt.Errorf("storage: insert decision context: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: insert decision: commit: %w", err)
		}
		return nil
	})
}

const decisionColumns = `
	id, decision_id, sequence_number, organization_id, user_id, session_id,
	model_name, model_version, provider, decision_type,
	input_hash, output_hash, context_hash, full_hash,
	is_gdpr_deleted, gdpr_deleted_at, merkle_root, anchor_tx_hash, created_at`

func scanDecision(row pgx.Row) (*model.DecisionRecord, error) {
	var rec model.DecisionRecord
	var decisionType string
	if err := row.Scan(
		&rec.ID, &rec.DecisionID, &rec.SequenceNumber, &rec.OrgID, &rec.UserID, &rec.SessionID,
		&rec.ModelName, &rec.ModelVersion, &rec.Provider, &decisionType,
		&rec.InputHash, &rec.OutputHash, &rec.ContextHash, &rec.FullHash,
		&rec.IsGDPRDeleted, &rec.GDPRDeletedAt, &rec.MerkleRoot, &rec.AnchorTxHash, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.DecisionType = model.DecisionType(decisionType)
	return &rec, nil
}

// GetDecisionByID fetches a decision by primary key, joining its payload
// and context unless they have been purged by a GDPR deletion.
func (db *DB) GetDecisionByID(ctx context.Context, id uuid.UUID) (*model.DecisionRecord, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE id = $1`, id)
	rec, err := scanDecision(row)
	if err != nil {
		return nil, wrapQueryErr("get decision by id", err)
	}
	if err := db.attachPayloadAndContext(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetDecisionByDecisionID fetches a decision by its caller-facing decision_id.
func (db *DB) GetDecisionByDecisionID(ctx context.Context, orgID uuid.UUID, decisionID string) (*model.DecisionRecord, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE organization_id = $1 AND decision_id = $2`, orgID, decisionID)
	rec, err := scanDecision(row)
	if err != nil {
		return nil, wrapQueryErr("get decision by decision_id", err)
	}
	if err := db.attachPayloadAndContext(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (db *DB) attachPayloadAndContext(ctx context.Context, rec *model.DecisionRecord) error {
	if rec.IsGDPRDeleted {
		return nil
	}
	var payload model.InteractionPayload
	err := db.pool.QueryRow(ctx, `
		SELECT decision_id, prompt, response, prompt_tokens, completion_tokens, total_tokens,
			estimated_cost_usd, temperature, max_tokens, top_p, latency_ms, raw_request, raw_response
		FROM interaction_payloads WHERE decision_id = $1`, rec.ID).Scan(
		&payload.DecisionID, &payload.Prompt, &payload.Response, &payload.PromptTokens,
		&payload.CompletionTokens, &payload.TotalTokens, &payload.EstimatedCostUSD,
		&payload.Temperature, &payload.MaxTokens, &payload.TopP, &payload.LatencyMS,
		&payload.RawRequest, &payload.RawResponse,
	)
	if err != nil {
		return wrapQueryErr("attach payload", err)
	}
	rec.Payload = &payload

	var dctx model.DecisionContext
	err = db.pool.QueryRow(ctx, `
		SELECT decision_id, application_id, environment, request_id, parent_decision_id,
			related_decisions, regulatory_framework, jurisdiction_code, data_residency, extra
		FROM decision_contexts WHERE decision_id = $1`, rec.ID).Scan(
		&dctx.DecisionID, &dctx.ApplicationID, &dctx.Environment, &dctx.RequestID, &dctx.ParentDecisionID,
		&dctx.RelatedDecisions, &dctx.RegulatoryFramework, &dctx.JurisdictionCode, &dctx.DataResidency, &dctx.Extra,
	)
	if err != nil {
		return wrapQueryErr("attach context", err)
	}
	rec.Context = &dctx
	return nil
}

// ListDecisionsByOrgAndTime lists decisions for orgID within [from, to],
// ordered by sequence_number. Does not join payload/context.
func (db *DB) ListDecisionsByOrgAndTime(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]model.DecisionRecord, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT `+decisionColumns+` FROM decisions
		WHERE organization_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY sequence_number ASC`, orgID, from, to)
	if err != nil {
		return nil, wrapQueryErr("list decisions by org and time", err)
	}
	defer rows.Close()
	return scanDecisionRows(rows)
}

// ListDecisionsBySequenceRange lists decisions for orgID with sequence
// numbers in [start, end], ordered by sequence_number.
func (db *DB) ListDecisionsBySequenceRange(ctx context.Context, orgID uuid.UUID, start, end int64) ([]model.DecisionRecord, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT `+decisionColumns+` FROM decisions
		WHERE organization_id = $1 AND sequence_number BETWEEN $2 AND $3
		ORDER BY sequence_number ASC`, orgID, start, end)
	if err != nil {
		return nil, wrapQueryErr("list decisions by sequence range", err)
	}
	defer rows.Close()
	return scanDecisionRows(rows)
}

func scanDecisionRows(rows pgx.Rows) ([]model.DecisionRecord, error) {
	var out []model.DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// LatestSequence returns the highest sequence number committed for orgID.
func (db *DB) LatestSequence(ctx context.Context, orgID uuid.UUID) (int64, error) {
	var seq int64
	err := db.pool.QueryRow(ctx, `SELECT COALESCE(MAX(sequence_number), 0) FROM decisions WHERE organization_id = $1`, orgID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("storage: latest sequence: %w", err)
	}
	return seq, nil
}

// LatestBatchedSequence returns the highest sequence number already
// covered by a Merkle root for orgID.
func (db *DB) LatestBatchedSequence(ctx context.Context, orgID uuid.UUID) (int64, error) {
	var seq int64
	err := db.pool.QueryRow(ctx, `SELECT COALESCE(MAX(end_sequence), 0) FROM merkle_roots WHERE organization_id = $1`, orgID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("storage: latest batched sequence: %w", err)
	}
	return seq, nil
}

// SetMerkleRoot writes rootHash onto every decision in [start, end] for orgID.
func (db *DB) SetMerkleRoot(ctx context.Context, orgID uuid.UUID, start, end int64, rootHash string) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE decisions SET merkle_root = $1
		WHERE organization_id = $2 AND sequence_number BETWEEN $3 AND $4`,
		rootHash, orgID, start, end)
	if err != nil {
		return fmt.Errorf("storage: set merkle root: %w", err)
	}
	return nil
}

// SetAnchorTxHash writes txHash onto every decision in [start, end] for
// orgID, the same range a confirmed root covers.
func (db *DB) SetAnchorTxHash(ctx context.Context, orgID uuid.UUID, start, end int64, txHash string) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE decisions SET anchor_tx_hash = $1
		WHERE organization_id = $2 AND sequence_number BETWEEN $3 AND $4`,
		txHash, orgID, start, end)
	if err != nil {
		return fmt.Errorf("storage: set anchor tx hash: %w", err)
	}
	return nil
}

// MarkGDPRDeleted flags decisionID as deleted without touching its hashes.
func (db *DB) MarkGDPRDeleted(ctx context.Context, decisionID uuid.UUID, at time.Time) error {
	tag, err := db.pool.Exec(ctx, `UPDATE decisions SET is_gdpr_deleted = true, gdpr_deleted_at = $1 WHERE id = $2`, at, decisionID)
	if err != nil {
		return fmt.Errorf("storage: mark gdpr deleted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: mark gdpr deleted: %w", auditledger.ErrNotFound)
	}
	return nil
}

// ListActiveOrgIDs returns every organization with at least one decision
// sequence number not yet covered by a Merkle root. Not part of the Store
// contract: it is a daemon-only convenience for cmd/auditcored's batch
// loop, which has no other way to discover which organizations are live.
func (db *DB) ListActiveOrgIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT d.organization_id
		FROM decisions d
		LEFT JOIN merkle_roots r ON r.organization_id = d.organization_id
		GROUP BY d.organization_id
		HAVING MAX(d.sequence_number) > COALESCE(MAX(r.end_sequence), 0)`)
	if err != nil {
		return nil, fmt.Errorf("storage: list active org ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan org id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PurgePayloadAndContext deletes the owned payload and context rows for
// decisionID, leaving the parent decision's hashes and sequence intact.
func (db *DB) PurgePayloadAndContext(ctx context.Context, decisionID uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: purge: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM interaction_payloads WHERE decision_id = $1`, decisionID); err != nil {
		return fmt.Errorf("storage: purge payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM decision_contexts WHERE decision_id = $1`, decisionID); err != nil {
		return fmt.Errorf("storage: purge context: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: purge: commit: %w", err)
	}
	return nil
}
