// Package tombstone implements the Tombstone Manager: creating
// cryptographic tombstones, marking records deleted, optionally anchoring
// the tombstone hash, and verifying existing tombstones.
package tombstone

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	auditledger "github.com/auditledger/core"
	"github.com/auditledger/core/internal/hashing"
	"github.com/auditledger/core/internal/ledger"
	"github.com/auditledger/core/internal/merkle"
	"github.com/auditledger/core/internal/model"
)

// Manager implements spec §4.E. Anchoring is optional: when anchorWorker is
// nil, deletions proceed without producing a deletion_anchor_tx_hash.
type Manager struct {
	store            auditledger.Store
	anchorWorker     *ledger.Worker
	defaultRetention time.Duration
	hooks            []auditledger.EventHook
}

// Config configures a Manager.
type Config struct {
	Store                auditledger.Store
	AnchorWorker         *ledger.Worker // nil disables deletion anchoring
	DefaultRetentionDays int
	EventHooks           []auditledger.EventHook
}

// New constructs a Manager.
func New(cfg Config) *Manager {
	days := cfg.DefaultRetentionDays
	if days <= 0 {
		days = 365 * 7
	}
	return &Manager{
		store:            cfg.Store,
		anchorWorker:     cfg.AnchorWorker,
		defaultRetention: time.Duration(days) * 24 * time.Hour,
		hooks:            cfg.EventHooks,
	}
}

// RequestDeletion implements spec §4.E's five-step deletion flow.
func (m *Manager) RequestDeletion(ctx context.Context, req model.DeletionRequest) (*model.DeletionResult, error) {
	if req.OrgID == uuid.Nil || req.UserID == "" {
		return nil, auditledger.NewError("tombstone.RequestDeletion", auditledger.KindInvalidInput, fmt.Errorf("organization_id and user_id are required"))
	}

	records, err := m.selectCandidates(ctx, req)
	if err != nil {
		return nil, err
	}

	retention := m.defaultRetention
	if req.RetentionDays != nil {
		retention = time.Duration(*req.RetentionDays) * 24 * time.Hour
	}
	now := time.Now().UTC()
	retentionUntil := now.Add(retention)

	deletionID := uuid.New()
	tombstoneIDs := make([]uuid.UUID, 0, len(records))

	for _, rec := range records {
		ts, err := m.tombstoneFor(rec, req, now, retentionUntil)
		if err != nil {
			return nil, err
		}
		if err := m.store.InsertTombstone(ctx, ts); err != nil {
			return nil, fmt.Errorf("tombstone: insert: %w", err)
		}
		if err := m.store.MarkGDPRDeleted(ctx, rec.ID, now); err != nil {
			return nil, fmt.Errorf("tombstone: mark deleted: %w", err)
		}
		// Erasure: plaintext is purged, the four hashes and sequence number
		// remain so past Merkle proofs still verify.
		if err := m.store.PurgePayloadAndContext(ctx, rec.ID); err != nil {
			return nil, fmt.Errorf("tombstone: purge plaintext: %w", err)
		}

		if m.anchorWorker != nil {
			if err := m.anchorTombstone(ctx, ts); err != nil {
				// Anchoring failure does not roll back the deletion: the
				// plaintext is already gone and must stay gone.
				continue
			}
		}
		tombstoneIDs = append(tombstoneIDs, ts.ID)
	}

	proofHash, err := hashing.HashDict(model.DeletionProofPayload{
		DeletionID:   deletionID.String(),
		TombstoneIDs: uuidsToStrings(tombstoneIDs),
		RequestedBy:  req.RequestedBy,
		Timestamp:    now.Format(time.RFC3339Nano),
		Type:         "GDPR_DELETION",
	})
	if err != nil {
		return nil, fmt.Errorf("tombstone: deletion proof hash: %w", err)
	}

	result := model.DeletionResult{
		DeletionID:        deletionID,
		TombstoneIDs:      tombstoneIDs,
		DeletionProofHash: proofHash,
		RecordsDeleted:    len(records),
	}
	for _, h := range m.hooks {
		go h.OnDecisionDeleted(context.WithoutCancel(ctx), result)
	}
	return &result, nil
}

func (m *Manager) selectCandidates(ctx context.Context, req model.DeletionRequest) ([]model.DecisionRecord, error) {
	from := time.Unix(0, 0)
	to := time.Now().Add(24 * time.Hour)
	if req.DateRangeStart != nil {
		from = *req.DateRangeStart
	}
	if req.DateRangeEnd != nil {
		to = *req.DateRangeEnd
	}

	all, err := m.store.ListDecisionsByOrgAndTime(ctx, req.OrgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("tombstone: list candidates: %w", err)
	}

	wantIDs := make(map[string]bool, len(req.SpecificDecisionIDs))
	for _, id := range req.SpecificDecisionIDs {
		wantIDs[id] = true
	}

	var out []model.DecisionRecord
	for _, rec := range all {
		if rec.IsGDPRDeleted {
			continue
		}
		if rec.UserID == nil || *rec.UserID != req.UserID {
			continue
		}
		if len(wantIDs) > 0 && !wantIDs[rec.DecisionID] {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// tombstoneFor truncates now to microsecond precision before hashing it:
// CreatedAt round-trips through a timestamptz column, which Postgres stores
// at microsecond resolution, so a nanosecond-precision hash would never
// match once VerifyTombstone recomputes it from the stored value.
func (m *Manager) tombstoneFor(rec model.DecisionRecord, req model.DeletionRequest, now, retentionUntil time.Time) (*model.TombstoneRecord, error) {
	now = now.Truncate(time.Microsecond)
	deletionHash, err := hashing.HashDict(model.TombstoneHashPayload{
		OriginalHash:      rec.FullHash,
		DeletionTimestamp: now.Format(time.RFC3339Nano),
		DeletedBy:         req.RequestedBy,
		Reason:            req.DeletionReason,
		Type:              "TOMBSTONE",
	})
	if err != nil {
		return nil, fmt.Errorf("tombstone: deletion hash: %w", err)
	}

	id := rec.ID
	return &model.TombstoneRecord{
		ID:                 uuid.New(),
		OriginalDecisionID: rec.DecisionID,
		DecisionID:         &id,
		DeletedBy:          req.RequestedBy,
		DeletionReason:     req.DeletionReason,
		LegalBasis:         req.LegalBasis,
		CreatedAt:          now,
		RetentionUntil:     retentionUntil,
		OriginalHash:       rec.FullHash,
		DeletionHash:       deletionHash,
	}, nil
}

// anchorTombstone builds a single-leaf Merkle tree from the tombstone's
// deletion hash and anchors it, per spec §4.E step 3.
func (m *Manager) anchorTombstone(ctx context.Context, ts *model.TombstoneRecord) error {
	tree, err := merkle.Build([]string{ts.DeletionHash})
	if err != nil {
		return fmt.Errorf("tombstone: build single-leaf tree: %w", err)
	}
	root := &model.MerkleRoot{
		ID:        uuid.New(),
		RootHash:  tree.RootHash(),
		TreeDepth: tree.Depth(),
		LeafCount: tree.LeafCount(),
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.InsertMerkleRoot(ctx, root); err != nil {
		return fmt.Errorf("tombstone: persist single-leaf root: %w", err)
	}
	nodes := tree.Nodes()
	for i := range nodes {
		nodes[i].RootID = root.ID
	}
	if err := m.store.InsertMerkleNodes(ctx, nodes); err != nil {
		return fmt.Errorf("tombstone: persist single-leaf node: %w", err)
	}

	anchor, err := m.anchorWorker.Anchor(ctx, root)
	if err != nil {
		return fmt.Errorf("tombstone: anchor: %w", err)
	}
	if anchor.TxHash != nil {
		ts.DeletionAnchorTxHash = anchor.TxHash
		ts.DeletionVerified = anchor.Status == model.AnchorConfirmed || anchor.Status == model.AnchorFinalized
	}
	return nil
}

// VerifyTombstone recomputes deletion_hash from stored fields and
// constant-time compares it against the stored value. CreatedAt is
// truncated to microsecond precision to match tombstoneFor, since a
// timestamptz round trip has already dropped anything finer.
func (m *Manager) VerifyTombstone(ctx context.Context, id uuid.UUID) (*model.TombstoneRecord, bool, error) {
	ts, err := m.store.GetTombstone(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("tombstone: get: %w", err)
	}
	recomputed, err := hashing.HashDict(model.TombstoneHashPayload{
		OriginalHash:      ts.OriginalHash,
		DeletionTimestamp: ts.CreatedAt.Truncate(time.Microsecond).Format(time.RFC3339Nano),
		DeletedBy:         ts.DeletedBy,
		Reason:            ts.DeletionReason,
		Type:              "TOMBSTONE",
	})
	if err != nil {
		return nil, false, fmt.Errorf("tombstone: recompute hash: %w", err)
	}
	ok := hashing.Compare(recomputed, ts.DeletionHash)
	ts.DeletionVerified = ok
	return ts, ok, nil
}

func uuidsToStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
