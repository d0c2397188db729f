package verify_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditledger/core/internal/hashing"
	"github.com/auditledger/core/internal/merkle"
	"github.com/auditledger/core/internal/model"
	"github.com/auditledger/core/internal/storetest"
	"github.com/auditledger/core/internal/verify"
)

func seedRecord(t *testing.T, ctx context.Context, store *storetest.MemStore, orgID uuid.UUID, prompt string) model.DecisionRecord {
	t.Helper()
	ctxProjection := model.ContextHashProjection{Environment: "prod"}
	metadata := model.HashMetadataProjection{OrganizationID: orgID.String(), ModelName: "m", DecisionType: "GENERATION"}
	hashes, err := hashing.ComputeAuditHash(prompt, "response", ctxProjection, metadata)
	require.NoError(t, err)

	id := uuid.New()
	rec := &model.DecisionRecord{
		ID:           id,
		DecisionID:   "dec_" + id.String()[:12],
		OrgID:        orgID,
		ModelName:    "m",
		DecisionType: model.DecisionGeneration,
		InputHash:    hashes.InputHash,
		OutputHash:   hashes.OutputHash,
		ContextHash:  hashes.ContextHash,
		FullHash:     hashes.FullHash,
		CreatedAt:    time.Now().UTC(),
	}
	payload := &model.InteractionPayload{DecisionID: id, Prompt: prompt, Response: "response"}
	dctx := &model.DecisionContext{DecisionID: id, Environment: "prod"}
	require.NoError(t, store.InsertDecision(ctx, rec, payload, dctx))
	return *rec
}

func TestVerifyDetectsSingleTamperedRecord(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	orgID := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 16; i++ {
		rec := seedRecord(t, ctx, store, orgID, "prompt")
		ids = append(ids, rec.ID)
	}

	// Flip record 7's stored full_hash to simulate tampering.
	tampered, err := store.GetDecisionByID(ctx, ids[6])
	require.NoError(t, err)
	store.Corrupt(ids[6], "0000000000000000000000000000000000000000000000000000000000000000"[:64])

	v := verify.New(verify.Config{Store: store})
	report, err := v.Verify(ctx, verify.Window{
		OrgID: orgID,
		From:  time.Now().Add(-time.Hour),
		To:    time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	require.Len(t, report.Tampered, 1)
	assert.Equal(t, tampered.DecisionID, report.Tampered[0].DecisionID)
	assert.Equal(t, 16, report.ActiveLogs)
	assert.Equal(t, 15, report.VerifiedCount)
	assert.InDelta(t, 15.0/16.0, report.IntegrityScore, 1e-9)
}

func TestVerifyCleanLogScoresOne(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	orgID := uuid.New()
	for i := 0; i < 5; i++ {
		seedRecord(t, ctx, store, orgID, "prompt")
	}

	v := verify.New(verify.Config{Store: store})
	report, err := v.Verify(ctx, verify.Window{OrgID: orgID, From: time.Now().Add(-time.Hour), To: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, report.Tampered)
	assert.Equal(t, 1.0, report.IntegrityScore)
}

func TestVerifyRootAndAnchorLinkage(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	orgID := uuid.New()

	var leaves []string
	var recs []model.DecisionRecord
	for i := 0; i < 4; i++ {
		rec := seedRecord(t, ctx, store, orgID, "prompt")
		leaves = append(leaves, rec.FullHash)
		recs = append(recs, rec)
	}

	tree, err := merkle.Build(leaves)
	require.NoError(t, err)
	root := &model.MerkleRoot{ID: uuid.New(), RootHash: tree.RootHash(), OrgID: orgID, StartSequence: 1, EndSequence: 4}
	require.NoError(t, store.InsertMerkleRoot(ctx, root))
	require.NoError(t, store.SetMerkleRoot(ctx, orgID, 1, 4, root.RootHash))

	anchor := &model.BlockchainAnchor{ID: uuid.New(), RootID: root.ID, RootHash: root.RootHash, Status: model.AnchorFinalized}
	require.NoError(t, store.InsertAnchor(ctx, anchor))

	v := verify.New(verify.Config{Store: store})
	report, err := v.Verify(ctx, verify.Window{OrgID: orgID, From: time.Now().Add(-time.Hour), To: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, report.RootsChecked)
	assert.Equal(t, 1, report.AnchorsVerified)
}
