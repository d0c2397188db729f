package tombstone_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditledger/core/internal/ingest"
	"github.com/auditledger/core/internal/ledger"
	"github.com/auditledger/core/internal/model"
	"github.com/auditledger/core/internal/storetest"
	"github.com/auditledger/core/internal/tombstone"
)

func captureFor(t *testing.T, ctx context.Context, p *ingest.Pipeline, orgID uuid.UUID, userID string) *model.DecisionRecord {
	t.Helper()
	rec, err := p.Capture(ctx, model.DecisionInput{
		OrgID:        orgID,
		UserID:       &userID,
		ModelName:    "gpt-4",
		DecisionType: model.DecisionGeneration,
		Interaction:  model.InteractionInput{Prompt: "hi", Response: "there"},
		Context:      model.ContextInput{Environment: "prod"},
	})
	require.NoError(t, err)
	return rec
}

func TestRequestDeletionPurgesPlaintextKeepsHashes(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	p := ingest.New(ingest.Config{Store: store})
	orgID := uuid.New()
	rec := captureFor(t, ctx, p, orgID, "user-1")

	m := tombstone.New(tombstone.Config{Store: store})
	result, err := m.RequestDeletion(ctx, model.DeletionRequest{
		OrgID:          orgID,
		UserID:         "user-1",
		RequestedBy:    "admin@example.com",
		DeletionReason: "gdpr_request",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsDeleted)
	require.Len(t, result.TombstoneIDs, 1)
	assert.Len(t, result.DeletionProofHash, 64)

	got, err := store.GetDecisionByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.IsGDPRDeleted)
	assert.Nil(t, got.Payload)
	assert.Nil(t, got.Context)
	assert.Equal(t, rec.FullHash, got.FullHash)

	ts, err := store.GetTombstone(ctx, result.TombstoneIDs[0])
	require.NoError(t, err)
	assert.Equal(t, rec.FullHash, ts.OriginalHash)
}

func TestRequestDeletionOnlyMatchesRequestedUser(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	p := ingest.New(ingest.Config{Store: store})
	orgID := uuid.New()
	captureFor(t, ctx, p, orgID, "user-1")
	captureFor(t, ctx, p, orgID, "user-2")

	m := tombstone.New(tombstone.Config{Store: store})
	result, err := m.RequestDeletion(ctx, model.DeletionRequest{
		OrgID:          orgID,
		UserID:         "user-1",
		RequestedBy:    "admin@example.com",
		DeletionReason: "gdpr_request",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsDeleted)
}

func TestRequestDeletionRejectsMissingUserID(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	m := tombstone.New(tombstone.Config{Store: store})

	_, err := m.RequestDeletion(ctx, model.DeletionRequest{OrgID: uuid.New()})
	assert.Error(t, err)
}

func TestRequestDeletionAnchorsWhenWorkerConfigured(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	p := ingest.New(ingest.Config{Store: store})
	orgID := uuid.New()
	captureFor(t, ctx, p, orgID, "user-1")

	sim := ledger.NewSimulator(1, "n")
	w := ledger.New(ledger.Config{Store: store, Ledger: sim, Simulated: true})
	m := tombstone.New(tombstone.Config{Store: store, AnchorWorker: w})

	result, err := m.RequestDeletion(ctx, model.DeletionRequest{
		OrgID:          orgID,
		UserID:         "user-1",
		RequestedBy:    "admin@example.com",
		DeletionReason: "gdpr_request",
	})
	require.NoError(t, err)
	require.Len(t, result.TombstoneIDs, 1)

	ts, err := store.GetTombstone(ctx, result.TombstoneIDs[0])
	require.NoError(t, err)
	require.NotNil(t, ts.DeletionAnchorTxHash)
	assert.True(t, ts.DeletionVerified)
}

func TestVerifyTombstoneDetectsTamperedHash(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	p := ingest.New(ingest.Config{Store: store})
	orgID := uuid.New()
	captureFor(t, ctx, p, orgID, "user-1")

	m := tombstone.New(tombstone.Config{Store: store})
	result, err := m.RequestDeletion(ctx, model.DeletionRequest{
		OrgID:          orgID,
		UserID:         "user-1",
		RequestedBy:    "admin@example.com",
		DeletionReason: "gdpr_request",
	})
	require.NoError(t, err)

	_, ok, err := m.VerifyTombstone(ctx, result.TombstoneIDs[0])
	require.NoError(t, err)
	assert.True(t, ok)

	ts, err := store.GetTombstone(ctx, result.TombstoneIDs[0])
	require.NoError(t, err)
	ts.DeletionHash = "tampered"
	require.NoError(t, store.InsertTombstone(ctx, ts))

	_, ok, err = m.VerifyTombstone(ctx, result.TombstoneIDs[0])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequestDeletionHonorsCustomRetention(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	p := ingest.New(ingest.Config{Store: store})
	orgID := uuid.New()
	captureFor(t, ctx, p, orgID, "user-1")

	m := tombstone.New(tombstone.Config{Store: store, DefaultRetentionDays: 30})
	days := 1
	before := time.Now().UTC()
	result, err := m.RequestDeletion(ctx, model.DeletionRequest{
		OrgID:          orgID,
		UserID:         "user-1",
		RequestedBy:    "admin@example.com",
		DeletionReason: "gdpr_request",
		RetentionDays:  &days,
	})
	require.NoError(t, err)

	ts, err := store.GetTombstone(ctx, result.TombstoneIDs[0])
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(24*time.Hour), ts.RetentionUntil, 5*time.Second)
}
