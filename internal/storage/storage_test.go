package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditledger "github.com/auditledger/core"
	"github.com/auditledger/core/internal/hashing"
	"github.com/auditledger/core/internal/model"
	"github.com/auditledger/core/internal/storage"
	"github.com/auditledger/core/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func seedDecision(t *testing.T, ctx context.Context, orgID uuid.UUID, prompt string) *model.DecisionRecord {
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
	require.NoError(t, testDB.InsertDecision(ctx, rec, payload, dctx))
	return rec
}

func TestInsertAndGetDecisionRoundTrips(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	rec := seedDecision(t, ctx, orgID, "Hello")

	got, err := testDB.GetDecisionByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.FullHash, got.FullHash)
	assert.Equal(t, int64(1), got.SequenceNumber)
	require.NotNil(t, got.Payload)
	assert.Equal(t, "Hello", got.Payload.Prompt)
	require.NotNil(t, got.Context)
	assert.Equal(t, "prod", got.Context.Environment)
}

func TestSequenceNumbersAreMonotonicPerOrg(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	var seqs []int64
	for i := 0; i < 5; i++ {
		rec := seedDecision(t, ctx, orgID, "prompt")
		seqs = append(seqs, rec.SequenceNumber)
	}
	for i, s := range seqs {
		assert.Equal(t, int64(i+1), s)
	}
}

func TestDecisionIDUniquePerOrgReturnsConflict(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	rec := &model.DecisionRecord{
		ID: uuid.New(), DecisionID: "dec_fixed000001", OrgID: orgID,
		ModelName: "m", DecisionType: model.DecisionGeneration,
		InputHash: hashing.HashString("a"), OutputHash: hashing.HashString("b"),
		ContextHash: hashing.HashString("c"), FullHash: hashing.HashString("d"),
		CreatedAt: time.Now().UTC(),
	}
	payload := &model.InteractionPayload{DecisionID: rec.ID, Prompt: "a", Response: "b"}
	dctx := &model.DecisionContext{DecisionID: rec.ID}
	require.NoError(t, testDB.InsertDecision(ctx, rec, payload, dctx))

	rec2 := *rec
	rec2.ID = uuid.New()
	payload2 := &model.InteractionPayload{DecisionID: rec2.ID, Prompt: "a", Response: "b"}
	dctx2 := &model.DecisionContext{DecisionID: rec2.ID}
	err := testDB.InsertDecision(ctx, &rec2, payload2, dctx2)
	require.Error(t, err)
	assert.ErrorIs(t, err, auditledger.ErrConflict)
}

func TestPurgePayloadAndContextLeavesHashesIntact(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	rec := seedDecision(t, ctx, orgID, "secret prompt")

	require.NoError(t, testDB.MarkGDPRDeleted(ctx, rec.ID, time.Now().UTC()))
	require.NoError(t, testDB.PurgePayloadAndContext(ctx, rec.ID))

	got, err := testDB.GetDecisionByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.IsGDPRDeleted)
	assert.Nil(t, got.Payload)
	assert.Nil(t, got.Context)
	assert.Equal(t, rec.FullHash, got.FullHash)
}

func TestMerkleRootWriteBackCoversSequenceRange(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	for i := 0; i < 3; i++ {
		seedDecision(t, ctx, orgID, "prompt")
	}

	root := &model.MerkleRoot{ID: uuid.New(), RootHash: hashing.HashString("root"), OrgID: orgID, StartSequence: 1, EndSequence: 3, TreeDepth: 2, LeafCount: 3}
	require.NoError(t, testDB.InsertMerkleRoot(ctx, root))
	require.NoError(t, testDB.SetMerkleRoot(ctx, orgID, 1, 3, root.RootHash))

	records, err := testDB.ListDecisionsBySequenceRange(ctx, orgID, 1, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, r := range records {
		require.NotNil(t, r.MerkleRoot)
		assert.Equal(t, root.RootHash, *r.MerkleRoot)
	}

	latest, err := testDB.LatestBatchedSequence(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest)
}

func TestAnchorLifecycleStateTransitions(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	seedDecision(t, ctx, orgID, "prompt")

	root := &model.MerkleRoot{ID: uuid.New(), RootHash: hashing.HashString("anchor-root"), OrgID: orgID, StartSequence: 1, EndSequence: 1}
	require.NoError(t, testDB.InsertMerkleRoot(ctx, root))

	anchor := &model.BlockchainAnchor{
		ID: uuid.New(), RootID: root.ID, RootHash: root.RootHash,
		ChainID: 1337, NetworkName: "simnet", Status: model.AnchorPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, testDB.InsertAnchor(ctx, anchor))

	pending, err := testDB.ListAnchorsByStatus(ctx, model.AnchorPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	tx := "0xabc"
	anchor.TxHash = &tx
	anchor.Status = model.AnchorSubmitted
	require.NoError(t, testDB.UpdateAnchor(ctx, anchor))

	got, err := testDB.GetAnchor(ctx, anchor.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnchorSubmitted, got.Status)
	assert.Equal(t, tx, *got.TxHash)
}

func TestTombstoneRoundTrips(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	rec := seedDecision(t, ctx, orgID, "to be forgotten")

	ts := &model.TombstoneRecord{
		ID: uuid.New(), OriginalDecisionID: rec.DecisionID, DecisionID: &rec.ID,
		DeletedBy: "user@example.com", DeletionReason: "gdpr_request",
		CreatedAt: time.Now().UTC(), RetentionUntil: time.Now().Add(24 * time.Hour),
		OriginalHash: rec.FullHash, DeletionHash: hashing.HashString("deletion"),
	}
	require.NoError(t, testDB.InsertTombstone(ctx, ts))

	got, err := testDB.GetTombstone(ctx, ts.ID)
	require.NoError(t, err)
	assert.Equal(t, ts.DeletionHash, got.DeletionHash)
	assert.False(t, got.DeletionVerified)

	list, err := testDB.ListTombstonesByIDs(ctx, []uuid.UUID{ts.ID})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
