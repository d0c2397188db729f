package ingest_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditledger/core/internal/hashing"
	"github.com/auditledger/core/internal/ingest"
	"github.com/auditledger/core/internal/ledger"
	"github.com/auditledger/core/internal/merkle"
	"github.com/auditledger/core/internal/model"
	"github.com/auditledger/core/internal/storetest"
)

func decisionInput(orgID uuid.UUID, prompt string) model.DecisionInput {
	return model.DecisionInput{
		OrgID:        orgID,
		ModelName:    "gpt-4",
		ModelVersion: "2024-08",
		Provider:     "openai",
		DecisionType: model.DecisionGeneration,
		Interaction: model.InteractionInput{
			Prompt:   prompt,
			Response: "response",
			LatencyMS: 120,
		},
		Context: model.ContextInput{Environment: "prod"},
	}
}

func TestCaptureAssignsDecisionIDAndHashes(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	p := ingest.New(ingest.Config{Store: store})

	rec, err := p.Capture(ctx, decisionInput(uuid.New(), "Hello"))
	require.NoError(t, err)
	assert.True(t, len(rec.DecisionID) > len("dec_"))
	assert.Equal(t, hashing.HashString("Hello"), rec.InputHash)
	assert.Len(t, rec.FullHash, 64)
	assert.Equal(t, int64(1), rec.SequenceNumber)
}

func TestCaptureRejectsMissingOrgID(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	p := ingest.New(ingest.Config{Store: store})

	in := decisionInput(uuid.Nil, "Hello")
	_, err := p.Capture(ctx, in)
	assert.Error(t, err)
}

func TestCaptureRejectsConflictingDecisionID(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	p := ingest.New(ingest.Config{Store: store})
	orgID := uuid.New()

	in := decisionInput(orgID, "Hello")
	in.DecisionID = "dec_fixed000000"
	_, err := p.Capture(ctx, in)
	require.NoError(t, err)

	_, err = p.Capture(ctx, in)
	assert.Error(t, err)
}

func TestSequenceNumbersMonotonicAcrossCaptures(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	p := ingest.New(ingest.Config{Store: store})
	orgID := uuid.New()

	var seqs []int64
	for i := 0; i < 5; i++ {
		rec, err := p.Capture(ctx, decisionInput(orgID, "prompt"))
		require.NoError(t, err)
		seqs = append(seqs, rec.SequenceNumber)
	}
	for i, s := range seqs {
		assert.Equal(t, int64(i+1), s)
	}
}

func TestBatcherBuildsRootOverOpenRangeAndWritesBack(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	p := ingest.New(ingest.Config{Store: store})
	orgID := uuid.New()

	var leaves []string
	for i := 0; i < 4; i++ {
		rec, err := p.Capture(ctx, decisionInput(orgID, "prompt"))
		require.NoError(t, err)
		leaves = append(leaves, rec.FullHash)
	}

	b := ingest.NewBatcher(ingest.BatcherConfig{Store: store})
	root, err := b.BuildNext(ctx, orgID)
	require.NoError(t, err)
	require.NotNil(t, root)

	wantTree, err := merkle.Build(leaves)
	require.NoError(t, err)
	assert.Equal(t, wantTree.RootHash(), root.RootHash)
	assert.Equal(t, int64(1), root.StartSequence)
	assert.Equal(t, int64(4), root.EndSequence)

	for i := 0; i < 4; i++ {
		rec, err := store.ListDecisionsBySequenceRange(ctx, orgID, int64(i+1), int64(i+1))
		require.NoError(t, err)
		require.Len(t, rec, 1)
		require.NotNil(t, rec[0].MerkleRoot)
		assert.Equal(t, root.RootHash, *rec[0].MerkleRoot)
	}

	// A second call with nothing new to batch is a no-op.
	again, err := b.BuildNext(ctx, orgID)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestBatcherAnchorsWhenWorkerConfigured(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	p := ingest.New(ingest.Config{Store: store})
	orgID := uuid.New()
	_, err := p.Capture(ctx, decisionInput(orgID, "prompt"))
	require.NoError(t, err)

	sim := ledger.NewSimulator(1, "n")
	w := ledger.New(ledger.Config{Store: store, Ledger: sim, Simulated: true})
	b := ingest.NewBatcher(ingest.BatcherConfig{Store: store, AnchorWorker: w})

	root, err := b.BuildNext(ctx, orgID)
	require.NoError(t, err)
	require.NotNil(t, root)

	anchor, err := store.GetAnchorByRootHash(ctx, root.RootHash)
	require.NoError(t, err)
	assert.Equal(t, model.AnchorConfirmed, anchor.Status)
}
