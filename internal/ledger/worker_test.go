package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditledger/core/internal/hashing"
	"github.com/auditledger/core/internal/ledger"
	"github.com/auditledger/core/internal/model"
	"github.com/auditledger/core/internal/storetest"
)

func TestAnchorStateProgressionRealLedger(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	sim := ledger.NewSimulator(1337, "simnet")
	metrics := ledger.NewMetrics(prometheus.NewRegistry())

	w := ledger.New(ledger.Config{
		Store:   store,
		Ledger:  sim,
		Metrics: metrics,
	})

	root := &model.MerkleRoot{
		ID:       uuid.New(),
		RootHash: hashing.HashString("root"),
	}
	require.NoError(t, store.InsertMerkleRoot(ctx, root))

	anchor, err := w.Anchor(ctx, root)
	require.NoError(t, err)
	require.NotNil(t, anchor.TxHash)

	stored, err := store.GetAnchor(ctx, anchor.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnchorSubmitted, stored.Status)

	require.NoError(t, w.Tick(ctx))
	stored, err = store.GetAnchor(ctx, anchor.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnchorConfirmed, stored.Status)
	require.NotNil(t, stored.BlockNumber)

	gotRoot, err := store.GetMerkleRoot(ctx, root.RootHash)
	require.NoError(t, err)
	assert.True(t, gotRoot.IsAnchored)

	// Advance the simulated chain past the finalization threshold.
	for i := 0; i < int(model.FinalizationConfirmations)+2; i++ {
		_, _ = sim.CurrentBlock(ctx)
	}
	require.NoError(t, w.Tick(ctx))
	stored, err = store.GetAnchor(ctx, anchor.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnchorFinalized, stored.Status)
}

func TestAnchorStateNeverReverses(t *testing.T) {
	order := map[model.AnchorStatus]int{
		model.AnchorPending:   0,
		model.AnchorSubmitted: 1,
		model.AnchorConfirmed: 2,
		model.AnchorFinalized: 3,
	}
	assert.Less(t, order[model.AnchorPending], order[model.AnchorSubmitted])
	assert.Less(t, order[model.AnchorSubmitted], order[model.AnchorConfirmed])
	assert.Less(t, order[model.AnchorConfirmed], order[model.AnchorFinalized])

	// Drive one anchor through the worker and check every observed status is
	// never earlier than the one before it.
	ctx := context.Background()
	store := storetest.New()
	sim := ledger.NewSimulator(1337, "simnet")
	w := ledger.New(ledger.Config{Store: store, Ledger: sim})

	root := &model.MerkleRoot{ID: uuid.New(), RootHash: hashing.HashString("monotonic")}
	require.NoError(t, store.InsertMerkleRoot(ctx, root))
	anchor, err := w.Anchor(ctx, root)
	require.NoError(t, err)

	prev := order[model.AnchorPending]
	for i := 0; i < int(model.FinalizationConfirmations)+2; i++ {
		stored, err := store.GetAnchor(ctx, anchor.ID)
		require.NoError(t, err)
		cur, ok := order[stored.Status]
		require.True(t, ok, "unexpected status %s", stored.Status)
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
		require.NoError(t, w.Tick(ctx))
	}
	assert.Equal(t, order[model.AnchorFinalized], prev)
}

func TestSimulatedAnchorReachesConfirmedDirectly(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	sim := ledger.NewSimulator(1337, "simnet")
	w := ledger.New(ledger.Config{Store: store, Ledger: sim, Simulated: true})

	root := &model.MerkleRoot{ID: uuid.New(), RootHash: hashing.HashString("sim-root")}
	require.NoError(t, store.InsertMerkleRoot(ctx, root))

	anchor, err := w.Anchor(ctx, root)
	require.NoError(t, err)

	stored, err := store.GetAnchor(ctx, anchor.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnchorConfirmed, stored.Status)
}

func TestDecodeRootHashInvalidLengthRejected(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	sim := ledger.NewSimulator(1, "n")
	w := ledger.New(ledger.Config{Store: store, Ledger: sim})

	root := &model.MerkleRoot{ID: uuid.New(), RootHash: "deadbeef"}
	require.NoError(t, store.InsertMerkleRoot(ctx, root))

	_, err := w.Anchor(ctx, root)
	assert.Error(t, err)
}

func TestPollBudgetLeavesAnchorSubmitted(t *testing.T) {
	ctx := context.Background()
	store := storetest.New()
	sim := ledger.NewSimulator(1, "n")
	w := ledger.New(ledger.Config{
		Store:        store,
		Ledger:       sim,
		PollInterval: time.Millisecond,
		PollBudget:   time.Millisecond,
	})

	root := &model.MerkleRoot{ID: uuid.New(), RootHash: hashing.HashString("r2")}
	require.NoError(t, store.InsertMerkleRoot(ctx, root))
	anchor, err := w.Anchor(ctx, root)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, w.Tick(ctx))

	stored, err := store.GetAnchor(ctx, anchor.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnchorSubmitted, stored.Status)
}
