package auditledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auditledger/core/internal/ingest"
	"github.com/auditledger/core/internal/ledger"
	"github.com/auditledger/core/internal/model"
	"github.com/auditledger/core/internal/tombstone"
	"github.com/auditledger/core/internal/verify"
)

// Core wires the five components described in spec §4 into a runnable
// service: ingest pipeline and batcher, anchor worker, tombstone manager,
// and integrity verifier, all sharing one Store and one Ledger. Core has
// no public fields; configure it with Options and New.
type Core struct {
	logger *slog.Logger
	store  Store

	pipeline  *ingest.Pipeline
	batcher   *ingest.Batcher
	anchorer  *ledger.Worker
	tombstone *tombstone.Manager
	verifier  *verify.Verifier

	anchorInterval     time.Duration
	anchorPollInterval time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New validates options and constructs a Core. The caller is responsible
// for starting background loops via Run.
func New(opts ...Option) (*Core, error) {
	o := &resolvedOptions{
		logger:             slog.Default(),
		merkleTreeDepth:    32,
		anchorInterval:     15 * time.Minute,
		gdprRetentionDays:  365 * 7,
		anchorPollInterval: 5 * time.Second,
		anchorPollBudget:   5 * time.Minute,
	}
	for _, fn := range opts {
		fn(o)
	}
	if o.store == nil {
		return nil, errors.New("auditledger: WithStore is required")
	}

	var worker *ledger.Worker
	if o.ledger != nil {
		worker = ledger.New(ledger.Config{
			Store:        o.store,
			Ledger:       o.ledger,
			Logger:       o.logger,
			Simulated:    o.simulated,
			PollInterval: o.anchorPollInterval,
			PollBudget:   o.anchorPollBudget,
			EventHooks:   o.eventHooks,
		})
	}

	pipeline := ingest.New(ingest.Config{Store: o.store, EventHooks: o.eventHooks})
	batcher := ingest.NewBatcher(ingest.BatcherConfig{
		Store:        o.store,
		AnchorWorker: worker,
		Logger:       o.logger,
		MaxTreeDepth: o.merkleTreeDepth,
	})
	tm := tombstone.New(tombstone.Config{
		Store:                o.store,
		AnchorWorker:         worker,
		DefaultRetentionDays: o.gdprRetentionDays,
		EventHooks:           o.eventHooks,
	})
	vr := verify.New(verify.Config{Store: o.store})

	return &Core{
		logger:             o.logger,
		store:              o.store,
		pipeline:           pipeline,
		batcher:            batcher,
		anchorer:           worker,
		tombstone:          tm,
		verifier:           vr,
		anchorInterval:     o.anchorInterval,
		anchorPollInterval: o.anchorPollInterval,
	}, nil
}

// Capture records a single decision. See internal/ingest.Pipeline.Capture.
func (c *Core) Capture(ctx context.Context, in model.DecisionInput) (*model.DecisionRecord, error) {
	return c.pipeline.Capture(ctx, in)
}

// BuildBatch closes the open sequence range for orgID into a Merkle root
// and anchors it if a ledger was configured. Returns nil, nil if there is
// nothing new to batch.
func (c *Core) BuildBatch(ctx context.Context, orgID uuid.UUID) (*model.MerkleRoot, error) {
	return c.batcher.BuildNext(ctx, orgID)
}

// RequestDeletion executes a GDPR/CCPA-style erasure request. See
// internal/tombstone.Manager.RequestDeletion.
func (c *Core) RequestDeletion(ctx context.Context, req model.DeletionRequest) (*model.DeletionResult, error) {
	return c.tombstone.RequestDeletion(ctx, req)
}

// VerifyTombstone recomputes a tombstone's deletion_hash from its stored
// fields and reports whether it still matches.
func (c *Core) VerifyTombstone(ctx context.Context, id uuid.UUID) (*model.TombstoneRecord, bool, error) {
	return c.tombstone.VerifyTombstone(ctx, id)
}

// VerifyWindow runs the Integrity Verifier over a time window.
func (c *Core) VerifyWindow(ctx context.Context, w verify.Window) (*verify.Report, error) {
	return c.verifier.Verify(ctx, w)
}

// VerifyProof checks a standalone Merkle inclusion proof.
func (c *Core) VerifyProof(proof *model.Proof) (bool, error) {
	return c.verifier.VerifyProof(proof)
}

// Run starts the anchor worker and batcher ticker loops and blocks until
// ctx is cancelled, at which point it shuts down gracefully. Mirrors the
// teacher's App.Run: background goroutines are started here, not in New,
// so constructing a Core never has side effects.
func (c *Core) Run(ctx context.Context, orgIDs []uuid.UUID) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if c.anchorer != nil {
		c.anchorer.Start(runCtx, c.anchorPollInterval)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.batchLoop(runCtx, orgIDs)
	}()

	<-runCtx.Done()
	return c.Shutdown(context.Background())
}

// Shutdown stops all background loops and waits for them to exit, or for
// ctx to expire, whichever comes first.
func (c *Core) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		if c.anchorer != nil {
			c.anchorer.Stop()
		}
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("auditledger: shutdown: %w", ctx.Err())
	}
}

// batchLoop periodically closes open sequence ranges into Merkle roots for
// every tracked organization. Mirrors the teacher's ticker-driven
// background loops (conflictBackfillLoop, integrityProofLoop).
func (c *Core) batchLoop(ctx context.Context, orgIDs []uuid.UUID) {
	ticker := time.NewTicker(c.anchorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, orgID := range orgIDs {
				if _, err := c.batcher.BuildNext(ctx, orgID); err != nil {
					c.logger.Error("auditledger: batch build failed", "error", err, "org_id", orgID)
				}
			}
		}
	}
}

