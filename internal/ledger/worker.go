package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	auditledger "github.com/auditledger/core"
	"github.com/auditledger/core/internal/model"
)

// DefaultPollInterval and DefaultPollBudget match spec §4.D's default
// bounded receipt wait: poll every 5 seconds for up to 300 seconds.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollBudget   = 300 * time.Second
)

// Metrics is the Prometheus surface for anchor state, distinct from the
// general OTEL pipeline carried by internal/telemetry — this service's
// anchor lifecycle gets its own gauge family the way a chain-anchoring
// service would.
type Metrics struct {
	stateTotal        *prometheus.GaugeVec
	confirmationLag   prometheus.Gauge
	submissionFailure prometheus.Counter
}

// NewMetrics registers the Anchor Worker's gauges on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stateTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "auditcore_anchor_state_total",
			Help: "Number of blockchain anchors currently in each state.",
		}, []string{"status"}),
		confirmationLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auditcore_anchor_confirmation_lag_blocks",
			Help: "Blocks remaining until the last not-yet-final CONFIRMED anchor checked finalizes.",
		}),
		submissionFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auditcore_anchor_submission_failures_total",
			Help: "Count of ledger submission failures across all anchors.",
		}),
	}
	reg.MustRegister(m.stateTotal, m.confirmationLag, m.submissionFailure)
	return m
}

// Worker drives BlockchainAnchors through the state machine of spec §4.D.
// Like search.OutboxWorker in the ambient stack, it guards against
// double-start with an atomic flag and exposes a context-cancellable tick
// loop rather than owning its own timer thread directly.
type Worker struct {
	store     auditledger.Store
	ledger    auditledger.Ledger
	logger    *slog.Logger
	metrics   *Metrics
	simulated bool
	hooks     []auditledger.EventHook

	pollInterval time.Duration
	pollBudget   time.Duration

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Config configures a new anchor Worker.
type Config struct {
	Store        auditledger.Store
	Ledger       auditledger.Ledger
	Logger       *slog.Logger
	Metrics      *Metrics
	Simulated    bool // true when blockchain_enabled=false
	PollInterval time.Duration
	PollBudget   time.Duration
	EventHooks   []auditledger.EventHook
}

// New constructs a Worker. PollInterval/PollBudget default to
// DefaultPollInterval/DefaultPollBudget when zero.
func New(cfg Config) *Worker {
	interval, budget := cfg.PollInterval, cfg.PollBudget
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if budget <= 0 {
		budget = DefaultPollBudget
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:        cfg.Store,
		ledger:       cfg.Ledger,
		logger:       logger,
		metrics:      cfg.Metrics,
		simulated:    cfg.Simulated,
		hooks:        cfg.EventHooks,
		pollInterval: interval,
		pollBudget:   budget,
	}
}

// Start launches the background tick loop. Calling Start twice is a no-op.
func (w *Worker) Start(ctx context.Context, tickInterval time.Duration) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(loopCtx, tickInterval)
}

// Stop cancels the tick loop and blocks until it exits.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.done != nil {
		<-w.done
	}
}

func (w *Worker) loop(ctx context.Context, interval time.Duration) {
	defer close(w.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				w.logger.Warn("ledger: anchor worker tick failed", "error", err)
			}
		}
	}
}

// Tick advances every in-flight anchor one step: retry PENDING/FAILED
// submissions, poll SUBMITTED anchors for receipts, and finalize CONFIRMED
// anchors that have crossed the confirmation threshold.
func (w *Worker) Tick(ctx context.Context) error {
	for _, status := range []model.AnchorStatus{model.AnchorPending, model.AnchorFailed} {
		anchors, err := w.store.ListAnchorsByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("ledger: list %s anchors: %w", status, err)
		}
		for _, a := range anchors {
			w.submit(ctx, &a)
		}
	}

	submitted, err := w.store.ListAnchorsByStatus(ctx, model.AnchorSubmitted)
	if err != nil {
		return fmt.Errorf("ledger: list submitted anchors: %w", err)
	}
	for _, a := range submitted {
		w.pollOnce(ctx, &a)
	}

	confirmed, err := w.store.ListAnchorsByStatus(ctx, model.AnchorConfirmed)
	if err != nil {
		return fmt.Errorf("ledger: list confirmed anchors: %w", err)
	}
	for _, a := range confirmed {
		w.finalizeIfReady(ctx, &a)
	}

	w.reportMetrics(ctx)
	return nil
}

// Anchor creates a PENDING anchor for root and immediately attempts
// submission (synchronously, so callers in §4.E's single-leaf tombstone
// path get an anchor id back right away).
func (w *Worker) Anchor(ctx context.Context, root *model.MerkleRoot) (*model.BlockchainAnchor, error) {
	if _, err := decodeRootHash(root.RootHash); err != nil {
		return nil, auditledger.NewError("ledger.Anchor", auditledger.KindInvalidInput, err)
	}

	anchor := &model.BlockchainAnchor{
		ID:          uuid.New(),
		RootID:      root.ID,
		RootHash:    root.RootHash,
		ChainID:     w.ledger.ChainID(),
		NetworkName: w.ledger.NetworkName(),
		Status:      model.AnchorPending,
		CreatedAt:   timeNow(),
	}
	if err := w.store.InsertAnchor(ctx, anchor); err != nil {
		return nil, fmt.Errorf("ledger: insert anchor: %w", err)
	}

	w.submit(ctx, anchor)
	return anchor, nil
}

// submit moves a PENDING or FAILED anchor to SUBMITTED (or, in simulated
// mode, straight to CONFIRMED per spec §4.D's simulation carve-out).
func (w *Worker) submit(ctx context.Context, anchor *model.BlockchainAnchor) {
	rootBytes, err := decodeRootHash(anchor.RootHash)
	if err != nil {
		w.fail(ctx, anchor, err)
		return
	}

	var txHash string
	op := func() error {
		var submitErr error
		txHash, submitErr = w.ledger.Submit(ctx, rootBytes)
		return submitErr
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if w.metrics != nil {
			w.metrics.submissionFailure.Inc()
		}
		w.fail(ctx, anchor, fmt.Errorf("%w", errLedgerUnavailable(err)))
		return
	}

	now := timeNow()
	anchor.TxHash = &txHash
	anchor.SubmittedAt = &now
	anchor.Status = model.AnchorSubmitted

	if w.simulated {
		w.confirmSimulated(ctx, anchor)
		return
	}

	if err := w.store.UpdateAnchor(ctx, anchor); err != nil {
		w.logger.Error("ledger: persist submitted anchor", "error", err, "anchor_id", anchor.ID)
	}
}

// confirmSimulated implements the simulation-mode carve-out: the anchor
// jumps directly to CONFIRMED with synthetic block data, since there is no
// real chain to poll.
func (w *Worker) confirmSimulated(ctx context.Context, anchor *model.BlockchainAnchor) {
	receipt, err := w.ledger.Receipt(ctx, *anchor.TxHash)
	if err != nil {
		w.fail(ctx, anchor, err)
		return
	}
	now := timeNow()
	anchor.BlockNumber = &receipt.BlockNumber
	anchor.BlockHash = &receipt.BlockHash
	anchor.GasUsed = &receipt.GasUsed
	anchor.ConfirmedAt = &now
	anchor.Status = model.AnchorConfirmed
	if err := w.store.UpdateAnchor(ctx, anchor); err != nil {
		w.logger.Error("ledger: persist simulated anchor", "error", err, "anchor_id", anchor.ID)
		return
	}
	w.onConfirmed(ctx, anchor, now)
}

// pollOnce checks a SUBMITTED anchor once for its receipt. If the anchor's
// bounded wait has elapsed without a receipt, it is left SUBMITTED — never
// double-submitted.
func (w *Worker) pollOnce(ctx context.Context, anchor *model.BlockchainAnchor) {
	if anchor.SubmittedAt != nil && timeNow().Sub(*anchor.SubmittedAt) > w.pollBudget {
		w.logger.Warn("ledger: anchor receipt poll budget exceeded", "anchor_id", anchor.ID)
		return
	}

	receipt, err := w.ledger.Receipt(ctx, *anchor.TxHash)
	if err != nil {
		if err == auditledger.ErrNotFound {
			return // not yet mined; try again next tick
		}
		w.fail(ctx, anchor, err)
		return
	}
	if !receipt.Success {
		w.fail(ctx, anchor, fmt.Errorf("ledger: transaction reverted"))
		return
	}

	now := timeNow()
	anchor.BlockNumber = &receipt.BlockNumber
	anchor.BlockHash = &receipt.BlockHash
	anchor.GasUsed = &receipt.GasUsed
	anchor.ConfirmedAt = &now
	anchor.Status = model.AnchorConfirmed
	if err := w.store.UpdateAnchor(ctx, anchor); err != nil {
		w.logger.Error("ledger: persist confirmed anchor", "error", err, "anchor_id", anchor.ID)
		return
	}
	w.onConfirmed(ctx, anchor, now)
}

// onConfirmed runs the bookkeeping common to both the simulated and the
// real receipt-polling confirmation paths: mark the root anchored, stamp
// the covered decisions with the winning tx hash, and notify hooks.
func (w *Worker) onConfirmed(ctx context.Context, anchor *model.BlockchainAnchor, at time.Time) {
	if err := w.store.MarkRootAnchored(ctx, anchor.RootID, anchor.ID, at); err != nil {
		w.logger.Error("ledger: mark root anchored", "error", err, "root_id", anchor.RootID)
		return
	}

	root, err := w.store.GetMerkleRoot(ctx, anchor.RootHash)
	if err != nil {
		w.logger.Error("ledger: fetch anchored root", "error", err, "root_hash", anchor.RootHash)
		return
	}
	if anchor.TxHash != nil {
		if err := w.store.SetAnchorTxHash(ctx, root.OrgID, root.StartSequence, root.EndSequence, *anchor.TxHash); err != nil {
			w.logger.Error("ledger: stamp anchor tx hash", "error", err, "root_hash", anchor.RootHash)
		}
	}

	for _, h := range w.hooks {
		h := h
		r, a := *root, *anchor
		go h.OnRootAnchored(context.WithoutCancel(ctx), r, a)
	}
}

// finalizeIfReady transitions a CONFIRMED anchor to FINALIZED once
// current_block - block_number >= FinalizationConfirmations.
func (w *Worker) finalizeIfReady(ctx context.Context, anchor *model.BlockchainAnchor) {
	if anchor.BlockNumber == nil {
		return
	}
	current, err := w.ledger.CurrentBlock(ctx)
	if err != nil {
		w.logger.Warn("ledger: fetch current block", "error", err)
		return
	}
	if current < *anchor.BlockNumber {
		return
	}
	if current-*anchor.BlockNumber < model.FinalizationConfirmations {
		if w.metrics != nil {
			w.metrics.confirmationLag.Set(float64(model.FinalizationConfirmations - (current - *anchor.BlockNumber)))
		}
		return
	}
	now := timeNow()
	anchor.FinalizedAt = &now
	anchor.Status = model.AnchorFinalized
	if err := w.store.UpdateAnchor(ctx, anchor); err != nil {
		w.logger.Error("ledger: persist finalized anchor", "error", err, "anchor_id", anchor.ID)
	}
}

func (w *Worker) fail(ctx context.Context, anchor *model.BlockchainAnchor, cause error) {
	msg := cause.Error()
	anchor.LastError = &msg
	anchor.RetryCount++
	anchor.Status = model.AnchorFailed
	if err := w.store.UpdateAnchor(ctx, anchor); err != nil {
		w.logger.Error("ledger: persist failed anchor", "error", err, "anchor_id", anchor.ID)
	}
}

func (w *Worker) reportMetrics(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	for _, status := range []model.AnchorStatus{
		model.AnchorPending, model.AnchorSubmitted, model.AnchorConfirmed,
		model.AnchorFailed, model.AnchorFinalized,
	} {
		anchors, err := w.store.ListAnchorsByStatus(ctx, status)
		if err != nil {
			continue
		}
		w.metrics.stateTotal.WithLabelValues(string(status)).Set(float64(len(anchors)))
	}
}

// decodeRootHash converts a 64-char hex digest into a fixed 32-byte value.
// Rejects anything shorter than 32 bytes after stripping an optional 0x
// prefix, per spec §4.D.
func decodeRootHash(rootHash string) ([32]byte, error) {
	var out [32]byte
	h := strings.TrimPrefix(rootHash, "0x")
	b, err := hex.DecodeString(h)
	if err != nil {
		return out, fmt.Errorf("ledger: decode root hash: %w", err)
	}
	if len(b) < 32 {
		return out, fmt.Errorf("ledger: root hash %d bytes, want >= 32", len(b))
	}
	copy(out[:], b[:32])
	return out, nil
}

func errLedgerUnavailable(err error) error {
	return auditledger.NewError("ledger.Submit", auditledger.KindLedgerUnavailable, err)
}

var timeNow = time.Now
