package auditledger

import (
	"log/slog"
	"time"
)

// Option configures a Core.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
type resolvedOptions struct {
	logger *slog.Logger
	store  Store
	ledger Ledger

	hashKey []byte // HMAC key from secret_key; no Core operation reads it

	simulated bool

	merkleTreeDepth       int
	anchorInterval        time.Duration
	gdprRetentionDays     int
	anchorPollInterval    time.Duration
	anchorPollBudget      time.Duration

	eventHooks []EventHook
}

// WithLogger sets the structured logger used by every component. Defaults
// to slog.Default() if unset.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithStore sets the Record Store collaborator. Required.
func WithStore(s Store) Option {
	return func(o *resolvedOptions) { o.store = s }
}

// WithLedger sets the Ledger collaborator. If unset, New builds no anchor
// worker: batches are built but not anchored, and deletions are not
// anchored either.
func WithLedger(l Ledger) Option {
	return func(o *resolvedOptions) { o.ledger = l }
}

// WithSimulatedLedger marks the configured Ledger as a simulation, so the
// anchor worker confirms submissions immediately instead of polling for
// receipts. Set this whenever the Ledger passed to WithLedger is an
// in-memory stand-in rather than a real chain client.
func WithSimulatedLedger(simulated bool) Option {
	return func(o *resolvedOptions) { o.simulated = simulated }
}

// WithHashKey stores an HMAC signing key in the options. No Core operation
// reads it; there is no export path that signs with it.
func WithHashKey(key []byte) Option {
	return func(o *resolvedOptions) { o.hashKey = key }
}

// WithMerkleTreeDepth caps the depth a batch build will accept, as a safety
// valve against pathologically large batches.
func WithMerkleTreeDepth(depth int) Option {
	return func(o *resolvedOptions) { o.merkleTreeDepth = depth }
}

// WithAnchorInterval sets the batcher's tick interval.
func WithAnchorInterval(d time.Duration) Option {
	return func(o *resolvedOptions) { o.anchorInterval = d }
}

// WithGDPRRetentionDays sets the default tombstone retention floor.
func WithGDPRRetentionDays(days int) Option {
	return func(o *resolvedOptions) { o.gdprRetentionDays = days }
}

// WithAnchorPolling overrides the receipt poll interval and total budget.
func WithAnchorPolling(interval, budget time.Duration) Option {
	return func(o *resolvedOptions) {
		o.anchorPollInterval = interval
		o.anchorPollBudget = budget
	}
}

// WithEventHook registers an event hook. Multiple hooks may be registered;
// all receive every event.
func WithEventHook(hook EventHook) Option {
	return func(o *resolvedOptions) { o.eventHooks = append(o.eventHooks, hook) }
}
