package auditledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/auditledger/core/internal/model"
)

// Store is the Record Store collaborator contract (spec §4.B). The core
// never assumes Postgres; internal/storage.DB is the Postgres
// implementation. New has no default store: one must be given via WithStore.
type Store interface {
	// InsertDecision atomically persists a record plus its owned payload and
	// context, assigning a SequenceNumber that is monotonic within OrgID.
	// Each organization has its own sequence starting at 1, so numbers are
	// not unique across organizations. Returns ErrConflict if DecisionID
	// already exists for OrgID.
	InsertDecision(ctx context.Context, rec *model.DecisionRecord, payload *model.InteractionPayload, dctx *model.DecisionContext) error

	GetDecisionByID(ctx context.Context, id uuid.UUID) (*model.DecisionRecord, error)
	GetDecisionByDecisionID(ctx context.Context, orgID uuid.UUID, decisionID string) (*model.DecisionRecord, error)
	ListDecisionsByOrgAndTime(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]model.DecisionRecord, error)
	ListDecisionsBySequenceRange(ctx context.Context, orgID uuid.UUID, start, end int64) ([]model.DecisionRecord, error)

	// LatestSequence returns the highest sequence number committed for orgID,
	// or 0 if none. Used by the batcher to find the next closed range.
	LatestSequence(ctx context.Context, orgID uuid.UUID) (int64, error)
	LatestBatchedSequence(ctx context.Context, orgID uuid.UUID) (int64, error)

	SetMerkleRoot(ctx context.Context, orgID uuid.UUID, start, end int64, rootHash string) error
	// SetAnchorTxHash stamps every decision in [start, end] for orgID with
	// the transaction hash that anchored their covering root, mirroring
	// SetMerkleRoot's range shape: a root always covers a contiguous
	// sequence range, so its anchor does too.
	SetAnchorTxHash(ctx context.Context, orgID uuid.UUID, start, end int64, txHash string) error
	MarkGDPRDeleted(ctx context.Context, decisionID uuid.UUID, at time.Time) error
	PurgePayloadAndContext(ctx context.Context, decisionID uuid.UUID) error

	InsertMerkleRoot(ctx context.Context, root *model.MerkleRoot) error
	InsertMerkleNodes(ctx context.Context, nodes []model.MerkleNode) error
	GetMerkleRoot(ctx context.Context, rootHash string) (*model.MerkleRoot, error)
	GetMerkleNode(ctx context.Context, nodeHash string) (*model.MerkleNode, error)
	GetMerkleNodeByParent(ctx context.Context, rootID uuid.UUID, parentHash string) ([]model.MerkleNode, error)
	GetLeafNodeForDecision(ctx context.Context, decisionID uuid.UUID) (*model.MerkleNode, error)
	MarkRootAnchored(ctx context.Context, rootID, anchorID uuid.UUID, at time.Time) error

	InsertAnchor(ctx context.Context, anchor *model.BlockchainAnchor) error
	UpdateAnchor(ctx context.Context, anchor *model.BlockchainAnchor) error
	GetAnchor(ctx context.Context, id uuid.UUID) (*model.BlockchainAnchor, error)
	GetAnchorByRootHash(ctx context.Context, rootHash string) (*model.BlockchainAnchor, error)
	ListAnchorsByStatus(ctx context.Context, status model.AnchorStatus) ([]model.BlockchainAnchor, error)

	InsertTombstone(ctx context.Context, t *model.TombstoneRecord) error
	GetTombstone(ctx context.Context, id uuid.UUID) (*model.TombstoneRecord, error)
	ListTombstonesByIDs(ctx context.Context, ids []uuid.UUID) ([]model.TombstoneRecord, error)
}

// Ledger is the only surface the core consumes from an external immutable
// chain (spec §6). internal/ledger.Ethereum implements it over
// go-ethereum's ethclient; internal/ledger.Simulator implements it
// in-memory for blockchain_enabled=false.
type Ledger interface {
	// Submit broadcasts a transaction committing rootHash (exactly 32 bytes)
	// and returns its transaction hash.
	Submit(ctx context.Context, rootHash [32]byte) (txHash string, err error)
	// Receipt returns the mined receipt for txHash, or ErrNotFound if the
	// transaction has not yet been mined.
	Receipt(ctx context.Context, txHash string) (*Receipt, error)
	CurrentBlock(ctx context.Context) (uint64, error)
	ChainID() int64
	NetworkName() string
}

// Receipt is the subset of a mined transaction's receipt the Anchor Worker
// needs to advance a BlockchainAnchor's state.
type Receipt struct {
	BlockNumber uint64
	BlockHash   string
	GasUsed     uint64
	Success     bool
}

// EventHook receives best-effort async notifications of core lifecycle
// events. Hook methods run in a goroutine and must not block indefinitely;
// failures are logged but never fail the originating operation.
type EventHook interface {
	OnDecisionCaptured(ctx context.Context, rec model.DecisionRecord)
	OnRootAnchored(ctx context.Context, root model.MerkleRoot, anchor model.BlockchainAnchor)
	OnDecisionDeleted(ctx context.Context, result model.DeletionResult)
}
