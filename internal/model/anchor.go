package model

import (
	"time"

	"github.com/google/uuid"
)

// AnchorStatus is the closed set of states a BlockchainAnchor moves through.
// The state machine never reverses except through the explicit FAILED-retry
// path: PENDING -> SUBMITTED -> CONFIRMED -> FINALIZED, with FAILED reachable
// from PENDING or SUBMITTED. A FAILED anchor is resubmitted directly on the
// worker's next tick, going back to SUBMITTED on success.
type AnchorStatus string

const (
	AnchorPending    AnchorStatus = "PENDING"
	AnchorSubmitted  AnchorStatus = "SUBMITTED"
	AnchorConfirmed  AnchorStatus = "CONFIRMED"
	AnchorFailed     AnchorStatus = "FAILED"
	AnchorFinalized  AnchorStatus = "FINALIZED"
)

// FinalizationConfirmations is the number of block confirmations required
// for a CONFIRMED anchor to transition to FINALIZED.
const FinalizationConfirmations = 12

// BlockchainAnchor records one ledger transaction committing a MerkleRoot
// (or a tombstone's single-leaf root) to an external chain.
type BlockchainAnchor struct {
	ID          uuid.UUID    `json:"anchor_id"`
	RootID      uuid.UUID    `json:"root_id"`
	RootHash    string       `json:"root_hash"`
	ChainID     int64        `json:"chain_id"`
	NetworkName string       `json:"network_name"`
	Status      AnchorStatus `json:"status"`

	TxHash      *string `json:"tx_hash,omitempty"`
	BlockNumber *uint64 `json:"block_number,omitempty"`
	BlockHash   *string `json:"block_hash,omitempty"`
	GasUsed     *uint64 `json:"gas_used,omitempty"`

	RetryCount int     `json:"retry_count"`
	LastError  *string `json:"last_error,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	FinalizedAt  *time.Time `json:"finalized_at,omitempty"`
}
