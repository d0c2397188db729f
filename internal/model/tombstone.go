package model

import (
	"time"

	"github.com/google/uuid"
)

// TombstoneRecord proves that a specific original hash was deleted at a
// specific time by a specific actor, for a specific reason. It outlives the
// InteractionPayload/DecisionContext it describes.
type TombstoneRecord struct {
	ID                 uuid.UUID  `json:"id"`
	OriginalDecisionID string     `json:"original_decision_id"`
	DecisionID         *uuid.UUID `json:"decision_id,omitempty"` // nullable FK

	DeletedBy       string    `json:"deleted_by"`
	DeletionReason  string    `json:"deletion_reason"`
	LegalBasis      string    `json:"legal_basis,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	RetentionUntil  time.Time `json:"permanent_retention_until"`

	OriginalHash          string     `json:"original_hash"`
	DeletionHash          string     `json:"deletion_hash"`
	DeletionAnchorTxHash  *string    `json:"deletion_anchor_tx_hash,omitempty"`
	DeletionVerified      bool       `json:"deletion_verified"`
}

// TombstoneHashPayload is hashed with hash_dict to produce DeletionHash.
type TombstoneHashPayload struct {
	OriginalHash      string `json:"original_hash"`
	DeletionTimestamp string `json:"deletion_timestamp"`
	DeletedBy         string `json:"deleted_by"`
	Reason            string `json:"reason"`
	Type              string `json:"type"`
}

// DeletionRequest is the caller-supplied shape for a GDPR deletion request.
type DeletionRequest struct {
	OrgID               uuid.UUID
	UserID              string
	SpecificDecisionIDs []string
	DateRangeStart      *time.Time
	DateRangeEnd        *time.Time
	RequestedBy         string
	DeletionReason      string
	LegalBasis          string
	RetentionDays       *int // overrides configuration default when set
}

// DeletionResult summarizes the outcome of a deletion request.
type DeletionResult struct {
	DeletionID       uuid.UUID
	TombstoneIDs     []uuid.UUID
	DeletionProofHash string
	RecordsDeleted   int
}

// DeletionProofPayload is hashed with hash_dict to produce DeletionProofHash.
type DeletionProofPayload struct {
	DeletionID   string   `json:"deletion_id"`
	TombstoneIDs []string `json:"tombstone_ids"`
	RequestedBy  string   `json:"requested_by"`
	Timestamp    string   `json:"timestamp"`
	Type         string   `json:"type"`
}
