// Package model defines the persisted entities of the audit core: decision
// records and their owned payload/context, Merkle tree nodes and roots,
// blockchain anchors, and tombstones.
package model

import (
	"time"

	"github.com/google/uuid"
)

// DecisionType is a closed set of AI decision categories.
type DecisionType string

const (
	DecisionClassification DecisionType = "CLASSIFICATION"
	DecisionGeneration     DecisionType = "GENERATION"
	DecisionRecommendation DecisionType = "RECOMMENDATION"
	DecisionPrediction     DecisionType = "PREDICTION"
	DecisionAnalysis       DecisionType = "ANALYSIS"
	DecisionSummarization  DecisionType = "SUMMARIZATION"
	DecisionCustom         DecisionType = "CUSTOM"
)

// DecisionRecord is the append-only unit of the audit log. Once persisted,
// its four hashes never change; only MerkleRoot, AnchorTxHash, and the GDPR
// flags are mutated in place.
type DecisionRecord struct {
	ID             uuid.UUID `json:"id"`
	DecisionID     string    `json:"decision_id"` // unique per OrgID, caller-supplied or generated
	SequenceNumber int64     `json:"sequence_number"`

	OrgID     uuid.UUID  `json:"organization_id"`
	UserID    *string    `json:"user_id,omitempty"`
	SessionID *string    `json:"session_id,omitempty"`

	ModelName    string       `json:"model_name"`
	ModelVersion string       `json:"model_version"`
	Provider     string       `json:"provider"`
	DecisionType DecisionType `json:"decision_type"`

	InputHash   string `json:"input_hash"`
	OutputHash  string `json:"output_hash"`
	ContextHash string `json:"context_hash"`
	FullHash    string `json:"full_hash"`

	IsGDPRDeleted bool       `json:"is_gdpr_deleted"`
	GDPRDeletedAt *time.Time `json:"gdpr_deleted_at,omitempty"`
	MerkleRoot    *string    `json:"merkle_root,omitempty"`
	AnchorTxHash  *string    `json:"anchor_tx_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Payload and Context are populated when the store is asked to join them.
	// They are nil for list queries and always nil once IsGDPRDeleted is true.
	Payload *InteractionPayload `json:"interaction,omitempty"`
	Context *DecisionContext    `json:"context,omitempty"`
}

// HashMetadataProjection is the fixed metadata slice folded into FullHash.
// Field order does not matter; hash_dict sorts keys during canonicalization.
type HashMetadataProjection struct {
	OrganizationID string  `json:"organization_id"`
	UserID         *string `json:"user_id"`
	ModelName      string  `json:"model_name"`
	DecisionType   string  `json:"decision_type"`
}

// DecisionInput is the caller-supplied shape accepted by the ingest pipeline.
// It is never persisted directly; Capture turns it into a DecisionRecord plus
// owned InteractionPayload/DecisionContext rows.
type DecisionInput struct {
	OrgID        uuid.UUID
	UserID       *string
	SessionID    *string
	ModelName    string
	ModelVersion string
	Provider     string
	DecisionType DecisionType
	DecisionID   string // optional; generated if empty

	Interaction InteractionInput
	Context     ContextInput

	ComplianceMarkers []string
}
