package model

import "github.com/google/uuid"

// DecisionContext is owned 1:1 by a DecisionRecord and is erasable on GDPR
// deletion, same as InteractionPayload.
type DecisionContext struct {
	DecisionID uuid.UUID `json:"decision_id"`

	ApplicationID string `json:"application_id,omitempty"`
	Environment   string `json:"environment,omitempty"`
	RequestID     string `json:"request_id,omitempty"`

	ParentDecisionID *string  `json:"parent_decision_id,omitempty"`
	RelatedDecisions []string `json:"related_decisions,omitempty"` // ordered

	RegulatoryFramework string `json:"regulatory_framework,omitempty"`
	JurisdictionCode    string `json:"jurisdiction_code,omitempty"`
	DataResidency       string `json:"data_residency,omitempty"`

	Extra Value `json:"extra,omitempty"`
}

// ContextInput is the caller-supplied shape for DecisionContext. It names
// eight optional context fields; any other context data is carried in
// Extra.
type ContextInput struct {
	ApplicationID       string
	Environment         string
	RequestID           string
	ParentDecisionID    *string
	RelatedDecisions    []string
	RegulatoryFramework string
	JurisdictionCode    string
	DataResidency       string
	Extra               Value
}

// ContextHashProjection is the subset of DecisionContext fields the
// canonical hasher folds into ContextHash. Kept separate from the full
// DecisionContext struct so adding a display-only field never silently
// changes the hash contract.
type ContextHashProjection struct {
	ApplicationID       string   `json:"application_id"`
	Environment         string   `json:"environment"`
	RequestID           string   `json:"request_id"`
	ParentDecisionID    *string  `json:"parent_decision_id"`
	RelatedDecisions    []string `json:"related_decisions"`
	RegulatoryFramework string   `json:"regulatory_framework"`
	JurisdictionCode    string   `json:"jurisdiction_code"`
	DataResidency       string   `json:"data_residency"`
}
