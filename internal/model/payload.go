package model

import "github.com/google/uuid"

// InteractionPayload is owned 1:1 by a DecisionRecord and is erasable: a
// GDPR deletion purges every field here while leaving the parent record's
// hashes and sequence number intact.
type InteractionPayload struct {
	DecisionID uuid.UUID `json:"decision_id"`

	Prompt   string `json:"prompt"`
	Response string `json:"response"`

	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalTokens      int      `json:"total_tokens"`
	EstimatedCostUSD *float64 `json:"estimated_cost_usd,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`

	LatencyMS int64 `json:"latency_ms"`

	RawRequest  Value `json:"raw_request,omitempty"`
	RawResponse Value `json:"raw_response,omitempty"`
}

// InteractionInput is the caller-supplied shape for InteractionPayload.
type InteractionInput struct {
	Prompt           string
	Response         string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCostUSD *float64
	Temperature      *float64
	MaxTokens        *int
	TopP             *float64
	LatencyMS        int64
	RawRequest       Value
	RawResponse      Value
}
