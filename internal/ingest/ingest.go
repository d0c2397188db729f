// Package ingest implements the Ingest Pipeline: validating and hashing a
// caller-supplied decision record, persisting it, and periodically batching
// newly committed sequence ranges into Merkle roots for anchoring.
package ingest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	auditledger "github.com/auditledger/core"
	"github.com/auditledger/core/internal/hashing"
	"github.com/auditledger/core/internal/ledger"
	"github.com/auditledger/core/internal/merkle"
	"github.com/auditledger/core/internal/model"
)

// Pipeline implements spec §4.G's capture operation.
type Pipeline struct {
	store auditledger.Store
	hooks []auditledger.EventHook
}

// Config configures a Pipeline.
type Config struct {
	Store      auditledger.Store
	EventHooks []auditledger.EventHook
}

// New constructs a Pipeline.
func New(cfg Config) *Pipeline {
	return &Pipeline{store: cfg.Store, hooks: cfg.EventHooks}
}

// Capture validates in, computes its four hashes, and persists it with a
// store-assigned sequence_number.
func (p *Pipeline) Capture(ctx context.Context, in model.DecisionInput) (*model.DecisionRecord, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	decisionID := in.DecisionID
	if decisionID == "" {
		id, err := randomDecisionID()
		if err != nil {
			return nil, auditledger.NewError("ingest.Capture", auditledger.KindInternal, err)
		}
		decisionID = id
	}

	ctxProjection := model.ContextHashProjection{
		ApplicationID:       in.Context.ApplicationID,
		Environment:         in.Context.Environment,
		RequestID:           in.Context.RequestID,
		ParentDecisionID:    in.Context.ParentDecisionID,
		RelatedDecisions:    in.Context.RelatedDecisions,
		RegulatoryFramework: in.Context.RegulatoryFramework,
		JurisdictionCode:    in.Context.JurisdictionCode,
		DataResidency:       in.Context.DataResidency,
	}
	metadata := model.HashMetadataProjection{
		OrganizationID: in.OrgID.String(),
		UserID:         in.UserID,
		ModelName:      in.ModelName,
		DecisionType:   string(in.DecisionType),
	}
	hashes, err := hashing.ComputeAuditHash(in.Interaction.Prompt, in.Interaction.Response, ctxProjection, metadata)
	if err != nil {
		return nil, fmt.Errorf("ingest: compute hashes: %w", err)
	}

	id := uuid.New()
	rec := &model.DecisionRecord{
		ID:           id,
		DecisionID:   decisionID,
		OrgID:        in.OrgID,
		UserID:       in.UserID,
		SessionID:    in.SessionID,
		ModelName:    in.ModelName,
		ModelVersion: in.ModelVersion,
		Provider:     in.Provider,
		DecisionType: in.DecisionType,
		InputHash:    hashes.InputHash,
		OutputHash:   hashes.OutputHash,
		ContextHash:  hashes.ContextHash,
		FullHash:     hashes.FullHash,
		CreatedAt:    time.Now().UTC(),
	}
	payload := &model.InteractionPayload{
		DecisionID:       id,
		Prompt:           in.Interaction.Prompt,
		Response:         in.Interaction.Response,
		PromptTokens:     in.Interaction.PromptTokens,
		CompletionTokens: in.Interaction.CompletionTokens,
		TotalTokens:      in.Interaction.TotalTokens,
		EstimatedCostUSD: in.Interaction.EstimatedCostUSD,
		Temperature:      in.Interaction.Temperature,
		MaxTokens:        in.Interaction.MaxTokens,
		TopP:             in.Interaction.TopP,
		LatencyMS:        in.Interaction.LatencyMS,
		RawRequest:       in.Interaction.RawRequest,
		RawResponse:      in.Interaction.RawResponse,
	}
	dctx := &model.DecisionContext{
		DecisionID:          id,
		ApplicationID:       in.Context.ApplicationID,
		Environment:         in.Context.Environment,
		RequestID:           in.Context.RequestID,
		ParentDecisionID:    in.Context.ParentDecisionID,
		RelatedDecisions:    in.Context.RelatedDecisions,
		RegulatoryFramework: in.Context.RegulatoryFramework,
		JurisdictionCode:    in.Context.JurisdictionCode,
		DataResidency:       in.Context.DataResidency,
		Extra:               in.Context.Extra,
	}

	if err := p.store.InsertDecision(ctx, rec, payload, dctx); err != nil {
		return nil, fmt.Errorf("ingest: insert: %w", err)
	}
	rec.Payload = payload
	rec.Context = dctx

	for _, h := range p.hooks {
		go h.OnDecisionCaptured(context.WithoutCancel(ctx), *rec)
	}
	return rec, nil
}

func validate(in model.DecisionInput) error {
	if in.OrgID == uuid.Nil {
		return auditledger.NewError("ingest.Capture", auditledger.KindInvalidInput, fmt.Errorf("organization_id is required"))
	}
	if in.ModelName == "" {
		return auditledger.NewError("ingest.Capture", auditledger.KindInvalidInput, fmt.Errorf("model_name is required"))
	}
	switch in.DecisionType {
	case model.DecisionClassification, model.DecisionGeneration, model.DecisionRecommendation,
		model.DecisionPrediction, model.DecisionAnalysis, model.DecisionSummarization, model.DecisionCustom:
	default:
		return auditledger.NewError("ingest.Capture", auditledger.KindInvalidInput, fmt.Errorf("unrecognized decision_type %q", in.DecisionType))
	}
	return nil
}

// randomDecisionID returns "dec_" followed by 12 hex characters, per
// spec §4.G step 1.
func randomDecisionID() (string, error) {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("ingest: generate decision id: %w", err)
	}
	return "dec_" + hex.EncodeToString(buf[:]), nil
}

// Batcher periodically closes a contiguous sequence range into a Merkle
// root and, when an anchor worker is configured, anchors it. It generalizes
// the teacher's integrity-proof loop to this spec's Merkle/anchor pipeline.
type Batcher struct {
	store        auditledger.Store
	anchorWorker *ledger.Worker
	logger       *slog.Logger
	depthCap     int
}

// BatcherConfig configures a Batcher.
type BatcherConfig struct {
	Store        auditledger.Store
	AnchorWorker *ledger.Worker // nil disables automatic anchoring
	Logger       *slog.Logger
	MaxTreeDepth int // safety cap; 0 disables the cap
}

// NewBatcher constructs a Batcher.
func NewBatcher(cfg BatcherConfig) *Batcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{store: cfg.Store, anchorWorker: cfg.AnchorWorker, logger: logger, depthCap: cfg.MaxTreeDepth}
}

// BuildNext closes the open range (LatestBatchedSequence, LatestSequence]
// for orgID into a new Merkle root, writes the root hash back to every
// covered record, and anchors the root if a worker is configured. Returns
// nil, nil if there is no new sequence to batch.
func (b *Batcher) BuildNext(ctx context.Context, orgID uuid.UUID) (*model.MerkleRoot, error) {
	latest, err := b.store.LatestSequence(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("ingest: latest sequence: %w", err)
	}
	batched, err := b.store.LatestBatchedSequence(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("ingest: latest batched sequence: %w", err)
	}
	if latest <= batched {
		return nil, nil
	}

	start, end := batched+1, latest
	records, err := b.store.ListDecisionsBySequenceRange(ctx, orgID, start, end)
	if err != nil {
		return nil, fmt.Errorf("ingest: list sequence range: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	orderBySequence(records)

	leaves := make([]string, len(records))
	for i, rec := range records {
		leaves[i] = rec.FullHash
	}

	tree, err := merkle.Build(leaves)
	if err != nil {
		return nil, fmt.Errorf("ingest: build merkle tree: %w", err)
	}
	if b.depthCap > 0 && tree.Depth() > b.depthCap {
		return nil, auditledger.NewError("ingest.BuildNext", auditledger.KindInvalidInput, fmt.Errorf("tree depth %d exceeds cap %d", tree.Depth(), b.depthCap))
	}

	root := &model.MerkleRoot{
		ID:            uuid.New(),
		RootHash:      tree.RootHash(),
		TreeDepth:     tree.Depth(),
		LeafCount:     tree.LeafCount(),
		OrgID:         orgID,
		StartSequence: start,
		EndSequence:   end,
		CreatedAt:     time.Now().UTC(),
	}
	if err := b.store.InsertMerkleRoot(ctx, root); err != nil {
		return nil, fmt.Errorf("ingest: persist root: %w", err)
	}

	// Tree.Nodes returns bare node shapes; stamp in the identifiers the
	// store needs to answer GetLeafNodeForDecision/GetMerkleNodeByParent
	// later, since nothing else links a persisted node back to its root or
	// to the decision its leaf covers.
	nodes := tree.Nodes()
	for i := range nodes {
		nodes[i].RootID = root.ID
		if nodes[i].IsLeaf {
			decisionID := records[nodes[i].Position].ID
			nodes[i].DecisionID = &decisionID
		}
	}
	if err := b.store.InsertMerkleNodes(ctx, nodes); err != nil {
		return nil, fmt.Errorf("ingest: persist nodes: %w", err)
	}
	if err := b.store.SetMerkleRoot(ctx, orgID, start, end, root.RootHash); err != nil {
		return nil, fmt.Errorf("ingest: write back merkle_root: %w", err)
	}

	if b.anchorWorker != nil {
		if _, err := b.anchorWorker.Anchor(ctx, root); err != nil {
			b.logger.Warn("ingest: anchor submission failed", "error", err, "root_hash", root.RootHash)
		}
	}

	return root, nil
}

func orderBySequence(records []model.DecisionRecord) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j-1].SequenceNumber > records[j].SequenceNumber; j-- {
			records[j-1], records[j] = records[j], records[j-1]
		}
	}
}
