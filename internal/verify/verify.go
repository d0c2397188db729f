// Package verify implements the Integrity Verifier: given a scope of
// persisted records, it recomputes every hash from stored plaintext and
// re-checks Merkle and anchor linkage, producing a report. It never raises
// for a tampered record — only for collaborator failures.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	auditledger "github.com/auditledger/core"
	"github.com/auditledger/core/internal/hashing"
	"github.com/auditledger/core/internal/merkle"
	"github.com/auditledger/core/internal/model"
)

// Window bounds a verification run by organization and time range.
type Window struct {
	OrgID uuid.UUID
	From  time.Time
	To    time.Time
}

// TamperedRecord describes one record whose recomputed hash diverges from
// its stored hash.
type TamperedRecord struct {
	DecisionID   string    `json:"decision_id"`
	ExpectedHash string    `json:"expected_hash"`
	ActualHash   string    `json:"actual_hash"`
	Timestamp    time.Time `json:"timestamp"`
}

// Report is the output of Verify, spec §4.F step 6.
type Report struct {
	OrgID uuid.UUID `json:"organization_id"`

	TotalRecords    int `json:"total_records"`
	ActiveLogs      int `json:"active_logs"` // non-GDPR-deleted
	VerifiedCount   int `json:"verified_count"`
	GDPRDeleted     int `json:"gdpr_deleted_count"`

	Tampered []TamperedRecord `json:"tampered"`

	RootsChecked    int `json:"roots_checked"`
	AnchorsVerified int `json:"anchors_verified"`
	ProofsVerified  int `json:"proofs_verified"`

	SequenceGaps []SequenceGap `json:"sequence_gaps,omitempty"`

	IntegrityScore float64 `json:"integrity_score"`
}

// SequenceGap marks a discontinuity in sequence_number among the records in
// scope. Gaps are reported as found; tombstones are not consulted.
type SequenceGap struct {
	AfterSequence  int64 `json:"after_sequence"`
	BeforeSequence int64 `json:"before_sequence"`
}

// Verifier owns the Store collaborator used to re-derive integrity reports.
type Verifier struct {
	store       auditledger.Store
	concurrency int
}

// Config configures a Verifier.
type Config struct {
	Store       auditledger.Store
	Concurrency int // max goroutines recomputing hashes concurrently; default 8
}

// New constructs a Verifier.
func New(cfg Config) *Verifier {
	c := cfg.Concurrency
	if c <= 0 {
		c = 8
	}
	return &Verifier{store: cfg.Store, concurrency: c}
}

// Verify implements spec §4.F's six steps over w.
func (v *Verifier) Verify(ctx context.Context, w Window) (*Report, error) {
	records, err := v.store.ListDecisionsByOrgAndTime(ctx, w.OrgID, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("verify: list records: %w", err)
	}

	report := &Report{OrgID: w.OrgID, TotalRecords: len(records)}
	for _, rec := range records {
		if rec.IsGDPRDeleted {
			report.GDPRDeleted++
		} else {
			report.ActiveLogs++
		}
	}

	tamperedCh := make(chan TamperedRecord, len(records))
	var recomputeErr error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for _, rec := range records {
		rec := rec
		if rec.IsGDPRDeleted {
			continue
		}
		g.Go(func() error {
			return v.recomputeOne(gctx, rec, tamperedCh)
		})
	}
	if err := g.Wait(); err != nil {
		recomputeErr = err
	}
	close(tamperedCh)
	if recomputeErr != nil {
		return nil, fmt.Errorf("verify: recompute hashes: %w", recomputeErr)
	}
	for t := range tamperedCh {
		report.Tampered = append(report.Tampered, t)
	}
	report.VerifiedCount = report.ActiveLogs - len(report.Tampered)

	if err := v.checkRootsAndAnchors(ctx, records, report); err != nil {
		return nil, fmt.Errorf("verify: roots and anchors: %w", err)
	}

	report.SequenceGaps = findSequenceGaps(records)

	if report.ActiveLogs > 0 {
		report.IntegrityScore = float64(report.VerifiedCount) / float64(report.ActiveLogs)
	} else {
		report.IntegrityScore = 1.0
	}
	return report, nil
}

// recomputeOne recomputes full_hash for rec (which must have Payload and
// Context loaded) and reports a mismatch on tamperedCh. Records missing
// their payload/context (already purged by a tombstone despite not being
// flagged GDPR-deleted, which should not normally happen) are skipped.
func (v *Verifier) recomputeOne(ctx context.Context, rec model.DecisionRecord, tamperedCh chan<- TamperedRecord) error {
	full, err := v.store.GetDecisionByID(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rec.DecisionID, err)
	}
	if full.Payload == nil || full.Context == nil {
		return nil
	}

	ctxProjection := model.ContextHashProjection{
		ApplicationID:       full.Context.ApplicationID,
		Environment:         full.Context.Environment,
		RequestID:           full.Context.RequestID,
		ParentDecisionID:    full.Context.ParentDecisionID,
		RelatedDecisions:    full.Context.RelatedDecisions,
		RegulatoryFramework: full.Context.RegulatoryFramework,
		JurisdictionCode:    full.Context.JurisdictionCode,
		DataResidency:       full.Context.DataResidency,
	}
	metadata := model.HashMetadataProjection{
		OrganizationID: full.OrgID.String(),
		UserID:         full.UserID,
		ModelName:      full.ModelName,
		DecisionType:   string(full.DecisionType),
	}

	hashes, err := hashing.ComputeAuditHash(full.Payload.Prompt, full.Payload.Response, ctxProjection, metadata)
	if err != nil {
		return fmt.Errorf("recompute %s: %w", full.DecisionID, err)
	}

	if !hashing.Compare(hashes.FullHash, full.FullHash) {
		tamperedCh <- TamperedRecord{
			DecisionID:   full.DecisionID,
			ExpectedHash: full.FullHash,
			ActualHash:   hashes.FullHash,
			Timestamp:    full.CreatedAt,
		}
	}
	return nil
}

// checkRootsAndAnchors implements spec §4.F steps 3-4: for each distinct
// merkle_root referenced by records in scope, verify the anchor linkage,
// then re-derive each record's own inclusion proof from the persisted
// merkle_nodes rows (spec §9's parent_hash walk) and re-check it against
// that root — this is the same check spec §4.C's Proof would make, run
// without ever materializing the in-memory Tree that produced it.
func (v *Verifier) checkRootsAndAnchors(ctx context.Context, records []model.DecisionRecord, report *Report) error {
	seen := make(map[string]bool)
	for _, rec := range records {
		if rec.MerkleRoot == nil {
			continue
		}
		if !rec.IsGDPRDeleted {
			ok, err := v.VerifyRecordProof(ctx, rec.ID)
			if err != nil {
				if errors.Is(err, auditledger.ErrNotFound) {
					// Node rows not persisted for this record (e.g. a root
					// anchored before merkle_nodes was populated); skip.
				} else {
					return err
				}
			} else if ok {
				report.ProofsVerified++
			} else {
				report.Tampered = append(report.Tampered, TamperedRecord{
					DecisionID:   rec.DecisionID,
					ExpectedHash: *rec.MerkleRoot,
					ActualHash:   "proof mismatch",
					Timestamp:    rec.CreatedAt,
				})
			}
		}

		if seen[*rec.MerkleRoot] {
			continue
		}
		seen[*rec.MerkleRoot] = true
		report.RootsChecked++

		anchor, err := v.store.GetAnchorByRootHash(ctx, *rec.MerkleRoot)
		if err != nil {
			if errors.Is(err, auditledger.ErrNotFound) {
				continue
			}
			return err
		}
		if (anchor.Status == model.AnchorConfirmed || anchor.Status == model.AnchorFinalized) &&
			hashing.Compare(anchor.RootHash, *rec.MerkleRoot) {
			report.AnchorsVerified++
		}
	}
	return nil
}

// VerifyRecordProof reconstructs decisionID's Merkle inclusion proof by
// walking merkle_nodes' parent_hash links from its leaf up to the root
// (spec §9), then checks it the same way VerifyProof checks a
// caller-supplied one. Unlike merkle.Tree.Proof, it never needs the
// original in-memory tree to still exist.
func (v *Verifier) VerifyRecordProof(ctx context.Context, decisionID uuid.UUID) (bool, error) {
	leaf, err := v.store.GetLeafNodeForDecision(ctx, decisionID)
	if err != nil {
		return false, fmt.Errorf("verify: leaf node for %s: %w", decisionID, err)
	}

	var path []model.ProofStep
	cur := leaf
	for !cur.IsRoot {
		if cur.ParentHash == nil {
			return false, fmt.Errorf("verify: node %s has no parent and is not marked root", cur.NodeHash)
		}

		siblings, err := v.store.GetMerkleNodeByParent(ctx, cur.RootID, *cur.ParentHash)
		if err != nil {
			return false, fmt.Errorf("verify: sibling nodes: %w", err)
		}
		isLeftChild := cur.Position%2 == 0
		siblingHash := cur.NodeHash // odd-tail self-pair: no distinct sibling row
		for _, s := range siblings {
			if (isLeftChild && s.Position == cur.Position+1) || (!isLeftChild && s.Position == cur.Position-1) {
				siblingHash = s.NodeHash
			}
		}
		if isLeftChild {
			path = append(path, model.ProofStep{Hash: siblingHash, Position: model.PositionRight})
		} else {
			path = append(path, model.ProofStep{Hash: siblingHash, Position: model.PositionLeft})
		}

		parent, err := v.store.GetMerkleNode(ctx, *cur.ParentHash)
		if err != nil {
			return false, fmt.Errorf("verify: parent node: %w", err)
		}
		cur = parent
	}

	return merkle.VerifyProof(leaf.NodeHash, cur.NodeHash, path)
}

// VerifyProof re-checks a single leaf's inclusion proof against its root,
// per spec §4.F step 3's "optionally fetch its Merkle proof" clause.
func (v *Verifier) VerifyProof(proof *model.Proof) (bool, error) {
	return merkle.VerifyProof(proof.LeafHash, proof.RootHash, proof.ProofPath)
}

// findSequenceGaps implements spec §4.F step 5: a gap is unexpected unless
// explained by tombstones covering the missing positions. This pass reports
// raw gaps; callers cross-reference tombstones before treating a gap as a
// genuine integrity concern.
func findSequenceGaps(records []model.DecisionRecord) []SequenceGap {
	if len(records) < 2 {
		return nil
	}
	seqs := make([]int64, len(records))
	for i, r := range records {
		seqs[i] = r.SequenceNumber
	}
	for i := 1; i < len(seqs); i++ {
		for j := i; j > 0 && seqs[j-1] > seqs[j]; j-- {
			seqs[j-1], seqs[j] = seqs[j], seqs[j-1]
		}
	}
	var gaps []SequenceGap
	for i := 1; i < len(seqs); i++ {
		if seqs[i]-seqs[i-1] > 1 {
			gaps = append(gaps, SequenceGap{AfterSequence: seqs[i-1], BeforeSequence: seqs[i]})
		}
	}
	return gaps
}
