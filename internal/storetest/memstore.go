// Package storetest provides an in-memory auditledger.Store for unit tests
// that should not depend on Postgres. It implements the full Store
// contract with simple maps guarded by a mutex; semantics (per-org
// monotonic sequence numbers, conflict detection on decision_id, erasure
// on purge) mirror internal/storage.DB closely enough that tests written
// against one translate directly to the other.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	auditledger "github.com/auditledger/core"
	"github.com/auditledger/core/internal/model"
)

// MemStore is a goroutine-safe, in-memory auditledger.Store.
type MemStore struct {
	mu sync.Mutex

	decisions map[uuid.UUID]*model.DecisionRecord
	payloads  map[uuid.UUID]*model.InteractionPayload
	contexts  map[uuid.UUID]*model.DecisionContext
	byOrgSeq  map[uuid.UUID]map[int64]uuid.UUID
	byOrgDec  map[uuid.UUID]map[string]uuid.UUID
	nextSeq   map[uuid.UUID]int64

	roots    map[string]*model.MerkleRoot
	nodes    map[string]map[string]*model.MerkleNode // rootID.String() -> nodeHash -> node
	anchors  map[uuid.UUID]*model.BlockchainAnchor
	tombs    map[uuid.UUID]*model.TombstoneRecord
}

// New returns an empty MemStore.
func New() *MemStore {
	return &MemStore{
		decisions: make(map[uuid.UUID]*model.DecisionRecord),
		payloads:  make(map[uuid.UUID]*model.InteractionPayload),
		contexts:  make(map[uuid.UUID]*model.DecisionContext),
		byOrgSeq:  make(map[uuid.UUID]map[int64]uuid.UUID),
		byOrgDec:  make(map[uuid.UUID]map[string]uuid.UUID),
		nextSeq:   make(map[uuid.UUID]int64),
		roots:     make(map[string]*model.MerkleRoot),
		nodes:     make(map[string]map[string]*model.MerkleNode),
		anchors:   make(map[uuid.UUID]*model.BlockchainAnchor),
		tombs:     make(map[uuid.UUID]*model.TombstoneRecord),
	}
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func (m *MemStore) InsertDecision(ctx context.Context, rec *model.DecisionRecord, payload *model.InteractionPayload, dctx *model.DecisionContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if byDec, ok := m.byOrgDec[rec.OrgID]; ok {
		if _, exists := byDec[rec.DecisionID]; exists {
			return auditledger.ErrConflict
		}
	}

	m.nextSeq[rec.OrgID]++
	rec.SequenceNumber = m.nextSeq[rec.OrgID]

	m.decisions[rec.ID] = clone(rec)
	m.payloads[rec.ID] = clone(payload)
	m.contexts[rec.ID] = clone(dctx)

	if m.byOrgSeq[rec.OrgID] == nil {
		m.byOrgSeq[rec.OrgID] = make(map[int64]uuid.UUID)
	}
	m.byOrgSeq[rec.OrgID][rec.SequenceNumber] = rec.ID

	if m.byOrgDec[rec.OrgID] == nil {
		m.byOrgDec[rec.OrgID] = make(map[string]uuid.UUID)
	}
	m.byOrgDec[rec.OrgID][rec.DecisionID] = rec.ID

	return nil
}

func (m *MemStore) getWithJoins(id uuid.UUID) (*model.DecisionRecord, error) {
	rec, ok := m.decisions[id]
	if !ok {
		return nil, auditledger.ErrNotFound
	}
	out := clone(rec)
	if !out.IsGDPRDeleted {
		out.Payload = clone(m.payloads[id])
		out.Context = clone(m.contexts[id])
	}
	return out, nil
}

func (m *MemStore) GetDecisionByID(ctx context.Context, id uuid.UUID) (*model.DecisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getWithJoins(id)
}

func (m *MemStore) GetDecisionByDecisionID(ctx context.Context, orgID uuid.UUID, decisionID string) (*model.DecisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byOrgDec[orgID][decisionID]
	if !ok {
		return nil, auditledger.ErrNotFound
	}
	return m.getWithJoins(id)
}

func (m *MemStore) ListDecisionsByOrgAndTime(ctx context.Context, orgID uuid.UUID, from, to time.Time) ([]model.DecisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DecisionRecord
	for _, rec := range m.decisions {
		if rec.OrgID != orgID {
			continue
		}
		if rec.CreatedAt.Before(from) || rec.CreatedAt.After(to) {
			continue
		}
		out = append(out, *clone(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (m *MemStore) ListDecisionsBySequenceRange(ctx context.Context, orgID uuid.UUID, start, end int64) ([]model.DecisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DecisionRecord
	seqs := m.byOrgSeq[orgID]
	for seq := start; seq <= end; seq++ {
		id, ok := seqs[seq]
		if !ok {
			continue
		}
		out = append(out, *clone(m.decisions[id]))
	}
	return out, nil
}

func (m *MemStore) LatestSequence(ctx context.Context, orgID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextSeq[orgID], nil
}

func (m *MemStore) LatestBatchedSequence(ctx context.Context, orgID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, r := range m.roots {
		if r.OrgID == orgID && r.EndSequence > max {
			max = r.EndSequence
		}
	}
	return max, nil
}

func (m *MemStore) SetMerkleRoot(ctx context.Context, orgID uuid.UUID, start, end int64, rootHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seqs := m.byOrgSeq[orgID]
	for seq := start; seq <= end; seq++ {
		if id, ok := seqs[seq]; ok {
			rh := rootHash
			m.decisions[id].MerkleRoot = &rh
		}
	}
	return nil
}

func (m *MemStore) SetAnchorTxHash(ctx context.Context, orgID uuid.UUID, start, end int64, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seqs := m.byOrgSeq[orgID]
	for seq := start; seq <= end; seq++ {
		if id, ok := seqs[seq]; ok {
			th := txHash
			m.decisions[id].AnchorTxHash = &th
		}
	}
	return nil
}

// Corrupt overwrites a stored decision's full_hash in place, simulating
// tamper of the persisted record without going through InsertDecision. Test
// helper only; not part of the Store contract.
func (m *MemStore) Corrupt(decisionID uuid.UUID, fullHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.decisions[decisionID]; ok {
		rec.FullHash = fullHash
	}
}

func (m *MemStore) MarkGDPRDeleted(ctx context.Context, decisionID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.decisions[decisionID]
	if !ok {
		return auditledger.ErrNotFound
	}
	rec.IsGDPRDeleted = true
	t := at
	rec.GDPRDeletedAt = &t
	return nil
}

func (m *MemStore) PurgePayloadAndContext(ctx context.Context, decisionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payloads, decisionID)
	delete(m.contexts, decisionID)
	return nil
}

func (m *MemStore) InsertMerkleRoot(ctx context.Context, root *model.MerkleRoot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roots[root.RootHash] = clone(root)
	return nil
}

func (m *MemStore) InsertMerkleNodes(ctx context.Context, nodes []model.MerkleNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range nodes {
		n := nodes[i]
		key := n.RootID.String()
		if m.nodes[key] == nil {
			m.nodes[key] = make(map[string]*model.MerkleNode)
		}
		m.nodes[key][n.NodeHash] = clone(&n)
	}
	return nil
}

func (m *MemStore) GetMerkleRoot(ctx context.Context, rootHash string) (*model.MerkleRoot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roots[rootHash]
	if !ok {
		return nil, auditledger.ErrNotFound
	}
	return clone(r), nil
}

func (m *MemStore) GetMerkleNode(ctx context.Context, nodeHash string) (*model.MerkleNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, byHash := range m.nodes {
		if n, ok := byHash[nodeHash]; ok {
			return clone(n), nil
		}
	}
	return nil, auditledger.ErrNotFound
}

func (m *MemStore) GetMerkleNodeByParent(ctx context.Context, rootID uuid.UUID, parentHash string) ([]model.MerkleNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.MerkleNode
	for _, n := range m.nodes[rootID.String()] {
		if n.ParentHash != nil && *n.ParentHash == parentHash {
			out = append(out, *clone(n))
		}
	}
	return out, nil
}

func (m *MemStore) GetLeafNodeForDecision(ctx context.Context, decisionID uuid.UUID) (*model.MerkleNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, byHash := range m.nodes {
		for _, n := range byHash {
			if n.IsLeaf && n.DecisionID != nil && *n.DecisionID == decisionID {
				return clone(n), nil
			}
		}
	}
	return nil, auditledger.ErrNotFound
}

func (m *MemStore) MarkRootAnchored(ctx context.Context, rootID, anchorID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roots {
		if r.ID == rootID {
			r.IsAnchored = true
			t := at
			r.AnchoredAt = &t
			id := anchorID
			r.AnchorID = &id
			return nil
		}
	}
	return auditledger.ErrNotFound
}

func (m *MemStore) InsertAnchor(ctx context.Context, anchor *model.BlockchainAnchor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchors[anchor.ID] = clone(anchor)
	return nil
}

func (m *MemStore) UpdateAnchor(ctx context.Context, anchor *model.BlockchainAnchor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.anchors[anchor.ID]; !ok {
		return auditledger.ErrNotFound
	}
	m.anchors[anchor.ID] = clone(anchor)
	return nil
}

func (m *MemStore) GetAnchor(ctx context.Context, id uuid.UUID) (*model.BlockchainAnchor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.anchors[id]
	if !ok {
		return nil, auditledger.ErrNotFound
	}
	return clone(a), nil
}

func (m *MemStore) GetAnchorByRootHash(ctx context.Context, rootHash string) (*model.BlockchainAnchor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.anchors {
		if a.RootHash == rootHash {
			return clone(a), nil
		}
	}
	return nil, auditledger.ErrNotFound
}

func (m *MemStore) ListAnchorsByStatus(ctx context.Context, status model.AnchorStatus) ([]model.BlockchainAnchor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BlockchainAnchor
	for _, a := range m.anchors {
		if a.Status == status {
			out = append(out, *clone(a))
		}
	}
	return out, nil
}

func (m *MemStore) InsertTombstone(ctx context.Context, t *model.TombstoneRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tombs[t.ID] = clone(t)
	return nil
}

func (m *MemStore) GetTombstone(ctx context.Context, id uuid.UUID) (*model.TombstoneRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tombs[id]
	if !ok {
		return nil, auditledger.ErrNotFound
	}
	return clone(t), nil
}

func (m *MemStore) ListTombstonesByIDs(ctx context.Context, ids []uuid.UUID) ([]model.TombstoneRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TombstoneRecord
	for _, id := range ids {
		if t, ok := m.tombs[id]; ok {
			out = append(out, *clone(t))
		}
	}
	return out, nil
}

var _ auditledger.Store = (*MemStore)(nil)
