package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	auditledger "github.com/auditledger/core"
)

// Simulator implements auditledger.Ledger in memory for blockchain_enabled
// = false deployments and for tests. Every submitted root is immediately
// "mined" at a synthetic, monotonically increasing block height. This is
// explicitly a test/dev mode, never production behavior (spec §4.D).
type Simulator struct {
	chainID     int64
	networkName string

	mu       sync.Mutex
	block    uint64
	receipts map[string]*auditledger.Receipt
}

// NewSimulator returns a Simulator seeded at block 1.
func NewSimulator(chainID int64, networkName string) *Simulator {
	return &Simulator{
		chainID:     chainID,
		networkName: networkName,
		block:       1,
		receipts:    make(map[string]*auditledger.Receipt),
	}
}

func (s *Simulator) ChainID() int64      { return s.chainID }
func (s *Simulator) NetworkName() string { return s.networkName }

// Submit synthesizes a transaction hash and immediately records a receipt
// at the next synthetic block height.
func (s *Simulator) Submit(ctx context.Context, rootHash [32]byte) (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("ledger: simulate tx hash: %w", err)
	}
	txHash := "0x" + hex.EncodeToString(buf[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	s.block++
	var blockHashBuf [32]byte
	_, _ = rand.Read(blockHashBuf[:])
	s.receipts[txHash] = &auditledger.Receipt{
		BlockNumber: s.block,
		BlockHash:   "0x" + hex.EncodeToString(blockHashBuf[:]),
		GasUsed:     21000,
		Success:     true,
	}
	return txHash, nil
}

func (s *Simulator) Receipt(ctx context.Context, txHash string) (*auditledger.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[txHash]
	if !ok {
		return nil, auditledger.ErrNotFound
	}
	return r, nil
}

// CurrentBlock advances the synthetic chain by one block on every call, so
// a caller polling for finalization eventually observes ≥12 confirmations
// without an external miner.
func (s *Simulator) CurrentBlock(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block++
	return s.block, nil
}
