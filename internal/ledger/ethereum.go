// Package ledger implements the Ledger collaborator contract over a real
// Ethereum-compatible chain (Ethereum) and in-memory simulation
// (Simulator), plus the Anchor Worker state machine that drives a
// BlockchainAnchor through PENDING -> SUBMITTED -> CONFIRMED -> FINALIZED.
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	auditledger "github.com/auditledger/core"
)

// anchorABIJSON is the minimal ABI surface the core needs: one method taking a
// bytes32 Merkle root.
const anchorABIJSON = `[{"inputs":[{"internalType":"bytes32","name":"root","type":"bytes32"}],"name":"anchorMerkleRoot","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

// Ethereum implements auditledger.Ledger over go-ethereum's ethclient,
// submitting anchorMerkleRoot(bytes32) calls to a configured contract.
type Ethereum struct {
	client      *ethclient.Client
	chainID     *big.Int
	networkName string
	contract    common.Address
	privateKey  string
	abi         abi.ABI
}

// EthereumConfig configures an Ethereum ledger client.
type EthereumConfig struct {
	RPCURL          string
	ChainID         int64
	NetworkName     string
	ContractAddress string
	PrivateKeyHex   string
}

// NewEthereum dials rpcURL and returns a ready Ethereum ledger client.
func NewEthereum(ctx context.Context, cfg EthereumConfig) (*Ethereum, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", cfg.RPCURL, err)
	}
	parsedABI, err := abi.JSON(stringsReader(anchorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse anchor abi: %w", err)
	}
	return &Ethereum{
		client:      client,
		chainID:     big.NewInt(cfg.ChainID),
		networkName: cfg.NetworkName,
		contract:    common.HexToAddress(cfg.ContractAddress),
		privateKey:  cfg.PrivateKeyHex,
		abi:         parsedABI,
	}, nil
}

func (e *Ethereum) ChainID() int64       { return e.chainID.Int64() }
func (e *Ethereum) NetworkName() string  { return e.networkName }

// Submit signs and broadcasts an anchorMerkleRoot(rootHash) transaction,
// fetching a fresh nonce for this submission per spec §5's nonce-management
// requirement.
func (e *Ethereum) Submit(ctx context.Context, rootHash [32]byte) (string, error) {
	privateKey, err := crypto.HexToECDSA(e.privateKey)
	if err != nil {
		return "", fmt.Errorf("ledger: parse private key: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, e.chainID)
	if err != nil {
		return "", fmt.Errorf("ledger: create transactor: %w", err)
	}

	fromAddr := crypto.PubkeyToAddress(privateKey.PublicKey)
	nonce, err := e.client.PendingNonceAt(ctx, fromAddr)
	if err != nil {
		return "", fmt.Errorf("ledger: fetch nonce: %w", err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("ledger: suggest gas price: %w", err)
	}

	callData, err := e.abi.Pack("anchorMerkleRoot", rootHash)
	if err != nil {
		return "", fmt.Errorf("ledger: pack call data: %w", err)
	}

	gasLimit, err := e.client.EstimateGas(ctx, ethCallMsg(fromAddr, e.contract, callData))
	if err != nil {
		return "", fmt.Errorf("ledger: estimate gas: %w", err)
	}

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &e.contract,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     callData,
	})

	signedTx, err := auth.Signer(fromAddr, tx)
	if err != nil {
		return "", fmt.Errorf("ledger: sign transaction: %w", err)
	}
	if err := e.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("ledger: send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

// Receipt fetches the mined receipt for txHash. Returns auditledger.ErrNotFound
// when the transaction has not yet been mined.
func (e *Ethereum) Receipt(ctx context.Context, txHash string) (*auditledger.Receipt, error) {
	receipt, err := e.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if err.Error() == "not found" {
			return nil, auditledger.ErrNotFound
		}
		return nil, fmt.Errorf("ledger: fetch receipt: %w", err)
	}
	return &auditledger.Receipt{
		BlockNumber: receipt.BlockNumber.Uint64(),
		BlockHash:   receipt.BlockHash.Hex(),
		GasUsed:     receipt.GasUsed,
		Success:     receipt.Status == gethtypes.ReceiptStatusSuccessful,
	}, nil
}

// CurrentBlock returns the chain's current block height.
func (e *Ethereum) CurrentBlock(ctx context.Context) (uint64, error) {
	n, err := e.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: fetch block number: %w", err)
	}
	return n, nil
}
