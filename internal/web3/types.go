package web3

import (
	"context"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client defines the common interface that any chain implementation must
// provide so higher layers can sign and submit transactions uniformly.
type Client interface {
	// ChainID returns the EIP-155 chain identifier.
	ChainID(ctx context.Context) (*big.Int, error)
	// BalanceAt queries the latest ETH balance of an address.
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	// PendingNonceAt returns the next nonce including pending transactions.
	PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error)
	// SuggestGasPrice returns the node's current gas price estimate.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	// EstimateGas simulates the call and returns a gas limit.
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	// SendTransaction broadcasts a signed transaction.
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	// WaitMined blocks until the transaction is included in a block.
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	// CallContract executes a read-only contract call at the latest block.
	CallContract(ctx context.Context, msg gethcore.CallMsg) ([]byte, error)
	// Close releases network connections held by the client.
	Close()
}
