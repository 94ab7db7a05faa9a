// backend.go defines the contract between the controller and its single
// sync back-end. The controller passes itself in as the EventSink at
// construction time; the back-end never holds a controller reference.
package wallet

import (
	"context"
	"math/big"

	"github.com/ethwallet/ethwallet/rpc"
	"github.com/ethwallet/ethwallet/storage"
	"github.com/ethwallet/ethwallet/types"
)

// EventSink receives the four event kinds a running back-end produces.
// Calls are made from the back-end task in observation order; a
// lastBlockHeight for height h is always delivered before balances or
// transactions derived from blocks at or below h.
type EventSink interface {
	OnLastBlockHeight(height uint64)
	OnSyncState(asset storage.Asset, state SyncState)
	OnBalance(asset storage.Asset, value *big.Int)
	OnTransactions(asset storage.Asset, txs []*types.Transaction)
}

// Backend is one sync strategy: the stateless HTTP pair or the stateful
// SPV peer. At most one back-end is live per controller.
type Backend interface {
	// Start launches the background sync task.
	Start() error
	// Stop terminates the task, persisting acknowledged state, within a
	// bounded deadline.
	Stop()
	// Refresh requests an immediate sync cycle.
	Refresh()

	// Send assigns a nonce, signs and broadcasts a transfer. Sends are
	// serialised per account.
	Send(ctx context.Context, raw *types.RawTransaction) (*types.Transaction, error)

	// Optional capabilities; modes without them return ErrUnsupported.
	Call(ctx context.Context, msg rpc.CallMsg) ([]byte, error)
	EstimateGas(ctx context.Context, msg rpc.CallMsg) (uint64, error)
	GetLogs(ctx context.Context, q rpc.FilterQuery) ([]rpc.Log, error)
	StorageAt(ctx context.Context, addr types.Address, slot types.Hash) (types.Hash, error)
	GasPrice(ctx context.Context) (*big.Int, error)

	// RegisterAsset adds an ERC-20 token to the sync set.
	RegisterAsset(a storage.Asset)
	// UnregisterAsset removes a token from the sync set.
	UnregisterAsset(a storage.Asset)
}
