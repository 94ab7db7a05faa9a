// controller.go is the unified sync façade: it owns one back-end, caches
// the latest per-asset view, deduplicates events and fans them out to
// subscription streams and registered token listeners.
package wallet

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethwallet/ethwallet/abi"
	"github.com/ethwallet/ethwallet/crypto"
	"github.com/ethwallet/ethwallet/log"
	"github.com/ethwallet/ethwallet/params"
	"github.com/ethwallet/ethwallet/storage"
	"github.com/ethwallet/ethwallet/types"
)

// Controller is the wallet's single sync entry point. One controller
// serves one account on one network.
type Controller struct {
	network *params.Network
	store   storage.Store
	key     *crypto.PrivateKey
	address types.Address
	logger  *log.Logger

	mu      sync.Mutex
	backend Backend
	started bool

	// Latest observed view, used for reads and event dedup.
	lastHeight *uint64
	balances   map[string]*big.Int
	syncStates map[string]SyncState
	listeners  map[types.Address]TokenListener

	heightStream  *stream[uint64]
	syncStream    *stream[SyncUpdate]
	balanceStream *stream[BalanceUpdate]
	txsStream     *stream[TxsUpdate]
}

// BackendFactory builds the back-end with the controller's event sink.
// Constructing through a factory keeps the back-end free of controller
// references.
type BackendFactory func(sink EventSink) Backend

// NewController creates a controller for the given account key.
func NewController(network *params.Network, store storage.Store, key *crypto.PrivateKey, factory BackendFactory) *Controller {
	c := &Controller{
		network:       network,
		store:         store,
		key:           key,
		address:       types.PubkeyToAddress(key.PubKey()),
		logger:        log.Module("wallet"),
		balances:      make(map[string]*big.Int),
		syncStates:    make(map[string]SyncState),
		listeners:     make(map[types.Address]TokenListener),
		heightStream:  newStream[uint64](true),
		syncStream:    newStream[SyncUpdate](true),
		balanceStream: newStream[BalanceUpdate](true),
		txsStream:     newStream[TxsUpdate](false),
	}
	c.backend = factory(c)
	return c
}

// Start launches the back-end sync task.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	if err := c.backend.Start(); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop terminates the back-end.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.backend.Stop()
	c.started = false
}

// Refresh requests an immediate sync cycle.
func (c *Controller) Refresh() {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		c.backend.Refresh()
	}
}

// Clear stops the back-end, wipes the store and resets the cached view.
func (c *Controller) Clear() error {
	c.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastHeight = nil
	c.balances = make(map[string]*big.Int)
	c.syncStates = make(map[string]SyncState)
	return c.store.Clear()
}

// ReceiveAddress returns the account address.
func (c *Controller) ReceiveAddress() types.Address { return c.address }

// Balance returns the latest known native balance, or nil before the
// first sync.
func (c *Controller) Balance() *big.Int {
	return c.BalanceOf(storage.Native())
}

// BalanceOf returns the latest known balance of an asset.
func (c *Controller) BalanceOf(a storage.Asset) *big.Int {
	c.mu.Lock()
	if v, ok := c.balances[a.String()]; ok {
		c.mu.Unlock()
		return new(big.Int).Set(v)
	}
	c.mu.Unlock()
	v, _, ok, err := c.store.Balance(a)
	if err != nil || !ok {
		return nil
	}
	return v
}

// LastBlockHeight returns the latest observed chain height, or nil before
// the first sync.
func (c *Controller) LastBlockHeight() *uint64 {
	c.mu.Lock()
	if c.lastHeight != nil {
		h := *c.lastHeight
		c.mu.Unlock()
		return &h
	}
	c.mu.Unlock()
	h, ok, err := c.store.LastBlockHeight()
	if err != nil || !ok {
		return nil
	}
	return &h
}

// SyncState returns the native asset's sync state.
func (c *Controller) SyncState() SyncState {
	return c.SyncStateOf(storage.Native())
}

// SyncStateOf returns an asset's sync state.
func (c *Controller) SyncStateOf(a storage.Asset) SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.syncStates[a.String()]; ok {
		return s
	}
	return SyncState{Status: NotSynced}
}

// ValidateAddress checks an externally supplied address string, including
// its EIP-55 checksum for mixed-case input.
func (c *Controller) ValidateAddress(s string) (types.Address, error) {
	return types.ParseAddress(s)
}

// Fee returns gasPrice times the default gas limit of the asset's
// transfer kind: 21000 native, 100000 ERC-20.
func (c *Controller) Fee(gasPrice *big.Int, a storage.Asset) *big.Int {
	gas := params.NativeTransferGas
	if a.IsToken() {
		gas = params.ERC20TransferGas
	}
	return new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gas))
}

// GasPrice returns the back-end's fee suggestion. Unsupported in SPV
// mode.
func (c *Controller) GasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	backend, started := c.backend, c.started
	c.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}
	return backend.GasPrice(ctx)
}

// Transactions returns a page of the transaction log, newest first.
func (c *Controller) Transactions(fromHash *types.Hash, limit int) ([]*types.Transaction, error) {
	return c.store.Transactions(storage.TxQuery{FromHash: fromHash, Limit: limit})
}

// TokenTransactions returns a page of one token's transaction log.
func (c *Controller) TokenTransactions(token types.Address, fromHash *types.Hash, limit int) ([]*types.Transaction, error) {
	asset := storage.Token(token)
	return c.store.Transactions(storage.TxQuery{FromHash: fromHash, Limit: limit, Asset: &asset})
}

// Send signs and broadcasts a transfer of value to the given address.
// gasLimit zero selects the default for the payload kind.
func (c *Controller) Send(ctx context.Context, to types.Address, value *big.Int, data []byte, gasPrice *big.Int, gasLimit uint64) (*types.Transaction, error) {
	if value == nil || value.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	c.mu.Lock()
	backend, started := c.backend, c.started
	c.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}
	if gasLimit == 0 {
		gasLimit = params.NativeTransferGas
		if len(data) > 0 {
			gasLimit = params.ERC20TransferGas
		}
	}
	raw := types.NewRawTransaction(gasPrice, gasLimit, to, value, data)
	return backend.Send(ctx, raw)
}

// SendToken signs and broadcasts an ERC-20 transfer: a zero-value call
// to the token contract carrying transfer(to, amount) calldata.
func (c *Controller) SendToken(ctx context.Context, token, to types.Address, amount *big.Int, gasPrice *big.Int, gasLimit uint64) (*types.Transaction, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if gasLimit == 0 {
		gasLimit = params.ERC20TransferGas
	}
	return c.Send(ctx, token, new(big.Int), abi.ERC20Transfer(to, amount), gasPrice, gasLimit)
}

// Register subscribes a listener to a token's balance and transaction
// updates and adds the token to the sync set. Re-registering an existing
// token is a no-op: the original listener is kept.
func (c *Controller) Register(token types.Address, listener TokenListener) {
	c.mu.Lock()
	if _, exists := c.listeners[token]; exists {
		c.mu.Unlock()
		return
	}
	c.listeners[token] = listener
	backend := c.backend
	c.mu.Unlock()
	backend.RegisterAsset(storage.Token(token))
}

// Unregister removes a token's listener and stops syncing it.
func (c *Controller) Unregister(token types.Address) {
	c.mu.Lock()
	if _, exists := c.listeners[token]; !exists {
		c.mu.Unlock()
		return
	}
	delete(c.listeners, token)
	backend := c.backend
	c.mu.Unlock()
	backend.UnregisterAsset(storage.Token(token))
}

// LastBlockHeightStream subscribes to height updates. The stream buffer
// drops the oldest value on overflow.
func (c *Controller) LastBlockHeightStream() (<-chan uint64, func()) {
	return c.heightStream.Subscribe()
}

// SyncStateStream subscribes to per-asset sync state changes.
func (c *Controller) SyncStateStream() (<-chan SyncUpdate, func()) {
	return c.syncStream.Subscribe()
}

// BalanceStream subscribes to per-asset balance changes.
func (c *Controller) BalanceStream() (<-chan BalanceUpdate, func()) {
	return c.balanceStream.Subscribe()
}

// TransactionsStream subscribes to transaction batches. Batches are never
// dropped; a slow subscriber exerts backpressure on the back-end.
func (c *Controller) TransactionsStream() (<-chan TxsUpdate, func()) {
	return c.txsStream.Subscribe()
}

// OnLastBlockHeight implements EventSink with value dedup.
func (c *Controller) OnLastBlockHeight(height uint64) {
	c.mu.Lock()
	if c.lastHeight != nil && *c.lastHeight == height {
		c.mu.Unlock()
		return
	}
	h := height
	c.lastHeight = &h
	c.mu.Unlock()
	c.heightStream.send(height)
}

// OnSyncState implements EventSink with value dedup.
func (c *Controller) OnSyncState(asset storage.Asset, state SyncState) {
	c.mu.Lock()
	if prev, ok := c.syncStates[asset.String()]; ok && prev.Equal(state) {
		c.mu.Unlock()
		return
	}
	c.syncStates[asset.String()] = state
	listener := c.tokenListener(asset)
	c.mu.Unlock()

	c.syncStream.send(SyncUpdate{Asset: asset, State: state})
	if listener != nil {
		token, _ := asset.TokenAddress()
		listener.OnSyncState(token, state)
	}
}

// OnBalance implements EventSink with value dedup.
func (c *Controller) OnBalance(asset storage.Asset, value *big.Int) {
	c.mu.Lock()
	if prev, ok := c.balances[asset.String()]; ok && prev.Cmp(value) == 0 {
		c.mu.Unlock()
		return
	}
	c.balances[asset.String()] = new(big.Int).Set(value)
	listener := c.tokenListener(asset)
	c.mu.Unlock()

	c.balanceStream.send(BalanceUpdate{Asset: asset, Value: new(big.Int).Set(value)})
	if listener != nil {
		token, _ := asset.TokenAddress()
		listener.OnBalance(token, value)
	}
}

// OnTransactions implements EventSink; empty batches are not emitted.
func (c *Controller) OnTransactions(asset storage.Asset, txs []*types.Transaction) {
	if len(txs) == 0 {
		return
	}
	c.mu.Lock()
	listener := c.tokenListener(asset)
	c.mu.Unlock()

	c.txsStream.send(TxsUpdate{Asset: asset, Txs: txs})
	if listener != nil {
		token, _ := asset.TokenAddress()
		listener.OnTransactions(token, txs)
	}
}

// tokenListener returns the registered listener of a token asset. Caller
// holds c.mu.
func (c *Controller) tokenListener(asset storage.Asset) TokenListener {
	token, ok := asset.TokenAddress()
	if !ok {
		return nil
	}
	return c.listeners[token]
}

var _ EventSink = (*Controller)(nil)
