// apibackend.go is the stateless-HTTP sync strategy: a JSON-RPC node for
// live state plus an Etherscan-style index for history, polled on a fixed
// cadence and reconciled into the local store.
package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ethwallet/ethwallet/abi"
	"github.com/ethwallet/ethwallet/crypto"
	"github.com/ethwallet/ethwallet/log"
	"github.com/ethwallet/ethwallet/params"
	"github.com/ethwallet/ethwallet/rpc"
	"github.com/ethwallet/ethwallet/storage"
	"github.com/ethwallet/ethwallet/types"
)

// Polling defaults.
const (
	defaultPollInterval = time.Second
	defaultPageSize     = 50

	// stopDeadline bounds how long Stop waits for the sync task to join.
	stopDeadline = 5 * time.Second
)

// APIBackendConfig wires the API back-end's collaborators.
type APIBackendConfig struct {
	Network *params.Network
	Store   storage.Store
	Key     *crypto.PrivateKey
	Client  *rpc.Client
	Index   *rpc.IndexClient

	// PollInterval overrides the 1s sync cadence; tests shorten it.
	PollInterval time.Duration
	// PageSize overrides the tx index page size.
	PageSize int
}

// APIBackend implements Backend over HTTP services.
type APIBackend struct {
	cfg     APIBackendConfig
	sink    EventSink
	signer  types.Signer
	address types.Address
	logger  *log.Logger

	// client retries transport errors during sync; sends use the
	// fail-fast cfg.Client directly.
	client *rpc.Client

	assetMu sync.Mutex
	assets  map[types.Address]storage.Asset

	// sendMu serialises nonce assignment across Send calls.
	sendMu    sync.Mutex
	nextNonce *uint64

	gasMu        sync.Mutex
	lastGasPrice *big.Int

	runMu     sync.Mutex
	runCtx    context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	refreshCh chan struct{}
}

// opCtx ties a per-operation context to the back-end lifetime so Stop
// aborts in-flight requests.
func (b *APIBackend) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	b.runMu.Lock()
	run := b.runCtx
	b.runMu.Unlock()
	merged, cancel := context.WithCancel(ctx)
	if run == nil {
		return merged, cancel
	}
	stop := context.AfterFunc(run, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

// NewAPIBackend builds the back-end with its event sink.
func NewAPIBackend(cfg APIBackendConfig, sink EventSink) *APIBackend {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &APIBackend{
		cfg:       cfg,
		sink:      sink,
		signer:    types.NewSigner(cfg.Network.ChainID),
		address:   types.PubkeyToAddress(cfg.Key.PubKey()),
		logger:    log.Module("wallet").With("backend", "api"),
		client:    cfg.Client.WithRetry(),
		assets:    make(map[types.Address]storage.Asset),
		refreshCh: make(chan struct{}, 1),
	}
}

// Start launches the polling task.
func (b *APIBackend) Start() error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.runCtx = ctx
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(ctx)
	return nil
}

// Stop signals the task and waits for it within the join deadline. The
// last acknowledged height is already persisted by the sync cycle.
func (b *APIBackend) Stop() {
	b.runMu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel = nil
	b.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(stopDeadline):
		b.logger.Warn("sync task did not join before deadline")
	}
}

// Refresh triggers an immediate cycle.
func (b *APIBackend) Refresh() {
	select {
	case b.refreshCh <- struct{}{}:
	default:
	}
}

// run is the back-end task: one sync cycle per tick, refresh or start.
func (b *APIBackend) run(ctx context.Context) {
	defer close(b.done)

	b.syncStateAll(SyncState{Status: Syncing})

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := b.syncCycle(ctx); err != nil {
			if ctx.Err() != nil {
				b.syncStateAll(SyncState{Status: NotSynced, Err: ErrCancelled})
				return
			}
			b.logger.Warn("sync cycle failed", "err", err)
			b.syncStateAll(SyncState{Status: NotSynced, Err: err})
		} else {
			b.syncStateAll(SyncState{Status: Synced})
		}

		select {
		case <-ctx.Done():
			b.syncStateAll(SyncState{Status: NotSynced, Err: ErrCancelled})
			return
		case <-ticker.C:
		case <-b.refreshCh:
		}
	}
}

// syncCycle performs one pass: head height, balances, nonce, then the
// transaction index pages. Height is always emitted before any balance or
// transaction derived from it.
func (b *APIBackend) syncCycle(ctx context.Context) error {
	prevHeight, _, err := b.cfg.Store.LastBlockHeight()
	if err != nil {
		return err
	}

	height, err := b.client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if err := b.cfg.Store.SetLastBlockHeight(height); err != nil {
		return err
	}
	b.sink.OnLastBlockHeight(height)

	// Balances and nonce are independent fetches.
	g, gctx := errgroup.WithContext(ctx)

	var nativeBalance *big.Int
	g.Go(func() error {
		v, err := b.client.Balance(gctx, b.address)
		if err == nil {
			nativeBalance = v
		}
		return err
	})

	var remoteNonce uint64
	g.Go(func() error {
		n, err := b.client.TransactionCount(gctx, b.address)
		if err == nil {
			remoteNonce = n
		}
		return err
	})

	tokens := b.registeredAssets()
	tokenBalances := make([]*big.Int, len(tokens))
	for i, asset := range tokens {
		i, asset := i, asset
		token, _ := asset.TokenAddress()
		g.Go(func() error {
			data, err := b.client.CallContract(gctx, rpc.CallMsg{
				To:   token,
				Data: abi.ERC20BalanceOf(b.address),
			})
			if err != nil {
				return err
			}
			v, err := abi.UnpackUint256(data)
			if err != nil {
				return err
			}
			tokenBalances[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	b.sendMu.Lock()
	if b.nextNonce == nil || remoteNonce > *b.nextNonce {
		n := remoteNonce
		b.nextNonce = &n
	}
	b.sendMu.Unlock()

	if err := b.emitBalance(storage.Native(), nativeBalance, height); err != nil {
		return err
	}
	for i, asset := range tokens {
		if err := b.emitBalance(asset, tokenBalances[i], height); err != nil {
			return err
		}
	}

	return b.syncTransactions(ctx, prevHeight)
}

// emitBalance persists and publishes a balance when it changed.
func (b *APIBackend) emitBalance(asset storage.Asset, value *big.Int, height uint64) error {
	prev, _, known, err := b.cfg.Store.Balance(asset)
	if err != nil {
		return err
	}
	if err := b.cfg.Store.SetBalance(asset, value, height); err != nil {
		return err
	}
	if !known || prev.Cmp(value) != 0 {
		b.sink.OnBalance(asset, value)
	}
	return nil
}

// syncTransactions pages the index forward from the height after the last
// locally known block and stores each non-empty page.
func (b *APIBackend) syncTransactions(ctx context.Context, localHeight uint64) error {
	if b.cfg.Index == nil {
		return nil
	}
	start := localHeight + 1
	if localHeight == 0 {
		start = 0
	}
	for page := 1; ; page++ {
		txs, err := b.cfg.Index.TransactionsByAddress(ctx, b.address, start, page, b.cfg.PageSize)
		if err != nil {
			return err
		}
		if len(txs) == 0 {
			return nil
		}
		if err := b.cfg.Store.PutTransactions(storage.Native(), txs); err != nil {
			return err
		}
		b.sink.OnTransactions(storage.Native(), txs)
		if len(txs) < b.cfg.PageSize {
			return nil
		}
	}
}

// Send assigns the next nonce, signs and broadcasts. Sends are serialised
// so a second transfer cannot reuse a nonce still being assigned.
func (b *APIBackend) Send(ctx context.Context, raw *types.RawTransaction) (*types.Transaction, error) {
	ctx, done := b.opCtx(ctx)
	defer done()

	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	var nonce uint64
	if b.nextNonce != nil {
		nonce = *b.nextNonce
	} else {
		n, err := b.cfg.Client.TransactionCount(ctx, b.address)
		if err != nil {
			return nil, mapCancel(ctx, err)
		}
		nonce = n
	}

	tx, signed, err := b.signer.Sign(raw, nonce, b.cfg.Key)
	if err != nil {
		return nil, err
	}
	if _, err := b.cfg.Client.SendRawTransaction(ctx, signed); err != nil {
		return nil, mapCancel(ctx, err)
	}

	next := nonce + 1
	b.nextNonce = &next

	if err := b.cfg.Store.PutTransactions(storage.Native(), []*types.Transaction{tx}); err != nil {
		return nil, err
	}
	b.sink.OnTransactions(storage.Native(), []*types.Transaction{tx})
	return tx, nil
}

// Call executes a read-only contract call.
func (b *APIBackend) Call(ctx context.Context, msg rpc.CallMsg) ([]byte, error) {
	ctx, done := b.opCtx(ctx)
	defer done()
	out, err := b.cfg.Client.CallContract(ctx, msg)
	return out, mapCancel(ctx, err)
}

// EstimateGas estimates the gas cost of a call.
func (b *APIBackend) EstimateGas(ctx context.Context, msg rpc.CallMsg) (uint64, error) {
	ctx, done := b.opCtx(ctx)
	defer done()
	gas, err := b.cfg.Client.EstimateGas(ctx, msg)
	return gas, mapCancel(ctx, err)
}

// GetLogs fetches contract logs.
func (b *APIBackend) GetLogs(ctx context.Context, q rpc.FilterQuery) ([]rpc.Log, error) {
	ctx, done := b.opCtx(ctx)
	defer done()
	logs, err := b.cfg.Client.GetLogs(ctx, q)
	return logs, mapCancel(ctx, err)
}

// GasPrice returns the node's fee suggestion, falling back to the last
// seen value when the node is briefly unreachable.
func (b *APIBackend) GasPrice(ctx context.Context) (*big.Int, error) {
	ctx, done := b.opCtx(ctx)
	defer done()
	v, err := b.cfg.Client.GasPrice(ctx)
	if err != nil {
		b.gasMu.Lock()
		cached := b.lastGasPrice
		b.gasMu.Unlock()
		if cached != nil {
			return new(big.Int).Set(cached), nil
		}
		return nil, mapCancel(ctx, err)
	}
	b.gasMu.Lock()
	b.lastGasPrice = new(big.Int).Set(v)
	b.gasMu.Unlock()
	return v, nil
}

// StorageAt reads a contract storage slot.
func (b *APIBackend) StorageAt(ctx context.Context, addr types.Address, slot types.Hash) (types.Hash, error) {
	ctx, done := b.opCtx(ctx)
	defer done()
	v, err := b.cfg.Client.StorageAt(ctx, addr, slot)
	return v, mapCancel(ctx, err)
}

// RegisterAsset adds a token to the polled set.
func (b *APIBackend) RegisterAsset(a storage.Asset) {
	token, ok := a.TokenAddress()
	if !ok {
		return
	}
	b.assetMu.Lock()
	b.assets[token] = a
	b.assetMu.Unlock()
	b.Refresh()
}

// UnregisterAsset removes a token from the polled set.
func (b *APIBackend) UnregisterAsset(a storage.Asset) {
	token, ok := a.TokenAddress()
	if !ok {
		return
	}
	b.assetMu.Lock()
	delete(b.assets, token)
	b.assetMu.Unlock()
}

func (b *APIBackend) registeredAssets() []storage.Asset {
	b.assetMu.Lock()
	defer b.assetMu.Unlock()
	out := make([]storage.Asset, 0, len(b.assets))
	for _, a := range b.assets {
		out = append(out, a)
	}
	return out
}

// syncStateAll publishes one state for the native asset and every
// registered token.
func (b *APIBackend) syncStateAll(state SyncState) {
	b.sink.OnSyncState(storage.Native(), state)
	for _, a := range b.registeredAssets() {
		b.sink.OnSyncState(a, state)
	}
}

// mapCancel converts context cancellation into the wallet error taxonomy.
func mapCancel(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	return err
}

var _ Backend = (*APIBackend)(nil)
