// spvbackend.go is the stateful peer sync strategy: it supervises one LES
// connection, verifies the header chain from the compiled-in checkpoint
// and proves the account state against the verified head.
package wallet

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/ethwallet/ethwallet/crypto"
	"github.com/ethwallet/ethwallet/les"
	"github.com/ethwallet/ethwallet/log"
	"github.com/ethwallet/ethwallet/p2p"
	"github.com/ethwallet/ethwallet/params"
	"github.com/ethwallet/ethwallet/rpc"
	"github.com/ethwallet/ethwallet/storage"
	"github.com/ethwallet/ethwallet/trie"
	"github.com/ethwallet/ethwallet/types"
)

// Reconnect backoff bounds.
const (
	spvBackoffBase = 2 * time.Second
	spvBackoffCap  = 120 * time.Second
)

// SPVBackendConfig wires the SPV back-end's collaborators.
type SPVBackendConfig struct {
	Network *params.Network
	Store   storage.Store
	Key     *crypto.PrivateKey

	// PeerAddr is the TCP address of the LES server.
	PeerAddr string
	// PeerKey is the peer's static node public key.
	PeerKey *crypto.PublicKey
}

// SPVBackend implements Backend over a devp2p/LES peer.
type SPVBackend struct {
	cfg     SPVBackendConfig
	sink    EventSink
	signer  types.Signer
	address types.Address
	logger  *log.Logger

	peerMu sync.Mutex
	peer   *les.Peer

	runMu     sync.Mutex
	runCtx    context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	refreshCh chan struct{}
}

// NewSPVBackend builds the back-end with its event sink.
func NewSPVBackend(cfg SPVBackendConfig, sink EventSink) *SPVBackend {
	return &SPVBackend{
		cfg:       cfg,
		sink:      sink,
		signer:    types.NewSigner(cfg.Network.ChainID),
		address:   types.PubkeyToAddress(cfg.Key.PubKey()),
		logger:    log.Module("wallet").With("backend", "spv"),
		refreshCh: make(chan struct{}, 1),
	}
}

// Start launches the supervision task.
func (b *SPVBackend) Start() error {
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

// Stop disconnects the peer and waits for the task within the join
// deadline.
func (b *SPVBackend) Stop() {
	b.runMu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel = nil
	b.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	b.disconnectPeer()
	select {
	case <-done:
	case <-time.After(stopDeadline):
		b.logger.Warn("sync task did not join before deadline")
	}
}

// Refresh requests another sync pass against the current peer head.
func (b *SPVBackend) Refresh() {
	select {
	case b.refreshCh <- struct{}{}:
	default:
	}
}

func (b *SPVBackend) disconnectPeer() {
	b.peerMu.Lock()
	peer := b.peer
	b.peer = nil
	b.peerMu.Unlock()
	if peer != nil {
		peer.Disconnect(p2p.DiscRequested)
	}
}

// run supervises the peer connection with reconnect backoff.
func (b *SPVBackend) run(ctx context.Context) {
	defer close(b.done)

	b.sink.OnSyncState(storage.Native(), SyncState{Status: Syncing})

	attempt := 0
	for {
		if ctx.Err() != nil {
			b.sink.OnSyncState(storage.Native(), SyncState{Status: NotSynced, Err: ErrCancelled})
			return
		}

		err := b.connectAndSync(ctx)
		if ctx.Err() != nil {
			b.sink.OnSyncState(storage.Native(), SyncState{Status: NotSynced, Err: ErrCancelled})
			return
		}
		if err != nil {
			attempt++
			wait := spvBackoff(attempt)
			b.logger.Warn("peer session ended, reconnecting", "err", err, "wait", wait)
			b.sink.OnSyncState(storage.Native(), SyncState{Status: Syncing})
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0
	}
}

// connectAndSync runs one peer session: handshake, header sync, account
// proof, then idle until the head advances or the session dies.
func (b *SPVBackend) connectAndSync(ctx context.Context) error {
	peer, err := les.Dial(ctx, b.cfg.PeerAddr, b.cfg.Key, b.cfg.PeerKey, b.cfg.Network)
	if err != nil {
		return err
	}
	b.peerMu.Lock()
	b.peer = peer
	b.peerMu.Unlock()
	defer b.disconnectPeer()

	for {
		if err := b.syncOnce(ctx, peer); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-peer.Closed():
			return peer.Err()
		case <-b.refreshCh:
		case <-time.After(time.Second):
			// Re-check the peer head on the sampling cadence; the sync
			// is a no-op while the head is unchanged.
		}
	}
}

// syncOnce verifies headers up to the peer head and proves the account.
func (b *SPVBackend) syncOnce(ctx context.Context, peer *les.Peer) error {
	sync := les.NewHeaderSync(b.cfg.Store, b.cfg.Network.Checkpoint, peer)
	sync.Progress = func(p float64) {
		b.sink.OnSyncState(storage.Native(), SyncingState(p))
	}

	if err := sync.Run(ctx); err != nil {
		return err
	}
	tip := sync.LastVerified()
	if head, ok, _ := b.cfg.Store.LastBlockHeight(); ok && head == tip {
		if _, _, known, _ := b.cfg.Store.Balance(storage.Native()); known {
			return nil // nothing new since the last proof
		}
	}

	header, err := b.cfg.Store.HeaderByNumber(tip)
	if err != nil {
		if tip == b.cfg.Network.Checkpoint.Number {
			// Still at the bare checkpoint; the peer served nothing
			// beyond it. An out-of-date checkpoint surfaces as slow
			// progress, not as an error.
			b.sink.OnSyncState(storage.Native(), SyncingState(0))
			return nil
		}
		return err
	}

	// Height is persisted and emitted before any state derived from it.
	if err := b.cfg.Store.SetLastBlockHeight(tip); err != nil {
		return err
	}
	b.sink.OnLastBlockHeight(tip)

	proof, err := peer.RequestAccountProof(ctx, header.Hash(), b.address)
	if err != nil {
		return err
	}
	account, err := trie.VerifyAccountProof(header.Root, b.address, proof)
	if err != nil {
		// A proof that fails against a verified root is a state error:
		// restart the cycle from the checkpoint.
		return err
	}
	if err := b.cfg.Store.SetAccountState(account); err != nil {
		return err
	}
	if err := b.cfg.Store.SetBalance(storage.Native(), account.Balance, tip); err != nil {
		return err
	}
	b.sink.OnBalance(storage.Native(), account.Balance)
	b.sink.OnSyncState(storage.Native(), SyncState{Status: Synced})
	return nil
}

// Send signs with the proven account nonce and relays through the peer.
func (b *SPVBackend) Send(ctx context.Context, raw *types.RawTransaction) (*types.Transaction, error) {
	b.peerMu.Lock()
	peer := b.peer
	b.peerMu.Unlock()
	if peer == nil {
		return nil, ErrNotStarted
	}

	account, ok, err := b.cfg.Store.AccountState()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("wallet: account state not yet proven")
	}

	tx, signed, err := b.signer.Sign(raw, account.Nonce, b.cfg.Key)
	if err != nil {
		return nil, err
	}
	if err := peer.SendTransaction(tx.Hash, signed); err != nil {
		return nil, mapCancel(ctx, err)
	}
	account.Nonce++
	if err := b.cfg.Store.SetAccountState(account); err != nil {
		return nil, err
	}
	if err := b.cfg.Store.PutTransactions(storage.Native(), []*types.Transaction{tx}); err != nil {
		return nil, err
	}
	b.sink.OnTransactions(storage.Native(), []*types.Transaction{tx})
	return tx, nil
}

// Call is not available without an execution engine.
func (b *SPVBackend) Call(ctx context.Context, msg rpc.CallMsg) ([]byte, error) {
	return nil, ErrUnsupported
}

// EstimateGas is not available without an execution engine.
func (b *SPVBackend) EstimateGas(ctx context.Context, msg rpc.CallMsg) (uint64, error) {
	return 0, ErrUnsupported
}

// GetLogs is not available without an execution engine.
func (b *SPVBackend) GetLogs(ctx context.Context, q rpc.FilterQuery) ([]rpc.Log, error) {
	return nil, ErrUnsupported
}

// GasPrice is not available without a serving node.
func (b *SPVBackend) GasPrice(ctx context.Context) (*big.Int, error) {
	return nil, ErrUnsupported
}

// StorageAt is not available: storage slots are not proven in this mode.
func (b *SPVBackend) StorageAt(ctx context.Context, addr types.Address, slot types.Hash) (types.Hash, error) {
	return types.Hash{}, ErrUnsupported
}

// RegisterAsset is accepted but token balances cannot be proven in SPV
// mode; the token stays NotSynced.
func (b *SPVBackend) RegisterAsset(a storage.Asset) {
	if a.IsToken() {
		b.sink.OnSyncState(a, SyncState{Status: NotSynced, Err: ErrUnsupported})
	}
}

// UnregisterAsset does nothing: SPV mode keeps no token sync set.
func (b *SPVBackend) UnregisterAsset(a storage.Asset) {}

// spvBackoff returns the capped exponential reconnect delay with jitter.
func spvBackoff(attempt int) time.Duration {
	d := spvBackoffBase << uint(attempt-1)
	if d > spvBackoffCap || d <= 0 {
		d = spvBackoffCap
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

var _ Backend = (*SPVBackend)(nil)
