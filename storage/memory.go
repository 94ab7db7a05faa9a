package storage

import (
	"math/big"
	"sort"
	"sync"

	"github.com/ethwallet/ethwallet/types"
)

// balanceRecord pairs a stored balance with the height it was observed at.
type balanceRecord struct {
	value  *big.Int
	height uint64
}

// txRecord pairs a stored transaction with its asset.
type txRecord struct {
	tx    *types.Transaction
	asset Asset
}

// MemoryStore is an in-memory Store implementation. It is safe for
// concurrent use and intended for tests and ephemeral wallets.
type MemoryStore struct {
	mu sync.RWMutex

	height   *uint64
	balances map[string]balanceRecord
	txs      map[types.Hash]txRecord
	headers  map[types.Hash]*types.BlockHeader
	byNumber map[uint64]types.Hash
	account  *types.AccountState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.reset()
	return s
}

func (s *MemoryStore) reset() {
	s.height = nil
	s.balances = make(map[string]balanceRecord)
	s.txs = make(map[types.Hash]txRecord)
	s.headers = make(map[types.Hash]*types.BlockHeader)
	s.byNumber = make(map[uint64]types.Hash)
	s.account = nil
}

// LastBlockHeight returns the persisted chain height.
func (s *MemoryStore) LastBlockHeight() (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.height == nil {
		return 0, false, nil
	}
	return *s.height, true, nil
}

// SetLastBlockHeight persists the chain height.
func (s *MemoryStore) SetLastBlockHeight(height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height = &height
	return nil
}

// Balance returns the stored balance and observation height for an asset.
func (s *MemoryStore) Balance(a Asset) (*big.Int, uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.balances[string(a.schemaKey())]
	if !ok {
		return nil, 0, false, nil
	}
	return new(big.Int).Set(rec.value), rec.height, true, nil
}

// SetBalance stores a balance observed at the given height. Values learned
// for a lower height than the stored one are dropped.
func (s *MemoryStore) SetBalance(a Asset, value *big.Int, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(a.schemaKey())
	if prev, ok := s.balances[key]; ok && height < prev.height {
		return nil
	}
	s.balances[key] = balanceRecord{value: new(big.Int).Set(value), height: height}
	return nil
}

// Transactions returns a page of the log in newest-first order.
func (s *MemoryStore) Transactions(q TxQuery) ([]*types.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]txRecord, 0, len(s.txs))
	for _, rec := range s.txs {
		if q.Asset != nil && rec.asset != *q.Asset {
			continue
		}
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		return txBefore(all[i].tx, all[j].tx)
	})

	start := 0
	if q.FromHash != nil {
		start = len(all)
		for i, rec := range all {
			if rec.tx.Hash == *q.FromHash {
				start = i + 1
				break
			}
		}
	}

	out := make([]*types.Transaction, 0)
	for _, rec := range all[start:] {
		out = append(out, rec.tx)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// PutTransactions appends transactions to the log, replacing any existing
// entries with the same hash.
func (s *MemoryStore) PutTransactions(a Asset, txs []*types.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		s.txs[tx.Hash] = txRecord{tx: tx, asset: a}
	}
	return nil
}

// PutHeaders persists a verified header batch.
func (s *MemoryStore) PutHeaders(headers []*types.BlockHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range headers {
		hash := h.Hash()
		s.headers[hash] = h
		s.byNumber[h.Number] = hash
	}
	return nil
}

// HeaderByHash returns a stored header.
func (s *MemoryStore) HeaderByHash(h types.Hash) (*types.BlockHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	header, ok := s.headers[h]
	if !ok {
		return nil, ErrNotFound
	}
	return header, nil
}

// HeaderByNumber returns the stored header at a height.
func (s *MemoryStore) HeaderByNumber(n uint64) (*types.BlockHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.byNumber[n]
	if !ok {
		return nil, ErrNotFound
	}
	return s.headers[hash], nil
}

// AccountState returns the stored SPV account state.
func (s *MemoryStore) AccountState() (*types.AccountState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.account == nil {
		return nil, false, nil
	}
	return s.account, true, nil
}

// SetAccountState stores the SPV account state.
func (s *MemoryStore) SetAccountState(st *types.AccountState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = st
	return nil
}

// Clear wipes the store.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// Close releases nothing for the memory store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
