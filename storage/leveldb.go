package storage

import (
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/ethwallet/ethwallet/rlp"
	"github.com/ethwallet/ethwallet/types"
)

// Key schema. Transaction log keys embed the inverted height and nonce so
// an ascending iteration yields newest-first order.
var (
	heightKey     = []byte("lastBlockHeight")
	accountKey    = []byte("accountState")
	balancePrefix = []byte("b") // b + asset -> RLP [value, height]
	txPrefix      = []byte("t") // t + ^height(8) + ^nonce(8) + hash -> tx record
	txAssetPrefix = []byte("T") // T + asset + ^height(8) + ^nonce(8) + hash -> nil
	txLookup      = []byte("x") // x + hash -> ^height(8) + ^nonce(8) + asset
	headerPrefix  = []byte("h") // h + hash -> header record
	numberPrefix  = []byte("n") // n + number(8 BE) -> hash
)

// LevelStore is a goleveldb-backed Store for on-device persistence.
type LevelStore struct {
	mu     sync.Mutex
	db     *leveldb.DB
	closed bool
}

// OpenLevelStore opens (creating if needed) a store at the given path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

func invOrd(height uint64, nonce uint64) []byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], ^height)
	binary.BigEndian.PutUint64(b[8:], ^nonce)
	return b[:]
}

func encodeNumber(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

// LastBlockHeight returns the persisted chain height.
func (s *LevelStore) LastBlockHeight() (uint64, bool, error) {
	v, err := s.db.Get(heightKey, nil)
	if err == leveldb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return binary.BigEndian.Uint64(v), true, nil
}

// SetLastBlockHeight persists the chain height.
func (s *LevelStore) SetLastBlockHeight(height uint64) error {
	return s.db.Put(heightKey, encodeNumber(height), nil)
}

// Balance returns the stored balance and observation height for an asset.
func (s *LevelStore) Balance(a Asset) (*big.Int, uint64, bool, error) {
	v, err := s.db.Get(append(balancePrefix, a.schemaKey()...), nil)
	if err == leveldb.ErrNotFound {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	item, err := rlp.Parse(v)
	if err != nil || item.Len() != 2 {
		return nil, 0, false, err
	}
	value, err := item.Items[0].BigInt()
	if err != nil {
		return nil, 0, false, err
	}
	height, err := item.Items[1].Uint64()
	if err != nil {
		return nil, 0, false, err
	}
	return value, height, true, nil
}

// SetBalance stores a balance observed at the given height, keeping the
// monotonic-in-height rule.
func (s *LevelStore) SetBalance(a Asset, value *big.Int, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, prevHeight, ok, err := s.Balance(a); err != nil {
		return err
	} else if ok && height < prevHeight {
		return nil
	}
	enc, err := rlp.EncodeToBytes([]interface{}{value, height})
	if err != nil {
		return err
	}
	return s.db.Put(append(balancePrefix, a.schemaKey()...), enc, nil)
}

// Transactions returns a page of the log in newest-first order.
func (s *LevelStore) Transactions(q TxQuery) ([]*types.Transaction, error) {
	prefix := txPrefix
	if q.Asset != nil {
		prefix = append(append([]byte{}, txAssetPrefix...), q.Asset.schemaKey()...)
	}

	var start []byte
	if q.FromHash != nil {
		pos, err := s.db.Get(append(txLookup, q.FromHash[:]...), nil)
		if err == leveldb.ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		// Position strictly after the anchor entry.
		anchor := append(append([]byte{}, prefix...), pos[:16]...)
		anchor = append(anchor, q.FromHash[:]...)
		start = append(anchor, 0x00)
	}

	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	if start != nil {
		iter.Seek(start)
	} else {
		iter.First()
	}

	var out []*types.Transaction
	for ; iter.Valid(); iter.Next() {
		var raw []byte
		if q.Asset != nil {
			// The per-asset index stores no payload; the record sits
			// under the global prefix at the same position.
			key := iter.Key()
			pos := key[len(prefix):]
			var err error
			raw, err = s.db.Get(append(append([]byte{}, txPrefix...), pos...), nil)
			if err != nil {
				return nil, err
			}
		} else {
			raw = iter.Value()
		}
		tx, err := decodeTx(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, iter.Error()
}

// PutTransactions writes transactions to the log in one batch, replacing
// stale index entries when a pending entry gains a block height.
func (s *LevelStore) PutTransactions(a Asset, txs []*types.Transaction) error {
	batch := new(leveldb.Batch)
	assetKey := a.schemaKey()
	for _, tx := range txs {
		pos := invOrd(sortHeight(tx), tx.Nonce)

		if old, err := s.db.Get(append(txLookup, tx.Hash[:]...), nil); err == nil {
			oldPos := old[:16]
			oldAsset := old[16:]
			batch.Delete(append(append(append([]byte{}, txPrefix...), oldPos...), tx.Hash[:]...))
			batch.Delete(append(append(append(append([]byte{}, txAssetPrefix...), oldAsset...), oldPos...), tx.Hash[:]...))
		} else if err != leveldb.ErrNotFound {
			return err
		}

		enc, err := encodeTx(tx)
		if err != nil {
			return err
		}
		batch.Put(append(append(append([]byte{}, txPrefix...), pos...), tx.Hash[:]...), enc)
		batch.Put(append(append(append(append([]byte{}, txAssetPrefix...), assetKey...), pos...), tx.Hash[:]...), nil)
		batch.Put(append(append([]byte{}, txLookup...), tx.Hash[:]...), append(append([]byte{}, pos...), assetKey...))
	}
	return s.db.Write(batch, nil)
}

// PutHeaders persists a verified header batch atomically.
func (s *LevelStore) PutHeaders(headers []*types.BlockHeader) error {
	batch := new(leveldb.Batch)
	for _, h := range headers {
		enc, err := encodeHeader(h)
		if err != nil {
			return err
		}
		hash := h.Hash()
		batch.Put(append(append([]byte{}, headerPrefix...), hash[:]...), enc)
		batch.Put(append(append([]byte{}, numberPrefix...), encodeNumber(h.Number)...), hash[:])
	}
	return s.db.Write(batch, nil)
}

// HeaderByHash returns a stored header.
func (s *LevelStore) HeaderByHash(h types.Hash) (*types.BlockHeader, error) {
	v, err := s.db.Get(append(headerPrefix, h[:]...), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeHeader(v)
}

// HeaderByNumber returns the stored header at a height.
func (s *LevelStore) HeaderByNumber(n uint64) (*types.BlockHeader, error) {
	hash, err := s.db.Get(append(numberPrefix, encodeNumber(n)...), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.HeaderByHash(types.BytesToHash(hash))
}

// AccountState returns the stored SPV account state.
func (s *LevelStore) AccountState() (*types.AccountState, bool, error) {
	v, err := s.db.Get(accountKey, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	st, err := types.DecodeAccountState(v)
	if err != nil {
		return nil, false, err
	}
	return st, true, nil
}

// SetAccountState stores the SPV account state.
func (s *LevelStore) SetAccountState(st *types.AccountState) error {
	enc, err := st.EncodeRLP()
	if err != nil {
		return err
	}
	return s.db.Put(accountKey, enc, nil)
}

// Clear deletes every key in one batch.
func (s *LevelStore) Clear() error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte{}, iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

// Close releases the underlying database.
func (s *LevelStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return s.db.Close()
}

var _ Store = (*LevelStore)(nil)
