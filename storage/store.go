// Package storage defines the durable key-value contract the wallet sync
// core writes through: last seen block height, per-asset balances, the
// transaction log, and the SPV header chain plus account state. Two
// implementations are provided, an in-memory store for tests and a
// goleveldb-backed store for devices.
package storage

import (
	"errors"
	"math"
	"math/big"

	"github.com/ethwallet/ethwallet/rlp"
	"github.com/ethwallet/ethwallet/types"
)

var (
	// ErrNotFound is returned for missing keys.
	ErrNotFound = errors.New("storage: not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage: store is closed")
)

// Asset identifies what a balance or transaction belongs to: the native
// coin or an ERC-20 token contract.
type Asset struct {
	token types.Address
	erc20 bool
}

// Native returns the native-coin asset.
func Native() Asset { return Asset{} }

// Token returns the asset for an ERC-20 contract.
func Token(addr types.Address) Asset {
	return Asset{token: addr, erc20: true}
}

// IsToken reports whether the asset is an ERC-20 token.
func (a Asset) IsToken() bool { return a.erc20 }

// TokenAddress returns the token contract address for ERC-20 assets.
func (a Asset) TokenAddress() (types.Address, bool) {
	return a.token, a.erc20
}

// String implements fmt.Stringer.
func (a Asset) String() string {
	if !a.erc20 {
		return "native"
	}
	return a.token.Hex()
}

// schemaKey returns the asset's storage key suffix: 0x00 for native,
// 0x01 plus the contract address for tokens.
func (a Asset) schemaKey() []byte {
	if !a.erc20 {
		return []byte{0x00}
	}
	return append([]byte{0x01}, a.token[:]...)
}

// TxQuery selects a page of the transaction log. Results are ordered
// newest-first by (blockHeight desc, nonce desc); pending transactions
// (no height yet) sort before everything else. FromHash, when set,
// returns only entries strictly older than the named transaction.
type TxQuery struct {
	FromHash *types.Hash
	Limit    int
	Asset    *Asset
}

// Store is the wallet's durable state contract. Reads are consistent with
// writes that preceded them on the same goroutine. Clear is total: after
// it returns the store reads as empty.
type Store interface {
	LastBlockHeight() (uint64, bool, error)
	SetLastBlockHeight(height uint64) error

	// Balance returns the stored value and the height it was observed at.
	Balance(a Asset) (*big.Int, uint64, bool, error)
	// SetBalance records a balance observed at the given height. A value
	// learned for a lower height than the stored one is ignored.
	SetBalance(a Asset, value *big.Int, height uint64) error

	Transactions(q TxQuery) ([]*types.Transaction, error)
	PutTransactions(a Asset, txs []*types.Transaction) error

	// PutHeaders persists a verified header batch atomically.
	PutHeaders(headers []*types.BlockHeader) error
	HeaderByHash(h types.Hash) (*types.BlockHeader, error)
	HeaderByNumber(n uint64) (*types.BlockHeader, error)

	AccountState() (*types.AccountState, bool, error)
	SetAccountState(st *types.AccountState) error

	Clear() error
	Close() error
}

// sortHeight maps a transaction's height for log ordering: pending entries
// sort as the maximum height.
func sortHeight(tx *types.Transaction) uint64 {
	if tx.BlockHeight == nil {
		return math.MaxUint64
	}
	return *tx.BlockHeight
}

// txBefore reports whether a sorts strictly newer than b in log order.
func txBefore(a, b *types.Transaction) bool {
	ha, hb := sortHeight(a), sortHeight(b)
	if ha != hb {
		return ha > hb
	}
	return a.Nonce > b.Nonce
}

// storedTx is the serialized transaction record.
type storedTx struct {
	Hash      types.Hash
	Nonce     uint64
	From      types.Address
	To        types.Address
	Value     *big.Int
	GasPrice  uint64
	GasLimit  uint64
	Input     []byte
	Timestamp uint64
	HasHeight bool
	Height    uint64
}

func encodeTx(tx *types.Transaction) ([]byte, error) {
	rec := storedTx{
		Hash:      tx.Hash,
		Nonce:     tx.Nonce,
		From:      tx.From,
		To:        tx.To,
		Value:     tx.Value,
		GasPrice:  tx.GasPrice,
		GasLimit:  tx.GasLimit,
		Input:     tx.Input,
		Timestamp: uint64(tx.Timestamp),
	}
	if tx.BlockHeight != nil {
		rec.HasHeight = true
		rec.Height = *tx.BlockHeight
	}
	return rlp.EncodeToBytes(rec)
}

func decodeTx(b []byte) (*types.Transaction, error) {
	item, err := rlp.Parse(b)
	if err != nil {
		return nil, err
	}
	if item.Len() != 11 {
		return nil, errors.New("storage: malformed transaction record")
	}
	str := func(i int) []byte { b, _ := item.Items[i].Bytes(); return b }
	u64 := func(i int) uint64 { v, _ := item.Items[i].Uint64(); return v }

	tx := &types.Transaction{
		Hash:      types.BytesToHash(str(0)),
		Nonce:     u64(1),
		From:      types.BytesToAddress(str(2)),
		To:        types.BytesToAddress(str(3)),
		GasPrice:  u64(5),
		GasLimit:  u64(6),
		Input:     append([]byte(nil), str(7)...),
		Timestamp: int64(u64(8)),
	}
	value, err := item.Items[4].BigInt()
	if err != nil {
		return nil, err
	}
	tx.Value = value
	if u64(9) != 0 {
		h := u64(10)
		tx.BlockHeight = &h
	}
	return tx, nil
}

// encodeHeader serializes a header together with its total difficulty.
func encodeHeader(h *types.BlockHeader) ([]byte, error) {
	raw, err := h.EncodeRLP()
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes([]interface{}{raw, h.TotalDifficulty})
}

func decodeHeader(b []byte) (*types.BlockHeader, error) {
	item, err := rlp.Parse(b)
	if err != nil {
		return nil, err
	}
	if item.Len() != 2 {
		return nil, errors.New("storage: malformed header record")
	}
	raw, err := item.Items[0].Bytes()
	if err != nil {
		return nil, err
	}
	inner, err := rlp.Parse(raw)
	if err != nil {
		return nil, err
	}
	header, err := types.DecodeHeader(inner)
	if err != nil {
		return nil, err
	}
	td, err := item.Items[1].BigInt()
	if err != nil {
		return nil, err
	}
	header.TotalDifficulty = td
	return header, nil
}
