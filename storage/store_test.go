package storage

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethwallet/ethwallet/types"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	lvl, err := OpenLevelStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { lvl.Close() })
	return map[string]Store{
		"memory":  NewMemoryStore(),
		"leveldb": lvl,
	}
}

func u64p(v uint64) *uint64 { return &v }

func mkTx(hashByte byte, height *uint64, nonce uint64) *types.Transaction {
	return &types.Transaction{
		Hash:        types.BytesToHash([]byte{hashByte}),
		Nonce:       nonce,
		Value:       big.NewInt(int64(nonce) + 1),
		GasPrice:    20_000_000_000,
		GasLimit:    21_000,
		Timestamp:   1_600_000_000,
		BlockHeight: height,
	}
}

func TestLastBlockHeight(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.LastBlockHeight()
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.SetLastBlockHeight(5_200_000))
			h, ok, err := s.LastBlockHeight()
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, uint64(5_200_000), h)
		})
	}
}

func TestBalanceMonotonicInHeight(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			asset := Native()
			require.NoError(t, s.SetBalance(asset, big.NewInt(100), 10))

			// A value learned for a lower height must not overwrite.
			require.NoError(t, s.SetBalance(asset, big.NewInt(50), 9))
			v, h, ok, err := s.Balance(asset)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, int64(100), v.Int64())
			assert.Equal(t, uint64(10), h)

			// Same or higher height overwrites.
			require.NoError(t, s.SetBalance(asset, big.NewInt(70), 11))
			v, _, _, err = s.Balance(asset)
			require.NoError(t, err)
			assert.Equal(t, int64(70), v.Int64())
		})
	}
}

func TestBalancePerAsset(t *testing.T) {
	token := Token(types.HexToAddress("0x00000000000000000000000000000000000000aa"))
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SetBalance(Native(), big.NewInt(1), 1))
			require.NoError(t, s.SetBalance(token, big.NewInt(2), 1))

			v, _, ok, err := s.Balance(token)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, int64(2), v.Int64())
		})
	}
}

func TestTransactionsOrderingAndPaging(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			txs := []*types.Transaction{
				mkTx(1, u64p(100), 0),
				mkTx(2, u64p(102), 2),
				mkTx(3, u64p(102), 3),
				mkTx(4, nil, 4), // pending sorts first
			}
			require.NoError(t, s.PutTransactions(Native(), txs))

			got, err := s.Transactions(TxQuery{})
			require.NoError(t, err)
			require.Len(t, got, 4)
			assert.Equal(t, txs[3].Hash, got[0].Hash)
			assert.Equal(t, txs[2].Hash, got[1].Hash)
			assert.Equal(t, txs[1].Hash, got[2].Hash)
			assert.Equal(t, txs[0].Hash, got[3].Hash)

			// Page from an anchor hash: strictly older entries only.
			from := txs[2].Hash
			got, err = s.Transactions(TxQuery{FromHash: &from, Limit: 1})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, txs[1].Hash, got[0].Hash)
		})
	}
}

func TestTransactionsPerAssetFilter(t *testing.T) {
	token := Token(types.HexToAddress("0x00000000000000000000000000000000000000bb"))
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutTransactions(Native(), []*types.Transaction{mkTx(1, u64p(10), 0)}))
			require.NoError(t, s.PutTransactions(token, []*types.Transaction{mkTx(2, u64p(11), 1)}))

			asset := token
			got, err := s.Transactions(TxQuery{Asset: &asset})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, types.BytesToHash([]byte{2}), got[0].Hash)
		})
	}
}

func TestPendingTxGainsHeight(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			pending := mkTx(9, nil, 5)
			require.NoError(t, s.PutTransactions(Native(), []*types.Transaction{pending}))

			confirmed := mkTx(9, u64p(50), 5)
			require.NoError(t, s.PutTransactions(Native(), []*types.Transaction{confirmed}))

			got, err := s.Transactions(TxQuery{})
			require.NoError(t, err)
			require.Len(t, got, 1)
			require.NotNil(t, got[0].BlockHeight)
			assert.Equal(t, uint64(50), *got[0].BlockHeight)
		})
	}
}

func TestHeadersByHashAndNumber(t *testing.T) {
	h := &types.BlockHeader{
		Difficulty:      big.NewInt(131072),
		Number:          5_194_693,
		TotalDifficulty: big.NewInt(18_529_791_467_262_594 + 131072),
	}
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutHeaders([]*types.BlockHeader{h}))

			got, err := s.HeaderByHash(h.Hash())
			require.NoError(t, err)
			assert.Equal(t, h.Number, got.Number)
			assert.Equal(t, 0, got.TotalDifficulty.Cmp(h.TotalDifficulty))

			got, err = s.HeaderByNumber(h.Number)
			require.NoError(t, err)
			assert.Equal(t, h.Hash(), got.Hash())

			_, err = s.HeaderByNumber(1)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestAccountState(t *testing.T) {
	st := &types.AccountState{Nonce: 3, Balance: big.NewInt(777)}
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.AccountState()
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.SetAccountState(st))
			got, ok, err := s.AccountState()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, uint64(3), got.Nonce)
			assert.Equal(t, int64(777), got.Balance.Int64())
		})
	}
}

func TestClearIsTotal(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SetLastBlockHeight(1))
			require.NoError(t, s.SetBalance(Native(), big.NewInt(5), 1))
			require.NoError(t, s.PutTransactions(Native(), []*types.Transaction{mkTx(1, u64p(1), 0)}))

			require.NoError(t, s.Clear())

			_, ok, err := s.LastBlockHeight()
			require.NoError(t, err)
			assert.False(t, ok)
			_, _, ok, err = s.Balance(Native())
			require.NoError(t, err)
			assert.False(t, ok)
			got, err := s.Transactions(TxQuery{})
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}
