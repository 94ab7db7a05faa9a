package types

import (
	"errors"
	"math/big"

	"github.com/ethwallet/ethwallet/rlp"
)

var errBadAccountList = errors.New("types: malformed account state list")

// AccountState is the state-trie leaf for an account at a specific block.
type AccountState struct {
	Nonce       uint64
	Balance     *big.Int
	StorageRoot Hash
	CodeHash    Hash
}

// EncodeRLP returns the canonical 4-field account encoding.
func (a *AccountState) EncodeRLP() ([]byte, error) {
	return rlp.EncodeToBytes([]interface{}{
		a.Nonce,
		a.Balance,
		a.StorageRoot,
		a.CodeHash,
	})
}

// DecodeAccountState parses the RLP account leaf found at the end of a
// Merkle-Patricia account proof.
func DecodeAccountState(b []byte) (*AccountState, error) {
	item, err := rlp.Parse(b)
	if err != nil {
		return nil, err
	}
	if item.Len() != 4 {
		return nil, errBadAccountList
	}
	nonce, err := item.Items[0].Uint64()
	if err != nil {
		return nil, err
	}
	balance, err := item.Items[1].BigInt()
	if err != nil {
		return nil, err
	}
	root, err := item.Items[2].Bytes()
	if err != nil {
		return nil, err
	}
	code, err := item.Items[3].Bytes()
	if err != nil {
		return nil, err
	}
	return &AccountState{
		Nonce:       nonce,
		Balance:     balance,
		StorageRoot: BytesToHash(root),
		CodeHash:    BytesToHash(code),
	}, nil
}
