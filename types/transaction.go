package types

import (
	"math/big"
)

// RawTransaction is a transfer or contract call before nonce assignment and
// signing. Nonce is nil at construction; the sync back-end assigns it
// immediately before signing.
type RawTransaction struct {
	Nonce    *uint64
	GasPrice *big.Int
	GasLimit uint64
	To       Address
	Value    *big.Int
	Data     []byte
}

// NewRawTransaction builds an unsigned transaction. data may be nil for a
// plain value transfer.
func NewRawTransaction(gasPrice *big.Int, gasLimit uint64, to Address, value *big.Int, data []byte) *RawTransaction {
	return &RawTransaction{
		GasPrice: gasPrice,
		GasLimit: gasLimit,
		To:       to,
		Value:    value,
		Data:     data,
	}
}

// Signature holds the ECDSA signature of a transaction. V encodes the
// recovery id mixed with the EIP-155 chain-id shift.
type Signature struct {
	V uint64
	R [32]byte
	S [32]byte
}

// Transaction is a confirmed or pending transaction as tracked by the
// wallet. Hash is the Keccak-256 of the fully signed RLP payload.
type Transaction struct {
	Hash        Hash
	Nonce       uint64
	From        Address
	To          Address
	Value       *big.Int
	GasPrice    uint64
	GasLimit    uint64
	Input       []byte
	Timestamp   int64
	BlockHeight *uint64
}
