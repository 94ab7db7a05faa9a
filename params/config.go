// Package params holds the chain parameters the wallet ships with: network
// identities, genesis hashes and the compiled-in trusted checkpoints the
// SPV back-end syncs from.
package params

import (
	"math/big"

	"github.com/ethwallet/ethwallet/types"
)

// Gas limits used for fee estimation by transfer kind.
const (
	NativeTransferGas uint64 = 21_000
	ERC20TransferGas  uint64 = 100_000
)

// Checkpoint is a trusted header the SPV header sync starts from. Trusting
// a compiled-in checkpoint deliberately weakens light-client security in
// exchange for a bounded sync; a stale checkpoint shows up as a sync stuck
// near zero progress, not as an error.
type Checkpoint struct {
	Number          uint64
	Hash            types.Hash
	TotalDifficulty *big.Int
}

// Network describes one Ethereum-compatible chain.
type Network struct {
	Name        string
	NetworkID   uint64
	ChainID     uint64
	GenesisHash types.Hash
	Checkpoint  Checkpoint
}

// Mainnet is the Ethereum main network.
var Mainnet = &Network{
	Name:        "mainnet",
	NetworkID:   1,
	ChainID:     1,
	GenesisHash: types.HexToHash("0xd4e56740f876aef8c010b86a40d5f56745a118d0906a34e69aec8c0db1cb8fa3"),
	Checkpoint: Checkpoint{
		Number:          7_780_000,
		Hash:            types.HexToHash("0x13ccb85b7dcb0b1799e0b3a4bd03a0b1ef13082dcb0a6e8c9b09aee1bc5b5f62"),
		TotalDifficulty: mustBig("9554965199959782690893"),
	},
}

// Ropsten is the Ropsten proof-of-work test network.
var Ropsten = &Network{
	Name:        "ropsten",
	NetworkID:   3,
	ChainID:     3,
	GenesisHash: types.HexToHash("0x41941023680923e0fe4d74a34bdac8141f2540e3ae90623718e47d66d1ca4a2d"),
	Checkpoint: Checkpoint{
		Number:          5_194_692,
		Hash:            types.HexToHash("0x195689d418858d6b4f1a9dd139eb8c8b01ea1e8ade5ab8618c15201f0c746e8b"),
		TotalDifficulty: mustBig("18529791467262594"),
	},
}

// ByName returns the preconfigured network with the given name, or nil.
func ByName(name string) *Network {
	switch name {
	case Mainnet.Name:
		return Mainnet
	case Ropsten.Name:
		return Ropsten
	default:
		return nil
	}
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("params: bad big integer literal " + s)
	}
	return v
}
