// Package uniswap plans trades against Uniswap V2 pairs: deterministic
// pair address derivation, reserve reads through the wallet's call
// capability, constant-product quoting and a depth-limited search over
// candidate routes, plus router calldata assembly.
package uniswap

import (
	"context"
	"errors"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/ethwallet/ethwallet/abi"
	"github.com/ethwallet/ethwallet/crypto"
	"github.com/ethwallet/ethwallet/rpc"
	"github.com/ethwallet/ethwallet/types"
)

var (
	// ErrSameToken is returned when both pair tokens are equal.
	ErrSameToken = errors.New("uniswap: identical tokens")

	// ErrInsufficientReserves is returned when a pair cannot serve the
	// requested amount.
	ErrInsufficientReserves = errors.New("uniswap: insufficient reserves")

	// ErrInsufficientAmount is returned for zero input or output amounts.
	ErrInsufficientAmount = errors.New("uniswap: insufficient amount")
)

// getReservesCall is the selector of getReserves().
var getReservesCall = abi.Selector("getReserves()")

// TokenAmount couples a token contract with an amount of it.
type TokenAmount struct {
	Token  types.Address
	Amount *big.Int
}

// Pair is a Uniswap V2 pool with its current reserves. Token0 sorts below
// token1 by address.
type Pair struct {
	Address  types.Address
	Token0   types.Address
	Token1   types.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// NewPair orders the given sides into a pair.
func NewPair(a, b TokenAmount) (*Pair, error) {
	if a.Token == b.Token {
		return nil, ErrSameToken
	}
	if b.Token.Less(a.Token) {
		a, b = b, a
	}
	return &Pair{
		Token0:   a.Token,
		Token1:   b.Token,
		Reserve0: a.Amount,
		Reserve1: b.Amount,
	}, nil
}

// PairFor derives the CREATE2 pool address:
// keccak(0xff || factory || keccak(token0 || token1) || initCodeHash)[12:].
func PairFor(factory types.Address, tokenA, tokenB types.Address, initCodeHash types.Hash) types.Address {
	if tokenB.Less(tokenA) {
		tokenA, tokenB = tokenB, tokenA
	}
	salt := crypto.Keccak256(tokenA[:], tokenB[:])
	digest := crypto.Keccak256([]byte{0xff}, factory[:], salt, initCodeHash[:])
	return types.BytesToAddress(digest[12:])
}

// Involves reports whether the pair contains the token.
func (p *Pair) Involves(token types.Address) bool {
	return token == p.Token0 || token == p.Token1
}

// Other returns the counterpart of the given token in the pair.
func (p *Pair) Other(token types.Address) types.Address {
	if token == p.Token0 {
		return p.Token1
	}
	return p.Token0
}

// reservesFor returns (reserveIn, reserveOut) oriented for a swap out of
// the given input token.
func (p *Pair) reservesFor(tokenIn types.Address) (*big.Int, *big.Int) {
	if tokenIn == p.Token0 {
		return p.Reserve0, p.Reserve1
	}
	return p.Reserve1, p.Reserve0
}

// ContractCaller is the read capability the reserve fetch needs; the
// wallet back-end provides it. SPV mode cannot serve it.
type ContractCaller interface {
	Call(ctx context.Context, msg rpc.CallMsg) ([]byte, error)
}

// FetchPair derives the pool address and reads its reserves. A reply of
// unexpected length yields zero reserves, matching an undeployed pool.
func FetchPair(ctx context.Context, caller ContractCaller, factory types.Address, initCodeHash types.Hash, tokenA, tokenB types.Address) (*Pair, error) {
	if tokenA == tokenB {
		return nil, ErrSameToken
	}
	addr := PairFor(factory, tokenA, tokenB, initCodeHash)

	reply, err := caller.Call(ctx, rpc.CallMsg{To: addr, Data: abi.Pack(getReservesCall)})
	if err != nil {
		return nil, err
	}

	reserve0, reserve1 := new(big.Int), new(big.Int)
	// getReserves returns (uint112 reserve0, uint112 reserve1,
	// uint32 blockTimestampLast) as three words.
	if len(reply) == 3*abi.WordLength {
		reserve0 = new(uint256.Int).SetBytes(reply[0:32]).ToBig()
		reserve1 = new(uint256.Int).SetBytes(reply[32:64]).ToBig()
	}

	t0, t1 := tokenA, tokenB
	if t1.Less(t0) {
		t0, t1 = t1, t0
	}
	return &Pair{
		Address:  addr,
		Token0:   t0,
		Token1:   t1,
		Reserve0: reserve0,
		Reserve1: reserve1,
	}, nil
}
