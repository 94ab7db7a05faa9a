// Package abi implements the minimal contract ABI encoding the wallet
// needs: 4-byte method selectors, static uint256/address arguments and
// dynamic address arrays, plus ERC-20 call builders. Uniswap V2 router
// calldata is assembled in package uniswap on top of these encoders.
package abi

import (
	"errors"
	"math/big"

	"github.com/ethwallet/ethwallet/crypto"
	"github.com/ethwallet/ethwallet/types"
)

// WordLength is the ABI word size.
const WordLength = 32

// ErrBadReturnData is returned when contract return data has an unexpected
// shape.
var ErrBadReturnData = errors.New("abi: malformed return data")

// Selector computes the 4-byte method id of a canonical signature such as
// "transfer(address,uint256)".
func Selector(signature string) [4]byte {
	var id [4]byte
	copy(id[:], crypto.Keccak256([]byte(signature)))
	return id
}

// Word left-pads b into a 32-byte ABI word.
func Word(b []byte) [WordLength]byte {
	var w [WordLength]byte
	if len(b) > WordLength {
		b = b[len(b)-WordLength:]
	}
	copy(w[WordLength-len(b):], b)
	return w
}

// AddressWord encodes an address as a 32-byte word.
func AddressWord(a types.Address) [WordLength]byte {
	return Word(a[:])
}

// UintWord encodes a non-negative integer as a 32-byte word.
func UintWord(v *big.Int) [WordLength]byte {
	return Word(v.Bytes())
}

// Uint64Word encodes a uint64 as a 32-byte word.
func Uint64Word(v uint64) [WordLength]byte {
	return UintWord(new(big.Int).SetUint64(v))
}

// Pack concatenates a selector with pre-encoded 32-byte words.
func Pack(selector [4]byte, words ...[WordLength]byte) []byte {
	out := make([]byte, 0, 4+len(words)*WordLength)
	out = append(out, selector[:]...)
	for _, w := range words {
		out = append(out, w[:]...)
	}
	return out
}

// PackWithAddressArray encodes a call whose last argument is a dynamic
// address[] preceded by static words. arrayPos is the argument position
// of the array among the call's arguments.
func PackWithAddressArray(selector [4]byte, static [][WordLength]byte, arrayPos int, addrs []types.Address) []byte {
	// Head: static words with the array slot holding the byte offset of
	// the tail, which starts after all head words.
	headWords := len(static) + 1
	out := append([]byte{}, selector[:]...)
	for i := 0; i < headWords; i++ {
		if i == arrayPos {
			off := Uint64Word(uint64(headWords * WordLength))
			out = append(out, off[:]...)
			continue
		}
		j := i
		if i > arrayPos {
			j = i - 1
		}
		out = append(out, static[j][:]...)
	}
	// Tail: length word then elements.
	n := Uint64Word(uint64(len(addrs)))
	out = append(out, n[:]...)
	for _, a := range addrs {
		w := AddressWord(a)
		out = append(out, w[:]...)
	}
	return out
}

// UnpackUint256 decodes a single uint256 return word.
func UnpackUint256(data []byte) (*big.Int, error) {
	if len(data) != WordLength {
		return nil, ErrBadReturnData
	}
	return new(big.Int).SetBytes(data), nil
}
