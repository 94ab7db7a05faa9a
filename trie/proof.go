// Package trie verifies Merkle-Patricia proofs against a state root. The
// SPV back-end uses it to check the account proofs a LES peer returns:
// the proof is a set of trie nodes forming a path from the root to the
// account leaf.
package trie

import (
	"bytes"
	"errors"
	"math/big"

	"github.com/ethwallet/ethwallet/crypto"
	"github.com/ethwallet/ethwallet/rlp"
	"github.com/ethwallet/ethwallet/types"
)

var (
	// ErrBadProof is returned when a proof does not verify against the
	// root: a referenced node is missing, malformed or hashes wrong.
	ErrBadProof = errors.New("trie: invalid merkle proof")

	// ErrAbsent is returned when the proof shows the key is not in the
	// trie.
	ErrAbsent = errors.New("trie: key not present")
)

// VerifyProof walks the proof nodes from root along key and returns the
// value stored at the leaf. Nodes are referenced by their Keccak-256
// hash; nodes encoding to fewer than 32 bytes are embedded in their
// parent.
func VerifyProof(root types.Hash, key []byte, proof [][]byte) ([]byte, error) {
	nodes := make(map[types.Hash][]byte, len(proof))
	for _, n := range proof {
		nodes[types.BytesToHash(crypto.Keccak256(n))] = n
	}

	nibbles := keyNibbles(key)
	node, ok := nodes[root]
	if !ok {
		return nil, ErrBadProof
	}

	for {
		item, err := rlp.Parse(node)
		if err != nil || item.Kind != rlp.List {
			return nil, ErrBadProof
		}

		var next *rlp.Item
		switch item.Len() {
		case 17: // branch node
			if len(nibbles) == 0 {
				value, err := item.Items[16].Bytes()
				if err != nil || len(value) == 0 {
					return nil, ErrAbsent
				}
				return value, nil
			}
			next = item.Items[nibbles[0]]
			nibbles = nibbles[1:]

		case 2: // extension or leaf node
			path, isLeaf := compactToNibbles(item.Items[0].Payload)
			if isLeaf {
				if !bytes.Equal(nibbles, path) {
					return nil, ErrAbsent
				}
				value, err := item.Items[1].Bytes()
				if err != nil {
					return nil, ErrBadProof
				}
				return value, nil
			}
			if !hasPrefix(nibbles, path) {
				return nil, ErrAbsent
			}
			nibbles = nibbles[len(path):]
			next = item.Items[1]

		default:
			return nil, ErrBadProof
		}

		node, err = resolve(next, nodes)
		if err != nil {
			return nil, err
		}
	}
}

// VerifyAccountProof checks an account proof against a header's state
// root and decodes the account leaf. The trie key is the Keccak-256 of
// the address.
func VerifyAccountProof(stateRoot types.Hash, addr types.Address, proof [][]byte) (*types.AccountState, error) {
	value, err := VerifyProof(stateRoot, crypto.Keccak256(addr[:]), proof)
	if err == ErrAbsent {
		// An absence proof is a valid answer: the account is empty.
		return &types.AccountState{
			Balance:  new(big.Int),
			CodeHash: types.BytesToHash(crypto.Keccak256(nil)),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return types.DecodeAccountState(value)
}

// resolve follows a child reference: an embedded sub-node (short list) is
// used directly, a 32-byte hash is looked up in the proof set, and an
// empty string marks a missing branch slot.
func resolve(child *rlp.Item, nodes map[types.Hash][]byte) ([]byte, error) {
	if child.Kind == rlp.List {
		return child.Raw, nil
	}
	ref := child.Payload
	switch len(ref) {
	case 0:
		return nil, ErrAbsent
	case types.HashLength:
		node, ok := nodes[types.BytesToHash(ref)]
		if !ok {
			return nil, ErrBadProof
		}
		return node, nil
	default:
		return nil, ErrBadProof
	}
}

// keyNibbles expands a byte key into its nibble path.
func keyNibbles(key []byte) []byte {
	out := make([]byte, 0, len(key)*2)
	for _, b := range key {
		out = append(out, b>>4, b&0x0f)
	}
	return out
}

// compactToNibbles decodes hex-prefix encoding: the high nibble of the
// first byte carries the odd-length flag (1) and the leaf flag (2).
func compactToNibbles(compact []byte) (nibbles []byte, isLeaf bool) {
	if len(compact) == 0 {
		return nil, false
	}
	flag := compact[0] >> 4
	isLeaf = flag&2 != 0
	if flag&1 != 0 {
		nibbles = append(nibbles, compact[0]&0x0f)
	}
	for _, b := range compact[1:] {
		nibbles = append(nibbles, b>>4, b&0x0f)
	}
	return nibbles, isLeaf
}

// hasPrefix reports whether path starts with prefix.
func hasPrefix(path, prefix []byte) bool {
	return len(path) >= len(prefix) && bytes.Equal(path[:len(prefix)], prefix)
}
