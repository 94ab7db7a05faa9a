// Package crypto provides the hash, curve and encryption primitives used by
// the wallet core: Keccak-256, secp256k1 ECDSA with public key recovery,
// ECDH, ECIES handshake encryption and the AES helpers for RLPx framing.
// All operations are pure; nothing here holds global state.
package crypto

import (
	"hash"

	"golang.org/x/crypto/sha3"
)

// HashLength is the byte length of a Keccak-256 digest.
const HashLength = 32

// Keccak256 calculates the Keccak-256 hash of the concatenation of data.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// NewKeccak256 returns a fresh Keccak-256 state. The RLPx frame codec keeps
// two of these as rolling MAC states; Sum snapshots without disturbing the
// running state.
func NewKeccak256() hash.Hash {
	return sha3.NewLegacyKeccak256()
}
