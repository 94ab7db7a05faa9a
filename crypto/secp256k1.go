package crypto

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// PrivateKey and PublicKey are the secp256k1 key types used throughout the
// module, re-exported so callers depend on this package only.
type (
	PrivateKey = secp256k1.PrivateKey
	PublicKey  = secp256k1.PublicKey
)

// SignatureLength is the byte length of an [R || S || V] signature.
const SignatureLength = 65

var (
	// ErrInvalidSignature is returned for malformed or out-of-range
	// signature values.
	ErrInvalidSignature = errors.New("crypto: invalid signature")

	// ErrInvalidPrivateKey is returned for keys outside [1, N-1].
	ErrInvalidPrivateKey = errors.New("crypto: invalid private key")
)

// secp256k1N is the order of the secp256k1 curve.
var secp256k1N, _ = new(big.Int).SetString(
	"fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16,
)

// secp256k1halfN is half the curve order, the low-S boundary.
var secp256k1halfN = new(big.Int).Rsh(secp256k1N, 1)

// GenerateKey generates a new secp256k1 private key.
func GenerateKey() (*PrivateKey, error) {
	return secp256k1.GeneratePrivateKey()
}

// PrivKeyFromBytes interprets b as a 32-byte big-endian private key scalar.
func PrivKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, ErrInvalidPrivateKey
	}
	d := new(big.Int).SetBytes(b)
	if d.Sign() == 0 || d.Cmp(secp256k1N) >= 0 {
		return nil, ErrInvalidPrivateKey
	}
	return secp256k1.PrivKeyFromBytes(b), nil
}

// HexToKey parses a private key from a hex string with optional 0x prefix.
func HexToKey(s string) (*PrivateKey, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	return PrivKeyFromBytes(b)
}

// Sign calculates an ECDSA signature over a 32-byte digest and returns it
// in [R || S || V] form with V in {0, 1}. S is canonicalised to the lower
// half of the curve order.
func Sign(digest []byte, prv *PrivateKey) ([]byte, error) {
	if len(digest) != HashLength {
		return nil, errors.New("crypto: digest must be 32 bytes")
	}
	// SignCompact produces [V+27 || R || S] with canonical low-S.
	compact := secpecdsa.SignCompact(prv, digest, false)
	sig := make([]byte, SignatureLength)
	copy(sig, compact[1:])
	sig[64] = compact[0] - 27
	return sig, nil
}

// Ecrecover recovers the uncompressed 65-byte public key that produced the
// given [R || S || V] signature over digest.
func Ecrecover(digest, sig []byte) ([]byte, error) {
	pub, err := SigToPub(digest, sig)
	if err != nil {
		return nil, err
	}
	return pub.SerializeUncompressed(), nil
}

// SigToPub recovers the public key from an [R || S || V] signature.
func SigToPub(digest, sig []byte) (*PublicKey, error) {
	if len(sig) != SignatureLength || sig[64] > 1 {
		return nil, ErrInvalidSignature
	}
	// RecoverCompact wants [V+27 || R || S].
	compact := make([]byte, SignatureLength)
	compact[0] = sig[64] + 27
	copy(compact[1:], sig[:64])
	pub, _, err := secpecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	return pub, nil
}

// ValidateSignatureValues checks r, s, v for validity. s must be in the
// lower half of the curve order.
func ValidateSignatureValues(v byte, r, s *big.Int) bool {
	if r == nil || s == nil || v > 1 {
		return false
	}
	if r.Sign() <= 0 || s.Sign() <= 0 {
		return false
	}
	if r.Cmp(secp256k1N) >= 0 {
		return false
	}
	return s.Cmp(secp256k1halfN) <= 0
}

// ECDH performs Diffie-Hellman key agreement and returns the 32-byte
// x-coordinate of the shared point.
func ECDH(prv *PrivateKey, pub *PublicKey) []byte {
	return secp256k1.GenerateSharedSecret(prv, pub)
}

// FromECDSAPub marshals a public key to 65-byte uncompressed form.
func FromECDSAPub(pub *PublicKey) []byte {
	return pub.SerializeUncompressed()
}

// UnmarshalPubkey parses a 65-byte uncompressed public key.
func UnmarshalPubkey(b []byte) (*PublicKey, error) {
	if len(b) != 65 || b[0] != 0x04 {
		return nil, errors.New("crypto: invalid public key encoding")
	}
	return secp256k1.ParsePubKey(b)
}

// UnmarshalPubkey64 parses the 64-byte X || Y form used on the devp2p wire
// (uncompressed without the 0x04 tag).
func UnmarshalPubkey64(b []byte) (*PublicKey, error) {
	if len(b) != 64 {
		return nil, errors.New("crypto: invalid public key encoding")
	}
	full := make([]byte, 65)
	full[0] = 0x04
	copy(full[1:], b)
	return secp256k1.ParsePubKey(full)
}

// PubkeyToAddressBytes derives the 20-byte account address from a public
// key: Keccak256(pub[1:])[12:].
func PubkeyToAddressBytes(pub *PublicKey) [20]byte {
	var a [20]byte
	h := Keccak256(pub.SerializeUncompressed()[1:])
	copy(a[:], h[12:])
	return a
}
