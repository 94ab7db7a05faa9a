// ecies.go implements the Elliptic Curve Integrated Encryption Scheme on
// secp256k1 as used by the RLPx handshake: ECDH key agreement, the NIST
// SP 800-56 concatenation KDF over SHA-256, AES-128-CTR encryption and
// HMAC-SHA-256 authentication.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
)

// ECIES constants.
const (
	// eciesKeyLen is the length of the derived AES and raw MAC keys.
	eciesKeyLen = 16

	// eciesIVLen is the AES-128-CTR IV length.
	eciesIVLen = 16

	// eciesMACLen is the HMAC-SHA-256 output length.
	eciesMACLen = 32

	// ECIESOverhead is the byte overhead added by encryption: ephemeral
	// public key, IV and MAC.
	ECIESOverhead = 65 + eciesIVLen + eciesMACLen
)

var (
	// ErrECIESCiphertext is returned when the ciphertext is malformed.
	ErrECIESCiphertext = errors.New("ecies: invalid ciphertext")

	// ErrECIESMAC is returned when HMAC verification fails.
	ErrECIESMAC = errors.New("ecies: MAC verification failed")
)

// ECIESEncrypt encrypts plaintext for the recipient public key:
//  1. Generate an ephemeral secp256k1 key pair.
//  2. Perform ECDH to derive a shared secret.
//  3. Derive AES and MAC keys via the concatenation KDF (s1 is optional
//     shared KDF info).
//  4. Encrypt with AES-128-CTR under a random IV.
//  5. MAC (IV || ciphertext || s2) with HMAC-SHA-256; s2 is optional shared
//     authenticated data (the EIP-8 size prefix during the handshake).
//
// Output: [ephemeral_pubkey(65) || iv(16) || ciphertext || mac(32)].
func ECIESEncrypt(pub *PublicKey, plaintext, s1, s2 []byte) ([]byte, error) {
	ephKey, err := GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("ecies: generate ephemeral key: %w", err)
	}

	shared := ECDH(ephKey, pub)
	encKey, macKey := eciesKDF(shared, s1)

	iv := make([]byte, eciesIVLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("ecies: generate IV: %w", err)
	}

	ciphertext, err := AESCTR(encKey, iv, plaintext)
	if err != nil {
		return nil, fmt.Errorf("ecies: encrypt: %w", err)
	}

	mac := eciesMAC(macKey, iv, ciphertext, s2)

	ephPub := ephKey.PubKey().SerializeUncompressed()
	out := make([]byte, 0, len(ephPub)+eciesIVLen+len(ciphertext)+eciesMACLen)
	out = append(out, ephPub...)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	out = append(out, mac...)
	return out, nil
}

// ECIESDecrypt reverses ECIESEncrypt with the recipient's private key.
func ECIESDecrypt(prv *PrivateKey, data, s1, s2 []byte) ([]byte, error) {
	if len(data) < ECIESOverhead {
		return nil, ErrECIESCiphertext
	}

	ephPub, err := UnmarshalPubkey(data[:65])
	if err != nil {
		return nil, ErrECIESCiphertext
	}

	iv := data[65 : 65+eciesIVLen]
	macStart := len(data) - eciesMACLen
	ciphertext := data[65+eciesIVLen : macStart]
	msgMAC := data[macStart:]

	shared := ECDH(prv, ephPub)
	encKey, macKey := eciesKDF(shared, s1)

	expected := eciesMAC(macKey, iv, ciphertext, s2)
	if subtle.ConstantTimeCompare(msgMAC, expected) != 1 {
		return nil, ErrECIESMAC
	}

	plaintext, err := AESCTR(encKey, iv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("ecies: decrypt: %w", err)
	}
	return plaintext, nil
}

// eciesKDF derives the AES and MAC keys from the shared secret using the
// SHA-256 concatenation KDF: K = SHA-256(counter || Z || s1) with a
// big-endian uint32 counter starting at 1. The raw MAC half is hashed once
// more before use, per SEC-1.
func eciesKDF(z, s1 []byte) (encKey, macKey []byte) {
	var counter [4]byte
	binary.BigEndian.PutUint32(counter[:], 1)
	h := sha256.New()
	h.Write(counter[:])
	h.Write(z)
	h.Write(s1)
	k := h.Sum(nil)

	encKey = k[:eciesKeyLen]

	mh := sha256.New()
	mh.Write(k[eciesKeyLen:])
	macKey = mh.Sum(nil)
	return encKey, macKey
}

// eciesMAC computes HMAC-SHA-256 over (iv || ciphertext || s2).
func eciesMAC(macKey, iv, ciphertext, s2 []byte) []byte {
	h := hmac.New(sha256.New, macKey)
	h.Write(iv)
	h.Write(ciphertext)
	h.Write(s2)
	return h.Sum(nil)
}
