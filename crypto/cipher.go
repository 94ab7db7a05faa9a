package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// AESCTR encrypts or decrypts data with AES in counter mode. CTR is
// symmetric, so the same call serves both directions. Key length selects
// AES-128/192/256.
func AESCTR(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("crypto: bad IV length %d", len(iv))
	}
	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)
	return out, nil
}

// NewCTRStream returns a streaming AES-CTR cipher. The RLPx session uses
// one per direction with a zero IV; the counter is shared across all
// frames of the session.
func NewCTRStream(key, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv), nil
}

// NewECB returns a raw AES block cipher. The RLPx MAC discipline encrypts
// single 16-byte blocks of Keccak state with it.
func NewECB(key []byte) (cipher.Block, error) {
	return aes.NewCipher(key)
}
