package types

import (
	"errors"
	"math/big"
	"sync/atomic"

	"github.com/ethwallet/ethwallet/crypto"
	"github.com/ethwallet/ethwallet/rlp"
)

// errBadHeaderList is returned when a decoded header has the wrong shape.
var errBadHeaderList = errors.New("types: malformed header list")

// BlockHeader is a proof-of-work chain header. TotalDifficulty is carried
// alongside the header by the sync layer and is not part of the hashed
// encoding.
type BlockHeader struct {
	ParentHash  Hash
	UncleHash   Hash
	Coinbase    Address
	Root        Hash
	TxHash      Hash
	ReceiptHash Hash
	Bloom       Bloom
	Difficulty  *big.Int
	Number      uint64
	GasLimit    uint64
	GasUsed     uint64
	Time        uint64
	Extra       []byte
	MixDigest   Hash
	Nonce       BlockNonce

	// TotalDifficulty is the cumulative chain difficulty up to and
	// including this header. Not serialized into the hashed encoding.
	TotalDifficulty *big.Int

	// Cache field, not serialized.
	hash atomic.Pointer[Hash]
}

// Hash returns the Keccak-256 hash of the RLP-encoded header, excluding
// TotalDifficulty. The result is cached.
func (h *BlockHeader) Hash() Hash {
	if cached := h.hash.Load(); cached != nil {
		return *cached
	}
	enc, _ := h.EncodeRLP()
	hash := BytesToHash(crypto.Keccak256(enc))
	h.hash.Store(&hash)
	return hash
}

// EncodeRLP returns the canonical 15-field header encoding.
func (h *BlockHeader) EncodeRLP() ([]byte, error) {
	return rlp.EncodeToBytes([]interface{}{
		h.ParentHash,
		h.UncleHash,
		h.Coinbase,
		h.Root,
		h.TxHash,
		h.ReceiptHash,
		h.Bloom,
		h.Difficulty,
		h.Number,
		h.GasLimit,
		h.GasUsed,
		h.Time,
		h.Extra,
		h.MixDigest,
		h.Nonce,
	})
}

// DecodeHeader rebuilds a header from a decoded RLP list item.
func DecodeHeader(item *rlp.Item) (*BlockHeader, error) {
	if item.Kind != rlp.List || item.Len() != 15 {
		return nil, errBadHeaderList
	}
	h := new(BlockHeader)
	var err error

	get := func(i int) []byte {
		if err != nil {
			return nil
		}
		var b []byte
		b, err = item.Items[i].Bytes()
		return b
	}
	getUint := func(i int) uint64 {
		if err != nil {
			return 0
		}
		var u uint64
		u, err = item.Items[i].Uint64()
		return u
	}

	h.ParentHash = BytesToHash(get(0))
	h.UncleHash = BytesToHash(get(1))
	h.Coinbase = BytesToAddress(get(2))
	h.Root = BytesToHash(get(3))
	h.TxHash = BytesToHash(get(4))
	h.ReceiptHash = BytesToHash(get(5))
	copy(h.Bloom[:], get(6))
	if err == nil {
		var d *big.Int
		d, err = item.Items[7].BigInt()
		h.Difficulty = d
	}
	h.Number = getUint(8)
	h.GasLimit = getUint(9)
	h.GasUsed = getUint(10)
	h.Time = getUint(11)
	if b := get(12); err == nil {
		h.Extra = append([]byte(nil), b...)
	}
	h.MixDigest = BytesToHash(get(13))
	if b := get(14); err == nil {
		copy(h.Nonce[NonceLength-min(len(b), NonceLength):], b)
	}
	if err != nil {
		return nil, errBadHeaderList
	}
	return h, nil
}
