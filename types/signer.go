package types

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethwallet/ethwallet/crypto"
	"github.com/ethwallet/ethwallet/rlp"
)

var (
	errNoNonce     = errors.New("types: transaction has no nonce assigned")
	errInvalidSig  = errors.New("types: invalid transaction signature")
	ErrInvalidSigV = errors.New("types: signature V does not match chain id")
)

// Signer produces replay-protected signatures for a fixed chain.
type Signer struct {
	chainID uint64
}

// NewSigner creates an EIP-155 signer for the given chain.
func NewSigner(chainID uint64) Signer {
	return Signer{chainID: chainID}
}

// ChainID returns the chain this signer protects against replay on.
func (s Signer) ChainID() uint64 { return s.chainID }

// SigningHash computes the EIP-155 digest of a raw transaction:
// Keccak256(RLP([nonce, gasPrice, gasLimit, to, value, data, chainID, 0, 0])).
func (s Signer) SigningHash(raw *RawTransaction) (Hash, error) {
	if raw.Nonce == nil {
		return Hash{}, errNoNonce
	}
	enc, err := rlp.EncodeToBytes([]interface{}{
		*raw.Nonce,
		raw.GasPrice,
		raw.GasLimit,
		raw.To,
		raw.Value,
		raw.Data,
		s.chainID,
		uint64(0),
		uint64(0),
	})
	if err != nil {
		return Hash{}, err
	}
	return BytesToHash(crypto.Keccak256(enc)), nil
}

// Sign signs a raw transaction with the given nonce and returns the wallet
// transaction together with the broadcastable signed RLP payload:
//
//  1. Hash RLP([nonce, gasPrice, gasLimit, to, value, data, chainID, 0, 0]).
//  2. ECDSA-sign the digest with canonical low S.
//  3. V = recId + 35 + 2*chainID.
//  4. Re-encode with (v, r, s); the transaction hash is the Keccak-256 of
//     that payload.
func (s Signer) Sign(raw *RawTransaction, nonce uint64, key *crypto.PrivateKey) (*Transaction, []byte, error) {
	raw.Nonce = &nonce

	digest, err := s.SigningHash(raw)
	if err != nil {
		return nil, nil, err
	}
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return nil, nil, err
	}

	v := uint64(sig[64]) + 35 + 2*s.chainID
	r := new(big.Int).SetBytes(sig[:32])
	sv := new(big.Int).SetBytes(sig[32:64])

	signed, err := rlp.EncodeToBytes([]interface{}{
		nonce,
		raw.GasPrice,
		raw.GasLimit,
		raw.To,
		raw.Value,
		raw.Data,
		v,
		r,
		sv,
	})
	if err != nil {
		return nil, nil, err
	}

	tx := &Transaction{
		Hash:      BytesToHash(crypto.Keccak256(signed)),
		Nonce:     nonce,
		From:      PubkeyToAddress(key.PubKey()),
		To:        raw.To,
		Value:     new(big.Int).Set(raw.Value),
		GasPrice:  raw.GasPrice.Uint64(),
		GasLimit:  raw.GasLimit,
		Input:     raw.Data,
		Timestamp: time.Now().Unix(),
	}
	return tx, signed, nil
}

// Sender recovers the signing address from a signed transaction payload.
func (s Signer) Sender(signedRLP []byte) (Address, error) {
	item, err := rlp.Parse(signedRLP)
	if err != nil {
		return Address{}, err
	}
	if item.Len() != 9 {
		return Address{}, errInvalidSig
	}

	v, err := item.Items[6].Uint64()
	if err != nil {
		return Address{}, err
	}
	var recID byte
	switch {
	case v == 27 || v == 28:
		recID = byte(v - 27)
	case v >= 35+2*s.chainID && v <= 36+2*s.chainID:
		recID = byte(v - 35 - 2*s.chainID)
	default:
		return Address{}, ErrInvalidSigV
	}

	rb, err := item.Items[7].Bytes()
	if err != nil {
		return Address{}, err
	}
	sb, err := item.Items[8].Bytes()
	if err != nil {
		return Address{}, err
	}

	// Rebuild the signing payload from the first six fields.
	var payload []byte
	for i := 0; i < 6; i++ {
		payload = append(payload, encodeItem(item.Items[i])...)
	}
	payload = append(payload, rlp.AppendUint(nil, s.chainID)...)
	payload = rlp.AppendUint(payload, 0)
	payload = rlp.AppendUint(payload, 0)
	digest := crypto.Keccak256(rlp.WrapList(payload))

	sig := make([]byte, crypto.SignatureLength)
	copy(sig[32-len(rb):32], rb)
	copy(sig[64-len(sb):64], sb)
	sig[64] = recID

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return Address{}, errInvalidSig
	}
	return PubkeyToAddress(pub), nil
}

// encodeItem re-encodes a decoded RLP string item.
func encodeItem(it *rlp.Item) []byte {
	return rlp.AppendString(nil, it.Payload)
}
