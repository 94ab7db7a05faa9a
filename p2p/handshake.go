// handshake.go implements the RLPx ECIES handshake (EIP-8 framing) and the
// derivation of the session secrets from the exchanged key material.
package p2p

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	mrand "math/rand"

	"github.com/ethwallet/ethwallet/crypto"
	"github.com/ethwallet/ethwallet/rlp"
)

const (
	// shakeNonceLen is the handshake nonce size.
	shakeNonceLen = 32

	// handshakeVersion is announced in auth and ack messages.
	handshakeVersion = 4

	// maxHandshakeSize bounds an incoming auth/ack packet.
	maxHandshakeSize = 2048
)

var (
	// ErrBadHandshake is returned when the auth/ack exchange fails.
	ErrBadHandshake = errors.New("p2p: rlpx handshake failed")
)

// Secrets holds the symmetric session material derived by the handshake.
// The MAC states are created once per connection and mutated by every
// frame until disconnect; they are never reset mid-session.
type Secrets struct {
	AES   []byte // frame encryption key
	MAC   []byte // MAC derivation key
	Token []byte // session token, keccak of the ephemeral shared secret

	EgressMAC  hash.Hash
	IngressMAC hash.Hash
}

// InitiatorHandshake runs the initiator side of the RLPx handshake over rw:
// send the ECIES-sealed auth message, read the ack, derive the secrets.
func InitiatorHandshake(rw io.ReadWriter, prv *crypto.PrivateKey, remotePub *crypto.PublicKey) (*Secrets, error) {
	ephKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, shakeNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	// The auth signature proves possession of the static key: sign the
	// static shared secret XOR nonce with the ephemeral key, so the
	// responder can recover our ephemeral public key.
	token := crypto.ECDH(prv, remotePub)
	signed := xor32(token, nonce)
	sig, err := crypto.Sign(signed, ephKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}

	authBody, err := rlp.EncodeToBytes([]interface{}{
		sig,
		pub64(prv.PubKey()),
		nonce,
		uint64(handshakeVersion),
	})
	if err != nil {
		return nil, err
	}
	authPacket, err := sealEIP8(authBody, remotePub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	if _, err := rw.Write(authPacket); err != nil {
		return nil, err
	}

	ackPacket, ackBody, err := readHandshakeMsg(rw, prv)
	if err != nil {
		return nil, err
	}
	// The body is followed by EIP-8 padding; only the leading list counts.
	item, _, err := rlp.Split(ackBody)
	if err != nil || item.Kind != rlp.List || item.Len() < 2 {
		return nil, ErrBadHandshake
	}
	remoteEphBytes, err := item.Items[0].Bytes()
	if err != nil {
		return nil, ErrBadHandshake
	}
	remoteEph, err := crypto.UnmarshalPubkey64(remoteEphBytes)
	if err != nil {
		return nil, ErrBadHandshake
	}
	remoteNonce, err := item.Items[1].Bytes()
	if err != nil || len(remoteNonce) != shakeNonceLen {
		return nil, ErrBadHandshake
	}

	return deriveSecrets(ephKey, remoteEph, nonce, remoteNonce, authPacket, ackPacket, true)
}

// ResponderHandshake runs the responder side: read the auth message,
// answer with an ack, derive the secrets.
func ResponderHandshake(rw io.ReadWriter, prv *crypto.PrivateKey) (*Secrets, *crypto.PublicKey, error) {
	authPacket, authBody, err := readHandshakeMsg(rw, prv)
	if err != nil {
		return nil, nil, err
	}
	item, _, err := rlp.Split(authBody)
	if err != nil || item.Kind != rlp.List || item.Len() < 3 {
		return nil, nil, ErrBadHandshake
	}
	sig, err := item.Items[0].Bytes()
	if err != nil || len(sig) != crypto.SignatureLength {
		return nil, nil, ErrBadHandshake
	}
	remoteStaticBytes, err := item.Items[1].Bytes()
	if err != nil {
		return nil, nil, ErrBadHandshake
	}
	remoteStatic, err := crypto.UnmarshalPubkey64(remoteStaticBytes)
	if err != nil {
		return nil, nil, ErrBadHandshake
	}
	remoteNonce, err := item.Items[2].Bytes()
	if err != nil || len(remoteNonce) != shakeNonceLen {
		return nil, nil, ErrBadHandshake
	}

	// Recover the initiator's ephemeral key from the auth signature.
	token := crypto.ECDH(prv, remoteStatic)
	signed := xor32(token, remoteNonce)
	remoteEph, err := crypto.SigToPub(signed, sig)
	if err != nil {
		return nil, nil, ErrBadHandshake
	}

	ephKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, shakeNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	ackBody, err := rlp.EncodeToBytes([]interface{}{
		pub64(ephKey.PubKey()),
		nonce,
		uint64(handshakeVersion),
	})
	if err != nil {
		return nil, nil, err
	}
	ackPacket, err := sealEIP8(ackBody, remoteStatic)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	if _, err := rw.Write(ackPacket); err != nil {
		return nil, nil, err
	}

	secrets, err := deriveSecrets(ephKey, remoteEph, nonce, remoteNonce, authPacket, ackPacket, false)
	if err != nil {
		return nil, nil, err
	}
	return secrets, remoteStatic, nil
}

// deriveSecrets computes the session keys from the ephemeral agreement:
//
//	S     = ecdh(eph, remoteEph)
//	aes   = keccak(S || keccak(respNonce || initNonce))
//	mac   = keccak(S || aes)
//	token = keccak(S)
//
// and seeds the rolling MACs with (mac ^ remoteNonce || sentPacket) for
// egress and (mac ^ localNonce || receivedPacket) for ingress.
func deriveSecrets(eph *crypto.PrivateKey, remoteEph *crypto.PublicKey,
	localNonce, remoteNonce, sentPacket, receivedPacket []byte, initiator bool) (*Secrets, error) {

	ecdhe := crypto.ECDH(eph, remoteEph)

	var nonceHash []byte
	if initiator {
		nonceHash = crypto.Keccak256(remoteNonce, localNonce)
	} else {
		nonceHash = crypto.Keccak256(localNonce, remoteNonce)
	}
	aes := crypto.Keccak256(ecdhe, nonceHash)
	mac := crypto.Keccak256(ecdhe, aes)

	s := &Secrets{
		AES:        aes,
		MAC:        mac,
		Token:      crypto.Keccak256(ecdhe),
		EgressMAC:  crypto.NewKeccak256(),
		IngressMAC: crypto.NewKeccak256(),
	}
	s.EgressMAC.Write(xor32(mac, remoteNonce))
	s.EgressMAC.Write(sentPacket)
	s.IngressMAC.Write(xor32(mac, localNonce))
	s.IngressMAC.Write(receivedPacket)
	return s, nil
}

// sealEIP8 pads the handshake body, prefixes the ciphertext size and
// encrypts to the remote static key with the size prefix as shared MAC
// data.
func sealEIP8(body []byte, remotePub *crypto.PublicKey) ([]byte, error) {
	// Random padding defeats protocol fingerprinting.
	padded := append(append([]byte{}, body...), make([]byte, mrand.Intn(200)+100)...)

	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(padded)+crypto.ECIESOverhead))

	ct, err := crypto.ECIESEncrypt(remotePub, padded, nil, prefix[:])
	if err != nil {
		return nil, err
	}
	return append(prefix[:], ct...), nil
}

// readHandshakeMsg reads one EIP-8 sealed handshake packet and decrypts
// it. Returns the full packet (for MAC seeding) and the plaintext body.
func readHandshakeMsg(r io.Reader, prv *crypto.PrivateKey) (packet, body []byte, err error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, nil, err
	}
	size := binary.BigEndian.Uint16(prefix[:])
	if size < crypto.ECIESOverhead || size > maxHandshakeSize {
		return nil, nil, ErrBadHandshake
	}
	ct := make([]byte, size)
	if _, err := io.ReadFull(r, ct); err != nil {
		return nil, nil, err
	}
	body, err = crypto.ECIESDecrypt(prv, ct, nil, prefix[:])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	return append(prefix[:], ct...), body, nil
}

// pub64 marshals a public key to the 64-byte wire form.
func pub64(pub *crypto.PublicKey) []byte {
	return pub.SerializeUncompressed()[1:]
}

// xor32 XORs two equal-length byte strings.
func xor32(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
