// rlpx.go implements RLPx frame encryption. Every frame is laid out as
//
//	header(16) || headerMAC(16) || payload(padded to 16) || frameMAC(16)
//
// with the payload AES-CTR encrypted under a counter shared across the
// whole session, and both MACs produced by the rolling Keccak states
// seeded during the handshake. Each frame mutates the MAC state twice
// (header, then payload); the next frame depends on the result, so frames
// cannot be reordered and any mismatch desynchronises the session for
// good.
package p2p

import (
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"sync"

	"github.com/golang/snappy"

	"github.com/ethwallet/ethwallet/crypto"
	"github.com/ethwallet/ethwallet/rlp"
)

const (
	// maxFrameSize limits a single frame payload to 16 MiB.
	maxFrameSize = 16 * 1024 * 1024
)

var (
	// ErrBadMAC is returned when a frame MAC check fails. The session is
	// unrecoverable afterwards.
	ErrBadMAC = errors.New("p2p: frame MAC mismatch")

	// ErrFrameTooLarge is returned for frames above the size limit.
	ErrFrameTooLarge = errors.New("p2p: frame too large")
)

// zeroHeader fills the unused portion of a frame header: RLP([0, 0])
// padded with zero bytes.
var zeroHeader = []byte{0xc2, 0x80, 0x80}

// Conn frames and encrypts messages over an RLPx session. Frame encoding
// is strictly sequential per direction; the rolling MAC forbids
// reordering.
type Conn struct {
	conn net.Conn

	enc       cipher.Stream
	dec       cipher.Stream
	macCipher cipher.Block
	secrets   *Secrets

	rmu, wmu sync.Mutex
	snappy   bool
}

// NewConn wraps a connection whose handshake produced the given secrets.
func NewConn(conn net.Conn, secrets *Secrets) (*Conn, error) {
	// Both directions run AES-CTR from a zero IV over the session key;
	// the stream counters advance with every frame and are never reset.
	iv := make([]byte, 16)
	enc, err := crypto.NewCTRStream(secrets.AES, iv)
	if err != nil {
		return nil, err
	}
	dec, err := crypto.NewCTRStream(secrets.AES, make([]byte, 16))
	if err != nil {
		return nil, err
	}
	macCipher, err := crypto.NewECB(secrets.MAC)
	if err != nil {
		return nil, err
	}
	return &Conn{
		conn:      conn,
		enc:       enc,
		dec:       dec,
		macCipher: macCipher,
		secrets:   secrets,
	}, nil
}

// SetSnappy toggles payload compression. Enabled after the Hello exchange
// when both sides speak devp2p v5 or later.
func (c *Conn) SetSnappy(enabled bool) {
	c.snappy = enabled
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// WriteMsg encrypts and writes one message as a single frame.
func (c *Conn) WriteMsg(msg Msg) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	data := msg.Payload
	if c.snappy && msg.Code >= BaseProtocolLength {
		data = snappy.Encode(nil, data)
	}

	code := rlp.AppendUint(nil, msg.Code)
	frameSize := len(code) + len(data)
	if frameSize > maxFrameSize {
		return ErrFrameTooLarge
	}

	// Header: 3-byte big-endian frame size, zero header, zero padding.
	header := make([]byte, 16)
	header[0] = byte(frameSize >> 16)
	header[1] = byte(frameSize >> 8)
	header[2] = byte(frameSize)
	copy(header[3:], zeroHeader)
	c.enc.XORKeyStream(header, header)
	headerMAC := updateMAC(c.secrets.EgressMAC, c.macCipher, header)

	if _, err := c.conn.Write(header); err != nil {
		return err
	}
	if _, err := c.conn.Write(headerMAC); err != nil {
		return err
	}

	// Body: code || data, zero-padded to a 16-byte boundary. Padding
	// participates in encryption and the MAC covers the ciphertext.
	body := make([]byte, padTo16(frameSize))
	copy(body, code)
	copy(body[len(code):], data)
	c.enc.XORKeyStream(body, body)
	c.secrets.EgressMAC.Write(body)
	frameMAC := updateMAC(c.secrets.EgressMAC, c.macCipher, c.secrets.EgressMAC.Sum(nil)[:16])

	if _, err := c.conn.Write(body); err != nil {
		return err
	}
	_, err := c.conn.Write(frameMAC)
	return err
}

// ReadMsg reads and decrypts one frame.
func (c *Conn) ReadMsg() (Msg, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	header := make([]byte, 16)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return Msg{}, err
	}
	wantHeaderMAC := make([]byte, 16)
	if _, err := io.ReadFull(c.conn, wantHeaderMAC); err != nil {
		return Msg{}, err
	}
	headerMAC := updateMAC(c.secrets.IngressMAC, c.macCipher, header)
	if subtle.ConstantTimeCompare(headerMAC, wantHeaderMAC) != 1 {
		return Msg{}, ErrBadMAC
	}

	c.dec.XORKeyStream(header, header)
	frameSize := int(binary.BigEndian.Uint32(append([]byte{0}, header[:3]...)))
	if frameSize > maxFrameSize {
		return Msg{}, fmt.Errorf("%w: %d", ErrFrameTooLarge, frameSize)
	}

	body := make([]byte, padTo16(frameSize))
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return Msg{}, err
	}
	wantFrameMAC := make([]byte, 16)
	if _, err := io.ReadFull(c.conn, wantFrameMAC); err != nil {
		return Msg{}, err
	}
	c.secrets.IngressMAC.Write(body)
	frameMAC := updateMAC(c.secrets.IngressMAC, c.macCipher, c.secrets.IngressMAC.Sum(nil)[:16])
	if subtle.ConstantTimeCompare(frameMAC, wantFrameMAC) != 1 {
		return Msg{}, ErrBadMAC
	}

	c.dec.XORKeyStream(body, body)
	body = body[:frameSize]

	codeItem, n, err := rlp.Split(body)
	if err != nil {
		return Msg{}, err
	}
	code, err := codeItem.Uint64()
	if err != nil {
		return Msg{}, err
	}
	payload := body[n:]

	if c.snappy && code >= BaseProtocolLength {
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return Msg{}, fmt.Errorf("p2p: snappy: %w", err)
		}
		if len(decoded) > maxFrameSize {
			return Msg{}, ErrFrameTooLarge
		}
		payload = decoded
	}
	return Msg{Code: code, Payload: payload}, nil
}

// updateMAC advances a rolling Keccak MAC state with one 16-byte seed:
// the current digest is AES-ECB encrypted under the MAC key, XORed with
// the seed and absorbed back into the state. Returns the first 16 bytes
// of the new digest. Deterministic and pure in (state, key, seed).
func updateMAC(mac hash.Hash, block cipher.Block, seed []byte) []byte {
	aesbuf := make([]byte, 16)
	block.Encrypt(aesbuf, mac.Sum(nil)[:16])
	for i := range aesbuf {
		aesbuf[i] ^= seed[i]
	}
	mac.Write(aesbuf)
	return mac.Sum(nil)[:16]
}

// padTo16 rounds n up to the frame alignment.
func padTo16(n int) int {
	if n%16 == 0 {
		return n
	}
	return n + 16 - n%16
}
