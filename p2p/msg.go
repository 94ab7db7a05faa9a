// Package p2p implements the encrypted RLPx transport and the devp2p base
// protocol the SPV back-end speaks: the ECIES auth/ack handshake, 16-byte
// frame encryption with a rolling Keccak MAC, and the Hello, Disconnect,
// Ping and Pong base messages with snappy payload compression after Hello.
package p2p

import (
	"errors"
	"fmt"

	"github.com/ethwallet/ethwallet/rlp"
)

// devp2p base protocol message codes.
const (
	HelloMsg      = 0x00
	DisconnectMsg = 0x01
	PingMsg       = 0x02
	PongMsg       = 0x03

	// BaseProtocolLength is the code space reserved for the base
	// protocol; capability message codes start here.
	BaseProtocolLength = 16
)

// BaseProtocolVersion is the devp2p version announced in Hello. Version 5
// enables snappy frame compression.
const BaseProtocolVersion = 5

// Msg is a single devp2p message: a code and its RLP-encoded payload.
type Msg struct {
	Code    uint64
	Payload []byte
}

// DisconnectReason is the reason code carried by a Disconnect message.
type DisconnectReason uint64

// Disconnect reason codes.
const (
	DiscRequested           DisconnectReason = 0x00
	DiscNetworkError        DisconnectReason = 0x01
	DiscProtocolError       DisconnectReason = 0x02
	DiscUselessPeer         DisconnectReason = 0x03
	DiscTooManyPeers        DisconnectReason = 0x04
	DiscAlreadyConnected    DisconnectReason = 0x05
	DiscIncompatibleVersion DisconnectReason = 0x06
	DiscInvalidIdentity     DisconnectReason = 0x07
	DiscQuitting            DisconnectReason = 0x08
	DiscReadTimeout         DisconnectReason = 0x0a
	DiscOther               DisconnectReason = 0x10
)

// String returns the human-readable reason.
func (r DisconnectReason) String() string {
	switch r {
	case DiscRequested:
		return "disconnect requested"
	case DiscNetworkError:
		return "TCP subsystem error"
	case DiscProtocolError:
		return "breach of protocol"
	case DiscUselessPeer:
		return "useless peer"
	case DiscTooManyPeers:
		return "too many peers"
	case DiscAlreadyConnected:
		return "already connected"
	case DiscIncompatibleVersion:
		return "incompatible p2p protocol version"
	case DiscInvalidIdentity:
		return "invalid node identity"
	case DiscQuitting:
		return "client quitting"
	case DiscReadTimeout:
		return "read timeout"
	case DiscOther:
		return "other disconnect reason"
	default:
		return fmt.Sprintf("unknown disconnect reason %d", uint64(r))
	}
}

// Error makes a reason usable as a disconnect cause.
func (r DisconnectReason) Error() string { return r.String() }

// Cap is an announced protocol capability, ordered by name then version.
type Cap struct {
	Name    string
	Version uint64
}

// Less orders capabilities for the Hello announcement.
func (c Cap) Less(other Cap) bool {
	if c.Name != other.Name {
		return c.Name < other.Name
	}
	return c.Version < other.Version
}

// Hello is the devp2p handshake message.
type Hello struct {
	Version    uint64
	ClientID   string
	Caps       []Cap
	ListenPort uint64
	NodeID     []byte // 64-byte public key
}

var errBadHello = errors.New("p2p: malformed hello message")

// EncodeRLP returns the Hello message payload.
func (h *Hello) EncodeRLP() ([]byte, error) {
	caps := make([][]interface{}, len(h.Caps))
	for i, c := range h.Caps {
		caps[i] = []interface{}{c.Name, c.Version}
	}
	return rlp.EncodeToBytes([]interface{}{
		h.Version, h.ClientID, caps, h.ListenPort, h.NodeID,
	})
}

// DecodeHello parses a Hello payload.
func DecodeHello(payload []byte) (*Hello, error) {
	item, err := rlp.Parse(payload)
	if err != nil {
		return nil, err
	}
	// Future protocol versions may append fields; require the known five.
	if item.Kind != rlp.List || item.Len() < 5 {
		return nil, errBadHello
	}
	h := new(Hello)
	if h.Version, err = item.Items[0].Uint64(); err != nil {
		return nil, errBadHello
	}
	id, err := item.Items[1].Bytes()
	if err != nil {
		return nil, errBadHello
	}
	h.ClientID = string(id)

	capsItem := item.Items[2]
	if capsItem.Kind != rlp.List {
		return nil, errBadHello
	}
	for _, ci := range capsItem.Items {
		if ci.Kind != rlp.List || ci.Len() != 2 {
			return nil, errBadHello
		}
		name, err := ci.Items[0].Bytes()
		if err != nil {
			return nil, errBadHello
		}
		version, err := ci.Items[1].Uint64()
		if err != nil {
			return nil, errBadHello
		}
		h.Caps = append(h.Caps, Cap{Name: string(name), Version: version})
	}

	if h.ListenPort, err = item.Items[3].Uint64(); err != nil {
		return nil, errBadHello
	}
	if h.NodeID, err = item.Items[4].Bytes(); err != nil {
		return nil, errBadHello
	}
	return h, nil
}

// EncodeDisconnect returns a Disconnect message payload.
func EncodeDisconnect(reason DisconnectReason) []byte {
	enc, _ := rlp.EncodeToBytes([]interface{}{uint64(reason)})
	return enc
}

// DecodeDisconnect parses a Disconnect payload. Both the canonical
// single-element list and a bare integer are accepted.
func DecodeDisconnect(payload []byte) DisconnectReason {
	item, err := rlp.Parse(payload)
	if err != nil {
		return DiscOther
	}
	if item.Kind == rlp.List && item.Len() >= 1 {
		item = item.Items[0]
	}
	v, err := item.Uint64()
	if err != nil {
		return DiscOther
	}
	return DisconnectReason(v)
}
