// Package les implements the client side of the Light Ethereum Subprotocol
// (les/2) on top of the RLPx transport: the Status exchange, the header
// request pipeline the SPV back-end syncs with, account proof fetching and
// transaction relay.
package les

import (
	"errors"
	"math/big"

	"github.com/ethwallet/ethwallet/rlp"
	"github.com/ethwallet/ethwallet/types"
)

// Protocol identity.
const (
	ProtocolName    = "les"
	ProtocolVersion = 2
)

// Message codes, relative to the capability offset.
const (
	StatusMsg          = 0x00
	AnnounceMsg        = 0x01
	GetBlockHeadersMsg = 0x02
	BlockHeadersMsg    = 0x03
	GetProofsMsg       = 0x08
	ProofsMsg          = 0x09
	SendTxMsg          = 0x0c
)

// MaxHeaderFetch is the number of headers requested per batch.
const MaxHeaderFetch = 192

var (
	// errBadStatus is returned for malformed status messages.
	errBadStatus = errors.New("les: malformed status message")

	// ErrWrongNetwork is returned when the peer serves a different chain.
	ErrWrongNetwork = errors.New("les: peer genesis or network mismatch")
)

// Status carries the les handshake announcement, wire-encoded as a list
// of [key, value] pairs.
type Status struct {
	ProtocolVersion uint64
	NetworkID       uint64
	HeadTd          *big.Int
	HeadHash        types.Hash
	HeadNum         uint64
	GenesisHash     types.Hash

	ServeHeaders    bool
	ServeChainSince *uint64
	ServeStateSince *uint64
	TxRelay         bool

	// Flow control: buffer limit, minimum recharge rate.
	FlowControlBL  uint64
	FlowControlMRR uint64
}

// EncodeRLP encodes the status as key-value pairs.
func (s *Status) EncodeRLP() ([]byte, error) {
	pairs := [][]interface{}{
		{"protocolVersion", s.ProtocolVersion},
		{"networkId", s.NetworkID},
		{"headTd", s.HeadTd},
		{"headHash", s.HeadHash},
		{"headNum", s.HeadNum},
		{"genesisHash", s.GenesisHash},
	}
	if s.ServeHeaders {
		pairs = append(pairs, []interface{}{"serveHeaders", uint64(1)})
	}
	if s.ServeChainSince != nil {
		pairs = append(pairs, []interface{}{"serveChainSince", *s.ServeChainSince})
	}
	if s.ServeStateSince != nil {
		pairs = append(pairs, []interface{}{"serveStateSince", *s.ServeStateSince})
	}
	if s.TxRelay {
		pairs = append(pairs, []interface{}{"txRelay", uint64(1)})
	}
	pairs = append(pairs,
		[]interface{}{"flowControl/BL", s.FlowControlBL},
		[]interface{}{"flowControl/MRR", s.FlowControlMRR},
	)
	return rlp.EncodeToBytes(pairs)
}

// DecodeStatus parses a status payload.
func DecodeStatus(payload []byte) (*Status, error) {
	item, err := rlp.Parse(payload)
	if err != nil || item.Kind != rlp.List {
		return nil, errBadStatus
	}
	s := new(Status)
	for _, pair := range item.Items {
		if pair.Kind != rlp.List || pair.Len() != 2 {
			return nil, errBadStatus
		}
		keyBytes, err := pair.Items[0].Bytes()
		if err != nil {
			return nil, errBadStatus
		}
		value := pair.Items[1]
		switch string(keyBytes) {
		case "protocolVersion":
			s.ProtocolVersion, err = value.Uint64()
		case "networkId":
			s.NetworkID, err = value.Uint64()
		case "headTd":
			s.HeadTd, err = value.BigInt()
		case "headHash":
			var b []byte
			b, err = value.Bytes()
			s.HeadHash = types.BytesToHash(b)
		case "headNum":
			s.HeadNum, err = value.Uint64()
		case "genesisHash":
			var b []byte
			b, err = value.Bytes()
			s.GenesisHash = types.BytesToHash(b)
		case "serveHeaders":
			s.ServeHeaders = true
		case "serveChainSince":
			var v uint64
			v, err = value.Uint64()
			s.ServeChainSince = &v
		case "serveStateSince":
			var v uint64
			v, err = value.Uint64()
			s.ServeStateSince = &v
		case "txRelay":
			s.TxRelay = true
		case "flowControl/BL":
			s.FlowControlBL, err = value.Uint64()
		case "flowControl/MRR":
			s.FlowControlMRR, err = value.Uint64()
		default:
			// Unknown keys are ignored for forward compatibility.
		}
		if err != nil {
			return nil, errBadStatus
		}
	}
	return s, nil
}

// encodeGetHeaders builds a GetBlockHeaders request by block number.
func encodeGetHeaders(reqID, origin uint64, amount int) ([]byte, error) {
	return rlp.EncodeToBytes([]interface{}{
		reqID,
		[]interface{}{origin, uint64(amount), uint64(0), uint64(0)}, // origin, amount, skip, reverse=false
	})
}

// decodeHeadersReply parses a BlockHeaders response: [reqID, BV, [header...]].
func decodeHeadersReply(payload []byte) (reqID uint64, headers []*types.BlockHeader, err error) {
	item, err := rlp.Parse(payload)
	if err != nil || item.Kind != rlp.List || item.Len() != 3 {
		return 0, nil, errors.New("les: malformed block headers reply")
	}
	if reqID, err = item.Items[0].Uint64(); err != nil {
		return 0, nil, err
	}
	list := item.Items[2]
	if list.Kind != rlp.List {
		return 0, nil, errors.New("les: malformed block headers reply")
	}
	for _, hi := range list.Items {
		h, err := types.DecodeHeader(hi)
		if err != nil {
			return 0, nil, err
		}
		headers = append(headers, h)
	}
	return reqID, headers, nil
}

// encodeGetProofs builds a GetProofs request for one account with no
// storage key.
func encodeGetProofs(reqID uint64, blockHash types.Hash, addr types.Address) ([]byte, error) {
	return rlp.EncodeToBytes([]interface{}{
		reqID,
		[]interface{}{
			[]interface{}{blockHash, addr[:], []byte{}, uint64(0)},
		},
	})
}

// decodeProofsReply parses a Proofs response: [reqID, BV, [node...]].
func decodeProofsReply(payload []byte) (reqID uint64, nodes [][]byte, err error) {
	item, err := rlp.Parse(payload)
	if err != nil || item.Kind != rlp.List || item.Len() != 3 {
		return 0, nil, errors.New("les: malformed proofs reply")
	}
	if reqID, err = item.Items[0].Uint64(); err != nil {
		return 0, nil, err
	}
	list := item.Items[2]
	if list.Kind != rlp.List {
		return 0, nil, errors.New("les: malformed proofs reply")
	}
	for _, ni := range list.Items {
		// Proof nodes are themselves RLP lists; keep the raw encoding
		// for hashing during verification.
		nodes = append(nodes, ni.Raw)
	}
	return reqID, nodes, nil
}

// encodeSendTx builds a SendTx message relaying signed transactions.
func encodeSendTx(reqID uint64, signed [][]byte) ([]byte, error) {
	txs := make([]interface{}, len(signed))
	for i, s := range signed {
		// Each entry is an already-encoded transaction.
		if _, err := rlp.Parse(s); err != nil {
			return nil, err
		}
		txs[i] = rlp.RawValue(s)
	}
	return rlp.EncodeToBytes([]interface{}{reqID, txs})
}
