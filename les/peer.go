// peer.go drives one les/2 peer connection through its lifecycle:
//
//	Connecting -> AuthSent -> AuthAckReceived -> HelloExchange ->
//	StatusExchange -> Ready -> (Syncing <-> Ready) -> Disconnected
//
// and multiplexes the devp2p base messages (ping/pong/disconnect) with the
// les request/response traffic.
package les

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set"

	"github.com/ethwallet/ethwallet/crypto"
	"github.com/ethwallet/ethwallet/log"
	"github.com/ethwallet/ethwallet/p2p"
	"github.com/ethwallet/ethwallet/params"
	"github.com/ethwallet/ethwallet/rlp"
	"github.com/ethwallet/ethwallet/types"
)

// Peer lifecycle states.
type PeerState int32

const (
	StateConnecting PeerState = iota
	StateAuthSent
	StateAuthAckReceived
	StateHelloExchange
	StateStatusExchange
	StateReady
	StateSyncing
	StateDisconnected
)

// String returns the state name.
func (s PeerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthSent:
		return "auth-sent"
	case StateAuthAckReceived:
		return "auth-ack-received"
	case StateHelloExchange:
		return "hello-exchange"
	case StateStatusExchange:
		return "status-exchange"
	case StateReady:
		return "ready"
	case StateSyncing:
		return "syncing"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Keepalive timing.
const (
	pingInterval = 15 * time.Second
	pongTimeout  = 5 * time.Second

	requestTimeout = 20 * time.Second
)

var (
	// ErrPeerClosed is returned for operations on a disconnected peer.
	ErrPeerClosed = errors.New("les: peer disconnected")

	// ErrNoUsefulCapability is returned when the capability intersection
	// is empty.
	ErrNoUsefulCapability = errors.New("les: peer does not serve les/2")

	errDuplicateReply = errors.New("les: reply for unknown request")
)

// clientID is announced in the devp2p Hello.
const clientID = "ethwallet/les/2"

// Peer is one live les/2 connection.
type Peer struct {
	net    *params.Network
	key    *crypto.PrivateKey
	conn   *p2p.Conn
	raw    net.Conn
	logger *log.Logger

	state atomic.Int32

	// Peer head, updated by Status and Announce.
	headMu   sync.Mutex
	headHash types.Hash
	headNum  uint64
	headTd   *big.Int

	reqID   atomic.Uint64
	pending sync.Map // reqID -> chan reply

	// knownTxs tracks transaction hashes already relayed to this peer.
	knownTxs mapset.Set

	closeOnce  sync.Once
	closed     chan struct{}
	closeErr   error
	activityCh chan struct{}
	pongCh     chan struct{}
}

// reply routes a les response payload to its requester.
type reply struct {
	code    uint64
	payload []byte
}

// Dial opens a TCP connection to the peer and completes the RLPx, devp2p
// and les handshakes. remotePub is the peer's static node key.
func Dial(ctx context.Context, addr string, key *crypto.PrivateKey, remotePub *crypto.PublicKey, network *params.Network) (*Peer, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	p, err := NewPeer(raw, key, remotePub, network)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return p, nil
}

// NewPeer completes the handshakes over an established connection and
// starts the peer's read and keepalive loops.
func NewPeer(raw net.Conn, key *crypto.PrivateKey, remotePub *crypto.PublicKey, network *params.Network) (*Peer, error) {
	p := &Peer{
		net:        network,
		key:        key,
		raw:        raw,
		logger:     log.Module("les"),
		knownTxs:   mapset.NewSet(),
		closed:     make(chan struct{}),
		activityCh: make(chan struct{}, 1),
		pongCh:     make(chan struct{}, 1),
	}
	p.state.Store(int32(StateConnecting))

	if err := p.handshake(remotePub); err != nil {
		p.close(err)
		return nil, err
	}

	go p.readLoop()
	go p.keepaliveLoop()
	return p, nil
}

// handshake walks the connection to Ready.
func (p *Peer) handshake(remotePub *crypto.PublicKey) error {
	// RLPx auth/ack.
	p.setState(StateAuthSent)
	secrets, err := p2p.InitiatorHandshake(p.raw, p.key, remotePub)
	if err != nil {
		return err
	}
	p.setState(StateAuthAckReceived)
	conn, err := p2p.NewConn(p.raw, secrets)
	if err != nil {
		return err
	}
	p.conn = conn

	// devp2p Hello.
	p.setState(StateHelloExchange)
	hello := &p2p.Hello{
		Version:  p2p.BaseProtocolVersion,
		ClientID: clientID,
		Caps:     []p2p.Cap{{Name: ProtocolName, Version: ProtocolVersion}},
		NodeID:   p.key.PubKey().SerializeUncompressed()[1:],
	}
	payload, err := hello.EncodeRLP()
	if err != nil {
		return err
	}
	if err := conn.WriteMsg(p2p.Msg{Code: p2p.HelloMsg, Payload: payload}); err != nil {
		return err
	}
	msg, err := conn.ReadMsg()
	if err != nil {
		return err
	}
	if msg.Code == p2p.DisconnectMsg {
		return fmt.Errorf("les: peer disconnected during hello: %v", p2p.DecodeDisconnect(msg.Payload))
	}
	if msg.Code != p2p.HelloMsg {
		return p.abort(p2p.DiscProtocolError)
	}
	remoteHello, err := p2p.DecodeHello(msg.Payload)
	if err != nil {
		return p.abort(p2p.DiscProtocolError)
	}
	if !hasCap(remoteHello.Caps, p2p.Cap{Name: ProtocolName, Version: ProtocolVersion}) {
		return p.abort(p2p.DiscUselessPeer)
	}
	if remoteHello.Version >= p2p.BaseProtocolVersion {
		conn.SetSnappy(true)
	}

	// les Status.
	p.setState(StateStatusExchange)
	status := &Status{
		ProtocolVersion: ProtocolVersion,
		NetworkID:       p.net.NetworkID,
		HeadTd:          p.net.Checkpoint.TotalDifficulty,
		HeadHash:        p.net.Checkpoint.Hash,
		HeadNum:         p.net.Checkpoint.Number,
		GenesisHash:     p.net.GenesisHash,
	}
	statusPayload, err := status.EncodeRLP()
	if err != nil {
		return err
	}
	if err := conn.WriteMsg(p2p.Msg{Code: p2p.BaseProtocolLength + StatusMsg, Payload: statusPayload}); err != nil {
		return err
	}
	msg, err = conn.ReadMsg()
	if err != nil {
		return err
	}
	if msg.Code != p2p.BaseProtocolLength+StatusMsg {
		return p.abort(p2p.DiscProtocolError)
	}
	remoteStatus, err := DecodeStatus(msg.Payload)
	if err != nil {
		return p.abort(p2p.DiscProtocolError)
	}
	if remoteStatus.GenesisHash != p.net.GenesisHash || remoteStatus.NetworkID != p.net.NetworkID {
		p.abort(p2p.DiscUselessPeer)
		return ErrWrongNetwork
	}

	p.headMu.Lock()
	p.headHash = remoteStatus.HeadHash
	p.headNum = remoteStatus.HeadNum
	p.headTd = remoteStatus.HeadTd
	p.headMu.Unlock()

	p.setState(StateReady)
	p.logger.Info("les peer ready", "head", remoteStatus.HeadNum, "td", remoteStatus.HeadTd)
	return nil
}

// abort sends a disconnect and reports the reason as an error.
func (p *Peer) abort(reason p2p.DisconnectReason) error {
	p.Disconnect(reason)
	return reason
}

// hasCap reports whether want is in the announced capability set.
func hasCap(caps []p2p.Cap, want p2p.Cap) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}

// State returns the current lifecycle state.
func (p *Peer) State() PeerState {
	return PeerState(p.state.Load())
}

func (p *Peer) setState(s PeerState) {
	p.state.Store(int32(s))
}

// Head returns the peer's announced chain head.
func (p *Peer) Head() (types.Hash, uint64, *big.Int) {
	p.headMu.Lock()
	defer p.headMu.Unlock()
	return p.headHash, p.headNum, p.headTd
}

// Closed returns a channel closed when the peer disconnects.
func (p *Peer) Closed() <-chan struct{} { return p.closed }

// Err returns the disconnect cause after Closed is closed.
func (p *Peer) Err() error { return p.closeErr }

// Disconnect sends a Disconnect message and tears the connection down.
func (p *Peer) Disconnect(reason p2p.DisconnectReason) {
	if p.conn != nil {
		p.conn.WriteMsg(p2p.Msg{Code: p2p.DisconnectMsg, Payload: p2p.EncodeDisconnect(reason)})
	}
	p.close(reason)
}

func (p *Peer) close(err error) {
	p.closeOnce.Do(func() {
		p.closeErr = err
		p.setState(StateDisconnected)
		p.raw.Close()
		close(p.closed)
		// Fail all in-flight requests.
		p.pending.Range(func(key, value interface{}) bool {
			close(value.(chan reply))
			p.pending.Delete(key)
			return true
		})
	})
}

// readLoop dispatches inbound messages until the connection dies.
func (p *Peer) readLoop() {
	for {
		msg, err := p.conn.ReadMsg()
		if err != nil {
			p.close(err)
			return
		}
		p.markActivity()

		switch {
		case msg.Code == p2p.PingMsg:
			p.conn.WriteMsg(p2p.Msg{Code: p2p.PongMsg, Payload: []byte{0xc0}})

		case msg.Code == p2p.PongMsg:
			select {
			case p.pongCh <- struct{}{}:
			default:
			}

		case msg.Code == p2p.DisconnectMsg:
			reason := p2p.DecodeDisconnect(msg.Payload)
			p.logger.Warn("peer disconnected", "reason", reason)
			p.close(reason)
			return

		case msg.Code == p2p.BaseProtocolLength+AnnounceMsg:
			p.handleAnnounce(msg.Payload)

		case msg.Code == p2p.BaseProtocolLength+BlockHeadersMsg,
			msg.Code == p2p.BaseProtocolLength+ProofsMsg:
			p.routeReply(msg)

		default:
			// Unsolicited or unsupported message; tolerated.
			p.logger.Debug("ignoring message", "code", msg.Code)
		}
	}
}

// handleAnnounce updates the peer head from an Announce message:
// [headHash, headNum, headTd, reorgDepth, ...].
func (p *Peer) handleAnnounce(payload []byte) {
	item, err := rlp.Parse(payload)
	if err != nil || item.Kind != rlp.List || item.Len() < 3 {
		return
	}
	hashBytes, err := item.Items[0].Bytes()
	if err != nil {
		return
	}
	num, err := item.Items[1].Uint64()
	if err != nil {
		return
	}
	td, err := item.Items[2].BigInt()
	if err != nil {
		return
	}
	p.headMu.Lock()
	if p.headTd == nil || td.Cmp(p.headTd) > 0 {
		p.headHash = types.BytesToHash(hashBytes)
		p.headNum = num
		p.headTd = td
	}
	p.headMu.Unlock()
}

// routeReply hands a response to the matching request channel.
func (p *Peer) routeReply(msg p2p.Msg) {
	item, err := rlp.Parse(msg.Payload)
	if err != nil || item.Kind != rlp.List || item.Len() < 1 {
		return
	}
	id, err := item.Items[0].Uint64()
	if err != nil {
		return
	}
	ch, ok := p.pending.LoadAndDelete(id)
	if !ok {
		p.logger.Debug("reply for unknown request", "reqID", id)
		return
	}
	ch.(chan reply) <- reply{code: msg.Code, payload: msg.Payload}
}

// markActivity resets the keepalive idle timer.
func (p *Peer) markActivity() {
	select {
	case p.activityCh <- struct{}{}:
	default:
	}
}

// keepaliveLoop pings the peer after 15s idle and disconnects with
// TimeOut when no pong arrives within 5s.
func (p *Peer) keepaliveLoop() {
	idle := time.NewTimer(pingInterval)
	defer idle.Stop()
	for {
		select {
		case <-p.closed:
			return
		case <-p.activityCh:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(pingInterval)
		case <-idle.C:
			if err := p.conn.WriteMsg(p2p.Msg{Code: p2p.PingMsg, Payload: []byte{0xc0}}); err != nil {
				p.close(err)
				return
			}
			select {
			case <-p.pongCh:
				idle.Reset(pingInterval)
			case <-time.After(pongTimeout):
				p.logger.Warn("ping timeout")
				p.Disconnect(p2p.DiscReadTimeout)
				return
			case <-p.closed:
				return
			}
		}
	}
}

// request sends a message and waits for its routed reply.
func (p *Peer) request(ctx context.Context, code uint64, payload []byte) ([]byte, error) {
	select {
	case <-p.closed:
		return nil, ErrPeerClosed
	default:
	}

	item, err := rlp.Parse(payload)
	if err != nil || item.Len() < 1 {
		return nil, errors.New("les: malformed request payload")
	}
	id, _ := item.Items[0].Uint64()

	ch := make(chan reply, 1)
	p.pending.Store(id, ch)
	defer p.pending.Delete(id)

	if err := p.conn.WriteMsg(p2p.Msg{Code: code, Payload: payload}); err != nil {
		p.close(err)
		return nil, err
	}

	select {
	case r, ok := <-ch:
		if !ok {
			return nil, ErrPeerClosed
		}
		return r.payload, nil
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("les: request %d timed out", id)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, ErrPeerClosed
	}
}

// RequestHeaders fetches up to amount headers starting at origin,
// ascending without skips.
func (p *Peer) RequestHeaders(ctx context.Context, origin uint64, amount int) ([]*types.BlockHeader, error) {
	id := p.reqID.Add(1)
	payload, err := encodeGetHeaders(id, origin, amount)
	if err != nil {
		return nil, err
	}
	replyPayload, err := p.request(ctx, p2p.BaseProtocolLength+GetBlockHeadersMsg, payload)
	if err != nil {
		return nil, err
	}
	replyID, headers, err := decodeHeadersReply(replyPayload)
	if err != nil {
		return nil, err
	}
	if replyID != id {
		return nil, errDuplicateReply
	}
	return headers, nil
}

// RequestAccountProof fetches the Merkle-Patricia proof of the account at
// the given block.
func (p *Peer) RequestAccountProof(ctx context.Context, blockHash types.Hash, addr types.Address) ([][]byte, error) {
	id := p.reqID.Add(1)
	payload, err := encodeGetProofs(id, blockHash, addr)
	if err != nil {
		return nil, err
	}
	replyPayload, err := p.request(ctx, p2p.BaseProtocolLength+GetProofsMsg, payload)
	if err != nil {
		return nil, err
	}
	replyID, nodes, err := decodeProofsReply(replyPayload)
	if err != nil {
		return nil, err
	}
	if replyID != id {
		return nil, errDuplicateReply
	}
	return nodes, nil
}

// SendTransaction relays a signed transaction. Transactions already sent
// to this peer are skipped.
func (p *Peer) SendTransaction(txHash types.Hash, signed []byte) error {
	if p.knownTxs.Contains(txHash) {
		return nil
	}
	id := p.reqID.Add(1)
	payload, err := encodeSendTx(id, [][]byte{signed})
	if err != nil {
		return err
	}
	if err := p.conn.WriteMsg(p2p.Msg{Code: p2p.BaseProtocolLength + SendTxMsg, Payload: payload}); err != nil {
		p.close(err)
		return err
	}
	p.knownTxs.Add(txHash)
	return nil
}
