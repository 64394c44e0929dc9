// Package p2p is the top-level dispatcher facade: it owns the TCP
// listener(s), classifies every inbound frame by start byte, and routes
// BROADCAST/NORMAL traffic upward while handing GOSSIP traffic to the
// RumorManager. Grounded on original_source/src/libNetwork/P2PComm.cpp.
package p2p

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"github.com/shardnode/shardnode/internal/blacklist"
	"github.com/shardnode/shardnode/internal/dedup"
	"github.com/shardnode/shardnode/internal/metrics"
	"github.com/shardnode/shardnode/internal/p2pserver"
	"github.com/shardnode/shardnode/internal/reputation"
	"github.com/shardnode/shardnode/internal/rumor"
	"github.com/shardnode/shardnode/internal/sendqueue"
	"github.com/shardnode/shardnode/internal/wire"
	"github.com/shardnode/shardnode/pkg/types"
)

// gossipHeaderSize matches rumor.gossipHeaderSize (type + round + sender
// listen port); kept local since that constant is unexported.
const gossipHeaderSize = 9

// Dispatcher receives every NORMAL, BROADCAST, and accepted GOSSIP frame
// once it has cleared classification and dedup.
type Dispatcher func(msg types.DispatchedMessage)

// P2P wires together the send queue, accept loop(s), broadcast dedup set,
// and rumor manager behind the single callback p2pserver.Server expects
// (SPEC_FULL §4.6).
type P2P struct {
	mu   sync.Mutex
	self types.Peer

	bl       *blacklist.Blacklist
	sendJobs *sendqueue.SendJobs
	dedup    *dedup.Set
	rumorMgr *rumor.Manager
	rep      *reputation.Manager
	m        *metrics.Registry
	log      *zap.SugaredLogger

	servers []*p2pserver.Server

	maxMessageSize uint32
	dispatcher     Dispatcher
}

// New constructs a P2P facade. rumorMgr may be nil if gossip is disabled for
// this node (e.g. a pure seed/bootstrap node). rep may be nil; when set, a
// malformed GOSSIP frame also punishes the sender's reputation score in
// addition to the strict blacklist entry p2pserver-level protocol errors
// already apply.
func New(bl *blacklist.Blacklist, sendJobs *sendqueue.SendJobs, dd *dedup.Set, rumorMgr *rumor.Manager, rep *reputation.Manager, maxMessageSize uint32, m *metrics.Registry, log *zap.SugaredLogger) *P2P {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &P2P{
		bl:             bl,
		sendJobs:       sendJobs,
		dedup:          dd,
		rumorMgr:       rumorMgr,
		rep:            rep,
		m:              m,
		log:            log.Named("p2p"),
		maxMessageSize: maxMessageSize,
	}
}

// SetSelfIdentity records this node's own listening address. Outbound gossip
// envelopes take their sender_listen_port from the rumor.Config passed to the
// RumorManager, not from this value.
func (p *P2P) SetSelfIdentity(self types.Peer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.self = self
}

// StartServer binds the primary P2P port and, when additionalPort is true,
// a second listener on port+1 sharing the same dispatch path (mirrors the
// original's "start two sockets, one for syncing" behaviour, SPEC_FULL
// §4.6). dispatcher is invoked for every accepted NORMAL/BROADCAST frame and
// every GOSSIP frame that results in an upward rumour dispatch.
func (p *P2P) StartServer(port int, additionalPort bool, dispatcher Dispatcher) error {
	p.mu.Lock()
	p.dispatcher = dispatcher
	p.mu.Unlock()

	srv, err := p2pserver.CreateAndStart(port, p.maxMessageSize, p.bl, p.DispatchMessage, p.log)
	if err != nil {
		return fmt.Errorf("p2p: starting primary server on port %d: %w", port, err)
	}
	p.mu.Lock()
	p.servers = append(p.servers, srv)
	p.mu.Unlock()

	if additionalPort {
		srv2, err := p2pserver.CreateAndStart(port+1, p.maxMessageSize, p.bl, p.DispatchMessage, p.log)
		if err != nil {
			return fmt.Errorf("p2p: starting additional server on port %d: %w", port+1, err)
		}
		p.mu.Lock()
		p.servers = append(p.servers, srv2)
		p.mu.Unlock()
	}
	return nil
}

// Close shuts down every listener started by StartServer.
func (p *P2P) Close() error {
	p.mu.Lock()
	servers := p.servers
	p.servers = nil
	p.mu.Unlock()

	var firstErr error
	for _, s := range servers {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SendMessage queues body for delivery to peer as a NORMAL frame.
func (p *P2P) SendMessage(peer types.Peer, body []byte) {
	p.sendJobs.SendToPeer(peer, body, types.StartByteNormal, false)
}

// SendMessages queues body for delivery to every peer in peers.
func (p *P2P) SendMessages(peers []types.Peer, body []byte) {
	for _, peer := range peers {
		p.SendMessage(peer, body)
	}
}

// SendMessageNoQueue bypasses the send queue entirely and writes body
// synchronously. CLI escape hatch only (SPEC_FULL §4.4).
func (p *P2P) SendMessageNoQueue(ctx context.Context, peer types.Peer, body []byte) error {
	return p.sendJobs.SendToPeerSynchronous(ctx, peer, body, types.StartByteNormal)
}

// SendBroadcastMessage frames body as BROADCAST (hash included), marks it
// seen locally so the node's own gossip echo is suppressed, and queues it to
// every peer.
func (p *P2P) SendBroadcastMessage(peers []types.Peer, body []byte) {
	hash := wire.HashBody(body)
	if p.dedup != nil {
		p.dedup.MarkSeenIfNew(hash)
	}
	for _, peer := range peers {
		p.sendJobs.SendToPeer(peer, body, types.StartByteBroadcast, false)
	}
}

// SpreadRumor introduces a locally-originated rumour to the gossip round
// loop. Returns false if no RumorManager is wired.
func (p *P2P) SpreadRumor(body []byte) bool {
	if p.rumorMgr == nil {
		return false
	}
	return p.rumorMgr.AddRumor(body)
}

// SpreadForeignRumor accepts a rumour that arrived already signed
// out-of-band (e.g. cross-shard) without requiring the sender to be a known
// gossip peer.
func (p *P2P) SpreadForeignRumor(pubKey, challenge, response, body []byte) bool {
	if p.rumorMgr == nil {
		return false
	}
	return p.rumorMgr.AddForeignRumor(pubKey, challenge, response, body)
}

// SendRumorToForeignPeer signs and forwards body to peer outside the normal
// round-based dissemination.
func (p *P2P) SendRumorToForeignPeer(peer types.Peer, body []byte) error {
	if p.rumorMgr == nil {
		return fmt.Errorf("p2p: no rumor manager configured")
	}
	return p.rumorMgr.SendRumorToForeignPeer(peer, body)
}

// SendRumorToForeignPeers forwards body to every peer in peers.
func (p *P2P) SendRumorToForeignPeers(peers []types.Peer, body []byte) error {
	if p.rumorMgr == nil {
		return fmt.Errorf("p2p: no rumor manager configured")
	}
	return p.rumorMgr.SendRumorToForeignPeers(peers, body)
}

// InitializeRumorManager (re)seeds gossip membership.
func (p *P2P) InitializeRumorManager(peers []types.Peer, fullNetworkKeys int) {
	if p.rumorMgr == nil {
		return
	}
	p.rumorMgr.Initialize(peers, fullNetworkKeys)
}

// DispatchMessage is the p2pserver.Callback invoked for every reassembled
// inbound frame. It classifies by start byte and returns false when the
// connection should be torn down (malformed GOSSIP header) and also when the
// RumorManager rejects a GOSSIP frame (for example one from an unknown peer).
func (p *P2P) DispatchMessage(from types.Peer, frame types.RawFrame) bool {
	switch frame.StartByte {
	case types.StartByteNormal:
		p.deliver(types.DispatchedMessage{Body: frame.Message, From: from, StartByte: frame.StartByte, Trace: frame.TraceInfo})
		return true

	case types.StartByteBroadcast:
		hash := wire.HashBody(frame.Message)
		if p.dedup == nil || p.dedup.MarkSeenIfNew(hash) {
			p.deliver(types.DispatchedMessage{Body: frame.Message, From: from, StartByte: frame.StartByte, Trace: frame.TraceInfo})
		}
		return true

	case types.StartByteGossip:
		return p.dispatchGossip(from, frame.Message)

	default:
		return true
	}
}

func (p *P2P) dispatchGossip(from types.Peer, body []byte) bool {
	if len(body) < gossipHeaderSize {
		if p.bl != nil {
			p.bl.Add(from, types.Strict)
		}
		if p.rep != nil {
			p.rep.PunishNode(from.NetIP().String())
		}
		p.log.Debugw("dropping undersized gossip frame", "peer", from.String(), "len", len(body))
		return false
	}

	msgType := types.GossipMsgType(body[0])
	round := binary.BigEndian.Uint32(body[1:5])
	senderPort := binary.BigEndian.Uint32(body[5:9])
	payload := body[gossipHeaderSize:]

	remote := types.Peer{IP: new(big.Int).Set(from.IP), Port: uint16(senderPort)}

	if p.rumorMgr == nil {
		return true
	}
	return p.rumorMgr.Receive(remote, msgType, round, payload)
}

// DeliverGossip is the upward hand-off point for the RumorManager: once a
// rumour's body clears push/pull and is accepted, it is delivered through
// the same dispatcher NORMAL/BROADCAST frames use, tagged StartByteGossip so
// callers can tell the transports apart.
func (p *P2P) DeliverGossip(body []byte, from types.Peer) {
	p.deliver(types.DispatchedMessage{Body: body, From: from, StartByte: types.StartByteGossip})
}

func (p *P2P) deliver(msg types.DispatchedMessage) {
	p.mu.Lock()
	d := p.dispatcher
	p.mu.Unlock()
	if d != nil {
		d(msg)
	}
}
