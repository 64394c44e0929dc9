// Package types holds the wire- and state-level data shapes shared across the
// networking, gossip, and DS-committee-rotation core.
package types

import (
	"fmt"
	"math/big"
	"net"
)

// StartByte tags the interpretation of a TCP frame's body (see internal/wire).
type StartByte byte

const (
	StartByteNormal    StartByte = 0x11
	StartByteBroadcast StartByte = 0x22
	StartByteGossip    StartByte = 0x33
)

func (s StartByte) String() string {
	switch s {
	case StartByteNormal:
		return "NORMAL"
	case StartByteBroadcast:
		return "BROADCAST"
	case StartByteGossip:
		return "GOSSIP"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(s))
	}
}

// Peer identifies a network endpoint. IP is stored as a big-endian big.Int so
// both IPv4 and IPv6 addresses fit the same field, matching the original
// uint128 representation. A zero IP or zero Port means "unroutable".
type Peer struct {
	IP       *big.Int `json:"ip"`
	Port     uint16   `json:"port"`
	Hostname string   `json:"hostname,omitempty"`
	NodeID   string   `json:"node_id,omitempty"`
}

// ZeroPeer returns the sentinel "no network address" peer used when a
// committee member's own identity must be zeroed to avoid self-connect.
func ZeroPeer() Peer {
	return Peer{IP: big.NewInt(0)}
}

// IsRoutable reports whether the peer has a usable address and port. A
// hostname peer is routable on port alone; DNS resolution supplies the IP
// lazily at connect time (SPEC_FULL §4.3).
func (p Peer) IsRoutable() bool {
	if p.Port == 0 {
		return false
	}
	if p.Hostname != "" {
		return true
	}
	return p.IP != nil && p.IP.Sign() != 0
}

// Key returns the blacklist/membership identity tuple as a comparable string.
func (p Peer) Key() string {
	ip := "0"
	if p.IP != nil {
		ip = p.IP.String()
	}
	return fmt.Sprintf("%s:%d:%s", ip, p.Port, p.NodeID)
}

func (p Peer) String() string {
	if p.Hostname != "" {
		return fmt.Sprintf("%s:%d", p.Hostname, p.Port)
	}
	return fmt.Sprintf("%s:%d", p.NetIP().String(), p.Port)
}

// NetIP converts the peer's big-endian IP into a standard library net.IP,
// choosing 4-byte form when the value fits in 32 bits and 16-byte form
// otherwise (v4 vs v6 addresses stored in the same u128 field).
func (p Peer) NetIP() net.IP {
	if p.IP == nil {
		return net.IPv4zero
	}
	b := p.IP.Bytes()
	if len(b) <= 4 {
		padded := make([]byte, 4)
		copy(padded[4-len(b):], b)
		return net.IPv4(padded[0], padded[1], padded[2], padded[3])
	}
	padded := make([]byte, 16)
	copy(padded[16-len(b):], b)
	return padded
}

// HasHostname reports whether DNS-based reconnection applies to this peer.
func (p Peer) HasHostname() bool {
	return p.Hostname != ""
}

// PubKey is an opaque, comparable public key identifying a committee member.
// Stored as a hex-encoded string so it can be used as a Go map key directly
// and sorts lexicographically the same way the original's serialised-bytes
// comparison does.
type PubKey string

// Message is an outbound payload awaiting framing and send-queue dispatch.
type Message struct {
	Body         []byte
	TraceContext string
}

// RawFrame is a fully reassembled inbound frame, as handed from P2PServer up
// to the P2P dispatcher.
type RawFrame struct {
	StartByte     StartByte
	Message       []byte
	BroadcastHash [32]byte
	HasHash       bool
	TraceInfo     string
}

// DispatchedMessage is what the dispatcher closure receives for NORMAL,
// BROADCAST, and (accepted) GOSSIP frames.
type DispatchedMessage struct {
	Body      []byte
	From      Peer
	StartByte StartByte
	Trace     string
}

// GossipMsgType is the one-byte type tag of a gossip sub-envelope (SPEC_FULL
// §4.7, §6).
type GossipMsgType byte

const (
	GossipUndefined GossipMsgType = iota
	GossipEmptyPush
	GossipEmptyPull
	GossipLazyPush
	GossipLazyPull
	GossipPush
	GossipPull
	GossipForward
)

func (t GossipMsgType) String() string {
	switch t {
	case GossipEmptyPush:
		return "EMPTY_PUSH"
	case GossipEmptyPull:
		return "EMPTY_PULL"
	case GossipLazyPush:
		return "LAZY_PUSH"
	case GossipLazyPull:
		return "LAZY_PULL"
	case GossipPush:
		return "PUSH"
	case GossipPull:
		return "PULL"
	case GossipForward:
		return "FORWARD"
	default:
		return "UNDEFINED"
	}
}

// CommitteeMember is one (pub_key, Peer) entry in the ordered DS committee
// deque. Position is significant: index 0..NumDSGuards-1 are guards.
type CommitteeMember struct {
	PubKey PubKey
	Peer   Peer
}

// DSBlock carries the inputs to one committee rotation (SPEC_FULL §4.8).
type DSBlock struct {
	BlockNum       uint64
	PoWWinners     map[PubKey]Peer // NewDSMembers
	RemovePubKeys  []PubKey        // demoted for non-performance, in order
}

// MinerInfo accumulates lookup-only bookkeeping produced by a rotation.
type MinerInfo struct {
	DSNodes        []PubKey // final committee snapshot (guards excluded)
	DSNodesEjected []PubKey // nodes aged out this rotation
}

// BlacklistSeverity distinguishes entries that can never be bypassed from
// ones a caller may explicitly tolerate.
type BlacklistSeverity int

const (
	Relaxed BlacklistSeverity = iota
	Strict
)

func (s BlacklistSeverity) String() string {
	if s == Strict {
		return "strict"
	}
	return "relaxed"
}

// APIRequest is the unit of work handed from the network core into
// APIThreadPool (SPEC_FULL §4.11).
type APIRequest struct {
	ID          string
	IsWebsocket bool
	From        string
	Body        string
}

// APIResponse is the worker's reply, routed back through the owner feedback
// callback.
type APIResponse struct {
	ID          string
	IsWebsocket bool
	Code        int
	Body        string
}

// OKResponseCode is the default success HTTP-style code for APIResponse.
const OKResponseCode = 200
