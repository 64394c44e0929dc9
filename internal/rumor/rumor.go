// Package rumor implements the Rumour-Riding-Stochastic push-pull epidemic
// protocol layered over GOSSIP frames: a rumour's hash is advertised first
// (LAZY_PUSH/LAZY_PULL), and the body is pulled on demand (PULL/PUSH).
// Grounded on original_source/src/libNetwork/RumorManager.cpp; the round
// arithmetic itself has no library in the example pack, so it is
// reimplemented here as the documented step function (SPEC_FULL §9) rather
// than ported line-for-line.
package rumor

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/shardnode/shardnode/internal/metrics"
	"github.com/shardnode/shardnode/pkg/types"
)

// Crypto-field sizes for the FORWARD envelope's signed prefix (SPEC_FULL
// §6), matching the Schnorr signature scheme assumed available per SPEC_FULL
// §1 as an external collaborator.
const (
	PubKeySize         = 33
	SigChallengeSize   = 32
	SigResponseSize    = 32
	gossipHeaderSize   = 9 // type(1) + round(4) + sender_listen_port(4)
	forwardPrefixSize  = PubKeySize + SigChallengeSize + SigResponseSize
	defaultFanout      = 4
	defaultMaxRounds   = 4
)

// Errors per SPEC_FULL §7.
var (
	ErrUnknownPeer      = errors.New("rumor: unknown peer")
	ErrUnsolicitedPush  = errors.New("rumor: unsolicited push")
	ErrSignatureInvalid = errors.New("rumor: invalid forward signature")
)

// CryptoProvider signs and verifies the FORWARD envelope's pubkey/challenge/
// response triplet. Schnorr sign/verify is assumed available as a library
// with documented signatures (SPEC_FULL §1); production wiring supplies the
// real implementation, tests may supply a stub.
type CryptoProvider interface {
	Sign(body []byte) (pubKey, challenge, response []byte, err error)
	Verify(pubKey, challenge, response, body []byte) bool
}

// NoopCrypto is the documented stub used when no real Schnorr implementation
// is wired in: it signs with zero-filled fields and accepts every
// signature. Never use in production.
type NoopCrypto struct{}

func (NoopCrypto) Sign(body []byte) ([]byte, []byte, []byte, error) {
	return make([]byte, PubKeySize), make([]byte, SigChallengeSize), make([]byte, SigResponseSize), nil
}

func (NoopCrypto) Verify(pubKey, challenge, response, body []byte) bool { return true }

// SendFunc transmits a fully-built gossip sub-envelope to peer as a GOSSIP
// frame. The caller (internal/p2p) is responsible for wire framing.
type SendFunc func(peer types.Peer, envelope []byte)

// DispatchFunc delivers a rumour's cleartext body upward, exactly once per
// rumour (SPEC_FULL invariant 4).
type DispatchFunc func(body []byte, from types.Peer)

type rumorEntry struct {
	id           uint32
	hash         [32]byte
	raw          []byte
	hasRaw       bool
	createdRound uint32
}

// Manager owns all gossip protocol state for one node.
type Manager struct {
	mu sync.Mutex

	peersByKey map[string]types.Peer
	peerIDs    map[string]int32
	nextPeerID int32

	rumors      map[string]*rumorEntry // keyed by hex(hash)
	nextRumorID uint32

	subscribers map[string]map[string]types.Peer // hash -> peer key -> peer

	buffered [][]byte

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	round          uint32
	selfListenPort uint16
	fanout         int
	maxRounds      uint32

	crypto CryptoProvider
	send   SendFunc
	upward DispatchFunc

	m   *metrics.Registry
	log *zap.SugaredLogger
}

// Config holds the tunables SPEC_FULL §5/§9 name for the round loop.
type Config struct {
	SelfListenPort uint16
	Fanout         int
	MaxRounds      uint32
}

// DefaultConfig returns reasonable round-loop defaults.
func DefaultConfig(selfListenPort uint16) Config {
	return Config{SelfListenPort: selfListenPort, Fanout: defaultFanout, MaxRounds: defaultMaxRounds}
}

// New constructs a Manager. send and upward must not be nil; crypto may be
// nil, in which case NoopCrypto is used.
func New(cfg Config, crypto CryptoProvider, send SendFunc, upward DispatchFunc, m *metrics.Registry, log *zap.SugaredLogger) *Manager {
	if crypto == nil {
		crypto = NoopCrypto{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	fanout := cfg.Fanout
	if fanout <= 0 {
		fanout = defaultFanout
	}
	maxRounds := cfg.MaxRounds
	if maxRounds == 0 {
		maxRounds = defaultMaxRounds
	}
	return &Manager{
		peersByKey:     make(map[string]types.Peer),
		peerIDs:        make(map[string]int32),
		rumors:         make(map[string]*rumorEntry),
		subscribers:    make(map[string]map[string]types.Peer),
		selfListenPort: cfg.SelfListenPort,
		fanout:         fanout,
		maxRounds:      maxRounds,
		crypto:         crypto,
		send:           send,
		upward:         upward,
		m:              m,
		log:            log.Named("rumor"),
	}
}

func hashKey(h [32]byte) string { return hex.EncodeToString(h[:]) }

// Initialize (re)seeds gossip membership from peers. fullNetworkKeys (the
// size of the full network this node gossips within) is kept for parity with
// the original's InitializeRumorManager signature; it is not stored or used.
func (rm *Manager) Initialize(peers []types.Peer, fullNetworkKeys int) {
	rm.mu.Lock()
	rm.peersByKey = make(map[string]types.Peer, len(peers))
	rm.peerIDs = make(map[string]int32, len(peers))
	rm.nextPeerID = 0
	for _, p := range peers {
		key := p.Key()
		rm.peersByKey[key] = p
		rm.peerIDs[key] = rm.nextPeerID
		rm.nextPeerID++
	}
	buffered := rm.buffered
	rm.buffered = nil
	hasPeers := len(rm.peersByKey) > 0
	rm.mu.Unlock()

	if hasPeers {
		for _, body := range buffered {
			rm.AddRumor(body)
		}
	}
}

// KnownPeers returns a snapshot of current gossip membership.
func (rm *Manager) KnownPeers() []types.Peer {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]types.Peer, 0, len(rm.peersByKey))
	for _, p := range rm.peersByKey {
		out = append(out, p)
	}
	return out
}

// AddRumor introduces a locally-originated rumour into the gossip rounds.
// Returns false if rounds are not yet running (body is buffered and offered
// again by StartRounds, or by Initialize when it sees peers) or if the
// rumour is already known.
func (rm *Manager) AddRumor(body []byte) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.running {
		rm.buffered = append(rm.buffered, body)
		return false
	}
	if len(rm.peersByKey) == 0 {
		return true
	}
	hash := sha256.Sum256(body)
	key := hashKey(hash)
	if _, known := rm.rumors[key]; known {
		return false
	}
	rm.rumors[key] = &rumorEntry{
		id:           rm.nextRumorID,
		hash:         hash,
		raw:          body,
		hasRaw:       true,
		createdRound: rm.round,
	}
	rm.nextRumorID++
	return true
}

func encodeEnvelope(msgType types.GossipMsgType, round uint32, listenPort uint16, payload []byte) []byte {
	out := make([]byte, gossipHeaderSize+len(payload))
	out[0] = byte(msgType)
	binary.BigEndian.PutUint32(out[1:5], round)
	binary.BigEndian.PutUint32(out[5:9], uint32(listenPort))
	copy(out[gossipHeaderSize:], payload)
	return out
}

func (rm *Manager) sendEnvelope(peer types.Peer, msgType types.GossipMsgType, round uint32, payload []byte) {
	if rm.send == nil {
		return
	}
	rm.send(peer, encodeEnvelope(msgType, round, rm.selfListenPort, payload))
}
