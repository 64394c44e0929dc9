package sendqueue

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/shardnode/shardnode/internal/blacklist"
	"github.com/shardnode/shardnode/internal/metrics"
	"github.com/shardnode/shardnode/internal/wire"
	"github.com/shardnode/shardnode/pkg/types"
)

// SendJobs owns every PeerSendQueue and is the sole mutator of the
// active-peers map (SPEC_FULL §4.4).
type SendJobs struct {
	mu          sync.Mutex
	peers       map[string]*PeerSendQueue
	multipliers map[string]bool

	bl   *blacklist.Blacklist
	dial DialFunc
	cfg  Config

	m   *metrics.Registry
	log *zap.SugaredLogger
}

// New constructs a SendJobs. multipliers are peers read from config at
// startup whose queues never idle out (SPEC_FULL §4.3/§4.4).
func New(bl *blacklist.Blacklist, multipliers []types.Peer, dial DialFunc, cfg Config, m *metrics.Registry, log *zap.SugaredLogger) *SendJobs {
	if dial == nil {
		dial = DefaultDial
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	sj := &SendJobs{
		peers:       make(map[string]*PeerSendQueue),
		multipliers: make(map[string]bool, len(multipliers)),
		bl:          bl,
		dial:        dial,
		cfg:         cfg,
		m:           m,
		log:         log.Named("sendjobs"),
	}
	for _, p := range multipliers {
		sj.multipliers[p.Key()] = true
	}
	return sj
}

// SendToPeer enqueues raw_msg for delivery to peer, creating its queue if
// necessary. Blacklisted peers are silently dropped (SPEC_FULL invariant 5).
func (sj *SendJobs) SendToPeer(peer types.Peer, body []byte, startByte types.StartByte, allowRelaxedBlacklist bool) {
	if !peer.IsRoutable() {
		return
	}
	if sj.bl != nil && sj.bl.Exist(peer, !allowRelaxedBlacklist) {
		sj.log.Debugw("dropping send to blacklisted peer", "peer", peer.String())
		return
	}

	q := sj.getOrCreateQueue(peer)
	if sj.m != nil {
		sj.m.SendToPeerTotal.Inc()
	}
	q.Enqueue(body, startByte, allowRelaxedBlacklist)
}

func (sj *SendJobs) getOrCreateQueue(peer types.Peer) *PeerSendQueue {
	key := peer.Key()

	sj.mu.Lock()
	defer sj.mu.Unlock()

	if q, ok := sj.peers[key]; ok {
		return q
	}

	isMultiplier := sj.multipliers[key]
	q := newPeerSendQueue(peer, isMultiplier, sj.dial, sj.cfg, sj.m, sj.log, sj.onPeerDone)
	sj.peers[key] = q
	if sj.m != nil {
		sj.m.ActivePeers.Set(float64(len(sj.peers)))
	}
	return q
}

func (sj *SendJobs) onPeerDone(peer types.Peer) {
	sj.mu.Lock()
	delete(sj.peers, peer.Key())
	if sj.m != nil {
		sj.m.ActivePeers.Set(float64(len(sj.peers)))
	}
	sj.mu.Unlock()
}

// ActivePeerCount reports how many peers currently have a live queue.
func (sj *SendJobs) ActivePeerCount() int {
	sj.mu.Lock()
	defer sj.mu.Unlock()
	return len(sj.peers)
}

// Peers returns a snapshot of every peer with a live send queue, for the
// read-only admin surface (SPEC_FULL §6).
func (sj *SendJobs) Peers() []types.Peer {
	sj.mu.Lock()
	defer sj.mu.Unlock()
	out := make([]types.Peer, 0, len(sj.peers))
	for _, q := range sj.peers {
		out = append(out, q.peer)
	}
	return out
}

// SendToPeerSynchronous blocks the caller until the message is written or an
// error occurs. CLI-only path; consensus code must never call this
// (SPEC_FULL §4.4, §5).
func (sj *SendJobs) SendToPeerSynchronous(ctx context.Context, peer types.Peer, body []byte, startByte types.StartByte) error {
	if sj.bl != nil && sj.bl.Exist(peer, true) {
		return fmt.Errorf("sendjobs: peer %s is blacklisted", peer.String())
	}
	conn, err := sj.dial(ctx, peer)
	if err != nil {
		return fmt.Errorf("sendjobs: synchronous dial failed: %w", err)
	}
	defer conn.Close()

	framed := wire.Frame(body, startByte, nil)
	if _, err := conn.Write(framed); err != nil {
		return fmt.Errorf("sendjobs: synchronous write failed: %w", err)
	}
	if sj.m != nil {
		sj.m.SendToPeerSyncTotal.Inc()
	}
	return nil
}

// Close closes every active peer queue. Idempotent per queue.
func (sj *SendJobs) Close() {
	sj.mu.Lock()
	queues := make([]*PeerSendQueue, 0, len(sj.peers))
	for _, q := range sj.peers {
		queues = append(queues, q)
	}
	sj.mu.Unlock()

	for _, q := range queues {
		q.Close()
	}
}
