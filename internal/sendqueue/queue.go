// Package sendqueue implements PeerSendQueue and SendJobs: the per-peer
// outbound queue and the owner that creates/removes them, grounded on
// original_source/src/libNetwork/SendJobs.cpp. Each PeerSendQueue is a
// single-owner goroutine that owns its own net.Conn, matching the
// translation note in SPEC_FULL §4.3/§9 (single-owner task per peer
// receiving commands via a channel, rather than a literal shared reactor).
package sendqueue

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shardnode/shardnode/internal/metrics"
	"github.com/shardnode/shardnode/internal/wire"
	"github.com/shardnode/shardnode/pkg/types"
)

// DialFunc resolves and connects to peer, respecting ctx's deadline. The
// default implementation resolves hostname (if set) then dials the IP:port.
type DialFunc func(ctx context.Context, peer types.Peer) (net.Conn, error)

// DefaultDial dials peer.Hostname:Port when a hostname is present, else
// peer.IP:Port.
func DefaultDial(ctx context.Context, peer types.Peer) (net.Conn, error) {
	var d net.Dialer
	addr := peer.String()
	if peer.HasHostname() {
		return d.DialContext(ctx, "tcp", addr)
	}
	return d.DialContext(ctx, "tcp", addr)
}

// Config holds the timeouts SPEC_FULL §5 names explicitly.
type Config struct {
	IdleTimeoutIPOnly   time.Duration // 120s
	IdleTimeoutDNS      time.Duration // 600s
	ReconnectInterval   time.Duration
	ConnectTimeout      time.Duration
	MessageExpiry       time.Duration
	SlowSendToReport    time.Duration // 5s
}

// DefaultConfig returns the literal timeout values named in SPEC_FULL §5.
func DefaultConfig() Config {
	return Config{
		IdleTimeoutIPOnly: 120 * time.Second,
		IdleTimeoutDNS:    600 * time.Second,
		ReconnectInterval: 5 * time.Second,
		ConnectTimeout:    10 * time.Second,
		MessageExpiry:     30 * time.Second,
		SlowSendToReport:  5 * time.Second,
	}
}

type queuedMessage struct {
	body         []byte
	startByte    types.StartByte
	allowRelaxed bool
	expiresAt    time.Time
}

// PeerSendQueue owns a single outbound connection to one peer.
type PeerSendQueue struct {
	peer         types.Peer
	isMultiplier bool
	dial         DialFunc
	cfg          Config

	incoming chan queuedMessage
	done     chan struct{}
	closeOnce sync.Once

	conn net.Conn

	m   *metrics.Registry
	log *zap.SugaredLogger

	onDone func(types.Peer)
}

func newPeerSendQueue(peer types.Peer, isMultiplier bool, dial DialFunc, cfg Config, m *metrics.Registry, log *zap.SugaredLogger, onDone func(types.Peer)) *PeerSendQueue {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	q := &PeerSendQueue{
		peer:         peer,
		isMultiplier: isMultiplier,
		dial:         dial,
		cfg:          cfg,
		incoming:     make(chan queuedMessage, 64),
		done:         make(chan struct{}),
		m:            m,
		log:          log.Named("sendqueue"),
		onDone:       onDone,
	}
	go q.run()
	return q
}

// Enqueue appends a message for delivery. Never blocks the caller beyond
// the channel buffer; the queue itself owns retry/drop decisions.
func (q *PeerSendQueue) Enqueue(body []byte, startByte types.StartByte, allowRelaxed bool) {
	msg := queuedMessage{
		body:         body,
		startByte:    startByte,
		allowRelaxed: allowRelaxed,
		expiresAt:    time.Now().Add(q.cfg.MessageExpiry),
	}
	select {
	case q.incoming <- msg:
	case <-q.done:
	}
}

// Close is idempotent and triggers graceful shutdown of the connection.
func (q *PeerSendQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *PeerSendQueue) idleTimeout() time.Duration {
	if q.peer.HasHostname() {
		return q.cfg.IdleTimeoutDNS
	}
	return q.cfg.IdleTimeoutIPOnly
}

func (q *PeerSendQueue) run() {
	defer q.closeConnNow()
	var pending []queuedMessage

	for {
		if len(pending) == 0 {
			if q.isMultiplier {
				// Multipliers never idle out (SPEC_FULL §4.3).
				select {
				case msg, ok := <-q.incoming:
					if !ok {
						return
					}
					pending = append(pending, msg)
				case <-q.done:
					return
				}
				continue
			}

			timer := time.NewTimer(q.idleTimeout())
			select {
			case msg, ok := <-q.incoming:
				timer.Stop()
				if !ok {
					return
				}
				pending = append(pending, msg)
			case <-timer.C:
				if q.onDone != nil {
					q.onDone(q.peer)
				}
				return
			case <-q.done:
				timer.Stop()
				return
			}
			continue
		}

		head := pending[0]
		if !q.peer.HasHostname() && time.Now().After(head.expiresAt) {
			pending = pending[1:]
			continue
		}

		if q.conn == nil {
			conn, err := q.dialWithTimeout()
			if err != nil {
				q.log.Debugw("connect failed", "peer", q.peer.String(), "err", err)
				if q.waitReconnectOrStop() {
					return
				}
				continue
			}
			q.conn = conn
		}

		if err := q.writeFramed(head); err != nil {
			q.log.Debugw("write failed", "peer", q.peer.String(), "err", err)
			q.closeConnNow()
			if q.m != nil {
				q.m.ReconnectTotal.Inc()
			}
			if q.waitReconnectOrStop() {
				return
			}
			continue
		}

		pending = pending[1:]
	}
}

func (q *PeerSendQueue) dialWithTimeout() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.ConnectTimeout)
	defer cancel()
	return q.dial(ctx, q.peer)
}

func (q *PeerSendQueue) writeFramed(msg queuedMessage) error {
	framed := wire.Frame(msg.body, msg.startByte, nil)
	start := time.Now()
	_, err := q.conn.Write(framed)
	elapsed := time.Since(start)
	if elapsed > q.cfg.SlowSendToReport {
		q.log.Warnw("slow send to peer", "peer", q.peer.String(), "elapsed", elapsed)
		if q.m != nil {
			q.m.SlowSendTotal.Inc()
		}
	}
	return err
}

// waitReconnectOrStop sleeps ReconnectInterval, returning true if the queue
// was closed while waiting (caller should exit run()). It is purely the
// backoff sleep; run() drops expired, non-hostname messages itself.
func (q *PeerSendQueue) waitReconnectOrStop() bool {
	select {
	case <-time.After(q.cfg.ReconnectInterval):
		return false
	case <-q.done:
		return true
	}
}

func (q *PeerSendQueue) closeConnNow() {
	if q.conn == nil {
		return
	}
	if wc, ok := q.conn.(interface{ CloseWrite() error }); ok {
		_ = wc.CloseWrite()
	}
	_ = q.conn.Close()
	q.conn = nil
}
