package rumor

import (
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/shardnode/shardnode/pkg/types"
)

func peerFor(port uint16) types.Peer {
	return types.Peer{IP: big.NewInt(0x7f000001), Port: port}
}

type captured struct {
	to      types.Peer
	msgType types.GossipMsgType
	round   uint32
	payload []byte
}

func newTestManager(t *testing.T) (*Manager, *[]captured, *[][]byte) {
	t.Helper()
	var sent []captured
	var dispatched [][]byte
	send := func(peer types.Peer, envelope []byte) {
		sent = append(sent, captured{
			to:      peer,
			msgType: types.GossipMsgType(envelope[0]),
			round:   0,
			payload: append([]byte(nil), envelope[9:]...),
		})
	}
	upward := func(body []byte, from types.Peer) {
		dispatched = append(dispatched, body)
	}
	rm := New(DefaultConfig(9000), nil, send, upward, nil, nil)
	return rm, &sent, &dispatched
}

func TestLazyPushThenPullThenPush(t *testing.T) {
	x, sentX, dispatchedX := newTestManager(t)
	y := peerFor(9001)
	x.Initialize([]types.Peer{y}, 2)
	x.running = true // allow AddRumor without starting the real round loop

	body := []byte("hello world")
	if !x.AddRumor(body) {
		t.Fatalf("expected AddRumor to accept a fresh rumour")
	}
	hash := hashOf(body)

	// X advertises the hash to Y via LAZY_PUSH.
	x.sendEnvelope(y, types.GossipLazyPush, 1, hash[:])
	if len(*sentX) != 1 || (*sentX)[0].msgType != types.GossipLazyPush {
		t.Fatalf("expected one LAZY_PUSH sent, got %+v", *sentX)
	}

	yMgr, sentY, dispatchedY := newTestManager(t)
	xPeer := peerFor(9000)
	yMgr.Initialize([]types.Peer{xPeer}, 2)

	if !yMgr.Receive(xPeer, types.GossipLazyPush, 1, hash[:]) {
		t.Fatalf("expected known-peer LAZY_PUSH to be processed")
	}
	if len(*sentY) != 1 || (*sentY)[0].msgType != types.GossipPull {
		t.Fatalf("expected Y to reply with PULL, got %+v", *sentY)
	}

	// X receives Y's PULL and replies with PUSH(body).
	if !x.Receive(y, types.GossipPull, 1, hash[:]) {
		t.Fatalf("expected PULL to be processed")
	}
	if len(*sentX) != 2 || (*sentX)[1].msgType != types.GossipPush {
		t.Fatalf("expected X to reply with PUSH, got %+v", *sentX)
	}

	// Y receives the PUSH, dispatches upward exactly once.
	pushBody := (*sentX)[1].payload
	if !yMgr.Receive(xPeer, types.GossipPush, 1, pushBody) {
		t.Fatalf("expected PUSH to be processed")
	}
	if len(*dispatchedY) != 1 {
		t.Fatalf("expected exactly one upward dispatch, got %d", len(*dispatchedY))
	}

	// A retransmitted PUSH must not dispatch again.
	if !yMgr.Receive(xPeer, types.GossipPush, 1, pushBody) {
		t.Fatalf("expected retransmitted PUSH to still be processed (known peer)")
	}
	if len(*dispatchedY) != 1 {
		t.Fatalf("expected no additional dispatch on retransmit, got %d", len(*dispatchedY))
	}
	_ = dispatchedX
}

func TestUnsolicitedPushIsDroppedSilently(t *testing.T) {
	rm, _, dispatched := newTestManager(t)
	from := peerFor(9001)
	rm.Initialize([]types.Peer{from}, 2)

	if !rm.Receive(from, types.GossipPush, 1, []byte("never advertised")) {
		t.Fatalf("expected known-peer push to be processed (even if unsolicited)")
	}
	if len(*dispatched) != 0 {
		t.Fatalf("expected no dispatch for an unsolicited push, got %d", len(*dispatched))
	}
}

func TestUnknownPeerIsIgnored(t *testing.T) {
	rm, sent, _ := newTestManager(t)
	stranger := peerFor(9999)

	if rm.Receive(stranger, types.GossipLazyPush, 1, make([]byte, 32)) {
		t.Fatalf("expected unknown-peer gossip to be rejected")
	}
	if len(*sent) != 0 {
		t.Fatalf("expected no reply sent to an unknown peer")
	}
}

func hashOf(body []byte) [32]byte {
	return sha256.Sum256(body)
}
