package rumor

import (
	"math/rand"
	"time"

	"github.com/shardnode/shardnode/pkg/types"
)

// StartRounds begins advancing the round loop every interval until
// StopRounds is called. A second call while already running is a no-op;
// after StopRounds the loop can be started again.
func (rm *Manager) StartRounds(interval time.Duration) {
	rm.mu.Lock()
	if rm.running {
		rm.mu.Unlock()
		return
	}
	rm.running = true
	rm.stopCh = make(chan struct{})
	buffered := rm.buffered
	rm.buffered = nil
	rm.mu.Unlock()

	for _, body := range buffered {
		rm.AddRumor(body)
	}

	rm.wg.Add(1)
	go rm.roundLoop(interval)
}

// StopRounds halts the round loop. condition.wait_for in the original is
// mirrored here by a ticker select alongside a close-once stop channel, so
// the loop wakes immediately rather than waiting out a full interval.
func (rm *Manager) StopRounds() {
	rm.mu.Lock()
	if !rm.running {
		rm.mu.Unlock()
		return
	}
	rm.running = false
	stopCh := rm.stopCh
	rm.mu.Unlock()

	close(stopCh)
	rm.wg.Wait()
}

func (rm *Manager) roundLoop(interval time.Duration) {
	defer rm.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rm.mu.Lock()
	stopCh := rm.stopCh
	rm.mu.Unlock()

	for {
		select {
		case <-ticker.C:
			rm.advanceRound()
		case <-stopCh:
			return
		}
	}
}

// advanceRound lazily pushes every rumour with a known body and at most
// maxRounds rounds elapsed since creation to a random fanout sample of peers.
func (rm *Manager) advanceRound() {
	rm.mu.Lock()
	rm.round++
	round := rm.round

	type target struct {
		hash [32]byte
	}
	var due []target
	for _, entry := range rm.rumors {
		if !entry.hasRaw {
			continue
		}
		if round-entry.createdRound > rm.maxRounds {
			continue
		}
		due = append(due, target{hash: entry.hash})
	}

	peers := make([]types.Peer, 0, len(rm.peersByKey))
	for _, p := range rm.peersByKey {
		peers = append(peers, p)
	}
	rm.mu.Unlock()

	if rm.m != nil {
		rm.m.GossipRoundsTotal.Inc()
	}
	if len(peers) == 0 || len(due) == 0 {
		return
	}

	for _, t := range due {
		for _, p := range samplePeers(peers, rm.fanout) {
			rm.sendEnvelope(p, types.GossipLazyPush, round, t.hash[:])
		}
	}
}

func samplePeers(peers []types.Peer, fanout int) []types.Peer {
	if fanout >= len(peers) {
		return peers
	}
	idx := rand.Perm(len(peers))[:fanout]
	out := make([]types.Peer, 0, fanout)
	for _, i := range idx {
		out = append(out, peers[i])
	}
	return out
}
