package rumor

import (
	"crypto/sha256"

	"github.com/shardnode/shardnode/pkg/types"
)

// Receive processes one inbound gossip sub-envelope already parsed down to
// (msgType, round, payload) by internal/p2p (SPEC_FULL §4.6). Returns false
// only when from is not a known gossip peer (SPEC_FULL §7: UnknownPeer is
// ignored, never blacklisted).
func (rm *Manager) Receive(from types.Peer, msgType types.GossipMsgType, round uint32, payload []byte) bool {
	rm.mu.Lock()
	_, known := rm.peersByKey[from.Key()]
	rm.mu.Unlock()
	if !known {
		rm.log.Debugw("gossip from unknown peer ignored", "peer", from.String())
		return false
	}

	switch msgType {
	case types.GossipEmptyPush, types.GossipEmptyPull:
		// No state change; statistics-only in the original.
		return true
	case types.GossipLazyPush, types.GossipLazyPull:
		rm.handleLazy(from, payload)
		return true
	case types.GossipPull:
		rm.handlePull(from, payload)
		return true
	case types.GossipPush:
		rm.handlePush(from, payload)
		return true
	case types.GossipForward:
		rm.handleForward(from, payload)
		return true
	default:
		return true
	}
}

func (rm *Manager) handleLazy(from types.Peer, payload []byte) {
	if len(payload) < 32 {
		return
	}
	var hash [32]byte
	copy(hash[:], payload[:32])
	key := hashKey(hash)

	rm.mu.Lock()
	entry, known := rm.rumors[key]
	needsPull := false
	if !known {
		entry = &rumorEntry{id: rm.nextRumorID, hash: hash, createdRound: rm.round}
		rm.nextRumorID++
		rm.rumors[key] = entry
		needsPull = true
	} else if !entry.hasRaw {
		needsPull = true
	}
	rm.mu.Unlock()

	if needsPull {
		rm.sendEnvelope(from, types.GossipPull, rm.currentRound(), hash[:])
	}
}

func (rm *Manager) handlePull(from types.Peer, payload []byte) {
	if len(payload) < 32 {
		return
	}
	var hash [32]byte
	copy(hash[:], payload[:32])
	key := hashKey(hash)

	rm.mu.Lock()
	entry, known := rm.rumors[key]
	if known && entry.hasRaw {
		body := entry.raw
		rm.mu.Unlock()
		rm.sendEnvelope(from, types.GossipPush, rm.currentRound(), body)
		return
	}
	if rm.subscribers[key] == nil {
		rm.subscribers[key] = make(map[string]types.Peer)
	}
	rm.subscribers[key][from.Key()] = from
	rm.mu.Unlock()
}

func (rm *Manager) handlePush(from types.Peer, body []byte) {
	hash := sha256.Sum256(body)
	key := hashKey(hash)

	rm.mu.Lock()
	entry, solicited := rm.rumors[key]
	if !solicited {
		rm.mu.Unlock()
		rm.log.Debugw("dropping unsolicited push", "peer", from.String())
		return
	}
	isNew := !entry.hasRaw
	if isNew {
		entry.raw = body
		entry.hasRaw = true
	}
	subs := rm.subscribers[key]
	delete(rm.subscribers, key)
	rm.mu.Unlock()

	if isNew {
		if rm.m != nil {
			rm.m.GossipDispatchedTotal.Inc()
		}
		if rm.upward != nil {
			rm.upward(body, from)
		}
	}

	fromKey := from.Key()
	for subKey, sub := range subs {
		if subKey == fromKey {
			continue
		}
		rm.sendEnvelope(sub, types.GossipPush, rm.currentRound(), body)
	}
}

func (rm *Manager) handleForward(from types.Peer, payload []byte) {
	if len(payload) < forwardPrefixSize {
		return
	}
	pubKey := payload[:PubKeySize]
	challenge := payload[PubKeySize : PubKeySize+SigChallengeSize]
	response := payload[PubKeySize+SigChallengeSize : forwardPrefixSize]
	body := payload[forwardPrefixSize:]

	if !rm.crypto.Verify(pubKey, challenge, response, body) {
		rm.log.Debugw("rejecting forward with invalid signature", "peer", from.String())
		return
	}
	if rm.addForeignRumorLocked(body) {
		if rm.upward != nil {
			rm.upward(body, from)
		}
	}
}

func (rm *Manager) addForeignRumorLocked(body []byte) bool {
	hash := sha256.Sum256(body)
	key := hashKey(hash)

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if entry, ok := rm.rumors[key]; ok && entry.hasRaw {
		return false
	}
	rm.rumors[key] = &rumorEntry{id: rm.nextRumorID, hash: hash, raw: body, hasRaw: true, createdRound: rm.round}
	rm.nextRumorID++
	return true
}

// AddForeignRumor verifies and accepts a rumour that arrived already signed
// (mirrors the FORWARD handling path, exposed for callers that receive the
// triplet out of band).
func (rm *Manager) AddForeignRumor(pubKey, challenge, response, body []byte) bool {
	if !rm.crypto.Verify(pubKey, challenge, response, body) {
		return false
	}
	return rm.addForeignRumorLocked(body)
}

func (rm *Manager) currentRound() uint32 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.round
}

// SendRumorToForeignPeer wraps body in a signed FORWARD envelope and sends
// it as a single GOSSIP frame, bypassing the round-based dissemination
// entirely (SPEC_FULL §4.7).
func (rm *Manager) SendRumorToForeignPeer(peer types.Peer, body []byte) error {
	pubKey, challenge, response, err := rm.crypto.Sign(body)
	if err != nil {
		return err
	}
	payload := make([]byte, 0, forwardPrefixSize+len(body))
	payload = append(payload, pubKey...)
	payload = append(payload, challenge...)
	payload = append(payload, response...)
	payload = append(payload, body...)
	rm.sendEnvelope(peer, types.GossipForward, 0, payload)
	return nil
}

// SendRumorToForeignPeers forwards body to every peer in peers.
func (rm *Manager) SendRumorToForeignPeers(peers []types.Peer, body []byte) error {
	for _, p := range peers {
		if err := rm.SendRumorToForeignPeer(p, body); err != nil {
			return err
		}
	}
	return nil
}
