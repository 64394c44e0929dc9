// Package dedup tracks recently seen broadcast hashes with a bounded TTL, so
// a broadcast body is delivered upward at most once. Grounded on
// LeastAuthority-go-libp2p-pubsub/pubsub.go's seenMessages *timecache.TimeCache
// / seenMessage / markSeen pattern.
package dedup

import (
	"encoding/hex"
	"sync"
	"time"

	timecache "github.com/whyrusleeping/timecache"
)

// Set is safe for concurrent use.
type Set struct {
	mu    sync.Mutex
	cache *timecache.TimeCache
	ttl   time.Duration
	seen  int64 // approximate count of hashes ever marked seen
}

// New constructs a Set whose entries expire after ttl (SPEC_FULL's
// BROADCAST_EXPIRY).
func New(ttl time.Duration) *Set {
	return &Set{cache: timecache.NewTimeCache(ttl), ttl: ttl}
}

// sweep drops entries older than ttl from the oldest end of the cache.
// timecache.TimeCache's Has does not check age itself.
func (s *Set) sweep() {
	for back := s.cache.Q.Back(); back != nil; back = s.cache.Q.Back() {
		k := back.Value.(string)
		if time.Since(s.cache.M[k]) <= s.ttl {
			return
		}
		s.cache.Q.Remove(back)
		delete(s.cache.M, k)
	}
}

func key(hash [32]byte) string {
	return hex.EncodeToString(hash[:])
}

// Seen reports whether hash has already been recorded and not yet expired.
func (s *Set) Seen(hash [32]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	return s.cache.Has(key(hash))
}

// MarkSeenIfNew records hash and returns true only the first time it is
// seen (SPEC_FULL §4.6: "if new, insert ... then dispatch upward; if known,
// drop silently").
func (s *Set) MarkSeenIfNew(hash [32]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	k := key(hash)
	if s.cache.Has(k) {
		return false
	}
	s.cache.Add(k)
	s.seen++
	return true
}

// Size reports an approximate count of hashes tracked since construction.
// It is a monotonically increasing counter rather than an exact live-set
// size. Nothing in the module currently copies it into the
// gossip_broadcast_seen gauge.
func (s *Set) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen
}
