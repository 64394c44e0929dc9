// Package guard holds the static DS/shard guard key sets and IP exclusion
// ranges populated at startup from configuration, grounded on
// original_source/src/libNetwork/Guard.h.
package guard

import (
	"math/big"
	"sort"
	"sync"
)

// Guard is safe for concurrent use.
type Guard struct {
	muDS sync.RWMutex
	ds   map[string]struct{}

	muShard sync.RWMutex
	shard   map[string]struct{}

	muExclusion sync.RWMutex
	exclusion   []ipRange
}

type ipRange struct {
	low, high *big.Int
}

// New constructs an empty Guard.
func New() *Guard {
	return &Guard{
		ds:    make(map[string]struct{}),
		shard: make(map[string]struct{}),
	}
}

// AddToDSGuardlist registers pubKey as a DS guard.
func (g *Guard) AddToDSGuardlist(pubKey string) {
	g.muDS.Lock()
	defer g.muDS.Unlock()
	g.ds[pubKey] = struct{}{}
}

// AddToShardGuardlist registers pubKey as a shard guard.
func (g *Guard) AddToShardGuardlist(pubKey string) {
	g.muShard.Lock()
	defer g.muShard.Unlock()
	g.shard[pubKey] = struct{}{}
}

// IsNodeInDSGuardList reports whether pubKey is a DS guard.
func (g *Guard) IsNodeInDSGuardList(pubKey string) bool {
	g.muDS.RLock()
	defer g.muDS.RUnlock()
	_, ok := g.ds[pubKey]
	return ok
}

// IsNodeInShardGuardList reports whether pubKey is a shard guard.
func (g *Guard) IsNodeInShardGuardList(pubKey string) bool {
	g.muShard.RLock()
	defer g.muShard.RUnlock()
	_, ok := g.shard[pubKey]
	return ok
}

// GetNumOfDSGuard returns how many DS guards are registered. This is the
// index at which non-guard committee members are inserted during rotation
// in guard mode (SPEC_FULL §4.8).
func (g *Guard) GetNumOfDSGuard() int {
	g.muDS.RLock()
	defer g.muDS.RUnlock()
	return len(g.ds)
}

// GetNumOfShardGuard returns how many shard guards are registered.
func (g *Guard) GetNumOfShardGuard() int {
	g.muShard.RLock()
	defer g.muShard.RUnlock()
	return len(g.shard)
}

// AddToExclusionList inserts an inclusive [low, high] range, kept sorted by
// low bound with overlapping ranges merged so IsValidIP lookups are O(log n).
func (g *Guard) AddToExclusionList(low, high *big.Int) {
	g.muExclusion.Lock()
	defer g.muExclusion.Unlock()
	g.exclusion = append(g.exclusion, ipRange{low: low, high: high})
	sort.Slice(g.exclusion, func(i, j int) bool {
		return g.exclusion[i].low.Cmp(g.exclusion[j].low) < 0
	})
	merged := g.exclusion[:1]
	for _, r := range g.exclusion[1:] {
		last := &merged[len(merged)-1]
		if r.low.Cmp(last.high) <= 0 {
			if r.high.Cmp(last.high) > 0 {
				last.high = r.high
			}
			continue
		}
		merged = append(merged, r)
	}
	g.exclusion = merged
}

// IsValidIP reports whether ip is nonzero and not covered by an exclusion
// range.
func (g *Guard) IsValidIP(ip *big.Int) bool {
	if ip == nil || ip.Sign() == 0 {
		return false
	}
	g.muExclusion.RLock()
	defer g.muExclusion.RUnlock()

	idx := sort.Search(len(g.exclusion), func(i int) bool {
		return g.exclusion[i].high.Cmp(ip) >= 0
	})
	if idx < len(g.exclusion) && g.exclusion[idx].low.Cmp(ip) <= 0 && g.exclusion[idx].high.Cmp(ip) >= 0 {
		return false
	}
	return true
}
