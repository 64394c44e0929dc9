// Package dscomposition implements the deterministic DS-committee rotation
// algorithm run once per finalised DS block, grounded on
// original_source/src/libDirectoryService/DSComposition.cpp.
package dscomposition

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/shardnode/shardnode/internal/blacklist"
	"github.com/shardnode/shardnode/internal/guard"
	"github.com/shardnode/shardnode/internal/metrics"
	"github.com/shardnode/shardnode/pkg/types"
)

// Persister is the narrow storage boundary the rotation writes committee
// snapshots through (SPEC_FULL §4.8). internal/storage.CommitteeLog is the
// one concrete implementation, but Rotate depends only on this method so
// tests can supply an in-memory stub.
type Persister interface {
	Put(key string, snapshot []byte, blockNum int64) error
}

// Options configures one Rotate call. GuardMode/NumDSGuards/IsLookup mirror
// the original's compile-time GUARD_MODE/LOOKUP_NODE_MODE switches, exposed
// here as runtime config per node role.
type Options struct {
	SelfPubKey          types.PubKey
	GuardMode           bool
	IsLookup            bool
	StoreDSCommInterval uint64
}

// Committee owns the ordered DS-committee deque and applies rotations to it
// synchronously under its own mutex (SPEC_FULL §5: "the single thread that
// finalises DS blocks").
type Committee struct {
	mu      sync.Mutex
	members []types.CommitteeMember

	guard *guard.Guard
	bl    *blacklist.Blacklist
	store Persister

	m   *metrics.Registry
	log *zap.SugaredLogger
}

// New constructs a Committee seeded with initial membership, in order.
func New(initial []types.CommitteeMember, g *guard.Guard, bl *blacklist.Blacklist, store Persister, m *metrics.Registry, log *zap.SugaredLogger) *Committee {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	members := make([]types.CommitteeMember, len(initial))
	copy(members, initial)
	c := &Committee{
		members: members,
		guard:   g,
		bl:      bl,
		store:   store,
		m:       m,
		log:     log.Named("dscomposition"),
	}
	c.updateSizeMetric()
	return c
}

// Snapshot returns a defensive copy of the current committee order.
func (c *Committee) Snapshot() []types.CommitteeMember {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.CommitteeMember, len(c.members))
	copy(out, c.members)
	return out
}

// Size returns the current committee length.
func (c *Committee) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

func (c *Committee) updateSizeMetric() {
	if c.m != nil {
		c.m.DSCommitteeSize.Set(float64(len(c.members)))
	}
}

func indexOfPubKey(members []types.CommitteeMember, key types.PubKey) int {
	for i, m := range members {
		if m.PubKey == key {
			return i
		}
	}
	return -1
}

// sortedWinnerKeys returns block's winner pub-keys in lexicographic order so
// rotation is deterministic across every node applying the same block
// (SPEC_FULL §4.8 tie-break rule).
func sortedWinnerKeys(winners map[types.PubKey]types.Peer) []types.PubKey {
	keys := make([]types.PubKey, 0, len(winners))
	for k := range winners {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Rotate applies one DS-block's worth of committee rotation: demote losers,
// insert winners at the front (or just past the guards, in guard mode), and
// age out the tail so |members| is preserved (SPEC_FULL §4.8, invariant 1).
func (c *Committee) Rotate(block types.DSBlock, opts Options) (*types.MinerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := len(c.members)
	info := &types.MinerInfo{}

	// Step 1: demote losers, preserving the removal order given in the block.
	for _, removedKey := range block.RemovePubKeys {
		idx := indexOfPubKey(c.members, removedKey)
		if idx < 0 {
			c.log.Errorw("demoted key not found in committee", "pub_key", removedKey)
			continue
		}
		demoted := c.members[idx]
		c.members = append(c.members[:idx], c.members[idx+1:]...)
		c.members = append(c.members, demoted)
		if c.bl != nil {
			c.bl.Remove(demoted.Peer)
		}
	}

	// Step 2: insert winners, in deterministic key order.
	insertAt := 0
	if opts.GuardMode && c.guard != nil {
		insertAt = c.guard.GetNumOfDSGuard()
	}
	winnerKeys := sortedWinnerKeys(block.PoWWinners)
	for _, key := range winnerKeys {
		peer := block.PoWWinners[key]
		member := types.CommitteeMember{PubKey: key, Peer: peer}
		if key == opts.SelfPubKey {
			member.Peer = types.ZeroPeer()
		}
		c.members = append(c.members[:insertAt], append([]types.CommitteeMember{member}, c.members[insertAt:]...)...)
	}

	// Step 3: age out the tail by exactly the number of winners inserted.
	numWinners := len(winnerKeys)
	for i := 0; i < numWinners && len(c.members) > 0; i++ {
		last := c.members[len(c.members)-1]
		// Log (and record) the popped entry before mutating, per the
		// REDESIGN FLAGS log-before-mutate fix.
		c.log.Debugw("committee member aged out", "pub_key", last.PubKey, "peer", last.Peer.String())
		if opts.IsLookup {
			info.DSNodesEjected = append(info.DSNodesEjected, last.PubKey)
		}
		if c.bl != nil {
			c.bl.Remove(last.Peer)
		}
		c.members = c.members[:len(c.members)-1]
	}

	if len(c.members) != before {
		return nil, fmt.Errorf("dscomposition: committee size changed from %d to %d", before, len(c.members))
	}

	// Step 4: persist a snapshot every StoreDSCommInterval blocks, lookups only.
	if opts.IsLookup && opts.StoreDSCommInterval > 0 && block.BlockNum%opts.StoreDSCommInterval == 0 {
		for _, mem := range c.members {
			if c.guard != nil && c.guard.IsNodeInDSGuardList(string(mem.PubKey)) {
				continue
			}
			info.DSNodes = append(info.DSNodes, mem.PubKey)
		}
		if c.store != nil {
			if err := c.persistSnapshot(block.BlockNum); err != nil {
				c.log.Warnw("failed to persist committee snapshot", "block_num", block.BlockNum, "err", err)
			}
		}
	}

	c.updateSizeMetric()
	return info, nil
}

func (c *Committee) persistSnapshot(blockNum uint64) error {
	body, err := json.Marshal(c.members)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("ds-committee/%d", blockNum)
	return c.store.Put(key, body, int64(blockNum))
}
