package storage

import (
	"sync"
)

// snapshotLocation stores where one committee snapshot lives in the log file.
type snapshotLocation struct {
	Offset     int64 // position in the snapshot log file
	Size       int32 // size of the serialised snapshot in bytes
	BlockNum   int64 // DS block number this snapshot versions against
	Superseded bool  // tombstone marker left by a retention prune
}

// SnapshotIndex is a thread-safe in-memory hash map from committee-snapshot
// key ("ds-committee/<block_num>") to its most recent location in the log.
type SnapshotIndex struct {
	mu      sync.RWMutex
	entries map[string]*snapshotLocation
	stats   struct {
		live       int64
		superseded int64
	}
}

// NewSnapshotIndex creates a new in-memory snapshot index.
func NewSnapshotIndex() *SnapshotIndex {
	return &SnapshotIndex{
		entries: make(map[string]*snapshotLocation),
	}
}

// Get retrieves a snapshot's location by key.
func (idx *SnapshotIndex) Get(key string) (*snapshotLocation, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	entry, exists := idx.entries[key]
	if !exists {
		return nil, false
	}

	// Return a copy to prevent external modification.
	return &snapshotLocation{
		Offset:     entry.Offset,
		Size:       entry.Size,
		BlockNum:   entry.BlockNum,
		Superseded: entry.Superseded,
	}, true
}

// Put records (or overwrites) the location of the latest write for key.
func (idx *SnapshotIndex) Put(key string, offset int64, size int32, blockNum int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	existing, exists := idx.entries[key]
	if exists && existing.Superseded {
		idx.stats.superseded--
	} else if !exists {
		idx.stats.live++
	}

	idx.entries[key] = &snapshotLocation{
		Offset:     offset,
		Size:       size,
		BlockNum:   blockNum,
		Superseded: false,
	}
}

// Supersede marks key's latest snapshot as superseded.
func (idx *SnapshotIndex) Supersede(key string, blockNum int64) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry, exists := idx.entries[key]
	if !exists {
		idx.entries[key] = &snapshotLocation{
			BlockNum:   blockNum,
			Superseded: true,
		}
		idx.stats.superseded++
		return false
	}

	if !entry.Superseded {
		entry.Superseded = true
		entry.BlockNum = blockNum
		idx.stats.live--
		idx.stats.superseded++
		return true
	}

	return false
}

// Has checks if key has a live (non-superseded) snapshot.
func (idx *SnapshotIndex) Has(key string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	entry, exists := idx.entries[key]
	return exists && !entry.Superseded
}

// Keys returns all live (non-superseded) snapshot keys.
func (idx *SnapshotIndex) Keys() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	keys := make([]string, 0, idx.stats.live)
	for key, entry := range idx.entries {
		if !entry.Superseded {
			keys = append(keys, key)
		}
	}
	return keys
}

// Count returns the number of live snapshot keys.
func (idx *SnapshotIndex) Count() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.stats.live
}

// SupersededCount returns the number of superseded snapshot keys.
func (idx *SnapshotIndex) SupersededCount() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.stats.superseded
}

// Clear removes all entries from the index.
func (idx *SnapshotIndex) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.entries = make(map[string]*snapshotLocation)
	idx.stats.live = 0
	idx.stats.superseded = 0
}

// Size returns the total number of tracked keys (live and superseded).
func (idx *SnapshotIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// All returns every tracked entry, for compaction purposes.
func (idx *SnapshotIndex) All() map[string]*snapshotLocation {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	result := make(map[string]*snapshotLocation, len(idx.entries))
	for k, v := range idx.entries {
		result[k] = &snapshotLocation{
			Offset:     v.Offset,
			Size:       v.Size,
			BlockNum:   v.BlockNum,
			Superseded: v.Superseded,
		}
	}
	return result
}
