package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/shardnode/shardnode/pkg/types"
)

func snapshotKey(blockNum uint64) string {
	return fmt.Sprintf("ds-committee/%d", blockNum)
}

func sampleCommittee(n int) []types.CommitteeMember {
	members := make([]types.CommitteeMember, 0, n)
	for i := 0; i < n; i++ {
		members = append(members, types.CommitteeMember{
			PubKey: types.PubKey(fmt.Sprintf("pk-%d", i)),
			Peer:   types.Peer{IP: nil, Port: uint16(30000 + i)},
		})
	}
	return members
}

func TestCommitteeLogPutAndGetRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cl, err := NewCommitteeLog(dir, false)
	if err != nil {
		t.Fatalf("failed to create committee log: %v", err)
	}
	defer cl.Close()

	committee := sampleCommittee(3)
	body, err := json.Marshal(committee)
	if err != nil {
		t.Fatalf("failed to marshal committee: %v", err)
	}

	key := snapshotKey(100)
	if err := cl.Put(key, body, 100); err != nil {
		t.Fatalf("failed to put snapshot: %v", err)
	}

	snapshot, blockNum, err := cl.Get(key)
	if err != nil {
		t.Fatalf("failed to get snapshot: %v", err)
	}
	if blockNum != 100 {
		t.Errorf("expected block num 100, got %d", blockNum)
	}

	var roundTripped []types.CommitteeMember
	if err := json.Unmarshal(snapshot, &roundTripped); err != nil {
		t.Fatalf("failed to unmarshal snapshot: %v", err)
	}
	if len(roundTripped) != len(committee) {
		t.Fatalf("expected %d members, got %d", len(committee), len(roundTripped))
	}
	for i, m := range roundTripped {
		if m.PubKey != committee[i].PubKey {
			t.Errorf("member %d: expected pub key %q, got %q", i, committee[i].PubKey, m.PubKey)
		}
	}

	if !cl.Has(key) {
		t.Error("Has() should report true for a just-written snapshot key")
	}
	if cl.Has(snapshotKey(999)) {
		t.Error("Has() should report false for a never-written block number")
	}
	if cl.Count() != 1 {
		t.Errorf("expected count 1, got %d", cl.Count())
	}
}

func TestCommitteeLogSupersede(t *testing.T) {
	dir := t.TempDir()

	cl, err := NewCommitteeLog(dir, false)
	if err != nil {
		t.Fatalf("failed to create committee log: %v", err)
	}
	defer cl.Close()

	key := snapshotKey(100)
	body, _ := json.Marshal(sampleCommittee(5))
	if err := cl.Put(key, body, 100); err != nil {
		t.Fatalf("failed to put snapshot: %v", err)
	}

	if err := cl.Supersede(key, 200); err != nil {
		t.Fatalf("failed to supersede snapshot: %v", err)
	}

	if _, _, err := cl.Get(key); err != ErrSnapshotDeleted {
		t.Errorf("expected ErrSnapshotDeleted after supersede, got %v", err)
	}
	if cl.Has(key) {
		t.Error("Has() should report false for a superseded snapshot")
	}
}

// TestCommitteeLogPersistsAcrossRestart mirrors SPEC_FULL §4.8 step 4: a
// lookup node that crashes and restarts must still have the committee it
// last checkpointed at STORE_DS_COMMITTEE_INTERVAL.
func TestCommitteeLogPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	cl, err := NewCommitteeLog(dir, true) // sync writes
	if err != nil {
		t.Fatalf("failed to create committee log: %v", err)
	}

	bodyAt100, _ := json.Marshal(sampleCommittee(4))
	bodyAt200, _ := json.Marshal(sampleCommittee(6))
	cl.Put(snapshotKey(100), bodyAt100, 100)
	cl.Put(snapshotKey(200), bodyAt200, 200)
	cl.Supersede(snapshotKey(100), 300)
	cl.Close()

	reopened, err := NewCommitteeLog(dir, false)
	if err != nil {
		t.Fatalf("failed to reopen committee log: %v", err)
	}
	defer reopened.Close()

	if reopened.Has(snapshotKey(100)) {
		t.Error("block 100's snapshot should still be superseded after reopen")
	}

	snapshot, blockNum, err := reopened.Get(snapshotKey(200))
	if err != nil {
		t.Fatalf("failed to recover block 200's snapshot: %v", err)
	}
	if blockNum != 200 {
		t.Errorf("expected recovered block num 200, got %d", blockNum)
	}
	var members []types.CommitteeMember
	if err := json.Unmarshal(snapshot, &members); err != nil || len(members) != 6 {
		t.Errorf("block 200's committee not recovered correctly: %v, %d members", err, len(members))
	}

	if reopened.Count() != 1 {
		t.Errorf("expected 1 live snapshot key after reopen, got %d", reopened.Count())
	}
}

func TestCommitteeLogCompactionDropsSupersededHistory(t *testing.T) {
	dir := t.TempDir()

	cl, err := NewCommitteeLog(dir, false)
	if err != nil {
		t.Fatalf("failed to create committee log: %v", err)
	}
	defer cl.Close()

	for blockNum := uint64(100); blockNum <= 1000; blockNum += 100 {
		body, _ := json.Marshal(sampleCommittee(10))
		cl.Put(snapshotKey(blockNum), body, int64(blockNum))
	}
	// Retire every snapshot but the last.
	for blockNum := uint64(100); blockNum < 1000; blockNum += 100 {
		cl.Supersede(snapshotKey(blockNum), 1000)
	}

	// Writes are buffered when syncWrite is false; flush them so the
	// on-disk size reflects every record before compaction.
	if err := cl.Sync(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	initialSize := logFileSize(t, dir)

	if err := cl.Compact(); err != nil {
		t.Fatalf("compaction failed: %v", err)
	}

	compactedSize := logFileSize(t, dir)
	if compactedSize >= initialSize {
		t.Errorf("compaction didn't shrink the log: %d >= %d", compactedSize, initialSize)
	}

	if cl.Count() != 1 {
		t.Errorf("expected exactly 1 live snapshot after compaction, got %d", cl.Count())
	}
	if _, _, err := cl.Get(snapshotKey(1000)); err != nil {
		t.Errorf("most recent snapshot should survive compaction: %v", err)
	}
}

func TestCommitteeLogStats(t *testing.T) {
	dir := t.TempDir()

	cl, err := NewCommitteeLog(dir, false)
	if err != nil {
		t.Fatalf("failed to create committee log: %v", err)
	}
	defer cl.Close()

	body, _ := json.Marshal(sampleCommittee(2))
	cl.Put(snapshotKey(100), body, 100)
	cl.Put(snapshotKey(200), body, 200)
	cl.Get(snapshotKey(100))
	cl.Supersede(snapshotKey(200), 300)

	stats := cl.Stats()
	if stats.LiveSnapshots != 1 {
		t.Errorf("expected 1 live snapshot, got %d", stats.LiveSnapshots)
	}
	if stats.SupersededSnapshots != 1 {
		t.Errorf("expected 1 superseded snapshot, got %d", stats.SupersededSnapshots)
	}
	if stats.TotalWrites != 3 {
		t.Errorf("expected 3 writes, got %d", stats.TotalWrites)
	}
	if stats.TotalReads != 1 {
		t.Errorf("expected 1 read, got %d", stats.TotalReads)
	}
}

func logFileSize(t *testing.T, dir string) int64 {
	t.Helper()
	info, err := os.Stat(filepath.Join(dir, logFileName))
	if err != nil {
		t.Fatalf("failed to stat committee log file: %v", err)
	}
	return info.Size()
}
