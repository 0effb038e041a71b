package crdtset

import (
	"reflect"
	"sort"
	"testing"

	"github.com/l-7-l/datacake/hlc"
)

func ts(wall uint64, counter uint32, node uint32) hlc.Timestamp {
	return hlc.Timestamp{WallMS: wall, Counter: counter, NodeID: node}
}

func TestInsertThenDeleteWithGreaterTimestampWins(t *testing.T) {
	s := New()
	if !s.Insert(1, ts(100, 0, 1)) {
		t.Fatal("expected first insert to change state")
	}
	if !s.Delete(1, ts(200, 0, 1)) {
		t.Fatal("expected later delete to change state")
	}
	if s.Live(1) {
		t.Fatal("key should be dead after delete")
	}
}

func TestStaleWriteIsIgnored(t *testing.T) {
	s := New()
	s.Insert(1, ts(200, 0, 1))
	if s.Insert(1, ts(100, 0, 1)) {
		t.Fatal("insert with older timestamp must be a no-op")
	}
	if _, dead, _ := s.Get(1); dead {
		t.Fatal("stale insert should not have resurrected a tombstone")
	}
	if !s.Live(1) {
		t.Fatal("key should still be live with the original value")
	}
}

func TestEqualTimestampTieBreaksByNodeID(t *testing.T) {
	s := New()
	s.Insert(1, ts(100, 0, 1))
	if !s.Delete(1, ts(100, 0, 2)) {
		t.Fatal("delete from the higher node id at an equal wall/counter must dominate")
	}
	if s.Live(1) {
		t.Fatal("higher node id tombstone should win the tie")
	}
}

func TestMergeIsCommutative(t *testing.T) {
	a := New()
	a.Insert(1, ts(100, 0, 1))
	a.Delete(2, ts(50, 0, 1))

	b := New()
	b.Insert(1, ts(50, 0, 2))
	b.Insert(3, ts(10, 0, 2))

	ab := New()
	ab.Merge(a)
	ab.Merge(b)

	ba := New()
	ba.Merge(b)
	ba.Merge(a)

	if !reflect.DeepEqual(ab.Snapshot(), ba.Snapshot()) {
		t.Fatal("merge order should not affect the resulting state")
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	a := New()
	a.Insert(1, ts(100, 0, 1))
	a.Delete(2, ts(50, 0, 1))

	b := New()
	b.Insert(1, ts(50, 0, 2))

	once := New()
	once.Merge(a)
	once.Merge(b)

	twice := New()
	twice.Merge(a)
	twice.Merge(b)
	twice.Merge(b)
	twice.Merge(a)

	if !reflect.DeepEqual(once.Snapshot(), twice.Snapshot()) {
		t.Fatal("repeated merges of the same state must not change the result")
	}
}

func TestMergeIsAssociative(t *testing.T) {
	a := New()
	a.Insert(1, ts(10, 0, 1))
	b := New()
	b.Insert(1, ts(20, 0, 2))
	b.Insert(2, ts(5, 0, 2))
	c := New()
	c.Delete(2, ts(30, 0, 3))

	left := New()
	left.Merge(a)
	left.Merge(b)
	left.Merge(c)

	right := New()
	bc := New()
	bc.Merge(b)
	bc.Merge(c)
	right.Merge(a)
	right.Merge(bc)

	if !reflect.DeepEqual(left.Snapshot(), right.Snapshot()) {
		t.Fatal("((a merge b) merge c) must equal (a merge (b merge c))")
	}
}

func TestMergeDoesNotResurrectAStaleInsert(t *testing.T) {
	local := New()
	local.Delete(1, ts(200, 0, 1))

	peer := New()
	peer.Insert(1, ts(100, 0, 2))

	local.Merge(peer)
	if local.Live(1) {
		t.Fatal("a dominant tombstone must survive merging an older insert")
	}
}

func TestDiffReportsOnlyKeysThePeerDominates(t *testing.T) {
	local := New()
	local.Insert(1, ts(100, 0, 1)) // local ahead, peer must not ask for this
	local.Insert(2, ts(10, 0, 1))  // peer ahead with a live write
	local.Insert(3, ts(10, 0, 1))  // peer ahead with a tombstone

	peer := New()
	peer.Insert(1, ts(50, 0, 2))
	peer.Insert(2, ts(20, 0, 2))
	peer.Delete(3, ts(20, 0, 2))

	changed, removed, err := local.Diff(peer.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 1 || changed[0].Key != 2 {
		t.Fatalf("got changed=%v, want only key 2", changed)
	}
	if len(removed) != 1 || removed[0].Key != 3 {
		t.Fatalf("got removed=%v, want only key 3", removed)
	}
}

func TestDiffAgainstEmptyLocalReturnsEverythingLive(t *testing.T) {
	local := New()

	peer := New()
	for k := uint64(0); k < 100; k++ {
		peer.Insert(k, ts(10+k, 0, 2))
	}

	changed, removed, err := local.Diff(peer.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 0 {
		t.Fatalf("expected no removals against an empty peer-less local, got %v", removed)
	}
	if len(changed) != 100 {
		t.Fatalf("got %d changed keys, want 100", len(changed))
	}
}

func TestDiffIsEmptyWhenLocalAlreadyDominates(t *testing.T) {
	local := New()
	local.Insert(1, ts(100, 0, 1))
	local.Delete(2, ts(100, 0, 1))

	peer := New()
	peer.Insert(1, ts(10, 0, 2))
	peer.Insert(2, ts(10, 0, 2))

	changed, removed, err := local.Diff(peer.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 0 || len(removed) != 0 {
		t.Fatalf("expected no work when local already dominates, got changed=%v removed=%v", changed, removed)
	}
}

func TestPurgeOldDeletesRespectsHorizon(t *testing.T) {
	s := New()
	s.Delete(1, ts(100, 0, 1))
	s.Delete(2, ts(300, 0, 1))
	s.Insert(3, ts(50, 0, 1))

	purged := s.PurgeOldDeletes(ts(200, 0, 1))
	sort.Slice(purged, func(i, j int) bool { return purged[i] < purged[j] })
	if !reflect.DeepEqual(purged, []uint64{1}) {
		t.Fatalf("got purged=%v, want [1]", purged)
	}
	if _, _, ok := s.Get(1); ok {
		t.Fatal("purged tombstone should be gone entirely")
	}
	if _, dead, ok := s.Get(2); !ok || !dead {
		t.Fatal("tombstone newer than the horizon must survive")
	}
	if !s.Live(3) {
		t.Fatal("live entry must never be purged")
	}
}

func TestPurgeWithZeroHorizonIsNoOp(t *testing.T) {
	s := New()
	s.Delete(1, ts(100, 0, 1))
	if purged := s.PurgeOldDeletes(hlc.Zero); len(purged) != 0 {
		t.Fatalf("zero horizon should purge nothing, got %v", purged)
	}
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	s := New()
	s.Insert(1, ts(100, 0, 1))
	s.Delete(2, ts(200, 3, 4))
	s.Insert(3, ts(1, 0, 0))

	loaded, err := Load(s.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(s.entries, loaded.entries) {
		t.Fatalf("round trip mismatch: got %v, want %v", loaded.entries, s.entries)
	}
}

func TestSnapshotIsOrderIndependent(t *testing.T) {
	a := New()
	a.Insert(1, ts(1, 0, 1))
	a.Insert(2, ts(2, 0, 1))
	a.Insert(3, ts(3, 0, 1))

	b := New()
	b.Insert(3, ts(3, 0, 1))
	b.Insert(1, ts(1, 0, 1))
	b.Insert(2, ts(2, 0, 1))

	if !reflect.DeepEqual(a.Snapshot(), b.Snapshot()) {
		t.Fatal("insertion order must not affect the canonical snapshot encoding")
	}
}

func TestFingerprintIsDeterministicAndStateSensitive(t *testing.T) {
	a := New()
	a.Insert(1, ts(1, 0, 1))

	b := New()
	b.Insert(1, ts(1, 0, 1))

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("identical state must produce identical fingerprints")
	}

	b.Insert(2, ts(2, 0, 1))
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("differing state must (with overwhelming probability) produce differing fingerprints")
	}
}

func TestNewestReturnsGreatestTimestamp(t *testing.T) {
	s := New()
	s.Insert(1, ts(10, 0, 1))
	s.Delete(2, ts(99, 0, 1))
	s.Insert(3, ts(50, 0, 1))
	got, ok := s.Newest()
	if !ok || got != ts(99, 0, 1) {
		t.Fatalf("got %v ok=%v, want 99.0@1", got, ok)
	}
}

func TestNewestOnEmptySetReportsNotOK(t *testing.T) {
	if _, ok := New().Newest(); ok {
		t.Fatal("expected ok=false for an empty set")
	}
}

func TestLoadRejectsCorruptData(t *testing.T) {
	if _, err := Load([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatal("expected an error decoding garbage bytes")
	}
}
