// Package crdtset implements the replicated set used to track the live
// keys and tombstones of one keyspace: an Observed-Remove Set Without
// Tombstones (OR-SWOT) where a single hybrid logical clock timestamp per
// key resolves all concurrent writes by last-writer-wins.
//
// A Set is not internally synchronized. Concurrency discipline is
// pushed to its owner (the keyspace actor), matching the teacher's
// philosophy of serializing access to a CRDT through a single-writer
// task rather than locking the data structure itself.
package crdtset

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/bford/cofo/cbe"
	"github.com/spaolacci/murmur3"

	"github.com/l-7-l/datacake/hlc"
)

// KeyTimestamp pairs a key with the HLC timestamp of its current entry;
// used by Diff to report which keys changed.
type KeyTimestamp struct {
	Key       uint64
	Timestamp hlc.Timestamp
}

type entry struct {
	ts   hlc.Timestamp
	dead bool
}

// Set is an OR-SWOT CRDT: a mapping from key to the single entry with
// the greatest HLC timestamp observed for that key, along with whether
// that entry is a tombstone.
type Set struct {
	entries map[uint64]entry
}

// New returns an empty Set.
func New() *Set {
	return &Set{entries: make(map[uint64]entry)}
}

// Len returns the number of keys with an entry (live or tombstoned).
func (s *Set) Len() int { return len(s.entries) }

// Insert records a live value for key at ts. It is ignored (a no-op) if
// the set already holds an entry for key with a timestamp greater than
// or equal to ts, live or dead. Returns true if the set's state changed.
func (s *Set) Insert(key uint64, ts hlc.Timestamp) bool {
	return s.apply(key, ts, false)
}

// Delete records a tombstone for key at ts, under the same dominance
// rule as Insert. Returns true if the set's state changed.
func (s *Set) Delete(key uint64, ts hlc.Timestamp) bool {
	return s.apply(key, ts, true)
}

func (s *Set) apply(key uint64, ts hlc.Timestamp, dead bool) bool {
	cur, ok := s.entries[key]
	if ok && cur.ts.Dominates(ts) {
		return false
	}
	s.entries[key] = entry{ts: ts, dead: dead}
	return true
}

// Get returns the current timestamp and tombstone state for key.
func (s *Set) Get(key uint64) (ts hlc.Timestamp, dead bool, ok bool) {
	e, ok := s.entries[key]
	return e.ts, e.dead, ok
}

// Live reports whether key currently has a live (non-tombstoned) entry.
func (s *Set) Live(key uint64) bool {
	e, ok := s.entries[key]
	return ok && !e.dead
}

// Keys returns every key with a live entry, in no particular order.
func (s *Set) Keys() []uint64 {
	keys := make([]uint64, 0, len(s.entries))
	for k, e := range s.entries {
		if !e.dead {
			keys = append(keys, k)
		}
	}
	return keys
}

// Newest returns the greatest HLC timestamp across every entry (live or
// dead), or ok=false if the set is empty. Used to establish a lower
// bound on how far a peer's clock has advanced, e.g. when recording the
// anti-entropy poller's per-peer watermark.
func (s *Set) Newest() (ts hlc.Timestamp, ok bool) {
	for _, e := range s.entries {
		if !ok || ts.Less(e.ts) {
			ts = e.ts
			ok = true
		}
	}
	return ts, ok
}

// Merge applies every entry of other into s under the same pointwise
// dominance rule Insert/Delete use: for each key, the entry with the
// greater HLC timestamp wins. Merge is commutative, associative and
// idempotent: merging the same state in twice, or merging two sets in
// either order, yields the same result.
//
// Merge does not purge anything itself (purging is a separate, policy
// -laden decision made by PurgeOldDeletes).
func (s *Set) Merge(other *Set) {
	for k, e := range other.entries {
		cur, ok := s.entries[k]
		if !ok || e.ts.Compare(cur.ts) > 0 {
			s.entries[k] = e
		}
	}
}

// Diff decodes peerSnapshot (as produced by the peer's Snapshot) and
// reports what s's owner needs to pull in order to catch up to it:
//   - changed: live keys where the peer's entry strictly dominates s's
//     own (or s has no entry at all) — fetch the document and upsert it
//   - removed: keys where the peer holds a tombstone that strictly
//     dominates s's own entry — mark the key tombstoned locally, at the
//     peer's own timestamp, so storage metadata never regresses to a
//     zero/stale timestamp on rehydration
//
// Diff never reports a key where s already dominates the peer: those
// keys need no action, since s already holds the newest information for
// them. Diff does not mutate s.
func (s *Set) Diff(peerSnapshot []byte) (changed []KeyTimestamp, removed []KeyTimestamp, err error) {
	peer, err := Load(peerSnapshot)
	if err != nil {
		return nil, nil, err
	}
	for k, pe := range peer.entries {
		cur, ok := s.entries[k]
		if ok && pe.ts.Compare(cur.ts) <= 0 {
			continue
		}
		kt := KeyTimestamp{Key: k, Timestamp: pe.ts}
		if pe.dead {
			removed = append(removed, kt)
		} else {
			changed = append(changed, kt)
		}
	}
	return changed, removed, nil
}

// PurgeOldDeletes removes tombstones whose timestamp is strictly less
// than horizon and returns the purged keys. horizon is supplied by the
// caller (the keyspace group's safe-horizon tracking, see DESIGN.md);
// Set itself has no notion of peers or wall-clock time.
//
// The zero Timestamp dominates nothing, so calling this with a zero
// horizon (e.g. before any peer has been observed) is always a safe
// no-op.
func (s *Set) PurgeOldDeletes(horizon hlc.Timestamp) []uint64 {
	var purged []uint64
	for k, e := range s.entries {
		if e.dead && e.ts.Less(horizon) {
			delete(s.entries, k)
			purged = append(purged, k)
		}
	}
	return purged
}

// Snapshot encodes the set into a stable, position-independent binary
// form: a sequence of cbe-framed (key, timestamp, dead-flag) records
// sorted by key, so that two sets with identical logical state always
// encode to identical bytes.
func (s *Set) Snapshot() []byte {
	keys := make([]uint64, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	var buf []byte
	var kb [8]byte
	var deadb [1]byte
	for _, k := range keys {
		e := s.entries[k]
		binary.BigEndian.PutUint64(kb[:], k)
		buf = cbe.Encode(buf, kb[:])
		buf = cbe.Encode(buf, hlc.Encode(nil, e.ts))
		if e.dead {
			deadb[0] = 1
		} else {
			deadb[0] = 0
		}
		buf = cbe.Encode(buf, deadb[:])
	}
	return buf
}

// Load decodes a snapshot produced by Snapshot into a fresh Set.
func Load(data []byte) (*Set, error) {
	s := New()
	rest := data
	for len(rest) > 0 {
		var kb, tb, db []byte
		var err error
		kb, rest, err = cbe.Decode(rest)
		if err != nil {
			return nil, fmt.Errorf("crdtset: decoding key: %w", err)
		}
		if len(kb) != 8 {
			return nil, fmt.Errorf("crdtset: corrupt key field of length %d", len(kb))
		}
		tb, rest, err = cbe.Decode(rest)
		if err != nil {
			return nil, fmt.Errorf("crdtset: decoding timestamp: %w", err)
		}
		ts, trailing, err := hlc.Decode(tb)
		if err != nil {
			return nil, fmt.Errorf("crdtset: decoding timestamp: %w", err)
		}
		if len(trailing) != 0 {
			return nil, fmt.Errorf("crdtset: corrupt timestamp field")
		}
		db, rest, err = cbe.Decode(rest)
		if err != nil {
			return nil, fmt.Errorf("crdtset: decoding dead flag: %w", err)
		}
		if len(db) != 1 {
			return nil, fmt.Errorf("crdtset: corrupt dead-flag field of length %d", len(db))
		}
		key := binary.BigEndian.Uint64(kb)
		s.entries[key] = entry{ts: ts, dead: db[0] != 0}
	}
	return s, nil
}

// Fingerprint returns a murmur3 digest of the set's canonical snapshot
// encoding. It is a debugging/operator aid surfaced via Node.Stats, NOT
// part of the anti-entropy protocol: two nodes' fingerprints are only
// meaningful to compare if their snapshots were produced identically,
// and the protocol itself relies solely on the per-node wall-ms
// "last-updated" counter (see the Keyspace Group) for change detection.
func (s *Set) Fingerprint() uint64 {
	return murmur3.Sum64(s.Snapshot())
}
