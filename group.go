package datacake

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bford/cofo/cbe"

	"github.com/l-7-l/datacake/crdtset"
	"github.com/l-7-l/datacake/hlc"
	"github.com/l-7-l/datacake/storage"
)

// keyspaceGroup is a registry of keyspace actors plus the per-keyspace
// "last updated" counters peers probe during anti-entropy. Readers are
// hot (every mutation consults the map); writers are cold (keyspace
// creation, membership change), so access is guarded by a single
// sync.RWMutex rather than anything fancier.
type keyspaceGroup struct {
	mu       sync.RWMutex
	actors   map[string]*keyspaceActor
	counters map[string]uint64

	store     storage.Store
	inboxSize int

	peerHLCMu sync.Mutex
	peerHLC   map[string]hlc.Timestamp // peer node addr -> newest HLC observed from that peer
}

func newKeyspaceGroup(store storage.Store, inboxSize int) *keyspaceGroup {
	return &keyspaceGroup{
		actors:    make(map[string]*keyspaceActor),
		counters:  make(map[string]uint64),
		store:     store,
		inboxSize: inboxSize,
		peerHLC:   make(map[string]hlc.Timestamp),
	}
}

// KeyspaceHandle is the exported surface over one keyspace's actor: the
// group itself stays unexported, matching the teacher's Store-interface
// vs. defaultValueStore split.
type KeyspaceHandle struct {
	name  string
	group *keyspaceGroup
}

// GetOrCreate returns the handle for name, constructing and rehydrating
// a fresh actor from storage metadata on first access. Idempotent under
// concurrent creation: the first caller to win the write lock builds
// the actor, everyone else gets the result of that build.
func (g *keyspaceGroup) GetOrCreate(ctx context.Context, name string) (*KeyspaceHandle, error) {
	g.mu.RLock()
	_, ok := g.actors[name]
	g.mu.RUnlock()
	if ok {
		return &KeyspaceHandle{name: name, group: g}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.actors[name]; !ok {
		rows, err := g.store.LoadMetadata(ctx, name)
		if err != nil {
			return nil, &StorageError{Err: err}
		}
		set := crdtset.New()
		for _, row := range rows {
			if row.Dead {
				set.Delete(row.Key, row.TS)
			} else {
				set.Insert(row.Key, row.TS)
			}
		}
		g.actors[name] = newKeyspaceActor(g.inboxSize, set)
	}
	return &KeyspaceHandle{name: name, group: g}, nil
}

// Names returns every keyspace this group currently has an actor for.
func (g *keyspaceGroup) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.actors))
	for n := range g.actors {
		names = append(names, n)
	}
	return names
}

func (g *keyspaceGroup) actorFor(name string) *keyspaceActor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.actors[name]
}

func (g *keyspaceGroup) bumpCounter(name string) {
	g.mu.Lock()
	g.counters[name] = uint64(time.Now().UnixMilli())
	g.mu.Unlock()
}

// Counter returns the current last-updated counter for name.
func (g *keyspaceGroup) Counter(name string) uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.counters[name]
}

// SerializeCounters cbe-encodes (name, counter) pairs sorted by name,
// the "what's new?" probe response peers poll against this node.
func (g *keyspaceGroup) SerializeCounters() []byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.counters))
	for n := range g.counters {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf []byte
	var cb [8]byte
	for _, n := range names {
		buf = cbe.Encode(buf, []byte(n))
		putUint64(&cb, g.counters[n])
		buf = cbe.Encode(buf, cb[:])
	}
	return buf
}

// safeHorizon returns the oldest last-observed HLC across every peer
// this node currently tracks, capped at currentClock, or the zero
// Timestamp if none have been observed yet — a safe no-purge default. It is the tombstone-purge
// horizon policy decided in DESIGN.md.
func (g *keyspaceGroup) safeHorizon(currentClock hlc.Timestamp) hlc.Timestamp {
	g.peerHLCMu.Lock()
	defer g.peerHLCMu.Unlock()
	if len(g.peerHLC) == 0 {
		return hlc.Zero
	}
	horizon := currentClock
	for _, ts := range g.peerHLC {
		if ts.Less(horizon) {
			horizon = ts
		}
	}
	return horizon
}

// observePeerHLC records the most recent HLC this node has learned a
// peer has caught up to, narrowing (raising) that peer's contribution
// to the purge horizon. Called by the poller after every successful
// merge.
func (g *keyspaceGroup) observePeerHLC(peerAddr string, ts hlc.Timestamp) {
	g.peerHLCMu.Lock()
	defer g.peerHLCMu.Unlock()
	if cur, ok := g.peerHLC[peerAddr]; !ok || cur.Less(ts) {
		g.peerHLC[peerAddr] = ts
	}
}

// forgetPeer drops a peer's HLC watermark, e.g. when it leaves the
// cluster, so it can no longer hold the purge horizon back.
func (g *keyspaceGroup) forgetPeer(peerAddr string) {
	g.peerHLCMu.Lock()
	defer g.peerHLCMu.Unlock()
	delete(g.peerHLC, peerAddr)
}

func putUint64(b *[8]byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// Put applies the four-step mutation contract: stamp the counter, write
// storage metadata, enqueue the CRDT op, await the reply. If the
// storage write fails the CRDT is untouched and StorageError propagates.
func (h *KeyspaceHandle) Put(ctx context.Context, doc storage.Document) error {
	h.group.bumpCounter(h.name)
	if err := h.group.store.SetMetadata(ctx, h.name, doc.Key, doc.Timestamp, false); err != nil {
		return &StorageError{Err: err}
	}
	if err := h.group.store.UpsertDocuments(ctx, h.name, []storage.Document{doc}); err != nil {
		return &StorageError{Err: err}
	}
	reply := make(chan bool, 1)
	h.group.actorFor(h.name).inbox <- setMsg{key: doc.Key, ts: doc.Timestamp, dead: false, reply: reply}
	<-reply
	return nil
}

// MultiPut is Put over a batch of documents sharing one HLC reading,
// so one counter bump and one SetManyMetadata call cover the whole
// batch, plus one actor round trip.
func (h *KeyspaceHandle) MultiPut(ctx context.Context, docs []storage.Document) error {
	if len(docs) == 0 {
		return nil
	}
	h.group.bumpCounter(h.name)
	keys := make([]uint64, len(docs))
	for i, doc := range docs {
		keys[i] = doc.Key
	}
	if err := h.group.store.SetManyMetadata(ctx, h.name, keys, docs[0].Timestamp, false); err != nil {
		return &StorageError{Err: err}
	}
	if err := h.group.store.UpsertDocuments(ctx, h.name, docs); err != nil {
		return &StorageError{Err: err}
	}
	pairs := make([]crdtset.KeyTimestamp, len(docs))
	for i, d := range docs {
		pairs[i] = crdtset.KeyTimestamp{Key: d.Key, Timestamp: d.Timestamp}
	}
	reply := make(chan bool, 1)
	h.group.actorFor(h.name).inbox <- multiSetMsg{pairs: pairs, dead: false, reply: reply}
	<-reply
	return nil
}

// Del applies a tombstone under the same four-step contract as Put.
func (h *KeyspaceHandle) Del(ctx context.Context, key uint64, ts hlc.Timestamp) error {
	h.group.bumpCounter(h.name)
	if err := h.group.store.SetMetadata(ctx, h.name, key, ts, true); err != nil {
		return &StorageError{Err: err}
	}
	if err := h.group.store.MarkTombstoneDocuments(ctx, h.name, []storage.Metadata{{Key: key, TS: ts, Dead: true}}); err != nil {
		return &StorageError{Err: err}
	}
	reply := make(chan bool, 1)
	h.group.actorFor(h.name).inbox <- setMsg{key: key, ts: ts, dead: true, reply: reply}
	<-reply
	return nil
}

// MultiDel is Del over a batch of (key, ts) pairs sharing one HLC
// reading, so one SetManyMetadata call covers the whole batch.
func (h *KeyspaceHandle) MultiDel(ctx context.Context, pairs []crdtset.KeyTimestamp) error {
	if len(pairs) == 0 {
		return nil
	}
	h.group.bumpCounter(h.name)
	keys := make([]uint64, len(pairs))
	marks := make([]storage.Metadata, len(pairs))
	for i, p := range pairs {
		keys[i] = p.Key
		marks[i] = storage.Metadata{Key: p.Key, TS: p.Timestamp, Dead: true}
	}
	if err := h.group.store.SetManyMetadata(ctx, h.name, keys, pairs[0].Timestamp, true); err != nil {
		return &StorageError{Err: err}
	}
	if err := h.group.store.MarkTombstoneDocuments(ctx, h.name, marks); err != nil {
		return &StorageError{Err: err}
	}
	reply := make(chan bool, 1)
	h.group.actorFor(h.name).inbox <- multiSetMsg{pairs: pairs, dead: true, reply: reply}
	<-reply
	return nil
}

// Snapshot returns the keyspace's current CRDT snapshot bytes.
func (h *KeyspaceHandle) Snapshot(ctx context.Context) []byte {
	reply := make(chan []byte, 1)
	h.group.actorFor(h.name).inbox <- serializeMsg{reply: reply}
	return <-reply
}

// Diff asks the actor for what its owner needs to pull from the peer
// whose snapshot is given.
func (h *KeyspaceHandle) Diff(ctx context.Context, peerSnapshot []byte) ([]crdtset.KeyTimestamp, []crdtset.KeyTimestamp, error) {
	reply := make(chan diffResult, 1)
	h.group.actorFor(h.name).inbox <- diffMsg{peerSnapshot: peerSnapshot, reply: reply}
	r := <-reply
	return r.changed, r.removed, r.err
}

// Merge merges a peer's snapshot into the actor's CRDT set, then purges
// any tombstone whose horizon has passed, returning the purged keys.
func (h *KeyspaceHandle) Merge(ctx context.Context, peerSnapshot []byte, horizon hlc.Timestamp) ([]uint64, error) {
	reply := make(chan error, 1)
	h.group.actorFor(h.name).inbox <- mergeMsg{peerSnapshot: peerSnapshot, reply: reply}
	if err := <-reply; err != nil {
		return nil, &ErrCorruptedState{Keyspace: h.name, Err: err}
	}
	purgeReply := make(chan []uint64, 1)
	h.group.actorFor(h.name).inbox <- purgeDeletesMsg{horizon: horizon, reply: purgeReply}
	purged := <-purgeReply
	if len(purged) > 0 {
		if err := h.group.store.RemoveManyMetadata(ctx, h.name, purged); err != nil {
			return purged, &StorageError{Err: err}
		}
		if err := h.group.store.ClearTombstoneDocuments(ctx, h.name, purged); err != nil {
			return purged, &StorageError{Err: err}
		}
	}
	h.group.bumpCounter(h.name)
	return purged, nil
}
