package datacake

import (
	"context"

	"github.com/l-7-l/datacake/crdtset"
	"github.com/l-7-l/datacake/hlc"
	"github.com/l-7-l/datacake/storage"
	"github.com/l-7-l/datacake/transport"
)

// Handler returns the transport.Handler a Node mounts on a
// transport.Server to receive the calls its peers make on it. Kept as a
// separate adapter type (rather than exported directly on *Node)
// because Peer's method names (Put, Del, ...) collide with Node's own
// client-facing, Consistency-level-taking surface of the same names.
func (n *Node) Handler() transport.Handler { return nodeHandler{n} }

type nodeHandler struct{ n *Node }

var _ transport.Handler = nodeHandler{}

// applyPut absorbs the incoming HLC via Observe (so the local clock
// always catches up to whatever causality a peer's write carries) then
// applies the write locally, exactly as a peer-received call should.
func (n *Node) applyPut(ctx context.Context, keyspace string, doc storage.Document) error {
	if err := n.clock.Observe(doc.Timestamp); err != nil {
		return err
	}
	handle, err := n.group.GetOrCreate(ctx, keyspace)
	if err != nil {
		return err
	}
	return handle.Put(ctx, doc)
}

func (n *Node) applyMultiPut(ctx context.Context, keyspace string, docs []storage.Document) error {
	for _, d := range docs {
		if err := n.clock.Observe(d.Timestamp); err != nil {
			return err
		}
	}
	handle, err := n.group.GetOrCreate(ctx, keyspace)
	if err != nil {
		return err
	}
	return handle.MultiPut(ctx, docs)
}

func (n *Node) applyDel(ctx context.Context, keyspace string, key uint64, ts hlc.Timestamp) error {
	if err := n.clock.Observe(ts); err != nil {
		return err
	}
	handle, err := n.group.GetOrCreate(ctx, keyspace)
	if err != nil {
		return err
	}
	return handle.Del(ctx, key, ts)
}

func (n *Node) applyMultiDel(ctx context.Context, keyspace string, keys []transport.KeyTimestamp) error {
	pairs := make([]crdtset.KeyTimestamp, len(keys))
	for i, k := range keys {
		if err := n.clock.Observe(k.TS); err != nil {
			return err
		}
		pairs[i] = crdtset.KeyTimestamp{Key: k.Key, Timestamp: k.TS}
	}
	handle, err := n.group.GetOrCreate(ctx, keyspace)
	if err != nil {
		return err
	}
	return handle.MultiDel(ctx, pairs)
}

func (h nodeHandler) Put(ctx context.Context, keyspace string, doc storage.Document) error {
	return h.n.applyPut(ctx, keyspace, doc)
}

func (h nodeHandler) MultiPut(ctx context.Context, keyspace string, docs []storage.Document) error {
	return h.n.applyMultiPut(ctx, keyspace, docs)
}

func (h nodeHandler) Del(ctx context.Context, keyspace string, key uint64, ts hlc.Timestamp) error {
	return h.n.applyDel(ctx, keyspace, key, ts)
}

func (h nodeHandler) MultiDel(ctx context.Context, keyspace string, keys []transport.KeyTimestamp) error {
	return h.n.applyMultiDel(ctx, keyspace, keys)
}

// GetKeyspaceCounters answers a peer's anti-entropy probe with this
// node's per-keyspace last-updated counters.
func (h nodeHandler) GetKeyspaceCounters(ctx context.Context) (map[string]uint64, error) {
	out := make(map[string]uint64)
	for _, name := range h.n.group.Names() {
		out[name] = h.n.group.Counter(name)
	}
	return out, nil
}

// GetKeyspaceSnapshot answers a peer's request for this keyspace's
// current CRDT snapshot bytes.
func (h nodeHandler) GetKeyspaceSnapshot(ctx context.Context, keyspace string) ([]byte, error) {
	handle, err := h.n.group.GetOrCreate(ctx, keyspace)
	if err != nil {
		return nil, err
	}
	return handle.Snapshot(ctx), nil
}

// FetchDocs answers a peer's bulk document request, honoring have as a
// pure bandwidth optimization: a key the filter reports present may be
// skipped, but a false positive never breaks correctness since the
// requester's own merge step is unconditional over whatever comes back.
func (h nodeHandler) FetchDocs(ctx context.Context, keyspace string, keys []uint64, have *crdtset.BloomFilter) (transport.DocStream, error) {
	var toFetch []uint64
	for _, k := range keys {
		if have != nil && have.MayContain(k) {
			continue
		}
		toFetch = append(toFetch, k)
	}
	docs, err := h.n.store.MultiGet(ctx, keyspace, toFetch)
	if err != nil {
		return nil, &StorageError{Err: err}
	}
	if len(docs) == 0 {
		return transport.NewBatchStream(nil), nil
	}
	return transport.NewBatchStream([][]storage.Document{docs}), nil
}

// MarkTombstones answers a peer-driven reconciliation request, marking
// the given keys tombstoned in local storage independent of the CRDT
// (which already knows, via the RPC that drove this call).
func (h nodeHandler) MarkTombstones(ctx context.Context, keyspace string, marks []transport.KeyTimestamp) error {
	rows := make([]storage.Metadata, len(marks))
	for i, m := range marks {
		rows[i] = storage.Metadata{Key: m.Key, TS: m.TS, Dead: true}
	}
	return h.n.store.MarkTombstoneDocuments(ctx, keyspace, rows)
}
