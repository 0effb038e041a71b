package datacake

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/l-7-l/datacake/crdtset"
	"github.com/l-7-l/datacake/storage"
	"github.com/l-7-l/datacake/topology"
	"github.com/l-7-l/datacake/transport"
)

// dispatch resolves level to a peer set, applies local via local() (a
// precondition for every level, never counted against the level's own
// quorum arithmetic), then fans out rpc to every selected peer
// concurrently, each under its own FanoutTimeout-bounded context so one
// slow peer cannot starve another. It returns ConsistencyFailure if
// fewer than required peers acknowledge.
func (n *Node) dispatch(ctx context.Context, level topology.Consistency, local func() error, rpc func(ctx context.Context, peer transport.Peer) error) error {
	peers, err := n.selector.GetNodes(level, n.cfg.LocalDC)
	if err != nil {
		return err
	}
	required, err := n.selector.RequiredAcks(level, n.cfg.LocalDC)
	if err != nil {
		return err
	}

	if err := local(); err != nil {
		return err
	}

	var mu sync.Mutex
	var acks int
	var failures []error

	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range peers {
		addr := addr
		g.Go(func() error {
			peerCtx, cancel := context.WithTimeout(gctx, n.cfg.FanoutTimeout)
			defer cancel()
			peer, err := n.dialer.GetOrConnect(peerCtx, addr)
			if err != nil {
				ferr := &TransportError{Node: addr, Err: err}
				n.cfg.logError("fanout: %v", ferr)
				mu.Lock()
				failures = append(failures, ferr)
				mu.Unlock()
				return nil
			}
			if err := rpc(peerCtx, peer); err != nil {
				ferr := &RpcError{Node: addr, Err: err}
				n.cfg.logError("fanout: %v", ferr)
				mu.Lock()
				failures = append(failures, ferr)
				mu.Unlock()
				return nil
			}
			mu.Lock()
			acks++
			mu.Unlock()
			return nil
		})
	}
	// errgroup's functions never return a non-nil error above (peer
	// failures are swallowed and tallied, not raised) so the only way
	// Wait fails is a genuinely programmer-level bug; propagate it.
	if err := g.Wait(); err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if acks < required {
		return &ConsistencyFailure{Responses: acks, Required: required, Timeout: n.cfg.FanoutTimeout, Failures: failures}
	}
	return nil
}

// Put writes doc to the local keyspace and fans it out at level.
func (n *Node) Put(ctx context.Context, level topology.Consistency, keyspace string, key uint64, value []byte) error {
	ts, err := n.clock.Now()
	if err != nil {
		return err
	}
	doc := storage.Document{Key: key, Timestamp: ts, Value: value}
	handle, err := n.group.GetOrCreate(ctx, keyspace)
	if err != nil {
		return err
	}
	return n.dispatch(ctx, level,
		func() error { return handle.Put(ctx, doc) },
		func(ctx context.Context, peer transport.Peer) error { return peer.Put(ctx, keyspace, doc) },
	)
}

// MultiPut writes many values to one keyspace under a single HLC
// reading and fans them out at level.
func (n *Node) MultiPut(ctx context.Context, level topology.Consistency, keyspace string, kvs map[uint64][]byte) error {
	ts, err := n.clock.Now()
	if err != nil {
		return err
	}
	docs := make([]storage.Document, 0, len(kvs))
	for k, v := range kvs {
		docs = append(docs, storage.Document{Key: k, Timestamp: ts, Value: v})
	}
	handle, err := n.group.GetOrCreate(ctx, keyspace)
	if err != nil {
		return err
	}
	return n.dispatch(ctx, level,
		func() error { return handle.MultiPut(ctx, docs) },
		func(ctx context.Context, peer transport.Peer) error { return peer.MultiPut(ctx, keyspace, docs) },
	)
}

// Del tombstones key in keyspace and fans out the delete at level.
func (n *Node) Del(ctx context.Context, level topology.Consistency, keyspace string, key uint64) error {
	ts, err := n.clock.Now()
	if err != nil {
		return err
	}
	handle, err := n.group.GetOrCreate(ctx, keyspace)
	if err != nil {
		return err
	}
	return n.dispatch(ctx, level,
		func() error { return handle.Del(ctx, key, ts) },
		func(ctx context.Context, peer transport.Peer) error { return peer.Del(ctx, keyspace, key, ts) },
	)
}

// MultiDel tombstones many keys in one keyspace under a single HLC
// reading and fans out the delete at level.
func (n *Node) MultiDel(ctx context.Context, level topology.Consistency, keyspace string, keys []uint64) error {
	ts, err := n.clock.Now()
	if err != nil {
		return err
	}
	pairs := make([]crdtset.KeyTimestamp, len(keys))
	for i, k := range keys {
		pairs[i] = crdtset.KeyTimestamp{Key: k, Timestamp: ts}
	}
	handle, err := n.group.GetOrCreate(ctx, keyspace)
	if err != nil {
		return err
	}
	transportPairs := make([]transport.KeyTimestamp, len(keys))
	for i, k := range keys {
		transportPairs[i] = transport.KeyTimestamp{Key: k, TS: ts}
	}
	return n.dispatch(ctx, level,
		func() error { return handle.MultiDel(ctx, pairs) },
		func(ctx context.Context, peer transport.Peer) error { return peer.MultiDel(ctx, keyspace, transportPairs) },
	)
}
