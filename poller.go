package datacake

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/l-7-l/datacake/crdtset"
	"github.com/l-7-l/datacake/storage"
	"github.com/l-7-l/datacake/transport"
)

// poller runs the anti-entropy loop against one peer: detect changed
// keyspaces, diff, pull documents, merge, purge. One instance exists
// per known peer, started and stopped by the membership watcher.
type poller struct {
	peerAddr string
	node     *Node
	interval time.Duration
	sem      *semaphore.Weighted

	lastCounters map[string]uint64
}

func newPoller(peerAddr string, node *Node) *poller {
	return &poller{
		peerAddr:     peerAddr,
		node:         node,
		interval:     node.cfg.PollInterval,
		sem:          semaphore.NewWeighted(1),
		lastCounters: make(map[string]uint64),
	}
}

// run ticks at p.interval until ctx is canceled. A single time.Ticker
// (never time.Sleep in a loop) means a slow tick body simply delays the
// next fire instead of piling up extra ones.
func (p *poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *poller) tick(ctx context.Context) {
	peer, err := p.node.dialer.GetOrConnect(ctx, p.peerAddr)
	if err != nil {
		p.node.cfg.logError("poller %s: dial: %v", p.peerAddr, err)
		return
	}

	counters, err := peer.GetKeyspaceCounters(ctx)
	if err != nil {
		p.node.cfg.logError("poller %s: probe: %v", p.peerAddr, err)
		return
	}

	for name, counter := range counters {
		if counter != 0 && counter <= p.lastCounters[name] {
			continue
		}
		name, counter := name, counter
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		func() {
			defer p.sem.Release(1)
			if err := p.syncKeyspace(ctx, peer, name); err != nil {
				p.node.cfg.logError("poller %s: sync %s: %v", p.peerAddr, name, err)
				return
			}
			p.lastCounters[name] = counter
		}()
	}
}

// syncKeyspace runs steps 2-5 of one anti-entropy tick for a single
// keyspace: diff against the peer's snapshot, mark removals, fetch
// changed documents, then merge.
func (p *poller) syncKeyspace(ctx context.Context, peer transport.Peer, name string) error {
	snap, err := peer.GetKeyspaceSnapshot(ctx, name)
	if err != nil {
		return err
	}

	handle, err := p.node.group.GetOrCreate(ctx, name)
	if err != nil {
		return err
	}
	changed, removed, err := handle.Diff(ctx, snap)
	if err != nil {
		return err
	}
	if len(changed) == 0 && len(removed) == 0 {
		return nil
	}

	if len(removed) > 0 {
		marks := make([]storage.Metadata, len(removed))
		for i, kt := range removed {
			marks[i] = storage.Metadata{Key: kt.Key, TS: kt.Timestamp, Dead: true}
		}
		if err := p.node.store.MarkTombstoneDocuments(ctx, name, marks); err != nil {
			return err
		}
	}

	if len(changed) > 0 {
		keys := make([]uint64, len(changed))
		for i, c := range changed {
			keys[i] = c.Key
		}
		have := p.haveFilter(ctx, handle, keys)
		stream, err := peer.FetchDocs(ctx, name, keys, have)
		if err != nil {
			return err
		}
		for {
			batch, ok, err := stream.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if len(batch) > 0 {
				if err := p.node.store.UpsertDocuments(ctx, name, batch); err != nil {
					return err
				}
			}
		}
	}

	ts, err := p.node.clock.Now()
	if err != nil {
		return err
	}
	horizon := p.node.group.safeHorizon(ts)
	purged, err := handle.Merge(ctx, snap, horizon)
	if err != nil {
		return err
	}
	if len(purged) > 0 {
		p.node.cfg.logDebug("poller %s: purged %d tombstones from %s", p.peerAddr, len(purged), name)
	}

	peerSet, err := crdtset.Load(snap)
	if err != nil {
		return err
	}
	if newest, ok := peerSet.Newest(); ok {
		p.node.group.observePeerHLC(p.peerAddr, newest)
	}
	return nil
}

// haveFilter builds a bloom pre-filter of every key this node currently
// holds a live entry for, except the keys in want (those the peer's
// entry dominates, so the local copy is stale and must be fetched).
// It is purely a bandwidth optimization: a
// well-behaved peer can skip re-sending documents the filter says are
// already present, but a peer that ignores it is still correct, just
// chattier (see crdtset.BloomFilter). The salt varies every tick so a
// filter built on stale information is never mistaken for a fresh one.
func (p *poller) haveFilter(ctx context.Context, handle *KeyspaceHandle, want []uint64) *crdtset.BloomFilter {
	set, err := crdtset.Load(handle.Snapshot(ctx))
	if err != nil {
		return nil
	}
	stale := make(map[uint64]bool, len(want))
	for _, k := range want {
		stale[k] = true
	}
	var keys []uint64
	for _, k := range set.Keys() {
		if !stale[k] {
			keys = append(keys, k)
		}
	}
	f := crdtset.NewBloomFilter(len(keys), uint32(time.Now().UnixNano()))
	for _, k := range keys {
		f.Add(k)
	}
	return f
}
