// Package datacake implements an eventually-consistent, distributed
// key-value replication layer that sits in front of a pluggable local
// datastore: per-keyspace CRDT state (crdtset), a consistency-aware
// write fan-out to peer replicas, and a background anti-entropy poller
// that reconciles divergence on a fixed cadence.
package datacake

import (
	"context"
	"fmt"
	"sync"

	"github.com/gholt/brimtext"

	"github.com/l-7-l/datacake/crdtset"
	"github.com/l-7-l/datacake/hlc"
	"github.com/l-7-l/datacake/membership"
	"github.com/l-7-l/datacake/storage"
	"github.com/l-7-l/datacake/topology"
	"github.com/l-7-l/datacake/transport"
)

// Node is the composition root wiring the clock, keyspace group,
// selector, pollers and membership watcher into one handle. It mirrors
// the teacher's top-level ValuesStore/DefaultGroupStore: pure
// composition over a set of background subsystems, with Put/MultiPut/
// Del/MultiDel/Get as its client-facing surface.
type Node struct {
	cfg      Config
	clock    *hlc.Clock
	group    *keyspaceGroup
	selector *topology.Selector
	store    storage.Store
	dialer   transport.Dialer
	watcher  *membershipWatcher

	shutdownOnce sync.Once
	cancel       context.CancelFunc
}

// NewNode builds a Node from cfg and its external collaborators, then
// starts the membership watcher against watch (which may be nil if the
// caller never intends to add peers, e.g. in single-node tests).
func NewNode(cfg Config, store storage.Store, dialer transport.Dialer, watch membership.Watcher) (*Node, error) {
	cfg = resolveConfig(cfg)
	n := &Node{
		cfg:      cfg,
		clock:    hlc.NewClock(cfg.NodeID, cfg.MaxClockCounter),
		group:    newKeyspaceGroup(store, cfg.ActorInboxSize),
		selector: topology.NewSelector(),
		store:    store,
		dialer:   dialer,
	}
	n.watcher = newMembershipWatcher(n, n.selector)

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	if watch != nil {
		ch, err := watch.Watch(ctx)
		if err != nil {
			cancel()
			return nil, err
		}
		go n.watcher.Run(ctx, ch)
	}
	return n, nil
}

// Get returns the document for key in keyspace, loading the keyspace's
// metadata into an actor if this is the first access.
func (n *Node) Get(ctx context.Context, keyspace string, key uint64) (storage.Document, bool, error) {
	if _, err := n.group.GetOrCreate(ctx, keyspace); err != nil {
		return storage.Document{}, false, err
	}
	doc, ok, err := n.store.Get(ctx, keyspace, key)
	if err != nil {
		return storage.Document{}, false, &StorageError{Err: err}
	}
	return doc, ok, nil
}

// Shutdown stops the membership watcher and every running poller, and
// closes every keyspace actor.
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		n.cancel()
		n.group.mu.Lock()
		defer n.group.mu.Unlock()
		for _, a := range n.group.actors {
			a.close()
		}
	})
}

// Stats renders operator-facing counters for every known keyspace,
// including each one's murmur3 snapshot fingerprint — a debugging aid,
// explicitly not part of the anti-entropy protocol itself.
func (n *Node) Stats(ctx context.Context) fmt.Stringer {
	names := n.group.Names()
	rows := make([][]string, 0, len(names)+1)
	rows = append(rows, []string{"keyspace", "counter", "fingerprint"})
	for _, name := range names {
		handle, err := n.group.GetOrCreate(ctx, name)
		if err != nil {
			continue
		}
		set, err := crdtset.Load(handle.Snapshot(ctx))
		if err != nil {
			continue
		}
		rows = append(rows, []string{
			name,
			fmt.Sprintf("%d", n.group.Counter(name)),
			fmt.Sprintf("%x", set.Fingerprint()),
		})
	}
	return nodeStats{rows: rows}
}

type nodeStats struct {
	rows [][]string
}

func (s nodeStats) String() string {
	return brimtext.Align(s.rows, nil)
}
