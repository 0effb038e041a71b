package datacake

import (
	"context"
	"fmt"
	"sync"

	"github.com/l-7-l/datacake/membership"
	"github.com/l-7-l/datacake/topology"
)

// pollerHandle tracks one running poller's lifecycle so it can be
// canceled and joined when its peer leaves the cluster.
type pollerHandle struct {
	cancel context.CancelFunc
	done   <-chan struct{}
}

// membershipWatcher subscribes to the membership collaborator's change
// stream and keeps the node's topology.Selector and set of running
// pollers in sync with it.
type membershipWatcher struct {
	node *Node
	sel  *topology.Selector

	mu      sync.Mutex
	last    map[string]membership.Member // keyed by node_id+"/"+addr
	pollers map[string]*pollerHandle     // keyed by addr
}

func newMembershipWatcher(node *Node, sel *topology.Selector) *membershipWatcher {
	return &membershipWatcher{
		node:    node,
		sel:     sel,
		last:    make(map[string]membership.Member),
		pollers: make(map[string]*pollerHandle),
	}
}

// Run is the subscriber loop: it consumes snapshots from watch until ctx
// is canceled or the channel closes, reconciling topology and the
// running poller set on every update.
func (w *membershipWatcher) Run(ctx context.Context, watch <-chan []membership.Member) {
	for {
		select {
		case <-ctx.Done():
			w.stopAll()
			return
		case members, ok := <-watch:
			if !ok {
				return
			}
			w.reconcile(ctx, members)
		}
	}
}

func memberKey(m membership.Member) string {
	return fmt.Sprintf("%d/%s", m.NodeID, m.Addr)
}

func (w *membershipWatcher) reconcile(ctx context.Context, members []membership.Member) {
	topo := make(topology.Topology)
	next := make(map[string]membership.Member, len(members))
	for _, m := range members {
		if m.Addr == w.node.cfg.Addr {
			continue // never contact ourselves
		}
		topo[m.DC] = append(topo[m.DC], m.Addr)
		next[memberKey(m)] = m
	}
	w.sel.PublishTopology(topo)

	w.mu.Lock()
	defer w.mu.Unlock()

	var added, removed []membership.Member
	for k, m := range next {
		if _, ok := w.last[k]; !ok {
			added = append(added, m)
		}
	}
	for k, m := range w.last {
		if _, ok := next[k]; !ok {
			removed = append(removed, m)
		}
	}

	for _, m := range removed {
		if ph, ok := w.pollers[m.Addr]; ok {
			ph.cancel()
			<-ph.done
			delete(w.pollers, m.Addr)
		}
		if err := w.node.dialer.Disconnect(ctx, m.Addr); err != nil {
			w.node.cfg.logError("membership: disconnect %s: %v", m.Addr, err)
		}
		w.node.group.forgetPeer(m.Addr)
	}

	for _, m := range added {
		if ph, ok := w.pollers[m.Addr]; ok {
			ph.cancel()
			<-ph.done
		}
		w.startPoller(ctx, m.Addr)
	}

	w.last = next
}

// startPoller ensures a transport connection lazily (dial failures are
// logged, not blocking) and starts the peer's poller immediately,
// regardless of whether the dial has completed yet — its per-tick RPCs
// simply fail and retry until the connection exists.
func (w *membershipWatcher) startPoller(ctx context.Context, addr string) {
	go func() {
		if _, err := w.node.dialer.GetOrConnect(ctx, addr); err != nil {
			w.node.cfg.logError("membership: dial %s: %v", addr, err)
		}
	}()

	pctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.pollers[addr] = &pollerHandle{cancel: cancel, done: done}

	p := newPoller(addr, w.node)
	go func() {
		defer close(done)
		p.run(pctx)
	}()
}

func (w *membershipWatcher) stopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for addr, ph := range w.pollers {
		ph.cancel()
		<-ph.done
		delete(w.pollers, addr)
	}
}
