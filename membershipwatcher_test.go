package datacake

import (
	"context"
	"testing"
	"time"

	"github.com/l-7-l/datacake/membership"
	"github.com/l-7-l/datacake/storage/memstore"
	"github.com/l-7-l/datacake/topology"
	"github.com/l-7-l/datacake/transport/loopback"
)

func TestReconcilePublishesTopologyExcludingSelf(t *testing.T) {
	netw := loopback.New()
	n, err := NewNode(Config{NodeID: 1, LocalDC: "dc1", Addr: "self"}, memstore.New(), netw.Dialer(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(n.Shutdown)

	w := newMembershipWatcher(n, n.selector)
	w.reconcile(context.Background(), []membership.Member{
		{NodeID: 1, Addr: "self", DC: "dc1"},
		{NodeID: 2, Addr: "peer", DC: "dc1"},
	})

	nodes, err := n.selector.GetNodes(topology.All, "dc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || nodes[0] != "peer" {
		t.Fatalf("got %v, want topology containing only \"peer\"", nodes)
	}
}

func TestReconcileStartsAndStopsPollersOnMembershipChange(t *testing.T) {
	netw := loopback.New()
	n, err := NewNode(Config{NodeID: 1, LocalDC: "dc1", Addr: "self", PollInterval: time.Hour}, memstore.New(), netw.Dialer(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(n.Shutdown)

	w := newMembershipWatcher(n, n.selector)
	ctx := context.Background()

	w.reconcile(ctx, []membership.Member{
		{NodeID: 1, Addr: "self", DC: "dc1"},
		{NodeID: 2, Addr: "peer", DC: "dc1"},
	})
	w.mu.Lock()
	_, running := w.pollers["peer"]
	w.mu.Unlock()
	if !running {
		t.Fatal("expected a poller to start for the newly added peer")
	}

	w.reconcile(ctx, []membership.Member{
		{NodeID: 1, Addr: "self", DC: "dc1"},
	})
	w.mu.Lock()
	_, stillRunning := w.pollers["peer"]
	w.mu.Unlock()
	if stillRunning {
		t.Fatal("expected the poller for a departed peer to be stopped")
	}
}
