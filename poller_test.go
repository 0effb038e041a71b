package datacake

import (
	"context"
	"testing"
	"time"

	"github.com/l-7-l/datacake/storage/memstore"
	"github.com/l-7-l/datacake/topology"
	"github.com/l-7-l/datacake/transport/loopback"
)

func TestTickSkipsKeyspaceWithUnchangedCounter(t *testing.T) {
	netw := loopback.New()
	a, err := NewNode(Config{NodeID: 1, LocalDC: "dc1", Addr: "a"}, memstore.New(), netw.Dialer(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Shutdown)
	b, err := NewNode(Config{NodeID: 2, LocalDC: "dc1", Addr: "b"}, memstore.New(), netw.Dialer(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Shutdown)
	if err := netw.Server("a").Mount(a.Handler()); err != nil {
		t.Fatal(err)
	}
	if err := netw.Server("b").Mount(b.Handler()); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := b.Put(ctx, topology.None, "users", 1, []byte("alice")); err != nil {
		t.Fatal(err)
	}

	p := newPoller("b", a)
	p.tick(ctx)
	if doc, ok, _ := a.Get(ctx, "users", 1); !ok || string(doc.Value) != "alice" {
		t.Fatalf("expected first tick to pull the peer's write, got doc=%v ok=%v", doc, ok)
	}

	// A second tick with b's counter unchanged must not re-sync: the
	// counter recorded for the keyspace stays where the first tick left
	// it.
	before := p.lastCounters["users"]
	p.tick(ctx)
	if p.lastCounters["users"] != before {
		t.Fatal("counter should not have moved on a no-op tick")
	}
}

func TestSyncKeyspacePullsNewerAndMissingDocuments(t *testing.T) {
	netw := loopback.New()
	a, err := NewNode(Config{NodeID: 1, LocalDC: "dc1", Addr: "a"}, memstore.New(), netw.Dialer(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Shutdown)
	b, err := NewNode(Config{NodeID: 2, LocalDC: "dc1", Addr: "b"}, memstore.New(), netw.Dialer(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Shutdown)
	if err := netw.Server("a").Mount(a.Handler()); err != nil {
		t.Fatal(err)
	}
	if err := netw.Server("b").Mount(b.Handler()); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := a.Put(ctx, topology.None, "users", 1, []byte("old-on-a")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	if err := b.Put(ctx, topology.None, "users", 1, []byte("newer-on-b")); err != nil {
		t.Fatal(err)
	}
	if err := b.Put(ctx, topology.None, "users", 2, []byte("only-on-b")); err != nil {
		t.Fatal(err)
	}

	p := newPoller("b", a)
	peer, err := netw.Dialer().GetOrConnect(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.syncKeyspace(ctx, peer, "users"); err != nil {
		t.Fatal(err)
	}

	if doc, ok, _ := a.Get(ctx, "users", 1); !ok || string(doc.Value) != "newer-on-b" {
		t.Fatalf("expected a to pull b's newer write for key 1, got doc=%v ok=%v", doc, ok)
	}
	if doc, ok, _ := a.Get(ctx, "users", 2); !ok || string(doc.Value) != "only-on-b" {
		t.Fatalf("expected a to pull b's key 2 it never had, got doc=%v ok=%v", doc, ok)
	}
}
