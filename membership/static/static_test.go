package static

import (
	"context"
	"testing"
	"time"

	"github.com/l-7-l/datacake/membership"
)

func TestWatchEmitsInitialSnapshot(t *testing.T) {
	initial := []membership.Member{{NodeID: 1, Addr: "a:1"}}
	w := New(initial)
	ch, err := w.Watch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ch:
		if len(got) != 1 || got[0].NodeID != 1 {
			t.Fatalf("got %+v, want %+v", got, initial)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial snapshot")
	}
}

func TestPushDeliversFurtherSnapshots(t *testing.T) {
	w := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := w.Watch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	<-ch // initial empty snapshot

	w.Push([]membership.Member{{NodeID: 2, Addr: "b:2"}})
	select {
	case got := <-ch:
		if len(got) != 1 || got[0].NodeID != 2 {
			t.Fatalf("got %+v, want node 2", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pushed snapshot")
	}
}
