// Package static provides a fixed-list membership.Watcher test double:
// no gossip, no failure detector, just a channel the test pushes member
// snapshots onto by hand.
package static

import (
	"context"
	"sync"

	"github.com/l-7-l/datacake/membership"
)

// Watcher is a membership.Watcher whose snapshots are pushed by test
// code via Push. It emits the initial snapshot passed to New as soon as
// Watch is called, then whatever further snapshots Push sends.
type Watcher struct {
	mu   sync.Mutex
	ch   chan []membership.Member
	last []membership.Member
}

// New returns a Watcher that will emit initial as its first snapshot.
func New(initial []membership.Member) *Watcher {
	return &Watcher{ch: make(chan []membership.Member, 1), last: initial}
}

// Watch returns a channel that immediately receives the watcher's
// current snapshot, then one further snapshot per call to Push.
func (w *Watcher) Watch(ctx context.Context) (<-chan []membership.Member, error) {
	out := make(chan []membership.Member, 1)
	w.mu.Lock()
	initial := w.last
	w.mu.Unlock()
	out <- initial
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-w.ch:
				if !ok {
					return
				}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Push enqueues a new membership snapshot on the watcher's single
// shared channel. With one active Watch call it observes every push;
// with several, each pushed snapshot reaches only one of them.
func (w *Watcher) Push(members []membership.Member) {
	w.mu.Lock()
	w.last = members
	w.mu.Unlock()
	w.ch <- members
}

// Close stops the watcher from delivering further snapshots.
func (w *Watcher) Close() { close(w.ch) }
