package datacake

import (
	"github.com/l-7-l/datacake/crdtset"
	"github.com/l-7-l/datacake/hlc"
)

// actorMsg is the sum type of every message a keyspaceActor's inbox
// accepts. One struct per message variant (rather than a single "fat"
// struct carrying every possible field) so a caller cannot send a Diff
// and mistakenly read back a MultiSet reply.
type actorMsg interface {
	isActorMsg()
}

type setMsg struct {
	key   uint64
	ts    hlc.Timestamp
	dead  bool
	reply chan<- bool
}

type multiSetMsg struct {
	pairs []crdtset.KeyTimestamp
	dead  bool
	reply chan<- bool
}

type serializeMsg struct {
	reply chan<- []byte
}

type purgeDeletesMsg struct {
	horizon hlc.Timestamp
	reply   chan<- []uint64
}

type diffMsg struct {
	peerSnapshot []byte
	reply        chan<- diffResult
}

type mergeMsg struct {
	peerSnapshot []byte
	reply        chan<- error
}

func (setMsg) isActorMsg()          {}
func (multiSetMsg) isActorMsg()     {}
func (serializeMsg) isActorMsg()    {}
func (purgeDeletesMsg) isActorMsg() {}
func (diffMsg) isActorMsg()         {}
func (mergeMsg) isActorMsg()        {}

// diffResult is the reply to a diffMsg.
type diffResult struct {
	changed []crdtset.KeyTimestamp
	removed []crdtset.KeyTimestamp
	err     error
}

// keyspaceActor is the single-writer owner of one keyspace's CRDT set.
// All mutation and inspection flows through its inbox; the set itself
// is never touched from any other goroutine.
type keyspaceActor struct {
	inbox chan actorMsg
	done  chan struct{}
}

// newKeyspaceActor starts an actor seeded from the given initial
// metadata (as loaded from storage at boot) and returns immediately;
// run() executes in its own goroutine.
func newKeyspaceActor(inboxSize int, initial *crdtset.Set) *keyspaceActor {
	a := &keyspaceActor{
		inbox: make(chan actorMsg, inboxSize),
		done:  make(chan struct{}),
	}
	go a.run(initial)
	return a
}

// run is the actor loop: pop one message, apply it to the CRDT set,
// reply, repeat. It exits once the inbox is closed by the owning
// keyspaceGroup at shutdown.
func (a *keyspaceActor) run(set *crdtset.Set) {
	defer close(a.done)
	for msg := range a.inbox {
		switch m := msg.(type) {
		case setMsg:
			var changed bool
			if m.dead {
				changed = set.Delete(m.key, m.ts)
			} else {
				changed = set.Insert(m.key, m.ts)
			}
			m.reply <- changed
		case multiSetMsg:
			changed := false
			for _, p := range m.pairs {
				var c bool
				if m.dead {
					c = set.Delete(p.Key, p.Timestamp)
				} else {
					c = set.Insert(p.Key, p.Timestamp)
				}
				changed = changed || c
			}
			m.reply <- changed
		case serializeMsg:
			m.reply <- set.Snapshot()
		case purgeDeletesMsg:
			m.reply <- set.PurgeOldDeletes(m.horizon)
		case diffMsg:
			changed, removed, err := set.Diff(m.peerSnapshot)
			m.reply <- diffResult{changed: changed, removed: removed, err: err}
		case mergeMsg:
			peer, err := crdtset.Load(m.peerSnapshot)
			if err != nil {
				m.reply <- err
				continue
			}
			set.Merge(peer)
			m.reply <- nil
		}
	}
}

// close stops the actor, signaling run() to exit once it has drained
// any messages already enqueued. Callers must not send after close.
func (a *keyspaceActor) close() {
	close(a.inbox)
	<-a.done
}
