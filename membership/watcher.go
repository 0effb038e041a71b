// Package membership defines the cluster-membership collaborator: a
// watchable sequence of member-set snapshots. The core only ever
// consumes this stream; how membership is actually detected (gossip,
// a coordination service, a static file) is entirely up to the
// implementation handed to a Node.
package membership

import (
	"context"
	"time"
)

// Member is one node as seen by the membership collaborator.
type Member struct {
	NodeID uint32
	Addr   string
	DC     string
	SeenAt time.Time
}

// Watcher streams membership snapshots. Implementations push a new,
// complete member list on the returned channel every time their view of
// the cluster changes; they never emit incremental deltas, leaving
// diffing to the consumer (see the membership watcher's add/remove
// computation).
type Watcher interface {
	Watch(ctx context.Context) (<-chan []Member, error)
}
