// Package hlc implements a hybrid logical clock: a wall-time timestamp
// paired with a causality counter and a node id, giving a total order
// usable as a replicated write timestamp.
package hlc

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrClockOverflow is returned by Now and Observe when the causality
// counter would exceed MaxCounter within a single wall-clock millisecond.
// Callers should treat this as fatal for the owning node.
var ErrClockOverflow = errors.New("hlc: counter overflow within one millisecond")

// Timestamp is a hybrid logical clock reading: wall-clock milliseconds,
// a causality counter disambiguating same-millisecond events on one
// node, and the node id disambiguating same-(ms,counter) events across
// nodes.
type Timestamp struct {
	WallMS  uint64
	Counter uint32
	NodeID  uint32
}

// Zero is the zero-value Timestamp, which compares less than every
// timestamp actually produced by a Clock.
var Zero = Timestamp{}

// Compare returns -1, 0 or 1 as t is less than, equal to, or greater
// than other, ordering lexicographically by (WallMS, Counter, NodeID).
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.WallMS != other.WallMS:
		if t.WallMS < other.WallMS {
			return -1
		}
		return 1
	case t.Counter != other.Counter:
		if t.Counter < other.Counter {
			return -1
		}
		return 1
	case t.NodeID != other.NodeID:
		if t.NodeID < other.NodeID {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// Less reports whether t sorts strictly before other.
func (t Timestamp) Less(other Timestamp) bool { return t.Compare(other) < 0 }

// Dominates reports whether t should win over other under the
// dominance rule used throughout the CRDT set: t wins when it is
// greater than or equal to other, so a held entry keeps its place
// against an equal timestamp. Ties cannot occur between distinct nodes
// since NodeID breaks them.
func (t Timestamp) Dominates(other Timestamp) bool { return t.Compare(other) >= 0 }

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d@%d", t.WallMS, t.Counter, t.NodeID)
}

// Clock is process-wide hybrid logical clock state. Construct one with
// NewClock at node start and share the handle; it synchronizes itself
// internally so it is safe for concurrent use.
type Clock struct {
	mu         sync.Mutex
	lastMS     uint64
	counter    uint32
	nodeID     uint32
	maxCounter uint32
	nowFunc    func() time.Time
}

// NewClock creates a Clock for the given node id. maxCounter bounds the
// per-millisecond counter; pass 0 to use math.MaxUint32.
func NewClock(nodeID uint32, maxCounter uint32) *Clock {
	if maxCounter == 0 {
		maxCounter = math.MaxUint32
	}
	return &Clock{
		nodeID:     nodeID,
		maxCounter: maxCounter,
		nowFunc:    time.Now,
	}
}

// NodeID returns this clock's node id.
func (c *Clock) NodeID() uint32 { return c.nodeID }

// Now produces the next timestamp from this clock: if wall-clock time
// has advanced past the last recorded millisecond, the counter resets
// to zero; otherwise the counter increments. Successive calls to Now on
// the same Clock are always strictly increasing.
func (c *Clock) Now() (Timestamp, error) {
	wall := uint64(c.nowFunc().UnixMilli())
	c.mu.Lock()
	defer c.mu.Unlock()
	if wall > c.lastMS {
		c.lastMS = wall
		c.counter = 0
	} else {
		if c.counter >= c.maxCounter {
			return Timestamp{}, ErrClockOverflow
		}
		c.counter++
	}
	return Timestamp{WallMS: c.lastMS, Counter: c.counter, NodeID: c.nodeID}, nil
}

// Observe absorbs a remote timestamp into this clock, advancing local
// state so that the next call to Now produces a timestamp strictly
// greater than remote. This is how a node catches up to causally newer
// information learned from a peer (an incoming write, a merge, etc.).
func (c *Clock) Observe(remote Timestamp) error {
	wall := uint64(c.nowFunc().UnixMilli())
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case wall > c.lastMS && wall > remote.WallMS:
		c.lastMS = wall
		c.counter = 0
	case remote.WallMS > c.lastMS && remote.WallMS >= wall:
		c.lastMS = remote.WallMS
		c.counter = remote.Counter
		if c.counter >= c.maxCounter {
			return ErrClockOverflow
		}
		c.counter++
	default:
		// Local lastMS is already at least as new as both wall and
		// remote.WallMS, so it stays. The counter advances past the local
		// one and, when remote is in that same millisecond, past remote's
		// too, so the next Now() strictly dominates whichever side was
		// ahead.
		if remote.WallMS == c.lastMS && remote.Counter > c.counter {
			c.counter = remote.Counter
		}
		if c.counter >= c.maxCounter {
			return ErrClockOverflow
		}
		c.counter++
	}
	return nil
}
