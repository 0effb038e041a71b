// Package topology resolves a Consistency level to a concrete set of
// peer addresses using the cluster's data-center layout, and computes
// how many acks a write at that level requires.
package topology

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
)

// Consistency is a write/read consistency level.
type Consistency int

const (
	None Consistency = iota
	One
	LocalOne
	LocalQuorum
	Quorum
	EachQuorum
	All
)

func (c Consistency) String() string {
	switch c {
	case None:
		return "None"
	case One:
		return "One"
	case LocalOne:
		return "LocalOne"
	case LocalQuorum:
		return "LocalQuorum"
	case Quorum:
		return "Quorum"
	case EachQuorum:
		return "EachQuorum"
	case All:
		return "All"
	default:
		return fmt.Sprintf("Consistency(%d)", int(c))
	}
}

// ErrNotEnoughNodes is returned by GetNodes when the current topology
// cannot satisfy the requested level.
var ErrNotEnoughNodes = errors.New("topology: not enough nodes to satisfy consistency level")

// Topology is the cluster's data-center layout: dc name to member
// addresses. It is never mutated in place; PublishTopology swaps in a
// wholly new value.
type Topology map[string][]string

// Selector resolves Consistency levels against the current Topology.
// Readers never block on writers: PublishTopology swaps an
// atomic.Pointer rather than locking, matching the "snapshot-and-swap"
// discipline used elsewhere in this module.
type Selector struct {
	topo atomic.Pointer[Topology]
}

// NewSelector returns a Selector with an empty initial topology.
func NewSelector() *Selector {
	s := &Selector{}
	empty := Topology{}
	s.topo.Store(&empty)
	return s
}

// PublishTopology installs t as the current topology. The only mutator
// of a Selector; called by the membership watcher whenever the cluster
// view changes.
func (s *Selector) PublishTopology(t Topology) {
	cp := make(Topology, len(t))
	for dc, addrs := range t {
		sorted := make([]string, len(addrs))
		copy(sorted, addrs)
		sort.Strings(sorted)
		cp[dc] = sorted
	}
	s.topo.Store(&cp)
}

// Snapshot returns the topology currently in effect.
func (s *Selector) Snapshot() Topology {
	return *s.topo.Load()
}

// GetNodes resolves level against the current topology, treating
// localDC as the caller's own data center for the Local* levels.
// Candidate buckets are always sorted by address first, so two calls
// against the same snapshot return byte-identical results.
func (s *Selector) GetNodes(level Consistency, localDC string) ([]string, error) {
	topo := s.Snapshot()
	switch level {
	case None:
		return nil, nil
	case One:
		all := allAddrs(topo)
		if len(all) < 1 {
			return nil, ErrNotEnoughNodes
		}
		return all[:1], nil
	case LocalOne:
		local := topo[localDC]
		if len(local) < 1 {
			return nil, ErrNotEnoughNodes
		}
		return local[:1], nil
	case LocalQuorum:
		local := topo[localDC]
		need := quorumOf(len(local))
		if len(local) < need {
			return nil, ErrNotEnoughNodes
		}
		return local[:need], nil
	case Quorum:
		all := allAddrs(topo)
		need := quorumOf(len(all))
		if len(all) < need {
			return nil, ErrNotEnoughNodes
		}
		return all[:need], nil
	case EachQuorum:
		var out []string
		for _, dc := range sortedDCs(topo) {
			addrs := topo[dc]
			need := quorumOf(len(addrs))
			if len(addrs) < need {
				return nil, ErrNotEnoughNodes
			}
			out = append(out, addrs[:need]...)
		}
		return out, nil
	case All:
		all := allAddrs(topo)
		if len(all) == 0 {
			return nil, ErrNotEnoughNodes
		}
		return all, nil
	default:
		return nil, fmt.Errorf("topology: unknown consistency level %v", level)
	}
}

// RequiredAcks returns the number of acks GetNodes's selection for this
// level requires, using the same arithmetic GetNodes used to build the
// peer set so the two can never disagree about what "enough" means.
func (s *Selector) RequiredAcks(level Consistency, localDC string) (int, error) {
	nodes, err := s.GetNodes(level, localDC)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

func quorumOf(n int) int {
	if n == 0 {
		return 1
	}
	return n/2 + 1
}

func sortedDCs(topo Topology) []string {
	dcs := make([]string, 0, len(topo))
	for dc := range topo {
		dcs = append(dcs, dc)
	}
	sort.Strings(dcs)
	return dcs
}

func allAddrs(topo Topology) []string {
	var all []string
	for _, dc := range sortedDCs(topo) {
		all = append(all, topo[dc]...)
	}
	sort.Strings(all)
	return all
}
