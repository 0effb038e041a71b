// Package loopback provides an in-process transport.Dialer/Server pair:
// a registry of transport.Handlers keyed by address, so a multi-node
// cluster can be exercised in tests without opening a single socket.
// Grounded on the teacher's MsgConn/msgRingPlaceholder test-double
// idiom (msg.go, bulksetack_test.go): a connection is just a lookup
// into a shared registry, not a real wire.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/l-7-l/datacake/crdtset"
	"github.com/l-7-l/datacake/hlc"
	"github.com/l-7-l/datacake/storage"
	"github.com/l-7-l/datacake/transport"
)

// Network is a registry of mounted Handlers keyed by address. The zero
// value is not usable; construct with New.
type Network struct {
	mu       sync.RWMutex
	handlers map[string]transport.Handler
}

// New returns an empty Network.
func New() *Network {
	return &Network{handlers: make(map[string]transport.Handler)}
}

// Server returns a transport.Server bound to addr on this network.
func (n *Network) Server(addr string) *Server {
	return &Server{net: n, addr: addr}
}

// Dialer returns a transport.Dialer that resolves addresses against
// this network.
func (n *Network) Dialer() transport.Dialer {
	return dialer{net: n}
}

func (n *Network) lookup(addr string) (transport.Handler, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	h, ok := n.handlers[addr]
	return h, ok
}

// Server mounts a Handler at one address on a Network.
type Server struct {
	net  *Network
	addr string
}

// Mount registers handler to receive calls addressed to this server's
// address. Mounting a second handler replaces the first.
func (s *Server) Mount(handler transport.Handler) error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	s.net.handlers[s.addr] = handler
	return nil
}

type dialer struct {
	net *Network
}

// GetOrConnect resolves addr to the Handler mounted there. There is
// nothing to pool in-process, so every call is a fresh lookup; a
// missing address is reported the same way a real dial failure would
// be, via transport.Error.
func (d dialer) GetOrConnect(ctx context.Context, addr string) (transport.Peer, error) {
	h, ok := d.net.lookup(addr)
	if !ok {
		return nil, &transport.Error{Addr: addr, Err: fmt.Errorf("loopback: no handler mounted at %q", addr)}
	}
	return peer{addr: addr, handler: h}, nil
}

// Disconnect is a no-op: loopback dials nothing and pools no per-peer
// state, only the registry lookup GetOrConnect already does fresh each
// call, so there is nothing here to tear down. A later GetOrConnect to
// addr still resolves against whatever is mounted at the time.
func (d dialer) Disconnect(ctx context.Context, addr string) error {
	return nil
}

// peer adapts a looked-up Handler back into a Peer, wrapping whatever
// error it returns as an RpcError (the call reached the peer; the peer
// itself failed it).
type peer struct {
	addr    string
	handler transport.Handler
}

func (p peer) Put(ctx context.Context, keyspace string, doc storage.Document) error {
	return p.wrap(p.handler.Put(ctx, keyspace, doc))
}

func (p peer) MultiPut(ctx context.Context, keyspace string, docs []storage.Document) error {
	return p.wrap(p.handler.MultiPut(ctx, keyspace, docs))
}

func (p peer) Del(ctx context.Context, keyspace string, key uint64, ts hlc.Timestamp) error {
	return p.wrap(p.handler.Del(ctx, keyspace, key, ts))
}

func (p peer) MultiDel(ctx context.Context, keyspace string, keys []transport.KeyTimestamp) error {
	return p.wrap(p.handler.MultiDel(ctx, keyspace, keys))
}

func (p peer) GetKeyspaceCounters(ctx context.Context) (map[string]uint64, error) {
	counters, err := p.handler.GetKeyspaceCounters(ctx)
	return counters, p.wrap(err)
}

func (p peer) GetKeyspaceSnapshot(ctx context.Context, keyspace string) ([]byte, error) {
	snap, err := p.handler.GetKeyspaceSnapshot(ctx, keyspace)
	return snap, p.wrap(err)
}

func (p peer) FetchDocs(ctx context.Context, keyspace string, keys []uint64, have *crdtset.BloomFilter) (transport.DocStream, error) {
	stream, err := p.handler.FetchDocs(ctx, keyspace, keys, have)
	return stream, p.wrap(err)
}

func (p peer) MarkTombstones(ctx context.Context, keyspace string, marks []transport.KeyTimestamp) error {
	return p.wrap(p.handler.MarkTombstones(ctx, keyspace, marks))
}

func (p peer) wrap(err error) error {
	if err == nil {
		return nil
	}
	return &transport.RpcError{Addr: p.addr, Err: err}
}
