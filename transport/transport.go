// Package transport defines the point-to-point RPC collaborator the
// core uses to talk to peers: request/response calls plus one
// streaming-response primitive for bulk document fetch.
package transport

import (
	"context"
	"fmt"

	"github.com/l-7-l/datacake/crdtset"
	"github.com/l-7-l/datacake/hlc"
	"github.com/l-7-l/datacake/storage"
)

// KeyTimestamp pairs a key with the timestamp of the delete that
// produced it, as carried over the wire by Del/MultiDel/MarkTombstones.
type KeyTimestamp struct {
	Key uint64
	TS  hlc.Timestamp
}

// DocStream is a lazy sequence of document batches, the Go idiom used
// here in place of a streaming RPC framework: Next returns one batch at
// a time, ok=false once exhausted.
type DocStream interface {
	Next(ctx context.Context) (batch []storage.Document, ok bool, err error)
}

// Peer is every call the core can make against one remote node. A
// Handler implements the same shape to receive those calls, so a
// datacake.Node can be wired as both a Peer-dialing client and a
// Handler-mounted server without separate request/response types.
type Peer interface {
	Put(ctx context.Context, keyspace string, doc storage.Document) error
	MultiPut(ctx context.Context, keyspace string, docs []storage.Document) error
	Del(ctx context.Context, keyspace string, key uint64, ts hlc.Timestamp) error
	MultiDel(ctx context.Context, keyspace string, keys []KeyTimestamp) error

	GetKeyspaceCounters(ctx context.Context) (map[string]uint64, error)
	GetKeyspaceSnapshot(ctx context.Context, keyspace string) ([]byte, error)
	FetchDocs(ctx context.Context, keyspace string, keys []uint64, have *crdtset.BloomFilter) (DocStream, error)
	MarkTombstones(ctx context.Context, keyspace string, marks []KeyTimestamp) error
}

// Handler is what a node mounts on a Server to receive the calls its
// peers make on it. Method-for-method identical to Peer: a remote call
// a peer makes is, from the receiving node's point of view, a local
// call against its own Handler.
type Handler = Peer

// Dialer resolves an address to a live Peer, pooling and reusing
// connections as needed. GetOrConnect is idempotent and de-duplicates
// concurrent dials to the same address.
type Dialer interface {
	GetOrConnect(ctx context.Context, addr string) (Peer, error)
	// Disconnect tears down any pooled connection to addr and forgets
	// its de-duplication state, so a later GetOrConnect dials fresh.
	// Called when a peer leaves the cluster. Disconnecting an address
	// with no pooled connection is a no-op.
	Disconnect(ctx context.Context, addr string) error
}

// Server is the RPC mount point: whatever a node registers here is what
// remote Peer calls against this address will invoke.
type Server interface {
	Mount(handler Handler) error
}

// Error wraps a transport-level failure (the call never reached the
// peer, or its response never arrived), satisfying the core's
// TransportError kind.
type Error struct {
	Addr string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("transport: %s: %v", e.Addr, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// RpcError wraps a failure the peer itself reported after accepting the
// call, satisfying the core's RpcError kind.
type RpcError struct {
	Addr string
	Err  error
}

func (e *RpcError) Error() string { return fmt.Sprintf("transport: rpc on %s failed: %v", e.Addr, e.Err) }
func (e *RpcError) Unwrap() error { return e.Err }

// BatchStream is a DocStream over a fixed set of already-fetched
// batches, the shape a Handler hands back for FetchDocs once it has
// done its own batching/chunking.
type BatchStream struct {
	batches [][]storage.Document
	pos     int
}

// NewBatchStream wraps batches as a DocStream.
func NewBatchStream(batches [][]storage.Document) *BatchStream {
	return &BatchStream{batches: batches}
}

func (b *BatchStream) Next(ctx context.Context) ([]storage.Document, bool, error) {
	if b.pos >= len(b.batches) {
		return nil, false, nil
	}
	batch := b.batches[b.pos]
	b.pos++
	return batch, true, nil
}
