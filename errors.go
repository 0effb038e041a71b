package datacake

import (
	"fmt"
	"time"

	"github.com/l-7-l/datacake/topology"
)

// ErrNotEnoughNodes is returned when the Node Selector cannot build a
// peer set satisfying the requested Consistency level.
var ErrNotEnoughNodes = topology.ErrNotEnoughNodes

// ConsistencyFailure is returned by a write when the fan-out completed
// but fewer than Required peers acked. The local apply is a
// precondition of the fan-out and is not counted in Responses or
// Required.
type ConsistencyFailure struct {
	Responses int
	Required  int
	Timeout   time.Duration
	// Failures holds the per-peer TransportError/RpcError that kept a
	// peer from acking, in no particular order: one entry for each
	// selected peer that did not ack, including peers whose call ran
	// past Timeout.
	Failures []error
}

func (e *ConsistencyFailure) Error() string {
	return fmt.Sprintf("datacake: consistency failure: got %d acks, required %d (timeout %s), %d peer failures", e.Responses, e.Required, e.Timeout, len(e.Failures))
}

// TransportError wraps a per-peer RPC transport failure: the call never
// reached the peer or its response never arrived. Fan-out tolerates
// these; they surface only via ConsistencyFailure.
type TransportError struct {
	Node string
	Err  error
}

func (e *TransportError) Error() string { return fmt.Sprintf("datacake: transport to %s: %v", e.Node, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// RpcError wraps a failure the peer itself reported after accepting the
// call. Fan-out tolerates these the same way as TransportError.
type RpcError struct {
	Node string
	Err  error
}

func (e *RpcError) Error() string { return fmt.Sprintf("datacake: rpc on %s: %v", e.Node, e.Err) }
func (e *RpcError) Unwrap() error { return e.Err }

// StorageError wraps a local storage failure. Storage errors abort the
// caller's operation outright; no peers are contacted.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("datacake: storage: %v", e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// ErrCorruptedState is returned when a CRDT snapshot fails to encode or
// decode. It is fatal for the affected keyspace.
type ErrCorruptedState struct {
	Keyspace string
	Err      error
}

func (e *ErrCorruptedState) Error() string {
	return fmt.Sprintf("datacake: corrupted state for keyspace %q: %v", e.Keyspace, e.Err)
}
func (e *ErrCorruptedState) Unwrap() error { return e.Err }
