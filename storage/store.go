// Package storage defines the payload-store collaborator the core
// consults for document bytes, separately from the CRDT metadata that
// tracks which keys are live. Keeping the two separate lets a keyspace's
// CRDT state and its document bytes be reconciled independently during
// anti-entropy (see the poller's removal/fetch split).
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/l-7-l/datacake/hlc"
)

// ErrNotFound reports a key with no document. Store.Get does not return
// it: Get reports a missing key as ok=false with a nil error.
var ErrNotFound = errors.New("storage: not found")

// Document is a single keyspace entry: its value bytes and the HLC
// timestamp the write carried, ridden alongside the CRDT metadata for
// that key (the CRDT is the source of truth for ordering; the document
// bytes are just along for the ride).
type Document struct {
	Key       uint64
	Timestamp hlc.Timestamp
	Value     []byte
}

// Metadata is the (key, timestamp, tombstone) triple loaded at actor
// start to seed a keyspace's in-memory CRDT set.
type Metadata struct {
	Key  uint64
	TS   hlc.Timestamp
	Dead bool
}

// Error wraps a failure reported by a Store implementation, satisfying
// the core's StorageError kind.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Store is the payload and metadata collaborator the core consults.
// Every method is safe for concurrent use and every mutation is durable
// before it returns; iteration under concurrent mutation must not panic
// but may skip or include in-flight items.
type Store interface {
	// GetKeyspaceList returns every keyspace name this store currently
	// holds metadata or documents for.
	GetKeyspaceList(ctx context.Context) ([]string, error)

	// LoadMetadata returns every (key, ts, dead) triple recorded for
	// keyspace, used to seed a keyspace actor's CRDT set at startup.
	LoadMetadata(ctx context.Context, keyspace string) ([]Metadata, error)
	// SetMetadata durably records a single key's CRDT metadata.
	SetMetadata(ctx context.Context, keyspace string, key uint64, ts hlc.Timestamp, dead bool) error
	// SetManyMetadata durably records CRDT metadata for many keys at
	// the same timestamp and tombstone state in one call.
	SetManyMetadata(ctx context.Context, keyspace string, keys []uint64, ts hlc.Timestamp, dead bool) error
	// RemoveManyMetadata deletes metadata rows entirely (used only for
	// purge, after a tombstone has aged past the safe horizon).
	RemoveManyMetadata(ctx context.Context, keyspace string, keys []uint64) error

	// Get returns the document for key, or ok=false if none exists.
	Get(ctx context.Context, keyspace string, key uint64) (Document, bool, error)
	// MultiGet returns whatever documents exist for the given keys;
	// missing keys are simply absent from the result, not an error.
	MultiGet(ctx context.Context, keyspace string, keys []uint64) ([]Document, error)

	// UpsertDocuments atomically writes each document's value bytes,
	// one key at a time.
	UpsertDocuments(ctx context.Context, keyspace string, docs []Document) error
	// MarkTombstoneDocuments records, at the storage layer, that these
	// keys are deleted as of ts — independent of (but consistent with)
	// the CRDT's own tombstone bookkeeping.
	MarkTombstoneDocuments(ctx context.Context, keyspace string, marks []Metadata) error
	// ClearTombstoneDocuments drops the storage-level tombstone marker
	// for keys whose CRDT tombstone has been purged.
	ClearTombstoneDocuments(ctx context.Context, keyspace string, keys []uint64) error

	// Remove deletes a single document's value bytes outright.
	Remove(ctx context.Context, keyspace string, key uint64) error
	// MultiRemove deletes many documents' value bytes outright.
	MultiRemove(ctx context.Context, keyspace string, keys []uint64) error
}
