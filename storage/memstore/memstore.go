// Package memstore is an in-memory reference implementation of
// storage.Store, guarded by a single sync.RWMutex. It trades the
// teacher's striped, hashed-location concurrent map
// (valuelocmap.ValueLocMap) for a plain map since memstore only needs
// to be correct for tests, never to hit production throughput.
package memstore

import (
	"context"
	"sync"

	"github.com/l-7-l/datacake/hlc"
	"github.com/l-7-l/datacake/storage"
)

type metaRow struct {
	ts   hlc.Timestamp
	dead bool
}

type keyspace struct {
	meta map[uint64]metaRow
	docs map[uint64]storage.Document
}

// Store is an in-memory storage.Store.
type Store struct {
	mu        sync.RWMutex
	keyspaces map[string]*keyspace
}

// New returns an empty Store.
func New() *Store {
	return &Store{keyspaces: make(map[string]*keyspace)}
}

func (s *Store) keyspaceLocked(name string) *keyspace {
	ks, ok := s.keyspaces[name]
	if !ok {
		ks = &keyspace{meta: make(map[uint64]metaRow), docs: make(map[uint64]storage.Document)}
		s.keyspaces[name] = ks
	}
	return ks
}

func (s *Store) GetKeyspaceList(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.keyspaces))
	for name := range s.keyspaces {
		names = append(names, name)
	}
	return names, nil
}

func (s *Store) LoadMetadata(ctx context.Context, keyspaceName string) ([]storage.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ks, ok := s.keyspaces[keyspaceName]
	if !ok {
		return nil, nil
	}
	out := make([]storage.Metadata, 0, len(ks.meta))
	for k, row := range ks.meta {
		out = append(out, storage.Metadata{Key: k, TS: row.ts, Dead: row.dead})
	}
	return out, nil
}

func (s *Store) SetMetadata(ctx context.Context, keyspaceName string, key uint64, ts hlc.Timestamp, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyspaceLocked(keyspaceName).meta[key] = metaRow{ts: ts, dead: dead}
	return nil
}

func (s *Store) SetManyMetadata(ctx context.Context, keyspaceName string, keys []uint64, ts hlc.Timestamp, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks := s.keyspaceLocked(keyspaceName)
	for _, k := range keys {
		ks.meta[k] = metaRow{ts: ts, dead: dead}
	}
	return nil
}

func (s *Store) RemoveManyMetadata(ctx context.Context, keyspaceName string, keys []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks, ok := s.keyspaces[keyspaceName]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(ks.meta, k)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, keyspaceName string, key uint64) (storage.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ks, ok := s.keyspaces[keyspaceName]
	if !ok {
		return storage.Document{}, false, nil
	}
	doc, ok := ks.docs[key]
	return doc, ok, nil
}

func (s *Store) MultiGet(ctx context.Context, keyspaceName string, keys []uint64) ([]storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ks, ok := s.keyspaces[keyspaceName]
	if !ok {
		return nil, nil
	}
	out := make([]storage.Document, 0, len(keys))
	for _, k := range keys {
		if doc, ok := ks.docs[k]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *Store) UpsertDocuments(ctx context.Context, keyspaceName string, docs []storage.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks := s.keyspaceLocked(keyspaceName)
	for _, d := range docs {
		ks.docs[d.Key] = d
	}
	return nil
}

func (s *Store) MarkTombstoneDocuments(ctx context.Context, keyspaceName string, marks []storage.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks := s.keyspaceLocked(keyspaceName)
	for _, m := range marks {
		delete(ks.docs, m.Key)
		ks.meta[m.Key] = metaRow{ts: m.TS, dead: true}
	}
	return nil
}

func (s *Store) ClearTombstoneDocuments(ctx context.Context, keyspaceName string, keys []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks, ok := s.keyspaces[keyspaceName]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(ks.meta, k)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, keyspaceName string, key uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks, ok := s.keyspaces[keyspaceName]
	if !ok {
		return nil
	}
	delete(ks.docs, key)
	return nil
}

func (s *Store) MultiRemove(ctx context.Context, keyspaceName string, keys []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks, ok := s.keyspaces[keyspaceName]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(ks.docs, k)
	}
	return nil
}
