package memstore

import (
	"context"
	"testing"

	"github.com/l-7-l/datacake/hlc"
	"github.com/l-7-l/datacake/storage"
)

func TestUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := New()
	doc := storage.Document{Key: 1, Timestamp: hlc.Timestamp{WallMS: 1}, Value: []byte("hi")}
	if err := s.UpsertDocuments(ctx, "ks", []storage.Document{doc}); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Get(ctx, "ks", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected document to exist")
	}
	if string(got.Value) != "hi" {
		t.Fatalf("got %q, want %q", got.Value, "hi")
	}
}

func TestGetMissingKeyspaceOrKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, ok, err := s.Get(ctx, "nope", 1); ok || err != nil {
		t.Fatalf("expected ok=false err=nil, got ok=%v err=%v", ok, err)
	}
}

func TestMarkTombstoneRemovesDocumentAndRecordsMetadata(t *testing.T) {
	ctx := context.Background()
	s := New()
	doc := storage.Document{Key: 1, Value: []byte("hi")}
	s.UpsertDocuments(ctx, "ks", []storage.Document{doc})

	ts := hlc.Timestamp{WallMS: 5}
	if err := s.MarkTombstoneDocuments(ctx, "ks", []storage.Metadata{{Key: 1, TS: ts, Dead: true}}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "ks", 1); ok {
		t.Fatal("document should have been dropped by tombstone marking")
	}
	meta, err := s.LoadMetadata(ctx, "ks")
	if err != nil {
		t.Fatal(err)
	}
	if len(meta) != 1 || !meta[0].Dead || meta[0].TS != ts {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}

func TestClearTombstoneRemovesMetadata(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetMetadata(ctx, "ks", 1, hlc.Timestamp{WallMS: 1}, true)
	if err := s.ClearTombstoneDocuments(ctx, "ks", []uint64{1}); err != nil {
		t.Fatal(err)
	}
	meta, err := s.LoadMetadata(ctx, "ks")
	if err != nil {
		t.Fatal(err)
	}
	if len(meta) != 0 {
		t.Fatalf("expected metadata purged, got %+v", meta)
	}
}

func TestMultiGetSkipsMissingKeys(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.UpsertDocuments(ctx, "ks", []storage.Document{{Key: 1, Value: []byte("a")}})
	docs, err := s.MultiGet(ctx, "ks", []uint64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Key != 1 {
		t.Fatalf("got %+v, want only key 1", docs)
	}
}

func TestGetKeyspaceList(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetMetadata(ctx, "a", 1, hlc.Timestamp{}, false)
	s.SetMetadata(ctx, "b", 1, hlc.Timestamp{}, false)
	names, err := s.GetKeyspaceList(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Fatalf("got %v, want 2 keyspaces", names)
	}
}
