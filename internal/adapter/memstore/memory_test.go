package memstore

import (
	"context"
	"errors"
	"testing"

	"localdocs/internal/domain"
)

func pt(id, file string, vec ...float32) domain.EmbeddedPoint {
	return domain.EmbeddedPoint{ID: id, Vector: vec, Payload: domain.Payload{DocumentID: "d-" + file, Filename: file}}
}

func TestMemoryStore_Basic(t *testing.T) {
	s := NewMemoryStore("c")
	ctx := context.Background()

	if _, err := s.Upsert(ctx, []domain.EmbeddedPoint{pt("p", "a.md", 1, 0)}); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("expected CollectionNotFound before EnsureCollection, got %v", err)
	}

	s.EnsureCollection(ctx, 2)
	s.Upsert(ctx, []domain.EmbeddedPoint{pt("p1", "a.md", 1, 0), pt("p2", "b.md", 0, 1)})

	res, err := s.Search(ctx, []float32{0, 1}, 5, domain.MetadataFilter{"filename": "a.md"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Point.ID != "p1" {
		t.Errorf("expected filter pushdown to keep only p1, got %v", res)
	}
}

func TestMemoryStore_WithoutFilterPushdown(t *testing.T) {
	s := NewMemoryStore("c", WithoutFilterPushdown())
	ctx := context.Background()
	s.EnsureCollection(ctx, 2)
	s.Upsert(ctx, []domain.EmbeddedPoint{pt("p1", "a.md", 1, 0), pt("p2", "b.md", 0, 1)})

	if s.SupportsFilter() {
		t.Error("expected SupportsFilter to be false")
	}

	res, _ := s.Search(ctx, []float32{0, 1}, 5, domain.MetadataFilter{"filename": "a.md"})
	if len(res) != 2 {
		t.Errorf("expected filter to be ignored, got %d results", len(res))
	}
	if res[0].Point.ID != "p2" {
		t.Errorf("expected p2 first, got %s", res[0].Point.ID)
	}
}

func TestMemoryStore_DeleteAndInfo(t *testing.T) {
	s := NewMemoryStore("c")
	ctx := context.Background()
	s.EnsureCollection(ctx, 2)
	s.Upsert(ctx, []domain.EmbeddedPoint{pt("p1", "a.md", 1, 0), pt("p2", "b.md", 0, 1)})

	n, err := s.DeleteByFilter(ctx, domain.MetadataFilter{"document_id": "d-a.md"})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 removed, got %d (%v)", n, err)
	}

	info, err := s.CollectionInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.PointCount != 1 || info.VectorDimension != 2 || info.Name != "c" {
		t.Errorf("unexpected info %+v", info)
	}
}
