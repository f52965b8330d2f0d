package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"

	"localdocs/config"
	"localdocs/internal/domain"
)

func openTestDB(t *testing.T) (*bbolt.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	db, err := Open(path, false, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

func point(id, doc string, idx int, file string, vec ...float32) domain.EmbeddedPoint {
	return domain.EmbeddedPoint{
		ID:     id,
		Vector: vec,
		Payload: domain.Payload{
			DocumentID: doc,
			ChunkIndex: idx,
			Text:       "text of " + id,
			SourcePath: "docs/" + file,
			Filename:   file,
			Metadata:   map[string]string{"lang": "en"},
		},
	}
}

func newTestStore(t *testing.T) *BoltVectorStore {
	t.Helper()
	db, _ := openTestDB(t)
	s, err := NewBoltVectorStore(db, "test")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureCollection(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestBoltVectorStore_SearchOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Upsert(ctx, []domain.EmbeddedPoint{
		point("p1", "d1", 0, "a.md", 1, 0, 0),
		point("p2", "d1", 1, "a.md", 0, 1, 0),
		point("p3", "d2", 0, "b.md", 0.9, 0.1, 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected 3 written, got %d", n)
	}

	results, err := s.Search(ctx, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Point.ID != "p1" || results[1].Point.ID != "p3" {
		t.Errorf("unexpected order: %s, %s", results[0].Point.ID, results[1].Point.ID)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Error("results must be ordered by descending similarity")
	}
	if len(results[0].Point.Vector) != 3 {
		t.Error("search results must carry vectors")
	}
}

func TestBoltVectorStore_Filter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, []domain.EmbeddedPoint{
		point("p1", "d1", 0, "a.md", 1, 0, 0),
		point("p2", "d2", 0, "b.md", 1, 0, 0),
	})

	results, err := s.Search(ctx, []float32{1, 0, 0}, 10, domain.MetadataFilter{"filename": "b.md"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Point.ID != "p2" {
		t.Errorf("expected only p2, got %v", results)
	}
}

func TestBoltVectorStore_UpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, []domain.EmbeddedPoint{point("p1", "d1", 0, "a.md", 1, 0, 0)})
	updated := point("p1", "d1", 0, "a.md", 0, 1, 0)
	updated.Payload.Text = "replaced"
	s.Upsert(ctx, []domain.EmbeddedPoint{updated})

	info, _ := s.CollectionInfo(ctx)
	if info.PointCount != 1 {
		t.Errorf("expected 1 point, got %d", info.PointCount)
	}

	got, err := s.GetByID(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Payload.Text != "replaced" {
		t.Errorf("expected replaced payload, got %q", got.Payload.Text)
	}
}

func TestBoltVectorStore_DeleteByFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, []domain.EmbeddedPoint{
		point("p1", "d1", 0, "a.md", 1, 0, 0),
		point("p2", "d1", 1, "a.md", 0, 1, 0),
		point("p3", "d2", 0, "b.md", 0, 0, 1),
	})

	removed, err := s.DeleteByFilter(ctx, domain.MetadataFilter{"document_id": "d1"})
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if _, err := s.GetByID(ctx, "p1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected NotFound for deleted point, got %v", err)
	}
	if _, err := s.GetByID(ctx, "p3"); err != nil {
		t.Errorf("expected p3 to survive: %v", err)
	}
}

func TestBoltVectorStore_Persistence(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	s, err := NewBoltVectorStore(db, "test")
	if err != nil {
		t.Fatal(err)
	}
	s.EnsureCollection(ctx, 3)
	s.Upsert(ctx, []domain.EmbeddedPoint{point("p1", "d1", 0, "a.md", 1, 2, 3)})

	reopened, err := NewBoltVectorStore(db, "test")
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.GetByID(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	want := point("p1", "d1", 0, "a.md", 1, 2, 3)
	if got.Payload.Text != want.Payload.Text || got.Payload.Metadata["lang"] != "en" || got.Vector[2] != 3 {
		t.Errorf("stored point changed across reopen: %+v", got)
	}
}

func TestBoltVectorStore_Errors(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	s, err := NewBoltVectorStore(db, "missing")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Search(ctx, []float32{1}, 5, nil); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Errorf("expected CollectionNotFound, got %v", err)
	}
	if _, err := s.CollectionInfo(ctx); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Errorf("expected CollectionNotFound, got %v", err)
	}

	s.EnsureCollection(ctx, 3)
	if err := s.EnsureCollection(ctx, 4); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected ConfigError on dimension change, got %v", err)
	}
	if _, err := s.Upsert(ctx, []domain.EmbeddedPoint{point("p", "d", 0, "a.md", 1)}); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected ConfigError on vector size mismatch, got %v", err)
	}

	if err := s.DropCollection(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureCollection(ctx, 4); err != nil {
		t.Errorf("expected recreate with new dimension to succeed: %v", err)
	}
}

func TestOpenReadOnlyMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.db"), true, time.Second)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected NotFound for missing index, got %v", err)
	}
}

func TestManifest(t *testing.T) {
	db, _ := openTestDB(t)
	m := NewManifest(db)

	doc := domain.Document{
		ID:          "d1",
		Path:        "guide/auth.md",
		AbsPath:     "/docs/guide/auth.md",
		ModTime:     time.Unix(1700000000, 0),
		ContentHash: "abc",
		ChunkCount:  3,
	}
	if err := m.PutDocument(doc); err != nil {
		t.Fatal(err)
	}

	got, err := m.GetDocument("d1")
	if err != nil {
		t.Fatal(err)
	}
	if got != doc {
		t.Errorf("expected %+v, got %+v", doc, got)
	}

	stats, _ := m.Stats()
	if stats.TotalDocs != 1 || stats.TotalChunks != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}

	if err := m.Clear(); err != nil {
		t.Fatal(err)
	}
	docs, _ := m.ListDocuments()
	if len(docs) != 0 {
		t.Errorf("expected empty manifest after Clear, got %d", len(docs))
	}
}

func TestMigrations(t *testing.T) {
	db, _ := openTestDB(t)
	m := NewManifest(db)
	cfg := config.DefaultConfig()

	result, err := m.CheckMigration(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !result.NeedsMigration || result.NeedsRebuild {
		t.Errorf("fresh database should need migration only: %+v", result)
	}

	if err := m.Migrate(cfg); err != nil {
		t.Fatal(err)
	}
	result, _ = m.CheckMigration(cfg)
	if result.NeedsMigration || result.NeedsRebuild {
		t.Errorf("expected no work after migrate: %+v", result)
	}

	changed := config.DefaultConfig()
	changed.Chunking.Size = 256
	result, _ = m.CheckMigration(changed)
	if !result.NeedsRebuild {
		t.Error("expected rebuild after chunking change")
	}
}
