package port

import (
	"context"

	"localdocs/internal/domain"
)

// VectorStore stores embedded chunks and answers nearest-neighbour queries.
// Implementations must be safe for concurrent use.
type VectorStore interface {
	// EnsureCollection creates the collection with cosine distance if it does not exist.
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert adds or replaces points by ID and returns how many were written.
	Upsert(ctx context.Context, points []domain.EmbeddedPoint) (int, error)

	// Search returns up to k points by descending cosine similarity, vectors included.
	Search(ctx context.Context, vector []float32, k int, filter domain.MetadataFilter) ([]domain.Candidate, error)

	// GetByID returns a stored point or a domain NotFound error.
	GetByID(ctx context.Context, id string) (domain.EmbeddedPoint, error)

	// DeleteByFilter removes every point matching filter and returns the count.
	DeleteByFilter(ctx context.Context, filter domain.MetadataFilter) (int, error)

	CollectionInfo(ctx context.Context) (domain.CollectionInfo, error)

	DropCollection(ctx context.Context) error

	Close() error
}

// StatsSource reports document and chunk counts of the index.
type StatsSource interface {
	Stats() (domain.Stats, error)
}

// FilterPushdown is implemented by stores that can report whether Search
// applies the metadata filter itself.
type FilterPushdown interface {
	SupportsFilter() bool
}

// SupportsFilter reports whether s filters server side.
func SupportsFilter(s VectorStore) bool {
	fp, ok := s.(FilterPushdown)
	return ok && fp.SupportsFilter()
}
