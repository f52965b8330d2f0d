package memstore

import (
	"context"
	"sync"

	"localdocs/internal/domain"
)

// MemoryStore is a non-persistent port.VectorStore for tests and dry runs.
type MemoryStore struct {
	mu         sync.RWMutex
	collection string
	dimension  int
	exists     bool
	points     map[string]domain.EmbeddedPoint
	pushdown   bool
}

type Option func(*MemoryStore)

// WithoutFilterPushdown makes Search ignore metadata filters, like a backend
// without server-side filtering.
func WithoutFilterPushdown() Option {
	return func(s *MemoryStore) { s.pushdown = false }
}

func NewMemoryStore(collection string, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		collection: collection,
		points:     make(map[string]domain.EmbeddedPoint),
		pushdown:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) SupportsFilter() bool {
	return s.pushdown
}

func (s *MemoryStore) EnsureCollection(_ context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exists && s.dimension != dimension {
		return domain.ConfigError("store.collection", "collection %s has dimension %d, expected %d", s.collection, s.dimension, dimension)
	}
	s.exists = true
	s.dimension = dimension
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, points []domain.EmbeddedPoint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.exists {
		return 0, domain.CollectionNotFound(s.collection)
	}
	for _, p := range points {
		if len(p.Vector) != s.dimension {
			return 0, domain.ConfigError("store.collection", "vector dimension mismatch: expected %d, got %d", s.dimension, len(p.Vector))
		}
	}
	for _, p := range points {
		s.points[p.ID] = p
	}
	return len(points), nil
}

func (s *MemoryStore) Search(ctx context.Context, vector []float32, k int, filter domain.MetadataFilter) ([]domain.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.StoreUnavailable("search canceled", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.exists {
		return nil, domain.CollectionNotFound(s.collection)
	}

	candidates := make([]domain.Candidate, 0, len(s.points))
	for _, p := range s.points {
		if s.pushdown && !filter.Matches(p.Payload) {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			Point:      p,
			Similarity: domain.CosineSimilarity(vector, p.Vector),
		})
	}

	domain.SortCandidates(candidates)
	if k < len(candidates) {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (domain.EmbeddedPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.exists {
		return domain.EmbeddedPoint{}, domain.CollectionNotFound(s.collection)
	}
	p, ok := s.points[id]
	if !ok {
		return domain.EmbeddedPoint{}, domain.NotFound("document with ID '%s' not found", id)
	}
	return p, nil
}

func (s *MemoryStore) DeleteByFilter(_ context.Context, filter domain.MetadataFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.exists {
		return 0, domain.CollectionNotFound(s.collection)
	}

	removed := 0
	for id, p := range s.points {
		if filter.Matches(p.Payload) {
			delete(s.points, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) CollectionInfo(_ context.Context) (domain.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.exists {
		return domain.CollectionInfo{}, domain.CollectionNotFound(s.collection)
	}
	return domain.CollectionInfo{
		Name:               s.collection,
		Backend:            "memory",
		PointCount:         len(s.points),
		IndexedVectorCount: len(s.points),
		VectorDimension:    s.dimension,
		Status:             "green",
	}, nil
}

func (s *MemoryStore) DropCollection(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.exists = false
	s.dimension = 0
	s.points = make(map[string]domain.EmbeddedPoint)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
