package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"localdocs/internal/domain"
)

// BoltVectorStore implements port.VectorStore on top of BoltDB.
// Points are mirrored in memory and searched by brute force.
type BoltVectorStore struct {
	db         *bbolt.DB
	collection string

	mu        sync.RWMutex
	exists    bool
	dimension int
	points    map[string]domain.EmbeddedPoint
}

type collectionMeta struct {
	Dimension int    `json:"dimension"`
	Distance  string `json:"distance"`
}

type storedPoint struct {
	Vector  []float32      `json:"v"`
	Payload domain.Payload `json:"p"`
}

// NewBoltVectorStore opens the named collection in db. The db handle is owned
// by the caller.
func NewBoltVectorStore(db *bbolt.DB, collection string) (*BoltVectorStore, error) {
	s := &BoltVectorStore{
		db:         db,
		collection: collection,
		points:     make(map[string]domain.EmbeddedPoint),
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", collection, err)
	}

	return s, nil
}

func (s *BoltVectorStore) load() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketCollections)
		if meta == nil {
			return nil
		}
		data := meta.Get([]byte(s.collection))
		if data == nil {
			return nil
		}

		var cm collectionMeta
		if err := json.Unmarshal(data, &cm); err != nil {
			return err
		}
		s.exists = true
		s.dimension = cm.Dimension

		b := tx.Bucket(pointsBucket(s.collection))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var sp storedPoint
			if err := json.Unmarshal(v, &sp); err != nil {
				return nil // skip corrupted entries
			}
			s.points[string(k)] = domain.EmbeddedPoint{ID: string(k), Vector: sp.Vector, Payload: sp.Payload}
			return nil
		})
	})
}

func (s *BoltVectorStore) SupportsFilter() bool {
	return true
}

func (s *BoltVectorStore) EnsureCollection(_ context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exists {
		if s.dimension != dimension {
			return domain.ConfigError("store.collection", "collection %s has dimension %d, expected %d", s.collection, s.dimension, dimension)
		}
		return nil
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(collectionMeta{Dimension: dimension, Distance: "cosine"})
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketCollections).Put([]byte(s.collection), data); err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists(pointsBucket(s.collection))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	s.exists = true
	s.dimension = dimension
	return nil
}

// Upsert adds or replaces points by ID.
func (s *BoltVectorStore) Upsert(_ context.Context, points []domain.EmbeddedPoint) (int, error) {
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

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(pointsBucket(s.collection))
		if b == nil {
			return domain.CollectionNotFound(s.collection)
		}

		for _, p := range points {
			data, err := json.Marshal(storedPoint{Vector: p.Vector, Payload: p.Payload})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(p.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, p := range points {
		s.points[p.ID] = p
	}
	return len(points), nil
}

// Search scans every point and keeps those matching filter.
func (s *BoltVectorStore) Search(ctx context.Context, vector []float32, k int, filter domain.MetadataFilter) ([]domain.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.StoreUnavailable("search canceled", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.exists {
		return nil, domain.CollectionNotFound(s.collection)
	}
	if len(vector) != s.dimension {
		return nil, domain.ConfigError("store.collection", "query dimension mismatch: expected %d, got %d", s.dimension, len(vector))
	}

	candidates := make([]domain.Candidate, 0, len(s.points))
	for _, p := range s.points {
		if !filter.Matches(p.Payload) {
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

func (s *BoltVectorStore) GetByID(_ context.Context, id string) (domain.EmbeddedPoint, error) {
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

func (s *BoltVectorStore) DeleteByFilter(_ context.Context, filter domain.MetadataFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.exists {
		return 0, domain.CollectionNotFound(s.collection)
	}

	var ids []string
	for id, p := range s.points {
		if filter.Matches(p.Payload) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(pointsBucket(s.collection))
		if b == nil {
			return nil
		}
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		delete(s.points, id)
	}
	return len(ids), nil
}

func (s *BoltVectorStore) CollectionInfo(_ context.Context) (domain.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.exists {
		return domain.CollectionInfo{}, domain.CollectionNotFound(s.collection)
	}
	return domain.CollectionInfo{
		Name:               s.collection,
		Backend:            "bolt",
		PointCount:         len(s.points),
		IndexedVectorCount: len(s.points),
		VectorDimension:    s.dimension,
		Status:             "green",
	}, nil
}

func (s *BoltVectorStore) DropCollection(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketCollections).Delete([]byte(s.collection)); err != nil {
			return err
		}
		if tx.Bucket(pointsBucket(s.collection)) != nil {
			return tx.DeleteBucket(pointsBucket(s.collection))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}

	s.exists = false
	s.dimension = 0
	s.points = make(map[string]domain.EmbeddedPoint)
	return nil
}

// Close is a no-op; the db handle belongs to the caller.
func (s *BoltVectorStore) Close() error {
	return nil
}
