package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"localdocs/internal/domain"
)

const (
	fieldID         = "id"
	fieldDocumentID = "document_id"
	fieldSourcePath = "source_path"
	fieldChunkIndex = "chunk_index"
	fieldPayload    = "payload"
	fieldVector     = "vector"
)

var outputFields = []string{fieldID, fieldPayload, fieldVector}

// Options configures the Milvus connection.
type Options struct {
	Address    string
	Username   string
	Password   string
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store is a port.VectorStore backed by Milvus. Metadata filters are not
// pushed down; Search returns the plain nearest neighbours.
type Store struct {
	client     client.Client
	collection string

	mu     sync.Mutex
	loaded bool
}

func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Collection == "" {
		return nil, domain.ConfigError("store.collection", "collection name is required")
	}
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := client.NewClient(connectCtx, client.Config{
		Address:  opts.Address,
		DBName:   opts.Database,
		Username: opts.Username,
		Password: opts.Password,
	})
	if err != nil {
		return nil, domain.StoreUnavailable("failed to connect to milvus", err)
	}

	return NewWithClient(c, opts.Collection), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(c client.Client, collection string) *Store {
	return &Store{client: c, collection: collection}
}

func (s *Store) SupportsFilter() bool {
	return false
}

func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	has, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return domain.StoreUnavailable("failed to check collection", err)
	}

	if has {
		existing, err := s.dimension(ctx)
		if err != nil {
			return err
		}
		if existing != dimension {
			return domain.ConfigError("store.collection", "collection %s has dimension %d, expected %d", s.collection, existing, dimension)
		}
		return s.load(ctx)
	}

	schema := &entity.Schema{
		CollectionName: s.collection,
		Description:    "localdocs chunk vectors",
		Fields: []*entity.Field{
			{Name: fieldID, DataType: entity.FieldTypeVarChar, PrimaryKey: true, TypeParams: map[string]string{"max_length": "64"}},
			{Name: fieldDocumentID, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "64"}},
			{Name: fieldSourcePath, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "1024"}},
			{Name: fieldChunkIndex, DataType: entity.FieldTypeInt64},
			{Name: fieldPayload, DataType: entity.FieldTypeJSON},
			{Name: fieldVector, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{entity.TypeParamDim: strconv.Itoa(dimension)}},
		},
	}

	if err := s.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	index, err := entity.NewIndexHNSW(entity.COSINE, 8, 64)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := s.client.CreateIndex(ctx, s.collection, fieldVector, index, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return s.load(ctx)
}

func (s *Store) dimension(ctx context.Context) (int, error) {
	coll, err := s.client.DescribeCollection(ctx, s.collection)
	if err != nil {
		return 0, domain.StoreUnavailable("failed to describe collection", err)
	}
	for _, f := range coll.Schema.Fields {
		if f.Name == fieldVector {
			return strconv.Atoi(f.TypeParams[entity.TypeParamDim])
		}
	}
	return 0, fmt.Errorf("collection %s has no %s field", s.collection, fieldVector)
}

func (s *Store) load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return nil
	}
	if err := s.client.LoadCollection(ctx, s.collection, false); err != nil {
		return domain.StoreUnavailable("failed to load collection", err)
	}
	s.loaded = true
	return nil
}

// ready makes sure the collection exists and is loaded for search.
func (s *Store) ready(ctx context.Context) error {
	has, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return domain.StoreUnavailable("failed to check collection", err)
	}
	if !has {
		return domain.CollectionNotFound(s.collection)
	}
	return s.load(ctx)
}

func (s *Store) Upsert(ctx context.Context, points []domain.EmbeddedPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	if err := s.ready(ctx); err != nil {
		return 0, err
	}

	dim := len(points[0].Vector)
	ids := make([]string, len(points))
	docs := make([]string, len(points))
	paths := make([]string, len(points))
	indexes := make([]int64, len(points))
	payloads := make([][]byte, len(points))
	vectors := make([][]float32, len(points))

	for i, p := range points {
		if len(p.Vector) != dim {
			return 0, domain.ConfigError("store.collection", "vector dimension mismatch: expected %d, got %d", dim, len(p.Vector))
		}
		data, err := json.Marshal(p.Payload)
		if err != nil {
			return 0, err
		}
		ids[i] = p.ID
		docs[i] = p.Payload.DocumentID
		paths[i] = p.Payload.SourcePath
		indexes[i] = int64(p.Payload.ChunkIndex)
		payloads[i] = data
		vectors[i] = p.Vector
	}

	_, err := s.client.Upsert(ctx, s.collection, "",
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnVarChar(fieldDocumentID, docs),
		entity.NewColumnVarChar(fieldSourcePath, paths),
		entity.NewColumnInt64(fieldChunkIndex, indexes),
		entity.NewColumnJSONBytes(fieldPayload, payloads),
		entity.NewColumnFloatVector(fieldVector, dim, vectors),
	)
	if err != nil {
		return 0, domain.StoreUnavailable("milvus upsert failed", err)
	}

	if err := s.client.Flush(ctx, s.collection, false); err != nil {
		return 0, domain.StoreUnavailable("milvus flush failed", err)
	}
	return len(points), nil
}

// Search ignores filter; callers check SupportsFilter and filter locally.
func (s *Store) Search(ctx context.Context, vector []float32, k int, _ domain.MetadataFilter) ([]domain.Candidate, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	sp, err := entity.NewIndexHNSWSearchParam(max(64, k))
	if err != nil {
		return nil, err
	}

	results, err := s.client.Search(ctx, s.collection, nil, "", outputFields,
		[]entity.Vector{entity.FloatVector(vector)}, fieldVector, entity.COSINE, k, sp)
	if err != nil {
		return nil, domain.StoreUnavailable("milvus search failed", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	if results[0].Err != nil {
		return nil, domain.StoreUnavailable("milvus search failed", results[0].Err)
	}

	r := results[0]
	points, err := decodePoints(r.Fields, r.ResultCount)
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, len(points))
	for i, p := range points {
		var score float64
		if i < len(r.Scores) {
			score = float64(r.Scores[i])
		}
		candidates[i] = domain.Candidate{Point: p, Similarity: score}
	}
	domain.SortCandidates(candidates)
	return candidates, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (domain.EmbeddedPoint, error) {
	if err := s.ready(ctx); err != nil {
		return domain.EmbeddedPoint{}, err
	}

	rs, err := s.client.Query(ctx, s.collection, nil, fmt.Sprintf("%s == %s", fieldID, quote(id)), outputFields)
	if err != nil {
		return domain.EmbeddedPoint{}, domain.StoreUnavailable("milvus query failed", err)
	}

	points, err := decodePoints(rs, -1)
	if err != nil {
		return domain.EmbeddedPoint{}, err
	}
	if len(points) == 0 {
		return domain.EmbeddedPoint{}, domain.NotFound("document with ID '%s' not found", id)
	}
	return points[0], nil
}

// DeleteByFilter narrows the candidates with a scalar expression on the
// indexed columns, then checks the remaining keys against the payload.
func (s *Store) DeleteByFilter(ctx context.Context, filter domain.MetadataFilter) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}

	rs, err := s.client.Query(ctx, s.collection, nil, filterExpr(filter), []string{fieldID, fieldPayload})
	if err != nil {
		return 0, domain.StoreUnavailable("milvus query failed", err)
	}
	points, err := decodePoints(rs, -1)
	if err != nil {
		return 0, err
	}

	var ids []string
	for _, p := range points {
		if filter.Matches(p.Payload) {
			ids = append(ids, quote(p.ID))
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	expr := fmt.Sprintf("%s in [%s]", fieldID, strings.Join(ids, ", "))
	if err := s.client.Delete(ctx, s.collection, "", expr); err != nil {
		return 0, domain.StoreUnavailable("milvus delete failed", err)
	}
	if err := s.client.Flush(ctx, s.collection, false); err != nil {
		return 0, domain.StoreUnavailable("milvus flush failed", err)
	}
	return len(ids), nil
}

func (s *Store) CollectionInfo(ctx context.Context) (domain.CollectionInfo, error) {
	has, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return domain.CollectionInfo{}, domain.StoreUnavailable("failed to check collection", err)
	}
	if !has {
		return domain.CollectionInfo{}, domain.CollectionNotFound(s.collection)
	}

	stats, err := s.client.GetCollectionStatistics(ctx, s.collection)
	if err != nil {
		return domain.CollectionInfo{}, domain.StoreUnavailable("failed to read collection statistics", err)
	}
	rows, _ := strconv.Atoi(stats["row_count"])

	dim, err := s.dimension(ctx)
	if err != nil {
		return domain.CollectionInfo{}, err
	}

	return domain.CollectionInfo{
		Name:               s.collection,
		Backend:            "milvus",
		PointCount:         rows,
		IndexedVectorCount: rows,
		VectorDimension:    dim,
		Status:             "green",
	}, nil
}

func (s *Store) DropCollection(ctx context.Context) error {
	has, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return domain.StoreUnavailable("failed to check collection", err)
	}
	if !has {
		return nil
	}
	if err := s.client.DropCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}

	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// filterExpr turns the keys backed by scalar columns into a boolean
// expression. Keys without a column are left to the payload check.
func filterExpr(filter domain.MetadataFilter) string {
	var parts []string
	for _, key := range []string{fieldDocumentID, fieldSourcePath} {
		if v, ok := filter[key]; ok {
			parts = append(parts, fmt.Sprintf("%s == %s", key, quote(v)))
		}
	}
	if v, ok := filter[fieldChunkIndex]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			parts = append(parts, fmt.Sprintf("%s == %d", fieldChunkIndex, n))
		}
	}
	if len(parts) == 0 {
		return fieldID + ` != ""`
	}
	return strings.Join(parts, " && ")
}

func quote(s string) string {
	return strconv.Quote(s)
}

// decodePoints rebuilds points from id, payload and (optionally) vector
// columns. count < 0 means use the column length.
func decodePoints(columns client.ResultSet, count int) ([]domain.EmbeddedPoint, error) {
	var (
		ids      []string
		payloads [][]byte
		vectors  [][]float32
	)

	if col, ok := columns.GetColumn(fieldID).(*entity.ColumnVarChar); ok {
		ids = col.Data()
	}
	if col, ok := columns.GetColumn(fieldPayload).(*entity.ColumnJSONBytes); ok {
		payloads = col.Data()
	}
	if col, ok := columns.GetColumn(fieldVector).(*entity.ColumnFloatVector); ok {
		vectors = col.Data()
	}

	if count < 0 {
		count = len(ids)
	}

	points := make([]domain.EmbeddedPoint, 0, count)
	for i := 0; i < count && i < len(ids); i++ {
		p := domain.EmbeddedPoint{ID: ids[i]}
		if i < len(payloads) {
			if err := json.Unmarshal(payloads[i], &p.Payload); err != nil {
				return nil, fmt.Errorf("corrupt payload for point %s: %w", ids[i], err)
			}
		}
		if i < len(vectors) {
			p.Vector = vectors[i]
		}
		points = append(points, p)
	}
	return points, nil
}
