package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localdocs/config"
	"localdocs/internal/adapter/embedding"
	"localdocs/internal/adapter/memstore"
	"localdocs/internal/adapter/retriever"
	"localdocs/internal/domain"
	"localdocs/internal/port"
)

const testDim = 64

var testCorpus = []struct {
	path string
	lang string
	text string
}{
	{"docs/auth.md", "en", "authentication security with tokens and session handling"},
	{"docs/auth.md", "en", "password hashing and login security for user accounts"},
	{"docs/deploy.md", "en", "deployment pipeline runs on every merge to main"},
	{"docs/deploy.md", "de", "die deployment pipeline läuft bei jedem merge"},
	{"guide/cache.rst", "en", "the embedding cache keeps query vectors for an hour"},
	{"guide/retry.txt", "de", "retry policy with linear backoff for flaky calls"},
}

func ptr[T any](v T) *T { return &v }

func searchConfig() config.SearchConfig {
	cfg := config.DefaultConfig().Search
	cfg.RetryBackoff = 0
	return cfg
}

// seed embeds each text with the mock embedder and stores it. Extra filler
// points make the non-pushdown path widen its pool.
func seed(t *testing.T, store port.VectorStore, filler int) {
	t.Helper()
	ctx := context.Background()
	emb := embedding.NewMockEmbedder(testDim)
	require.NoError(t, store.EnsureCollection(ctx, testDim))

	var points []domain.EmbeddedPoint
	add := func(path, lang, text string, idx int) {
		vec, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		chunk := domain.Chunk{
			DocumentID: "doc-" + path,
			ChunkIndex: idx,
			Text:       text,
			TokenCount: len(text),
			EndOffset:  len(text),
			SourcePath: path,
			Metadata:   map[string]string{"lang": lang},
		}
		points = append(points, domain.EmbeddedPoint{
			ID:      fmt.Sprintf("%s#%d", path, idx),
			Vector:  vec,
			Payload: domain.PayloadFromChunk(chunk),
		})
	}
	for i, d := range testCorpus {
		add(d.path, d.lang, d.text, i)
	}
	for i := 0; i < filler; i++ {
		lang := "en"
		if i%10 == 0 {
			lang = "de"
		}
		add(fmt.Sprintf("filler/%03d.md", i), lang, fmt.Sprintf("security notes part %d about tokens", i), i)
	}

	_, err := store.Upsert(ctx, points)
	require.NoError(t, err)
}

func newService(t *testing.T, store port.VectorStore, embedder port.Embedder, cfg config.SearchConfig) *SearchService {
	t.Helper()
	engine, err := retriever.NewEngine(retriever.Options{SimilarityRange: retriever.RangeUnit, MMRLambda: 0.7})
	require.NoError(t, err)
	return NewSearchService(embedder, store, engine, cfg, nil, nil)
}

func TestSearchService_SemanticSearch(t *testing.T) {
	store := memstore.NewMemoryStore("test")
	seed(t, store, 0)
	svc := newService(t, store, embedding.NewMockEmbedder(testDim), searchConfig())

	resp, err := svc.SemanticSearch(context.Background(), SearchRequest{
		Query:              "authentication security",
		Limit:              ptr(3),
		MinSimilarityScore: ptr(0.0),
	})
	require.NoError(t, err)

	assert.Equal(t, SearchSemantic, resp.SearchType)
	assert.Equal(t, "authentication security", resp.Query)
	assert.Nil(t, resp.SemanticWeight)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, len(resp.Results), resp.TotalResults)
	assert.Equal(t, "auth.md", resp.Results[0].Filename)

	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		assert.Zero(t, r.LexicalScore)
		assert.Equal(t, r.SemanticScore, r.CombinedScore)
	}
}

func TestSearchService_HybridSearchDefaults(t *testing.T) {
	store := memstore.NewMemoryStore("test")
	seed(t, store, 0)
	svc := newService(t, store, embedding.NewMockEmbedder(testDim), searchConfig())

	resp, err := svc.HybridSearch(context.Background(), SearchRequest{Query: "deployment pipeline"})
	require.NoError(t, err)

	assert.Equal(t, SearchHybrid, resp.SearchType)
	require.NotNil(t, resp.SemanticWeight)
	assert.InDelta(t, 0.7, *resp.SemanticWeight, 1e-9)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "deploy.md", resp.Results[0].Filename)
	assert.Greater(t, resp.Results[0].LexicalScore, 0.0)

	for _, r := range resp.Results {
		assert.GreaterOrEqual(t, r.CombinedScore, 0.15)
		assert.LessOrEqual(t, r.CombinedScore, 1.0)
	}
}

func TestSearchService_HighThresholdReturnsEmpty(t *testing.T) {
	store := memstore.NewMemoryStore("test")
	seed(t, store, 0)
	svc := newService(t, store, embedding.NewMockEmbedder(testDim), searchConfig())

	resp, err := svc.HybridSearch(context.Background(), SearchRequest{
		Query:              "quantum chromodynamics",
		MinSimilarityScore: ptr(0.99),
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
	assert.Zero(t, resp.TotalResults)
}

func TestSearchService_Validation(t *testing.T) {
	store := memstore.NewMemoryStore("test")
	seed(t, store, 0)
	svc := newService(t, store, embedding.NewMockEmbedder(testDim), searchConfig())

	tests := []struct {
		name  string
		req   SearchRequest
		field string
	}{
		{"empty query", SearchRequest{Query: "   "}, "query"},
		{"zero limit", SearchRequest{Query: "x", Limit: ptr(0)}, "limit"},
		{"limit above max", SearchRequest{Query: "x", Limit: ptr(51)}, "limit"},
		{"negative threshold", SearchRequest{Query: "x", MinSimilarityScore: ptr(-0.1)}, "min_similarity_score"},
		{"threshold above one", SearchRequest{Query: "x", MinSimilarityScore: ptr(1.5)}, "min_similarity_score"},
		{"weight", SearchRequest{Type: SearchHybrid, Query: "x", SemanticWeight: ptr(1.2)}, "semantic_weight"},
		{"filter key", SearchRequest{Type: SearchFiltered, Query: "x", MetadataFilter: domain.MetadataFilter{"": "en"}}, "metadata_filter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Search(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)

			var se *ServiceError
			require.ErrorAs(t, err, &se)
			var de *domain.Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.field, de.Field)
		})
	}
}

func TestSearchService_FilterPushdownAndLocalAgree(t *testing.T) {
	pushdown := memstore.NewMemoryStore("test")
	local := memstore.NewMemoryStore("test", memstore.WithoutFilterPushdown())
	seed(t, pushdown, 200)
	seed(t, local, 200)

	embedder := embedding.NewMockEmbedder(testDim)
	req := SearchRequest{
		Query:              "security tokens",
		Limit:              ptr(5),
		MinSimilarityScore: ptr(0.0),
		MetadataFilter:     domain.MetadataFilter{"lang": "de"},
	}

	a, err := newService(t, pushdown, embedder, searchConfig()).SearchWithMetadataFilter(context.Background(), req)
	require.NoError(t, err)
	b, err := newService(t, local, embedder, searchConfig()).SearchWithMetadataFilter(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, SearchFiltered, a.SearchType)
	assert.Equal(t, domain.MetadataFilter{"lang": "de"}, a.MetadataFilter)
	require.Len(t, a.Results, 5)
	assert.Equal(t, a.Results, b.Results)
	for _, r := range b.Results {
		assert.Equal(t, "de", r.Metadata["lang"])
	}
}

func TestSearchService_FilterOnBuiltinField(t *testing.T) {
	store := memstore.NewMemoryStore("test", memstore.WithoutFilterPushdown())
	seed(t, store, 50)
	svc := newService(t, store, embedding.NewMockEmbedder(testDim), searchConfig())

	resp, err := svc.SearchWithMetadataFilter(context.Background(), SearchRequest{
		Query:              "security",
		MinSimilarityScore: ptr(0.0),
		MetadataFilter:     domain.MetadataFilter{"filename": "auth.md"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.Equal(t, "docs/auth.md", r.SourcePath)
	}
}

// flakyEmbedder fails the first n calls with err.
type flakyEmbedder struct {
	port.Embedder
	n     int32
	err   error
	calls atomic.Int32
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.calls.Add(1) <= f.n {
		return nil, f.err
	}
	return f.Embedder.Embed(ctx, text)
}

func TestSearchService_RetriesTransientErrors(t *testing.T) {
	store := memstore.NewMemoryStore("test")
	seed(t, store, 0)

	unavailable := domain.EmbeddingUnavailable("embedding server unreachable", errors.New("dial tcp 10.0.0.7:11434: connection refused"))

	t.Run("recovers", func(t *testing.T) {
		emb := &flakyEmbedder{Embedder: embedding.NewMockEmbedder(testDim), n: 2, err: unavailable}
		svc := newService(t, store, emb, searchConfig())

		_, err := svc.SemanticSearch(context.Background(), SearchRequest{Query: "security"})
		require.NoError(t, err)
		assert.Equal(t, int32(3), emb.calls.Load())
	})

	t.Run("gives up", func(t *testing.T) {
		emb := &flakyEmbedder{Embedder: embedding.NewMockEmbedder(testDim), n: 10, err: unavailable}
		svc := newService(t, store, emb, searchConfig())

		_, err := svc.SemanticSearch(context.Background(), SearchRequest{Query: "security"})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
		assert.Equal(t, int32(3), emb.calls.Load())
		assert.NotContains(t, err.Error(), "10.0.0.7")
		assert.Contains(t, err.Error(), "EmbeddingUnavailable")
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		emb := &flakyEmbedder{
			Embedder: embedding.NewMockEmbedder(testDim),
			n:        10,
			err:      domain.ConfigError("embedding.dimension", "expected 64, got 32"),
		}
		svc := newService(t, store, emb, searchConfig())

		_, err := svc.SemanticSearch(context.Background(), SearchRequest{Query: "security"})
		assert.ErrorIs(t, err, domain.ErrConfig)
		assert.Equal(t, int32(1), emb.calls.Load())
	})
}

// blockingEmbedder waits for the request context to end.
type blockingEmbedder struct{ port.Embedder }

func (blockingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// blockingStore hangs on every read until the request context ends.
type blockingStore struct{ port.VectorStore }

func (blockingStore) Search(ctx context.Context, vector []float32, k int, filter domain.MetadataFilter) ([]domain.Candidate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingStore) GetByID(ctx context.Context, id string) (domain.EmbeddedPoint, error) {
	<-ctx.Done()
	return domain.EmbeddedPoint{}, ctx.Err()
}

func (blockingStore) CollectionInfo(ctx context.Context) (domain.CollectionInfo, error) {
	<-ctx.Done()
	return domain.CollectionInfo{}, ctx.Err()
}

func TestSearchService_Deadline(t *testing.T) {
	store := memstore.NewMemoryStore("test")
	seed(t, store, 0)
	emb := embedding.NewMockEmbedder(testDim)

	cfg := searchConfig()
	cfg.Timeout = 50 * time.Millisecond
	cfg.Retries = 2

	tests := []struct {
		name string
		svc  *SearchService
		call func(context.Context, *SearchService) error
		want error
	}{
		{
			name: "embedder",
			svc:  newService(t, store, blockingEmbedder{emb}, cfg),
			call: func(ctx context.Context, s *SearchService) error {
				_, err := s.SemanticSearch(ctx, SearchRequest{Query: "security"})
				return err
			},
			want: domain.ErrEmbeddingTimeout,
		},
		{
			name: "store search",
			svc:  newService(t, blockingStore{store}, emb, cfg),
			call: func(ctx context.Context, s *SearchService) error {
				_, err := s.HybridSearch(ctx, SearchRequest{Query: "security"})
				return err
			},
			want: domain.ErrStoreUnavailable,
		},
		{
			name: "store get",
			svc:  newService(t, blockingStore{store}, emb, cfg),
			call: func(ctx context.Context, s *SearchService) error {
				_, err := s.DocumentRetrieval(ctx, "docs/auth.md#0")
				return err
			},
			want: domain.ErrStoreUnavailable,
		},
		{
			name: "store info",
			svc:  newService(t, blockingStore{store}, emb, cfg),
			call: func(ctx context.Context, s *SearchService) error {
				_, err := s.CollectionInfo(ctx)
				return err
			},
			want: domain.ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			err := tt.call(context.Background(), tt.svc)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Less(t, time.Since(start), 2*time.Second)
		})
	}
}

// endlessStore answers every search with k points that never match a filter.
type endlessStore struct {
	port.VectorStore
	calls atomic.Int32
	maxK  atomic.Int32
}

func (e *endlessStore) Search(ctx context.Context, vector []float32, k int, filter domain.MetadataFilter) ([]domain.Candidate, error) {
	e.calls.Add(1)
	if int32(k) > e.maxK.Load() {
		e.maxK.Store(int32(k))
	}
	hits := make([]domain.Candidate, k)
	for i := range hits {
		hits[i] = domain.Candidate{
			Point: domain.EmbeddedPoint{
				ID:      fmt.Sprintf("p%d", i),
				Vector:  vector,
				Payload: domain.PayloadFromChunk(domain.Chunk{SourcePath: "other.md", Metadata: map[string]string{"lang": "en"}}),
			},
			Similarity: 0.5,
		}
	}
	return hits, nil
}

func TestSearchService_WideningIsBounded(t *testing.T) {
	store := &endlessStore{VectorStore: memstore.NewMemoryStore("test")}
	svc := newService(t, store, embedding.NewMockEmbedder(testDim), searchConfig())

	resp, err := svc.SearchWithMetadataFilter(context.Background(), SearchRequest{
		Query:          "security",
		MetadataFilter: domain.MetadataFilter{"lang": "fr"},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, int32(maxSearchK), store.maxK.Load())
	assert.Less(t, store.calls.Load(), int32(20))
}

func TestSearchService_DocumentRetrieval(t *testing.T) {
	store := memstore.NewMemoryStore("test")
	seed(t, store, 0)
	svc := newService(t, store, embedding.NewMockEmbedder(testDim), searchConfig())
	ctx := context.Background()

	resp, err := svc.SemanticSearch(ctx, SearchRequest{Query: "embedding cache", Limit: ptr(1)})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	hit := resp.Results[0]

	doc, err := svc.DocumentRetrieval(ctx, hit.ID)
	require.NoError(t, err)
	assert.Equal(t, hit.ID, doc.ID)
	assert.Equal(t, hit.Text, doc.Text)
	assert.Equal(t, hit.SourcePath, doc.SourcePath)
	assert.Len(t, doc.Embedding, testDim)

	_, err = svc.DocumentRetrieval(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.DocumentRetrieval(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSearchService_CollectionInfo(t *testing.T) {
	store := memstore.NewMemoryStore("test")
	svc := newService(t, store, embedding.NewMockEmbedder(testDim), searchConfig())
	ctx := context.Background()

	_, err := svc.CollectionInfo(ctx)
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)

	seed(t, store, 0)
	info, err := svc.CollectionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", info.Name)
	assert.Equal(t, len(testCorpus), info.PointCount)
	assert.Equal(t, testDim, info.VectorDimension)
	assert.Zero(t, info.Documents)

	t.Run("with index statistics", func(t *testing.T) {
		svc := newService(t, store, embedding.NewMockEmbedder(testDim), searchConfig()).
			WithStats(statsFunc(func() (domain.Stats, error) {
				return domain.Stats{TotalDocs: 5, TotalChunks: 6}, nil
			}))
		info, err := svc.CollectionInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, info.Documents)
		assert.Equal(t, 6, info.Chunks)
	})

	t.Run("statistics failure keeps the store answer", func(t *testing.T) {
		svc := newService(t, store, embedding.NewMockEmbedder(testDim), searchConfig()).
			WithStats(statsFunc(func() (domain.Stats, error) {
				return domain.Stats{}, domain.NotFound("no index at %s", "/tmp/x")
			}))
		info, err := svc.CollectionInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, len(testCorpus), info.PointCount)
		assert.Zero(t, info.Documents)
	})
}

type statsFunc func() (domain.Stats, error)

func (f statsFunc) Stats() (domain.Stats, error) { return f() }
