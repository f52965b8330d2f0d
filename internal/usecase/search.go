package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"localdocs/config"
	"localdocs/internal/domain"
	"localdocs/internal/metrics"
	"localdocs/internal/port"
)

// Search types reported in responses.
const (
	SearchSemantic = "semantic"
	SearchHybrid   = "hybrid"
	SearchFiltered = "filtered"
)

// Operation names used in logs, metrics and ServiceError.
const (
	OpSemanticSearch = "semantic_search"
	OpHybridSearch   = "hybrid_search"
	OpFilteredSearch = "search_with_metadata_filter"
	OpDocument       = "document_retrieval"
	OpCollectionInfo = "get_collection_info"
)

// ServiceError wraps a failure of a service operation. The cause stays
// reachable through errors.Is and errors.As.
type ServiceError struct {
	Op  string
	Err error
}

// Error exposes the error kind and message but not the wrapped transport cause.
func (e *ServiceError) Error() string {
	var de *domain.Error
	if !errors.As(e.Err, &de) {
		return e.Op + ": " + e.Err.Error()
	}
	msg := de.Kind.String()
	if de.Field != "" {
		msg += ": " + de.Field
	}
	if de.Msg != "" {
		msg += ": " + de.Msg
	}
	return e.Op + ": " + msg
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// SearchRequest is a search call as it arrives from a tool or the CLI.
// Nil fields fall back to the configured defaults.
type SearchRequest struct {
	Type               string // SearchSemantic, SearchHybrid or SearchFiltered
	Query              string
	Limit              *int
	MinSimilarityScore *float64
	SemanticWeight     *float64 // hybrid only
	MetadataFilter     domain.MetadataFilter
}

// SearchResponse is the serialized result of a search operation.
type SearchResponse struct {
	Query          string                `json:"query"`
	MetadataFilter domain.MetadataFilter `json:"metadata_filter,omitempty"`
	Results        []ResultView          `json:"results"`
	TotalResults   int                   `json:"total_results"`
	SearchType     string                `json:"search_type"`
	SemanticWeight *float64              `json:"semantic_weight,omitempty"`
}

// ResultView is a flattened ScoredResult for tool and CLI output.
type ResultView struct {
	Rank          int               `json:"rank"`
	ID            string            `json:"id"`
	DocumentID    string            `json:"document_id"`
	ChunkIndex    int               `json:"chunk_index"`
	Text          string            `json:"text"`
	SourcePath    string            `json:"source_path"`
	Filename      string            `json:"filename"`
	TokenCount    int               `json:"token_count"`
	StartOffset   int               `json:"start_offset"`
	EndOffset     int               `json:"end_offset"`
	SemanticScore float64           `json:"semantic_score"`
	LexicalScore  float64           `json:"lexical_score"`
	CombinedScore float64           `json:"combined_score"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func NewResultView(r domain.ScoredResult) ResultView {
	return ResultView{
		Rank:          r.Rank,
		ID:            r.PointID,
		DocumentID:    r.Payload.DocumentID,
		ChunkIndex:    r.Payload.ChunkIndex,
		Text:          r.Payload.Text,
		SourcePath:    r.Payload.SourcePath,
		Filename:      r.Payload.Filename,
		TokenCount:    r.Payload.TokenCount,
		StartOffset:   r.Payload.StartOffset,
		EndOffset:     r.Payload.EndOffset,
		SemanticScore: r.SemanticScore,
		LexicalScore:  r.LexicalScore,
		CombinedScore: r.CombinedScore,
		Metadata:      r.Payload.Metadata,
	}
}

// DocumentView is a stored chunk returned by document retrieval.
type DocumentView struct {
	ID          string            `json:"id"`
	DocumentID  string            `json:"document_id"`
	ChunkIndex  int               `json:"chunk_index"`
	Filename    string            `json:"filename"`
	SourcePath  string            `json:"source_path"`
	Text        string            `json:"text"`
	TokenCount  int               `json:"token_count"`
	StartOffset int               `json:"start_offset"`
	EndOffset   int               `json:"end_offset"`
	StartIndex  int               `json:"start_index"`
	EndIndex    int               `json:"end_index"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Embedding   []float32         `json:"embedding"`
}

// SearchService validates requests, gathers a candidate pool from the vector
// store and hands it to the ranker. It is safe for concurrent use.
type SearchService struct {
	embedder port.Embedder
	store    port.VectorStore
	ranker   port.Ranker
	cfg      config.SearchConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
	stats    port.StatsSource
}

// NewSearchService creates a search service. logger and m may be nil.
func NewSearchService(
	embedder port.Embedder,
	store port.VectorStore,
	ranker port.Ranker,
	cfg config.SearchConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *SearchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchService{
		embedder: embedder,
		store:    store,
		ranker:   ranker,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// SemanticSearch ranks by vector similarity alone.
// WithStats adds document and chunk counts from src to CollectionInfo.
func (s *SearchService) WithStats(src port.StatsSource) *SearchService {
	s.stats = src
	return s
}

func (s *SearchService) SemanticSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	req.Type = SearchSemantic
	return s.Search(ctx, req)
}

// HybridSearch fuses vector similarity with keyword signals.
func (s *SearchService) HybridSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	req.Type = SearchHybrid
	return s.Search(ctx, req)
}

// SearchWithMetadataFilter is a semantic search restricted to chunks whose
// payload matches every pair of req.MetadataFilter.
func (s *SearchService) SearchWithMetadataFilter(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	req.Type = SearchFiltered
	return s.Search(ctx, req)
}

// Search runs the request according to req.Type. An empty type means semantic.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()
	op := operationFor(req.Type)

	resp, err := s.search(ctx, req)
	if err != nil {
		s.observe(op, start, 0, err)
		return nil, &ServiceError{Op: op, Err: err}
	}
	s.observe(op, start, resp.TotalResults, nil)
	return resp, nil
}

func (s *SearchService) search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	q, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var vector []float32
	err = s.retry(ctx, "embed", func(ctx context.Context) error {
		v, err := s.embedder.Embed(ctx, q.Text)
		vector = v
		return err
	})
	if err != nil {
		return nil, err
	}

	var candidates []domain.Candidate
	err = s.retry(ctx, "search", func(ctx context.Context) error {
		c, err := s.candidates(ctx, vector, s.poolSize(q.Limit), q.MetadataFilter)
		candidates = c
		return err
	})
	if err != nil {
		return nil, err
	}

	results, err := s.ranker.Rank(q, candidates)
	if err != nil {
		return nil, err
	}

	resp := &SearchResponse{
		Query:        q.Text,
		Results:      make([]ResultView, len(results)),
		TotalResults: len(results),
		SearchType:   searchType(req.Type),
	}
	for i, r := range results {
		resp.Results[i] = NewResultView(r)
	}
	switch resp.SearchType {
	case SearchHybrid:
		w := q.SemanticWeight
		resp.SemanticWeight = &w
	case SearchFiltered:
		resp.MetadataFilter = q.MetadataFilter
	}
	return resp, nil
}

// resolve applies defaults and bounds checks.
func (s *SearchService) resolve(req SearchRequest) (domain.SearchQuery, error) {
	q := domain.SearchQuery{
		Text:               strings.TrimSpace(req.Query),
		Limit:              s.cfg.DefaultLimit,
		MinSimilarityScore: s.cfg.MinSimilarityScore,
		SemanticWeight:     1,
	}
	if q.Text == "" {
		return q, domain.ValidationError("query", "is required")
	}

	if req.Limit != nil {
		q.Limit = *req.Limit
	}
	if q.Limit < 1 || q.Limit > s.cfg.MaxLimit {
		return q, domain.ValidationError("limit", "must be between 1 and %d, got %d", s.cfg.MaxLimit, q.Limit)
	}

	if req.MinSimilarityScore != nil {
		q.MinSimilarityScore = *req.MinSimilarityScore
	}
	if q.MinSimilarityScore < 0 || q.MinSimilarityScore > 1 {
		return q, domain.ValidationError("min_similarity_score", "must be between 0 and 1, got %g", q.MinSimilarityScore)
	}

	switch searchType(req.Type) {
	case SearchHybrid:
		q.SemanticWeight = s.cfg.SemanticWeight
		if req.SemanticWeight != nil {
			q.SemanticWeight = *req.SemanticWeight
		}
		if q.SemanticWeight < 0 || q.SemanticWeight > 1 {
			return q, domain.ValidationError("semantic_weight", "must be between 0 and 1, got %g", q.SemanticWeight)
		}
	case SearchFiltered:
		for k := range req.MetadataFilter {
			if strings.TrimSpace(k) == "" {
				return q, domain.ValidationError("metadata_filter", "keys must not be empty")
			}
		}
		q.MetadataFilter = req.MetadataFilter
	}
	return q, nil
}

// maxSearchK bounds k while widening; Milvus rejects a topK above 16384.
const maxSearchK = 16384

func (s *SearchService) poolSize(limit int) int {
	return max(limit*s.cfg.PoolMultiplier, s.cfg.MinPool)
}

// candidates returns up to pool candidates matching filter. Stores without
// filter pushdown are queried with a doubling k until enough candidates match
// or the collection is exhausted, so both paths yield the same pool.
func (s *SearchService) candidates(ctx context.Context, vector []float32, pool int, filter domain.MetadataFilter) ([]domain.Candidate, error) {
	if len(filter) == 0 || port.SupportsFilter(s.store) {
		return s.store.Search(ctx, vector, pool, filter)
	}

	k := min(pool, maxSearchK)
	for {
		hits, err := s.store.Search(ctx, vector, k, filter)
		if err != nil {
			return nil, err
		}

		matching := make([]domain.Candidate, 0, pool)
		for _, c := range hits {
			if filter.Matches(c.Point.Payload) {
				matching = append(matching, c)
				if len(matching) == pool {
					return matching, nil
				}
			}
		}
		if len(hits) < k || k >= maxSearchK {
			return matching, nil
		}

		k = min(k*2, maxSearchK)
		s.logger.Debug("widening candidate pool",
			zap.Int("k", k),
			zap.Int("matching", len(matching)),
		)
	}
}

// retry runs fn until it succeeds, fails permanently or runs out of attempts.
// The wait grows linearly with the attempt number.
func (s *SearchService) retry(ctx context.Context, step string, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return deadlineError(ctx, step, err)
		}
		if !domain.IsRetryable(err) || attempt >= s.cfg.Retries {
			return err
		}

		kind := domain.KindOf(err).String()
		s.metrics.Retry(kind)
		s.logger.Warn("transient failure, retrying",
			zap.String("step", step),
			zap.String("kind", kind),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		timer := time.NewTimer(s.cfg.RetryBackoff * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return deadlineError(ctx, step, err)
		case <-timer.C:
		}
	}
}

// deadlineError classifies a failure caused by the request deadline or
// cancellation. Errors that already carry a kind are kept.
func deadlineError(ctx context.Context, step string, err error) error {
	if domain.KindOf(err) != domain.KindUnknown {
		return err
	}
	cause := ctx.Err()
	if step == "embed" {
		return domain.EmbeddingTimeout("embedding request did not finish in time", cause)
	}
	return domain.StoreUnavailable("vector store request did not finish in time", cause)
}

// DocumentRetrieval returns the stored chunk with the given point id.
func (s *SearchService) DocumentRetrieval(ctx context.Context, documentID string) (*DocumentView, error) {
	start := time.Now()

	doc, err := s.documentRetrieval(ctx, strings.TrimSpace(documentID))
	if err != nil {
		s.observe(OpDocument, start, 0, err)
		return nil, &ServiceError{Op: OpDocument, Err: err}
	}
	s.observe(OpDocument, start, 1, nil)
	return doc, nil
}

func (s *SearchService) documentRetrieval(ctx context.Context, id string) (*DocumentView, error) {
	if id == "" {
		return nil, domain.ValidationError("document_id", "is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var point domain.EmbeddedPoint
	err := s.retry(ctx, "get", func(ctx context.Context) error {
		p, err := s.store.GetByID(ctx, id)
		point = p
		return err
	})
	if err != nil {
		return nil, err
	}

	p := point.Payload
	return &DocumentView{
		ID:          point.ID,
		DocumentID:  p.DocumentID,
		ChunkIndex:  p.ChunkIndex,
		Filename:    p.Filename,
		SourcePath:  p.SourcePath,
		Text:        p.Text,
		TokenCount:  p.TokenCount,
		StartOffset: p.StartOffset,
		EndOffset:   p.EndOffset,
		StartIndex:  p.StartIndex,
		EndIndex:    p.EndIndex,
		Metadata:    p.Metadata,
		Embedding:   point.Vector,
	}, nil
}

// CollectionInfo reports the current state of the vector collection.
func (s *SearchService) CollectionInfo(ctx context.Context) (domain.CollectionInfo, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var info domain.CollectionInfo
	err := s.retry(ctx, "info", func(ctx context.Context) error {
		i, err := s.store.CollectionInfo(ctx)
		info = i
		return err
	})
	if err != nil {
		s.observe(OpCollectionInfo, start, 0, err)
		return domain.CollectionInfo{}, &ServiceError{Op: OpCollectionInfo, Err: err}
	}
	if s.stats != nil {
		st, err := s.stats.Stats()
		if err != nil {
			s.logger.Debug("index statistics unavailable", zap.Error(err))
		} else {
			info.Documents, info.Chunks = st.TotalDocs, st.TotalChunks
		}
	}
	s.observe(OpCollectionInfo, start, 1, nil)
	return info, nil
}

func (s *SearchService) observe(op string, start time.Time, results int, err error) {
	elapsed := time.Since(start)
	status := "ok"
	if err != nil {
		status = domain.KindOf(err).String()
		s.logger.Warn("search operation failed",
			zap.String("op", op),
			zap.String("kind", status),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	} else {
		s.logger.Debug("search operation",
			zap.String("op", op),
			zap.Int("results", results),
			zap.Duration("elapsed", elapsed),
		)
	}
	s.metrics.ObserveSearch(op, status, elapsed, results)
}

func searchType(t string) string {
	switch t {
	case SearchHybrid, SearchFiltered:
		return t
	}
	return SearchSemantic
}

func operationFor(t string) string {
	switch searchType(t) {
	case SearchHybrid:
		return OpHybridSearch
	case SearchFiltered:
		return OpFilteredSearch
	}
	return OpSemanticSearch
}
