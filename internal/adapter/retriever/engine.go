package retriever

import (
	"sort"

	"localdocs/internal/domain"
)

// Options configures the ranking engine.
type Options struct {
	SimilarityRange string  // RangeUnit or RangeSigned
	MMRLambda       float64 // relevance vs diversity, in [0, 1]
}

// Engine fuses semantic and lexical scores, applies the similarity threshold
// and metadata filter, and diversifies the result with MMR. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	normalize Normalizer
	lambda    float64
}

func NewEngine(opts Options) (*Engine, error) {
	normalize, err := NewNormalizer(opts.SimilarityRange)
	if err != nil {
		return nil, err
	}
	if opts.MMRLambda < 0 || opts.MMRLambda > 1 {
		return nil, domain.ConfigError("search.mmr_lambda", "must be within [0, 1], got %g", opts.MMRLambda)
	}
	return &Engine{normalize: normalize, lambda: opts.MMRLambda}, nil
}

// Rank turns the candidate pool into at most q.Limit ranked results.
func (e *Engine) Rank(q domain.SearchQuery, candidates []domain.Candidate) ([]domain.ScoredResult, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []domain.ScoredResult{}, nil
	}

	lq := newLexicalQuery(q.Text)
	w := q.SemanticWeight

	pool := make([]fused, 0, len(candidates))
	for _, c := range candidates {
		f := fused{candidate: c, semantic: e.normalize(c.Similarity)}
		if w < 1 {
			payload := c.Point.Payload
			f.lexical = lq.signals(payload.Text, payload.SourcePath).Score()
		}
		f.combined = Fuse(f.semantic, f.lexical, w)

		if f.combined < q.MinSimilarityScore {
			continue
		}
		if !q.MetadataFilter.Matches(c.Point.Payload) {
			continue
		}
		pool = append(pool, f)
	}

	sort.SliceStable(pool, func(i, j int) bool { return pool[i].less(pool[j]) })

	selected := mmrSelect(pool, q.Limit, e.lambda)

	results := make([]domain.ScoredResult, len(selected))
	for i, f := range selected {
		results[i] = domain.ScoredResult{
			PointID:       f.candidate.Point.ID,
			Payload:       f.candidate.Point.Payload,
			SemanticScore: f.semantic,
			LexicalScore:  f.lexical,
			CombinedScore: f.combined,
			Rank:          i + 1,
		}
	}
	return results, nil
}

func validateQuery(q domain.SearchQuery) error {
	if q.Limit < 1 {
		return domain.ConfigError("limit", "must be at least 1, got %d", q.Limit)
	}
	if q.SemanticWeight < 0 || q.SemanticWeight > 1 {
		return domain.ConfigError("semantic_weight", "must be within [0, 1], got %g", q.SemanticWeight)
	}
	if q.MinSimilarityScore < 0 || q.MinSimilarityScore > 1 {
		return domain.ConfigError("min_similarity_score", "must be within [0, 1], got %g", q.MinSimilarityScore)
	}
	return nil
}
