package port

import "localdocs/internal/domain"

// Ranker fuses, filters and diversifies candidates into ranked results.
type Ranker interface {
	Rank(query domain.SearchQuery, candidates []domain.Candidate) ([]domain.ScoredResult, error)
}
