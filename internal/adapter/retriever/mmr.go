package retriever

import (
	"localdocs/internal/adapter/analyzer"
	"localdocs/internal/domain"
)

// mmrSelect implements Maximal Marginal Relevance for result diversification.
// MMR(c) = λ * combined(c) - (1-λ) * max_similarity(c, selected)
// candidates must already be in fused order; ties keep the earlier candidate.
func mmrSelect(candidates []fused, limit int, lambda float64) []fused {
	if len(candidates) == 0 {
		return nil
	}
	if limit > len(candidates) {
		limit = len(candidates)
	}

	selected := make([]fused, 0, limit)
	taken := make([]bool, len(candidates))
	maxSim := make([]float64, len(candidates))

	var words [][]string // lazily built for candidates without vectors

	for len(selected) < limit {
		bestIdx := -1
		bestMMR := 0.0

		for i, c := range candidates {
			if taken[i] {
				continue
			}
			mmr := lambda*c.combined - (1-lambda)*maxSim[i]
			if bestIdx == -1 || mmr > bestMMR {
				bestMMR = mmr
				bestIdx = i
			}
		}

		taken[bestIdx] = true
		chosen := candidates[bestIdx]
		selected = append(selected, chosen)

		for i, c := range candidates {
			if taken[i] {
				continue
			}
			var sim float64
			a, b := c.candidate.Point.Vector, chosen.candidate.Point.Vector
			if len(a) > 0 && len(a) == len(b) {
				sim = domain.CosineSimilarity(a, b)
			} else {
				if words == nil {
					words = make([][]string, len(candidates))
				}
				sim = jaccardSimilarity(wordsOf(words, candidates, i), wordsOf(words, candidates, bestIdx))
			}
			// max over the selected set; it may be negative
			if len(selected) == 1 || sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}

	return selected
}

func wordsOf(cache [][]string, candidates []fused, i int) []string {
	if cache[i] == nil {
		cache[i] = analyzer.Words(candidates[i].candidate.Point.Payload.Text)
		if cache[i] == nil {
			cache[i] = []string{}
		}
	}
	return cache[i]
}

// jaccardSimilarity computes the Jaccard similarity between two token sets.
// It stands in for cosine when a store returned points without vectors.
func jaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}

	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}

	intersection := 0
	for t := range setA {
		if _, exists := setB[t]; exists {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}

	return float64(intersection) / float64(union)
}
