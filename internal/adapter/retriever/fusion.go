package retriever

import (
	"localdocs/internal/domain"
)

// Similarity ranges reported by vector stores.
const (
	RangeUnit   = "unit"   // already in [0, 1]; out-of-range values are clamped
	RangeSigned = "signed" // cosine in [-1, 1]; mapped with (s+1)/2
)

// Normalizer maps a store's raw similarity onto [0, 1].
type Normalizer func(raw float64) float64

func NewNormalizer(similarityRange string) (Normalizer, error) {
	switch similarityRange {
	case "", RangeUnit:
		return clamp01, nil
	case RangeSigned:
		return func(raw float64) float64 { return clamp01((raw + 1) / 2) }, nil
	default:
		return nil, domain.ConfigError("store.similarity_range", "unknown similarity range %q", similarityRange)
	}
}

// Fuse blends a semantic and a lexical score with weight w on the semantic side.
func Fuse(semantic, lexical, w float64) float64 {
	return clamp01(w*semantic + (1-w)*lexical)
}

// fused is a candidate with its scores during ranking.
type fused struct {
	candidate domain.Candidate
	semantic  float64
	lexical   float64
	combined  float64
}

// less orders by combined score descending, then chunk index, document ID and
// point ID ascending.
func (a fused) less(b fused) bool {
	if a.combined != b.combined {
		return a.combined > b.combined
	}
	pa, pb := a.candidate.Point.Payload, b.candidate.Point.Payload
	if pa.ChunkIndex != pb.ChunkIndex {
		return pa.ChunkIndex < pb.ChunkIndex
	}
	if pa.DocumentID != pb.DocumentID {
		return pa.DocumentID < pb.DocumentID
	}
	return a.candidate.Point.ID < b.candidate.Point.ID
}
