package port

import "localdocs/internal/domain"

type Chunker interface {
	Chunk(doc domain.Document, text string) ([]domain.Chunk, error)
}
