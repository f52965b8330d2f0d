package domain

import (
	"path/filepath"
	"strconv"
	"time"
)

// Document is a source file tracked by the indexer.
type Document struct {
	ID          string
	Path        string // relative to the docs root
	AbsPath     string
	ModTime     time.Time
	ContentHash string
	ChunkCount  int
}

// Chunk is a bounded token window of a document.
// EndOffset-StartOffset always equals TokenCount.
type Chunk struct {
	DocumentID  string
	ChunkIndex  int
	Text        string
	TokenCount  int
	StartOffset int // token offset, inclusive
	EndOffset   int // token offset, exclusive
	StartIndex  int // character position in the source text
	EndIndex    int
	SourcePath  string
	Metadata    map[string]string
}

// Payload is what the vector store keeps next to each vector.
type Payload struct {
	DocumentID  string            `json:"document_id"`
	ChunkIndex  int               `json:"chunk_index"`
	Text        string            `json:"text"`
	SourcePath  string            `json:"source_path"`
	Filename    string            `json:"filename"`
	TokenCount  int               `json:"token_count"`
	StartOffset int               `json:"start_offset"`
	EndOffset   int               `json:"end_offset"`
	StartIndex  int               `json:"start_index"`
	EndIndex    int               `json:"end_index"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Built-in payload keys usable in a MetadataFilter.
const (
	FieldDocumentID = "document_id"
	FieldChunkIndex = "chunk_index"
	FieldSourcePath = "source_path"
	FieldFilename   = "filename"
	FieldTokenCount = "token_count"
)

// BuiltinField reports whether key names a payload field rather than extra metadata.
func BuiltinField(key string) bool {
	switch key {
	case FieldDocumentID, FieldChunkIndex, FieldSourcePath, FieldFilename, FieldTokenCount:
		return true
	}
	return false
}

// Field returns the string form of a payload value. Built-in fields win over Metadata.
func (p Payload) Field(key string) (string, bool) {
	switch key {
	case FieldDocumentID:
		return p.DocumentID, true
	case FieldChunkIndex:
		return strconv.Itoa(p.ChunkIndex), true
	case FieldSourcePath:
		return p.SourcePath, true
	case FieldFilename:
		return p.Filename, true
	case FieldTokenCount:
		return strconv.Itoa(p.TokenCount), true
	}
	v, ok := p.Metadata[key]
	return v, ok
}

// PayloadFromChunk builds the stored payload for a chunk.
func PayloadFromChunk(c Chunk) Payload {
	return Payload{
		DocumentID:  c.DocumentID,
		ChunkIndex:  c.ChunkIndex,
		Text:        c.Text,
		SourcePath:  c.SourcePath,
		Filename:    filepath.Base(c.SourcePath),
		TokenCount:  c.TokenCount,
		StartOffset: c.StartOffset,
		EndOffset:   c.EndOffset,
		StartIndex:  c.StartIndex,
		EndIndex:    c.EndIndex,
		Metadata:    c.Metadata,
	}
}

// EmbeddedPoint is a chunk vector owned by the vector store.
type EmbeddedPoint struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Candidate is a nearest-neighbour hit with the store's raw similarity.
type Candidate struct {
	Point      EmbeddedPoint
	Similarity float64
}

// MetadataFilter is an AND of exact key/value matches.
type MetadataFilter map[string]string

// Matches reports whether every pair of the filter matches the payload.
// An empty filter matches everything.
func (f MetadataFilter) Matches(p Payload) bool {
	for k, want := range f {
		got, ok := p.Field(k)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// SearchQuery is a fully resolved search request.
type SearchQuery struct {
	Text               string
	Limit              int
	MinSimilarityScore float64
	SemanticWeight     float64
	MetadataFilter     MetadataFilter
}

// ScoredResult is a ranked search hit.
type ScoredResult struct {
	PointID       string
	Payload       Payload
	SemanticScore float64
	LexicalScore  float64
	CombinedScore float64
	Rank          int
}

// CollectionInfo is a snapshot of the vector collection.
type CollectionInfo struct {
	Name               string `json:"name"`
	Backend            string `json:"backend"`
	PointCount         int    `json:"points_count"`
	IndexedVectorCount int    `json:"indexed_vectors_count"`
	VectorDimension    int    `json:"vector_size"`
	Status             string `json:"status"`
	Documents          int    `json:"documents_count,omitempty"`
	Chunks             int    `json:"chunks_count,omitempty"`
}

// Stats counts what the manifest has recorded as indexed.
type Stats struct {
	TotalDocs    int
	TotalChunks  int
	ChunksPerDoc float64
}
