package chunker

import (
	"strings"
	"unicode/utf8"

	"localdocs/internal/domain"
	"localdocs/internal/port"
)

// TokenChunker splits text into fixed-size token windows that overlap by a
// fixed number of tokens.
type TokenChunker struct {
	size      int
	overlap   int
	tokenizer port.Tokenizer
}

func NewTokenChunker(size, overlap int, tokenizer port.Tokenizer) (*TokenChunker, error) {
	if size <= 0 {
		return nil, domain.ConfigError("chunking.size", "must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, domain.ConfigError("chunking.overlap", "must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, domain.ConfigError("chunking.overlap", "must be smaller than size (%d >= %d)", overlap, size)
	}
	if tokenizer == nil {
		return nil, domain.ConfigError("chunking.encoding", "tokenizer is required")
	}
	return &TokenChunker{
		size:      size,
		overlap:   overlap,
		tokenizer: tokenizer,
	}, nil
}

func (c *TokenChunker) Size() int    { return c.size }
func (c *TokenChunker) Overlap() int { return c.overlap }

// Chunk tokenizes content once and emits window i over tokens
// [i*(size-overlap), i*(size-overlap)+size), clipped to the stream.
func (c *TokenChunker) Chunk(doc domain.Document, content string) ([]domain.Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	spans := c.tokenizer.Tokenize(content)
	if len(spans) == 0 {
		return nil, nil
	}

	step := c.size - c.overlap
	starts, ends := newRuneIndex(content), newRuneIndex(content)

	var chunks []domain.Chunk
	for start := 0; start < len(spans); start += step {
		end := start + c.size
		if end > len(spans) {
			end = len(spans)
		}

		byteStart := spans[start].Start
		byteEnd := spans[end-1].End

		chunks = append(chunks, domain.Chunk{
			DocumentID:  doc.ID,
			ChunkIndex:  len(chunks),
			Text:        content[byteStart:byteEnd],
			TokenCount:  end - start,
			StartOffset: start,
			EndOffset:   end,
			StartIndex:  starts.at(byteStart),
			EndIndex:    ends.at(byteEnd),
			SourcePath:  doc.Path,
		})
	}

	return chunks, nil
}

// runeIndex converts byte offsets into character offsets. Lookups with
// non-decreasing offsets are linear overall; a smaller offset rescans.
type runeIndex struct {
	text      string
	bytePos   int
	runeCount int
}

func newRuneIndex(text string) *runeIndex {
	return &runeIndex{text: text}
}

func (r *runeIndex) at(byteOffset int) int {
	if byteOffset < r.bytePos {
		r.bytePos, r.runeCount = 0, 0
	}
	r.runeCount += utf8.RuneCountInString(r.text[r.bytePos:byteOffset])
	r.bytePos = byteOffset
	return r.runeCount
}
