package analyzer

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"localdocs/internal/domain"
	"localdocs/internal/port"
)

var loaderOnce sync.Once

// BPETokenizer tokenizes with a tiktoken encoding such as cl100k_base.
// BPE ranks are embedded, so no network access is needed.
type BPETokenizer struct {
	enc      *tiktoken.Tiktoken
	encoding string
}

func NewBPETokenizer(encoding string) (*BPETokenizer, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, domain.ConfigError("chunking.encoding", "unknown encoding %q: %v", encoding, err)
	}

	return &BPETokenizer{enc: enc, encoding: encoding}, nil
}

func (t *BPETokenizer) Encoding() string {
	return t.encoding
}

// Tokenize encodes text and maps each token back to its byte range. A
// multi-byte character split across BPE tokens is kept whole: tokens are
// merged until the span ends on a rune boundary, so every span is valid
// UTF-8 and the spans still tile the input.
func (t *BPETokenizer) Tokenize(text string) []port.Span {
	ids := t.enc.Encode(text, nil, nil)
	spans := make([]port.Span, 0, len(ids))

	start, pos := 0, 0
	for _, id := range ids {
		pos += len(t.enc.Decode([]int{id}))
		if pos < len(text) && !utf8.RuneStart(text[pos]) {
			continue
		}
		spans = append(spans, port.Span{Start: start, End: pos})
		start = pos
	}
	if start < len(text) {
		spans = append(spans, port.Span{Start: start, End: len(text)})
	}

	return spans
}

// CountTokens counts spans as Tokenize returns them, so counts and chunk
// offsets agree.
func (t *BPETokenizer) CountTokens(text string) int {
	return len(t.Tokenize(text))
}
