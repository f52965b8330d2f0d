package analyzer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"localdocs/internal/domain"
	"localdocs/internal/port"
)

// EncodingWords selects the built-in word tokenizer.
const EncodingWords = "words"

// NewTokenizer returns the tokenizer for an encoding name.
func NewTokenizer(encoding string) (port.Tokenizer, error) {
	switch encoding {
	case "":
		return nil, domain.ConfigError("chunking.encoding", "encoding is required")
	case EncodingWords:
		return NewWordTokenizer(), nil
	default:
		return NewBPETokenizer(encoding)
	}
}

// WordTokenizer treats runs of letters, digits and underscores as one token
// and every other non-space rune as a token of its own.
type WordTokenizer struct{}

func NewWordTokenizer() *WordTokenizer {
	return &WordTokenizer{}
}

func (t *WordTokenizer) Encoding() string {
	return EncodingWords
}

func (t *WordTokenizer) Tokenize(text string) []port.Span {
	var spans []port.Span
	start := -1

	for i, r := range text {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			spans = append(spans, port.Span{Start: start, End: i})
			start = -1
		}
		if !unicode.IsSpace(r) {
			spans = append(spans, port.Span{Start: i, End: i + utf8.RuneLen(r)})
		}
	}
	if start >= 0 {
		spans = append(spans, port.Span{Start: start, End: len(text)})
	}

	return spans
}

func (t *WordTokenizer) CountTokens(text string) int {
	return len(t.Tokenize(text))
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// Words splits text into lowercased words using unicode word boundaries.
func Words(text string) []string {
	var words []string
	var current strings.Builder

	for _, r := range text {
		if isWordRune(r) {
			current.WriteRune(unicode.ToLower(r))
		} else if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words
}

// QueryTerms extracts the distinct significant terms of a query: lowercased
// words longer than two characters that are not stopwords, in query order.
func QueryTerms(query string) []string {
	seen := make(map[string]struct{})
	var terms []string

	for _, w := range Words(query) {
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		if IsStopword(w) {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}

	return terms
}

// IsStopword reports whether the lowercased word is a common English stopword.
func IsStopword(word string) bool {
	_, ok := stopwords[word]
	return ok
}

var stopwords = func() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "must", "shall", "which",
		"who", "whom", "what", "when", "where", "why", "how", "all",
		"each", "every", "both", "few", "more", "most", "other",
		"some", "such", "than", "too", "very", "just", "also",
		"into", "about", "there", "these", "those", "then",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}()
