package retriever

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"localdocs/internal/adapter/analyzer"
)

// Sub-weights of the lexical score. They sum to 1.
const (
	termOverlapWeight = 0.6
	phraseWeight      = 0.25
	pathWeight        = 0.15
)

// minPrefixLen is the shortest prefix that counts as a path match ("auth" for
// "authentication").
const minPrefixLen = 3

// LexicalSignals are the keyword signals of one candidate, each in [0, 1].
type LexicalSignals struct {
	TermOverlap float64
	Phrase      float64
	Path        float64
}

// Score combines the signals with fixed sub-weights, clamped to [0, 1].
func (s LexicalSignals) Score() float64 {
	return clamp01(termOverlapWeight*s.TermOverlap + phraseWeight*s.Phrase + pathWeight*s.Path)
}

// lexicalQuery holds the query-side work done once per ranking call.
type lexicalQuery struct {
	terms  []string
	phrase string
}

func newLexicalQuery(query string) lexicalQuery {
	return lexicalQuery{
		terms:  analyzer.QueryTerms(query),
		phrase: wordSequence(analyzer.Words(query)),
	}
}

// LexicalScore scores text and its source path against query.
func LexicalScore(query, text, sourcePath string) LexicalSignals {
	return newLexicalQuery(query).signals(text, sourcePath)
}

func (q lexicalQuery) signals(text, sourcePath string) LexicalSignals {
	var s LexicalSignals

	textWords := analyzer.Words(text)
	if q.phrase != "" && strings.Contains(wordSequence(textWords), q.phrase) {
		s.Phrase = 1
	}

	if len(q.terms) == 0 {
		return s
	}

	words := make(map[string]struct{}, len(textWords))
	for _, w := range textWords {
		words[w] = struct{}{}
	}

	pathTokens := tokenizePath(sourcePath)

	var inText, inPath int
	for _, term := range q.terms {
		if _, ok := words[term]; ok {
			inText++
		}
		if matchesPath(term, pathTokens) {
			inPath++
		}
	}

	n := float64(len(q.terms))
	s.TermOverlap = float64(inText) / n
	s.Path = float64(inPath) / n
	return s
}

func matchesPath(term string, pathTokens []string) bool {
	for _, pt := range pathTokens {
		if pt == term {
			return true
		}
		short, long := pt, term
		if utf8.RuneCountInString(short) > utf8.RuneCountInString(long) {
			short, long = long, short
		}
		if utf8.RuneCountInString(short) >= minPrefixLen && strings.HasPrefix(long, short) {
			return true
		}
	}
	return false
}

// tokenizePath splits a source path into lowercased tokens on separators,
// dots, dashes, underscores and spaces. Tokens shorter than two runes are dropped.
func tokenizePath(path string) []string {
	var tokens []string
	for _, token := range strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\' || r == '.' || r == '_' || r == '-' || unicode.IsSpace(r)
	}) {
		token = strings.ToLower(token)
		if utf8.RuneCountInString(token) >= 2 {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// wordSequence joins words with single spaces and pads both ends, so a
// substring test only matches on word boundaries.
func wordSequence(words []string) string {
	if len(words) == 0 {
		return ""
	}
	return " " + strings.Join(words, " ") + " "
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
