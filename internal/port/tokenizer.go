package port

// Span is the byte range of one token in the tokenized text.
type Span struct {
	Start int
	End   int
}

type Tokenizer interface {
	// Tokenize returns the token spans of text in order.
	Tokenize(text string) []Span

	CountTokens(text string) int

	// Encoding names the tokenizer, e.g. "cl100k_base" or "words".
	Encoding() string
}
