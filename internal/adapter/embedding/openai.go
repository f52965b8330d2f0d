package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"localdocs/internal/domain"
)

const (
	DefaultOllamaURL = "http://localhost:11434"
	defaultTimeout   = 5 * time.Second
	defaultBatchSize = 32
)

// Options configures an OpenAI-compatible embedding client.
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimension  int
	Timeout    time.Duration // per request
	BatchSize  int
	HTTPClient *http.Client
}

// OpenAIEmbedder talks to any server implementing the OpenAI /embeddings API,
// including Ollama's /v1 endpoint.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
	timeout   time.Duration
	batchSize int
}

// NewOllamaEmbedder targets a local Ollama server.
func NewOllamaEmbedder(model, baseURL string, dimension int, timeout time.Duration) (*OpenAIEmbedder, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(baseURL, "/v1") {
		baseURL += "/v1"
	}

	return NewOpenAICompatibleEmbedder(Options{
		BaseURL:   baseURL,
		APIKey:    "ollama",
		Model:     model,
		Dimension: dimension,
		Timeout:   timeout,
	})
}

// NewOpenAIEmbedder reads the API key from apiKeyEnv.
func NewOpenAIEmbedder(apiKeyEnv, model, baseURL string, dimension int, timeout time.Duration) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, domain.ConfigError("embedding.api_key_env", "API key not found in environment variable %s", apiKeyEnv)
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return NewOpenAICompatibleEmbedder(Options{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		Model:     model,
		Dimension: dimension,
		Timeout:   timeout,
	})
}

func NewOpenAICompatibleEmbedder(opts Options) (*OpenAIEmbedder, error) {
	if opts.Model == "" {
		return nil, domain.ConfigError("embedding.model", "model is required")
	}
	if opts.Dimension <= 0 {
		return nil, domain.ConfigError("embedding.dimension", "must be positive, got %d", opts.Dimension)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = opts.BaseURL
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		dimension: opts.Dimension,
		timeout:   opts.Timeout,
		batchSize: opts.BatchSize,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		all = append(all, vectors...)
	}

	return all, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, classify(ctx, e.model, err)
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index >= 0 && data.Index < len(vectors) {
			vectors[data.Index] = data.Embedding
		}
	}

	for i, v := range vectors {
		if v == nil {
			return nil, domain.EmbeddingUnavailable(fmt.Sprintf("no embedding returned for input %d", i), nil)
		}
		if len(v) != e.dimension {
			return nil, domain.ConfigError("embedding.dimension", "model %s returned %d dimensions, expected %d", e.model, len(v), e.dimension)
		}
	}

	return vectors, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// classify maps transport and API failures onto the domain error kinds.
func classify(ctx context.Context, model string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("embedding request canceled: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return domain.EmbeddingTimeout("embedding request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.EmbeddingTimeout("embedding request timed out", err)
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == 0:
		return domain.EmbeddingUnavailable("embedding server unreachable", err)
	case status == http.StatusNotFound:
		return domain.EmbeddingUnavailable(fmt.Sprintf("model %s is not available", model), err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &domain.Error{Kind: domain.KindConfig, Field: "embedding.api_key_env", Msg: "embedding server rejected credentials", Err: err}
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.EmbeddingUnavailable(fmt.Sprintf("embedding server returned %d", status), err)
	default:
		return fmt.Errorf("embedding request failed with status %d: %w", status, err)
	}
}
