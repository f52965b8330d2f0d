package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"go.uber.org/zap"

	"localdocs/internal/metrics"
	"localdocs/internal/port"
)

// CachedEmbedder memoizes single-text embeddings, which is what queries use.
// Batch calls from the indexer bypass the cache.
type CachedEmbedder struct {
	inner   port.Embedder
	cache   port.EmbeddingCache
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewCachedEmbedder(inner port.Embedder, cache port.EmbeddingCache, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{inner: inner, cache: cache, logger: logger}
}

// WithMetrics records cache hits and misses on m.
func (e *CachedEmbedder) WithMetrics(m *metrics.Metrics) *CachedEmbedder {
	e.metrics = m
	return e
}

func CacheKey(model, text string) string {
	hash := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(hash[:16])
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(e.inner.ModelName(), text)

	vec, hit, err := e.cache.Get(ctx, key)
	switch {
	case err != nil:
		e.metrics.CacheLookup("error")
		e.logger.Warn("embedding cache read failed", zap.Error(err))
	case hit:
		e.metrics.CacheLookup("hit")
		return vec, nil
	default:
		e.metrics.CacheLookup("miss")
	}

	vec, err = e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := e.cache.Set(ctx, key, vec); err != nil {
		e.logger.Warn("embedding cache write failed", zap.Error(err))
	}
	return vec, nil
}

// Invalidate drops the cached query vectors if the cache supports it.
func (e *CachedEmbedder) Invalidate(ctx context.Context) error {
	inv, ok := e.cache.(port.CacheInvalidator)
	if !ok {
		return nil
	}
	if sized, ok := e.cache.(interface{ Size() int }); ok {
		e.logger.Info("dropping cached query embeddings", zap.Int("entries", sized.Size()))
	}
	return inv.Invalidate(ctx)
}

func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.inner.EmbedBatch(ctx, texts)
}

func (e *CachedEmbedder) Dimension() int {
	return e.inner.Dimension()
}

func (e *CachedEmbedder) ModelName() string {
	return e.inner.ModelName()
}
