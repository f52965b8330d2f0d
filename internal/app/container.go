// Package app wires the adapters and use cases together with a dig container.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.etcd.io/bbolt"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"localdocs/config"
	"localdocs/internal/adapter/analyzer"
	"localdocs/internal/adapter/cache"
	"localdocs/internal/adapter/chunker"
	"localdocs/internal/adapter/embedding"
	"localdocs/internal/adapter/fs"
	"localdocs/internal/adapter/memstore"
	"localdocs/internal/adapter/milvus"
	"localdocs/internal/adapter/qdrant"
	"localdocs/internal/adapter/retriever"
	"localdocs/internal/adapter/store"
	"localdocs/internal/domain"
	"localdocs/internal/logging"
	"localdocs/internal/metrics"
	"localdocs/internal/port"
	"localdocs/internal/usecase"
)

// Options controls how shared resources are opened.
type Options struct {
	// ReadOnly opens the bolt index without taking the writer lock, so
	// several readers can run next to each other.
	ReadOnly bool
	// Logger overrides the logger built from the config.
	Logger *zap.Logger
}

// App owns the container and every client it constructed. Clients are built
// on first use and closed, in reverse order, by Close.
type App struct {
	container *dig.Container
	opts      Options

	mu      sync.Mutex
	closers []func() error
}

// New registers all providers. Nothing is opened until a component is requested.
func New(cfg *config.Config, opts Options) (*App, error) {
	a := &App{container: dig.New(), opts: opts}

	providers := []any{
		func() *config.Config { return cfg },
		a.provideLogger,
		metrics.New,
		a.provideBolt,
		provideManifest,
		provideTokenizer,
		provideChunker,
		provideWalker,
		a.provideEmbedder,
		a.provideVectorStore,
		provideRanker,
		provideSearchService,
		usecase.NewIndexUseCase,
	}
	for _, p := range providers {
		if err := a.container.Provide(p); err != nil {
			return nil, fmt.Errorf("failed to register provider: %w", err)
		}
	}
	return a, nil
}

// Invoke calls fn with its arguments resolved from the container.
func (a *App) Invoke(fn any) error {
	err := a.container.Invoke(fn)
	if err == nil {
		return nil
	}
	// keep domain errors visible to callers instead of dig's wrapped chain
	if root := dig.RootCause(err); root != nil {
		var de *domain.Error
		if errors.As(root, &de) {
			return root
		}
	}
	return err
}

func (a *App) SearchService() (*usecase.SearchService, error) {
	var svc *usecase.SearchService
	err := a.Invoke(func(s *usecase.SearchService) { svc = s })
	return svc, err
}

func (a *App) IndexUseCase() (*usecase.IndexUseCase, error) {
	var uc *usecase.IndexUseCase
	err := a.Invoke(func(u *usecase.IndexUseCase) { uc = u })
	return uc, err
}

func (a *App) Logger() (*zap.Logger, error) {
	var logger *zap.Logger
	err := a.Invoke(func(l *zap.Logger) { logger = l })
	return logger, err
}

func (a *App) Metrics() (*metrics.Metrics, error) {
	var m *metrics.Metrics
	err := a.Invoke(func(mm *metrics.Metrics) { m = mm })
	return m, err
}

// Close releases every client in reverse construction order.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

func (a *App) provideLogger(cfg *config.Config) (*zap.Logger, error) {
	if a.opts.Logger != nil {
		return a.opts.Logger, nil
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a.onClose(func() error {
		_ = logger.Sync()
		return nil
	})
	return logger, nil
}

// boltHandle opens the index database on first use, so backends that do not
// need it never touch the file.
type boltHandle struct {
	once sync.Once
	open func() (*bbolt.DB, error)
	db   *bbolt.DB
	err  error
}

func (h *boltHandle) get() (*bbolt.DB, error) {
	h.once.Do(func() { h.db, h.err = h.open() })
	return h.db, h.err
}

func (a *App) provideBolt(cfg *config.Config) *boltHandle {
	return &boltHandle{open: func() (*bbolt.DB, error) {
		db, err := store.Open(cfg.DBPath(), a.opts.ReadOnly, cfg.Store.LockTimeout)
		if err != nil {
			return nil, err
		}
		a.onClose(db.Close)
		return db, nil
	}}
}

func provideManifest(h *boltHandle) (*store.Manifest, error) {
	db, err := h.get()
	if err != nil {
		return nil, err
	}
	return store.NewManifest(db), nil
}

func provideTokenizer(cfg *config.Config) (port.Tokenizer, error) {
	return analyzer.NewTokenizer(cfg.Chunking.Encoding)
}

func provideChunker(cfg *config.Config, tok port.Tokenizer) (port.Chunker, error) {
	return chunker.NewTokenChunker(cfg.Chunking.Size, cfg.Chunking.Overlap, tok)
}

func provideWalker(cfg *config.Config) *fs.Walker {
	return fs.NewWalker(cfg.Docs.Extensions, cfg.Docs.Excludes, cfg.Docs.IgnoreFile)
}

func (a *App) provideEmbedder(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (port.Embedder, error) {
	ec := cfg.Embedding

	var base port.Embedder
	switch ec.Provider {
	case "ollama":
		e, err := embedding.NewOllamaEmbedder(ec.Model, ec.BaseURL, ec.Dimension, ec.Timeout)
		if err != nil {
			return nil, err
		}
		base = e
	case "openai":
		baseURL := ec.BaseURL
		if baseURL == embedding.DefaultOllamaURL {
			baseURL = ""
		}
		e, err := embedding.NewOpenAIEmbedder(ec.APIKeyEnv, ec.Model, baseURL, ec.Dimension, ec.Timeout)
		if err != nil {
			return nil, err
		}
		base = e
	case "mock":
		base = embedding.NewMockEmbedder(ec.Dimension)
	default:
		return nil, domain.ConfigError("embedding.provider", "unsupported embedding provider: %s", ec.Provider)
	}

	var c port.EmbeddingCache
	switch cfg.Cache.Backend {
	case "memory":
		c = cache.NewMemoryCache(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	case "redis":
		rc := cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.RedisPrefix, cfg.Cache.TTL)
		a.onClose(rc.Close)
		c = rc
	default:
		return base, nil
	}

	logger.Debug("embedding client ready",
		zap.String("provider", ec.Provider),
		zap.String("model", base.ModelName()),
		zap.String("cache", cfg.Cache.Backend),
	)
	return embedding.NewCachedEmbedder(base, c, logger).WithMetrics(m), nil
}

func (a *App) provideVectorStore(cfg *config.Config, h *boltHandle) (port.VectorStore, error) {
	sc := cfg.Store

	var vs port.VectorStore
	switch sc.Backend {
	case "bolt":
		db, err := h.get()
		if err != nil {
			return nil, err
		}
		s, err := store.NewBoltVectorStore(db, sc.Collection)
		if err != nil {
			return nil, err
		}
		vs = s
	case "memory":
		vs = memstore.NewMemoryStore(sc.Collection)
	case "qdrant":
		s, err := qdrant.New(qdrant.Options{
			Endpoint:   sc.QdrantURL,
			APIKey:     os.Getenv(sc.QdrantAPIKeyEnv),
			Collection: sc.Collection,
			Timeout:    sc.Timeout,
		})
		if err != nil {
			return nil, err
		}
		vs = s
	case "milvus":
		s, err := milvus.New(context.Background(), milvus.Options{
			Address:    sc.MilvusAddress,
			Collection: sc.Collection,
			Timeout:    sc.Timeout,
		})
		if err != nil {
			return nil, err
		}
		vs = s
	default:
		return nil, domain.ConfigError("store.backend", "unsupported vector store backend: %s", sc.Backend)
	}

	a.onClose(vs.Close)
	return vs, nil
}

func provideRanker(cfg *config.Config) (port.Ranker, error) {
	return retriever.NewEngine(retriever.Options{
		SimilarityRange: cfg.Store.SimilarityRange,
		MMRLambda:       cfg.Search.MMRLambda,
	})
}

// manifestStats reads index statistics from the manifest, opening the bolt
// file only when CollectionInfo asks for them.
type manifestStats struct{ h *boltHandle }

func (s manifestStats) Stats() (domain.Stats, error) {
	m, err := provideManifest(s.h)
	if err != nil {
		return domain.Stats{}, err
	}
	return m.Stats()
}

func provideSearchService(
	cfg *config.Config,
	embedder port.Embedder,
	vectors port.VectorStore,
	ranker port.Ranker,
	h *boltHandle,
	logger *zap.Logger,
	m *metrics.Metrics,
) *usecase.SearchService {
	return usecase.NewSearchService(embedder, vectors, ranker, cfg.Search, logger, m).
		WithStats(manifestStats{h})
}
