package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"localdocs/config"
	"localdocs/internal/adapter/fs"
	"localdocs/internal/adapter/store"
	"localdocs/internal/domain"
	"localdocs/internal/metrics"
	"localdocs/internal/port"
)

// pointNamespace seeds the UUIDv5 point ids.
var pointNamespace = uuid.MustParse("6f0c7b52-3f5e-4c1e-9a55-1d3c2a7e8b90")

// Index outcomes, also used as metric labels.
const (
	OutcomeIndexed = "indexed"
	OutcomeSkipped = "skipped"
	OutcomeDeleted = "deleted"
	OutcomeFailed  = "failed"
)

// IndexUseCase keeps the vector collection in sync with the documents on disk.
type IndexUseCase struct {
	cfg      *config.Config
	root     string
	walker   *fs.Walker
	chunker  port.Chunker
	embedder port.Embedder
	store    port.VectorStore
	manifest *store.Manifest
	logger   *zap.Logger
	metrics  *metrics.Metrics
	locks    keyedMutex
}

// NewIndexUseCase creates an index use case over cfg.Docs.Dir.
func NewIndexUseCase(
	cfg *config.Config,
	walker *fs.Walker,
	chunker port.Chunker,
	embedder port.Embedder,
	vectors port.VectorStore,
	manifest *store.Manifest,
	logger *zap.Logger,
	m *metrics.Metrics,
) (*IndexUseCase, error) {
	root, err := filepath.Abs(cfg.Docs.Dir)
	if err != nil {
		return nil, fmt.Errorf("invalid docs directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexUseCase{
		cfg:      cfg,
		root:     root,
		walker:   walker,
		chunker:  chunker,
		embedder: embedder,
		store:    vectors,
		manifest: manifest,
		logger:   logger,
		metrics:  m,
	}, nil
}

// Root returns the absolute documents directory.
func (u *IndexUseCase) Root() string {
	return u.root
}

// IndexOptions controls a full indexing run.
type IndexOptions struct {
	// Force drops the collection and the manifest before indexing.
	Force bool
	// Progress is called after each file. It may be called concurrently.
	Progress func(processed, total int, currentFile string)
}

// IndexResult contains the results of an indexing operation.
type IndexResult struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesDeleted  int
	ChunksCreated int
	Rebuilt       bool
	RebuildReason string
	Errors        []string
}

// Index walks the documents directory and brings the collection up to date.
// Per-file failures are collected in the result; only setup failures and
// cancellation return an error.
func (u *IndexUseCase) Index(ctx context.Context, opts IndexOptions) (*IndexResult, error) {
	result := &IndexResult{}

	migration, err := u.manifest.CheckMigration(u.cfg)
	if err != nil {
		return nil, err
	}
	switch {
	case opts.Force:
		result.Rebuilt, result.RebuildReason = true, "forced"
	case migration.NeedsRebuild:
		result.Rebuilt, result.RebuildReason = true, migration.Reason
	}
	if result.Rebuilt {
		if err := u.reset(ctx); err != nil {
			return nil, err
		}
	}

	recreated, err := u.ensureCollection(ctx)
	if err != nil {
		return nil, err
	}
	if recreated && !result.Rebuilt {
		result.Rebuilt, result.RebuildReason = true, "embedding dimension changed"
	}
	if result.Rebuilt {
		u.invalidateQueryCache(ctx, result.RebuildReason)
	}

	if err := u.manifest.Migrate(u.cfg); err != nil {
		return nil, fmt.Errorf("failed to record schema info: %w", err)
	}

	files, err := u.walker.Walk(u.root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	existingDocs, err := u.manifest.ListDocuments()
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed documents: %w", err)
	}
	existing := make(map[string]domain.Document, len(existingDocs))
	for _, doc := range existingDocs {
		existing[doc.Path] = doc
	}

	u.logger.Info("indexing documents",
		zap.String("root", u.root),
		zap.Int("files", len(files)),
		zap.Int("known", len(existing)),
	)

	var (
		mu        sync.Mutex
		processed int
		seen      = make(map[string]bool, len(files))
	)
	for _, file := range files {
		seen[file.RelPath] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Embedding.Concurrency)

	for _, file := range files {
		var prev *domain.Document
		if doc, ok := existing[file.RelPath]; ok {
			prev = &doc
		}

		g.Go(func() error {
			outcome, chunks, err := u.indexFile(gctx, file, prev)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomeIndexed:
				result.FilesIndexed++
				result.ChunksCreated += chunks
			case OutcomeSkipped:
				result.FilesSkipped++
			case OutcomeFailed:
				result.Errors = append(result.Errors, fmt.Sprintf("failed to index %s: %v", file.RelPath, err))
			}
			processed++
			if opts.Progress != nil {
				opts.Progress(processed, len(files), file.RelPath)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for relPath, doc := range existing {
		if seen[relPath] {
			continue
		}
		if err := u.removeDocument(ctx, doc); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to delete %s: %v", relPath, err))
			continue
		}
		result.FilesDeleted++
	}

	u.logger.Info("indexing complete",
		zap.Int("indexed", result.FilesIndexed),
		zap.Int("skipped", result.FilesSkipped),
		zap.Int("deleted", result.FilesDeleted),
		zap.Int("chunks", result.ChunksCreated),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// IndexPath re-indexes a single file given by absolute path, or removes it
// from the collection when it no longer exists. It reports the outcome.
func (u *IndexUseCase) IndexPath(ctx context.Context, absPath string) (string, error) {
	rel, err := filepath.Rel(u.root, absPath)
	if err != nil {
		return OutcomeFailed, err
	}
	rel = filepath.ToSlash(rel)

	info, err := os.Stat(absPath)
	if errors.Is(err, os.ErrNotExist) {
		doc, err := u.manifest.GetDocument(DocumentID(rel))
		if errors.Is(err, domain.ErrNotFound) {
			return OutcomeSkipped, nil
		}
		if err != nil {
			return OutcomeFailed, err
		}
		if err := u.removeDocument(ctx, doc); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeDeleted, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	var prev *domain.Document
	doc, err := u.manifest.GetDocument(DocumentID(rel))
	switch {
	case err == nil:
		prev = &doc
	case !errors.Is(err, domain.ErrNotFound):
		return OutcomeFailed, err
	}

	outcome, _, err := u.indexFile(ctx, port.FileInfo{
		Path:    absPath,
		RelPath: rel,
		ModTime: info.ModTime().Unix(),
		Size:    info.Size(),
	}, prev)
	return outcome, err
}

// indexFile chunks, embeds and stores one file unless its content hash is
// unchanged. Old points of the document are deleted before the new ones are
// written, under the document lock.
func (u *IndexUseCase) indexFile(ctx context.Context, file port.FileInfo, prev *domain.Document) (string, int, error) {
	content, err := fs.ReadFile(file.Path)
	if err != nil {
		u.metrics.Document(OutcomeFailed)
		return OutcomeFailed, 0, fmt.Errorf("failed to read file: %w", err)
	}

	doc := domain.Document{
		ID:          DocumentID(file.RelPath),
		Path:        file.RelPath,
		AbsPath:     file.Path,
		ModTime:     time.Unix(file.ModTime, 0),
		ContentHash: contentHash(content),
	}
	if prev != nil && prev.ContentHash == doc.ContentHash {
		u.metrics.Document(OutcomeSkipped)
		return OutcomeSkipped, 0, nil
	}

	unlock := u.locks.Lock(doc.ID)
	defer unlock()

	chunks, err := u.chunker.Chunk(doc, content)
	if err != nil {
		u.metrics.Document(OutcomeFailed)
		return OutcomeFailed, 0, fmt.Errorf("failed to chunk content: %w", err)
	}
	meta := documentMetadata(doc.Path)
	for i := range chunks {
		chunks[i].Metadata = meta
	}

	points, err := u.embedChunks(ctx, chunks)
	if err != nil {
		u.metrics.Document(OutcomeFailed)
		return OutcomeFailed, 0, err
	}

	if _, err := u.store.DeleteByFilter(ctx, domain.MetadataFilter{domain.FieldDocumentID: doc.ID}); err != nil {
		u.metrics.Document(OutcomeFailed)
		return OutcomeFailed, 0, fmt.Errorf("failed to delete old points: %w", err)
	}
	if len(points) > 0 {
		if _, err := u.store.Upsert(ctx, points); err != nil {
			u.metrics.Document(OutcomeFailed)
			return OutcomeFailed, 0, fmt.Errorf("failed to store points: %w", err)
		}
	}

	doc.ChunkCount = len(chunks)
	if err := u.manifest.PutDocument(doc); err != nil {
		u.metrics.Document(OutcomeFailed)
		return OutcomeFailed, 0, fmt.Errorf("failed to record document: %w", err)
	}

	u.metrics.Document(OutcomeIndexed)
	u.metrics.Chunks(len(chunks))
	u.logger.Debug("indexed document",
		zap.String("path", doc.Path),
		zap.String("id", doc.ID),
		zap.Int("chunks", len(chunks)),
	)
	return OutcomeIndexed, len(chunks), nil
}

// embedChunks embeds chunk texts in batches of embedding.batch_size.
func (u *IndexUseCase) embedChunks(ctx context.Context, chunks []domain.Chunk) ([]domain.EmbeddedPoint, error) {
	batchSize := u.cfg.Embedding.BatchSize
	points := make([]domain.EmbeddedPoint, 0, len(chunks))

	for i := 0; i < len(chunks); i += batchSize {
		batch := chunks[i:min(i+batchSize, len(chunks))]

		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}

		vectors, err := u.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding batch failed: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, domain.EmbeddingUnavailable(
				fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(vectors)), nil)
		}

		for j, c := range batch {
			points = append(points, domain.EmbeddedPoint{
				ID:      PointID(c.DocumentID, c.ChunkIndex),
				Vector:  vectors[j],
				Payload: domain.PayloadFromChunk(c),
			})
		}
	}
	return points, nil
}

func (u *IndexUseCase) removeDocument(ctx context.Context, doc domain.Document) error {
	unlock := u.locks.Lock(doc.ID)
	defer unlock()

	if _, err := u.store.DeleteByFilter(ctx, domain.MetadataFilter{domain.FieldDocumentID: doc.ID}); err != nil {
		return err
	}
	if err := u.manifest.DeleteDocument(doc.ID); err != nil {
		return err
	}
	u.metrics.Document(OutcomeDeleted)
	u.logger.Debug("removed document", zap.String("path", doc.Path))
	return nil
}

// ensureCollection creates the collection, recreating it when it exists with
// another dimension. It reports whether the collection was recreated.
func (u *IndexUseCase) ensureCollection(ctx context.Context) (bool, error) {
	dim := u.embedder.Dimension()
	err := u.store.EnsureCollection(ctx, dim)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, domain.ErrConfig) {
		return false, err
	}

	u.logger.Warn("recreating collection with new dimension", zap.Int("dimension", dim), zap.Error(err))
	if err := u.reset(ctx); err != nil {
		return false, err
	}
	if err := u.store.EnsureCollection(ctx, dim); err != nil {
		return false, err
	}
	return true, nil
}

// invalidateQueryCache drops cached query vectors after a rebuild. A failure
// only costs stale cache hits until the entries expire.
func (u *IndexUseCase) invalidateQueryCache(ctx context.Context, reason string) {
	inv, ok := u.embedder.(port.CacheInvalidator)
	if !ok {
		return
	}
	if err := inv.Invalidate(ctx); err != nil {
		u.logger.Warn("failed to invalidate embedding cache", zap.String("reason", reason), zap.Error(err))
	}
}

// reset drops the collection and forgets every indexed document.
func (u *IndexUseCase) reset(ctx context.Context) error {
	if err := u.store.DropCollection(ctx); err != nil && !errors.Is(err, domain.ErrCollectionNotFound) {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	if err := u.manifest.Clear(); err != nil {
		return fmt.Errorf("failed to clear manifest: %w", err)
	}
	return nil
}

// DocumentID derives a stable document id from the relative path.
func DocumentID(relPath string) string {
	hash := sha256.Sum256([]byte(relPath))
	return hex.EncodeToString(hash[:8])
}

// PointID derives the UUIDv5 point id of a chunk, so re-indexing identical
// content rewrites the same points.
func PointID(documentID string, chunkIndex int) string {
	return uuid.NewSHA1(pointNamespace, []byte(documentID+":"+strconv.Itoa(chunkIndex))).String()
}

func contentHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// documentMetadata is attached to every chunk of a document and can be used
// in metadata filters.
func documentMetadata(relPath string) map[string]string {
	dir := path.Dir(relPath)
	if dir == "." {
		dir = ""
	}
	return map[string]string{
		"format":    detectFormat(relPath),
		"directory": dir,
	}
}

// detectFormat names the document markup based on the file extension.
func detectFormat(relPath string) string {
	switch strings.ToLower(filepath.Ext(relPath)) {
	case ".md", ".markdown":
		return "markdown"
	case ".rst":
		return "restructuredtext"
	case ".txt":
		return "text"
	case ".adoc":
		return "asciidoc"
	case ".html", ".htm":
		return "html"
	default:
		return "unknown"
	}
}

// keyedMutex serializes work per key. Entries are removed when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
