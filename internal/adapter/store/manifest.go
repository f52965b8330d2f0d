package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"localdocs/internal/domain"
)

// Manifest records which documents are indexed and with which content, so the
// indexer can skip unchanged files regardless of the vector backend.
type Manifest struct {
	db *bbolt.DB
}

func NewManifest(db *bbolt.DB) *Manifest {
	return &Manifest{db: db}
}

type docMeta struct {
	Path        string `json:"path"`
	AbsPath     string `json:"abs_path"`
	ModTime     int64  `json:"mod_time"`
	ContentHash string `json:"content_hash"`
	ChunkCount  int    `json:"chunk_count"`
}

func (m *Manifest) PutDocument(doc domain.Document) error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		meta := docMeta{
			Path:        doc.Path,
			AbsPath:     doc.AbsPath,
			ModTime:     doc.ModTime.Unix(),
			ContentHash: doc.ContentHash,
			ChunkCount:  doc.ChunkCount,
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDocuments).Put([]byte(doc.ID), data)
	})
}

func (m *Manifest) GetDocument(id string) (domain.Document, error) {
	var doc domain.Document
	err := m.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocuments).Get([]byte(id))
		if data == nil {
			return domain.NotFound("document not found: %s", id)
		}
		var meta docMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return err
		}
		doc = meta.toDocument(id)
		return nil
	})
	return doc, err
}

func (m *Manifest) DeleteDocument(id string) error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocuments).Delete([]byte(id))
	})
}

func (m *Manifest) ListDocuments() ([]domain.Document, error) {
	var docs []domain.Document
	err := m.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocuments).ForEach(func(k, v []byte) error {
			var meta docMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("corrupt manifest entry %s: %w", k, err)
			}
			docs = append(docs, meta.toDocument(string(k)))
			return nil
		})
	})
	return docs, err
}

// Stats summarizes the manifest.
func (m *Manifest) Stats() (domain.Stats, error) {
	docs, err := m.ListDocuments()
	if err != nil {
		return domain.Stats{}, err
	}

	stats := domain.Stats{TotalDocs: len(docs)}
	for _, d := range docs {
		stats.TotalChunks += d.ChunkCount
	}
	if stats.TotalDocs > 0 {
		stats.ChunksPerDoc = float64(stats.TotalChunks) / float64(stats.TotalDocs)
	}
	return stats, nil
}

func (meta docMeta) toDocument(id string) domain.Document {
	return domain.Document{
		ID:          id,
		Path:        meta.Path,
		AbsPath:     meta.AbsPath,
		ModTime:     time.Unix(meta.ModTime, 0),
		ContentHash: meta.ContentHash,
		ChunkCount:  meta.ChunkCount,
	}
}
