package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"localdocs/internal/domain"
)

var (
	bucketCollections = []byte("collections")
	bucketDocuments   = []byte("documents")
	bucketMeta        = []byte("meta")
)

// Open opens (creating if needed) the bolt database at path. A read-only
// handle shares the file lock with other readers, so `serve` and `search`
// can run side by side; writers wait up to lockTimeout for the lock.
func Open(path string, readOnly bool, lockTimeout time.Duration) (*bbolt.DB, error) {
	if !readOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, domain.NotFound("no index found at %s, run 'localdocs index' first", path)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: lockTimeout, ReadOnly: readOnly})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, domain.StoreUnavailable("index database is locked by another process", err)
		}
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	if readOnly {
		return db, nil
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketCollections, bucketDocuments, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func pointsBucket(collection string) []byte {
	return []byte("points/" + collection)
}
