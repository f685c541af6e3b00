package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// BoltBackend implements Backend using BoltDB.
type BoltBackend struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) the session database at path.
func OpenBolt(path string) (*BoltBackend, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if strings.Contains(err.Error(), "timeout") {
			return nil, fmt.Errorf("session: database %s is already in use by another bridgera process: %w", path, err)
		}
		return nil, fmt.Errorf("session: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketState, BucketMirror, BucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: create buckets: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

// Load implements Backend.
func (b *BoltBackend) Load(bucket string) (map[string][]byte, error) {
	out := map[string][]byte{}
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", bucket, err)
	}
	return out, nil
}

// Apply implements Backend.
func (b *BoltBackend) Apply(batches map[string]Batch) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for name, batch := range batches {
			if batch.Reset {
				if err := tx.DeleteBucket([]byte(name)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
					return fmt.Errorf("session: reset %s: %w", name, err)
				}
			}
			bkt, err := tx.CreateBucketIfNotExists([]byte(name))
			if err != nil {
				return fmt.Errorf("session: bucket %s: %w", name, err)
			}
			for key, value := range batch.Puts {
				if value == nil {
					continue
				}
				if err := bkt.Put([]byte(key), value); err != nil {
					return fmt.Errorf("session: put %s/%s: %w", name, key, err)
				}
			}
			for _, key := range batch.Deletes {
				if err := bkt.Delete([]byte(key)); err != nil {
					return fmt.Errorf("session: delete %s/%s: %w", name, key, err)
				}
			}
		}
		return nil
	})
}

// Close closes the BoltDB file.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
