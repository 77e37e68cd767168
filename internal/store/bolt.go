// ABOUTME: BoltDB implementation of the permanent tier using go.etcd.io/bbolt
// ABOUTME: Keeps every named blob in a single bucket of one database file

package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var permanentBucket = []byte("permanent")

// BoltStore implements PermanentTier on a BoltDB file
type BoltStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

// NewBoltStore opens (or creates) the BoltDB file at path
func NewBoltStore(path string) (*BoltStore, error) {
	logger := slog.Default().With("component", "store", "tier", "permanent")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(permanentBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	logger.Info("bolt store initialized", "path", path)
	return &BoltStore{db: db, logger: logger}, nil
}

// Get returns a copy of the blob stored under key
func (s *BoltStore) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(permanentBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// bolt values are only valid inside the transaction
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put stores value under key
func (s *BoltStore) Put(_ context.Context, key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(permanentBucket).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}
	return nil
}

// Delete removes key
func (s *BoltStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(permanentBucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	return nil
}

// Close closes the database file
func (s *BoltStore) Close() error {
	return s.db.Close()
}
