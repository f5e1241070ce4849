// Package bolt is a single-file StateStore backed by bbolt, the default for
// single-node deployments.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/alfredjeanlab/eventpoll/internal/model"
	"github.com/alfredjeanlab/eventpoll/internal/store"
)

const (
	// DefaultPath is used when no path is configured.
	DefaultPath = "eventpoll.db"

	// DefaultTimeout bounds how long Open waits for the file lock.
	DefaultTimeout = 1 * time.Second
)

var stateBucket = []byte("poller_state")

// Store implements store.StateStore.
type Store struct {
	db *bolt.DB
}

var _ store.StateStore = (*Store)(nil)

// Open opens (creating if needed) the database file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: DefaultTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetCursor(_ context.Context) (model.Cursor, error) {
	var c model.Cursor
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(stateBucket).Get([]byte(store.KeyCursor))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return model.Cursor{}, &store.StorageError{Op: "get cursor", Err: err}
	}
	return c, nil
}

func (s *Store) SetCursor(_ context.Context, c model.Cursor) error {
	data, err := json.Marshal(c)
	if err != nil {
		return &store.StorageError{Op: "set cursor", Err: err}
	}
	if err := s.put(store.KeyCursor, data); err != nil {
		return &store.StorageError{Op: "set cursor", Err: err}
	}
	return nil
}

func (s *Store) GetNextWake(_ context.Context) (time.Time, bool, error) {
	var (
		t  time.Time
		ok bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(stateBucket).Get([]byte(store.KeyNextWake))
		if data == nil {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, string(data))
		if err != nil {
			return err
		}
		t, ok = parsed, true
		return nil
	})
	if err != nil {
		return time.Time{}, false, &store.StorageError{Op: "get next wake", Err: err}
	}
	return t, ok, nil
}

func (s *Store) SetNextWake(_ context.Context, t time.Time) error {
	if err := s.put(store.KeyNextWake, []byte(t.UTC().Format(time.RFC3339Nano))); err != nil {
		return &store.StorageError{Op: "set next wake", Err: err}
	}
	return nil
}

// Clear drops and recreates the state bucket.
func (s *Store) Clear(_ context.Context) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(stateBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(stateBucket)
		return err
	})
	if err != nil {
		return &store.StorageError{Op: "clear", Err: err}
	}
	return nil
}

func (s *Store) put(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Put([]byte(key), value)
	})
}
