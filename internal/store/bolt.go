// Package store wraps BoltDB as the naming registry's opaque embedded
// key-value store (config_db_dir) and as the backing log/stable store for
// Raft.
package store

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketUserDo    = []byte("user_do")
	bucketSnapshots = []byte("snapshots")
	bucketSettings  = []byte("settings")
)

// Store wraps a BoltDB database opened at config_db_dir. It holds records
// that are not themselves part of the Raft-replicated state machine: user
// accounts (UserDo), snapshot checkpoints, and process settings.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a BoltDB database at the given path and ensures
// all required buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketUserDo, bucketSnapshots, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutUser stores a marshaled UserDo record keyed by username.
func (s *Store) PutUser(username string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUserDo).Put([]byte(username), data)
	})
}

// GetUser returns the marshaled UserDo record for username, or nil if absent.
func (s *Store) GetUser(username string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketUserDo).Get([]byte(username))
		if v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	return data, err
}

// DeleteUser removes the UserDo record for username.
func (s *Store) DeleteUser(username string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUserDo).Delete([]byte(username))
	})
}

// ListUsers returns all stored usernames.
func (s *Store) ListUsers() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUserDo).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

// SaveSnapshot stores a Raft snapshot checkpoint blob under the given id.
func (s *Store) SaveSnapshot(id string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(id), data)
	})
}

// GetSnapshot loads a snapshot checkpoint blob by id.
func (s *Store) GetSnapshot(id string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSnapshots).Get([]byte(id))
		if v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	return data, err
}

// SaveSetting stores a setting key-value pair.
func (s *Store) SaveSetting(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(key), []byte(value))
	})
}

// LoadSetting loads a setting by key. Returns empty string if absent.
func (s *Store) LoadSetting(key string) (string, error) {
	var val string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSettings).Get([]byte(key))
		if v != nil {
			val = string(v)
		}
		return nil
	})
	return val, err
}
