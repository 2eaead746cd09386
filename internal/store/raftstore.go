package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hashicorp/raft"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRaftLogs  = []byte("raft_logs")
	bucketRaftStore = []byte("raft_stable")

	errKeyNotFound = errors.New("not found")
)

// RaftStore implements raft.LogStore and raft.StableStore on top of a
// dedicated BoltDB file, following the same bucket-per-concern layout as
// Store but kept separate so the Raft log's write-heavy traffic never
// contends with the opaque KV store's bucket locks.
type RaftStore struct {
	db *bolt.DB
}

// OpenRaftStore opens (creating if necessary) the BoltDB file backing the
// Raft log and stable store at path.
func OpenRaftStore(path string) (*RaftStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open raft bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketRaftLogs, bucketRaftStore} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create raft buckets: %w", err)
	}
	return &RaftStore{db: db}, nil
}

// Close closes the underlying BoltDB.
func (r *RaftStore) Close() error {
	return r.db.Close()
}

func raftIndexKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

// FirstIndex returns the first known index in the log, or 0 if empty.
func (r *RaftStore) FirstIndex() (uint64, error) {
	var idx uint64
	err := r.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRaftLogs).Cursor()
		k, _ := c.First()
		if k != nil {
			idx = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return idx, err
}

// LastIndex returns the last known index in the log, or 0 if empty.
func (r *RaftStore) LastIndex() (uint64, error) {
	var idx uint64
	err := r.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRaftLogs).Cursor()
		k, _ := c.Last()
		if k != nil {
			idx = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return idx, err
}

// GetLog fills out log for the given index.
func (r *RaftStore) GetLog(index uint64, log *raft.Log) error {
	return r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRaftLogs).Get(raftIndexKey(index))
		if v == nil {
			return raft.ErrLogNotFound
		}
		return decodeRaftLog(v, log)
	})
}

// StoreLog stores a single raft log entry.
func (r *RaftStore) StoreLog(log *raft.Log) error {
	return r.StoreLogs([]*raft.Log{log})
}

// StoreLogs stores multiple raft log entries, atomically.
func (r *RaftStore) StoreLogs(logs []*raft.Log) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRaftLogs)
		for _, log := range logs {
			data, err := encodeRaftLog(log)
			if err != nil {
				return err
			}
			if err := b.Put(raftIndexKey(log.Index), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteRange deletes logs within [min, max] inclusive, used after
// snapshotting to truncate the log tail hashicorp/raft no longer needs.
func (r *RaftStore) DeleteRange(min, max uint64) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRaftLogs)
		c := b.Cursor()
		for k, _ := c.Seek(raftIndexKey(min)); k != nil; k, _ = c.Next() {
			idx := binary.BigEndian.Uint64(k)
			if idx > max {
				break
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Set stores a stable-store key-value pair.
func (r *RaftStore) Set(key, val []byte) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRaftStore).Put(key, val)
	})
}

// Get retrieves a stable-store value by key.
func (r *RaftStore) Get(key []byte) ([]byte, error) {
	var val []byte
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRaftStore).Get(key)
		if v == nil {
			return errKeyNotFound
		}
		val = make([]byte, len(v))
		copy(val, v)
		return nil
	})
	return val, err
}

// SetUint64 stores a uint64 under key, e.g. CurrentTerm.
func (r *RaftStore) SetUint64(key []byte, val uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, val)
	return r.Set(key, buf)
}

// GetUint64 retrieves a uint64 previously stored with SetUint64. Returns 0
// if the key has never been set, matching hashicorp/raft's expectation that
// an unset term/vote reads as zero.
func (r *RaftStore) GetUint64(key []byte) (uint64, error) {
	v, err := r.Get(key)
	if err != nil {
		if errors.Is(err, errKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

// encodeRaftLog serializes a raft.Log into a compact length-prefixed record:
// Index(8) Term(8) Type(1) DataLen(4) Data.
func encodeRaftLog(log *raft.Log) ([]byte, error) {
	buf := make([]byte, 8+8+1+4+len(log.Data))
	binary.BigEndian.PutUint64(buf[0:8], log.Index)
	binary.BigEndian.PutUint64(buf[8:16], log.Term)
	buf[16] = byte(log.Type)
	binary.BigEndian.PutUint32(buf[17:21], uint32(len(log.Data)))
	copy(buf[21:], log.Data)
	return buf, nil
}

func decodeRaftLog(data []byte, log *raft.Log) error {
	if len(data) < 21 {
		return fmt.Errorf("raft log record too short: %d bytes", len(data))
	}
	log.Index = binary.BigEndian.Uint64(data[0:8])
	log.Term = binary.BigEndian.Uint64(data[8:16])
	log.Type = raft.LogType(data[16])
	n := binary.BigEndian.Uint32(data[17:21])
	if int(21+n) > len(data) {
		return fmt.Errorf("raft log record truncated: want %d bytes of data, have %d", n, len(data)-21)
	}
	log.Data = append([]byte(nil), data[21:21+n]...)
	return nil
}
