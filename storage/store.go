// Package storage persists ledger snapshots in a BoltDB file so the daemon
// can restore share accounting across restarts.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"sharepool/native/pool"
)

var (
	bucketLedger = []byte("ledger")

	keyState = []byte("state")

	// ErrNoSnapshot is returned when no ledger state has been written yet.
	ErrNoSnapshot = errors.New("storage: no ledger snapshot recorded")
)

// Store wraps the Bolt database holding the ledger snapshot.
type Store struct {
	db *bolt.DB
}

// Open initialises (and migrates) the BoltDB-backed store at path.
func Open(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLedger)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveSnapshot overwrites the stored ledger state.
func (s *Store) SaveSnapshot(snap *pool.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("storage: nil snapshot")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("storage: encode snapshot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLedger).Put(keyState, payload)
	})
}

// LoadSnapshot reads the stored ledger state.
func (s *Store) LoadSnapshot() (*pool.Snapshot, error) {
	var snap *pool.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketLedger).Get(keyState)
		if raw == nil {
			return ErrNoSnapshot
		}
		decoded := &pool.Snapshot{}
		if err := json.Unmarshal(raw, decoded); err != nil {
			return fmt.Errorf("storage: decode snapshot: %w", err)
		}
		snap = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
