// Package store persists small client-side snapshots (relay lists,
// profile data, library state) across restarts using Badger.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("store: key not found")

// KV is the minimal persistence surface the client needs. Values are
// JSON-encoded by the typed helpers built on top of it.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Remove(key string) error
	Close() error
}

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable Badger's internal logging
	opts.SyncWrites = true
	opts.CompactL0OnClose = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	logger.Info("snapshot store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// OpenInMemory opens an ephemeral database. Tests only.
func OpenInMemory(logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Get retrieves the raw value stored under key.
func (s *Store) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Set stores a raw value under key.
func (s *Store) Set(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Remove deletes a key. Removing an absent key is not an error.
func (s *Store) Remove(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Close gracefully closes the database.
func (s *Store) Close() error {
	if s.logger != nil {
		s.logger.Info("closing snapshot store")
	}
	return s.db.Close()
}

// getJSON retrieves and decodes a JSON value.
func getJSON(kv KV, key string, dest any) error {
	data, err := kv.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode stored value for %q: %w", key, err)
	}
	return nil
}

// setJSON encodes and stores a JSON value.
func setJSON(kv KV, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return kv.Set(key, data)
}
