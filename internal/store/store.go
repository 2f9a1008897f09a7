// Package store persists accounts, sessions, and the score ledger in Badger.
package store

import (
	"encoding/json/v2"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes. Index keys map a secondary value to a primary ID.
const (
	accountPrefix        = "account:"
	accountByNamePrefix  = "idx:accounts:name:"
	sessionPrefix        = "session:"
	sessionByUserPrefix  = "idx:sessions:user:"
	sessionByTokenPrefix = "idx:sessions:token:"
	ledgerPrefix         = "ledger:"
	noncePrefix          = "nonce:"
)

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	// seqMu guards nextSeq, the next ledger sequence number. Restored from
	// the highest persisted entry on open.
	seqMu   sync.Mutex
	nextSeq uint64
}

// New opens (or creates) the database at path.
func New(path string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil      // Disable Badger's internal logging
	opts.SyncWrites = true // The ledger is the source of truth; never lose acknowledged writes
	opts.CompactL0OnClose = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.restoreSeq(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("restore ledger sequence: %w", err)
	}

	if logger != nil {
		logger.Info("Badger database opened", "path", path, "next_seq", s.nextSeq)
	}

	return s, nil
}

// Close gracefully closes the database connection.
func (s *Store) Close() error {
	if s.logger != nil {
		s.logger.Info("Closing database connection")
	}
	return s.db.Close()
}

// Helper methods for database operations.

// get retrieves a value by key.
func (s *Store) get(key []byte, dest any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, dest)
		})
	})
}

// set stores a value by key.
func (s *Store) set(key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// delete removes a key from the database.
func (s *Store) delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// exists checks if a key exists.
func (s *Store) exists(key []byte) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
