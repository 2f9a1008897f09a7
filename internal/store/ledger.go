package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/podiumapp/podium-server/internal/domain"
)

// ErrNonceSeen is returned when a nonce has already been recorded.
var ErrNonceSeen = errors.New("nonce already used")

// ledgerKey builds a zero-padded key so lexicographic key order matches
// sequence order.
func ledgerKey(seq uint64) []byte {
	return fmt.Appendf(nil, "%s%020d", ledgerPrefix, seq)
}

// restoreSeq scans the last ledger key to recover the next sequence number.
func (s *Store) restoreSeq() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the last possible ledger key, then the first reverse hit
		// inside the prefix is the newest entry.
		it.Seek([]byte(ledgerPrefix + "~"))
		if !it.ValidForPrefix([]byte(ledgerPrefix)) {
			s.nextSeq = 1
			return nil
		}

		var seq uint64
		key := it.Item().Key()
		if _, err := fmt.Sscanf(string(key), ledgerPrefix+"%d", &seq); err != nil {
			return fmt.Errorf("malformed ledger key %q: %w", key, err)
		}
		s.nextSeq = seq + 1
		return nil
	})
}

// Append durably writes a ledger entry, assigning the next sequence number
// to entry.Seq. Entries are immutable once written.
func (s *Store) Append(_ context.Context, entry *domain.LedgerEntry) error {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	entry.Seq = s.nextSeq

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(ledgerKey(entry.Seq), data)
	})
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}

	s.nextSeq++
	return nil
}

// Replay streams all ledger entries in ascending sequence order.
func (s *Store) Replay(ctx context.Context, fn func(entry *domain.LedgerEntry) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(ledgerPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var entry domain.LedgerEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("decode ledger entry %q: %w", it.Item().Key(), err)
			}
			if err := fn(&entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkNonce records a used nonce with a TTL. Returns ErrNonceSeen if the
// nonce was already recorded, so replays are caught even across restarts
// while the in-memory registry is still warming up.
func (s *Store) MarkNonce(_ context.Context, userID, nonce string, ttl time.Duration) error {
	key := []byte(noncePrefix + userID + ":" + nonce)

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return ErrNonceSeen
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check nonce: %w", err)
		}

		e := badger.NewEntry(key, nil).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

// SeenNonce reports whether a nonce is currently recorded.
func (s *Store) SeenNonce(_ context.Context, userID, nonce string) (bool, error) {
	return s.exists([]byte(noncePrefix + userID + ":" + nonce))
}
