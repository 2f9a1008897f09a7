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

func marshalSession(session *domain.Session) ([]byte, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}

func unmarshalSession(data []byte, dest *domain.Session) error {
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal session: %w", err)
	}
	return nil
}

var (
	// ErrSessionNotFound is returned when a session cannot be found.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when attempting to use an expired session.
	ErrSessionExpired = errors.New("session expired")
)

// CreateSession stores a session with its token and user index entries.
// All keys carry a badger TTL past the session expiry, so stale sessions
// clean themselves up without a janitor.
func (s *Store) CreateSession(_ context.Context, session *domain.Session) error {
	data, err := marshalSession(session)
	if err != nil {
		return err
	}

	ttl := time.Until(session.ExpiresAt) + time.Hour
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", session.ID)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(sessionPrefix+session.ID), data).WithTTL(ttl)
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		e = badger.NewEntry([]byte(sessionByTokenPrefix+session.TokenID), []byte(session.ID)).WithTTL(ttl)
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		e = badger.NewEntry([]byte(sessionByUserPrefix+session.UserID+":"+session.ID), nil).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

// GetSession retrieves a session by ID, rejecting expired ones.
func (s *Store) GetSession(_ context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	if err := s.get([]byte(sessionPrefix+id), &session); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	if session.IsExpired(time.Now()) {
		return nil, ErrSessionExpired
	}
	return &session, nil
}

// GetSessionByTokenID resolves a token ID to its session.
func (s *Store) GetSessionByTokenID(ctx context.Context, tokenID string) (*domain.Session, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionByTokenPrefix + tokenID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("lookup session by token: %w", err)
	}

	return s.GetSession(ctx, id)
}

// TouchSession updates the session's last-seen timestamp.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	session.Touch(at)

	data, err := marshalSession(session)
	if err != nil {
		return err
	}
	// Re-set with the remaining TTL so the touch doesn't strip expiry.
	ttl := time.Until(session.ExpiresAt) + time.Hour
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(sessionPrefix+session.ID), data).WithTTL(ttl))
	})
}

// DeleteSession removes a session and its index entries.
func (s *Store) DeleteSession(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		var session domain.Session
		err = item.Value(func(val []byte) error {
			return unmarshalSession(val, &session)
		})
		if err != nil {
			return err
		}

		if err := txn.Delete([]byte(sessionPrefix + id)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(sessionByTokenPrefix + session.TokenID)); err != nil {
			return err
		}
		return txn.Delete([]byte(sessionByUserPrefix + session.UserID + ":" + id))
	})
}

// DeleteUserSessions removes all sessions for a user. Used when an account
// is suspended so active tokens stop resolving.
func (s *Store) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	prefix := []byte(sessionByUserPrefix + userID + ":")

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			ids = append(ids, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("list user sessions: %w", err)
	}

	deleted := 0
	for _, id := range ids {
		if err := s.DeleteSession(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
