package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/podiumapp/podium-server/internal/domain"
)

var (
	// ErrAccountNotFound is returned when an account cannot be found by ID or name.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned when attempting to create an account with an existing ID.
	ErrAccountExists = errors.New("account already exists")
	// ErrNameExists is returned when a display name is already taken.
	ErrNameExists = errors.New("display name already in use")
)

// normalizeName lowercases and trims a display name for index lookups so
// names are unique case-insensitively.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CreateAccount creates a new account and its display-name index entry.
func (s *Store) CreateAccount(_ context.Context, account *domain.Account) error {
	key := []byte(accountPrefix + account.ID)

	exists, err := s.exists(key)
	if err != nil {
		return fmt.Errorf("check account exists: %w", err)
	}
	if exists {
		return ErrAccountExists
	}

	nameKey := []byte(accountByNamePrefix + normalizeName(account.DisplayName))

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(nameKey)
		if err == nil {
			return ErrNameExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check name exists: %w", err)
		}

		data, err := json.Marshal(account)
		if err != nil {
			return fmt.Errorf("marshal account: %w", err)
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(nameKey, []byte(account.ID))
	})
}

// GetAccount retrieves an account by ID.
func (s *Store) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	var account domain.Account
	if err := s.get([]byte(accountPrefix+id), &account); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &account, nil
}

// GetAccountByName retrieves an account by display name.
func (s *Store) GetAccountByName(ctx context.Context, name string) (*domain.Account, error) {
	nameKey := []byte(accountByNamePrefix + normalizeName(name))

	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nameKey)
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
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lookup account by name: %w", err)
	}

	return s.GetAccount(ctx, id)
}

// UpdateAccount persists changes to an existing account. The display name is
// immutable, so no index maintenance is needed.
func (s *Store) UpdateAccount(_ context.Context, account *domain.Account) error {
	key := []byte(accountPrefix + account.ID)

	exists, err := s.exists(key)
	if err != nil {
		return fmt.Errorf("check account exists: %w", err)
	}
	if !exists {
		return ErrAccountNotFound
	}

	account.UpdatedAt = time.Now().UTC()
	return s.set(key, account)
}

// TouchLastLogin records a successful login.
func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	account.LastLoginAt = at
	return s.UpdateAccount(ctx, account)
}

// SetBan persists suspension state so bans survive restarts. A zero until
// clears the ban.
func (s *Store) SetBan(ctx context.Context, id string, until time.Time, strikes int) error {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	account.BanUntil = until
	account.StrikeCount = strikes
	return s.UpdateAccount(ctx, account)
}

// SetTotalScore mirrors the authoritative ledger total onto the account
// record for display purposes.
func (s *Store) SetTotalScore(ctx context.Context, id string, total int64) error {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	account.TotalScore = total
	return s.UpdateAccount(ctx, account)
}
