// Package domain defines the core entities of the Podium ranking service.
package domain

import "time"

// Account represents a participant in the ranking.
//
// TotalScore is derived state: it only changes when a ledger entry with an
// accepted outcome is committed, and is rebuilt from the ledger on cold start.
// Ban state is persisted here so suspensions survive restarts.
type Account struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	IsRoot      bool      `json:"is_root"`

	// SigningKey is the per-account secret used to MAC action requests.
	// Stored hashed-equivalent secrecy is not required (server-side only),
	// but it is filtered from all API responses.
	SigningKey string `json:"signing_key,omitempty"`

	TotalScore  int64     `json:"total_score"`
	StrikeCount int       `json:"strike_count"`
	BanUntil    time.Time `json:"ban_until,omitzero"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastLoginAt time.Time `json:"last_login_at,omitzero"`
}

// IsSuspended reports whether the account is under an active ban.
func (a *Account) IsSuspended(now time.Time) bool {
	return !a.BanUntil.IsZero() && now.Before(a.BanUntil)
}

// Sanitized returns a copy safe to return to clients (no signing key).
func (a *Account) Sanitized() *Account {
	out := *a
	out.SigningKey = ""
	return &out
}
