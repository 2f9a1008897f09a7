package domain

import "time"

// Session tracks an authenticated client of a user account.
// The action pipeline only consumes "is this session valid"; the broadcast
// layer uses sessions to scope subscriber streams.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	TokenID    string    `json:"token_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	IPAddress  string    `json:"ip_address,omitempty"`
}

// IsExpired reports whether the session is past its expiry.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Touch updates the last-seen timestamp.
func (s *Session) Touch(at time.Time) {
	s.LastSeenAt = at
}
