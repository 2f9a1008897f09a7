package domain

import "time"

// ActionType identifies a score-affecting action. The set of valid types and
// their scoring parameters live in the policy file, not in code.
type ActionType string

// ActionParams carries the client-declared modifiers for an action.
// Both values are clamped server-side to policy bounds; nothing here is
// trusted as a score.
type ActionParams struct {
	// Difficulty is the declared difficulty-tier multiplier.
	Difficulty float64 `json:"difficulty"`
	// Streak is the declared consecutive-success count.
	Streak int `json:"streak"`
}

// ActionRequest is a client-submitted, score-affecting action.
// It is transient: validated, scored, and discarded. Only the resulting
// ledger entry is persisted.
type ActionRequest struct {
	UserID          string       `json:"-"` // from the authenticated session, never the body
	ActionType      ActionType   `json:"action_type"`
	Params          ActionParams `json:"action_params"`
	ClientTimestamp time.Time    `json:"client_timestamp"`
	Nonce           string       `json:"nonce"`
	Signature       string       `json:"signature"`
}
