package domain

import "time"

// LedgerOutcome records how an action was resolved when its entry was written.
type LedgerOutcome string

const (
	// OutcomeAccepted marks an entry that changed the user's total.
	OutcomeAccepted LedgerOutcome = "accepted"
	// OutcomePending marks an entry whose ranking apply step has not been
	// confirmed; pending entries are reconciled on cold-start rebuild.
	OutcomePending LedgerOutcome = "pending"
)

// LedgerEntry is an immutable, append-only record of a committed action.
// The ledger is the source of truth for totals; the in-memory ranking is a
// derived cache rebuilt from it on startup.
type LedgerEntry struct {
	Seq             uint64        `json:"seq"`
	UserID          string        `json:"user_id"`
	ActionType      ActionType    `json:"action_type"`
	Delta           int64         `json:"delta"`
	ResultingTotal  int64         `json:"resulting_total"`
	ServerTimestamp time.Time     `json:"server_timestamp"`
	Nonce           string        `json:"nonce"`
	Outcome         LedgerOutcome `json:"outcome"`
}
