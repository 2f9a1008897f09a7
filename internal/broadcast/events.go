// Package broadcast turns ranking snapshots into delta events and fans them
// out to SSE subscribers under per-class delivery policies.
package broadcast

import "time"

// EventType identifies a ranking delta event.
type EventType string

const (
	// EventEntered fires when a user enters the top-N window.
	EventEntered EventType = "entered"
	// EventLeft fires when a user drops out of the top-N window.
	EventLeft EventType = "left"
	// EventMoved fires when a user changes position inside the window.
	EventMoved EventType = "moved"
	// EventSnapshot carries a full top-N window, sent on connect.
	EventSnapshot EventType = "snapshot"
	// EventHeartbeat keeps idle connections alive.
	EventHeartbeat EventType = "heartbeat"
)

// Event is one generation-stamped message delivered to subscribers.
type Event struct {
	Type       EventType `json:"type"`
	Generation uint64    `json:"generation"`
	UserID     string    `json:"user_id,omitempty"`
	Rank       int       `json:"rank,omitempty"`
	OldRank    int       `json:"old_rank,omitempty"`
	Total      int64     `json:"total,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() Event {
	return Event{Type: EventHeartbeat, Timestamp: time.Now()}
}
