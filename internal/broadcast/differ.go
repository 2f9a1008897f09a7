package broadcast

import (
	"time"

	"github.com/podiumapp/podium-server/internal/domain"
)

// diff computes the minimal delta events between two consecutive top-N
// snapshots. Entered and left events describe membership changes; moved
// events describe position changes within the window. All events carry the
// new snapshot's generation.
func diff(prev, next domain.Snapshot) []Event {
	now := time.Now()

	prevRanks := make(map[string]int, len(prev.Entries))
	for i, e := range prev.Entries {
		prevRanks[e.UserID] = i + 1
	}

	var events []Event
	seen := make(map[string]struct{}, len(next.Entries))

	for i, e := range next.Entries {
		rank := i + 1
		seen[e.UserID] = struct{}{}

		oldRank, was := prevRanks[e.UserID]
		switch {
		case !was:
			events = append(events, Event{
				Type:       EventEntered,
				Generation: next.Generation,
				UserID:     e.UserID,
				Rank:       rank,
				Total:      e.Total,
				Timestamp:  now,
			})
		case oldRank != rank:
			events = append(events, Event{
				Type:       EventMoved,
				Generation: next.Generation,
				UserID:     e.UserID,
				Rank:       rank,
				OldRank:    oldRank,
				Total:      e.Total,
				Timestamp:  now,
			})
		}
	}

	for _, e := range prev.Entries {
		if _, ok := seen[e.UserID]; !ok {
			events = append(events, Event{
				Type:       EventLeft,
				Generation: next.Generation,
				UserID:     e.UserID,
				OldRank:    prevRanks[e.UserID],
				Timestamp:  now,
			})
		}
	}

	return events
}
