package domain

// RankEntry is one row of the ranking: a user and their authoritative total.
type RankEntry struct {
	UserID string `json:"user_id"`
	Total  int64  `json:"total"`
}

// Less reports whether e ranks strictly ahead of other.
// Ordering is total descending, then userId ascending for a deterministic
// tie-break.
func (e RankEntry) Less(other RankEntry) bool {
	if e.Total != other.Total {
		return e.Total > other.Total
	}
	return e.UserID < other.UserID
}

// Snapshot is an immutable view of the top-N window at a specific generation.
// Entries are ordered best-first. The generation counter increases on every
// committed mutation that changes the window, so snapshots totally order
// broadcast events.
type Snapshot struct {
	Generation   uint64      `json:"generation"`
	Entries      []RankEntry `json:"entries"`
	Participants int         `json:"participants"`
}
