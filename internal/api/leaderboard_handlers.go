package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/podiumapp/podium-server/internal/http/response"
	"github.com/podiumapp/podium-server/internal/ranking"
	"github.com/podiumapp/podium-server/internal/store"
)

const (
	defaultLeaderboardSize = 10
	defaultAroundRadius    = 2
	maxAroundRadius        = 50
)

// LeaderboardResponse is a point-in-time view of the top of the ranking.
type LeaderboardResponse struct {
	Generation   uint64                `json:"generation"`
	Entries      []ranking.RankedEntry `json:"entries"`
	Participants int                   `json:"participants"`
}

// handleLeaderboard returns the top-k entries with the current generation.
// GET /api/v1/leaderboard?k=
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	k := parsePositiveInt(r.URL.Query().Get("k"), defaultLeaderboardSize)

	// A single snapshot keeps generation and entries consistent; TopN on a
	// live engine could race a concurrent commit.
	snap := s.engine.Snapshot()
	if k > len(snap.Entries) {
		k = len(snap.Entries)
	}

	entries := make([]ranking.RankedEntry, 0, k)
	for i := 0; i < k; i++ {
		entries = append(entries, ranking.RankedEntry{
			Rank:   i + 1,
			UserID: snap.Entries[i].UserID,
			Total:  snap.Entries[i].Total,
		})
	}

	response.Success(w, LeaderboardResponse{
		Generation:   snap.Generation,
		Entries:      entries,
		Participants: snap.Participants,
	}, s.logger)
}

// handleLeaderboardAround returns the caller's neighborhood in the ranking.
// GET /api/v1/leaderboard/around?k=
func (s *Server) handleLeaderboardAround(w http.ResponseWriter, r *http.Request) {
	userID := getUserID(r.Context())

	radius := parsePositiveInt(r.URL.Query().Get("k"), defaultAroundRadius)
	if radius > maxAroundRadius {
		radius = maxAroundRadius
	}

	entries, ok := s.engine.Around(userID, radius)
	if !ok {
		response.NotFound(w, "No ranked entry for user", s.logger)
		return
	}

	response.Success(w, map[string]any{
		"entries": entries,
	}, s.logger)
}

// MeResponse is the authenticated account plus its live rank.
type MeResponse struct {
	User         any   `json:"user"`
	Rank         int   `json:"rank,omitempty"`
	Total        int64 `json:"total"`
	Participants int   `json:"participants"`
}

// handleGetCurrentUser returns the caller's account and current rank.
// GET /api/v1/users/me
func (s *Server) handleGetCurrentUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := getUserID(ctx)

	account, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			response.NotFound(w, "Account not found", s.logger)
			return
		}
		s.logger.Error("Failed to load account", "error", err, "user_id", userID)
		response.InternalError(w, "Failed to load account", s.logger)
		return
	}

	resp := MeResponse{
		User:         account.Sanitized(),
		Participants: s.engine.Participants(),
	}
	if entry, ok := s.engine.Rank(userID); ok {
		resp.Rank = entry.Rank
		resp.Total = entry.Total
	}

	response.Success(w, resp, s.logger)
}

// parsePositiveInt parses a query parameter, falling back to def for
// missing, malformed, or non-positive values.
func parsePositiveInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
