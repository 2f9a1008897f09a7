package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/podiumapp/podium-server/internal/http/response"
	"github.com/podiumapp/podium-server/internal/store"
)

// RiskProfileResponse exposes a user's anti-cheat state to operators.
// This never reaches regular clients.
type RiskProfileResponse struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	RiskScore   float64   `json:"risk_score"`
	StrikeCount int       `json:"strike_count"`
	BanUntil    time.Time `json:"ban_until,omitzero"`
	Suspended   bool      `json:"suspended"`
	RecentCount int       `json:"recent_event_count"`
	TotalScore  int64     `json:"total_score"`
}

// handleGetRiskProfile returns the risk state for a user.
// GET /api/v1/admin/risk/{userID}
func (s *Server) handleGetRiskProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

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

	profile := s.evaluator.Snapshot(userID)
	now := time.Now()

	// The evaluator only knows users seen since startup; persisted strike
	// and ban state on the account is authoritative across restarts.
	strikes := profile.StrikeCount
	banUntil := profile.BanUntil
	if account.StrikeCount > strikes {
		strikes = account.StrikeCount
	}
	if account.BanUntil.After(banUntil) {
		banUntil = account.BanUntil
	}

	response.Success(w, RiskProfileResponse{
		UserID:      account.ID,
		DisplayName: account.DisplayName,
		RiskScore:   profile.RiskScore,
		StrikeCount: strikes,
		BanUntil:    banUntil,
		Suspended:   account.IsSuspended(now) || now.Before(banUntil),
		RecentCount: profile.RecentCount,
		TotalScore:  account.TotalScore,
	}, s.logger)
}

// handleUnban lifts a suspension and resets the user's risk state.
// POST /api/v1/admin/unban/{userID}
func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	if _, err := s.store.GetAccount(ctx, userID); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			response.NotFound(w, "Account not found", s.logger)
			return
		}
		s.logger.Error("Failed to load account", "error", err, "user_id", userID)
		response.InternalError(w, "Failed to load account", s.logger)
		return
	}

	if err := s.store.SetBan(ctx, userID, time.Time{}, 0); err != nil {
		s.logger.Error("Failed to clear ban", "error", err, "user_id", userID)
		response.InternalError(w, "Failed to lift suspension", s.logger)
		return
	}

	s.evaluator.Clear(userID)

	s.logger.Info("Suspension lifted", "user_id", userID, "by", getUserID(ctx))

	response.Success(w, map[string]string{
		"message": "Suspension lifted",
	}, s.logger)
}
