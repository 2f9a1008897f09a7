package api

import (
	"crypto/subtle"
	"encoding/json/v2"
	"errors"
	"net/http"
	"time"

	"github.com/podiumapp/podium-server/internal/auth"
	"github.com/podiumapp/podium-server/internal/domain"
	apperrors "github.com/podiumapp/podium-server/internal/errors"
	"github.com/podiumapp/podium-server/internal/http/response"
	"github.com/podiumapp/podium-server/internal/id"
	"github.com/podiumapp/podium-server/internal/store"
)

// RegisterRequest is the request body for account registration.
type RegisterRequest struct {
	DisplayName string `json:"display_name" validate:"required,min=3,max=32"`
}

// RegisterResponse returns the created account and its signing key.
// The signing key is returned exactly once; it never appears in any
// other response.
type RegisterResponse struct {
	User       *domain.Account `json:"user"`
	SigningKey string          `json:"signing_key"`
}

// LoginRequest is the request body for login. The signing key doubles as
// the account credential: whoever holds it can both sign actions and
// obtain tokens.
type LoginRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=32"`
	SigningKey  string `json:"signing_key" validate:"required,hexadecimal,len=64"`
}

// AuthResponse contains the access token and user info.
type AuthResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresIn   int             `json:"expires_in"`
	SessionID   string          `json:"session_id"`
	User        *domain.Account `json:"user"`
}

// handleRegister creates a new account with a server-generated signing key.
// POST /api/v1/auth/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RegisterRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	if err := s.validator.Validate(req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	signingKey, err := auth.GenerateSigningKey()
	if err != nil {
		s.logger.Error("Failed to generate signing key", "error", err)
		response.InternalError(w, "Failed to create account", s.logger)
		return
	}

	userID, err := id.Generate("user")
	if err != nil {
		s.logger.Error("Failed to generate user ID", "error", err)
		response.InternalError(w, "Failed to create account", s.logger)
		return
	}

	now := time.Now()
	account := &domain.Account{
		ID:          userID,
		DisplayName: req.DisplayName,
		SigningKey:  signingKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrNameExists) {
			response.HandleError(w, apperrors.AlreadyExists("display name already in use"), s.logger)
			return
		}
		s.logger.Error("Failed to create account", "error", err)
		response.InternalError(w, "Failed to create account", s.logger)
		return
	}

	s.logger.Info("Account registered", "user_id", account.ID, "display_name", account.DisplayName)

	response.Created(w, RegisterResponse{
		User:       account.Sanitized(),
		SigningKey: signingKey,
	}, s.logger)
}

// handleLogin exchanges a display name plus signing key for an access token.
// POST /api/v1/auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	if err := s.validator.Validate(req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	account, err := s.store.GetAccountByName(ctx, req.DisplayName)
	if err != nil {
		// Same message as a key mismatch so login failures don't reveal
		// which display names exist.
		response.Unauthorized(w, "Invalid credentials", s.logger)
		return
	}

	if subtle.ConstantTimeCompare([]byte(account.SigningKey), []byte(req.SigningKey)) != 1 {
		response.Unauthorized(w, "Invalid credentials", s.logger)
		return
	}

	token, tokenID, err := s.tokens.GenerateAccessToken(account)
	if err != nil {
		s.logger.Error("Failed to generate access token", "error", err, "user_id", account.ID)
		response.InternalError(w, "Failed to log in", s.logger)
		return
	}

	sessionID, err := id.Generate("session")
	if err != nil {
		s.logger.Error("Failed to generate session ID", "error", err)
		response.InternalError(w, "Failed to log in", s.logger)
		return
	}

	now := time.Now()
	session := &domain.Session{
		ID:         sessionID,
		UserID:     account.ID,
		TokenID:    tokenID,
		ExpiresAt:  now.Add(s.tokens.AccessTokenDuration()),
		CreatedAt:  now,
		LastSeenAt: now,
		IPAddress:  getClientIP(r),
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		s.logger.Error("Failed to create session", "error", err, "user_id", account.ID)
		response.InternalError(w, "Failed to log in", s.logger)
		return
	}

	if err := s.store.TouchLastLogin(ctx, account.ID, now); err != nil {
		s.logger.Warn("Failed to record login time", "error", err, "user_id", account.ID)
	}

	s.logger.Info("User logged in", "user_id", account.ID, "session_id", session.ID)

	response.Success(w, AuthResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.tokens.AccessTokenDuration().Seconds()),
		SessionID:   session.ID,
		User:        account.Sanitized(),
	}, s.logger)
}
