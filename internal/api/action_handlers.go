package api

import (
	"encoding/json/v2"
	"net/http"
	"time"

	"github.com/podiumapp/podium-server/internal/domain"
	"github.com/podiumapp/podium-server/internal/http/response"
)

// ActionParamsBody carries the client-declared score modifiers.
type ActionParamsBody struct {
	Difficulty float64 `json:"difficulty" validate:"gte=0"`
	Streak     int     `json:"streak" validate:"gte=0"`
}

// SubmitActionRequest is the request body for action submission.
type SubmitActionRequest struct {
	ActionType      string           `json:"action_type" validate:"required,max=64"`
	Params          ActionParamsBody `json:"action_params"`
	ClientTimestamp time.Time        `json:"client_timestamp" validate:"required"`
	Nonce           string           `json:"nonce" validate:"required,min=8,max=64"`
	Signature       string           `json:"signature" validate:"required,hexadecimal,len=64"`
}

// handleSubmitAction runs a signed action through the admission pipeline.
// POST /api/v1/actions
func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := getUserID(ctx)

	var req SubmitActionRequest
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	if err := s.validator.Validate(req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	// The user ID comes from the session, never from the body: a client
	// cannot submit actions on behalf of another account.
	action := &domain.ActionRequest{
		UserID:     userID,
		ActionType: domain.ActionType(req.ActionType),
		Params: domain.ActionParams{
			Difficulty: req.Params.Difficulty,
			Streak:     req.Params.Streak,
		},
		ClientTimestamp: req.ClientTimestamp,
		Nonce:           req.Nonce,
		Signature:       req.Signature,
	}

	result, err := s.gate.Submit(ctx, action, getClientIP(r))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, result, s.logger)
}
