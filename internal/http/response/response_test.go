package response

import (
	"encoding/json/v2"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/podiumapp/podium-server/internal/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJSONSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	JSON(w, http.StatusOK, map[string]string{"message": "test"}, discardLogger())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	var envelope Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
	assert.NotNil(t, envelope.Data)
}

func TestHandleErrorDomainCodes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"auth", apperrors.Auth("bad token"), http.StatusUnauthorized, "AUTH_ERROR"},
		{"integrity", apperrors.Integrity("replay"), http.StatusBadRequest, "INTEGRITY_ERROR"},
		{"anomaly", apperrors.Anomaly("rejected"), http.StatusUnprocessableEntity, "ANOMALY_REJECTED"},
		{"suspended", apperrors.Suspended("banned"), http.StatusForbidden, "SUSPENDED"},
		{"transient", apperrors.Transient("ledger down"), http.StatusServiceUnavailable, "TRANSIENT_ERROR"},
		{"not found", apperrors.NotFound("missing"), http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleError(w, tt.err, discardLogger())

			assert.Equal(t, tt.wantStatus, w.Code)

			var envelope Envelope
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
			assert.False(t, envelope.Success)
			assert.Equal(t, tt.wantCode, envelope.Code)
		})
	}
}

func TestHandleErrorUnknownBecomes500(t *testing.T) {
	w := httptest.NewRecorder()
	HandleError(w, assert.AnError, discardLogger())
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleErrorRateLimitedSetsRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()

	err := apperrors.RateLimited("slow down").
		WithDetails(map[string]any{"retry_after_ms": int64(2500)})
	HandleError(w, err, discardLogger())

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3", w.Header().Get("Retry-After"))
}
