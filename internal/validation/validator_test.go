package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/podiumapp/podium-server/internal/errors"
)

type sampleRequest struct {
	DisplayName string  `json:"display_name" validate:"required,min=3,max=32"`
	ActionType  string  `json:"action_type"  validate:"required"`
	Difficulty  float64 `json:"difficulty"   validate:"gte=0"`
}

func TestValidatePasses(t *testing.T) {
	v := New()
	err := v.Validate(sampleRequest{DisplayName: "Alice", ActionType: "match_win", Difficulty: 1.5})
	assert.NoError(t, err)
}

func TestValidateReturnsDomainError(t *testing.T) {
	v := New()

	err := v.Validate(sampleRequest{DisplayName: "ab", Difficulty: -1})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)

	// Field names come from JSON tags, not Go field names.
	fields, ok := appErr.Details.(map[string]string)
	require.True(t, ok)
	assert.Contains(t, fields, "display_name")
	assert.Contains(t, fields, "action_type")
	assert.Contains(t, fields, "difficulty")
}
