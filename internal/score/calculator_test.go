package score

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podiumapp/podium-server/internal/domain"
	apperrors "github.com/podiumapp/podium-server/internal/errors"
	"github.com/podiumapp/podium-server/internal/policy"
)

type staticPolicies struct{ p *policy.Policy }

func (s staticPolicies) Current() *policy.Policy { return s.p }

func setupCalculator(t *testing.T) *Calculator {
	t.Helper()
	return NewCalculator(staticPolicies{p: policy.Default()})
}

func TestCalculateBase(t *testing.T) {
	c := setupCalculator(t)

	res, err := c.Calculate("match_win", domain.ActionParams{Difficulty: 1.0, Streak: 1})
	require.NoError(t, err)

	assert.EqualValues(t, 100, res.Delta)
	assert.False(t, res.Clamped)
}

func TestCalculateDeterministic(t *testing.T) {
	c := setupCalculator(t)
	params := domain.ActionParams{Difficulty: 1.7, Streak: 4}

	first, err := c.Calculate("objective", params)
	require.NoError(t, err)

	for range 10 {
		again, err := c.Calculate("objective", params)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCalculateDifficultyMultiplier(t *testing.T) {
	c := setupCalculator(t)

	res, err := c.Calculate("match_win", domain.ActionParams{Difficulty: 2.0, Streak: 1})
	require.NoError(t, err)

	assert.EqualValues(t, 200, res.Delta)
	assert.False(t, res.Clamped)
}

func TestCalculateDifficultyClamped(t *testing.T) {
	c := setupCalculator(t)

	// Difficulty caps at 3.0; a claimed 10x is clamped, not rejected.
	res, err := c.Calculate("match_win", domain.ActionParams{Difficulty: 10.0, Streak: 1})
	require.NoError(t, err)

	assert.EqualValues(t, 300, res.Delta)
	assert.True(t, res.Clamped)
}

func TestCalculateStreakMultiplier(t *testing.T) {
	c := setupCalculator(t)

	// Streak 3 adds 20% on top of the base.
	res, err := c.Calculate("match_win", domain.ActionParams{Difficulty: 1.0, Streak: 3})
	require.NoError(t, err)

	assert.EqualValues(t, 120, res.Delta)
	assert.False(t, res.Clamped)
}

func TestCalculateStreakClampedAtMax(t *testing.T) {
	c := setupCalculator(t)

	// A streak of 100 maps to a 10.9x multiplier, clamped to 5.0.
	res, err := c.Calculate("match_win", domain.ActionParams{Difficulty: 1.0, Streak: 100})
	require.NoError(t, err)

	assert.EqualValues(t, 500, res.Delta)
	assert.True(t, res.Clamped)
}

func TestCalculateMaxDeltaClamp(t *testing.T) {
	c := setupCalculator(t)

	// daily_bonus has base 50 and max_delta 50, so any multiplier above
	// neutral clamps to the cap.
	res, err := c.Calculate("daily_bonus", domain.ActionParams{Difficulty: 3.0, Streak: 1})
	require.NoError(t, err)

	assert.EqualValues(t, 50, res.Delta)
	assert.True(t, res.Clamped)
}

func TestCalculateBelowNeutralDifficulty(t *testing.T) {
	c := setupCalculator(t)

	res, err := c.Calculate("match_win", domain.ActionParams{Difficulty: 0.5, Streak: 1})
	require.NoError(t, err)

	assert.EqualValues(t, 50, res.Delta)
	assert.False(t, res.Clamped)
}

func TestCalculateUnknownActionType(t *testing.T) {
	c := setupCalculator(t)

	_, err := c.Calculate("teleport_hack", domain.ActionParams{Difficulty: 1.0})
	require.Error(t, err)

	var domainErr *apperrors.Error
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, apperrors.CodeValidation, domainErr.Code)
}

func TestStreakMultiplierNeutralFloor(t *testing.T) {
	assert.Equal(t, 1.0, streakMultiplier(0))
	assert.Equal(t, 1.0, streakMultiplier(1))
	assert.InDelta(t, 1.1, streakMultiplier(2), 1e-9)
}
