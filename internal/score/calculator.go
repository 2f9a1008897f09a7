// Package score computes authoritative score deltas for validated actions.
// The calculator is pure: identical inputs always produce identical deltas,
// and nothing client-supplied is ever trusted as a score.
package score

import (
	"math"

	"github.com/podiumapp/podium-server/internal/domain"
	"github.com/podiumapp/podium-server/internal/errors"
	"github.com/podiumapp/podium-server/internal/policy"
)

// Result is the outcome of a delta computation.
type Result struct {
	Delta int64
	// Clamped is true when any bound kicked in (multiplier out of range or
	// delta outside [MinDelta, MaxDelta]). Clamping never fails the action,
	// but it is reported to the anti-cheat evaluator as a risk signal.
	Clamped bool
}

// Calculator turns (actionType, params) into a bounded score delta using the
// active policy's action table.
type Calculator struct {
	policies interface{ Current() *policy.Policy }
}

// NewCalculator creates a calculator reading rules from the policy manager.
func NewCalculator(policies interface{ Current() *policy.Policy }) *Calculator {
	return &Calculator{policies: policies}
}

// Calculate computes the delta for an action.
// Returns ValidationError for unknown action types; out-of-range inputs
// clamp rather than error.
func (c *Calculator) Calculate(actionType domain.ActionType, params domain.ActionParams) (Result, error) {
	pol := c.policies.Current()

	rule, ok := pol.Rule(actionType)
	if !ok {
		return Result{}, errors.Validationf("unknown action type %q", actionType)
	}

	return compute(rule, pol.Difficulty, pol.Streak, params), nil
}

// compute is the policy-explicit core, separated so tests can exercise it
// without a manager.
func compute(rule policy.ActionRule, difficulty, streak policy.MultiplierBounds, params domain.ActionParams) Result {
	var clamped bool

	diff, c := difficulty.Clamp(params.Difficulty)
	clamped = clamped || c

	str, c := streak.Clamp(streakMultiplier(params.Streak))
	clamped = clamped || c

	raw := float64(rule.Base) * diff * str

	// Guard against float overflow before converting back to int64.
	delta := int64(math.Round(raw))
	if raw >= float64(math.MaxInt64) {
		delta = math.MaxInt64
	}

	if delta < rule.MinDelta {
		delta = rule.MinDelta
		clamped = true
	}
	if delta > rule.MaxDelta {
		delta = rule.MaxDelta
		clamped = true
	}

	return Result{Delta: delta, Clamped: clamped}
}

// streakMultiplier maps a consecutive-success count to a multiplier.
// Streak 0 and 1 are neutral; each further step adds 10%.
func streakMultiplier(streak int) float64 {
	if streak <= 1 {
		return 1.0
	}
	return 1.0 + 0.1*float64(streak-1)
}
