package policy

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podiumapp/podium-server/internal/domain"
)

const minimalPolicyYAML = `
actions:
  match_win:
    base: 100
    min_delta: 0
    max_delta: 1000
    velocity_ceiling: 25
    min_duration: 30s
  objective:
    base: 25
    min_delta: 0
    max_delta: 250
    velocity_ceiling: 15
    min_duration: 2s
    successors: [match_win, objective]
difficulty: {min: 0.5, max: 3.0}
streak: {min: 1.0, max: 5.0}
risk:
  weights: {velocity: 4.0, sequence: 2.0, timing: 3.0, clamp: 1.0, rate_violation: 2.0}
  decay_factor: 0.5
  decay_period: 1m
  review_threshold: 4.0
  reject_threshold: 8.0
  strike_limit: 3
  ban_duration: 1h
  window: 1m
  recent_events: 32
rate_limit:
  user_cap: 5
  origin_cap: 60
  window: 1m
  cooldown_base: 1s
  cooldown_max: 1m
  violation_report_threshold: 3
ingest:
  clock_skew_tolerance: 2m
  nonce_ttl: 10m
`

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := writePolicy(t, minimalPolicyYAML)

	p, err := Load(path)
	require.NoError(t, err)

	rule, ok := p.Rule("match_win")
	require.True(t, ok)
	assert.EqualValues(t, 100, rule.Base)
	assert.Equal(t, 30*time.Second, rule.MinDuration.Std())

	assert.Equal(t, 5, p.RateLimit.UserCap)
	assert.Equal(t, 10*time.Minute, p.Ingest.NonceTTL.Std())
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writePolicy(t, "actions: [not, a, map")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse policy file")
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	bad := `
actions:
  match_win: {base: 100, min_delta: 500, max_delta: 100}
difficulty: {min: 0.5, max: 3.0}
streak: {min: 1.0, max: 5.0}
risk: {decay_factor: 0.5, strike_limit: 3, reject_threshold: 8.0}
rate_limit: {user_cap: 5, window: 1m}
`
	path := writePolicy(t, bad)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_delta")
}

func TestValidateCatchesBadDecay(t *testing.T) {
	p := Default()
	p.Risk.DecayFactor = 1.5
	require.Error(t, p.Validate())

	p.Risk.DecayFactor = 0
	require.Error(t, p.Validate())
}

func TestValidateCatchesInvertedThresholds(t *testing.T) {
	p := Default()
	p.Risk.ReviewThreshold = 9.0
	require.Error(t, p.Validate())
}

func TestValidateCatchesNegativeMinDelta(t *testing.T) {
	p := Default()
	rule := p.Actions["match_win"]
	rule.MinDelta = -50
	p.Actions["match_win"] = rule

	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_delta")
}

func TestValidateCatchesShortNonceTTL(t *testing.T) {
	p := Default()
	p.Ingest.NonceTTL = Duration(time.Second)
	require.Error(t, p.Validate())
}

func TestAllowsSuccessor(t *testing.T) {
	rule := ActionRule{}
	assert.True(t, rule.AllowsSuccessor("anything"), "empty list allows any successor")

	rule = ActionRule{Successors: []domain.ActionType{"match_win", "objective"}}
	assert.True(t, rule.AllowsSuccessor("objective"))
	assert.False(t, rule.AllowsSuccessor("daily_bonus"))
}

func TestMultiplierBoundsClamp(t *testing.T) {
	b := MultiplierBounds{Min: 0.5, Max: 3.0}

	v, clamped := b.Clamp(1.7)
	assert.Equal(t, 1.7, v)
	assert.False(t, clamped)

	v, clamped = b.Clamp(10.0)
	assert.Equal(t, 3.0, v)
	assert.True(t, clamped)

	v, clamped = b.Clamp(0.1)
	assert.Equal(t, 0.5, v)
	assert.True(t, clamped)
}

func TestManagerDefaultsWithoutFile(t *testing.T) {
	m, err := NewManager("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	p := m.Current()
	require.NotNil(t, p)
	_, ok := p.Rule("match_win")
	assert.True(t, ok)
}

func TestManagerRejectsMissingFile(t *testing.T) {
	_, err := NewManager(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
}

func TestManagerHotReload(t *testing.T) {
	path := writePolicy(t, minimalPolicyYAML)

	m, err := NewManager(path, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, m.Watch())

	updated := strings.Replace(minimalPolicyYAML, "user_cap: 5", "user_cap: 9", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		return m.Current().RateLimit.UserCap == 9
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerKeepsSnapshotOnBadReload(t *testing.T) {
	path := writePolicy(t, minimalPolicyYAML)

	m, err := NewManager(path, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, m.Watch())

	before := m.Current()
	require.NoError(t, os.WriteFile(path, []byte("actions: ["), 0o600))

	// The watcher sees the write but must keep serving the old snapshot.
	time.Sleep(200 * time.Millisecond)
	assert.Same(t, before, m.Current())
	assert.Equal(t, 5, m.Current().RateLimit.UserCap)
}
