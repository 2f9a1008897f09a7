package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podiumapp/podium-server/internal/policy"
)

type staticPolicies struct{ p *policy.Policy }

func (s staticPolicies) Current() *policy.Policy { return s.p }

func testPolicy() *policy.Policy {
	p := policy.Default()
	p.RateLimit = policy.RateLimitPolicy{
		UserCap:                  3,
		OriginCap:                5,
		Window:                   policy.Duration(time.Minute),
		CooldownBase:             policy.Duration(time.Second),
		CooldownMax:              policy.Duration(8 * time.Second),
		ViolationReportThreshold: 2,
	}
	return p
}

func setupLimiter(t *testing.T) *Limiter {
	t.Helper()
	l := New(staticPolicies{p: testPolicy()})
	t.Cleanup(l.Stop)
	return l
}

func TestAllowUserWithinCap(t *testing.T) {
	l := setupLimiter(t)
	now := time.Now()

	for i := range 3 {
		v := l.AllowUser("usr_1", now.Add(time.Duration(i)*time.Second))
		assert.True(t, v.Allowed, "request %d should pass", i)
		assert.Zero(t, v.RetryAfter)
	}

	v := l.AllowUser("usr_1", now.Add(3*time.Second))
	assert.False(t, v.Allowed)
	assert.Positive(t, v.RetryAfter)
}

func TestWindowSlides(t *testing.T) {
	l := setupLimiter(t)
	now := time.Now()

	for i := range 3 {
		require.True(t, l.AllowUser("usr_1", now.Add(time.Duration(i)*time.Second)).Allowed)
	}
	require.False(t, l.AllowUser("usr_1", now.Add(3*time.Second)).Allowed)

	// Once the earliest admission leaves the trailing window (and the
	// violation cooldown has elapsed), admission resumes.
	v := l.AllowUser("usr_1", now.Add(61*time.Second))
	assert.True(t, v.Allowed)
}

func TestCooldownEscalates(t *testing.T) {
	l := setupLimiter(t)
	now := time.Now()

	for range 3 {
		require.True(t, l.AllowUser("usr_1", now).Allowed)
	}

	// First violation starts the base cooldown.
	v := l.AllowUser("usr_1", now)
	require.False(t, v.Allowed)

	// Hammering inside the cooldown doubles it each time, up to the cap.
	v = l.AllowUser("usr_1", now.Add(100*time.Millisecond))
	require.False(t, v.Allowed)
	assert.GreaterOrEqual(t, v.RetryAfter, 2*time.Second)

	v = l.AllowUser("usr_1", now.Add(200*time.Millisecond))
	require.False(t, v.Allowed)
	assert.GreaterOrEqual(t, v.RetryAfter, 4*time.Second)
}

func TestCooldownCappedAtMax(t *testing.T) {
	l := setupLimiter(t)
	now := time.Now()

	for range 3 {
		require.True(t, l.AllowUser("usr_1", now).Allowed)
	}

	var v Verdict
	for i := range 10 {
		v = l.AllowUser("usr_1", now.Add(time.Duration(i)*time.Millisecond))
		require.False(t, v.Allowed)
	}

	// CooldownMax is 8s; RetryAfter never escalates past it.
	assert.LessOrEqual(t, v.RetryAfter, time.Minute)
	assert.Equal(t, 10, l.Violations("usr_1"))
}

func TestViolationsReportedAtThreshold(t *testing.T) {
	l := setupLimiter(t)
	now := time.Now()

	for range 3 {
		require.True(t, l.AllowUser("usr_1", now).Allowed)
	}

	v := l.AllowUser("usr_1", now)
	require.False(t, v.Allowed)
	assert.False(t, v.ReportRisk, "first violation stays below the report threshold")

	v = l.AllowUser("usr_1", now)
	require.False(t, v.Allowed)
	assert.True(t, v.ReportRisk)
}

func TestUserKeysIndependent(t *testing.T) {
	l := setupLimiter(t)
	now := time.Now()

	for range 3 {
		require.True(t, l.AllowUser("usr_1", now).Allowed)
	}
	require.False(t, l.AllowUser("usr_1", now).Allowed)

	assert.True(t, l.AllowUser("usr_2", now).Allowed)
}

func TestOriginCapSeparateFromUserCap(t *testing.T) {
	l := setupLimiter(t)
	now := time.Now()

	// Exhaust the user cap under one key; the same string as an origin key
	// runs against the larger origin cap.
	for range 3 {
		require.True(t, l.AllowUser("10.0.0.1", now).Allowed)
	}
	require.False(t, l.AllowUser("10.0.0.1", now).Allowed)

	for i := range 5 {
		v := l.AllowOrigin("10.0.0.1", now)
		assert.True(t, v.Allowed, "origin request %d should pass", i)
	}
	assert.False(t, l.AllowOrigin("10.0.0.1", now).Allowed)
}

type swappablePolicies struct {
	mu sync.RWMutex
	p  *policy.Policy
}

func (s *swappablePolicies) Current() *policy.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p
}

func (s *swappablePolicies) swap(p *policy.Policy) {
	s.mu.Lock()
	s.p = p
	s.mu.Unlock()
}

func TestCapRaisedByReloadIsEnforced(t *testing.T) {
	initial := testPolicy()
	initial.RateLimit.UserCap = 2
	src := &swappablePolicies{p: initial}
	l := New(src)
	t.Cleanup(l.Stop)
	now := time.Now()

	// Fill the ring at the original cap without tripping a violation.
	require.True(t, l.AllowUser("usr_1", now).Allowed)
	require.True(t, l.AllowUser("usr_1", now.Add(time.Second)).Allowed)

	raised := testPolicy()
	raised.RateLimit.UserCap = 4
	src.swap(raised)

	// The key's existing window must grow to the new cap: two more
	// in-window admissions, then denial at exactly four.
	assert.True(t, l.AllowUser("usr_1", now.Add(2*time.Second)).Allowed)
	assert.True(t, l.AllowUser("usr_1", now.Add(3*time.Second)).Allowed)
	assert.False(t, l.AllowUser("usr_1", now.Add(4*time.Second)).Allowed)
}

func TestCapLoweredByReloadIsEnforced(t *testing.T) {
	initial := testPolicy()
	initial.RateLimit.UserCap = 4
	src := &swappablePolicies{p: initial}
	l := New(src)
	t.Cleanup(l.Stop)
	now := time.Now()

	for i := range 3 {
		require.True(t, l.AllowUser("usr_1", now.Add(time.Duration(i)*time.Second)).Allowed)
	}

	lowered := testPolicy()
	lowered.RateLimit.UserCap = 2
	src.swap(lowered)

	// The newest stamps survive the shrink, so the lowered cap denies
	// immediately.
	assert.False(t, l.AllowUser("usr_1", now.Add(3*time.Second)).Allowed)
}

func TestCleanupDropsIdleWindows(t *testing.T) {
	l := setupLimiter(t)
	now := time.Now()

	require.True(t, l.AllowUser("usr_1", now).Allowed)

	l.cleanup(now.Add(10 * time.Minute))

	l.mu.RLock()
	_, exists := l.windows["u:usr_1"]
	l.mu.RUnlock()
	assert.False(t, exists)
}

func TestKeyedAllowBurst(t *testing.T) {
	krl := NewKeyed(1, 2)
	t.Cleanup(krl.Stop)

	assert.True(t, krl.Allow("10.0.0.1"))
	assert.True(t, krl.Allow("10.0.0.1"))
	assert.False(t, krl.Allow("10.0.0.1"))

	// Independent buckets per key.
	assert.True(t, krl.Allow("10.0.0.2"))
}
