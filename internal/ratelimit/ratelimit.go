// Package ratelimit provides admission control for the action pipeline.
//
// The domain limiter is a keyed sliding-window counter: each key keeps a
// bounded circular buffer of admission timestamps, and a request is admitted
// only while the count inside the trailing window is below the cap. Repeat
// violations escalate a doubling cooldown, and sustained abuse is surfaced to
// the anti-cheat evaluator as a risk signal.
package ratelimit

import (
	"sync"
	"time"

	"github.com/podiumapp/podium-server/internal/policy"
)

// Verdict is the outcome of an admission check.
type Verdict struct {
	Allowed bool
	// RetryAfter is how long the caller should wait before retrying.
	// Zero when Allowed.
	RetryAfter time.Duration
	// ReportRisk is true when the key's violation count crossed the policy
	// threshold and should be fed to the anti-cheat evaluator.
	ReportRisk bool
}

// window tracks one key's admission history and penalty state.
type window struct {
	// stamps is a circular buffer sized to the cap; only timestamps inside
	// the trailing window count toward admission.
	stamps []time.Time
	head   int
	count  int

	violations    int
	cooldown      time.Duration
	cooldownUntil time.Time
	lastViolation time.Time
}

// Limiter is a keyed sliding-window rate limiter.
// Each unique key gets its own independent window.
type Limiter struct {
	mu       sync.RWMutex
	windows  map[string]*window
	policies interface{ Current() *policy.Policy }

	// Cleanup
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a limiter reading caps and windows from the policy manager.
func New(policies interface{ Current() *policy.Policy }) *Limiter {
	l := &Limiter{
		windows:  make(map[string]*window),
		policies: policies,
		done:     make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// AllowUser checks admission for a user key against the per-user cap.
func (l *Limiter) AllowUser(userID string, now time.Time) Verdict {
	p := l.policies.Current().RateLimit
	return l.allow("u:"+userID, p.UserCap, p, now)
}

// AllowOrigin checks admission for an origin key (client IP) against the
// per-origin cap.
func (l *Limiter) AllowOrigin(origin string, now time.Time) Verdict {
	p := l.policies.Current().RateLimit
	return l.allow("o:"+origin, p.OriginCap, p, now)
}

func (l *Limiter) allow(key string, capacity int, p policy.RateLimitPolicy, now time.Time) Verdict {
	w := l.getWindow(key, capacity)

	l.mu.Lock()
	defer l.mu.Unlock()

	// A policy reload can change the cap after this key's ring was sized;
	// a stale ring would either saturate below the new cap or never fill.
	if len(w.stamps) != capacity {
		w.resize(capacity)
	}

	// Enforced cooldown from earlier violations comes first: admission is
	// not retried until it elapses.
	if now.Before(w.cooldownUntil) {
		return l.violate(w, p, now, w.cooldownUntil.Sub(now))
	}

	windowStart := now.Add(-p.Window.Std())
	inWindow := w.countSince(windowStart)

	if inWindow >= capacity {
		// Retry once the oldest in-window stamp slides out.
		retry := w.oldestSince(windowStart).Add(p.Window.Std()).Sub(now)
		return l.violate(w, p, now, retry)
	}

	w.record(now)
	return Verdict{Allowed: true}
}

// violate increments the violation counter and escalates the cooldown.
// Each additional violation inside the cooldown period doubles the next
// enforced cooldown, capped at the policy maximum.
func (l *Limiter) violate(w *window, p policy.RateLimitPolicy, now time.Time, retry time.Duration) Verdict {
	if w.cooldown == 0 || now.Sub(w.lastViolation) > w.cooldown*2 {
		// Fresh violation streak.
		w.cooldown = p.CooldownBase.Std()
	} else {
		w.cooldown *= 2
		if w.cooldown > p.CooldownMax.Std() {
			w.cooldown = p.CooldownMax.Std()
		}
	}

	w.violations++
	w.lastViolation = now
	w.cooldownUntil = now.Add(w.cooldown)

	if w.cooldown > retry {
		retry = w.cooldown
	}

	return Verdict{
		Allowed:    false,
		RetryAfter: retry,
		ReportRisk: w.violations >= p.ViolationReportThreshold,
	}
}

// getWindow returns the window for a key, creating one if needed.
func (l *Limiter) getWindow(key string, capacity int) *window {
	// Fast path: read lock
	l.mu.RLock()
	w, exists := l.windows[key]
	l.mu.RUnlock()

	if exists {
		return w
	}

	// Slow path: write lock to create
	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if w, exists = l.windows[key]; exists {
		return w
	}

	w = &window{stamps: make([]time.Time, capacity)}
	l.windows[key] = w
	return w
}

// Violations returns the current violation count for a user key.
func (l *Limiter) Violations(userID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if w, ok := l.windows["u:"+userID]; ok {
		return w.violations
	}
	return 0
}

// Stop shuts down the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
}

// cleanupLoop drops windows that have been idle for several policy windows,
// bounding memory under key churn.
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup(time.Now())
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) cleanup(now time.Time) {
	horizon := 5 * l.policies.Current().RateLimit.Window.Std()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		newest := w.newest()
		if newest.IsZero() && w.lastViolation.IsZero() {
			delete(l.windows, key)
			continue
		}
		if w.lastViolation.After(newest) {
			newest = w.lastViolation
		}
		if now.Sub(newest) > horizon {
			delete(l.windows, key)
		}
	}
}

// resize rebuilds the ring at a new capacity, keeping the newest stamps in
// order. Caller holds the limiter lock.
func (w *window) resize(capacity int) {
	stamps := make([]time.Time, capacity)
	n := w.count
	if n > capacity {
		// Drop the oldest stamps.
		w.head = (w.head + (n - capacity)) % len(w.stamps)
		n = capacity
	}
	for i := range n {
		stamps[i] = w.stamps[(w.head+i)%len(w.stamps)]
	}
	w.stamps = stamps
	w.head = 0
	w.count = n
}

// record appends a timestamp, overwriting the oldest slot when full.
func (w *window) record(t time.Time) {
	if len(w.stamps) == 0 {
		return
	}
	idx := (w.head + w.count) % len(w.stamps)
	if w.count == len(w.stamps) {
		// Buffer full: overwrite the oldest and advance head.
		idx = w.head
		w.head = (w.head + 1) % len(w.stamps)
	} else {
		w.count++
	}
	w.stamps[idx] = t
}

// countSince counts stamps at or after cutoff.
func (w *window) countSince(cutoff time.Time) int {
	n := 0
	for i := range w.count {
		if !w.stamps[(w.head+i)%len(w.stamps)].Before(cutoff) {
			n++
		}
	}
	return n
}

// oldestSince returns the earliest stamp at or after cutoff.
func (w *window) oldestSince(cutoff time.Time) time.Time {
	var oldest time.Time
	for i := range w.count {
		t := w.stamps[(w.head+i)%len(w.stamps)]
		if t.Before(cutoff) {
			continue
		}
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	return oldest
}

// newest returns the most recent stamp, or zero when empty.
func (w *window) newest() time.Time {
	var newest time.Time
	for i := range w.count {
		t := w.stamps[(w.head+i)%len(w.stamps)]
		if t.After(newest) {
			newest = t
		}
	}
	return newest
}
