// Package anticheat maintains per-user risk state and turns behavioral
// signals into accept / review / reject / ban decisions.
//
// Risk is an accumulator: each flagged evaluation adds its configured weight,
// and the score decays exponentially toward zero while the user behaves.
// Decisions are made against the policy's T1/T2 thresholds, and repeated
// rejections convert into a timed suspension.
package anticheat

import (
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/podiumapp/podium-server/internal/domain"
	"github.com/podiumapp/podium-server/internal/policy"
)

// FlagKind identifies a suspicious-behavior signal.
type FlagKind string

const (
	// FlagVelocity fires when trailing-window score velocity exceeds the
	// action's ceiling.
	FlagVelocity FlagKind = "velocity"
	// FlagSequence fires when the action does not follow its predecessor in
	// the allowed-successor table.
	FlagSequence FlagKind = "sequence"
	// FlagTiming fires when the action arrives faster than its minimum
	// plausible duration.
	FlagTiming FlagKind = "timing"
	// FlagClamp is the score calculator's out-of-range signal.
	FlagClamp FlagKind = "clamp"
	// FlagRateViolation is the rate limiter's sustained-abuse signal.
	FlagRateViolation FlagKind = "rate_violation"
)

// Flag is one weighted signal raised during an evaluation.
type Flag struct {
	Kind   FlagKind `json:"kind"`
	Weight float64  `json:"weight"`
}

// Outcome is the evaluator's verdict for a candidate action.
type Outcome string

const (
	// OutcomeAccept admits the action.
	OutcomeAccept Outcome = "accept"
	// OutcomeReview admits the action but attaches a review marker.
	OutcomeReview Outcome = "review"
	// OutcomeReject blocks the action and adds a strike.
	OutcomeReject Outcome = "reject"
	// OutcomeBan blocks the action and starts a suspension.
	OutcomeBan Outcome = "ban"
)

// Decision is the result of evaluating one candidate action.
// ReasonCode is for internal audit logs only and must never reach clients.
type Decision struct {
	Outcome    Outcome
	RiskScore  float64
	Flags      []Flag
	ReasonCode string
	Strikes    int
	BanUntil   time.Time
}

// Input carries the signals for one candidate action.
type Input struct {
	ActionType   domain.ActionType
	Delta        int64
	Clamped      bool
	RateViolated bool
	Now          time.Time
}

// event is one accepted action remembered in a profile's ring buffer.
type event struct {
	at         time.Time
	delta      int64
	actionType domain.ActionType
}

// profile is the per-user risk state. Mutated only through Evaluate and
// RecordAccepted, both called under the ingest gate's per-user lock; the
// evaluator's own mutex covers concurrent admin reads.
type profile struct {
	risk     float64
	lastEval time.Time

	strikes  int
	banUntil time.Time

	// ring of recent accepted events, newest last.
	events []event
	head   int
	count  int

	lastAction     domain.ActionType
	lastAcceptedAt time.Time
}

// Evaluator owns all risk profiles.
type Evaluator struct {
	mu       sync.RWMutex
	profiles map[string]*profile
	policies interface{ Current() *policy.Policy }
	logger   *slog.Logger
}

// NewEvaluator creates an evaluator reading thresholds and weights from the
// policy manager.
func NewEvaluator(policies interface{ Current() *policy.Policy }, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		profiles: make(map[string]*profile),
		policies: policies,
		logger:   logger,
	}
}

// Evaluate scores a candidate action and returns the decision.
// The action itself is NOT recorded; call RecordAccepted after the ledger
// commit succeeds so rejected or failed actions never distort the history.
func (e *Evaluator) Evaluate(userID string, in Input) Decision {
	p := e.policies.Current().Risk

	e.mu.Lock()
	defer e.mu.Unlock()

	prof := e.profile(userID, p)

	// Expired suspension: strikes reset, risk keeps decaying from its
	// current value.
	if !prof.banUntil.IsZero() && !in.Now.Before(prof.banUntil) {
		prof.strikes = 0
		prof.banUntil = time.Time{}
	}

	prof.decay(p, in.Now)
	prof.lastEval = in.Now

	flags := e.collectFlags(prof, p, in)
	for _, f := range flags {
		prof.risk += f.Weight
	}

	d := Decision{
		RiskScore:  prof.risk,
		Flags:      flags,
		ReasonCode: reasonCode(flags),
		Strikes:    prof.strikes,
	}

	switch {
	case prof.risk < p.ReviewThreshold:
		d.Outcome = OutcomeAccept
	case prof.risk < p.RejectThreshold:
		d.Outcome = OutcomeReview
	default:
		prof.strikes++
		d.Strikes = prof.strikes
		d.Outcome = OutcomeReject

		if prof.strikes >= p.StrikeLimit {
			prof.banUntil = in.Now.Add(p.BanDuration.Std())
			d.Outcome = OutcomeBan
			d.BanUntil = prof.banUntil
		}
	}

	if d.Outcome != OutcomeAccept {
		e.logger.Info("anticheat decision",
			slog.String("user_id", userID),
			slog.String("outcome", string(d.Outcome)),
			slog.String("reason", d.ReasonCode),
			slog.Float64("risk", prof.risk),
			slog.Int("strikes", prof.strikes))
	}

	return d
}

// RecordAccepted appends a committed action to the user's history.
func (e *Evaluator) RecordAccepted(userID string, actionType domain.ActionType, delta int64, now time.Time) {
	p := e.policies.Current().Risk

	e.mu.Lock()
	defer e.mu.Unlock()

	prof := e.profile(userID, p)
	prof.push(event{at: now, delta: delta, actionType: actionType})
	prof.lastAction = actionType
	prof.lastAcceptedAt = now
}

// ReportViolation feeds a rate-limiter abuse signal into the user's risk
// score outside a full evaluation (the action never reached the calculator).
func (e *Evaluator) ReportViolation(userID string, now time.Time) {
	p := e.policies.Current().Risk

	e.mu.Lock()
	defer e.mu.Unlock()

	prof := e.profile(userID, p)
	prof.decay(p, now)
	prof.lastEval = now
	prof.risk += p.Weights.RateViolation
}

// Profile is an exported snapshot of a user's risk state for admin audit.
type Profile struct {
	UserID      string    `json:"user_id"`
	RiskScore   float64   `json:"risk_score"`
	StrikeCount int       `json:"strike_count"`
	BanUntil    time.Time `json:"ban_until,omitzero"`
	RecentCount int       `json:"recent_event_count"`
}

// Snapshot returns a copy of the user's current risk state.
func (e *Evaluator) Snapshot(userID string) Profile {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := Profile{UserID: userID}
	if prof, ok := e.profiles[userID]; ok {
		out.RiskScore = prof.risk
		out.StrikeCount = prof.strikes
		out.BanUntil = prof.banUntil
		out.RecentCount = prof.count
	}
	return out
}

// Clear resets a user's risk state (admin unban).
func (e *Evaluator) Clear(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.profiles, userID)
}

// profile returns the user's profile, creating it if needed.
// Caller must hold e.mu.
func (e *Evaluator) profile(userID string, p policy.RiskPolicy) *profile {
	prof, ok := e.profiles[userID]
	if !ok {
		size := p.RecentEvents
		if size <= 0 {
			size = 32
		}
		prof = &profile{events: make([]event, size)}
		e.profiles[userID] = prof
	}
	return prof
}

// collectFlags runs the behavioral checks in order: velocity, sequence,
// timing, then the externally supplied clamp and rate signals.
func (e *Evaluator) collectFlags(prof *profile, p policy.RiskPolicy, in Input) []Flag {
	var flags []Flag

	rule, haveRule := e.policies.Current().Rule(in.ActionType)

	if haveRule && rule.VelocityCeiling > 0 {
		windowStart := in.Now.Add(-p.Window.Std())
		sum := in.Delta
		for i := range prof.count {
			ev := prof.events[(prof.head+i)%len(prof.events)]
			if !ev.at.Before(windowStart) {
				sum += ev.delta
			}
		}
		velocity := float64(sum) / p.Window.Std().Seconds()
		if velocity > rule.VelocityCeiling {
			flags = append(flags, Flag{Kind: FlagVelocity, Weight: p.Weights.Velocity})
		}
	}

	if prof.lastAction != "" {
		if prevRule, ok := e.policies.Current().Rule(prof.lastAction); ok {
			if !prevRule.AllowsSuccessor(in.ActionType) {
				flags = append(flags, Flag{Kind: FlagSequence, Weight: p.Weights.Sequence})
			}
		}
	}

	if haveRule && !prof.lastAcceptedAt.IsZero() {
		if in.Now.Sub(prof.lastAcceptedAt) < rule.MinDuration.Std() {
			flags = append(flags, Flag{Kind: FlagTiming, Weight: p.Weights.Timing})
		}
	}

	if in.Clamped {
		flags = append(flags, Flag{Kind: FlagClamp, Weight: p.Weights.Clamp})
	}
	if in.RateViolated {
		flags = append(flags, Flag{Kind: FlagRateViolation, Weight: p.Weights.RateViolation})
	}

	return flags
}

// decay applies exponential decay for the time elapsed since the last
// evaluation: risk *= factor^(elapsed/period).
func (prof *profile) decay(p policy.RiskPolicy, now time.Time) {
	if prof.lastEval.IsZero() || prof.risk == 0 {
		return
	}
	elapsed := now.Sub(prof.lastEval)
	if elapsed <= 0 {
		return
	}
	periods := elapsed.Seconds() / p.DecayPeriod.Std().Seconds()
	prof.risk *= math.Pow(p.DecayFactor, periods)

	// Below the noise floor, snap to zero.
	if prof.risk < 1e-6 {
		prof.risk = 0
	}
}

// push appends an event, overwriting the oldest when full.
func (prof *profile) push(ev event) {
	if len(prof.events) == 0 {
		return
	}
	idx := (prof.head + prof.count) % len(prof.events)
	if prof.count == len(prof.events) {
		idx = prof.head
		prof.head = (prof.head + 1) % len(prof.events)
	} else {
		prof.count++
	}
	prof.events[idx] = ev
}

// reasonCode builds the internal audit code for a decision.
func reasonCode(flags []Flag) string {
	if len(flags) == 0 {
		return "clean"
	}
	kinds := make([]string, len(flags))
	for i, f := range flags {
		kinds[i] = string(f.Kind)
	}
	return strings.Join(kinds, "+")
}
