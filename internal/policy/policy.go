// Package policy holds the tunable rules of the scoring pipeline: the action
// table, multiplier bounds, risk weights, thresholds, and admission caps.
// Everything here is data loaded from a YAML file so operators can retune
// detection without redeploying logic.
package policy

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/podiumapp/podium-server/internal/domain"
)

// Duration wraps time.Duration so policy files can use "30s" / "5m" notation.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ActionRule defines scoring and plausibility parameters for one action type.
type ActionRule struct {
	// Base is the server-side base score for the action.
	Base int64 `yaml:"base"`
	// MinDelta and MaxDelta clamp the computed delta.
	MinDelta int64 `yaml:"min_delta"`
	MaxDelta int64 `yaml:"max_delta"`
	// VelocityCeiling is the maximum plausible score-per-second over the
	// trailing risk window before a velocity flag is raised.
	VelocityCeiling float64 `yaml:"velocity_ceiling"`
	// MinDuration is the minimum plausible elapsed time since the user's
	// previous accepted action.
	MinDuration Duration `yaml:"min_duration"`
	// Successors lists action types allowed to follow this one. Empty means
	// any successor is allowed.
	Successors []domain.ActionType `yaml:"successors"`
}

// AllowsSuccessor reports whether next may follow this action.
func (r ActionRule) AllowsSuccessor(next domain.ActionType) bool {
	if len(r.Successors) == 0 {
		return true
	}
	for _, s := range r.Successors {
		if s == next {
			return true
		}
	}
	return false
}

// MultiplierBounds clamps a client-declared multiplier into [Min, Max].
type MultiplierBounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Clamp bounds v and reports whether clamping occurred.
func (b MultiplierBounds) Clamp(v float64) (float64, bool) {
	if v < b.Min {
		return b.Min, true
	}
	if v > b.Max {
		return b.Max, true
	}
	return v, false
}

// RiskWeights maps each flag kind to its riskScore contribution.
type RiskWeights struct {
	Velocity      float64 `yaml:"velocity"`
	Sequence      float64 `yaml:"sequence"`
	Timing        float64 `yaml:"timing"`
	Clamp         float64 `yaml:"clamp"`
	RateViolation float64 `yaml:"rate_violation"`
}

// RiskPolicy configures the anti-cheat evaluator.
type RiskPolicy struct {
	Weights RiskWeights `yaml:"weights"`

	// DecayFactor is applied once per DecayPeriod of inactivity:
	// risk *= DecayFactor^(elapsed/DecayPeriod).
	DecayFactor float64  `yaml:"decay_factor"`
	DecayPeriod Duration `yaml:"decay_period"`

	// ReviewThreshold (T1) attaches a review marker; RejectThreshold (T2)
	// rejects the action and adds a strike.
	ReviewThreshold float64 `yaml:"review_threshold"`
	RejectThreshold float64 `yaml:"reject_threshold"`

	// StrikeLimit strikes convert into a ban of BanDuration.
	StrikeLimit int      `yaml:"strike_limit"`
	BanDuration Duration `yaml:"ban_duration"`

	// Window is the trailing interval used for velocity evaluation and the
	// retention horizon for recent-event ring buffers.
	Window       Duration `yaml:"window"`
	RecentEvents int      `yaml:"recent_events"`
}

// RateLimitPolicy configures sliding-window admission control.
type RateLimitPolicy struct {
	UserCap   int      `yaml:"user_cap"`
	OriginCap int      `yaml:"origin_cap"`
	Window    Duration `yaml:"window"`

	// CooldownBase doubles per repeat violation, capped at CooldownMax.
	CooldownBase Duration `yaml:"cooldown_base"`
	CooldownMax  Duration `yaml:"cooldown_max"`

	// ViolationReportThreshold is the violation count at which the limiter
	// starts reporting a risk signal to the anti-cheat evaluator.
	ViolationReportThreshold int `yaml:"violation_report_threshold"`
}

// IngestPolicy configures replay and ordering checks.
type IngestPolicy struct {
	// ClockSkewTolerance bounds how far a client timestamp may lag the last
	// accepted one. Nonces are remembered for at least this long.
	ClockSkewTolerance Duration `yaml:"clock_skew_tolerance"`
	// NonceTTL is how long used nonces stay in the recent-nonce set.
	NonceTTL Duration `yaml:"nonce_ttl"`
}

// Policy is a complete, immutable policy snapshot. Callers get the current
// snapshot from a Manager; a snapshot never mutates after load.
type Policy struct {
	Actions    map[domain.ActionType]ActionRule `yaml:"actions"`
	Difficulty MultiplierBounds                 `yaml:"difficulty"`
	Streak     MultiplierBounds                 `yaml:"streak"`
	Risk       RiskPolicy                       `yaml:"risk"`
	RateLimit  RateLimitPolicy                  `yaml:"rate_limit"`
	Ingest     IngestPolicy                     `yaml:"ingest"`
}

// Rule returns the rule for an action type, if known.
func (p *Policy) Rule(t domain.ActionType) (ActionRule, bool) {
	r, ok := p.Actions[t]
	return r, ok
}

// Validate checks structural sanity of a loaded policy.
func (p *Policy) Validate() error {
	if len(p.Actions) == 0 {
		return fmt.Errorf("policy defines no actions")
	}
	for t, r := range p.Actions {
		if r.MinDelta < 0 {
			// A negative floor would let a commit drag a total below zero.
			return fmt.Errorf("action %q: min_delta %d is negative", t, r.MinDelta)
		}
		if r.MinDelta > r.MaxDelta {
			return fmt.Errorf("action %q: min_delta %d > max_delta %d", t, r.MinDelta, r.MaxDelta)
		}
	}
	if p.Difficulty.Min > p.Difficulty.Max {
		return fmt.Errorf("difficulty bounds inverted")
	}
	if p.Streak.Min > p.Streak.Max {
		return fmt.Errorf("streak bounds inverted")
	}
	if p.Risk.DecayFactor <= 0 || p.Risk.DecayFactor > 1 {
		return fmt.Errorf("risk decay_factor must be in (0, 1], got %v", p.Risk.DecayFactor)
	}
	if p.Risk.ReviewThreshold > p.Risk.RejectThreshold {
		return fmt.Errorf("review_threshold %v exceeds reject_threshold %v",
			p.Risk.ReviewThreshold, p.Risk.RejectThreshold)
	}
	if p.Risk.StrikeLimit <= 0 {
		return fmt.Errorf("strike_limit must be positive")
	}
	if p.RateLimit.UserCap <= 0 || p.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit cap and window must be positive")
	}
	if p.Ingest.NonceTTL < p.Ingest.ClockSkewTolerance {
		return fmt.Errorf("nonce_ttl %v shorter than clock_skew_tolerance %v",
			p.Ingest.NonceTTL.Std(), p.Ingest.ClockSkewTolerance.Std())
	}
	return nil
}

// Default returns the built-in policy used when no file is configured.
// Values match the documented defaults in config/policy.yaml.
func Default() *Policy {
	return &Policy{
		Actions: map[domain.ActionType]ActionRule{
			"match_win": {
				Base: 100, MinDelta: 0, MaxDelta: 1000,
				VelocityCeiling: 25, MinDuration: Duration(30 * time.Second),
			},
			"match_loss": {
				Base: 10, MinDelta: 0, MaxDelta: 50,
				VelocityCeiling: 5, MinDuration: Duration(30 * time.Second),
			},
			"objective": {
				Base: 25, MinDelta: 0, MaxDelta: 250,
				VelocityCeiling: 15, MinDuration: Duration(2 * time.Second),
			},
			"daily_bonus": {
				Base: 50, MinDelta: 0, MaxDelta: 50,
				VelocityCeiling: 1, MinDuration: Duration(time.Hour),
			},
		},
		Difficulty: MultiplierBounds{Min: 0.5, Max: 3.0},
		Streak:     MultiplierBounds{Min: 1.0, Max: 5.0},
		Risk: RiskPolicy{
			Weights: RiskWeights{
				Velocity:      4.0,
				Sequence:      2.0,
				Timing:        3.0,
				Clamp:         1.0,
				RateViolation: 2.0,
			},
			DecayFactor:     0.5,
			DecayPeriod:     Duration(time.Minute),
			ReviewThreshold: 4.0,
			RejectThreshold: 8.0,
			StrikeLimit:     3,
			BanDuration:     Duration(time.Hour),
			Window:          Duration(time.Minute),
			RecentEvents:    32,
		},
		RateLimit: RateLimitPolicy{
			UserCap:                  5,
			OriginCap:                60,
			Window:                   Duration(time.Minute),
			CooldownBase:             Duration(time.Second),
			CooldownMax:              Duration(time.Minute),
			ViolationReportThreshold: 3,
		},
		Ingest: IngestPolicy{
			ClockSkewTolerance: Duration(2 * time.Minute),
			NonceTTL:           Duration(10 * time.Minute),
		},
	}
}
