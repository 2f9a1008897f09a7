// Package ingest is the entry point for client-reported actions. The gate
// runs every submission through the full admission pipeline: suspension
// check, request signature, replay and ordering checks, rate limiting, score
// calculation, anti-cheat evaluation, and finally the ranking commit. Nothing
// mutates a total except an action that survives every stage.
package ingest

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/podiumapp/podium-server/internal/errors"

	"github.com/podiumapp/podium-server/internal/anticheat"
	"github.com/podiumapp/podium-server/internal/auth"
	"github.com/podiumapp/podium-server/internal/domain"
	"github.com/podiumapp/podium-server/internal/policy"
	"github.com/podiumapp/podium-server/internal/ranking"
	"github.com/podiumapp/podium-server/internal/ratelimit"
	"github.com/podiumapp/podium-server/internal/score"
	"github.com/podiumapp/podium-server/internal/store"
)

const lockShards = 64

// AccountStore is the persistence surface the gate needs for accounts.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	SetBan(ctx context.Context, id string, until time.Time, strikes int) error
	SetTotalScore(ctx context.Context, id string, total int64) error
	DeleteUserSessions(ctx context.Context, userID string) (int, error)
}

// NonceStore is the durable replay record backing the in-memory registry.
type NonceStore interface {
	MarkNonce(ctx context.Context, userID, nonce string, ttl time.Duration) error
	SeenNonce(ctx context.Context, userID, nonce string) (bool, error)
}

// Limiter is the sliding-window admission check.
type Limiter interface {
	AllowUser(userID string, now time.Time) ratelimit.Verdict
	AllowOrigin(origin string, now time.Time) ratelimit.Verdict
}

// Evaluator is the anti-cheat decision surface.
type Evaluator interface {
	Evaluate(userID string, in anticheat.Input) anticheat.Decision
	RecordAccepted(userID string, actionType domain.ActionType, delta int64, now time.Time)
	ReportViolation(userID string, now time.Time)
}

// Committer applies an admitted action to the authoritative ranking.
type Committer interface {
	Commit(ctx context.Context, userID string, actionType domain.ActionType, delta int64, nonce string, now time.Time) (ranking.CommitResult, error)
}

// Calculator computes the authoritative delta for an action.
type Calculator interface {
	Calculate(actionType domain.ActionType, params domain.ActionParams) (score.Result, error)
}

// SubmitResult is returned to the client for an admitted action.
type SubmitResult struct {
	Accepted      bool   `json:"accepted"`
	Review        bool   `json:"review,omitempty"`
	ScoreIncrease int64  `json:"score_increase"`
	NewTotal      int64  `json:"new_total"`
	NewRank       int    `json:"new_rank"`
	PreviousRank  int    `json:"previous_rank,omitempty"`
	Generation    uint64 `json:"generation"`
}

// userState is the per-user replay and ordering memory. Mutated only under
// the user's shard lock.
type userState struct {
	nonces       map[string]time.Time
	lastAccepted time.Time // client clock of the last accepted action
	lastSweep    time.Time
}

// Gate orchestrates the admission pipeline.
type Gate struct {
	accounts   AccountStore
	nonces     NonceStore
	limiter    Limiter
	calculator Calculator
	evaluator  Evaluator
	engine     Committer
	policies   interface{ Current() *policy.Policy }
	logger     *slog.Logger

	// Per-user pipelines are serialized by shard locks so concurrent
	// submissions for one user cannot interleave between the replay check
	// and the nonce record.
	shards [lockShards]sync.Mutex

	mu    sync.Mutex
	users map[string]*userState
}

// NewGate wires the pipeline stages together.
func NewGate(
	accounts AccountStore,
	nonces NonceStore,
	limiter Limiter,
	calculator Calculator,
	evaluator Evaluator,
	engine Committer,
	policies interface{ Current() *policy.Policy },
	logger *slog.Logger,
) *Gate {
	return &Gate{
		accounts:   accounts,
		nonces:     nonces,
		limiter:    limiter,
		calculator: calculator,
		evaluator:  evaluator,
		engine:     engine,
		policies:   policies,
		logger:     logger,
		users:      make(map[string]*userState),
	}
}

func shardFor(userID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return h.Sum32() % lockShards
}

// Submit runs one client action through the full pipeline. origin identifies
// the transport source (client IP) for origin-scoped rate limiting.
//
// Stage order matters: cheap rejections come first, and the nonce is only
// recorded after the ledger commit succeeds so a failed submission can be
// retried with the same nonce.
func (g *Gate) Submit(ctx context.Context, req *domain.ActionRequest, origin string) (*SubmitResult, error) {
	now := time.Now()

	g.shards[shardFor(req.UserID)].Lock()
	defer g.shards[shardFor(req.UserID)].Unlock()

	account, err := g.accounts.GetAccount(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, apperrors.Auth("unknown account")
		}
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load account")
	}

	if account.IsSuspended(now) {
		return nil, apperrors.Suspended("account is suspended").
			WithDetails(map[string]any{"until": account.BanUntil})
	}

	ok, err := auth.VerifyActionSignature(account.SigningKey, req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "signature verification failed")
	}
	if !ok {
		return nil, apperrors.Integrity("request signature mismatch")
	}

	if err := g.checkReplay(ctx, req, now); err != nil {
		return nil, err
	}

	if err := g.checkRate(req.UserID, origin, now); err != nil {
		return nil, err
	}

	result, err := g.calculator.Calculate(req.ActionType, req.Params)
	if err != nil {
		return nil, err
	}

	decision := g.evaluator.Evaluate(req.UserID, anticheat.Input{
		ActionType: req.ActionType,
		Delta:      result.Delta,
		Clamped:    result.Clamped,
		Now:        now,
	})

	switch decision.Outcome {
	case anticheat.OutcomeReject:
		g.audit(req, "rejected", decision)
		return nil, apperrors.Anomaly("action rejected")
	case anticheat.OutcomeBan:
		g.audit(req, "banned", decision)
		if err := g.suspend(ctx, account, decision); err != nil {
			g.logger.Error("failed to persist suspension",
				slog.String("user_id", req.UserID), slog.Any("error", err))
		}
		return nil, apperrors.Suspended("account is suspended").
			WithDetails(map[string]any{"until": decision.BanUntil})
	}

	commit, err := g.engine.Commit(ctx, req.UserID, req.ActionType, result.Delta, req.Nonce, now)
	if err != nil {
		return nil, err
	}

	// The action is durable; record its replay markers and history. Failures
	// past this point must not undo the commit.
	g.recordAccepted(ctx, req, commit, now)

	if decision.Outcome == anticheat.OutcomeReview {
		g.audit(req, "review", decision)
	}

	return &SubmitResult{
		Accepted:      true,
		Review:        decision.Outcome == anticheat.OutcomeReview,
		ScoreIncrease: result.Delta,
		NewTotal:      commit.Entry.ResultingTotal,
		NewRank:       commit.NewRank,
		PreviousRank:  commit.PreviousRank,
		Generation:    commit.Generation,
	}, nil
}

// checkReplay enforces nonce uniqueness and per-user timestamp ordering.
func (g *Gate) checkReplay(ctx context.Context, req *domain.ActionRequest, now time.Time) error {
	p := g.policies.Current().Ingest

	state := g.userStateFor(req.UserID)
	state.sweep(now, p.NonceTTL.Std())

	if _, seen := state.nonces[req.Nonce]; seen {
		return apperrors.Integrity("nonce already used")
	}

	// The in-memory registry is empty after a restart; the durable record
	// covers that gap.
	seen, err := g.nonces.SeenNonce(ctx, req.UserID, req.Nonce)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "nonce lookup failed")
	}
	if seen {
		return apperrors.Integrity("nonce already used")
	}

	// Client timestamps must not regress past the last accepted action by
	// more than the skew tolerance.
	if !state.lastAccepted.IsZero() {
		floor := state.lastAccepted.Add(-p.ClockSkewTolerance.Std())
		if req.ClientTimestamp.Before(floor) {
			return apperrors.Integrity("client timestamp out of order")
		}
	}

	// Far-future timestamps are equally implausible.
	if req.ClientTimestamp.After(now.Add(p.ClockSkewTolerance.Std())) {
		return apperrors.Integrity("client timestamp too far in the future")
	}

	return nil
}

// checkRate applies user and origin sliding windows.
func (g *Gate) checkRate(userID, origin string, now time.Time) error {
	verdict := g.limiter.AllowUser(userID, now)
	if verdict.Allowed && origin != "" {
		verdict = g.limiter.AllowOrigin(origin, now)
	}
	if verdict.Allowed {
		return nil
	}

	if verdict.ReportRisk {
		g.evaluator.ReportViolation(userID, now)
	}
	return apperrors.RateLimited("rate limit exceeded").
		WithDetails(map[string]any{"retry_after_ms": verdict.RetryAfter.Milliseconds()})
}

// recordAccepted updates replay state and the risk history after a durable
// commit.
func (g *Gate) recordAccepted(ctx context.Context, req *domain.ActionRequest, commit ranking.CommitResult, now time.Time) {
	p := g.policies.Current().Ingest

	state := g.userStateFor(req.UserID)
	state.nonces[req.Nonce] = now
	if req.ClientTimestamp.After(state.lastAccepted) {
		state.lastAccepted = req.ClientTimestamp
	}

	if err := g.nonces.MarkNonce(ctx, req.UserID, req.Nonce, p.NonceTTL.Std()); err != nil && !errors.Is(err, store.ErrNonceSeen) {
		g.logger.Warn("failed to persist nonce",
			slog.String("user_id", req.UserID), slog.Any("error", err))
	}

	g.evaluator.RecordAccepted(req.UserID, req.ActionType, commit.Entry.Delta, now)

	if err := g.accounts.SetTotalScore(ctx, req.UserID, commit.Entry.ResultingTotal); err != nil {
		g.logger.Warn("failed to mirror total onto account",
			slog.String("user_id", req.UserID), slog.Any("error", err))
	}
}

// suspend persists ban state and revokes the user's sessions.
func (g *Gate) suspend(ctx context.Context, account *domain.Account, decision anticheat.Decision) error {
	if err := g.accounts.SetBan(ctx, account.ID, decision.BanUntil, decision.Strikes); err != nil {
		return err
	}
	revoked, err := g.accounts.DeleteUserSessions(ctx, account.ID)
	if err != nil {
		return err
	}
	g.logger.Info("account suspended",
		slog.String("user_id", account.ID),
		slog.Time("until", decision.BanUntil),
		slog.Int("sessions_revoked", revoked))
	return nil
}

// audit logs the internal reason for a non-clean decision. Reason codes stay
// server-side; clients only see the generic error.
func (g *Gate) audit(req *domain.ActionRequest, outcome string, decision anticheat.Decision) {
	g.logger.Info("action flagged",
		slog.String("user_id", req.UserID),
		slog.String("action_type", string(req.ActionType)),
		slog.String("outcome", outcome),
		slog.String("reason", decision.ReasonCode),
		slog.Float64("risk", decision.RiskScore))
}

// userStateFor returns the user's replay state, creating it if needed.
// The caller must hold the user's shard lock; g.mu only guards the map.
func (g *Gate) userStateFor(userID string) *userState {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.users[userID]
	if !ok {
		state = &userState{nonces: make(map[string]time.Time)}
		g.users[userID] = state
	}
	return state
}

// sweep drops expired nonces. Runs at most once per TTL interval per user.
func (s *userState) sweep(now time.Time, ttl time.Duration) {
	if now.Sub(s.lastSweep) < ttl {
		return
	}
	s.lastSweep = now
	cutoff := now.Add(-ttl)
	for nonce, at := range s.nonces {
		if at.Before(cutoff) {
			delete(s.nonces, nonce)
		}
	}
}
