package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/podiumapp/podium-server/internal/anticheat"
	"github.com/podiumapp/podium-server/internal/config"
	"github.com/podiumapp/podium-server/internal/ingest"
	"github.com/podiumapp/podium-server/internal/logger"
	"github.com/podiumapp/podium-server/internal/ranking"
	"github.com/podiumapp/podium-server/internal/ratelimit"
	"github.com/podiumapp/podium-server/internal/score"
)

// LimiterHandle wraps the sliding-window limiter with shutdown capability.
type LimiterHandle struct {
	*ratelimit.Limiter
}

// Shutdown implements do.Shutdownable.
func (h *LimiterHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvideLimiter provides the per-user and per-origin admission limiter.
func ProvideLimiter(i do.Injector) (*LimiterHandle, error) {
	policies := do.MustInvoke[*PolicyManagerHandle](i)
	return &LimiterHandle{Limiter: ratelimit.New(policies)}, nil
}

// EdgeLimiterHandle wraps the per-IP edge limiter with shutdown capability.
type EdgeLimiterHandle struct {
	*ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *EdgeLimiterHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvideEdgeLimiter provides the transport-edge per-IP token bucket.
func ProvideEdgeLimiter(i do.Injector) (*EdgeLimiterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return &EdgeLimiterHandle{
		KeyedRateLimiter: ratelimit.NewKeyed(cfg.Edge.RequestsPerSec, cfg.Edge.Burst),
	}, nil
}

// ProvideCalculator provides the deterministic score calculator.
func ProvideCalculator(i do.Injector) (*score.Calculator, error) {
	policies := do.MustInvoke[*PolicyManagerHandle](i)
	return score.NewCalculator(policies), nil
}

// ProvideEvaluator provides the anti-cheat risk evaluator.
func ProvideEvaluator(i do.Injector) (*anticheat.Evaluator, error) {
	policies := do.MustInvoke[*PolicyManagerHandle](i)
	log := do.MustInvoke[*logger.Logger](i)
	return anticheat.NewEvaluator(policies, log.Logger), nil
}

// ProvideEngine provides the ranking engine, rebuilt from the ledger and
// wired to publish snapshots to the broadcast manager.
func ProvideEngine(i do.Injector) (*ranking.Engine, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	broadcastHandle := do.MustInvoke[*BroadcastManagerHandle](i)

	engine := ranking.NewEngine(storeHandle.Store, cfg.Ranking.WindowSize, log.Logger)
	engine.SetPublisher(broadcastHandle.Publish)

	if err := engine.Rebuild(context.Background()); err != nil {
		return nil, err
	}

	log.Info("Ranking rebuilt from ledger",
		"participants", engine.Participants(),
		"generation", engine.Snapshot().Generation,
	)

	return engine, nil
}

// ProvideGate provides the action admission pipeline.
func ProvideGate(i do.Injector) (*ingest.Gate, error) {
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	limiterHandle := do.MustInvoke[*LimiterHandle](i)
	calculator := do.MustInvoke[*score.Calculator](i)
	evaluator := do.MustInvoke[*anticheat.Evaluator](i)
	engine := do.MustInvoke[*ranking.Engine](i)
	policies := do.MustInvoke[*PolicyManagerHandle](i)

	return ingest.NewGate(
		storeHandle.Store,
		storeHandle.Store,
		limiterHandle.Limiter,
		calculator,
		evaluator,
		engine,
		policies,
		log.Logger,
	), nil
}
