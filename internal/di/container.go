// Package di provides dependency injection configuration for the Podium server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/podiumapp/podium-server/internal/anticheat"
	"github.com/podiumapp/podium-server/internal/auth"
	"github.com/podiumapp/podium-server/internal/config"
	"github.com/podiumapp/podium-server/internal/di/providers"
	"github.com/podiumapp/podium-server/internal/ingest"
	"github.com/podiumapp/podium-server/internal/logger"
	"github.com/podiumapp/podium-server/internal/ranking"
	"github.com/podiumapp/podium-server/internal/score"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideAuthKey)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)

	// Policy layer
	do.Provide(injector, providers.ProvidePolicyManager)

	// Broadcast layer
	do.Provide(injector, providers.ProvideBroadcastManager)

	// Scoring pipeline
	do.Provide(injector, providers.ProvideLimiter)
	do.Provide(injector, providers.ProvideEdgeLimiter)
	do.Provide(injector, providers.ProvideCalculator)
	do.Provide(injector, providers.ProvideEvaluator)
	do.Provide(injector, providers.ProvideEngine)
	do.Provide(injector, providers.ProvideGate)

	// Auth layer
	do.Provide(injector, providers.ProvideTokenService)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and returns handles for lifecycle management.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	// Invoke core services to trigger initialization
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[providers.AuthKey](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*providers.PolicyManagerHandle](injector)
	_ = do.MustInvoke[*providers.BroadcastManagerHandle](injector)

	// Scoring pipeline
	_ = do.MustInvoke[*providers.LimiterHandle](injector)
	_ = do.MustInvoke[*providers.EdgeLimiterHandle](injector)
	_ = do.MustInvoke[*score.Calculator](injector)
	_ = do.MustInvoke[*anticheat.Evaluator](injector)
	_ = do.MustInvoke[*ranking.Engine](injector)
	_ = do.MustInvoke[*ingest.Gate](injector)

	// Auth layer
	_ = do.MustInvoke[*auth.TokenService](injector)

	// Server
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	return nil
}
