package providers

import (
	"context"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/podiumapp/podium-server/internal/anticheat"
	"github.com/podiumapp/podium-server/internal/api"
	"github.com/podiumapp/podium-server/internal/auth"
	"github.com/podiumapp/podium-server/internal/broadcast"
	"github.com/podiumapp/podium-server/internal/config"
	"github.com/podiumapp/podium-server/internal/ingest"
	"github.com/podiumapp/podium-server/internal/logger"
	"github.com/podiumapp/podium-server/internal/ranking"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	storeHandle := do.MustInvoke[*StoreHandle](i)
	gate := do.MustInvoke[*ingest.Gate](i)
	engine := do.MustInvoke[*ranking.Engine](i)
	evaluator := do.MustInvoke[*anticheat.Evaluator](i)
	tokens := do.MustInvoke[*auth.TokenService](i)
	broadcastHandle := do.MustInvoke[*BroadcastManagerHandle](i)
	edgeHandle := do.MustInvoke[*EdgeLimiterHandle](i)

	stream := broadcast.NewHandler(broadcastHandle.Manager, engine, log.Logger)

	handler := api.NewServer(
		storeHandle.Store,
		gate,
		engine,
		evaluator,
		tokens,
		broadcastHandle.Manager,
		stream,
		edgeHandle.KeyedRateLimiter,
		log.Logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in background
	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("Server running", "addr", srv.Addr)

	return &HTTPServerHandle{Server: srv}, nil
}
