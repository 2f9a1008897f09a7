package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/podiumapp/podium-server/internal/broadcast"
	"github.com/podiumapp/podium-server/internal/config"
	"github.com/podiumapp/podium-server/internal/logger"
)

// BroadcastManagerHandle wraps the broadcast manager with its context for
// lifecycle management.
type BroadcastManagerHandle struct {
	*broadcast.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *BroadcastManagerHandle) Shutdown() error {
	h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Manager.Shutdown(ctx)
}

// ProvideBroadcastManager provides the ranking delta broadcaster.
func ProvideBroadcastManager(i do.Injector) (*BroadcastManagerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	manager := broadcast.NewManager(broadcast.Config{
		BatchInterval:          cfg.Broadcast.BatchInterval,
		SubscriberEventsPerSec: cfg.Broadcast.SubscriberEventsPerSec,
	}, log.Logger)

	// Start in background
	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	log.Info("Broadcast manager started",
		"batch_interval", cfg.Broadcast.BatchInterval,
		"subscriber_rate", cfg.Broadcast.SubscriberEventsPerSec,
	)

	return &BroadcastManagerHandle{
		Manager: manager,
		cancel:  cancel,
	}, nil
}
