package providers

import (
	"github.com/samber/do/v2"

	"github.com/podiumapp/podium-server/internal/config"
	"github.com/podiumapp/podium-server/internal/logger"
	"github.com/podiumapp/podium-server/internal/store"
)

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the ledger-backed store.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	db, err := store.New(cfg.LedgerPath(), log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Ledger store initialized", "path", cfg.LedgerPath())

	return &StoreHandle{Store: db}, nil
}
