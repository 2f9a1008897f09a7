package providers

import (
	"github.com/samber/do/v2"

	"github.com/podiumapp/podium-server/internal/config"
	"github.com/podiumapp/podium-server/internal/logger"
	"github.com/podiumapp/podium-server/internal/policy"
)

// PolicyManagerHandle wraps the policy manager with shutdown capability.
type PolicyManagerHandle struct {
	*policy.Manager
}

// Shutdown implements do.Shutdownable.
func (h *PolicyManagerHandle) Shutdown() error {
	return h.Close()
}

// ProvidePolicyManager provides the hot-reloadable policy snapshot source.
func ProvidePolicyManager(i do.Injector) (*PolicyManagerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	manager, err := policy.NewManager(cfg.Policy.Path, log.Logger)
	if err != nil {
		return nil, err
	}

	if cfg.Policy.Path == "" {
		log.Info("No policy file configured, using built-in defaults")
	} else {
		log.Info("Policy loaded", "path", cfg.Policy.Path)
		if cfg.Policy.Watch {
			if err := manager.Watch(); err != nil {
				return nil, err
			}
			log.Info("Policy hot reload enabled")
		}
	}

	return &PolicyManagerHandle{Manager: manager}, nil
}
