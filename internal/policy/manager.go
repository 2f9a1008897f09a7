package policy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Manager owns the active policy snapshot and hot-reloads it when the backing
// file changes. Readers call Current() on every request; the returned snapshot
// is immutable, so a reload never tears an in-flight evaluation.
type Manager struct {
	current atomic.Pointer[Policy]
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewManager creates a manager seeded from the given file. An empty path uses
// the built-in defaults and disables watching.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	m := &Manager{
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}

	if path == "" {
		m.current.Store(Default())
		return m, nil
	}

	pol, err := Load(path)
	if err != nil {
		return nil, err
	}
	m.current.Store(pol)
	return m, nil
}

// Load reads and validates a policy file.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- policy path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	pol := &Policy{}
	if err := yaml.Unmarshal(data, pol); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	if err := pol.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy file: %w", err)
	}
	return pol, nil
}

// Current returns the active policy snapshot.
func (m *Manager) Current() *Policy {
	return m.current.Load()
}

// Watch starts watching the policy file for changes. Reload failures keep the
// previous snapshot active and are logged, never fatal.
func (m *Manager) Watch() error {
	if m.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	m.watcher = watcher

	// Watch the directory rather than the file: editors and config rollouts
	// replace files via rename, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch policy dir: %w", err)
	}

	go m.watchLoop()
	return nil
}

func (m *Manager) watchLoop() {
	base := filepath.Base(m.path)

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			pol, err := Load(m.path)
			if err != nil {
				m.logger.Warn("policy reload failed, keeping previous snapshot",
					slog.String("path", m.path),
					slog.String("error", err.Error()))
				continue
			}

			m.current.Store(pol)
			m.logger.Info("policy reloaded",
				slog.String("path", m.path),
				slog.Int("actions", len(pol.Actions)))

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("policy watcher error", slog.String("error", err.Error()))

		case <-m.done:
			return
		}
	}
}

// Close stops the watcher.
func (m *Manager) Close() error {
	close(m.done)
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
