package app

import (
	"context"
	"time"

	"github.com/dshills/lspmux/internal/config"
	"github.com/dshills/lspmux/internal/lsp"
)

// stopTimeout bounds shutting down a server removed by a reload.
const stopTimeout = 5 * time.Second

// Reload applies cfg: the log level, theme and executor settings take
// effect immediately, the local backend is attached or detached, and the
// configured servers are reconciled. Servers whose entry is unchanged keep
// running; changed entries are restarted; a failed server is retried.
func (a *Application) Reload(cfg *config.Config) {
	a.mu.Lock()
	old := a.config
	a.config = cfg
	a.logger.SetLevel(cfg.LogLevel())
	if cfg.Executor.MaxConcurrency != old.Executor.MaxConcurrency {
		a.pool = newPool(cfg.Executor.MaxConcurrency)
	}
	themeChanged := cfg.Theme.Path != old.Theme.Path
	localOn := a.local != nil
	running := a.running.Load()

	var stop, start []*supervised
	if running {
		desired := make(map[string]config.ServerConfig)
		for _, sc := range cfg.Enabled() {
			desired[sc.Name] = sc
		}
		for name, s := range a.servers {
			sc, keep := desired[name]
			if keep && sc.Equal(s.config) && s.sup.State() != lsp.SupervisorStateFailed {
				continue
			}
			stop = append(stop, s)
			delete(a.servers, name)
		}
		sv := cfg.Supervisor.LSP()
		for name, sc := range desired {
			if _, ok := a.servers[name]; ok {
				continue
			}
			s := a.newSupervised(sc, sv)
			a.servers[name] = s
			start = append(start, s)
		}
	}
	a.mu.Unlock()

	if themeChanged {
		th := a.loadTheme(cfg.Theme.Path)
		a.mu.Lock()
		a.theme = th
		a.mu.Unlock()
	}

	switch {
	case cfg.Local.Enabled && !localOn:
		a.attachLocal()
	case !cfg.Local.Enabled && localOn:
		a.detachLocal()
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	for _, s := range stop {
		if err := s.sup.Stop(ctx); err != nil {
			a.logger.Warn("stop %s: %v", s.config.Name, err)
		}
	}
	a.startAll(start)

	a.metrics.RecordReload()
	a.logger.Info("configuration reloaded: %d stopped, %d started", len(stop), len(start))
}
