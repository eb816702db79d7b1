// Package app wires configuration, logging, the backend registry and the
// backends it supervises into one coordinator. Front ends open documents
// through it and build executors from it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dshills/lspmux/internal/config"
	"github.com/dshills/lspmux/internal/logging"
	"github.com/dshills/lspmux/internal/lsp"
	"github.com/dshills/lspmux/internal/style"
	"github.com/dshills/lspmux/internal/syntax"
)

// Options configures the application.
type Options struct {
	// ConfigPath is the configuration file. Empty uses built-in defaults.
	ConfigPath string

	// Config, when set, is used instead of loading ConfigPath.
	Config *config.Config

	// LogLevel overrides the configured level when non-empty.
	LogLevel string

	// LogOutput overrides the configured log destination.
	LogOutput io.Writer

	// WorkspacePath is sent to servers as the workspace folder.
	WorkspacePath string

	// Watch reloads ConfigPath when it changes.
	Watch bool

	// Starter replaces process spawning for configured servers.
	Starter lsp.ServerStarter
}

// supervised is a configured server and the supervisor running it.
type supervised struct {
	config config.ServerConfig
	sup    *lsp.Supervisor
}

// Application is the running coordinator.
type Application struct {
	mu sync.RWMutex

	opts    Options
	config  *config.Config
	logger  *logging.Logger
	logFile io.Closer
	metrics *Metrics

	registry  *lsp.Registry
	documents *lsp.DocumentManager
	pool      *semaphore.Weighted
	theme     *style.Theme
	colors    *style.ColorTable

	local        *syntax.Backend
	localBackend *lsp.Backend
	servers      map[string]*supervised

	watcher *config.Watcher

	ctx      context.Context
	cancel   context.CancelFunc
	running  atomic.Bool
	shutdown sync.Once
}

// New loads configuration and builds every component. Configured servers
// are not started until Start.
func New(opts Options) (*Application, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	a := &Application{
		opts:     opts,
		config:   cfg,
		metrics:  NewMetrics(),
		registry: lsp.NewRegistry(),
		servers:  make(map[string]*supervised),
		colors:   style.NewColorTable(style.ColorDefault),
	}

	if err := a.initLogger(); err != nil {
		return nil, &InitError{Component: "logging", Err: err}
	}
	a.theme = a.loadTheme(cfg.Theme.Path)
	a.pool = newPool(cfg.Executor.MaxConcurrency)
	a.documents = lsp.NewDocumentManager(a.registry,
		lsp.WithBackendSelector(a.serves),
		lsp.WithDocumentLogger(a.logger))

	if cfg.Local.Enabled {
		a.attachLocal()
	}

	a.logger.Debug("initialized with %d configured servers", len(cfg.Servers))
	return a, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.Config != nil {
		return opts.Config, nil
	}
	if opts.ConfigPath != "" {
		return config.Load(opts.ConfigPath)
	}
	cfg := config.Default()
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (a *Application) initLogger() error {
	out := a.opts.LogOutput
	if out == nil && a.config.Log.File != "" {
		f, err := os.OpenFile(a.config.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		a.logFile = f
		out = f
	}
	lc := logging.DefaultConfig()
	lc.Level = a.config.LogLevel()
	if out != nil {
		lc.Output = out
	}
	a.logger = logging.New(lc)
	return nil
}

// loadTheme loads the theme at path, falling back to the built-in theme.
func (a *Application) loadTheme(path string) *style.Theme {
	if path == "" {
		return style.DefaultTheme()
	}
	th, err := style.LoadTheme(path)
	if err != nil {
		a.logger.Warn("theme %s: %v; using default theme", path, err)
		return style.DefaultTheme()
	}
	a.logger.Debug("loaded theme %q from %s", th.Name, path)
	return th
}

func newPool(n int64) *semaphore.Weighted {
	if n <= 0 {
		return nil
	}
	return semaphore.NewWeighted(n)
}

// Start starts every enabled server and, when requested, the config watcher.
// A server that fails to start is logged and left in the failed state; it
// does not fail Start.
func (a *Application) Start(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	a.mu.Lock()
	a.ctx, a.cancel = context.WithCancel(ctx)
	sv := a.config.Supervisor.LSP()
	var started []*supervised
	for _, sc := range a.config.Enabled() {
		s := a.newSupervised(sc, sv)
		a.servers[sc.Name] = s
		started = append(started, s)
	}
	a.mu.Unlock()

	a.startAll(started)

	if a.opts.Watch && a.opts.ConfigPath != "" {
		w, err := config.NewWatcher(a.opts.ConfigPath, a.Reload,
			config.WithWatcherLogger(a.logger),
			config.WithErrorHandler(func(error) { a.metrics.RecordReloadError() }))
		if err != nil {
			a.logger.Warn("config watch disabled: %v", err)
		} else {
			a.mu.Lock()
			a.watcher = w
			a.mu.Unlock()
		}
	}

	a.logger.Info("started with %d servers", len(started))
	return nil
}

func (a *Application) newSupervised(sc config.ServerConfig, sv lsp.SupervisorConfig) *supervised {
	sup := lsp.NewSupervisor(a.registry, sc.LSP(), sv,
		lsp.WithSupervisorLogger(a.logger),
		lsp.WithServerStarter(a.opts.Starter))
	return &supervised{config: sc, sup: sup}
}

// startAll starts supervisors concurrently. Callers must not hold a.mu:
// attaching a backend runs the document selector, which reads it.
func (a *Application) startAll(list []*supervised) {
	var wg sync.WaitGroup
	for _, s := range list {
		wg.Add(1)
		go func(s *supervised) {
			defer wg.Done()
			go a.watchEvents(s.sup)
			if err := s.sup.Start(a.ctx, a.workspaceFolders()); err != nil {
				a.logger.Warn("server %s failed to start: %v", s.config.Name, err)
			}
		}(s)
	}
	wg.Wait()
}

func (a *Application) watchEvents(sup *lsp.Supervisor) {
	for ev := range sup.Events() {
		switch ev.Type {
		case lsp.SupervisorEventCrash:
			a.metrics.RecordCrash()
			a.logger.Warn("server %s exited: %v", ev.Server, ev.Error)
		case lsp.SupervisorEventRestarting:
			a.logger.Info("restarting %s in %s (attempt %d)", ev.Server, ev.NextRetry, ev.Attempt)
		case lsp.SupervisorEventRecovered:
			a.metrics.RecordRestart()
			a.logger.Info("server %s recovered", ev.Server)
		case lsp.SupervisorEventFailed:
			a.logger.Error("server %s gave up after %d attempts: %v", ev.Server, ev.Attempt, ev.Error)
		}
	}
}

func (a *Application) workspaceFolders() []lsp.WorkspaceFolder {
	if a.opts.WorkspacePath == "" {
		return nil
	}
	abs, err := filepath.Abs(a.opts.WorkspacePath)
	if err != nil {
		return nil
	}
	return []lsp.WorkspaceFolder{{URI: lsp.FilePathToURI(abs), Name: filepath.Base(abs)}}
}

// attachLocal attaches the in-process syntax backend. Callers must not
// hold a.mu.
func (a *Application) attachLocal() {
	local := syntax.New(syntax.WithLogger(a.logger))
	a.mu.Lock()
	a.local = local
	a.mu.Unlock()

	b := local.Attach(a.registry)

	a.mu.Lock()
	a.localBackend = b
	a.mu.Unlock()
}

func (a *Application) detachLocal() {
	a.mu.Lock()
	local, b := a.local, a.localBackend
	a.local, a.localBackend = nil, nil
	a.mu.Unlock()

	if b != nil {
		_ = a.registry.Detach(b.ID())
	}
	if local != nil {
		_ = local.Close()
	}
}

// serves is the document selector: a backend receives documents in the
// languages it is configured or able to handle.
func (a *Application) serves(b *lsp.Backend, languageID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if b.Name() == syntax.Name {
		return a.local != nil && a.local.Handles(languageID)
	}
	if s, ok := a.servers[b.Name()]; ok {
		return s.sup.Config().Handles(languageID)
	}
	return true
}

// Shutdown stops the watcher, closes documents and stops every backend.
// It is safe to call more than once.
func (a *Application) Shutdown(ctx context.Context) error {
	var errs []error
	a.shutdown.Do(func() {
		a.mu.Lock()
		w := a.watcher
		a.watcher = nil
		servers := make([]*supervised, 0, len(a.servers))
		for _, s := range a.servers {
			servers = append(servers, s)
		}
		a.servers = make(map[string]*supervised)
		a.mu.Unlock()

		if w != nil {
			_ = w.Close()
		}
		a.documents.CloseAll(ctx)
		for _, s := range servers {
			if err := s.sup.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop %s: %w", s.config.Name, err))
			}
		}
		a.detachLocal()

		if a.cancel != nil {
			a.cancel()
		}
		a.running.Store(false)
		a.logger.Info("shut down")
		if a.logFile != nil {
			errs = append(errs, a.logFile.Close())
		}
	})
	return errors.Join(errs...)
}

// Executor returns an executor for doc configured with the request timeout,
// the shared worker pool and failure accounting.
func (a *Application) Executor(doc lsp.DocumentURI) *lsp.Executor {
	a.mu.RLock()
	timeout := a.config.Executor.RequestTimeout.Duration
	pool := a.pool
	a.mu.RUnlock()

	opts := []lsp.ExecutorOption{
		lsp.WithRequestTimeout(timeout),
		lsp.WithLogger(a.logger),
		lsp.WithFailureHandler(func(lsp.BackendFailure) { a.metrics.RecordBackendFailure() }),
	}
	if pool != nil {
		opts = append(opts, lsp.WithPool(pool))
	}
	return lsp.NewExecutor(a.registry, doc, opts...)
}

// OpenFile reads path and opens it on every backend serving its language.
func (a *Application) OpenFile(ctx context.Context, path string) (lsp.DocumentURI, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", "", err
	}
	content := string(data)
	uri, err := a.documents.OpenDocument(ctx, abs, content)
	if err != nil {
		return "", "", err
	}
	return uri, content, nil
}

// BackendInfo describes an attached or supervised backend.
type BackendInfo struct {
	Name     string
	ID       string
	Local    bool
	State    string
	Restarts int

	// Version is the version the server reported, if any.
	Version string
	Started time.Time

	// Capabilities is zero when the backend is not attached.
	Capabilities lsp.CapabilitySnapshot
	Attached     bool
}

// Backends lists the local backend and every configured server, sorted by
// name.
func (a *Application) Backends() []BackendInfo {
	a.mu.RLock()
	var out []BackendInfo
	if a.localBackend != nil {
		out = append(out, BackendInfo{
			Name:         syntax.Name,
			ID:           a.localBackend.ID(),
			Local:        true,
			State:        "running",
			Capabilities: a.localBackend.Capabilities(),
			Attached:     true,
		})
	}
	for name, s := range a.servers {
		stats := s.sup.Stats()
		info := BackendInfo{
			Name:     name,
			State:    stats.State.String(),
			Restarts: stats.RestartCount,
			Started:  stats.LastStartTime,
		}
		if srv := s.sup.Server(); srv != nil {
			if si := srv.Info(); si != nil {
				info.Version = si.Version
			}
		}
		if b := s.sup.Backend(); b != nil {
			if current, ok := a.registry.Backend(b.ID()); ok {
				info.ID = current.ID()
				info.Capabilities = current.Capabilities()
				info.Attached = true
			}
		}
		out = append(out, info)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Config returns the active configuration.
func (a *Application) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config
}

// Theme returns the active theme.
func (a *Application) Theme() *style.Theme {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.theme
}

// Colors returns the shared color table.
func (a *Application) Colors() *style.ColorTable { return a.colors }

// Logger returns the application logger.
func (a *Application) Logger() *logging.Logger { return a.logger }

// Registry returns the backend registry.
func (a *Application) Registry() *lsp.Registry { return a.registry }

// Documents returns the document manager.
func (a *Application) Documents() *lsp.DocumentManager { return a.documents }

// Metrics returns the application counters.
func (a *Application) Metrics() *Metrics { return a.metrics }

// IsRunning reports whether Start has been called and Shutdown has not.
func (a *Application) IsRunning() bool { return a.running.Load() }
