package lsp

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/lspmux/internal/logging"
)

// SupervisorState represents the state of a supervised server.
type SupervisorState int

const (
	// SupervisorStateIdle means the supervisor is not monitoring.
	SupervisorStateIdle SupervisorState = iota
	// SupervisorStateRunning means the server is attached and running.
	SupervisorStateRunning
	// SupervisorStateRestarting means the server exited and is being restarted.
	SupervisorStateRestarting
	// SupervisorStateFailed means the server has exceeded max restart attempts.
	SupervisorStateFailed
	// SupervisorStateStopped means the supervisor was explicitly stopped.
	SupervisorStateStopped
)

// String returns a human-readable state name.
func (s SupervisorState) String() string {
	switch s {
	case SupervisorStateIdle:
		return "idle"
	case SupervisorStateRunning:
		return "running"
	case SupervisorStateRestarting:
		return "restarting"
	case SupervisorStateFailed:
		return "failed"
	case SupervisorStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SupervisorConfig configures crash recovery.
type SupervisorConfig struct {
	// MaxRestarts is the maximum number of restart attempts before giving up.
	// Default: 5
	MaxRestarts int

	// InitialBackoff is the delay before the first restart.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between restarts.
	// Default: 60 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay after each failure.
	// Default: 2.0
	BackoffMultiplier float64

	// ResetWindow is how long a server must run before its restart count
	// resets.
	// Default: 5 minutes
	ResetWindow time.Duration
}

// DefaultSupervisorConfig returns the default supervisor configuration.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxRestarts:       5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 2.0,
		ResetWindow:       5 * time.Minute,
	}
}

// SupervisorEventType identifies the type of supervisor event.
type SupervisorEventType int

const (
	// SupervisorEventCrash indicates the server exited unexpectedly.
	SupervisorEventCrash SupervisorEventType = iota
	// SupervisorEventRestarting indicates a restart attempt is scheduled.
	SupervisorEventRestarting
	// SupervisorEventRecovered indicates the server is attached again.
	SupervisorEventRecovered
	// SupervisorEventFailed indicates the server has permanently failed.
	SupervisorEventFailed
)

// String returns a human-readable event type name.
func (t SupervisorEventType) String() string {
	switch t {
	case SupervisorEventCrash:
		return "crash"
	case SupervisorEventRestarting:
		return "restarting"
	case SupervisorEventRecovered:
		return "recovered"
	case SupervisorEventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SupervisorEvent reports a change in a supervised server.
type SupervisorEvent struct {
	Type      SupervisorEventType
	Server    string
	Error     error
	Attempt   int
	NextRetry time.Duration
}

// ServerStarter starts a server and returns it ready for AttachServer.
type ServerStarter func(ctx context.Context, config ServerConfig, folders []WorkspaceFolder) (*Server, error)

// SupervisorOption configures a supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorLogger sets the logger.
func WithSupervisorLogger(logger *logging.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServerStarter replaces how servers are started. The default spawns
// the configured command.
func WithServerStarter(start ServerStarter) SupervisorOption {
	return func(s *Supervisor) {
		if start != nil {
			s.start = start
		}
	}
}

// Supervisor keeps a language server attached to a registry. When the server
// exits it is detached, restarted with exponential backoff and attached
// again; a DocumentManager over the same registry re-opens its documents on
// the new backend.
type Supervisor struct {
	mu sync.Mutex

	config       SupervisorConfig
	serverConfig ServerConfig
	reg          *Registry
	logger       *logging.Logger
	start        ServerStarter
	folders      []WorkspaceFolder

	// Current server and its registry record (protected by mu)
	server  *Server
	backend *Backend

	state        atomic.Int32
	restartCount int
	lastStart    time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	eventCh   chan SupervisorEvent
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewSupervisor creates a supervisor for one server configuration.
func NewSupervisor(reg *Registry, serverConfig ServerConfig, config SupervisorConfig, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		config:       config,
		serverConfig: serverConfig,
		reg:          reg,
		logger:       logging.Nop(),
		eventCh:      make(chan SupervisorEvent, 16),
	}
	s.start = s.spawn
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("supervisor").WithField("server", serverConfig.Name)
	s.state.Store(int32(SupervisorStateIdle))
	return s
}

func (s *Supervisor) spawn(ctx context.Context, config ServerConfig, folders []WorkspaceFolder) (*Server, error) {
	server := NewServer(config, s.logger)
	if err := server.Start(ctx, folders); err != nil {
		return nil, err
	}
	return server, nil
}

// Start starts the server, attaches it and begins supervision.
func (s *Supervisor) Start(ctx context.Context, folders []WorkspaceFolder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if SupervisorState(s.state.Load()) != SupervisorStateIdle {
		return ErrServerAlreadyRunning
	}

	s.folders = folders
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.startServerLocked(); err != nil {
		s.state.Store(int32(SupervisorStateFailed))
		return err
	}

	s.state.Store(int32(SupervisorStateRunning))
	go s.monitor()
	return nil
}

// startServerLocked starts and attaches a server (must hold mu).
func (s *Supervisor) startServerLocked() error {
	server, err := s.start(s.ctx, s.serverConfig, s.folders)
	if err != nil {
		return err
	}

	b, err := AttachServer(s.reg, server)
	if err != nil {
		_ = server.Shutdown(s.ctx)
		return err
	}

	s.server = server
	s.backend = b
	s.lastStart = time.Now()
	return nil
}

// monitor waits for the current server to exit and restarts it.
func (s *Supervisor) monitor() {
	for {
		s.mu.Lock()
		server := s.server
		s.mu.Unlock()

		if server == nil {
			return
		}

		select {
		case <-s.ctx.Done():
			return
		case <-server.ExitChannel():
			if !s.handleCrashWithRetry(server.ExitErr()) {
				return
			}
		}
	}
}

// handleCrashWithRetry restarts the server until it recovers, the restart
// budget is spent or the supervisor stops. It reports whether the server
// recovered.
func (s *Supervisor) handleCrashWithRetry(initialErr error) bool {
	exitErr := initialErr

	for {
		s.mu.Lock()

		if SupervisorState(s.state.Load()) == SupervisorStateStopped {
			s.mu.Unlock()
			return false
		}

		if time.Since(s.lastStart) > s.config.ResetWindow {
			s.restartCount = 0
		}
		s.restartCount++
		s.server = nil
		s.backend = nil

		s.logger.Warn("server exited (attempt %d): %v", s.restartCount, exitErr)
		s.emitEventLocked(SupervisorEvent{
			Type:    SupervisorEventCrash,
			Server:  s.serverConfig.Name,
			Error:   exitErr,
			Attempt: s.restartCount,
		})

		if s.restartCount > s.config.MaxRestarts {
			s.state.Store(int32(SupervisorStateFailed))
			s.logger.Error("giving up after %d restarts", s.restartCount-1)
			s.emitEventLocked(SupervisorEvent{
				Type:    SupervisorEventFailed,
				Server:  s.serverConfig.Name,
				Error:   exitErr,
				Attempt: s.restartCount,
			})
			s.mu.Unlock()
			return false
		}

		delay := CalculateBackoff(
			s.restartCount,
			s.config.InitialBackoff,
			s.config.MaxBackoff,
			s.config.BackoffMultiplier,
		)

		s.state.Store(int32(SupervisorStateRestarting))
		s.emitEventLocked(SupervisorEvent{
			Type:      SupervisorEventRestarting,
			Server:    s.serverConfig.Name,
			Attempt:   s.restartCount,
			NextRetry: delay,
		})
		s.mu.Unlock()

		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(delay):
		}

		s.mu.Lock()
		if SupervisorState(s.state.Load()) == SupervisorStateStopped {
			s.mu.Unlock()
			return false
		}

		if err := s.startServerLocked(); err != nil {
			exitErr = err
			s.mu.Unlock()
			continue
		}

		s.state.Store(int32(SupervisorStateRunning))
		s.logger.Info("recovered as backend %s", s.backend.ID())
		s.emitEventLocked(SupervisorEvent{
			Type:    SupervisorEventRecovered,
			Server:  s.serverConfig.Name,
			Attempt: s.restartCount,
		})
		s.mu.Unlock()
		return true
	}
}

// emitEventLocked sends an event to listeners. Events are dropped when the
// channel is full or closed.
func (s *Supervisor) emitEventLocked(event SupervisorEvent) {
	if s.closed.Load() {
		return
	}
	select {
	case s.eventCh <- event:
	default:
	}
}

// Stop stops supervision, detaches the backend and shuts the server down.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	state := SupervisorState(s.state.Load())
	if state == SupervisorStateStopped || state == SupervisorStateIdle {
		s.mu.Unlock()
		return nil
	}

	s.state.Store(int32(SupervisorStateStopped))
	server, backend := s.server, s.backend
	s.server, s.backend = nil, nil
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.eventCh)
	})

	if backend != nil {
		_ = s.reg.Detach(backend.ID())
	}
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// State returns the current supervisor state.
func (s *Supervisor) State() SupervisorState {
	return SupervisorState(s.state.Load())
}

// Server returns the current server (nil while restarting).
func (s *Supervisor) Server() *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server
}

// Backend returns the current registry record (nil while restarting).
func (s *Supervisor) Backend() *Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// Name returns the supervised server's name.
func (s *Supervisor) Name() string {
	return s.serverConfig.Name
}

// Config returns the supervised server's configuration.
func (s *Supervisor) Config() ServerConfig {
	return s.serverConfig
}

// RestartCount returns the number of restart attempts since the last reset.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount
}

// Events returns the event channel. It is closed when the supervisor stops.
func (s *Supervisor) Events() <-chan SupervisorEvent {
	return s.eventCh
}

// SupervisorStats provides statistics about the supervisor.
type SupervisorStats struct {
	State          SupervisorState
	RestartCount   int
	LastStartTime  time.Time
	CurrentBackoff time.Duration
	BackendID      string
}

// Stats returns current supervisor statistics.
func (s *Supervisor) Stats() SupervisorStats {
	s.mu.Lock()
	restartCount := s.restartCount
	lastStart := s.lastStart
	var id string
	if s.backend != nil {
		id = s.backend.ID()
	}
	s.mu.Unlock()

	return SupervisorStats{
		State:         SupervisorState(s.state.Load()),
		RestartCount:  restartCount,
		LastStartTime: lastStart,
		CurrentBackoff: CalculateBackoff(
			restartCount,
			s.config.InitialBackoff,
			s.config.MaxBackoff,
			s.config.BackoffMultiplier,
		),
		BackendID: id,
	}
}

// CalculateBackoff returns the delay before restart attempt. Attempts 0 and
// 1 wait initial; later attempts grow by multiplier up to max.
func CalculateBackoff(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt <= 1 {
		return initial
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if delay > float64(max) {
		return max
	}
	return time.Duration(delay)
}
