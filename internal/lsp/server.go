package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/lspmux/internal/logging"
)

// ServerStatus indicates the current state of a server.
type ServerStatus int

const (
	ServerStatusStopped ServerStatus = iota
	ServerStatusStarting
	ServerStatusInitializing
	ServerStatusReady
	ServerStatusShuttingDown
	ServerStatusError
)

// String returns a human-readable status name.
func (s ServerStatus) String() string {
	switch s {
	case ServerStatusStopped:
		return "stopped"
	case ServerStatusStarting:
		return "starting"
	case ServerStatusInitializing:
		return "initializing"
	case ServerStatusReady:
		return "ready"
	case ServerStatusShuttingDown:
		return "shutting down"
	case ServerStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ServerConfig defines how to start a language server.
type ServerConfig struct {
	// Name identifies the server in logs and the registry.
	Name string

	// Command is the executable to run.
	Command string

	// Args are command-line arguments.
	Args []string

	// Env are additional environment variables.
	Env map[string]string

	// WorkDir is the working directory (defaults to workspace root).
	WorkDir string

	// InitializationOptions are sent during initialize.
	InitializationOptions any

	// LanguageIDs that this server handles (e.g., "go").
	LanguageIDs []string

	// Timeout for requests without a deadline (default: 30s).
	Timeout time.Duration
}

// Handles reports whether the server is configured for languageID.
// A server with no languages handles every document.
func (c ServerConfig) Handles(languageID string) bool {
	if len(c.LanguageIDs) == 0 {
		return true
	}
	for _, id := range c.LanguageIDs {
		if id == languageID {
			return true
		}
	}
	return false
}

// Server is a language server reached over JSON-RPC. It implements
// Connection.
type Server struct {
	mu sync.Mutex

	config ServerConfig
	logger *logging.Logger

	// Process management
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	transport *Transport

	status     atomic.Int32
	caps       CapabilitySnapshot
	serverInfo *ServerInfo
	lastError  error

	capsMu       sync.Mutex
	capsHandlers []func(CapabilitySnapshot)

	workspaceFolders []WorkspaceFolder

	// Lifecycle
	cancel   context.CancelFunc
	exitCh   chan struct{}
	exitOnce sync.Once
	exitErr  error
}

// NewServer creates a new server instance (not yet started).
func NewServer(config ServerConfig, logger *logging.Logger) *Server {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = config.Command
	}
	if logger == nil {
		logger = logging.Nop()
	}

	s := &Server{
		config: config,
		logger: logger.WithComponent("server").WithField("server", config.Name),
		caps:   ParseCapabilities(nil),
		exitCh: make(chan struct{}),
	}
	s.status.Store(int32(ServerStatusStopped))
	return s
}

// Name returns the configured server name.
func (s *Server) Name() string {
	return s.config.Name
}

// Config returns the server configuration.
func (s *Server) Config() ServerConfig {
	return s.config
}

// Start starts the language server process and initializes it.
func (s *Server) Start(ctx context.Context, workspaceFolders []WorkspaceFolder) error {
	s.mu.Lock()
	if s.Status() != ServerStatusStopped {
		s.mu.Unlock()
		return fmt.Errorf("server %s already started", s.config.Name)
	}
	s.status.Store(int32(ServerStatusStarting))
	s.workspaceFolders = workspaceFolders

	if err := s.startProcess(); err != nil {
		s.status.Store(int32(ServerStatusError))
		s.lastError = err
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	go s.monitorProcess()
	go s.drainStderr()

	return s.Connect(ctx, s.stdout, s.stdin, nil, workspaceFolders)
}

// Connect runs the initialize handshake over an established stream. Start
// calls it with the process pipes.
func (s *Server) Connect(ctx context.Context, r io.Reader, w io.Writer, c io.Closer, workspaceFolders []WorkspaceFolder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.Status() {
	case ServerStatusStopped, ServerStatusStarting:
	default:
		return fmt.Errorf("server %s already connected", s.config.Name)
	}

	s.workspaceFolders = workspaceFolders

	// The transport outlives ctx, which only bounds the handshake.
	var lifeCtx context.Context
	lifeCtx, s.cancel = context.WithCancel(context.Background())

	s.transport = NewTransport(r, w, c)
	s.transport.SetLogger(s.logger)
	s.registerHandlers()
	s.transport.Start(lifeCtx)

	go func() {
		select {
		case <-s.transport.ReadDone():
			s.markExited(ErrShutdown)
		case <-s.exitCh:
		}
	}()

	s.status.Store(int32(ServerStatusInitializing))
	if err := s.initialize(ctx); err != nil {
		s.status.Store(int32(ServerStatusError))
		s.lastError = err
		s.stopProcess()
		return fmt.Errorf("initialize %s: %w", s.config.Name, err)
	}

	s.status.Store(int32(ServerStatusReady))
	s.logger.Info("ready")
	return nil
}

// startProcess starts the language server executable.
func (s *Server) startProcess() error {
	cmd := exec.Command(s.config.Command, s.config.Args...)

	cmd.Env = os.Environ()
	for k, v := range s.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	if s.config.WorkDir != "" {
		cmd.Dir = s.config.WorkDir
	} else if len(s.workspaceFolders) > 0 {
		cmd.Dir = URIToFilePath(s.workspaceFolders[0].URI)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start process %s: %w", s.config.Command, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = stdout
	s.stderr = stderr

	return nil
}

// monitorProcess watches the process and signals when it exits.
func (s *Server) monitorProcess() {
	err := s.cmd.Wait()
	if err != nil {
		s.logger.Warn("process exited: %v", err)
	} else {
		s.logger.Info("process exited")
	}
	s.markExited(err)
}

// drainStderr keeps the server from blocking on a full stderr pipe.
func (s *Server) drainStderr() {
	buf := make([]byte, 4096)
	for {
		n, err := s.stderr.Read(buf)
		if n > 0 {
			s.logger.Debug("stderr: %s", buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) markExited(err error) {
	s.exitOnce.Do(func() {
		s.exitErr = err
		close(s.exitCh)
	})
}

// stopProcess stops the server process.
func (s *Server) stopProcess() {
	if s.transport != nil {
		s.transport.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}

	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.stdout != nil {
		s.stdout.Close()
	}

	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	} else {
		s.markExited(ErrShutdown)
	}
}

// initialize performs the LSP initialize handshake.
func (s *Server) initialize(ctx context.Context) error {
	var rootURI DocumentURI
	if len(s.workspaceFolders) > 0 {
		rootURI = s.workspaceFolders[0].URI
	}

	params := InitializeParams{
		ProcessID:             os.Getpid(),
		RootURI:               rootURI,
		Capabilities:          DefaultClientCapabilities(),
		InitializationOptions: s.config.InitializationOptions,
		WorkspaceFolders:      s.workspaceFolders,
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var result InitializeResult
	if err := s.transport.Call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	s.capsMu.Lock()
	s.caps = ParseCapabilities(result.Capabilities)
	s.capsMu.Unlock()
	s.serverInfo = result.ServerInfo

	if err := s.transport.Notify(ctx, "initialized", InitializedParams{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	return nil
}

// registerHandlers answers the server-to-client traffic we understand.
func (s *Server) registerHandlers() {
	s.transport.OnRequest("client/registerCapability", func(_ context.Context, _ string, params json.RawMessage) (any, error) {
		var p RegistrationParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
		}
		s.patchCapabilities(func(c CapabilitySnapshot) CapabilitySnapshot {
			for _, reg := range p.Registrations {
				if _, ok := FeatureForMethod(reg.Method); !ok {
					s.logger.Debug("ignoring registration for %s", reg.Method)
					continue
				}
				c = c.WithRegistration(reg.Method, reg.RegisterOptions)
			}
			return c
		})
		return nil, nil
	})

	s.transport.OnRequest("client/unregisterCapability", func(_ context.Context, _ string, params json.RawMessage) (any, error) {
		var p UnregistrationParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
		}
		s.patchCapabilities(func(c CapabilitySnapshot) CapabilitySnapshot {
			for _, u := range p.Unregisterations {
				c = c.WithoutRegistration(u.Method)
			}
			return c
		})
		return nil, nil
	})

	s.transport.OnRequest("workspace/configuration", func(_ context.Context, _ string, params json.RawMessage) (any, error) {
		var p struct {
			Items []json.RawMessage `json:"items"`
		}
		_ = json.Unmarshal(params, &p)
		return make([]any, len(p.Items)), nil
	})

	s.transport.OnRequest("window/workDoneProgress/create", func(context.Context, string, json.RawMessage) (any, error) {
		return nil, nil
	})

	s.transport.OnNotification("window/logMessage", func(_ string, params json.RawMessage) {
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(params, &p); err == nil {
			s.logger.Debug("log: %s", p.Message)
		}
	})
}

func (s *Server) patchCapabilities(patch func(CapabilitySnapshot) CapabilitySnapshot) {
	s.capsMu.Lock()
	s.caps = patch(s.caps)
	caps := s.caps
	handlers := append([]func(CapabilitySnapshot){}, s.capsHandlers...)
	s.capsMu.Unlock()

	for _, h := range handlers {
		h(caps)
	}
}

// OnCapabilitiesChanged registers a handler called after dynamic
// registration changes the capability snapshot.
func (s *Server) OnCapabilitiesChanged(handler func(CapabilitySnapshot)) {
	s.capsMu.Lock()
	s.capsHandlers = append(s.capsHandlers, handler)
	s.capsMu.Unlock()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.Status()
	if status == ServerStatusStopped || status == ServerStatusShuttingDown {
		return nil
	}

	s.status.Store(int32(ServerStatusShuttingDown))

	if s.transport != nil && !s.transport.IsClosed() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		_ = s.transport.Call(shutdownCtx, "shutdown", nil, nil)
		_ = s.transport.Notify(shutdownCtx, "exit", nil)
	}

	s.stopProcess()

	s.status.Store(int32(ServerStatusStopped))
	s.logger.Info("stopped")
	return nil
}

// Status returns the current server status.
func (s *Server) Status() ServerStatus {
	return ServerStatus(s.status.Load())
}

// Capabilities returns the current capability snapshot.
func (s *Server) Capabilities() CapabilitySnapshot {
	s.capsMu.Lock()
	defer s.capsMu.Unlock()
	return s.caps
}

// Info returns the server information reported during initialization.
func (s *Server) Info() *ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// LastError returns the last error that occurred.
func (s *Server) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// ExitChannel is closed when the server process exits or its stream ends.
func (s *Server) ExitChannel() <-chan struct{} {
	return s.exitCh
}

// ExitErr returns the process exit error once ExitChannel is closed.
func (s *Server) ExitErr() error {
	select {
	case <-s.exitCh:
		return s.exitErr
	default:
		return nil
	}
}

// Call implements Connection. Requests without a deadline get the
// configured timeout.
func (s *Server) Call(ctx context.Context, method string, params, result any) error {
	if s.Status() != ServerStatusReady {
		return ErrServerNotReady
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	err := s.transport.Call(ctx, method, params, result)
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == CodeMethodNotFound {
		return fmt.Errorf("%w: %s: %w", ErrMethodNotFound, method, err)
	}
	return err
}

// Notify implements Connection.
func (s *Server) Notify(ctx context.Context, method string, params any) error {
	if s.Status() != ServerStatusReady {
		return ErrServerNotReady
	}
	return s.transport.Notify(ctx, method, params)
}

// Close implements Connection by shutting the server down.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

// AttachServer attaches a ready server to reg, connects it to docs, keeps
// its registry record in step with dynamic registration and detaches it when
// the server exits.
func AttachServer(reg *Registry, s *Server, docs ...DocumentURI) (*Backend, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrServerNotReady
	}

	b := reg.Attach(s.Name(), s, s.Capabilities())
	for _, doc := range docs {
		if err := reg.Connect(doc, b.ID()); err != nil {
			return nil, err
		}
	}

	// Each sync publishes the server's latest snapshot, so updates delivered
	// out of order, or before the handler existed, still converge.
	var syncMu sync.Mutex
	syncCaps := func() {
		syncMu.Lock()
		defer syncMu.Unlock()
		if err := reg.UpdateCapabilities(b.ID(), s.Capabilities()); err != nil {
			s.logger.Debug("capability update after detach: %v", err)
		}
	}
	s.OnCapabilitiesChanged(func(CapabilitySnapshot) { syncCaps() })
	syncCaps()

	go func() {
		select {
		case <-s.ExitChannel():
			if err := reg.Detach(b.ID()); err == nil {
				s.logger.Warn("detached after exit: %v", s.ExitErr())
			}
		case <-b.Done():
		}
	}()

	return b, nil
}
