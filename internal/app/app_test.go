package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/lspmux/internal/config"
	"github.com/dshills/lspmux/internal/lsp"
	"github.com/dshills/lspmux/internal/syntax"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// fakeServers starts in-memory language servers answering hover.
type fakeServers struct {
	mu      sync.Mutex
	starts  map[string]int
	fail    map[string]bool
	opens   map[string][]lsp.DocumentURI
	broken  map[string]bool
	closers []io.Closer
}

func newFakeServers() *fakeServers {
	return &fakeServers{
		starts: make(map[string]int),
		fail:   make(map[string]bool),
		opens:  make(map[string][]lsp.DocumentURI),
		broken: make(map[string]bool),
	}
}

func (f *fakeServers) start(ctx context.Context, cfg lsp.ServerConfig, folders []lsp.WorkspaceFolder) (*lsp.Server, error) {
	f.mu.Lock()
	f.starts[cfg.Name]++
	fail, broken := f.fail[cfg.Name], f.broken[cfg.Name]
	f.mu.Unlock()
	if fail {
		return nil, errors.New("exec: not found")
	}

	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()
	peer := lsp.NewTransport(c2sR, s2cW, closerFunc(func() error {
		c2sR.Close()
		return s2cW.Close()
	}))
	peer.OnRequest("initialize", func(context.Context, string, json.RawMessage) (any, error) {
		return map[string]any{
			"capabilities": map[string]any{"textDocumentSync": 1, "hoverProvider": true},
			"serverInfo":   map[string]any{"name": cfg.Name, "version": "0.1.0"},
		}, nil
	})
	peer.OnRequest("shutdown", func(context.Context, string, json.RawMessage) (any, error) {
		return nil, nil
	})
	peer.OnRequest("textDocument/hover", func(context.Context, string, json.RawMessage) (any, error) {
		if broken {
			return nil, &lsp.RPCError{Code: lsp.CodeInternalError, Message: "boom"}
		}
		return map[string]any{"contents": "from " + cfg.Name}, nil
	})
	peer.OnNotification("*", func(method string, params json.RawMessage) {
		if method != "textDocument/didOpen" {
			return
		}
		var p lsp.DidOpenTextDocumentParams
		if json.Unmarshal(params, &p) == nil {
			f.mu.Lock()
			f.opens[cfg.Name] = append(f.opens[cfg.Name], p.TextDocument.URI)
			f.mu.Unlock()
		}
	})
	peer.Start(context.Background())

	f.mu.Lock()
	f.closers = append(f.closers, peer)
	f.mu.Unlock()

	s := lsp.NewServer(cfg, nil)
	err := s.Connect(ctx, s2cR, c2sW, closerFunc(func() error {
		c2sW.Close()
		return s2cR.Close()
	}), folders)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (f *fakeServers) startCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts[name]
}

func (f *fakeServers) opened(name string) []lsp.DocumentURI {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lsp.DocumentURI(nil), f.opens[name]...)
}

func (f *fakeServers) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.closers {
		_ = c.Close()
	}
}

func server(name string, languages ...string) config.ServerConfig {
	return config.ServerConfig{Name: name, Command: name, Languages: languages}
}

func testConfig(local bool, servers ...config.ServerConfig) *config.Config {
	cfg := config.Default()
	cfg.Local.Enabled = local
	cfg.Executor.RequestTimeout = config.Duration{Duration: 2 * time.Second}
	cfg.Supervisor.MaxRestarts = 0
	cfg.Servers = servers
	return cfg
}

func newApp(t *testing.T, fakes *fakeServers, cfg *config.Config) *Application {
	t.Helper()
	a, err := New(Options{Config: cfg, LogOutput: io.Discard, Starter: fakes.start})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
		fakes.close()
	})
	return a
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func backendNames(a *Application) []string {
	var names []string
	for _, b := range a.Backends() {
		if b.Attached {
			names = append(names, b.Name)
		}
	}
	return names
}

func TestNew_Defaults(t *testing.T) {
	a := newApp(t, newFakeServers(), testConfig(true))

	backends := a.Backends()
	require.Len(t, backends, 1)
	assert.Equal(t, syntax.Name, backends[0].Name)
	assert.True(t, backends[0].Local)
	assert.True(t, backends[0].Capabilities.SemanticTokensFull())
	assert.Equal(t, "Default Dark", a.Theme().Name)
	assert.NotNil(t, a.Colors())
	assert.False(t, a.IsRunning())
}

func TestNew_ThemeFallback(t *testing.T) {
	cfg := testConfig(false)
	cfg.Theme.Path = filepath.Join(t.TempDir(), "missing.yaml")
	a := newApp(t, newFakeServers(), cfg)
	assert.Equal(t, "Default Dark", a.Theme().Name)
}

func TestNew_ThemeFromFile(t *testing.T) {
	cfg := testConfig(false)
	cfg.Theme.Path = writeSource(t, "mono.yaml", "name: Mono\ntypes:\n  keyword:\n    bold: true\n")
	a := newApp(t, newFakeServers(), cfg)
	assert.Equal(t, "Mono", a.Theme().Name)
}

func TestNew_InvalidConfigFile(t *testing.T) {
	path := writeSource(t, "config.toml", "[log]\nlevel = \"loud\"\n")
	_, err := New(Options{ConfigPath: path, LogOutput: io.Discard})

	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "config", initErr.Component)
	var verrs *config.ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestApplication_LocalTokens(t *testing.T) {
	a := newApp(t, newFakeServers(), testConfig(true))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Start(ctx))

	uri, content, err := a.OpenFile(ctx, writeSource(t, "main.go", "package main\n\nfunc main() {}\n"))
	require.NoError(t, err)
	assert.Contains(t, content, "func main")

	got, err := lsp.FetchSemanticTokens(ctx, a.Executor(uri)).Await(ctx)
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.Equal(t, syntax.Name, got.Backend.Name())
	assert.NotEmpty(t, got.Value.Data)
}

func TestApplication_ServersByLanguage(t *testing.T) {
	fakes := newFakeServers()
	a := newApp(t, fakes, testConfig(false, server("gopls", "go"), server("vet", "go"), server("pylsp", "python")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Start(ctx))
	assert.True(t, a.IsRunning())
	assert.Equal(t, []string{"gopls", "pylsp", "vet"}, backendNames(a))
	info := a.Backends()[0]
	assert.Equal(t, "running", info.State)
	assert.Equal(t, "0.1.0", info.Version)
	assert.False(t, info.Started.IsZero())
	assert.True(t, info.Capabilities.Get(lsp.FeatureHover).Supported())

	uri, _, err := a.OpenFile(ctx, writeSource(t, "main.go", "package main\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(fakes.opened("gopls")) == 1 && len(fakes.opened("vet")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uri, fakes.opened("gopls")[0])
	assert.Empty(t, fakes.opened("pylsp"))
	assert.Len(t, a.Registry().BackendsFor(uri), 2)

	got, err := lsp.HoverAt(ctx, a.Executor(uri), lsp.Position{}).Await(ctx)
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.Contains(t, []string{"from gopls", "from vet"}, got.Value.Contents.Value)
	assert.Equal(t, "from "+got.Backend.Name(), got.Value.Contents.Value)
}

func TestApplication_BackendFailuresCounted(t *testing.T) {
	fakes := newFakeServers()
	fakes.broken["gopls"] = true
	a := newApp(t, fakes, testConfig(false, server("gopls", "go")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Start(ctx))

	uri, _, err := a.OpenFile(ctx, writeSource(t, "main.go", "package main\n"))
	require.NoError(t, err)

	got, err := lsp.HoverAt(ctx, a.Executor(uri), lsp.Position{}).Await(ctx)
	require.NoError(t, err)
	assert.False(t, got.Found)
	assert.Eventually(t, func() bool {
		return a.Metrics().Snapshot().BackendFailures == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestApplication_StartFailureIsNotFatal(t *testing.T) {
	fakes := newFakeServers()
	fakes.fail["gopls"] = true
	a := newApp(t, fakes, testConfig(true, server("gopls", "go")))

	require.NoError(t, a.Start(context.Background()))
	backends := a.Backends()
	require.Len(t, backends, 2)
	assert.Equal(t, "gopls", backends[0].Name)
	assert.Equal(t, "failed", backends[0].State)
	assert.False(t, backends[0].Attached)
	assert.Equal(t, syntax.Name, backends[1].Name)
}

func TestApplication_StartTwice(t *testing.T) {
	a := newApp(t, newFakeServers(), testConfig(false))
	require.NoError(t, a.Start(context.Background()))
	assert.ErrorIs(t, a.Start(context.Background()), ErrAlreadyRunning)
}

func TestApplication_Reload(t *testing.T) {
	fakes := newFakeServers()
	gopls := server("gopls", "go")
	a := newApp(t, fakes, testConfig(false, gopls))
	require.NoError(t, a.Start(context.Background()))
	require.Equal(t, []string{"gopls"}, backendNames(a))

	a.Reload(testConfig(true, gopls, server("pylsp", "python")))
	assert.Equal(t, 1, fakes.startCount("gopls"), "unchanged entry keeps running")
	assert.Equal(t, 1, fakes.startCount("pylsp"))
	assert.Equal(t, []string{"gopls", "pylsp", syntax.Name}, backendNames(a))

	changed := gopls
	changed.Args = []string{"-remote=auto"}
	a.Reload(testConfig(true, changed))
	assert.Equal(t, 2, fakes.startCount("gopls"), "changed entry restarts")
	assert.Equal(t, []string{"gopls", syntax.Name}, backendNames(a))

	a.Reload(testConfig(false))
	assert.Empty(t, backendNames(a))
	assert.Empty(t, a.Registry().All())
	assert.Equal(t, uint64(3), a.Metrics().Snapshot().Reloads)
}

func TestApplication_ReloadRetriesFailed(t *testing.T) {
	fakes := newFakeServers()
	fakes.fail["gopls"] = true
	cfg := testConfig(false, server("gopls", "go"))
	a := newApp(t, fakes, cfg)
	require.NoError(t, a.Start(context.Background()))
	require.Empty(t, backendNames(a))

	fakes.mu.Lock()
	fakes.fail["gopls"] = false
	fakes.mu.Unlock()

	a.Reload(testConfig(false, server("gopls", "go")))
	assert.Equal(t, 2, fakes.startCount("gopls"))
	assert.Equal(t, []string{"gopls"}, backendNames(a))
}

func TestApplication_ReloadReopensDocuments(t *testing.T) {
	fakes := newFakeServers()
	a := newApp(t, fakes, testConfig(false))
	require.NoError(t, a.Start(context.Background()))

	uri, _, err := a.OpenFile(context.Background(), writeSource(t, "main.go", "package main\n"))
	require.NoError(t, err)

	a.Reload(testConfig(false, server("gopls", "go")))
	require.Eventually(t, func() bool {
		return len(fakes.opened("gopls")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uri, fakes.opened("gopls")[0])
}

func TestApplication_WatchConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[local]\nenabled = false\n"), 0o644))

	a, err := New(Options{ConfigPath: path, Watch: true, LogOutput: io.Discard})
	require.NoError(t, err)
	defer a.Shutdown(context.Background())
	require.NoError(t, a.Start(context.Background()))
	require.Empty(t, backendNames(a))

	require.NoError(t, os.WriteFile(path, []byte("[local]\nenabled = true\n"), 0o644))
	require.Eventually(t, func() bool {
		return len(backendNames(a)) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, a.Config().Local.Enabled)
}

func TestApplication_Shutdown(t *testing.T) {
	fakes := newFakeServers()
	a := newApp(t, fakes, testConfig(true, server("gopls", "go")))
	require.NoError(t, a.Start(context.Background()))

	_, _, err := a.OpenFile(context.Background(), writeSource(t, "main.go", "package main\n"))
	require.NoError(t, err)

	require.NoError(t, a.Shutdown(context.Background()))
	assert.False(t, a.IsRunning())
	assert.Empty(t, a.Registry().All())
	assert.Empty(t, a.Documents().OpenDocuments())
	assert.NoError(t, a.Shutdown(context.Background()), "second shutdown is a no-op")
}
