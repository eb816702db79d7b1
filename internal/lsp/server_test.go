package lsp

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// peerServer is the far end of a Server connected over pipes.
type peerServer struct {
	*Transport

	// toClient is closed to simulate the server process dying.
	toClient *io.PipeWriter

	mu    sync.Mutex
	notes []string
	opens []DocumentURI
}

func (p *peerServer) crash() {
	p.toClient.Close()
}

func (p *peerServer) notifications() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.notes...)
}

func (p *peerServer) opened() []DocumentURI {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]DocumentURI(nil), p.opens...)
}

// newPeer starts a peer answering initialize with capsJSON.
func newPeer(t *testing.T, capsJSON string) (peer *peerServer, r io.Reader, w io.Writer, c io.Closer) {
	t.Helper()
	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()

	peer = &peerServer{Transport: NewTransport(c2sR, s2cW, nil), toClient: s2cW}
	peer.OnRequest("initialize", func(context.Context, string, json.RawMessage) (any, error) {
		return map[string]any{
			"capabilities": json.RawMessage(capsJSON),
			"serverInfo":   map[string]string{"name": "fake", "version": "1.0"},
		}, nil
	})
	peer.OnRequest("shutdown", func(context.Context, string, json.RawMessage) (any, error) {
		return nil, nil
	})
	peer.OnNotification("*", func(method string, params json.RawMessage) {
		peer.mu.Lock()
		defer peer.mu.Unlock()
		peer.notes = append(peer.notes, method)
		if method == "textDocument/didOpen" {
			var p DidOpenTextDocumentParams
			if json.Unmarshal(params, &p) == nil {
				peer.opens = append(peer.opens, p.TextDocument.URI)
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	peer.Start(ctx)
	t.Cleanup(func() {
		cancel()
		peer.Close()
		c2sR.Close()
		s2cW.Close()
	})

	closer := closerFunc(func() error {
		c2sW.Close()
		return s2cR.Close()
	})
	return peer, s2cR, c2sW, closer
}

func connectServer(t *testing.T, name, capsJSON string) (*Server, *peerServer) {
	t.Helper()
	peer, r, w, c := newPeer(t, capsJSON)
	s := NewServer(ServerConfig{Name: name, Timeout: 2 * time.Second}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx, r, w, c, nil))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, peer
}

func TestServer_ConnectHandshake(t *testing.T) {
	s, peer := connectServer(t, "fake", `{"hoverProvider": true}`)

	assert.Equal(t, ServerStatusReady, s.Status())
	assert.True(t, s.Capabilities().Hover.Supported())
	require.NotNil(t, s.Info())
	assert.Equal(t, "fake", s.Info().Name)
	assert.Eventually(t, func() bool {
		for _, n := range peer.notifications() {
			if n == "initialized" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestServer_CallBeforeReady(t *testing.T) {
	s := NewServer(ServerConfig{Name: "idle"}, nil)
	assert.ErrorIs(t, s.Call(context.Background(), "textDocument/hover", nil, nil), ErrServerNotReady)
	assert.ErrorIs(t, s.Notify(context.Background(), "exit", nil), ErrServerNotReady)
}

func TestServer_CallMethodNotFound(t *testing.T) {
	s, peer := connectServer(t, "fake", `{}`)
	peer.OnRequest("textDocument/hover", func(context.Context, string, json.RawMessage) (any, error) {
		return map[string]string{"contents": "doc"}, nil
	})

	var raw json.RawMessage
	require.NoError(t, s.Call(context.Background(), "textDocument/hover", nil, &raw))
	assert.JSONEq(t, `{"contents": "doc"}`, string(raw))

	err := s.Call(context.Background(), "textDocument/unknown", nil, nil)
	assert.ErrorIs(t, err, ErrMethodNotFound)
}

func TestServer_DynamicRegistration(t *testing.T) {
	s, peer := connectServer(t, "fake", `{"hoverProvider": true}`)
	reg := NewRegistry()
	b, err := AttachServer(reg, s, testDoc)
	require.NoError(t, err)
	assert.False(t, b.Capabilities().Formatting.Supported())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = peer.Call(ctx, "client/registerCapability", RegistrationParams{
		Registrations: []Registration{
			{ID: "1", Method: "textDocument/formatting"},
			{ID: "2", Method: "workspace/didChangeWatchedFiles"},
		},
	}, nil)
	require.NoError(t, err)

	cur, ok := reg.Backend(b.ID())
	require.True(t, ok)
	assert.True(t, cur.Capabilities().Formatting.Supported())
	assert.True(t, s.Capabilities().Formatting.Supported())

	err = peer.Call(ctx, "client/unregisterCapability", UnregistrationParams{
		Unregisterations: []Unregistration{{ID: "3", Method: "textDocument/hover"}},
	}, nil)
	require.NoError(t, err)
	cur, _ = reg.Backend(b.ID())
	assert.False(t, cur.Capabilities().Hover.Supported())
}

func TestAttachServer_KeepsRegistrationDuringAttach(t *testing.T) {
	s, peer := connectServer(t, "fake", `{"hoverProvider": true}`)
	reg := NewRegistry()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var once sync.Once
	reg.OnChange(func(ev RegistryEvent) {
		if ev.Kind != BackendAttached {
			return
		}
		once.Do(func() {
			err := peer.Call(ctx, "client/registerCapability", RegistrationParams{
				Registrations: []Registration{{ID: "1", Method: "textDocument/formatting"}},
			}, nil)
			assert.NoError(t, err)
		})
	})

	b, err := AttachServer(reg, s, testDoc)
	require.NoError(t, err)
	require.True(t, s.Capabilities().Formatting.Supported())

	cur, ok := reg.Backend(b.ID())
	require.True(t, ok)
	assert.True(t, cur.Capabilities().Formatting.Supported())
	assert.True(t, cur.Capabilities().Hover.Supported())
}

func TestServer_WorkspaceConfiguration(t *testing.T) {
	_, peer := connectServer(t, "fake", `{}`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got []any
	err := peer.Call(ctx, "workspace/configuration", map[string]any{"items": []any{map[string]any{}, map[string]any{}}}, &got)
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil}, got)
}

func TestAttachServer_DetachesOnExit(t *testing.T) {
	s, peer := connectServer(t, "fake", `{}`)
	reg := NewRegistry()
	b, err := AttachServer(reg, s, testDoc)
	require.NoError(t, err)
	assert.Equal(t, []*Backend{b}, reg.BackendsFor(testDoc))

	peer.crash()

	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("backend not detached after exit")
	}
	assert.Zero(t, reg.Len())
	assert.ErrorIs(t, s.ExitErr(), ErrShutdown)
}

func TestAttachServer_NotReady(t *testing.T) {
	_, err := AttachServer(NewRegistry(), NewServer(ServerConfig{Name: "x"}, nil))
	assert.ErrorIs(t, err, ErrServerNotReady)
}

func TestServer_Shutdown(t *testing.T) {
	s, peer := connectServer(t, "fake", `{}`)
	require.NoError(t, s.Shutdown(context.Background()))

	assert.Equal(t, ServerStatusStopped, s.Status())
	select {
	case <-s.ExitChannel():
	case <-time.After(time.Second):
		t.Fatal("exit channel not closed")
	}
	assert.Eventually(t, func() bool {
		for _, n := range peer.notifications() {
			if n == "exit" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestServerConfig_Handles(t *testing.T) {
	assert.True(t, ServerConfig{}.Handles("go"))
	cfg := ServerConfig{LanguageIDs: []string{"go", "gomod"}}
	assert.True(t, cfg.Handles("gomod"))
	assert.False(t, cfg.Handles("python"))
}
