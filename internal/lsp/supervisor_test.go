package lsp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peerStarter connects each started server to a fresh peer and hands the
// peers to the test in start order.
type peerStarter struct {
	t     *testing.T
	caps  string
	peers chan *peerServer

	mu    sync.Mutex
	fails int
}

func newPeerStarter(t *testing.T, caps string) *peerStarter {
	return &peerStarter{t: t, caps: caps, peers: make(chan *peerServer, 8)}
}

// failNext makes the next n starts fail.
func (p *peerStarter) failNext(n int) {
	p.mu.Lock()
	p.fails = n
	p.mu.Unlock()
}

func (p *peerStarter) start(ctx context.Context, config ServerConfig, folders []WorkspaceFolder) (*Server, error) {
	p.mu.Lock()
	if p.fails > 0 {
		p.fails--
		p.mu.Unlock()
		return nil, errors.New("spawn failed")
	}
	p.mu.Unlock()

	peer, r, w, c := newPeer(p.t, p.caps)
	s := NewServer(config, nil)
	if err := s.Connect(ctx, r, w, c, folders); err != nil {
		return nil, err
	}
	p.peers <- peer
	return s, nil
}

func (p *peerStarter) next(t *testing.T) *peerServer {
	t.Helper()
	select {
	case peer := <-p.peers:
		return peer
	case <-time.After(2 * time.Second):
		t.Fatal("no server started")
		return nil
	}
}

func fastRestarts(max int) SupervisorConfig {
	return SupervisorConfig{
		MaxRestarts:       max,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		BackoffMultiplier: 2,
		ResetWindow:       time.Hour,
	}
}

func nextEvent(t *testing.T, sup *Supervisor) SupervisorEvent {
	t.Helper()
	select {
	case ev := <-sup.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no supervisor event")
		return SupervisorEvent{}
	}
}

func TestSupervisor_RestartsAndReopensDocuments(t *testing.T) {
	reg := NewRegistry()
	docs := NewDocumentManager(reg)
	starter := newPeerStarter(t, `{"hoverProvider": true}`)
	sup := NewSupervisor(reg, ServerConfig{Name: "fake"}, fastRestarts(3), WithServerStarter(starter.start))

	require.NoError(t, sup.Start(context.Background(), nil))
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })
	first := starter.next(t)
	firstBackend := sup.Backend()
	require.NotNil(t, firstBackend)
	assert.Equal(t, SupervisorStateRunning, sup.State())

	uri, err := docs.OpenDocument(context.Background(), "/tmp/main.go", "package main\n")
	require.NoError(t, err)

	first.crash()

	assert.Equal(t, SupervisorEventCrash, nextEvent(t, sup).Type)
	restarting := nextEvent(t, sup)
	assert.Equal(t, SupervisorEventRestarting, restarting.Type)
	assert.Equal(t, 5*time.Millisecond, restarting.NextRetry)
	assert.Equal(t, SupervisorEventRecovered, nextEvent(t, sup).Type)

	second := starter.next(t)
	require.Eventually(t, func() bool {
		all := reg.All()
		return len(all) == 1 && all[0].ID() != firstBackend.ID()
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, firstBackend.Detached())

	require.Eventually(t, func() bool {
		opened := second.opened()
		return len(opened) == 1 && opened[0] == uri
	}, 2*time.Second, 5*time.Millisecond, "document re-opened on the new backend")

	assert.Equal(t, 1, sup.RestartCount())
	assert.Equal(t, sup.Backend().ID(), sup.Stats().BackendID)
}

func TestSupervisor_GivesUp(t *testing.T) {
	reg := NewRegistry()
	starter := newPeerStarter(t, `{}`)
	sup := NewSupervisor(reg, ServerConfig{Name: "fake"}, fastRestarts(1), WithServerStarter(starter.start))

	require.NoError(t, sup.Start(context.Background(), nil))
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })
	peer := starter.next(t)

	starter.failNext(10)
	peer.crash()

	var types []SupervisorEventType
	for {
		ev := nextEvent(t, sup)
		types = append(types, ev.Type)
		if ev.Type == SupervisorEventFailed {
			break
		}
	}
	assert.Equal(t, []SupervisorEventType{
		SupervisorEventCrash,
		SupervisorEventRestarting,
		SupervisorEventCrash,
		SupervisorEventFailed,
	}, types)
	assert.Equal(t, SupervisorStateFailed, sup.State())
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSupervisor_Stop(t *testing.T) {
	reg := NewRegistry()
	starter := newPeerStarter(t, `{}`)
	sup := NewSupervisor(reg, ServerConfig{Name: "fake"}, fastRestarts(3), WithServerStarter(starter.start))

	require.NoError(t, sup.Start(context.Background(), nil))
	starter.next(t)
	require.Equal(t, 1, reg.Len())

	require.NoError(t, sup.Stop(context.Background()))
	assert.Equal(t, SupervisorStateStopped, sup.State())
	assert.Zero(t, reg.Len())
	assert.Nil(t, sup.Server())

	_, open := <-sup.Events()
	assert.False(t, open, "events closed on stop")
	require.NoError(t, sup.Stop(context.Background()))
}

func TestSupervisor_StartTwice(t *testing.T) {
	starter := newPeerStarter(t, `{}`)
	sup := NewSupervisor(NewRegistry(), ServerConfig{Name: "fake"}, fastRestarts(1), WithServerStarter(starter.start))
	require.NoError(t, sup.Start(context.Background(), nil))
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })

	assert.ErrorIs(t, sup.Start(context.Background(), nil), ErrServerAlreadyRunning)
}

func TestSupervisor_StartFailure(t *testing.T) {
	starter := newPeerStarter(t, `{}`)
	starter.failNext(1)
	sup := NewSupervisor(NewRegistry(), ServerConfig{Name: "fake"}, fastRestarts(1), WithServerStarter(starter.start))

	assert.Error(t, sup.Start(context.Background(), nil))
	assert.Equal(t, SupervisorStateFailed, sup.State())
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CalculateBackoff(tt.attempt, time.Second, 30*time.Second, 2), "attempt %d", tt.attempt)
	}
}
