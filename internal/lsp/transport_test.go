package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// transportPair connects a client transport to a peer transport acting as
// the server.
func transportPair(t *testing.T) (client, peer *Transport) {
	t.Helper()
	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()

	client = NewTransport(s2cR, c2sW, nil)
	peer = NewTransport(c2sR, s2cW, nil)

	ctx, cancel := context.WithCancel(context.Background())
	client.Start(ctx)
	peer.Start(ctx)

	t.Cleanup(func() {
		cancel()
		client.Close()
		peer.Close()
		c2sW.Close()
		s2cW.Close()
		c2sR.Close()
		s2cR.Close()
	})
	return client, peer
}

func TestTransport_Call(t *testing.T) {
	client, peer := transportPair(t)
	peer.OnRequest("test/echo", func(_ context.Context, _ string, params json.RawMessage) (any, error) {
		var in map[string]string
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, err
		}
		return map[string]string{"echo": in["message"]}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result map[string]string
	err := client.Call(ctx, "test/echo", map[string]string{"message": "hi"}, &result)
	require.NoError(t, err)
	assert.Equal(t, "hi", result["echo"])
}

func TestTransport_CallRPCError(t *testing.T) {
	client, peer := transportPair(t)
	peer.OnRequest("test/fail", func(context.Context, string, json.RawMessage) (any, error) {
		return nil, &RPCError{Code: CodeRequestFailed, Message: "nope"}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.Call(ctx, "test/fail", nil, nil)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, CodeRequestFailed, rpcErr.Code)
	assert.Equal(t, "nope", rpcErr.Message)
}

func TestTransport_UnhandledRequestIsMethodNotFound(t *testing.T) {
	client, _ := transportPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.Call(ctx, "test/unknown", nil, nil)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, CodeMethodNotFound, rpcErr.Code)
}

func TestTransport_HandlerErrorIsInternalError(t *testing.T) {
	client, peer := transportPair(t)
	peer.OnRequest("test/broken", func(context.Context, string, json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.Call(ctx, "test/broken", nil, nil)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, CodeInternalError, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "boom")
}

func TestTransport_Notification(t *testing.T) {
	client, peer := transportPair(t)

	got := make(chan string, 1)
	peer.OnNotification("test/ping", func(_ string, params json.RawMessage) {
		got <- string(params)
	})

	require.NoError(t, client.Notify(context.Background(), "test/ping", map[string]int{"n": 1}))

	select {
	case p := <-got:
		assert.JSONEq(t, `{"n":1}`, p)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestTransport_WildcardNotification(t *testing.T) {
	client, peer := transportPair(t)

	got := make(chan string, 1)
	peer.OnNotification("*", func(method string, _ json.RawMessage) {
		got <- method
	})

	require.NoError(t, client.Notify(context.Background(), "window/logMessage", nil))

	select {
	case m := <-got:
		assert.Equal(t, "window/logMessage", m)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestTransport_CallTimeout(t *testing.T) {
	client, peer := transportPair(t)
	release := make(chan struct{})
	defer close(release)
	peer.OnRequest("test/slow", func(context.Context, string, json.RawMessage) (any, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Call(ctx, "test/slow", nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransport_Closed(t *testing.T) {
	client, _ := transportPair(t)
	require.NoError(t, client.Close())
	assert.True(t, client.IsClosed())

	assert.ErrorIs(t, client.Call(context.Background(), "x", nil, nil), ErrShutdown)
	assert.ErrorIs(t, client.Notify(context.Background(), "x", nil), ErrShutdown)
	assert.NoError(t, client.Close())
}

func TestTransport_Framing(t *testing.T) {
	r, w := io.Pipe()
	tr := NewTransport(strings.NewReader(""), w, nil)

	go func() {
		_ = tr.Notify(context.Background(), "test/frame", map[string]string{"a": "b"})
		w.Close()
	}()

	br := bufio.NewReader(r)
	header, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(header, "Content-Length: "))

	blank, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "\r\n", blank)

	body, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"jsonrpc":"2.0"`)
	assert.Contains(t, string(body), `"method":"test/frame"`)
}

func TestTransport_ReadDoneOnEOF(t *testing.T) {
	tr := NewTransport(strings.NewReader(""), io.Discard, nil)
	tr.Start(context.Background())

	select {
	case <-tr.ReadDone():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop on EOF")
	}
}

func TestTransport_ReadMessageRejectsBadLength(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"negative", "Content-Length: -5\r\n\r\n{}"},
		{"zero", "Content-Length: 0\r\n\r\n{}"},
		{"missing", "Content-Type: application/json\r\n\r\n{}"},
		{"oversized", "Content-Length: 1099511627776\r\n\r\n{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTransport(strings.NewReader(tt.header), io.Discard, nil)
			var (
				msg json.RawMessage
				err error
			)
			require.NotPanics(t, func() { msg, err = tr.readMessage() })
			assert.ErrorIs(t, err, ErrInvalidFrame)
			assert.Nil(t, msg)
		})
	}
}

func TestTransport_BadLengthStopsReadLoop(t *testing.T) {
	// The trailing valid frame must never be dispatched.
	input := "Content-Length: -5\r\n\r\n{}" +
		"Content-Length: 40\r\n\r\n" + `{"jsonrpc":"2.0","method":"late/notify"}`
	tr := NewTransport(strings.NewReader(input), io.Discard, nil)

	delivered := make(chan struct{}, 1)
	tr.OnNotification("late/notify", func(string, json.RawMessage) { delivered <- struct{}{} })
	tr.Start(context.Background())

	select {
	case <-tr.ReadDone():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop on a bad frame")
	}
	assert.True(t, tr.IsClosed())
	assert.ErrorIs(t, tr.Notify(context.Background(), "x", nil), ErrShutdown)
	assert.Empty(t, delivered)
}
