package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// fakeHandler answers one method on a fakeConn.
type fakeHandler func(ctx context.Context, params any) (any, error)

// fakeConn is an in-memory Connection.
type fakeConn struct {
	mu       sync.Mutex
	handlers map[string]fakeHandler
	calls    []string
	notes    []string
	params   map[string][]any
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string]fakeHandler), params: make(map[string][]any)}
}

func (c *fakeConn) handle(method string, h fakeHandler) *fakeConn {
	c.mu.Lock()
	c.handlers[method] = h
	c.mu.Unlock()
	return c
}

// reply answers method with a fixed value.
func (c *fakeConn) reply(method string, v any) *fakeConn {
	return c.handle(method, func(context.Context, any) (any, error) { return v, nil })
}

func (c *fakeConn) Call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	h, ok := c.handlers[method]
	c.calls = append(c.calls, method)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
	v, err := h(ctx, params)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}

func (c *fakeConn) Notify(_ context.Context, method string, params any) error {
	c.mu.Lock()
	c.notes = append(c.notes, method)
	c.params[method] = append(c.params[method], params)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) notifications() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.notes...)
}

// sent returns the params of every notification of method, in order.
func (c *fakeConn) sent(method string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.params[method]...)
}

func (c *fakeConn) callCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.calls {
		if m == method {
			n++
		}
	}
	return n
}

// caps parses a capability JSON literal.
func caps(raw string) CapabilitySnapshot {
	return ParseCapabilities([]byte(raw))
}

const testDoc DocumentURI = "file:///tmp/main.go"

// attach attaches conn with caps and connects it to testDoc.
func attach(reg *Registry, name string, conn Connection, c CapabilitySnapshot) *Backend {
	b := reg.Attach(name, conn, c)
	if err := reg.Connect(testDoc, b.ID()); err != nil {
		panic(err)
	}
	return b
}
