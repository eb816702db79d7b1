package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dshills/lspmux/internal/logging"
)

// maxContentLength bounds a single message body.
const maxContentLength = 64 << 20

// Transport handles JSON-RPC 2.0 communication over stdio.
// It implements the LSP base protocol with Content-Length headers.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer
	logger *logging.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   atomic.Int64
	pending  map[int64]chan *Response
	handlers map[string]NotificationHandler
	requests map[string]RequestHandler

	closed   atomic.Bool
	done     chan struct{}
	readDone chan struct{}
}

// NotificationHandler handles incoming notifications from the server.
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler answers a request sent by the server. The returned value is
// marshaled as the result; a returned *RPCError is sent as is.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (any, error)

// Request represents a JSON-RPC request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// inbound is any message read from the server.
type inbound struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// reply answers a server request; the id is echoed verbatim.
type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

// NewTransport creates a new transport over the given connection.
// The conn must support reading and writing (typically stdin/stdout pipes).
func NewTransport(r io.Reader, w io.Writer, c io.Closer) *Transport {
	return &Transport{
		reader:   bufio.NewReaderSize(r, 64*1024),
		writer:   w,
		closer:   c,
		logger:   logging.Nop(),
		pending:  make(map[int64]chan *Response),
		handlers: make(map[string]NotificationHandler),
		requests: make(map[string]RequestHandler),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

// SetLogger sets the logger for protocol errors.
func (t *Transport) SetLogger(logger *logging.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Start begins reading messages from the connection.
func (t *Transport) Start(ctx context.Context) {
	go t.readLoop(ctx)
}

// ReadDone is closed when the read loop stops, typically because the peer
// closed its end.
func (t *Transport) ReadDone() <-chan struct{} {
	return t.readDone
}

// Close closes the transport and releases resources.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil // Already closed
	}

	close(t.done)

	// Waiting callers receive from t.done; channels are not closed to
	// avoid racing handleResponse.
	t.mu.Lock()
	t.pending = make(map[int64]chan *Response)
	t.mu.Unlock()

	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// Call sends a request and waits for a response.
func (t *Transport) Call(ctx context.Context, method string, params any, result any) error {
	if t.closed.Load() {
		return ErrShutdown
	}

	id := t.nextID.Add(1)
	ch := make(chan *Response, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	req := &Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	if err := t.send(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			// Best effort; the server may already have answered.
			_ = t.Notify(context.Background(), "$/cancelRequest", map[string]int64{"id": id})
		}
		return ctx.Err()
	case <-t.done:
		return ErrShutdown
	case <-t.readDone:
		// No response can arrive once the peer's stream has ended.
		select {
		case resp := <-ch:
			return t.decodeResult(resp, result)
		default:
			return ErrShutdown
		}
	case resp := <-ch:
		return t.decodeResult(resp, result)
	}
}

func (t *Transport) decodeResult(resp *Response, result any) error {
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// Notify sends a notification (no response expected).
func (t *Transport) Notify(ctx context.Context, method string, params any) error {
	if t.closed.Load() {
		return ErrShutdown
	}

	req := &Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}

	return t.send(req)
}

// OnNotification registers a handler for server notifications.
// The method "*" matches any notification without its own handler.
func (t *Transport) OnNotification(method string, handler NotificationHandler) {
	t.mu.Lock()
	t.handlers[method] = handler
	t.mu.Unlock()
}

// OnRequest registers a handler for requests sent by the server.
// Requests without a handler are answered with MethodNotFound.
func (t *Transport) OnRequest(method string, handler RequestHandler) {
	t.mu.Lock()
	t.requests[method] = handler
	t.mu.Unlock()
}

// send writes a message with LSP content-length header.
func (t *Transport) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := io.WriteString(t.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	return nil
}

// readLoop reads messages from the connection.
func (t *Transport) readLoop(ctx context.Context) {
	defer close(t.readDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		msg, err := t.readMessage()
		if err != nil {
			if t.closed.Load() {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}
			if errors.Is(err, ErrInvalidFrame) {
				t.logger.Error("read message: %v", err)
				_ = t.Close()
				return
			}
			t.logger.Warn("read message: %v", err)
			continue
		}

		t.dispatch(ctx, msg)
	}
}

// readMessage reads a single LSP message.
func (t *Transport) readMessage() (json.RawMessage, error) {
	var contentLength int
	var seen bool
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break // End of headers
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				length, err := strconv.Atoi(strings.TrimSpace(parts[1]))
				if err == nil {
					contentLength, seen = length, true
				}
			}
		}
		// Ignore Content-Type and other headers
	}

	switch {
	case !seen:
		return nil, fmt.Errorf("%w: missing Content-Length header", ErrInvalidFrame)
	case contentLength <= 0:
		return nil, fmt.Errorf("%w: content length %d", ErrInvalidFrame, contentLength)
	case contentLength > maxContentLength:
		return nil, fmt.Errorf("%w: content length %d exceeds %d", ErrInvalidFrame, contentLength, maxContentLength)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// dispatch routes a message to the appropriate handler.
func (t *Transport) dispatch(ctx context.Context, data json.RawMessage) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		t.logger.Warn("malformed message: %v", err)
		return
	}

	switch {
	case msg.Method != "" && len(msg.ID) > 0:
		go t.handleRequest(ctx, &msg)
	case msg.Method != "":
		t.handleNotification(msg.Method, msg.Params)
	case len(msg.ID) > 0:
		id, err := strconv.ParseInt(string(msg.ID), 10, 64)
		if err != nil {
			t.logger.Warn("response with foreign id %s", msg.ID)
			return
		}
		t.handleResponse(&Response{JSONRPC: "2.0", ID: id, Result: msg.Result, Error: msg.Error})
	}
}

// handleResponse routes a response to its waiting caller.
func (t *Transport) handleResponse(resp *Response) {
	if t.closed.Load() {
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

// handleNotification routes a notification to its handler.
func (t *Transport) handleNotification(method string, params json.RawMessage) {
	t.mu.Lock()
	handler, ok := t.handlers[method]
	if !ok {
		handler, ok = t.handlers["*"]
	}
	t.mu.Unlock()

	if ok && handler != nil {
		// Keep the read loop moving.
		go handler(method, params)
	}
}

// handleRequest answers a request from the server.
func (t *Transport) handleRequest(ctx context.Context, msg *inbound) {
	t.mu.Lock()
	handler, ok := t.requests[msg.Method]
	t.mu.Unlock()

	resp := reply{JSONRPC: "2.0", ID: msg.ID}
	if !ok {
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + msg.Method}
	} else {
		result, err := handler(ctx, msg.Method, msg.Params)
		var rpcErr *RPCError
		switch {
		case errors.As(err, &rpcErr):
			resp.Error = rpcErr
		case err != nil:
			resp.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}
		default:
			resp.Result = result
		}
	}

	if err := t.send(&resp); err != nil {
		t.logger.Warn("reply to %s: %v", msg.Method, err)
	}
}

// IsClosed returns true if the transport has been closed.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}
