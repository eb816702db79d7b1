package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the lsp package.
var (
	// ErrShutdown indicates the connection has been shut down.
	ErrShutdown = errors.New("connection shut down")

	// ErrServerAlreadyRunning indicates a supervisor or server was started twice.
	ErrServerAlreadyRunning = errors.New("server already running")

	// ErrServerNotReady indicates the server is not ready to handle requests.
	ErrServerNotReady = errors.New("server not ready")

	// ErrNotSupported indicates the backend does not support the requested feature.
	ErrNotSupported = errors.New("feature not supported by backend")

	// ErrBackendUnavailable indicates the backend detached while a request was outstanding.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrUnknownBackend indicates no backend with the given id is attached.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrNilRequest indicates a nil request function was passed to the executor.
	ErrNilRequest = errors.New("nil request function")

	// ErrInvalidLocation indicates a line/character pair outside the document.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrMethodNotFound indicates a connection does not handle the method.
	ErrMethodNotFound = errors.New("method not found")

	// ErrInvalidResponse indicates an invalid response from the backend.
	ErrInvalidResponse = errors.New("invalid response from backend")

	// ErrDocumentNotOpen indicates the document is not open.
	ErrDocumentNotOpen = errors.New("document not open")

	// ErrDocumentAlreadyOpen indicates the document is already open.
	ErrDocumentAlreadyOpen = errors.New("document already open")

	// ErrInvalidFrame indicates a message header the stream cannot be
	// resynchronized after.
	ErrInvalidFrame = errors.New("invalid message frame")
)

// RPCError represents a JSON-RPC error from the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	// JSON-RPC standard errors
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeServerCancelled      = -32802
	CodeRequestFailed        = -32803
)

// BackendError attributes a request failure to one backend.
type BackendError struct {
	BackendID string
	Name      string
	Err       error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s (%s): %v", e.Name, e.BackendID, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking request function.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("request panicked: %v", e.Value)
}
