package lsp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dshills/lspmux/internal/logging"
)

// DocumentManager tracks open documents, connects them to the backends that
// handle their language and keeps those backends in sync with full-text
// notifications.
type DocumentManager struct {
	mu        sync.RWMutex
	documents map[DocumentURI]*ManagedDocument
	reg       *Registry

	// openMu serializes connect-and-open with change and close, so a
	// backend is opened once and never with stale text.
	openMu sync.Mutex

	selector func(b *Backend, languageID string) bool
	logger   *logging.Logger
	timeout  time.Duration
}

// ManagedDocument represents an open document with its state and metadata.
type ManagedDocument struct {
	URI        DocumentURI
	Path       string
	LanguageID string
	Version    int
	Content    string

	OpenedAt   time.Time
	ModifiedAt time.Time
}

// DocumentManagerOption configures the document manager.
type DocumentManagerOption func(*DocumentManager)

// WithBackendSelector decides which backends serve a language. By default
// every attached backend serves every document.
func WithBackendSelector(fn func(b *Backend, languageID string) bool) DocumentManagerOption {
	return func(dm *DocumentManager) {
		dm.selector = fn
	}
}

// WithDocumentLogger sets the logger.
func WithDocumentLogger(logger *logging.Logger) DocumentManagerOption {
	return func(dm *DocumentManager) {
		if logger != nil {
			dm.logger = logger
		}
	}
}

// WithNotifyTimeout bounds each notification sent to a backend.
func WithNotifyTimeout(d time.Duration) DocumentManagerOption {
	return func(dm *DocumentManager) {
		dm.timeout = d
	}
}

// NewDocumentManager creates a document manager over reg. Backends attached
// later are connected to, and opened with, every matching open document.
func NewDocumentManager(reg *Registry, opts ...DocumentManagerOption) *DocumentManager {
	dm := &DocumentManager{
		documents: make(map[DocumentURI]*ManagedDocument),
		reg:       reg,
		selector:  func(*Backend, string) bool { return true },
		logger:    logging.Nop(),
		timeout:   5 * time.Second,
	}

	for _, opt := range opts {
		opt(dm)
	}
	dm.logger = dm.logger.WithComponent("documents")

	reg.OnChange(func(ev RegistryEvent) {
		if ev.Kind == BackendAttached {
			go dm.openAllOn(ev.Backend)
		}
	})

	return dm
}

// OpenDocument opens a document and announces it to its backends.
func (dm *DocumentManager) OpenDocument(ctx context.Context, path, content string) (DocumentURI, error) {
	uri := FilePathToURI(path)
	now := time.Now()

	dm.mu.Lock()
	if _, exists := dm.documents[uri]; exists {
		dm.mu.Unlock()
		return uri, ErrDocumentAlreadyOpen
	}
	doc := &ManagedDocument{
		URI:        uri,
		Path:       path,
		LanguageID: DetectLanguageID(path),
		Version:    1,
		Content:    content,
		OpenedAt:   now,
		ModifiedAt: now,
	}
	dm.documents[uri] = doc
	languageID := doc.LanguageID
	dm.mu.Unlock()

	for _, b := range dm.reg.All() {
		dm.openOn(ctx, b, uri, languageID)
	}
	return uri, nil
}

// openOn connects the document at uri to b and sends didOpen with its
// current text when b serves its language. A document closed in the meantime
// is skipped.
func (dm *DocumentManager) openOn(ctx context.Context, b *Backend, uri DocumentURI, languageID string) {
	if !dm.selector(b, languageID) {
		return
	}
	dm.openMu.Lock()
	defer dm.openMu.Unlock()
	doc, ok := dm.GetDocument(uri)
	if !ok {
		return
	}
	for _, connected := range dm.reg.BackendsFor(uri) {
		if connected.ID() == b.ID() {
			return
		}
	}
	if err := dm.reg.Connect(uri, b.ID()); err != nil {
		dm.logger.Debug("connect %s to %s: %v", uri, b, err)
		return
	}
	params := DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        doc.URI,
			LanguageID: doc.LanguageID,
			Version:    doc.Version,
			Text:       doc.Content,
		},
	}
	dm.notify(ctx, b, "textDocument/didOpen", params)
}

func (dm *DocumentManager) openAllOn(b *Backend) {
	for _, doc := range dm.snapshots() {
		dm.openOn(context.Background(), b, doc.URI, doc.LanguageID)
	}
}

// ChangeDocument replaces a document's content and sends the full text to
// its backends.
func (dm *DocumentManager) ChangeDocument(ctx context.Context, uri DocumentURI, content string) error {
	dm.openMu.Lock()
	defer dm.openMu.Unlock()

	dm.mu.Lock()
	doc, exists := dm.documents[uri]
	if !exists {
		dm.mu.Unlock()
		return ErrDocumentNotOpen
	}
	doc.Version++
	doc.Content = content
	doc.ModifiedAt = time.Now()
	version := doc.Version
	dm.mu.Unlock()

	params := DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: uri},
			Version:                version,
		},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: content}},
	}
	for _, b := range dm.reg.BackendsFor(uri) {
		dm.notify(ctx, b, "textDocument/didChange", params)
	}
	return nil
}

// CloseDocument closes a document and disconnects it from its backends.
func (dm *DocumentManager) CloseDocument(ctx context.Context, uri DocumentURI) error {
	dm.openMu.Lock()
	defer dm.openMu.Unlock()

	dm.mu.Lock()
	if _, exists := dm.documents[uri]; !exists {
		dm.mu.Unlock()
		return ErrDocumentNotOpen
	}
	delete(dm.documents, uri)
	dm.mu.Unlock()

	params := DidCloseTextDocumentParams{TextDocument: TextDocumentIdentifier{URI: uri}}
	for _, b := range dm.reg.BackendsFor(uri) {
		dm.notify(ctx, b, "textDocument/didClose", params)
		dm.reg.Disconnect(uri, b.ID())
	}
	return nil
}

func (dm *DocumentManager) notify(ctx context.Context, b *Backend, method string, params any) {
	if dm.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dm.timeout)
		defer cancel()
	}
	if err := b.Conn().Notify(ctx, method, params); err != nil {
		dm.logger.WithField("backend", b.Name()).Warn("%s: %v", method, err)
	}
}

// GetDocument returns a copy of an open document.
func (dm *DocumentManager) GetDocument(uri DocumentURI) (ManagedDocument, bool) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	doc, ok := dm.documents[uri]
	if !ok {
		return ManagedDocument{}, false
	}
	return *doc, true
}

// Converter returns a position converter over the document's current text.
func (dm *DocumentManager) Converter(uri DocumentURI) (*PositionConverter, bool) {
	doc, ok := dm.GetDocument(uri)
	if !ok {
		return nil, false
	}
	return NewPositionConverter(doc.Content), true
}

// OpenDocuments returns the URIs of all open documents, sorted.
func (dm *DocumentManager) OpenDocuments() []DocumentURI {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	uris := make([]DocumentURI, 0, len(dm.documents))
	for uri := range dm.documents {
		uris = append(uris, uri)
	}
	sort.Slice(uris, func(i, j int) bool { return uris[i] < uris[j] })
	return uris
}

func (dm *DocumentManager) snapshots() []ManagedDocument {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	out := make([]ManagedDocument, 0, len(dm.documents))
	for _, doc := range dm.documents {
		out = append(out, *doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// CloseAll closes every open document.
func (dm *DocumentManager) CloseAll(ctx context.Context) {
	for _, uri := range dm.OpenDocuments() {
		_ = dm.CloseDocument(ctx, uri)
	}
}
