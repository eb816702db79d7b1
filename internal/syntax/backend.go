// Package syntax is an in-process backend that answers semantic token
// requests from tree-sitter parse trees. It needs no external server and
// serves as the reference backend for the languages it has grammars for.
package syntax

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/dshills/lspmux/internal/logging"
	"github.com/dshills/lspmux/internal/lsp"
)

// Name is the registry name of the local backend.
const Name = "syntax"

// document is a parsed open document.
type document struct {
	languageID string
	version    int
	content    string
	tree       *sitter.Tree
}

func (d *document) close() {
	if d.tree != nil {
		d.tree.Close()
		d.tree = nil
	}
}

// Backend implements lsp.Connection over tree-sitter.
type Backend struct {
	mu     sync.Mutex
	docs   map[lsp.DocumentURI]*document
	logger *logging.Logger
	closed bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a local syntax backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		docs:   make(map[lsp.DocumentURI]*document),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.WithComponent(Name)
	return b
}

// Capabilities returns the snapshot the backend is attached with.
func (b *Backend) Capabilities() lsp.CapabilitySnapshot {
	raw, _ := json.Marshal(map[string]any{
		"textDocumentSync": 1,
		"semanticTokensProvider": lsp.SemanticTokensOptions{
			Legend: Legend(),
			Full:   true,
		},
	})
	return lsp.ParseCapabilities(raw)
}

// Handles reports whether the backend has a grammar for languageID.
func (b *Backend) Handles(languageID string) bool {
	_, ok := GrammarFor(languageID)
	return ok
}

// Attach attaches the backend to reg under Name.
func (b *Backend) Attach(reg *lsp.Registry) *lsp.Backend {
	return reg.Attach(Name, b, b.Capabilities())
}

// Call implements lsp.Connection.
func (b *Backend) Call(ctx context.Context, method string, params, result any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch method {
	case "textDocument/semanticTokens/full":
		var p lsp.SemanticTokensParams
		if err := convert(params, &p); err != nil {
			return &lsp.RPCError{Code: lsp.CodeInvalidParams, Message: err.Error()}
		}
		tokens, err := b.Tokens(ctx, p.TextDocument.URI)
		if err != nil {
			return err
		}
		return convert(lsp.SemanticTokens{Data: lsp.EncodeSemanticTokens(tokens)}, result)
	case "shutdown":
		return nil
	default:
		return fmt.Errorf("%w: %s", lsp.ErrMethodNotFound, method)
	}
}

// Notify implements lsp.Connection.
func (b *Backend) Notify(ctx context.Context, method string, params any) error {
	switch method {
	case "textDocument/didOpen":
		var p lsp.DidOpenTextDocumentParams
		if err := convert(params, &p); err != nil {
			return err
		}
		return b.open(ctx, p.TextDocument)
	case "textDocument/didChange":
		var p lsp.DidChangeTextDocumentParams
		if err := convert(params, &p); err != nil {
			return err
		}
		return b.change(ctx, p)
	case "textDocument/didClose":
		var p lsp.DidCloseTextDocumentParams
		if err := convert(params, &p); err != nil {
			return err
		}
		b.closeDocument(p.TextDocument.URI)
		return nil
	default:
		b.logger.Debug("ignoring %s", method)
		return nil
	}
}

// Close implements lsp.Connection and releases every parse tree.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for uri, doc := range b.docs {
		doc.close()
		delete(b.docs, uri)
	}
	b.closed = true
	return nil
}

func (b *Backend) open(ctx context.Context, item lsp.TextDocumentItem) error {
	if !b.Handles(item.LanguageID) {
		b.logger.Debug("no grammar for %s (%s)", item.URI, item.LanguageID)
		return nil
	}

	tree, err := parse(ctx, item.LanguageID, item.Text)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		tree.Close()
		return lsp.ErrShutdown
	}
	if old, ok := b.docs[item.URI]; ok {
		old.close()
	}
	b.docs[item.URI] = &document{
		languageID: item.LanguageID,
		version:    item.Version,
		content:    item.Text,
		tree:       tree,
	}
	return nil
}

func (b *Backend) change(ctx context.Context, p lsp.DidChangeTextDocumentParams) error {
	b.mu.Lock()
	doc, ok := b.docs[p.TextDocument.URI]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	content := doc.content
	languageID := doc.languageID
	b.mu.Unlock()

	for _, change := range p.ContentChanges {
		next, err := applyChange(content, change)
		if err != nil {
			return fmt.Errorf("apply change to %s: %w", p.TextDocument.URI, err)
		}
		content = next
	}

	tree, err := parse(ctx, languageID, content)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok = b.docs[p.TextDocument.URI]
	if !ok {
		tree.Close()
		return nil
	}
	doc.close()
	doc.tree = tree
	doc.content = content
	doc.version = p.TextDocument.Version
	return nil
}

func (b *Backend) closeDocument(uri lsp.DocumentURI) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if doc, ok := b.docs[uri]; ok {
		doc.close()
		delete(b.docs, uri)
	}
}

// Tokens returns the semantic tokens of an open document in absolute form.
// Documents the backend does not know yield no tokens.
func (b *Backend) Tokens(ctx context.Context, uri lsp.DocumentURI) ([]lsp.SemanticToken, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, ok := b.docs[uri]
	if !ok || doc.tree == nil {
		return nil, nil
	}

	w := walker{
		ctx:  ctx,
		src:  []byte(doc.content),
		conv: lsp.NewPositionConverter(doc.content),
	}
	w.walk(doc.tree.RootNode())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return w.tokens, nil
}

// parse builds a tree for content.
func parse(ctx context.Context, languageID, content string) (*sitter.Tree, error) {
	lang, ok := GrammarFor(languageID)
	if !ok {
		return nil, fmt.Errorf("%w: no grammar for %s", lsp.ErrNotSupported, languageID)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, []byte(content))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", languageID, err)
	}
	return tree, nil
}

// applyChange applies one content change. A change without a range replaces
// the whole text.
func applyChange(content string, change lsp.TextDocumentContentChangeEvent) (string, error) {
	if change.Range == nil {
		return change.Text, nil
	}
	conv := lsp.NewPositionConverter(content)
	start, err := conv.PositionOffset(change.Range.Start)
	if err != nil {
		return "", err
	}
	end, err := conv.PositionOffset(change.Range.End)
	if err != nil {
		return "", err
	}
	if end < start {
		return "", lsp.ErrInvalidLocation
	}
	return content[:start] + change.Text + content[end:], nil
}

// convert copies v into out through its JSON form, the way it would cross
// a process boundary.
func convert(v, out any) error {
	if out == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// walker collects tokens from a tree.
type walker struct {
	ctx    context.Context
	src    []byte
	conv   *lsp.PositionConverter
	tokens []lsp.SemanticToken
}

func (w *walker) walk(n *sitter.Node) {
	if n == nil || w.ctx.Err() != nil {
		return
	}
	if tok, ok := classify(n, w.src); ok {
		w.emit(n, tok)
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		w.walk(n.Child(i))
	}
}

// emit adds tokens for n, one per line it spans.
func (w *walker) emit(n *sitter.Node, tok token) {
	typ, ok := typeIndex[tok.typ]
	if !ok || n.EndByte() <= n.StartByte() {
		return
	}
	mods := lsp.ModifierBits(tokenModifiers, tok.modifiers...)

	start := w.conv.ByteOffsetToPosition(int(n.StartByte()))
	end := w.conv.ByteOffsetToPosition(int(n.EndByte()))

	for line := start.Line; line <= end.Line; line++ {
		from, to := 0, w.conv.LineLength(line)
		if line == start.Line {
			from = start.Character
		}
		if line == end.Line {
			to = end.Character
		}
		if to <= from {
			continue
		}
		w.tokens = append(w.tokens, lsp.SemanticToken{
			Line:      line,
			Character: from,
			Length:    to - from,
			Type:      typ,
			Modifiers: mods,
		})
	}
}
