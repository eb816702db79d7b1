package lsp

import (
	"context"
	"encoding/json"
	"strings"
)

// Feature requests. Each narrows the executor to the backends advertising
// the feature and combines their answers with the strategy that suits it.

// Completion collects completion items from every completion backend.
func Completion(ctx context.Context, ex *Executor, pos Position) *Future[[]CompletionItem] {
	params := CompletionParams{
		TextDocumentPositionParams: textPosition(ex, pos),
		Context:                    &CompletionContext{TriggerKind: CompletionTriggerKindInvoked},
	}
	return CollectAll(ctx, ex.WithCapability(FeatureCompletion), func(ctx context.Context, b *Backend) ([]CompletionItem, error) {
		var raw json.RawMessage
		if err := b.Conn().Call(ctx, "textDocument/completion", params, &raw); err != nil {
			return nil, err
		}
		list, err := ParseCompletionResult(raw)
		if err != nil {
			return nil, err
		}
		return list.Items, nil
	})
}

// CodeLenses collects code lenses from every code lens backend. Lenses
// without a command are resolved when the backend supports it; a lens whose
// resolve fails is kept unresolved.
func CodeLenses(ctx context.Context, ex *Executor) *Future[[]CodeLens] {
	params := CodeLensParams{TextDocument: TextDocumentIdentifier{URI: ex.Document()}}
	return CollectAll(ctx, ex.WithCapability(FeatureCodeLens), func(ctx context.Context, b *Backend) ([]CodeLens, error) {
		var lenses []CodeLens
		if err := b.Conn().Call(ctx, "textDocument/codeLens", params, &lenses); err != nil {
			return nil, err
		}
		if !b.Capabilities().CodeLensResolve() {
			return lenses, nil
		}
		for i, lens := range lenses {
			if lens.Command != nil {
				continue
			}
			var resolved CodeLens
			if err := b.Conn().Call(ctx, "codeLens/resolve", lens, &resolved); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			lenses[i] = resolved
		}
		return lenses, nil
	})
}

// DocumentColors collects color information from every color backend.
func DocumentColors(ctx context.Context, ex *Executor) *Future[[]ColorInformation] {
	params := DocumentColorParams{TextDocument: TextDocumentIdentifier{URI: ex.Document()}}
	return CollectAll(ctx, ex.WithCapability(FeatureColor), func(ctx context.Context, b *Backend) ([]ColorInformation, error) {
		var colors []ColorInformation
		if err := b.Conn().Call(ctx, "textDocument/documentColor", params, &colors); err != nil {
			return nil, err
		}
		return colors, nil
	})
}

// TokensResult is a semantic token stream with the legend needed to read it.
type TokensResult struct {
	Data   []uint32
	Legend SemanticTokensLegend
}

// FetchSemanticTokens fetches full-document semantic tokens from the first
// backend that returns any.
func FetchSemanticTokens(ctx context.Context, ex *Executor) *Future[First[TokensResult]] {
	params := SemanticTokensParams{TextDocument: TextDocumentIdentifier{URI: ex.Document()}}
	eligible := ex.WithFilter(When(CapabilitySnapshot.SemanticTokensFull))
	return ComputeFirst(ctx, eligible, func(ctx context.Context, b *Backend) (TokensResult, bool, error) {
		legend, ok := b.Capabilities().SemanticTokensLegend()
		if !ok {
			return TokensResult{}, false, nil
		}
		var tokens *SemanticTokens
		if err := b.Conn().Call(ctx, "textDocument/semanticTokens/full", params, &tokens); err != nil {
			return TokensResult{}, false, err
		}
		if tokens == nil || len(tokens.Data) == 0 {
			return TokensResult{}, false, nil
		}
		return TokensResult{Data: tokens.Data, Legend: legend}, true, nil
	})
}

// Definition collects definition locations from every definition backend.
func Definition(ctx context.Context, ex *Executor, pos Position) *Future[[]Location] {
	params := textPosition(ex, pos)
	return CollectAll(ctx, ex.WithCapability(FeatureDefinition), func(ctx context.Context, b *Backend) ([]Location, error) {
		var raw json.RawMessage
		if err := b.Conn().Call(ctx, "textDocument/definition", params, &raw); err != nil {
			return nil, err
		}
		return ParseLocationResult(raw)
	})
}

// Formatting asks formatting backends for edits and takes the first
// non-empty answer.
func Formatting(ctx context.Context, ex *Executor, opts FormattingOptions) *Future[First[[]TextEdit]] {
	params := DocumentFormattingParams{
		TextDocument: TextDocumentIdentifier{URI: ex.Document()},
		Options:      opts,
	}
	return ComputeFirst(ctx, ex.WithCapability(FeatureFormatting), func(ctx context.Context, b *Backend) ([]TextEdit, bool, error) {
		var edits []TextEdit
		if err := b.Conn().Call(ctx, "textDocument/formatting", params, &edits); err != nil {
			return nil, false, err
		}
		return edits, len(edits) > 0, nil
	})
}

// HoverAt takes the first non-empty hover from the hover backends.
func HoverAt(ctx context.Context, ex *Executor, pos Position) *Future[First[Hover]] {
	params := HoverParams{TextDocumentPositionParams: textPosition(ex, pos)}
	return ComputeFirst(ctx, ex.WithCapability(FeatureHover), func(ctx context.Context, b *Backend) (Hover, bool, error) {
		var raw json.RawMessage
		if err := b.Conn().Call(ctx, "textDocument/hover", params, &raw); err != nil {
			return Hover{}, false, err
		}
		h, ok, err := ParseHoverResult(raw)
		if err != nil {
			return Hover{}, false, err
		}
		return h, ok && strings.TrimSpace(h.Contents.Value) != "", nil
	})
}

// CanRename reports whether any rename backend accepts a rename at pos.
// Backends without prepareRename support accept unconditionally.
func CanRename(ctx context.Context, ex *Executor, pos Position) *Future[bool] {
	params := PrepareRenameParams{TextDocumentPositionParams: textPosition(ex, pos)}
	return ComputeAny(ctx, ex.WithCapability(FeatureRename), func(ctx context.Context, b *Backend) (bool, error) {
		if !b.Capabilities().RenamePrepare() {
			return true, nil
		}
		var raw json.RawMessage
		if err := b.Conn().Call(ctx, "textDocument/prepareRename", params, &raw); err != nil {
			return false, err
		}
		return len(raw) > 0 && string(raw) != "null", nil
	})
}

func textPosition(ex *Executor, pos Position) TextDocumentPositionParams {
	return TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: ex.Document()},
		Position:     pos,
	}
}

// ParseHoverResult parses a hover response. Contents may be a string, a
// MarkupContent, a language/value pair or an array of those; arrays are
// joined with blank lines.
func ParseHoverResult(data json.RawMessage) (Hover, bool, error) {
	if len(data) == 0 || string(data) == "null" {
		return Hover{}, false, nil
	}
	var raw struct {
		Contents json.RawMessage `json:"contents"`
		Range    *Range          `json:"range,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Hover{}, false, err
	}
	content, err := parseHoverContents(raw.Contents)
	if err != nil {
		return Hover{}, false, err
	}
	return Hover{Contents: content, Range: raw.Range}, true, nil
}

func parseHoverContents(data json.RawMessage) (MarkupContent, error) {
	if len(data) == 0 || string(data) == "null" {
		return MarkupContent{Kind: MarkupKindPlainText}, nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return MarkupContent{Kind: MarkupKindMarkdown, Value: s}, nil
	}

	var obj struct {
		Kind     MarkupKind `json:"kind"`
		Language string     `json:"language"`
		Value    string     `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		if obj.Kind != "" {
			return MarkupContent{Kind: obj.Kind, Value: obj.Value}, nil
		}
		return MarkupContent{Kind: MarkupKindMarkdown, Value: "```" + obj.Language + "\n" + obj.Value + "\n```"}, nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return MarkupContent{}, ErrInvalidResponse
	}
	var values []string
	for _, p := range parts {
		mc, err := parseHoverContents(p)
		if err != nil {
			return MarkupContent{}, err
		}
		if mc.Value != "" {
			values = append(values, mc.Value)
		}
	}
	return MarkupContent{Kind: MarkupKindMarkdown, Value: strings.Join(values, "\n\n")}, nil
}
