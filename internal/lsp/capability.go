package lsp

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// SupportKind describes how a backend advertises a feature.
type SupportKind int

const (
	// SupportAbsent means the capability is missing, null or false.
	SupportAbsent SupportKind = iota
	// SupportEnabled means the capability is the boolean true.
	SupportEnabled
	// SupportOptions means the capability is an options object.
	SupportOptions
)

// String returns the kind name.
func (k SupportKind) String() string {
	switch k {
	case SupportEnabled:
		return "enabled"
	case SupportOptions:
		return "options"
	default:
		return "absent"
	}
}

// Support is a single feature entry of a CapabilitySnapshot.
type Support struct {
	Kind SupportKind

	// Options holds the options object verbatim when Kind is SupportOptions.
	Options json.RawMessage
}

// Supported reports whether the feature is present in any form.
func (s Support) Supported() bool {
	return s.Kind != SupportAbsent
}

// Feature names a server capability by its JSON key.
type Feature string

// Known server capabilities.
const (
	FeatureCompletion        Feature = "completionProvider"
	FeatureHover             Feature = "hoverProvider"
	FeatureDefinition        Feature = "definitionProvider"
	FeatureTypeDefinition    Feature = "typeDefinitionProvider"
	FeatureReferences        Feature = "referencesProvider"
	FeatureFormatting        Feature = "documentFormattingProvider"
	FeatureRangeFormatting   Feature = "documentRangeFormattingProvider"
	FeatureCodeLens          Feature = "codeLensProvider"
	FeatureColor             Feature = "colorProvider"
	FeatureSemanticTokens    Feature = "semanticTokensProvider"
	FeatureRename            Feature = "renameProvider"
	FeatureCodeAction        Feature = "codeActionProvider"
	FeatureDocumentSymbol    Feature = "documentSymbolProvider"
	FeatureSignatureHelp     Feature = "signatureHelpProvider"
	FeatureDocumentHighlight Feature = "documentHighlightProvider"
	FeatureWorkspaceSymbol   Feature = "workspaceSymbolProvider"
)

// Features lists every known feature in a stable order.
func Features() []Feature {
	return []Feature{
		FeatureCompletion,
		FeatureHover,
		FeatureDefinition,
		FeatureTypeDefinition,
		FeatureReferences,
		FeatureFormatting,
		FeatureRangeFormatting,
		FeatureCodeLens,
		FeatureColor,
		FeatureSemanticTokens,
		FeatureRename,
		FeatureCodeAction,
		FeatureDocumentSymbol,
		FeatureSignatureHelp,
		FeatureDocumentHighlight,
		FeatureWorkspaceSymbol,
	}
}

// methodFeatures maps dynamic registration methods to the feature they enable.
var methodFeatures = map[string]Feature{
	"textDocument/completion":        FeatureCompletion,
	"textDocument/hover":             FeatureHover,
	"textDocument/definition":        FeatureDefinition,
	"textDocument/typeDefinition":    FeatureTypeDefinition,
	"textDocument/references":        FeatureReferences,
	"textDocument/formatting":        FeatureFormatting,
	"textDocument/rangeFormatting":   FeatureRangeFormatting,
	"textDocument/codeLens":          FeatureCodeLens,
	"textDocument/documentColor":     FeatureColor,
	"textDocument/semanticTokens":    FeatureSemanticTokens,
	"textDocument/rename":            FeatureRename,
	"textDocument/codeAction":        FeatureCodeAction,
	"textDocument/documentSymbol":    FeatureDocumentSymbol,
	"textDocument/signatureHelp":     FeatureSignatureHelp,
	"textDocument/documentHighlight": FeatureDocumentHighlight,
	"workspace/symbol":               FeatureWorkspaceSymbol,
}

// FeatureForMethod returns the feature a registration method controls.
func FeatureForMethod(method string) (Feature, bool) {
	f, ok := methodFeatures[method]
	return f, ok
}

// CapabilitySnapshot is an immutable view of the features a backend
// advertises. Patching methods return new snapshots.
type CapabilitySnapshot struct {
	Completion        Support
	Hover             Support
	Definition        Support
	TypeDefinition    Support
	References        Support
	Formatting        Support
	RangeFormatting   Support
	CodeLens          Support
	Color             Support
	SemanticTokens    Support
	Rename            Support
	CodeAction        Support
	DocumentSymbol    Support
	SignatureHelp     Support
	DocumentHighlight Support
	WorkspaceSymbol   Support

	raw string
}

// ParseCapabilities builds a snapshot from a ServerCapabilities JSON object.
// Invalid or empty input yields a snapshot with every feature absent.
func ParseCapabilities(raw []byte) CapabilitySnapshot {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return CapabilitySnapshot{raw: "{}"}
	}
	s := CapabilitySnapshot{raw: string(raw)}
	root := gjson.ParseBytes(raw)
	for _, f := range Features() {
		*s.field(f) = parseSupport(root.Get(string(f)))
	}
	return s
}

func parseSupport(v gjson.Result) Support {
	switch {
	case !v.Exists():
		return Support{}
	case v.IsObject():
		return Support{Kind: SupportOptions, Options: json.RawMessage(v.Raw)}
	case v.Type == gjson.True:
		return Support{Kind: SupportEnabled}
	default:
		return Support{}
	}
}

func (s *CapabilitySnapshot) field(f Feature) *Support {
	switch f {
	case FeatureCompletion:
		return &s.Completion
	case FeatureHover:
		return &s.Hover
	case FeatureDefinition:
		return &s.Definition
	case FeatureTypeDefinition:
		return &s.TypeDefinition
	case FeatureReferences:
		return &s.References
	case FeatureFormatting:
		return &s.Formatting
	case FeatureRangeFormatting:
		return &s.RangeFormatting
	case FeatureCodeLens:
		return &s.CodeLens
	case FeatureColor:
		return &s.Color
	case FeatureSemanticTokens:
		return &s.SemanticTokens
	case FeatureRename:
		return &s.Rename
	case FeatureCodeAction:
		return &s.CodeAction
	case FeatureDocumentSymbol:
		return &s.DocumentSymbol
	case FeatureSignatureHelp:
		return &s.SignatureHelp
	case FeatureDocumentHighlight:
		return &s.DocumentHighlight
	case FeatureWorkspaceSymbol:
		return &s.WorkspaceSymbol
	default:
		return nil
	}
}

// Get returns the support entry for f. Unknown features are absent.
func (s CapabilitySnapshot) Get(f Feature) Support {
	if p := s.field(f); p != nil {
		return *p
	}
	return Support{}
}

// Raw returns the JSON the snapshot was parsed from.
func (s CapabilitySnapshot) Raw() json.RawMessage {
	if s.raw == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(s.raw)
}

// SemanticTokensLegend returns the legend from semanticTokensProvider.
func (s CapabilitySnapshot) SemanticTokensLegend() (SemanticTokensLegend, bool) {
	if s.SemanticTokens.Kind != SupportOptions {
		return SemanticTokensLegend{}, false
	}
	legend := gjson.GetBytes(s.SemanticTokens.Options, "legend")
	if !legend.IsObject() {
		return SemanticTokensLegend{}, false
	}
	var out SemanticTokensLegend
	for _, t := range legend.Get("tokenTypes").Array() {
		out.TokenTypes = append(out.TokenTypes, t.String())
	}
	for _, m := range legend.Get("tokenModifiers").Array() {
		out.TokenModifiers = append(out.TokenModifiers, m.String())
	}
	return out, true
}

// SemanticTokensFull reports whether the backend answers
// textDocument/semanticTokens/full. "full" may be true or an options object.
func (s CapabilitySnapshot) SemanticTokensFull() bool {
	if s.SemanticTokens.Kind != SupportOptions {
		return false
	}
	full := gjson.GetBytes(s.SemanticTokens.Options, "full")
	return full.Type == gjson.True || full.IsObject()
}

// CompletionTriggerCharacters returns the characters that trigger completion.
func (s CapabilitySnapshot) CompletionTriggerCharacters() []string {
	if s.Completion.Kind != SupportOptions {
		return nil
	}
	var out []string
	for _, c := range gjson.GetBytes(s.Completion.Options, "triggerCharacters").Array() {
		out = append(out, c.String())
	}
	return out
}

// CodeLensResolve reports whether the backend resolves code lenses lazily.
func (s CapabilitySnapshot) CodeLensResolve() bool {
	if s.CodeLens.Kind != SupportOptions {
		return false
	}
	return gjson.GetBytes(s.CodeLens.Options, "resolveProvider").Bool()
}

// RenamePrepare reports whether the backend supports textDocument/prepareRename.
func (s CapabilitySnapshot) RenamePrepare() bool {
	if s.Rename.Kind != SupportOptions {
		return false
	}
	return gjson.GetBytes(s.Rename.Options, "prepareProvider").Bool()
}

// WithRegistration returns a snapshot with the feature behind method enabled.
// Non-empty options become the feature's options object. Methods with no known
// feature return the snapshot unchanged.
func (s CapabilitySnapshot) WithRegistration(method string, options json.RawMessage) CapabilitySnapshot {
	f, ok := FeatureForMethod(method)
	if !ok {
		return s
	}
	var (
		raw string
		err error
	)
	if opts := strings.TrimSpace(string(options)); opts != "" && opts != "null" && gjson.Valid(opts) {
		raw, err = sjson.SetRaw(string(s.Raw()), sjsonPath(f), opts)
	} else {
		raw, err = sjson.Set(string(s.Raw()), sjsonPath(f), true)
	}
	if err != nil {
		return s
	}
	return ParseCapabilities([]byte(raw))
}

// WithoutRegistration returns a snapshot with the feature behind method removed.
func (s CapabilitySnapshot) WithoutRegistration(method string) CapabilitySnapshot {
	f, ok := FeatureForMethod(method)
	if !ok {
		return s
	}
	raw, err := sjson.Delete(string(s.Raw()), sjsonPath(f))
	if err != nil {
		return s
	}
	return ParseCapabilities([]byte(raw))
}

func sjsonPath(f Feature) string {
	return strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(string(f))
}

// Decision is the outcome of applying a Predicate to a snapshot.
type Decision int

const (
	// NotApplicable excludes the backend.
	NotApplicable Decision = iota
	// Applicable includes the backend; the feature is a plain boolean.
	Applicable
	// ApplicableWithOptions includes the backend; the feature has options.
	ApplicableWithOptions
)

// Applies reports whether the decision includes the backend.
func (d Decision) Applies() bool {
	return d != NotApplicable
}

// Predicate decides whether a backend is eligible for a request.
type Predicate func(CapabilitySnapshot) Decision

// Capability returns a predicate matching backends that advertise f.
func Capability(f Feature) Predicate {
	return func(s CapabilitySnapshot) Decision {
		switch s.Get(f).Kind {
		case SupportEnabled:
			return Applicable
		case SupportOptions:
			return ApplicableWithOptions
		default:
			return NotApplicable
		}
	}
}

// When adapts a boolean test into a predicate.
func When(test func(CapabilitySnapshot) bool) Predicate {
	return func(s CapabilitySnapshot) Decision {
		if test(s) {
			return Applicable
		}
		return NotApplicable
	}
}
