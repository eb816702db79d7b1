package lsp

import (
	"sort"

	"github.com/dshills/lspmux/internal/logging"
	"github.com/dshills/lspmux/internal/style"
)

// StyleResolver maps a token type and its active modifiers to a base style.
type StyleResolver interface {
	ResolveToken(tokenType string, modifiers []string) (style.Style, bool)
}

// StyleResolverFunc adapts a function to StyleResolver.
type StyleResolverFunc func(tokenType string, modifiers []string) (style.Style, bool)

// ResolveToken calls f.
func (f StyleResolverFunc) ResolveToken(tokenType string, modifiers []string) (style.Style, bool) {
	return f(tokenType, modifiers)
}

// StyleRange is a decoded token positioned in the document.
type StyleRange struct {
	Line      int
	Character int

	// Offset is the absolute document offset returned by the OffsetMapper.
	Offset int

	// Length is the token length as sent by the backend (UTF-16 units).
	Length int

	// TokenType is empty when the type index is outside the legend.
	TokenType string
	Modifiers []string

	// Style is the resolved style with modifier overrides applied.
	Style style.Style

	// Styled reports whether the resolver supplied a base style. A range
	// without one exists only to carry an override such as strikethrough.
	Styled bool
}

// StandardTokenTypes returns the token types defined by the protocol.
func StandardTokenTypes() []string {
	return []string{
		style.TypeNamespace, style.TypeType, style.TypeClass, style.TypeEnum,
		style.TypeInterface, style.TypeStruct, style.TypeTypeParameter,
		style.TypeParameter, style.TypeVariable, style.TypeProperty,
		style.TypeEnumMember, style.TypeEvent, style.TypeFunction,
		style.TypeMethod, style.TypeMacro, style.TypeKeyword, style.TypeModifier,
		style.TypeComment, style.TypeString, style.TypeNumber, style.TypeRegexp,
		style.TypeOperator, style.TypeDecorator,
	}
}

// StandardTokenModifiers returns the token modifiers defined by the protocol.
func StandardTokenModifiers() []string {
	return []string{
		style.ModDeclaration, style.ModDefinition, style.ModReadonly,
		style.ModStatic, style.ModDeprecated, style.ModAbstract, style.ModAsync,
		style.ModModification, style.ModDocumentation, style.ModDefaultLibrary,
	}
}

// decodeConfig holds DecodeSemanticTokens options.
type decodeConfig struct {
	overrides map[string]style.Attribute
	logger    *logging.Logger
}

// DecodeOption configures DecodeSemanticTokens.
type DecodeOption func(*decodeConfig)

// WithModifierOverride renders tokens carrying modifier with attr, even
// when their type has no style. Replaces the default for that modifier.
func WithModifierOverride(modifier string, attr style.Attribute) DecodeOption {
	return func(c *decodeConfig) {
		c.overrides[modifier] = attr
	}
}

// WithoutModifierOverrides clears every override, including the default.
func WithoutModifierOverrides() DecodeOption {
	return func(c *decodeConfig) {
		clear(c.overrides)
	}
}

// WithDecodeLogger sets the logger used to report skipped tokens.
func WithDecodeLogger(logger *logging.Logger) DecodeOption {
	return func(c *decodeConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// DecodeSemanticTokens turns the relative token stream of a
// textDocument/semanticTokens response into positioned style ranges.
//
// Each token is five integers: delta line, delta start character (relative
// to the previous token on the same line, absolute otherwise), length, type
// index and modifier bitset. Tokens whose position the mapper rejects are
// skipped. Type indexes outside the legend resolve to the empty type name and
// unknown modifier bits are ignored. A token is emitted when the resolver
// styles it or when it carries an override modifier ("deprecated" renders as
// strikethrough unless configured otherwise). Output follows input order;
// trailing integers that do not form a whole token are ignored.
func DecodeSemanticTokens(data []uint32, legend SemanticTokensLegend, mapper OffsetMapper, resolver StyleResolver, opts ...DecodeOption) []StyleRange {
	cfg := decodeConfig{
		overrides: map[string]style.Attribute{style.ModDeprecated: style.AttrStrikethrough},
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		out  []StyleRange
		line int
		char int
	)
	for i := 0; i+5 <= len(data); i += 5 {
		dLine, dChar := int(data[i]), int(data[i+1])
		length, typeIdx, modBits := int(data[i+2]), data[i+3], data[i+4]

		line += dLine
		if dLine == 0 {
			char += dChar
		} else {
			char = dChar
		}

		offset, err := mapper.Offset(line, char)
		if err != nil {
			cfg.logger.Debug("skipping token at %d:%d: %v", line, char, err)
			continue
		}

		var tokenType string
		if int(typeIdx) < len(legend.TokenTypes) {
			tokenType = legend.TokenTypes[typeIdx]
		}
		modifiers := decodeModifiers(modBits, legend.TokenModifiers)

		var (
			base   style.Style
			styled bool
		)
		if resolver != nil && tokenType != "" {
			base, styled = resolver.ResolveToken(tokenType, modifiers)
		}

		var override style.Attribute
		for _, m := range modifiers {
			override |= cfg.overrides[m]
		}

		if !styled && override == style.AttrNone {
			continue
		}
		if !styled {
			base = style.DefaultStyle()
		}

		out = append(out, StyleRange{
			Line:      line,
			Character: char,
			Offset:    offset,
			Length:    length,
			TokenType: tokenType,
			Modifiers: modifiers,
			Style:     base.WithAttributes(override),
			Styled:    styled,
		})
	}
	return out
}

func decodeModifiers(bits uint32, names []string) []string {
	if bits == 0 {
		return nil
	}
	var mods []string
	for i := 0; i < len(names) && i < 32; i++ {
		if bits&(1<<uint(i)) != 0 {
			mods = append(mods, names[i])
		}
	}
	return mods
}

// SemanticToken is a token in absolute form.
type SemanticToken struct {
	Line      int
	Character int
	Length    int
	Type      uint32
	Modifiers uint32
}

// EncodeSemanticTokens produces the relative five-integer encoding of tokens,
// ordering them by position first.
func EncodeSemanticTokens(tokens []SemanticToken) []uint32 {
	sorted := make([]SemanticToken, len(tokens))
	copy(sorted, tokens)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line < sorted[j].Line
		}
		return sorted[i].Character < sorted[j].Character
	})

	data := make([]uint32, 0, len(sorted)*5)
	var prevLine, prevChar int
	for _, t := range sorted {
		dLine := t.Line - prevLine
		dChar := t.Character
		if dLine == 0 {
			dChar = t.Character - prevChar
		}
		data = append(data, uint32(dLine), uint32(dChar), uint32(t.Length), t.Type, t.Modifiers)
		prevLine, prevChar = t.Line, t.Character
	}
	return data
}

// ModifierBits returns the bitset for modifiers against a legend's
// modifier names. Unknown names are ignored.
func ModifierBits(legend []string, modifiers ...string) uint32 {
	var bits uint32
	for _, m := range modifiers {
		for i, name := range legend {
			if name == m && i < 32 {
				bits |= 1 << uint(i)
			}
		}
	}
	return bits
}
