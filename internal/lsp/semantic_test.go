package lsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/lspmux/internal/style"
)

// identity maps a single-line document: offset equals character.
var identity = OffsetMapperFunc(func(line, character int) (int, error) {
	if line != 0 {
		return 0, ErrInvalidLocation
	}
	return character, nil
})

func resolveAll(tokenType string, _ []string) (style.Style, bool) {
	return style.NewStyle(style.ColorFromRGB(1, 2, 3)), tokenType != ""
}

func TestDecodeSemanticTokens_Basic(t *testing.T) {
	legend := SemanticTokensLegend{TokenTypes: []string{"keyword", "number"}}
	data := []uint32{0, 0, 5, 0, 0, 0, 6, 3, 1, 0}

	got := DecodeSemanticTokens(data, legend, identity, StyleResolverFunc(resolveAll))
	require.Len(t, got, 2)

	assert.Equal(t, 0, got[0].Offset)
	assert.Equal(t, 5, got[0].Length)
	assert.Equal(t, "keyword", got[0].TokenType)
	assert.True(t, got[0].Styled)

	assert.Equal(t, 6, got[1].Offset)
	assert.Equal(t, 3, got[1].Length)
	assert.Equal(t, "number", got[1].TokenType)

	assert.LessOrEqual(t, got[0].Offset+got[0].Length, got[1].Offset, "non-overlapping")
}

func TestDecodeSemanticTokens_LineDeltas(t *testing.T) {
	conv := NewPositionConverter("package main\n\nfunc main() {}\n")
	legend := SemanticTokensLegend{TokenTypes: []string{"keyword", "function"}}
	data := []uint32{
		0, 0, 7, 0, 0, // package
		2, 0, 4, 0, 0, // func (line 2, absolute char)
		0, 5, 4, 1, 0, // main (same line, relative char)
	}

	got := DecodeSemanticTokens(data, legend, conv, StyleResolverFunc(resolveAll))
	require.Len(t, got, 3)

	assert.Equal(t, []int{0, 14, 19}, []int{got[0].Offset, got[1].Offset, got[2].Offset})
	assert.Equal(t, 2, got[2].Line)
	assert.Equal(t, 5, got[2].Character)
	assert.Equal(t, "main", conv.Content()[got[2].Offset:got[2].Offset+got[2].Length])
}

func TestDecodeSemanticTokens_DeprecatedWithoutBaseStyle(t *testing.T) {
	legend := SemanticTokensLegend{
		TokenTypes:     []string{"function"},
		TokenModifiers: []string{"static", "deprecated"},
	}
	noStyle := StyleResolverFunc(func(string, []string) (style.Style, bool) {
		return style.Style{}, false
	})
	data := []uint32{0, 2, 4, 0, 0b10}

	got := DecodeSemanticTokens(data, legend, identity, noStyle)
	require.Len(t, got, 1)
	assert.False(t, got[0].Styled)
	assert.Equal(t, []string{"deprecated"}, got[0].Modifiers)
	assert.True(t, got[0].Style.Attributes.Has(style.AttrStrikethrough))
	assert.True(t, got[0].Style.Foreground.Default)
}

func TestDecodeSemanticTokens_OverrideOnTopOfStyle(t *testing.T) {
	legend := SemanticTokensLegend{
		TokenTypes:     []string{"function"},
		TokenModifiers: []string{"deprecated"},
	}
	bold := StyleResolverFunc(func(string, []string) (style.Style, bool) {
		return style.DefaultStyle().Bold(), true
	})

	got := DecodeSemanticTokens([]uint32{0, 0, 3, 0, 1}, legend, identity, bold)
	require.Len(t, got, 1)
	assert.True(t, got[0].Styled)
	assert.True(t, got[0].Style.Attributes.Has(style.AttrBold))
	assert.True(t, got[0].Style.Attributes.Has(style.AttrStrikethrough))
}

func TestDecodeSemanticTokens_NoStyleNoOverrideDropped(t *testing.T) {
	legend := SemanticTokensLegend{TokenTypes: []string{"function"}, TokenModifiers: []string{"static"}}
	noStyle := StyleResolverFunc(func(string, []string) (style.Style, bool) { return style.Style{}, false })

	got := DecodeSemanticTokens([]uint32{0, 0, 3, 0, 1}, legend, identity, noStyle)
	assert.Empty(t, got)
}

func TestDecodeSemanticTokens_UnknownTypeAndBits(t *testing.T) {
	legend := SemanticTokensLegend{TokenTypes: []string{"keyword"}, TokenModifiers: []string{"deprecated"}}
	// Type 9 is outside the legend; bit 5 has no modifier name.
	data := []uint32{0, 0, 2, 9, 1 | 1<<5}

	got := DecodeSemanticTokens(data, legend, identity, StyleResolverFunc(resolveAll))
	require.Len(t, got, 1)
	assert.Equal(t, "", got[0].TokenType)
	assert.False(t, got[0].Styled)
	assert.Equal(t, []string{"deprecated"}, got[0].Modifiers)
}

func TestDecodeSemanticTokens_EmptyLegend(t *testing.T) {
	data := []uint32{0, 0, 2, 0, 0, 0, 3, 2, 1, 0}
	assert.NotPanics(t, func() {
		got := DecodeSemanticTokens(data, SemanticTokensLegend{}, identity, StyleResolverFunc(resolveAll))
		assert.Empty(t, got)
	})
}

func TestDecodeSemanticTokens_EmptyInput(t *testing.T) {
	assert.Empty(t, DecodeSemanticTokens(nil, SemanticTokensLegend{}, identity, nil))
}

func TestDecodeSemanticTokens_MapperFailureSkipsToken(t *testing.T) {
	legend := SemanticTokensLegend{TokenTypes: []string{"keyword"}}
	data := []uint32{
		0, 0, 2, 0, 0,
		1, 0, 2, 0, 0, // line 1 is rejected by identity
		0, 4, 2, 0, 0, // still line 1
	}
	got := DecodeSemanticTokens(data, legend, identity, StyleResolverFunc(resolveAll))
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Offset)
}

func TestDecodeSemanticTokens_TrailingPartialGroup(t *testing.T) {
	legend := SemanticTokensLegend{TokenTypes: []string{"keyword"}}
	got := DecodeSemanticTokens([]uint32{0, 0, 2, 0, 0, 0, 3}, legend, identity, StyleResolverFunc(resolveAll))
	assert.Len(t, got, 1)
}

func TestDecodeSemanticTokens_CustomOverrides(t *testing.T) {
	legend := SemanticTokensLegend{TokenTypes: []string{"variable"}, TokenModifiers: []string{"deprecated", "readonly"}}
	noStyle := StyleResolverFunc(func(string, []string) (style.Style, bool) { return style.Style{}, false })

	got := DecodeSemanticTokens([]uint32{0, 0, 1, 0, 0b10}, legend, identity, noStyle,
		WithModifierOverride("readonly", style.AttrItalic))
	require.Len(t, got, 1)
	assert.True(t, got[0].Style.Attributes.Has(style.AttrItalic))

	got = DecodeSemanticTokens([]uint32{0, 0, 1, 0, 0b01}, legend, identity, noStyle, WithoutModifierOverrides())
	assert.Empty(t, got)
}

func TestDecodeSemanticTokens_Theme(t *testing.T) {
	theme := style.DefaultTheme()
	legend := SemanticTokensLegend{TokenTypes: []string{"keyword"}, TokenModifiers: []string{"declaration"}}

	got := DecodeSemanticTokens([]uint32{0, 0, 4, 0, 1}, legend, identity, theme)
	require.Len(t, got, 1)
	want, _ := theme.ResolveToken("keyword", []string{"declaration"})
	assert.Equal(t, want, got[0].Style)
}

func TestEncodeSemanticTokens_RoundTrip(t *testing.T) {
	tokens := []SemanticToken{
		{Line: 2, Character: 5, Length: 4, Type: 1},
		{Line: 0, Character: 0, Length: 7, Type: 0},
		{Line: 2, Character: 0, Length: 4, Type: 0, Modifiers: 1},
	}
	data := EncodeSemanticTokens(tokens)
	assert.Equal(t, []uint32{
		0, 0, 7, 0, 0,
		2, 0, 4, 0, 1,
		0, 5, 4, 1, 0,
	}, data)

	conv := NewPositionConverter("package main\n\nfunc main() {}\n")
	legend := SemanticTokensLegend{TokenTypes: []string{"keyword", "function"}, TokenModifiers: []string{"declaration"}}
	ranges := DecodeSemanticTokens(data, legend, conv, StyleResolverFunc(resolveAll))
	require.Len(t, ranges, 3)
	assert.Equal(t, []string{"declaration"}, ranges[1].Modifiers)
}

func TestModifierBits(t *testing.T) {
	legend := []string{"declaration", "readonly", "deprecated"}
	assert.Equal(t, uint32(0b101), ModifierBits(legend, "declaration", "deprecated", "bogus"))
	assert.Equal(t, uint32(0), ModifierBits(legend))
}
