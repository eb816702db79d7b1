package view

import (
	"strings"
	"unicode/utf8"

	"github.com/dshills/lspmux/internal/lsp"
	"github.com/dshills/lspmux/internal/style"
)

// TabWidth is the number of cells a tab expands to.
const TabWidth = 4

// span styles UTF-16 columns [from, to) of a line.
type span struct {
	from, to int
	style    style.Style
}

// Glyph is a rune with its resolved style.
type Glyph struct {
	Rune  rune
	Style style.Style
}

// Document is text with styled ranges split into lines of glyphs.
type Document struct {
	lines [][]Glyph
}

// NewDocument styles text with ranges. Later ranges are layered over
// earlier ones where they overlap.
func NewDocument(text string, ranges []lsp.StyleRange) *Document {
	spans := make(map[int][]span)
	for _, r := range ranges {
		if r.Length <= 0 {
			continue
		}
		spans[r.Line] = append(spans[r.Line], span{from: r.Character, to: r.Character + r.Length, style: r.Style})
	}

	raw := strings.Split(text, "\n")
	doc := &Document{lines: make([][]Glyph, len(raw))}
	for i, line := range raw {
		line = strings.TrimSuffix(line, "\r")
		glyphs := make([]Glyph, 0, utf8.RuneCountInString(line))
		col := 0
		for _, r := range line {
			glyphs = append(glyphs, Glyph{Rune: r, Style: styleAt(spans[i], col)})
			col += utf16Len(r)
		}
		doc.lines[i] = glyphs
	}
	return doc
}

func styleAt(spans []span, col int) style.Style {
	st := style.DefaultStyle()
	for _, s := range spans {
		if col >= s.from && col < s.to {
			st = st.Merge(s.style)
		}
	}
	return st
}

func utf16Len(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}

// LineCount returns the number of lines.
func (d *Document) LineCount() int {
	return len(d.lines)
}

// Line returns the glyphs of line n, or nil when out of range.
func (d *Document) Line(n int) []Glyph {
	if n < 0 || n >= len(d.lines) {
		return nil
	}
	return d.lines[n]
}
