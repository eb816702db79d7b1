package style

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
)

// TcellColor converts c to a tcell color.
func (c Color) TcellColor() tcell.Color {
	if c.Default {
		return tcell.ColorDefault
	}
	return tcell.NewRGBColor(int32(c.R), int32(c.G), int32(c.B))
}

// Tcell converts s to a tcell style.
func (s Style) Tcell() tcell.Style {
	ts := tcell.StyleDefault.
		Foreground(s.Foreground.TcellColor()).
		Background(s.Background.TcellColor())

	if s.Attributes.Has(AttrBold) {
		ts = ts.Bold(true)
	}
	if s.Attributes.Has(AttrDim) {
		ts = ts.Dim(true)
	}
	if s.Attributes.Has(AttrItalic) {
		ts = ts.Italic(true)
	}
	if s.Attributes.Has(AttrUnderline) {
		ts = ts.Underline(true)
	}
	if s.Attributes.Has(AttrReverse) {
		ts = ts.Reverse(true)
	}
	if s.Attributes.Has(AttrStrikethrough) {
		ts = ts.StrikeThrough(true)
	}
	return ts
}

// ANSI wraps text in 24-bit SGR escape sequences for s.
// A default style returns text unchanged.
func (s Style) ANSI(text string) string {
	if s.IsDefault() {
		return text
	}

	var codes []string
	if s.Attributes.Has(AttrBold) {
		codes = append(codes, "1")
	}
	if s.Attributes.Has(AttrDim) {
		codes = append(codes, "2")
	}
	if s.Attributes.Has(AttrItalic) {
		codes = append(codes, "3")
	}
	if s.Attributes.Has(AttrUnderline) {
		codes = append(codes, "4")
	}
	if s.Attributes.Has(AttrReverse) {
		codes = append(codes, "7")
	}
	if s.Attributes.Has(AttrStrikethrough) {
		codes = append(codes, "9")
	}
	if !s.Foreground.IsDefault() {
		codes = append(codes, fmt.Sprintf("38;2;%d;%d;%d", s.Foreground.R, s.Foreground.G, s.Foreground.B))
	}
	if !s.Background.IsDefault() {
		codes = append(codes, fmt.Sprintf("48;2;%d;%d;%d", s.Background.R, s.Background.G, s.Background.B))
	}

	return "\x1b[" + strings.Join(codes, ";") + "m" + text + "\x1b[0m"
}
