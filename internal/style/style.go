// Package style provides the visual attribute bundles produced by semantic
// highlighting: colors, text attributes, themes that map semantic token types
// to styles, and conversions to terminal representations.
package style

import (
	"fmt"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Attribute represents text attributes (bold, italic, etc.).
type Attribute uint16

// Text attribute flags.
const (
	AttrNone          Attribute = 0
	AttrBold          Attribute = 1 << iota
	AttrDim                     // Faint/dim text
	AttrItalic                  // Italic text
	AttrUnderline               // Underlined text
	AttrReverse                 // Reverse video (swap fg/bg)
	AttrStrikethrough           // Strikethrough text
)

// attributeNames is used by ParseAttribute and String.
var attributeNames = []struct {
	name string
	attr Attribute
}{
	{"bold", AttrBold},
	{"dim", AttrDim},
	{"italic", AttrItalic},
	{"underline", AttrUnderline},
	{"reverse", AttrReverse},
	{"strikethrough", AttrStrikethrough},
}

// Has returns true if the attribute set contains the given attribute.
func (a Attribute) Has(attr Attribute) bool {
	return a&attr != 0
}

// With returns a new attribute set with the given attribute added.
func (a Attribute) With(attr Attribute) Attribute {
	return a | attr
}

// String returns the attribute names joined by '|', or "none".
func (a Attribute) String() string {
	var parts []string
	for _, n := range attributeNames {
		if a.Has(n.attr) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseAttribute returns the attribute with the given name.
func ParseAttribute(name string) (Attribute, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "strike" {
		name = "strikethrough"
	}
	for _, n := range attributeNames {
		if n.name == name {
			return n.attr, true
		}
	}
	return AttrNone, false
}

// Color is a true color or the terminal's default color.
type Color struct {
	R, G, B uint8
	// Default indicates the terminal's default color; R, G and B are ignored.
	Default bool
}

// ColorDefault represents the terminal's default color.
var ColorDefault = Color{Default: true}

// ColorFromRGB creates a true color from RGB components.
func ColorFromRGB(r, g, b uint8) Color {
	return Color{R: r, G: g, B: b}
}

// ColorFromColorful converts a go-colorful color, clamping out-of-gamut values.
func ColorFromColorful(c colorful.Color) Color {
	r, g, b := c.Clamped().RGB255()
	return Color{R: r, G: g, B: b}
}

// ParseColor parses "#rgb", "#rrggbb" or "default".
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "default") {
		return ColorDefault, nil
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return Color{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return ColorFromColorful(c), nil
}

// IsDefault returns true if this is the default color.
func (c Color) IsDefault() bool {
	return c.Default
}

// Colorful returns the go-colorful representation.
func (c Color) Colorful() colorful.Color {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
}

// Blend mixes c toward other in Lab space. Default colors are returned unchanged.
func (c Color) Blend(other Color, amount float64) Color {
	if c.Default || other.Default {
		return c
	}
	return ColorFromColorful(c.Colorful().BlendLab(other.Colorful(), amount))
}

// String returns "#RRGGBB" or "default".
func (c Color) String() string {
	if c.Default {
		return "default"
	}
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// Style represents the visual style of a text range.
type Style struct {
	Foreground Color
	Background Color
	Attributes Attribute
}

// DefaultStyle returns a style that changes nothing.
func DefaultStyle() Style {
	return Style{
		Foreground: ColorDefault,
		Background: ColorDefault,
	}
}

// NewStyle creates a style with the given foreground color.
func NewStyle(fg Color) Style {
	return Style{
		Foreground: fg,
		Background: ColorDefault,
	}
}

// WithAttributes returns a new style with attrs added.
func (s Style) WithAttributes(attrs Attribute) Style {
	s.Attributes |= attrs
	return s
}

// Bold returns a new style with bold added.
func (s Style) Bold() Style {
	return s.WithAttributes(AttrBold)
}

// Italic returns a new style with italic added.
func (s Style) Italic() Style {
	return s.WithAttributes(AttrItalic)
}

// Underline returns a new style with underline added.
func (s Style) Underline() Style {
	return s.WithAttributes(AttrUnderline)
}

// Strikethrough returns a new style with strikethrough added.
func (s Style) Strikethrough() Style {
	return s.WithAttributes(AttrStrikethrough)
}

// Merge layers other on top of s: non-default colors replace, attributes add.
func (s Style) Merge(other Style) Style {
	result := s
	if !other.Foreground.IsDefault() {
		result.Foreground = other.Foreground
	}
	if !other.Background.IsDefault() {
		result.Background = other.Background
	}
	result.Attributes |= other.Attributes
	return result
}

// IsDefault returns true if the style changes nothing.
func (s Style) IsDefault() bool {
	return s.Foreground.IsDefault() && s.Background.IsDefault() && s.Attributes == AttrNone
}

// String returns a compact description, e.g. "fg=#569CD6 bg=default attrs=bold".
func (s Style) String() string {
	return fmt.Sprintf("fg=%s bg=%s attrs=%s", s.Foreground, s.Background, s.Attributes)
}
