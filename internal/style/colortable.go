package style

import (
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"
)

// RGBA is a color as reported by a backend: components in [0, 1].
type RGBA struct {
	Red   float64
	Green float64
	Blue  float64
	Alpha float64
}

// Swatch is the rendered form of a backend color.
type Swatch struct {
	Color Color
	Tcell tcell.Color
	Hex   string
}

// ColorTable caches rendered swatches keyed by color value. It is safe for
// concurrent use; two goroutines racing on the same key may both render it
// and the last store wins, which is harmless since the values are equal.
type ColorTable struct {
	background Color
	entries    sync.Map // RGBA -> Swatch
}

// NewColorTable creates a table that composites translucent colors over
// background. A default background composites over black.
func NewColorTable(background Color) *ColorTable {
	return &ColorTable{background: background}
}

// Swatch returns the rendered swatch for c, creating it on first use.
func (t *ColorTable) Swatch(c RGBA) Swatch {
	if v, ok := t.entries.Load(c); ok {
		return v.(Swatch)
	}
	sw := t.render(c)
	t.entries.Store(c, sw)
	return sw
}

// Len returns the number of cached swatches.
func (t *ColorTable) Len() int {
	n := 0
	t.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (t *ColorTable) render(c RGBA) Swatch {
	fg := colorful.Color{R: c.Red, G: c.Green, B: c.Blue}.Clamped()

	alpha := c.Alpha
	if alpha < 0 {
		alpha = 0
	}
	if alpha < 1 {
		bg := colorful.Color{}
		if !t.background.IsDefault() {
			bg = t.background.Colorful()
		}
		fg = bg.BlendRgb(fg, alpha)
	}

	col := ColorFromColorful(fg)
	return Swatch{
		Color: col,
		Tcell: col.TcellColor(),
		Hex:   fg.Clamped().Hex(),
	}
}
