package view

import (
	"context"
	"fmt"

	"github.com/dshills/lspmux/internal/style"
)

// Viewer is a scrollable read-only view of a Document.
type Viewer struct {
	screen Screen
	doc    *Document
	title  string
	gutter style.Style
	status style.Style
	top    int
}

// ViewerOption configures a Viewer.
type ViewerOption func(*Viewer)

// WithTitle sets the status line title.
func WithTitle(title string) ViewerOption {
	return func(v *Viewer) { v.title = title }
}

// WithGutterStyle sets the style of line numbers.
func WithGutterStyle(st style.Style) ViewerOption {
	return func(v *Viewer) { v.gutter = st }
}

// NewViewer creates a viewer drawing doc on screen.
func NewViewer(screen Screen, doc *Document, opts ...ViewerOption) *Viewer {
	v := &Viewer{
		screen: screen,
		doc:    doc,
		gutter: style.NewStyle(style.ColorFromRGB(133, 133, 133)),
		status: style.DefaultStyle().WithAttributes(style.AttrReverse),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Top returns the first visible line.
func (v *Viewer) Top() int {
	return v.top
}

// textHeight is the number of rows available for text.
func (v *Viewer) textHeight() int {
	_, h := v.screen.Size()
	if h <= 1 {
		return h
	}
	return h - 1
}

// ScrollTo makes line the first visible line, clamped to the document.
func (v *Viewer) ScrollTo(line int) {
	maxTop := v.doc.LineCount() - v.textHeight()
	if line > maxTop {
		line = maxTop
	}
	if line < 0 {
		line = 0
	}
	v.top = line
}

// Draw renders the visible lines, the gutter and the status line.
func (v *Viewer) Draw() {
	w, h := v.screen.Size()
	v.screen.Clear()

	gw := len(fmt.Sprint(v.doc.LineCount())) + 1
	rows := v.textHeight()
	for row := 0; row < rows; row++ {
		n := v.top + row
		if n >= v.doc.LineCount() {
			break
		}
		num := fmt.Sprintf("%*d ", gw-1, n+1)
		for x, r := range num {
			v.screen.SetCell(x, row, r, v.gutter)
		}
		x := gw
		for _, g := range v.doc.Line(n) {
			if x >= w {
				break
			}
			if g.Rune == '\t' {
				for i := 0; i < TabWidth && x < w; i++ {
					v.screen.SetCell(x, row, ' ', g.Style)
					x++
				}
				continue
			}
			v.screen.SetCell(x, row, g.Rune, g.Style)
			x++
		}
	}

	if h > 1 {
		status := fmt.Sprintf(" %s  %d/%d  q to quit", v.title, v.top+1, v.doc.LineCount())
		runes := []rune(status)
		for x := 0; x < w; x++ {
			r := ' '
			if x < len(runes) {
				r = runes[x]
			}
			v.screen.SetCell(x, h-1, r, v.status)
		}
	}
	v.screen.Show()
}

// HandleEvent applies ev and reports whether the viewer should exit.
func (v *Viewer) HandleEvent(ev Event) (quit bool) {
	switch ev.Type {
	case EventResize:
		v.ScrollTo(v.top)
	case EventKey:
		page := v.textHeight()
		switch ev.Key {
		case KeyEscape, KeyCtrlC:
			return true
		case KeyUp:
			v.ScrollTo(v.top - 1)
		case KeyDown:
			v.ScrollTo(v.top + 1)
		case KeyPageUp:
			v.ScrollTo(v.top - page)
		case KeyPageDown:
			v.ScrollTo(v.top + page)
		case KeyHome:
			v.ScrollTo(0)
		case KeyEnd:
			v.ScrollTo(v.doc.LineCount())
		case KeyRune:
			switch ev.Rune {
			case 'q':
				return true
			case 'j':
				v.ScrollTo(v.top + 1)
			case 'k':
				v.ScrollTo(v.top - 1)
			case ' ':
				v.ScrollTo(v.top + page)
			case 'g':
				v.ScrollTo(0)
			case 'G':
				v.ScrollTo(v.doc.LineCount())
			}
		}
	}
	return false
}

// Run draws and handles events until the user quits or ctx is done.
// The screen must already be initialized; Run does not shut it down.
func (v *Viewer) Run(ctx context.Context) error {
	events := make(chan Event)
	go func() {
		for {
			ev := v.screen.PollEvent()
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Type == EventNone {
				return
			}
		}
	}()

	v.Draw()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if ev.Type == EventNone {
				return nil
			}
			if v.HandleEvent(ev) {
				return nil
			}
			v.Draw()
		}
	}
}
