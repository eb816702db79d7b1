// Package view renders a semantically highlighted document, either
// interactively on a terminal screen or as ANSI text.
package view

import (
	"sync"

	"github.com/gdamore/tcell/v2"

	"github.com/dshills/lspmux/internal/style"
)

// EventType identifies the type of screen event.
type EventType int

const (
	EventNone EventType = iota
	EventKey
	EventResize
)

// Key is a navigation key.
type Key int

const (
	KeyNone Key = iota
	KeyRune
	KeyEscape
	KeyUp
	KeyDown
	KeyPageUp
	KeyPageDown
	KeyHome
	KeyEnd
	KeyCtrlC
)

// Event is a screen event.
type Event struct {
	Type EventType
	Key  Key
	Rune rune

	Width, Height int
}

// Screen is a cell grid the viewer draws on.
type Screen interface {
	Init() error
	Shutdown()
	Size() (width, height int)
	SetCell(x, y int, r rune, st style.Style)
	Clear()
	Show()

	// PollEvent blocks for the next event. It returns EventNone once the
	// screen is shut down.
	PollEvent() Event
}

// Terminal implements Screen with tcell.
type Terminal struct {
	mu     sync.Mutex
	screen tcell.Screen
}

// NewTerminal creates a terminal screen. Init must be called before use.
func NewTerminal() (*Terminal, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	return &Terminal{screen: screen}, nil
}

func (t *Terminal) Init() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.screen.Init(); err != nil {
		return err
	}
	t.screen.HideCursor()
	return nil
}

func (t *Terminal) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.screen.Fini()
}

func (t *Terminal) Size() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.screen.Size()
}

func (t *Terminal) SetCell(x, y int, r rune, st style.Style) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.screen.SetContent(x, y, r, nil, st.Tcell())
}

func (t *Terminal) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.screen.Clear()
}

func (t *Terminal) Show() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.screen.Show()
}

func (t *Terminal) PollEvent() Event {
	for {
		ev := t.screen.PollEvent()
		if ev == nil {
			return Event{Type: EventNone}
		}
		if e := convertEvent(ev); e.Type != EventNone {
			return e
		}
	}
}

// convertEvent converts tcell events to Event.
func convertEvent(ev tcell.Event) Event {
	switch e := ev.(type) {
	case *tcell.EventKey:
		return Event{Type: EventKey, Key: convertKey(e.Key()), Rune: e.Rune()}
	case *tcell.EventResize:
		w, h := e.Size()
		return Event{Type: EventResize, Width: w, Height: h}
	default:
		return Event{Type: EventNone}
	}
}

func convertKey(k tcell.Key) Key {
	switch k {
	case tcell.KeyRune:
		return KeyRune
	case tcell.KeyEscape:
		return KeyEscape
	case tcell.KeyUp:
		return KeyUp
	case tcell.KeyDown:
		return KeyDown
	case tcell.KeyPgUp:
		return KeyPageUp
	case tcell.KeyPgDn:
		return KeyPageDown
	case tcell.KeyHome:
		return KeyHome
	case tcell.KeyEnd:
		return KeyEnd
	case tcell.KeyCtrlC:
		return KeyCtrlC
	default:
		return KeyNone
	}
}

// Cell is one grid position of a MemScreen.
type Cell struct {
	Rune  rune
	Style style.Style
}

// MemScreen is an in-memory Screen for tests and headless rendering.
type MemScreen struct {
	mu            sync.Mutex
	width, height int
	cells         [][]Cell
	shows         int
	events        chan Event
}

// NewMemScreen creates a memory screen with the given dimensions.
func NewMemScreen(width, height int) *MemScreen {
	s := &MemScreen{width: width, height: height, events: make(chan Event, 64)}
	s.allocate()
	return s
}

func (s *MemScreen) allocate() {
	s.cells = make([][]Cell, s.height)
	for y := range s.cells {
		s.cells[y] = make([]Cell, s.width)
	}
	s.clearLocked()
}

func (s *MemScreen) clearLocked() {
	for y := range s.cells {
		for x := range s.cells[y] {
			s.cells[y][x] = Cell{Rune: ' ', Style: style.DefaultStyle()}
		}
	}
}

func (s *MemScreen) Init() error { return nil }

// Shutdown unblocks PollEvent.
func (s *MemScreen) Shutdown() {
	s.Post(Event{Type: EventNone})
}

func (s *MemScreen) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *MemScreen) SetCell(x, y int, r rune, st style.Style) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if x >= 0 && x < s.width && y >= 0 && y < s.height {
		s.cells[y][x] = Cell{Rune: r, Style: st}
	}
}

func (s *MemScreen) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *MemScreen) Show() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shows++
}

func (s *MemScreen) PollEvent() Event {
	return <-s.events
}

// Post queues an event for PollEvent. It drops the event if the queue is full.
func (s *MemScreen) Post(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// Resize changes the dimensions, clears the grid and posts a resize event.
func (s *MemScreen) Resize(width, height int) {
	s.mu.Lock()
	s.width, s.height = width, height
	s.allocate()
	s.mu.Unlock()
	s.Post(Event{Type: EventResize, Width: width, Height: height})
}

// Cell returns the cell at x, y.
func (s *MemScreen) Cell(x, y int) Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	if x >= 0 && x < s.width && y >= 0 && y < s.height {
		return s.cells[y][x]
	}
	return Cell{Rune: ' ', Style: style.DefaultStyle()}
}

// Row returns row y as a string with trailing spaces trimmed.
func (s *MemScreen) Row(y int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if y < 0 || y >= s.height {
		return ""
	}
	runes := make([]rune, 0, s.width)
	for _, c := range s.cells[y] {
		runes = append(runes, c.Rune)
	}
	end := len(runes)
	for end > 0 && runes[end-1] == ' ' {
		end--
	}
	return string(runes[:end])
}

// Shows returns how many times Show was called.
func (s *MemScreen) Shows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shows
}
