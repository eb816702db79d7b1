package style

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedThemeFormat is returned for theme files with an unknown extension.
var ErrUnsupportedThemeFormat = errors.New("unsupported theme format")

// luaTimeout bounds the execution time of a Lua theme script.
const luaTimeout = 2 * time.Second

// styleSpec is the serialized form of a Style.
type styleSpec struct {
	FG            string `yaml:"fg"`
	BG            string `yaml:"bg"`
	Bold          bool   `yaml:"bold"`
	Dim           bool   `yaml:"dim"`
	Italic        bool   `yaml:"italic"`
	Underline     bool   `yaml:"underline"`
	Reverse       bool   `yaml:"reverse"`
	Strikethrough bool   `yaml:"strikethrough"`
}

// themeSpec is the serialized form of a Theme.
type themeSpec struct {
	Name      string               `yaml:"name"`
	Types     map[string]styleSpec `yaml:"types"`
	Modifiers map[string]styleSpec `yaml:"modifiers"`
	Scoped    map[string]styleSpec `yaml:"scoped"`
}

func (s styleSpec) style() (Style, error) {
	fg, err := ParseColor(s.FG)
	if err != nil {
		return Style{}, err
	}
	bg, err := ParseColor(s.BG)
	if err != nil {
		return Style{}, err
	}
	st := Style{Foreground: fg, Background: bg}
	if s.Bold {
		st.Attributes |= AttrBold
	}
	if s.Dim {
		st.Attributes |= AttrDim
	}
	if s.Italic {
		st.Attributes |= AttrItalic
	}
	if s.Underline {
		st.Attributes |= AttrUnderline
	}
	if s.Reverse {
		st.Attributes |= AttrReverse
	}
	if s.Strikethrough {
		st.Attributes |= AttrStrikethrough
	}
	return st, nil
}

func (ts themeSpec) theme(fallbackName string) (*Theme, error) {
	name := ts.Name
	if name == "" {
		name = fallbackName
	}
	t := NewTheme(name)
	sections := []struct {
		label string
		in    map[string]styleSpec
		out   map[string]Style
	}{
		{"types", ts.Types, t.Types},
		{"modifiers", ts.Modifiers, t.Modifiers},
		{"scoped", ts.Scoped, t.Scoped},
	}
	for _, sec := range sections {
		for key, spec := range sec.in {
			st, err := spec.style()
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", sec.label, key, err)
			}
			sec.out[key] = st
		}
	}
	return t, nil
}

// LoadTheme loads a theme file, choosing the format by extension
// (.yaml, .yml or .lua).
func LoadTheme(path string) (*Theme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading theme %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAMLTheme(strings.NewReader(string(data)), name)
	case ".lua":
		return ParseLuaTheme(string(data), name)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedThemeFormat, path)
	}
}

// ParseYAMLTheme reads a YAML theme document.
func ParseYAMLTheme(r io.Reader, name string) (*Theme, error) {
	var spec themeSpec
	if err := yaml.NewDecoder(r).Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return NewTheme(name), nil
		}
		return nil, fmt.Errorf("parsing yaml theme: %w", err)
	}
	return spec.theme(name)
}

// ParseLuaTheme runs a Lua theme script. The script either returns a table
// or assigns the global "theme"; the table has the same shape as the YAML
// document (name, types, modifiers, scoped). Only the base, table, string and
// math libraries are available.
func ParseLuaTheme(src, name string) (*Theme, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.fn), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			return nil, fmt.Errorf("opening lua %s library: %w", lib.name, err)
		}
	}
	for _, unsafe := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(unsafe, lua.LNil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), luaTimeout)
	defer cancel()
	L.SetContext(ctx)

	top := L.GetTop()
	if err := L.DoString(src); err != nil {
		return nil, fmt.Errorf("running lua theme: %w", err)
	}

	var tbl *lua.LTable
	if L.GetTop() > top {
		tbl, _ = L.Get(-1).(*lua.LTable)
	}
	if tbl == nil {
		tbl, _ = L.GetGlobal("theme").(*lua.LTable)
	}
	if tbl == nil {
		return nil, errors.New("lua theme must return a table or set the global 'theme'")
	}

	spec := themeSpec{
		Name:      lua.LVAsString(tbl.RawGetString("name")),
		Types:     luaStyleMap(tbl.RawGetString("types")),
		Modifiers: luaStyleMap(tbl.RawGetString("modifiers")),
		Scoped:    luaStyleMap(tbl.RawGetString("scoped")),
	}
	return spec.theme(name)
}

func luaStyleMap(v lua.LValue) map[string]styleSpec {
	out := make(map[string]styleSpec)
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return out
	}
	tbl.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok {
			return
		}
		entry, ok := v.(*lua.LTable)
		if !ok {
			return
		}
		out[string(key)] = styleSpec{
			FG:            lua.LVAsString(entry.RawGetString("fg")),
			BG:            lua.LVAsString(entry.RawGetString("bg")),
			Bold:          lua.LVAsBool(entry.RawGetString("bold")),
			Dim:           lua.LVAsBool(entry.RawGetString("dim")),
			Italic:        lua.LVAsBool(entry.RawGetString("italic")),
			Underline:     lua.LVAsBool(entry.RawGetString("underline")),
			Reverse:       lua.LVAsBool(entry.RawGetString("reverse")),
			Strikethrough: lua.LVAsBool(entry.RawGetString("strikethrough")),
		}
	})
	return out
}
