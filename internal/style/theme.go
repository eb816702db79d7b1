package style

import "sort"

// Standard semantic token type names.
const (
	TypeNamespace     = "namespace"
	TypeType          = "type"
	TypeClass         = "class"
	TypeEnum          = "enum"
	TypeInterface     = "interface"
	TypeStruct        = "struct"
	TypeTypeParameter = "typeParameter"
	TypeParameter     = "parameter"
	TypeVariable      = "variable"
	TypeProperty      = "property"
	TypeEnumMember    = "enumMember"
	TypeEvent         = "event"
	TypeFunction      = "function"
	TypeMethod        = "method"
	TypeMacro         = "macro"
	TypeKeyword       = "keyword"
	TypeModifier      = "modifier"
	TypeComment       = "comment"
	TypeString        = "string"
	TypeNumber        = "number"
	TypeRegexp        = "regexp"
	TypeOperator      = "operator"
	TypeDecorator     = "decorator"
)

// Standard semantic token modifier names.
const (
	ModDeclaration    = "declaration"
	ModDefinition     = "definition"
	ModReadonly       = "readonly"
	ModStatic         = "static"
	ModDeprecated     = "deprecated"
	ModAbstract       = "abstract"
	ModAsync          = "async"
	ModModification   = "modification"
	ModDocumentation  = "documentation"
	ModDefaultLibrary = "defaultLibrary"
)

// Theme maps semantic token types and modifiers to styles.
type Theme struct {
	// Name is the display name of the theme.
	Name string

	// Types maps a token type name to its base style.
	Types map[string]Style

	// Modifiers maps a modifier name to a style layered over the base style.
	Modifiers map[string]Style

	// Scoped maps "type.modifier" to a style that takes precedence over
	// the generic modifier style for that type.
	Scoped map[string]Style
}

// NewTheme returns an empty theme.
func NewTheme(name string) *Theme {
	return &Theme{
		Name:      name,
		Types:     make(map[string]Style),
		Modifiers: make(map[string]Style),
		Scoped:    make(map[string]Style),
	}
}

// ResolveToken returns the style for a token type with the given modifiers.
// It reports false when the theme has no style for the type.
func (t *Theme) ResolveToken(tokenType string, modifiers []string) (Style, bool) {
	if t == nil || tokenType == "" {
		return Style{}, false
	}
	base, ok := t.Types[tokenType]
	if !ok {
		return Style{}, false
	}
	for _, mod := range modifiers {
		if s, ok := t.Scoped[tokenType+"."+mod]; ok {
			base = base.Merge(s)
			continue
		}
		if s, ok := t.Modifiers[mod]; ok {
			base = base.Merge(s)
		}
	}
	return base, true
}

// TokenTypes returns the type names the theme styles, sorted.
func (t *Theme) TokenTypes() []string {
	names := make([]string, 0, len(t.Types))
	for name := range t.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultTheme returns a dark theme covering the standard token types.
func DefaultTheme() *Theme {
	comment := ColorFromRGB(106, 153, 85)
	keyword := ColorFromRGB(86, 156, 214)
	str := ColorFromRGB(206, 145, 120)
	number := ColorFromRGB(181, 206, 168)
	function := ColorFromRGB(220, 220, 170)
	typ := ColorFromRGB(78, 201, 176)
	variable := ColorFromRGB(156, 220, 254)
	operator := ColorFromRGB(212, 212, 212)
	constant := ColorFromRGB(79, 193, 255)
	macro := ColorFromRGB(197, 134, 192)

	t := NewTheme("Default Dark")
	t.Types = map[string]Style{
		TypeNamespace:     NewStyle(typ),
		TypeType:          NewStyle(typ),
		TypeClass:         NewStyle(typ),
		TypeEnum:          NewStyle(typ),
		TypeInterface:     NewStyle(typ),
		TypeStruct:        NewStyle(typ),
		TypeTypeParameter: NewStyle(typ).Italic(),
		TypeParameter:     NewStyle(variable),
		TypeVariable:      NewStyle(variable),
		TypeProperty:      NewStyle(variable),
		TypeEnumMember:    NewStyle(constant),
		TypeEvent:         NewStyle(variable),
		TypeFunction:      NewStyle(function),
		TypeMethod:        NewStyle(function),
		TypeMacro:         NewStyle(macro),
		TypeKeyword:       NewStyle(keyword),
		TypeModifier:      NewStyle(keyword),
		TypeComment:       NewStyle(comment).Italic(),
		TypeString:        NewStyle(str),
		TypeNumber:        NewStyle(number),
		TypeRegexp:        NewStyle(ColorFromRGB(209, 105, 105)),
		TypeOperator:      NewStyle(operator),
		TypeDecorator:     NewStyle(macro),
	}
	t.Modifiers = map[string]Style{
		ModDeclaration:    DefaultStyle().Bold(),
		ModDefaultLibrary: DefaultStyle().Italic(),
	}
	t.Scoped = map[string]Style{
		TypeVariable + "." + ModReadonly: NewStyle(constant),
	}
	return t
}
