package syntax

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/dshills/lspmux/internal/lsp"
	"github.com/dshills/lspmux/internal/style"
)

// tokenTypes is the legend's type list. Indexes are the encoded type ids.
var tokenTypes = []string{
	style.TypeNamespace,
	style.TypeType,
	style.TypeClass,
	style.TypeStruct,
	style.TypeEnum,
	style.TypeInterface,
	style.TypeFunction,
	style.TypeMethod,
	style.TypeProperty,
	style.TypeVariable,
	style.TypeParameter,
	style.TypeKeyword,
	style.TypeComment,
	style.TypeString,
	style.TypeNumber,
	style.TypeOperator,
}

var tokenModifiers = []string{
	style.ModDeclaration,
	style.ModReadonly,
	style.ModDefaultLibrary,
}

// Legend returns the semantic token legend the local backend encodes with.
func Legend() lsp.SemanticTokensLegend {
	return lsp.SemanticTokensLegend{
		TokenTypes:     append([]string(nil), tokenTypes...),
		TokenModifiers: append([]string(nil), tokenModifiers...),
	}
}

var typeIndex = func() map[string]uint32 {
	m := make(map[string]uint32, len(tokenTypes))
	for i, t := range tokenTypes {
		m[t] = uint32(i)
	}
	return m
}()

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// Node kinds classified without looking at their children.
var (
	commentNodes = set("comment", "line_comment", "block_comment")

	stringNodes = set(
		"interpreted_string_literal", "raw_string_literal", "rune_literal",
		"string", "string_literal", "char_literal", "character_literal",
		"template_string",
	)

	numberNodes = set(
		"int_literal", "float_literal", "imaginary_literal", "number",
		"integer", "float", "integer_literal", "number_literal",
		"decimal_integer_literal", "decimal_floating_point_literal",
		"hex_integer_literal",
	)

	constantNodes = set("true", "false", "nil", "none", "null", "undefined", "iota", "boolean_literal")

	typeNodes = set(
		"type_identifier", "primitive_type", "predefined_type",
		"integral_type", "floating_point_type", "void_type", "sized_type_specifier",
	)

	propertyNodes  = set("field_identifier", "property_identifier", "shorthand_property_identifier")
	namespaceNodes = set("package_identifier", "namespace_identifier")

	operators = set(
		"+", "-", "*", "/", "%", "=", "==", "!=", "===", "!==", "<", ">", "<=", ">=",
		"&&", "||", "!", ":=", "+=", "-=", "*=", "/=", "&", "|", "^", "<<", ">>",
		"->", "=>", "<-", "++", "--", "...", "&^", "**", "//",
	)
)

// declarations maps a declaring node kind to the token type of its name.
var declarations = map[string]string{
	"function_declaration":  style.TypeFunction,
	"function_definition":   style.TypeFunction,
	"function_item":         style.TypeFunction,
	"method_declaration":    style.TypeMethod,
	"method_definition":     style.TypeMethod,
	"class_declaration":     style.TypeClass,
	"class_definition":      style.TypeClass,
	"struct_item":           style.TypeStruct,
	"enum_item":             style.TypeEnum,
	"enum_declaration":      style.TypeEnum,
	"interface_declaration": style.TypeInterface,
	"trait_item":            style.TypeInterface,
	"type_spec":             style.TypeType,
	"type_item":             style.TypeType,
}

// parameterParents hold parameter names as direct identifier children.
var parameterParents = set("parameter_declaration", "variadic_parameter_declaration", "parameters", "formal_parameters", "parameter", "formal_parameter")

var builtins = set(
	"append", "cap", "close", "copy", "delete", "len", "make", "new", "panic", "print", "println", "recover",
	"bool", "byte", "error", "float32", "float64", "int", "int8", "int16", "int32", "int64",
	"rune", "string", "uint", "uint8", "uint16", "uint32", "uint64", "uintptr", "any",
	"range", "isinstance", "str", "dict", "list", "self", "console",
)

// token is a classification result.
type token struct {
	typ       string
	modifiers []string
}

// classify decides the token for n. Nodes with ok false are descended into.
func classify(n *sitter.Node, src []byte) (token, bool) {
	kind := n.Type()

	switch {
	case commentNodes[kind]:
		return token{typ: style.TypeComment}, true
	case stringNodes[kind]:
		return token{typ: style.TypeString}, true
	case numberNodes[kind]:
		return token{typ: style.TypeNumber}, true
	case constantNodes[kind]:
		return token{typ: style.TypeKeyword}, true
	case typeNodes[kind]:
		if builtins[n.Content(src)] {
			return token{typ: style.TypeType, modifiers: []string{style.ModDefaultLibrary}}, true
		}
		if declaredBy(n, "type_spec") || declaredBy(n, "type_item") {
			return token{typ: style.TypeType, modifiers: []string{style.ModDeclaration}}, true
		}
		return token{typ: style.TypeType}, true
	case namespaceNodes[kind]:
		return token{typ: style.TypeNamespace}, true
	case propertyNodes[kind]:
		return classifyProperty(n), true
	case kind == "identifier":
		return classifyIdentifier(n, src), true
	}

	if n.IsNamed() || n.ChildCount() > 0 {
		return token{}, false
	}
	if isWord(kind) {
		return token{typ: style.TypeKeyword}, true
	}
	if operators[kind] {
		return token{typ: style.TypeOperator}, true
	}
	return token{}, false
}

func classifyIdentifier(n *sitter.Node, src []byte) token {
	parent := n.Parent()
	if parent == nil {
		return token{typ: style.TypeVariable}
	}
	ptype := parent.Type()

	if typ, ok := declarations[ptype]; ok && isField(parent, "name", n) {
		return token{typ: typ, modifiers: []string{style.ModDeclaration}}
	}

	switch {
	case parameterParents[ptype]:
		return token{typ: style.TypeParameter, modifiers: []string{style.ModDeclaration}}
	case (ptype == "call_expression" || ptype == "call") && isField(parent, "function", n):
		if builtins[n.Content(src)] {
			return token{typ: style.TypeFunction, modifiers: []string{style.ModDefaultLibrary}}
		}
		return token{typ: style.TypeFunction}
	case ptype == "const_spec" && isField(parent, "name", n):
		return token{typ: style.TypeVariable, modifiers: []string{style.ModDeclaration, style.ModReadonly}}
	case ptype == "var_spec" && isField(parent, "name", n):
		return token{typ: style.TypeVariable, modifiers: []string{style.ModDeclaration}}
	case ptype == "import_spec" || ptype == "import_statement" || ptype == "dotted_name":
		return token{typ: style.TypeNamespace}
	case ptype == "attribute" && isField(parent, "attribute", n):
		if isCallee(parent) {
			return token{typ: style.TypeMethod}
		}
		return token{typ: style.TypeProperty}
	}

	if builtins[n.Content(src)] {
		return token{typ: style.TypeVariable, modifiers: []string{style.ModDefaultLibrary}}
	}
	return token{typ: style.TypeVariable}
}

func classifyProperty(n *sitter.Node) token {
	parent := n.Parent()
	if parent == nil {
		return token{typ: style.TypeProperty}
	}
	switch parent.Type() {
	case "method_declaration", "method_definition", "method_spec", "method_elem":
		if isField(parent, "name", n) {
			return token{typ: style.TypeMethod, modifiers: []string{style.ModDeclaration}}
		}
	case "field_declaration":
		return token{typ: style.TypeProperty, modifiers: []string{style.ModDeclaration}}
	case "selector_expression", "member_expression", "field_expression":
		if isCallee(parent) {
			return token{typ: style.TypeMethod}
		}
	}
	return token{typ: style.TypeProperty}
}

// isCallee reports whether n is the function of a call.
func isCallee(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil {
		return false
	}
	switch parent.Type() {
	case "call_expression", "call":
		return isField(parent, "function", n)
	}
	return false
}

// declaredBy reports whether n is the name of a parent of the given kind.
func declaredBy(n *sitter.Node, kind string) bool {
	parent := n.Parent()
	return parent != nil && parent.Type() == kind && isField(parent, "name", n)
}

// isField reports whether child is parent's field of the given name.
func isField(parent *sitter.Node, field string, child *sitter.Node) bool {
	f := parent.ChildByFieldName(field)
	return f != nil && f.StartByte() == child.StartByte() && f.EndByte() == child.EndByte()
}

func isWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && r != '_' {
			return false
		}
	}
	return true
}
